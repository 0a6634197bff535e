// CLIF Toolkit: validation and derivation library for the Common
// Longitudinal ICU-data Format.
// Copyright (c) 2026 CLIF Consortium.

// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.

// This program is distributed in the hope that it will be useful, but
// WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Affero General Public License for more details.

package table

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/valyala/fastrand"

	"github.com/Common-Longitudinal-ICU-data-Format/clifpy-sub001/config"
	"github.com/Common-Longitudinal-ICU-data-Format/clifpy-sub001/schema"
)

var (
	ErrMissingFile = errors.New("table: input file not found")
	ErrIOFormat    = errors.New("table: input file is malformed")
)

// sampleSeed fixes the loader's sampling RNG so repeated loads of the same
// file with the same sample size select the same rows.
const sampleSeed = 42

// Options steer a single table load.
type Options struct {
	Columns    []string            // optional projection
	Filters    map[string][]string // column -> permitted values (equality)
	SampleSize int                 // optional random sample of rows
}

// Load reads one table file from the configured data directory, normalises
// datetime columns to the configured timezone, and wraps the result in a
// BaseTable. Type coercion is best-effort; residual mismatches are left for
// Validate to report.
func Load(cfg *config.Config, tableName string, opts *Options, log *logrus.Logger) (*BaseTable, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	spec, err := schema.Lookup(tableName)
	if err != nil {
		return nil, err
	}
	path := cfg.TablePath(tableName)
	var frame *Frame
	switch cfg.Filetype {
	case config.FiletypeCSV:
		frame, err = readCSV(path)
	case config.FiletypeParquet:
		frame, err = readParquet(path)
	default:
		return nil, fmt.Errorf("%w: unsupported filetype %q", ErrIOFormat, cfg.Filetype)
	}
	if err != nil {
		return nil, err
	}
	rowsRead := frame.NumRows()
	if opts != nil && len(opts.Filters) > 0 {
		frame = applyFilters(frame, opts.Filters)
	}
	rowsFiltered := rowsRead - frame.NumRows()
	if opts != nil && opts.SampleSize > 0 && opts.SampleSize < frame.NumRows() {
		frame = sampleRows(frame, opts.SampleSize)
	}
	if opts != nil && len(opts.Columns) > 0 {
		frame = projectColumns(frame, opts.Columns)
	}
	coerceTypes(frame, spec, cfg.Location())
	log.WithFields(logrus.Fields{
		"table":         tableName,
		"rows_read":     rowsRead,
		"rows_filtered": rowsFiltered,
		"rows_kept":     frame.NumRows(),
	}).Info("loaded table")
	return &BaseTable{
		Name:   tableName,
		Schema: spec,
		Config: cfg,
		Frame:  frame,
		log:    log,
	}, nil
}

// readCSV reads a csv file into a raw string-valued frame. The first record
// is the header.
func readCSV(path string) (*Frame, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrMissingFile, path)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrIOFormat, path, err)
	}
	defer func() {
		if err := file.Close(); err != nil {
			panic(err)
		}
	}()
	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: %s has no header: %v", ErrIOFormat, path, err)
	}
	frame := NewFrame(header)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrIOFormat, path, err)
		}
		row := make([]any, len(header))
		for i := range header {
			if i < len(record) && record[i] != "" {
				row[i] = record[i]
			}
		}
		frame.AppendRow(row)
	}
	return frame, nil
}

// applyFilters keeps rows whose cells match the permitted values for every
// filtered column. Cells are compared on their string rendering.
func applyFilters(frame *Frame, filters map[string][]string) *Frame {
	return frame.Filter(func(row []any) bool {
		for col, allowed := range filters {
			c := frame.Col(col)
			if c < 0 {
				return false
			}
			cell := row[c]
			if cell == nil {
				return false
			}
			match := false
			rendered := fmt.Sprint(cell)
			for _, v := range allowed {
				if rendered == v {
					match = true
					break
				}
			}
			if !match {
				return false
			}
		}
		return true
	})
}

// sampleRows selects n rows with selection sampling over a seeded RNG, so a
// given (file, n) always yields the same sample without shuffling.
func sampleRows(frame *Frame, n int) *Frame {
	var rng fastrand.RNG
	rng.Seed(sampleSeed)
	out := NewFrame(frame.Columns)
	need := n
	for i, row := range frame.Rows {
		remaining := len(frame.Rows) - i
		if need == 0 {
			break
		}
		if int(rng.Uint32n(uint32(remaining))) < need {
			out.Rows = append(out.Rows, row)
			need--
		}
	}
	return out
}

// projectColumns keeps the requested columns, in the requested order.
// Requested columns absent from the file are kept as all-null so the
// validator can report them.
func projectColumns(frame *Frame, columns []string) *Frame {
	out := NewFrame(columns)
	srcIdx := make([]int, len(columns))
	for i, c := range columns {
		srcIdx[i] = frame.Col(c)
	}
	for _, row := range frame.Rows {
		projected := make([]any, len(columns))
		for i, s := range srcIdx {
			if s >= 0 {
				projected[i] = row[s]
			}
		}
		out.Rows = append(out.Rows, projected)
	}
	return out
}

// coerceTypes converts raw cells to the schema's Go representation in
// place. Cells that cannot be parsed keep their raw value; the validator
// reports those as dtype mismatches.
func coerceTypes(frame *Frame, spec *schema.TableSchema, loc *time.Location) {
	for _, col := range spec.Columns {
		c := frame.Col(col.Name)
		if c < 0 {
			continue
		}
		for _, row := range frame.Rows {
			row[c] = coerceCell(row[c], col.DataType, loc)
		}
	}
}

func coerceCell(v any, dt schema.DataType, loc *time.Location) any {
	if v == nil {
		return nil
	}
	switch dt {
	case schema.Varchar:
		if s, ok := v.(string); ok {
			return s
		}
		return fmt.Sprint(v)
	case schema.Double:
		if f, ok := AsFloat(v); ok {
			return f
		}
		if s, ok := v.(string); ok {
			if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
				return f
			}
		}
		return v
	case schema.Int:
		if i, ok := v.(int64); ok {
			return i
		}
		if f, ok := v.(float64); ok && f == float64(int64(f)) {
			return int64(f)
		}
		if s, ok := v.(string); ok {
			if i, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
				return i
			}
		}
		return v
	case schema.Bool:
		if b, ok := v.(bool); ok {
			return b
		}
		if s, ok := v.(string); ok {
			switch strings.ToLower(strings.TrimSpace(s)) {
			case "true", "t", "1", "yes":
				return true
			case "false", "f", "0", "no":
				return false
			}
		}
		return v
	case schema.Datetime:
		if t, ok := v.(time.Time); ok {
			return t.In(loc)
		}
		if s, ok := v.(string); ok {
			if t, ok := parseDatetime(strings.TrimSpace(s), loc); ok {
				return t
			}
		}
		return v
	}
	return v
}

// zone-aware layouts are parsed with time.Parse and converted; naive
// layouts attach the configured zone directly.
var awareLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05-07:00",
}

var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

func parseDatetime(s string, loc *time.Location) (time.Time, bool) {
	for _, layout := range awareLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.In(loc), true
		}
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
