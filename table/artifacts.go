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
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Validation artifacts are written per table under the output directory
// with `*_<table_name>.*` names, so parallel validation of distinct tables
// never contends on a file.

func writeValidationArtifacts(b *BaseTable, missing []MissingStat) error {
	outDir := b.Config.OutputDirectory
	if err := writeErrorsCSV(outDir, b.Name, b.Errors); err != nil {
		return err
	}
	if err := writeMissingStatsCSV(outDir, b.Name, missing); err != nil {
		return err
	}
	if err := writeSummaryCSV(outDir, b.Name, b.Summary()); err != nil {
		return err
	}
	return writeValidationLog(outDir, b.Name, b.Frame.NumRows(), b.Errors)
}

func writeErrorsCSV(outDir, tableName string, errs []ValidationError) error {
	return writeCSV(filepath.Join(outDir, fmt.Sprintf("validation_errors_%s.csv", tableName)),
		[]string{"type", "column", "count", "message"},
		len(errs), func(i int) []string {
			e := errs[i]
			return []string{e.Type, e.Column, strconv.Itoa(e.Count), e.Message}
		})
}

func writeMissingStatsCSV(outDir, tableName string, stats []MissingStat) error {
	return writeCSV(filepath.Join(outDir, fmt.Sprintf("missing_data_stats_%s.csv", tableName)),
		[]string{"column", "missing", "total", "percent"},
		len(stats), func(i int) []string {
			s := stats[i]
			return []string{s.Column, strconv.Itoa(s.Missing), strconv.Itoa(s.Total),
				strconv.FormatFloat(s.Percent, 'f', 2, 64)}
		})
}

func writeSummaryCSV(outDir, tableName string, summaries []ColumnSummary) error {
	return writeCSV(filepath.Join(outDir, fmt.Sprintf("summary_statistics_%s.csv", tableName)),
		[]string{"column", "data_type", "count", "missing", "mean", "min", "q25", "median", "q75", "max", "top_values"},
		len(summaries), func(i int) []string {
			s := summaries[i]
			return []string{
				s.Column, string(s.DataType), strconv.Itoa(s.Count), strconv.Itoa(s.Missing),
				formatStat(s.Mean), formatStat(s.Min), formatStat(s.Q25), formatStat(s.Median),
				formatStat(s.Q75), formatStat(s.Max), s.Top,
			}
		})
}

func formatStat(f float64) string {
	return strconv.FormatFloat(f, 'g', 6, 64)
}

func writeCSV(path string, header []string, n int, record func(i int) []string) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if err := file.Close(); err != nil {
			panic(err)
		}
	}()
	w := csv.NewWriter(file)
	if err := w.Write(header); err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		if err := w.Write(record(i)); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// writeValidationLog writes the per-table validation log through a
// dedicated file logger. Each run is stamped with a run id so interleaved
// runs stay attributable.
func writeValidationLog(outDir, tableName string, rows int, errs []ValidationError) error {
	path := filepath.Join(outDir, fmt.Sprintf("validation_log_%s.log", tableName))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return err
	}
	defer func() {
		if err := file.Close(); err != nil {
			panic(err)
		}
	}()
	logger := logrus.New()
	logger.SetOutput(file)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, DisableColors: true})
	runID := uuid.New().String()
	logger.WithFields(logrus.Fields{
		"run_id": runID,
		"table":  tableName,
		"rows":   rows,
		"errors": len(errs),
	}).Info("validation run")
	for _, e := range errs {
		logger.WithFields(logrus.Fields{
			"run_id": runID,
			"type":   e.Type,
			"column": e.Column,
			"count":  e.Count,
		}).Warn(e.Message)
	}
	return nil
}
