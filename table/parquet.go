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
	"fmt"
	"io"
	"os"
	"time"

	"github.com/parquet-go/parquet-go"
)

// readParquet reads a parquet file into a frame. The file schema drives the
// column order; timestamp-typed leaves become time.Time in UTC (the loader
// converts them to the configured zone afterwards).
func readParquet(path string) (*Frame, error) {
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
	stat, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrIOFormat, path, err)
	}
	pf, err := parquet.OpenFile(file, stat.Size())
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrIOFormat, path, err)
	}
	fields := pf.Schema().Fields()
	names := make([]string, len(fields))
	timestampUnit := make([]time.Duration, len(fields))
	for i, fld := range fields {
		names[i] = fld.Name()
		timestampUnit[i] = parquetTimestampUnit(fld)
	}
	frame := NewFrame(names)
	buf := make([]parquet.Row, 256)
	for _, rg := range pf.RowGroups() {
		rows := rg.Rows()
		for {
			n, err := rows.ReadRows(buf)
			for _, prow := range buf[:n] {
				row := make([]any, len(names))
				for _, val := range prow {
					c := int(val.Column())
					if c < 0 || c >= len(row) {
						continue
					}
					row[c] = parquetCell(val, timestampUnit[c])
				}
				frame.AppendRow(row)
			}
			if err == io.EOF {
				break
			}
			if err != nil {
				_ = rows.Close()
				return nil, fmt.Errorf("%w: %s: %v", ErrIOFormat, path, err)
			}
			if n == 0 {
				break
			}
		}
		if err := rows.Close(); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrIOFormat, path, err)
		}
	}
	return frame, nil
}

// parquetTimestampUnit returns the tick size of a timestamp-typed leaf, or
// zero for non-timestamp leaves.
func parquetTimestampUnit(fld parquet.Field) time.Duration {
	if fld.Leaf() {
		lt := fld.Type().LogicalType()
		if lt != nil && lt.Timestamp != nil {
			switch {
			case lt.Timestamp.Unit.Millis != nil:
				return time.Millisecond
			case lt.Timestamp.Unit.Micros != nil:
				return time.Microsecond
			case lt.Timestamp.Unit.Nanos != nil:
				return time.Nanosecond
			}
		}
	}
	return 0
}

func parquetCell(val parquet.Value, tsUnit time.Duration) any {
	if val.IsNull() {
		return nil
	}
	switch val.Kind() {
	case parquet.Boolean:
		return val.Boolean()
	case parquet.Int32:
		return int64(val.Int32())
	case parquet.Int64:
		if tsUnit > 0 {
			return time.Unix(0, val.Int64()*int64(tsUnit)).UTC()
		}
		return val.Int64()
	case parquet.Float:
		return float64(val.Float())
	case parquet.Double:
		return val.Double()
	case parquet.ByteArray, parquet.FixedLenByteArray:
		return val.String()
	}
	return val.String()
}
