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
	"sort"
	"strings"
	"time"

	"github.com/Common-Longitudinal-ICU-data-Format/clifpy-sub001/schema"
	"github.com/Common-Longitudinal-ICU-data-Format/clifpy-sub001/utils"
)

// Validation error types.
const (
	ErrTypeMissingColumn   = "missing_required_column"
	ErrTypeDtypeMismatch   = "dtype_mismatch"
	ErrTypeTimezone        = "datetime_timezone"
	ErrTypeInvalidCategory = "invalid_category"
	ErrTypeDuplicateKeys   = "duplicate_keys"
	ErrTypeRangeViolation  = "range_violation"
	ErrTypeMissingHospID   = "missing_hospitalization_id"
)

// ValidationError is one accumulated data issue. Validation never raises on
// data problems; issues surface through IsValid and the errors artifact.
type ValidationError struct {
	Type    string
	Column  string
	Count   int
	Message string
}

// MissingStat is the per-column missingness record written as an artifact.
type MissingStat struct {
	Column  string
	Missing int
	Total   int
	Percent float64
}

// rangeValueColumns maps tables with plausibility ranges to their
// (category column, numeric value column) pair.
var rangeValueColumns = map[string][2]string{
	"vitals": {"vital_category", "vital_value"},
	"labs":   {"lab_category", "lab_value_numeric"},
}

// checkRequiredColumns reports each missing required column.
func checkRequiredColumns(frame *Frame, spec *schema.TableSchema) []ValidationError {
	var errs []ValidationError
	for _, name := range spec.RequiredColumns() {
		if !frame.HasColumn(name) {
			errs = append(errs, ValidationError{
				Type:    ErrTypeMissingColumn,
				Column:  name,
				Message: fmt.Sprintf("required column %q is missing", name),
			})
		}
	}
	return errs
}

// verifyColumnDtypes reports cells whose Go representation does not match
// the declared type. DATETIME columns must additionally carry the
// configured timezone.
func verifyColumnDtypes(frame *Frame, spec *schema.TableSchema, loc *time.Location) []ValidationError {
	var errs []ValidationError
	for _, col := range spec.Columns {
		c := frame.Col(col.Name)
		if c < 0 {
			continue
		}
		mismatches := 0
		badZone := 0
		for _, row := range frame.Rows {
			cell := row[c]
			if cell == nil {
				continue
			}
			if !cellMatchesType(cell, col.DataType) {
				mismatches++
				continue
			}
			if col.DataType == schema.Datetime {
				if t, ok := cell.(time.Time); ok && t.Location().String() != loc.String() {
					badZone++
				}
			}
		}
		if mismatches > 0 {
			errs = append(errs, ValidationError{
				Type:    ErrTypeDtypeMismatch,
				Column:  col.Name,
				Count:   mismatches,
				Message: fmt.Sprintf("%d values in %q do not match declared type %s", mismatches, col.Name, col.DataType),
			})
		}
		if badZone > 0 {
			errs = append(errs, ValidationError{
				Type:    ErrTypeTimezone,
				Column:  col.Name,
				Count:   badZone,
				Message: fmt.Sprintf("%d datetimes in %q are not in timezone %s", badZone, col.Name, loc),
			})
		}
	}
	return errs
}

func cellMatchesType(cell any, dt schema.DataType) bool {
	switch dt {
	case schema.Varchar:
		_, ok := cell.(string)
		return ok
	case schema.Double:
		_, ok := AsFloat(cell)
		return ok
	case schema.Int:
		_, ok := cell.(int64)
		return ok
	case schema.Bool:
		_, ok := cell.(bool)
		return ok
	case schema.Datetime:
		_, ok := cell.(time.Time)
		return ok
	}
	return true
}

// validateCategoricalValues reports unknown values per category column with
// their frequency. Unknowns are reported, never removed.
func validateCategoricalValues(frame *Frame, spec *schema.TableSchema) []ValidationError {
	var errs []ValidationError
	for _, col := range spec.Columns {
		if !col.IsCategoryColumn || len(col.PermissibleValues) == 0 {
			continue
		}
		c := frame.Col(col.Name)
		if c < 0 {
			continue
		}
		unknown := map[string]int{}
		for _, row := range frame.Rows {
			s, ok := row[c].(string)
			if !ok {
				continue
			}
			if !utils.MemberString(s, col.PermissibleValues) {
				unknown[s]++
			}
		}
		values := make([]string, 0, len(unknown))
		for v := range unknown {
			values = append(values, v)
		}
		sort.Strings(values)
		for _, v := range values {
			errs = append(errs, ValidationError{
				Type:    ErrTypeInvalidCategory,
				Column:  col.Name,
				Count:   unknown[v],
				Message: fmt.Sprintf("value %q is not permissible for %q (%d rows)", v, col.Name, unknown[v]),
			})
		}
	}
	return errs
}

// checkForDuplicates reports duplicate composite-key rows with their count.
func checkForDuplicates(frame *Frame, spec *schema.TableSchema) []ValidationError {
	if len(spec.CompositeKeys) == 0 {
		return nil
	}
	cols := make([]int, 0, len(spec.CompositeKeys))
	for _, k := range spec.CompositeKeys {
		c := frame.Col(k)
		if c < 0 {
			return nil // missing key columns are reported by the required check
		}
		cols = append(cols, c)
	}
	seen := map[string]int{}
	for _, row := range frame.Rows {
		parts := make([]string, len(cols))
		for i, c := range cols {
			parts[i] = renderKeyCell(row[c])
		}
		seen[strings.Join(parts, "\x1f")]++
	}
	duplicateRows := 0
	duplicateKeys := 0
	for _, n := range seen {
		if n > 1 {
			duplicateKeys++
			duplicateRows += n - 1
		}
	}
	if duplicateRows == 0 {
		return nil
	}
	return []ValidationError{{
		Type:  ErrTypeDuplicateKeys,
		Count: duplicateRows,
		Message: fmt.Sprintf("%d rows duplicate %d composite keys (%s)",
			duplicateRows, duplicateKeys, strings.Join(spec.CompositeKeys, ", ")),
	}}
}

func renderKeyCell(cell any) string {
	if t, ok := cell.(time.Time); ok {
		return t.Format(time.RFC3339Nano)
	}
	return fmt.Sprint(cell)
}

// calculateMissingStats computes per-column missing counts. This is an
// artifact, not an error.
func calculateMissingStats(frame *Frame) []MissingStat {
	total := frame.NumRows()
	stats := make([]MissingStat, 0, len(frame.Columns))
	for i, col := range frame.Columns {
		missing := 0
		for _, row := range frame.Rows {
			if row[i] == nil {
				missing++
			}
		}
		pct := 0.0
		if total > 0 {
			pct = 100.0 * float64(missing) / float64(total)
		}
		stats = append(stats, MissingStat{Column: col, Missing: missing, Total: total, Percent: pct})
	}
	return stats
}

// validateNumericRanges reports per-variable plausibility violations.
// Violations are reported, not removed.
func validateNumericRanges(frame *Frame, spec *schema.TableSchema) []ValidationError {
	ranges := spec.Ranges()
	if ranges == nil {
		return nil
	}
	pair, ok := rangeValueColumns[spec.TableName]
	if !ok {
		return nil
	}
	catCol, valCol := frame.Col(pair[0]), frame.Col(pair[1])
	if catCol < 0 || valCol < 0 {
		return nil
	}
	outside := map[string]int{}
	for _, row := range frame.Rows {
		cat, ok := row[catCol].(string)
		if !ok {
			continue
		}
		r, ok := ranges[cat]
		if !ok {
			continue
		}
		v, ok := AsFloat(row[valCol])
		if !ok {
			continue
		}
		if v < r.Lo || v > r.Hi {
			outside[cat]++
		}
	}
	cats := make([]string, 0, len(outside))
	for cat := range outside {
		cats = append(cats, cat)
	}
	sort.Strings(cats)
	var errs []ValidationError
	for _, cat := range cats {
		r := ranges[cat]
		errs = append(errs, ValidationError{
			Type:    ErrTypeRangeViolation,
			Column:  pair[1],
			Count:   outside[cat],
			Message: fmt.Sprintf("%d %s values outside [%g, %g]", outside[cat], cat, r.Lo, r.Hi),
		})
	}
	return errs
}
