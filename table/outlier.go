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
	"github.com/Common-Longitudinal-ICU-data-Format/clifpy-sub001/schema"
)

// ApplyOutlierHandling replaces implausible numeric values with null on a
// copy of the table's frame. The ranges come from the table schema
// (vital_ranges / lab_ranges); the input table is not mutated. It returns
// the masked copy and the per-variable outside counts.
func ApplyOutlierHandling(b *BaseTable) (*Frame, map[string]int) {
	frame := b.Frame.Copy()
	counts := maskOutliers(frame, b.Schema)
	return frame, counts
}

// GetOutlierSummary reports, without masking, how many values fall outside
// the plausibility range per variable.
func GetOutlierSummary(b *BaseTable) map[string]int {
	return countOutliers(b.Frame, b.Schema, nil)
}

func maskOutliers(frame *Frame, spec *schema.TableSchema) map[string]int {
	return countOutliers(frame, spec, func(row []any, col int) {
		row[col] = nil
	})
}

func countOutliers(frame *Frame, spec *schema.TableSchema, onOutlier func(row []any, col int)) map[string]int {
	counts := map[string]int{}
	ranges := spec.Ranges()
	if ranges == nil {
		return counts
	}
	pair, ok := rangeValueColumns[spec.TableName]
	if !ok {
		return counts
	}
	catCol, valCol := frame.Col(pair[0]), frame.Col(pair[1])
	if catCol < 0 || valCol < 0 {
		return counts
	}
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
			counts[cat]++
			if onOutlier != nil {
				onOutlier(row, valCol)
			}
		}
	}
	return counts
}
