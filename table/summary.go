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

	"github.com/Common-Longitudinal-ICU-data-Format/clifpy-sub001/schema"
	"github.com/Common-Longitudinal-ICU-data-Format/clifpy-sub001/utils"
)

// ColumnSummary holds descriptive statistics for one column. Numeric
// columns fill the quantile fields; other columns list their most frequent
// values.
type ColumnSummary struct {
	Column   string
	DataType schema.DataType
	Count    int
	Missing  int
	Mean     float64
	Min      float64
	Q25      float64
	Median   float64
	Q75      float64
	Max      float64
	Top      string // "value (n), value (n), ..." for non-numeric columns
}

// Summary computes per-column descriptive statistics for the table.
func (b *BaseTable) Summary() []ColumnSummary {
	summaries := make([]ColumnSummary, 0, len(b.Frame.Columns))
	for i, name := range b.Frame.Columns {
		cs := ColumnSummary{Column: name}
		if col := b.Schema.Column(name); col != nil {
			cs.DataType = col.DataType
		}
		var nums []float64
		freq := map[string]int{}
		for _, row := range b.Frame.Rows {
			cell := row[i]
			if cell == nil {
				cs.Missing++
				continue
			}
			cs.Count++
			if f, ok := AsFloat(cell); ok {
				nums = append(nums, f)
			} else if s, ok := cell.(string); ok {
				freq[s]++
			}
		}
		if len(nums) > 0 {
			sort.Float64s(nums)
			sum := 0.0
			for _, f := range nums {
				sum += f
			}
			cs.Mean = sum / float64(len(nums))
			cs.Min = nums[0]
			cs.Max = nums[len(nums)-1]
			cs.Q25 = quantile(nums, 0.25)
			cs.Median = quantile(nums, 0.5)
			cs.Q75 = quantile(nums, 0.75)
		} else if len(freq) > 0 {
			cs.Top = topValues(freq, 5)
		}
		summaries = append(summaries, cs)
	}
	return summaries
}

// SaveSummary writes the summary statistics artifact to the output
// directory.
func (b *BaseTable) SaveSummary() error {
	return writeSummaryCSV(b.Config.OutputDirectory, b.Name, b.Summary())
}

// quantile computes the q-quantile of sorted values with linear
// interpolation.
func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(pos)
	if lo >= len(sorted)-1 {
		return sorted[len(sorted)-1]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[lo+1]*frac
}

func topValues(freq map[string]int, n int) string {
	type vc struct {
		v string
		n int
	}
	all := make([]vc, 0, len(freq))
	for v, c := range freq {
		all = append(all, vc{v, c})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].n != all[j].n {
			return all[i].n > all[j].n
		}
		return all[i].v < all[j].v
	})
	var parts []string
	for i := 0; i < utils.MinInt(len(all), n); i++ {
		parts = append(parts, fmt.Sprintf("%s (%d)", all[i].v, all[i].n))
	}
	return strings.Join(parts, ", ")
}
