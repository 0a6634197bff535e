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

package wide

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/exascience/pargo/parallel"

	"github.com/Common-Longitudinal-ICU-data-Format/clifpy-sub001/table"
)

// Supported hourly aggregation functions.
const (
	AggFirst  = "first"
	AggLast   = "last"
	AggMin    = "min"
	AggMax    = "max"
	AggMean   = "mean"
	AggMedian = "median"
	AggCount  = "count"
	AggAny    = "any"
)

var ErrUnknownAggregation = errors.New("wide: unknown aggregation")

// HourlyOptions steer the hourly aggregation.
type HourlyOptions struct {
	// Aggregations maps a category column to its aggregation function.
	// Unlisted categories default to last.
	Aggregations map[string]string
	// FFill forward-fills gap hours from the previous observed value.
	FFill bool
}

// Hourly buckets event_dttm to the hour (floor, wall clock) and aggregates
// per category. The output covers every hour between the first and last
// observation of each hospitalization; gap hours hold nulls unless FFill is
// set.
func Hourly(wideFrame *table.Frame, opts *HourlyOptions) (*table.Frame, error) {
	if opts == nil {
		opts = &HourlyOptions{}
	}
	for _, agg := range opts.Aggregations {
		switch agg {
		case AggFirst, AggLast, AggMin, AggMax, AggMean, AggMedian, AggCount, AggAny:
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnknownAggregation, agg)
		}
	}
	hc := wideFrame.Col("hospitalization_id")
	tc := wideFrame.Col("event_dttm")
	if hc < 0 || tc < 0 {
		return nil, ErrMissingColumns
	}
	var categories []string
	for _, c := range wideFrame.Columns {
		if c != "hospitalization_id" && c != "event_dttm" {
			categories = append(categories, c)
		}
	}

	// Rows per encounter in event order; the wide frame is already sorted
	// within each encounter.
	perHosp := map[string][][]any{}
	for _, row := range wideFrame.Rows {
		id, ok := row[hc].(string)
		if !ok {
			continue
		}
		perHosp[id] = append(perHosp[id], row)
	}
	ids := make([]string, 0, len(perHosp))
	for id := range perHosp {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	columns := append([]string{"hospitalization_id", "event_dttm"}, categories...)
	out := table.NewFrame(columns)
	rowsPerHosp := make([][][]any, len(ids))
	parallel.Range(0, len(ids), 0, func(low, high int) {
		for i := low; i < high; i++ {
			rowsPerHosp[i] = hourlyHosp(ids[i], perHosp[ids[i]], wideFrame, categories, opts)
		}
	})
	for _, rows := range rowsPerHosp {
		out.Rows = append(out.Rows, rows...)
	}
	return out, nil
}

// floorHour floors a timestamp to its wall-clock hour.
func floorHour(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, t.Location())
}

func hourlyHosp(id string, rows [][]any, wideFrame *table.Frame, categories []string, opts *HourlyOptions) [][]any {
	tc := wideFrame.Col("event_dttm")
	sort.SliceStable(rows, func(i, j int) bool {
		a, _ := table.AsTime(rows[i][tc])
		b, _ := table.AsTime(rows[j][tc])
		return a.Before(b)
	})

	// Per hour bucket, per category, the observed values in time order.
	buckets := map[time.Time]map[string][]any{}
	var first, last time.Time
	for _, row := range rows {
		t, ok := table.AsTime(row[tc])
		if !ok {
			continue
		}
		hour := floorHour(t)
		if first.IsZero() || hour.Before(first) {
			first = hour
		}
		if hour.After(last) {
			last = hour
		}
		b, ok := buckets[hour]
		if !ok {
			b = map[string][]any{}
			buckets[hour] = b
		}
		for _, cat := range categories {
			v := row[wideFrame.Col(cat)]
			if v != nil {
				b[cat] = append(b[cat], v)
			}
		}
	}
	if first.IsZero() {
		return nil
	}

	var out [][]any
	prev := make([]any, len(categories))
	for hour := first; !hour.After(last); hour = hour.Add(time.Hour) {
		row := make([]any, len(categories)+2)
		row[0] = id
		row[1] = hour
		bucket := buckets[hour]
		for i, cat := range categories {
			var v any
			if bucket != nil && len(bucket[cat]) > 0 {
				v = aggregate(bucket[cat], aggregationFor(opts, cat))
			}
			if v == nil && opts.FFill {
				v = prev[i]
			}
			row[i+2] = v
			if v != nil {
				prev[i] = v
			}
		}
		out = append(out, row)
	}
	return out
}

func aggregationFor(opts *HourlyOptions, category string) string {
	if opts.Aggregations != nil {
		if agg, ok := opts.Aggregations[category]; ok {
			return agg
		}
	}
	return AggLast
}

func aggregate(values []any, agg string) any {
	switch agg {
	case AggFirst:
		return values[0]
	case AggLast:
		return values[len(values)-1]
	case AggCount:
		return int64(len(values))
	case AggAny:
		for _, v := range values {
			if truthy(v) {
				return true
			}
		}
		return false
	}
	nums := make([]float64, 0, len(values))
	for _, v := range values {
		if f, ok := table.AsFloat(v); ok {
			nums = append(nums, f)
		}
	}
	if len(nums) == 0 {
		// non-numeric values fall back to last
		return values[len(values)-1]
	}
	switch agg {
	case AggMin:
		min := nums[0]
		for _, f := range nums[1:] {
			if f < min {
				min = f
			}
		}
		return min
	case AggMax:
		max := nums[0]
		for _, f := range nums[1:] {
			if f > max {
				max = f
			}
		}
		return max
	case AggMean:
		sum := 0.0
		for _, f := range nums {
			sum += f
		}
		return sum / float64(len(nums))
	case AggMedian:
		sorted := append([]float64{}, nums...)
		sort.Float64s(sorted)
		mid := len(sorted) / 2
		if len(sorted)%2 == 1 {
			return sorted[mid]
		}
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return values[len(values)-1]
}

func truthy(v any) bool {
	switch x := v.(type) {
	case bool:
		return x
	case float64:
		return x != 0
	case int64:
		return x != 0
	case string:
		return x != ""
	}
	return v != nil
}
