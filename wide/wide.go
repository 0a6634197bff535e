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

// Package wide joins the narrow time-stamped tables into one
// hospitalization+timestamp wide frame and aggregates it to an hourly grid.
// The pivot streams per-encounter bucket maps and never materialises a
// long-format intermediate, so memory scales with the cohort.
package wide

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/exascience/pargo/parallel"
	"github.com/sirupsen/logrus"

	"github.com/Common-Longitudinal-ICU-data-Format/clifpy-sub001/table"
	"github.com/Common-Longitudinal-ICU-data-Format/clifpy-sub001/utils"
)

var (
	ErrUnsupportedTable = errors.New("wide: table cannot be pivoted")
	ErrMissingColumns   = errors.New("wide: narrow table lacks required columns")
)

// Cohort restricts the pivot to a set of hospitalizations and a date range.
// Empty ids / zero times mean unbounded.
type Cohort struct {
	HospitalizationIDs []string
	Start, End         time.Time
}

// Options steer the wide dataset build.
type Options struct {
	// CategoryFilters restricts a table to a subset of its categories.
	CategoryFilters map[string][]string
	Cohort          *Cohort
}

// narrowSpec describes how a narrow table pivots: either one
// (category, value) column pair, or a fixed set of wide columns
// (respiratory support).
type narrowSpec struct {
	timeColumn     string
	categoryColumn string
	valueColumn    string
	wideColumns    []string
}

var narrowSpecs = map[string]narrowSpec{
	"vitals":                      {timeColumn: "recorded_dttm", categoryColumn: "vital_category", valueColumn: "vital_value"},
	"labs":                        {timeColumn: "lab_collect_dttm", categoryColumn: "lab_category", valueColumn: "lab_value_numeric"},
	"medication_admin_continuous": {timeColumn: "admin_dttm", categoryColumn: "med_category", valueColumn: "med_dose"},
	"patient_assessments":         {timeColumn: "recorded_dttm", categoryColumn: "assessment_category", valueColumn: "numerical_value"},
	"respiratory_support": {timeColumn: "recorded_dttm", wideColumns: []string{
		"device_category", "mode_category", "fio2_set", "lpm_set", "peep_set",
		"tidal_volume_set", "pressure_support_set",
	}},
}

// Supported reports whether a table can feed the pivot.
func Supported(tableName string) bool {
	_, ok := narrowSpecs[tableName]
	return ok
}

// event is one narrow observation flowing into the pivot.
type event struct {
	t        time.Time
	category string
	value    any
}

// Dataset builds the wide frame keyed by (hospitalization_id, event_dttm)
// with one column per (table, category) pair. Duplicate (key, category)
// entries resolve most-recent-wins; ties break in favour of the later input
// row.
func Dataset(frames map[string]*table.Frame, opts *Options, log *logrus.Logger) (*table.Frame, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if opts == nil {
		opts = &Options{}
	}
	perHosp := map[string][]event{}
	categorySet := map[string]bool{}
	for _, name := range sortedKeys(frames) {
		spec, ok := narrowSpecs[name]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnsupportedTable, name)
		}
		var filter []string
		if opts.CategoryFilters != nil {
			filter = opts.CategoryFilters[name]
		}
		if err := extractEvents(frames[name], spec, filter, opts.Cohort, perHosp, categorySet); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
	}

	categories := make([]string, 0, len(categorySet))
	for c := range categorySet {
		categories = append(categories, c)
	}
	sort.Strings(categories)

	ids := make([]string, 0, len(perHosp))
	for id := range perHosp {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	columns := append([]string{"hospitalization_id", "event_dttm"}, categories...)
	out := table.NewFrame(columns)
	catIndex := map[string]int{}
	for i, c := range categories {
		catIndex[c] = i + 2
	}

	// One bucket map per encounter, built in parallel; encounters are
	// emitted in sorted id order so the output is row-permutation
	// invariant.
	rowsPerHosp := make([][][]any, len(ids))
	parallel.Range(0, len(ids), 0, func(low, high int) {
		for i := low; i < high; i++ {
			rowsPerHosp[i] = pivotHosp(ids[i], perHosp[ids[i]], columns, catIndex)
		}
	})
	for _, rows := range rowsPerHosp {
		out.Rows = append(out.Rows, rows...)
	}
	log.WithFields(logrus.Fields{
		"hospitalizations": len(ids),
		"categories":       len(categories),
		"rows":             out.NumRows(),
	}).Info("built wide dataset")
	return out, nil
}

func sortedKeys(frames map[string]*table.Frame) []string {
	names := make([]string, 0, len(frames))
	for name := range frames {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func extractEvents(frame *table.Frame, spec narrowSpec, categoryFilter []string,
	cohort *Cohort, perHosp map[string][]event, categorySet map[string]bool) error {
	hc := frame.Col("hospitalization_id")
	tc := frame.Col(spec.timeColumn)
	if hc < 0 || tc < 0 {
		return ErrMissingColumns
	}
	var cohortIDs map[string]bool
	if cohort != nil && len(cohort.HospitalizationIDs) > 0 {
		cohortIDs = map[string]bool{}
		for _, id := range cohort.HospitalizationIDs {
			cohortIDs[id] = true
		}
	}
	inCohort := func(id string, t time.Time) bool {
		if cohortIDs != nil && !cohortIDs[id] {
			return false
		}
		if cohort != nil {
			if !cohort.Start.IsZero() && t.Before(cohort.Start) {
				return false
			}
			if !cohort.End.IsZero() && t.After(cohort.End) {
				return false
			}
		}
		return true
	}

	if len(spec.wideColumns) > 0 {
		cols := make([]int, len(spec.wideColumns))
		for i, name := range spec.wideColumns {
			cols[i] = frame.Col(name)
		}
		for _, row := range frame.Rows {
			id, ok := row[hc].(string)
			if !ok {
				continue
			}
			t, ok := table.AsTime(row[tc])
			if !ok || !inCohort(id, t) {
				continue
			}
			for i, c := range cols {
				if c < 0 || row[c] == nil {
					continue
				}
				categorySet[spec.wideColumns[i]] = true
				perHosp[id] = append(perHosp[id], event{t: t, category: spec.wideColumns[i], value: row[c]})
			}
		}
		return nil
	}

	cc := frame.Col(spec.categoryColumn)
	vc := frame.Col(spec.valueColumn)
	if cc < 0 || vc < 0 {
		return ErrMissingColumns
	}
	for _, row := range frame.Rows {
		id, ok := row[hc].(string)
		if !ok {
			continue
		}
		cat, ok := row[cc].(string)
		if !ok {
			continue
		}
		if categoryFilter != nil && !utils.MemberString(cat, categoryFilter) {
			continue
		}
		t, ok := table.AsTime(row[tc])
		if !ok || !inCohort(id, t) {
			continue
		}
		categorySet[cat] = true
		perHosp[id] = append(perHosp[id], event{t: t, category: cat, value: row[vc]})
	}
	return nil
}

// pivotHosp folds one encounter's events into per-timestamp rows. Events
// arrive in input order, so assignment order implements the tie-break.
func pivotHosp(id string, events []event, columns []string, catIndex map[string]int) [][]any {
	buckets := map[time.Time]map[string]any{}
	for _, e := range events {
		b, ok := buckets[e.t]
		if !ok {
			b = map[string]any{}
			buckets[e.t] = b
		}
		b[e.category] = e.value
	}
	times := make([]time.Time, 0, len(buckets))
	for t := range buckets {
		times = append(times, t)
	}
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })
	rows := make([][]any, 0, len(times))
	for _, t := range times {
		row := make([]any, len(columns))
		row[0] = id
		row[1] = t
		for cat, v := range buckets[t] {
			row[catIndex[cat]] = v
		}
		rows = append(rows, row)
	}
	return rows
}
