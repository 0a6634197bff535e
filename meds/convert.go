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

package meds

import (
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Common-Longitudinal-ICU-data-Format/clifpy-sub001/table"
	"github.com/Common-Longitudinal-ICU-data-Format/clifpy-sub001/utils"
)

// Conversion statuses. On any failure the output dose/unit carry the clean
// (not converted) value so consumers detect the failure via the status.
const (
	StatusConverted     = "converted"
	StatusUnrecognized  = "unrecognized_unit"
	StatusIncompatible  = "incompatible_units"
	StatusMissingWeight = "missing_weight"
	StatusPassthrough   = "passthrough"
)

// maxWeightLookback bounds how far from the admin time a weight
// measurement may be used.
const maxWeightLookback = 24 * time.Hour

// Row is one continuous medication administration.
type Row struct {
	HospitalizationID string
	AdminDttm         time.Time
	MedCategory       string
	MedDose           *float64
	MedDoseUnit       string
	ActionCategory    string
}

// Converted is the augmented output row.
type Converted struct {
	Row
	MedDoseUnitClean     string
	MedDoseConverted     *float64
	MedDoseUnitConverted string
	ConvertStatus        string
	WeightKG             *float64
}

// SummaryKey keys the companion conversion summary.
type SummaryKey struct {
	MedCategory string
	MedDoseUnit string
	BaseUnit    string
	Status      string
}

// Result holds the converted rows and the conversion summary.
type Result struct {
	Rows    []Converted
	Summary map[SummaryKey]int
}

// FromFrame converts a medication_admin_continuous frame to typed rows.
func FromFrame(f *table.Frame) []Row {
	hc, tc := f.Col("hospitalization_id"), f.Col("admin_dttm")
	cc, dc, uc := f.Col("med_category"), f.Col("med_dose"), f.Col("med_dose_unit")
	ac := f.Col("action_category")
	var rows []Row
	for _, src := range f.Rows {
		r := Row{}
		if hc >= 0 {
			r.HospitalizationID, _ = src[hc].(string)
		}
		if tc >= 0 {
			r.AdminDttm, _ = table.AsTime(src[tc])
		}
		if cc >= 0 {
			r.MedCategory, _ = src[cc].(string)
		}
		if dc >= 0 {
			if v, ok := table.AsFloat(src[dc]); ok {
				r.MedDose = &v
			}
		}
		if uc >= 0 {
			r.MedDoseUnit, _ = src[uc].(string)
		}
		if ac >= 0 {
			r.ActionCategory, _ = src[ac].(string)
		}
		rows = append(rows, r)
	}
	return rows
}

// Convert normalises and converts all rows. weights holds per-encounter
// weight_kg measurements sorted ascending by time (see
// Vitals.WeightMeasurements); override enables the configured fallback
// weight when none can be resolved.
func Convert(rows []Row, weights map[string][]table.WeightMeasurement, override bool,
	fallbackKG float64, log *logrus.Logger) *Result {
	if log == nil {
		log = logrus.StandardLogger()
	}
	out := &Result{Summary: map[SummaryKey]int{}}
	converted := 0
	for _, r := range rows {
		c := convertRow(r, weights, override, fallbackKG)
		out.Rows = append(out.Rows, c)
		baseUnit := BaseUnits[r.MedCategory]
		out.Summary[SummaryKey{
			MedCategory: r.MedCategory,
			MedDoseUnit: r.MedDoseUnit,
			BaseUnit:    baseUnit,
			Status:      c.ConvertStatus,
		}]++
		if c.ConvertStatus == StatusConverted {
			converted++
		}
	}
	log.WithFields(logrus.Fields{
		"rows":      len(rows),
		"converted": converted,
		"failed":    len(rows) - converted,
	}).Info("converted continuous medication doses")
	return out
}

func convertRow(r Row, weights map[string][]table.WeightMeasurement, override bool, fallbackKG float64) Converted {
	c := Converted{Row: r}
	unit := NormalizeUnit(r.MedDoseUnit)
	c.MedDoseUnitClean = unit.Clean
	// failures carry the clean value through
	c.MedDoseConverted = r.MedDose
	c.MedDoseUnitConverted = unit.Clean

	if !unit.Known {
		c.ConvertStatus = StatusUnrecognized
		return c
	}
	baseRaw, ok := BaseUnits[r.MedCategory]
	if !ok {
		c.ConvertStatus = StatusPassthrough
		return c
	}
	base := NormalizeUnit(baseRaw)
	fromClass, fromSub, ok := unit.Class()
	if !ok {
		c.ConvertStatus = StatusUnrecognized
		return c
	}
	toClass, toSub, _ := base.Class()
	if fromClass != toClass || fromSub != toSub {
		c.ConvertStatus = StatusIncompatible
		return c
	}

	weight := 0.0
	if unit.PerKG != base.PerKG {
		resolved, ok := resolveWeight(weights[r.HospitalizationID], r.AdminDttm)
		if ok {
			weight = resolved
			c.WeightKG = &resolved
		} else if override {
			weight = fallbackKG
			c.WeightKG = &fallbackKG
		} else {
			c.ConvertStatus = StatusMissingWeight
			return c
		}
	}

	factor, _ := conversionFactor(unit, base, weight)
	if r.MedDose != nil {
		v := *r.MedDose * factor
		c.MedDoseConverted = &v
	}
	c.MedDoseUnitConverted = base.Clean
	c.ConvertStatus = StatusConverted
	return c
}

// resolveWeight picks the weight measurement nearest to the admin time
// within the 24h window. Measurements are sorted ascending.
func resolveWeight(ms []table.WeightMeasurement, adminDttm time.Time) (float64, bool) {
	if len(ms) == 0 || adminDttm.IsZero() {
		return 0, false
	}
	i := sort.Search(len(ms), func(i int) bool {
		return !ms[i].RecordedDttm.Before(adminDttm)
	})
	best := -1
	var bestDist time.Duration
	for _, j := range []int{i - 1, i} {
		if j < 0 || j >= len(ms) {
			continue
		}
		d := utils.AbsDuration(ms[j].RecordedDttm.Sub(adminDttm))
		if best == -1 || d < bestDist {
			best = j
			bestDist = d
		}
	}
	if best == -1 || bestDist > maxWeightLookback {
		return 0, false
	}
	return ms[best].WeightKG, true
}
