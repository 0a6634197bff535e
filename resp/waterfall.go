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

// Package resp reconstructs per-patient ventilator timelines from sparse
// respiratory-support charting. The waterfall is a sequence of imputation
// passes over time-ordered events: device inference, FiO2 from flow,
// forward fill within device epochs, invalid-combination scrubbing, and
// life-support derivation.
package resp

import (
	"sort"
	"time"

	"github.com/exascience/pargo/parallel"
	"github.com/sirupsen/logrus"

	"github.com/Common-Longitudinal-ICU-data-Format/clifpy-sub001/table"
)

// Device categories.
const (
	DeviceRoomAir      = "room_air"
	DeviceNasalCannula = "nasal_cannula"
	DeviceHighFlowNC   = "high_flow_nc"
	DeviceFaceMask     = "face_mask"
	DeviceCPAP         = "cpap"
	DeviceBiPAP        = "bipap"
	DeviceIMV          = "imv"
	DeviceTrachCollar  = "trach_collar"
	DeviceTPiece       = "t_piece"
	DeviceOther        = "other"
)

var knownDevices = map[string]bool{
	DeviceRoomAir: true, DeviceNasalCannula: true, DeviceHighFlowNC: true,
	DeviceFaceMask: true, DeviceCPAP: true, DeviceBiPAP: true, DeviceIMV: true,
	DeviceTrachCollar: true, DeviceTPiece: true, DeviceOther: true,
}

// ventModes are mode categories that imply invasive mechanical ventilation.
var ventModes = map[string]bool{
	"assist_control_volume_control":     true,
	"pressure_control":                  true,
	"pressure_regulated_volume_control": true,
	"simv":                              true,
	"volume_support":                    true,
	"aprv":                              true,
}

// Row is one respiratory-support event. Empty strings and nil pointers are
// missing values.
type Row struct {
	HospitalizationID          string
	RecordedDttm               time.Time
	DeviceCategory             string
	DeviceName                 string
	ModeCategory               string
	ModeName                   string
	Tracheostomy               *bool
	FiO2Set                    *float64
	LPMSet                     *float64
	PEEPSet                    *float64
	RespRateSet                *float64
	PressureSupportSet         *float64
	PressureControlSet         *float64
	PeakInspiratoryPressureSet *float64
	TidalVolumeSet             *float64

	// Derived by the waterfall.
	LifeSupport   bool
	DeviceUnknown bool
}

// ErrorRecord is one accumulated per-row issue class.
type ErrorRecord struct {
	Type    string
	Count   int
	Message string
}

// Counters summarises what each pass changed.
type Counters struct {
	DevicesInferred int
	FiO2Imputed     int
	FieldsFilled    int
	RowsScrubbed    int
	UnknownDevices  int
	DroppedNullDttm int
}

// Result is the waterfall output.
type Result struct {
	Rows     []Row
	Errors   []ErrorRecord
	Counters Counters
}

// FromFrame converts a respiratory_support frame into typed rows. Rows
// without recorded_dttm are dropped; the count is returned for the warning.
func FromFrame(f *table.Frame) ([]Row, int) {
	col := func(name string) int { return f.Col(name) }
	hc, tc := col("hospitalization_id"), col("recorded_dttm")
	dropped := 0
	var rows []Row
	for _, src := range f.Rows {
		id, _ := src[hc].(string)
		t, ok := table.AsTime(src[tc])
		if !ok {
			dropped++
			continue
		}
		r := Row{HospitalizationID: id, RecordedDttm: t}
		r.DeviceCategory, _ = cellString(f, src, "device_category")
		r.DeviceName, _ = cellString(f, src, "device_name")
		r.ModeCategory, _ = cellString(f, src, "mode_category")
		r.ModeName, _ = cellString(f, src, "mode_name")
		r.Tracheostomy = cellBool(f, src, "tracheostomy")
		r.FiO2Set = cellFloat(f, src, "fio2_set")
		r.LPMSet = cellFloat(f, src, "lpm_set")
		r.PEEPSet = cellFloat(f, src, "peep_set")
		r.RespRateSet = cellFloat(f, src, "resp_rate_set")
		r.PressureSupportSet = cellFloat(f, src, "pressure_support_set")
		r.PressureControlSet = cellFloat(f, src, "pressure_control_set")
		r.PeakInspiratoryPressureSet = cellFloat(f, src, "peak_inspiratory_pressure_set")
		r.TidalVolumeSet = cellFloat(f, src, "tidal_volume_set")
		rows = append(rows, r)
	}
	return rows, dropped
}

func cellString(f *table.Frame, row []any, name string) (string, bool) {
	c := f.Col(name)
	if c < 0 {
		return "", false
	}
	s, ok := row[c].(string)
	return s, ok
}

func cellFloat(f *table.Frame, row []any, name string) *float64 {
	c := f.Col(name)
	if c < 0 {
		return nil
	}
	if v, ok := table.AsFloat(row[c]); ok {
		return &v
	}
	return nil
}

func cellBool(f *table.Frame, row []any, name string) *bool {
	c := f.Col(name)
	if c < 0 {
		return nil
	}
	if b, ok := row[c].(bool); ok {
		return &b
	}
	return nil
}

// Waterfall runs the imputation passes over all encounters. Encounters are
// independent and processed in parallel; within one encounter rows are
// processed in recorded_dttm order. The input slice is not mutated.
func Waterfall(rows []Row, droppedNullDttm int, log *logrus.Logger) *Result {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if droppedNullDttm > 0 {
		log.WithField("count", droppedNullDttm).Warn("dropped respiratory-support rows without recorded_dttm")
	}
	perHosp := map[string][]Row{}
	for _, r := range rows {
		perHosp[r.HospitalizationID] = append(perHosp[r.HospitalizationID], r)
	}
	ids := make([]string, 0, len(perHosp))
	for id := range perHosp {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	results := make([][]Row, len(ids))
	counters := make([]Counters, len(ids))
	roomAirScrubs := make([]int, len(ids))
	nonIMVScrubs := make([]int, len(ids))
	parallel.Range(0, len(ids), 0, func(low, high int) {
		for i := low; i < high; i++ {
			hospRows := append([]Row{}, perHosp[ids[i]]...)
			sort.SliceStable(hospRows, func(a, b int) bool {
				return hospRows[a].RecordedDttm.Before(hospRows[b].RecordedDttm)
			})
			c := &counters[i]
			inferDevices(hospRows, c)
			imputeFiO2(hospRows, c)
			forwardFill(hospRows, c)
			roomAirScrubs[i], nonIMVScrubs[i] = scrubInvalidCombos(hospRows, c)
			deriveLifeSupport(hospRows)
			results[i] = hospRows
		}
	})

	out := &Result{}
	out.Counters.DroppedNullDttm = droppedNullDttm
	for i := range ids {
		out.Rows = append(out.Rows, results[i]...)
		out.Counters.DevicesInferred += counters[i].DevicesInferred
		out.Counters.FiO2Imputed += counters[i].FiO2Imputed
		out.Counters.FieldsFilled += counters[i].FieldsFilled
		out.Counters.RowsScrubbed += counters[i].RowsScrubbed
		out.Counters.UnknownDevices += counters[i].UnknownDevices
	}
	roomAir, nonIMV := 0, 0
	for i := range ids {
		roomAir += roomAirScrubs[i]
		nonIMV += nonIMVScrubs[i]
	}
	if roomAir > 0 {
		out.Errors = append(out.Errors, ErrorRecord{
			Type: "invalid_combination", Count: roomAir, Message: "room_air with vent settings",
		})
	}
	if nonIMV > 0 {
		out.Errors = append(out.Errors, ErrorRecord{
			Type: "invalid_combination", Count: nonIMV, Message: "non-invasive device with ventilator-only settings",
		})
	}
	log.WithFields(logrus.Fields{
		"rows":             len(out.Rows),
		"devices_inferred": out.Counters.DevicesInferred,
		"fio2_imputed":     out.Counters.FiO2Imputed,
		"fields_filled":    out.Counters.FieldsFilled,
		"rows_scrubbed":    out.Counters.RowsScrubbed,
	}).Info("respiratory waterfall complete")
	return out
}

// Pass 1: heuristic inference of a missing device category.
func inferDevices(rows []Row, c *Counters) {
	for i := range rows {
		r := &rows[i]
		if r.DeviceCategory != "" {
			if !knownDevices[r.DeviceCategory] {
				r.DeviceUnknown = true
				c.UnknownDevices++
			}
			continue
		}
		switch {
		case r.FiO2Set != nil && *r.FiO2Set <= 0.21 && !hasAdvancedSupport(r):
			r.DeviceCategory = DeviceRoomAir
			c.DevicesInferred++
		case ventModes[r.ModeCategory]:
			r.DeviceCategory = DeviceIMV
			c.DevicesInferred++
		case r.LPMSet != nil && *r.LPMSet <= 6 && !hasPressures(r):
			r.DeviceCategory = DeviceNasalCannula
			c.DevicesInferred++
		case r.LPMSet != nil && *r.LPMSet > 15:
			r.DeviceCategory = DeviceHighFlowNC
			c.DevicesInferred++
		}
	}
}

func hasAdvancedSupport(r *Row) bool {
	return r.LPMSet != nil || r.ModeCategory != "" || hasPressures(r) || r.TidalVolumeSet != nil
}

func hasPressures(r *Row) bool {
	return r.PEEPSet != nil || r.PressureSupportSet != nil || r.PressureControlSet != nil ||
		r.PeakInspiratoryPressureSet != nil
}

// Pass 2: FiO2 from flow on low-flow devices. Room air without flow
// breathes 21%.
func imputeFiO2(rows []Row, c *Counters) {
	for i := range rows {
		r := &rows[i]
		if r.FiO2Set != nil {
			continue
		}
		switch r.DeviceCategory {
		case DeviceRoomAir:
			lpm := 0.0
			if r.LPMSet != nil {
				lpm = *r.LPMSet
			}
			f := fio2FromLPM(lpm)
			r.FiO2Set = &f
			c.FiO2Imputed++
		case DeviceNasalCannula:
			if r.LPMSet != nil {
				f := fio2FromLPM(*r.LPMSet)
				r.FiO2Set = &f
				c.FiO2Imputed++
			}
		}
	}
}

func fio2FromLPM(lpm float64) float64 {
	f := 0.21 + 0.04*lpm
	if f > 1.0 {
		return 1.0
	}
	return f
}

// Pass 3: forward fill within a contiguous run of the same device. The
// fill never crosses a device transition.
func forwardFill(rows []Row, c *Counters) {
	for i := 1; i < len(rows); i++ {
		prev, cur := &rows[i-1], &rows[i]
		if cur.DeviceCategory == "" || cur.DeviceCategory != prev.DeviceCategory {
			continue
		}
		filled := 0
		if cur.ModeCategory == "" && prev.ModeCategory != "" {
			cur.ModeCategory = prev.ModeCategory
			filled++
		}
		if cur.ModeName == "" && prev.ModeName != "" {
			cur.ModeName = prev.ModeName
			filled++
		}
		if cur.DeviceName == "" && prev.DeviceName != "" {
			cur.DeviceName = prev.DeviceName
			filled++
		}
		if cur.Tracheostomy == nil && prev.Tracheostomy != nil {
			cur.Tracheostomy = prev.Tracheostomy
			filled++
		}
		filled += fillFloat(&cur.FiO2Set, prev.FiO2Set)
		filled += fillFloat(&cur.LPMSet, prev.LPMSet)
		filled += fillFloat(&cur.PEEPSet, prev.PEEPSet)
		filled += fillFloat(&cur.RespRateSet, prev.RespRateSet)
		filled += fillFloat(&cur.PressureSupportSet, prev.PressureSupportSet)
		filled += fillFloat(&cur.PressureControlSet, prev.PressureControlSet)
		filled += fillFloat(&cur.PeakInspiratoryPressureSet, prev.PeakInspiratoryPressureSet)
		filled += fillFloat(&cur.TidalVolumeSet, prev.TidalVolumeSet)
		c.FieldsFilled += filled
	}
}

func fillFloat(dst **float64, src *float64) int {
	if *dst == nil && src != nil {
		v := *src
		*dst = &v
		return 1
	}
	return 0
}

// Pass 4: scrub setting combinations a device cannot produce. Scrubbed rows
// are counted per class and reported, never dropped.
func scrubInvalidCombos(rows []Row, c *Counters) (roomAir, nonIMV int) {
	for i := range rows {
		r := &rows[i]
		switch {
		case r.DeviceCategory == DeviceRoomAir:
			if r.ModeCategory != "" || r.ModeName != "" || r.PEEPSet != nil || r.TidalVolumeSet != nil || r.PressureSupportSet != nil {
				r.ModeCategory = ""
				r.ModeName = ""
				r.PEEPSet = nil
				r.TidalVolumeSet = nil
				r.PressureSupportSet = nil
				roomAir++
				c.RowsScrubbed++
			}
		case r.DeviceCategory != DeviceIMV && r.DeviceCategory != "":
			if r.PEEPSet != nil || r.TidalVolumeSet != nil || r.PressureSupportSet != nil {
				r.PEEPSet = nil
				r.TidalVolumeSet = nil
				r.PressureSupportSet = nil
				nonIMV++
				c.RowsScrubbed++
			}
		}
	}
	return roomAir, nonIMV
}

// Pass 5: life support is positive-pressure ventilation, invasive or not,
// or a tracheostomy on positive pressures.
func deriveLifeSupport(rows []Row) {
	for i := range rows {
		r := &rows[i]
		switch r.DeviceCategory {
		case DeviceIMV, DeviceCPAP, DeviceBiPAP:
			r.LifeSupport = true
		default:
			r.LifeSupport = r.Tracheostomy != nil && *r.Tracheostomy && positivePressure(r)
		}
	}
}

func positivePressure(r *Row) bool {
	for _, p := range []*float64{r.PEEPSet, r.PressureSupportSet, r.PressureControlSet, r.PeakInspiratoryPressureSet} {
		if p != nil && *p > 0 {
			return true
		}
	}
	return false
}
