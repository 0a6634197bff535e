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

// Package table implements loading, validation, and the per-table wrapper
// objects of the CLIF catalogue. Each wrapper holds a validated frame, its
// schema, and its accumulated validation errors; table-specific helpers are
// additions on top of the shared capability set, never overrides of it.
package table

import (
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Common-Longitudinal-ICU-data-Format/clifpy-sub001/config"
	"github.com/Common-Longitudinal-ICU-data-Format/clifpy-sub001/schema"
	"github.com/Common-Longitudinal-ICU-data-Format/clifpy-sub001/utils"
)

// Table is the shared capability set of all table objects.
type Table interface {
	TableName() string
	Validate() []ValidationError
	IsValid() bool
	Base() *BaseTable
}

// BaseTable is the common implementation shared by all table wrappers.
type BaseTable struct {
	Name   string
	Schema *schema.TableSchema
	Config *config.Config
	Frame  *Frame
	Errors []ValidationError

	validated bool
	log       *logrus.Logger
}

func (b *BaseTable) TableName() string { return b.Name }

func (b *BaseTable) Base() *BaseTable { return b }

// Validate runs the ordered schema checks, accumulates the error records,
// and writes the validation artifacts to the output directory.
func (b *BaseTable) Validate() []ValidationError {
	loc := b.Config.Location()
	b.Errors = nil
	b.Errors = append(b.Errors, checkRequiredColumns(b.Frame, b.Schema)...)
	b.Errors = append(b.Errors, verifyColumnDtypes(b.Frame, b.Schema, loc)...)
	b.Errors = append(b.Errors, validateCategoricalValues(b.Frame, b.Schema)...)
	b.Errors = append(b.Errors, checkForDuplicates(b.Frame, b.Schema)...)
	missing := calculateMissingStats(b.Frame)
	b.Errors = append(b.Errors, validateNumericRanges(b.Frame, b.Schema)...)
	b.validated = true
	if err := writeValidationArtifacts(b, missing); err != nil {
		b.logger().WithError(err).WithField("table", b.Name).Warn("could not write validation artifacts")
	}
	b.logger().WithFields(logrus.Fields{
		"table":  b.Name,
		"errors": len(b.Errors),
		"rows":   b.Frame.NumRows(),
	}).Info("validated table")
	return b.Errors
}

// IsValid returns true iff validation ran and produced no errors.
func (b *BaseTable) IsValid() bool {
	return b.validated && len(b.Errors) == 0
}

func (b *BaseTable) logger() *logrus.Logger {
	if b.log == nil {
		return logrus.StandardLogger()
	}
	return b.log
}

// hospitalizationIDs collects the distinct hospitalization ids of the
// frame, sorted.
func (b *BaseTable) hospitalizationIDs() []string {
	c := b.Frame.Col("hospitalization_id")
	if c < 0 {
		return nil
	}
	set := map[string]bool{}
	for _, row := range b.Frame.Rows {
		if id, ok := row[c].(string); ok {
			set[id] = true
		}
	}
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Typed wrappers. Construction happens in the orchestrator through Wrap.

type Patient struct{ BaseTable }
type Hospitalization struct{ BaseTable }
type Adt struct{ BaseTable }
type Vitals struct{ BaseTable }
type Labs struct{ BaseTable }
type PatientAssessments struct{ BaseTable }
type Position struct{ BaseTable }
type RespiratorySupport struct{ BaseTable }
type MedicationAdminContinuous struct{ BaseTable }
type MedicationAdminIntermittent struct{ BaseTable }
type MicrobiologyCulture struct{ BaseTable }
type MicrobiologySusceptibility struct{ BaseTable }
type MicrobiologyNonculture struct{ BaseTable }
type HospitalDiagnosis struct{ BaseTable }
type CrrtTherapy struct{ BaseTable }
type PatientProcedures struct{ BaseTable }
type EcmoMcs struct{ BaseTable }
type CodeStatus struct{ BaseTable }

// Wrap turns a loaded base table into its typed wrapper.
func Wrap(b *BaseTable) Table {
	switch b.Name {
	case "patient":
		return &Patient{*b}
	case "hospitalization":
		return &Hospitalization{*b}
	case "adt":
		return &Adt{*b}
	case "vitals":
		return &Vitals{*b}
	case "labs":
		return &Labs{*b}
	case "patient_assessments":
		return &PatientAssessments{*b}
	case "position":
		return &Position{*b}
	case "respiratory_support":
		return &RespiratorySupport{*b}
	case "medication_admin_continuous":
		return &MedicationAdminContinuous{*b}
	case "medication_admin_intermittent":
		return &MedicationAdminIntermittent{*b}
	case "microbiology_culture":
		return &MicrobiologyCulture{*b}
	case "microbiology_susceptibility":
		return &MicrobiologySusceptibility{*b}
	case "microbiology_nonculture":
		return &MicrobiologyNonculture{*b}
	case "hospital_diagnosis":
		return &HospitalDiagnosis{*b}
	case "crrt_therapy":
		return &CrrtTherapy{*b}
	case "patient_procedures":
		return &PatientProcedures{*b}
	case "ecmo_mcs":
		return &EcmoMcs{*b}
	case "code_status":
		return &CodeStatus{*b}
	}
	return b
}

// FilterByLocationCategory returns the ADT rows in one of the given
// location categories.
func (t *Adt) FilterByLocationCategory(categories ...string) *Frame {
	c := t.Frame.Col("location_category")
	if c < 0 {
		return NewFrame(t.Frame.Columns)
	}
	return t.Frame.Filter(func(row []any) bool {
		s, ok := row[c].(string)
		return ok && utils.MemberString(s, categories)
	})
}

// FilterByCategory returns the vitals rows with one of the given
// vital categories.
func (t *Vitals) FilterByCategory(categories ...string) *Frame {
	return filterCategory(t.Frame, "vital_category", categories)
}

// FilterByCategory returns the labs rows with one of the given lab
// categories.
func (t *Labs) FilterByCategory(categories ...string) *Frame {
	return filterCategory(t.Frame, "lab_category", categories)
}

// FilterByCategory returns the continuous medication rows with one of the
// given medication categories.
func (t *MedicationAdminContinuous) FilterByCategory(categories ...string) *Frame {
	return filterCategory(t.Frame, "med_category", categories)
}

func filterCategory(frame *Frame, column string, categories []string) *Frame {
	c := frame.Col(column)
	if c < 0 {
		return NewFrame(frame.Columns)
	}
	return frame.Filter(func(row []any) bool {
		s, ok := row[c].(string)
		return ok && utils.MemberString(s, categories)
	})
}

// WeightMeasurement is one weight_kg observation.
type WeightMeasurement struct {
	HospitalizationID string
	RecordedDttm      time.Time
	WeightKG          float64
}

// WeightMeasurements extracts the weight_kg vitals per hospitalization,
// sorted ascending by recorded time.
func (t *Vitals) WeightMeasurements() map[string][]WeightMeasurement {
	out := map[string][]WeightMeasurement{}
	hc, tc, cc, vc := t.Frame.Col("hospitalization_id"), t.Frame.Col("recorded_dttm"),
		t.Frame.Col("vital_category"), t.Frame.Col("vital_value")
	if hc < 0 || tc < 0 || cc < 0 || vc < 0 {
		return out
	}
	for _, row := range t.Frame.Rows {
		cat, ok := row[cc].(string)
		if !ok || cat != "weight_kg" {
			continue
		}
		id, ok := row[hc].(string)
		if !ok {
			continue
		}
		ts, ok := AsTime(row[tc])
		if !ok {
			continue
		}
		w, ok := AsFloat(row[vc])
		if !ok {
			continue
		}
		out[id] = append(out[id], WeightMeasurement{HospitalizationID: id, RecordedDttm: ts, WeightKG: w})
	}
	for id := range out {
		ms := out[id]
		sort.Slice(ms, func(i, j int) bool { return ms[i].RecordedDttm.Before(ms[j].RecordedDttm) })
		out[id] = ms
	}
	return out
}

// HospitalizationIDSet returns the set of ids present in the
// hospitalization table.
func (t *Hospitalization) HospitalizationIDSet() map[string]bool {
	set := map[string]bool{}
	c := t.Frame.Col("hospitalization_id")
	if c < 0 {
		return set
	}
	for _, row := range t.Frame.Rows {
		if id, ok := row[c].(string); ok {
			set[id] = true
		}
	}
	return set
}

// CheckReferentialIntegrity reports ids of an event table that do not exist
// in the hospitalization table. The finding is recorded on the event
// table's error list; rows are retained.
func CheckReferentialIntegrity(event Table, hosp *Hospitalization) int {
	base := event.Base()
	known := hosp.HospitalizationIDSet()
	missing := 0
	for _, id := range base.hospitalizationIDs() {
		if !known[id] {
			missing++
		}
	}
	if missing > 0 {
		base.Errors = append(base.Errors, ValidationError{
			Type:    ErrTypeMissingHospID,
			Column:  "hospitalization_id",
			Count:   missing,
			Message: "hospitalization ids not present in the hospitalization table",
		})
	}
	return missing
}
