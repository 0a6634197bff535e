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

package app

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Common-Longitudinal-ICU-data-Format/clifpy-sub001/table"
)

// Charlson comorbidity index over hospital_diagnosis ICD-10-CM codes, Quan
// coding. Codes are matched on dot-stripped uppercase prefixes.

type cciCondition struct {
	name     string
	weight   int
	prefixes []string

	// supersededBy names a condition that, when present, zeroes this one
	// (metastatic disease over malignancy, severe over mild liver disease,
	// complicated over uncomplicated diabetes).
	supersededBy string
}

func prefixRange(letter string, from, to int) []string {
	var out []string
	for i := from; i <= to; i++ {
		out = append(out, fmt.Sprintf("%s%02d", letter, i))
	}
	return out
}

var pulmonaryPrefixes = func() []string {
	p := []string{"I278", "I279"}
	p = append(p, prefixRange("J", 40, 47)...)
	p = append(p, prefixRange("J", 60, 67)...)
	return append(p, "J684", "J701", "J703")
}()

var malignancyPrefixes = func() []string {
	p := prefixRange("C", 0, 26)
	p = append(p, prefixRange("C", 30, 34)...)
	p = append(p, prefixRange("C", 37, 41)...)
	p = append(p, "C43")
	p = append(p, prefixRange("C", 45, 58)...)
	p = append(p, prefixRange("C", 60, 76)...)
	p = append(p, prefixRange("C", 81, 85)...)
	p = append(p, "C88")
	return append(p, prefixRange("C", 90, 97)...)
}()

var cciConditions = []cciCondition{
	{name: "myocardial_infarction", weight: 1,
		prefixes: []string{"I21", "I22", "I252"}},
	{name: "congestive_heart_failure", weight: 1,
		prefixes: []string{"I099", "I110", "I130", "I132", "I255", "I420", "I425", "I426",
			"I427", "I428", "I429", "I43", "I50", "P290"}},
	{name: "peripheral_vascular_disease", weight: 1,
		prefixes: []string{"I70", "I71", "I731", "I738", "I739", "I771", "I790", "I792",
			"K551", "K558", "K559", "Z958", "Z959"}},
	{name: "cerebrovascular_disease", weight: 1,
		prefixes: append([]string{"G45", "G46", "H340"}, prefixRange("I", 60, 69)...)},
	{name: "dementia", weight: 1,
		prefixes: []string{"F00", "F01", "F02", "F03", "F051", "G30", "G311"}},
	{name: "chronic_pulmonary_disease", weight: 1, prefixes: pulmonaryPrefixes},
	{name: "rheumatic_disease", weight: 1,
		prefixes: []string{"M05", "M06", "M315", "M32", "M33", "M34", "M351", "M353", "M360"}},
	{name: "peptic_ulcer_disease", weight: 1,
		prefixes: prefixRange("K", 25, 28)},
	{name: "mild_liver_disease", weight: 1, supersededBy: "moderate_severe_liver_disease",
		prefixes: []string{"B18", "K700", "K701", "K702", "K703", "K709", "K713", "K714",
			"K715", "K717", "K73", "K74", "K760", "K762", "K763", "K764", "K768", "K769", "Z944"}},
	{name: "diabetes_without_complication", weight: 1, supersededBy: "diabetes_with_complication",
		prefixes: []string{"E100", "E101", "E106", "E108", "E109", "E110", "E111", "E116",
			"E118", "E119", "E120", "E121", "E126", "E128", "E129", "E130", "E131", "E136",
			"E138", "E139", "E140", "E141", "E146", "E148", "E149"}},
	{name: "diabetes_with_complication", weight: 2,
		prefixes: []string{"E102", "E103", "E104", "E105", "E107", "E112", "E113", "E114",
			"E115", "E117", "E122", "E123", "E124", "E125", "E127", "E132", "E133", "E134",
			"E135", "E137", "E142", "E143", "E144", "E145", "E147"}},
	{name: "hemiplegia_paraplegia", weight: 2,
		prefixes: []string{"G041", "G114", "G801", "G802", "G81", "G82", "G830", "G831",
			"G832", "G833", "G834", "G839"}},
	{name: "renal_disease", weight: 2,
		prefixes: []string{"I120", "I131", "N032", "N033", "N034", "N035", "N036", "N037",
			"N052", "N053", "N054", "N055", "N056", "N057", "N18", "N19", "N250", "Z490",
			"Z491", "Z492", "Z940", "Z992"}},
	{name: "malignancy", weight: 2, supersededBy: "metastatic_solid_tumor",
		prefixes: malignancyPrefixes},
	{name: "moderate_severe_liver_disease", weight: 3,
		prefixes: []string{"I850", "I859", "I864", "I982", "K704", "K711", "K721", "K729",
			"K765", "K766", "K767"}},
	{name: "metastatic_solid_tumor", weight: 6,
		prefixes: prefixRange("C", 77, 80)},
	{name: "aids_hiv", weight: 6,
		prefixes: []string{"B20", "B21", "B22", "B24"}},
}

// CalculateCCI computes the Charlson comorbidity index per hospitalization
// from the hospital_diagnosis table. The output frame has one row per
// hospitalization with the per-condition flags and the weighted score.
func (co *ClifOrchestrator) CalculateCCI() (*table.Frame, error) {
	diag, ok := co.HospitalDiagnosis()
	if !ok {
		return nil, fmt.Errorf("%w: hospital_diagnosis", ErrTableNotLoaded)
	}
	hc := diag.Frame.Col("hospitalization_id")
	cc := diag.Frame.Col("diagnosis_code")
	fc := diag.Frame.Col("diagnosis_code_format")
	if hc < 0 || cc < 0 {
		return nil, fmt.Errorf("%w: hospital_diagnosis lacks id or code columns", ErrTableNotLoaded)
	}

	perHosp := map[string]map[string]bool{}
	for _, row := range diag.Frame.Rows {
		id, ok := row[hc].(string)
		if !ok {
			continue
		}
		if fc >= 0 {
			if format, ok := row[fc].(string); ok && format != "icd10cm" {
				continue // only ICD-10-CM codes carry the Quan mapping
			}
		}
		code, ok := row[cc].(string)
		if !ok {
			continue
		}
		code = strings.ToUpper(strings.ReplaceAll(code, ".", ""))
		conditions := perHosp[id]
		if conditions == nil {
			conditions = map[string]bool{}
			perHosp[id] = conditions
		}
		for _, cond := range cciConditions {
			for _, prefix := range cond.prefixes {
				if strings.HasPrefix(code, prefix) {
					conditions[cond.name] = true
					break
				}
			}
		}
	}

	columns := []string{"hospitalization_id"}
	for _, cond := range cciConditions {
		columns = append(columns, cond.name)
	}
	columns = append(columns, "cci_score")
	out := table.NewFrame(columns)

	ids := make([]string, 0, len(perHosp))
	for id := range perHosp {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		conditions := perHosp[id]
		row := make([]any, len(columns))
		row[0] = id
		score := 0
		for i, cond := range cciConditions {
			present := conditions[cond.name]
			if present && cond.supersededBy != "" && conditions[cond.supersededBy] {
				present = false
			}
			if present {
				score += cond.weight
				row[i+1] = int64(1)
			} else {
				row[i+1] = int64(0)
			}
		}
		row[len(columns)-1] = int64(score)
		out.AppendRow(row)
	}
	return out, nil
}
