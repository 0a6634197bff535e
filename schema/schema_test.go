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

package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupKnownTables(t *testing.T) {
	for _, name := range []string{
		"patient", "hospitalization", "adt", "vitals", "labs",
		"patient_assessments", "position", "respiratory_support",
		"medication_admin_continuous", "medication_admin_intermittent",
		"microbiology_culture", "microbiology_susceptibility",
		"microbiology_nonculture", "hospital_diagnosis", "crrt_therapy",
		"patient_procedures", "ecmo_mcs", "code_status",
	} {
		spec, err := Lookup(name)
		require.NoError(t, err, name)
		assert.Equal(t, name, spec.TableName)
		assert.NotEmpty(t, spec.Columns, name)
	}
}

func TestLookupUnknownTable(t *testing.T) {
	_, err := Lookup("ventilator_settings")
	assert.ErrorIs(t, err, ErrUnknownTable)
}

func TestVitalsSchema(t *testing.T) {
	spec, err := Lookup("vitals")
	require.NoError(t, err)
	assert.Equal(t, []string{"hospitalization_id", "recorded_dttm", "vital_category", "vital_value"},
		spec.RequiredColumns())
	assert.Equal(t, []string{"hospitalization_id", "recorded_dttm", "vital_category"},
		spec.CompositeKeys)
	assert.Contains(t, spec.CategoryColumns(), "vital_category")

	cat := spec.Column("vital_category")
	require.NotNil(t, cat)
	assert.Contains(t, cat.PermissibleValues, "heart_rate")
	assert.Contains(t, cat.PermissibleValues, "weight_kg")

	ranges := spec.Ranges()
	require.NotNil(t, ranges)
	assert.Equal(t, 300.0, ranges["heart_rate"].Hi)
}

func TestLabsReferenceUnits(t *testing.T) {
	spec, err := Lookup("labs")
	require.NoError(t, err)
	assert.Equal(t, "mmol/L", spec.LabReferenceUnits["lactate"])
	assert.NotNil(t, spec.Ranges())
	assert.Contains(t, spec.GroupColumns(), "lab_group")
}

func TestSusceptibilityCategories(t *testing.T) {
	spec, err := Lookup("microbiology_susceptibility")
	require.NoError(t, err)
	col := spec.Column("susceptibility_category")
	require.NotNil(t, col)
	assert.ElementsMatch(t, []string{"susceptible", "intermediate", "non_susceptible", "NA"},
		col.PermissibleValues)
}

func TestTableNamesSorted(t *testing.T) {
	names := TableNames()
	assert.Len(t, names, 18)
	assert.IsIncreasing(t, names)
}
