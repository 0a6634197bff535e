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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func errorTypes(errs []ValidationError) []string {
	var types []string
	for _, e := range errs {
		types = append(types, e.Type)
	}
	return types
}

func TestValidateCleanTable(t *testing.T) {
	cfg := testConfig(t, "America/Chicago")
	writeTableCSV(t, cfg, "vitals", vitalsCSV)
	b, err := Load(cfg, "vitals", nil, nil)
	require.NoError(t, err)

	errs := b.Validate()
	assert.Empty(t, errs)
	assert.True(t, b.IsValid())
}

func TestIsValidRequiresValidation(t *testing.T) {
	cfg := testConfig(t, "UTC")
	writeTableCSV(t, cfg, "vitals", vitalsCSV)
	b, err := Load(cfg, "vitals", nil, nil)
	require.NoError(t, err)
	assert.False(t, b.IsValid())
}

func TestValidateMissingRequiredColumn(t *testing.T) {
	cfg := testConfig(t, "UTC")
	writeTableCSV(t, cfg, "vitals",
		"hospitalization_id,recorded_dttm,vital_category\n"+
			"H1,2023-01-01 10:00:00,heart_rate\n")
	b, err := Load(cfg, "vitals", nil, nil)
	require.NoError(t, err)
	errs := b.Validate()
	assert.Contains(t, errorTypes(errs), ErrTypeMissingColumn)
	assert.False(t, b.IsValid())
}

func TestValidateUnknownCategory(t *testing.T) {
	cfg := testConfig(t, "UTC")
	writeTableCSV(t, cfg, "vitals",
		"hospitalization_id,recorded_dttm,vital_category,vital_value\n"+
			"H1,2023-01-01 10:00:00,pulse,80\n"+
			"H1,2023-01-01 10:05:00,pulse,82\n")
	b, err := Load(cfg, "vitals", nil, nil)
	require.NoError(t, err)
	errs := b.Validate()
	require.Contains(t, errorTypes(errs), ErrTypeInvalidCategory)
	for _, e := range errs {
		if e.Type == ErrTypeInvalidCategory {
			assert.Equal(t, "vital_category", e.Column)
			assert.Equal(t, 2, e.Count)
		}
	}
	// unknown values are reported but not removed
	assert.Equal(t, 2, b.Frame.NumRows())
}

func TestValidateDuplicateCompositeKeys(t *testing.T) {
	cfg := testConfig(t, "UTC")
	writeTableCSV(t, cfg, "vitals",
		"hospitalization_id,recorded_dttm,vital_category,vital_value\n"+
			"H1,2023-01-01 10:00:00,heart_rate,80\n"+
			"H1,2023-01-01 10:00:00,heart_rate,81\n"+
			"H1,2023-01-01 10:05:00,heart_rate,82\n")
	b, err := Load(cfg, "vitals", nil, nil)
	require.NoError(t, err)
	errs := b.Validate()
	require.Contains(t, errorTypes(errs), ErrTypeDuplicateKeys)
	for _, e := range errs {
		if e.Type == ErrTypeDuplicateKeys {
			assert.Equal(t, 1, e.Count)
		}
	}
}

func TestValidateRangeViolations(t *testing.T) {
	cfg := testConfig(t, "UTC")
	writeTableCSV(t, cfg, "vitals",
		"hospitalization_id,recorded_dttm,vital_category,vital_value\n"+
			"H1,2023-01-01 10:00:00,heart_rate,900\n"+
			"H1,2023-01-01 10:05:00,spo2,97\n")
	b, err := Load(cfg, "vitals", nil, nil)
	require.NoError(t, err)
	errs := b.Validate()
	require.Contains(t, errorTypes(errs), ErrTypeRangeViolation)
	// violations are reported, not removed
	v, _ := AsFloat(b.Frame.Value(0, "vital_value"))
	assert.Equal(t, 900.0, v)
}

func TestValidateDtypeMismatch(t *testing.T) {
	cfg := testConfig(t, "UTC")
	writeTableCSV(t, cfg, "vitals",
		"hospitalization_id,recorded_dttm,vital_category,vital_value\n"+
			"H1,2023-01-01 10:00:00,heart_rate,not-a-number\n")
	b, err := Load(cfg, "vitals", nil, nil)
	require.NoError(t, err)
	errs := b.Validate()
	assert.Contains(t, errorTypes(errs), ErrTypeDtypeMismatch)
}

func TestValidateWritesArtifacts(t *testing.T) {
	cfg := testConfig(t, "UTC")
	writeTableCSV(t, cfg, "vitals", vitalsCSV)
	b, err := Load(cfg, "vitals", nil, nil)
	require.NoError(t, err)
	b.Validate()

	for _, name := range []string{
		"validation_errors_vitals.csv",
		"missing_data_stats_vitals.csv",
		"summary_statistics_vitals.csv",
		"validation_log_vitals.log",
	} {
		_, err := os.Stat(filepath.Join(cfg.OutputDirectory, name))
		assert.NoError(t, err, name)
	}
}

func TestMissingStats(t *testing.T) {
	frame := NewFrame([]string{"a", "b"})
	frame.AppendRow([]any{"x", nil})
	frame.AppendRow([]any{nil, nil})
	stats := calculateMissingStats(frame)
	require.Len(t, stats, 2)
	assert.Equal(t, 1, stats[0].Missing)
	assert.Equal(t, 50.0, stats[0].Percent)
	assert.Equal(t, 2, stats[1].Missing)
	assert.Equal(t, 100.0, stats[1].Percent)
}

func TestCheckReferentialIntegrity(t *testing.T) {
	cfg := testConfig(t, "UTC")
	writeTableCSV(t, cfg, "hospitalization",
		"hospitalization_id,patient_id,admission_dttm,discharge_dttm\n"+
			"H1,P1,2023-01-01 10:00:00,2023-01-02 10:00:00\n")
	writeTableCSV(t, cfg, "vitals",
		"hospitalization_id,recorded_dttm,vital_category,vital_value\n"+
			"H1,2023-01-01 10:00:00,heart_rate,80\n"+
			"H9,2023-01-01 10:00:00,heart_rate,90\n")
	hb, err := Load(cfg, "hospitalization", nil, nil)
	require.NoError(t, err)
	vb, err := Load(cfg, "vitals", nil, nil)
	require.NoError(t, err)
	hosp := Wrap(hb).(*Hospitalization)
	vitals := Wrap(vb).(*Vitals)

	missing := CheckReferentialIntegrity(vitals, hosp)
	assert.Equal(t, 1, missing)
	assert.Contains(t, errorTypes(vitals.Base().Errors), ErrTypeMissingHospID)
	// rows are retained
	assert.Equal(t, 2, vitals.Frame.NumRows())
}
