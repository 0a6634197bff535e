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
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Common-Longitudinal-ICU-data-Format/clifpy-sub001/config"
)

func testConfig(t *testing.T, timezone string) *config.Config {
	t.Helper()
	dataDir := t.TempDir()
	cfg, err := config.New(dataDir, "csv", timezone, filepath.Join(t.TempDir(), "out"))
	require.NoError(t, err)
	return cfg
}

func writeTableCSV(t *testing.T, cfg *config.Config, tableName, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(cfg.TablePath(tableName), []byte(content), 0600))
}

const vitalsCSV = "hospitalization_id,recorded_dttm,vital_category,vital_value\n" +
	"H1,2023-01-01 10:05:00,heart_rate,80\n" +
	"H1,2023-01-01 10:50:00,heart_rate,100\n" +
	"H1,2023-01-01 10:05:00,weight_kg,70\n" +
	"H2,2023-01-01 11:00:00,spo2,97\n"

func TestLoadCSV(t *testing.T) {
	cfg := testConfig(t, "America/Chicago")
	writeTableCSV(t, cfg, "vitals", vitalsCSV)

	b, err := Load(cfg, "vitals", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 4, b.Frame.NumRows())

	// naive datetimes get the config timezone attached
	ts, ok := AsTime(b.Frame.Value(0, "recorded_dttm"))
	require.True(t, ok)
	assert.Equal(t, "America/Chicago", ts.Location().String())
	assert.Equal(t, 10, ts.Hour())

	v, ok := AsFloat(b.Frame.Value(0, "vital_value"))
	require.True(t, ok)
	assert.Equal(t, 80.0, v)
}

func TestLoadConvertsAwareDatetimes(t *testing.T) {
	cfg := testConfig(t, "UTC")
	writeTableCSV(t, cfg, "vitals",
		"hospitalization_id,recorded_dttm,vital_category,vital_value\n"+
			"H1,2023-01-01T10:00:00-06:00,heart_rate,80\n")
	b, err := Load(cfg, "vitals", nil, nil)
	require.NoError(t, err)
	ts, ok := AsTime(b.Frame.Value(0, "recorded_dttm"))
	require.True(t, ok)
	assert.Equal(t, "UTC", ts.Location().String())
	assert.Equal(t, 16, ts.Hour())
}

func TestLoadMissingFile(t *testing.T) {
	cfg := testConfig(t, "UTC")
	_, err := Load(cfg, "vitals", nil, nil)
	assert.ErrorIs(t, err, ErrMissingFile)
}

func TestLoadUnknownTable(t *testing.T) {
	cfg := testConfig(t, "UTC")
	_, err := Load(cfg, "ventilator_settings", nil, nil)
	assert.Error(t, err)
}

func TestLoadProjectionAndFilters(t *testing.T) {
	cfg := testConfig(t, "UTC")
	writeTableCSV(t, cfg, "vitals", vitalsCSV)

	b, err := Load(cfg, "vitals", &Options{
		Columns: []string{"hospitalization_id", "vital_category", "vital_value"},
		Filters: map[string][]string{"vital_category": {"heart_rate"}},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"hospitalization_id", "vital_category", "vital_value"}, b.Frame.Columns)
	assert.Equal(t, 2, b.Frame.NumRows())
	for i := 0; i < b.Frame.NumRows(); i++ {
		assert.Equal(t, "heart_rate", b.Frame.Value(i, "vital_category"))
	}
}

func TestLoadSampleDeterministic(t *testing.T) {
	cfg := testConfig(t, "UTC")
	content := "hospitalization_id,recorded_dttm,vital_category,vital_value\n"
	base := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 200; i++ {
		content += "H1," + base.Add(time.Duration(i)*time.Minute).Format("2006-01-02 15:04:05") +
			",heart_rate,80\n"
	}
	writeTableCSV(t, cfg, "vitals", content)

	first, err := Load(cfg, "vitals", &Options{SampleSize: 50}, nil)
	require.NoError(t, err)
	second, err := Load(cfg, "vitals", &Options{SampleSize: 50}, nil)
	require.NoError(t, err)
	require.Equal(t, 50, first.Frame.NumRows())
	require.Equal(t, 50, second.Frame.NumRows())
	for i := 0; i < 50; i++ {
		a, _ := AsTime(first.Frame.Value(i, "recorded_dttm"))
		b, _ := AsTime(second.Frame.Value(i, "recorded_dttm"))
		assert.True(t, a.Equal(b))
	}
}

func TestLoadKeepsUnknownColumns(t *testing.T) {
	cfg := testConfig(t, "UTC")
	writeTableCSV(t, cfg, "vitals",
		"hospitalization_id,recorded_dttm,vital_category,vital_value,site_comment\n"+
			"H1,2023-01-01 10:00:00,heart_rate,80,left arm\n")
	b, err := Load(cfg, "vitals", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "left arm", b.Frame.Value(0, "site_comment"))
}
