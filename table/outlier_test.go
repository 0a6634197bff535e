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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyOutlierHandling(t *testing.T) {
	cfg := testConfig(t, "UTC")
	writeTableCSV(t, cfg, "vitals",
		"hospitalization_id,recorded_dttm,vital_category,vital_value\n"+
			"H1,2023-01-01 10:00:00,heart_rate,900\n"+
			"H1,2023-01-01 10:05:00,heart_rate,80\n"+
			"H1,2023-01-01 10:10:00,temp_c,20\n")
	b, err := Load(cfg, "vitals", nil, nil)
	require.NoError(t, err)

	masked, counts := ApplyOutlierHandling(b)
	assert.Equal(t, map[string]int{"heart_rate": 1, "temp_c": 1}, counts)
	assert.Nil(t, masked.Value(0, "vital_value"))
	v, _ := AsFloat(masked.Value(1, "vital_value"))
	assert.Equal(t, 80.0, v)
	assert.Nil(t, masked.Value(2, "vital_value"))

	// the input table is untouched
	orig, _ := AsFloat(b.Frame.Value(0, "vital_value"))
	assert.Equal(t, 900.0, orig)
}

func TestGetOutlierSummary(t *testing.T) {
	cfg := testConfig(t, "UTC")
	writeTableCSV(t, cfg, "vitals",
		"hospitalization_id,recorded_dttm,vital_category,vital_value\n"+
			"H1,2023-01-01 10:00:00,spo2,30\n"+
			"H1,2023-01-01 10:05:00,spo2,98\n")
	b, err := Load(cfg, "vitals", nil, nil)
	require.NoError(t, err)

	counts := GetOutlierSummary(b)
	assert.Equal(t, map[string]int{"spo2": 1}, counts)
	// summary does not mask
	v, _ := AsFloat(b.Frame.Value(0, "vital_value"))
	assert.Equal(t, 30.0, v)
}
