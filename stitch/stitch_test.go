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

package stitch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Common-Longitudinal-ICU-data-Format/clifpy-sub001/table"
)

func dttm(s string) time.Time {
	t, err := time.Parse("2006-01-02T15:04", s)
	if err != nil {
		panic(err)
	}
	return t
}

func hospFrame(rows ...[]any) *table.Frame {
	f := table.NewFrame([]string{"hospitalization_id", "patient_id", "admission_dttm", "discharge_dttm"})
	for _, r := range rows {
		f.AppendRow(r)
	}
	return f
}

func TestStitchMergesCloseHospitalizations(t *testing.T) {
	hosp := hospFrame(
		[]any{"H1", "P1", dttm("2023-01-01T10:00"), dttm("2023-01-01T14:00")},
		[]any{"H2", "P1", dttm("2023-01-01T18:00"), dttm("2023-01-02T08:00")},
	)
	adt := table.NewFrame([]string{"hospitalization_id", "in_dttm", "location_category"})
	adt.AppendRow([]any{"H2", dttm("2023-01-01T18:00"), "icu"})

	result, err := Encounters(hosp, adt, 6*time.Hour, nil)
	require.NoError(t, err)

	// one block spanning both hospitalizations
	require.Equal(t, 1, result.Hospitalization.NumRows())
	assert.Equal(t, map[string]string{"H1": "H1", "H2": "H1"}, result.Mapping)
	adm, _ := table.AsTime(result.Hospitalization.Value(0, "admission_dttm"))
	dis, _ := table.AsTime(result.Hospitalization.Value(0, "discharge_dttm"))
	assert.True(t, adm.Equal(dttm("2023-01-01T10:00")))
	assert.True(t, dis.Equal(dttm("2023-01-02T08:00")))

	// adt rows carry the block id
	assert.Equal(t, "H1", result.Adt.Value(0, "hospitalization_id"))
}

func TestStitchKeepsDistantHospitalizationsApart(t *testing.T) {
	hosp := hospFrame(
		[]any{"H1", "P1", dttm("2023-01-01T10:00"), dttm("2023-01-01T14:00")},
		[]any{"H2", "P1", dttm("2023-01-01T21:00"), dttm("2023-01-02T08:00")},
	)
	result, err := Encounters(hosp, nil, 6*time.Hour, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Hospitalization.NumRows())
	assert.Equal(t, map[string]string{"H1": "H1", "H2": "H2"}, result.Mapping)
}

func TestStitchSeparatesPatients(t *testing.T) {
	hosp := hospFrame(
		[]any{"H1", "P1", dttm("2023-01-01T10:00"), dttm("2023-01-01T14:00")},
		[]any{"H2", "P2", dttm("2023-01-01T15:00"), dttm("2023-01-02T08:00")},
	)
	result, err := Encounters(hosp, nil, 6*time.Hour, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Hospitalization.NumRows())
}

func TestStitchChainFolds(t *testing.T) {
	// A joins B, B joins C; all three form one block even though A and C
	// are far apart.
	hosp := hospFrame(
		[]any{"H1", "P1", dttm("2023-01-01T00:00"), dttm("2023-01-01T10:00")},
		[]any{"H2", "P1", dttm("2023-01-01T14:00"), dttm("2023-01-01T20:00")},
		[]any{"H3", "P1", dttm("2023-01-02T00:00"), dttm("2023-01-02T12:00")},
	)
	result, err := Encounters(hosp, nil, 6*time.Hour, nil)
	require.NoError(t, err)
	require.Equal(t, 1, result.Hospitalization.NumRows())
	assert.Equal(t, "H1", result.Mapping["H3"])
}

func TestStitchIdempotent(t *testing.T) {
	hosp := hospFrame(
		[]any{"H1", "P1", dttm("2023-01-01T10:00"), dttm("2023-01-01T14:00")},
		[]any{"H2", "P1", dttm("2023-01-01T18:00"), dttm("2023-01-02T08:00")},
		[]any{"H3", "P1", dttm("2023-01-03T10:00"), dttm("2023-01-03T18:00")},
		[]any{"H4", "P2", dttm("2023-01-01T10:00"), dttm("2023-01-01T12:00")},
	)
	once, err := Encounters(hosp, nil, 6*time.Hour, nil)
	require.NoError(t, err)
	twice, err := Encounters(once.Hospitalization, nil, 6*time.Hour, nil)
	require.NoError(t, err)

	require.Equal(t, once.Hospitalization.NumRows(), twice.Hospitalization.NumRows())
	for i := 0; i < once.Hospitalization.NumRows(); i++ {
		assert.Equal(t, once.Hospitalization.Value(i, "hospitalization_id"),
			twice.Hospitalization.Value(i, "hospitalization_id"))
	}
	for id, block := range twice.Mapping {
		assert.Equal(t, id, block)
	}
}

func TestStitchPermutationInvariant(t *testing.T) {
	rows := [][]any{
		{"H1", "P1", dttm("2023-01-01T10:00"), dttm("2023-01-01T14:00")},
		{"H2", "P1", dttm("2023-01-01T18:00"), dttm("2023-01-02T08:00")},
		{"H3", "P2", dttm("2023-01-01T09:00"), dttm("2023-01-01T11:00")},
	}
	forward, err := Encounters(hospFrame(rows...), nil, 6*time.Hour, nil)
	require.NoError(t, err)
	reversed, err := Encounters(hospFrame(rows[2], rows[1], rows[0]), nil, 6*time.Hour, nil)
	require.NoError(t, err)

	assert.Equal(t, forward.Mapping, reversed.Mapping)
	require.Equal(t, forward.Hospitalization.NumRows(), reversed.Hospitalization.NumRows())
	for i := 0; i < forward.Hospitalization.NumRows(); i++ {
		assert.Equal(t, forward.Hospitalization.Value(i, "hospitalization_id"),
			reversed.Hospitalization.Value(i, "hospitalization_id"))
	}
}
