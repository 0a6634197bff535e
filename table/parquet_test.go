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

	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Common-Longitudinal-ICU-data-Format/clifpy-sub001/config"
)

type vitalParquetRow struct {
	HospitalizationID string    `parquet:"hospitalization_id"`
	RecordedDttm      time.Time `parquet:"recorded_dttm"`
	VitalCategory     string    `parquet:"vital_category"`
	VitalValue        float64   `parquet:"vital_value"`
}

func TestLoadParquet(t *testing.T) {
	dataDir := t.TempDir()
	cfg, err := config.New(dataDir, "parquet", "UTC", filepath.Join(t.TempDir(), "out"))
	require.NoError(t, err)

	file, err := os.Create(cfg.TablePath("vitals"))
	require.NoError(t, err)
	writer := parquet.NewGenericWriter[vitalParquetRow](file, parquet.Compression(&parquet.Snappy))
	rows := []vitalParquetRow{
		{"H1", time.Date(2023, 1, 1, 10, 5, 0, 0, time.UTC), "heart_rate", 80},
		{"H1", time.Date(2023, 1, 1, 10, 50, 0, 0, time.UTC), "heart_rate", 100},
	}
	_, err = writer.Write(rows)
	require.NoError(t, err)
	require.NoError(t, writer.Close())
	require.NoError(t, file.Close())

	b, err := Load(cfg, "vitals", nil, nil)
	require.NoError(t, err)
	require.Equal(t, 2, b.Frame.NumRows())

	id, _ := AsString(b.Frame.Value(0, "hospitalization_id"))
	assert.Equal(t, "H1", id)
	v, ok := AsFloat(b.Frame.Value(1, "vital_value"))
	require.True(t, ok)
	assert.Equal(t, 100.0, v)
	ts, ok := AsTime(b.Frame.Value(0, "recorded_dttm"))
	require.True(t, ok)
	assert.True(t, ts.Equal(rows[0].RecordedDttm))
	assert.Equal(t, "UTC", ts.Location().String())
}
