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

// Package stitch merges hospitalizations of the same patient that are
// separated by at most a configurable gap into one continuous encounter
// block.
package stitch

import (
	"errors"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Common-Longitudinal-ICU-data-Format/clifpy-sub001/table"
	"github.com/Common-Longitudinal-ICU-data-Format/clifpy-sub001/utils"
)

// DefaultTimeInterval is the stitching gap threshold.
const DefaultTimeInterval = 6 * time.Hour

var ErrMissingColumns = errors.New("stitch: hospitalization frame lacks required columns")

// Result holds the stitched frames and the id mapping.
type Result struct {
	Hospitalization *table.Frame
	Adt             *table.Frame

	// Mapping maps every original hospitalization id to its encounter
	// block id. A block id is the earliest hospitalization id it covers,
	// which makes stitching idempotent.
	Mapping map[string]string
}

type hospRow struct {
	index     int // row index in the input frame
	id        string
	patientID string
	admission time.Time
	discharge time.Time
	hasTimes  bool
}

// Encounters folds hospitalizations whose gap to the previous discharge is
// at most timeInterval. The output is invariant under permutation of the
// input rows: per patient the fold runs over (admission_dttm, id) order.
func Encounters(hosp, adt *table.Frame, timeInterval time.Duration, log *logrus.Logger) (*Result, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if timeInterval <= 0 {
		timeInterval = DefaultTimeInterval
	}
	idCol := hosp.Col("hospitalization_id")
	patCol := hosp.Col("patient_id")
	admCol := hosp.Col("admission_dttm")
	disCol := hosp.Col("discharge_dttm")
	if idCol < 0 || patCol < 0 || admCol < 0 || disCol < 0 {
		return nil, ErrMissingColumns
	}

	byPatient := map[string][]hospRow{}
	untimed := 0
	for i, row := range hosp.Rows {
		id, _ := row[idCol].(string)
		patientID, _ := row[patCol].(string)
		adm, admOK := table.AsTime(row[admCol])
		dis, disOK := table.AsTime(row[disCol])
		if !disOK {
			dis = adm
		}
		r := hospRow{index: i, id: id, patientID: patientID, admission: adm, discharge: dis, hasTimes: admOK}
		if !admOK {
			untimed++
		}
		byPatient[patientID] = append(byPatient[patientID], r)
	}
	if untimed > 0 {
		log.WithField("count", untimed).Warn("hospitalizations without admission_dttm form their own encounter blocks")
	}

	mapping := map[string]string{}
	type block struct {
		id                   string
		rows                 []hospRow
		admission, discharge time.Time
	}
	var blocks []block

	patients := make([]string, 0, len(byPatient))
	for p := range byPatient {
		patients = append(patients, p)
	}
	sort.Strings(patients)

	for _, p := range patients {
		rows := byPatient[p]
		sort.Slice(rows, func(i, j int) bool {
			if !rows[i].hasTimes || !rows[j].hasTimes {
				return rows[i].id < rows[j].id
			}
			if !rows[i].admission.Equal(rows[j].admission) {
				return rows[i].admission.Before(rows[j].admission)
			}
			return rows[i].id < rows[j].id
		})
		var cur *block
		for _, r := range rows {
			startNew := cur == nil || !r.hasTimes ||
				r.admission.Sub(cur.discharge) > timeInterval
			if startNew {
				blocks = append(blocks, block{id: r.id, rows: []hospRow{r}, admission: r.admission, discharge: r.discharge})
				cur = &blocks[len(blocks)-1]
			} else {
				cur.rows = append(cur.rows, r)
				cur.admission = utils.MinTime(cur.admission, r.admission)
				cur.discharge = utils.MaxTime(cur.discharge, r.discharge)
			}
			mapping[r.id] = cur.id
		}
	}

	// Stitched hospitalization frame: one row per block, inheriting the
	// earliest admission, the latest discharge, and the remaining columns
	// of the block's first hospitalization.
	stitchedHosp := table.NewFrame(hosp.Columns)
	for _, b := range blocks {
		src := hosp.Rows[b.rows[0].index]
		row := append([]any{}, src...)
		row[idCol] = b.id
		row[admCol] = b.admission
		row[disCol] = b.discharge
		stitchedHosp.AppendRow(row)
	}
	stitchedHosp.SortBy(func(a, b []any) bool {
		ida, _ := a[idCol].(string)
		idb, _ := b[idCol].(string)
		return ida < idb
	})

	var stitchedAdt *table.Frame
	if adt != nil {
		stitchedAdt = rewriteIDs(adt, mapping)
	}

	log.WithFields(logrus.Fields{
		"hospitalizations": hosp.NumRows(),
		"encounter_blocks": len(blocks),
		"gap_hours":        timeInterval.Hours(),
	}).Info("stitched encounters")
	return &Result{Hospitalization: stitchedHosp, Adt: stitchedAdt, Mapping: mapping}, nil
}

// rewriteIDs copies a frame, replacing hospitalization ids with their block
// ids. Ids outside the mapping pass through unchanged.
func rewriteIDs(frame *table.Frame, mapping map[string]string) *table.Frame {
	out := frame.Copy()
	c := out.Col("hospitalization_id")
	if c < 0 {
		return out
	}
	for _, row := range out.Rows {
		if id, ok := row[c].(string); ok {
			if block, ok := mapping[id]; ok {
				row[c] = block
			}
		}
	}
	return out
}
