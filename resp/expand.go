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

package resp

import (
	"sort"
	"time"
)

// ExpandPerMinute carries the post-waterfall state forward between
// consecutive events of one hospitalization, emitting one row per minute.
// The carry stops at the next event. The horizon bounds the expansion of
// each event; a non-positive horizon expands only up to the next event and
// emits the final event once.
func ExpandPerMinute(rows []Row, horizon time.Duration) []Row {
	perHosp := map[string][]Row{}
	for _, r := range rows {
		perHosp[r.HospitalizationID] = append(perHosp[r.HospitalizationID], r)
	}
	ids := make([]string, 0, len(perHosp))
	for id := range perHosp {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var out []Row
	for _, id := range ids {
		hospRows := append([]Row{}, perHosp[id]...)
		sort.SliceStable(hospRows, func(a, b int) bool {
			return hospRows[a].RecordedDttm.Before(hospRows[b].RecordedDttm)
		})
		for i, r := range hospRows {
			start := r.RecordedDttm.Truncate(time.Minute)
			var end time.Time
			if i+1 < len(hospRows) {
				end = hospRows[i+1].RecordedDttm.Truncate(time.Minute)
				if horizon > 0 && start.Add(horizon).Before(end) {
					end = start.Add(horizon)
				}
			} else if horizon > 0 {
				end = start.Add(horizon)
			} else {
				end = start.Add(time.Minute)
			}
			for t := start; t.Before(end); t = t.Add(time.Minute) {
				minute := r
				minute.RecordedDttm = t
				out = append(out, minute)
			}
		}
	}
	return out
}
