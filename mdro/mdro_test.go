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

package mdro

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Common-Longitudinal-ICU-data-Format/clifpy-sub001/table"
)

func cultureFrame(rows ...[]any) *table.Frame {
	f := table.NewFrame([]string{"organism_id", "hospitalization_id", "result_dttm", "organism_category"})
	for _, r := range rows {
		f.AppendRow(r)
	}
	return f
}

func suscFrame(rows ...[]any) *table.Frame {
	f := table.NewFrame([]string{"organism_id", "antimicrobial_category", "susceptibility_category"})
	for _, r := range rows {
		f.AppendRow(r)
	}
	return f
}

var resultDttm = time.Date(2023, 1, 1, 8, 0, 0, 0, time.UTC)

func TestLookupOrganism(t *testing.T) {
	cfg, err := LookupOrganism("pseudomonas_aeruginosa")
	require.NoError(t, err)
	assert.Equal(t, "Pseudomonas aeruginosa", cfg.DisplayName)
	assert.Contains(t, cfg.AntimicrobialGroups["aminoglycosides"], "gentamicin")

	_, err = LookupOrganism("klebsiella_oxytoca")
	assert.ErrorIs(t, err, ErrUnknownOrganism)
}

func TestPseudomonasMDR(t *testing.T) {
	culture := cultureFrame([]any{"O1", "H1", resultDttm, "pseudomonas_aeruginosa"})
	susc := suscFrame(
		[]any{"O1", "gentamicin", "non_susceptible"},
		[]any{"O1", "ciprofloxacin", "non_susceptible"},
		[]any{"O1", "ceftazidime", "non_susceptible"},
		[]any{"O1", "piperacillin_tazobactam", "susceptible"},
		[]any{"O1", "meropenem", "susceptible"},
		[]any{"O1", "aztreonam", "susceptible"},
		[]any{"O1", "colistin", "susceptible"},
	)
	cfg, err := LookupOrganism("pseudomonas_aeruginosa")
	require.NoError(t, err)
	out, err := CalculateFlags("pseudomonas_aeruginosa", culture, susc, cfg, nil, nil)
	require.NoError(t, err)
	require.Equal(t, 1, out.NumRows())

	assert.Equal(t, int64(1), out.Value(0, "mdro_psar_mdr"))
	assert.Equal(t, int64(0), out.Value(0, "mdro_psar_xdr"))
	assert.Equal(t, int64(0), out.Value(0, "mdro_psar_pdr"))

	// group binaries
	assert.Equal(t, int64(1), out.Value(0, "aminoglycosides"))
	assert.Equal(t, int64(1), out.Value(0, "fluoroquinolones"))
	assert.Equal(t, int64(0), out.Value(0, "carbapenems"))

	// per-antimicrobial text
	assert.Equal(t, "non_susceptible", out.Value(0, "gentamicin"))
	assert.Equal(t, "susceptible", out.Value(0, "meropenem"))
	assert.Nil(t, out.Value(0, "tobramycin"))
}

func TestPseudomonasPDRIffAllTestedResistant(t *testing.T) {
	culture := cultureFrame(
		[]any{"O1", "H1", resultDttm, "pseudomonas_aeruginosa"},
		[]any{"O2", "H2", resultDttm, "pseudomonas_aeruginosa"},
	)
	susc := suscFrame(
		// O1: everything tested is resistant
		[]any{"O1", "gentamicin", "non_susceptible"},
		[]any{"O1", "ciprofloxacin", "intermediate"},
		[]any{"O1", "meropenem", "non_susceptible"},
		// O2: one tested agent susceptible
		[]any{"O2", "gentamicin", "non_susceptible"},
		[]any{"O2", "ciprofloxacin", "susceptible"},
	)
	cfg, err := LookupOrganism("pseudomonas_aeruginosa")
	require.NoError(t, err)
	out, err := CalculateFlags("pseudomonas_aeruginosa", culture, susc, cfg, nil, nil)
	require.NoError(t, err)
	require.Equal(t, 2, out.NumRows())
	assert.Equal(t, int64(1), out.Value(0, "mdro_psar_pdr"))
	assert.Equal(t, int64(0), out.Value(1, "mdro_psar_pdr"))
}

func TestXDRMaxGroupsSusceptible(t *testing.T) {
	culture := cultureFrame([]any{"O1", "H1", resultDttm, "pseudomonas_aeruginosa"})
	// six groups tested, five resistant, one susceptible:
	// resistant (5) >= tested (6) - 2 -> xdr
	susc := suscFrame(
		[]any{"O1", "gentamicin", "non_susceptible"},
		[]any{"O1", "ciprofloxacin", "non_susceptible"},
		[]any{"O1", "ceftazidime", "non_susceptible"},
		[]any{"O1", "piperacillin_tazobactam", "non_susceptible"},
		[]any{"O1", "meropenem", "non_susceptible"},
		[]any{"O1", "colistin", "susceptible"},
	)
	cfg, err := LookupOrganism("pseudomonas_aeruginosa")
	require.NoError(t, err)
	out, err := CalculateFlags("pseudomonas_aeruginosa", culture, susc, cfg, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), out.Value(0, "mdro_psar_xdr"))
	assert.Equal(t, int64(1), out.Value(0, "mdro_psar_mdr"))
}

func TestCultureWithoutTestingIsPreserved(t *testing.T) {
	culture := cultureFrame([]any{"O1", "H1", resultDttm, "pseudomonas_aeruginosa"})
	cfg, err := LookupOrganism("pseudomonas_aeruginosa")
	require.NoError(t, err)
	out, err := CalculateFlags("pseudomonas_aeruginosa", culture, nil, cfg, nil, nil)
	require.NoError(t, err)
	require.Equal(t, 1, out.NumRows())
	assert.Equal(t, int64(0), out.Value(0, "mdro_psar_mdr"))
	assert.Equal(t, int64(0), out.Value(0, "mdro_psar_pdr"))
}

func TestMostResistantWinsOnDuplicateTesting(t *testing.T) {
	culture := cultureFrame([]any{"O1", "H1", resultDttm, "pseudomonas_aeruginosa"})
	susc := suscFrame(
		[]any{"O1", "gentamicin", "susceptible"},
		[]any{"O1", "gentamicin", "non_susceptible"},
		[]any{"O1", "tobramycin", "NA"},
	)
	cfg, err := LookupOrganism("pseudomonas_aeruginosa")
	require.NoError(t, err)
	out, err := CalculateFlags("pseudomonas_aeruginosa", culture, susc, cfg, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "non_susceptible", out.Value(0, "gentamicin"))
	// NA does not count as tested
	assert.Equal(t, int64(1), out.Value(0, "aminoglycosides"))
}

func TestCohortFilter(t *testing.T) {
	culture := cultureFrame(
		[]any{"O1", "H1", resultDttm, "pseudomonas_aeruginosa"},
		[]any{"O2", "H2", resultDttm, "pseudomonas_aeruginosa"},
		[]any{"O3", "H1", resultDttm, "staphylococcus_aureus"},
	)
	cfg, err := LookupOrganism("pseudomonas_aeruginosa")
	require.NoError(t, err)
	out, err := CalculateFlags("pseudomonas_aeruginosa", culture, nil, cfg,
		&Options{HospitalizationIDs: []string{"H1"}}, nil)
	require.NoError(t, err)
	require.Equal(t, 1, out.NumRows())
	assert.Equal(t, "O1", out.Value(0, "organism_id"))
}

func TestMRSASpecificAgents(t *testing.T) {
	culture := cultureFrame([]any{"O1", "H1", resultDttm, "staphylococcus_aureus"})
	susc := suscFrame(
		[]any{"O1", "oxacillin", "non_susceptible"},
		[]any{"O1", "vancomycin", "susceptible"},
	)
	cfg, err := LookupOrganism("staphylococcus_aureus")
	require.NoError(t, err)
	out, err := CalculateFlags("staphylococcus_aureus", culture, susc, cfg, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), out.Value(0, "mdro_saur_mrsa"))
	assert.Equal(t, int64(0), out.Value(0, "mdro_saur_vrsa"))
}

func TestUnknownCriterionRejected(t *testing.T) {
	culture := cultureFrame([]any{"O1", "H1", resultDttm, "pseudomonas_aeruginosa"})
	cfg := &OrganismConfig{
		AntimicrobialGroups: map[string][]string{"aminoglycosides": {"gentamicin"}},
		ResistantCategories: []string{"non_susceptible"},
		ResistanceDefinitions: map[string]ResistanceDefinition{
			"odd": {ColumnName: "odd", Criteria: "majority_resistant"},
		},
	}
	_, err := CalculateFlags("pseudomonas_aeruginosa", culture, nil, cfg, nil, nil)
	assert.ErrorIs(t, err, ErrUnknownCriterion)
}
