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

// Package app hosts the orchestrator: the entry point that loads the
// selected tables from one configuration, exposes them, and runs the
// cross-table derivations.
package app

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/exascience/pargo/parallel"
	"github.com/sirupsen/logrus"

	"github.com/Common-Longitudinal-ICU-data-Format/clifpy-sub001/config"
	"github.com/Common-Longitudinal-ICU-data-Format/clifpy-sub001/mdro"
	"github.com/Common-Longitudinal-ICU-data-Format/clifpy-sub001/meds"
	"github.com/Common-Longitudinal-ICU-data-Format/clifpy-sub001/resp"
	"github.com/Common-Longitudinal-ICU-data-Format/clifpy-sub001/schema"
	"github.com/Common-Longitudinal-ICU-data-Format/clifpy-sub001/stitch"
	"github.com/Common-Longitudinal-ICU-data-Format/clifpy-sub001/table"
	"github.com/Common-Longitudinal-ICU-data-Format/clifpy-sub001/wide"
)

var (
	ErrTableNotLoaded = errors.New("orchestrator: required table not loaded")
	ErrNotInitialized = errors.New("orchestrator: no tables loaded")
)

// ClifOrchestrator owns the table objects of one configuration and hosts
// the cross-table derivations. Tables are treated as immutable during
// derivations; derived artifacts (like the stitched encounter mapping) are
// cached on the orchestrator.
type ClifOrchestrator struct {
	Config *config.Config

	tables     map[string]table.Table
	loadErrors map[string]error

	encounterMapping map[string]string

	log *logrus.Logger
}

// New creates an orchestrator over an already resolved configuration.
func New(cfg *config.Config) *ClifOrchestrator {
	return &ClifOrchestrator{
		Config:     cfg,
		tables:     map[string]table.Table{},
		loadErrors: map[string]error{},
		log:        logrus.StandardLogger(),
	}
}

// NewFromFile creates an orchestrator from a YAML config file.
func NewFromFile(configPath string) (*ClifOrchestrator, error) {
	cfg, err := config.FromFile(configPath)
	if err != nil {
		return nil, err
	}
	return New(cfg), nil
}

// NewFromArgs creates an orchestrator from explicit configuration values.
func NewFromArgs(dataDirectory, filetype, timezone, outputDirectory string) (*ClifOrchestrator, error) {
	cfg, err := config.New(dataDirectory, filetype, timezone, outputDirectory)
	if err != nil {
		return nil, err
	}
	return New(cfg), nil
}

// SetLogger replaces the orchestrator's logger.
func (co *ClifOrchestrator) SetLogger(log *logrus.Logger) {
	co.log = log
}

// Initialize loads the named tables. Unknown table names fail before any
// file is touched; per-table IO failures are recorded and leave the other
// tables loaded.
func (co *ClifOrchestrator) Initialize(tableNames []string, opts *table.Options) error {
	for _, name := range tableNames {
		if _, err := schema.Lookup(name); err != nil {
			return err
		}
	}
	loaded := make([]table.Table, len(tableNames))
	failures := make([]error, len(tableNames))
	parallel.Range(0, len(tableNames), 0, func(low, high int) {
		for i := low; i < high; i++ {
			base, err := table.Load(co.Config, tableNames[i], opts, co.log)
			if err != nil {
				failures[i] = err
				continue
			}
			loaded[i] = table.Wrap(base)
		}
	})
	for i, name := range tableNames {
		if failures[i] != nil {
			co.loadErrors[name] = failures[i]
			co.log.WithError(failures[i]).WithField("table", name).Warn("table failed to load")
			continue
		}
		co.tables[name] = loaded[i]
	}
	return nil
}

// Table returns a loaded table object by name.
func (co *ClifOrchestrator) Table(name string) (table.Table, bool) {
	t, ok := co.tables[name]
	return t, ok
}

// LoadErrors reports per-table load failures from Initialize.
func (co *ClifOrchestrator) LoadErrors() map[string]error {
	return co.loadErrors
}

// TableNames lists the loaded tables in sorted order.
func (co *ClifOrchestrator) TableNames() []string {
	names := make([]string, 0, len(co.tables))
	for name := range co.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Typed accessors for the tables the derivations consume.

func (co *ClifOrchestrator) Hospitalization() (*table.Hospitalization, bool) {
	t, ok := co.tables["hospitalization"].(*table.Hospitalization)
	return t, ok
}

func (co *ClifOrchestrator) Adt() (*table.Adt, bool) {
	t, ok := co.tables["adt"].(*table.Adt)
	return t, ok
}

func (co *ClifOrchestrator) Vitals() (*table.Vitals, bool) {
	t, ok := co.tables["vitals"].(*table.Vitals)
	return t, ok
}

func (co *ClifOrchestrator) Labs() (*table.Labs, bool) {
	t, ok := co.tables["labs"].(*table.Labs)
	return t, ok
}

func (co *ClifOrchestrator) RespiratorySupport() (*table.RespiratorySupport, bool) {
	t, ok := co.tables["respiratory_support"].(*table.RespiratorySupport)
	return t, ok
}

func (co *ClifOrchestrator) MedicationAdminContinuous() (*table.MedicationAdminContinuous, bool) {
	t, ok := co.tables["medication_admin_continuous"].(*table.MedicationAdminContinuous)
	return t, ok
}

func (co *ClifOrchestrator) MicrobiologyCulture() (*table.MicrobiologyCulture, bool) {
	t, ok := co.tables["microbiology_culture"].(*table.MicrobiologyCulture)
	return t, ok
}

func (co *ClifOrchestrator) MicrobiologySusceptibility() (*table.MicrobiologySusceptibility, bool) {
	t, ok := co.tables["microbiology_susceptibility"].(*table.MicrobiologySusceptibility)
	return t, ok
}

func (co *ClifOrchestrator) HospitalDiagnosis() (*table.HospitalDiagnosis, bool) {
	t, ok := co.tables["hospital_diagnosis"].(*table.HospitalDiagnosis)
	return t, ok
}

// ValidationReport aggregates per-table validation outcomes.
type ValidationReport struct {
	Tables map[string][]table.ValidationError
	Valid  bool
}

// ValidateAll validates every loaded table and, when the hospitalization
// table is present, runs the cross-table referential check of
// hospitalization ids (reported, never enforced).
func (co *ClifOrchestrator) ValidateAll() (*ValidationReport, error) {
	if len(co.tables) == 0 {
		return nil, ErrNotInitialized
	}
	report := &ValidationReport{Tables: map[string][]table.ValidationError{}, Valid: true}
	names := co.TableNames()
	for _, name := range names {
		errs := co.tables[name].Validate()
		report.Tables[name] = errs
	}
	if hosp, ok := co.Hospitalization(); ok {
		for _, name := range names {
			t := co.tables[name]
			if name == "hospitalization" || name == "patient" || name == "microbiology_susceptibility" {
				continue
			}
			if !t.Base().Frame.HasColumn("hospitalization_id") {
				continue
			}
			if missing := table.CheckReferentialIntegrity(t, hosp); missing > 0 {
				report.Tables[name] = t.Base().Errors
			}
		}
	}
	for _, errs := range report.Tables {
		if len(errs) > 0 {
			report.Valid = false
		}
	}
	return report, nil
}

// StitchEncounters merges hospitalizations separated by at most
// timeInterval and caches the id mapping for later derivations.
func (co *ClifOrchestrator) StitchEncounters(timeInterval time.Duration) (*stitch.Result, error) {
	hosp, ok := co.Hospitalization()
	if !ok {
		return nil, fmt.Errorf("%w: hospitalization", ErrTableNotLoaded)
	}
	var adtFrame *table.Frame
	if adt, ok := co.Adt(); ok {
		adtFrame = adt.Frame
	}
	result, err := stitch.Encounters(hosp.Frame, adtFrame, timeInterval, co.log)
	if err != nil {
		return nil, err
	}
	co.encounterMapping = result.Mapping
	return result, nil
}

// EncounterMapping returns the cached stitched-encounter mapping, if
// StitchEncounters ran.
func (co *ClifOrchestrator) EncounterMapping() map[string]string {
	return co.encounterMapping
}

// CreateWideDataset pivots the named narrow tables into the wide frame. An
// empty optionalTables selects every loaded pivotable table.
func (co *ClifOrchestrator) CreateWideDataset(optionalTables []string, opts *wide.Options) (*table.Frame, error) {
	frames := map[string]*table.Frame{}
	if len(optionalTables) == 0 {
		for _, name := range co.TableNames() {
			if wide.Supported(name) {
				frames[name] = co.tables[name].Base().Frame
			}
		}
	} else {
		for _, name := range optionalTables {
			t, ok := co.tables[name]
			if !ok {
				return nil, fmt.Errorf("%w: %s", ErrTableNotLoaded, name)
			}
			frames[name] = t.Base().Frame
		}
	}
	if len(frames) == 0 {
		return nil, fmt.Errorf("%w: no pivotable table loaded", ErrTableNotLoaded)
	}
	return wide.Dataset(frames, opts, co.log)
}

// ConvertWideToHourly aggregates a wide frame onto the hourly grid.
func (co *ClifOrchestrator) ConvertWideToHourly(wideFrame *table.Frame, opts *wide.HourlyOptions) (*table.Frame, error) {
	return wide.Hourly(wideFrame, opts)
}

// ProcessRespSupportWaterfall runs the respiratory-support imputation
// passes over the loaded respiratory_support table.
func (co *ClifOrchestrator) ProcessRespSupportWaterfall() (*resp.Result, error) {
	rs, ok := co.RespiratorySupport()
	if !ok {
		return nil, fmt.Errorf("%w: respiratory_support", ErrTableNotLoaded)
	}
	rows, dropped := resp.FromFrame(rs.Frame)
	return resp.Waterfall(rows, dropped, co.log), nil
}

// ConvertDoseUnitsForContinuousMeds harmonises the continuous infusion
// doses to their base units. Weights resolve from the vitals table when it
// is loaded; override enables the configured fallback weight.
func (co *ClifOrchestrator) ConvertDoseUnitsForContinuousMeds(override bool) (*meds.Result, error) {
	mac, ok := co.MedicationAdminContinuous()
	if !ok {
		return nil, fmt.Errorf("%w: medication_admin_continuous", ErrTableNotLoaded)
	}
	weights := map[string][]table.WeightMeasurement{}
	if vitals, ok := co.Vitals(); ok {
		weights = vitals.WeightMeasurements()
	}
	rows := meds.FromFrame(mac.Frame)
	return meds.Convert(rows, weights, override, co.Config.FallbackWeightKG, co.log), nil
}

// CalculateMdroFlags classifies the cultures of one organism using its
// declarative resistance configuration.
func (co *ClifOrchestrator) CalculateMdroFlags(organismName string, opts *mdro.Options) (*table.Frame, error) {
	culture, ok := co.MicrobiologyCulture()
	if !ok {
		return nil, fmt.Errorf("%w: microbiology_culture", ErrTableNotLoaded)
	}
	cfg, err := mdro.LookupOrganism(organismName)
	if err != nil {
		return nil, err
	}
	var suscFrame *table.Frame
	if susc, ok := co.MicrobiologySusceptibility(); ok {
		suscFrame = susc.Frame
	}
	return mdro.CalculateFlags(organismName, culture.Frame, suscFrame, cfg, opts, co.log)
}
