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

// Package mdro derives multi-drug-resistance flags from microbiology
// culture and susceptibility data using declarative per-organism
// configurations.
package mdro

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/Common-Longitudinal-ICU-data-Format/clifpy-sub001/table"
	"github.com/Common-Longitudinal-ICU-data-Format/clifpy-sub001/utils"
)

//go:embed organisms.yaml
var organismsYAML []byte

var (
	ErrUnknownOrganism  = errors.New("mdro: unknown organism")
	ErrUnknownCriterion = errors.New("mdro: unknown criterion")
	ErrMissingColumns   = errors.New("mdro: input frame lacks required columns")
)

// Criteria names.
const (
	CriterionMinGroupsResistant      = "min_groups_resistant"
	CriterionMaxGroupsSusceptible    = "max_groups_susceptible"
	CriterionAllTestedResistant      = "all_tested_resistant"
	CriterionSpecificAgentsResistant = "specific_agents_resistant"
)

// susceptibilityRank orders categories most-resistant first for the
// per-antimicrobial dedup.
var susceptibilityRank = map[string]int{
	"non_susceptible": 0,
	"intermediate":    1,
	"susceptible":     2,
	"NA":              3,
}

// ResistanceDefinition is one named flag with its criterion parameters.
type ResistanceDefinition struct {
	ColumnName           string   `yaml:"column_name"`
	Criteria             string   `yaml:"criteria"`
	MinGroups            int      `yaml:"min_groups"`
	MaxGroupsSusceptible int      `yaml:"max_groups_susceptible"`
	RequiredAgents       []string `yaml:"required_agents"`
}

// OrganismConfig is the declarative configuration of one organism.
type OrganismConfig struct {
	DisplayName           string                          `yaml:"display_name"`
	AntimicrobialGroups   map[string][]string             `yaml:"antimicrobial_groups"`
	ResistantCategories   []string                        `yaml:"resistant_categories"`
	ResistanceDefinitions map[string]ResistanceDefinition `yaml:"resistance_definitions"`
}

type configDoc struct {
	Organisms map[string]OrganismConfig `yaml:"organisms"`
}

var (
	builtinOnce sync.Once
	builtin     map[string]OrganismConfig
	builtinErr  error
)

// LookupOrganism returns the embedded configuration for an organism
// category.
func LookupOrganism(name string) (*OrganismConfig, error) {
	builtinOnce.Do(func() {
		doc := configDoc{}
		if err := yaml.Unmarshal(organismsYAML, &doc); err != nil {
			builtinErr = fmt.Errorf("mdro: embedded organism config is malformed: %w", err)
			return
		}
		builtin = doc.Organisms
	})
	if builtinErr != nil {
		return nil, builtinErr
	}
	cfg, ok := builtin[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownOrganism, name)
	}
	return &cfg, nil
}

// LoadOrganism reads an organism configuration from a custom YAML file.
func LoadOrganism(path, name string) (*OrganismConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("mdro: cannot read %s: %w", path, err)
	}
	doc := configDoc{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("mdro: cannot parse %s: %w", path, err)
	}
	cfg, ok := doc.Organisms[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q in %s", ErrUnknownOrganism, name, path)
	}
	return &cfg, nil
}

// Options restrict the classified cultures.
type Options struct {
	HospitalizationIDs []string
}

// isolate is one (hospitalization, organism) culture with its deduplicated
// susceptibility results.
type isolate struct {
	hospitalizationID string
	organismID        string
	organismCategory  string

	// per antimicrobial the most resistant observed category
	susceptibilities map[string]string
}

// CalculateFlags classifies all cultures of one organism category. The
// culture/susceptibility join is a left join, so cultures without testing
// appear with all flags unset.
func CalculateFlags(organismName string, culture, susceptibility *table.Frame,
	cfg *OrganismConfig, opts *Options, log *logrus.Logger) (*table.Frame, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	for name, def := range cfg.ResistanceDefinitions {
		switch def.Criteria {
		case CriterionMinGroupsResistant, CriterionMaxGroupsSusceptible,
			CriterionAllTestedResistant, CriterionSpecificAgentsResistant:
		default:
			return nil, fmt.Errorf("%w: %q in definition %q", ErrUnknownCriterion, def.Criteria, name)
		}
	}

	isolates, err := collectIsolates(organismName, culture, susceptibility, opts)
	if err != nil {
		return nil, err
	}

	// agent -> group lookup and the deterministic column layout
	agentGroup := map[string]string{}
	groups := make([]string, 0, len(cfg.AntimicrobialGroups))
	for g := range cfg.AntimicrobialGroups {
		groups = append(groups, g)
	}
	sort.Strings(groups)
	var agents []string
	for _, g := range groups {
		for _, a := range cfg.AntimicrobialGroups[g] {
			agentGroup[a] = g
			agents = append(agents, a)
		}
	}
	sort.Strings(agents)
	defNames := make([]string, 0, len(cfg.ResistanceDefinitions))
	for name := range cfg.ResistanceDefinitions {
		defNames = append(defNames, name)
	}
	sort.Strings(defNames)

	columns := []string{"hospitalization_id", "organism_id", "organism_category"}
	columns = append(columns, agents...)
	columns = append(columns, groups...)
	for _, name := range defNames {
		columns = append(columns, cfg.ResistanceDefinitions[name].ColumnName)
	}
	out := table.NewFrame(columns)

	flagged := 0
	for _, iso := range isolates {
		row := make([]any, len(columns))
		row[0] = iso.hospitalizationID
		row[1] = iso.organismID
		row[2] = iso.organismCategory

		resistantGroups := map[string]bool{}
		testedGroups := map[string]bool{}
		testedAgents := map[string]bool{}
		resistantAgents := map[string]bool{}
		for agent, category := range iso.susceptibilities {
			if category == "NA" {
				continue
			}
			testedAgents[agent] = true
			group, inGroup := agentGroup[agent]
			if inGroup {
				testedGroups[group] = true
			}
			if utils.MemberString(category, cfg.ResistantCategories) {
				resistantAgents[agent] = true
				if inGroup {
					resistantGroups[group] = true
				}
			}
		}

		for i, agent := range agents {
			if category, ok := iso.susceptibilities[agent]; ok {
				row[3+i] = category
			}
		}
		for i, g := range groups {
			row[3+len(agents)+i] = boolBinary(resistantGroups[g])
		}
		rowFlagged := false
		for i, name := range defNames {
			def := cfg.ResistanceDefinitions[name]
			set := evaluateCriterion(def, resistantGroups, testedGroups, testedAgents, resistantAgents)
			row[3+len(agents)+len(groups)+i] = boolBinary(set)
			rowFlagged = rowFlagged || set
		}
		if rowFlagged {
			flagged++
		}
		out.AppendRow(row)
	}
	log.WithFields(logrus.Fields{
		"organism": organismName,
		"isolates": len(isolates),
		"flagged":  flagged,
	}).Info("calculated mdro flags")
	return out, nil
}

func boolBinary(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func collectIsolates(organismName string, culture, susceptibility *table.Frame, opts *Options) ([]isolate, error) {
	oc := culture.Col("organism_id")
	hc := culture.Col("hospitalization_id")
	cc := culture.Col("organism_category")
	if oc < 0 || hc < 0 || cc < 0 {
		return nil, ErrMissingColumns
	}
	var cohort map[string]bool
	if opts != nil && len(opts.HospitalizationIDs) > 0 {
		cohort = map[string]bool{}
		for _, id := range opts.HospitalizationIDs {
			cohort[id] = true
		}
	}

	byOrganismID := map[string]*isolate{}
	var order []string
	for _, row := range culture.Rows {
		category, _ := row[cc].(string)
		if category != organismName {
			continue
		}
		hospID, _ := row[hc].(string)
		if cohort != nil && !cohort[hospID] {
			continue
		}
		organismID, _ := row[oc].(string)
		if _, ok := byOrganismID[organismID]; !ok {
			byOrganismID[organismID] = &isolate{
				hospitalizationID: hospID,
				organismID:        organismID,
				organismCategory:  category,
				susceptibilities:  map[string]string{},
			}
			order = append(order, organismID)
		}
	}

	if susceptibility != nil {
		so := susceptibility.Col("organism_id")
		sa := susceptibility.Col("antimicrobial_category")
		sc := susceptibility.Col("susceptibility_category")
		if so < 0 || sa < 0 || sc < 0 {
			return nil, ErrMissingColumns
		}
		for _, row := range susceptibility.Rows {
			organismID, _ := row[so].(string)
			iso, ok := byOrganismID[organismID]
			if !ok {
				continue
			}
			agent, _ := row[sa].(string)
			category, _ := row[sc].(string)
			if agent == "" || category == "" {
				continue
			}
			// most-resistant wins on duplicate testing
			if prev, ok := iso.susceptibilities[agent]; ok {
				if susceptibilityRank[category] < susceptibilityRank[prev] {
					iso.susceptibilities[agent] = category
				}
			} else {
				iso.susceptibilities[agent] = category
			}
		}
	}

	sort.Strings(order)
	isolates := make([]isolate, 0, len(order))
	for _, id := range order {
		isolates = append(isolates, *byOrganismID[id])
	}
	return isolates, nil
}

func evaluateCriterion(def ResistanceDefinition, resistantGroups, testedGroups,
	testedAgents, resistantAgents map[string]bool) bool {
	switch def.Criteria {
	case CriterionMinGroupsResistant:
		return len(resistantGroups) >= def.MinGroups
	case CriterionMaxGroupsSusceptible:
		if len(testedGroups) == 0 {
			return false
		}
		return len(resistantGroups) >= len(testedGroups)-def.MaxGroupsSusceptible
	case CriterionAllTestedResistant:
		if len(testedAgents) == 0 {
			return false
		}
		for agent := range testedAgents {
			if !resistantAgents[agent] {
				return false
			}
		}
		return true
	case CriterionSpecificAgentsResistant:
		tested := 0
		for _, agent := range def.RequiredAgents {
			if !testedAgents[agent] {
				continue
			}
			tested++
			if !resistantAgents[agent] {
				return false
			}
		}
		return tested > 0
	}
	return false
}
