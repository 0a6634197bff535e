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

// Package schema holds the per-table specifications of the CLIF catalogue.
// The specs are embedded YAML documents; the registry is read-only at
// runtime.
package schema

import (
	_ "embed"
	"errors"
	"fmt"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed schemas.yaml
var schemasYAML []byte

var ErrUnknownTable = errors.New("schema: unknown table")

// Column data types.
type DataType string

const (
	Varchar  DataType = "VARCHAR"
	Datetime DataType = "DATETIME"
	Double   DataType = "DOUBLE"
	Int      DataType = "INT"
	Bool     DataType = "BOOL"
)

// Column describes one column of a table spec.
type Column struct {
	Name              string   `yaml:"name"`
	DataType          DataType `yaml:"data_type"`
	Required          bool     `yaml:"required"`
	IsCategoryColumn  bool     `yaml:"is_category_column"`
	IsGroupColumn     bool     `yaml:"is_group_column"`
	PermissibleValues []string `yaml:"permissible_values"`
}

// Range is a numeric plausibility range for a clinical variable.
type Range struct {
	Lo float64 `yaml:"lo"`
	Hi float64 `yaml:"hi"`
}

// TableSchema is the typed schema record for one table.
type TableSchema struct {
	TableName         string            `yaml:"table_name"`
	Columns           []Column          `yaml:"columns"`
	CompositeKeys     []string          `yaml:"composite_keys"`
	VitalRanges       map[string]Range  `yaml:"vital_ranges"`
	LabRanges         map[string]Range  `yaml:"lab_ranges"`
	LabReferenceUnits map[string]string `yaml:"lab_reference_units"`
}

type registryDoc struct {
	Tables []*TableSchema `yaml:"tables"`
}

var (
	registryOnce sync.Once
	registry     map[string]*TableSchema
	registryErr  error
)

func loadRegistry() {
	doc := registryDoc{}
	if err := yaml.Unmarshal(schemasYAML, &doc); err != nil {
		registryErr = fmt.Errorf("schema: embedded registry is malformed: %w", err)
		return
	}
	registry = map[string]*TableSchema{}
	for _, t := range doc.Tables {
		if t.TableName == "" {
			registryErr = errors.New("schema: embedded registry contains a table without a name")
			return
		}
		registry[t.TableName] = t
	}
}

// Lookup returns the schema for a table name. Unknown names are a hard
// error.
func Lookup(name string) (*TableSchema, error) {
	registryOnce.Do(loadRegistry)
	if registryErr != nil {
		return nil, registryErr
	}
	t, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTable, name)
	}
	return t, nil
}

// TableNames lists all tables of the catalogue in sorted order.
func TableNames() []string {
	registryOnce.Do(loadRegistry)
	names := []string{}
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Column returns the column spec with the given name, or nil.
func (s *TableSchema) Column(name string) *Column {
	for i := range s.Columns {
		if s.Columns[i].Name == name {
			return &s.Columns[i]
		}
	}
	return nil
}

// RequiredColumns lists the names of all required columns.
func (s *TableSchema) RequiredColumns() []string {
	var names []string
	for _, c := range s.Columns {
		if c.Required {
			names = append(names, c.Name)
		}
	}
	return names
}

// CategoryColumns lists the names of all category columns.
func (s *TableSchema) CategoryColumns() []string {
	var names []string
	for _, c := range s.Columns {
		if c.IsCategoryColumn {
			names = append(names, c.Name)
		}
	}
	return names
}

// GroupColumns lists the names of all group columns.
func (s *TableSchema) GroupColumns() []string {
	var names []string
	for _, c := range s.Columns {
		if c.IsGroupColumn {
			names = append(names, c.Name)
		}
	}
	return names
}

// Ranges returns the plausibility ranges declared for this table, keyed by
// category value. Vitals and labs declare them; other tables return nil.
func (s *TableSchema) Ranges() map[string]Range {
	if len(s.VitalRanges) > 0 {
		return s.VitalRanges
	}
	if len(s.LabRanges) > 0 {
		return s.LabRanges
	}
	return nil
}
