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

// Package config resolves the toolkit configuration. A Config is the single
// source of the data directory, input file type, timezone, and output
// directory; every other component receives these values through a table
// object or the orchestrator.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// maxYAMLFileSize caps config documents read from disk (1MB).
const maxYAMLFileSize = 1024 * 1024

// DefaultFallbackWeightKG is the weight assumed by the dose-unit converter
// when no weight measurement can be resolved and the caller opted into the
// fallback.
const DefaultFallbackWeightKG = 80.0

// Supported input file types.
const (
	FiletypeCSV     = "csv"
	FiletypeParquet = "parquet"
)

var (
	ErrMissingField    = errors.New("config: missing required field")
	ErrInvalidFiletype = errors.New("config: filetype must be csv or parquet")
	ErrInvalidTimezone = errors.New("config: invalid IANA timezone")
)

// Config holds the resolved toolkit configuration.
type Config struct {
	DataDirectory    string  `yaml:"data_directory"`
	Filetype         string  `yaml:"filetype"`
	Timezone         string  `yaml:"timezone"`
	OutputDirectory  string  `yaml:"output_directory"`
	FallbackWeightKG float64 `yaml:"fallback_weight_kg"`

	loc *time.Location
}

// FromFile builds a Config from a YAML file.
func FromFile(path string) (*Config, error) {
	cfg, err := readFile(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.finalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// New builds a Config from explicit arguments.
func New(dataDirectory, filetype, timezone, outputDirectory string) (*Config, error) {
	cfg := &Config{
		DataDirectory:   dataDirectory,
		Filetype:        filetype,
		Timezone:        timezone,
		OutputDirectory: outputDirectory,
	}
	if err := cfg.finalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Resolve merges a YAML file with explicit arguments. Non-empty arguments
// override file values. Either source may be absent, but the merged result
// must be complete.
func Resolve(path, dataDirectory, filetype, timezone, outputDirectory string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		fromFile, err := readFile(path)
		if err != nil {
			return nil, err
		}
		cfg = fromFile
	}
	if dataDirectory != "" {
		cfg.DataDirectory = dataDirectory
	}
	if filetype != "" {
		cfg.Filetype = filetype
	}
	if timezone != "" {
		cfg.Timezone = timezone
	}
	if outputDirectory != "" {
		cfg.OutputDirectory = outputDirectory
	}
	if err := cfg.finalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func readFile(path string) (*Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("config: cannot read %s: %w", path, err)
	}
	if info.Size() > maxYAMLFileSize {
		return nil, fmt.Errorf("config: %s exceeds maximum size of %d bytes", path, maxYAMLFileSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: cannot read %s: %w", path, err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: cannot parse %s: %w", path, err)
	}
	return cfg, nil
}

// finalize validates required fields, applies defaults, and creates the
// output directory.
func (cfg *Config) finalize() error {
	if cfg.DataDirectory == "" {
		return fmt.Errorf("%w: data_directory", ErrMissingField)
	}
	if cfg.Filetype == "" {
		return fmt.Errorf("%w: filetype", ErrMissingField)
	}
	if cfg.Filetype != FiletypeCSV && cfg.Filetype != FiletypeParquet {
		return fmt.Errorf("%w: got %q", ErrInvalidFiletype, cfg.Filetype)
	}
	if cfg.Timezone == "" {
		return fmt.Errorf("%w: timezone", ErrMissingField)
	}
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidTimezone, cfg.Timezone)
	}
	cfg.loc = loc
	if cfg.OutputDirectory == "" {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("config: cannot determine working directory: %w", err)
		}
		cfg.OutputDirectory = filepath.Join(wd, "output")
	}
	if err := os.MkdirAll(cfg.OutputDirectory, 0700); err != nil {
		return fmt.Errorf("config: cannot create output directory: %w", err)
	}
	if cfg.FallbackWeightKG <= 0 {
		cfg.FallbackWeightKG = DefaultFallbackWeightKG
	}
	return nil
}

// Location returns the resolved IANA timezone.
func (cfg *Config) Location() *time.Location {
	if cfg.loc == nil {
		loc, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			panic(fmt.Sprint("config: timezone not resolved: ", cfg.Timezone))
		}
		cfg.loc = loc
	}
	return cfg.loc
}

// TablePath returns the expected path of a table file under the data
// directory.
func (cfg *Config) TablePath(tableName string) string {
	return filepath.Join(cfg.DataDirectory, fmt.Sprintf("clif_%s.%s", tableName, cfg.Filetype))
}
