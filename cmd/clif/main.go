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

package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/Common-Longitudinal-ICU-data-Format/clifpy-sub001/app"
	"github.com/Common-Longitudinal-ICU-data-Format/clifpy-sub001/schema"
	"github.com/Common-Longitudinal-ICU-data-Format/clifpy-sub001/table"
)

/*
Clif validates CLIF table files and writes the validation artifacts.

Usage:
	clif configFile [flags]

Example:
	clif ./config.yaml --tables hospitalization,adt,vitals,labs --sampleSize 10000

The flags are:

--tables t1,t2,...
	The tables to load and validate. Defaults to every table of the
	catalogue that has a file in the data directory.
--sampleSize nr
	Validate a deterministic random sample of nr rows per table instead of
	the full file.
--nrOfThreads nr
	The number of threads to use for loading and validation.
*/

const (
	programVersion = 0.1
	programName    = "clif"
)

func programMessage() string {
	return fmt.Sprint(programName, " version ", programVersion, " compiled with ", runtime.Version())
}

const clifHelp = "\nclif parameters:\n" +
	"clif configFile\n" +
	"[--tables t1,t2,...]\n" +
	"[--sampleSize nr]\n" +
	"[--nrOfThreads nr]\n"

func parseFlags(flags flag.FlagSet, requiredArgs int, help string) {
	if len(os.Args) < requiredArgs {
		fmt.Fprintln(os.Stderr, "Incorrect number of parameters.")
		fmt.Fprint(os.Stderr, help)
		os.Exit(1)
	}
	flags.SetOutput(io.Discard)
	if err := flags.Parse(os.Args[requiredArgs:]); err != nil {
		x := 0
		if err != flag.ErrHelp {
			fmt.Fprint(os.Stderr, err)
		}
		fmt.Fprint(os.Stderr, help)
		os.Exit(x)
	}
	if flags.NArg() > 0 {
		fmt.Fprint(os.Stderr, "Cannot parse remaining parameters:", flags.Args())
		fmt.Fprint(os.Stderr, help)
		os.Exit(1)
	}
}

func main() {
	var tables string
	var sampleSize int
	var nrOfThreads int
	var flags flag.FlagSet

	flags.StringVar(&tables, "tables", "", "Comma-separated list of tables to load and validate.")
	flags.IntVar(&sampleSize, "sampleSize", 0, "Validate a random sample of this many rows per table.")
	flags.IntVar(&nrOfThreads, "nrOfThreads", 0, "The number of threads clif uses.")

	parseFlags(flags, 2, clifHelp)

	configPath := os.Args[1]
	switch configPath {
	case "-h", "--h", "-help", "--help":
		fmt.Fprint(os.Stderr, clifHelp)
		os.Exit(1)
	}

	if nrOfThreads > 0 {
		runtime.GOMAXPROCS(nrOfThreads)
	}

	fmt.Println(programMessage())
	co, err := app.NewFromFile(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	var tableNames []string
	if tables != "" {
		for _, t := range strings.Split(tables, ",") {
			tableNames = append(tableNames, strings.Trim(t, " "))
		}
	} else {
		tableNames = schema.TableNames()
	}

	var opts *table.Options
	if sampleSize > 0 {
		opts = &table.Options{SampleSize: sampleSize}
	}
	if err := co.Initialize(tableNames, opts); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	for name, loadErr := range co.LoadErrors() {
		fmt.Fprintln(os.Stderr, "skipped ", name, ": ", loadErr)
	}
	if len(co.TableNames()) == 0 {
		fmt.Fprintln(os.Stderr, "no tables could be loaded")
		os.Exit(1)
	}

	report, err := co.ValidateAll()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	for _, name := range co.TableNames() {
		fmt.Println(name, ": ", len(report.Tables[name]), " validation errors")
	}
	fmt.Println("Validation artifacts written to: ", co.Config.OutputDirectory)
	if !report.Valid {
		os.Exit(2)
	}
}
