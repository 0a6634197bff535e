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

// Package meds harmonises continuous-infusion dose units to a canonical
// base unit per medication category, resolving patient weight where the
// base is weight-normalised.
package meds

import "strings"

// Unit classes and subclasses.
const (
	ClassRate   = "rate"
	ClassAmount = "amount"

	SubclassMass   = "mass"
	SubclassVolume = "volume"
	SubclassUnit   = "unit"
)

// CleanUnit is a tokenised, normalised dose unit.
type CleanUnit struct {
	Clean  string // e.g. "mcg/kg/min"
	Amount string // canonical amount token: ng, mcg, mg, g, ml, l, mu, units
	PerKG  bool
	Time   string // "", "hr", "min"
	Known  bool
}

var amountSynonyms = map[string]string{
	"ng": "ng", "nanogram": "ng", "nanograms": "ng",
	"mcg": "mcg", "ug": "mcg", "µg": "mcg", "microgram": "mcg", "micrograms": "mcg",
	"mg": "mg", "milligram": "mg", "milligrams": "mg",
	"g": "g", "gm": "g", "gram": "g", "grams": "g",
	"ml": "ml", "cc": "ml", "milliliter": "ml", "milliliters": "ml",
	"l": "l", "liter": "l", "liters": "l",
	"u": "units", "unit": "units", "units": "units", "iu": "units",
	"mu": "mu", "milliunit": "mu", "milliunits": "mu", "milli-units": "mu",
}

var timeSynonyms = map[string]string{
	"hr": "hr", "h": "hr", "hour": "hr", "hours": "hr",
	"min": "min", "minute": "min", "minutes": "min",
}

var kgSynonyms = map[string]bool{"kg": true, "kilogram": true, "kilograms": true}

// amountSubclass classifies the canonical amount token.
var amountSubclass = map[string]string{
	"ng": SubclassMass, "mcg": SubclassMass, "mg": SubclassMass, "g": SubclassMass,
	"ml": SubclassVolume, "l": SubclassVolume,
	"units": SubclassUnit, "mu": SubclassUnit,
}

// amountScale expresses each amount token in its subclass's reference unit
// (mcg for mass, ml for volume, units for unit).
var amountScale = map[string]float64{
	"ng": 0.001, "mcg": 1, "mg": 1000, "g": 1e6,
	"ml": 1, "l": 1000,
	"units": 1, "mu": 0.001,
}

// NormalizeUnit tokenises a raw dose unit into its clean form. Unknown
// tokens yield Known=false with the best-effort clean rendering preserved.
func NormalizeUnit(raw string) CleanUnit {
	parts := strings.Split(strings.ToLower(strings.TrimSpace(raw)), "/")
	u := CleanUnit{Known: true}
	var cleanParts []string
	for i, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			u.Known = false
			continue
		}
		switch {
		case i == 0:
			if canonical, ok := amountSynonyms[p]; ok {
				u.Amount = canonical
				cleanParts = append(cleanParts, canonical)
			} else {
				u.Known = false
				cleanParts = append(cleanParts, p)
			}
		case kgSynonyms[p]:
			u.PerKG = true
			cleanParts = append(cleanParts, "kg")
		default:
			if canonical, ok := timeSynonyms[p]; ok {
				u.Time = canonical
				cleanParts = append(cleanParts, canonical)
			} else {
				u.Known = false
				cleanParts = append(cleanParts, p)
			}
		}
	}
	if u.Amount == "" {
		u.Known = false
	}
	u.Clean = strings.Join(cleanParts, "/")
	return u
}

// Class returns the (class, subclass) pair of the unit.
func (u CleanUnit) Class() (string, string, bool) {
	if !u.Known {
		return "", "", false
	}
	subclass, ok := amountSubclass[u.Amount]
	if !ok {
		return "", "", false
	}
	if u.Time != "" {
		return ClassRate, subclass, true
	}
	return ClassAmount, subclass, true
}

// BaseUnits is the canonical unit per medication category. Categories not
// listed pass through unconverted.
var BaseUnits = map[string]string{
	"norepinephrine":  "mcg/kg/min",
	"epinephrine":     "mcg/kg/min",
	"phenylephrine":   "mcg/kg/min",
	"dopamine":        "mcg/kg/min",
	"dobutamine":      "mcg/kg/min",
	"milrinone":       "mcg/kg/min",
	"isoproterenol":   "mcg/kg/min",
	"angiotensin":     "mcg/kg/min",
	"vasopressin":     "units/min",
	"propofol":        "mcg/kg/min",
	"dexmedetomidine": "mcg/kg/hr",
	"ketamine":        "mcg/kg/min",
	"fentanyl":        "mcg/hr",
	"midazolam":       "mg/hr",
	"hydromorphone":   "mg/hr",
	"morphine":        "mg/hr",
	"lorazepam":       "mg/hr",
	"pentobarbital":   "mg/kg/hr",
	"cisatracurium":   "mcg/kg/min",
	"vecuronium":      "mcg/kg/min",
	"rocuronium":      "mcg/kg/min",
	"insulin":         "units/hr",
	"heparin":         "units/hr",
	"argatroban":      "mcg/kg/min",
	"bivalirudin":     "mg/kg/hr",
	"nicardipine":     "mcg/kg/min",
	"nitroglycerin":   "mcg/min",
	"nitroprusside":   "mcg/kg/min",
	"esmolol":         "mcg/kg/min",
	"diltiazem":       "mg/hr",
	"amiodarone":      "mg/min",
	"lidocaine":       "mg/min",
	"procainamide":    "mg/min",
	"octreotide":      "mcg/hr",
	"aminophylline":   "mg/hr",
}

// conversionFactor computes the multiplier from a raw unit to a base unit
// sharing its (class, subclass). weight is required when exactly one side
// is weight-normalised; the boolean result reports whether weight was
// needed.
func conversionFactor(from, to CleanUnit, weightKG float64) (float64, bool) {
	factor := amountScale[from.Amount] / amountScale[to.Amount]
	if from.Time == "hr" && to.Time == "min" {
		factor /= 60
	}
	if from.Time == "min" && to.Time == "hr" {
		factor *= 60
	}
	needsWeight := from.PerKG != to.PerKG
	if from.PerKG && !to.PerKG {
		factor *= weightKG
	}
	if !from.PerKG && to.PerKG {
		factor /= weightKG
	}
	return factor, needsWeight
}
