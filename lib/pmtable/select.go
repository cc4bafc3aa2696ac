// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package pmtable

import (
	"strings"

	"github.com/bureau-foundation/cputel/lib/sensor"
)

// Weights score candidate field names. A field's score is the sum of
// the weights of the keywords its name contains, plus Exact when the
// name equals one of the keywords outright.
type Weights struct {
	// Die and Control score temperature fields containing "Tdie" and
	// "Tctl".
	Die     float64 `yaml:"die"`
	Control float64 `yaml:"control"`

	// Package, Socket and CPU score power fields.
	Package float64 `yaml:"package"`
	Socket  float64 `yaml:"socket"`
	CPU     float64 `yaml:"cpu"`

	Exact float64 `yaml:"exact"`
}

// DefaultWeights keeps the die temperature ahead of the control
// temperature and package power ahead of socket and CPU power.
func DefaultWeights() Weights {
	return Weights{
		Die:     2,
		Control: 1,
		Package: 3,
		Socket:  2,
		CPU:     1,
		Exact:   4,
	}
}

type keyword struct {
	text   string
	weight float64
}

func score(name string, keywords []keyword, exact float64) float64 {
	total := 0.0
	for _, k := range keywords {
		if strings.Contains(name, k.text) {
			total += k.weight
			if name == k.text {
				total += exact
			}
		}
	}
	return total
}

// best returns the highest-scoring field of category. Only positive
// scores qualify; ties keep the field listed first.
func best(layout Layout, category sensor.Category, keywords []keyword, exact float64) (Field, bool) {
	var (
		chosen    Field
		bestScore float64
		found     bool
	)
	for _, field := range layout.Fields {
		if field.Category != category {
			continue
		}
		s := score(field.Name, keywords, exact)
		if s > 0 && (!found || s > bestScore) {
			chosen, bestScore, found = field, s, true
		}
	}
	return chosen, found
}

// SelectTemperature picks the field standing in for the package die
// temperature.
func SelectTemperature(layout Layout, weights Weights) (Field, bool) {
	return best(layout, sensor.Temperature, []keyword{
		{"Tdie", weights.Die},
		{"Tctl", weights.Control},
	}, weights.Exact)
}

// SelectPackagePower picks the field standing in for package power.
func SelectPackagePower(layout Layout, weights Weights) (Field, bool) {
	return best(layout, sensor.Power, []keyword{
		{"Package", weights.Package},
		{"Socket", weights.Socket},
		{"CPU", weights.CPU},
	}, weights.Exact)
}
