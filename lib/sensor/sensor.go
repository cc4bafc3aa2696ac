// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sensor

import (
	"fmt"
	"sync"
)

// Category classifies a reading and fixes its unit.
type Category string

const (
	Temperature Category = "temperature"
	Voltage     Category = "voltage"
	Power       Category = "power"
	Clock       Category = "clock"
	Factor      Category = "factor"
	Current     Category = "current"
)

// Categories lists every category in display order.
var Categories = []Category{Temperature, Voltage, Power, Clock, Factor, Current}

// Unit returns the canonical unit symbol for values in the category.
func (c Category) Unit() string {
	switch c {
	case Temperature:
		return "°C"
	case Voltage:
		return "V"
	case Power:
		return "W"
	case Clock:
		return "MHz"
	case Factor:
		return "×"
	case Current:
		return "A"
	default:
		return ""
	}
}

// ParseCategory validates a category name.
func ParseCategory(name string) (Category, error) {
	for _, category := range Categories {
		if string(category) == name {
			return category, nil
		}
	}
	return "", fmt.Errorf("unknown sensor category %q", name)
}

// Reading is one published metric.
type Reading struct {
	Name     string   `json:"name"`
	Category Category `json:"category"`
	Value    float64  `json:"value"`
	// Active is false until a value has been computed at least once.
	Active bool `json:"active"`
}

// Unit returns the unit of the reading's value.
func (r Reading) Unit() string { return r.Category.Unit() }

// Source produces the current readings. [Set] implements it.
type Source interface {
	Readings() []Reading
}

type key struct {
	name     string
	category Category
}

// Set is a concurrency-safe collection of readings.
type Set struct {
	mu       sync.RWMutex
	order    []key
	readings map[key]*Reading
}

// NewSet returns an empty set.
func NewSet() *Set {
	return &Set{readings: make(map[key]*Reading)}
}

// Register adds an inactive reading if it does not exist yet.
func (s *Set) Register(name string, category Category) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookup(name, category)
}

// Publish stores value and marks the reading active, registering it
// first if needed.
func (s *Set) Publish(name string, category Category, value float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reading := s.lookup(name, category)
	reading.Value = value
	reading.Active = true
}

func (s *Set) lookup(name string, category Category) *Reading {
	k := key{name: name, category: category}
	reading, ok := s.readings[k]
	if !ok {
		reading = &Reading{Name: name, Category: category}
		s.readings[k] = reading
		s.order = append(s.order, k)
	}
	return reading
}

// Get returns the reading for (name, category).
func (s *Set) Get(name string, category Category) (Reading, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	reading, ok := s.readings[key{name: name, category: category}]
	if !ok {
		return Reading{}, false
	}
	return *reading, true
}

// Readings returns a copy of every reading in registration order.
func (s *Set) Readings() []Reading {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]Reading, 0, len(s.order))
	for _, k := range s.order {
		result = append(result, *s.readings[k])
	}
	return result
}

// Active returns only the active readings, in registration order.
func Active(source Source) []Reading {
	var result []Reading
	for _, reading := range source.Readings() {
		if reading.Active {
			result = append(result, reading)
		}
	}
	return result
}
