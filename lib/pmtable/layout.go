// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package pmtable

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"math"
	"os"
	"slices"
	"strconv"

	"github.com/tidwall/jsonc"

	"github.com/bureau-foundation/cputel/lib/sensor"
)

//go:embed layouts.jsonc
var builtinLayouts []byte

// Field is one named word of the table.
type Field struct {
	Index    int             `json:"index"`
	Name     string          `json:"name"`
	Category sensor.Category `json:"category"`
	// Scale multiplies the decoded float. Zero in a layout file means 1.
	Scale float64 `json:"scale,omitempty"`
}

// Value decodes the field from a table snapshot. It reports false when
// the snapshot is too short to hold the field.
func (f Field) Value(words []uint32) (float64, bool) {
	if f.Index < 0 || f.Index >= len(words) {
		return 0, false
	}
	return float64(math.Float32frombits(words[f.Index])) * f.Scale, true
}

// Layout is the field map for one table version. Fields are ordered by
// index.
type Layout struct {
	Version     uint32
	Description string
	Fields      []Field
}

// Words returns the number of leading table words needed to decode
// every field.
func (l Layout) Words() int {
	words := 0
	for _, field := range l.Fields {
		words = max(words, field.Index+1)
	}
	return words
}

// Layouts indexes layouts by table version.
type Layouts map[uint32]Layout

// Lookup returns the layout for version.
func (l Layouts) Lookup(version uint32) (Layout, bool) {
	layout, ok := l[version]
	return layout, ok
}

// Merge returns a new set holding l with every version in override
// replacing or adding to it.
func (l Layouts) Merge(override Layouts) Layouts {
	merged := maps.Clone(l)
	if merged == nil {
		merged = make(Layouts, len(override))
	}
	maps.Copy(merged, override)
	return merged
}

// Versions returns the known versions in ascending order.
func (l Layouts) Versions() []uint32 {
	return slices.Sorted(maps.Keys(l))
}

type layoutDocument struct {
	Layouts []struct {
		// Version is a string so that hex notation ("0x380805")
		// reads naturally in the file.
		Version     string  `json:"version"`
		Description string  `json:"description"`
		Fields      []Field `json:"fields"`
	} `json:"layouts"`
}

// Parse strips JSONC comments and trailing commas from data and decodes
// a layout document.
func Parse(data []byte) (Layouts, error) {
	var document layoutDocument
	if err := json.Unmarshal(jsonc.ToJSON(data), &document); err != nil {
		return nil, fmt.Errorf("parsing table layouts: %w", err)
	}

	layouts := make(Layouts, len(document.Layouts))
	var errs []error
	for position, entry := range document.Layouts {
		version, err := strconv.ParseUint(entry.Version, 0, 32)
		if err != nil {
			errs = append(errs, fmt.Errorf("layout %d: version %q: %w", position, entry.Version, err))
			continue
		}
		if _, duplicate := layouts[uint32(version)]; duplicate {
			errs = append(errs, fmt.Errorf("layout %d: duplicate version %#x", position, version))
			continue
		}

		layout := Layout{Version: uint32(version), Description: entry.Description}
		seen := make(map[int]bool, len(entry.Fields))
		for _, field := range entry.Fields {
			if field.Scale == 0 {
				field.Scale = 1
			}
			if err := validateField(field); err != nil {
				errs = append(errs, fmt.Errorf("layout %#x: %w", version, err))
				continue
			}
			if seen[field.Index] {
				errs = append(errs, fmt.Errorf("layout %#x: index %d appears twice", version, field.Index))
				continue
			}
			seen[field.Index] = true
			layout.Fields = append(layout.Fields, field)
		}
		slices.SortFunc(layout.Fields, func(a, b Field) int { return a.Index - b.Index })
		layouts[layout.Version] = layout
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return layouts, nil
}

func validateField(field Field) error {
	if field.Index < 0 {
		return fmt.Errorf("field %q: negative index %d", field.Name, field.Index)
	}
	if field.Name == "" {
		return fmt.Errorf("field at index %d has no name", field.Index)
	}
	if _, err := sensor.ParseCategory(string(field.Category)); err != nil {
		return fmt.Errorf("field %q: %w", field.Name, err)
	}
	if math.IsNaN(field.Scale) || math.IsInf(field.Scale, 0) {
		return fmt.Errorf("field %q: scale %v is not finite", field.Name, field.Scale)
	}
	return nil
}

// ReadFile reads and parses a JSONC layout file.
func ReadFile(path string) (Layouts, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	layouts, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return layouts, nil
}

// Builtin returns the layouts compiled into the binary. An error here
// means the embedded file is broken.
func Builtin() (Layouts, error) {
	layouts, err := Parse(builtinLayouts)
	if err != nil {
		return nil, fmt.Errorf("embedded layouts: %w", err)
	}
	return layouts, nil
}

// Load returns the built-in layouts merged with the file at path. An
// empty path returns the built-in set alone.
func Load(path string) (Layouts, error) {
	layouts, err := Builtin()
	if err != nil {
		return nil, err
	}
	if path == "" {
		return layouts, nil
	}
	override, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	return layouts.Merge(override), nil
}
