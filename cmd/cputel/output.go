// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"golang.org/x/term"

	"github.com/bureau-foundation/cputel/lib/sensor"
)

// format selects how readings are printed after each cycle.
type format string

const (
	formatAuto format = "auto"
	formatText format = "text"
	formatJSON format = "json"
	formatNone format = "none"
)

// resolveFormat maps auto to text on a terminal and JSON lines
// otherwise.
func resolveFormat(name string, output *os.File) (format, error) {
	switch f := format(name); f {
	case "", formatAuto:
		if term.IsTerminal(int(output.Fd())) {
			return formatText, nil
		}
		return formatJSON, nil
	case formatText, formatJSON, formatNone:
		return f, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want auto, text, json, or none)", name)
	}
}

// cycleRecord is one JSON line.
type cycleRecord struct {
	Cycle    int              `json:"cycle"`
	Time     time.Time        `json:"time"`
	Revision string           `json:"revision"`
	Readings []sensor.Reading `json:"readings"`
}

type printer struct {
	format   format
	writer   io.Writer
	revision string
}

// print writes the active readings of one cycle.
func (p *printer) print(cycle int, at time.Time, readings []sensor.Reading) error {
	active := make([]sensor.Reading, 0, len(readings))
	for _, reading := range readings {
		if reading.Active {
			active = append(active, reading)
		}
	}

	switch p.format {
	case formatNone:
		return nil
	case formatJSON:
		data, err := json.Marshal(cycleRecord{Cycle: cycle, Time: at.UTC(), Revision: p.revision, Readings: active})
		if err != nil {
			return fmt.Errorf("encoding cycle %d: %w", cycle, err)
		}
		_, err = p.writer.Write(append(data, '\n'))
		return err
	default:
		fmt.Fprintf(p.writer, "%s  cycle %d  %s\n", p.revision, cycle, at.Format(time.TimeOnly))
		writer := tabwriter.NewWriter(p.writer, 2, 0, 3, ' ', 0)
		fmt.Fprintf(writer, "  SENSOR\tTYPE\tVALUE\n")
		for _, reading := range active {
			fmt.Fprintf(writer, "  %s\t%s\t%s %s\n",
				reading.Name, reading.Category, formatValue(reading), reading.Unit())
		}
		if err := writer.Flush(); err != nil {
			return err
		}
		_, err := fmt.Fprintln(p.writer)
		return err
	}
}

// formatValue rounds a reading to the precision its category is
// meaningful at.
func formatValue(reading sensor.Reading) string {
	precision := 2
	switch reading.Category {
	case sensor.Temperature:
		precision = 1
	case sensor.Voltage:
		precision = 3
	case sensor.Clock:
		precision = 0
	}
	return strconv.FormatFloat(reading.Value, 'f', precision, 64)
}
