// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package promexport

import (
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bureau-foundation/cputel/lib/sensor"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCollectorGathersActiveReadings(t *testing.T) {
	set := sensor.NewSet()
	set.Publish("Core (Tctl/Tdie)", sensor.Temperature, 48.25)
	set.Publish("Package", sensor.Power, 31.5)
	set.Publish("Core #1", sensor.Clock, 3600)
	set.Publish("Core #1", sensor.Factor, 36)
	set.Register("SoC (SVI2 TFN)", sensor.Voltage)

	registry := prometheus.NewRegistry()
	if err := registry.Register(NewCollector(set, discardLogger())); err != nil {
		t.Fatalf("Register: %v", err)
	}
	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}

	got := make(map[string]float64)
	for _, family := range families {
		for _, metric := range family.GetMetric() {
			label := ""
			for _, pair := range metric.GetLabel() {
				if pair.GetName() == "sensor" {
					label = pair.GetValue()
				}
			}
			got[family.GetName()+"/"+label] = metric.GetGauge().GetValue()
		}
	}

	want := map[string]float64{
		"cputel_temperature_celsius/Core (Tctl/Tdie)": 48.25,
		"cputel_power_watts/Package":                  31.5,
		"cputel_clock_megahertz/Core #1":              3600,
		"cputel_factor_ratio/Core #1":                 36,
	}
	if len(got) != len(want) {
		t.Errorf("gathered %d series, want %d: %v", len(got), len(want), got)
	}
	for key, value := range want {
		if got[key] != value {
			t.Errorf("%s = %v, want %v", key, got[key], value)
		}
	}
	if _, ok := got["cputel_voltage_volts/SoC (SVI2 TFN)"]; ok {
		t.Error("inactive reading was exported")
	}
}

func TestCollectorReadsLatestValues(t *testing.T) {
	set := sensor.NewSet()
	set.Publish("Package", sensor.Power, 10)

	registry := prometheus.NewRegistry()
	registry.MustRegister(NewCollector(set, discardLogger()))

	set.Publish("Package", sensor.Power, 20)
	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if len(families) != 1 {
		t.Fatalf("len(families) = %d, want 1", len(families))
	}
	if got := families[0].GetMetric()[0].GetGauge().GetValue(); got != 20 {
		t.Errorf("gauge = %v, want 20", got)
	}
}

func TestHandlerServesText(t *testing.T) {
	set := sensor.NewSet()
	set.Publish("Bus Speed", sensor.Clock, 99.8)

	handler, err := Handler(set, discardLogger())
	if err != nil {
		t.Fatalf("Handler: %v", err)
	}
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest("GET", "/metrics", nil))

	body := recorder.Body.String()
	if !strings.Contains(body, `cputel_clock_megahertz{sensor="Bus Speed"} 99.8`) {
		t.Errorf("response body missing bus speed series:\n%s", body)
	}
}
