// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package promexport

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bureau-foundation/cputel/lib/sensor"
)

const namespace = "cputel"

var metricNames = map[sensor.Category]struct{ name, help string }{
	sensor.Temperature: {"temperature_celsius", "Temperature reading in degrees Celsius."},
	sensor.Voltage:     {"voltage_volts", "Voltage reading in volts."},
	sensor.Power:       {"power_watts", "Power reading in watts."},
	sensor.Clock:       {"clock_megahertz", "Clock frequency reading in megahertz."},
	sensor.Factor:      {"factor_ratio", "Dimensionless ratio such as a core multiplier."},
	sensor.Current:     {"current_amperes", "Current reading in amperes."},
}

// Collector implements prometheus.Collector over a sensor source.
type Collector struct {
	source sensor.Source
	logger *slog.Logger
	descs  map[sensor.Category]*prometheus.Desc
}

// NewCollector returns a collector reading from source.
func NewCollector(source sensor.Source, logger *slog.Logger) *Collector {
	descs := make(map[sensor.Category]*prometheus.Desc, len(metricNames))
	for category, metric := range metricNames {
		descs[category] = prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", metric.name),
			metric.help,
			[]string{"sensor"},
			nil,
		)
	}
	return &Collector{
		source: source,
		logger: logger.With("component", "promexport"),
		descs:  descs,
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, category := range sensor.Categories {
		ch <- c.descs[category]
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, reading := range sensor.Active(c.source) {
		desc, ok := c.descs[reading.Category]
		if !ok {
			c.logger.Debug("skipping reading with unknown category",
				"sensor", reading.Name, "category", reading.Category)
			continue
		}
		ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, reading.Value, reading.Name)
	}
}

// Handler registers a collector for source on a fresh registry and
// returns the /metrics handler serving it.
func Handler(source sensor.Source, logger *slog.Logger) (http.Handler, error) {
	registry := prometheus.NewRegistry()
	if err := registry.Register(NewCollector(source, logger)); err != nil {
		return nil, err
	}
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), nil
}
