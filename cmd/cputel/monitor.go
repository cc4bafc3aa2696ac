// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/bureau-foundation/cputel/lib/affinity"
	"github.com/bureau-foundation/cputel/lib/clock"
	"github.com/bureau-foundation/cputel/lib/config"
	"github.com/bureau-foundation/cputel/lib/hwaccess"
	"github.com/bureau-foundation/cputel/lib/hwaccess/devfs"
	"github.com/bureau-foundation/cputel/lib/hwaccess/replay"
	"github.com/bureau-foundation/cputel/lib/pmtable"
	"github.com/bureau-foundation/cputel/lib/sensor"
	"github.com/bureau-foundation/cputel/lib/sensor/promexport"
	"github.com/bureau-foundation/cputel/lib/session"
	"github.com/bureau-foundation/cputel/lib/topology"
	"github.com/bureau-foundation/cputel/lib/zen"
)

// hardware is an opened backend and everything the session needs
// from it.
type hardware struct {
	port     hwaccess.Port
	mailbox  hwaccess.Mailbox
	pinner   affinity.Pinner
	bus      affinity.BusLock
	clock    clock.Clock
	identity topology.Identity
	records  []topology.Record

	recorder *replay.Recorder
	player   *replay.Player
	devices  *devfs.Backend
}

// stamp returns the time printed with a cycle. It never reads the
// session clock, so printing cannot disturb a recording or replay.
func (h *hardware) stamp() time.Time {
	if h.player != nil {
		return h.player.Time()
	}
	return time.Now()
}

func (h *hardware) close() error {
	if h.devices != nil {
		return h.devices.Close()
	}
	return nil
}

func openHardware(cfg *config.Config, logger *slog.Logger) (*hardware, error) {
	if cfg.Backend == config.Replay {
		trace, err := replay.Load(cfg.Trace.Replay)
		if err != nil {
			return nil, err
		}
		player := replay.NewPlayer(trace)
		h := &hardware{
			port:     player,
			pinner:   player,
			bus:      affinity.Nop{},
			clock:    player.Clock(),
			identity: player.Identity(),
			records:  player.Records(),
			player:   player,
		}
		if player.HasMailbox() {
			h.mailbox = player
		}
		logger.Info("replaying trace", "path", cfg.Trace.Replay, "events", len(trace.Events))
		return h, nil
	}

	devices, err := devfs.Open(devfs.Options{
		Root:   cfg.Devfs.Root,
		SMUDir: cfg.Devfs.SMUDir,
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}
	records, err := devices.Records()
	if err != nil {
		devices.Close()
		return nil, fmt.Errorf("reading processor topology: %w", err)
	}
	h := &hardware{
		port:     devices,
		mailbox:  devices.Mailbox(),
		pinner:   affinity.OS(),
		bus:      affinity.Nop{},
		clock:    clock.Real(),
		identity: devices.Identity(),
		records:  records,
		devices:  devices,
	}
	if cfg.Bus.LockPath != "" {
		// The lock polls with its own real clock so that lock waits
		// never appear in a recording.
		mutex, err := affinity.NewFileMutex(cfg.Bus.LockPath, clock.Real())
		if err != nil {
			devices.Close()
			return nil, err
		}
		h.bus = mutex
	}

	if cfg.Trace.Record != "" {
		recorder := replay.NewRecorder(h.port, h.mailbox, h.pinner, h.clock)
		recorder.SetTopology(h.identity, h.records)
		h.port, h.pinner, h.clock = recorder, recorder, recorder.Clock()
		if h.mailbox != nil {
			h.mailbox = recorder
		}
		h.recorder = recorder
	}
	return h, nil
}

func engineOptions(cfg *config.Config) (zen.Options, error) {
	layouts, err := pmtable.Load(cfg.Table.Layouts)
	if err != nil {
		return zen.Options{}, err
	}
	return zen.Options{
		TSCMHz:           cfg.Decode.TSCMHz,
		EnergyUnitJoules: cfg.Decode.EnergyUnitJoules,
		MaxCounterRateHz: cfg.Decode.MaxCounterRateHz,
		MaxCCDCelsius:    cfg.Decode.MaxCCDCelsius,
		MaxCCDs:          cfg.Decode.MaxCCDs,
		Layouts:          layouts,
		Weights:          cfg.Table.Weights,
	}, nil
}

// monitor runs update cycles until the configured count is reached,
// the replayed trace runs out, or ctx is cancelled.
func monitor(ctx context.Context, cfg *config.Config, out *printer, logger *slog.Logger) (err error) {
	options, err := engineOptions(cfg)
	if err != nil {
		return err
	}
	h, err := openHardware(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, h.close())
	}()

	sess, err := session.Open(session.Config{
		Port:          h.port,
		Mailbox:       h.mailbox,
		Pinner:        h.pinner,
		Bus:           h.bus,
		Clock:         h.clock,
		Logger:        logger,
		ConfigTTL:     cfg.Cache.ConfigTTL,
		TableTTL:      cfg.Cache.TableTTL,
		TableCapacity: cfg.Cache.TableCapacity,
		BusTimeout:    cfg.Bus.Timeout,
	})
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, sess.Close())
	}()

	processor := topology.Build(h.records)
	engine, err := zen.New(sess, processor, h.identity, options, logger)
	if err != nil {
		return err
	}
	out.revision = engine.Revision().Name
	logger.Info("monitoring",
		"processor", h.identity.Name,
		"revision", engine.Revision().Name,
		"nodes", len(processor.Nodes),
		"cores", processor.CoreCount(),
		"threads", processor.ThreadCount(),
		"table", sess.HasMailbox(),
	)

	if cfg.Metrics.Listen != "" {
		_, shutdown, err := serveMetrics(cfg.Metrics.Listen, engine, logger)
		if err != nil {
			return err
		}
		defer shutdown()
	}

	if h.recorder != nil {
		defer func() {
			err = errors.Join(err, writeTrace(cfg, h.recorder, logger))
		}()
	}

	var ticks <-chan time.Time
	if h.player == nil {
		ticker := h.clock.NewTicker(cfg.Interval)
		defer ticker.Stop()
		ticks = ticker.C
	}

	for cycle := 1; ; cycle++ {
		engine.Update()
		if err := out.print(cycle, h.stamp(), engine.Readings()); err != nil {
			return fmt.Errorf("printing readings: %w", err)
		}
		if cfg.Cycles > 0 && cycle >= cfg.Cycles {
			return nil
		}
		if h.player != nil {
			if h.player.Done() {
				logger.Info("trace exhausted", "cycles", cycle, "events", h.player.Served())
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticks:
		}
	}
}

func writeTrace(cfg *config.Config, recorder *replay.Recorder, logger *slog.Logger) error {
	compression, err := replay.ParseCompression(cfg.Trace.Compression)
	if err != nil {
		return err
	}
	trace := recorder.Trace()
	if err := replay.WriteFile(cfg.Trace.Record, trace, compression); err != nil {
		return fmt.Errorf("writing trace: %w", err)
	}
	logger.Info("trace written", "path", cfg.Trace.Record, "events", len(trace.Events), "compression", compression)
	return nil
}

// serveMetrics serves /metrics on address until the returned function
// is called. It returns the bound address.
func serveMetrics(address string, source sensor.Source, logger *slog.Logger) (string, func(), error) {
	handler, err := promexport.Handler(source, logger)
	if err != nil {
		return "", nil, err
	}
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return "", nil, fmt.Errorf("metrics listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	bound := listener.Addr().String()
	logger.Info("serving metrics", "address", bound)

	return bound, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		server.Shutdown(ctx)
	}, nil
}
