// SPDX-License-Identifier: MIT
/*
Package driver schedules the analysis engine. It owns the engine for its
whole life: Advance, Reset and Snapshot are only ever called from the
goroutine running the driver. Other goroutines (terminal UI, UDP
publisher) see value copies through Latest and steer the engine through
the thread-safe SetSensitivity and RequestReset.
*/
package driver

import (
	"audioviz/internal/analysis"
	applog "audioviz/internal/log"
	"audioviz/internal/transport"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrInterval       = errors.New("tick interval must be positive")
	ErrNotExhaustible = errors.New("source has no natural end")
)

// Driver runs one engine step per tick and fans the snapshot out to sinks.
type Driver struct {
	engine   *analysis.Engine
	source   analysis.SignalSource
	interval time.Duration
	sinks    []transport.Transport

	latest         snapshotBuffer
	resetRequested atomic.Bool
	skipped        atomic.Uint64
	sinkErrors     uint64

	logger *applog.Logger
}

// snapshotBuffer is a mutex-guarded double buffer: the writer fills the
// back slot and flips, readers copy the front slot.
type snapshotBuffer struct {
	mu    sync.Mutex
	slots [2]analysis.Snapshot
	front int
}

func (b *snapshotBuffer) publish(s analysis.Snapshot) {
	b.mu.Lock()
	back := 1 - b.front
	b.slots[back] = s
	b.front = back
	b.mu.Unlock()
}

func (b *snapshotBuffer) load() analysis.Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.slots[b.front]
}

// New creates a driver for engine, which must have been built on source.
func New(engine *analysis.Engine, source analysis.SignalSource, interval time.Duration, sinks ...transport.Transport) (*Driver, error) {
	if engine == nil || source == nil {
		return nil, errors.New("driver: engine and source are required")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("%w: %v", ErrInterval, interval)
	}

	d := &Driver{
		engine:   engine,
		source:   source,
		interval: interval,
		sinks:    sinks,
		logger:   applog.New("driver"),
	}
	d.latest.publish(engine.Snapshot())
	return d, nil
}

// Interval returns the tick period.
func (d *Driver) Interval() time.Duration {
	return d.interval
}

// Latest returns a copy of the most recently published snapshot. Safe for
// concurrent use.
func (d *Driver) Latest() analysis.Snapshot {
	return d.latest.load()
}

// SetSensitivity changes the engine gain from any goroutine.
func (d *Driver) SetSensitivity(v float64) {
	d.engine.SetSensitivity(v)
}

// Sensitivity returns the engine gain.
func (d *Driver) Sensitivity() float64 {
	return d.engine.Sensitivity()
}

// RequestReset asks the driver to zero the engine state before the next
// step. Safe for concurrent use.
func (d *Driver) RequestReset() {
	d.resetRequested.Store(true)
}

// Skipped returns the number of ticks on which the source had no frame.
func (d *Driver) Skipped() uint64 {
	return d.skipped.Load()
}

// Step runs a single tick: pending reset, engine advance, publish. It
// returns false when the source had no frame.
func (d *Driver) Step() bool {
	if d.resetRequested.Swap(false) {
		d.engine.Reset()
		d.latest.publish(d.engine.Snapshot())
		d.logger.Infof("analysis state reset")
	}

	if !d.engine.Advance() {
		d.skipped.Add(1)
		return false
	}

	snap := d.engine.Snapshot()
	d.latest.publish(snap)

	for _, sink := range d.sinks {
		if err := sink.Send(snap); err != nil {
			d.sinkErrors++
			if d.sinkErrors == 1 || d.sinkErrors%100 == 0 {
				d.logger.Warnf("sink %T: %v (%d errors)", sink, err, d.sinkErrors)
			}
		}
	}
	return true
}

// exhausted reports whether the source has a natural end and reached it.
func (d *Driver) exhausted() bool {
	e, ok := d.source.(analysis.Exhaustible)
	return ok && e.Exhausted()
}

// Run steps the engine on every tick until ctx is cancelled or an
// exhaustible source runs dry.
func (d *Driver) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.logger.Infof("ticking every %v", d.interval)
	for {
		select {
		case <-ctx.Done():
			d.logger.Infof("stopped after %d ticks (%d skipped)", d.engine.Ticks(), d.Skipped())
			return nil
		case <-ticker.C:
			if !d.Step() && d.exhausted() {
				d.logger.Infof("source exhausted after %d ticks", d.engine.Ticks())
				return nil
			}
		}
	}
}

// Drain steps as fast as possible until an exhaustible source runs dry.
// It is the offline counterpart of Run.
func (d *Driver) Drain(ctx context.Context) error {
	if _, ok := d.source.(analysis.Exhaustible); !ok {
		return ErrNotExhaustible
	}

	for !d.exhausted() {
		if err := ctx.Err(); err != nil {
			return err
		}
		d.Step()
	}
	d.logger.Debugf("drained %d ticks", d.engine.Ticks())
	return nil
}

// Close closes every sink.
func (d *Driver) Close() error {
	var errs []error
	for _, sink := range d.sinks {
		if err := sink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %T: %w", sink, err))
		}
	}
	return errors.Join(errs...)
}

var _ transport.SnapshotProvider = (*Driver)(nil)
