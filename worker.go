// Copyright (c) 2023–2026 The shutterbox developers. All rights reserved.
// Project site: https://github.com/MxKuna/shutterbox
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package shutterbox

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/Masterminds/semver"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

// FirmwareConstraint is the semver range of board firmware this driver is
// known to work with. A firmware outside the range is logged, not rejected:
// the protocol has been wire-compatible across minor revisions.
const FirmwareConstraint = "~1"

// closeJoinTimeout bounds how long Close waits for the poller goroutine.
const closeJoinTimeout = time.Second

// Worker owns one shutter controller board: the transport, the per-channel
// settings, the status cache, and the background poller. It is the
// process-side peer of the remote control surface; channel numbers at this
// boundary are 1-based.
type Worker struct {
	transport Transport
	settings  *settingsStore
	cache     *statusCache
	poller    *poller
	log       *logrus.Logger

	pollInterval time.Duration
	fwVersion    string

	// connected is read by status callers on other goroutines while Close
	// clears it, so it lives outside the cache lock as an atomic.
	connected atomic.Bool

	// onStatus, when set, receives the full status map after every
	// successful poll cycle (the publish half of the status bridge).
	onStatus func(map[string]interface{})
}

// WorkerOption applies an option to a Worker.
type WorkerOption func(*Worker)

// WithPollInterval sets the background poll period.
func WithPollInterval(d time.Duration) WorkerOption {
	return func(w *Worker) { w.pollInterval = d }
}

// WithWorkerLogger routes worker diagnostics to log.
func WithWorkerLogger(log *logrus.Logger) WorkerOption {
	return func(w *Worker) { w.log = log }
}

// WithStatusListener registers a callback invoked with the status map after
// every successful poll cycle.
func WithStatusListener(fn func(map[string]interface{})) WorkerOption {
	return func(w *Worker) { w.onStatus = fn }
}

// WithChannelSettings seeds the settings of one channel (0-based index) at
// construction, typically from configuration.
func WithChannelSettings(channel int, u SettingsUpdate) WorkerOption {
	return func(w *Worker) {
		if validChannel(channel) {
			w.settings.update(channel, u)
		}
	}
}

// NewWorker builds a worker over an open transport and starts the background
// poller. The transport is probed with a ping; on the protocols that report
// a firmware version it is checked against FirmwareConstraint.
func NewWorker(t Transport, opts ...WorkerOption) (*Worker, error) {
	w := &Worker{
		transport:    t,
		settings:     newSettingsStore(),
		cache:        &statusCache{},
		log:          logrus.StandardLogger(),
		pollInterval: DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(w)
	}

	version, err := t.Ping()
	if err != nil {
		return nil, fmt.Errorf("probing device: %w", err)
	}
	w.fwVersion = version
	w.connected.Store(true)
	w.checkFirmware(version)

	// Seed the cache so status is meaningful before the first poll tick.
	if positions, err := t.Positions(); err == nil {
		w.cache.replaceAll(positions)
	}

	w.poller = newPoller(t, w.cache, w.pollInterval, w.log)
	w.poller.onUpdate = func([NumChannels]int) {
		if w.onStatus != nil {
			w.onStatus(w.Status())
		}
	}
	w.poller.start()
	return w, nil
}

func (w *Worker) checkFirmware(version string) {
	if version == "" {
		return // legacy protocols have no version query
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		w.log.Warnf("unparseable firmware version %q", version)
		return
	}
	c, err := semver.NewConstraint(FirmwareConstraint)
	if err != nil {
		return
	}
	if !c.Check(v) {
		w.log.Warnf("firmware %s outside supported range %s", version, FirmwareConstraint)
	}
	w.log.Infof("shutter board firmware %s", version)
}

// channelIndex converts a public 1-based channel number to the internal
// 0-based index, rejecting out-of-range values before any I/O.
func channelIndex(channel int) (int, error) {
	if channel < 1 || channel > NumChannels {
		return 0, RangeError{Channel: channel}
	}
	return channel - 1, nil
}

// Move drives each listed channel to the action's target position. The first
// channel validation or transport failure aborts the remainder.
func (w *Worker) Move(action Action, channels ...int) error {
	for _, ch := range channels {
		idx, err := channelIndex(ch)
		if err != nil {
			return err
		}
		target, err := w.settings.get(idx).Target(action)
		if err != nil {
			return err
		}
		target = clampPulse(target)
		if err := w.transport.SetPosition(idx, target); err != nil {
			return fmt.Errorf("channel %d: %w", ch, err)
		}
		// The firmware reports commanded positions, so the cache can
		// reflect the move immediately; polling corroborates it later.
		w.cache.setOne(idx, target)
	}
	return nil
}

// MoveStepped ramps each listed channel to the action's target using the
// channel's configured step size and delay. The ramp runs on the board.
func (w *Worker) MoveStepped(action Action, channels ...int) error {
	for _, ch := range channels {
		idx, err := channelIndex(ch)
		if err != nil {
			return err
		}
		s := w.settings.get(idx)
		target, err := s.Target(action)
		if err != nil {
			return err
		}
		if err := w.transport.MoveStepped(idx, DegreesForPulse(clampPulse(target)), s.StepSizeDeg, s.StepDelay); err != nil {
			return fmt.Errorf("channel %d: %w", ch, err)
		}
	}
	return nil
}

// StopMove aborts in-progress stepped moves on the listed channels.
func (w *Worker) StopMove(channels ...int) error {
	for _, ch := range channels {
		idx, err := channelIndex(ch)
		if err != nil {
			return err
		}
		if err := w.transport.Stop(idx); err != nil {
			return fmt.Errorf("channel %d: %w", ch, err)
		}
	}
	return nil
}

// State reports whether a channel is open: cached position above the
// closed/open midpoint. Only range errors surface; an unpolled cache reads
// as closed, keeping remote callers responsive.
func (w *Worker) State(channel int) (bool, error) {
	idx, err := channelIndex(channel)
	if err != nil {
		return false, err
	}
	positions, valid, _ := w.cache.snapshot()
	if !valid {
		return false, nil
	}
	return positions[idx] > w.settings.get(idx).Midpoint(), nil
}

// Position reports the cached pulse width of a channel.
func (w *Worker) Position(channel int) (int, error) {
	idx, err := channelIndex(channel)
	if err != nil {
		return 0, err
	}
	positions, _, _ := w.cache.snapshot()
	return positions[idx], nil
}

// Status builds the status map published to remote listeners: per channel
// openN and positionN, plus connectivity. Reads only the cache, never the
// transport.
func (w *Worker) Status() map[string]interface{} {
	positions, valid, at := w.cache.snapshot()
	d := map[string]interface{}{
		"connected": w.connected.Load(),
	}
	if valid {
		d["updated_at"] = at
	}
	for idx := 0; idx < NumChannels; idx++ {
		ch := idx + 1
		open := valid && positions[idx] > w.settings.get(idx).Midpoint()
		d[fmt.Sprintf("open%d", ch)] = open
		d[fmt.Sprintf("position%d", ch)] = positions[idx]
	}
	return d
}

// GetSettings returns a copy of a channel's settings.
func (w *Worker) GetSettings(channel int) (Settings, error) {
	idx, err := channelIndex(channel)
	if err != nil {
		return Settings{}, err
	}
	return w.settings.get(idx), nil
}

// UpdateSettings applies the non-nil fields of u to a channel.
func (w *Worker) UpdateSettings(channel int, u SettingsUpdate) error {
	idx, err := channelIndex(channel)
	if err != nil {
		return err
	}
	w.settings.update(idx, u)
	return nil
}

// Connected reports whether the worker owns a live connection.
func (w *Worker) Connected() bool {
	return w.connected.Load()
}

// FirmwareVersion reports the version string from the connect handshake;
// empty on the legacy protocols.
func (w *Worker) FirmwareVersion() string {
	return w.fwVersion
}

// Close stops the poller and closes the transport, aggregating both
// failures. A poller that misses the join deadline is reported but does not
// prevent the transport from closing. Close may be called more than once;
// the deferred call in a main that already shut down cleanly is a no-op.
func (w *Worker) Close() error {
	var errs error
	w.connected.Store(false)
	if w.poller != nil {
		if !w.poller.stop(closeJoinTimeout) {
			errs = multierr.Append(errs, errors.New("poller did not stop within timeout"))
		}
	}
	errs = multierr.Append(errs, w.transport.Close())
	return errs
}
