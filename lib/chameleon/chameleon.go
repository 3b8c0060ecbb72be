// Copyright (c) 2023–2026 The shutterbox developers. All rights reserved.
// Project site: https://github.com/MxKuna/shutterbox
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

// Package chameleon drives a Coherent Chameleon Ti:Sapphire laser over its
// RS-232 command set. The laser echoes every command before the value, so
// each reply is validated against its command; a missing echo usually means
// the laser's ECHO setting was turned off.
package chameleon

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/gotmc/query"
	"github.com/sirupsen/logrus"
)

const term = "\r\n"

// DefaultTimeout bounds one query exchange.
const DefaultTimeout = 2 * time.Second

// Status aggregates one full laser poll.
type Status struct {
	Keyswitch bool
	Busy      string
	Tuning    bool
	Lasing    bool

	Tunable BeamStatus
	Fixed   BeamStatus
}

// BeamStatus describes one of the two output beams.
type BeamStatus struct {
	Power       int
	ShutterOpen bool
	Align       bool
}

// Laser is a Chameleon driver over an open serial port. It satisfies
// query.Querier; exchanges are serialized on an internal lock.
type Laser struct {
	rw      io.ReadWriter
	mu      sync.Mutex
	timeout time.Duration
	log     *logrus.Logger
}

// Option configures a Laser.
type Option func(*Laser)

// WithTimeout sets the per-query deadline.
func WithTimeout(d time.Duration) Option {
	return func(l *Laser) { l.timeout = d }
}

// WithLogger routes driver diagnostics to log.
func WithLogger(log *logrus.Logger) Option {
	return func(l *Laser) { l.log = log }
}

// New verifies communication with the laser on rw and returns a driver.
func New(rw io.ReadWriter, opts ...Option) (*Laser, error) {
	l := &Laser{
		rw:      rw,
		timeout: DefaultTimeout,
		log:     logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	if _, err := l.Query("?L"); err != nil {
		return nil, fmt.Errorf("probing laser: %w", err)
	}
	l.log.Debug("chameleon link verified")
	return l, nil
}

// Query sends one command and returns the reply with the command echo
// stripped. Implements query.Querier.
func (l *Laser) Query(cmd string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if f, ok := l.rw.(interface{ ResetInputBuffer() error }); ok {
		_ = f.ResetInputBuffer()
	}
	if _, err := io.WriteString(l.rw, cmd+term); err != nil {
		return "", fmt.Errorf("writing %q: %w", cmd, err)
	}
	line, err := l.readLine()
	if err != nil {
		return "", fmt.Errorf("reading reply to %q: %w", cmd, err)
	}
	if !strings.HasPrefix(line, cmd) {
		return "", fmt.Errorf("reply %q does not echo %q (laser ECHO off?)", line, cmd)
	}
	return strings.TrimSpace(line[len(cmd):]), nil
}

// readLine accumulates bytes until the CR-LF terminator or the deadline.
func (l *Laser) readLine() (string, error) {
	deadline := time.Now().Add(l.timeout)
	var buf []byte
	chunk := make([]byte, 1)
	for {
		if n := len(buf); n >= 2 && string(buf[n-2:]) == term {
			return string(buf[:n-2]), nil
		}
		if time.Now().After(deadline) {
			return "", fmt.Errorf("no terminator within %v (got %q)", l.timeout, buf)
		}
		n, err := l.rw.Read(chunk)
		if err != nil && err != io.EOF {
			return "", err
		}
		buf = append(buf, chunk[:n]...)
		if err == io.EOF && n == 0 {
			return "", fmt.Errorf("stream ended without terminator (got %q)", buf)
		}
	}
}

func (l *Laser) set(cmd string) error {
	_, err := l.Query(cmd)
	return err
}

// Wavelength reports the tunable beam wavelength in nm.
func (l *Laser) Wavelength() (int, error) {
	return query.Int(l, "?VW")
}

// SetWavelength tunes the tunable beam to nm.
func (l *Laser) SetWavelength(nm int) error {
	return l.set(fmt.Sprintf("WV=%d", nm))
}

// Lasing reports whether the laser is emitting.
func (l *Laser) Lasing() (bool, error) {
	return query.Bool(l, "?L")
}

// SetLasing turns emission on or off.
func (l *Laser) SetLasing(on bool) error {
	return l.set(onOff("L", on))
}

// OpenTunableShutter opens or closes the tunable beam shutter.
func (l *Laser) OpenTunableShutter(open bool) error {
	return l.set(onOff("SVAR", open))
}

// TunableShutterOpen reports the tunable beam shutter position.
func (l *Laser) TunableShutterOpen() (bool, error) {
	return query.Bool(l, "?SVAR")
}

// OpenFixedShutter opens or closes the fixed beam shutter.
func (l *Laser) OpenFixedShutter(open bool) error {
	return l.set(onOff("SFIXED", open))
}

// FixedShutterOpen reports the fixed beam shutter position.
func (l *Laser) FixedShutterOpen() (bool, error) {
	return query.Bool(l, "?SFIXED")
}

// TunablePower reports the tunable beam power in mW.
func (l *Laser) TunablePower() (int, error) {
	return query.Int(l, "?PVAR")
}

// FixedPower reports the fixed beam power in mW.
func (l *Laser) FixedPower() (int, error) {
	return query.Int(l, "?PFIXED")
}

// Busy reports the laser's operating state string.
func (l *Laser) Busy() (string, error) {
	return query.String(l, "?ST")
}

// Keyswitch reports whether the keyswitch is in the ON position.
func (l *Laser) Keyswitch() (bool, error) {
	return query.Bool(l, "?K")
}

// Tuning reports whether a wavelength tune is in progress.
func (l *Laser) Tuning() (bool, error) {
	return query.Bool(l, "?TS")
}

// TunableAlign reports whether the tunable beam is in alignment mode.
func (l *Laser) TunableAlign() (bool, error) {
	return query.Bool(l, "?ALIGNVAR")
}

// FixedAlign reports whether the fixed beam is in alignment mode.
func (l *Laser) FixedAlign() (bool, error) {
	return query.Bool(l, "?ALIGNFIXED")
}

// SetTunableAlign enables or disables tunable beam alignment mode.
func (l *Laser) SetTunableAlign(on bool) error {
	return l.set(onOff("ALIGNVAR", on))
}

// SetFixedAlign enables or disables fixed beam alignment mode.
func (l *Laser) SetFixedAlign(on bool) error {
	return l.set(onOff("ALIGNFIXED", on))
}

// Status polls the full laser state. The first failed query aborts the poll.
func (l *Laser) Status() (Status, error) {
	var s Status
	var err error

	if s.Keyswitch, err = l.Keyswitch(); err != nil {
		return s, err
	}
	if s.Busy, err = l.Busy(); err != nil {
		return s, err
	}
	if s.Tuning, err = l.Tuning(); err != nil {
		return s, err
	}
	if s.Lasing, err = l.Lasing(); err != nil {
		return s, err
	}

	if s.Tunable.Power, err = l.TunablePower(); err != nil {
		return s, err
	}
	if s.Tunable.ShutterOpen, err = l.TunableShutterOpen(); err != nil {
		return s, err
	}
	if s.Tunable.Align, err = l.TunableAlign(); err != nil {
		return s, err
	}

	if s.Fixed.Power, err = l.FixedPower(); err != nil {
		return s, err
	}
	if s.Fixed.ShutterOpen, err = l.FixedShutterOpen(); err != nil {
		return s, err
	}
	if s.Fixed.Align, err = l.FixedAlign(); err != nil {
		return s, err
	}
	return s, nil
}

func onOff(name string, on bool) string {
	if on {
		return name + "=1"
	}
	return name + "=0"
}
