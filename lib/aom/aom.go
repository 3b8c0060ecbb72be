// Copyright (c) 2023–2026 The shutterbox developers. All rights reserved.
// Project site: https://github.com/MxKuna/shutterbox
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

// Package aom drives the AA Opto four-channel AOM controller over its serial
// ASCII protocol. Commands are CR-terminated; the device answers with
// LF-CR-separated lines ending in a '?' prompt.
package aom

import (
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// NumChannels is the channel count of the QuadAOM hardware.
const NumChannels = 4

// Hardware limits from the controller datasheet.
const (
	MinFrequencyMHz = 85.0
	MaxFrequencyMHz = 135.0
	MaxPowerRaw     = 1023
	MaxPhase        = 16383
)

// DefaultTimeout bounds one command/reply exchange.
const DefaultTimeout = 2 * time.Second

var (
	probePattern = regexp.MustCompile(`^QR(\d+)\s+\n\r\?$`)
	linePattern  = regexp.MustCompile(`\n\rl(\d)\s+F=(\d+\.?\d*)\s+P=(-?\d+\.?\d*)\s+([A-Z]+)\s+([A-Z]+)`)
	blankPattern = regexp.MustCompile(`\n\rb(\d)\s+([A-Z]+)\s+([A-Z]+)`)
)

// ChannelStatus is the reported state of one AOM channel.
type ChannelStatus struct {
	FrequencyMHz    float64
	PowerDB         float64
	PowerOn         bool
	PowerControl    string // INT or EXT
	BlankingOn      bool
	BlankingControl string
}

// ChannelConfig is a partial channel update; nil fields are not sent.
type ChannelConfig struct {
	FrequencyMHz *float64
	PowerRaw     *int
	PowerDB      *float64
	Phase        *int
	Output       *bool
	InternalMode *bool
}

// BlankingConfig is a partial blanking update for one channel.
type BlankingConfig struct {
	On              *bool
	InternalControl *bool
}

// Controller is a QuadAOM driver over an open serial port. All exchanges are
// serialized on an internal lock.
type Controller struct {
	rw      io.ReadWriter
	mu      sync.Mutex
	timeout time.Duration
	log     *logrus.Logger
	id      string
}

// Option configures a Controller.
type Option func(*Controller)

// WithTimeout sets the per-exchange deadline.
func WithTimeout(d time.Duration) Option {
	return func(c *Controller) { c.timeout = d }
}

// WithLogger routes driver diagnostics to log.
func WithLogger(log *logrus.Logger) Option {
	return func(c *Controller) { c.log = log }
}

// New probes the device on rw and returns a driver for it. The probe reply
// carries the controller's numeric ID, available via ID afterwards.
func New(rw io.ReadWriter, opts ...Option) (*Controller, error) {
	c := &Controller{
		rw:      rw,
		timeout: DefaultTimeout,
		log:     logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}

	reply, err := c.exchange("q\r", true)
	if err != nil {
		return nil, fmt.Errorf("probing AOM controller: %w", err)
	}
	m := probePattern.FindStringSubmatch(reply)
	if m == nil {
		return nil, fmt.Errorf("unexpected probe reply %q", reply)
	}
	c.id = m[1]
	c.log.Infof("AOM controller ID %s", c.id)
	return c, nil
}

// ID reports the controller ID read during the probe.
func (c *Controller) ID() string { return c.id }

// Status queries all channels in one exchange.
func (c *Controller) Status() ([NumChannels]ChannelStatus, error) {
	var out [NumChannels]ChannelStatus

	reply, err := c.exchange("S", true)
	if err != nil {
		return out, err
	}

	lines := linePattern.FindAllStringSubmatch(reply, -1)
	blanks := blankPattern.FindAllStringSubmatch(reply, -1)
	if len(lines) != NumChannels || len(blanks) != NumChannels {
		return out, fmt.Errorf("malformed status reply %q", reply)
	}
	for _, m := range lines {
		ch, _ := strconv.Atoi(m[1])
		if ch < 1 || ch > NumChannels {
			return out, fmt.Errorf("status reply names channel %d", ch)
		}
		s := &out[ch-1]
		s.FrequencyMHz, _ = strconv.ParseFloat(m[2], 64)
		s.PowerDB, _ = strconv.ParseFloat(m[3], 64)
		s.PowerOn = m[4] == "ON"
		s.PowerControl = m[5]
	}
	for _, m := range blanks {
		ch, _ := strconv.Atoi(m[1])
		if ch < 1 || ch > NumChannels {
			return out, fmt.Errorf("status reply names channel %d", ch)
		}
		s := &out[ch-1]
		s.BlankingOn = m[2] == "ON"
		s.BlankingControl = m[3]
	}
	return out, nil
}

// ConfigureChannel sends the non-nil fields of cfg to a channel (1-based).
func (c *Controller) ConfigureChannel(channel int, cfg ChannelConfig) error {
	if err := validChannel(channel); err != nil {
		return err
	}

	var cmd bytes.Buffer
	fmt.Fprintf(&cmd, "L%d", channel)
	if f := cfg.FrequencyMHz; f != nil {
		if *f < MinFrequencyMHz || *f > MaxFrequencyMHz {
			return fmt.Errorf("frequency %.2f MHz outside %.0f-%.0f", *f, MinFrequencyMHz, MaxFrequencyMHz)
		}
		fmt.Fprintf(&cmd, "F%.2f", *f)
	}
	if p := cfg.Phase; p != nil {
		if *p < 0 || *p > MaxPhase {
			return fmt.Errorf("phase %d outside 0-%d", *p, MaxPhase)
		}
	}
	if p := cfg.PowerRaw; p != nil {
		if *p < 0 || *p > MaxPowerRaw {
			return fmt.Errorf("raw power %d outside 0-%d", *p, MaxPowerRaw)
		}
		fmt.Fprintf(&cmd, "P%d", *p)
	}
	if p := cfg.PowerDB; p != nil {
		fmt.Fprintf(&cmd, "D%.2f", *p)
	}
	if cfg.Output != nil {
		cmd.WriteString(onOff("O", *cfg.Output))
	}
	if cfg.InternalMode != nil {
		cmd.WriteString(onOff("I", *cfg.InternalMode))
	}
	cmd.WriteByte('\r')

	_, err := c.exchange(cmd.String(), false)
	return err
}

// ConfigureBlanking sends the non-nil fields of cfg to a channel's blanking
// stage (1-based).
func (c *Controller) ConfigureBlanking(channel int, cfg BlankingConfig) error {
	if err := validChannel(channel); err != nil {
		return err
	}

	var cmd bytes.Buffer
	fmt.Fprintf(&cmd, "B%d", channel)
	if cfg.On != nil {
		cmd.WriteString(onOff("O", *cfg.On))
	}
	if cfg.InternalControl != nil {
		cmd.WriteString(onOff("I", *cfg.InternalControl))
	}
	cmd.WriteByte('\r')

	_, err := c.exchange(cmd.String(), false)
	return err
}

func onOff(prefix string, on bool) string {
	if on {
		return prefix + "1"
	}
	return prefix + "0"
}

func validChannel(channel int) error {
	if channel < 1 || channel > NumChannels {
		return fmt.Errorf("channel %d out of range 1-%d", channel, NumChannels)
	}
	return nil
}

// exchange writes cmd and accumulates the reply. Replies that end in a
// prompt are read until the '?'; plain acknowledgements until the first
// LF-CR pair.
func (c *Controller) exchange(cmd string, untilPrompt bool) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if f, ok := c.rw.(interface{ ResetInputBuffer() error }); ok {
		_ = f.ResetInputBuffer()
	}
	if _, err := io.WriteString(c.rw, cmd); err != nil {
		return "", fmt.Errorf("writing %q: %w", cmd, err)
	}

	deadline := time.Now().Add(c.timeout)
	var buf []byte
	chunk := make([]byte, 64)
	for {
		if done(buf, untilPrompt) {
			return string(buf), nil
		}
		if time.Now().After(deadline) {
			return "", fmt.Errorf("no reply to %q within %v (got %q)", cmd, c.timeout, buf)
		}
		n, err := c.rw.Read(chunk)
		if err != nil && err != io.EOF {
			return "", err
		}
		buf = append(buf, chunk[:n]...)
		if err == io.EOF && n == 0 {
			if done(buf, untilPrompt) {
				return string(buf), nil
			}
			return "", fmt.Errorf("no reply to %q within %v (got %q)", cmd, c.timeout, buf)
		}
	}
}

func done(buf []byte, untilPrompt bool) bool {
	if untilPrompt {
		return bytes.HasSuffix(buf, []byte("?"))
	}
	return bytes.Contains(buf, []byte("\n\r"))
}
