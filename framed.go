// Copyright (c) 2023–2026 The shutterbox developers. All rights reserved.
// Project site: https://github.com/MxKuna/shutterbox
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package shutterbox

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Command bytes of the framed protocol.
const (
	cmdPing        = 0x01
	cmdSetPos      = 0x10
	cmdGetPos      = 0x11
	cmdGetAll      = 0x12
	cmdMoveStepped = 0x20
	cmdStop        = 0x21
)

// Response status bytes. Every response payload starts with one.
const (
	statusOK  = 0x00
	statusErr = 0x01
)

// Exchange tuning defaults. All of them are configurable because the
// observed values differ between controller-board revisions.
const (
	DefaultExchangeTimeout = 500 * time.Millisecond
	DefaultRetries         = 3
	DefaultRetryBackoff    = 100 * time.Millisecond
)

// FramedTransport speaks the checksummed 0xAA/0x55 protocol, the most mature
// wire format for the shutter boards. One mutex serializes every
// send+receive exchange, so at most one request is ever in flight on the
// physical connection.
type FramedTransport struct {
	rw  io.ReadWriter
	dec *Decoder
	log *logrus.Logger

	mu      sync.Mutex
	timeout time.Duration
	retries int
	backoff time.Duration
}

// FramedOption applies an option to a FramedTransport.
type FramedOption func(*FramedTransport)

// WithExchangeTimeout sets the per-exchange response deadline.
func WithExchangeTimeout(d time.Duration) FramedOption {
	return func(t *FramedTransport) { t.timeout = d }
}

// WithRetries sets how many attempts an exchange makes before reporting
// failure. Values below 1 are treated as 1.
func WithRetries(n int) FramedOption {
	return func(t *FramedTransport) { t.retries = n }
}

// WithRetryBackoff sets the pause between retry attempts.
func WithRetryBackoff(d time.Duration) FramedOption {
	return func(t *FramedTransport) { t.backoff = d }
}

// WithLogger routes transport diagnostics to log.
func WithLogger(log *logrus.Logger) FramedOption {
	return func(t *FramedTransport) { t.log = log }
}

// NewFramedTransport wraps rw, which is typically an open serial port with a
// short read timeout. If rw supports ResetInputBuffer, stale bytes are
// flushed before every exchange.
func NewFramedTransport(rw io.ReadWriter, opts ...FramedOption) *FramedTransport {
	t := &FramedTransport{
		rw:      rw,
		dec:     NewDecoder(rw),
		log:     logrus.StandardLogger(),
		timeout: DefaultExchangeTimeout,
		retries: DefaultRetries,
		backoff: DefaultRetryBackoff,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.retries < 1 {
		t.retries = 1
	}
	return t
}

// exchange performs one correlated request/response cycle under the
// transport lock, retrying on timeout or corrupt response.
func (t *FramedTransport) exchange(cmd byte, payload []byte) (Frame, error) {
	req, err := EncodeFrame(cmd, payload)
	if err != nil {
		return Frame{}, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	var lastErr error
	for attempt := 0; attempt < t.retries; attempt++ {
		if attempt > 0 {
			time.Sleep(t.backoff)
		}
		// Drop anything a previous exchange may have left behind so we
		// never correlate against a stale response.
		flushInput(t.rw)
		t.dec.Reset()

		if _, err := t.rw.Write(req); err != nil {
			return Frame{}, fmt.Errorf("writing command 0x%02X: %w", cmd, err)
		}

		resp, err := t.awaitResponse(cmd)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !retryable(err) {
			break
		}
		t.log.WithFields(logrus.Fields{
			"cmd":     fmt.Sprintf("0x%02X", cmd),
			"attempt": attempt + 1,
		}).Debug("exchange failed, retrying: ", err)
	}
	return Frame{}, lastErr
}

// awaitResponse reads frames until one correlates with cmd or the deadline
// elapses. Uncorrelated frames are discarded.
func (t *FramedTransport) awaitResponse(cmd byte) (Frame, error) {
	deadline := time.Now().Add(t.timeout)
	for {
		f, err := t.dec.Next(deadline)
		if err != nil {
			return Frame{}, err
		}
		if f.Cmd != cmd|respFlag {
			t.log.Debugf("discarding uncorrelated frame cmd 0x%02X", f.Cmd)
			continue
		}
		if len(f.Payload) < 1 {
			return Frame{}, fmt.Errorf("response to 0x%02X missing status byte: %w", cmd, ErrCorruptFrame)
		}
		if f.Payload[0] != statusOK {
			return Frame{}, fmt.Errorf("command 0x%02X status 0x%02X: %w", cmd, f.Payload[0], ErrDeviceStatus)
		}
		f.Payload = f.Payload[1:]
		return f, nil
	}
}

// SetPosition drives channel to the given pulse width.
func (t *FramedTransport) SetPosition(channel, pulseWidth int) error {
	if !validChannel(channel) {
		return RangeError{Channel: channel + 1}
	}
	pw := clampPulse(pulseWidth)
	_, err := t.exchange(cmdSetPos, []byte{byte(channel), byte(pw >> 8), byte(pw)})
	return err
}

// Position reports the current pulse width of channel.
func (t *FramedTransport) Position(channel int) (int, error) {
	if !validChannel(channel) {
		return 0, RangeError{Channel: channel + 1}
	}
	resp, err := t.exchange(cmdGetPos, []byte{byte(channel)})
	if err != nil {
		return 0, err
	}
	if len(resp.Payload) < 3 || int(resp.Payload[0]) != channel {
		return 0, fmt.Errorf("malformed position response: %w", ErrCorruptFrame)
	}
	return int(resp.Payload[1])<<8 | int(resp.Payload[2]), nil
}

// Positions reports every channel in a single exchange.
func (t *FramedTransport) Positions() ([NumChannels]int, error) {
	var out [NumChannels]int
	resp, err := t.exchange(cmdGetAll, nil)
	if err != nil {
		return out, err
	}
	if len(resp.Payload) < 2*NumChannels {
		return out, fmt.Errorf("malformed get-all response: %w", ErrCorruptFrame)
	}
	for i := 0; i < NumChannels; i++ {
		out[i] = int(resp.Payload[2*i])<<8 | int(resp.Payload[2*i+1])
	}
	return out, nil
}

// MoveStepped starts an autonomous ramp on the board. Angles travel on the
// wire in centidegrees, the delay in milliseconds.
func (t *FramedTransport) MoveStepped(channel int, targetDeg, stepDeg float64, stepDelay time.Duration) error {
	if !validChannel(channel) {
		return RangeError{Channel: channel + 1}
	}
	target := uint16(clampDegrees(targetDeg)*100 + 0.5)
	step := uint16(clampDegrees(stepDeg)*100 + 0.5)
	delay := uint16(stepDelay / time.Millisecond)
	payload := []byte{
		byte(channel),
		byte(target >> 8), byte(target),
		byte(step >> 8), byte(step),
		byte(delay >> 8), byte(delay),
	}
	_, err := t.exchange(cmdMoveStepped, payload)
	return err
}

// Stop aborts a stepped move on channel.
func (t *FramedTransport) Stop(channel int) error {
	if !validChannel(channel) {
		return RangeError{Channel: channel + 1}
	}
	_, err := t.exchange(cmdStop, []byte{byte(channel)})
	return err
}

// Ping verifies the link and returns the firmware version string.
func (t *FramedTransport) Ping() (string, error) {
	resp, err := t.exchange(cmdPing, nil)
	if err != nil {
		return "", err
	}
	return string(resp.Payload), nil
}

// Close closes the underlying port when it is closeable.
func (t *FramedTransport) Close() error {
	if c, ok := t.rw.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
