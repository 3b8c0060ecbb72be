// Copyright (c) 2023–2026 The shutterbox developers. All rights reserved.
// Project site: https://github.com/MxKuna/shutterbox
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package shutterbox

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"
)

// letterForChannel maps each channel to the letters that select its low,
// mid, and high position on the oldest board firmware. There is no framing
// at all: one byte is one command.
var letterForChannel = [NumChannels][3]byte{
	{'q', 'a', 'z'},
	{'w', 's', 'x'},
	{'e', 'd', 'c'},
	{'r', 'f', 'v'},
}

// ASCIITransport speaks the legacy single-letter alphabet with `?N` queries
// answered as "N: <pulsewidth>\n". Only the three canonical positions exist;
// SetPosition snaps to the nearest one. Stepped moves and ping are not part
// of this protocol.
type ASCIITransport struct {
	rw      io.ReadWriter
	mu      sync.Mutex
	timeout time.Duration
}

// NewASCIITransport wraps rw, typically a serial port with a short read
// timeout.
func NewASCIITransport(rw io.ReadWriter, timeout time.Duration) *ASCIITransport {
	if timeout <= 0 {
		timeout = DefaultExchangeTimeout
	}
	return &ASCIITransport{rw: rw, timeout: timeout}
}

// SetPosition snaps pulseWidth to the nearest canonical position and sends
// the corresponding letter. The firmware does not acknowledge moves.
func (t *ASCIITransport) SetPosition(channel, pulseWidth int) error {
	if !validChannel(channel) {
		return RangeError{Channel: channel + 1}
	}
	pos, _ := nearestCanonical(clampPulse(pulseWidth))

	t.mu.Lock()
	defer t.mu.Unlock()
	_, err := t.rw.Write([]byte{letterForChannel[channel][pos]})
	return err
}

// Position queries channel with `?N` and parses the "N: <pw>" reply.
func (t *ASCIITransport) Position(channel int) (int, error) {
	if !validChannel(channel) {
		return 0, RangeError{Channel: channel + 1}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	flushInput(t.rw)

	if _, err := fmt.Fprintf(t.rw, "?%d", channel+1); err != nil {
		return 0, err
	}
	line, err := t.readLine()
	if err != nil {
		return 0, err
	}
	return parsePositionLine(line, channel+1)
}

// Positions issues one query per channel; the legacy firmware has no
// combined query.
func (t *ASCIITransport) Positions() ([NumChannels]int, error) {
	var out [NumChannels]int
	for ch := 0; ch < NumChannels; ch++ {
		pw, err := t.Position(ch)
		if err != nil {
			return out, err
		}
		out[ch] = pw
	}
	return out, nil
}

// MoveStepped is not expressible in the letter alphabet.
func (t *ASCIITransport) MoveStepped(channel int, targetDeg, stepDeg float64, stepDelay time.Duration) error {
	if !validChannel(channel) {
		return RangeError{Channel: channel + 1}
	}
	return fmt.Errorf("stepped move: %w", ErrUnsupported)
}

// Stop is not expressible in the letter alphabet.
func (t *ASCIITransport) Stop(channel int) error {
	if !validChannel(channel) {
		return RangeError{Channel: channel + 1}
	}
	return fmt.Errorf("stop: %w", ErrUnsupported)
}

// Ping has no equivalent; the link is probed by querying channel 1.
func (t *ASCIITransport) Ping() (string, error) {
	if _, err := t.Position(0); err != nil {
		return "", err
	}
	return "", nil
}

// Close closes the underlying port when it is closeable.
func (t *ASCIITransport) Close() error {
	if c, ok := t.rw.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// readLine accumulates bytes until a line terminator; expiry of the deadline
// with no terminator is a timeout. Must be called with the transport lock
// held.
func (t *ASCIITransport) readLine() (string, error) {
	deadline := time.Now().Add(t.timeout)
	var line []byte
	chunk := make([]byte, 64)
	for {
		n, err := t.rw.Read(chunk)
		if n > 0 {
			line = append(line, chunk[:n]...)
			// Some firmware revisions terminate with \r only.
			if i := strings.IndexAny(string(line), "\r\n"); i >= 0 {
				return strings.TrimSpace(string(line[:i])), nil
			}
		}
		if err != nil && err != io.EOF {
			return "", err
		}
		if err == io.EOF || !time.Now().Before(deadline) {
			// An unterminated fragment is indistinguishable from a reply
			// cut off mid-number; never parse it.
			return "", ErrTimeout
		}
	}
}

// parsePositionLine parses "N: <pw>" and verifies the echoed channel number.
func parsePositionLine(line string, wantChannel int) (int, error) {
	parts := strings.SplitN(line, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("malformed position reply %q: %w", line, ErrCorruptFrame)
	}
	ch, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, fmt.Errorf("malformed position reply %q: %w", line, ErrCorruptFrame)
	}
	if ch != wantChannel {
		return 0, fmt.Errorf("reply for channel %d, expected %d: %w", ch, wantChannel, ErrCorruptFrame)
	}
	pw, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, fmt.Errorf("malformed position reply %q: %w", line, ErrCorruptFrame)
	}
	return pw, nil
}
