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
)

// Wire constants of the intermediate nibble protocol: 0xFF/0xFE sentinels,
// no length byte and no checksum. A move packs the servo number and the
// canonical position index into one parameter byte.
const (
	nibbleStart = 0xFF
	nibbleEnd   = 0xFE
	nibbleMove  = 0x01
	nibbleQuery = 0x02

	nibbleRespLen = 6 // START STATUS SERVO HI LO END
)

// BinaryTransport speaks the unchecksummed nibble protocol from the second
// board firmware generation. Like the letter protocol it only knows the
// three canonical positions and cannot ramp.
type BinaryTransport struct {
	rw      io.ReadWriter
	mu      sync.Mutex
	timeout time.Duration
}

// NewBinaryTransport wraps rw, typically a serial port with a short read
// timeout.
func NewBinaryTransport(rw io.ReadWriter, timeout time.Duration) *BinaryTransport {
	if timeout <= 0 {
		timeout = DefaultExchangeTimeout
	}
	return &BinaryTransport{rw: rw, timeout: timeout}
}

// SetPosition snaps pulseWidth to the nearest canonical position and sends a
// move packet. Moves are not acknowledged.
func (t *BinaryTransport) SetPosition(channel, pulseWidth int) error {
	if !validChannel(channel) {
		return RangeError{Channel: channel + 1}
	}
	pos, _ := nearestCanonical(clampPulse(pulseWidth))
	param := byte(channel&0x0F)<<4 | byte(pos&0x0F)

	t.mu.Lock()
	defer t.mu.Unlock()
	_, err := t.rw.Write([]byte{nibbleStart, nibbleMove, param, nibbleEnd})
	return err
}

// Position queries channel and parses the fixed six-byte reply.
func (t *BinaryTransport) Position(channel int) (int, error) {
	if !validChannel(channel) {
		return 0, RangeError{Channel: channel + 1}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	flushInput(t.rw)

	if _, err := t.rw.Write([]byte{nibbleStart, nibbleQuery, byte(channel & 0x0F), nibbleEnd}); err != nil {
		return 0, err
	}
	resp, err := t.readResponse()
	if err != nil {
		return 0, err
	}
	if resp[1] != statusOK {
		return 0, fmt.Errorf("query status 0x%02X: %w", resp[1], ErrDeviceStatus)
	}
	if int(resp[2]) != channel {
		return 0, fmt.Errorf("reply for servo %d, expected %d: %w", resp[2], channel, ErrCorruptFrame)
	}
	return int(resp[3])<<8 | int(resp[4]), nil
}

// Positions issues one query per channel.
func (t *BinaryTransport) Positions() ([NumChannels]int, error) {
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

// MoveStepped is not expressible in the nibble protocol.
func (t *BinaryTransport) MoveStepped(channel int, targetDeg, stepDeg float64, stepDelay time.Duration) error {
	if !validChannel(channel) {
		return RangeError{Channel: channel + 1}
	}
	return fmt.Errorf("stepped move: %w", ErrUnsupported)
}

// Stop is not expressible in the nibble protocol.
func (t *BinaryTransport) Stop(channel int) error {
	if !validChannel(channel) {
		return RangeError{Channel: channel + 1}
	}
	return fmt.Errorf("stop: %w", ErrUnsupported)
}

// Ping has no equivalent; the link is probed by querying channel 1.
func (t *BinaryTransport) Ping() (string, error) {
	if _, err := t.Position(0); err != nil {
		return "", err
	}
	return "", nil
}

// Close closes the underlying port when it is closeable.
func (t *BinaryTransport) Close() error {
	if c, ok := t.rw.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// readResponse scans for a start sentinel and collects the fixed-length
// reply, resynchronizing on noise. Must be called with the lock held.
func (t *BinaryTransport) readResponse() ([]byte, error) {
	deadline := time.Now().Add(t.timeout)
	var buf []byte
	chunk := make([]byte, 32)
	for {
		// Trim garbage before the start sentinel.
		for len(buf) > 0 && buf[0] != nibbleStart {
			buf = buf[1:]
		}
		if len(buf) >= nibbleRespLen {
			if buf[nibbleRespLen-1] == nibbleEnd {
				return buf[:nibbleRespLen], nil
			}
			// False start sentinel; skip it and rescan.
			buf = buf[1:]
			continue
		}

		n, err := t.rw.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			continue
		}
		if err != nil && err != io.EOF {
			return nil, err
		}
		if err == io.EOF || !time.Now().Before(deadline) {
			return nil, ErrTimeout
		}
	}
}
