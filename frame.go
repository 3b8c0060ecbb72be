// Copyright (c) 2023–2026 The shutterbox developers. All rights reserved.
// Project site: https://github.com/MxKuna/shutterbox
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package shutterbox

import (
	"fmt"
	"io"
	"time"
)

// Framing constants for the checksummed binary protocol. The start and end
// sentinels only delimit frames on the wire; payload bytes equal to the
// sentinels are legal because the length byte drives parsing inside a frame.
const (
	FrameStart = 0xAA
	FrameEnd   = 0x55

	// MaxPayload is the largest payload the controller board accepts.
	MaxPayload = 32

	// frameOverhead is start + length + command + checksum + end.
	frameOverhead = 5
)

// respFlag is set on the command byte of every response frame, correlating
// it with the request it answers.
const respFlag = 0x80

// Frame is one decoded unit of protocol data: a command byte and its payload.
type Frame struct {
	Cmd     byte
	Payload []byte
}

// EncodeFrame builds a complete wire frame for the given command and payload.
// The checksum is the XOR of the length byte, the command byte, and every
// payload byte.
func EncodeFrame(cmd byte, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayload {
		return nil, fmt.Errorf("payload length %d: %w", len(payload), ErrPayloadTooLong)
	}
	buf := make([]byte, 0, len(payload)+frameOverhead)
	buf = append(buf, FrameStart, byte(len(payload)), cmd)
	buf = append(buf, payload...)
	buf = append(buf, checksum(byte(len(payload)), cmd, payload), FrameEnd)
	return buf, nil
}

func checksum(length, cmd byte, payload []byte) byte {
	sum := length ^ cmd
	for _, b := range payload {
		sum ^= b
	}
	return sum
}

// Decoder reconstructs frames from a byte stream. The reader is expected to
// behave like a serial port with a short read timeout: Read returns (0, nil)
// when no data arrived within the port timeout, which lets the decoder check
// its own deadline between reads. io.EOF is treated the same way, so the
// decoder also works over in-memory streams.
//
// After corrupt data the decoder resynchronizes by scanning for the next
// start sentinel.
type Decoder struct {
	r   io.Reader
	buf []byte
}

// NewDecoder returns a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: r}
}

// Reset discards any buffered bytes, typically after the port input buffer
// has been flushed before a fresh exchange.
func (d *Decoder) Reset() {
	d.buf = d.buf[:0]
}

// Next consumes bytes until a valid frame is found or the deadline elapses.
// Corrupt candidates (bad length, checksum mismatch, missing end sentinel)
// are discarded; if the deadline passes after at least one was seen, the
// returned error wraps ErrCorruptFrame, otherwise ErrTimeout.
func (d *Decoder) Next(deadline time.Time) (Frame, error) {
	corrupt := false
	for {
		if f, ok, bad := d.scan(); ok {
			return f, nil
		} else if bad {
			corrupt = true
			continue // rescan remaining buffer before reading more
		}

		if !time.Now().Before(deadline) {
			break
		}
		chunk := make([]byte, 64)
		n, err := d.r.Read(chunk)
		if n > 0 {
			d.buf = append(d.buf, chunk[:n]...)
			continue
		}
		if err != nil && err != io.EOF {
			return Frame{}, err
		}
		if err == io.EOF {
			// In-memory streams are exhausted for good; waiting out the
			// deadline would accomplish nothing.
			break
		}
	}
	if corrupt {
		return Frame{}, fmt.Errorf("no valid frame before deadline: %w", ErrCorruptFrame)
	}
	return Frame{}, ErrTimeout
}

// scan attempts to parse one frame from the buffer. ok reports a complete
// valid frame, bad reports that a corrupt candidate was discarded and the
// buffer should be rescanned. Neither set means more bytes are needed.
func (d *Decoder) scan() (f Frame, ok, bad bool) {
	// Drop everything before the first start sentinel.
	start := -1
	for i, b := range d.buf {
		if b == FrameStart {
			start = i
			break
		}
	}
	if start < 0 {
		d.buf = d.buf[:0]
		return Frame{}, false, false
	}
	if start > 0 {
		d.buf = d.buf[start:]
	}

	if len(d.buf) < 2 {
		return Frame{}, false, false
	}
	length := d.buf[1]
	if int(length) > MaxPayload {
		// Corrupt length byte: skip this start sentinel and resync.
		d.buf = d.buf[1:]
		return Frame{}, false, true
	}
	total := int(length) + frameOverhead
	if len(d.buf) < total {
		return Frame{}, false, false
	}

	cmd := d.buf[2]
	payload := d.buf[3 : 3+int(length)]
	sum := d.buf[3+int(length)]
	end := d.buf[4+int(length)]
	if sum != checksum(length, cmd, payload) || end != FrameEnd {
		d.buf = d.buf[1:]
		return Frame{}, false, true
	}

	out := Frame{Cmd: cmd, Payload: append([]byte(nil), payload...)}
	d.buf = d.buf[total:]
	return out, true, false
}
