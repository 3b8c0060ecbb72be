// Copyright (c) 2023–2026 The shutterbox developers. All rights reserved.
// Project site: https://github.com/MxKuna/shutterbox
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package shutterbox

import (
	"time"
)

// NumChannels is the number of shutter servos on a controller board.
const NumChannels = 4

// Servo pulse-width limits in microseconds. Positions outside this range
// would drive the servos past their mechanical stops.
const (
	MinPulseWidth = 500
	MaxPulseWidth = 2500
)

// Canonical three-position pulse widths used by the legacy protocols, which
// cannot express arbitrary positions.
const (
	pulseLow  = 1100
	pulseMid  = 1400
	pulseHigh = 1700
)

// Transport is the capability interface every wire-protocol implementation
// satisfies. Channel indexes are 0-based here; the public Worker boundary is
// 1-based. Implementations serialize physical-port access internally, so a
// Transport is safe for concurrent use.
//
// The repository historically grew several incompatible protocols for the
// same board; they are selected by configuration, not by source file:
// NewFramedTransport (checksummed binary framing), NewBinaryTransport
// (unchecksummed nibble commands), and NewASCIITransport (single-letter
// alphabet).
type Transport interface {
	// SetPosition drives channel to the given pulse width in microseconds.
	SetPosition(channel, pulseWidth int) error

	// Position reports the last commanded pulse width of channel.
	Position(channel int) (int, error)

	// Positions reports all channels in one exchange where the protocol
	// allows it.
	Positions() ([NumChannels]int, error)

	// MoveStepped instructs the board to ramp channel to targetDeg in
	// stepDeg increments with stepDelay between steps. The ramp runs
	// autonomously on the microcontroller, not on the host.
	MoveStepped(channel int, targetDeg, stepDeg float64, stepDelay time.Duration) error

	// Stop aborts an in-progress stepped move on channel.
	Stop(channel int) error

	// Ping verifies the link and reports the firmware version string.
	Ping() (string, error)

	Close() error
}

func validChannel(ch int) bool {
	return ch >= 0 && ch < NumChannels
}

// Servo geometry: 500–2500 µs maps linearly onto 0–180 degrees.
const usPerDegree = float64(MaxPulseWidth-MinPulseWidth) / 180.0

// DegreesForPulse converts a pulse width in microseconds to servo degrees.
func DegreesForPulse(pw int) float64 {
	return float64(pw-MinPulseWidth) / usPerDegree
}

// PulseForDegrees converts servo degrees to a pulse width in microseconds.
func PulseForDegrees(deg float64) int {
	return MinPulseWidth + int(deg*usPerDegree+0.5)
}

// clampDegrees bounds an angle to the servo's travel. Settings accept
// arbitrary pulse widths, so derived angles must be re-bounded before they
// are put on the wire.
func clampDegrees(deg float64) float64 {
	if deg < 0 {
		return 0
	}
	if deg > 180 {
		return 180
	}
	return deg
}

func clampPulse(pw int) int {
	if pw < MinPulseWidth {
		return MinPulseWidth
	}
	if pw > MaxPulseWidth {
		return MaxPulseWidth
	}
	return pw
}

// nearestCanonical snaps an arbitrary pulse width to the closest of the three
// positions the legacy protocols can express. Returns the position index
// (0 low, 1 mid, 2 high) and its pulse width.
func nearestCanonical(pw int) (int, int) {
	canon := [3]int{pulseLow, pulseMid, pulseHigh}
	best, bestDiff := 0, 1<<31
	for i, c := range canon {
		diff := pw - c
		if diff < 0 {
			diff = -diff
		}
		if diff < bestDiff {
			best, bestDiff = i, diff
		}
	}
	return best, canon[best]
}

// flusher is the optional input-buffer reset capability of a serial port.
// go.bug.st/serial ports provide it; in-memory test ports may not.
type flusher interface {
	ResetInputBuffer() error
}

func flushInput(rw interface{}) {
	if fl, ok := rw.(flusher); ok {
		_ = fl.ResetInputBuffer()
	}
}
