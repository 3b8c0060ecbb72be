// Copyright (c) 2023–2026 The shutterbox developers. All rights reserved.
// Project site: https://github.com/MxKuna/shutterbox
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package shutterbox

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout is returned when the device sent no valid response before
	// the exchange deadline.
	ErrTimeout = errors.New("no response before deadline")

	// ErrCorruptFrame is returned when data arrived but every frame
	// candidate failed length, checksum, or sentinel validation.
	ErrCorruptFrame = errors.New("corrupt frame")

	// ErrPayloadTooLong is returned when a payload exceeds MaxPayload.
	ErrPayloadTooLong = errors.New("payload too long")

	// ErrUnsupported is returned by transports that cannot express an
	// operation, such as stepped moves over the legacy letter protocol.
	ErrUnsupported = errors.New("operation not supported by this protocol")

	// ErrNotConnected is returned when no matching device was found or the
	// connection has been closed.
	ErrNotConnected = errors.New("device not connected")

	// ErrDeviceStatus is returned when the board answered with a non-OK
	// status byte.
	ErrDeviceStatus = errors.New("device reported error status")
)

// RangeError reports a channel index outside the valid range. It is produced
// before any byte is written to the transport.
type RangeError struct {
	Channel int
}

func (e RangeError) Error() string {
	return fmt.Sprintf("channel %d out of range 1-%d", e.Channel, NumChannels)
}

// retryable reports whether an exchange failure is worth retrying: timeouts
// and corrupt responses are, validation and device-status errors are not.
func retryable(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrCorruptFrame)
}
