// Copyright (c) 2023–2026 The shutterbox developers. All rights reserved.
// Project site: https://github.com/MxKuna/shutterbox
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package shutterbox

import (
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"
	"go.bug.st/serial"

	"github.com/MxKuna/shutterbox/lib/find"
)

// portReadTimeout is the serial read timeout. It is deliberately shorter
// than the exchange timeout so decoders can check their own deadlines
// between reads.
const portReadTimeout = 50 * time.Millisecond

// Connect discovers the board described by cfg, opens the serial port, and
// builds a running worker over the configured protocol. Extra worker options
// are applied after the config-derived ones. A missing device is fatal to
// this worker instance; callers surface it as "not connected".
func Connect(cfg Config, log *logrus.Logger, extra ...WorkerOption) (*Worker, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}

	device := cfg.Port.Device
	if device == "" {
		dev, err := find.Find(portFilter(cfg.Port))
		if err != nil {
			return nil, fmt.Errorf("locating device: %w: %v", ErrNotConnected, err)
		}
		device = dev
	}

	port, err := serial.Open(device, &serial.Mode{BaudRate: cfg.Port.Baud})
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", device, err)
	}
	if err := port.SetReadTimeout(portReadTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("setting read timeout: %w", err)
	}
	_ = port.ResetInputBuffer()
	log.Infof("shutter board on %s at %d baud, %s protocol", device, cfg.Port.Baud, cfg.Protocol)

	transport, err := newTransport(cfg, port, log)
	if err != nil {
		port.Close()
		return nil, err
	}

	opts := []WorkerOption{
		WithWorkerLogger(log),
		WithPollInterval(cfg.PollInterval.Duration()),
	}
	for ch, cc := range cfg.Channels {
		opts = append(opts, WithChannelSettings(ch, cc.update()))
	}
	opts = append(opts, extra...)
	w, err := NewWorker(transport, opts...)
	if err != nil {
		transport.Close()
		return nil, err
	}
	return w, nil
}

// portFilter builds the discovery filter from config: an explicit hwid
// substring wins, then VID/PID.
func portFilter(pc PortConfig) find.FilterFn {
	if pc.HWID != "" {
		return find.HWIDFilter(pc.HWID)
	}
	if pc.VID != "" {
		return find.VIDPIDFilter(pc.VID, pc.PID)
	}
	return nil
}

// newTransport selects the wire protocol implementation from configuration.
func newTransport(cfg Config, rw io.ReadWriter, log *logrus.Logger) (Transport, error) {
	switch cfg.Protocol {
	case "framed":
		return NewFramedTransport(rw,
			WithExchangeTimeout(cfg.Exchange.Timeout.Duration()),
			WithRetries(cfg.Exchange.Retries),
			WithRetryBackoff(cfg.Exchange.Backoff.Duration()),
			WithLogger(log),
		), nil
	case "binary":
		return NewBinaryTransport(rw, cfg.Exchange.Timeout.Duration()), nil
	case "ascii":
		return NewASCIITransport(rw, cfg.Exchange.Timeout.Duration()), nil
	}
	return nil, fmt.Errorf("unknown protocol %q", cfg.Protocol)
}
