// Copyright (c) 2023–2026 The shutterbox developers. All rights reserved.
// Project site: https://github.com/MxKuna/shutterbox
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package shutterbox

import (
	"bytes"
	"sync"
	"time"
)

// fakePort is an in-memory stand-in for a serial port with a short read
// timeout: Read returns (0, nil) when no data is pending, exactly like
// go.bug.st/serial ports. A device handler turns each host write into
// response bytes.
type fakePort struct {
	mu      sync.Mutex
	in      bytes.Buffer
	writes  [][]byte
	flushes int
	closed  bool

	// device, when set, is invoked with every host write and its return
	// value becomes readable by the host.
	device func(req []byte) []byte
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	p.writes = append(p.writes, append([]byte(nil), b...))
	dev := p.device
	p.mu.Unlock()

	if dev != nil {
		resp := dev(b)
		p.mu.Lock()
		p.in.Write(resp)
		p.mu.Unlock()
	}
	return len(b), nil
}

func (p *fakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	n, _ := p.in.Read(b)
	p.mu.Unlock()
	if n == 0 {
		time.Sleep(time.Millisecond)
	}
	return n, nil
}

func (p *fakePort) ResetInputBuffer() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.flushes++
	p.in.Reset()
	return nil
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePort) writeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.writes)
}

// inject makes bytes readable by the host without a device round trip.
func (p *fakePort) inject(b []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.in.Write(b)
}

// fakeBoard simulates the framed-protocol firmware: four servos reporting
// commanded positions, a version string, and optional fault injection.
type fakeBoard struct {
	mu        sync.Mutex
	positions [NumChannels]int
	version   string

	dropNext    int  // swallow the next n requests (host sees timeouts)
	corrupt     bool // flip a payload bit in every response
	inflight    int
	maxInflight int
}

func newFakeBoard() *fakeBoard {
	b := &fakeBoard{version: "1.2.0"}
	for i := range b.positions {
		b.positions[i] = pulseHigh
	}
	return b
}

// handle decodes one request frame and produces the response bytes.
func (b *fakeBoard) handle(req []byte) []byte {
	b.mu.Lock()
	b.inflight++
	if b.inflight > b.maxInflight {
		b.maxInflight = b.inflight
	}
	if b.dropNext > 0 {
		b.dropNext--
		b.inflight--
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	// Let a concurrent exchange overlap if the transport lock is broken.
	time.Sleep(2 * time.Millisecond)

	dec := NewDecoder(bytes.NewReader(req))
	f, err := dec.Next(time.Now().Add(10 * time.Millisecond))

	b.mu.Lock()
	defer func() {
		b.inflight--
		b.mu.Unlock()
	}()
	if err != nil {
		return nil
	}

	var payload []byte
	switch f.Cmd {
	case cmdPing:
		payload = append([]byte{statusOK}, []byte(b.version)...)
	case cmdSetPos:
		ch := int(f.Payload[0])
		b.positions[ch] = int(f.Payload[1])<<8 | int(f.Payload[2])
		payload = []byte{statusOK}
	case cmdGetPos:
		ch := int(f.Payload[0])
		pw := b.positions[ch]
		payload = []byte{statusOK, byte(ch), byte(pw >> 8), byte(pw)}
	case cmdGetAll:
		payload = []byte{statusOK}
		for _, pw := range b.positions {
			payload = append(payload, byte(pw>>8), byte(pw))
		}
	case cmdMoveStepped, cmdStop:
		payload = []byte{statusOK}
	default:
		payload = []byte{statusErr}
	}

	resp, err := EncodeFrame(f.Cmd|respFlag, payload)
	if err != nil {
		return nil
	}
	if b.corrupt {
		resp[3] ^= 0x01
	}
	return resp
}

func (b *fakeBoard) position(ch int) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.positions[ch]
}

func newBoardPort() (*fakePort, *fakeBoard) {
	board := newFakeBoard()
	port := &fakePort{device: board.handle}
	return port, board
}
