// Copyright (c) 2023–2026 The shutterbox developers. All rights reserved.
// Project site: https://github.com/MxKuna/shutterbox
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package shutterbox

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// legacyBoard simulates the letter-alphabet firmware.
type legacyBoard struct {
	mu        sync.Mutex
	positions [NumChannels]int
}

func (b *legacyBoard) handle(req []byte) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []byte
	for i := 0; i < len(req); i++ {
		c := req[i]
		if c == '?' && i+1 < len(req) {
			i++
			ch := int(req[i] - '1')
			if ch >= 0 && ch < NumChannels {
				out = append(out, []byte(fmt.Sprintf("%d: %d\n", ch+1, b.positions[ch]))...)
			}
			continue
		}
		for ch, letters := range letterForChannel {
			for pos, letter := range letters {
				if c == letter {
					b.positions[ch] = [3]int{pulseLow, pulseMid, pulseHigh}[pos]
				}
			}
		}
	}
	return out
}

func TestASCIIMoveAndQuery(t *testing.T) {
	board := &legacyBoard{}
	port := &fakePort{device: board.handle}
	tr := NewASCIITransport(port, 50*time.Millisecond)

	if err := tr.SetPosition(3, pulseHigh); err != nil {
		t.Fatal(err)
	}
	if board.positions[3] != pulseHigh {
		t.Errorf("board position = %d", board.positions[3])
	}
	pw, err := tr.Position(3)
	if err != nil {
		t.Fatal(err)
	}
	if pw != pulseHigh {
		t.Errorf("Position = %d, want %d", pw, pulseHigh)
	}
}

func TestASCIISetPositionSnapsToNearestLetter(t *testing.T) {
	tests := []struct {
		pw     int
		letter byte
	}{
		{1000, 'q'}, // below low snaps to low
		{1240, 'q'},
		{1260, 'a'},
		{1399, 'a'},
		{1600, 'z'},
		{2400, 'z'},
	}
	for _, tt := range tests {
		port := &fakePort{}
		tr := NewASCIITransport(port, 50*time.Millisecond)
		if err := tr.SetPosition(0, tt.pw); err != nil {
			t.Fatal(err)
		}
		if got := port.writes[0][0]; got != tt.letter {
			t.Errorf("pw %d: sent %q, want %q", tt.pw, got, tt.letter)
		}
	}
}

func TestASCIISteppedMoveUnsupported(t *testing.T) {
	tr := NewASCIITransport(&fakePort{}, 50*time.Millisecond)
	if err := tr.MoveStepped(0, 90, 5, 20*time.Millisecond); !errors.Is(err, ErrUnsupported) {
		t.Errorf("got %v, want ErrUnsupported", err)
	}
	if err := tr.Stop(0); !errors.Is(err, ErrUnsupported) {
		t.Errorf("got %v, want ErrUnsupported", err)
	}
}

func TestASCIIMalformedReply(t *testing.T) {
	port := &fakePort{device: func([]byte) []byte { return []byte("garbage\n") }}
	tr := NewASCIITransport(port, 50*time.Millisecond)

	_, err := tr.Position(0)
	if !errors.Is(err, ErrCorruptFrame) {
		t.Errorf("got %v, want ErrCorruptFrame", err)
	}
}

func TestASCIITruncatedReplyTimesOut(t *testing.T) {
	// A reply cut off mid-number with no terminator must not parse as a
	// (wrong) position.
	port := &fakePort{device: func([]byte) []byte { return []byte("1: 14") }}
	tr := NewASCIITransport(port, 30*time.Millisecond)

	_, err := tr.Position(0)
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("got %v, want ErrTimeout", err)
	}
}

func TestASCIICarriageReturnTerminator(t *testing.T) {
	port := &fakePort{device: func([]byte) []byte { return []byte("1: 1400\r") }}
	tr := NewASCIITransport(port, 50*time.Millisecond)

	pw, err := tr.Position(0)
	if err != nil {
		t.Fatal(err)
	}
	if pw != 1400 {
		t.Errorf("Position = %d, want 1400", pw)
	}
}

func TestASCIIWrongChannelEcho(t *testing.T) {
	port := &fakePort{device: func([]byte) []byte { return []byte("2: 1400\n") }}
	tr := NewASCIITransport(port, 50*time.Millisecond)

	_, err := tr.Position(0) // asked for channel 1
	if !errors.Is(err, ErrCorruptFrame) {
		t.Errorf("got %v, want ErrCorruptFrame", err)
	}
}

// nibbleBoard simulates the unchecksummed 0xFF/0xFE firmware.
type nibbleBoard struct {
	mu        sync.Mutex
	positions [NumChannels]int
}

func (b *nibbleBoard) handle(req []byte) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(req) != 4 || req[0] != nibbleStart || req[3] != nibbleEnd {
		return nil
	}
	switch req[1] {
	case nibbleMove:
		ch := int(req[2] >> 4)
		pos := int(req[2] & 0x0F)
		if ch < NumChannels && pos < 3 {
			b.positions[ch] = [3]int{pulseLow, pulseMid, pulseHigh}[pos]
		}
		return nil
	case nibbleQuery:
		ch := int(req[2] & 0x0F)
		if ch >= NumChannels {
			return []byte{nibbleStart, statusErr, 0, 0, 0, nibbleEnd}
		}
		pw := b.positions[ch]
		return []byte{nibbleStart, statusOK, byte(ch), byte(pw >> 8), byte(pw), nibbleEnd}
	}
	return nil
}

func TestBinaryMoveAndQuery(t *testing.T) {
	board := &nibbleBoard{}
	port := &fakePort{device: board.handle}
	tr := NewBinaryTransport(port, 50*time.Millisecond)

	if err := tr.SetPosition(1, pulseMid); err != nil {
		t.Fatal(err)
	}
	pw, err := tr.Position(1)
	if err != nil {
		t.Fatal(err)
	}
	if pw != pulseMid {
		t.Errorf("Position = %d, want %d", pw, pulseMid)
	}
}

func TestBinaryResyncOnLeadingNoise(t *testing.T) {
	board := &nibbleBoard{}
	board.positions[0] = pulseLow
	port := &fakePort{device: func(req []byte) []byte {
		return append([]byte{0x12, 0x34}, board.handle(req)...)
	}}
	tr := NewBinaryTransport(port, 50*time.Millisecond)

	pw, err := tr.Position(0)
	if err != nil {
		t.Fatal(err)
	}
	if pw != pulseLow {
		t.Errorf("Position = %d, want %d", pw, pulseLow)
	}
}

func TestBinaryTimeoutWithoutResponse(t *testing.T) {
	port := &fakePort{} // no device attached
	tr := NewBinaryTransport(port, 20*time.Millisecond)

	_, err := tr.Position(0)
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("got %v, want ErrTimeout", err)
	}
}

func TestLegacyTransportsRejectChannelBeforeIO(t *testing.T) {
	for name, tr := range map[string]Transport{
		"ascii":  NewASCIITransport(&fakePort{}, 20*time.Millisecond),
		"binary": NewBinaryTransport(&fakePort{}, 20*time.Millisecond),
	} {
		var rangeErr RangeError
		if err := tr.SetPosition(4, 1500); !errors.As(err, &rangeErr) {
			t.Errorf("%s: got %v, want RangeError", name, err)
		}
	}
}
