// Copyright (c) 2023–2026 The shutterbox developers. All rights reserved.
// Project site: https://github.com/MxKuna/shutterbox
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package chameleon

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

// fakeLaser answers from a table, echoing each command the way the hardware
// does with ECHO on.
type fakeLaser struct {
	out     bytes.Buffer
	written []string
	replies map[string]string
	echo    bool
}

func newFakeLaser() *fakeLaser {
	return &fakeLaser{
		echo: true,
		replies: map[string]string{
			"?L":          "1",
			"?K":          "1",
			"?ST":         "OK",
			"?TS":         "0",
			"?VW":         "800",
			"?PVAR":       "3250",
			"?PFIXED":     "520",
			"?SVAR":       "1",
			"?SFIXED":     "0",
			"?ALIGNVAR":   "0",
			"?ALIGNFIXED": "0",
		},
	}
}

func (f *fakeLaser) Read(p []byte) (int, error) {
	if f.out.Len() == 0 {
		time.Sleep(time.Millisecond)
		return 0, nil
	}
	return f.out.Read(p)
}

func (f *fakeLaser) Write(p []byte) (int, error) {
	cmd := strings.TrimSuffix(string(p), "\r\n")
	f.written = append(f.written, cmd)

	reply, ok := f.replies[cmd]
	if !ok {
		reply = "" // set commands acknowledge with a bare echo
	}
	if f.echo {
		f.out.WriteString(cmd + " " + reply + "\r\n")
	} else {
		f.out.WriteString(reply + "\r\n")
	}
	return len(p), nil
}

func newTestLaser(t *testing.T) (*fakeLaser, *Laser) {
	t.Helper()
	fake := newFakeLaser()
	l, err := New(fake, WithTimeout(100*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	return fake, l
}

func TestProbeRequiresEcho(t *testing.T) {
	fake := newFakeLaser()
	fake.echo = false
	if _, err := New(fake, WithTimeout(50*time.Millisecond)); err == nil {
		t.Error("laser with ECHO off accepted")
	}
}

func TestWavelength(t *testing.T) {
	fake, l := newTestLaser(t)

	nm, err := l.Wavelength()
	if err != nil {
		t.Fatal(err)
	}
	if nm != 800 {
		t.Errorf("wavelength = %d, want 800", nm)
	}

	if err := l.SetWavelength(920); err != nil {
		t.Fatal(err)
	}
	last := fake.written[len(fake.written)-1]
	if last != "WV=920" {
		t.Errorf("command = %q", last)
	}
}

func TestShutters(t *testing.T) {
	fake, l := newTestLaser(t)

	open, err := l.TunableShutterOpen()
	if err != nil {
		t.Fatal(err)
	}
	if !open {
		t.Error("tunable shutter reported closed")
	}
	open, err = l.FixedShutterOpen()
	if err != nil {
		t.Fatal(err)
	}
	if open {
		t.Error("fixed shutter reported open")
	}

	if err := l.OpenTunableShutter(true); err != nil {
		t.Fatal(err)
	}
	if got := fake.written[len(fake.written)-1]; got != "SVAR=1" {
		t.Errorf("command = %q", got)
	}
	if err := l.OpenFixedShutter(false); err != nil {
		t.Fatal(err)
	}
	if got := fake.written[len(fake.written)-1]; got != "SFIXED=0" {
		t.Errorf("command = %q", got)
	}
}

func TestStatusPoll(t *testing.T) {
	_, l := newTestLaser(t)

	s, err := l.Status()
	if err != nil {
		t.Fatal(err)
	}
	if !s.Keyswitch || !s.Lasing || s.Tuning {
		t.Errorf("laser flags = %+v", s)
	}
	if s.Busy != "OK" {
		t.Errorf("busy = %q", s.Busy)
	}
	if s.Tunable.Power != 3250 || !s.Tunable.ShutterOpen {
		t.Errorf("tunable = %+v", s.Tunable)
	}
	if s.Fixed.Power != 520 || s.Fixed.ShutterOpen {
		t.Errorf("fixed = %+v", s.Fixed)
	}
}

func TestQueryLostEchoMidSession(t *testing.T) {
	fake, l := newTestLaser(t)
	fake.replies = nil
	fake.echo = false

	if _, err := l.Wavelength(); err == nil {
		t.Error("reply without echo accepted")
	}
}
