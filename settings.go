// Copyright (c) 2023–2026 The shutterbox developers. All rights reserved.
// Project site: https://github.com/MxKuna/shutterbox
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package shutterbox

import (
	"fmt"
	"sync"
	"time"
)

// Action names a shutter movement. The values match the historical remote
// API verbatim, including the "w_open" spelling.
type Action string

const (
	ActionClose    Action = "close"
	ActionOpen     Action = "open"
	ActionWideOpen Action = "w_open"
)

// ParseAction validates a user-supplied action string.
func ParseAction(s string) (Action, error) {
	switch Action(s) {
	case ActionClose, ActionOpen, ActionWideOpen:
		return Action(s), nil
	}
	return "", fmt.Errorf("unknown action %q (want open, close, or w_open)", s)
}

// Settings holds the per-channel configuration. Values are process-lifetime
// only; restarts reset them to defaults.
type Settings struct {
	Name             string
	ClosedPulseWidth int // µs
	OpenPulseWidth   int // µs
	StepSizeDeg      float64
	StepDelay        time.Duration
}

// Midpoint is the open/closed decision boundary: a polled position above it
// means the shutter is open.
func (s Settings) Midpoint() int {
	return (s.ClosedPulseWidth + s.OpenPulseWidth) / 2
}

// Target resolves an action to a pulse width. Wide open overshoots the open
// position by the closed-to-open span, clamped to the servo limits; with the
// firmware defaults of 1100/1400 this lands on the historical 1700.
func (s Settings) Target(action Action) (int, error) {
	switch action {
	case ActionClose:
		return s.ClosedPulseWidth, nil
	case ActionOpen:
		return s.OpenPulseWidth, nil
	case ActionWideOpen:
		return clampPulse(2*s.OpenPulseWidth - s.ClosedPulseWidth), nil
	}
	return 0, fmt.Errorf("unknown action %q", action)
}

// SettingsUpdate is a partial settings change; nil fields are left untouched.
type SettingsUpdate struct {
	Name             *string
	ClosedPulseWidth *int
	OpenPulseWidth   *int
	StepSizeDeg      *float64
	StepDelay        *time.Duration
}

// Default per-channel values, matching the board firmware's LOW/MID
// positions and a gentle ramp.
const (
	DefaultClosedPulseWidth = pulseLow
	DefaultOpenPulseWidth   = pulseMid
	DefaultStepSizeDeg      = 5.0
	DefaultStepDelay        = 20 * time.Millisecond
)

func defaultSettings(channel int) Settings {
	return Settings{
		Name:             fmt.Sprintf("Servo %d", channel+1),
		ClosedPulseWidth: DefaultClosedPulseWidth,
		OpenPulseWidth:   DefaultOpenPulseWidth,
		StepSizeDeg:      DefaultStepSizeDeg,
		StepDelay:        DefaultStepDelay,
	}
}

// settingsStore owns the fixed-size channel configuration array. Reads hand
// out copies so callers can never observe a partial update.
type settingsStore struct {
	mu       sync.Mutex
	channels [NumChannels]Settings
}

func newSettingsStore() *settingsStore {
	s := &settingsStore{}
	for ch := range s.channels {
		s.channels[ch] = defaultSettings(ch)
	}
	return s
}

func (s *settingsStore) get(channel int) Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channels[channel]
}

func (s *settingsStore) update(channel int, u SettingsUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := &s.channels[channel]
	if u.Name != nil {
		cur.Name = *u.Name
	}
	if u.ClosedPulseWidth != nil {
		cur.ClosedPulseWidth = *u.ClosedPulseWidth
	}
	if u.OpenPulseWidth != nil {
		cur.OpenPulseWidth = *u.OpenPulseWidth
	}
	if u.StepSizeDeg != nil {
		cur.StepSizeDeg = *u.StepSizeDeg
	}
	if u.StepDelay != nil {
		cur.StepDelay = *u.StepDelay
	}
}
