// Copyright (c) 2023–2026 The shutterbox developers. All rights reserved.
// Project site: https://github.com/MxKuna/shutterbox
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

// Package cmdlog renders shutter state for terminal output.
package cmdlog

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/MxKuna/shutterbox"
)

var (
	NameStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	OpenStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("35"))
	ClosedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	DimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

// State renders one channel line: name, open/closed, pulse width.
func State(channel int, name string, open bool, pulseWidth int) string {
	state := ClosedStyle.Render("closed")
	if open {
		state = OpenStyle.Render("open")
	}
	return fmt.Sprintf("%d %s  %s  %s",
		channel,
		NameStyle.Render(name),
		state,
		DimStyle.Render(fmt.Sprintf("%dµs (%.1f°)", pulseWidth, shutterbox.DegreesForPulse(pulseWidth))))
}

// Status renders the full status map, one channel per line, channels in
// order, connectivity first.
func Status(status map[string]interface{}) string {
	var b strings.Builder

	if connected, ok := status["connected"].(bool); ok && !connected {
		b.WriteString(ClosedStyle.Render("disconnected"))
		b.WriteByte('\n')
	}
	for ch := 1; ch <= shutterbox.NumChannels; ch++ {
		open, _ := status[fmt.Sprintf("open%d", ch)].(bool)
		position, _ := status[fmt.Sprintf("position%d", ch)].(int)
		b.WriteString(State(ch, fmt.Sprintf("Servo %d", ch), open, position))
		b.WriteByte('\n')
	}
	return b.String()
}

// Settings renders one channel's settings block.
func Settings(channel int, s shutterbox.Settings) string {
	return fmt.Sprintf("%d %s  closed=%dµs open=%dµs step=%.1f°/%s",
		channel,
		NameStyle.Render(s.Name),
		s.ClosedPulseWidth,
		s.OpenPulseWidth,
		s.StepSizeDeg,
		s.StepDelay)
}
