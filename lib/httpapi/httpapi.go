// Copyright (c) 2023–2026 The shutterbox developers. All rights reserved.
// Project site: https://github.com/MxKuna/shutterbox
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

// Package httpapi exposes a shutter worker over HTTP. The JSON surface
// mirrors the worker's remote command set: move, stepped move, stop, state
// and settings, plus a websocket status stream.
package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/MxKuna/shutterbox"
	"github.com/MxKuna/shutterbox/lib/statushub"
)

// Device is the worker surface the API drives.
type Device interface {
	Move(action shutterbox.Action, channels ...int) error
	MoveStepped(action shutterbox.Action, channels ...int) error
	StopMove(channels ...int) error
	State(channel int) (bool, error)
	Position(channel int) (int, error)
	Status() map[string]interface{}
	GetSettings(channel int) (shutterbox.Settings, error)
	UpdateSettings(channel int, u shutterbox.SettingsUpdate) error
	Connected() bool
	FirmwareVersion() string
}

// API routes HTTP requests onto a Device.
type API struct {
	device Device
	hub    *statushub.Hub
}

// New builds the API. hub may be nil when no status stream is wanted.
func New(device Device, hub *statushub.Hub) *API {
	return &API{device: device, hub: hub}
}

// Router assembles the chi routing tree.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/status", a.getStatus)
	r.Get("/connected", a.getConnected)
	r.Get("/state/{channel}", a.getState)
	r.Post("/move", a.postMove)
	r.Post("/move/stepped", a.postMoveStepped)
	r.Post("/stop", a.postStop)
	r.Route("/settings/{channel}", func(r chi.Router) {
		r.Get("/", a.getSettings)
		r.Patch("/", a.patchSettings)
	})
	if a.hub != nil {
		r.Get("/ws", a.hub.ServeHTTP)
	}
	return r
}

//---
// Payloads
//---

type movePayload struct {
	Action   string `json:"action"`
	Channels []int  `json:"channels"`
}

func (m *movePayload) Bind(r *http.Request) error {
	if _, err := shutterbox.ParseAction(m.Action); err != nil {
		return err
	}
	if len(m.Channels) == 0 {
		return errNoChannels
	}
	return nil
}

type stopPayload struct {
	Channels []int `json:"channels"`
}

func (s *stopPayload) Bind(r *http.Request) error {
	if len(s.Channels) == 0 {
		return errNoChannels
	}
	return nil
}

type settingsPayload struct {
	Name      *string  `json:"name,omitempty"`
	ClosedPW  *int     `json:"closed_pw,omitempty"`
	OpenPW    *int     `json:"open_pw,omitempty"`
	StepDeg   *float64 `json:"step_deg,omitempty"`
	StepDelay *string  `json:"step_delay,omitempty"`

	stepDelay *time.Duration
}

func (s *settingsPayload) Bind(r *http.Request) error {
	for _, pw := range []*int{s.ClosedPW, s.OpenPW} {
		if pw != nil && (*pw < shutterbox.MinPulseWidth || *pw > shutterbox.MaxPulseWidth) {
			return errPulseRange
		}
	}
	if s.StepDelay != nil {
		d, err := time.ParseDuration(*s.StepDelay)
		if err != nil {
			return err
		}
		s.stepDelay = &d
	}
	return nil
}

func (s *settingsPayload) update() shutterbox.SettingsUpdate {
	return shutterbox.SettingsUpdate{
		Name:             s.Name,
		ClosedPulseWidth: s.ClosedPW,
		OpenPulseWidth:   s.OpenPW,
		StepSizeDeg:      s.StepDeg,
		StepDelay:        s.stepDelay,
	}
}

type settingsResponse struct {
	Channel   int     `json:"channel"`
	Name      string  `json:"name"`
	ClosedPW  int     `json:"closed_pw"`
	OpenPW    int     `json:"open_pw"`
	StepDeg   float64 `json:"step_deg"`
	StepDelay string  `json:"step_delay"`
}

type stateResponse struct {
	Channel  int  `json:"channel"`
	Open     bool `json:"open"`
	Position int  `json:"position"`
}

//---
// Views
//---

func (a *API) getStatus(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, a.device.Status())
}

func (a *API) getConnected(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]interface{}{
		"connected": a.device.Connected(),
		"firmware":  a.device.FirmwareVersion(),
	})
}

func (a *API) getState(w http.ResponseWriter, r *http.Request) {
	channel, ok := channelParam(w, r)
	if !ok {
		return
	}
	open, err := a.device.State(channel)
	if err != nil {
		render.Render(w, r, errRender(err))
		return
	}
	position, err := a.device.Position(channel)
	if err != nil {
		render.Render(w, r, errRender(err))
		return
	}
	render.JSON(w, r, stateResponse{Channel: channel, Open: open, Position: position})
}

func (a *API) postMove(w http.ResponseWriter, r *http.Request) {
	a.move(w, r, a.device.Move)
}

func (a *API) postMoveStepped(w http.ResponseWriter, r *http.Request) {
	a.move(w, r, a.device.MoveStepped)
}

func (a *API) move(w http.ResponseWriter, r *http.Request, fn func(shutterbox.Action, ...int) error) {
	data := &movePayload{}
	if err := render.Bind(r, data); err != nil {
		render.Render(w, r, errInvalidRequest(err))
		return
	}
	if err := fn(shutterbox.Action(data.Action), data.Channels...); err != nil {
		render.Render(w, r, errRender(err))
		return
	}
	render.JSON(w, r, map[string]bool{"ok": true})
}

func (a *API) postStop(w http.ResponseWriter, r *http.Request) {
	data := &stopPayload{}
	if err := render.Bind(r, data); err != nil {
		render.Render(w, r, errInvalidRequest(err))
		return
	}
	if err := a.device.StopMove(data.Channels...); err != nil {
		render.Render(w, r, errRender(err))
		return
	}
	render.JSON(w, r, map[string]bool{"ok": true})
}

func (a *API) getSettings(w http.ResponseWriter, r *http.Request) {
	channel, ok := channelParam(w, r)
	if !ok {
		return
	}
	s, err := a.device.GetSettings(channel)
	if err != nil {
		render.Render(w, r, errRender(err))
		return
	}
	render.JSON(w, r, settingsResponse{
		Channel:   channel,
		Name:      s.Name,
		ClosedPW:  s.ClosedPulseWidth,
		OpenPW:    s.OpenPulseWidth,
		StepDeg:   s.StepSizeDeg,
		StepDelay: s.StepDelay.String(),
	})
}

func (a *API) patchSettings(w http.ResponseWriter, r *http.Request) {
	channel, ok := channelParam(w, r)
	if !ok {
		return
	}
	data := &settingsPayload{}
	if err := render.Bind(r, data); err != nil {
		render.Render(w, r, errInvalidRequest(err))
		return
	}
	if err := a.device.UpdateSettings(channel, data.update()); err != nil {
		render.Render(w, r, errRender(err))
		return
	}
	a.getSettings(w, r)
}

func channelParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	channel, err := strconv.Atoi(chi.URLParam(r, "channel"))
	if err != nil {
		render.Render(w, r, errInvalidRequest(err))
		return 0, false
	}
	return channel, true
}
