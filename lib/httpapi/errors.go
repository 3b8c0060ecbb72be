// Copyright (c) 2023–2026 The shutterbox developers. All rights reserved.
// Project site: https://github.com/MxKuna/shutterbox
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package httpapi

import (
	"errors"
	"net/http"

	"github.com/go-chi/render"

	"github.com/MxKuna/shutterbox"
)

var (
	errNoChannels = errors.New("at least one channel is required")
	errPulseRange = errors.New("pulse width outside servo limits")
)

type errResponse struct {
	Err        error `json:"-"`
	StatusCode int   `json:"-"`

	StatusText string `json:"status"`
	ErrorText  string `json:"error,omitempty"`
}

func (e *errResponse) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.StatusCode)
	return nil
}

func errInvalidRequest(err error) render.Renderer {
	return &errResponse{
		Err:        err,
		StatusCode: http.StatusBadRequest,
		StatusText: "invalid request",
		ErrorText:  err.Error(),
	}
}

// errRender maps device errors to HTTP statuses: range errors are the
// caller's fault, a lost device is 503, everything else is a 500.
func errRender(err error) render.Renderer {
	var rangeErr shutterbox.RangeError
	switch {
	case errors.As(err, &rangeErr):
		return errInvalidRequest(err)
	case errors.Is(err, shutterbox.ErrNotConnected), errors.Is(err, shutterbox.ErrTimeout):
		return &errResponse{
			Err:        err,
			StatusCode: http.StatusServiceUnavailable,
			StatusText: "device unavailable",
			ErrorText:  err.Error(),
		}
	}
	return &errResponse{
		Err:        err,
		StatusCode: http.StatusInternalServerError,
		StatusText: "device error",
		ErrorText:  err.Error(),
	}
}
