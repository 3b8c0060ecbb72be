// Copyright (c) 2023–2026 The shutterbox developers. All rights reserved.
// Project site: https://github.com/MxKuna/shutterbox
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package statushub

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dialHub(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readStatus(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var status map[string]interface{}
	if err := conn.ReadJSON(&status); err != nil {
		t.Fatal(err)
	}
	return status
}

func TestHubBroadcastsToAllSubscribers(t *testing.T) {
	hub := New(nil)
	defer hub.Close()
	srv := httptest.NewServer(hub)
	defer srv.Close()

	a := dialHub(t, srv)
	b := dialHub(t, srv)
	waitForClients(t, hub, 2)

	hub.Publish(map[string]interface{}{"connected": true, "open1": false})

	for _, conn := range []*websocket.Conn{a, b} {
		status := readStatus(t, conn)
		if status["connected"] != true {
			t.Errorf("connected = %v", status["connected"])
		}
		if status["open1"] != false {
			t.Errorf("open1 = %v", status["open1"])
		}
	}
}

func TestHubReplaysLastStatusToLateSubscriber(t *testing.T) {
	hub := New(nil)
	defer hub.Close()
	srv := httptest.NewServer(hub)
	defer srv.Close()

	hub.Publish(map[string]interface{}{"position1": float64(1400)})

	conn := dialHub(t, srv)
	status := readStatus(t, conn)
	if status["position1"] != float64(1400) {
		t.Errorf("replayed position1 = %v", status["position1"])
	}
}

func TestHubDropsDisconnectedClients(t *testing.T) {
	hub := New(nil)
	defer hub.Close()
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dialHub(t, srv)
	waitForClients(t, hub, 1)
	_ = conn.Close()
	waitForClients(t, hub, 0)

	// Publishing into an empty hub must not panic or block.
	hub.Publish(map[string]interface{}{"connected": false})
}

func waitForClients(t *testing.T, hub *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != want {
		if time.Now().After(deadline) {
			t.Fatalf("client count = %d, want %d", hub.ClientCount(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
