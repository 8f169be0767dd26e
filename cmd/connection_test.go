// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
)

// ============================================================
// WebSocket bridge
// ============================================================

// newBridge starts a WebSocket server that answers every binary message
// with reply(message). The Authorization header of each connection is sent
// on auth.
func newBridge(t *testing.T, reply func([]byte) [][]byte) (url string, auth <-chan string) {
	t.Helper()
	seen := make(chan string, 4)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen <- r.Header.Get("Authorization")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if mt != websocket.BinaryMessage {
				continue
			}
			conn.WriteMessage(websocket.TextMessage, []byte("ignored"))
			for _, out := range reply(data) {
				if err := conn.WriteMessage(websocket.BinaryMessage, out); err != nil {
					return
				}
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http"), seen
}

func TestWebSocketRoundTrip(t *testing.T) {
	url, auth := newBridge(t, func(in []byte) [][]byte {
		// Split the reply across two messages
		return [][]byte{{0x22}, {in[0], 0x22 + in[0]}}
	})

	conn, err := OpenWebSocketConnection(url, "admin", "secret", false)
	if err != nil {
		t.Fatalf("OpenWebSocketConnection: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte{0x05}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	var got []byte
	buf := make([]byte, 1)
	for len(got) < 3 {
		n, err := conn.Read(buf)
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		got = append(got, buf[:n]...)
	}
	if string(got) != string([]byte{0x22, 0x05, 0x27}) {
		t.Errorf("read % X, want 22 05 27", got)
	}

	want := "Basic " + base64.StdEncoding.EncodeToString([]byte("admin:secret"))
	if got := <-auth; got != want {
		t.Errorf("Authorization = %q, want %q", got, want)
	}
}

func TestWebSocketClosed(t *testing.T) {
	url, _ := newBridge(t, func([]byte) [][]byte { return nil })

	conn, err := OpenWebSocketConnection(url, "", "", false)
	if err != nil {
		t.Fatalf("OpenWebSocketConnection: %v", err)
	}
	conn.Close()

	buf := make([]byte, 4)
	if _, err := conn.Read(buf); !errors.Is(err, ErrConnectionClosed) {
		t.Fatalf("Read after close: %v, want ErrConnectionClosed", err)
	}
	if _, err := conn.Read(buf); !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("second Read: %v, want ErrConnectionClosed", err)
	}
}

func TestWebSocketScheme(t *testing.T) {
	if _, err := OpenWebSocketConnection("http://localhost:1", "", "", false); err == nil {
		t.Error("http scheme should be rejected")
	}
}
