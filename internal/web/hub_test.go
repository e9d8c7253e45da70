package web

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func startHubServer(t *testing.T, hub *EventHub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		client := &Client{ID: "test-client", Conn: conn, Send: make(chan []byte, 16), Hub: hub}
		hub.register <- client
		client.readPump()
	}))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestCommandsDispatchConcurrently(t *testing.T) {
	hub := NewEventHub()
	started := make(chan string, 4)
	release := make(chan struct{})
	defer close(release)
	hub.SetCommandHandler(func(client *Client, cmd Command) {
		started <- cmd.Type
		<-release
	})
	go hub.Run()

	conn := startHubServer(t, hub)

	// The first command blocks inside its handler; the second must still
	// be dispatched.
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"commentary:trigger"}`)); err != nil {
		t.Fatal(err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"state:get"}`)); err != nil {
		t.Fatal(err)
	}

	for n := 0; n < 2; n++ {
		select {
		case <-started:
		case <-time.After(2 * time.Second):
			t.Fatal("a blocked command must not stall later commands")
		}
	}
}
