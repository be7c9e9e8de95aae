package network

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Faultbox/scenetag/internal/network/packets"
)

type result struct {
	client *Client
	err    error
}

func echoServer(t *testing.T) (*httptest.Server, <-chan result) {
	t.Helper()
	done := make(chan result, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		c := New(conn)
		err = c.Process(context.Background(), func(msg packets.Inbound) error {
			if msg.Type == "fail" {
				return errors.New("handler failed")
			}
			return c.Send(packets.Outbound{Type: "echo", Data: msg.Type})
		})
		c.Disconnect()
		done <- result{client: c, err: err}
	}))
	t.Cleanup(srv.Close)
	return srv, done
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestProcess_KeepsReadingAfterHandlerError(t *testing.T) {
	srv, done := echoServer(t)
	conn := dial(t, srv)

	for _, typ := range []string{"fail", "ping"} {
		if err := conn.WriteJSON(packets.Inbound{Type: typ}); err != nil {
			t.Fatalf("write %s: %v", typ, err)
		}
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var out struct {
		Type string `json:"type"`
		Data string `json:"data"`
	}
	if err := conn.ReadJSON(&out); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if out.Type != "echo" || out.Data != "ping" {
		t.Errorf("expected echo of ping, got %+v", out)
	}

	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	select {
	case res := <-done:
		if res.err != nil {
			t.Errorf("expected clean close, got %v", res.err)
		}
		if res.client.IsConnected() {
			t.Error("expected client disconnected")
		}
		if err := res.client.Send(packets.Outbound{Type: "late"}); !errors.Is(err, ErrNotConnected) {
			t.Errorf("expected ErrNotConnected, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Process did not return")
	}
}

func TestProcess_SkipsUntypedFrames(t *testing.T) {
	srv, _ := echoServer(t)
	conn := dial(t, srv)

	conn.WriteMessage(websocket.TextMessage, []byte(`{"data":{}}`))
	conn.WriteJSON(packets.Inbound{Type: "load"})

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var out struct {
		Type string `json:"type"`
		Data string `json:"data"`
	}
	if err := conn.ReadJSON(&out); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if out.Data != "load" {
		t.Errorf("expected first reply for load, got %+v", out)
	}
}
