package transport

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func wsURL(server *httptest.Server, query string) string {
	return "ws" + strings.TrimPrefix(server.URL, "http") + query
}

func dial(t *testing.T, server *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(server, query), nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	return env
}

func writeEnvelope(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	msg, err := json.Marshal(Envelope{Event: event, Data: raw})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		t.Fatalf("write failed: %v", err)
	}
}

func TestAuthenticationRejectsBadSecret(t *testing.T) {
	srv := NewServer(Config{SecretKey: "s3cret"}, nil)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	tests := []struct {
		name  string
		query string
	}{
		{"missing secret", ""},
		{"wrong secret", "?secret=wrong"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, resp, err := websocket.DefaultDialer.Dial(wsURL(ts, tt.query), nil)
			if err == nil {
				t.Fatal("dial succeeded, want handshake rejection")
			}
			if resp == nil || resp.StatusCode != http.StatusUnauthorized {
				t.Errorf("status = %v, want 401", resp)
			}
		})
	}
}

func TestAuthenticationAcceptsHeaderSecret(t *testing.T) {
	srv := NewServer(Config{SecretKey: "s3cret"}, nil)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	header := http.Header{}
	header.Set(SecretHeader, "s3cret")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts, ""), header)
	if err != nil {
		t.Fatalf("dial with header secret failed: %v", err)
	}
	conn.Close()
}

func TestBoundEventHandlerReceivesPayload(t *testing.T) {
	srv := NewServer(Config{SecretKey: "s3cret"}, nil)
	srv.OnConnection(func(s Socket) {
		s.On("echo", func(payload []byte) {
			s.Emit("echo", payload)
		})
	})
	ts := httptest.NewServer(srv)
	defer ts.Close()

	conn := dial(t, ts, "?secret=s3cret")

	writeEnvelope(t, conn, "echo", map[string]string{"hello": "world"})

	env := readEnvelope(t, conn)
	if env.Event != "echo" {
		t.Errorf("event = %q, want %q", env.Event, "echo")
	}
	var got map[string]string
	if err := json.Unmarshal(env.Data, &got); err != nil {
		t.Fatalf("unmarshal data: %v", err)
	}
	if got["hello"] != "world" {
		t.Errorf("payload = %v, want hello=world", got)
	}
}

func TestUnknownEventIsIgnored(t *testing.T) {
	srv := NewServer(Config{SecretKey: "s3cret"}, nil)
	srv.OnConnection(func(s Socket) {
		s.On("known", func(payload []byte) {
			s.Emit("known", payload)
		})
	})
	ts := httptest.NewServer(srv)
	defer ts.Close()

	conn := dial(t, ts, "?secret=s3cret")

	writeEnvelope(t, conn, "unknown", map[string]string{"x": "1"})
	writeEnvelope(t, conn, "known", map[string]string{"x": "2"})

	// Only the known event comes back; the unknown one was dropped without
	// closing the connection.
	env := readEnvelope(t, conn)
	if env.Event != "known" {
		t.Errorf("event = %q, want %q", env.Event, "known")
	}
}

func TestEmitToRoomHonorsExclusion(t *testing.T) {
	srv := NewServer(Config{SecretKey: "s3cret"}, nil)
	ids := make(chan string, 2)
	srv.OnConnection(func(s Socket) {
		s.Join("room1")
		ids <- s.ID()
	})
	ts := httptest.NewServer(srv)
	defer ts.Close()

	excluded := dial(t, ts, "?secret=s3cret")
	includedConn := dial(t, ts, "?secret=s3cret")

	excludedID := <-ids
	<-ids

	payload := json.RawMessage(`{"text":"hi"}`)
	if err := srv.EmitToRoom("room1", "message", payload, excludedID); err != nil {
		t.Fatalf("EmitToRoom failed: %v", err)
	}

	env := readEnvelope(t, includedConn)
	if env.Event != "message" {
		t.Errorf("event = %q, want %q", env.Event, "message")
	}
	if string(env.Data) != `{"text":"hi"}` {
		t.Errorf("data = %s, want verbatim payload", env.Data)
	}

	// The excluded socket must receive nothing.
	excluded.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, _, err := excluded.ReadMessage(); err == nil {
		t.Error("excluded client received the room emit")
	}
}

func TestBroadcastReachesAllLocalSockets(t *testing.T) {
	srv := NewServer(Config{SecretKey: "s3cret"}, nil)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	a := dial(t, ts, "?secret=s3cret")
	b := dial(t, ts, "?secret=s3cret")

	waitForCount(t, srv, 2)
	srv.Broadcast("client-count-update", []byte("2"))

	for _, conn := range []*websocket.Conn{a, b} {
		env := readEnvelope(t, conn)
		if env.Event != "client-count-update" {
			t.Errorf("event = %q, want client-count-update", env.Event)
		}
		if string(env.Data) != "2" {
			t.Errorf("data = %s, want 2", env.Data)
		}
	}
}

func TestDisconnectRunsCallbacksAndFreesRoom(t *testing.T) {
	srv := NewServer(Config{SecretKey: "s3cret"}, nil)
	disconnected := make(chan string, 1)
	srv.OnConnection(func(s Socket) {
		s.Join("room1")
		s.OnDisconnect(func() { disconnected <- s.ID() })
	})
	ts := httptest.NewServer(srv)
	defer ts.Close()

	conn := dial(t, ts, "?secret=s3cret")
	waitForCount(t, srv, 1)
	conn.Close()

	select {
	case <-disconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect callback never ran")
	}

	waitForCount(t, srv, 0)
}

func waitForCount(t *testing.T, srv *Server, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if srv.LocalCount() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("LocalCount = %d, want %d", srv.LocalCount(), want)
}
