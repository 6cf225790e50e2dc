package webchat

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/flemzord/sbridge/internal/channel/channeltest"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *Config {
	cfg := &Config{}
	cfg.defaults()
	return cfg
}

// serve dials a driver and exposes it on a test server.
func serve(t *testing.T, cfg *Config) (*driver, *channeltest.Sink, *httptest.Server) {
	t.Helper()
	d := newDriver(cfg, discardLogger())
	sink := &channeltest.Sink{}
	if err := d.Dial(context.Background(), sink); err != nil {
		t.Fatalf("Dial: %v", err)
	}
	srv := httptest.NewServer(d)
	t.Cleanup(func() {
		_ = d.Close(context.Background())
		srv.Close()
	})
	return d, sink, srv
}

// visit opens a widget socket and consumes the connect frame.
func visit(t *testing.T, srv *httptest.Server, query string) (*websocket.Conn, connectPayload) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, srv.URL+"?"+query, nil)
	if err != nil {
		t.Fatalf("websocket.Dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.CloseNow() })

	env := readFrame(t, conn)
	if env.Type != frameConnect {
		t.Fatalf("first frame = %s, want connect", env.Type)
	}
	var hello connectPayload
	if err := json.Unmarshal(env.Payload, &hello); err != nil {
		t.Fatal(err)
	}
	return conn, hello
}

func readFrame(t *testing.T, conn *websocket.Conn) envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return env
}

func writeFrame(t *testing.T, conn *websocket.Conn, typ frameType, id string, payload any) {
	t.Helper()
	env, err := newEnvelope(typ, id, payload)
	if err != nil {
		t.Fatal(err)
	}
	data, err := json.Marshal(env)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func decodePayload[T any](t *testing.T, env envelope) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(env.Payload, &v); err != nil {
		t.Fatalf("decode %s payload: %v", env.Type, err)
	}
	return v
}
