package meta

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

const (
	testToken  = "EAAB-test-token"
	testSecret = "app-secret"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// graphCall is one request received by fakeGraph.
type graphCall struct {
	method string
	path   string
	query  map[string]string
	auth   string
	body   []byte
	ctype  string
}

// graphReply is what a fakeGraph handler answers. A zero Status means 200.
type graphReply struct {
	Status int
	Body   any
}

func graphError(status, code int, msg string) graphReply {
	return graphReply{Status: status, Body: map[string]any{"error": map[string]any{
		"message": msg, "type": "OAuthException", "code": code, "fbtrace_id": "trace",
	}}}
}

// fakeGraph is an httptest Graph API. Paths are matched without the version
// prefix, for example "POST me/messages".
type fakeGraph struct {
	t        *testing.T
	srv      *httptest.Server
	mu       sync.Mutex
	calls    []graphCall
	handlers map[string]func(graphCall) graphReply
}

func newFakeGraph(t *testing.T) *fakeGraph {
	t.Helper()
	f := &fakeGraph{t: t, handlers: make(map[string]func(graphCall) graphReply)}
	f.srv = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeGraph) handle(route string, h func(graphCall) graphReply) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[route] = h
}

func (f *fakeGraph) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	call := graphCall{
		method: r.Method,
		path:   strings.TrimPrefix(r.URL.Path, "/"+defaultAPIVersion+"/"),
		query:  map[string]string{},
		auth:   r.Header.Get("Authorization"),
		body:   body,
		ctype:  r.Header.Get("Content-Type"),
	}
	for k := range r.URL.Query() {
		call.query[k] = r.URL.Query().Get(k)
	}

	f.mu.Lock()
	f.calls = append(f.calls, call)
	h := f.handlers[call.method+" "+call.path]
	f.mu.Unlock()

	reply := graphReply{Body: map[string]any{"success": true}}
	switch {
	case h != nil:
		reply = h(call)
	case call.method == http.MethodGet && (call.path == "me" || call.path == "1234"):
		reply = graphReply{Body: map[string]any{"id": "1234", "name": "Test Page"}}
	case call.method == http.MethodPost && strings.HasSuffix(call.path, "/messages"):
		reply = graphReply{Body: map[string]any{"recipient_id": "u1", "message_id": "m_out"}}
	}

	w.Header().Set("Content-Type", "application/json")
	if reply.Status != 0 {
		w.WriteHeader(reply.Status)
	}
	if err := json.NewEncoder(w).Encode(reply.Body); err != nil {
		f.t.Errorf("encode response: %v", err)
	}
}

// callsTo returns the recorded calls for route.
func (f *fakeGraph) callsTo(route string) []graphCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []graphCall
	for _, c := range f.calls {
		if c.method+" "+c.path == route {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeGraph) config(p *platform) *Config {
	cfg := &Config{
		AccessToken:    testToken,
		VerifyToken:    "verify-me",
		APIURL:         f.srv.URL,
		RequestTimeout: 5 * time.Second,
	}
	cfg.defaults(p)
	return cfg
}

// decodeSend unmarshals the JSON body of a send call.
func decodeSend(t *testing.T, c graphCall) sendRequest {
	t.Helper()
	var req sendRequest
	if err := json.Unmarshal(c.body, &req); err != nil {
		t.Fatalf("decode send body %s: %v", c.body, err)
	}
	return req
}
