package rcs

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/base64"
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
	testAgent       = "acme_support_agent"
	testToken       = "ya29.test-token"
	testClientToken = "client-token"
	testPhone       = "+14155550100"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// rbmCall is one request received by fakeRBM.
type rbmCall struct {
	method string
	path   string
	query  map[string]string
	auth   string
	body   []byte
	ctype  string
}

type rbmReply struct {
	Status int
	Body   any
}

func rbmError(status int, state, msg string) rbmReply {
	return rbmReply{Status: status, Body: map[string]any{"error": map[string]any{
		"code": status, "message": msg, "status": state,
	}}}
}

// fakeRBM is an httptest RBM API. Routes are "METHOD /path"; phone paths
// are matched by their suffix, for example "POST agentMessages".
type fakeRBM struct {
	t        *testing.T
	srv      *httptest.Server
	mu       sync.Mutex
	calls    []rbmCall
	handlers map[string]func(rbmCall) rbmReply
}

func newFakeRBM(t *testing.T) *fakeRBM {
	t.Helper()
	f := &fakeRBM{t: t, handlers: make(map[string]func(rbmCall) rbmReply)}
	f.srv = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeRBM) handle(route string, h func(rbmCall) rbmReply) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[route] = h
}

func routeOf(c rbmCall) string {
	p := c.path
	if i := strings.LastIndexByte(p, '/'); i >= 0 && strings.HasPrefix(p, "/v1/phones/") {
		p = p[i+1:]
	}
	return c.method + " " + p
}

func (f *fakeRBM) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	call := rbmCall{
		method: r.Method,
		path:   r.URL.Path,
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
	h := f.handlers[routeOf(call)]
	f.mu.Unlock()

	reply := rbmReply{Body: map[string]any{}}
	switch {
	case h != nil:
		reply = h(call)
	case routeOf(call) == "POST agentMessages":
		reply = rbmReply{Body: map[string]any{
			"name":     strings.TrimPrefix(call.path, "/v1/") + "/" + call.query["messageId"],
			"sendTime": "2026-10-17T10:00:00.5Z",
		}}
	case routeOf(call) == "POST /upload/v1/files":
		reply = rbmReply{Body: map[string]any{"name": "files/abc123"}}
	}

	w.Header().Set("Content-Type", "application/json")
	if reply.Status != 0 {
		w.WriteHeader(reply.Status)
	}
	if err := json.NewEncoder(w).Encode(reply.Body); err != nil {
		f.t.Errorf("encode response: %v", err)
	}
}

func (f *fakeRBM) callsTo(route string) []rbmCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []rbmCall
	for _, c := range f.calls {
		if routeOf(c) == route {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeRBM) config() *Config {
	cfg := &Config{
		AgentID:        testAgent,
		AccessToken:    testToken,
		ClientToken:    testClientToken,
		APIURL:         f.srv.URL,
		RequestTimeout: 5 * time.Second,
	}
	cfg.defaults()
	return cfg
}

// decodeContent unmarshals the content message of a send call.
func decodeContent(t *testing.T, c rbmCall) contentMessage {
	t.Helper()
	var body struct {
		ContentMessage contentMessage `json:"contentMessage"`
	}
	if err := json.Unmarshal(c.body, &body); err != nil {
		t.Fatalf("decode send body %s: %v", c.body, err)
	}
	return body.ContentMessage
}

// push wraps ev the way Pub/Sub delivers it and signs the data.
func push(t *testing.T, ev any, token string) ([]byte, string) {
	t.Helper()
	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatal(err)
	}
	body, err := json.Marshal(map[string]any{
		"message": map[string]any{
			"data":        base64.StdEncoding.EncodeToString(data),
			"messageId":   "ps-1",
			"publishTime": "2026-10-17T10:00:00Z",
		},
		"subscription": "projects/rbm/subscriptions/acme",
	})
	if err != nil {
		t.Fatal(err)
	}
	mac := hmac.New(sha512.New, []byte(token))
	mac.Write(data)
	return body, base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func ptr[T any](v T) *T { return &v }
