package telegram

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"
)

const testToken = "123456:test-token"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		t.Errorf("encode response: %v", err)
	}
}

// apiCall is one request received by fakeBot.
type apiCall struct {
	method string
	form   url.Values
	files  map[string][]byte
}

// apiReply is what a fakeBot handler answers. A zero Code means success.
type apiReply struct {
	Result     any
	Code       int
	Desc       string
	RetryAfter int
}

// fakeBot is an httptest Bot API. Methods without a handler answer true,
// except getMe which answers a bot user.
type fakeBot struct {
	t        *testing.T
	srv      *httptest.Server
	mu       sync.Mutex
	calls    []apiCall
	handlers map[string]func(form url.Values) apiReply
	files    map[string][]byte
}

func newFakeBot(t *testing.T) *fakeBot {
	t.Helper()
	f := &fakeBot{
		t:        t,
		handlers: make(map[string]func(url.Values) apiReply),
		files:    make(map[string][]byte),
	}
	f.srv = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeBot) handle(method string, h func(form url.Values) apiReply) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[method] = h
}

func (f *fakeBot) serve(w http.ResponseWriter, r *http.Request) {
	if rest, ok := strings.CutPrefix(r.URL.Path, "/file/bot"+testToken+"/"); ok {
		f.mu.Lock()
		data, found := f.files[rest]
		f.mu.Unlock()
		if !found {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(data)
		return
	}

	method, ok := strings.CutPrefix(r.URL.Path, "/bot"+testToken+"/")
	if !ok {
		writeJSON(f.t, w, map[string]any{"ok": false, "error_code": 401, "description": "Unauthorized"})
		return
	}
	if err := r.ParseMultipartForm(1 << 20); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		f.t.Errorf("parse form: %v", err)
	}
	call := apiCall{method: method, form: r.Form, files: make(map[string][]byte)}
	if r.MultipartForm != nil {
		for field, headers := range r.MultipartForm.File {
			file, err := headers[0].Open()
			if err != nil {
				f.t.Errorf("open part %s: %v", field, err)
				continue
			}
			data, _ := io.ReadAll(file)
			_ = file.Close()
			call.files[field] = data
		}
	}

	f.mu.Lock()
	f.calls = append(f.calls, call)
	h := f.handlers[method]
	f.mu.Unlock()

	reply := apiReply{Result: true}
	switch {
	case h != nil:
		reply = h(r.Form)
	case method == "getMe":
		reply = apiReply{Result: map[string]any{"id": 42, "is_bot": true, "first_name": "Test", "username": "test_bot"}}
	case method == "getUpdates":
		// Keep long polling cheap in tests.
		time.Sleep(10 * time.Millisecond)
		reply = apiReply{Result: []any{}}
	}

	if reply.Code != 0 {
		body := map[string]any{"ok": false, "error_code": reply.Code, "description": reply.Desc}
		if reply.RetryAfter > 0 {
			body["parameters"] = map[string]any{"retry_after": reply.RetryAfter}
		}
		writeJSON(f.t, w, body)
		return
	}
	writeJSON(f.t, w, map[string]any{"ok": true, "result": reply.Result})
}

// callsTo returns the recorded calls for method.
func (f *fakeBot) callsTo(method string) []apiCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []apiCall
	for _, c := range f.calls {
		if c.method == method {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeBot) config() *Config {
	cfg := &Config{
		ChannelID:      "tg-test",
		Token:          testToken,
		APIURL:         f.srv.URL,
		PollingTimeout: 1,
		RequestTimeout: 5 * time.Second,
	}
	cfg.defaults()
	return cfg
}

// sentMessage answers a send call with a message in chat.
func sentMessage(id int, chat int64) apiReply {
	return apiReply{Result: map[string]any{
		"message_id": id,
		"date":       1700000000,
		"chat":       map[string]any{"id": chat, "type": "private"},
	}}
}
