package telegram

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type sourceReply struct {
	updates []tgbotapi.Update
	err     error
}

// scriptedSource replays replies in order, then blocks until cancelled.
type scriptedSource struct {
	mu      sync.Mutex
	replies []sourceReply
	offsets []int
}

func (s *scriptedSource) GetUpdates(ctx context.Context, cfg tgbotapi.UpdateConfig) ([]tgbotapi.Update, error) {
	s.mu.Lock()
	s.offsets = append(s.offsets, cfg.Offset)
	if len(s.replies) > 0 {
		r := s.replies[0]
		s.replies = s.replies[1:]
		s.mu.Unlock()
		return r.updates, r.err
	}
	s.mu.Unlock()
	<-ctx.Done()
	return nil, ctx.Err()
}

func (s *scriptedSource) seenOffsets() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.offsets...)
}

type updateLog struct {
	mu  sync.Mutex
	ids []int
}

func (l *updateLog) handle(u *tgbotapi.Update) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ids = append(l.ids, u.UpdateID)
}

func (l *updateLog) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.ids)
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func testPollerConfig() *Config {
	cfg := &Config{Token: testToken}
	cfg.defaults()
	return cfg
}

func TestPoller_AdvancesOffset(t *testing.T) {
	t.Parallel()

	src := &scriptedSource{replies: []sourceReply{
		{updates: []tgbotapi.Update{{UpdateID: 10}, {UpdateID: 11}}},
		{updates: []tgbotapi.Update{{UpdateID: 11}, {UpdateID: 12}}},
	}}
	log := &updateLog{}
	p := newPoller(src, testPollerConfig(), discardLogger(), log.handle, func(string) {})
	p.start()
	waitUntil(t, func() bool { return len(src.seenOffsets()) >= 3 })
	p.stop()

	offsets := src.seenOffsets()
	if offsets[0] != 0 || offsets[1] != 12 || offsets[2] != 13 {
		t.Errorf("offsets = %v, want [0 12 13 ...]", offsets)
	}
	log.mu.Lock()
	defer log.mu.Unlock()
	if len(log.ids) != 3 || log.ids[2] != 12 {
		t.Errorf("handled = %v, want [10 11 12]", log.ids)
	}
}

func TestPoller_StopIsIdempotent(t *testing.T) {
	t.Parallel()

	p := newPoller(&scriptedSource{}, testPollerConfig(), discardLogger(), func(*tgbotapi.Update) {}, func(string) {})
	p.start()
	p.stop()
	p.stop()
}

func TestPoller_UnauthorizedRevokes(t *testing.T) {
	t.Parallel()

	src := &scriptedSource{replies: []sourceReply{
		{err: &tgbotapi.Error{Code: http.StatusUnauthorized, Message: "Unauthorized"}},
	}}
	revoked := make(chan string, 1)
	p := newPoller(src, testPollerConfig(), discardLogger(), func(*tgbotapi.Update) {}, func(r string) { revoked <- r })
	p.start()

	select {
	case reason := <-revoked:
		if reason != "Unauthorized" {
			t.Errorf("reason = %q", reason)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("revoked not called")
	}
	// The loop exits on its own after a revoke.
	select {
	case <-p.done:
	case <-time.After(2 * time.Second):
		t.Fatal("poller did not exit")
	}
	p.stop()
}

func TestPoller_PausesAfterConsecutiveErrors(t *testing.T) {
	t.Parallel()

	var replies []sourceReply
	for range maxConsecutivePollingErrors {
		replies = append(replies, sourceReply{err: errors.New("network down")})
	}
	replies = append(replies, sourceReply{updates: []tgbotapi.Update{{UpdateID: 1}}})
	src := &scriptedSource{replies: replies}
	log := &updateLog{}

	p := newPoller(src, testPollerConfig(), discardLogger(), log.handle, func(string) {})
	p.pause = 20 * time.Millisecond
	p.start()
	defer p.stop()

	waitUntil(t, func() bool { return log.count() == 1 })
	if got := len(src.seenOffsets()); got < maxConsecutivePollingErrors+1 {
		t.Errorf("calls = %d, want at least %d", got, maxConsecutivePollingErrors+1)
	}
}

func TestPoller_StopInterruptsPause(t *testing.T) {
	t.Parallel()

	var replies []sourceReply
	for range maxConsecutivePollingErrors {
		replies = append(replies, sourceReply{err: errors.New("network down")})
	}
	src := &scriptedSource{replies: replies}
	p := newPoller(src, testPollerConfig(), discardLogger(), func(*tgbotapi.Update) {}, func(string) {})
	p.start()
	waitUntil(t, func() bool { return len(src.seenOffsets()) == maxConsecutivePollingErrors })

	done := make(chan struct{})
	go func() {
		p.stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stop blocked during error pause")
	}
}
