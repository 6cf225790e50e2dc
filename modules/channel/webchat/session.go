package webchat

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// visitor is one connected widget.
type visitor struct {
	id          string
	name        string
	email       string
	conn        *websocket.Conn
	connectedAt time.Time

	mu       sync.Mutex
	lastSeen time.Time
}

func (v *visitor) touch() {
	v.mu.Lock()
	v.lastSeen = time.Now()
	v.mu.Unlock()
}

func (v *visitor) seen() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.lastSeen
}

// write sends one frame. Conn.Write is safe for concurrent use.
func (v *visitor) write(ctx context.Context, env envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return v.conn.Write(ctx, websocket.MessageText, data)
}

// sessionStore holds the connected visitors by session id.
type sessionStore struct {
	mu       sync.RWMutex
	visitors map[string]*visitor
}

func newSessionStore() *sessionStore {
	return &sessionStore{visitors: make(map[string]*visitor)}
}

// add stores v unless the store is full. A visitor already holding the
// same session id is replaced and returned so the caller can close it.
func (s *sessionStore) add(v *visitor, limit int) (replaced *visitor, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, exists := s.visitors[v.id]; exists {
		s.visitors[v.id] = v
		return old, true
	}
	if len(s.visitors) >= limit {
		return nil, false
	}
	s.visitors[v.id] = v
	return nil, true
}

// remove deletes v, leaving any newer socket for the same session alone.
func (s *sessionStore) remove(v *visitor) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.visitors[v.id] != v {
		return false
	}
	delete(s.visitors, v.id)
	return true
}

func (s *sessionStore) get(id string) (*visitor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.visitors[id]
	return v, ok
}

func (s *sessionStore) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.visitors)
}

// drain empties the store and returns what it held.
func (s *sessionStore) drain() []*visitor {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*visitor, 0, len(s.visitors))
	for id, v := range s.visitors {
		out = append(out, v)
		delete(s.visitors, id)
	}
	return out
}
