package gateway

import (
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
)

// ServiceSocketRouter is the service name of the *SocketRouter.
const ServiceSocketRouter = "gateway.socket_router"

// SocketRouter routes GET /ws/{source} to long-lived connection handlers
// registered by channel modules, such as the web chat widget endpoint.
type SocketRouter struct {
	mu       sync.RWMutex
	handlers map[string]http.Handler
	logger   *slog.Logger
}

// NewSocketRouter creates an empty router.
func NewSocketRouter(logger *slog.Logger) *SocketRouter {
	return &SocketRouter{
		handlers: make(map[string]http.Handler),
		logger:   logger,
	}
}

// Register mounts h for source, replacing any previous handler.
func (s *SocketRouter) Register(source string, h http.Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[source] = h
}

// Unregister removes the handler for source.
func (s *SocketRouter) Unregister(source string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.handlers, source)
}

// Sources returns the mounted source names in sorted order.
func (s *SocketRouter) Sources() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.handlers))
	for src := range s.handlers {
		out = append(out, src)
	}
	slices.Sort(out)
	return out
}

// ServeHTTP implements http.Handler. The server read and write timeouts
// are lifted for the connection, since sockets outlive any request.
func (s *SocketRouter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	source := chi.URLParam(r, "source")
	s.mu.RLock()
	h, ok := s.handlers[source]
	s.mu.RUnlock()
	if !ok {
		s.logger.Warn("socket requested for unregistered source", "source", source)
		http.Error(w, "unknown socket source", http.StatusNotFound)
		return
	}

	rc := http.NewResponseController(w)
	_ = rc.SetReadDeadline(time.Time{})
	_ = rc.SetWriteDeadline(time.Time{})
	h.ServeHTTP(w, r)
}
