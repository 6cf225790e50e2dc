package gateway

import (
	"net/http"
	"time"

	"github.com/flemzord/sbridge/pkg/message"
)

// StatusResponse is the JSON response for GET /status.
type StatusResponse struct {
	Uptime    int64                               `json:"uptime_seconds"`
	StartedAt time.Time                           `json:"started_at"`
	Webhooks  []string                            `json:"webhooks"`
	Channels  map[string]message.ConnectionStatus `json:"channels"`
}

// handleStatus returns an http.HandlerFunc for GET /status.
func (g *Gateway) handleStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		resp := StatusResponse{
			Uptime:    int64(time.Since(g.startedAt).Seconds()),
			StartedAt: g.startedAt,
			Webhooks:  g.dispatcher.Sources(),
			Channels:  map[string]message.ConnectionStatus{},
		}
		if g.registry != nil {
			resp.Channels = g.registry.Statuses()
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
