package gateway

import (
	"net/http"
	"sort"

	"github.com/flemzord/sbridge/pkg/message"
)

// HealthResponse is the JSON response for GET /health.
type HealthResponse struct {
	Status   string          `json:"status"` // "ok" or "degraded"
	Channels []channelHealth `json:"channels"`
}

type channelHealth struct {
	ID        string `json:"id"`
	Connected bool   `json:"connected"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

// handleHealth returns an http.HandlerFunc for GET /health.
// Returns 200 when no channel reports an error, 503 otherwise. A channel
// that is merely disconnected is not unhealthy.
func (g *Gateway) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		resp := HealthResponse{
			Status:   "ok",
			Channels: []channelHealth{},
		}

		if g.registry != nil {
			for id, st := range g.registry.Statuses() {
				resp.Channels = append(resp.Channels, healthOf(id, st))
				if st.Error != "" {
					resp.Status = "degraded"
				}
			}
			sort.Slice(resp.Channels, func(i, j int) bool {
				return resp.Channels[i].ID < resp.Channels[j].ID
			})
		}

		code := http.StatusOK
		if resp.Status == "degraded" {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, resp)
	}
}

func healthOf(id string, st message.ConnectionStatus) channelHealth {
	return channelHealth{
		ID:        id,
		Connected: st.Connected,
		Status:    st.Status,
		Error:     st.Error,
	}
}
