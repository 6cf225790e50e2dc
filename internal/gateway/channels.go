package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"rsc.io/qr"

	"github.com/flemzord/sbridge/internal/channel"
	"github.com/flemzord/sbridge/internal/security"
	"github.com/flemzord/sbridge/pkg/message"
)

type channelAction string

const (
	actionConnect    channelAction = "connect"
	actionDisconnect channelAction = "disconnect"
	actionLogout     channelAction = "logout"
)

func (a channelAction) event() security.EventType {
	switch a {
	case actionConnect:
		return security.EventConnect
	case actionDisconnect:
		return security.EventDisconnect
	default:
		return security.EventLogout
	}
}

// controlTimeout bounds connect, disconnect and logout requests.
const controlTimeout = 30 * time.Second

// channelJSON is the API view of one adapter.
type channelJSON struct {
	ID           string                   `json:"id"`
	State        string                   `json:"state,omitempty"`
	Status       message.ConnectionStatus `json:"status"`
	Capabilities channel.Capabilities     `json:"capabilities"`
}

// stateReporter is implemented by adapters embedding *channel.Base.
type stateReporter interface {
	State() channel.State
}

// challengeReporter exposes the live login challenge.
type challengeReporter interface {
	CurrentChallenge() (channel.Challenge, bool)
	CurrentLogin() *channel.LoginSession
}

func describeChannel(id string, a channel.Adapter) channelJSON {
	out := channelJSON{
		ID:           id,
		Status:       a.ConnectionStatus(),
		Capabilities: a.Capabilities(),
	}
	if s, ok := a.(stateReporter); ok {
		out.State = s.State().String()
	}
	return out
}

// adapter resolves {id} or writes the error response.
func (g *Gateway) adapter(w http.ResponseWriter, r *http.Request) (string, channel.Adapter, bool) {
	id := chi.URLParam(r, "id")
	if g.registry == nil {
		writeError(w, http.StatusServiceUnavailable, "channel registry not available")
		return id, nil, false
	}
	a, ok := g.registry.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown channel: "+id)
		return id, nil, false
	}
	return id, a, true
}

func (g *Gateway) handleListChannels() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		out := []channelJSON{}
		if g.registry != nil {
			for _, id := range g.registry.Names() {
				if a, ok := g.registry.Get(id); ok {
					out = append(out, describeChannel(id, a))
				}
			}
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func (g *Gateway) handleGetChannel() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, a, ok := g.adapter(w, r)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, describeChannel(id, a))
	}
}

func (g *Gateway) handleChannelAction(action channelAction) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, a, ok := g.adapter(w, r)
		if !ok {
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), controlTimeout)
		defer cancel()

		var err error
		switch action {
		case actionConnect:
			err = a.Connect(ctx)
		case actionDisconnect:
			err = a.Disconnect(ctx)
		case actionLogout:
			err = a.Logout(ctx)
		}
		g.metrics.control(id, string(action), err)
		g.audit(action.event(), r, id, string(action), err)

		if err != nil {
			g.logger.Warn("channel action failed", "channel", id, "action", action, "error", err)
			writeError(w, statusFor(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, describeChannel(id, a))
	}
}

type loginRequest struct {
	Mode  string `json:"mode"`
	Phone string `json:"phone"`
}

type loginResponse struct {
	Mode      channel.LoginMode  `json:"mode"`
	Challenge *channel.Challenge `json:"challenge,omitempty"`
}

// handleLogin starts an interactive login and returns the first challenge
// when the driver produces one quickly.
func (g *Gateway) handleLogin() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, a, ok := g.adapter(w, r)
		if !ok {
			return
		}

		var req loginRequest
		if r.ContentLength != 0 {
			if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, "invalid JSON body")
				return
			}
		}
		mode, err := channel.ParseLoginMode(req.Mode)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		ls, err := a.BeginInteractiveLogin(r.Context(), mode, req.Phone)
		g.metrics.control(id, "login", err)
		g.audit(security.EventLoginStart, r, id, "login", err)
		if err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}

		resp := loginResponse{Mode: ls.Mode()}
		select {
		case c := <-ls.Challenges():
			resp.Challenge = &c
		case <-ls.Done():
			if err := ls.Err(); err != nil {
				writeError(w, statusFor(err), err.Error())
				return
			}
		case <-time.After(5 * time.Second):
		case <-r.Context().Done():
		}
		writeJSON(w, http.StatusAccepted, resp)
	}
}

func (g *Gateway) handleCancelLogin() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, a, ok := g.adapter(w, r)
		if !ok {
			return
		}
		cr, ok := a.(challengeReporter)
		if !ok || cr.CurrentLogin() == nil {
			writeError(w, http.StatusNotFound, "no login in progress")
			return
		}
		cr.CurrentLogin().Cancel()
		w.WriteHeader(http.StatusNoContent)
	}
}

// handleQR renders the current QR challenge as a PNG.
func (g *Gateway) handleQR() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, a, ok := g.adapter(w, r)
		if !ok {
			return
		}
		cr, ok := a.(challengeReporter)
		if !ok {
			writeError(w, http.StatusNotFound, "channel has no interactive login")
			return
		}
		c, ok := cr.CurrentChallenge()
		if !ok || c.Kind != channel.LoginQR || c.Expired(time.Now()) {
			writeError(w, http.StatusNotFound, "no QR code pending")
			return
		}

		code, err := qr.Encode(c.Code, qr.M)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "qr encode failed")
			return
		}
		code.Scale = max(1, g.config.QRSize/code.Size)

		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-store")
		_, _ = w.Write(code.PNG())
	}
}

// handleSend delivers an outbound message. Delivery failures come back as
// a SendResult with 502, not as a transport error.
func (g *Gateway) handleSend() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, _, ok := g.adapter(w, r)
		if !ok {
			return
		}

		var msg message.OutboundMessage
		body, err := security.ReadPayload(r.Body, g.config.MaxWebhookBody)
		if err != nil {
			status := http.StatusBadRequest
			if errors.Is(err, security.ErrPayloadTooLarge) {
				status = http.StatusRequestEntityTooLarge
			}
			writeError(w, status, err.Error())
			return
		}
		if err := json.Unmarshal(body, &msg); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if msg.ContentType == "" {
			msg.ContentType = message.ContentText
		}

		res := g.registry.Send(r.Context(), id, msg)
		var sendErr error
		if !res.Success {
			sendErr = errors.New(res.Error)
		}
		g.metrics.control(id, "send", sendErr)
		g.audit(security.EventSend, r, id, "send", sendErr)
		if sendErr != nil {
			writeJSON(w, http.StatusBadGateway, res)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func (g *Gateway) audit(t security.EventType, r *http.Request, id, action string, err error) {
	if g.auditLogger == nil {
		return
	}
	meta := map[string]string{
		"channel":     id,
		"action":      action,
		"remote_addr": r.RemoteAddr,
	}
	if err != nil {
		meta["error"] = err.Error()
	}
	g.auditLogger.Log(security.AuditEvent{Type: t, Detail: action, Metadata: meta})
}

// statusFor maps adapter errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, channel.ErrNoChannel):
		return http.StatusNotFound
	case errors.Is(err, channel.ErrAlreadyConnecting),
		errors.Is(err, channel.ErrAlreadyAuthenticated),
		errors.Is(err, channel.ErrClientNotReady),
		errors.Is(err, channel.ErrSessionLocked):
		return http.StatusConflict
	case errors.Is(err, channel.ErrChallengeExpired),
		errors.Is(err, channel.ErrLoginCancelled):
		return http.StatusGone
	case errors.Is(err, channel.ErrNotSupported):
		return http.StatusNotImplemented
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
