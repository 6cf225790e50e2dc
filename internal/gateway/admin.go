// Package gateway provides an HTTP server for channel control, monitoring
// and provider webhooks. It binds to loopback by default and follows the
// module system pattern.
package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/flemzord/sbridge/internal/config"
	"github.com/flemzord/sbridge/internal/core"
	"github.com/flemzord/sbridge/internal/security"
)

const reloadTimeout = 30 * time.Second

// moduleJSON describes one compiled-in module for /api/modules.
type moduleJSON struct {
	ID         string `json:"id"`
	Namespace  string `json:"namespace"`
	Name       string `json:"name"`
	Configured bool   `json:"configured"`
}

// readConfig loads the file the process was started with. On failure it
// has already written the response.
func (g *Gateway) readConfig(w http.ResponseWriter) (*config.Config, bool) {
	if g.configPath == "" {
		writeError(w, http.StatusServiceUnavailable, "config path not set")
		return nil, false
	}
	cfg, err := config.Load(g.configPath)
	if err != nil {
		g.logger.Warn("admin: config unreadable", "path", g.configPath, "error", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	return cfg, true
}

// redactedView renders cfg as a generic JSON tree with every secret-looking
// value replaced. Module sections are decoded from YAML so their keys are
// visible to the redactor.
func redactedView(cfg *config.Config) (map[string]any, error) {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	view := map[string]any{}
	if err := json.Unmarshal(raw, &view); err != nil {
		return nil, err
	}
	view["modules"] = cfg.ModuleMap()
	security.NewRedactor().RedactMap(view)
	return view, nil
}

func (g *Gateway) handleGetConfig() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		cfg, ok := g.readConfig(w)
		if !ok {
			return
		}
		view, err := redactedView(cfg)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "rendering config: "+err.Error())
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

// handleReloadConfig validates the file on disk before handing it to the
// reload handler. An invalid file leaves the running modules untouched.
func (g *Gateway) handleReloadConfig() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cfg, ok := g.readConfig(w)
		if !ok {
			return
		}
		if err := config.Validate(cfg); err != nil {
			g.logger.Warn("admin: reload rejected", "error", err)
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		if g.reloader != nil {
			ctx, cancel := context.WithTimeout(r.Context(), reloadTimeout)
			defer cancel()
			if err := g.reloader.HandleReload(ctx, g.configPath); err != nil {
				g.logger.Error("admin: reload failed", "error", err)
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
		}
		g.audit(security.EventConfigChange, r, "", "reload", nil)
		g.logger.Info("admin: configuration reloaded", "path", g.configPath)
		writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
	}
}

// handleGetAllModules lists every compiled-in module and whether the
// current config file enables it.
func (g *Gateway) handleGetAllModules() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		enabled := map[string]bool{}
		if g.configPath != "" {
			if cfg, err := config.Load(g.configPath); err == nil {
				for id := range cfg.Modules {
					enabled[id] = true
				}
			}
		}

		infos := core.GetModules()
		out := make([]moduleJSON, len(infos))
		for i, info := range infos {
			out[i] = moduleJSON{
				ID:         string(info.ID),
				Namespace:  info.ID.Namespace(),
				Name:       info.ID.Name(),
				Configured: enabled[string(info.ID)],
			}
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
