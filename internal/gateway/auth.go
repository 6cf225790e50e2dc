package gateway

import (
	"crypto/sha256"
	"crypto/subtle"
	"net"
	"net/http"
	"strings"

	"github.com/flemzord/sbridge/internal/security"
)

// authMiddleware guards the control API with a bearer token or basic
// credentials. Requests are rate limited per client address and every
// attempt is audited.
func authMiddleware(cfg AuthConfig, audit *security.AuditLogger, limiter *security.RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client := clientAddr(r)
			if limiter != nil {
				if err := limiter.AllowKey(security.KindAuth + ":" + client); err != nil {
					w.Header().Set("Retry-After", "60")
					writeError(w, http.StatusTooManyRequests, "too many requests")
					return
				}
			}

			scheme, ok := authenticate(cfg, r)
			event := security.AuditEvent{
				Type:   security.EventAuthSuccess,
				Actor:  client,
				Detail: scheme,
				Metadata: map[string]string{
					"method": r.Method,
					"path":   r.URL.Path,
				},
			}
			if !ok {
				event.Type = security.EventAuthFailure
			}
			if audit != nil {
				audit.Log(event)
			}
			if !ok {
				w.Header().Set("WWW-Authenticate", `Bearer realm="sbridge"`)
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// authenticate reports the scheme the request used and whether its
// credentials match. A scheme that is not configured never matches.
func authenticate(cfg AuthConfig, r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "none", false
	}
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		return "bearer", cfg.BearerToken != "" && secretEqual(token, cfg.BearerToken)
	}
	if user, pass, ok := r.BasicAuth(); ok {
		if cfg.BasicUser == "" || cfg.BasicPass == "" {
			return "basic", false
		}
		userOK := secretEqual(user, cfg.BasicUser)
		passOK := secretEqual(pass, cfg.BasicPass)
		return "basic", userOK && passOK
	}
	return "unknown", false
}

// secretEqual compares digests so neither content nor length leaks
// through timing.
func secretEqual(got, want string) bool {
	a := sha256.Sum256([]byte(got))
	b := sha256.Sum256([]byte(want))
	return subtle.ConstantTimeCompare(a[:], b[:]) == 1
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
