package security

import (
	"regexp"
	"slices"
	"strings"
	"sync"
)

// RedactPlaceholder replaces every redacted secret.
const RedactPlaceholder = "***REDACTED***"

// minLiteral is the shortest registered secret that is redacted verbatim.
// Shorter values would shred ordinary log text.
const minLiteral = 4

// secretKey matches config keys whose values are secrets, such as
// "token", "app_secret", "verify_token", "basic_pass" or "bearer_tokens".
var secretKey = regexp.MustCompile(`(?i)(secret|token|password|pass|api_key|credential)s?$`)

// rule replaces matches of re with repl. repl may reference groups so
// that, for example, a query parameter name survives its value.
type rule struct {
	re   *regexp.Regexp
	repl string
}

var providerRules = []rule{
	// Telegram bot token, also inside API URLs: .../bot123456:AA.../getMe
	{re: regexp.MustCompile(`[0-9]{6,12}:[A-Za-z0-9_-]{30,}`), repl: RedactPlaceholder},
	// Meta Graph access tokens.
	{re: regexp.MustCompile(`\bEAA[A-Za-z0-9]{20,}`), repl: RedactPlaceholder},
	{re: regexp.MustCompile(`(?i)\b(bearer\s+)[A-Za-z0-9._~+/-]{16,}=*`), repl: "${1}" + RedactPlaceholder},
	// access_token=..., hub.verify_token=..., appsecret_proof=...
	{re: regexp.MustCompile(`(?i)\b((?:access_token|verify_token|appsecret_proof)=)[^&\s"]+`), repl: "${1}" + RedactPlaceholder},
	// Telegram webhook secret header as printed by httputil dumps.
	{re: regexp.MustCompile(`(?i)(X-Telegram-Bot-Api-Secret-Token:\s*)\S+`), repl: "${1}" + RedactPlaceholder},
}

// Redactor scrubs provider credentials from text: known token shapes by
// pattern, and the exact values registered at runtime. It is safe for
// concurrent use.
type Redactor struct {
	mu       sync.RWMutex
	rules    []rule
	secrets  []string
	replacer *strings.Replacer
}

// NewRedactor creates a Redactor with the provider token patterns.
func NewRedactor() *Redactor {
	return &Redactor{rules: providerRules}
}

// AddLiteral registers one more secret value.
func (r *Redactor) AddLiteral(secret string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.setSecrets(append(r.secrets, secret))
}

// SyncCredentials replaces the registered values with the contents of
// store. Call it once modules have been provisioned.
func (r *Redactor) SyncCredentials(store *CredentialStore) {
	values := store.Values()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.setSecrets(values)
}

// setSecrets rebuilds the literal replacer, longest secret first. Callers
// hold mu.
func (r *Redactor) setSecrets(secrets []string) {
	kept := secrets[:0:0]
	for _, s := range secrets {
		if len(s) >= minLiteral {
			kept = append(kept, s)
		}
	}
	slices.SortFunc(kept, func(a, b string) int {
		if len(a) != len(b) {
			return len(b) - len(a)
		}
		return strings.Compare(a, b)
	})
	kept = slices.Compact(kept)

	r.secrets = kept
	r.replacer = nil
	if len(kept) == 0 {
		return
	}
	pairs := make([]string, 0, 2*len(kept))
	for _, s := range kept {
		pairs = append(pairs, s, RedactPlaceholder)
	}
	r.replacer = strings.NewReplacer(pairs...)
}

// Redact returns s with every known secret replaced.
func (r *Redactor) Redact(s string) string {
	if s == "" {
		return s
	}
	r.mu.RLock()
	rules, replacer := r.rules, r.replacer
	r.mu.RUnlock()

	if replacer != nil {
		s = replacer.Replace(s)
	}
	for _, rl := range rules {
		s = rl.re.ReplaceAllString(s, rl.repl)
	}
	return s
}

// RedactMap scrubs a decoded config tree in place: values under secret
// keys are replaced outright, other strings go through Redact.
func (r *Redactor) RedactMap(m map[string]any) {
	for k, v := range m {
		if secretKey.MatchString(k) {
			m[k] = r.hide(v)
			continue
		}
		m[k] = r.walk(v)
	}
}

func (r *Redactor) hide(v any) any {
	switch t := v.(type) {
	case string:
		if t == "" {
			return t
		}
		return RedactPlaceholder
	case []any:
		for i := range t {
			t[i] = r.hide(t[i])
		}
		return t
	case map[string]any:
		r.RedactMap(t)
		return t
	}
	return v
}

func (r *Redactor) walk(v any) any {
	switch t := v.(type) {
	case string:
		return r.Redact(t)
	case []any:
		for i := range t {
			t[i] = r.walk(t[i])
		}
		return t
	case map[string]any:
		r.RedactMap(t)
		return t
	}
	return v
}
