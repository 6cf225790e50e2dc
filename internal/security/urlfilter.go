package security

import (
	"errors"
	"fmt"
	"net/netip"
	"net/url"
	"strings"
)

// ErrURLBlocked is returned when a URL is denied by the filter.
var ErrURLBlocked = errors.New("URL blocked by filter")

// URLFilterConfig controls which media URLs the gateway may fetch.
type URLFilterConfig struct {
	// AllowDomains is the list of allowed domains. If empty and AllowAll is
	// false, every domain is blocked. Subdomains are matched: allowing
	// "example.com" also allows "cdn.example.com".
	AllowDomains []string `yaml:"allow_domains"`

	// DenyDomains takes precedence over AllowDomains and AllowAll.
	DenyDomains []string `yaml:"deny_domains"`

	// AllowAll accepts any public host not in DenyDomains.
	AllowAll bool `yaml:"allow_all"`

	// AllowPrivate permits loopback, private and link-local addresses.
	// Only meant for local development.
	AllowPrivate bool `yaml:"allow_private"`
}

// URLFilter implements URL filtering for outbound fetches: http(s) only,
// no internal addresses, then deny and allow domain lists.
type URLFilter struct {
	allow        []string
	deny         []string
	allowAll     bool
	allowPrivate bool
}

// NewURLFilter creates a URL filter from the given config.
func NewURLFilter(cfg URLFilterConfig) *URLFilter {
	return &URLFilter{
		allow:        lowerAll(cfg.AllowDomains),
		deny:         lowerAll(cfg.DenyDomains),
		allowAll:     cfg.AllowAll,
		allowPrivate: cfg.AllowPrivate,
	}
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, d := range in {
		if d = strings.ToLower(strings.TrimSpace(d)); d != "" {
			out = append(out, d)
		}
	}
	return out
}

// Check validates that the URL is allowed by the filter.
// Returns nil if allowed, an error wrapping ErrURLBlocked otherwise.
func (f *URLFilter) Check(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: invalid URL: %w", ErrURLBlocked, err)
	}

	switch strings.ToLower(parsed.Scheme) {
	case "http", "https":
	default:
		return fmt.Errorf("%w: scheme %q", ErrURLBlocked, parsed.Scheme)
	}

	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return fmt.Errorf("%w: empty hostname", ErrURLBlocked)
	}

	if !f.allowPrivate && isInternalHost(host) {
		return fmt.Errorf("%w: %s (internal address)", ErrURLBlocked, host)
	}

	for _, d := range f.deny {
		if matchDomain(host, d) {
			return fmt.Errorf("%w: %s (denied)", ErrURLBlocked, host)
		}
	}

	if f.allowAll {
		return nil
	}
	if len(f.allow) == 0 {
		return fmt.Errorf("%w: %s (no domains allowed)", ErrURLBlocked, host)
	}
	for _, a := range f.allow {
		if matchDomain(host, a) {
			return nil
		}
	}

	return fmt.Errorf("%w: %s (not in allow list)", ErrURLBlocked, host)
}

// IsConfigured returns true if any domain rule or AllowAll is set.
func (f *URLFilter) IsConfigured() bool {
	return f.allowAll || len(f.allow) > 0 || len(f.deny) > 0
}

// isInternalHost reports whether host is a literal address that must not be
// reached from user-supplied URLs. Names are not resolved.
func isInternalHost(host string) bool {
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return true
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	return addr.IsLoopback() ||
		addr.IsPrivate() ||
		addr.IsLinkLocalUnicast() ||
		addr.IsLinkLocalMulticast() ||
		addr.IsUnspecified()
}

// matchDomain checks if host matches domain or is a subdomain of it.
// "api.example.com" matches "example.com"; "notexample.com" does not.
func matchDomain(host, domain string) bool {
	if host == domain {
		return true
	}
	return strings.HasSuffix(host, "."+domain)
}
