package config

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/flemzord/sbridge/internal/core"
)

// gatewayModule serves the webhook and socket endpoints that push based
// channels receive their traffic on.
const gatewayModule = "gateway.http"

// Validate checks what can be checked across modules before any of them is
// built: the format version, that every module ID is registered, that
// channel IDs are unique, and that push based channels have a gateway.
// Settings owned by a single module are checked by its own Validate.
func Validate(cfg *Config) error {
	var errs []error

	switch cfg.Version {
	case "1":
	case "":
		errs = append(errs, errors.New("config: version field is required"))
	default:
		errs = append(errs, fmt.Errorf("config: unsupported version %q (supported: \"1\")", cfg.Version))
	}

	if len(cfg.Modules) == 0 {
		errs = append(errs, errors.New("config: at least one module must be configured"))
	}

	// Resolve gives a stable order, so duplicate reports name the same
	// module first on every run.
	for _, id := range Resolve(cfg) {
		if _, ok := core.GetModule(id); !ok {
			errs = append(errs, fmt.Errorf("config: unknown module %q", id))
		}
	}

	errs = append(errs, validateChannels(cfg)...)
	errs = append(errs, validateSecurity(cfg.Security)...)
	errs = append(errs, validateTelemetry(cfg.Telemetry)...)

	return errors.Join(errs...)
}

// channelSection holds the keys every channel module section may carry.
type channelSection struct {
	ChannelID string `yaml:"channel_id"`
	Mode      string `yaml:"mode"`
}

func validateChannels(cfg *Config) []error {
	var errs []error
	_, hasGateway := cfg.Modules[gatewayModule]
	owners := make(map[string]string)

	for _, id := range Resolve(cfg) {
		mid := core.ModuleID(id)
		if mid.Namespace() != "channel" {
			continue
		}
		node := cfg.Modules[id]
		var sec channelSection
		if node.Kind != 0 {
			if err := node.Decode(&sec); err != nil {
				errs = append(errs, fmt.Errorf("config: %s: %w", id, err))
				continue
			}
		}

		// WhatsApp has no default channel ID; its own Validate reports it.
		cid := sec.ChannelID
		if cid == "" && id != "channel.whatsapp" {
			cid = mid.Name()
		}
		if cid != "" {
			if prev, ok := owners[cid]; ok {
				errs = append(errs, fmt.Errorf("config: channel_id %q is used by both %s and %s", cid, prev, id))
			} else {
				owners[cid] = id
			}
		}

		if !hasGateway && needsGateway(id, sec) {
			errs = append(errs, fmt.Errorf("config: %s receives its traffic through %s, which is not configured", id, gatewayModule))
		}
	}
	return errs
}

func needsGateway(id string, sec channelSection) bool {
	switch id {
	case "channel.messenger", "channel.instagram", "channel.webchat",
		"channel.sms", "channel.email", "channel.rcs":
		return true
	case "channel.telegram":
		return sec.Mode == "webhook"
	}
	return false
}

func validateSecurity(sec *SecurityConfig) []error {
	if sec == nil {
		return nil
	}
	var errs []error

	if sec.RateLimits.MaxKeys < 0 {
		errs = append(errs, errors.New("config: security.rate_limits.max_keys must not be negative"))
	}

	f := sec.URLFilter
	if f.AllowAll && len(f.AllowDomains) > 0 {
		errs = append(errs, errors.New("config: security.url_filter: allow_all and allow_domains are mutually exclusive"))
	}
	for i, d := range append(f.AllowDomains[:len(f.AllowDomains):len(f.AllowDomains)], f.DenyDomains...) {
		if d == "" {
			errs = append(errs, fmt.Errorf("config: security.url_filter: empty domain at index %d", i))
		}
	}
	return errs
}

func validateTelemetry(t *TelemetryConfig) []error {
	if t == nil || t.OTLPEndpoint == "" {
		return nil
	}
	var errs []error
	if u, err := url.Parse(t.OTLPEndpoint); err != nil || u.Host == "" {
		errs = append(errs, fmt.Errorf("config: telemetry.otlp_endpoint %q is not a valid URL", t.OTLPEndpoint))
	}
	if t.SampleRatio < 0 || t.SampleRatio > 1 {
		errs = append(errs, fmt.Errorf("config: telemetry.sample_ratio %v must be between 0 and 1", t.SampleRatio))
	}
	return errs
}
