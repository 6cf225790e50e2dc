package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/flemzord/sbridge/internal/channel"
	"github.com/flemzord/sbridge/internal/config"
	"github.com/flemzord/sbridge/internal/core"
)

// ErrNoChannel is returned when no configured channel has the requested id.
var ErrNoChannel = errors.New("app: no such channel")

// LoginParams configures an interactive channel login.
type LoginParams struct {
	ConfigPath string
	DataDir    string
	LogLevel   slog.Level

	// Channel is the channel instance id, such as "whatsapp".
	Channel string
	Mode    channel.LoginMode
	// Phone is required by pairing-code logins.
	Phone string

	// OnChallenge is called for every QR or pairing code, newest first.
	OnChallenge func(channel.Challenge)
}

// Login provisions the configured channels without the gateway and runs
// an interactive login on one of them. It returns when the login
// succeeds, fails, or ctx is cancelled.
func Login(ctx context.Context, p LoginParams) error {
	cfgPath := p.ConfigPath
	if cfgPath == "" {
		resolved, err := ResolveConfigPath()
		if err != nil {
			return err
		}
		cfgPath = resolved
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}
	dataDir := p.DataDir
	if dataDir == "" {
		dataDir = DefaultDataDir()
	}

	logger := NewLogger(nil, p.LogLevel, nil)
	channels := channel.NewRegistry()
	appCtx := core.NewAppContext(logger, dataDir).WithModuleConfigs(cfg.Modules)
	appCtx.RegisterService(channel.ServiceRegistry, channels)

	// Sessions and channels only. Webhook channels are provisioned but
	// never started.
	ids := slices.DeleteFunc(config.Resolve(cfg), func(id string) bool {
		return !strings.HasPrefix(id, "session.") && !strings.HasPrefix(id, "channel.")
	})
	application := core.NewApp(appCtx)
	if err := application.LoadModules(ids); err != nil {
		return err
	}
	defer func() { _ = application.Close(context.Background()) }()

	target, err := findChannel(application, ids, p.Channel)
	if err != nil {
		return err
	}

	for _, id := range ids {
		mod, _ := application.Module(id)
		if !strings.HasPrefix(id, "session.") && mod != target {
			continue
		}
		if s, ok := mod.(core.Starter); ok {
			if err := s.Start(); err != nil {
				return fmt.Errorf("starting %s: %w", id, err)
			}
		}
	}

	adapter := target.(channel.Adapter)
	session, err := adapter.BeginInteractiveLogin(ctx, p.Mode, p.Phone)
	if errors.Is(err, channel.ErrAlreadyAuthenticated) {
		return fmt.Errorf("channel %s is already logged in, log out first", p.Channel)
	}
	if err != nil {
		return err
	}
	defer session.Cancel()

	for {
		select {
		case c := <-session.Challenges():
			if p.OnChallenge != nil {
				p.OnChallenge(c)
			}
		case <-session.Done():
			return session.Err()
		case <-ctx.Done():
			return context.Cause(ctx)
		}
	}
}

// findChannel returns the loaded module publishing channel id name.
func findChannel(application *core.App, ids []string, name string) (core.Module, error) {
	var known []string
	for _, id := range ids {
		mod, ok := application.Module(id)
		if !ok {
			continue
		}
		a, ok := mod.(channel.Adapter)
		if !ok {
			continue
		}
		if a.Name() == name {
			if !a.Capabilities().SupportsInteractiveLogin {
				return nil, fmt.Errorf("channel %s (%s) has no interactive login", name, id)
			}
			return mod, nil
		}
		known = append(known, a.Name())
	}
	return nil, fmt.Errorf("%w: %q (configured: %s)", ErrNoChannel, name, strings.Join(known, ", "))
}
