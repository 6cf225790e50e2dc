// Package main is the entry point for the sbridge CLI.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/flemzord/sbridge/internal/config"
	"github.com/flemzord/sbridge/internal/core"
	"github.com/flemzord/sbridge/pkg/app"

	_ "github.com/flemzord/sbridge/modules/channel/email"
	_ "github.com/flemzord/sbridge/modules/channel/meta"
	_ "github.com/flemzord/sbridge/modules/channel/rcs"
	_ "github.com/flemzord/sbridge/modules/channel/sms"
	_ "github.com/flemzord/sbridge/modules/channel/telegram"
	_ "github.com/flemzord/sbridge/modules/channel/webchat"
	_ "github.com/flemzord/sbridge/modules/channel/whatsapp"
	_ "github.com/flemzord/sbridge/modules/session/sqlite"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

type globalFlags struct {
	configPath string
	dataDir    string
	debug      bool
}

func (g *globalFlags) level() slog.Level {
	if g.debug {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

func (g *globalFlags) runParams() app.RunParams {
	return app.RunParams{
		ConfigPath: g.configPath,
		DataDir:    g.dataDir,
		LogLevel:   g.level(),
		Version:    version,
		Commit:     commit,
		Date:       date,
	}
}

func rootCmd() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:           "sbridge",
		Short:         "A multi-channel messaging gateway for WhatsApp, Telegram, Messenger, Instagram, SMS, RCS, email and web chat",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Path to configuration file")
	root.PersistentFlags().StringVar(&flags.dataDir, "data-dir", "", "Persistent data directory")
	root.PersistentFlags().BoolVar(&flags.debug, "debug", false, "Enable debug logging")

	root.AddCommand(
		versionCmd(),
		startCmd(flags),
		configCmd(flags),
		loginCmd(flags),
		serviceCmd(flags),
	)
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and compiled modules",
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "sbridge %s (commit: %s, built: %s)\n", version, commit, date)
			fmt.Fprintln(out, "\nCompiled modules:")
			for _, mod := range core.GetModules() {
				fmt.Fprintf(out, "  %s\n", mod.ID)
			}
		},
	}
}

func startCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start sbridge with all configured modules",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.RunContext(cmd.Context(), flags.runParams())
		},
	}
}

func configCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check [path]",
		Short: "Validate configuration and every module's settings",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := flags.configPath
			if len(args) == 1 {
				path = args[0]
			}
			if path == "" {
				resolved, err := app.ResolveConfigPath()
				if err != nil {
					return err
				}
				path = resolved
			}
			return checkConfig(cmd.OutOrStdout(), path, flags.dataDir)
		},
	})
	return cmd
}

// checkConfig provisions and validates every configured module without
// starting any, then releases what provisioning opened.
func checkConfig(out io.Writer, path, dataDir string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}
	if dataDir == "" {
		dataDir, err = os.MkdirTemp("", "sbridge-check-")
		if err != nil {
			return err
		}
		defer func() { _ = os.RemoveAll(dataDir) }()
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	appCtx := core.NewAppContext(logger, dataDir).WithModuleConfigs(cfg.Modules)
	application := core.NewApp(appCtx)
	ids := config.Resolve(cfg)
	if err := application.LoadModules(ids); err != nil {
		return err
	}
	defer func() { _ = application.Close(context.Background()) }()

	fmt.Fprintf(out, "Configuration OK (%d modules)\n", len(ids))
	for _, id := range ids {
		fmt.Fprintf(out, "  %s\n", id)
	}
	return nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
