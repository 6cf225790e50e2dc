package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/kardianos/service"
	"github.com/spf13/cobra"

	"github.com/flemzord/sbridge/pkg/app"
)

const serviceStopTimeout = 40 * time.Second

// program adapts app.RunContext to service.Interface.
type program struct {
	params app.RunParams
	cancel context.CancelFunc
	done   chan error
}

func (p *program) Start(service.Service) error {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan error, 1)
	go func() { p.done <- app.RunContext(ctx, p.params) }()
	return nil
}

func (p *program) Stop(service.Service) error {
	if p.cancel == nil {
		return nil
	}
	p.cancel()
	select {
	case err := <-p.done:
		return err
	case <-time.After(serviceStopTimeout):
		return errors.New("sbridge did not stop in time")
	}
}

func newService(flags *globalFlags) (service.Service, error) {
	args := []string{"service", "run"}
	if flags.configPath != "" {
		abs, err := filepath.Abs(flags.configPath)
		if err != nil {
			return nil, err
		}
		args = append(args, "--config", abs)
	}
	if flags.dataDir != "" {
		abs, err := filepath.Abs(flags.dataDir)
		if err != nil {
			return nil, err
		}
		args = append(args, "--data-dir", abs)
	}
	return service.New(&program{params: flags.runParams()}, &service.Config{
		Name:        "sbridge",
		DisplayName: "sbridge messaging gateway",
		Description: "Bridges WhatsApp, Telegram, Messenger, Instagram, SMS, RCS, email and web chat behind one gateway.",
		Arguments:   args,
		Option: service.KeyValue{
			"Restart":     "on-failure",
			"UserService": true,
		},
	})
}

func serviceCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Manage sbridge as a system service",
	}

	for _, action := range service.ControlAction {
		cmd.AddCommand(&cobra.Command{
			Use:   action,
			Short: fmt.Sprintf("%s the sbridge service", action),
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				s, err := newService(flags)
				if err != nil {
					return err
				}
				if err := service.Control(s, action); err != nil {
					return fmt.Errorf("service %s: %w", action, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "service %s: ok\n", action)
				return nil
			},
		})
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "status",
			Short: "Show the service status",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				s, err := newService(flags)
				if err != nil {
					return err
				}
				st, err := s.Status()
				if err != nil && !errors.Is(err, service.ErrNotInstalled) {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), statusText(st, err))
				return nil
			},
		},
		&cobra.Command{
			Use:    "run",
			Short:  "Run under the service manager",
			Hidden: true,
			Args:   cobra.NoArgs,
			RunE: func(_ *cobra.Command, _ []string) error {
				s, err := newService(flags)
				if err != nil {
					return err
				}
				return s.Run()
			},
		},
	)
	return cmd
}

func statusText(st service.Status, err error) string {
	if errors.Is(err, service.ErrNotInstalled) {
		return "not installed"
	}
	switch st {
	case service.StatusRunning:
		return "running"
	case service.StatusStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
