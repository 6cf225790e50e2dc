package app

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/flemzord/sbridge/internal/channel"
	"github.com/flemzord/sbridge/internal/security"

	_ "github.com/flemzord/sbridge/modules/session/sqlite"
)

func TestRun_RejectsConfig(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{name: "missing file", wantErr: "no such file"},
		{name: "bad yaml", body: "not: valid: yaml: [", wantErr: "parsing"},
		{name: "no version", body: "modules:\n  session.sqlite: {}\n", wantErr: "version field is required"},
		{name: "unknown module", body: "version: \"1\"\nmodules:\n  channel.fax: {}\n", wantErr: `unknown module "channel.fax"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, "sbridge.yaml")
			if tt.body != "" {
				if err := os.WriteFile(path, []byte(tt.body), 0o600); err != nil {
					t.Fatal(err)
				}
			}
			err := Run(RunParams{ConfigPath: path, DataDir: filepath.Join(dir, "data"), LogOutput: io.Discard})
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestRunContext_StartsAndStops(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sbridge.yaml")
	cfg := "version: \"1\"\nmodules:\n  session.sqlite: {}\nsecurity:\n  audit_log: audit.jsonl\n"
	if err := os.WriteFile(path, []byte(cfg), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan *channel.Registry, 1)
	done := make(chan error, 1)
	go func() {
		done <- RunContext(ctx, RunParams{
			ConfigPath: path,
			DataDir:    filepath.Join(dir, "data"),
			LogOutput:  io.Discard,
			Ready:      func(reg *channel.Registry) { ready <- reg },
		})
	}()

	select {
	case reg := <-ready:
		if len(reg.Names()) != 0 {
			t.Errorf("channels = %v, want none", reg.Names())
		}
	case err := <-done:
		t.Fatalf("run returned early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("app never became ready")
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("app did not stop")
	}
	if _, err := os.Stat(filepath.Join(dir, "data", "audit.jsonl")); err != nil {
		t.Errorf("audit log not created: %v", err)
	}
}

func TestNewLogger_Redacts(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	redactor := security.NewRedactor()
	redactor.AddLiteral("s3cr3t-value")
	NewLogger(&buf, slog.LevelInfo, redactor).Info("dialing", "token", "s3cr3t-value")

	if strings.Contains(buf.String(), "s3cr3t-value") {
		t.Errorf("secret leaked: %s", buf.String())
	}
}
