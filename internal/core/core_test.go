package core

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"
	"time"
)

// lifecycleModule appends "start:<id>", "stop:<id>" and "reload:<id>" to
// a shared event log.
type lifecycleModule struct {
	id        ModuleID
	events    *[]string
	startErr  error
	stopErr   error
	reloadErr error
	deadline  *bool
}

func (m *lifecycleModule) ModuleInfo() ModuleInfo {
	return ModuleInfo{ID: m.id, New: func() Module { return m }}
}

func (m *lifecycleModule) Start() error {
	*m.events = append(*m.events, "start:"+string(m.id))
	return m.startErr
}

func (m *lifecycleModule) Stop(ctx context.Context) error {
	*m.events = append(*m.events, "stop:"+string(m.id))
	if m.deadline != nil {
		_, *m.deadline = ctx.Deadline()
	}
	return m.stopErr
}

func (m *lifecycleModule) Reload(*AppContext) error {
	*m.events = append(*m.events, "reload:"+string(m.id))
	return m.reloadErr
}

func newTestApp(t *testing.T, mods ...*lifecycleModule) *App {
	t.Helper()
	app := NewApp(NewAppContext(nil, t.TempDir()))
	for _, m := range mods {
		app.AppendModule(string(m.id), m)
	}
	return app
}

func TestApp_Lifecycle(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	tests := []struct {
		name    string
		mods    func(events *[]string) []*lifecycleModule
		run     func(app *App) error
		want    []string
		wantErr string
	}{
		{
			name: "start then stop in reverse",
			mods: func(ev *[]string) []*lifecycleModule {
				return []*lifecycleModule{{id: "session.sqlite", events: ev}, {id: "channel.telegram", events: ev}}
			},
			run: func(app *App) error {
				if err := app.Start(); err != nil {
					return err
				}
				return app.Stop(context.Background())
			},
			want: []string{"start:session.sqlite", "start:channel.telegram", "stop:channel.telegram", "stop:session.sqlite"},
		},
		{
			name: "start failure rolls back",
			mods: func(ev *[]string) []*lifecycleModule {
				return []*lifecycleModule{{id: "a", events: ev}, {id: "b", events: ev}, {id: "c", events: ev, startErr: boom}}
			},
			run:     func(app *App) error { return app.Start() },
			want:    []string{"start:a", "start:b", "start:c", "stop:b", "stop:a"},
			wantErr: "starting module c: boom",
		},
		{
			name: "stop keeps going after an error",
			mods: func(ev *[]string) []*lifecycleModule {
				return []*lifecycleModule{{id: "a", events: ev, stopErr: boom}, {id: "b", events: ev, stopErr: boom}}
			},
			run: func(app *App) error {
				if err := app.Start(); err != nil {
					return err
				}
				return app.Stop(context.Background())
			},
			want:    []string{"start:a", "start:b", "stop:b", "stop:a"},
			wantErr: "stopping module b: boom\nstopping module a: boom",
		},
		{
			name: "stop twice stops once",
			mods: func(ev *[]string) []*lifecycleModule {
				return []*lifecycleModule{{id: "a", events: ev}}
			},
			run: func(app *App) error {
				_ = app.Start()
				_ = app.Stop(context.Background())
				return app.Stop(context.Background())
			},
			want: []string{"start:a", "stop:a"},
		},
		{
			name: "close stops modules never started",
			mods: func(ev *[]string) []*lifecycleModule {
				return []*lifecycleModule{{id: "a", events: ev}, {id: "b", events: ev}}
			},
			run:  func(app *App) error { return app.Close(context.Background()) },
			want: []string{"stop:b", "stop:a"},
		},
		{
			name: "reload reaches every module",
			mods: func(ev *[]string) []*lifecycleModule {
				return []*lifecycleModule{{id: "a", events: ev, reloadErr: boom}, {id: "b", events: ev}}
			},
			run: func(app *App) error {
				return app.ReloadModules(NewAppContext(nil, ""))
			},
			want:    []string{"reload:a", "reload:b"},
			wantErr: "reloading module a: boom",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var events []string
			app := newTestApp(t, tt.mods(&events)...)
			err := tt.run(app)

			if !slices.Equal(events, tt.want) {
				t.Errorf("events = %v, want %v", events, tt.want)
			}
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || err.Error() != tt.wantErr {
				t.Fatalf("err = %v, want %q", err, tt.wantErr)
			}
			if !errors.Is(err, boom) {
				t.Error("cause not wrapped")
			}
		})
	}
}

func TestApp_StopDeadline(t *testing.T) {
	t.Parallel()

	var events []string
	var hasDeadline bool
	app := newTestApp(t, &lifecycleModule{id: "a", events: &events, deadline: &hasDeadline})
	if err := app.Start(); err != nil {
		t.Fatal(err)
	}
	if err := app.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !hasDeadline {
		t.Error("Stop without a deadline should apply DefaultStopTimeout")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = app.Start()
	if err := app.Stop(ctx); err != nil {
		t.Fatal(err)
	}
}

func TestApp_Modules(t *testing.T) {
	t.Parallel()

	var events []string
	app := newTestApp(t,
		&lifecycleModule{id: "gateway.http", events: &events},
		&lifecycleModule{id: "channel.webchat", events: &events},
	)

	if _, ok := app.Module("channel.webchat"); !ok {
		t.Error("channel.webchat not found")
	}
	if _, ok := app.Module("channel.none"); ok {
		t.Error("channel.none found")
	}
	if ids := app.Modules(); !slices.Equal(ids, []ModuleID{"gateway.http", "channel.webchat"}) {
		t.Errorf("Modules() = %v", ids)
	}

	_ = app.Close(context.Background())
	if len(app.Modules()) != 0 {
		t.Errorf("Modules() = %v after Close", app.Modules())
	}
}

func TestApp_LoadModulesClosesOnFailure(t *testing.T) {
	t.Cleanup(resetRegistry)

	var events []string
	RegisterModule(&lifecycleModule{id: "session.sqlite", events: &events})

	app := NewApp(NewAppContext(nil, t.TempDir()))
	err := app.LoadModules([]string{"session.sqlite", "channel.missing"})
	if err == nil || !strings.Contains(err.Error(), "loading module channel.missing") {
		t.Fatalf("err = %v", err)
	}
	if !slices.Equal(events, []string{"stop:session.sqlite"}) {
		t.Errorf("events = %v, want the loaded module closed", events)
	}
	if len(app.Modules()) != 0 {
		t.Errorf("Modules() = %v", app.Modules())
	}
}
