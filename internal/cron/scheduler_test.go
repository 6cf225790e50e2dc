package cron

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

type countingJob struct {
	name, sched string
	fn         func(ctx context.Context) error
	runs       atomic.Int32
}

func (j *countingJob) Name() string     { return j.name }
func (j *countingJob) Schedule() string { return j.sched }

func (j *countingJob) Run(ctx context.Context) error {
	j.runs.Add(1)
	if j.fn == nil {
		return nil
	}
	return j.fn(ctx)
}

func every(name string, fn func(context.Context) error) *countingJob {
	return &countingJob{name: name, sched: "@every 1s", fn: fn}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// started returns a running scheduler that is stopped at cleanup.
func started(t *testing.T, jobs ...Job) *Scheduler {
	t.Helper()
	s := NewScheduler(quietLogger())
	for _, j := range jobs {
		if err := s.RegisterJob(j); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = s.Stop(context.Background()) })
	return s
}

func eventually(d time.Duration, cond func() bool) bool {
	for end := time.Now().Add(d); time.Now().Before(end); time.Sleep(20 * time.Millisecond) {
		if cond() {
			return true
		}
	}
	return cond()
}

func TestValidateSchedule(t *testing.T) {
	t.Parallel()

	for expr, ok := range map[string]bool{
		"*/10 * * * *": true,
		"@every 30s":   true,
		"@hourly":      true,
		"0 0 * * * *":  false,
		"invalid":      false,
		"":             false,
	} {
		if err := ValidateSchedule(expr); (err == nil) != ok {
			t.Errorf("ValidateSchedule(%q) = %v", expr, err)
		}
	}
}

func TestScheduler_Register(t *testing.T) {
	t.Parallel()

	s := NewScheduler(nil)
	if s.logger == nil {
		t.Fatal("nil logger not replaced")
	}
	if err := s.RegisterJob(&countingJob{name: "renew", sched: "@every 30s"}); err != nil {
		t.Fatal(err)
	}
	err := s.RegisterJob(&countingJob{name: "renew", sched: "@hourly"})
	if err == nil || !strings.Contains(err.Error(), `duplicate job name "renew"`) {
		t.Errorf("err = %v", err)
	}
	if s.Jobs() != 1 {
		t.Errorf("Jobs = %d, want 1", s.Jobs())
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Errorf("Stop before Start: %v", err)
	}
}

func TestScheduler_StartRejectsBadSchedule(t *testing.T) {
	t.Parallel()

	s := NewScheduler(quietLogger())
	_ = s.RegisterJob(&countingJob{name: "purge", sched: "every tuesday"})
	err := s.Start()
	if err == nil || !strings.Contains(err.Error(), `job "purge"`) {
		t.Fatalf("err = %v", err)
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop after failed Start: %v", err)
	}
}

func TestScheduler_Runs(t *testing.T) {
	t.Parallel()

	job := every("renew", nil)
	s := started(t, job)
	if err := s.Start(); err == nil {
		t.Error("second Start accepted")
	}
	if !eventually(3*time.Second, func() bool { return job.runs.Load() > 0 }) {
		t.Fatal("job never ran")
	}
}

func TestScheduler_SkipsWhileRunning(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	job := every("renew", func(ctx context.Context) error {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	})
	started(t, job)

	time.Sleep(2500 * time.Millisecond)
	if got := job.runs.Load(); got != 1 {
		t.Errorf("runs while blocked = %d, want 1", got)
	}
	close(release)
}

func TestScheduler_SurvivesFailures(t *testing.T) {
	t.Parallel()

	failing := every("renew", func(context.Context) error { return errors.New("lease lost") })
	panicking := every("purge", func(context.Context) error { panic("boom") })
	started(t, failing, panicking)

	if !eventually(4*time.Second, func() bool {
		return failing.runs.Load() >= 2 && panicking.runs.Load() >= 2
	}) {
		t.Errorf("runs = %d/%d, want both >= 2", failing.runs.Load(), panicking.runs.Load())
	}
}

func TestScheduler_StopCancelsRunningJob(t *testing.T) {
	t.Parallel()

	inside := make(chan struct{}, 1)
	job := every("renew", func(ctx context.Context) error {
		select {
		case inside <- struct{}{}:
		default:
		}
		<-ctx.Done()
		return ctx.Err()
	})
	s := started(t, job)

	select {
	case <-inside:
	case <-time.After(3 * time.Second):
		t.Fatal("job never started")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}
