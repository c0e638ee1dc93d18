package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"surveysched/internal/eventbus"
	"surveysched/pkg/logx"
)

func TestParseSchedule(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in    string
		kind  SpecKind
		every time.Duration
		str   string
	}{
		{"60s", SpecInterval, time.Minute, "@every 1m0s"},
		{"00:50", SpecInterval, 50 * time.Minute, "@every 50m0s"},
		{"every:2m", SpecInterval, 2 * time.Minute, "@every 2m0s"},
		{"*/5 * * * *", SpecCron, 0, "*/5 * * * *"},
		{"0 */2 * * * *", SpecCron, 0, "0 */2 * * * *"},
		{"@every 30s", SpecCron, 0, "@every 30s"},
		{"cron:@hourly", SpecCron, 0, "@hourly"},
	}
	for _, tc := range cases {
		ps, err := ParseSchedule(tc.in)
		if err != nil {
			t.Fatalf("%q: %v", tc.in, err)
		}
		if ps.Kind != tc.kind || ps.Every != tc.every || ps.String() != tc.str {
			t.Fatalf("%q: got %+v (%s)", tc.in, ps, ps.String())
		}
		if _, err := ps.Schedule(); err != nil {
			t.Fatalf("%q: schedule: %v", tc.in, err)
		}
	}

	for _, bad := range []string{"", "soon", "500ms", "61 * * * *", "cron:", "interval:abc"} {
		if _, err := ParseSchedule(bad); err == nil {
			t.Fatalf("%q: expected error", bad)
		}
	}
}

func waitFor(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", d)
}

func TestService_RunOnStartAndTicks(t *testing.T) {
	t.Parallel()

	s := New(Config{Enabled: true}, logx.Nop(), nil)
	var runs atomic.Int32
	if err := s.Add("tick", "1s", Options{RunOnStart: true}, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	s.Start(context.Background())
	defer s.Stop(context.Background())

	waitFor(t, 500*time.Millisecond, func() bool { return runs.Load() >= 1 })
	waitFor(t, 3*time.Second, func() bool { return runs.Load() >= 2 })

	snap := s.Snapshot()
	if !snap.Running || len(snap.Jobs) != 1 {
		t.Fatalf("snapshot=%+v", snap)
	}
	if snap.Jobs[0].Next.IsZero() || snap.Jobs[0].Runs < 2 {
		t.Fatalf("job info=%+v", snap.Jobs[0])
	}
}

func TestService_SkipsWhileRunning(t *testing.T) {
	t.Parallel()

	s := New(Config{Enabled: true}, logx.Nop(), nil)
	release := make(chan struct{})
	var runs atomic.Int32
	_ = s.Add("slow", "1s", Options{RunOnStart: true}, func(ctx context.Context) error {
		runs.Add(1)
		<-release
		return nil
	})
	s.Start(context.Background())

	time.Sleep(2300 * time.Millisecond)
	if got := runs.Load(); got != 1 {
		t.Fatalf("runs=%d while first run blocked, want 1", got)
	}
	close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestService_StopCancelsAndWaits(t *testing.T) {
	t.Parallel()

	s := New(Config{Enabled: true}, logx.Nop(), nil)
	started := make(chan struct{})
	var finished atomic.Bool
	_ = s.Add("wait", "1h", Options{RunOnStart: true}, func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		time.Sleep(50 * time.Millisecond)
		finished.Store(true)
		return ctx.Err()
	})
	s.Start(context.Background())
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if !finished.Load() {
		t.Fatalf("stop returned before the running job finished")
	}
}

func TestService_FailureAndPanic(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()
	ch, unsub := bus.Subscribe(4, EventJobFailed)
	defer unsub()

	s := New(Config{Enabled: true}, logx.Nop(), bus)
	_ = s.Add("fails", "1h", Options{RunOnStart: true}, func(ctx context.Context) error {
		return errors.New("boom")
	})
	_ = s.Add("panics", "1h", Options{RunOnStart: true}, func(ctx context.Context) error {
		panic("kaboom")
	})
	s.Start(context.Background())
	defer s.Stop(context.Background())

	select {
	case e := <-ch:
		f := e.Data.(JobFailure)
		if f.Name != "fails" || f.Error != "boom" {
			t.Fatalf("failure=%+v", f)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no failure event")
	}

	waitFor(t, 2*time.Second, func() bool {
		for _, j := range s.Snapshot().Jobs {
			if j.Name == "panics" && j.Failures == 1 && !j.Running {
				return true
			}
		}
		return false
	})
}

func TestService_DisabledDoesNotRun(t *testing.T) {
	t.Parallel()

	s := New(Config{Enabled: false}, logx.Nop(), nil)
	var runs atomic.Int32
	_ = s.Add("x", "1s", Options{RunOnStart: true}, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	})
	s.Start(context.Background())
	time.Sleep(1200 * time.Millisecond)
	if runs.Load() != 0 {
		t.Fatalf("disabled scheduler ran a job")
	}
	if s.Snapshot().Running {
		t.Fatalf("cron should not be running")
	}

	s.Apply(Config{Enabled: true, Timezone: "UTC"})
	waitFor(t, 3*time.Second, func() bool { return runs.Load() >= 1 })
	_ = s.Stop(context.Background())
}

func TestService_AddReplacesByName(t *testing.T) {
	t.Parallel()

	s := New(Config{Enabled: true}, logx.Nop(), nil)
	noop := func(ctx context.Context) error { return nil }
	_ = s.Add("job", "1h", Options{}, noop)
	_ = s.Add("job", "*/5 * * * *", Options{}, noop)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	snap := s.Snapshot()
	if len(snap.Jobs) != 1 || snap.Jobs[0].Spec != "*/5 * * * *" {
		t.Fatalf("jobs=%+v", snap.Jobs)
	}
	if !s.Remove("job") || s.Remove("job") {
		t.Fatalf("remove semantics")
	}
	if err := s.Add("", "1s", Options{}, noop); err == nil {
		t.Fatalf("empty name accepted")
	}
}
