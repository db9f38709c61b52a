package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shaiso/Conveyor/internal/domain"
)

type staticSource []*domain.Pipeline

func (s staticSource) List() []*domain.Pipeline { return s }

type recordingLauncher struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]bool
}

func (l *recordingLauncher) Launch(_ context.Context, pipelineID, triggerID string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := pipelineID + "/" + triggerID
	if l.fail[key] {
		return 0, errors.New("boom")
	}
	l.calls = append(l.calls, key)
	return int64(len(l.calls)), nil
}

func (l *recordingLauncher) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.calls)
}

func testPipelines() staticSource {
	return staticSource{
		{
			ID: "sales",
			Triggers: []domain.Trigger{
				{ID: "every-minute", Schedule: domain.Schedule{Kind: domain.ScheduleInterval, Interval: domain.Interval{Minutes: 1}}},
				{ID: "manual", Schedule: domain.Schedule{Kind: domain.ScheduleManual}},
			},
		},
		{
			ID: "reports",
			Triggers: []domain.Trigger{
				{ID: "hourly", Schedule: domain.Schedule{Kind: domain.ScheduleCron, Cron: "0 * * * *"}},
			},
		},
	}
}

// --- Scheduler Tests ---

func TestScheduler_TickFiresDueTriggers(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 10, 0, 30, 0, time.UTC)
	launcher := &recordingLauncher{}
	s := New(Config{Source: testPipelines(), Launcher: launcher})
	s.Load(t0)

	if n := s.Tick(context.Background(), t0.Add(29*time.Second)); n != 0 {
		t.Errorf("expected no fires before due, got %d", n)
	}

	if n := s.Tick(context.Background(), t0.Add(time.Minute)); n != 1 {
		t.Fatalf("expected 1 fire, got %d", n)
	}
	if launcher.calls[0] != "sales/every-minute" {
		t.Errorf("expected sales/every-minute, got %s", launcher.calls[0])
	}

	next, ok := s.NextFire("sales", "every-minute")
	if !ok || !next.Equal(t0.Add(2*time.Minute)) {
		t.Errorf("expected next fire %v, got %v (ok=%v)", t0.Add(2*time.Minute), next, ok)
	}
}

func TestScheduler_SkipsMissedInstants(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	launcher := &recordingLauncher{}
	s := New(Config{Source: testPipelines(), Launcher: launcher})
	s.Load(t0)

	// Пропущено 10 минутных моментов, но trigger срабатывает один раз
	now := t0.Add(10*time.Minute + 5*time.Second)
	if n := s.Tick(context.Background(), now); n != 1 {
		t.Fatalf("expected exactly 1 fire for missed instants, got %d", n)
	}

	next, _ := s.NextFire("sales", "every-minute")
	if want := t0.Add(11 * time.Minute); !next.Equal(want) {
		t.Errorf("expected next fire %v, got %v", want, next)
	}

	if n := s.Tick(context.Background(), now.Add(time.Second)); n != 0 {
		t.Errorf("expected no catch-up fires, got %d", n)
	}
}

func TestScheduler_ManualTriggersNotScheduled(t *testing.T) {
	s := New(Config{Source: testPipelines(), Launcher: &recordingLauncher{}})
	s.Load(time.Now())

	if _, ok := s.NextFire("sales", "manual"); ok {
		t.Error("manual trigger must not have next fire time")
	}
	if _, ok := s.NextFire("sales", "unknown"); ok {
		t.Error("unknown trigger must not have next fire time")
	}
	if _, ok := s.NextFire("reports", "hourly"); !ok {
		t.Error("cron trigger must have next fire time")
	}
}

func TestScheduler_LaunchErrorDoesNotBlockOthers(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 10, 59, 30, 0, time.UTC)
	launcher := &recordingLauncher{fail: map[string]bool{"sales/every-minute": true}}
	s := New(Config{Source: testPipelines(), Launcher: launcher})
	s.Load(t0)

	// Оба trigger должны сработать в 11:00:30
	n := s.Tick(context.Background(), t0.Add(time.Minute))
	if n != 1 {
		t.Fatalf("expected 1 successful fire, got %d", n)
	}
	if launcher.calls[0] != "reports/hourly" {
		t.Errorf("expected reports/hourly, got %v", launcher.calls)
	}

	// Упавший trigger тоже сдвинут и не повторяется на следующем тике
	if n := s.Tick(context.Background(), t0.Add(time.Minute+time.Second)); n != 0 {
		t.Errorf("expected failed trigger to wait for its next instant, got %d fires", n)
	}
}

func TestScheduler_StartStop(t *testing.T) {
	base := time.Now()
	var mu sync.Mutex
	offset := time.Duration(0)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		offset += 30 * time.Second
		return base.Add(offset)
	}

	launcher := &recordingLauncher{}
	s := New(Config{
		Source:       testPipelines(),
		Launcher:     launcher,
		TickInterval: 5 * time.Millisecond,
		Now:          clock,
	})

	s.Start(context.Background())

	deadline := time.After(2 * time.Second)
	for launcher.count() == 0 {
		select {
		case <-deadline:
			s.Stop()
			t.Fatal("expected scheduler loop to fire a trigger")
		case <-time.After(5 * time.Millisecond):
		}
	}

	s.Stop()
	s.Stop() // повторный вызов безопасен
}
