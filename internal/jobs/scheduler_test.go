package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/haasonsaas/chatline/internal/tools"
)

func TestValidateSchedule(t *testing.T) {
	tests := []struct {
		spec    string
		wantErr bool
	}{
		{"@every 10m", false},
		{"@hourly", false},
		{"*/5 * * * *", false},
		{"0 */5 * * * *", false},
		{"", true},
		{"every ten minutes", true},
		{"61 * * * *", true},
	}
	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			err := ValidateSchedule(tt.spec)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateSchedule(%q) error = %v, wantErr %v", tt.spec, err, tt.wantErr)
			}
		})
	}
}

func TestScheduler_Add(t *testing.T) {
	s := NewScheduler()
	noop := func(context.Context) (int, error) { return 0, nil }

	if err := s.Add("a", "@every 1m", noop); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Add("a", "@every 1m", noop); err == nil {
		t.Error("expected duplicate name error")
	}
	if err := s.Add("b", "bogus", noop); err == nil {
		t.Error("expected schedule error")
	}
	if err := s.Add("c", "@every 1m", nil); err == nil {
		t.Error("expected nil task error")
	}
	if got := len(s.Jobs()); got != 1 {
		t.Errorf("Jobs = %d, want 1", got)
	}
}

func TestScheduler_RunNow(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := NewScheduler(WithNow(func() time.Time { return at }))

	fail := true
	err := s.Add("flaky", "@every 1h", func(context.Context) (int, error) {
		if fail {
			return 0, errors.New("store offline")
		}
		return 4, nil
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	st, err := s.RunNow(context.Background(), "flaky")
	if err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	if st.Status != StatusFailed || st.LastError != "store offline" || st.Runs != 1 {
		t.Errorf("status after failure = %+v", st)
	}

	fail = false
	st, _ = s.RunNow(context.Background(), "flaky")
	if st.Status != StatusSucceeded || st.LastError != "" || st.Affected != 4 || st.Runs != 2 {
		t.Errorf("status after success = %+v", st)
	}
	if !st.LastRun.Equal(at) {
		t.Errorf("LastRun = %v", st.LastRun)
	}

	if _, err := s.RunNow(context.Background(), "missing"); !errors.Is(err, ErrUnknownJob) {
		t.Errorf("RunNow(missing) error = %v", err)
	}
}

func TestScheduler_StartStop(t *testing.T) {
	s := NewScheduler()
	if err := s.Add("idle", "@every 1h", func(context.Context) (int, error) { return 0, nil }); err != nil {
		t.Fatalf("Add: %v", err)
	}
	s.Start()
	s.Start()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}

type pruneRecorder struct {
	tools.ApprovalStore
	olderThan time.Duration
}

func (p *pruneRecorder) Prune(_ context.Context, olderThan time.Duration) (int, error) {
	p.olderThan = olderThan
	return 3, nil
}

type sweepCounter struct{ calls int }

func (s *sweepCounter) SweepMemo() int {
	s.calls++
	return 7
}

func TestRegisterMaintenance(t *testing.T) {
	s := NewScheduler()
	approvals := &pruneRecorder{}
	memo := &sweepCounter{}

	if err := RegisterMaintenance(s, Config{MemoSweep: "@every 1m"}, approvals, 0, memo); err != nil {
		t.Fatalf("RegisterMaintenance: %v", err)
	}

	jobs := s.Jobs()
	if len(jobs) != 2 {
		t.Fatalf("Jobs = %+v", jobs)
	}
	if jobs[0].Name != JobApprovalPrune || jobs[0].Schedule != DefaultApprovalPruneSchedule {
		t.Errorf("approval job = %+v", jobs[0])
	}
	if jobs[1].Name != JobMemoSweep || jobs[1].Schedule != "@every 1m" {
		t.Errorf("memo job = %+v", jobs[1])
	}

	st, err := s.RunNow(context.Background(), JobApprovalPrune)
	if err != nil || st.Affected != 3 {
		t.Fatalf("approval prune = %+v, %v", st, err)
	}
	if approvals.olderThan != DefaultApprovalTTL {
		t.Errorf("olderThan = %v, want %v", approvals.olderThan, DefaultApprovalTTL)
	}

	st, _ = s.RunNow(context.Background(), JobMemoSweep)
	if st.Affected != 7 || memo.calls != 1 {
		t.Errorf("memo sweep = %+v, calls %d", st, memo.calls)
	}
}

func TestRegisterMaintenance_OptionalParts(t *testing.T) {
	s := NewScheduler()
	if err := RegisterMaintenance(s, Config{}, nil, time.Hour, nil); err != nil {
		t.Fatalf("RegisterMaintenance: %v", err)
	}
	if len(s.Jobs()) != 0 {
		t.Errorf("Jobs = %+v, want none", s.Jobs())
	}
	if err := RegisterMaintenance(s, Config{ApprovalPrune: "nope"}, &pruneRecorder{}, time.Hour, nil); err == nil {
		t.Error("expected invalid schedule error")
	}
}
