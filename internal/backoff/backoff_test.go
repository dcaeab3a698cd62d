package backoff

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPolicy_Delay(t *testing.T) {
	p := Policy{Initial: 100 * time.Millisecond, Max: time.Second, Factor: 2, Jitter: 0.5}

	tests := []struct {
		attempt int
		random  float64
		want    time.Duration
	}{
		{1, 0, 100 * time.Millisecond},
		{2, 0, 200 * time.Millisecond},
		{3, 0, 400 * time.Millisecond},
		{2, 1, 300 * time.Millisecond},
		{5, 0, time.Second},
		{0, 0, 100 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := p.delayWithRand(tt.attempt, tt.random); got != tt.want {
			t.Errorf("delay(%d, %v) = %v, want %v", tt.attempt, tt.random, got, tt.want)
		}
	}

	if got := (Policy{}).Delay(3); got != 0 {
		t.Errorf("zero policy delay = %v", got)
	}
}

func TestRetry(t *testing.T) {
	transient := errors.New("503 service unavailable")
	permanent := errors.New("401 unauthorized")
	retryable := func(err error) bool { return errors.Is(err, transient) }
	fast := Policy{Initial: time.Millisecond, Factor: 1}

	tests := []struct {
		name      string
		failures  []error
		attempts  int
		wantErr   error
		wantCalls int
	}{
		{"first try", nil, 3, nil, 1},
		{"recovers", []error{transient, transient}, 3, nil, 3},
		{"exhausted", []error{transient, transient, transient}, 3, transient, 3},
		{"permanent stops", []error{permanent, transient}, 3, permanent, 1},
		{"zero attempts runs once", []error{transient}, 0, transient, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := Retry(context.Background(), fast, tt.attempts, retryable, func(attempt int) error {
				calls++
				if attempt != calls {
					t.Errorf("attempt = %d, want %d", attempt, calls)
				}
				if calls <= len(tt.failures) {
					return tt.failures[calls-1]
				}
				return nil
			})
			if !errors.Is(err, tt.wantErr) || (tt.wantErr == nil && err != nil) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
			if calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", calls, tt.wantCalls)
			}
		})
	}
}

func TestRetry_ContextCancelledDuringSleep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	transient := errors.New("timeout")
	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- Retry(ctx, Policy{Initial: time.Hour}, 5, func(error) bool { return true }, func(int) error {
			calls++
			return transient
		})
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, transient) {
			t.Errorf("err = %v, want last attempt error", err)
		}
		if calls != 1 {
			t.Errorf("calls = %d", calls)
		}
	case <-time.After(time.Second):
		t.Fatal("Retry ignored cancellation")
	}
}

func TestSleep(t *testing.T) {
	if err := Sleep(context.Background(), 0); err != nil {
		t.Errorf("Sleep(0) = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Sleep(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("Sleep on cancelled ctx = %v", err)
	}
}
