package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestFixedBackoff(t *testing.T) {
	p := Fixed(250 * time.Millisecond)
	for _, attempt := range []int{0, 1, 5, 50} {
		if d := p.Backoff(attempt); d != 250*time.Millisecond {
			t.Fatalf("attempt %d: backoff = %v", attempt, d)
		}
	}
}

func TestExponentialBackoffCapped(t *testing.T) {
	p := Exponential(100*time.Millisecond, time.Second)
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{4, time.Second},
		{10, time.Second},
	}
	for _, tc := range cases {
		if d := p.Backoff(tc.attempt); d != tc.want {
			t.Fatalf("attempt %d: backoff = %v, want %v", tc.attempt, d, tc.want)
		}
	}
}

func TestJitterBounds(t *testing.T) {
	p := Policy{Initial: 100 * time.Millisecond, Max: 100 * time.Millisecond, Multiplier: 1, Jitter: 50 * time.Millisecond}
	for i := 0; i < 100; i++ {
		d := p.Backoff(0)
		if d < 100*time.Millisecond || d >= 150*time.Millisecond {
			t.Fatalf("backoff %v outside jitter window", d)
		}
	}
}

func TestExhausted(t *testing.T) {
	unbounded := Fixed(time.Millisecond)
	if unbounded.Exhausted(1 << 20) {
		t.Fatal("unbounded policy must never exhaust")
	}
	bounded := Policy{Initial: time.Millisecond, MaxAttempts: 3}
	for attempt, want := range map[int]bool{0: false, 2: false, 3: true, 4: true} {
		if got := bounded.Exhausted(attempt); got != want {
			t.Fatalf("attempt %d: exhausted = %v, want %v", attempt, got, want)
		}
	}
}

func TestWaitExhausted(t *testing.T) {
	p := Policy{Initial: time.Millisecond, MaxAttempts: 1}
	if err := p.Wait(context.Background(), 0); err != nil {
		t.Fatalf("first attempt: %v", err)
	}
	if err := p.Wait(context.Background(), 1); !errors.Is(err, ErrAttemptsExhausted) {
		t.Fatalf("err = %v, want ErrAttemptsExhausted", err)
	}
}

func TestWaitCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := Fixed(time.Minute)
	if err := p.Wait(ctx, 0); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
