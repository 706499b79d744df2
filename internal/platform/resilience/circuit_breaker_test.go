package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func TestCircuitBreaker_BasicTransitions(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 2, 11, 12, 0, 0, 0, time.UTC))
	var transitions []CircuitState
	b := NewCircuitBreaker(
		CircuitBreakerConfig{Enabled: true, FailureThreshold: 2, OpenTimeout: 5 * time.Second, HalfOpenMaxReq: 1},
		WithClock(clock),
		WithStateChangeHook(func(_, to CircuitState) { transitions = append(transitions, to) }),
	)

	if err := b.Allow(); err != nil {
		t.Fatalf("expected allow in closed state: %v", err)
	}

	b.RecordFailure()
	if state := b.State(); state != CircuitStateClosed {
		t.Fatalf("expected closed after first failure, got %s", state)
	}

	b.RecordFailure()
	if state := b.State(); state != CircuitStateOpen {
		t.Fatalf("expected open after threshold failures, got %s", state)
	}

	if err := b.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected circuit open error, got %v", err)
	}

	clock.Advance(6 * time.Second)
	if err := b.Allow(); err != nil {
		t.Fatalf("expected half-open probe to pass, got %v", err)
	}
	if state := b.State(); state != CircuitStateHalfOpen {
		t.Fatalf("expected half-open state, got %s", state)
	}

	b.RecordSuccess()
	if state := b.State(); state != CircuitStateClosed {
		t.Fatalf("expected closed after successful half-open probe, got %s", state)
	}

	want := []CircuitState{CircuitStateOpen, CircuitStateHalfOpen, CircuitStateClosed}
	if len(transitions) != len(want) {
		t.Fatalf("unexpected transitions: %v", transitions)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Fatalf("unexpected transitions: %v", transitions)
		}
	}
}

func TestCircuitBreaker_ExecuteIgnoresNonFailures(t *testing.T) {
	b := NewCircuitBreaker(CircuitBreakerConfig{Enabled: true, FailureThreshold: 1, OpenTimeout: time.Minute, HalfOpenMaxReq: 1})
	permanent := errors.New("validation")

	for i := 0; i < 3; i++ {
		err := b.Execute(func() error { return permanent }, func(err error) bool { return !errors.Is(err, permanent) })
		if !errors.Is(err, permanent) {
			t.Fatalf("expected the call error to be returned, got %v", err)
		}
	}
	if state := b.State(); state != CircuitStateClosed {
		t.Fatalf("expected breaker to stay closed, got %s", state)
	}

	_ = b.Execute(func() error { return errors.New("timeout") }, nil)
	if err := b.Execute(func() error { return nil }, nil); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected breaker to reject after a counted failure, got %v", err)
	}
}

func TestCircuitBreaker_DisabledAlwaysAllows(t *testing.T) {
	b := NewCircuitBreaker(CircuitBreakerConfig{Enabled: false, FailureThreshold: 1})
	for i := 0; i < 5; i++ {
		b.RecordFailure()
	}
	if err := b.Allow(); err != nil {
		t.Fatalf("disabled breaker must allow, got %v", err)
	}
}

func TestGatewayCircuitBreakerConfig(t *testing.T) {
	tests := []struct {
		name      string
		interval  time.Duration
		batchSize int
		want      CircuitBreakerConfig
	}{
		{
			name:      "follows batch and interval",
			interval:  time.Minute,
			batchSize: 8,
			want:      CircuitBreakerConfig{Enabled: true, FailureThreshold: 8, OpenTimeout: time.Minute, HalfOpenMaxReq: 1},
		},
		{
			name:      "floors tiny values",
			interval:  time.Second,
			batchSize: 1,
			want:      CircuitBreakerConfig{Enabled: true, FailureThreshold: 2, OpenTimeout: 5 * time.Second, HalfOpenMaxReq: 1},
		},
		{
			name: "unset falls back to defaults",
			want: DefaultCircuitBreakerConfig(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := GatewayCircuitBreakerConfig(tt.interval, tt.batchSize)
			if got != tt.want {
				t.Fatalf("GatewayCircuitBreakerConfig(%s, %d)=%+v want=%+v", tt.interval, tt.batchSize, got, tt.want)
			}
		})
	}
}
