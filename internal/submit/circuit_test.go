package submit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/meridian-benefits/claimflow/pkg/claimsapi"
)

func alwaysFail(_ context.Context) error {
	return &claimsapi.APIError{StatusCode: 503, Message: "down"}
}

func alwaysOK(_ context.Context) error { return nil }

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 3, ResetTimeout: time.Minute})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = b.Execute(ctx, alwaysFail)
	}
	if b.State() != BreakerOpen {
		t.Fatalf("expected open after 3 failures, got %s", b.State())
	}

	err := b.Execute(ctx, alwaysOK)
	var apiErr *claimsapi.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != "circuit_open" {
		t.Fatalf("expected circuit_open rejection, got %v", err)
	}
	if !IsRetryable(err) {
		t.Error("open-circuit rejection must classify as retryable")
	}
}

func TestBreaker_FatalErrorsDoNotTrip(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 2, ResetTimeout: time.Minute})
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_ = b.Execute(ctx, func(_ context.Context) error {
			return &claimsapi.APIError{StatusCode: 422, Message: "rejected"}
		})
	}
	if b.State() != BreakerClosed {
		t.Errorf("policy rejections must not open the circuit, got %s", b.State())
	}
}

func TestBreaker_HalfOpenProbeRecovers(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 1, ResetTimeout: 10 * time.Millisecond})
	ctx := context.Background()

	_ = b.Execute(ctx, alwaysFail)
	if b.State() != BreakerOpen {
		t.Fatalf("expected open, got %s", b.State())
	}

	b.nowFunc = func() time.Time { return time.Now().Add(time.Second) }

	if err := b.Execute(ctx, alwaysOK); err != nil {
		t.Fatalf("probe should pass through, got %v", err)
	}
	if b.State() != BreakerClosed {
		t.Errorf("expected closed after successful probe, got %s", b.State())
	}
}

func TestBreaker_HalfOpenProbeFailureReopens(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 1, ResetTimeout: 10 * time.Millisecond})
	ctx := context.Background()

	_ = b.Execute(ctx, alwaysFail)
	b.nowFunc = func() time.Time { return time.Now().Add(time.Second) }

	_ = b.Execute(ctx, alwaysFail)

	b.mu.Lock()
	state := b.state
	b.mu.Unlock()
	if state != BreakerOpen {
		t.Errorf("expected reopened after failed probe, got %s", state)
	}
}

func TestBreaker_StateChangeCallback(t *testing.T) {
	var transitions []string
	b := NewBreaker(BreakerConfig{
		FailureThreshold: 1,
		ResetTimeout:     time.Minute,
		OnStateChange: func(from, to BreakerState) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})

	_ = b.Execute(context.Background(), alwaysFail)
	if len(transitions) != 1 || transitions[0] != "closed->open" {
		t.Errorf("unexpected transitions: %v", transitions)
	}
}
