package submit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/meridian-benefits/claimflow/internal/model"
	"github.com/meridian-benefits/claimflow/pkg/claimsapi"
)

// fakeBackend scripts one response per attempt.
type fakeBackend struct {
	mu        sync.Mutex
	responses []error
	refs      []string
	calls     int
}

func (f *fakeBackend) SubmitClaim(_ context.Context, _ claimsapi.Payload) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	if i < len(f.responses) && f.responses[i] != nil {
		return "", f.responses[i]
	}
	if i < len(f.refs) {
		return f.refs[i], nil
	}
	return "REF-DEFAULT", nil
}

func (f *fakeBackend) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func retryableErr() error {
	return &claimsapi.APIError{StatusCode: 503, Message: "unavailable"}
}

func fatalErr() error {
	return &claimsapi.APIError{StatusCode: 422, Code: "policy_rejected", Message: "bad payload"}
}

func fastConfig(maxAttempts int) Config {
	return Config{
		MaxAttempts:    maxAttempts,
		BaseDelay:      5 * time.Millisecond,
		MaxDelay:       50 * time.Millisecond,
		AttemptTimeout: time.Second,
	}
}

func testPayload() claimsapi.Payload {
	return claimsapi.Payload{
		EventDate:      "2026-03-14",
		SubmissionDate: "2026-03-15T10:00:00Z",
		ClaimAmount:    "10.00",
		InvoiceNumber:  "INV-1",
		PolicyNumber:   "POL-1",
	}
}

func TestSubmit_FirstAttemptSuccess(t *testing.T) {
	backend := &fakeBackend{refs: []string{"REF-1"}}
	o := New(backend, nil, fastConfig(4))

	out := o.Submit(context.Background(), "job-1", testPayload(), nil)
	if out.Err != nil {
		t.Fatalf("unexpected error: %v", out.Err)
	}
	if out.Reference != "REF-1" {
		t.Errorf("expected REF-1, got %q", out.Reference)
	}
	if len(out.Attempts) != 1 {
		t.Fatalf("expected 1 attempt, got %d", len(out.Attempts))
	}
	if out.Attempts[0].Outcome != model.AttemptSuccess {
		t.Errorf("expected success outcome, got %s", out.Attempts[0].Outcome)
	}
}

func TestSubmit_RetryConvergence(t *testing.T) {
	backend := &fakeBackend{
		responses: []error{retryableErr(), retryableErr(), nil},
		refs:      []string{"", "", "REF-3"},
	}
	cfg := fastConfig(4)
	o := New(backend, nil, cfg)

	start := time.Now()
	out := o.Submit(context.Background(), "job-1", testPayload(), nil)
	elapsed := time.Since(start)

	if out.Err != nil {
		t.Fatalf("unexpected error: %v", out.Err)
	}
	if out.Reference != "REF-3" {
		t.Errorf("expected REF-3, got %q", out.Reference)
	}
	if len(out.Attempts) != 3 {
		t.Fatalf("expected 3 attempts, got %d", len(out.Attempts))
	}
	if out.Attempts[0].Outcome != model.AttemptRetryableFailure ||
		out.Attempts[1].Outcome != model.AttemptRetryableFailure ||
		out.Attempts[2].Outcome != model.AttemptSuccess {
		t.Errorf("unexpected outcome sequence: %v, %v, %v",
			out.Attempts[0].Outcome, out.Attempts[1].Outcome, out.Attempts[2].Outcome)
	}

	// Backoff after attempt 1 is base, after attempt 2 is 2·base (before
	// jitter), so the sequence takes at least 3·base.
	if minimum := 3 * cfg.BaseDelay; elapsed < minimum {
		t.Errorf("expected elapsed >= %v, got %v", minimum, elapsed)
	}
}

func TestSubmit_RetryExhaustion(t *testing.T) {
	backend := &fakeBackend{
		responses: []error{retryableErr(), retryableErr(), retryableErr(), retryableErr()},
	}
	o := New(backend, nil, fastConfig(4))

	out := o.Submit(context.Background(), "job-1", testPayload(), nil)
	if out.Err == nil {
		t.Fatal("expected terminal failure")
	}
	if len(out.Attempts) != 4 {
		t.Fatalf("expected exactly 4 attempts, got %d", len(out.Attempts))
	}
	if backend.callCount() != 4 {
		t.Errorf("expected 4 backend calls, got %d", backend.callCount())
	}
	for i, att := range out.Attempts {
		if att.Outcome != model.AttemptRetryableFailure {
			t.Errorf("attempt %d: expected retryable failure, got %s", i+1, att.Outcome)
		}
		if att.Number != i+1 {
			t.Errorf("attempt %d: wrong number %d", i+1, att.Number)
		}
	}
}

func TestSubmit_FatalShortCircuit(t *testing.T) {
	backend := &fakeBackend{responses: []error{fatalErr()}}
	o := New(backend, nil, fastConfig(10))

	out := o.Submit(context.Background(), "job-1", testPayload(), nil)
	if out.Err == nil {
		t.Fatal("expected failure")
	}
	if len(out.Attempts) != 1 {
		t.Fatalf("expected exactly 1 attempt regardless of max, got %d", len(out.Attempts))
	}
	if out.Attempts[0].Outcome != model.AttemptFatalFailure {
		t.Errorf("expected fatal outcome, got %s", out.Attempts[0].Outcome)
	}
	if backend.callCount() != 1 {
		t.Errorf("expected 1 backend call, got %d", backend.callCount())
	}
}

func TestSubmit_RecorderSeesEveryAttempt(t *testing.T) {
	backend := &fakeBackend{
		responses: []error{retryableErr(), nil},
		refs:      []string{"", "REF-2"},
	}
	o := New(backend, nil, fastConfig(3))

	var recorded []model.SubmissionAttempt
	out := o.Submit(context.Background(), "job-1", testPayload(), func(att model.SubmissionAttempt, _ []model.SubmissionAttempt) {
		recorded = append(recorded, att)
	})
	if out.Err != nil {
		t.Fatalf("unexpected error: %v", out.Err)
	}
	if len(recorded) != 2 {
		t.Fatalf("expected recorder called twice, got %d", len(recorded))
	}
	if recorded[0].Outcome != model.AttemptRetryableFailure || recorded[1].Outcome != model.AttemptSuccess {
		t.Errorf("unexpected recorded outcomes: %v, %v", recorded[0].Outcome, recorded[1].Outcome)
	}
}

func TestSubmit_CancelledBetweenAttempts(t *testing.T) {
	backend := &fakeBackend{
		responses: []error{retryableErr(), retryableErr(), retryableErr()},
	}
	cfg := Config{
		MaxAttempts:    5,
		BaseDelay:      200 * time.Millisecond,
		MaxDelay:       time.Second,
		AttemptTimeout: time.Second,
	}
	o := New(backend, nil, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond) // cancel during first backoff
		cancel()
	}()

	out := o.Submit(ctx, "job-1", testPayload(), nil)
	if !out.Interrupted {
		t.Fatal("expected interrupted outcome")
	}
	if backend.callCount() != 1 {
		t.Errorf("expected the in-flight attempt only, got %d calls", backend.callCount())
	}
}

func TestSubmit_CancelledBeforeFirstAttempt(t *testing.T) {
	backend := &fakeBackend{}
	o := New(backend, nil, fastConfig(3))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := o.Submit(ctx, "job-1", testPayload(), nil)
	if !out.Interrupted {
		t.Fatal("expected interrupted outcome")
	}
	if backend.callCount() != 0 {
		t.Errorf("expected no backend calls, got %d", backend.callCount())
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(retryableErr()) {
		t.Error("503 should be retryable")
	}
	if IsRetryable(fatalErr()) {
		t.Error("422 should be fatal")
	}
	if !IsRetryable(context.DeadlineExceeded) {
		t.Error("attempt timeout should be retryable")
	}
	if IsRetryable(errors.New("malformed payload")) {
		t.Error("unknown errors should be fatal")
	}
	if IsRetryable(nil) {
		t.Error("nil is not retryable")
	}
}

func TestBackoff_CapAndJitterBounds(t *testing.T) {
	cfg := Config{
		MaxAttempts:    10,
		BaseDelay:      10 * time.Millisecond,
		MaxDelay:       40 * time.Millisecond,
		AttemptTimeout: time.Second,
	}
	o := New(&fakeBackend{}, nil, cfg)

	for n := 1; n <= 9; n++ {
		for i := 0; i < 50; i++ {
			d := o.backoff(n)
			if d < 0 {
				t.Fatalf("negative backoff at attempt %d", n)
			}
			if d >= cfg.MaxDelay+cfg.BaseDelay {
				t.Fatalf("attempt %d: delay %v exceeds cap+jitter bound", n, d)
			}
		}
	}

	// Attempt 1 backoff is base + jitter[0, base).
	for i := 0; i < 50; i++ {
		d := o.backoff(1)
		if d < cfg.BaseDelay || d >= 2*cfg.BaseDelay {
			t.Fatalf("attempt 1 delay %v outside [base, 2·base)", d)
		}
	}
}
