// Package claimsapi provides clients for the downstream claims-processing
// backend.
package claimsapi

import (
	"context"
	"fmt"
)

// Payload is the normalized submission body. The backend contract fixes
// exactly these fields.
type Payload struct {
	EventDate      string `json:"event_date"`      // ISO 8601 date
	SubmissionDate string `json:"submission_date"` // RFC 3339 with zone
	ClaimAmount    string `json:"claim_amount"`    // two-decimal string
	InvoiceNumber  string `json:"invoice_number"`
	PolicyNumber   string `json:"policy_number"`
}

// Client submits normalized claims and returns a submission reference.
type Client interface {
	SubmitClaim(ctx context.Context, p Payload) (string, error)
}

// APIError is a structured rejection from the backend. StatusCode carries
// the HTTP-style status; the retry orchestrator classifies it.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("claims backend: %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("claims backend: %d: %s", e.StatusCode, e.Message)
}

// Transient reports whether the status indicates a server-side condition
// that is safe to retry.
func (e *APIError) Transient() bool {
	switch e.StatusCode {
	case 408, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}
