package claimsapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPayload() Payload {
	return Payload{
		EventDate:      "2026-03-14",
		SubmissionDate: "2026-03-15T10:00:00Z",
		ClaimAmount:    "142.50",
		InvoiceNumber:  "INV-9001",
		PolicyNumber:   "POL-555",
	}
}

func TestHTTPClient_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/claims", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var p Payload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&p))
		assert.Equal(t, "142.50", p.ClaimAmount)
		assert.Equal(t, "INV-9001", p.InvoiceNumber)

		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]string{"reference": "SUB-1234"})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "test-key")
	ref, err := c.SubmitClaim(context.Background(), testPayload())
	require.NoError(t, err)
	assert.Equal(t, "SUB-1234", ref)
}

func TestHTTPClient_ServerError_Transient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"code":"unavailable","message":"maintenance"}}`, http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "")
	_, err := c.SubmitClaim(context.Background(), testPayload())
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
	assert.True(t, apiErr.Transient())
}

func TestHTTPClient_PolicyRejection_Fatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]string{"code": "policy_rejected", "message": "policy lapsed"},
		})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "")
	_, err := c.SubmitClaim(context.Background(), testPayload())
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.StatusCode)
	assert.Equal(t, "policy_rejected", apiErr.Code)
	assert.False(t, apiErr.Transient())
}

func TestHTTPClient_MissingReference(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "")
	_, err := c.SubmitClaim(context.Background(), testPayload())
	assert.Error(t, err)
}

func TestAPIError_TransientStatuses(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		assert.True(t, (&APIError{StatusCode: code}).Transient(), "status %d", code)
	}
	for _, code := range []int{400, 401, 403, 404, 409, 422} {
		assert.False(t, (&APIError{StatusCode: code}).Transient(), "status %d", code)
	}
}
