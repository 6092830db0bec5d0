package claimsapi

import (
	"context"
	"strings"

	"github.com/k-capehart/go-salesforce/v3"
	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// SalesforceOption configures the Salesforce-backed client.
type SalesforceOption func(*sfClient)

// WithSObject overrides the target SObject name. Default: Claim__c.
func WithSObject(name string) SalesforceOption {
	return func(c *sfClient) {
		c.sObject = name
	}
}

// WithSFRateLimit sets a per-second rate limit for Salesforce calls.
func WithSFRateLimit(rps float64) SalesforceOption {
	return func(c *sfClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		}
	}
}

// sfClient submits claims as Salesforce records.
//
// NOTE: go-salesforce/v3 does not accept context.Context, so the ctx only
// guards the rate-limiter wait, as in any other client wrapping it.
type sfClient struct {
	sf      *salesforce.Salesforce
	sObject string
	limiter *rate.Limiter
}

// NewSalesforceClient wraps an initialized go-salesforce instance.
func NewSalesforceClient(sf *salesforce.Salesforce, opts ...SalesforceOption) Client {
	c := &sfClient{sf: sf, sObject: "Claim__c"}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *sfClient) SubmitClaim(ctx context.Context, p Payload) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", eris.Wrap(err, "claimsapi: rate limit")
		}
	}

	record := map[string]any{
		"Event_Date__c":      p.EventDate,
		"Submission_Date__c": p.SubmissionDate,
		"Claim_Amount__c":    p.ClaimAmount,
		"Invoice_Number__c":  p.InvoiceNumber,
		"Policy_Number__c":   p.PolicyNumber,
	}

	result, err := c.sf.InsertOne(c.sObject, record)
	if err != nil {
		return "", classifySFError(err)
	}
	if !result.Success {
		var msgs []string
		for _, e := range result.Errors {
			msgs = append(msgs, e.Message)
		}
		return "", &APIError{
			StatusCode: 422,
			Code:       "rejected",
			Message:    strings.Join(msgs, "; "),
		}
	}
	return result.Id, nil
}

// classifySFError maps go-salesforce failures onto APIError so the retry
// orchestrator can separate outages from policy rejections.
func classifySFError(err error) error {
	msg := strings.ToLower(err.Error())
	for _, transient := range []string{
		"server_unavailable",
		"request_limit_exceeded",
		"unable_to_lock_row",
		"timeout",
		"connection",
	} {
		if strings.Contains(msg, transient) {
			return &APIError{StatusCode: 503, Message: err.Error()}
		}
	}
	return &APIError{StatusCode: 400, Message: err.Error()}
}
