// Package normalize turns raw extraction output into a canonical
// ExtractedClaim, applying field-fallback rules.
package normalize

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/meridian-benefits/claimflow/internal/model"
)

// ErrExtractionFailure marks a structurally invalid extraction. Jobs that
// hit it terminate Failed; confidence never excuses a broken record.
var ErrExtractionFailure = eris.New("normalize: extraction failure")

// Date layouts seen on scanned receipts, most specific first.
var dateLayouts = []string{
	"2006-01-02",
	"01/02/2006",
	"1/2/2006",
	"02 Jan 2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"2006/01/02",
}

// Normalize validates and converts a raw extraction into an ExtractedClaim.
// The confidence score is carried through unchanged; routing happens at
// the classifier once the record is structurally valid.
func Normalize(raw model.RawExtraction, confidence float64) (*model.ExtractedClaim, error) {
	invoice := strings.TrimSpace(raw.InvoiceNumber)
	if invoice == "" {
		return nil, eris.Wrap(ErrExtractionFailure, "missing invoice number")
	}

	amount, err := model.ParseAmount(raw.ClaimAmount)
	if err != nil {
		return nil, eris.Wrapf(ErrExtractionFailure, "claim amount: %v", err)
	}

	eventDate, err := parseDate(raw.EventDate)
	if err != nil {
		return nil, eris.Wrapf(ErrExtractionFailure, "event date: %v", err)
	}

	claim := &model.ExtractedClaim{
		EventDate:     eventDate,
		ClaimAmount:   amount,
		InvoiceNumber: invoice,
		Confidence:    confidence,
	}

	policy := strings.TrimSpace(raw.PolicyNumber)
	if policy == "" {
		member := strings.TrimSpace(raw.MemberID)
		if member == "" {
			return nil, eris.Wrap(ErrExtractionFailure, "no policy number or member id")
		}
		claim.PolicyNumber = member
		claim.Provenance.PolicyNumberFromMemberID = true
	} else {
		claim.PolicyNumber = policy
	}

	return claim, nil
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, eris.New("empty")
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, eris.Errorf("unparsable value %q", s)
}
