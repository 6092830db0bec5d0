package model

import "time"

// RawExtraction is the loosely-typed field set returned by the extraction
// engine, before normalization. Empty strings mean the field was not found.
type RawExtraction struct {
	EventDate     string `json:"event_date"`
	ClaimAmount   string `json:"claim_amount"`
	InvoiceNumber string `json:"invoice_number"`
	PolicyNumber  string `json:"policy_number"`
	MemberID      string `json:"member_id"`
}

// FieldProvenance flags fields whose values were inferred by fallback
// rules rather than read directly from the document.
type FieldProvenance struct {
	PolicyNumberFromMemberID bool `json:"policy_number_from_member_id,omitempty"`
}

// ExtractedClaim is the canonical, structurally valid claim produced by
// the normalizer. Read-only after creation.
type ExtractedClaim struct {
	EventDate     time.Time       `json:"event_date"`
	ClaimAmount   Amount          `json:"claim_amount"`
	InvoiceNumber string          `json:"invoice_number"`
	PolicyNumber  string          `json:"policy_number"`
	Confidence    float64         `json:"confidence"`
	Provenance    FieldProvenance `json:"provenance,omitzero"`
}

// DocumentEvent is an inbound scanned document delivered by the source.
type DocumentEvent struct {
	EventID    string    `json:"event_id"`
	Sender     string    `json:"sender"`
	Filename   string    `json:"filename"`
	Attachment []byte    `json:"-"`
	ReceivedAt time.Time `json:"received_at"`
}
