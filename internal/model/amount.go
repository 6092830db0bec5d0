package model

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// Amount is a fixed-point monetary value in cents. Claim amounts are
// always rendered with exactly two fractional digits.
type Amount int64

// ParseAmount parses a monetary string into an Amount. Currency symbols
// and thousands separators are stripped. Negative, empty, non-numeric,
// or more-than-two-decimal values are rejected.
func ParseAmount(s string) (Amount, error) {
	cleaned := strings.TrimSpace(s)
	for _, sym := range []string{"$", "£", "€", "USD", "usd"} {
		cleaned = strings.ReplaceAll(cleaned, sym, "")
	}
	cleaned = strings.ReplaceAll(cleaned, ",", "")
	cleaned = strings.TrimSpace(cleaned)

	if cleaned == "" {
		return 0, eris.New("amount: empty value")
	}
	if strings.HasPrefix(cleaned, "-") || strings.HasPrefix(cleaned, "(") {
		return 0, eris.Errorf("amount: negative value %q", s)
	}

	whole := cleaned
	frac := ""
	if i := strings.IndexByte(cleaned, '.'); i >= 0 {
		whole, frac = cleaned[:i], cleaned[i+1:]
	}
	if len(frac) > 2 {
		return 0, eris.Errorf("amount: more than two decimal places in %q", s)
	}
	for len(frac) < 2 {
		frac += "0"
	}
	if whole == "" {
		whole = "0"
	}

	dollars, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, eris.Wrapf(err, "amount: parse %q", s)
	}
	cents, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, eris.Wrapf(err, "amount: parse %q", s)
	}

	return Amount(dollars*100 + cents), nil
}

// String renders the amount with two decimal places, e.g. "123.45".
func (a Amount) String() string {
	return fmt.Sprintf("%d.%02d", int64(a)/100, int64(a)%100)
}

// Float64 returns the amount in major units. Lossy; use only for display
// and metrics, never for equality.
func (a Amount) Float64() float64 {
	return float64(a) / 100
}

// MarshalJSON emits the amount as a two-decimal JSON number.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalJSON accepts either a JSON number or a quoted decimal string.
func (a *Amount) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	parsed, err := ParseAmount(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
