// Package classify maps extraction confidence to a routing decision.
package classify

import (
	"github.com/rotisserie/eris"

	"github.com/meridian-benefits/claimflow/internal/model"
)

// Routing bands. Lower bounds are inclusive.
const (
	AutoSubmitThreshold    = 0.90
	FlaggedSubmitThreshold = 0.75
)

// ErrInvalidConfidence is returned when the caller passes a confidence
// outside [0,1]. This is a contract violation, not an extraction problem.
var ErrInvalidConfidence = eris.New("classify: confidence outside [0,1]")

// Bands holds overridable routing thresholds. Lower bounds are inclusive.
type Bands struct {
	AutoSubmit    float64
	FlaggedSubmit float64
}

// DefaultBands returns the standard thresholds.
func DefaultBands() Bands {
	return Bands{AutoSubmit: AutoSubmitThreshold, FlaggedSubmit: FlaggedSubmitThreshold}
}

// Validate reports whether the bands are ordered and within range.
func (b Bands) Validate() error {
	if b.FlaggedSubmit <= 0 || b.AutoSubmit > 1 || b.FlaggedSubmit >= b.AutoSubmit {
		return eris.Errorf("classify: invalid bands flagged=%v auto=%v", b.FlaggedSubmit, b.AutoSubmit)
	}
	return nil
}

// Route returns the route for a confidence score. Pure function.
func (b Bands) Route(confidence float64) (model.Route, error) {
	if confidence < 0 || confidence > 1 {
		return "", eris.Wrapf(ErrInvalidConfidence, "got %v", confidence)
	}
	switch {
	case confidence >= b.AutoSubmit:
		return model.RouteAutoSubmit, nil
	case confidence >= b.FlaggedSubmit:
		return model.RouteFlaggedSubmit, nil
	default:
		return model.RouteException, nil
	}
}

// Classify routes a confidence score through the default bands.
func Classify(confidence float64) (model.Route, error) {
	return DefaultBands().Route(confidence)
}
