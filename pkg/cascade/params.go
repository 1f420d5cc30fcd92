// Package cascade simulates failure propagation through a dependency graph.
//
// A run starts from seed nodes and advances one iteration at a time. Each
// iteration admits targets of edges leaving the impacted set whose decayed
// confidence stays above the floor. Preserved assets slow or stop the
// cascade depending on their adjusted tier.
package cascade

import (
	"errors"
	"fmt"
)

// Severity selects the iteration cap of a run.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// ErrInvalidParams is returned for out of range simulation parameters.
var ErrInvalidParams = errors.New("invalid cascade parameters")

// Params are the tunable constants of the propagation model.
type Params struct {
	SeedConfidence          float64          `mapstructure:"seed_confidence" json:"seedConfidence"`
	DefaultDecay            float64          `mapstructure:"default_decay" json:"defaultDecay"`
	SlowedDecay             float64          `mapstructure:"slowed_decay" json:"slowedDecay"`
	IterationDecay          float64          `mapstructure:"iteration_decay" json:"iterationDecay"`
	ConfidenceFloor         float64          `mapstructure:"confidence_floor" json:"confidenceFloor"`
	MaxIterations           int              `mapstructure:"max_iterations" json:"maxIterations"`
	MaxIterationsBySeverity map[Severity]int `mapstructure:"max_iterations_by_severity" json:"maxIterationsBySeverity"`
	DefaultStepSeconds      float64          `mapstructure:"default_step_seconds" json:"defaultStepSeconds"`
}

// DefaultParams returns the calibrated defaults.
func DefaultParams() Params {
	return Params{
		SeedConfidence:  0.95,
		DefaultDecay:    0.9,
		SlowedDecay:     0.5,
		IterationDecay:  0.81,
		ConfidenceFloor: 0.3,
		MaxIterations:   10,
		MaxIterationsBySeverity: map[Severity]int{
			SeverityLow:    10,
			SeverityMedium: 12,
			SeverityHigh:   15,
		},
		DefaultStepSeconds: 60,
	}
}

// Validate checks every parameter range.
func (p Params) Validate() error {
	decays := []struct {
		name string
		v    float64
	}{
		{"seed_confidence", p.SeedConfidence},
		{"default_decay", p.DefaultDecay},
		{"slowed_decay", p.SlowedDecay},
		{"iteration_decay", p.IterationDecay},
	}
	for _, d := range decays {
		if d.v <= 0 || d.v > 1 {
			return fmt.Errorf("%w: %s=%v must be in (0,1]", ErrInvalidParams, d.name, d.v)
		}
	}
	if p.ConfidenceFloor < 0 || p.ConfidenceFloor >= 1 {
		return fmt.Errorf("%w: confidence_floor=%v must be in [0,1)", ErrInvalidParams, p.ConfidenceFloor)
	}
	if p.MaxIterations < 1 {
		return fmt.Errorf("%w: max_iterations=%d must be >= 1", ErrInvalidParams, p.MaxIterations)
	}
	for sev, n := range p.MaxIterationsBySeverity {
		if n < 1 {
			return fmt.Errorf("%w: max_iterations_by_severity.%s=%d must be >= 1", ErrInvalidParams, sev, n)
		}
	}
	if p.DefaultStepSeconds <= 0 {
		return fmt.Errorf("%w: default_step_seconds=%v must be > 0", ErrInvalidParams, p.DefaultStepSeconds)
	}
	return nil
}

// IterationCap returns the iteration cap for a severity. Unknown or empty
// severities use MaxIterations.
func (p Params) IterationCap(s Severity) int {
	if n, ok := p.MaxIterationsBySeverity[s]; ok {
		return n
	}
	return p.MaxIterations
}
