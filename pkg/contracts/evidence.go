package contracts

import "fmt"

// EvidenceWindow is a sensor-health observation over a source/target pair,
// produced by the sensor-health collaborator.
type EvidenceWindow struct {
	ID           string  `json:"id"`
	SourceNodeID string  `json:"sourceNodeId"`
	TargetNodeID string  `json:"targetNodeId"`
	Robustness   float64 `json:"robustness"`
	Correlation  float64 `json:"correlation"`
	LagSeconds   float64 `json:"lagSeconds"`
}

// Evidence is the set of windows supporting a packet.
type Evidence struct {
	Windows []EvidenceWindow `json:"windows"`
}

// Validate requires a windows collection; an empty collection is allowed and
// results in the fallback uncertainty.
func (e *Evidence) Validate() error {
	if e == nil {
		return fmt.Errorf("%w: evidence is nil", ErrInvalidEvidence)
	}
	if e.Windows == nil {
		return fmt.Errorf("%w: missing windows collection", ErrInvalidEvidence)
	}
	seen := make(map[string]struct{}, len(e.Windows))
	for i, w := range e.Windows {
		if w.ID == "" {
			return fmt.Errorf("%w: window %d has empty id", ErrInvalidEvidence, i)
		}
		if _, dup := seen[w.ID]; dup {
			return fmt.Errorf("%w: duplicate window id %q", ErrInvalidEvidence, w.ID)
		}
		seen[w.ID] = struct{}{}
		if w.Robustness < 0 || w.Robustness > 1 {
			return fmt.Errorf("%w: window %q robustness %v outside [0,1]", ErrInvalidEvidence, w.ID, w.Robustness)
		}
	}
	return nil
}

// Touches reports whether the window references any node in the set.
func (w EvidenceWindow) Touches(nodes map[string]struct{}) bool {
	if _, ok := nodes[w.SourceNodeID]; ok {
		return true
	}
	_, ok := nodes[w.TargetNodeID]
	return ok
}
