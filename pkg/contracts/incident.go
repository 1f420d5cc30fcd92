package contracts

import (
	"fmt"
	"time"
)

// TimelineEntry is one step of a cascade: the cumulative set of impacted
// nodes at Timestamp and the confidence that the cascade reached that far.
type TimelineEntry struct {
	Timestamp       time.Time `json:"ts"`
	ImpactedNodeIDs []string  `json:"impactedNodeIds"`
	Confidence      float64   `json:"confidence"`
}

// Incident is a predicted cascade that requires an authorization decision.
type Incident struct {
	ID       string          `json:"id"`
	Type     string          `json:"type"`
	Timeline []TimelineEntry `json:"timeline"`
}

// Validate enforces that the incident carries a non-empty timeline whose
// entries each name at least one impacted node.
func (i *Incident) Validate() error {
	if i == nil {
		return fmt.Errorf("%w: incident is nil", ErrInvalidIncident)
	}
	if i.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidIncident)
	}
	if i.Type == "" {
		return fmt.Errorf("%w: missing type", ErrInvalidIncident)
	}
	if len(i.Timeline) == 0 {
		return fmt.Errorf("%w: empty timeline", ErrInvalidIncident)
	}
	for k, e := range i.Timeline {
		if len(e.ImpactedNodeIDs) == 0 {
			return fmt.Errorf("%w: timeline entry %d has no impacted nodes", ErrInvalidIncident, k)
		}
		if e.Confidence < 0 || e.Confidence > 1 {
			return fmt.Errorf("%w: timeline entry %d confidence %v outside [0,1]", ErrInvalidIncident, k, e.Confidence)
		}
		if k > 0 && e.Timestamp.Before(i.Timeline[k-1].Timestamp) {
			return fmt.Errorf("%w: timeline entry %d goes back in time", ErrInvalidIncident, k)
		}
	}
	return nil
}

// ImpactedUnion returns the union of impacted node ids across the timeline,
// in first-seen order.
func (i *Incident) ImpactedUnion() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, e := range i.Timeline {
		for _, id := range e.ImpactedNodeIDs {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}
