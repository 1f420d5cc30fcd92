package priority

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/Mindburn-Labs/munin/pkg/contracts"
)

// Classifications is an immutable set of classifications keyed by node id.
type Classifications map[string]AssetClassification

// Get returns the classification of nodeID or ErrUnclassifiedAsset.
func (c Classifications) Get(nodeID string) (AssetClassification, error) {
	ac, ok := c[nodeID]
	if !ok {
		return AssetClassification{}, fmt.Errorf("%w: %s", ErrUnclassifiedAsset, nodeID)
	}
	return ac, nil
}

// Lookup is what the cascade simulator needs from a classifier.
type Lookup interface {
	Get(nodeID string) (AssetClassification, error)
}

// Registry classifies graphs and remembers the latest classification per node.
type Registry struct {
	mu      sync.RWMutex
	rules   *FlagRules
	current Classifications
	logger  *slog.Logger
}

// NewRegistry creates a registry using the given flag rules.
func NewRegistry(rules *FlagRules) *Registry {
	return &Registry{
		rules:   rules,
		current: Classifications{},
		logger:  slog.Default().With("component", "priority"),
	}
}

// ClassifyGraph classifies every node of g. The result replaces the
// registry's current view and is returned for use in a single cascade run.
func (r *Registry) ClassifyGraph(g *contracts.Graph) (Classifications, error) {
	out, err := r.rules.ClassifyGraph(g)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.current = out
	r.mu.Unlock()

	r.logger.Debug("graph classified", "nodes", len(out))
	return out, nil
}

// Get returns the current classification of nodeID.
func (r *Registry) Get(nodeID string) (AssetClassification, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current.Get(nodeID)
}

// Adjusted returns the emergency-adjusted view of nodeID. It is recomputed on
// every call so that emergency level changes take effect immediately.
func (r *Registry) Adjusted(nodeID string, ec EmergencyContext) (Adjustment, error) {
	ac, err := r.Get(nodeID)
	if err != nil {
		return Adjustment{}, err
	}
	return Adjust(ac, ec.Level), nil
}

// ShedPlan returns the ids of sheddable nodes in shed order (lowest first),
// ties broken by node id.
func (c Classifications) ShedPlan() []string {
	ids := make([]string, 0, len(c))
	for id, ac := range c {
		if ac.CanBeShed {
			ids = append(ids, id)
		}
	}
	sortByShedOrder(ids, c)
	return ids
}
