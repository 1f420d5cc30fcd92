// Package contracts defines the documents exchanged by the cascade-to-authorization
// pipeline: dependency graphs, incidents, evidence sets, handshake packets and
// signatures.
//
// Documents are validated once at the boundary (see Validate methods and
// pkg/schema); everything downstream relies on the typed shape.
package contracts

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidGraph    = errors.New("invalid graph")
	ErrInvalidIncident = errors.New("invalid incident")
	ErrInvalidEvidence = errors.New("invalid evidence")
)

// Node is a single asset in the dependency graph.
type Node struct {
	ID     string   `json:"id"`
	Sector string   `json:"sector"`
	Kind   string   `json:"kind"`
	Region string   `json:"region"`
	Lat    *float64 `json:"lat,omitempty"`
	Lon    *float64 `json:"lon,omitempty"`
	// Hints are priority hints attached by the inventory (e.g. "serves_hospitals").
	Hints []string `json:"hints,omitempty"`
}

// Edge is a directed dependency: failure of Source may propagate to Target.
type Edge struct {
	ID                 string  `json:"id"`
	Source             string  `json:"source"`
	Target             string  `json:"target"`
	ConfidenceScore    float64 `json:"confidenceScore"`
	InferredLagSeconds float64 `json:"inferredLagSeconds"`
}

// Graph is the dependency graph produced by the graph-inference collaborator.
// It is treated as immutable for the duration of one cascade run.
type Graph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Validate checks structural invariants. Nil node or edge collections are
// rejected; an empty (non-nil) edge set is a valid graph.
func (g *Graph) Validate() error {
	if g == nil {
		return fmt.Errorf("%w: graph is nil", ErrInvalidGraph)
	}
	if g.Nodes == nil {
		return fmt.Errorf("%w: missing nodes collection", ErrInvalidGraph)
	}
	if g.Edges == nil {
		return fmt.Errorf("%w: missing edges collection", ErrInvalidGraph)
	}

	seen := make(map[string]struct{}, len(g.Nodes))
	for i, n := range g.Nodes {
		if n.ID == "" {
			return fmt.Errorf("%w: node %d has empty id", ErrInvalidGraph, i)
		}
		if _, dup := seen[n.ID]; dup {
			return fmt.Errorf("%w: duplicate node id %q", ErrInvalidGraph, n.ID)
		}
		seen[n.ID] = struct{}{}
	}

	edgeIDs := make(map[string]struct{}, len(g.Edges))
	for i, e := range g.Edges {
		if e.ID == "" {
			return fmt.Errorf("%w: edge %d has empty id", ErrInvalidGraph, i)
		}
		if _, dup := edgeIDs[e.ID]; dup {
			return fmt.Errorf("%w: duplicate edge id %q", ErrInvalidGraph, e.ID)
		}
		edgeIDs[e.ID] = struct{}{}
		if _, ok := seen[e.Source]; !ok {
			return fmt.Errorf("%w: edge %q references unknown source %q", ErrInvalidGraph, e.ID, e.Source)
		}
		if _, ok := seen[e.Target]; !ok {
			return fmt.Errorf("%w: edge %q references unknown target %q", ErrInvalidGraph, e.ID, e.Target)
		}
		if e.ConfidenceScore < 0 || e.ConfidenceScore > 1 {
			return fmt.Errorf("%w: edge %q confidence %v outside [0,1]", ErrInvalidGraph, e.ID, e.ConfidenceScore)
		}
		if e.InferredLagSeconds < 0 {
			return fmt.Errorf("%w: edge %q has negative lag", ErrInvalidGraph, e.ID)
		}
	}
	return nil
}

// NodeIndex returns nodes keyed by id.
func (g *Graph) NodeIndex() map[string]Node {
	idx := make(map[string]Node, len(g.Nodes))
	for _, n := range g.Nodes {
		idx[n.ID] = n
	}
	return idx
}

// HasHint reports whether the node carries the given priority hint.
func (n Node) HasHint(hint string) bool {
	for _, h := range n.Hints {
		if h == hint {
			return true
		}
	}
	return false
}
