package cascade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/Mindburn-Labs/munin/pkg/contracts"
	"github.com/Mindburn-Labs/munin/pkg/priority"
)

var (
	// ErrNoSeeds is returned when a run has no seed nodes.
	ErrNoSeeds = errors.New("cascade requires at least one seed")
	// ErrUnknownSeed is returned when a seed is not a graph node.
	ErrUnknownSeed = errors.New("unknown seed node")
)

// State is the lifecycle state of a simulation run.
type State string

const (
	StateSeeded      State = "seeded"
	StatePropagating State = "propagating"
	// StateConverged means an iteration admitted no new node.
	StateConverged State = "converged"
	// StateCapped means the iteration cap was reached while still admitting.
	StateCapped State = "capped"
)

// Request describes one simulation run.
type Request struct {
	Graph *contracts.Graph
	// Classifications of the graph nodes. When nil the simulator classifies
	// the graph with its own flag rules.
	Classifications priority.Lookup
	Seeds           []string
	Emergency       priority.EmergencyContext
	Severity        Severity
	Start           time.Time
}

// BlockedEdge is an edge the cascade could not cross because its target is
// a preserved top band asset.
type BlockedEdge struct {
	EdgeID    string `json:"edgeId"`
	Target    string `json:"target"`
	Iteration int    `json:"iteration"`
}

// Timeline is the result of a run.
type Timeline struct {
	Entries    []contracts.TimelineEntry `json:"entries"`
	Blocked    []BlockedEdge             `json:"blocked,omitempty"`
	State      State                     `json:"state"`
	Iterations int                       `json:"iterations"`
}

// Impacted returns the cumulative impacted set of the last entry.
func (t *Timeline) Impacted() []string {
	if len(t.Entries) == 0 {
		return nil
	}
	return t.Entries[len(t.Entries)-1].ImpactedNodeIDs
}

// Incident wraps the timeline as an incident document.
func (t *Timeline) Incident(id, incidentType string) *contracts.Incident {
	entries := make([]contracts.TimelineEntry, len(t.Entries))
	for i, e := range t.Entries {
		entries[i] = contracts.TimelineEntry{
			Timestamp:       e.Timestamp,
			ImpactedNodeIDs: append([]string(nil), e.ImpactedNodeIDs...),
			Confidence:      e.Confidence,
		}
	}
	return &contracts.Incident{ID: id, Type: incidentType, Timeline: entries}
}

// Simulator runs cascades. It holds no per-run state and is safe for
// concurrent use.
type Simulator struct {
	params Params
	rules  *priority.FlagRules
	logger *slog.Logger
}

// Option configures a Simulator.
type Option func(*Simulator)

// WithLogger sets the simulator logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Simulator) { s.logger = l }
}

// WithFlagRules sets the rules used to classify graphs when a request
// carries no classifications.
func WithFlagRules(r *priority.FlagRules) Option {
	return func(s *Simulator) { s.rules = r }
}

// New creates a simulator after validating params.
func New(params Params, opts ...Option) (*Simulator, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	s := &Simulator{
		params: params,
		logger: slog.Default().With("component", "cascade"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.rules == nil {
		rules, err := priority.NewFlagRules(priority.DefaultRules())
		if err != nil {
			return nil, err
		}
		s.rules = rules
	}
	return s, nil
}

// Params returns the simulator parameters.
func (s *Simulator) Params() Params { return s.params }

// Simulate runs one cascade to convergence or to the iteration cap.
func (s *Simulator) Simulate(ctx context.Context, req Request) (*Timeline, error) {
	if req.Graph == nil {
		return nil, fmt.Errorf("%w: missing graph", contracts.ErrInvalidGraph)
	}
	if err := req.Graph.Validate(); err != nil {
		return nil, err
	}
	if len(req.Seeds) == 0 {
		return nil, ErrNoSeeds
	}

	lookup := req.Classifications
	if lookup == nil {
		cls, err := s.rules.ClassifyGraph(req.Graph)
		if err != nil {
			return nil, err
		}
		lookup = cls
	}

	nodes := req.Graph.NodeIndex()
	impacted := make(map[string]struct{}, len(nodes))
	order := make([]string, 0, len(nodes))
	for _, id := range req.Seeds {
		if _, ok := nodes[id]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownSeed, id)
		}
		if _, dup := impacted[id]; dup {
			continue
		}
		impacted[id] = struct{}{}
		order = append(order, id)
	}

	edges := append([]contracts.Edge(nil), req.Graph.Edges...)
	sort.Slice(edges, func(i, j int) bool { return edges[i].ID < edges[j].ID })

	p := s.params
	ts := req.Start.UTC()
	tl := &Timeline{State: StateSeeded}
	tl.Entries = append(tl.Entries, contracts.TimelineEntry{
		Timestamp:       ts,
		ImpactedNodeIDs: append([]string(nil), order...),
		Confidence:      p.SeedConfidence,
	})

	blocked := make(map[string]struct{})
	limit := p.IterationCap(req.Severity)
	tl.State = StatePropagating

	for i := 1; i <= limit; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		admitted := make(map[string]float64)
		var maxLag float64
		for _, e := range edges {
			if _, ok := impacted[e.Source]; !ok {
				continue
			}
			if _, ok := impacted[e.Target]; ok {
				continue
			}

			conf := e.ConfidenceScore * math.Pow(p.DefaultDecay, float64(i))

			ac, err := lookup.Get(e.Target)
			if err != nil {
				return nil, err
			}
			adj := priority.Adjust(ac, req.Emergency.Level)
			if adj.ShouldPreserve {
				switch adj.Band() {
				case priority.BandTop:
					if _, seen := blocked[e.ID]; !seen {
						blocked[e.ID] = struct{}{}
						tl.Blocked = append(tl.Blocked, BlockedEdge{EdgeID: e.ID, Target: e.Target, Iteration: i})
					}
					continue
				case priority.BandMid:
					conf *= math.Pow(p.SlowedDecay, float64(i))
				}
			}

			if conf <= p.ConfidenceFloor {
				continue
			}
			if prev, ok := admitted[e.Target]; !ok || conf > prev {
				admitted[e.Target] = conf
			}
			if e.InferredLagSeconds > maxLag {
				maxLag = e.InferredLagSeconds
			}
		}

		tl.Iterations = i
		if len(admitted) == 0 {
			tl.State = StateConverged
			break
		}

		targets := make([]string, 0, len(admitted))
		var sum float64
		for id := range admitted {
			targets = append(targets, id)
		}
		sort.Strings(targets)
		for _, id := range targets {
			sum += admitted[id]
			impacted[id] = struct{}{}
			order = append(order, id)
		}

		mean := sum / float64(len(admitted))
		conf := math.Max(p.ConfidenceFloor, mean*math.Pow(p.IterationDecay, float64(i-1)))

		if maxLag == 0 {
			maxLag = p.DefaultStepSeconds
		}
		ts = ts.Add(time.Duration(maxLag * float64(time.Second)))

		tl.Entries = append(tl.Entries, contracts.TimelineEntry{
			Timestamp:       ts,
			ImpactedNodeIDs: append([]string(nil), order...),
			Confidence:      math.Min(1, conf),
		})
	}
	if tl.State == StatePropagating {
		tl.State = StateCapped
	}

	s.logger.Debug("cascade simulated",
		"seeds", len(req.Seeds),
		"iterations", tl.Iterations,
		"impacted", len(order),
		"blocked", len(tl.Blocked),
		"state", tl.State,
	)
	return tl, nil
}
