package cascade

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/munin/pkg/contracts"
	"github.com/Mindburn-Labs/munin/pkg/priority"
)

var start = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func node(id, sector, kind string) contracts.Node {
	return contracts.Node{ID: id, Sector: sector, Kind: kind, Region: "r1"}
}

func edge(id, src, dst string, conf, lag float64) contracts.Edge {
	return contracts.Edge{ID: id, Source: src, Target: dst, ConfidenceScore: conf, InferredLagSeconds: lag}
}

func chainGraph(cKind string) *contracts.Graph {
	return &contracts.Graph{
		Nodes: []contracts.Node{
			node("A", "commercial", "mall"),
			node("B", "commercial", "mall"),
			node("C", "commercial", cKind),
		},
		Edges: []contracts.Edge{
			edge("e1", "A", "B", 0.9, 0),
			edge("e2", "B", "C", 0.9, 0),
		},
	}
}

func newSim(t *testing.T) *Simulator {
	t.Helper()
	s, err := New(DefaultParams())
	require.NoError(t, err)
	return s
}

func TestSimulate_ChainExample(t *testing.T) {
	tl, err := newSim(t).Simulate(context.Background(), Request{
		Graph: chainGraph("mall"),
		Seeds: []string{"A"},
		Start: start,
	})
	require.NoError(t, err)
	require.Len(t, tl.Entries, 3)

	assert.Equal(t, []string{"A"}, tl.Entries[0].ImpactedNodeIDs)
	assert.InDelta(t, 0.95, tl.Entries[0].Confidence, 1e-9)
	assert.Equal(t, []string{"A", "B"}, tl.Entries[1].ImpactedNodeIDs)
	assert.InDelta(t, 0.81, tl.Entries[1].Confidence, 1e-9)
	assert.Equal(t, []string{"A", "B", "C"}, tl.Entries[2].ImpactedNodeIDs)
	assert.InDelta(t, 0.59049, tl.Entries[2].Confidence, 1e-9)

	assert.Equal(t, start, tl.Entries[0].Timestamp)
	assert.Equal(t, start.Add(time.Minute), tl.Entries[1].Timestamp)
	assert.Equal(t, start.Add(2*time.Minute), tl.Entries[2].Timestamp)
	assert.Equal(t, StateConverged, tl.State)
	assert.Equal(t, 3, tl.Iterations)
}

func TestSimulate_LagAdvancesTimestamp(t *testing.T) {
	g := chainGraph("mall")
	g.Edges[0].InferredLagSeconds = 30
	g.Edges[1].InferredLagSeconds = 90

	tl, err := newSim(t).Simulate(context.Background(), Request{Graph: g, Seeds: []string{"A"}, Start: start})
	require.NoError(t, err)
	require.Len(t, tl.Entries, 3)
	assert.Equal(t, start.Add(30*time.Second), tl.Entries[1].Timestamp)
	assert.Equal(t, start.Add(120*time.Second), tl.Entries[2].Timestamp)
}

func TestSimulate_WarBlocksPreservedLifeSupport(t *testing.T) {
	for _, level := range []priority.EmergencyLevel{priority.LevelWar, priority.LevelExistential} {
		t.Run(level.String(), func(t *testing.T) {
			tl, err := newSim(t).Simulate(context.Background(), Request{
				Graph:     chainGraph("hospital"),
				Seeds:     []string{"A"},
				Emergency: priority.EmergencyContext{Level: level},
				Start:     start,
			})
			require.NoError(t, err)
			assert.NotContains(t, tl.Impacted(), "C")
			require.Len(t, tl.Blocked, 1)
			assert.Equal(t, BlockedEdge{EdgeID: "e2", Target: "C", Iteration: 2}, tl.Blocked[0])
		})
	}
}

func TestSimulate_PeacetimeDoesNotPreserve(t *testing.T) {
	tl, err := newSim(t).Simulate(context.Background(), Request{
		Graph: chainGraph("hospital"),
		Seeds: []string{"A"},
		Start: start,
	})
	require.NoError(t, err)
	assert.Contains(t, tl.Impacted(), "C")
	assert.Empty(t, tl.Blocked)
}

func TestSimulate_MidBandIsSlowed(t *testing.T) {
	g := &contracts.Graph{
		Nodes: []contracts.Node{
			node("A", "commercial", "mall"),
			node("W", "water", "water_treatment"),
			node("X", "water", "water_treatment"),
		},
		Edges: []contracts.Edge{
			edge("e1", "A", "W", 0.9, 0),
			edge("e2", "W", "X", 0.9, 0),
		},
	}
	tl, err := newSim(t).Simulate(context.Background(), Request{
		Graph:     g,
		Seeds:     []string{"A"},
		Emergency: priority.EmergencyContext{Level: priority.LevelNationalEmergency},
		Start:     start,
	})
	require.NoError(t, err)

	// 0.9 * 0.9 * 0.5 = 0.405 admits W; 0.9 * 0.81 * 0.25 falls below the floor.
	require.Len(t, tl.Entries, 2)
	assert.InDelta(t, 0.405, tl.Entries[1].Confidence, 1e-9)
	assert.Equal(t, []string{"A", "W"}, tl.Impacted())
	assert.Empty(t, tl.Blocked)
}

func TestSimulate_MaxCandidatePerTarget(t *testing.T) {
	g := &contracts.Graph{
		Nodes: []contracts.Node{
			node("A", "commercial", "mall"),
			node("B", "commercial", "mall"),
			node("T", "commercial", "mall"),
		},
		Edges: []contracts.Edge{
			edge("e1", "A", "T", 0.5, 10),
			edge("e2", "B", "T", 1.0, 20),
		},
	}
	tl, err := newSim(t).Simulate(context.Background(), Request{Graph: g, Seeds: []string{"A", "B"}, Start: start})
	require.NoError(t, err)
	require.Len(t, tl.Entries, 2)
	assert.InDelta(t, 0.9, tl.Entries[1].Confidence, 1e-9)
	assert.Equal(t, start.Add(20*time.Second), tl.Entries[1].Timestamp)
}

func TestSimulate_FloorStopsCascade(t *testing.T) {
	g := chainGraph("mall")
	g.Edges[0].ConfidenceScore = 0.3
	tl, err := newSim(t).Simulate(context.Background(), Request{Graph: g, Seeds: []string{"A"}, Start: start})
	require.NoError(t, err)
	assert.Len(t, tl.Entries, 1)
	assert.Equal(t, StateConverged, tl.State)
}

func TestSimulate_IterationCap(t *testing.T) {
	p := DefaultParams()
	p.MaxIterations = 1
	p.MaxIterationsBySeverity = nil
	s, err := New(p)
	require.NoError(t, err)

	tl, err := s.Simulate(context.Background(), Request{Graph: chainGraph("mall"), Seeds: []string{"A"}, Start: start})
	require.NoError(t, err)
	assert.Len(t, tl.Entries, 2)
	assert.Equal(t, StateCapped, tl.State)
}

func TestSimulate_Errors(t *testing.T) {
	s := newSim(t)
	ctx := context.Background()

	_, err := s.Simulate(ctx, Request{Graph: chainGraph("mall"), Start: start})
	assert.ErrorIs(t, err, ErrNoSeeds)

	_, err = s.Simulate(ctx, Request{Graph: chainGraph("mall"), Seeds: []string{"Z"}, Start: start})
	assert.ErrorIs(t, err, ErrUnknownSeed)

	_, err = s.Simulate(ctx, Request{Seeds: []string{"A"}})
	assert.ErrorIs(t, err, contracts.ErrInvalidGraph)

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	_, err = s.Simulate(cctx, Request{Graph: chainGraph("mall"), Seeds: []string{"A"}, Start: start})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSimulate_UsesProvidedClassifications(t *testing.T) {
	g := chainGraph("mall")
	cls := priority.Classifications{
		"A": priority.Classify("A", "commercial", "mall", priority.ServiceFlags{}),
		"B": priority.Classify("B", "commercial", "mall", priority.ServiceFlags{ServesMilitary: true}),
	}
	tl, err := newSim(t).Simulate(context.Background(), Request{
		Graph:           g,
		Classifications: cls,
		Seeds:           []string{"A"},
		Emergency:       priority.EmergencyContext{Level: priority.LevelWar},
		Start:           start,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, tl.Impacted())
	assert.Len(t, tl.Blocked, 1)

	cls = priority.Classifications{"A": cls["A"]}
	_, err = newSim(t).Simulate(context.Background(), Request{Graph: g, Classifications: cls, Seeds: []string{"A"}, Start: start})
	assert.ErrorIs(t, err, priority.ErrUnclassifiedAsset)
}

func TestSimulate_Deterministic(t *testing.T) {
	s := newSim(t)
	req := Request{Graph: chainGraph("mall"), Seeds: []string{"A"}, Start: start}
	a, err := s.Simulate(context.Background(), req)
	require.NoError(t, err)
	b, err := s.Simulate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestParamsValidate(t *testing.T) {
	require.NoError(t, DefaultParams().Validate())

	p := DefaultParams()
	p.DefaultDecay = 0
	assert.ErrorIs(t, p.Validate(), ErrInvalidParams)

	p = DefaultParams()
	p.ConfidenceFloor = 1
	assert.ErrorIs(t, p.Validate(), ErrInvalidParams)

	p = DefaultParams()
	p.MaxIterationsBySeverity[SeverityHigh] = 0
	assert.ErrorIs(t, p.Validate(), ErrInvalidParams)

	assert.Equal(t, 15, DefaultParams().IterationCap(SeverityHigh))
	assert.Equal(t, 10, DefaultParams().IterationCap(""))
}

func TestRunBatch(t *testing.T) {
	s := newSim(t)
	reqs := []Request{
		{Graph: chainGraph("mall"), Seeds: []string{"A"}, Start: start},
		{Graph: chainGraph("mall"), Seeds: []string{"B"}, Start: start},
		{Graph: chainGraph("mall"), Seeds: []string{"C"}, Start: start},
	}
	out, err := s.RunBatch(context.Background(), reqs, 2)
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Len(t, out[0].Impacted(), 3)
	assert.Equal(t, []string{"B", "C"}, out[1].Impacted())
	assert.Equal(t, []string{"C"}, out[2].Impacted())

	reqs = append(reqs, Request{Graph: chainGraph("mall"), Start: start})
	_, err = s.RunBatch(context.Background(), reqs, 4)
	assert.ErrorIs(t, err, ErrNoSeeds)
}
