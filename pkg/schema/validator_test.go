package schema

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/munin/pkg/contracts"
)

const validGraph = `{
  "nodes": [
    {"id": "pump-1", "sector": "water", "kind": "pump_station", "region": "north"},
    {"id": "sub-1", "sector": "power", "kind": "substation", "region": "north", "hints": ["serves_hospitals"]}
  ],
  "edges": [
    {"id": "e1", "source": "sub-1", "target": "pump-1", "confidenceScore": 0.8, "inferredLagSeconds": 120}
  ]
}`

func TestDecodeGraph_Valid(t *testing.T) {
	g, err := DecodeGraph([]byte(validGraph))
	require.NoError(t, err)
	assert.Len(t, g.Nodes, 2)
	assert.Len(t, g.Edges, 1)
	assert.True(t, g.Nodes[1].HasHint("serves_hospitals"))
}

func TestDecodeGraph_MissingEdges(t *testing.T) {
	_, err := DecodeGraph([]byte(`{"nodes": []}`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, contracts.ErrInvalidGraph))
}

func TestDecodeGraph_ConfidenceOutOfRange(t *testing.T) {
	raw := `{"nodes":[{"id":"a","sector":"s","kind":"k","region":"r"},{"id":"b","sector":"s","kind":"k","region":"r"}],
	"edges":[{"id":"e","source":"a","target":"b","confidenceScore":1.5}]}`
	_, err := DecodeGraph([]byte(raw))
	assert.ErrorIs(t, err, contracts.ErrInvalidGraph)
}

func TestDecodeGraph_DanglingEdge(t *testing.T) {
	raw := `{"nodes":[{"id":"a","sector":"s","kind":"k","region":"r"}],
	"edges":[{"id":"e","source":"a","target":"ghost","confidenceScore":0.5}]}`
	_, err := DecodeGraph([]byte(raw))
	assert.ErrorIs(t, err, contracts.ErrInvalidGraph)
}

func TestDecodeIncident(t *testing.T) {
	raw := `{"id":"inc-1","type":"flood","timeline":[{"ts":"2026-01-01T00:00:00Z","impactedNodeIds":["a"],"confidence":0.95}]}`
	inc, err := DecodeIncident([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, "flood", inc.Type)

	_, err = DecodeIncident([]byte(`{"id":"inc-1","type":"flood","timeline":[]}`))
	assert.ErrorIs(t, err, contracts.ErrInvalidIncident)

	_, err = DecodeIncident([]byte(`{"id":"inc-1","type":"flood","timeline":[{"ts":"2026-01-01T00:00:00Z","impactedNodeIds":[],"confidence":0.5}]}`))
	assert.ErrorIs(t, err, contracts.ErrInvalidIncident)
}

func TestDecodeEvidence(t *testing.T) {
	ev, err := DecodeEvidence([]byte(`{"windows":[{"id":"w1","sourceNodeId":"a","targetNodeId":"b","robustness":0.7}]}`))
	require.NoError(t, err)
	assert.Len(t, ev.Windows, 1)

	_, err = DecodeEvidence([]byte(`{}`))
	assert.ErrorIs(t, err, contracts.ErrInvalidEvidence)
}

func TestValidate_MalformedJSON(t *testing.T) {
	err := Validate(DocGraph, []byte(`{not json`))
	assert.Error(t, err)
}
