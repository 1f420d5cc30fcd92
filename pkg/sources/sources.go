// Package sources loads input documents from the collaborators that produce
// them: graph inference, incident detection and sensor-health scoring.
// Every document is schema-validated before it is returned.
package sources

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/Mindburn-Labs/munin/pkg/artifacts"
	"github.com/Mindburn-Labs/munin/pkg/contracts"
	"github.com/Mindburn-Labs/munin/pkg/schema"
)

// ErrNoStore is returned when a content hash is referenced without an
// artifact store to resolve it.
var ErrNoStore = errors.New("artifact reference requires a store")

// GraphSource provides the dependency graph.
type GraphSource interface {
	Graph(ctx context.Context) (*contracts.Graph, error)
}

// IncidentSource provides a predicted incident.
type IncidentSource interface {
	Incident(ctx context.Context) (*contracts.Incident, error)
}

// EvidenceSource provides the evidence windows backing a packet.
type EvidenceSource interface {
	Evidence(ctx context.Context) (*contracts.Evidence, error)
}

// Document is raw JSON that can be decoded as any input document.
type Document interface {
	GraphSource
	IncidentSource
	EvidenceSource
}

type reader func(ctx context.Context) ([]byte, error)

type document struct {
	name string
	read reader
}

func (d document) Graph(ctx context.Context) (*contracts.Graph, error) {
	raw, err := d.read(ctx)
	if err != nil {
		return nil, err
	}
	g, err := schema.DecodeGraph(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", d.name, err)
	}
	return g, nil
}

func (d document) Incident(ctx context.Context) (*contracts.Incident, error) {
	raw, err := d.read(ctx)
	if err != nil {
		return nil, err
	}
	inc, err := schema.DecodeIncident(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", d.name, err)
	}
	return inc, nil
}

func (d document) Evidence(ctx context.Context) (*contracts.Evidence, error) {
	raw, err := d.read(ctx)
	if err != nil {
		return nil, err
	}
	ev, err := schema.DecodeEvidence(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", d.name, err)
	}
	return ev, nil
}

// File reads the document at path on every call.
func File(path string) Document {
	return document{
		name: path,
		read: func(context.Context) ([]byte, error) {
			raw, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("read %s: %w", path, err)
			}
			return raw, nil
		},
	}
}

// Artifact reads the document stored under hash.
func Artifact(store artifacts.Store, hash string) Document {
	return document{
		name: hash,
		read: func(ctx context.Context) ([]byte, error) {
			return store.Get(ctx, hash)
		},
	}
}

// Bytes serves an in-memory document, e.g. a request body.
func Bytes(name string, raw []byte) Document {
	return document{
		name: name,
		read: func(context.Context) ([]byte, error) { return raw, nil },
	}
}

// Resolve maps a reference to a Document: "sha256:<hex>" is looked up in
// store, anything else is a file path.
func Resolve(ref string, store artifacts.Store) (Document, error) {
	if strings.HasPrefix(ref, "sha256:") {
		if store == nil {
			return nil, fmt.Errorf("%w: %s", ErrNoStore, ref)
		}
		return Artifact(store, ref), nil
	}
	return File(ref), nil
}
