// Package schema validates incoming graph, incident and evidence documents
// against embedded JSON Schemas before they are decoded into contracts types.
package schema

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/Mindburn-Labs/munin/pkg/contracts"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

// Document identifies one of the boundary document kinds.
type Document string

const (
	DocGraph    Document = "graph"
	DocIncident Document = "incident"
	DocEvidence Document = "evidence"
)

const schemaBaseURL = "https://munin.schemas.local/"

var (
	compileOnce sync.Once
	compiled    map[Document]*jsonschema.Schema
	compileErr  error
)

func load() (map[Document]*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		c.AssertFormat = true

		docs := []Document{DocGraph, DocIncident, DocEvidence}
		for _, d := range docs {
			name := string(d) + ".schema.json"
			data, err := schemaFS.ReadFile("schemas/" + name)
			if err != nil {
				compileErr = fmt.Errorf("schema %s: %w", name, err)
				return
			}
			if err := c.AddResource(schemaBaseURL+name, bytes.NewReader(data)); err != nil {
				compileErr = fmt.Errorf("schema %s load failed: %w", name, err)
				return
			}
		}

		out := make(map[Document]*jsonschema.Schema, len(docs))
		for _, d := range docs {
			s, err := c.Compile(schemaBaseURL + string(d) + ".schema.json")
			if err != nil {
				compileErr = fmt.Errorf("schema %s compile failed: %w", d, err)
				return
			}
			out[d] = s
		}
		compiled = out
	})
	return compiled, compileErr
}

// Validate checks raw JSON against the schema of the given document kind.
func Validate(doc Document, raw []byte) error {
	schemas, err := load()
	if err != nil {
		return err
	}
	s, ok := schemas[doc]
	if !ok {
		return fmt.Errorf("unknown document kind %q", doc)
	}

	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("%s: malformed JSON: %w", doc, err)
	}
	if err := s.Validate(v); err != nil {
		return fmt.Errorf("%s: %w", doc, err)
	}
	return nil
}

// DecodeGraph validates and decodes a graph document.
func DecodeGraph(raw []byte) (*contracts.Graph, error) {
	if err := Validate(DocGraph, raw); err != nil {
		return nil, fmt.Errorf("%w: %v", contracts.ErrInvalidGraph, err)
	}
	var g contracts.Graph
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, fmt.Errorf("%w: %v", contracts.ErrInvalidGraph, err)
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return &g, nil
}

// DecodeIncident validates and decodes an incident document.
func DecodeIncident(raw []byte) (*contracts.Incident, error) {
	if err := Validate(DocIncident, raw); err != nil {
		return nil, fmt.Errorf("%w: %v", contracts.ErrInvalidIncident, err)
	}
	var inc contracts.Incident
	if err := json.Unmarshal(raw, &inc); err != nil {
		return nil, fmt.Errorf("%w: %v", contracts.ErrInvalidIncident, err)
	}
	if err := inc.Validate(); err != nil {
		return nil, err
	}
	return &inc, nil
}

// DecodeEvidence validates and decodes an evidence document.
func DecodeEvidence(raw []byte) (*contracts.Evidence, error) {
	if err := Validate(DocEvidence, raw); err != nil {
		return nil, fmt.Errorf("%w: %v", contracts.ErrInvalidEvidence, err)
	}
	var ev contracts.Evidence
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", contracts.ErrInvalidEvidence, err)
	}
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	return &ev, nil
}
