// Package compiler turns YAML composition and primitive-contract documents
// into domain structs and statically validates operator graphs before a run
// ever starts. Bodies are code, not configuration: a parsed primitive spec
// carries the contract only and is attached to a registered body by id.
package compiler

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/aretw0/lattice/pkg/domain"
	"github.com/aretw0/lattice/pkg/schema"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// Document is one parsed lattice YAML file: a composition plus any
// primitive contract manifests declared alongside it.
type Document struct {
	Composition *domain.Composition
	Primitives  []PrimitiveSpec
}

// PrimitiveSpec is the declarative half of a primitive: everything except
// the body. Attach applies it to a registered primitive.
type PrimitiveSpec struct {
	ID             string             `yaml:"id"`
	Description    string             `yaml:"description"`
	CostTokens     int64              `yaml:"cost_tokens"`
	InputSchema    map[string]any     `yaml:"input_schema"`
	OutputSchema   map[string]any     `yaml:"output_schema"`
	Preconditions  []domain.Condition `yaml:"preconditions"`
	Postconditions []domain.Condition `yaml:"postconditions"`
	Invariants     []domain.Condition `yaml:"invariants"`
}

// Attach merges the declared contract into a primitive that already has a
// body. Declared fields win over whatever the body registration carried.
func (s PrimitiveSpec) Attach(p domain.Primitive) (domain.Primitive, error) {
	if s.Description != "" {
		p.Description = s.Description
	}
	if s.CostTokens > 0 {
		p.CostTokens = s.CostTokens
	}
	if len(s.InputSchema) > 0 {
		in, err := schema.Parse(s.InputSchema)
		if err != nil {
			return p, fmt.Errorf("primitive %q input schema: %w", s.ID, err)
		}
		p.InputSchema = in
	}
	if len(s.OutputSchema) > 0 {
		out, err := schema.Parse(s.OutputSchema)
		if err != nil {
			return p, fmt.Errorf("primitive %q output schema: %w", s.ID, err)
		}
		p.OutputSchema = out
	}
	if len(s.Preconditions) > 0 {
		p.Preconditions = s.Preconditions
	}
	if len(s.Postconditions) > 0 {
		p.Postconditions = s.Postconditions
	}
	if len(s.Invariants) > 0 {
		p.Invariants = s.Invariants
	}
	return p, nil
}

type rawDocument struct {
	Composition *rawComposition `yaml:"composition"`
	Primitives  []PrimitiveSpec `yaml:"primitives"`
}

type rawComposition struct {
	ID          string           `yaml:"id"`
	Description string           `yaml:"description"`
	Primitives  []string         `yaml:"primitives"`
	Operators   []map[string]any `yaml:"operators"`
	Patterns    []string         `yaml:"patterns"`
}

// Parse decodes one YAML document.
func Parse(data []byte) (*Document, error) {
	var raw rawDocument
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse document: %w", err)
	}

	doc := &Document{Primitives: raw.Primitives}
	if raw.Composition == nil {
		return doc, nil
	}

	comp := domain.Composition{
		ID:          raw.Composition.ID,
		Description: raw.Composition.Description,
		Primitives:  raw.Composition.Primitives,
		Patterns:    raw.Composition.Patterns,
	}
	for i, node := range raw.Composition.Operators {
		op, err := decodeOperator(node)
		if err != nil {
			return nil, fmt.Errorf("operator %d: %w", i, err)
		}
		comp.Operators = append(comp.Operators, op)
	}
	doc.Composition = &comp
	return doc, nil
}

// ParseFile decodes one YAML file.
func ParseFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	doc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

// ParseDir loads every .yaml/.yml file in a project directory, in name
// order, and merges the results. Exactly one file may declare a
// composition per id; primitive specs accumulate.
func ParseDir(dir string) ([]*Document, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read project directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch filepath.Ext(e.Name()) {
		case ".yaml", ".yml":
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	docs := make([]*Document, 0, len(names))
	for _, name := range names {
		doc, err := ParseFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// decodeOperator splits the flat YAML node into the common header (id,
// kind) and the kind-specific body, then decodes the body strictly into
// the matching variant. Unknown fields are rejected so a typo in a
// document fails at compile time, not silently at run time.
func decodeOperator(node map[string]any) (domain.Operator, error) {
	var op domain.Operator

	id, _ := node["id"].(string)
	kindStr, _ := node["kind"].(string)
	op.ID = id
	op.Kind = domain.OperatorKind(kindStr)
	if op.ID == "" {
		return op, fmt.Errorf("missing id")
	}

	body := make(map[string]any, len(node))
	for k, v := range node {
		if k == "id" || k == "kind" {
			continue
		}
		body[k] = v
	}

	switch op.Kind {
	case domain.OpSequence:
		op.Sequence = &domain.SequenceOp{}
		return op, decodeBody(body, op.Sequence)
	case domain.OpParallel:
		op.Parallel = &domain.ParallelOp{}
		return op, decodeBody(body, op.Parallel)
	case domain.OpGate:
		op.Gate = &domain.GateOp{}
		return op, decodeBody(body, op.Gate)
	case domain.OpIterate:
		op.Iterate = &domain.IterateOp{}
		return op, decodeBody(body, op.Iterate)
	case domain.OpMap:
		op.Map = &domain.MapOp{}
		return op, decodeBody(body, op.Map)
	case domain.OpAggregate:
		op.Aggregate = &domain.AggregateOp{}
		return op, decodeBody(body, op.Aggregate)
	case domain.OpFilter:
		op.Filter = &domain.FilterOp{}
		return op, decodeBody(body, op.Filter)
	default:
		return op, fmt.Errorf("%w: %q (operator %s)", domain.ErrUnknownOperator, kindStr, id)
	}
}

func decodeBody(body map[string]any, target any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      target,
		TagName:     "yaml",
		ErrorUnused: true,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(body); err != nil {
		return fmt.Errorf("invalid operator body: %w", err)
	}
	return nil
}
