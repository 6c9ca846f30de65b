// Copyright 2026 © The Dirigo Authors
// SPDX-License-Identifier: Apache-2.0

// Package directive defines the declarative work descriptions the runtime
// executes: linear orchestration pipelines and explicit state machines. A
// Directive is a tagged union discriminated by its "type" field.
package directive

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/jllopis/dirigo/pkg/errors"
)

// Type discriminates the directive union.
type Type string

const (
	// TypeOrchestration is a linear operation pipeline.
	TypeOrchestration Type = "orchestration"
	// TypeStateMachine is an explicit state machine.
	TypeStateMachine Type = "state_machine"
)

// Condition operators.
const (
	OperatorExists   = "exists"
	OperatorEquals   = "equals"
	OperatorContains = "contains"
	OperatorTruthy   = "truthy"
)

// Error policies for state machine transitions.
const (
	OnErrorRetry = "retry"
	OnErrorSkip  = "skip"
	OnErrorAbort = "abort"
)

// Composition transforms.
const (
	TransformSummarize = "summarize"
	TransformExtract   = "extract"
	TransformFormat    = "format"
	TransformFilter    = "filter"
)

// Directive is the tagged union over the two directive kinds. Exactly one of
// Orchestration and StateMachine is set after a successful decode.
type Directive struct {
	Type          Type
	Orchestration *Orchestration
	StateMachine  *StateMachine
}

// Orchestration is an ordered operation pipeline.
type Orchestration struct {
	Version      string       `json:"version" yaml:"version"`
	Tool         string       `json:"tool" yaml:"tool"`
	Description  string       `json:"description,omitempty" yaml:"description,omitempty"`
	Operations   []Operation  `json:"operations" yaml:"operations"`
	Compose      *Composition `json:"compose,omitempty" yaml:"compose,omitempty"`
	OutputSchema any          `json:"outputSchema,omitempty" yaml:"outputSchema,omitempty"` // opaque, passed through unvalidated
	Metadata     *Metadata    `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Metadata carries execution hints for an orchestration directive.
type Metadata struct {
	EstimatedTokens int    `json:"estimatedTokens,omitempty" yaml:"estimatedTokens,omitempty"`
	Complexity      string `json:"complexity,omitempty" yaml:"complexity,omitempty"`
	Cacheable       bool   `json:"cacheable,omitempty" yaml:"cacheable,omitempty"`
	CacheKey        string `json:"cacheKey,omitempty" yaml:"cacheKey,omitempty"`
}

// Operation is one step of a pipeline or an inline state machine operation.
type Operation struct {
	Op        string         `json:"op" yaml:"op"`
	Args      map[string]any `json:"args,omitempty" yaml:"args,omitempty"`
	Store     string         `json:"store,omitempty" yaml:"store,omitempty"`
	Input     string         `json:"input,omitempty" yaml:"input,omitempty"`
	Inputs    []string       `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	Condition *Condition     `json:"condition,omitempty" yaml:"condition,omitempty"`
	Return    bool           `json:"return,omitempty" yaml:"return,omitempty"`
}

// Condition gates an operation on the current execution state.
type Condition struct {
	Key      string `json:"key" yaml:"key"`
	Operator string `json:"operator" yaml:"operator"`
	Value    any    `json:"value,omitempty" yaml:"value,omitempty"`
}

// StateMachine is a directive driven by named transitions.
type StateMachine struct {
	Version      string         `json:"version" yaml:"version"`
	InitialState map[string]any `json:"initialState,omitempty" yaml:"initialState,omitempty"`
	Transitions  []Transition   `json:"transitions" yaml:"transitions"`
	FinalState   string         `json:"finalState" yaml:"finalState"`
}

// Transition moves the machine from one state to the next.
type Transition struct {
	Name       string       `json:"name" yaml:"name"`
	From       string       `json:"from" yaml:"from"`
	Operation  OperationRef `json:"operation" yaml:"operation"`
	NextState  string       `json:"nextState" yaml:"nextState"`
	OnError    string       `json:"onError,omitempty" yaml:"onError,omitempty"`
	MaxRetries int          `json:"maxRetries,omitempty" yaml:"maxRetries,omitempty"`
}

// OperationRef is either an inline operation or a bare string reference to a
// named operation. Name resolution is an external collaborator; unresolved
// references fail at execution time.
type OperationRef struct {
	Ref    string
	Inline *Operation
}

// Composition reshapes accumulated state into the final result.
type Composition struct {
	Sections []Section `json:"sections" yaml:"sections"`
	Template string    `json:"template" yaml:"template"`
	Format   string    `json:"format,omitempty" yaml:"format,omitempty"` // json, markdown, text; passed through
}

// Section maps one state key into the composed output.
type Section struct {
	Source    string `json:"source" yaml:"source"`
	Key       string `json:"key" yaml:"key"`
	Transform string `json:"transform,omitempty" yaml:"transform,omitempty"`
}

// UnmarshalJSON decodes the tagged union.
func (d *Directive) UnmarshalJSON(data []byte) error {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return errors.New(errors.CodeValidation, "parse directive", err)
	}
	switch Type(probe.Type) {
	case TypeOrchestration:
		var orch Orchestration
		if err := json.Unmarshal(data, &orch); err != nil {
			return errors.New(errors.CodeValidation, "parse orchestration directive", err)
		}
		d.Type = TypeOrchestration
		d.Orchestration = &orch
		return nil
	case TypeStateMachine:
		var sm StateMachine
		if err := json.Unmarshal(data, &sm); err != nil {
			return errors.New(errors.CodeValidation, "parse state machine directive", err)
		}
		d.Type = TypeStateMachine
		d.StateMachine = &sm
		return nil
	default:
		return errors.Newf(errors.CodeUnknownDirective, "Unknown directive type: %q", probe.Type)
	}
}

// MarshalJSON encodes the tagged union back to its wire form.
func (d Directive) MarshalJSON() ([]byte, error) {
	switch d.Type {
	case TypeOrchestration:
		return marshalTagged(string(d.Type), d.Orchestration)
	case TypeStateMachine:
		return marshalTagged(string(d.Type), d.StateMachine)
	default:
		return nil, errors.Newf(errors.CodeUnknownDirective, "Unknown directive type: %q", d.Type)
	}
}

func marshalTagged(tag string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	fields["type"] = tag
	return json.Marshal(fields)
}

// UnmarshalYAML decodes the tagged union from YAML.
func (d *Directive) UnmarshalYAML(node *yaml.Node) error {
	var probe struct {
		Type string `yaml:"type"`
	}
	if err := node.Decode(&probe); err != nil {
		return errors.New(errors.CodeValidation, "parse directive", err)
	}
	switch Type(probe.Type) {
	case TypeOrchestration:
		var orch Orchestration
		if err := node.Decode(&orch); err != nil {
			return errors.New(errors.CodeValidation, "parse orchestration directive", err)
		}
		d.Type = TypeOrchestration
		d.Orchestration = &orch
		return nil
	case TypeStateMachine:
		var sm StateMachine
		if err := node.Decode(&sm); err != nil {
			return errors.New(errors.CodeValidation, "parse state machine directive", err)
		}
		d.Type = TypeStateMachine
		d.StateMachine = &sm
		return nil
	default:
		return errors.Newf(errors.CodeUnknownDirective, "Unknown directive type: %q", probe.Type)
	}
}

// UnmarshalJSON accepts either a string reference or an inline operation.
func (r *OperationRef) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		r.Ref = name
		r.Inline = nil
		return nil
	}
	var op Operation
	if err := json.Unmarshal(data, &op); err != nil {
		return errors.New(errors.CodeValidation, "parse transition operation", err)
	}
	r.Ref = ""
	r.Inline = &op
	return nil
}

// MarshalJSON writes back the string or inline form.
func (r OperationRef) MarshalJSON() ([]byte, error) {
	if r.Inline != nil {
		return json.Marshal(r.Inline)
	}
	return json.Marshal(r.Ref)
}

// UnmarshalYAML accepts either a string reference or an inline operation.
func (r *OperationRef) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		return node.Decode(&r.Ref)
	}
	var op Operation
	if err := node.Decode(&op); err != nil {
		return errors.New(errors.CodeValidation, "parse transition operation", err)
	}
	r.Inline = &op
	return nil
}

// Validate checks the directive shape. Operation kinds are checked at
// dispatch time, not here, so an unknown op fails the run, not the parse.
func (d *Directive) Validate() error {
	switch d.Type {
	case TypeOrchestration:
		return d.Orchestration.validate()
	case TypeStateMachine:
		return d.StateMachine.validate()
	default:
		return errors.Newf(errors.CodeUnknownDirective, "Unknown directive type: %q", d.Type)
	}
}

func (o *Orchestration) validate() error {
	if o == nil {
		return errors.Newf(errors.CodeValidation, "orchestration directive is empty")
	}
	if len(o.Operations) == 0 {
		return errors.Newf(errors.CodeValidation, "orchestration directive has no operations")
	}
	for i, op := range o.Operations {
		if err := op.validate(); err != nil {
			return errors.Newf(errors.CodeValidation, "operation %d: %v", i, err)
		}
	}
	if o.Compose != nil {
		if err := o.Compose.validate(); err != nil {
			return err
		}
	}
	return nil
}

func (op *Operation) validate() error {
	if op.Op == "" {
		return fmt.Errorf("missing op")
	}
	if cond := op.Condition; cond != nil {
		switch cond.Operator {
		case OperatorExists, OperatorEquals, OperatorContains, OperatorTruthy:
		default:
			return fmt.Errorf("unknown condition operator %q", cond.Operator)
		}
		if cond.Key == "" {
			return fmt.Errorf("condition missing key")
		}
	}
	return nil
}

func (c *Composition) validate() error {
	if len(c.Sections) == 0 {
		return errors.Newf(errors.CodeValidation, "composition has no sections")
	}
	for i, section := range c.Sections {
		if section.Source == "" || section.Key == "" {
			return errors.Newf(errors.CodeValidation, "composition section %d missing source/key", i)
		}
		switch section.Transform {
		case "", TransformSummarize, TransformExtract, TransformFormat, TransformFilter:
		default:
			return errors.Newf(errors.CodeValidation,
				"composition section %d has unknown transform %q", i, section.Transform)
		}
	}
	return nil
}

func (sm *StateMachine) validate() error {
	if sm == nil {
		return errors.Newf(errors.CodeValidation, "state machine directive is empty")
	}
	if len(sm.Transitions) == 0 {
		return errors.Newf(errors.CodeValidation, "state machine has no transitions")
	}
	if sm.FinalState == "" {
		return errors.Newf(errors.CodeValidation, "state machine missing finalState")
	}
	for i, tr := range sm.Transitions {
		if tr.From == "" || tr.NextState == "" {
			return errors.Newf(errors.CodeValidation, "transition %d missing from/nextState", i)
		}
		if tr.Operation.Ref == "" && tr.Operation.Inline == nil {
			return errors.Newf(errors.CodeValidation, "transition %d missing operation", i)
		}
		switch tr.OnError {
		case "", OnErrorRetry, OnErrorSkip, OnErrorAbort:
		default:
			return errors.Newf(errors.CodeValidation, "transition %d has unknown onError %q", i, tr.OnError)
		}
		if tr.Operation.Inline != nil {
			if err := tr.Operation.Inline.validate(); err != nil {
				return errors.Newf(errors.CodeValidation, "transition %d: %v", i, err)
			}
		}
	}
	return nil
}
