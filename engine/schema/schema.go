// Package schema implements the engine's payload schema contract: parse
// an opaque payload against a JSON Schema and report whether the schema
// is "empty" (carries no constraining keyword, so it accepts any payload,
// including none), which is used to make action payloads optional. The engine never inspects a parsed
// value beyond these two operations — payload semantics belong to the
// embedder.
package schema

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/kaptinlin/jsonschema"

	"github.com/tiborkr/tasquencer/engine/core"
)

// Schema is a JSON Schema document expressed as a plain map, matching
// how definitions are authored in YAML/JSON alongside the rest of a
// workflow definition.
type Schema map[string]any

// compiled caches the compiled validator per schema value so repeated
// Parse calls against the same schema (common across many work items of
// the same task) do not recompile it every time.
type compiled struct {
	mu       sync.Mutex
	compiler *jsonschema.Compiler
	schemas  map[string]*jsonschema.Schema
}

var global = &compiled{
	compiler: jsonschema.NewCompiler(),
	schemas:  make(map[string]*jsonschema.Schema),
}

func (c *compiled) get(s Schema) (*jsonschema.Schema, error) {
	key := fmt.Sprintf("%p", s)
	c.mu.Lock()
	defer c.mu.Unlock()
	if cs, ok := c.schemas[key]; ok {
		return cs, nil
	}
	raw, err := json.Marshal(map[string]any(s))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	cs, err := c.compiler.Compile(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}
	c.schemas[key] = cs
	return cs, nil
}

// IsEmpty reports whether s admits no constraints — an absent schema, or
// one with none of the keywords type, properties, required, $ref, allOf,
// anyOf or oneOf — meaning the corresponding action payload is optional.
// Other keywords alone (such as title, enum or const) leave a schema
// empty, and Parse then does not check them.
func (s Schema) IsEmpty() bool {
	if len(s) == 0 {
		return true
	}
	for _, k := range []string{"type", "properties", "required", "$ref", "allOf", "anyOf", "oneOf"} {
		if _, ok := s[k]; ok {
			return false
		}
	}
	return true
}

// Parse validates payload against s and returns the validated value
// unchanged (the engine is not in the business of coercing payloads, only
// rejecting invalid ones).
func (s Schema) Parse(_ context.Context, payload any) (any, error) {
	if s.IsEmpty() {
		return payload, nil
	}
	if payload == nil {
		return nil, core.NewError(
			fmt.Errorf("payload is nil but a schema is defined"),
			core.KindInvalidPayload,
			nil,
		)
	}
	cs, err := global.get(s)
	if err != nil {
		return nil, core.NewError(err, core.KindInvalidPayload, nil)
	}
	result := cs.Validate(payload)
	if !result.IsValid() {
		return nil, core.NewError(
			fmt.Errorf("payload failed schema validation: %v", result.Errors),
			core.KindInvalidPayload,
			map[string]any{"errors": result.Errors},
		)
	}
	return payload, nil
}
