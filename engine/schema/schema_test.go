package schema_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tiborkr/tasquencer/engine/core"
	"github.com/tiborkr/tasquencer/engine/schema"
)

func TestSchemaIsEmpty(t *testing.T) {
	t.Run("Should report true for a nil schema", func(t *testing.T) {
		var s schema.Schema
		assert.True(t, s.IsEmpty())
	})

	t.Run("Should report true for a schema with no constraining keys", func(t *testing.T) {
		s := schema.Schema{"title": "decoration only"}
		assert.True(t, s.IsEmpty())
	})

	t.Run("Should report false once a type is declared", func(t *testing.T) {
		s := schema.Schema{"type": "object"}
		assert.False(t, s.IsEmpty())
	})

	t.Run("Should report false for a schema with required fields", func(t *testing.T) {
		s := schema.Schema{"required": []string{"name"}}
		assert.False(t, s.IsEmpty())
	})
}

func TestSchemaParse(t *testing.T) {
	t.Run("Should pass through any payload for an empty schema", func(t *testing.T) {
		var s schema.Schema
		out, err := s.Parse(context.Background(), map[string]any{"x": 1})
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"x": 1}, out)
	})

	t.Run("Should accept a payload matching its constraints", func(t *testing.T) {
		s := schema.Schema{
			"type":     "object",
			"required": []string{"path"},
			"properties": map[string]any{
				"path": map[string]any{"type": "string"},
			},
		}
		out, err := s.Parse(context.Background(), map[string]any{"path": "a"})
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"path": "a"}, out)
	})

	t.Run("Should reject a payload missing a required field", func(t *testing.T) {
		s := schema.Schema{
			"type":     "object",
			"required": []string{"path"},
		}
		_, err := s.Parse(context.Background(), map[string]any{})
		require.Error(t, err)
		assert.True(t, core.Is(err, core.KindInvalidPayload))
	})

	t.Run("Should reject a nil payload against a non-empty schema", func(t *testing.T) {
		s := schema.Schema{"type": "object"}
		_, err := s.Parse(context.Background(), nil)
		require.Error(t, err)
		assert.True(t, core.Is(err, core.KindInvalidPayload))
	})

	t.Run("Should reject a payload of the wrong type", func(t *testing.T) {
		s := schema.Schema{"type": "string"}
		_, err := s.Parse(context.Background(), 42)
		require.Error(t, err)
		assert.True(t, core.Is(err, core.KindInvalidPayload))
	})
}

func TestActionSchemasFor(t *testing.T) {
	t.Run("Should return the registered schema for a known action", func(t *testing.T) {
		reg := schema.ActionSchemas{"initialize": schema.Schema{"type": "object"}}
		s := reg.For("initialize")
		assert.False(t, s.IsEmpty())
	})

	t.Run("Should return the empty schema for an unregistered action", func(t *testing.T) {
		reg := schema.ActionSchemas{"initialize": schema.Schema{"type": "object"}}
		s := reg.For("cancel")
		assert.True(t, s.IsEmpty())
	})

	t.Run("Should be nil-safe", func(t *testing.T) {
		var reg schema.ActionSchemas
		s := reg.For("anything")
		assert.True(t, s.IsEmpty())
	})
}
