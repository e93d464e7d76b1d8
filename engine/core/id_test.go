package core_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tiborkr/tasquencer/engine/core"
)

func TestNewID(t *testing.T) {
	t.Run("Should generate distinct, non-zero ids", func(t *testing.T) {
		a, err := core.NewID()
		require.NoError(t, err)
		b, err := core.NewID()
		require.NoError(t, err)
		assert.False(t, a.IsZero())
		assert.NotEqual(t, a, b)
	})
}

func TestParseID(t *testing.T) {
	t.Run("Should round-trip a generated id", func(t *testing.T) {
		id := core.MustNewID()
		parsed, err := core.ParseID(id.String())
		require.NoError(t, err)
		assert.Equal(t, id, parsed)
	})

	t.Run("Should reject an empty string", func(t *testing.T) {
		_, err := core.ParseID("")
		assert.Error(t, err)
	})

	t.Run("Should reject a malformed id", func(t *testing.T) {
		_, err := core.ParseID("not-a-ksuid")
		assert.Error(t, err)
	})
}
