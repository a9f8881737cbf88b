package storage

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) *BadgerEngine {
	t.Helper()
	engine, err := NewBadgerEngineInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })
	return engine
}

func TestNodeIDFor(t *testing.T) {
	t.Run("independent_of_map_order", func(t *testing.T) {
		a := NodeIDFor("Address", map[string]any{"bairro": "CENTRO", "numero": "100"})
		b := NodeIDFor("Address", map[string]any{"numero": "100", "bairro": "CENTRO"})
		assert.Equal(t, a, b)
	})

	t.Run("label_is_part_of_identity", func(t *testing.T) {
		key := map[string]any{"cnpj": "12345678000199"}
		assert.NotEqual(t, NodeIDFor("LegalEntity", key), NodeIDFor("Address", key))
	})

	t.Run("empty_value_differs_from_missing", func(t *testing.T) {
		a := NodeIDFor("Address", map[string]any{"bairro": "", "numero": "1"})
		b := NodeIDFor("Address", map[string]any{"numero": "1"})
		assert.NotEqual(t, a, b)
	})

	t.Run("prefixed_with_label", func(t *testing.T) {
		id := NodeIDFor("LegalEntity", map[string]any{"cnpj": "1"})
		assert.Contains(t, string(id), "LegalEntity:")
	})
}

func TestEdgeIDFor(t *testing.T) {
	assert.Equal(t, EdgeIDFor("a", "LOCATED_AT", "b"), EdgeIDFor("a", "LOCATED_AT", "b"))
	assert.NotEqual(t, EdgeIDFor("a", "LOCATED_AT", "b"), EdgeIDFor("b", "LOCATED_AT", "a"))
}

func TestBadgerEngine_MergeNode(t *testing.T) {
	t.Run("creates_then_matches", func(t *testing.T) {
		engine := newTestEngine(t)
		key := map[string]any{"cnpj": "12345678000199"}

		node, created, err := engine.MergeNode("LegalEntity", key, map[string]any{"razaoSocial": "A LTDA"})
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, "12345678000199", node.Properties["cnpj"])
		assert.Equal(t, "A LTDA", node.Properties["razaoSocial"])

		again, created, err := engine.MergeNode("LegalEntity", key, map[string]any{"razaoSocial": "A LTDA"})
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, node.ID, again.ID)

		count, err := engine.CountNodesByLabel("LegalEntity")
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)
	})

	t.Run("first_write_wins", func(t *testing.T) {
		engine := newTestEngine(t)
		key := map[string]any{"cnpj": "1"}

		_, _, err := engine.MergeNode("LegalEntity", key, map[string]any{"razaoSocial": "FIRST"})
		require.NoError(t, err)
		node, created, err := engine.MergeNode("LegalEntity", key, map[string]any{"razaoSocial": "SECOND"})
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, "FIRST", node.Properties["razaoSocial"])
	})

	t.Run("key_overrides_props", func(t *testing.T) {
		engine := newTestEngine(t)
		node, _, err := engine.MergeNode("LegalEntity",
			map[string]any{"cnpj": "1"}, map[string]any{"cnpj": "2"})
		require.NoError(t, err)
		assert.Equal(t, "1", node.Properties["cnpj"])
	})

	t.Run("rejects_empty_key", func(t *testing.T) {
		engine := newTestEngine(t)
		_, _, err := engine.MergeNode("LegalEntity", nil, nil)
		assert.ErrorIs(t, err, ErrInvalidData)
	})

	t.Run("concurrent_same_key_creates_once", func(t *testing.T) {
		engine := newTestEngine(t)
		key := map[string]any{"codigoMunicipio": "7107", "bairro": "CENTRO"}

		const writers = 16
		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			creates int
		)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, created, err := engine.MergeNode("Address", key, nil)
				assert.NoError(t, err)
				if created {
					mu.Lock()
					creates++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, creates)
		count, err := engine.CountNodesByLabel("Address")
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)
	})
}

func TestBadgerEngine_MergeEdge(t *testing.T) {
	t.Run("requires_both_endpoints", func(t *testing.T) {
		engine := newTestEngine(t)
		entity, _, err := engine.MergeNode("LegalEntity", map[string]any{"cnpj": "1"}, nil)
		require.NoError(t, err)

		missing := NodeIDFor("Address", map[string]any{"bairro": "X"})
		_, created, err := engine.MergeEdge(entity.ID, "LOCATED_AT", missing, nil)
		assert.ErrorIs(t, err, ErrInvalidEdge)
		assert.False(t, created)

		count, err := engine.EdgeCount()
		require.NoError(t, err)
		assert.Equal(t, int64(0), count)
	})

	t.Run("idempotent", func(t *testing.T) {
		engine := newTestEngine(t)
		entity, _, err := engine.MergeNode("LegalEntity", map[string]any{"cnpj": "1"}, nil)
		require.NoError(t, err)
		addr, _, err := engine.MergeNode("Address", map[string]any{"bairro": "CENTRO"}, nil)
		require.NoError(t, err)

		edge, created, err := engine.MergeEdge(entity.ID, "LOCATED_AT", addr.ID, nil)
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, entity.ID, edge.StartNode)
		assert.Equal(t, addr.ID, edge.EndNode)

		_, created, err = engine.MergeEdge(entity.ID, "LOCATED_AT", addr.ID, nil)
		require.NoError(t, err)
		assert.False(t, created)

		count, err := engine.CountEdgesByType("LOCATED_AT")
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)

		out, err := engine.GetOutgoingEdges(entity.ID)
		require.NoError(t, err)
		require.Len(t, out, 1)
		in, err := engine.GetIncomingEdges(addr.ID)
		require.NoError(t, err)
		require.Len(t, in, 1)
		assert.Equal(t, out[0].ID, in[0].ID)
	})

	t.Run("rejects_empty_type", func(t *testing.T) {
		engine := newTestEngine(t)
		_, _, err := engine.MergeEdge("a", "", "b", nil)
		assert.ErrorIs(t, err, ErrInvalidData)
	})
}

func TestBadgerEngine_GetNode(t *testing.T) {
	engine := newTestEngine(t)
	key := map[string]any{"cnpj": "12345678000199"}
	_, _, err := engine.MergeNode("LegalEntity", key, map[string]any{"telefones": []string{"11 1234"}})
	require.NoError(t, err)

	node, err := engine.GetNodeByKey("LegalEntity", key)
	require.NoError(t, err)
	assert.Equal(t, []string{"LegalEntity"}, node.Labels)
	assert.Equal(t, []any{"11 1234"}, node.Properties["telefones"])

	_, err = engine.GetNode(NodeIDFor("LegalEntity", map[string]any{"cnpj": "0"}))
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = engine.GetNode("")
	assert.ErrorIs(t, err, ErrInvalidID)
}

func TestBadgerEngine_Persistence(t *testing.T) {
	dir := t.TempDir()
	key := map[string]any{"cnpj": "1"}

	engine, err := NewBadgerEngine(dir)
	require.NoError(t, err)
	_, created, err := engine.MergeNode("LegalEntity", key, nil)
	require.NoError(t, err)
	require.True(t, created)
	require.NoError(t, engine.Close())

	reopened, err := NewBadgerEngine(dir)
	require.NoError(t, err)
	defer reopened.Close()
	_, created, err = reopened.MergeNode("LegalEntity", key, nil)
	require.NoError(t, err)
	assert.False(t, created)
}

func TestBadgerEngine_Close(t *testing.T) {
	engine, err := NewBadgerEngineInMemory()
	require.NoError(t, err)
	require.NoError(t, engine.Close())
	require.NoError(t, engine.Close())

	_, _, err = engine.MergeNode("LegalEntity", map[string]any{"cnpj": "1"}, nil)
	assert.ErrorIs(t, err, ErrStorageClosed)
	_, err = engine.NodeCount()
	assert.ErrorIs(t, err, ErrStorageClosed)
}
