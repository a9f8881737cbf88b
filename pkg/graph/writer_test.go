package graph

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/orneryd/cnpjgraph/pkg/receita"
	"github.com/orneryd/cnpjgraph/pkg/storage"
)

// fakeStore records calls and can be told to fail or stall.
type fakeStore struct {
	mu      sync.Mutex
	nodes   map[storage.NodeID]map[string]any
	rels    map[storage.EdgeID]bool
	failOn  map[string]error // label or relType -> error
	stall   time.Duration
	merges  int
	relRuns int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		nodes:  make(map[storage.NodeID]map[string]any),
		rels:   make(map[storage.EdgeID]bool),
		failOn: make(map[string]error),
	}
}

func (f *fakeStore) wait(ctx context.Context) error {
	if f.stall == 0 {
		return nil
	}
	select {
	case <-time.After(f.stall):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeStore) MergeNode(ctx context.Context, label string, key, props map[string]any) (bool, error) {
	if err := f.wait(ctx); err != nil {
		return false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.merges++
	if err := f.failOn[label]; err != nil {
		return false, err
	}
	id := storage.NodeIDFor(label, key)
	if _, ok := f.nodes[id]; ok {
		return false, nil
	}
	f.nodes[id] = props
	return true, nil
}

func (f *fakeStore) MergeRelationship(ctx context.Context, from NodeRef, relType string, to NodeRef) (bool, error) {
	if err := f.wait(ctx); err != nil {
		return false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.relRuns++
	if err := f.failOn[relType]; err != nil {
		return false, err
	}
	start := storage.NodeIDFor(from.Label, from.Key)
	end := storage.NodeIDFor(to.Label, to.Key)
	if _, ok := f.nodes[start]; !ok {
		return false, ErrEndpointMissing
	}
	if _, ok := f.nodes[end]; !ok {
		return false, ErrEndpointMissing
	}
	id := storage.EdgeIDFor(start, relType, end)
	if f.rels[id] {
		return false, nil
	}
	f.rels[id] = true
	return true, nil
}

func (f *fakeStore) Counts(context.Context) (Counts, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var c Counts
	for id := range f.nodes {
		if strings.HasPrefix(string(id), LabelAddress+":") {
			c.Addresses++
		} else {
			c.LegalEntities++
		}
	}
	c.LocatedAt = int64(len(f.rels))
	return c, nil
}

func (f *fakeStore) Close(context.Context) error { return nil }

func sampleRecord(cnpj string) *receita.Record {
	return &receita.Record{
		CNPJ:          cnpj,
		CorporateName: "EMPRESA LTDA",
		StatusCode:    "02",
		StatusLabel:   "ATIVA",
		Address: receita.Address{
			StreetType:       "RUA",
			Street:           "DAS FLORES",
			Number:           "100",
			Neighborhood:     "CENTRO",
			State:            "SP",
			MunicipalityCode: "7107",
			Municipality:     "SAO PAULO",
		},
	}
}

func TestOutcome_String(t *testing.T) {
	assert.Equal(t, "created", Created.String())
	assert.Equal(t, "already_present", AlreadyPresent.String())
	assert.Equal(t, "failed", Failed.String())
}

func TestWriter_UpsertLegalEntity(t *testing.T) {
	store := newFakeStore()
	w := NewWriter(store, WriterOptions{})
	ctx := context.Background()

	out, err := w.UpsertLegalEntity(ctx, sampleRecord("12345678000199"))
	require.NoError(t, err)
	assert.Equal(t, Created, out)

	// A later record with different attributes does not overwrite.
	changed := sampleRecord("12345678000199")
	changed.CorporateName = "OUTRO NOME"
	out, err = w.UpsertLegalEntity(ctx, changed)
	require.NoError(t, err)
	assert.Equal(t, AlreadyPresent, out)

	props := store.nodes[storage.NodeIDFor(LabelLegalEntity, map[string]any{"cnpj": "12345678000199"})]
	assert.Equal(t, "EMPRESA LTDA", props["razaoSocial"])
}

func TestWriter_UpsertLegalEntity_MissingKey(t *testing.T) {
	w := NewWriter(newFakeStore(), WriterOptions{})

	out, err := w.UpsertLegalEntity(context.Background(), &receita.Record{})
	assert.Equal(t, Failed, out)
	assert.ErrorIs(t, err, ErrMissingKey)

	out, err = w.UpsertLegalEntity(context.Background(), nil)
	assert.Equal(t, Failed, out)
	assert.ErrorIs(t, err, ErrMissingKey)
}

func TestWriter_FailureIsLoggedAndWrapped(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	store := newFakeStore()
	boom := errors.New("connection reset")
	store.failOn[LabelAddress] = boom

	w := NewWriter(store, WriterOptions{Logger: zap.New(core)})
	rec := sampleRecord("1")
	out, err := w.UpsertAddress(context.Background(), rec.Address)

	assert.Equal(t, Failed, out)
	assert.ErrorIs(t, err, boom)
	var werr *WriteError
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, OpAddress, werr.Op)
	assert.Equal(t, rec.Address.Key().String(), werr.Key)

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "graph write failed", entry.Message)
	assert.Equal(t, werr.Key, entry.ContextMap()["key"])
}

func TestWriter_Timeout(t *testing.T) {
	store := newFakeStore()
	store.stall = time.Second
	w := NewWriter(store, WriterOptions{WriteTimeout: 10 * time.Millisecond})

	out, err := w.UpsertLegalEntity(context.Background(), sampleRecord("1"))
	assert.Equal(t, Failed, out)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "timed out")
}

func TestWriter_UpsertRelationship(t *testing.T) {
	store := newFakeStore()
	w := NewWriter(store, WriterOptions{})
	ctx := context.Background()
	rec := sampleRecord("12345678000199")

	t.Run("endpoint_missing", func(t *testing.T) {
		out, err := w.UpsertRelationship(ctx, rec.CNPJ, rec.Address.Key())
		assert.Equal(t, Failed, out)
		assert.ErrorIs(t, err, ErrEndpointMissing)
	})

	t.Run("created_then_present", func(t *testing.T) {
		_, err := w.UpsertLegalEntity(ctx, rec)
		require.NoError(t, err)
		_, err = w.UpsertAddress(ctx, rec.Address)
		require.NoError(t, err)

		out, err := w.UpsertRelationship(ctx, rec.CNPJ, rec.Address.Key())
		require.NoError(t, err)
		assert.Equal(t, Created, out)

		out, err = w.UpsertRelationship(ctx, rec.CNPJ, rec.Address.Key())
		require.NoError(t, err)
		assert.Equal(t, AlreadyPresent, out)
	})

	t.Run("empty_cnpj", func(t *testing.T) {
		_, err := w.UpsertRelationship(ctx, "", rec.Address.Key())
		assert.ErrorIs(t, err, ErrMissingKey)
	})
}

// Two records at the same address produce one Address node.
func TestWriter_SharedAddress(t *testing.T) {
	store := newFakeStore()
	w := NewWriter(store, WriterOptions{})
	ctx := context.Background()

	a, b := sampleRecord("1"), sampleRecord("2")
	out, err := w.UpsertAddress(ctx, a.Address)
	require.NoError(t, err)
	assert.Equal(t, Created, out)
	out, err = w.UpsertAddress(ctx, b.Address)
	require.NoError(t, err)
	assert.Equal(t, AlreadyPresent, out)

	// Non-key attributes do not take part in identity.
	c := sampleRecord("3")
	c.Address.PostalCode = "99999999"
	out, err = w.UpsertAddress(ctx, c.Address)
	require.NoError(t, err)
	assert.Equal(t, AlreadyPresent, out)
}
