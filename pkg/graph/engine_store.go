package graph

import (
	"context"
	"errors"
	"fmt"

	"github.com/orneryd/cnpjgraph/pkg/storage"
)

// EngineStore is a Store over the embedded storage engine.
//
// The engine is synchronous; context cancellation is checked before each call
// but cannot interrupt a call in progress.
type EngineStore struct {
	engine storage.Engine
}

// NewEngineStore wraps engine. The store takes ownership and closes it on
// Close.
func NewEngineStore(engine storage.Engine) *EngineStore {
	return &EngineStore{engine: engine}
}

// OpenEngineStore opens (or creates) an embedded store in dataDir.
func OpenEngineStore(opts storage.BadgerOptions) (*EngineStore, error) {
	engine, err := storage.NewBadgerEngineWithOptions(opts)
	if err != nil {
		return nil, err
	}
	return NewEngineStore(engine), nil
}

// Engine returns the wrapped engine.
func (s *EngineStore) Engine() storage.Engine {
	return s.engine
}

func (s *EngineStore) MergeNode(ctx context.Context, label string, key, props map[string]any) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, created, err := s.engine.MergeNode(label, key, props)
	return created, err
}

func (s *EngineStore) MergeRelationship(ctx context.Context, from NodeRef, relType string, to NodeRef) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	start := storage.NodeIDFor(from.Label, from.Key)
	end := storage.NodeIDFor(to.Label, to.Key)

	_, created, err := s.engine.MergeEdge(start, relType, end, nil)
	if errors.Is(err, storage.ErrInvalidEdge) {
		return false, fmt.Errorf("%w: %v", ErrEndpointMissing, err)
	}
	return created, err
}

func (s *EngineStore) Counts(ctx context.Context) (Counts, error) {
	var (
		c   Counts
		err error
	)
	if err = ctx.Err(); err != nil {
		return c, err
	}
	if c.LegalEntities, err = s.engine.CountNodesByLabel(LabelLegalEntity); err != nil {
		return c, err
	}
	if c.Addresses, err = s.engine.CountNodesByLabel(LabelAddress); err != nil {
		return c, err
	}
	if c.LocatedAt, err = s.engine.CountEdgesByType(RelLocatedAt); err != nil {
		return c, err
	}
	return c, nil
}

func (s *EngineStore) Close(context.Context) error {
	return s.engine.Close()
}

var _ Store = (*EngineStore)(nil)
