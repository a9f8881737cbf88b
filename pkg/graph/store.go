// Package graph persists registry records into a property graph store.
//
// The package exposes exactly three idempotent write operations through a
// Writer: upsert a LegalEntity keyed by cnpj, upsert an Address keyed by its
// natural key, and upsert the LOCATED_AT relationship between them. Writes go
// through the Store interface, implemented here by a Bolt store (Neo4j and
// compatible servers) and an embedded store backed by pkg/storage.
package graph

import (
	"context"
	"fmt"
)

// Graph vocabulary.
const (
	LabelLegalEntity = "LegalEntity"
	LabelAddress     = "Address"
	RelLocatedAt     = "LOCATED_AT"
)

// NodeRef identifies a node by label and merge key.
type NodeRef struct {
	Label string
	Key   map[string]any
}

func (r NodeRef) String() string {
	return fmt.Sprintf("(:%s %v)", r.Label, r.Key)
}

// Counts summarizes what a store holds.
type Counts struct {
	LegalEntities int64 `json:"legal_entities"`
	Addresses     int64 `json:"addresses"`
	LocatedAt     int64 `json:"located_at"`
}

// Store is the write capability the Writer needs from a graph backend.
//
// MergeNode and MergeRelationship are get-or-create: they report whether the
// call created the element and never modify an element that already exists.
// Implementations must be safe for concurrent use and must never create two
// nodes with the same label and key, even under concurrent merges.
type Store interface {
	MergeNode(ctx context.Context, label string, key, props map[string]any) (created bool, err error)

	// MergeRelationship returns ErrEndpointMissing when either endpoint does
	// not exist.
	MergeRelationship(ctx context.Context, from NodeRef, relType string, to NodeRef) (created bool, err error)

	Counts(ctx context.Context) (Counts, error)
	Close(ctx context.Context) error
}
