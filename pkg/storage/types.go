// Package storage provides the embedded graph engine used by cnpjgraph.
//
// The engine stores a labeled property graph in BadgerDB. It is not a general
// purpose database: nodes are identified by a merge key (a label plus a set of
// key properties) and the only write operations are get-or-create merges for
// nodes and relationships. That is exactly what idempotent ingestion needs.
//
// Design Principles:
//   - A node's ID is derived from its label and merge key, so looking a node up
//     by key is a point read and two writers of the same key write the same key
//   - Merges run in serializable BadgerDB transactions; concurrent creators of
//     the same node collide and the loser retries, observing the winner's node
//   - First write wins: merging an existing node never touches its properties
//
// Example Usage:
//
//	engine, err := storage.NewBadgerEngine("./data")
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer engine.Close()
//
//	node, created, err := engine.MergeNode("LegalEntity",
//		map[string]any{"cnpj": "12345678000199"},
//		map[string]any{"razaoSocial": "EMPRESA LTDA"})
//
//	addr, _, _ := engine.MergeNode("Address", addressKey, addressProps)
//
//	_, created, err = engine.MergeEdge(node.ID, "LOCATED_AT", addr.ID, nil)
package storage

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
)

// Common errors
var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidID      = errors.New("invalid id")
	ErrInvalidData    = errors.New("invalid data")
	ErrInvalidEdge    = errors.New("invalid edge: start or end node not found")
	ErrStorageClosed  = errors.New("storage closed")
	ErrTooManyRetries = errors.New("merge retried too many times")
)

// NodeID is a strongly-typed unique identifier for graph nodes.
//
// IDs are derived from the merge key with NodeIDFor; callers never invent them.
type NodeID string

// EdgeID is a strongly-typed unique identifier for graph edges (relationships).
type EdgeID string

// Node represents a graph node (vertex) in the labeled property graph.
//
// Thread Safety:
//
//	Node structs are NOT thread-safe. The storage engine handles concurrency.
type Node struct {
	ID         NodeID         `json:"id"`
	Labels     []string       `json:"labels"`
	Properties map[string]any `json:"properties"`
	CreatedAt  time.Time      `json:"-"`
}

// Edge represents a directed relationship between two nodes.
type Edge struct {
	ID         EdgeID         `json:"id"`
	StartNode  NodeID         `json:"startNode"`
	EndNode    NodeID         `json:"endNode"`
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties,omitempty"`
	CreatedAt  time.Time      `json:"-"`
}

// Engine is the storage contract the graph writer depends on.
//
// Implementations must guarantee that concurrent MergeNode calls with the same
// label and key create at most one node, and concurrent MergeEdge calls with
// the same (start, type, end) create at most one edge.
type Engine interface {
	// MergeNode returns the node for (label, key), creating it with key ∪ props
	// if absent. created reports whether this call created it.
	MergeNode(label string, key, props map[string]any) (node *Node, created bool, err error)

	// MergeEdge returns the edge (start)-[edgeType]->(end), creating it if
	// absent. Both endpoints must exist.
	MergeEdge(start NodeID, edgeType string, end NodeID, props map[string]any) (edge *Edge, created bool, err error)

	GetNode(id NodeID) (*Node, error)
	GetNodeByKey(label string, key map[string]any) (*Node, error)
	GetOutgoingEdges(id NodeID) ([]*Edge, error)
	GetIncomingEdges(id NodeID) ([]*Edge, error)

	CountNodesByLabel(label string) (int64, error)
	CountEdgesByType(edgeType string) (int64, error)
	NodeCount() (int64, error)
	EdgeCount() (int64, error)

	Close() error
}

// edgeNamespace seeds deterministic edge IDs.
var edgeNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("cnpjgraph/edge"))

// NodeIDFor derives the node ID for a label and merge key.
//
// The key is canonicalized (property names sorted, values JSON-encoded) and
// hashed with BLAKE2b-256, so the same logical key always maps to the same ID
// regardless of map iteration order.
//
// Example:
//
//	id := storage.NodeIDFor("LegalEntity", map[string]any{"cnpj": "12345678000199"})
//	// "LegalEntity:5c1b..."
func NodeIDFor(label string, key map[string]any) NodeID {
	names := make([]string, 0, len(key))
	for name := range key {
		names = append(names, name)
	}
	sort.Strings(names)

	h, _ := blake2b.New256(nil)
	h.Write([]byte(label))
	h.Write([]byte{0x00})
	for _, name := range names {
		value, err := json.Marshal(key[name])
		if err != nil {
			value = []byte("!")
		}
		h.Write([]byte(name))
		h.Write([]byte{0x00})
		h.Write(value)
		h.Write([]byte{0x00})
	}
	return NodeID(label + ":" + hex.EncodeToString(h.Sum(nil)))
}

// EdgeIDFor derives the edge ID for (start)-[edgeType]->(end).
func EdgeIDFor(start NodeID, edgeType string, end NodeID) EdgeID {
	name := string(start) + "\x00" + edgeType + "\x00" + string(end)
	return EdgeID(uuid.NewSHA1(edgeNamespace, []byte(name)).String())
}
