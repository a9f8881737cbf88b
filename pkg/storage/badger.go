// Package storage provides storage engine implementations for cnpjgraph.
//
// BadgerEngine provides persistent disk-based storage using BadgerDB.
// It implements the Engine interface with serializable merge transactions.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Key prefixes for BadgerDB storage organization
// Using single-byte prefixes for efficiency
const (
	prefixNode          = byte(0x01) // nodes:nodeID -> Node
	prefixEdge          = byte(0x02) // edges:edgeID -> Edge
	prefixLabelIndex    = byte(0x03) // label:labelName:nodeID -> []byte{}
	prefixOutgoingIndex = byte(0x04) // outgoing:nodeID:edgeID -> []byte{}
	prefixIncomingIndex = byte(0x05) // incoming:nodeID:edgeID -> []byte{}
	prefixTypeIndex     = byte(0x06) // type:edgeType:edgeID -> []byte{}
)

// maxMergeRetries bounds how often a merge is retried after losing a
// transaction conflict to a concurrent writer of the same key.
const maxMergeRetries = 32

// BadgerEngine provides persistent storage using BadgerDB.
//
// Features:
//   - Get-or-create merges in serializable transactions
//   - Persistent storage to disk, or in-memory for tests
//   - Label and relationship-type indexes for counting without decoding
//   - Thread-safe concurrent access
//
// Key Structure:
//   - Nodes: 0x01 + nodeID -> JSON(Node)
//   - Edges: 0x02 + edgeID -> JSON(Edge)
//   - Label Index: 0x03 + label + 0x00 + nodeID -> empty
//   - Outgoing Index: 0x04 + nodeID + 0x00 + edgeID -> empty
//   - Incoming Index: 0x05 + nodeID + 0x00 + edgeID -> empty
//   - Type Index: 0x06 + edgeType + 0x00 + edgeID -> empty
//
// Example:
//
//	engine, err := storage.NewBadgerEngine("/path/to/data")
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer engine.Close()
//
//	node, created, err := engine.MergeNode("LegalEntity",
//		map[string]any{"cnpj": "12345678000199"}, nil)
type BadgerEngine struct {
	db     *badger.DB
	mu     sync.RWMutex // Protects closed
	closed bool
}

// BadgerOptions configures the BadgerDB engine.
type BadgerOptions struct {
	// DataDir is the directory for storing data files.
	// Required unless InMemory is set.
	DataDir string

	// InMemory runs BadgerDB in memory-only mode.
	// Useful for testing. Data is not persisted.
	InMemory bool

	// SyncWrites forces fsync after each write.
	// Slower but more durable.
	SyncWrites bool

	// Logger for BadgerDB internal logging.
	// If nil, BadgerDB logging is disabled.
	Logger badger.Logger
}

// NewBadgerEngine creates a new persistent storage engine with default settings.
//
// All data is stored in dataDir and persists across restarts, so running the
// same ingestion twice over one data directory is idempotent.
//
// Returns:
//   - *BadgerEngine on success
//   - error if database cannot be opened (e.g., permissions, lock held by
//     another process)
//
// Thread Safety:
//
//	Safe for concurrent use from multiple goroutines.
func NewBadgerEngine(dataDir string) (*BadgerEngine, error) {
	return NewBadgerEngineWithOptions(BadgerOptions{
		DataDir: dataDir,
	})
}

// NewBadgerEngineWithOptions creates a BadgerEngine with custom configuration.
//
// Example 1 - In-Memory Database for Testing:
//
//	engine, err := storage.NewBadgerEngineWithOptions(storage.BadgerOptions{
//		InMemory: true,
//	})
//	defer engine.Close()
//
// Example 2 - Route Badger logs through zap:
//
//	engine, err := storage.NewBadgerEngineWithOptions(storage.BadgerOptions{
//		DataDir: "./data",
//		Logger:  logging.Badger(logger),
//	})
func NewBadgerEngineWithOptions(opts BadgerOptions) (*BadgerEngine, error) {
	badgerOpts := badger.DefaultOptions(opts.DataDir)

	if opts.InMemory {
		badgerOpts = badgerOpts.WithInMemory(true).WithDir("").WithValueDir("")
	}

	if opts.SyncWrites {
		badgerOpts = badgerOpts.WithSyncWrites(true)
	}

	if opts.Logger != nil {
		badgerOpts = badgerOpts.WithLogger(opts.Logger)
	} else {
		badgerOpts = badgerOpts.WithLogger(nil)
	}

	// Records are small and numerous; keep memtables modest.
	badgerOpts = badgerOpts.
		WithMemTableSize(32 << 20).
		WithValueLogFileSize(128 << 20).
		WithNumMemtables(3).
		WithValueThreshold(1024).
		WithBlockCacheSize(64 << 20).
		WithIndexCacheSize(16 << 20)

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}

	return &BadgerEngine{db: db}, nil
}

// NewBadgerEngineInMemory creates an in-memory BadgerDB for testing.
//
// Data is not persisted and is lost when the engine is closed.
func NewBadgerEngineInMemory() (*BadgerEngine, error) {
	return NewBadgerEngineWithOptions(BadgerOptions{
		InMemory: true,
	})
}

// ============================================================================
// Key encoding helpers
// ============================================================================

// nodeKey creates a key for storing a node.
func nodeKey(id NodeID) []byte {
	return append([]byte{prefixNode}, []byte(id)...)
}

// edgeKey creates a key for storing an edge.
func edgeKey(id EdgeID) []byte {
	return append([]byte{prefixEdge}, []byte(id)...)
}

// indexKey builds prefix + name + 0x00 + id.
func indexKey(prefix byte, name string, id string) []byte {
	key := make([]byte, 0, 1+len(name)+1+len(id))
	key = append(key, prefix)
	key = append(key, []byte(name)...)
	key = append(key, 0x00)
	key = append(key, []byte(id)...)
	return key
}

// indexPrefix builds prefix + name + 0x00 for scanning.
func indexPrefix(prefix byte, name string) []byte {
	return indexKey(prefix, name, "")
}

// labelIndexKey creates a key for the label index.
// Labels are normalized to lowercase for case-insensitive matching (Neo4j compatible)
func labelIndexKey(label string, nodeID NodeID) []byte {
	return indexKey(prefixLabelIndex, strings.ToLower(label), string(nodeID))
}

func labelIndexPrefix(label string) []byte {
	return indexPrefix(prefixLabelIndex, strings.ToLower(label))
}

func outgoingIndexKey(nodeID NodeID, edgeID EdgeID) []byte {
	return indexKey(prefixOutgoingIndex, string(nodeID), string(edgeID))
}

func outgoingIndexPrefix(nodeID NodeID) []byte {
	return indexPrefix(prefixOutgoingIndex, string(nodeID))
}

func incomingIndexKey(nodeID NodeID, edgeID EdgeID) []byte {
	return indexKey(prefixIncomingIndex, string(nodeID), string(edgeID))
}

func incomingIndexPrefix(nodeID NodeID) []byte {
	return indexPrefix(prefixIncomingIndex, string(nodeID))
}

func typeIndexKey(edgeType string, edgeID EdgeID) []byte {
	return indexKey(prefixTypeIndex, edgeType, string(edgeID))
}

func typeIndexPrefix(edgeType string) []byte {
	return indexPrefix(prefixTypeIndex, edgeType)
}

// extractEdgeIDFromIndexKey extracts the edgeID from an index key.
// Format: prefix + nodeID + 0x00 + edgeID
func extractEdgeIDFromIndexKey(key []byte) EdgeID {
	for i := 1; i < len(key); i++ {
		if key[i] == 0x00 {
			return EdgeID(key[i+1:])
		}
	}
	return ""
}

// ============================================================================
// Serialization helpers
// ============================================================================

// serializableNode is the JSON-serializable form of a Node.
type serializableNode struct {
	ID         string         `json:"id"`
	Labels     []string       `json:"labels"`
	Properties map[string]any `json:"properties"`
	CreatedAt  int64          `json:"createdAt"`
}

// serializableEdge is the JSON-serializable form of an Edge.
type serializableEdge struct {
	ID         string         `json:"id"`
	StartNode  string         `json:"startNode"`
	EndNode    string         `json:"endNode"`
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties,omitempty"`
	CreatedAt  int64          `json:"createdAt"`
}

func encodeNode(n *Node) ([]byte, error) {
	return json.Marshal(serializableNode{
		ID:         string(n.ID),
		Labels:     n.Labels,
		Properties: n.Properties,
		CreatedAt:  n.CreatedAt.Unix(),
	})
}

func decodeNode(data []byte) (*Node, error) {
	var sn serializableNode
	if err := json.Unmarshal(data, &sn); err != nil {
		return nil, err
	}
	return &Node{
		ID:         NodeID(sn.ID),
		Labels:     sn.Labels,
		Properties: sn.Properties,
		CreatedAt:  unixToTime(sn.CreatedAt),
	}, nil
}

func encodeEdge(e *Edge) ([]byte, error) {
	return json.Marshal(serializableEdge{
		ID:         string(e.ID),
		StartNode:  string(e.StartNode),
		EndNode:    string(e.EndNode),
		Type:       e.Type,
		Properties: e.Properties,
		CreatedAt:  e.CreatedAt.Unix(),
	})
}

func decodeEdge(data []byte) (*Edge, error) {
	var se serializableEdge
	if err := json.Unmarshal(data, &se); err != nil {
		return nil, err
	}
	return &Edge{
		ID:         EdgeID(se.ID),
		StartNode:  NodeID(se.StartNode),
		EndNode:    NodeID(se.EndNode),
		Type:       se.Type,
		Properties: se.Properties,
		CreatedAt:  unixToTime(se.CreatedAt),
	}, nil
}

// unixToTime converts Unix timestamp to time.Time.
func unixToTime(unix int64) time.Time {
	if unix <= 0 {
		return time.Time{}
	}
	return time.Unix(unix, 0)
}

func (b *BadgerEngine) checkOpen() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrStorageClosed
	}
	return nil
}

// update runs fn in a read-write transaction, retrying on conflicts.
//
// BadgerDB transactions are serializable: when two transactions read the same
// missing key and both try to create it, the second commit fails with
// ErrConflict. Retrying re-reads the key and finds the first writer's value.
func (b *BadgerEngine) update(fn func(txn *badger.Txn) error) error {
	for attempt := 0; attempt < maxMergeRetries; attempt++ {
		err := b.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return ErrTooManyRetries
}

// ============================================================================
// Merge Operations
// ============================================================================

// MergeNode returns the node identified by (label, key), creating it if absent.
//
// On create, the node's properties are props overlaid with key (key values
// win). On match, the stored node is returned unchanged: later writes never
// overwrite earlier ones.
//
// Example:
//
//	node, created, err := engine.MergeNode("Address",
//		map[string]any{"codigoMunicipio": "7107", "bairro": "CENTRO"},
//		map[string]any{"uf": "SP"})
//
// Thread Safety:
//
//	Concurrent calls with the same label and key create exactly one node;
//	every other caller gets created == false.
func (b *BadgerEngine) MergeNode(label string, key, props map[string]any) (*Node, bool, error) {
	if label == "" || len(key) == 0 {
		return nil, false, ErrInvalidData
	}
	if err := b.checkOpen(); err != nil {
		return nil, false, err
	}

	id := NodeIDFor(label, key)
	var (
		node    *Node
		created bool
	)
	err := b.update(func(txn *badger.Txn) error {
		created = false
		item, err := txn.Get(nodeKey(id))
		if err == nil {
			return item.Value(func(val []byte) error {
				var decodeErr error
				node, decodeErr = decodeNode(val)
				return decodeErr
			})
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		properties := make(map[string]any, len(props)+len(key))
		for k, v := range props {
			properties[k] = v
		}
		for k, v := range key {
			properties[k] = v
		}
		node = &Node{
			ID:         id,
			Labels:     []string{label},
			Properties: properties,
			CreatedAt:  time.Now(),
		}

		data, err := encodeNode(node)
		if err != nil {
			return fmt.Errorf("failed to encode node: %w", err)
		}
		if err := txn.Set(nodeKey(id), data); err != nil {
			return err
		}
		if err := txn.Set(labelIndexKey(label, id), []byte{}); err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return node, created, nil
}

// MergeEdge returns the edge (start)-[edgeType]->(end), creating it if absent.
//
// Both endpoint nodes must already exist; otherwise ErrInvalidEdge is returned
// and nothing is written. At most one edge of a given type exists between two
// nodes.
func (b *BadgerEngine) MergeEdge(start NodeID, edgeType string, end NodeID, props map[string]any) (*Edge, bool, error) {
	if start == "" || end == "" {
		return nil, false, ErrInvalidID
	}
	if edgeType == "" {
		return nil, false, ErrInvalidData
	}
	if err := b.checkOpen(); err != nil {
		return nil, false, err
	}

	id := EdgeIDFor(start, edgeType, end)
	var (
		edge    *Edge
		created bool
	)
	err := b.update(func(txn *badger.Txn) error {
		created = false
		item, err := txn.Get(edgeKey(id))
		if err == nil {
			return item.Value(func(val []byte) error {
				var decodeErr error
				edge, decodeErr = decodeEdge(val)
				return decodeErr
			})
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		// Verify both endpoints exist
		for _, endpoint := range []NodeID{start, end} {
			if _, err := txn.Get(nodeKey(endpoint)); err != nil {
				if errors.Is(err, badger.ErrKeyNotFound) {
					return fmt.Errorf("%w: %s", ErrInvalidEdge, endpoint)
				}
				return err
			}
		}

		edge = &Edge{
			ID:         id,
			StartNode:  start,
			EndNode:    end,
			Type:       edgeType,
			Properties: props,
			CreatedAt:  time.Now(),
		}
		data, err := encodeEdge(edge)
		if err != nil {
			return fmt.Errorf("failed to encode edge: %w", err)
		}
		if err := txn.Set(edgeKey(id), data); err != nil {
			return err
		}
		if err := txn.Set(outgoingIndexKey(start, id), []byte{}); err != nil {
			return err
		}
		if err := txn.Set(incomingIndexKey(end, id), []byte{}); err != nil {
			return err
		}
		if err := txn.Set(typeIndexKey(edgeType, id), []byte{}); err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return edge, created, nil
}

// ============================================================================
// Read Operations
// ============================================================================

// GetNode retrieves a node by ID.
func (b *BadgerEngine) GetNode(id NodeID) (*Node, error) {
	if id == "" {
		return nil, ErrInvalidID
	}
	if err := b.checkOpen(); err != nil {
		return nil, err
	}

	var node *Node
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(nodeKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var decodeErr error
			node, decodeErr = decodeNode(val)
			return decodeErr
		})
	})
	return node, err
}

// GetNodeByKey retrieves a node by its label and merge key.
func (b *BadgerEngine) GetNodeByKey(label string, key map[string]any) (*Node, error) {
	return b.GetNode(NodeIDFor(label, key))
}

// GetOutgoingEdges returns all edges where the given node is the source.
func (b *BadgerEngine) GetOutgoingEdges(nodeID NodeID) ([]*Edge, error) {
	return b.edgesByIndex(nodeID, outgoingIndexPrefix(nodeID))
}

// GetIncomingEdges returns all edges where the given node is the target.
func (b *BadgerEngine) GetIncomingEdges(nodeID NodeID) ([]*Edge, error) {
	return b.edgesByIndex(nodeID, incomingIndexPrefix(nodeID))
}

func (b *BadgerEngine) edgesByIndex(nodeID NodeID, prefix []byte) ([]*Edge, error) {
	if nodeID == "" {
		return nil, ErrInvalidID
	}
	if err := b.checkOpen(); err != nil {
		return nil, err
	}

	var edges []*Edge
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			edgeID := extractEdgeIDFromIndexKey(it.Item().Key())
			if edgeID == "" {
				continue
			}

			item, err := txn.Get(edgeKey(edgeID))
			if err != nil {
				continue
			}

			var edge *Edge
			if err := item.Value(func(val []byte) error {
				var decodeErr error
				edge, decodeErr = decodeEdge(val)
				return decodeErr
			}); err != nil {
				continue
			}
			edges = append(edges, edge)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return edges, nil
}

// ============================================================================
// Counting
// ============================================================================

// countPrefix counts keys under prefix without reading values.
func (b *BadgerEngine) countPrefix(prefix []byte) (int64, error) {
	if err := b.checkOpen(); err != nil {
		return 0, err
	}

	var count int64
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

// CountNodesByLabel returns the number of nodes carrying label.
func (b *BadgerEngine) CountNodesByLabel(label string) (int64, error) {
	return b.countPrefix(labelIndexPrefix(label))
}

// CountEdgesByType returns the number of edges of edgeType.
func (b *BadgerEngine) CountEdgesByType(edgeType string) (int64, error) {
	return b.countPrefix(typeIndexPrefix(edgeType))
}

// NodeCount returns the total number of nodes.
func (b *BadgerEngine) NodeCount() (int64, error) {
	return b.countPrefix([]byte{prefixNode})
}

// EdgeCount returns the total number of edges.
func (b *BadgerEngine) EdgeCount() (int64, error) {
	return b.countPrefix([]byte{prefixEdge})
}

// ============================================================================
// Lifecycle
// ============================================================================

// Close closes the BadgerDB database. Closing twice is a no-op.
func (b *BadgerEngine) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	return b.db.Close()
}

// Verify BadgerEngine implements Engine interface
var _ Engine = (*BadgerEngine)(nil)
