package graph

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/orneryd/cnpjgraph/pkg/receita"
)

// DefaultWriteTimeout bounds a single store write.
const DefaultWriteTimeout = 30 * time.Second

// Errors
var (
	ErrEndpointMissing = errors.New("relationship endpoint missing")
	ErrMissingKey      = errors.New("missing merge key")
)

// Outcome is the result of one upsert.
type Outcome int

const (
	// Failed means the write did not complete; see the returned error.
	Failed Outcome = iota
	// Created means this call created the element.
	Created
	// AlreadyPresent means the element existed and was left untouched.
	AlreadyPresent
)

func (o Outcome) String() string {
	switch o {
	case Created:
		return "created"
	case AlreadyPresent:
		return "already_present"
	default:
		return "failed"
	}
}

func outcome(created bool) Outcome {
	if created {
		return Created
	}
	return AlreadyPresent
}

// Write operation names, as reported in WriteError.Op and metrics.
const (
	OpLegalEntity  = "legal_entity"
	OpAddress      = "address"
	OpRelationship = "relationship"
)

// WriteError is a failed upsert. Key identifies the offending element.
type WriteError struct {
	Op  string
	Key string
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("%s upsert %s: %v", e.Op, e.Key, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// WriterOptions configures a Writer.
type WriterOptions struct {
	// WriteTimeout bounds each store call. Zero selects DefaultWriteTimeout.
	WriteTimeout time.Duration

	// Logger receives one warning per failed write. Nil disables logging.
	Logger *zap.Logger
}

// Writer performs the three idempotent upserts against a Store.
//
// Failures are logged with the offending key and returned as *WriteError; the
// Writer itself never stops on error. Safe for concurrent use when the Store
// is.
type Writer struct {
	store   Store
	timeout time.Duration
	log     *zap.Logger
}

// NewWriter returns a Writer over store.
func NewWriter(store Store, opts WriterOptions) *Writer {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Writer{
		store:   store,
		timeout: opts.WriteTimeout,
		log:     opts.Logger,
	}
}

// Store returns the underlying store.
func (w *Writer) Store() Store {
	return w.store
}

// LegalEntityRef returns the node reference for cnpj.
func LegalEntityRef(cnpj string) NodeRef {
	return NodeRef{Label: LabelLegalEntity, Key: map[string]any{"cnpj": cnpj}}
}

// AddressRef returns the node reference for an address natural key.
func AddressRef(key receita.AddressKey) NodeRef {
	return NodeRef{Label: LabelAddress, Key: key.Properties()}
}

// UpsertLegalEntity creates the LegalEntity for rec.CNPJ unless one exists.
//
// An existing entity keeps the attributes it was created with.
func (w *Writer) UpsertLegalEntity(ctx context.Context, rec *receita.Record) (Outcome, error) {
	if rec == nil || rec.CNPJ == "" {
		return w.fail(OpLegalEntity, "", ErrMissingKey)
	}
	ref := LegalEntityRef(rec.CNPJ)

	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	created, err := w.store.MergeNode(ctx, ref.Label, ref.Key, rec.Properties())
	if err != nil {
		return w.fail(OpLegalEntity, rec.CNPJ, err)
	}
	return outcome(created), nil
}

// UpsertAddress creates the Address for addr's natural key unless one exists.
func (w *Writer) UpsertAddress(ctx context.Context, addr receita.Address) (Outcome, error) {
	key := addr.Key()
	ref := AddressRef(key)

	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	created, err := w.store.MergeNode(ctx, ref.Label, ref.Key, addr.Properties())
	if err != nil {
		return w.fail(OpAddress, key.String(), err)
	}
	return outcome(created), nil
}

// UpsertRelationship links the LegalEntity cnpj to the Address key.
//
// Both nodes must exist; otherwise the error wraps ErrEndpointMissing.
func (w *Writer) UpsertRelationship(ctx context.Context, cnpj string, key receita.AddressKey) (Outcome, error) {
	label := cnpj + "->" + key.String()
	if cnpj == "" {
		return w.fail(OpRelationship, label, ErrMissingKey)
	}

	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	created, err := w.store.MergeRelationship(ctx, LegalEntityRef(cnpj), RelLocatedAt, AddressRef(key))
	if err != nil {
		return w.fail(OpRelationship, label, err)
	}
	return outcome(created), nil
}

func (w *Writer) fail(op, key string, err error) (Outcome, error) {
	if errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("write timed out after %s: %w", w.timeout, err)
	}
	werr := &WriteError{Op: op, Key: key, Err: err}
	w.log.Warn("graph write failed",
		zap.String("op", op),
		zap.String("key", key),
		zap.Error(err))
	return Failed, werr
}
