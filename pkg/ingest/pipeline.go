// Package ingest drives one load of a registry extract into the graph.
//
// A Pipeline reads the extract line by line, decodes and filters each record,
// and hands admitted records to concurrent write goroutines. Reading is paced
// by a flow.Controller: when too many writes are outstanding the reader stops
// pulling lines until the store catches up.
//
// Per admitted record, in order:
//  1. upsert the LegalEntity (cnpj)
//  2. upsert the Address (natural key), whatever step 1 returned
//  3. upsert LOCATED_AT, only if steps 1 and 2 both succeeded
//
// Nothing orders writes of different records. Write failures are logged and
// counted; they never stop the run.
//
// Example:
//
//	p := ingest.New(graph.NewWriter(store, graph.WriterOptions{}), ingest.Options{
//		Filter: filter.Predicate{State: "SP"},
//	})
//	res, err := p.Run(ctx, file)
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/orneryd/cnpjgraph/pkg/filter"
	"github.com/orneryd/cnpjgraph/pkg/flow"
	"github.com/orneryd/cnpjgraph/pkg/graph"
	"github.com/orneryd/cnpjgraph/pkg/receita"
)

// DefaultProgressInterval is how often progress is logged at info level.
const DefaultProgressInterval = 10 * time.Second

// ErrAlreadyRun is returned by a second call to Run.
var ErrAlreadyRun = errors.New("ingest: pipeline already run")

// Options configures a Pipeline.
type Options struct {
	Filter           filter.Predicate
	HighWaterMark    int           // in-flight write limit; <= 0 selects flow.DefaultHighWaterMark
	ProgressInterval time.Duration // <= 0 selects DefaultProgressInterval
	RunID            string        // empty generates a random one
	Logger           *zap.Logger
	Metrics          *Metrics // nil keeps metrics unregistered
}

// Result summarizes a run.
type Result struct {
	RunID      string
	Header     *receita.Header
	SawTrailer bool

	Lines    int   // lines read, including header and trailer
	Decoded  int64 // record lines decoded
	Received int64 // records that passed the filter
	Filtered int64
	Skipped  int64 // unreadable or unknown lines

	Inserted             int64 // LegalEntity nodes created
	AddressesCreated     int64
	RelationshipsCreated int64
	WriteFailures        int64
	FirstWriteError      error // first failed upsert, nil when every write succeeded

	PeakInFlight      int
	BackpressureWaits int64
	Elapsed           time.Duration
}

type counters struct {
	decoded, received, filtered, skipped atomic.Int64
	inserted, addresses, relationships   atomic.Int64
	failures                             atomic.Int64
}

// Pipeline is a single-use ingestion run.
type Pipeline struct {
	writer  *graph.Writer
	opts    Options
	gate    *flow.Controller
	metrics *Metrics
	log     *zap.Logger

	progress rate.Sometimes
	used     atomic.Bool
	stats    counters
}

// New returns a Pipeline writing through writer. The pipeline closes the
// writer's store when the run ends.
func New(writer *graph.Writer, opts Options) *Pipeline {
	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = DefaultProgressInterval
	}
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = NewMetrics(nil)
	}

	return &Pipeline{
		writer:   writer,
		opts:     opts,
		gate:     flow.New(opts.HighWaterMark),
		metrics:  metrics,
		log:      opts.Logger.With(zap.String("run_id", opts.RunID)),
		progress: rate.Sometimes{First: 1, Interval: opts.ProgressInterval},
	}
}

// Run loads the extract read from r.
//
// It returns once the trailer (or EOF) has been reached, every issued write
// has completed, and the store has been closed. Cancelling ctx stops admitting
// records; writes already issued are allowed to finish. The Result is
// populated even when an error is returned.
func (p *Pipeline) Run(ctx context.Context, r io.Reader) (*Result, error) {
	if !p.used.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRun
	}

	start := time.Now()
	res := &Result{RunID: p.opts.RunID}
	p.log.Info("ingestion started",
		zap.Stringer("filter", p.opts.Filter),
		zap.Bool("filtered", !p.opts.Filter.IsZero()),
		zap.Int("high_water_mark", p.gate.HighWaterMark()))

	var (
		g       errgroup.Group
		runErr  error
		scanner = receita.NewReader(r)
	)
	// Issued writes run to completion even after ctx is cancelled.
	writeCtx := context.WithoutCancel(ctx)

	for scanner.Next() {
		line := scanner.Line()

		switch line.Kind {
		case receita.KindHeader:
			res.Header = line.Header
			p.log.Info("extract header",
				zap.String("file_id", line.Header.FileID),
				zap.String("generated_on", line.Header.GeneratedOn))

		case receita.KindTrailer:
			p.log.Info("extract trailer reached", zap.Int("line", line.Number))

		case receita.KindSkip:
			p.stats.skipped.Add(1)
			p.metrics.Records.WithLabelValues(RecordSkipped).Inc()
			p.log.Debug("line skipped", zap.Int("line", line.Number), zap.Error(line.Err))

		case receita.KindRecord:
			p.stats.decoded.Add(1)
			rec := line.Record
			if !p.opts.Filter.Match(rec) {
				p.stats.filtered.Add(1)
				p.metrics.Records.WithLabelValues(RecordFiltered).Inc()
				continue
			}

			if err := p.admit(ctx); err != nil {
				runErr = err
				break
			}
			p.stats.received.Add(1)
			p.metrics.Records.WithLabelValues(RecordAdmitted).Inc()

			p.begin()
			g.Go(func() error {
				return p.write(writeCtx, rec)
			})
		}

		if runErr != nil {
			break
		}
	}
	if runErr == nil {
		if err := scanner.Err(); err != nil {
			runErr = err
		}
	}

	// Write failures never stop the run; the group keeps the first one.
	res.FirstWriteError = g.Wait()
	res.SawTrailer = scanner.SawTrailer()
	res.Lines = scanner.LinesRead()

	if err := p.writer.Store().Close(context.WithoutCancel(ctx)); err != nil {
		p.log.Warn("closing graph store", zap.Error(err))
		if runErr == nil {
			runErr = fmt.Errorf("closing graph store: %w", err)
		}
	}

	p.fill(res, start)
	p.log.Info("ingestion finished",
		zap.Int("lines", res.Lines),
		zap.Int64("received", res.Received),
		zap.Int64("inserted", res.Inserted),
		zap.Int64("filtered", res.Filtered),
		zap.Int64("skipped", res.Skipped),
		zap.Int64("write_failures", res.WriteFailures),
		zap.NamedError("first_write_error", res.FirstWriteError),
		zap.Int("peak_in_flight", res.PeakInFlight),
		zap.Int64("backpressure_waits", res.BackpressureWaits),
		zap.Duration("elapsed", res.Elapsed),
		zap.Bool("saw_trailer", res.SawTrailer))
	return res, runErr
}

// admit blocks at the high-water mark.
func (p *Pipeline) admit(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	before := p.gate.Waits()
	err := p.gate.Wait(ctx)
	if p.gate.Waits() > before {
		p.metrics.BackpressureWaits.Inc()
	}
	return err
}

func (p *Pipeline) begin() {
	p.gate.Begin()
	p.metrics.InFlight.Inc()
}

func (p *Pipeline) done() {
	p.gate.Done()
	p.metrics.InFlight.Dec()
}

// write performs the record's upserts and returns their failures joined. The
// entity write was begun by the producer before this goroutine started.
func (p *Pipeline) write(ctx context.Context, rec *receita.Record) error {
	entity, entityErr := p.writer.UpsertLegalEntity(ctx, rec)
	p.done()
	p.count(graph.OpLegalEntity, entity)
	if entity == graph.Created {
		inserted := p.stats.inserted.Add(1)
		received := p.stats.received.Load()
		p.log.Debug("legal entity inserted",
			zap.String("cnpj", rec.CNPJ),
			zap.Int64("inserted", inserted),
			zap.Int64("received", received))
		p.progress.Do(func() {
			p.log.Info("progress",
				zap.String("inserted", humanize.Comma(inserted)),
				zap.String("received", humanize.Comma(received)),
				zap.Int("in_flight", p.gate.InFlight()))
		})
	}

	p.begin()
	addr, addrErr := p.writer.UpsertAddress(ctx, rec.Address)
	p.done()
	p.count(graph.OpAddress, addr)
	if addr == graph.Created {
		p.stats.addresses.Add(1)
	}

	if entityErr != nil || addrErr != nil {
		return errors.Join(entityErr, addrErr)
	}

	p.begin()
	rel, relErr := p.writer.UpsertRelationship(ctx, rec.CNPJ, rec.Address.Key())
	p.done()
	p.count(graph.OpRelationship, rel)
	if rel == graph.Created {
		p.stats.relationships.Add(1)
	}
	return relErr
}

func (p *Pipeline) count(op string, out graph.Outcome) {
	if out == graph.Failed {
		p.stats.failures.Add(1)
	}
	p.metrics.Writes.WithLabelValues(op, out.String()).Inc()
}

func (p *Pipeline) fill(res *Result, start time.Time) {
	res.Decoded = p.stats.decoded.Load()
	res.Received = p.stats.received.Load()
	res.Filtered = p.stats.filtered.Load()
	res.Skipped = p.stats.skipped.Load()
	res.Inserted = p.stats.inserted.Load()
	res.AddressesCreated = p.stats.addresses.Load()
	res.RelationshipsCreated = p.stats.relationships.Load()
	res.WriteFailures = p.stats.failures.Load()
	res.PeakInFlight = p.gate.Peak()
	res.BackpressureWaits = p.gate.Waits()
	res.Elapsed = time.Since(start)
}
