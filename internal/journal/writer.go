package journal

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rickgao/stream-supervisor/internal/config"
)

// BatchSender is the subset of *pgxpool.Pool the writer needs.
type BatchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Stats holds writer counters.
type Stats struct {
	Recorded int64 `json:"recorded"`
	Dropped  int64 `json:"dropped"`
	Inserts  int64 `json:"inserts"`
	Flushes  int64 `json:"flushes"`
	Errors   int64 `json:"errors"`
}

// Writer batches events and inserts them into the journal table.
type Writer struct {
	cfg      config.JournalConfig
	instance string
	insert   string
	logger   *slog.Logger

	db    BatchSender
	input chan Event

	batch   []Event
	batchMu sync.Mutex
	stats   Stats

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	now func() time.Time
}

// NewWriter creates a Writer for instanceID. Events recorded before Start
// are buffered up to cfg.BufferSize.
func NewWriter(cfg config.JournalConfig, instanceID string, db BatchSender, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = config.DefaultJournalBatchSize
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = config.DefaultJournalBufferSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = config.DefaultJournalFlushInterval
	}
	if cfg.Table == "" {
		cfg.Table = config.DefaultJournalTable
	}

	return &Writer{
		cfg:      cfg,
		instance: instanceID,
		insert:   insertSQL(cfg.Table),
		logger:   logger.With("component", "journal"),
		db:       db,
		input:    make(chan Event, cfg.BufferSize),
		batch:    make([]Event, 0, cfg.BatchSize),
		now:      time.Now,
	}
}

func insertSQL(table string) string {
	ident := pgx.Identifier(strings.Split(table, "."))
	return fmt.Sprintf(
		"INSERT INTO %s (instance_id, at, kind, consumer_id, from_mode, to_mode, detail) VALUES ($1, $2, $3, $4, $5, $6, $7)",
		ident.Sanitize(),
	)
}

// Start begins consuming recorded events and flushing them.
func (w *Writer) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(2)
	go w.consumeLoop()
	go w.flushLoop()

	w.logger.Info("journal writer started",
		"table", w.cfg.Table,
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop halts the loops, drains buffered events and performs a final flush
// bounded by ctx.
func (w *Writer) Stop(ctx context.Context) error {
	w.logger.Info("stopping journal writer")

	if w.cancel != nil {
		w.cancel()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		w.logger.Warn("journal writer stop timed out")
		return ctx.Err()
	}

drain:
	for {
		select {
		case ev := <-w.input:
			w.append(ev)
		default:
			break drain
		}
	}
	w.flush(ctx)

	w.logger.Info("journal writer stopped", "stats", w.Stats())
	return nil
}

// Record queues ev without blocking. When the buffer is full the event is
// dropped and counted.
func (w *Writer) Record(ev Event) {
	if ev.At.IsZero() {
		ev.At = w.now()
	}
	select {
	case w.input <- ev:
		w.batchMu.Lock()
		w.stats.Recorded++
		w.batchMu.Unlock()
	default:
		w.batchMu.Lock()
		w.stats.Dropped++
		w.batchMu.Unlock()
	}
}

// Stats returns a snapshot of the writer counters.
func (w *Writer) Stats() Stats {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.stats
}

func (w *Writer) consumeLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case ev := <-w.input:
			if w.append(ev) {
				w.flush(w.ctx)
			}
		}
	}
}

func (w *Writer) flushLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.flush(w.ctx)
		}
	}
}

// append adds ev to the pending batch and reports whether it is full.
func (w *Writer) append(ev Event) bool {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	w.batch = append(w.batch, ev)
	return len(w.batch) >= w.cfg.BatchSize
}

func (w *Writer) flush(ctx context.Context) {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}
	batch := w.batch
	w.batch = make([]Event, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()
	if err := w.batchInsert(ctx, batch); err != nil {
		w.logger.Error("journal insert failed", "error", err, "count", len(batch))
		w.batchMu.Lock()
		w.stats.Errors++
		w.batchMu.Unlock()
		return
	}

	w.batchMu.Lock()
	w.stats.Inserts += int64(len(batch))
	w.stats.Flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed journal events",
		"count", len(batch),
		"duration", time.Since(start),
	)
}

func (w *Writer) batchInsert(ctx context.Context, events []Event) error {
	batch := &pgx.Batch{}
	for _, ev := range events {
		batch.Queue(w.insert,
			w.instance, ev.At, string(ev.Kind),
			nullable(ev.ConsumerID), nullable(ev.From), nullable(ev.To), nullable(ev.Detail),
		)
	}

	results := w.db.SendBatch(ctx, batch)
	for range events {
		if _, err := results.Exec(); err != nil {
			results.Close()
			return err
		}
	}
	return results.Close()
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
