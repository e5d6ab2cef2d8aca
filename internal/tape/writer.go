package tape

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rickgao/deribit-rpc/internal/metrics"
	"github.com/rickgao/deribit-rpc/internal/notify"
)

const insertNotification = `
	INSERT INTO notifications (received_at, channel, kind, instrument, payload)
	VALUES ($1, $2, $3, $4, $5)
`

// Config holds batch writer settings.
type Config struct {
	BatchSize     int
	FlushInterval time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:     1000,
		FlushInterval: time.Second,
	}
}

// BatchSender is the subset of *pgxpool.Pool the writer needs.
type BatchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Stats tracks writer activity.
type Stats struct {
	Inserts int64
	Flushes int64
	Errors  int64
	Dropped int64
}

type row struct {
	ReceivedAt time.Time
	Channel    string
	Kind       string
	Instrument string
	Payload    []byte
}

// Writer consumes notifications from a buffer and writes them to the
// notifications table.
type Writer struct {
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	input *notify.Buffer[notify.Notification]
	db    BatchSender

	batch   []row
	batchMu sync.Mutex
	stats   Stats

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWriter creates a writer draining input into db.
func NewWriter(cfg Config, input *notify.Buffer[notify.Notification], db BatchSender, logger *slog.Logger, m *metrics.Metrics) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	return &Writer{
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		input:   input,
		db:      db,
		batch:   make([]row, 0, cfg.BatchSize),
	}
}

// Attach copies every notification published on bus into the input
// buffer. It never blocks the publisher; a full buffer drops and counts.
func (w *Writer) Attach(bus *notify.Bus) (cancel func()) {
	return bus.ObserveAll(func(n notify.Notification) {
		if !w.input.Push(n) {
			w.batchMu.Lock()
			w.stats.Dropped++
			w.batchMu.Unlock()
		}
	})
}

// Start begins consuming notifications and writing to the database.
func (w *Writer) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(2)
	go w.consumeLoop()
	go w.flushLoop()

	w.logger.Info("tape writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop shuts the writer down and flushes what is left in the buffer.
func (w *Writer) Stop(ctx context.Context) error {
	w.logger.Info("stopping tape writer")

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
		w.logger.Warn("tape writer stop timed out")
		return ctx.Err()
	}

	// Final flush on the caller's context; the writer's own is cancelled.
	for _, n := range w.input.Drain(0) {
		w.add(n)
	}
	err := w.flush(ctx)

	w.logger.Info("tape writer stopped")
	return err
}

// Stats returns current counters.
func (w *Writer) Stats() Stats {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.stats
}

// consumeLoop moves notifications from the buffer into the batch.
func (w *Writer) consumeLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.input.Ready():
		}

		for {
			items := w.input.Drain(w.cfg.BatchSize)
			if len(items) == 0 {
				break
			}
			for _, n := range items {
				if w.add(n) {
					w.flush(w.ctx)
				}
			}
		}
	}
}

// flushLoop periodically flushes partial batches.
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

// add appends n to the batch and reports whether the batch is full.
func (w *Writer) add(n notify.Notification) bool {
	r := transform(n)

	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	w.batch = append(w.batch, r)
	return len(w.batch) >= w.cfg.BatchSize
}

func transform(n notify.Notification) row {
	kind := n.Kind
	if kind == "" {
		kind = notify.KindOf(n.Channel)
	}
	payload := []byte(n.Data)
	if !json.Valid(payload) {
		payload = []byte("null")
	}
	return row{
		ReceivedAt: n.ReceivedAt.UTC(),
		Channel:    n.Channel,
		Kind:       string(kind),
		Instrument: notify.Instrument(n.Channel),
		Payload:    payload,
	}
}

// flush writes the current batch to the database.
func (w *Writer) flush(ctx context.Context) error {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return nil
	}
	batch := w.batch
	w.batch = make([]row, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()
	err := w.batchInsert(ctx, batch)
	w.metrics.TapeBatch(len(batch), err)

	w.batchMu.Lock()
	if err != nil {
		w.stats.Errors++
	} else {
		w.stats.Inserts += int64(len(batch))
		w.stats.Flushes++
	}
	w.batchMu.Unlock()

	if err != nil {
		w.logger.Error("batch insert failed", "error", err, "count", len(batch))
		return err
	}
	w.logger.Debug("flushed notifications",
		"count", len(batch),
		"duration", time.Since(start),
	)
	return nil
}

func (w *Writer) batchInsert(ctx context.Context, rows []row) error {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(insertNotification, r.ReceivedAt, r.Channel, r.Kind, r.Instrument, r.Payload)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for i := range rows {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("insert notification %d of %d: %w", i+1, len(rows), err)
		}
	}
	return nil
}
