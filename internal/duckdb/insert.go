package duckdb

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/tinytelemetry/logbook/internal/logger"
	"github.com/tinytelemetry/logbook/internal/model"
)

const (
	// DefaultFlushQueueSize is the number of batches that can be queued for async flushing.
	DefaultFlushQueueSize = 64
	// DefaultBatchSize is the number of entries that triggers an immediate flush.
	DefaultBatchSize = 2000
	// DefaultFlushInterval is how often pending entries are flushed.
	DefaultFlushInterval = 100 * time.Millisecond
)

// EntryJournal durably records entries before they are batched and learns
// which sequence ranges were stored.
type EntryJournal interface {
	Append(entry model.LogEntry) (uint64, error)
	Commit(first, last uint64) error
}

// pendingBatch is a run of entries with the journal sequence range they
// occupy. first and last are zero without a journal.
type pendingBatch struct {
	entries     []model.LogEntry
	first, last uint64
}

// InsertBuffer batches log entries and flushes them to a LogWriter
// asynchronously. Add never blocks on database writes; batches go to a
// flush goroutine. Failed batches are logged and dropped; with a journal
// they stay uncommitted and are replayed on the next start.
type InsertBuffer struct {
	writer        model.LogWriter
	journal       EntryJournal
	mu            sync.Mutex
	pending       pendingBatch
	stopped       bool // guarded by mu
	flushChan     chan pendingBatch
	closeMu       sync.RWMutex // held for writing while flushChan closes
	closed        bool         // guarded by closeMu
	maxBatch      int
	flushInterval time.Duration
	flushTimeout  time.Duration
	done          chan struct{}
	stopOnce      sync.Once
	wg            sync.WaitGroup
	tickWg        sync.WaitGroup // separate WaitGroup for tickLoop
	log           zerolog.Logger

	flushed atomic.Int64
	dropped atomic.Int64

	// backpressureCount tracks inline flushes for throttled logging.
	backpressureCount atomic.Int64
	lastBPLog         atomic.Int64 // unix timestamp of last backpressure log
}

// InsertBufferConfig holds tunable parameters for the insert buffer.
type InsertBufferConfig struct {
	BatchSize      int
	FlushInterval  time.Duration
	FlushQueueSize int
	// FlushTimeout bounds each AddBatch call.
	FlushTimeout time.Duration
	// Journal, when set, receives every entry before it is buffered.
	Journal EntryJournal
}

// NewInsertBuffer creates a new insert buffer that flushes to writer.
func NewInsertBuffer(writer model.LogWriter, conf ...InsertBufferConfig) *InsertBuffer {
	batchSize := DefaultBatchSize
	flushInterval := DefaultFlushInterval
	flushQueueSize := DefaultFlushQueueSize
	flushTimeout := model.DefaultQueryTimeout
	var journal EntryJournal
	if len(conf) > 0 {
		journal = conf[0].Journal
		if conf[0].BatchSize > 0 {
			batchSize = conf[0].BatchSize
		}
		if conf[0].FlushInterval > 0 {
			flushInterval = conf[0].FlushInterval
		}
		if conf[0].FlushQueueSize > 0 {
			flushQueueSize = conf[0].FlushQueueSize
		}
		if conf[0].FlushTimeout > 0 {
			flushTimeout = conf[0].FlushTimeout
		}
	}

	b := &InsertBuffer{
		writer:        writer,
		journal:       journal,
		pending:       pendingBatch{entries: make([]model.LogEntry, 0, batchSize)},
		flushChan:     make(chan pendingBatch, flushQueueSize),
		maxBatch:      batchSize,
		flushInterval: flushInterval,
		flushTimeout:  flushTimeout,
		done:          make(chan struct{}),
		log:           logger.Component("insert-buffer"),
	}

	b.wg.Add(1)
	go b.flushWorker()

	b.wg.Add(1)
	b.tickWg.Add(1)
	go b.tickLoop()

	return b
}

// tickLoop periodically drains the pending buffer.
func (b *InsertBuffer) tickLoop() {
	defer b.wg.Done()
	defer b.tickWg.Done()
	ticker := time.NewTicker(b.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.drainPending()
		case <-b.done:
			b.drainPending() // final drain
			return
		}
	}
}

// logBackpressure emits a throttled warning (at most once per 10 seconds)
// when the flush channel is full and an inline flush is triggered.
func (b *InsertBuffer) logBackpressure() {
	count := b.backpressureCount.Add(1)
	now := time.Now().Unix()
	last := b.lastBPLog.Load()
	if now-last >= 10 && b.lastBPLog.CompareAndSwap(last, now) {
		b.log.Warn().Int64("inline_flushes", count).Msg("backpressure: flush channel full, store falling behind")
	}
}

// drainPending moves pending entries to the flush channel.
func (b *InsertBuffer) drainPending() {
	b.mu.Lock()
	if len(b.pending.entries) == 0 {
		b.mu.Unlock()
		return
	}
	batch := b.takePendingLocked()
	b.mu.Unlock()

	b.enqueue(batch)
}

// takePendingLocked swaps out the pending batch. b.mu must be held.
func (b *InsertBuffer) takePendingLocked() pendingBatch {
	batch := b.pending
	b.pending = pendingBatch{entries: make([]model.LogEntry, 0, b.maxBatch)}
	return batch
}

// enqueue hands batch to the flush worker, or flushes inline when the
// queue is full.
func (b *InsertBuffer) enqueue(batch pendingBatch) {
	b.closeMu.RLock()
	defer b.closeMu.RUnlock()
	if b.closed {
		b.flushBatch(batch)
		return
	}
	select {
	case b.flushChan <- batch:
	default:
		b.logBackpressure()
		b.flushBatch(batch)
	}
}

// flushWorker processes batches from the flush channel.
func (b *InsertBuffer) flushWorker() {
	defer b.wg.Done()
	for batch := range b.flushChan {
		b.flushBatch(batch)
	}
}

// Add queues an entry for batch insertion. Entries added after Stop are
// dropped.
func (b *InsertBuffer) Add(entry model.LogEntry) {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		b.dropped.Add(1)
		return
	}
	// Appending under mu keeps each batch a contiguous sequence range.
	if b.journal != nil {
		seq, err := b.journal.Append(entry)
		if err != nil {
			b.log.Error().Err(err).Msg("journal append failed, entry is not durable")
		} else {
			if b.pending.first == 0 {
				b.pending.first = seq
			}
			b.pending.last = seq
		}
	}
	b.pending.entries = append(b.pending.entries, entry)
	var batch pendingBatch
	full := len(b.pending.entries) >= b.maxBatch
	if full {
		batch = b.takePendingLocked()
	}
	b.mu.Unlock()

	if full {
		b.enqueue(batch)
	}
}

// Stop flushes remaining entries and waits for all writes to complete.
// It is safe to call more than once.
func (b *InsertBuffer) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
		// tickLoop's final drain must reach flushChan before it closes.
		b.tickWg.Wait()
		b.mu.Lock()
		batch := b.pending
		b.pending = pendingBatch{}
		b.stopped = true
		b.mu.Unlock()

		b.closeMu.Lock()
		if len(batch.entries) > 0 {
			b.flushChan <- batch
		}
		b.closed = true
		close(b.flushChan)
		b.closeMu.Unlock()
		b.wg.Wait()
		b.log.Debug().Int64("flushed", b.flushed.Load()).Int64("dropped", b.dropped.Load()).Msg("insert buffer stopped")
	})
}

// Flushed returns the number of entries written successfully.
func (b *InsertBuffer) Flushed() int64 { return b.flushed.Load() }

// Dropped returns the number of entries lost to failed batches or to Add
// after Stop.
func (b *InsertBuffer) Dropped() int64 { return b.dropped.Load() }

func (b *InsertBuffer) flushBatch(batch pendingBatch) {
	if len(batch.entries) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), b.flushTimeout)
	defer cancel()

	if err := b.writer.AddBatch(ctx, batch.entries); err != nil {
		b.dropped.Add(int64(len(batch.entries)))
		b.log.Error().Err(err).Int("entries", len(batch.entries)).Msg("flush failed, batch dropped")
		return
	}
	b.flushed.Add(int64(len(batch.entries)))

	if b.journal != nil && batch.last > 0 {
		if err := b.journal.Commit(batch.first, batch.last); err != nil {
			b.log.Error().Err(err).Uint64("first_seq", batch.first).Uint64("last_seq", batch.last).Msg("journal commit failed")
		}
	}
}
