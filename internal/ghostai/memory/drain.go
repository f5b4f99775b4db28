package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// minDrainTurns is the smallest hot tier worth a shutdown summary.
const minDrainTurns = 2

// Drainer flushes every conversation's hot tier into a summary record before
// the process exits. It is best-effort: each conversation gets one attempt
// bounded by a per-call timeout, and failures are logged without affecting
// the other conversations. Turns that fail to drain stay in the turn store.
type Drainer struct {
	buffer      *Buffer
	compactor   *Compactor
	summaries   SummaryLog
	summariser  Summariser
	timeout     time.Duration
	concurrency int
	observer    Observer
	logger      *slog.Logger
	now         func() time.Time
}

// DrainReport summarises one Drain run.
type DrainReport struct {
	Conversations int
	Summarised    int
	Skipped       int
	Failed        int
}

// NewDrainer creates a Drainer. timeout bounds each summarisation call
// (default 30s); concurrency bounds parallel conversations (default 4).
func NewDrainer(buffer *Buffer, compactor *Compactor, summaries SummaryLog, summariser Summariser, timeout time.Duration, concurrency int, observer Observer, logger *slog.Logger) *Drainer {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if concurrency <= 0 {
		concurrency = 4
	}
	if observer == nil {
		observer = NoopObserver{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Drainer{
		buffer:      buffer,
		compactor:   compactor,
		summaries:   summaries,
		summariser:  summariser,
		timeout:     timeout,
		concurrency: concurrency,
		observer:    observer,
		logger:      logger,
		now:         time.Now,
	}
}

// Drain summarises the whole hot tier of every conversation holding at least
// two turns. Unlike compaction there is no head/tail split.
func (d *Drainer) Drain(ctx context.Context) DrainReport {
	// The drain runs once at shutdown and is not cancellable; each call is
	// bounded by the per-call timeout instead.
	ctx = context.WithoutCancel(ctx)
	ids := d.buffer.Conversations()
	report := DrainReport{Conversations: len(ids)}
	if len(ids) == 0 {
		return report
	}

	start := time.Now()
	d.logger.Info("drain: flushing hot tier", "conversations", len(ids))

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(d.concurrency)
	for _, id := range ids {
		g.Go(func() error {
			result := d.drainOne(ctx, id)
			d.observer.DrainFinished(result)
			mu.Lock()
			switch result {
			case ResultOK:
				report.Summarised++
			case ResultSkipped:
				report.Skipped++
			default:
				report.Failed++
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	d.logger.Info("drain: finished",
		"conversations", report.Conversations,
		"summarised", report.Summarised,
		"skipped", report.Skipped,
		"failed", report.Failed,
		"elapsed", time.Since(start).String(),
	)
	return report
}

// drainOne flushes a single conversation under its compaction lock.
func (d *Drainer) drainOne(ctx context.Context, conversationID string) (result string) {
	d.compactor.withLock(conversationID, func() {
		turns := d.buffer.Peek(conversationID)
		if len(turns) < minDrainTurns {
			result = ResultSkipped
			return
		}

		callCtx, cancel := context.WithTimeout(ctx, d.timeout)
		defer cancel()

		summary, err := d.summariser.Summarise(callCtx, turns)
		if err == nil && summary == "" {
			err = ErrEmptySummary
		}
		if err != nil {
			d.logger.Warn("drain: summarisation failed; turns remain only in the turn store",
				"conversation_id", conversationID,
				"turns", len(turns),
				"err", err,
			)
			result = ResultFailed
			return
		}

		rec, err := d.summaries.AppendSummary(callCtx, conversationID, summary, d.now())
		if err != nil {
			d.logger.Error("drain: summary write failed",
				"conversation_id", conversationID,
				"err", err,
			)
			result = ResultFailed
			return
		}

		d.buffer.Remove(conversationID, turnIDs(turns))
		d.logger.Debug("drain: conversation flushed",
			"conversation_id", conversationID,
			"sequence", rec.Sequence,
			"turns", len(turns),
		)
		result = ResultOK
	})
	return result
}
