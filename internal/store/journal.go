package store

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"
)

// RoundWriter is the persistence side of a Journal.
type RoundWriter interface {
	InsertRound(ctx context.Context, r Round) error
}

// Journal buffers rounds and writes them from its own goroutine so the
// coordinator loop never waits on the database.
type Journal struct {
	writer  RoundWriter
	logger  *zap.Logger
	rounds  chan Round
	dropped atomic.Int64
}

// NewJournal creates a journal with room for buffer unwritten rounds.
func NewJournal(writer RoundWriter, logger *zap.Logger, buffer int) *Journal {
	if buffer <= 0 {
		buffer = 1
	}
	return &Journal{
		writer: writer,
		logger: logger.Named("journal"),
		rounds: make(chan Round, buffer),
	}
}

// Record enqueues r. When the buffer is full the round is dropped.
func (j *Journal) Record(r Round) {
	select {
	case j.rounds <- r:
	default:
		n := j.dropped.Add(1)
		j.logger.Warn("Journal buffer full, dropping round.", zap.Stringer("round_id", r.ID), zap.Int64("dropped_total", n))
	}
}

// Dropped reports how many rounds were discarded.
func (j *Journal) Dropped() int64 { return j.dropped.Load() }

// Run writes rounds until ctx is cancelled, then flushes what is buffered.
func (j *Journal) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			j.flush()
			return nil
		case r := <-j.rounds:
			j.write(ctx, r)
		}
	}
}

func (j *Journal) flush() {
	// The parent context is gone; buffered rounds get a fresh one.
	ctx := context.Background()
	for {
		select {
		case r := <-j.rounds:
			j.write(ctx, r)
		default:
			return
		}
	}
}

func (j *Journal) write(ctx context.Context, r Round) {
	if err := j.writer.InsertRound(ctx, r); err != nil {
		j.logger.Error("Failed to persist propagation round.", zap.Error(err))
	}
}

// Nop discards every round.
type Nop struct{}

func (Nop) Record(Round) {}
