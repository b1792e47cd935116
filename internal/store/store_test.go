package store

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/constellation/internal/geometry"
	"github.com/xkilldash9x/constellation/internal/protocol"
)

// flexibleSQLMatcher creates a regex that is insensitive to whitespace for more robust SQL mock testing.
func flexibleSQLMatcher(sql string) string {
	trimmed := strings.TrimSpace(sql)
	return regexp.MustCompile(`\s+`).ReplaceAllString(regexp.QuoteMeta(trimmed), `\s+`)
}

func sampleRound() Round {
	r := NewRound(
		protocol.TopLevelBrowsingContextID(3),
		protocol.BrowsingContextID(3),
		geometry.WindowSizeData{InitialViewport: geometry.CSSSize{Width: 800, Height: 600}, DevicePixelRatio: 1},
		protocol.SizeTypeResize,
	)
	r.Live, r.Inactive, r.Pending = 1, 2, 0
	return r
}

func TestNewStore(t *testing.T) {
	t.Run("should return error if ping fails", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer mockPool.Close()

		pingErr := errors.New("database unavailable")
		mockPool.ExpectPing().WillReturnError(pingErr)

		_, err = New(context.Background(), mockPool, zap.NewNop())
		require.Error(t, err)
		assert.ErrorIs(t, err, pingErr, "Error from ping should be propagated")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestEnsureSchema(t *testing.T) {
	mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer mockPool.Close()

	mockPool.ExpectPing()
	s, err := New(context.Background(), mockPool, zap.NewNop())
	require.NoError(t, err)

	mockPool.ExpectExec(flexibleSQLMatcher(sqlCreateRounds)).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	require.NoError(t, s.EnsureSchema(context.Background()))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestInsertRound(t *testing.T) {
	ctx := context.Background()

	t.Run("should insert every column of the round", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer mockPool.Close()

		mockPool.ExpectPing()
		s, err := New(ctx, mockPool, zap.NewNop())
		require.NoError(t, err)

		r := sampleRound()
		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertRound)).
			WithArgs(r.ID, int64(3), int64(3), "resize", float32(800), float32(600), float32(1), 1, 2, 0, pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		require.NoError(t, s.InsertRound(ctx, r))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should wrap database errors", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer mockPool.Close()

		mockPool.ExpectPing()
		s, err := New(ctx, mockPool, zap.NewNop())
		require.NoError(t, err)

		dbErr := errors.New("connection reset")
		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertRound)).WillReturnError(dbErr)

		err = s.InsertRound(ctx, sampleRound())
		require.Error(t, err)
		assert.ErrorIs(t, err, dbErr)
		assert.Contains(t, err.Error(), "failed to insert round")
	})
}

type recordingWriter struct {
	mu     sync.Mutex
	rounds []Round
	err    error
	wrote  chan struct{}
}

func newRecordingWriter() *recordingWriter {
	return &recordingWriter{wrote: make(chan struct{}, 16)}
}

func (w *recordingWriter) InsertRound(_ context.Context, r Round) error {
	w.mu.Lock()
	w.rounds = append(w.rounds, r)
	w.mu.Unlock()
	w.wrote <- struct{}{}
	return w.err
}

func (w *recordingWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.rounds)
}

func TestJournal_WritesRecordedRounds(t *testing.T) {
	defer goleak.VerifyNone(t)

	w := newRecordingWriter()
	j := NewJournal(w, zap.NewNop(), 4)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- j.Run(ctx) }()

	r := sampleRound()
	j.Record(r)

	select {
	case <-w.wrote:
	case <-time.After(2 * time.Second):
		t.Fatal("round was not written")
	}
	cancel()
	require.NoError(t, <-done)

	w.mu.Lock()
	defer w.mu.Unlock()
	require.Len(t, w.rounds, 1)
	assert.Equal(t, r.ID, w.rounds[0].ID)
}

func TestJournal_DropsWhenFull(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	j := NewJournal(newRecordingWriter(), zap.New(core), 1)

	j.Record(sampleRound())
	j.Record(sampleRound())

	assert.Equal(t, int64(1), j.Dropped())
	assert.Equal(t, 1, logs.FilterMessage("Journal buffer full, dropping round.").Len())
}

func TestJournal_FlushesOnShutdown(t *testing.T) {
	w := newRecordingWriter()
	j := NewJournal(w, zap.NewNop(), 4)
	j.Record(sampleRound())
	j.Record(sampleRound())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, j.Run(ctx))

	assert.Equal(t, 2, w.count())
}

func TestJournal_LogsWriteFailures(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	w := newRecordingWriter()
	w.err = errors.New("disk full")
	j := NewJournal(w, zap.New(core), 1)
	j.Record(sampleRound())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, j.Run(ctx))

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "Failed to persist propagation round.", logs.All()[0].Message)
}
