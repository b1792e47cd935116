package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/xkilldash9x/constellation/internal/geometry"
	"github.com/xkilldash9x/constellation/internal/protocol"
)

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Round is one resize propagation round as seen by the coordinator.
type Round struct {
	ID               uuid.UUID
	TopLevel         protocol.TopLevelBrowsingContextID
	BrowsingContext  protocol.BrowsingContextID
	SizeType         protocol.SizeType
	Viewport         geometry.CSSSize
	DevicePixelRatio float32
	// Counts of notices dispatched per pipeline class.
	Live     int
	Inactive int
	Pending  int
	At       time.Time
}

// NewRound stamps a round with a fresh id and the current time.
func NewRound(tab protocol.TopLevelBrowsingContextID, bc protocol.BrowsingContextID, data geometry.WindowSizeData, sizeType protocol.SizeType) Round {
	return Round{
		ID:               uuid.New(),
		TopLevel:         tab,
		BrowsingContext:  bc,
		SizeType:         sizeType,
		Viewport:         data.InitialViewport,
		DevicePixelRatio: data.DevicePixelRatio,
		At:               time.Now().UTC(),
	}
}

const sqlCreateRounds = `
        CREATE TABLE IF NOT EXISTS propagation_rounds (
            id UUID PRIMARY KEY,
            top_level BIGINT NOT NULL,
            browsing_context BIGINT NOT NULL,
            size_type TEXT NOT NULL,
            viewport_width REAL NOT NULL,
            viewport_height REAL NOT NULL,
            device_pixel_ratio REAL NOT NULL,
            live INTEGER NOT NULL,
            inactive INTEGER NOT NULL,
            pending INTEGER NOT NULL,
            recorded_at TIMESTAMPTZ NOT NULL
        );
    `

const sqlInsertRound = `
        INSERT INTO propagation_rounds (id, top_level, browsing_context, size_type, viewport_width, viewport_height, device_pixel_ratio, live, inactive, pending, recorded_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
        ON CONFLICT (id) DO NOTHING;
    `

// Store persists propagation rounds in PostgreSQL.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// EnsureSchema creates the rounds table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, sqlCreateRounds); err != nil {
		return fmt.Errorf("failed to create propagation_rounds table: %w", err)
	}
	return nil
}

// InsertRound writes a single round.
func (s *Store) InsertRound(ctx context.Context, r Round) error {
	tag, err := s.pool.Exec(ctx, sqlInsertRound,
		r.ID, int64(r.TopLevel), int64(r.BrowsingContext), r.SizeType.String(),
		r.Viewport.Width, r.Viewport.Height, r.DevicePixelRatio,
		r.Live, r.Inactive, r.Pending,
		r.At.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert round %s: %w", r.ID, err)
	}
	if tag.RowsAffected() == 0 {
		s.log.Debug("Round already recorded.", zap.Stringer("round_id", r.ID))
	}
	return nil
}
