package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lexiqai/convo-coach/internal/transcript"
)

const ddlAnalysisRecords = `
CREATE TABLE IF NOT EXISTS analysis_records (
    session_id       TEXT         PRIMARY KEY,
    user_id          TEXT         NOT NULL DEFAULT '',
    title            TEXT         NOT NULL DEFAULT '',
    audio_ref        TEXT         NOT NULL DEFAULT '',
    duration_seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
    talk_ratio       TEXT         NOT NULL DEFAULT '',
    engagement_score INTEGER      NOT NULL DEFAULT 0,
    record           JSONB        NOT NULL,
    created_at       TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_analysis_records_user_created
    ON analysis_records (user_id, created_at DESC);
`

const ddlAnalysisSegments = `
CREATE TABLE IF NOT EXISTS analysis_segments (
    session_id  TEXT     NOT NULL REFERENCES analysis_records (session_id) ON DELETE CASCADE,
    position    INTEGER  NOT NULL,
    speaker     TEXT     NOT NULL,
    text        TEXT     NOT NULL,
    emotion     TEXT     NOT NULL DEFAULT '',
    sentiment   TEXT     NOT NULL DEFAULT '',
    start_sec   DOUBLE PRECISION NOT NULL,
    end_sec     DOUBLE PRECISION NOT NULL,
    PRIMARY KEY (session_id, position)
);
`

// Migrate creates the record tables if they do not exist
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range []string{ddlAnalysisRecords, ddlAnalysisSegments} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres store: migrate: %w", err)
		}
	}
	return nil
}

// PostgresStore writes analysis records to PostgreSQL
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to dsn, verifies the connection and runs Migrate
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

// Insert implements RecordStore. The record row and its segment rows are
// written in one transaction; a repeated insert for the same session
// replaces both and keeps the original created_at.
func (s *PostgresStore) Insert(ctx context.Context, rec transcript.AnalysisRecord) (time.Time, error) {
	doc, err := json.Marshal(rec)
	if err != nil {
		return time.Time{}, fmt.Errorf("postgres store: encode record: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return time.Time{}, fmt.Errorf("postgres store: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const q = `
		INSERT INTO analysis_records
		    (session_id, user_id, title, audio_ref, duration_seconds, talk_ratio, engagement_score, record)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (session_id) DO UPDATE SET
		    user_id = EXCLUDED.user_id,
		    title = EXCLUDED.title,
		    audio_ref = EXCLUDED.audio_ref,
		    duration_seconds = EXCLUDED.duration_seconds,
		    talk_ratio = EXCLUDED.talk_ratio,
		    engagement_score = EXCLUDED.engagement_score,
		    record = EXCLUDED.record
		RETURNING created_at`

	var createdAt time.Time
	err = tx.QueryRow(ctx, q,
		rec.SessionID, rec.UserID, rec.Title, rec.AudioRef, rec.Duration,
		rec.Metrics.TalkRatio, rec.Metrics.EngagementScore, doc,
	).Scan(&createdAt)
	if err != nil {
		return time.Time{}, fmt.Errorf("postgres store: insert record: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM analysis_segments WHERE session_id = $1`, rec.SessionID); err != nil {
		return time.Time{}, fmt.Errorf("postgres store: clear segments: %w", err)
	}

	rows := make([][]any, len(rec.Segments))
	for i, seg := range rec.Segments {
		rows[i] = []any{rec.SessionID, i, seg.Speaker, seg.Text, string(seg.Emotion), string(seg.Sentiment), seg.Start, seg.End}
	}
	if len(rows) > 0 {
		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"analysis_segments"},
			[]string{"session_id", "position", "speaker", "text", "emotion", "sentiment", "start_sec", "end_sec"},
			pgx.CopyFromRows(rows),
		)
		if err != nil {
			return time.Time{}, fmt.Errorf("postgres store: insert segments: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return time.Time{}, fmt.Errorf("postgres store: commit: %w", err)
	}
	return createdAt.UTC(), nil
}

// Get implements RecordStore
func (s *PostgresStore) Get(ctx context.Context, sessionID string) (transcript.AnalysisRecord, error) {
	const q = `SELECT record, audio_ref, created_at FROM analysis_records WHERE session_id = $1`
	rec, err := scanRecord(s.pool.QueryRow(ctx, q, sessionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return transcript.AnalysisRecord{}, ErrNotFound
	}
	if err != nil {
		return transcript.AnalysisRecord{}, fmt.Errorf("postgres store: get record: %w", err)
	}
	return rec, nil
}

// List implements RecordStore, newest first
func (s *PostgresStore) List(ctx context.Context, userID string, limit int) ([]transcript.AnalysisRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = `
		SELECT record, audio_ref, created_at FROM analysis_records
		WHERE ($1 = '' OR user_id = $1)
		ORDER BY created_at DESC, session_id
		LIMIT $2`
	rows, err := s.pool.Query(ctx, q, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list records: %w", err)
	}
	defer rows.Close()

	var out []transcript.AnalysisRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres store: scan record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres store: list records: %w", err)
	}
	return out, nil
}

func scanRecord(row pgx.Row) (transcript.AnalysisRecord, error) {
	var (
		doc       []byte
		audioRef  string
		createdAt time.Time
		rec       transcript.AnalysisRecord
	)
	if err := row.Scan(&doc, &audioRef, &createdAt); err != nil {
		return rec, err
	}
	if err := json.Unmarshal(doc, &rec); err != nil {
		return rec, fmt.Errorf("decode record: %w", err)
	}
	rec.AudioRef = audioRef
	rec.CreatedAt = createdAt.UTC()
	return rec, nil
}

// Ping checks the database connection
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool
func (s *PostgresStore) Close() {
	s.pool.Close()
}
