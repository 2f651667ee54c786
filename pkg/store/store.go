package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"safestep/pkg/db"
	"safestep/pkg/model"
)

// StateStore handles persistent application state.
type StateStore interface {
	GetState(ctx context.Context, key string) (string, bool)
	SetState(ctx context.Context, key, val string) error
	DeleteState(ctx context.Context, key string) error
}

// WalkStore records walk history.
type WalkStore interface {
	SaveWalk(ctx context.Context, w *model.WalkRecord) error
	FinishWalk(ctx context.Context, token string, endedAt time.Time, realized int, outcome model.WalkOutcome) error
	GetWalk(ctx context.Context, token string) (*model.WalkRecord, error)
	RecentWalks(ctx context.Context, limit int) ([]*model.WalkRecord, error)
}

// Store composes all sub-interfaces.
// Consumers should depend on specific sub-interfaces when possible.
type Store interface {
	StateStore
	WalkStore
}

// Persistent state keys.
const (
	KeyVolume    = "audio_volume"
	KeyLastStyle = "last_style"
)

// SQLiteStore implements Store.
type SQLiteStore struct {
	db *db.DB
}

// NewSQLiteStore creates a new store.
func NewSQLiteStore(d *db.DB) *SQLiteStore {
	return &SQLiteStore{db: d}
}

// --- State ---

func (s *SQLiteStore) GetState(ctx context.Context, key string) (string, bool) {
	var val string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM persistent_state WHERE key = ?", key).Scan(&val)
	if err != nil {
		return "", false
	}
	return val, true
}

func (s *SQLiteStore) SetState(ctx context.Context, key, val string) error {
	query := `INSERT OR REPLACE INTO persistent_state (key, value, created_at) VALUES (?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query, key, val, time.Now().UTC())
	return err
}

func (s *SQLiteStore) DeleteState(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM persistent_state WHERE key = ?", key)
	return err
}

// --- Walks ---

func (s *SQLiteStore) SaveWalk(ctx context.Context, w *model.WalkRecord) error {
	plan, err := json.Marshal(w.Plan)
	if err != nil {
		return fmt.Errorf("marshal plan: %w", err)
	}
	outcome := w.Outcome
	if outcome == "" {
		outcome = model.OutcomeActive
	}
	_, err = s.db.ExecContext(ctx, `INSERT OR REPLACE INTO walks
		(token, origin, destination, style, voice, distance_m, duration_s, total_segments, plan, started_at, segments_realized, outcome)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		w.Token, w.Origin, w.Destination, string(w.Style), w.Voice, w.DistanceMeters, w.DurationSeconds,
		w.TotalSegments, string(plan), w.StartedAt.UTC(), w.SegmentsRealized, string(outcome))
	return err
}

func (s *SQLiteStore) FinishWalk(ctx context.Context, token string, endedAt time.Time, realized int, outcome model.WalkOutcome) error {
	res, err := s.db.ExecContext(ctx, `UPDATE walks SET ended_at = ?, segments_realized = ?, outcome = ? WHERE token = ?`,
		endedAt.UTC(), realized, string(outcome), token)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("walk %s: %w", token, sql.ErrNoRows)
	}
	return nil
}

const walkColumns = `token, origin, destination, style, voice, distance_m, duration_s, total_segments, plan, started_at, ended_at, segments_realized, outcome`

func (s *SQLiteStore) GetWalk(ctx context.Context, token string) (*model.WalkRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+walkColumns+` FROM walks WHERE token = ?`, token)
	w, err := scanWalk(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return w, err
}

func (s *SQLiteStore) RecentWalks(ctx context.Context, limit int) ([]*model.WalkRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+walkColumns+` FROM walks ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.WalkRecord
	for rows.Next() {
		w, err := scanWalk(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanWalk(sc scanner) (*model.WalkRecord, error) {
	var (
		w       model.WalkRecord
		style   string
		plan    sql.NullString
		ended   sql.NullTime
		outcome sql.NullString
	)
	if err := sc.Scan(&w.Token, &w.Origin, &w.Destination, &style, &w.Voice, &w.DistanceMeters, &w.DurationSeconds,
		&w.TotalSegments, &plan, &w.StartedAt, &ended, &w.SegmentsRealized, &outcome); err != nil {
		return nil, err
	}
	w.Style = model.GuardianStyle(style)
	w.Outcome = model.WalkOutcome(outcome.String)
	if ended.Valid {
		t := ended.Time
		w.EndedAt = &t
	}
	if plan.Valid && plan.String != "" {
		if err := json.Unmarshal([]byte(plan.String), &w.Plan); err != nil {
			return nil, fmt.Errorf("decode plan of %s: %w", w.Token, err)
		}
	}
	return &w, nil
}
