package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"feedpush/internal/identity"
	"feedpush/internal/model"
	"feedpush/migrations"
)

const timeLayout = "2006-01-02T15:04:05Z"

// disableChunk bounds the number of bound parameters in one UPDATE statement.
const disableChunk = 500

// SQLite implements Storage backed by a SQLite database.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db, now: time.Now}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// GetFeedState returns the state stored under kind. A missing row yields an
// uninitialized state with Version 0.
func (s *SQLite) GetFeedState(ctx context.Context, kind model.FeedKind) (model.FeedState, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT status, identity, last_notified_at, checked_at, aux, version
		 FROM feed_state WHERE key = ?`, string(kind),
	)

	st := model.NewFeedState(kind)
	var status, ident, aux string
	var lastNotified, checked sql.NullString
	err := row.Scan(&status, &ident, &lastNotified, &checked, &aux, &st.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return st, nil
	}
	if err != nil {
		return st, fmt.Errorf("scan feed state %s: %w", kind, err)
	}

	st.Status = model.StateStatus(status)
	st.Identity = identity.Parse(ident)
	st.LastNotifiedAt = parseNullTime(lastNotified)
	st.CheckedAt = parseNullTime(checked)
	if aux != "" {
		if err := json.Unmarshal([]byte(aux), &st.Aux); err != nil {
			return st, fmt.Errorf("decode aux for %s: %w", kind, err)
		}
	}
	if st.Aux == nil {
		st.Aux = map[string]time.Time{}
	}
	return st, nil
}

// PutFeedState writes state using its Version as an optimistic lock.
func (s *SQLite) PutFeedState(ctx context.Context, state *model.FeedState) error {
	aux, err := json.Marshal(state.Aux)
	if err != nil {
		return fmt.Errorf("encode aux: %w", err)
	}
	if state.Aux == nil {
		aux = []byte("{}")
	}

	args := []any{
		string(state.Status),
		identity.Join(state.Identity),
		formatNullTime(state.LastNotifiedAt),
		formatNullTime(state.CheckedAt),
		string(aux),
	}

	var res sql.Result
	if state.Version == 0 {
		res, err = s.db.ExecContext(ctx,
			`INSERT INTO feed_state (status, identity, last_notified_at, checked_at, aux, version, key)
			 VALUES (?, ?, ?, ?, ?, 1, ?)
			 ON CONFLICT(key) DO NOTHING`,
			append(args, string(state.Key))...,
		)
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE feed_state
			 SET status = ?, identity = ?, last_notified_at = ?, checked_at = ?, aux = ?, version = version + 1
			 WHERE key = ? AND version = ?`,
			append(args, string(state.Key), state.Version)...,
		)
	}
	if err != nil {
		return fmt.Errorf("write feed state %s: %w", state.Key, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("write feed state %s at version %d: %w", state.Key, state.Version, ErrStateConflict)
	}
	state.Version++
	return nil
}

// ListEnabledTargets returns every enabled push target in registration order.
// Rows whose stored preferences do not decode come back with empty Prefs.
func (s *SQLite) ListEnabledTargets(ctx context.Context) ([]model.PushTarget, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT token, platform, enabled, prefs, created_at, updated_at
		 FROM push_targets WHERE enabled = 1 ORDER BY created_at, token`,
	)
	if err != nil {
		return nil, fmt.Errorf("query targets: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var targets []model.PushTarget
	for rows.Next() {
		t, err := scanTarget(rows)
		if err != nil {
			return nil, err
		}
		targets = append(targets, t)
	}
	return targets, rows.Err()
}

// DisableTargets sets enabled=0 for every token in one transaction and returns
// the number of rows changed.
func (s *SQLite) DisableTargets(ctx context.Context, tokens []string) (int64, error) {
	if len(tokens) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := s.now().UTC().Format(timeLayout)
	var total int64
	for start := 0; start < len(tokens); start += disableChunk {
		end := min(start+disableChunk, len(tokens))
		chunk := tokens[start:end]

		args := make([]any, 0, len(chunk)+1)
		args = append(args, now)
		for _, tok := range chunk {
			args = append(args, tok)
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",")
		res, err := tx.ExecContext(ctx,
			`UPDATE push_targets SET enabled = 0, updated_at = ?
			 WHERE enabled = 1 AND token IN (`+placeholders+`)`,
			args...,
		)
		if err != nil {
			return 0, fmt.Errorf("disable targets: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("rows affected: %w", err)
		}
		total += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return total, nil
}

// UpsertTarget inserts or replaces a push target keyed by token.
func (s *SQLite) UpsertTarget(ctx context.Context, t *model.PushTarget) error {
	if strings.TrimSpace(t.Token) == "" {
		return fmt.Errorf("token is required")
	}
	if _, err := model.ParsePlatform(string(t.Platform)); err != nil {
		return err
	}
	prefs, err := json.Marshal(t.Prefs)
	if err != nil {
		return fmt.Errorf("encode prefs: %w", err)
	}

	now := s.now().UTC().Format(timeLayout)
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO push_targets (token, platform, enabled, prefs, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(token) DO UPDATE SET
		   platform = excluded.platform,
		   enabled = excluded.enabled,
		   prefs = excluded.prefs,
		   updated_at = excluded.updated_at`,
		t.Token, string(t.Platform), boolToInt(t.Enabled), string(prefs), now, now,
	)
	if err != nil {
		return fmt.Errorf("upsert target: %w", err)
	}
	t.UpdatedAt, _ = time.Parse(timeLayout, now)
	if t.CreatedAt.IsZero() {
		t.CreatedAt = t.UpdatedAt
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

type scannable interface {
	Scan(dest ...any) error
}

func scanTarget(row scannable) (model.PushTarget, error) {
	var t model.PushTarget
	var platform, prefs, created, updated string
	var enabled int
	if err := row.Scan(&t.Token, &platform, &enabled, &prefs, &created, &updated); err != nil {
		return t, fmt.Errorf("scan target: %w", err)
	}
	t.Platform = model.Platform(platform)
	t.Enabled = enabled == 1
	t.Prefs, _ = model.ParsePrefs([]byte(prefs))
	t.CreatedAt, _ = time.Parse(timeLayout, created)
	t.UpdatedAt, _ = time.Parse(timeLayout, updated)
	return t, nil
}

func parseNullTime(v sql.NullString) *time.Time {
	if !v.Valid || v.String == "" {
		return nil
	}
	t, err := time.Parse(timeLayout, v.String)
	if err != nil {
		return nil
	}
	return &t
}

func formatNullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(timeLayout)
}
