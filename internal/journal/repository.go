// Package journal records engine lifecycle events in SQLite so the history
// of starts, stops and crashes survives restarts of the supervisor.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// List limits.
const (
	defaultLimit = 50
	maxLimit     = 200
)

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// ErrInvalidEntry is returned by Record for an entry without a kind.
var ErrInvalidEntry = errors.New("journal: entry has no kind")

// Entry is a single journal row.
type Entry struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Profile   string    `json:"profile,omitempty"`
	PID       int       `json:"pid,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Filter controls which entries List returns.
type Filter struct {
	Kind  string // optional: only entries of this kind
	Limit int    // default 50, clamped to 1..200
}

// Repository stores and lists journal entries.
type Repository interface {
	Record(ctx context.Context, e *Entry) error
	List(ctx context.Context, filter Filter) ([]Entry, error)
}

// SQLiteRepository is the engine_events table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a journal over an open database whose schema
// has been migrated.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Record inserts e. The ID and CreatedAt are generated if empty.
func (r *SQLiteRepository) Record(ctx context.Context, e *Entry) error {
	if e.Kind == "" {
		return ErrInvalidEntry
	}
	if e.ID == "" {
		e.ID = "evt-" + uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	e.CreatedAt = e.CreatedAt.UTC()

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO engine_events (id, kind, profile, pid, detail, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.Kind, e.Profile,
		nullableInt(e.PID), nullableString(e.Detail),
		e.CreatedAt.Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting journal entry: %w", err)
	}
	return nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableInt(n int) any {
	if n == 0 {
		return nil
	}
	return n
}

// List returns entries matching filter, newest first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) ([]Entry, error) {
	limit := clampLimit(filter.Limit)

	var conditions []string
	var args []any
	if filter.Kind != "" {
		conditions = append(conditions, "kind = ?")
		args = append(args, filter.Kind)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	query := fmt.Sprintf( //nolint:gosec // WHERE built from parameterised conditions, not user input
		"SELECT id, kind, profile, pid, detail, created_at FROM engine_events %s ORDER BY created_at DESC, rowid DESC LIMIT ?",
		where,
	)
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying journal: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var (
			e         Entry
			pid       sql.NullInt64
			detail    sql.NullString
			createdAt string
		)
		if err := rows.Scan(&e.ID, &e.Kind, &e.Profile, &pid, &detail, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning journal entry: %w", err)
		}
		e.PID = int(pid.Int64)
		e.Detail = detail.String

		t, err := time.Parse(timeLayout, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing journal timestamp %q: %w", createdAt, err)
		}
		e.CreatedAt = t

		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating journal: %w", err)
	}

	return entries, nil
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultLimit
	case limit > maxLimit:
		return maxLimit
	default:
		return limit
	}
}
