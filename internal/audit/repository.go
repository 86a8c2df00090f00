// Package audit records the commands sent to devices for querying
// control history.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Command sources.
const (
	SourceAPI  = "api"
	SourceMQTT = "mqtt"
)

// Command outcomes.
const (
	StatusAccepted = "accepted"
	StatusFailed   = "failed"
)

// createdAtLayout is fixed width so text order matches time order.
const createdAtLayout = "2006-01-02T15:04:05.000000Z07:00"

// Entry is one executed device command.
type Entry struct {
	ID        string         `json:"id"`
	Device    string         `json:"device"`
	Command   string         `json:"command"`
	Source    string         `json:"source"`
	Status    string         `json:"status"`
	Error     string         `json:"error,omitempty"`
	Params    map[string]any `json:"params,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Filter controls which entries to return.
type Filter struct {
	Device string // optional
	Source string // optional: api or mqtt
	Status string // optional: accepted or failed
	Limit  int    // default 50, max 200
	Offset int
}

// ListResult contains a page of entries.
type ListResult struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}

// Repository defines command history operations.
type Repository interface {
	Record(ctx context.Context, e *Entry) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// SQLiteRepository stores entries in the command_audit table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new command history repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Record inserts e. The ID and CreatedAt are generated if empty.
func (r *SQLiteRepository) Record(ctx context.Context, e *Entry) error {
	if e.ID == "" {
		e.ID = "cmd-" + uuid.NewString()[:8]
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	var paramsJSON *string
	if len(e.Params) > 0 {
		b, err := json.Marshal(e.Params)
		if err != nil {
			return fmt.Errorf("marshalling command params: %w", err)
		}
		s := string(b)
		paramsJSON = &s
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO command_audit (id, device, command, source, status, error, params, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Device, e.Command, e.Source, e.Status,
		nullableString(e.Error), paramsJSON,
		e.CreatedAt.UTC().Format(createdAtLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting command audit entry: %w", err)
	}
	return nil
}

// nullableString returns nil for empty strings.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// List returns entries matching the filter, most recent first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	if filter.Limit > 200 { //nolint:mnd // max page size
		filter.Limit = 200
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var conditions []string
	var args []any
	for _, c := range []struct{ column, value string }{
		{"device", filter.Device},
		{"source", filter.Source},
		{"status", filter.Status},
	} {
		if c.value != "" {
			conditions = append(conditions, c.column+" = ?")
			args = append(args, c.value)
		}
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := "SELECT COUNT(*) FROM command_audit " + where //nolint:gosec // WHERE built from fixed columns and ? placeholders
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting command audit entries: %w", err)
	}

	query := "SELECT id, device, command, source, status, error, params, created_at FROM command_audit " + //nolint:gosec // see countQuery
		where + " ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?"
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying command audit entries: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var errText, paramsJSON sql.NullString
		var createdAt string

		if err := rows.Scan(&e.ID, &e.Device, &e.Command, &e.Source, &e.Status,
			&errText, &paramsJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning command audit entry: %w", err)
		}
		e.Error = errText.String
		if paramsJSON.Valid && paramsJSON.String != "" {
			var params map[string]any
			if json.Unmarshal([]byte(paramsJSON.String), &params) == nil {
				e.Params = params
			}
		}
		t, err := time.Parse(createdAtLayout, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing command audit timestamp %q: %w", createdAt, err)
		}
		e.CreatedAt = t

		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating command audit entries: %w", err)
	}

	return &ListResult{
		Entries: entries,
		Total:   total,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	}, nil
}

// PruneBefore deletes entries created before cutoff and returns how many
// were removed.
func (r *SQLiteRepository) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM command_audit WHERE created_at < ?`,
		cutoff.UTC().Format(createdAtLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("pruning command audit entries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("pruning command audit entries: %w", err)
	}
	return n, nil
}
