package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"castline/internal/status"
)

// Entry is one planned publication. Created when an operator schedules
// a publication; mutated only through metadata merges; never deleted
// (entries are retained for audit).
type Entry struct {
	ID          int64
	ProjectID   int64
	ScheduledAt time.Time
	Metadata    map[string]string
}

// Status reads the entry's lifecycle state from its metadata,
// defaulting to queued when none has ever been recorded.
func (e Entry) Status() status.Status {
	if s, ok := e.Metadata[status.KeyStatus]; ok && s != "" {
		return status.Status(s)
	}
	return status.Queued
}

// StatusRow is the cross-project dashboard projection of an entry.
type StatusRow struct {
	EntryID     int64
	ProjectID   int64
	ScheduledAt time.Time
	Status      status.Status
}

// CreateScheduleEntry persists a planned publication for a project.
// Returns ErrNotFound if the project does not exist.
func (s *Store) CreateScheduleEntry(ctx context.Context, projectID int64, at time.Time, meta map[string]string) (int64, error) {
	if _, err := s.GetProject(ctx, projectID); err != nil {
		return 0, err
	}
	blob, err := encodeMeta(meta)
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO schedules(project_id, scheduled_at, metadata) VALUES(?,?,?)`,
		projectID, at.UTC().Format(timeFormat), blob,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetEntry returns a single schedule entry.
func (s *Store) GetEntry(ctx context.Context, id int64) (Entry, error) {
	var (
		e    Entry
		at   string
		blob sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, scheduled_at, metadata FROM schedules WHERE id = ?`, id,
	).Scan(&e.ID, &e.ProjectID, &at, &blob)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, err
	}
	e.ScheduledAt, err = time.Parse(timeFormat, at)
	if err != nil {
		return Entry{}, err
	}
	e.Metadata = decodeMeta(blob)
	return e, nil
}

// ListScheduleEntries returns the project's entries sorted ascending
// by scheduled time, regardless of insertion order.
func (s *Store) ListScheduleEntries(ctx context.Context, projectID int64) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, project_id, scheduled_at, metadata
		   FROM schedules WHERE project_id = ?
		  ORDER BY scheduled_at, id`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

// ListAllStatuses returns one row per entry across all projects for
// the status dashboard.
func (s *Store) ListAllStatuses(ctx context.Context) ([]StatusRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, project_id, scheduled_at, metadata
		   FROM schedules ORDER BY scheduled_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries, err := scanEntries(rows)
	if err != nil {
		return nil, err
	}
	out := make([]StatusRow, 0, len(entries))
	for _, e := range entries {
		out = append(out, StatusRow{
			EntryID:     e.ID,
			ProjectID:   e.ProjectID,
			ScheduledAt: e.ScheduledAt,
			Status:      e.Status(),
		})
	}
	return out, nil
}

// SetStatus merges the status key into the entry's metadata.
func (s *Store) SetStatus(ctx context.Context, entryID int64, st status.Status) error {
	return s.MergeEntryMeta(ctx, entryID, map[string]string{status.KeyStatus: string(st)})
}

// MergeEntryMeta read-modify-writes keys into the entry's metadata
// blob. Writes to different entries never interfere (the handle pool
// is capped at one connection); concurrent writes to the same entry
// are last-write-wins.
func (s *Store) MergeEntryMeta(ctx context.Context, entryID int64, kv map[string]string) error {
	var blob sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT metadata FROM schedules WHERE id = ?`, entryID,
	).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	meta := decodeMeta(blob)
	if meta == nil {
		meta = make(map[string]string, len(kv))
	}
	for k, v := range kv {
		meta[k] = v
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE schedules SET metadata = ? WHERE id = ?`, string(b), entryID)
	return err
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	var out []Entry
	for rows.Next() {
		var (
			e    Entry
			at   string
			blob sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.ProjectID, &at, &blob); err != nil {
			return nil, err
		}
		t, err := time.Parse(timeFormat, at)
		if err != nil {
			return nil, err
		}
		e.ScheduledAt = t
		e.Metadata = decodeMeta(blob)
		out = append(out, e)
	}
	return out, rows.Err()
}
