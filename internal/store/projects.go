package store

import (
	"context"
	"database/sql"
	"errors"
)

// Project identifies a registered content source. Immutable once
// created; deletion is an administrative action outside this store.
type Project struct {
	ID       int64
	FolderID string
	Name     string
	Metadata map[string]string
}

// CreateProject registers a project and returns its assigned id.
func (s *Store) CreateProject(ctx context.Context, folderID, name string, meta map[string]string) (int64, error) {
	blob, err := encodeMeta(meta)
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO projects(folder_id, name, metadata) VALUES(?,?,?)`,
		folderID, name, blob,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *Store) GetProject(ctx context.Context, id int64) (Project, error) {
	var (
		p    Project
		blob sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, folder_id, name, metadata FROM projects WHERE id = ?`, id,
	).Scan(&p.ID, &p.FolderID, &p.Name, &blob)
	if errors.Is(err, sql.ErrNoRows) {
		return Project{}, ErrNotFound
	}
	if err != nil {
		return Project{}, err
	}
	p.Metadata = decodeMeta(blob)
	return p, nil
}

// ListProjects returns every registered project ordered by id.
// Used by bulk dispatch and the dashboard.
func (s *Store) ListProjects(ctx context.Context) ([]Project, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, folder_id, name, metadata FROM projects ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Project
	for rows.Next() {
		var (
			p    Project
			blob sql.NullString
		)
		if err := rows.Scan(&p.ID, &p.FolderID, &p.Name, &blob); err != nil {
			return nil, err
		}
		p.Metadata = decodeMeta(blob)
		out = append(out, p)
	}
	return out, rows.Err()
}
