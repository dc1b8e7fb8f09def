package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Submission is one journal line: what happened to a submitted photo.
type Submission struct {
	ID        uuid.UUID `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Source    string    `json:"source"`
	Status    string    `json:"status"`
	ErrorKind string    `json:"error_kind,omitempty"`
	ImageHash string    `json:"image_hash,omitempty"`
	FileName  string    `json:"file_name,omitempty"`
	Link      string    `json:"link,omitempty"`
	RowIndex  int       `json:"row_index,omitempty"`
	Note      string    `json:"note,omitempty"`
}

type SubmissionRepo struct{ DB *sql.DB }

func NewSubmissionRepo(db *sql.DB) *SubmissionRepo { return &SubmissionRepo{DB: db} }

// Insert writes s, filling ID and CreatedAt when unset.
func (r *SubmissionRepo) Insert(ctx context.Context, s *Submission) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	const q = `
insert into submissions (
  id, created_at, source, status, error_kind, image_hash, file_name, link, row_index, note
) values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`
	_, err := r.DB.ExecContext(ctx, q,
		s.ID, s.CreatedAt, s.Source, s.Status, s.ErrorKind,
		s.ImageHash, s.FileName, s.Link, s.RowIndex, s.Note,
	)
	if err != nil {
		return fmt.Errorf("insert submission: %w", err)
	}
	return nil
}

// Recent returns the latest submissions, newest first.
func (r *SubmissionRepo) Recent(ctx context.Context, limit int) ([]Submission, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	const q = `
select id, created_at, source, status, error_kind, image_hash, file_name, link, row_index, note
from submissions
order by created_at desc
limit $1`
	rows, err := r.DB.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	defer rows.Close()

	out := make([]Submission, 0, limit)
	for rows.Next() {
		var s Submission
		if err := rows.Scan(&s.ID, &s.CreatedAt, &s.Source, &s.Status, &s.ErrorKind,
			&s.ImageHash, &s.FileName, &s.Link, &s.RowIndex, &s.Note); err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate submissions: %w", err)
	}
	return out, nil
}
