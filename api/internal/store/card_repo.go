package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"card-ledger/api/internal/card"
)

// CardRepo caches extracted records by (image_hash, model).
type CardRepo struct {
	DB *sql.DB
	// MaxAge makes older entries count as missing. Zero keeps them forever.
	MaxAge time.Duration
}

func NewCardRepo(db *sql.DB, maxAge time.Duration) *CardRepo {
	return &CardRepo{DB: db, MaxAge: maxAge}
}

// Find returns the cached record. Missing, stale and unreadable entries all
// report ok=false without an error.
func (r *CardRepo) Find(ctx context.Context, imageHash, model string) (card.Record, bool, error) {
	const q = `select record_json, created_at
	           from card_extractions
	           where image_hash=$1 and model=$2`
	var (
		js []byte
		ts time.Time
	)
	if err := r.DB.QueryRowContext(ctx, q, imageHash, model).Scan(&js, &ts); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return card.Record{}, false, nil
		}
		return card.Record{}, false, fmt.Errorf("find extraction: %w", err)
	}
	if r.MaxAge > 0 && time.Since(ts) > r.MaxAge {
		return card.Record{}, false, nil
	}
	rec, err := card.Parse(js)
	if err != nil {
		return card.Record{}, false, nil
	}
	return rec, true, nil
}

// Save stores rec, replacing any previous entry for the key.
func (r *CardRepo) Save(ctx context.Context, imageHash, model string, rec card.Record) error {
	js, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	const q = `
insert into card_extractions(image_hash, model, record_json)
values ($1,$2,$3)
on conflict (image_hash, model)
do update set record_json=excluded.record_json, created_at=now()`
	if _, err := r.DB.ExecContext(ctx, q, imageHash, model, js); err != nil {
		return fmt.Errorf("save extraction: %w", err)
	}
	return nil
}

// PurgeOlderThan deletes cache entries older than olderThan.
func (r *CardRepo) PurgeOlderThan(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, errors.New("olderThan must be > 0")
	}
	cutoff := time.Now().Add(-olderThan)
	res, err := r.DB.ExecContext(ctx, `delete from card_extractions where created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge extractions: %w", err)
	}
	aff, _ := res.RowsAffected()
	return aff, nil
}
