package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// HitStore persists rate-limit hits in postgres so every server instance
// shares the same windows. Expired rows are pruned as keys are read.
type HitStore struct {
	db *sql.DB
}

func NewHitStore(db *sql.DB) *HitStore {
	return &HitStore{db: db}
}

// Take counts the hits for key inside the window ending at now and records a
// new one when fewer than max exist. A transaction-scoped advisory lock on
// the key serialises concurrent callers across instances.
func (h *HitStore) Take(ctx context.Context, key string, now time.Time, window time.Duration, max int) (bool, time.Time, error) {
	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return false, time.Time{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key); err != nil {
		return false, time.Time{}, err
	}

	const prune = `DELETE FROM rate_limit_hits WHERE key = $1 AND expires_at <= $2`
	if _, err := tx.ExecContext(ctx, prune, key, now); err != nil {
		return false, time.Time{}, err
	}

	const count = `
		SELECT COUNT(1), MIN(hit_at)
		FROM rate_limit_hits
		WHERE key = $1 AND hit_at > $2`
	var hits int
	var oldest sql.NullTime
	if err := tx.QueryRowContext(ctx, count, key, now.Add(-window)).Scan(&hits, &oldest); err != nil {
		return false, time.Time{}, err
	}

	ok := hits < max
	if ok {
		const insert = `INSERT INTO rate_limit_hits (key, hit_at, expires_at) VALUES ($1, $2, $3)`
		if _, err := tx.ExecContext(ctx, insert, key, now, now.Add(window)); err != nil {
			return false, time.Time{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return false, time.Time{}, fmt.Errorf("commit tx: %w", err)
	}
	if ok {
		return true, time.Time{}, nil
	}
	return false, oldest.Time, nil
}
