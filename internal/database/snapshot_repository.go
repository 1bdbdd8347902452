package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Aste21/Lodz-Hack/internal/models"
	"github.com/Aste21/Lodz-Hack/internal/snapshot"
)

const (
	DefaultRecentLimit = 100
	MaxRecentLimit     = 1000
)

// SnapshotRepository stores snapshots as rows of the snapshots table
type SnapshotRepository struct {
	db *DB
}

// NewSnapshotRepository creates a new snapshot repository
func NewSnapshotRepository(db *DB) *SnapshotRepository {
	return &SnapshotRepository{db: db}
}

// Persist inserts one row for the snapshot
func (r *SnapshotRepository) Persist(ctx context.Context, snap models.Snapshot) error {
	if _, err := r.Insert(ctx, snap); err != nil {
		return &snapshot.StoreError{Backend: "sqlite", Kind: snap.Kind, Err: err}
	}
	return nil
}

// Insert stores the snapshot and returns the new row id
func (r *SnapshotRepository) Insert(ctx context.Context, snap models.Snapshot) (int64, error) {
	var summary models.Summary
	if snap.Message != nil {
		summary = snap.Message.Summarize()
	} else {
		summary = models.Summary{Routes: []string{}}
	}
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return 0, fmt.Errorf("failed to encode summary: %w", err)
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO snapshots (feed_kind, captured_at, raw_payload, parsed_summary)
		VALUES (?, ?, ?, ?)
	`, snap.Kind.String(), snap.CapturedAt.UTC(), snap.Payload, string(summaryJSON))
	if err != nil {
		return 0, fmt.Errorf("failed to insert snapshot: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read snapshot id: %w", err)
	}
	return id, nil
}

// Recent returns up to limit rows of a kind, newest first.
// limit <= 0 selects DefaultRecentLimit; larger values are capped at MaxRecentLimit.
func (r *SnapshotRepository) Recent(ctx context.Context, kind models.FeedKind, limit int) ([]models.StoredRow, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	if limit > MaxRecentLimit {
		limit = MaxRecentLimit
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, feed_kind, captured_at, raw_payload, parsed_summary
		FROM snapshots
		WHERE feed_kind = ?
		ORDER BY id DESC
		LIMIT ?
	`, kind.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer func() { _ = rows.Close() }()

	result := make([]models.StoredRow, 0, limit)
	for rows.Next() {
		var (
			row        models.StoredRow
			kindStr    string
			capturedAt time.Time
			summary    string
		)
		if err := rows.Scan(&row.ID, &kindStr, &capturedAt, &row.RawPayload, &summary); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		row.Kind = models.FeedKind(kindStr)
		row.CapturedAt = capturedAt.UTC()
		if err := json.Unmarshal([]byte(summary), &row.ParsedSummary); err != nil {
			return nil, fmt.Errorf("failed to decode summary of snapshot %d: %w", row.ID, err)
		}
		if row.ParsedSummary.Routes == nil {
			row.ParsedSummary.Routes = []string{}
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate snapshots: %w", err)
	}

	return result, nil
}

// Count returns the number of stored snapshots of a kind
func (r *SnapshotRepository) Count(ctx context.Context, kind models.FeedKind) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM snapshots WHERE feed_kind = ?`, kind.String()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count snapshots: %w", err)
	}
	return count, nil
}
