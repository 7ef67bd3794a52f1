package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aretw0/max/pkg/domain"
	"github.com/aretw0/max/pkg/ports"
	"github.com/jmoiron/sqlx"
)

// SyncStore implements ports.SyncStore on the syncs_v1 table.
type SyncStore struct {
	db *sqlx.DB
}

type syncRow struct {
	ID           string `db:"id"`
	Installation string `db:"installation"`
	StartedAt    int64  `db:"started_at"`
	Body         string `db:"body"`
}

func (r syncRow) record() (*domain.SyncRecord, error) {
	var rec domain.SyncRecord
	if err := json.Unmarshal([]byte(r.Body), &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal sync record %s: %w", r.ID, err)
	}
	return &rec, nil
}

// SaveSync creates or replaces the record.
func (s *SyncStore) SaveSync(ctx context.Context, rec *domain.SyncRecord) error {
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("%w: sync record without id", domain.ErrInvalidArgs)
	}
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal sync record: %w", err)
	}
	_, err = s.db.NamedExecContext(ctx, `
		INSERT INTO syncs_v1 (id, installation, started_at, body)
		VALUES (:id, :installation, :started_at, :body)
		ON CONFLICT (id) DO UPDATE SET
			installation = excluded.installation,
			started_at = excluded.started_at,
			body = excluded.body`,
		syncRow{ID: rec.ID, Installation: string(rec.Installation), StartedAt: rec.StartedAt.UnixMilli(), Body: string(body)})
	if err != nil {
		return fmt.Errorf("failed to save sync %s: %w", rec.ID, err)
	}
	return nil
}

// LoadSync returns domain.ErrSyncNotFound for unknown ids.
func (s *SyncStore) LoadSync(ctx context.Context, id string) (*domain.SyncRecord, error) {
	var row syncRow
	err := s.db.GetContext(ctx, &row, `SELECT id, installation, started_at, body FROM syncs_v1 WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrSyncNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load sync %s: %w", id, err)
	}
	return row.record()
}

// ListSyncs returns the records of inst, newest first.
func (s *SyncStore) ListSyncs(ctx context.Context, inst domain.InstallationID) ([]*domain.SyncRecord, error) {
	var rows []syncRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, installation, started_at, body FROM syncs_v1
		WHERE installation = $1
		ORDER BY started_at DESC, id DESC`, string(inst))
	if err != nil {
		return nil, fmt.Errorf("failed to list syncs: %w", err)
	}
	out := make([]*domain.SyncRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := row.record()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// DeleteSync removes a record. Unknown ids are a no-op.
func (s *SyncStore) DeleteSync(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM syncs_v1 WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete sync %s: %w", id, err)
	}
	return nil
}

var _ ports.SyncStore = (*SyncStore)(nil)
