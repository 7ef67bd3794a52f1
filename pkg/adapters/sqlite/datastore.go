package sqlite

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aretw0/max/pkg/domain"
	"github.com/aretw0/max/pkg/ports"
	"github.com/jmoiron/sqlx"
)

// DataStore implements ports.DataStore for one installation on the
// records_v1 table. Match is evaluated after decoding; Filter is not supported.
type DataStore struct {
	db           *sqlx.DB
	installation domain.InstallationID
}

type recordRow struct {
	Installation string `db:"installation"`
	Entity       string `db:"entity"`
	ID           string `db:"id"`
	Fields       string `db:"fields"`
}

// Put upserts records in one transaction.
func (s *DataStore) Put(ctx context.Context, records []domain.Record) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, r := range records {
		if r.Entity == "" || r.ID == "" {
			return fmt.Errorf("%w: record needs entity and id", domain.ErrInvalidArgs)
		}
		fields, err := json.Marshal(r.Fields)
		if err != nil {
			return fmt.Errorf("failed to marshal %s/%s: %w", r.Entity, r.ID, err)
		}
		_, err = tx.NamedExecContext(ctx, `
			INSERT INTO records_v1 (installation, entity, id, fields)
			VALUES (:installation, :entity, :id, :fields)
			ON CONFLICT (installation, entity, id) DO UPDATE SET fields = excluded.fields`,
			recordRow{Installation: string(s.installation), Entity: r.Entity, ID: r.ID, Fields: string(fields)})
		if err != nil {
			return fmt.Errorf("failed to put %s/%s: %w", r.Entity, r.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Query returns the records of q.Entity ordered by id.
func (s *DataStore) Query(ctx context.Context, q domain.Query) (domain.ResultSet, error) {
	rs := domain.ResultSet{Installation: s.installation, Entity: q.Entity, Records: []domain.Record{}}
	if q.Filter != "" {
		return rs, fmt.Errorf("%w: the sqlite engine does not support filters", domain.ErrInvalidArgs)
	}
	var rows []recordRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT installation, entity, id, fields FROM records_v1
		WHERE installation = $1 AND entity = $2
		ORDER BY id`, string(s.installation), q.Entity)
	if err != nil {
		return rs, fmt.Errorf("failed to query %s: %w", q.Entity, err)
	}
	for _, row := range rows {
		rec := domain.Record{ID: row.ID, Entity: row.Entity}
		if err := json.Unmarshal([]byte(row.Fields), &rec.Fields); err != nil {
			return rs, fmt.Errorf("failed to unmarshal %s/%s: %w", row.Entity, row.ID, err)
		}
		if !rec.Matches(q.Match) {
			continue
		}
		if q.Limit > 0 && len(rs.Records) == q.Limit {
			rs.Truncated = true
			break
		}
		rs.Records = append(rs.Records, rec)
	}
	return rs, nil
}

// Close is a no-op; the DB owns the connection.
func (s *DataStore) Close() error { return nil }

var _ ports.DataStore = (*DataStore)(nil)
