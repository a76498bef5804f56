package pgdispatch

import (
	"context"
	"encoding/json"

	"github.com/BearBump/DispatchBox/internal/models"
	"github.com/BearBump/DispatchBox/internal/storage"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

func (s *Storage) GetLoad(ctx context.Context, id string) (*models.Load, error) {
	var data []byte
	err := s.db.QueryRow(ctx, `SELECT data FROM loads WHERE id = $1`, id).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrapf(models.ErrNotFound, "load %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "select load")
	}
	var l models.Load
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, errors.Wrap(err, "decode load")
	}
	return &l, nil
}

func (s *Storage) PutLoad(ctx context.Context, l *models.Load) error {
	if l == nil || l.ID == "" {
		return errors.Wrap(models.ErrValidationFailed, "load id is required")
	}
	data, err := json.Marshal(l)
	if err != nil {
		return errors.Wrap(err, "encode load")
	}
	_, err = s.db.Exec(ctx, `
INSERT INTO loads (id, status, driver_id, archived, data, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (id) DO UPDATE SET
  status = EXCLUDED.status,
  driver_id = EXCLUDED.driver_id,
  archived = EXCLUDED.archived,
  data = EXCLUDED.data,
  updated_at = EXCLUDED.updated_at
`, l.ID, string(l.Status), l.DriverID, l.Archived, data, l.CreatedAt.UTC(), l.UpdatedAt.UTC())
	if err != nil {
		return errors.Wrap(err, "upsert load")
	}
	return nil
}

func (s *Storage) ListLoads(ctx context.Context, f storage.LoadFilter) ([]*models.Load, error) {
	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}
	statuses := make([]string, 0, len(f.Statuses))
	for _, st := range f.Statuses {
		statuses = append(statuses, string(st))
	}

	rows, err := s.db.Query(ctx, `
SELECT data
FROM loads
WHERE ($1 OR NOT archived)
  AND (cardinality($2::text[]) = 0 OR status = ANY($2))
ORDER BY created_at, id
LIMIT $3 OFFSET $4
`, f.IncludeArchived, statuses, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "select loads")
	}
	defer rows.Close()

	out := make([]*models.Load, 0)
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, errors.Wrap(err, "scan load")
		}
		var l models.Load
		if err := json.Unmarshal(data, &l); err != nil {
			return nil, errors.Wrap(err, "decode load")
		}
		out = append(out, &l)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
