package pgdispatch

import (
	"context"
	"encoding/json"

	"github.com/BearBump/DispatchBox/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

func (s *Storage) GetDriver(ctx context.Context, id string) (*models.Driver, error) {
	var data []byte
	err := s.db.QueryRow(ctx, `SELECT data FROM drivers WHERE id = $1`, id).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrapf(models.ErrNotFound, "driver %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "select driver")
	}
	var d models.Driver
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, errors.Wrap(err, "decode driver")
	}
	return &d, nil
}

func (s *Storage) PutDriver(ctx context.Context, d *models.Driver) error {
	if d == nil || d.ID == "" {
		return errors.Wrap(models.ErrValidationFailed, "driver id is required")
	}
	data, err := json.Marshal(d)
	if err != nil {
		return errors.Wrap(err, "encode driver")
	}
	_, err = s.db.Exec(ctx, `
INSERT INTO drivers (id, status, current_load_id, data, updated_at)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (id) DO UPDATE SET
  status = EXCLUDED.status,
  current_load_id = EXCLUDED.current_load_id,
  data = EXCLUDED.data,
  updated_at = EXCLUDED.updated_at
`, d.ID, string(d.Status), d.CurrentLoadID, data, d.UpdatedAt.UTC())
	if err != nil {
		return errors.Wrap(err, "upsert driver")
	}
	return nil
}

func (s *Storage) DeleteDriver(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM drivers WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "delete driver")
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrapf(models.ErrNotFound, "driver %s", id)
	}
	return nil
}

func (s *Storage) ListDrivers(ctx context.Context) ([]*models.Driver, error) {
	rows, err := s.db.Query(ctx, `SELECT data FROM drivers ORDER BY id`)
	if err != nil {
		return nil, errors.Wrap(err, "select drivers")
	}
	defer rows.Close()

	out := make([]*models.Driver, 0)
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, errors.Wrap(err, "scan driver")
		}
		var d models.Driver
		if err := json.Unmarshal(data, &d); err != nil {
			return nil, errors.Wrap(err, "decode driver")
		}
		out = append(out, &d)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
