package pgdispatch

import (
	"context"
	"encoding/json"

	"github.com/BearBump/DispatchBox/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

func (s *Storage) GetTonuClaim(ctx context.Context, id string) (*models.TonuClaim, error) {
	var data []byte
	err := s.db.QueryRow(ctx, `SELECT data FROM tonu_claims WHERE id = $1`, id).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrapf(models.ErrNotFound, "tonu claim %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "select tonu claim")
	}
	var c models.TonuClaim
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, errors.Wrap(err, "decode tonu claim")
	}
	return &c, nil
}

func (s *Storage) PutTonuClaim(ctx context.Context, c *models.TonuClaim) error {
	if c == nil || c.ID == "" {
		return errors.Wrap(models.ErrValidationFailed, "claim id is required")
	}
	data, err := json.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "encode tonu claim")
	}
	_, err = s.db.Exec(ctx, `
INSERT INTO tonu_claims (id, load_id, status, data, filed_at)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (id) DO UPDATE SET
  status = EXCLUDED.status,
  data = EXCLUDED.data
`, c.ID, c.LoadID, string(c.Status), data, c.FiledAt.UTC())
	if err != nil {
		return errors.Wrap(err, "upsert tonu claim")
	}
	return nil
}

func (s *Storage) ListTonuClaims(ctx context.Context, loadID string) ([]*models.TonuClaim, error) {
	rows, err := s.db.Query(ctx, `
SELECT data FROM tonu_claims
WHERE ($1 = '' OR load_id = $1)
ORDER BY filed_at
`, loadID)
	if err != nil {
		return nil, errors.Wrap(err, "select tonu claims")
	}
	defer rows.Close()

	out := make([]*models.TonuClaim, 0)
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, errors.Wrap(err, "scan tonu claim")
		}
		var c models.TonuClaim
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, errors.Wrap(err, "decode tonu claim")
		}
		out = append(out, &c)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
