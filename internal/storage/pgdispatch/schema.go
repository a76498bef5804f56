package pgdispatch

import (
	"context"

	"github.com/pkg/errors"
)

// Каждая сущность хранится целиком в JSONB; отдельные колонки — только для фильтров и индексов.
func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS loads (
  id TEXT PRIMARY KEY,
  status TEXT NOT NULL,
  driver_id TEXT NULL,
  archived BOOLEAN NOT NULL DEFAULT FALSE,
  data JSONB NOT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_loads_status ON loads(status) WHERE NOT archived`,
		`CREATE INDEX IF NOT EXISTS idx_loads_driver_id ON loads(driver_id)`,
		`
CREATE TABLE IF NOT EXISTS drivers (
  id TEXT PRIMARY KEY,
  status TEXT NOT NULL,
  current_load_id TEXT NULL,
  data JSONB NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
		`
CREATE TABLE IF NOT EXISTS tonu_claims (
  id TEXT PRIMARY KEY,
  load_id TEXT NOT NULL,
  status TEXT NOT NULL,
  data JSONB NOT NULL,
  filed_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_tonu_claims_load_id ON tonu_claims(load_id)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
