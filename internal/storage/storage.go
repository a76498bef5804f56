// Package storage declares the persistence contract of the dispatch engine.
// Реализации: memstore (in-memory) и pgdispatch (PostgreSQL). Операции атомарны по ключу.
package storage

import (
	"context"

	"github.com/BearBump/DispatchBox/internal/models"
)

type LoadFilter struct {
	Statuses        []models.LoadStatus
	IncludeArchived bool
	Limit           int
	Offset          int
}

func (f LoadFilter) Match(l *models.Load) bool {
	if l.Archived && !f.IncludeArchived {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if l.Status == s {
			return true
		}
	}
	return false
}

type Store interface {
	GetLoad(ctx context.Context, id string) (*models.Load, error)
	PutLoad(ctx context.Context, l *models.Load) error
	ListLoads(ctx context.Context, f LoadFilter) ([]*models.Load, error)

	GetDriver(ctx context.Context, id string) (*models.Driver, error)
	PutDriver(ctx context.Context, d *models.Driver) error
	DeleteDriver(ctx context.Context, id string) error
	ListDrivers(ctx context.Context) ([]*models.Driver, error)

	GetTonuClaim(ctx context.Context, id string) (*models.TonuClaim, error)
	PutTonuClaim(ctx context.Context, c *models.TonuClaim) error
	ListTonuClaims(ctx context.Context, loadID string) ([]*models.TonuClaim, error)
}
