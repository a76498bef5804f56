package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/BearBump/DispatchBox/internal/models"
	"github.com/BearBump/DispatchBox/internal/storage"
	"github.com/pkg/errors"
)

// Store — in-memory реализация storage.Store. Всё копируется на входе и выходе.
type Store struct {
	mu      sync.RWMutex
	loads   map[string]*models.Load
	drivers map[string]*models.Driver
	claims  map[string]*models.TonuClaim
}

var _ storage.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		loads:   make(map[string]*models.Load),
		drivers: make(map[string]*models.Driver),
		claims:  make(map[string]*models.TonuClaim),
	}
}

func (s *Store) GetLoad(ctx context.Context, id string) (*models.Load, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.loads[id]
	if !ok {
		return nil, errors.Wrapf(models.ErrNotFound, "load %s", id)
	}
	return l.Clone(), nil
}

func (s *Store) PutLoad(ctx context.Context, l *models.Load) error {
	if l == nil || l.ID == "" {
		return errors.Wrap(models.ErrValidationFailed, "load id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loads[l.ID] = l.Clone()
	return nil
}

func (s *Store) ListLoads(ctx context.Context, f storage.LoadFilter) ([]*models.Load, error) {
	s.mu.RLock()
	out := make([]*models.Load, 0, len(s.loads))
	for _, l := range s.loads {
		if f.Match(l) {
			out = append(out, l.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return paginate(out, f.Limit, f.Offset), nil
}

func (s *Store) GetDriver(ctx context.Context, id string) (*models.Driver, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.drivers[id]
	if !ok {
		return nil, errors.Wrapf(models.ErrNotFound, "driver %s", id)
	}
	return d.Clone(), nil
}

func (s *Store) PutDriver(ctx context.Context, d *models.Driver) error {
	if d == nil || d.ID == "" {
		return errors.Wrap(models.ErrValidationFailed, "driver id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drivers[d.ID] = d.Clone()
	return nil
}

func (s *Store) DeleteDriver(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.drivers[id]; !ok {
		return errors.Wrapf(models.ErrNotFound, "driver %s", id)
	}
	delete(s.drivers, id)
	return nil
}

func (s *Store) ListDrivers(ctx context.Context) ([]*models.Driver, error) {
	s.mu.RLock()
	out := make([]*models.Driver, 0, len(s.drivers))
	for _, d := range s.drivers {
		out = append(out, d.Clone())
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) GetTonuClaim(ctx context.Context, id string) (*models.TonuClaim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.claims[id]
	if !ok {
		return nil, errors.Wrapf(models.ErrNotFound, "tonu claim %s", id)
	}
	return c.Clone(), nil
}

func (s *Store) PutTonuClaim(ctx context.Context, c *models.TonuClaim) error {
	if c == nil || c.ID == "" {
		return errors.Wrap(models.ErrValidationFailed, "claim id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.claims[c.ID] = c.Clone()
	return nil
}

func (s *Store) ListTonuClaims(ctx context.Context, loadID string) ([]*models.TonuClaim, error) {
	s.mu.RLock()
	out := make([]*models.TonuClaim, 0)
	for _, c := range s.claims {
		if loadID == "" || c.LoadID == loadID {
			out = append(out, c.Clone())
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].FiledAt.Before(out[j].FiledAt) })
	return out, nil
}

func paginate[T any](in []T, limit, offset int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(in) {
		return []T{}
	}
	in = in[offset:]
	if limit > 0 && limit < len(in) {
		in = in[:limit]
	}
	return in
}
