package loads

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/BearBump/DispatchBox/internal/cache"
	"github.com/BearBump/DispatchBox/internal/events"
	"github.com/BearBump/DispatchBox/internal/models"
	"github.com/BearBump/DispatchBox/internal/storage"
)

type Repository interface {
	GetLoad(ctx context.Context, id string) (*models.Load, error)
	ListLoads(ctx context.Context, f storage.LoadFilter) ([]*models.Load, error)
	ListTonuClaims(ctx context.Context, loadID string) ([]*models.TonuClaim, error)
}

// Service — сторона чтения для UI-поллинга. Снимки eventually-consistent,
// в кэш попадает только LoadView (адрес погрузки уже отфильтрован).
type Service struct {
	repo    Repository
	cache   cache.BytesCache
	viewTTL time.Duration
}

func New(repo Repository, c cache.BytesCache, viewTTL time.Duration) *Service {
	return &Service{repo: repo, cache: c, viewTTL: viewTTL}
}

func (s *Service) cacheOn() bool {
	return s.cache != nil && s.viewTTL > 0
}

func (s *Service) GetLoad(ctx context.Context, id string) (*models.LoadView, error) {
	if s.cacheOn() {
		if b, ok, err := s.cache.Get(ctx, viewKey(id)); err == nil && ok {
			var v models.LoadView
			if json.Unmarshal(b, &v) == nil {
				return &v, nil
			}
		}
	}

	l, err := s.repo.GetLoad(ctx, id)
	if err != nil {
		return nil, err
	}
	v := l.View()
	if s.cacheOn() {
		b, _ := json.Marshal(v)
		if err := s.cache.Set(ctx, viewKey(id), b, s.viewTTL); err != nil {
			slog.Warn("cache load view", "load_id", id, "error", err.Error())
		}
	}
	return &v, nil
}

func (s *Service) ListLoads(ctx context.Context, f storage.LoadFilter) ([]models.LoadView, error) {
	ls, err := s.repo.ListLoads(ctx, f)
	if err != nil {
		return nil, err
	}
	out := make([]models.LoadView, 0, len(ls))
	for _, l := range ls {
		out = append(out, l.View())
	}
	return out, nil
}

// ListPendingAcceptance — грузы с открытым окном принятия, старые первыми.
func (s *Service) ListPendingAcceptance(ctx context.Context) ([]models.LoadView, error) {
	return s.ListLoads(ctx, storage.LoadFilter{Statuses: []models.LoadStatus{
		models.LoadStatusPendingDriverAcceptance,
		models.LoadStatusAcceptedPendingSMS,
	}})
}

func (s *Service) ListTonuClaims(ctx context.Context, loadID string) ([]*models.TonuClaim, error) {
	return s.repo.ListTonuClaims(ctx, loadID)
}

// Invalidate is a bus handler dropping the cached view of a changed load.
func (s *Service) Invalidate(ev events.Event) {
	if !s.cacheOn() || ev.LoadID == "" {
		return
	}
	switch ev.Type {
	case events.DriverStatusChanged, events.AlertRaised:
		return
	}
	if err := s.cache.Del(context.Background(), viewKey(ev.LoadID)); err != nil {
		slog.Warn("invalidate load view", "load_id", ev.LoadID, "error", err.Error())
	}
}

func viewKey(id string) string {
	return "load:" + id + ":view"
}
