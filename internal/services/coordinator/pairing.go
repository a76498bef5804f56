package coordinator

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/BearBump/DispatchBox/internal/models"
	"github.com/BearBump/DispatchBox/internal/services/lifecycle"
	"github.com/BearBump/DispatchBox/internal/storage"
	"github.com/pkg/errors"
)

type Pair struct {
	LoadID   string `json:"loadId"`
	DriverID string `json:"driverId"`
}

type PairFailure struct {
	Pair
	Error string `json:"error"`
}

type AutoDispatchResult struct {
	Assigned []Pair        `json:"assigned"`
	Failed   []PairFailure `json:"failed"`
}

// SuggestPairs: FIFO. Старые неназначенные грузы получают водителей, дольше всех стоящих пустыми.
func (c *Coordinator) SuggestPairs(ctx context.Context) ([]Pair, error) {
	loads, err := c.lister.ListLoads(ctx, storage.LoadFilter{Statuses: []models.LoadStatus{models.LoadStatusUnassigned}})
	if err != nil {
		return nil, errors.Wrap(err, "list loads")
	}
	drivers, err := c.drivers.List(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list drivers")
	}

	free := make([]*models.Driver, 0, len(drivers))
	for _, d := range drivers {
		if d.Status == models.DriverStatusEmpty && d.CurrentLoadID == nil {
			free = append(free, d)
		}
	}
	sort.SliceStable(free, func(i, j int) bool { return free[i].UpdatedAt.Before(free[j].UpdatedAt) })

	n := min(len(loads), len(free))
	pairs := make([]Pair, 0, n)
	for i := 0; i < n; i++ {
		pairs = append(pairs, Pair{LoadID: loads[i].ID, DriverID: free[i].ID})
	}
	return pairs, nil
}

// AutoDispatch assigns every suggested pair; failures are reported, not retried.
func (c *Coordinator) AutoDispatch(ctx context.Context, timeout time.Duration) (AutoDispatchResult, error) {
	pairs, err := c.SuggestPairs(ctx)
	if err != nil {
		return AutoDispatchResult{}, err
	}

	res := AutoDispatchResult{Assigned: []Pair{}, Failed: []PairFailure{}}
	for _, p := range pairs {
		_, err := c.Assign(ctx, lifecycle.AssignInput{LoadID: p.LoadID, DriverID: p.DriverID, Timeout: timeout})
		if err != nil {
			slog.Warn("auto dispatch pair failed", "load_id", p.LoadID, "driver_id", p.DriverID, "error", err.Error())
			res.Failed = append(res.Failed, PairFailure{Pair: p, Error: err.Error()})
			continue
		}
		res.Assigned = append(res.Assigned, p)
	}
	slog.Info("auto dispatch done", "assigned", len(res.Assigned), "failed", len(res.Failed))
	return res, nil
}
