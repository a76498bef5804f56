package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/DispatchBox/internal/clock"
	"github.com/BearBump/DispatchBox/internal/integrations/notify"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

type Channel string

const (
	ChannelSMS   Channel = "SMS"
	ChannelAlert Channel = "ALERT"
)

type Delivery struct {
	ID            string
	Channel       Channel
	Recipient     string // phone for SMS, driver id for alerts
	Message       string
	Kind          notify.AlertKind
	Attempts      int32
	NextAttemptAt time.Time
	CreatedAt     time.Time
	LastError     string
}

// Outbox — асинхронная доставка уведомлений с ретраями. Реализует notify.Gateway,
// поэтому ядро отдаёт сообщение и сразу идёт дальше.
type Outbox struct {
	sms  notify.SMSSender
	push notify.AlertSender
	rl   RateLimiter
	clk  clock.Clock

	planner *Planner

	pollInterval       time.Duration
	batchSize          int
	concurrency        int
	maxAttempts        int32
	rateLimitPerMinute int64

	mu    sync.Mutex
	queue []*Delivery

	triggerCh chan struct{}

	startedAt         time.Time
	lastCycleUnixNano atomic.Int64
	totalEnqueued     atomic.Int64
	totalDelivered    atomic.Int64
	totalRetried      atomic.Int64
	totalDropped      atomic.Int64
	totalRateLimited  atomic.Int64
	inFlight          atomic.Int64
	lastErrorMu       sync.Mutex
	lastError         string
}

func New(sms notify.SMSSender, push notify.AlertSender, rl RateLimiter, clk clock.Clock) *Outbox {
	return &Outbox{
		sms: sms, push: push, rl: rl, clk: clk,
		planner:            NewPlanner(DefaultPlannerConfig(), nil),
		pollInterval:       time.Second,
		batchSize:          100,
		concurrency:        8,
		maxAttempts:        5,
		rateLimitPerMinute: 10,
		triggerCh:          make(chan struct{}, 1),
		startedAt:          clk.Now(),
	}
}

func (o *Outbox) WithSettings(pollInterval time.Duration, batchSize, concurrency, maxAttempts int, rlPerMin int64) *Outbox {
	if pollInterval > 0 {
		o.pollInterval = pollInterval
	}
	if batchSize > 0 {
		o.batchSize = batchSize
	}
	if concurrency > 0 {
		o.concurrency = concurrency
	}
	if maxAttempts > 0 {
		o.maxAttempts = int32(maxAttempts)
	}
	if rlPerMin > 0 {
		o.rateLimitPerMinute = rlPerMin
	}
	return o
}

func (o *Outbox) WithPlanner(cfg PlannerConfig, r Rand) *Outbox {
	o.planner = NewPlanner(cfg, r)
	return o
}

func (o *Outbox) SendSMS(ctx context.Context, phone, message string) (string, error) {
	if phone == "" {
		return "", errors.New("empty phone")
	}
	d := o.enqueue(ChannelSMS, phone, message, "")
	return d.ID, nil
}

func (o *Outbox) SendAlert(ctx context.Context, driverID, message string, kind notify.AlertKind) error {
	if driverID == "" {
		return errors.New("empty driver id")
	}
	o.enqueue(ChannelAlert, driverID, message, kind)
	return nil
}

func (o *Outbox) enqueue(ch Channel, recipient, message string, kind notify.AlertKind) *Delivery {
	now := o.clk.Now()
	d := &Delivery{
		ID:            uuid.NewString(),
		Channel:       ch,
		Recipient:     recipient,
		Message:       message,
		Kind:          kind,
		NextAttemptAt: now,
		CreatedAt:     now,
	}
	o.mu.Lock()
	o.queue = append(o.queue, d)
	o.mu.Unlock()
	o.totalEnqueued.Add(1)
	o.Trigger()
	return d
}

// Trigger forces an immediate delivery cycle (best-effort, non-blocking).
func (o *Outbox) Trigger() {
	select {
	case o.triggerCh <- struct{}{}:
	default:
	}
}

func (o *Outbox) Pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.queue)
}

type Stats struct {
	StartedAt        time.Time  `json:"startedAt"`
	LastCycleAt      *time.Time `json:"lastCycleAt,omitempty"`
	Pending          int        `json:"pending"`
	TotalEnqueued    int64      `json:"totalEnqueued"`
	TotalDelivered   int64      `json:"totalDelivered"`
	TotalRetried     int64      `json:"totalRetried"`
	TotalDropped     int64      `json:"totalDropped"`
	TotalRateLimited int64      `json:"totalRateLimited"`
	InFlight         int64      `json:"inFlight"`
	LastError        string     `json:"lastError,omitempty"`
}

func (o *Outbox) Stats() Stats {
	st := Stats{
		StartedAt:        o.startedAt,
		Pending:          o.Pending(),
		TotalEnqueued:    o.totalEnqueued.Load(),
		TotalDelivered:   o.totalDelivered.Load(),
		TotalRetried:     o.totalRetried.Load(),
		TotalDropped:     o.totalDropped.Load(),
		TotalRateLimited: o.totalRateLimited.Load(),
		InFlight:         o.inFlight.Load(),
	}
	if n := o.lastCycleUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastCycleAt = &t
	}
	o.lastErrorMu.Lock()
	st.LastError = o.lastError
	o.lastErrorMu.Unlock()
	return st
}

func (o *Outbox) Run(ctx context.Context) error {
	t := time.NewTicker(o.pollInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			o.RunOnce(ctx)
		case <-o.triggerCh:
			o.RunOnce(ctx)
		}
	}
}

// RunOnce delivers every due item with bounded concurrency.
func (o *Outbox) RunOnce(ctx context.Context) {
	now := o.clk.Now()
	o.lastCycleUnixNano.Store(now.UnixNano())

	items := o.claimDue(now)
	if len(items) == 0 {
		return
	}

	sem := make(chan struct{}, o.concurrency)
	var wg sync.WaitGroup
	for _, d := range items {
		sem <- struct{}{}
		wg.Add(1)
		o.inFlight.Add(1)
		go func(d *Delivery) {
			defer func() {
				o.inFlight.Add(-1)
				<-sem
				wg.Done()
			}()
			o.processOne(ctx, d)
		}(d)
	}
	wg.Wait()
}

func (o *Outbox) claimDue(now time.Time) []*Delivery {
	o.mu.Lock()
	defer o.mu.Unlock()

	sort.SliceStable(o.queue, func(i, j int) bool { return o.queue[i].NextAttemptAt.Before(o.queue[j].NextAttemptAt) })
	var due []*Delivery
	rest := o.queue[:0]
	for _, d := range o.queue {
		if len(due) < o.batchSize && !d.NextAttemptAt.After(now) {
			due = append(due, d)
			continue
		}
		rest = append(rest, d)
	}
	o.queue = rest
	return due
}

func (o *Outbox) requeue(d *Delivery) {
	o.mu.Lock()
	o.queue = append(o.queue, d)
	o.mu.Unlock()
}

func (o *Outbox) processOne(ctx context.Context, d *Delivery) {
	now := o.clk.Now()

	if o.rl != nil && o.rateLimitPerMinute > 0 {
		key := fmt.Sprintf("rl:notify:%s:%s:%s", d.Channel, d.Recipient, now.Format("200601021504"))
		allowed, n, err := o.rl.Allow(ctx, key, o.rateLimitPerMinute, 70*time.Second)
		if err != nil {
			// лимитер недоступен: доставляем без лимита
			slog.Warn("notify rate limiter", "error", err.Error())
		} else if !allowed {
			slog.Warn("notify rate limit exceeded", "channel", string(d.Channel), "recipient", d.Recipient, "count", n)
			o.totalRateLimited.Add(1)
			d.NextAttemptAt = now.Add(o.planner.RateLimitedDelay())
			o.requeue(d)
			return
		}
	}

	err := o.deliver(ctx, d)
	if err == nil {
		o.totalDelivered.Add(1)
		return
	}

	d.Attempts++
	d.LastError = err.Error()
	o.setLastError(err)
	if d.Attempts >= o.maxAttempts {
		o.totalDropped.Add(1)
		slog.Error("notification dropped", "delivery_id", d.ID, "channel", string(d.Channel), "attempts", d.Attempts, "error", err.Error())
		return
	}
	o.totalRetried.Add(1)
	d.NextAttemptAt = now.Add(o.planner.BackoffDelay(d.Attempts))
	slog.Warn("notification retry scheduled", "delivery_id", d.ID, "attempts", d.Attempts, "next_attempt_at", d.NextAttemptAt)
	o.requeue(d)
}

func (o *Outbox) deliver(ctx context.Context, d *Delivery) error {
	switch d.Channel {
	case ChannelSMS:
		if o.sms == nil {
			return errors.New("sms sender is not configured")
		}
		_, err := o.sms.SendSMS(ctx, d.Recipient, d.Message)
		return errors.Wrap(err, "send sms")
	case ChannelAlert:
		if o.push == nil {
			return errors.New("alert sender is not configured")
		}
		return errors.Wrap(o.push.SendAlert(ctx, d.Recipient, d.Message, d.Kind), "send alert")
	default:
		return errors.Errorf("unknown channel %q", d.Channel)
	}
}

func (o *Outbox) setLastError(err error) {
	o.lastErrorMu.Lock()
	o.lastError = err.Error()
	o.lastErrorMu.Unlock()
}
