package outbox

import (
	"math/rand"
	"time"
)

type Rand interface {
	Intn(n int) int
}

type PlannerConfig struct {
	Backoff1 time.Duration // default: 5 seconds
	Backoff2 time.Duration // default: 15 seconds
	Backoff3 time.Duration // default: 30 seconds
	Backoff4 time.Duration // default: 60 seconds

	MaxJitter time.Duration // default: 0, без джиттера

	RateLimitedDelay time.Duration // default: 10 seconds
}

func DefaultPlannerConfig() PlannerConfig {
	return PlannerConfig{
		Backoff1:         5 * time.Second,
		Backoff2:         15 * time.Second,
		Backoff3:         30 * time.Second,
		Backoff4:         60 * time.Second,
		RateLimitedDelay: 10 * time.Second,
	}
}

// Planner решает, когда повторить доставку.
type Planner struct {
	cfg PlannerConfig
	r   Rand
}

func NewPlanner(cfg PlannerConfig, r Rand) *Planner {
	def := DefaultPlannerConfig()
	if cfg.Backoff1 <= 0 {
		cfg.Backoff1 = def.Backoff1
	}
	if cfg.Backoff2 <= 0 {
		cfg.Backoff2 = def.Backoff2
	}
	if cfg.Backoff3 <= 0 {
		cfg.Backoff3 = def.Backoff3
	}
	if cfg.Backoff4 <= 0 {
		cfg.Backoff4 = def.Backoff4
	}
	if cfg.MaxJitter < 0 {
		cfg.MaxJitter = 0
	}
	if cfg.RateLimitedDelay <= 0 {
		cfg.RateLimitedDelay = def.RateLimitedDelay
	}
	if r == nil {
		r = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Planner{cfg: cfg, r: r}
}

func (p *Planner) BackoffDelay(failCount int32) time.Duration {
	var d time.Duration
	switch {
	case failCount <= 1:
		d = p.cfg.Backoff1
	case failCount == 2:
		d = p.cfg.Backoff2
	case failCount == 3:
		d = p.cfg.Backoff3
	default:
		d = p.cfg.Backoff4
	}
	return d + p.jitter()
}

func (p *Planner) RateLimitedDelay() time.Duration {
	return p.cfg.RateLimitedDelay + p.jitter()
}

func (p *Planner) jitter() time.Duration {
	if p.cfg.MaxJitter <= 0 {
		return 0
	}
	ms := int(p.cfg.MaxJitter / time.Millisecond)
	if ms <= 0 {
		return 0
	}
	return time.Duration(p.r.Intn(ms+1)) * time.Millisecond
}
