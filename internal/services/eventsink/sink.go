package eventsink

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/BearBump/DispatchBox/internal/broker/messages"
	"github.com/BearBump/DispatchBox/internal/events"
	"github.com/pkg/errors"
)

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

// Sink переливает события шины в Kafka. Шина синхронная, поэтому Handle только кладёт в буфер;
// при переполнении событие теряется и считается в dropped.
type Sink struct {
	producer Producer
	topic    string
	ch       chan events.Event

	retries    int
	retryDelay time.Duration

	published atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

func New(p Producer, topic string, buffer int) *Sink {
	if buffer <= 0 {
		buffer = 1024
	}
	return &Sink{
		producer:   p,
		topic:      topic,
		ch:         make(chan events.Event, buffer),
		retries:    5,
		retryDelay: 150 * time.Millisecond,
	}
}

func (s *Sink) WithRetry(retries int, delay time.Duration) *Sink {
	if retries > 0 {
		s.retries = retries
	}
	if delay >= 0 {
		s.retryDelay = delay
	}
	return s
}

func (s *Sink) Handle(ev events.Event) {
	select {
	case s.ch <- ev:
	default:
		s.dropped.Add(1)
		slog.Warn("event sink buffer full, event dropped", "type", string(ev.Type), "load_id", ev.LoadID)
	}
}

func (s *Sink) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-s.ch:
			if err := s.publish(ctx, ev); err != nil {
				s.failed.Add(1)
				slog.Error("publish dispatch event", "type", string(ev.Type), "load_id", ev.LoadID, "error", err.Error())
				continue
			}
			s.published.Add(1)
		}
	}
}

func (s *Sink) publish(ctx context.Context, ev events.Event) error {
	msg := ToMessage(ev)
	b, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "marshal dispatch event")
	}
	key := msg.LoadID
	if key == "" {
		key = msg.DriverID
	}

	// Kafka может быть не готова сразу после старта docker compose, поэтому небольшой retry.
	var pubErr error
	for i := 0; i < s.retries; i++ {
		if pubErr = s.producer.Publish(ctx, s.topic, []byte(key), b); pubErr == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(i+1) * s.retryDelay):
		}
	}
	return pubErr
}

func ToMessage(ev events.Event) messages.DispatchEvent {
	return messages.DispatchEvent{
		Type:         string(ev.Type),
		LoadID:       ev.LoadID,
		DriverID:     ev.DriverID,
		LoadStatus:   string(ev.LoadStatus),
		DriverStatus: string(ev.Driver),
		Reason:       ev.Reason,
		AlertID:      ev.AlertID,
		OccurredAt:   ev.OccurredAt,
	}
}

type Stats struct {
	Published int64 `json:"published"`
	Failed    int64 `json:"failed"`
	Dropped   int64 `json:"dropped"`
	Buffered  int   `json:"buffered"`
}

func (s *Sink) Stats() Stats {
	return Stats{
		Published: s.published.Load(),
		Failed:    s.failed.Load(),
		Dropped:   s.dropped.Load(),
		Buffered:  len(s.ch),
	}
}
