package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/BearBump/DispatchBox/internal/models"
)

type Type string

const (
	LoadCreated         Type = "LoadCreated"
	LoadAssigned        Type = "LoadAssigned"
	LoadAccepted        Type = "LoadAccepted"
	LoadActivated       Type = "LoadActivated"
	LoadRejected        Type = "LoadRejected"
	LoadExpired         Type = "LoadExpired"
	LoadUnassigned      Type = "LoadUnassigned"
	ReleaseRequested    Type = "ReleaseRequested"
	LoadReleased        Type = "LoadReleased"
	ReleaseExpired      Type = "ReleaseExpired"
	LoadPickedUp        Type = "LoadPickedUp"
	TonuFiled           Type = "TonuFiled"
	LoadDelivered       Type = "LoadDelivered"
	LoadCancelled       Type = "LoadCancelled"
	DriverStatusChanged Type = "DriverStatusChanged"
	AlertRaised         Type = "AlertRaised"
)

// Event — факт уже закоммиченного перехода.
type Event struct {
	Type       Type                `json:"type"`
	LoadID     string              `json:"loadId,omitempty"`
	DriverID   string              `json:"driverId,omitempty"`
	LoadStatus models.LoadStatus   `json:"loadStatus,omitempty"`
	Driver     models.DriverStatus `json:"driverStatus,omitempty"`
	Reason     string              `json:"reason,omitempty"`
	AlertID    string              `json:"alertId,omitempty"`
	OccurredAt time.Time           `json:"occurredAt"`
}

type Publisher interface {
	Publish(ev Event)
}

type Handler func(ev Event)

// Bus — простой in-process fan-out. Обработчики вызываются синхронно в порядке подписки
// и должны быть быстрыми; паника обработчика не роняет публикующего.
type Bus struct {
	mu       sync.RWMutex
	seq      int
	handlers map[int]Handler
	order    []int
}

func NewBus() *Bus {
	return &Bus{handlers: make(map[int]Handler)}
}

// Subscribe registers h and returns a func removing it.
func (b *Bus) Subscribe(h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	id := b.seq
	b.handlers[id] = h
	b.order = append(b.order, id)
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.handlers, id)
		for i, v := range b.order {
			if v == id {
				b.order = append(b.order[:i], b.order[i+1:]...)
				break
			}
		}
	}
}

func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	hs := make([]Handler, 0, len(b.order))
	for _, id := range b.order {
		hs = append(hs, b.handlers[id])
	}
	b.mu.RUnlock()

	for _, h := range hs {
		b.deliver(h, ev)
	}
}

func (b *Bus) deliver(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("event handler panic", "type", string(ev.Type), "load_id", ev.LoadID, "panic", r)
		}
	}()
	h(ev)
}

// Recorder collects events; handy for tests and the UI's last-N feed.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Handle(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *Recorder) Count(t Type) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}

type Nop struct{}

func (Nop) Publish(Event) {}
