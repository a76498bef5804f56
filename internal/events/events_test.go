package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBus_FanOutInOrder(t *testing.T) {
	b := NewBus()
	var got []string
	b.Subscribe(func(ev Event) { got = append(got, "first:"+string(ev.Type)) })
	b.Subscribe(func(ev Event) { got = append(got, "second:"+string(ev.Type)) })

	b.Publish(Event{Type: LoadAssigned, LoadID: "L1", OccurredAt: time.Now()})
	require.Equal(t, []string{"first:LoadAssigned", "second:LoadAssigned"}, got)
}

func TestBus_Unsubscribe(t *testing.T) {
	b := NewBus()
	rec := &Recorder{}
	unsub := b.Subscribe(rec.Handle)
	b.Publish(Event{Type: LoadExpired})
	unsub()
	b.Publish(Event{Type: LoadExpired})
	require.Equal(t, 1, rec.Count(LoadExpired))
}

func TestBus_PanicIsolated(t *testing.T) {
	b := NewBus()
	rec := &Recorder{}
	b.Subscribe(func(Event) { panic("boom") })
	b.Subscribe(rec.Handle)

	require.NotPanics(t, func() { b.Publish(Event{Type: TonuFiled}) })
	require.Len(t, rec.Events(), 1)
}
