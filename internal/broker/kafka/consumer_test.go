package kafka

import (
	"context"
	"errors"
	"testing"

	pkgerrors "github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
)

type fakeReader struct {
	msgs      []kafka.Message
	err       error
	i         int
	committed []kafka.Message
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if r.i < len(r.msgs) {
		m := r.msgs[r.i]
		r.i++
		return m, nil
	}
	if r.err != nil {
		return kafka.Message{}, r.err
	}
	return kafka.Message{}, errors.New("eof")
}

func (r *fakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *fakeReader) Close() error { return nil }

func TestConsumer_Consume_CallsHandler(t *testing.T) {
	fr := &fakeReader{
		msgs: []kafka.Message{{Key: []byte("D1"), Value: []byte(`{"driver_id":"D1"}`)}},
		err:  errors.New("stop"),
	}
	c := newConsumerWithReader(fr)

	var gotK, gotV []byte
	err := c.Consume(context.Background(), func(k, v []byte) error {
		gotK, gotV = k, v
		return nil
	})
	require.Error(t, err)
	require.Equal(t, []byte("D1"), gotK)
	require.JSONEq(t, `{"driver_id":"D1"}`, string(gotV))
	require.Len(t, fr.committed, 1)
}

func TestConsumer_Consume_HandlerErrorStops(t *testing.T) {
	fr := &fakeReader{msgs: []kafka.Message{{Key: []byte("k"), Value: []byte("v")}}}
	c := newConsumerWithReader(fr)

	want := errors.New("handler failed")
	err := c.Consume(context.Background(), func(k, v []byte) error { return want })
	require.ErrorIs(t, err, want)
	require.Empty(t, fr.committed)
}

func TestNewConsumer_Close(t *testing.T) {
	c := NewConsumer([]string{"localhost:0"}, "dispatch.driver-status", "dispatchbox")
	require.NotNil(t, c)
	require.NoError(t, c.Close())
}

func TestConsumer_Consume_PoisonIsCommitted(t *testing.T) {
	fr := &fakeReader{
		msgs: []kafka.Message{{Key: []byte("D1"), Value: []byte("not json")}, {Key: []byte("D2"), Value: []byte("{}")}},
		err:  errors.New("stop"),
	}
	c := newConsumerWithReader(fr)

	calls := 0
	err := c.Consume(context.Background(), func(k, v []byte) error {
		calls++
		if string(v) == "not json" {
			return pkgerrors.Wrap(ErrPoison, "decode")
		}
		return nil
	})
	require.Error(t, err)
	require.Equal(t, 2, calls)
	require.Len(t, fr.committed, 2)
}
