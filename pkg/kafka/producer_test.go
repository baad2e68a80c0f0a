package kafka

import (
	"context"
	"errors"
	"testing"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeWriter struct {
	written []kafkago.Message
	err     error
	closed  bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafkago.Message) error {
	f.written = append(f.written, msgs...)
	return f.err
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestProducer_KeysByEntity(t *testing.T) {
	w := &fakeWriter{}
	p := newProducer(w, zap.NewNop())

	require.NoError(t, p.Publish(context.Background(), "donation-events",
		[]byte(`{"event_type":"donation.completed","donation_id":"d-1"}`)))
	require.NoError(t, p.Publish(context.Background(), "withdrawal-events",
		[]byte(`{"event_type":"withdrawal.failed","withdrawal_id":"w-1"}`)))

	require.Len(t, w.written, 2)
	assert.Equal(t, "donation-events", w.written[0].Topic)
	assert.Equal(t, []byte("d-1"), w.written[0].Key)
	require.Len(t, w.written[0].Headers, 1)
	assert.Equal(t, "event_type", w.written[0].Headers[0].Key)
	assert.Equal(t, []byte("donation.completed"), w.written[0].Headers[0].Value)
	assert.Equal(t, []byte("w-1"), w.written[1].Key)
}

func TestProducer_OpaquePayload(t *testing.T) {
	w := &fakeWriter{}
	p := newProducer(w, zap.NewNop())

	require.NoError(t, p.Publish(context.Background(), "t", []byte(`not json`)))
	assert.Nil(t, w.written[0].Key)
	assert.Empty(t, w.written[0].Headers)
}

func TestProducer_Errors(t *testing.T) {
	w := &fakeWriter{err: errors.New("leader not available")}
	p := newProducer(w, zap.NewNop())

	assert.ErrorIs(t, p.Publish(context.Background(), "", []byte(`{}`)), ErrNoTopic)
	assert.Empty(t, w.written)

	err := p.Publish(context.Background(), "t", []byte(`{}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "leader not available")

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}
