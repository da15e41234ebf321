package kafka

import (
	"context"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	last []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.last = append([]kafka.Message{}, msgs...)
	return w.err
}

func TestProducer_Publish(t *testing.T) {
	fw := &fakeWriter{}
	p := newProducerWithWriter(fw)

	require.NoError(t, p.Publish(context.Background(), "orders.synced", []byte("normal"), []byte("{}")))
	require.Len(t, fw.last, 1)
	require.Equal(t, "orders.synced", fw.last[0].Topic)
	require.Equal(t, []byte("normal"), fw.last[0].Key)
	require.Equal(t, []byte("{}"), fw.last[0].Value)
	require.NoError(t, p.Close())
}

func TestNewProducer_Close(t *testing.T) {
	p := NewProducer([]string{"localhost:0"})
	require.NotNil(t, p)
	require.NoError(t, p.Close())
}
