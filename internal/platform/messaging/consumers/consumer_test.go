package consumers

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/backoffice-reconciliation/internal/config"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// MockReader replays queued messages, then blocks until the context ends
type MockReader struct {
	mock.Mock
	mu       sync.Mutex
	messages []kafka.Message
}

func (m *MockReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	m.mu.Lock()
	if len(m.messages) > 0 {
		msg := m.messages[0]
		m.messages = m.messages[1:]
		m.mu.Unlock()
		return msg, nil
	}
	m.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (m *MockReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	args := m.Called(msgs)
	return args.Error(0)
}

func (m *MockReader) Close() error {
	args := m.Called()
	return args.Error(0)
}

func TestNewKafkaConsumer(t *testing.T) {
	cfg := &config.KafkaConfig{
		Brokers:       "localhost:9092",
		JobTopic:      "reconciliation_jobs",
		ConsumerGroup: "reconciliation_worker",
		MinBytes:      1024,
		MaxBytes:      10240,
		MaxWait:       time.Second,
	}

	consumer := NewKafkaConsumer(newTestLogger(), cfg)
	require.NotNil(t, consumer)
	require.NotNil(t, consumer.reader, "Kafka reader should be initialized")
	assert.Equal(t, "reconciliation_jobs", consumer.topic)
	assert.Equal(t, "reconciliation_worker", consumer.groupID)
}

func TestKafkaConsumer_Subscribe_CommitsOnlyHandledMessages(t *testing.T) {
	reader := &MockReader{messages: []kafka.Message{
		{Topic: "jobs", Key: []byte("ok"), Value: []byte(`{}`), Offset: 1},
		{Topic: "jobs", Key: []byte("fail"), Value: []byte(`{}`), Offset: 2},
	}}
	reader.On("CommitMessages", mock.MatchedBy(func(msgs []kafka.Message) bool {
		return len(msgs) == 1 && string(msgs[0].Key) == "ok"
	})).Return(nil).Once()

	consumer := &KafkaConsumer{reader: reader, topic: "jobs", groupID: "g", logger: newTestLogger(), done: make(chan struct{})}

	ctx, cancel := context.WithCancel(context.Background())
	var handled sync.WaitGroup
	handled.Add(2)
	handler := func(_ context.Context, key, _ []byte) error {
		defer handled.Done()
		if string(key) == "fail" {
			return errors.New("processing failed")
		}
		return nil
	}

	require.NoError(t, consumer.Subscribe(ctx, handler))
	handled.Wait()
	cancel()

	select {
	case <-consumer.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("consumer loop did not stop after cancel")
	}
	reader.AssertExpectations(t)
	reader.AssertNumberOfCalls(t, "CommitMessages", 1)
}

func TestKafkaConsumer_Close(t *testing.T) {
	t.Run("CloseWithNilReader", func(t *testing.T) {
		consumer := &KafkaConsumer{logger: newTestLogger()}
		require.NoError(t, consumer.Close(), "Close should return nil if reader is nil")
	})

	t.Run("CloseDelegatesToReader", func(t *testing.T) {
		reader := new(MockReader)
		reader.On("Close").Return(nil).Once()
		consumer := &KafkaConsumer{reader: reader, logger: newTestLogger()}
		require.NoError(t, consumer.Close())
		reader.AssertExpectations(t)
	})
}
