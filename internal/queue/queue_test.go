package queue

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	SessionID string `json:"session_id"`
	Outcome   string `json:"outcome"`
}

func TestNewMessageDecode(t *testing.T) {
	msg, err := NewMessage(TypeCheckIn, payload{SessionID: "SS00001", Outcome: "present"})
	require.NoError(t, err)
	assert.Equal(t, TypeCheckIn, msg.Type)

	var got payload
	require.NoError(t, msg.Decode(&got))
	assert.Equal(t, payload{SessionID: "SS00001", Outcome: "present"}, got)
}

func TestInMemoryPublishConsume(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewInMemory(4)
	msgs, err := q.Consume(ctx)
	require.NoError(t, err)

	msg, err := NewMessage(TypeCheckIn, payload{SessionID: "SS00002"})
	require.NoError(t, err)
	require.NoError(t, q.Publish(ctx, msg))

	select {
	case got := <-msgs:
		assert.Equal(t, TypeCheckIn, got.Type)
		assert.JSONEq(t, string(msg.Body), string(got.Body))
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}
}

func TestInMemoryConsumeClosesOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	msgs, err := NewInMemory(1).Consume(ctx)
	require.NoError(t, err)
	cancel()

	select {
	case _, ok := <-msgs:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("consumer channel not closed")
	}
}

func TestInMemoryPublishHonoursContext(t *testing.T) {
	q := NewInMemory(0)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := q.Publish(ctx, Message{Type: TypeCheckIn})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPauseStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	assert.False(t, pause(ctx, time.Minute))
	assert.Less(t, time.Since(start), time.Second)

	assert.True(t, pause(context.Background(), time.Millisecond))
}

func TestRedisConsumeStopsPromptlyWhenUnreachable(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 100 * time.Millisecond})
	defer client.Close()
	q := NewRedisQueue(client, "test:queue", slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	msgs, err := q.Consume(ctx)
	require.NoError(t, err)

	// Let the first pop fail and the consumer start backing off.
	time.Sleep(200 * time.Millisecond)
	cancel()

	select {
	case _, ok := <-msgs:
		assert.False(t, ok)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("consumer kept backing off after cancel")
	}
}
