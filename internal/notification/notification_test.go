package notification

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/congo-pay/moneyledger/internal/logging"
)

type failing struct{ err error }

func (f failing) Send(context.Context, Message) error { return f.err }

type recording struct{ got []Message }

func (r *recording) Send(_ context.Context, m Message) error {
	r.got = append(r.got, m)
	return nil
}

func TestRedisNotifierPublishes(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	sub := client.Subscribe(ctx, DefaultChannel)
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	n := NewRedisNotifier(client, "")
	msg := Message{Kind: KindTransferCreated, Destination: "personal:admin-1", Body: "moved 10", Reference: "tr-1"}
	require.NoError(t, n.Send(ctx, msg))

	select {
	case received := <-sub.Channel():
		var decoded Message
		require.NoError(t, json.Unmarshal([]byte(received.Payload), &decoded))
		assert.Equal(t, msg, decoded)
	case <-time.After(2 * time.Second):
		t.Fatal("no message published")
	}
}

func TestMultiDeliversToAllAndJoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	rec := &recording{}
	m := Multi{failing{err: boom}, nil, rec, NewLoggerNotifier(logging.Discard())}

	err := m.Send(context.Background(), Message{Kind: KindTransactionCreated})
	require.ErrorIs(t, err, boom)
	assert.Len(t, rec.got, 1)
}

func TestLoggerNotifierNilSafe(t *testing.T) {
	var n *LoggerNotifier
	assert.NoError(t, n.Send(context.Background(), Message{}))
}
