package nats

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	natsserver "github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"swap-engine/internal/config"
)

func TestConnect_NilConfig(t *testing.T) {
	client, err := Connect(nil, nil)

	assert.Error(t, err)
	assert.Nil(t, client)
	assert.Equal(t, "config is required", err.Error())
}

func TestConnect_EmptyURL(t *testing.T) {
	client, err := Connect(&config.NATS{}, nil)

	assert.Error(t, err)
	assert.Nil(t, client)
	assert.Equal(t, "nats url is required", err.Error())
}

func TestNilConnection(t *testing.T) {
	client := &Client{}

	assert.False(t, client.Ready())
	assert.Equal(t, nats.DISCONNECTED, client.Status())
	assert.NoError(t, client.Close())
	assert.Error(t, client.Publish(context.Background(), "trades.pending", "x"))
}

func runTestWithInMemoryNATS(t *testing.T, testFunc func(*testing.T, *server.Server, string)) {
	t.Helper()

	opts := natsserver.DefaultTestOptions
	opts.Port = -1
	s := natsserver.RunServer(&opts)
	defer s.Shutdown()

	testFunc(t, s, s.ClientURL())
}

func TestPublish_PrefixedSubject(t *testing.T) {
	runTestWithInMemoryNATS(t, func(t *testing.T, s *server.Server, url string) {
		client, err := Connect(&config.NATS{URL: url, Prefix: "swap"}, nil)
		require.NoError(t, err)
		defer client.Close()

		sub, err := nats.Connect(url)
		require.NoError(t, err)
		defer sub.Close()

		msgs := make(chan *nats.Msg, 1)
		_, err = sub.ChanSubscribe("swap.trades.success", msgs)
		require.NoError(t, err)
		require.NoError(t, sub.Flush())

		err = client.Publish(context.Background(), "trades.success", map[string]string{"intent_id": "abc"})
		require.NoError(t, err)

		select {
		case msg := <-msgs:
			var got map[string]string
			require.NoError(t, json.Unmarshal(msg.Data, &got))
			assert.Equal(t, "abc", got["intent_id"])
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for message")
		}
	})
}

func TestClose_Idempotent(t *testing.T) {
	runTestWithInMemoryNATS(t, func(t *testing.T, s *server.Server, url string) {
		client, err := Connect(&config.NATS{URL: url}, nil)
		require.NoError(t, err)
		assert.True(t, client.Ready())

		assert.NoError(t, client.Close())
		assert.NoError(t, client.Close())
		assert.Equal(t, nats.CLOSED, client.Status())
	})
}

func TestPublish_CancelledContext(t *testing.T) {
	runTestWithInMemoryNATS(t, func(t *testing.T, s *server.Server, url string) {
		client, err := Connect(&config.NATS{URL: url}, nil)
		require.NoError(t, err)
		defer client.Close()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		assert.ErrorIs(t, client.Publish(ctx, "trades.failed", "x"), context.Canceled)
	})
}
