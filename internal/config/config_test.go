package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewDefaults(t *testing.T) {
	cfg, err := New()
	require.NoError(t, err)

	require.Equal(t, 8080, cfg.HTTP.Port)
	require.Equal(t, "kafka", cfg.Messaging.Driver)
	require.Equal(t, "orders.requests", cfg.Messaging.RPC.RequestTopic)
	require.Equal(t, "orders.replies", cfg.Messaging.RPC.ReplyTopic)
	require.Equal(t, "product.requests", cfg.Messaging.RPC.ProductTopic)
	require.Equal(t, "cart.requests", cfg.Messaging.RPC.CartTopic)
	require.Equal(t, 10*time.Second, cfg.Messaging.RPC.Timeout)
	require.Equal(t, "orders.events", cfg.Messaging.Events.Topic)
	require.Equal(t, 4, cfg.Orders.StockCheckConcurrency)
	require.Equal(t, "orders", cfg.Observability.ServiceName)
}

func TestNewCacheDisabledForcesNoopDriver(t *testing.T) {
	t.Setenv("CACHE_ENABLED", "false")
	t.Setenv("CACHE_DRIVER", "redis")

	cfg, err := New()
	require.NoError(t, err)
	require.False(t, cfg.Cache.Enabled)
	require.Equal(t, "noop", cfg.Cache.Driver)
}

func TestNewRejectsUnknownMessagingDriver(t *testing.T) {
	t.Setenv("MESSAGING_DRIVER", "carrier-pigeon")

	_, err := New()
	require.Error(t, err)
}

func TestNewInprocDriverSkipsKafkaValidation(t *testing.T) {
	t.Setenv("MESSAGING_DRIVER", "inproc")
	t.Setenv("KAFKA_BROKERS", "")

	cfg, err := New()
	require.NoError(t, err)
	require.Equal(t, "inproc", cfg.Messaging.Driver)
}

func TestNewClampsStockCheckConcurrency(t *testing.T) {
	t.Setenv("ORDERS_STOCK_CHECK_CONCURRENCY", "-3")

	cfg, err := New()
	require.NoError(t, err)
	require.Equal(t, 1, cfg.Orders.StockCheckConcurrency)
}
