package nats

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	sdkerrors "github.com/wehubfusion/Ariadne/pkg/errors"
)

func TestDefaultConnectionConfig(t *testing.T) {
	cfg := DefaultConnectionConfig("nats://localhost:4222")
	assert.Equal(t, "nats://localhost:4222", cfg.URL)
	assert.Equal(t, "ariadne-engine", cfg.Name)
	assert.Equal(t, 10, cfg.MaxReconnects)
	assert.Equal(t, 5*time.Second, cfg.Timeout)
}

func TestConnectRequiresURL(t *testing.T) {
	_, err := Connect(context.Background(), ConnectionConfig{})
	assert.Error(t, err)
}

func TestConnectHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := DefaultConnectionConfig("nats://127.0.0.1:1")
	cfg.MaxReconnects = 0
	cfg.Timeout = 50 * time.Millisecond
	_, err := Connect(ctx, cfg)
	assert.Error(t, err)
}

func TestCloseAndWaitWithNilConnection(t *testing.T) {
	assert.NoError(t, Close(nil))
	assert.True(t, sdkerrors.IsNotConnected(WaitForConnection(context.Background(), nil, time.Millisecond)))
}
