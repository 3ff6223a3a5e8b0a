package natsclient

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BIGmindz/chainbridge/event"
)

func TestNewClient_Defaults(t *testing.T) {
	c, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	assert.Equal(t, "nats://localhost:4222", c.URL())
	assert.Equal(t, StatusDisconnected, c.Status())
	assert.False(t, c.IsHealthy())
	assert.Equal(t, time.Second, c.Backoff())
}

func TestNewClient_Options(t *testing.T) {
	c, err := NewClient("nats://localhost:4222",
		WithName("chainsense"),
		WithMaxReconnects(10),
		WithReconnectWait(time.Second),
		WithCircuitBreakerThreshold(3),
		WithMaxBackoff(10*time.Second),
		WithTimeout(time.Second),
	)
	require.NoError(t, err)
	assert.Equal(t, "chainsense", c.clientName)
	assert.Equal(t, 10, c.maxReconnects)
	assert.Equal(t, int32(3), c.circuitThreshold)
}

func TestConnectionStatus_String(t *testing.T) {
	tests := []struct {
		status ConnectionStatus
		want   string
	}{
		{StatusDisconnected, "disconnected"},
		{StatusConnecting, "connecting"},
		{StatusConnected, "connected"},
		{StatusReconnecting, "reconnecting"},
		{StatusCircuitOpen, "circuit_open"},
		{ConnectionStatus(42), "unknown"},
	}
	for _, test := range tests {
		assert.Equal(t, test.want, test.status.String())
	}
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	c, err := NewClient("nats://localhost:4222", WithCircuitBreakerThreshold(3))
	require.NoError(t, err)

	c.recordFailure()
	c.recordFailure()
	assert.NotEqual(t, StatusCircuitOpen, c.Status())

	c.recordFailure()
	assert.Equal(t, StatusCircuitOpen, c.Status())
	assert.Equal(t, 2*time.Second, c.Backoff())
	assert.Equal(t, int32(3), c.Failures())
}

func TestCircuitBreaker_BackoffCapped(t *testing.T) {
	c, err := NewClient("nats://localhost:4222",
		WithCircuitBreakerThreshold(1), WithMaxBackoff(4*time.Second))
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		c.recordFailure()
	}
	assert.Equal(t, 4*time.Second, c.Backoff())
}

func TestCircuitBreaker_Reset(t *testing.T) {
	c, err := NewClient("nats://localhost:4222", WithCircuitBreakerThreshold(1))
	require.NoError(t, err)

	c.recordFailure()
	require.Equal(t, StatusCircuitOpen, c.Status())

	c.resetCircuit()
	assert.Equal(t, StatusDisconnected, c.Status())
	assert.Equal(t, int32(0), c.Failures())
	assert.Equal(t, time.Second, c.Backoff())
}

func TestClient_OperationsWhenDisconnected(t *testing.T) {
	c, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	_, err = c.JetStream()
	assert.ErrorIs(t, err, ErrNotConnected)

	err = c.Subscribe(context.Background(), "chainbridge.events.>", nil)
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestClient_CloseIdempotent(t *testing.T) {
	c, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	assert.NoError(t, c.Close(context.Background()))
	assert.NoError(t, c.Close(context.Background()))
}

func TestEmitter_Subject(t *testing.T) {
	e := &Emitter{subject: "chainbridge.events"}
	assert.Equal(t, "chainbridge.events.iot_geofence_enter", e.Subject(event.TypeIoTGeofenceEnter))
	assert.Equal(t, "chainbridge.events.edi_status_update", e.Subject(event.TypeEDIStatusUpdate))
}

func TestEmitter_NilEvent(t *testing.T) {
	c, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	e := &Emitter{client: c, subject: "chainbridge.events"}
	assert.Error(t, e.Emit(context.Background(), nil))
}
