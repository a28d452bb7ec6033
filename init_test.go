package azfunc

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitializer_ConfiguresOnce(t *testing.T) {
	var calls atomic.Int32
	i := NewInitializer(Config{ServiceName: "simplemath"}, slog.Default())
	i.setup = func(_ context.Context, cfg Config, logger *slog.Logger) (*Telemetry, error) {
		calls.Add(1)
		return New(cfg.ServiceName, WithLogger(logger))
	}

	assert.False(t, i.Configured())

	first, err := i.Telemetry(context.Background())
	require.NoError(t, err)
	second, err := i.Telemetry(context.Background())
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, int32(1), calls.Load())
	assert.True(t, i.Configured())
}

func TestInitializer_Concurrent(t *testing.T) {
	var calls atomic.Int32
	i := NewInitializer(Config{ServiceName: "heartbeat"}, slog.Default())
	i.setup = func(_ context.Context, cfg Config, logger *slog.Logger) (*Telemetry, error) {
		calls.Add(1)
		return New(cfg.ServiceName)
	}

	var wg sync.WaitGroup
	clients := make([]*Telemetry, 16)
	for n := range clients {
		wg.Add(1)
		go func() {
			defer wg.Done()
			clients[n], _ = i.Telemetry(context.Background())
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, c := range clients {
		assert.Same(t, clients[0], c)
	}
}

func TestInitializer_ErrorIsSticky(t *testing.T) {
	var calls atomic.Int32
	setupErr := errors.New("no meter")
	i := NewInitializer(Config{}, slog.Default())
	i.setup = func(context.Context, Config, *slog.Logger) (*Telemetry, error) {
		calls.Add(1)
		return nil, setupErr
	}

	_, err := i.Telemetry(context.Background())
	assert.ErrorIs(t, err, setupErr)
	_, err = i.Telemetry(context.Background())
	assert.ErrorIs(t, err, setupErr)

	assert.Equal(t, int32(1), calls.Load())
	assert.False(t, i.Configured())
}

func TestInitializer_DisabledTelemetryIsNoop(t *testing.T) {
	i := NewInitializer(Config{ServiceName: "simplemath", Enabled: false}, slog.Default())

	tel, err := i.Telemetry(context.Background())
	require.NoError(t, err)
	require.NotNil(t, tel)

	assert.Nil(t, tel.conn)
	assert.Empty(t, tel.providers)
	assert.NoError(t, tel.Flush(context.Background()))
	assert.NoError(t, tel.Shutdown(context.Background()))
}
