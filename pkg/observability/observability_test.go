package observability

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	require.Equal(t, "audittrail", config.ServiceName)
	require.Equal(t, "dev", config.ServiceVersion)
	require.Equal(t, "development", config.Environment)
	require.Equal(t, "localhost:4317", config.OTLPEndpoint)
	require.Equal(t, 1.0, config.SampleRate)
	require.False(t, config.Enabled, "telemetry must be opt-in")
	require.False(t, config.Insecure)
}

func TestNewProviderDisabled(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, p)

	// Everything is usable, nothing records.
	require.NotNil(t, p.Tracer())
	require.NotNil(t, p.Meter())

	ctx := context.Background()
	p.RecordEventEnqueued(ctx, "deploy")
	p.RecordBatchSealed(ctx, 3)
	p.RecordAnchorAttempt(ctx, "confirmed", 120*time.Millisecond)
}

func TestNewProviderWithNilConfig(t *testing.T) {
	p, err := New(context.Background(), nil)
	require.NoError(t, err)
	require.NotNil(t, p)
}

func TestNewProviderEnabled(t *testing.T) {
	// The OTLP gRPC exporters dial lazily, so creation succeeds without a
	// collector listening. Export failures surface later and are logged,
	// never returned.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	p, err := New(ctx, &Config{
		ServiceName:  "audittrail-test",
		OTLPEndpoint: "localhost:4317",
		SampleRate:   0.5,
		BatchTimeout: time.Second,
		Enabled:      true,
		Insecure:     true,
	})
	require.NoError(t, err)

	p.RecordEventEnqueued(ctx, "deploy")
	p.RecordBatchSealed(ctx, 3)
	p.RecordAnchorAttempt(ctx, "retryable", 40*time.Millisecond)

	require.NoError(t, p.ObservePendingEvents(func(context.Context) (int64, error) {
		return 4, nil
	}))
	require.NoError(t, p.ObserveUnanchoredBatches(func(context.Context) (int64, error) {
		return 1, nil
	}))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer shutdownCancel()
	require.NoError(t, p.Shutdown(shutdownCtx))
}

func TestObserveGaugesDisabled(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)

	called := false
	require.NoError(t, p.ObservePendingEvents(func(context.Context) (int64, error) {
		called = true
		return 0, nil
	}))
	require.NoError(t, p.ObserveUnanchoredBatches(func(context.Context) (int64, error) {
		called = true
		return 0, nil
	}))
	require.False(t, called, "disabled provider must not register callbacks")
}

func TestStartSpan(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)

	ctx, span := p.StartSpan(context.Background(), "seal_batch")
	require.NotNil(t, ctx)
	require.NotNil(t, span)
	span.End()
}

func TestShutdownDisabled(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.Shutdown(ctx))
}

func TestLogger(t *testing.T) {
	logger := Logger(slog.LevelWarn)
	require.NotNil(t, logger)
	require.False(t, logger.Enabled(context.Background(), slog.LevelInfo))
	require.True(t, logger.Enabled(context.Background(), slog.LevelWarn))
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	require.Equal(t, slog.LevelInfo, ParseLevel("INFO"))
	require.Equal(t, slog.LevelWarn, ParseLevel("warn"))
	require.Equal(t, slog.LevelError, ParseLevel("error"))
	require.Equal(t, slog.LevelInfo, ParseLevel("verbose"), "unknown levels fall back to info")
	require.Equal(t, slog.LevelInfo, ParseLevel(""))
}
