// Package observability provides OpenTelemetry tracing and metrics for the
// audit trail service.
//
// Telemetry is off by default and never load-bearing: ingestion, sealing,
// and anchoring behave identically with a disabled provider, and every
// record method on a disabled provider is a no-op.
//
// Initialize at application startup:
//
//	provider, err := observability.New(ctx, &observability.Config{
//		ServiceName:  "audittrail",
//		OTLPEndpoint: "otel-collector:4317",
//		SampleRate:   0.1, // 10% sampling in production
//		Enabled:      true,
//	})
//	defer provider.Shutdown(ctx)
//
// Wire the hot paths through their observer hooks:
//
//	anchorer.WithObserver(provider)
//	sched.WithObserver(provider)
//	server.WithObserver(provider)
//
// Register the depth gauges once the queue and store exist:
//
//	provider.ObservePendingEvents(func(ctx context.Context) (int64, error) {
//		return int64(queue.Len()), nil
//	})
package observability
