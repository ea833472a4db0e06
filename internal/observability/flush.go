package observability

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// TracerShutdowner is satisfied by *sdktrace.TracerProvider.
type TracerShutdowner interface {
	Shutdown(ctx context.Context) error
}

// FlushTelemetry flushes telemetry buffers before process exit.
// Prometheus is pull-based; this ends the tracer provider and syncs logs.
// Call during graceful shutdown after in-flight requests have drained.
func FlushTelemetry(ctx context.Context, logger *zap.Logger, tp TracerShutdowner) error {
	var errs []error
	if tp != nil {
		if err := tp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown tracer provider: %w", err))
		}
	}
	if logger != nil {
		if err := logger.Sync(); err != nil {
			errs = append(errs, fmt.Errorf("flush logs: %w", err))
		}
	}
	return errors.Join(errs...)
}
