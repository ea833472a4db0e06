package main

import (
	"context"
	"time"

	"go.uber.org/zap"

	httphandler "github.com/kjstillabower/weather-flow-service/internal/http"
)

type shutdownPlan struct {
	HealthGrace           time.Duration
	Timeout               time.Duration
	InFlightTimeout       time.Duration
	InFlightCheckInterval time.Duration
}

// server is satisfied by *http.Server.
type server interface {
	Shutdown(ctx context.Context) error
}

// drain reports shutting-down on /health for the grace period while still
// serving, then closes the listener. Shutdown already waits for active
// requests; the in-flight wait only runs when it gave up early.
func drain(ctx context.Context, srv server, handler *httphandler.Handler, inFlight *httphandler.InFlightTracker, plan shutdownPlan, logger *zap.Logger) error {
	handler.SetShuttingDown(true)
	if plan.HealthGrace > 0 {
		logger.Info("health reports shutting-down", zap.Duration("grace", plan.HealthGrace))
		timer := time.NewTimer(plan.HealthGrace)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), plan.Timeout)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	if err == nil {
		return nil
	}

	logger.Error("server shutdown", zap.Error(err), zap.Int64("in_flight", inFlight.Count()))
	waitCtx, waitCancel := context.WithTimeout(context.WithoutCancel(ctx), plan.InFlightTimeout)
	defer waitCancel()
	if werr := inFlight.WaitForZero(waitCtx, plan.InFlightCheckInterval); werr != nil {
		logger.Warn("in-flight requests not completed", zap.Error(werr), zap.Int64("remaining", inFlight.Count()))
	}
	return err
}
