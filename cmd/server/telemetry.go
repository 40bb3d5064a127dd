package main

import (
	"context"
	"log/slog"
	"vastfeedback/internal/components/serviceutil"
	"vastfeedback/internal/components/telemetry"
)

func InitTelemetry(ctx context.Context, verbose bool, cfg telemetry.Config) {
	if verbose {
		slog.DebugContext(ctx, "verbose logging enabled")
	}

	if !cfg.Enabled() {
		slog.Info("no otlp endpoint configured, telemetry export disabled")
		return
	}

	providers, err := telemetry.Setup(ctx, "vastfeedback", cfg)
	if err != nil {
		serviceutil.Fatal("setup telemetry", err)
	}
	go func() {
		<-ctx.Done()
		err := providers.Shutdown(context.Background())
		if err != nil {
			slog.Error("shutdown telemetry", "err", err.Error())
		}
	}()
	telemetry.InstrumentPerfStats(ctx)
}
