// Package observability provides logging, metrics and tracing for the worker
// processes, plus the ops HTTP surface (health, metrics, DLQ inspection).
package observability

import (
	"log/slog"
	"os"

	"github.com/clduab11/pricehawk/internal/config"
)

// SetupLogger configures a JSON slog logger with service and environment
// fields attached to every record.
func SetupLogger(cfg config.Config, component string) *slog.Logger {
	opts := &slog.HandlerOptions{}
	if cfg.IsDev() {
		opts.Level = slog.LevelDebug
	}
	h := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(h).With(
		slog.String("service", cfg.OTELServiceName),
		slog.String("component", component),
		slog.String("env", cfg.AppEnv),
	)
}
