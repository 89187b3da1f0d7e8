// Package gamify is an embeddable gamification engine. It ingests domain
// events, evaluates a rule set over them, and fans reward side-effects out
// to pluggable modules (points, badges, ...), webhook subscribers, metric
// counters, and real-time observers.
//
// Basic usage:
//
//	engine := gamify.New(cfg, logger)
//	engine.RegisterModule(points.New(pointsCfg))
//	if err := engine.Init(ctx); err != nil {
//		log.Fatal(err)
//	}
//	result, err := engine.Track(ctx, "purchase.complete", map[string]any{
//		"userId": "u1", "amount": 42,
//	})
package gamify

import "log/slog"

// Logger is the structured logging contract used across the engine and its
// modules. Messages carry variadic key-value pairs:
//
//	logger.Info("points awarded", "userId", userID, "points", n)
//
// The interface is satisfied trivially by wrappers over slog, zap, logrus
// and similar libraries; NewSlogLogger adapts the standard library's slog.
type Logger interface {
	// Info logs a normal operational event.
	Info(msg string, args ...any)

	// Error logs a failure that should be surfaced.
	Error(msg string, args ...any)

	// Warn logs an unusual condition that does not prevent operation.
	Warn(msg string, args ...any)

	// Debug logs diagnostic detail, typically disabled in production.
	Debug(msg string, args ...any)
}

// SlogLogger adapts *slog.Logger to the Logger interface.
type SlogLogger struct {
	logger *slog.Logger
}

// NewSlogLogger wraps an slog logger. A nil argument uses slog.Default().
func NewSlogLogger(logger *slog.Logger) *SlogLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogLogger{logger: logger}
}

// Slog returns the underlying slog logger, for packages that take one
// directly.
func (l *SlogLogger) Slog() *slog.Logger { return l.logger }

func (l *SlogLogger) Info(msg string, args ...any)  { l.logger.Info(msg, args...) }
func (l *SlogLogger) Error(msg string, args ...any) { l.logger.Error(msg, args...) }
func (l *SlogLogger) Warn(msg string, args ...any)  { l.logger.Warn(msg, args...) }
func (l *SlogLogger) Debug(msg string, args ...any) { l.logger.Debug(msg, args...) }
