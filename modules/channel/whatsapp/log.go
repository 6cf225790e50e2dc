package whatsapp

import (
	"context"
	"fmt"
	"log/slog"

	waLog "go.mau.fi/whatsmeow/util/log"
)

var logLevels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

// slogAdapter routes whatsmeow's printf-style logger into slog.
type slogAdapter struct {
	logger *slog.Logger
	min    slog.Level
}

var _ waLog.Logger = (*slogAdapter)(nil)

func newLogAdapter(logger *slog.Logger, level string) waLog.Logger {
	lvl, ok := logLevels[level]
	if !ok {
		lvl = slog.LevelWarn
	}
	return &slogAdapter{logger: logger, min: lvl}
}

func (a *slogAdapter) log(level slog.Level, msg string, args []any) {
	if level < a.min {
		return
	}
	ctx := context.Background()
	if !a.logger.Enabled(ctx, level) {
		return
	}
	a.logger.Log(ctx, level, fmt.Sprintf(msg, args...))
}

func (a *slogAdapter) Errorf(msg string, args ...any) { a.log(slog.LevelError, msg, args) }
func (a *slogAdapter) Warnf(msg string, args ...any)  { a.log(slog.LevelWarn, msg, args) }
func (a *slogAdapter) Infof(msg string, args ...any)  { a.log(slog.LevelInfo, msg, args) }
func (a *slogAdapter) Debugf(msg string, args ...any) { a.log(slog.LevelDebug, msg, args) }

func (a *slogAdapter) Sub(module string) waLog.Logger {
	return &slogAdapter{logger: a.logger.With("wa_module", module), min: a.min}
}
