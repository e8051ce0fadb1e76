// Package logger builds the process-wide slog logger.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	slogmulti "github.com/samber/slog-multi"
	slogsentry "github.com/samber/slog-sentry/v2"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/tendant/simple-image/pkg/simpleimage/config"
)

const sentryFlushTimeout = 2 * time.Second

// ParseLevel maps debug, info, warn and error to slog levels. Anything else
// is info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New builds a logger writing to stdout and, when configured, to a rotated
// file and Sentry. Text output in development, JSON in production unless
// cfg.Format says otherwise. The returned close func flushes Sentry and
// closes the file.
func New(cfg config.LogConfig, production bool) (*slog.Logger, func(), error) {
	return newLogger(os.Stdout, cfg, production)
}

func newLogger(stdout io.Writer, cfg config.LogConfig, production bool) (*slog.Logger, func(), error) {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}
	useJSON := cfg.Format == "json" || (cfg.Format == "" && production)

	newHandler := func(w io.Writer) slog.Handler {
		if useJSON {
			return slog.NewJSONHandler(w, opts)
		}
		return slog.NewTextHandler(w, opts)
	}

	var closers []func()
	handlers := []slog.Handler{newHandler(stdout)}

	if cfg.File != "" {
		file := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}
		handlers = append(handlers, newHandler(file))
		closers = append(closers, func() { _ = file.Close() })
	}

	// Sentry receives errors only
	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: cfg.SentryDSN}); err != nil {
			return nil, nil, fmt.Errorf("failed to initialize sentry: %w", err)
		}
		handlers = append(handlers, slogsentry.Option{
			Level: slog.LevelError,
		}.NewSentryHandler())
		closers = append(closers, func() { sentry.Flush(sentryFlushTimeout) })
	}

	var handler slog.Handler
	if len(handlers) > 1 {
		handler = slogmulti.Fanout(handlers...)
	} else {
		handler = handlers[0]
	}

	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	return slog.New(handler), closeAll, nil
}
