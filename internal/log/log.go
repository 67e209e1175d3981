// Package log is the structured logging interface used across bucketedge.
//
// Components receive a Logger through options or the request context and log
// only at their defined observation points. The slog backend enriches records
// with trace/span ids and, at error level, a stack.
package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

type Logger interface {
	With(kv ...any) Logger

	Debug(ctx context.Context, msg string, kv ...any)
	Info(ctx context.Context, msg string, kv ...any)
	Warn(ctx context.Context, msg string, kv ...any)
	Error(ctx context.Context, err error, msg string, kv ...any)

	Sync() error
}

type Options struct {
	App     string
	Version string
	Commit  string
	BuildId string

	Level           slog.Level
	StacktraceLevel slog.Level

	// JsonFormat selects JSON output, otherwise logfmt (or tint when Color is set)
	JsonFormat bool
	// Color renders human readable coloured text, for local development only
	Color bool

	IncludeErrorLinks bool
	MaxErrorLinks     int

	// Writer defaults to os.Stdout
	Writer io.Writer
}

func New(opts Options) (Logger, error) { return newSlog(opts) }

func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %s (valid levels are debug|info|warn|error)", s)
}
