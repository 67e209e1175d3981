package httpmw

import (
	"context"
	"net/http"
	"sync"

	"github.com/keithlinneman/bucketedge/internal/log"
)

type capturedLog struct {
	level  string
	msg    string
	err    error
	fields []any
}

// flatLogger records every call. With returns the same logger so all
// records land in one place; the With kv pairs are kept separately.
type flatLogger struct {
	mu      sync.Mutex
	records []capturedLog
	withs   [][]any
}

func (l *flatLogger) With(kv ...any) log.Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.withs = append(l.withs, kv)
	return l
}

func (l *flatLogger) add(level, msg string, err error, kv []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, capturedLog{level: level, msg: msg, err: err, fields: kv})
}

func (l *flatLogger) Debug(_ context.Context, msg string, kv ...any) { l.add("debug", msg, nil, kv) }
func (l *flatLogger) Info(_ context.Context, msg string, kv ...any)  { l.add("info", msg, nil, kv) }
func (l *flatLogger) Warn(_ context.Context, msg string, kv ...any)  { l.add("warn", msg, nil, kv) }
func (l *flatLogger) Error(_ context.Context, err error, msg string, kv ...any) {
	l.add("error", msg, err, kv)
}
func (l *flatLogger) Sync() error { return nil }

func (l *flatLogger) byLevel(level string) []capturedLog {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []capturedLog
	for _, r := range l.records {
		if r.level == level {
			out = append(out, r)
		}
	}
	return out
}

func fieldValue(fields []any, key string) (any, bool) {
	for i := 0; i+1 < len(fields); i += 2 {
		if k, ok := fields[i].(string); ok && k == key {
			return fields[i+1], true
		}
	}
	return nil, false
}

func (l *flatLogger) withValue(key string) (any, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, kv := range l.withs {
		if v, ok := fieldValue(kv, key); ok {
			return v, true
		}
	}
	return nil, false
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})
