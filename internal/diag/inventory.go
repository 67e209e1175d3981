package diag

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/keithlinneman/bucketedge/internal/log"
	"github.com/keithlinneman/bucketedge/internal/storage"
	"github.com/keithlinneman/bucketedge/internal/xerrors"
)

// Metrics receives the totals of each completed run.
type Metrics interface {
	ObserveInventory(objects int, bytes int64, complete bool, at time.Time)
}

type Options struct {
	Bucket  storage.Bucket
	Logger  log.Logger
	Metrics Metrics

	// WatchKeys are probed with Head on every run.
	WatchKeys []string

	// MinInterval between two runs. Default 30s.
	MinInterval time.Duration

	// Concurrency bounds in-flight bucket calls per run. Default 8.
	Concurrency int
}

type KeyStatus struct {
	Key          string    `json:"key"`
	Present      bool      `json:"present"`
	Size         int64     `json:"size,omitempty"`
	ETag         string    `json:"etag,omitempty"`
	LastModified time.Time `json:"last_modified,omitzero"`
	Error        string    `json:"error,omitempty"`
}

type Report struct {
	TakenAt    time.Time   `json:"taken_at"`
	DurationMs int64       `json:"duration_ms"`
	Objects    int         `json:"objects"`
	Bytes      int64       `json:"bytes"`
	ListError  string      `json:"list_error,omitempty"`
	Watched    []KeyStatus `json:"watched"`
	Complete   bool        `json:"complete"`
	Cached     bool        `json:"cached"`
}

type Inventory struct {
	bucket      storage.Bucket
	logger      log.Logger
	metrics     Metrics
	watch       []string
	concurrency int

	// mu serializes runs and guards last
	mu      sync.Mutex
	limiter *rate.Limiter
	last    *Report

	now func() time.Time
}

func New(opts Options) (*Inventory, error) {
	if opts.Bucket == nil {
		return nil, xerrors.New("diag: bucket is required")
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	if opts.MinInterval <= 0 {
		opts.MinInterval = 30 * time.Second
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 8
	}
	watch := make([]string, 0, len(opts.WatchKeys))
	seen := make(map[string]bool, len(opts.WatchKeys))
	for _, k := range opts.WatchKeys {
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		watch = append(watch, k)
	}
	return &Inventory{
		bucket:      opts.Bucket,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
		watch:       watch,
		concurrency: opts.Concurrency,
		limiter:     rate.NewLimiter(rate.Every(opts.MinInterval), 1),
		now:         time.Now,
	}, nil
}

// Snapshot returns a fresh report, or the previous one when the last run
// was less than MinInterval ago. Bucket failures land in the report.
func (inv *Inventory) Snapshot(ctx context.Context) Report {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	if !inv.limiter.AllowN(inv.now(), 1) && inv.last != nil {
		cached := *inv.last
		cached.Cached = true
		return cached
	}

	rep := inv.run(ctx)
	inv.last = &rep
	return rep
}

func (inv *Inventory) run(ctx context.Context) Report {
	L := log.FromContextOr(ctx, inv.logger)
	start := inv.now()

	rep := Report{
		TakenAt: start.UTC(),
		Watched: make([]KeyStatus, len(inv.watch)),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(inv.concurrency)

	g.Go(func() error {
		objs, err := inv.bucket.List(gctx)
		if err != nil {
			L.Error(gctx, err, "inventory list failed")
			rep.ListError = err.Error()
			return nil
		}
		for _, o := range objs {
			rep.Objects++
			rep.Bytes += o.Size
		}
		return nil
	})

	for i, key := range inv.watch {
		g.Go(func() error {
			rep.Watched[i] = inv.probe(gctx, L, key)
			return nil
		})
	}

	// goroutines only record failures
	_ = g.Wait()

	rep.Complete = rep.ListError == ""
	for _, ks := range rep.Watched {
		if ks.Error != "" {
			rep.Complete = false
		}
	}
	rep.DurationMs = inv.now().Sub(start).Milliseconds()

	if inv.metrics != nil {
		inv.metrics.ObserveInventory(rep.Objects, rep.Bytes, rep.Complete, start)
	}
	L.Debug(ctx, "inventory complete",
		"objects", rep.Objects,
		"bytes", rep.Bytes,
		"complete", rep.Complete,
		"duration_ms", rep.DurationMs,
	)
	return rep
}

func (inv *Inventory) probe(ctx context.Context, L log.Logger, key string) KeyStatus {
	info, err := inv.bucket.Head(ctx, key)
	switch {
	case err == nil:
		return KeyStatus{
			Key:          key,
			Present:      true,
			Size:         info.Size,
			ETag:         info.ETag,
			LastModified: info.LastModified,
		}
	case storage.IsNotFound(err):
		L.Warn(ctx, "watched key missing from bucket", "key", key)
		return KeyStatus{Key: key}
	default:
		L.Error(ctx, err, "inventory head failed", "key", key)
		return KeyStatus{Key: key, Error: err.Error()}
	}
}
