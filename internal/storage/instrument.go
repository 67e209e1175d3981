package storage

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Observer receives one observation per bucket call. result is "hit",
// "miss" or "error".
type Observer interface {
	ObserveStorageOp(op, result string, seconds float64)
}

type instrumented struct {
	next   Bucket
	obs    Observer
	tracer trace.Tracer
}

// Instrument wraps b so every call gets a span and a metrics observation.
// A nil obs records spans only.
func Instrument(b Bucket, obs Observer) Bucket {
	return &instrumented{
		next:   b,
		obs:    obs,
		tracer: otel.Tracer("github.com/keithlinneman/bucketedge/internal/storage"),
	}
}

func (i *instrumented) Get(ctx context.Context, key string) (*Object, error) {
	ctx, done := i.start(ctx, "get", key)
	obj, err := i.next.Get(ctx, key)
	done(err)
	return obj, err
}

func (i *instrumented) Head(ctx context.Context, key string) (ObjectInfo, error) {
	ctx, done := i.start(ctx, "head", key)
	info, err := i.next.Head(ctx, key)
	done(err)
	return info, err
}

func (i *instrumented) List(ctx context.Context) ([]ObjectInfo, error) {
	ctx, done := i.start(ctx, "list", "")
	objs, err := i.next.List(ctx)
	done(err)
	return objs, err
}

func (i *instrumented) start(ctx context.Context, op, key string) (context.Context, func(error)) {
	began := time.Now()
	ctx, span := i.tracer.Start(ctx, "storage."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("storage.op", op)),
	)
	if key != "" {
		span.SetAttributes(attribute.String("storage.key", key))
	}
	return ctx, func(err error) {
		result := "hit"
		switch {
		case IsNotFound(err):
			result = "miss"
		case err != nil:
			result = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(attribute.String("storage.result", result))
		span.End()
		if i.obs != nil {
			i.obs.ObserveStorageOp(op, result, time.Since(began).Seconds())
		}
	}
}
