package cache

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	metricsOnce     sync.Once
	cacheOperations metric.Int64Counter
	cacheDuration   metric.Float64Histogram
	cacheRemovals   metric.Int64Counter
)

func initMetrics() {
	metricsOnce.Do(func() {
		meter := otel.Meter("github.com/chinmina/crm-bridge/internal/cache")

		var err error
		cacheOperations, err = meter.Int64Counter(
			"cache.operations",
			metric.WithDescription("Total cache operations"),
		)
		if err != nil {
			otel.Handle(err)
		}

		cacheDuration, err = meter.Float64Histogram(
			"cache.operation.duration",
			metric.WithDescription("Cache operation duration"),
			metric.WithUnit("s"),
		)
		if err != nil {
			otel.Handle(err)
		}

		cacheRemovals, err = meter.Int64Counter(
			"cache.invalidated_entries",
			metric.WithDescription("Entries removed by entity invalidation"),
		)
		if err != nil {
			otel.Handle(err)
		}
	})
}

// Instrumented wraps a Cache with metrics instrumentation.
type Instrumented[T any] struct {
	wrapped   Cache[T]
	cacheType string
}

// NewInstrumented creates an instrumented cache wrapper.
func NewInstrumented[T any](cache Cache[T], cacheType string) *Instrumented[T] {
	initMetrics()
	return &Instrumented[T]{
		wrapped:   cache,
		cacheType: cacheType,
	}
}

func (i *Instrumented[T]) Get(ctx context.Context, key string) (T, bool) {
	start := time.Now()

	value, found := i.wrapped.Get(ctx, key)

	duration := time.Since(start)
	status := "miss"
	if found {
		status = "hit"
	}
	i.record(ctx, "get", status, duration)

	return value, found
}

func (i *Instrumented[T]) Set(ctx context.Context, key string, value T, ttl time.Duration, entityIDs ...string) {
	start := time.Now()

	i.wrapped.Set(ctx, key, value, ttl, entityIDs...)

	i.record(ctx, "set", "success", time.Since(start))
}

func (i *Instrumented[T]) Delete(ctx context.Context, key string) {
	start := time.Now()

	i.wrapped.Delete(ctx, key)

	i.record(ctx, "delete", "success", time.Since(start))
}

func (i *Instrumented[T]) Invalidate(ctx context.Context, entityID string) int {
	start := time.Now()

	removed := i.wrapped.Invalidate(ctx, entityID)

	i.record(ctx, "invalidate", "success", time.Since(start))
	if cacheRemovals != nil {
		cacheRemovals.Add(ctx, int64(removed),
			metric.WithAttributes(attribute.String("cache.type", i.cacheType)),
		)
	}

	return removed
}

// GetOrFetch records the outcome of the read-through as a whole: "hit" when
// served from cache, "fetched" when loaded and "error" when the fetch failed.
func (i *Instrumented[T]) GetOrFetch(ctx context.Context, key string, ttl time.Duration, fetch FetchFunc[T]) (T, error) {
	start := time.Now()

	fetched := false
	value, err := i.wrapped.GetOrFetch(ctx, key, ttl, func(ctx context.Context) (T, []string, error) {
		fetched = true
		return fetch(ctx)
	})

	status := "hit"
	if err != nil {
		status = "error"
	} else if fetched {
		status = "fetched"
	}
	i.record(ctx, "get_or_fetch", status, time.Since(start))

	return value, err
}

func (i *Instrumented[T]) Len() int {
	return i.wrapped.Len()
}

func (i *Instrumented[T]) Stats() Stats {
	return i.wrapped.Stats()
}

// Close releases any resources held by the cache.
func (i *Instrumented[T]) Close() error {
	return i.wrapped.Close()
}

func (i *Instrumented[T]) record(ctx context.Context, operation, status string, duration time.Duration) {
	i.recordDuration(ctx, operation, duration)
	i.recordOperation(ctx, operation, status)
	i.setSpanAttributes(ctx, operation, status, duration)
}

func (i *Instrumented[T]) recordOperation(ctx context.Context, operation, status string) {
	if cacheOperations == nil {
		return
	}
	cacheOperations.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("cache.type", i.cacheType),
			attribute.String("cache.operation", operation),
			attribute.String("cache.status", status),
		),
	)
}

func (i *Instrumented[T]) recordDuration(ctx context.Context, operation string, duration time.Duration) {
	if cacheDuration == nil {
		return
	}
	cacheDuration.Record(ctx, duration.Seconds(),
		metric.WithAttributes(
			attribute.String("cache.type", i.cacheType),
			attribute.String("cache.operation", operation),
		),
	)
}

func (i *Instrumented[T]) setSpanAttributes(ctx context.Context, operation, status string, duration time.Duration) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.String("cache.type", i.cacheType),
		attribute.String("cache."+operation+".status", status),
		attribute.Float64("cache."+operation+".duration", duration.Seconds()),
	)
}
