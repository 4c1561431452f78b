package crm

import (
	"context"
	"encoding/json"
	"time"

	"github.com/chinmina/crm-bridge/internal/cache"
	"github.com/chinmina/crm-bridge/internal/queue"
	"github.com/chinmina/crm-bridge/internal/transport"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultTTL       = 5 * time.Minute
	defaultFieldsTTL = 24 * time.Hour
)

// Caller performs a single remote call. *transport.Executor implements it.
type Caller interface {
	Call(ctx context.Context, method string, params any) (transport.Response, error)
}

// Options configures a Client.
type Options struct {
	Queue queue.Options

	CacheMaxSize       int
	CacheSweepInterval time.Duration

	// TTL applies to entity and user reads.
	TTL time.Duration

	// FieldsTTL applies to entity field metadata.
	FieldsTTL time.Duration
}

// Client is the entity-level CRM API. Every remote call passes through one
// rate-limited queue; reads are served from a cache that writes invalidate by
// entity. A Client owns its queue and cache: call Close to release them.
type Client struct {
	caller    Caller
	queue     *queue.Queue
	cache     cache.Cache[json.RawMessage]
	ttl       time.Duration
	fieldsTTL time.Duration
	tracer    trace.Tracer
}

// New creates a Client that sends calls through caller.
func New(caller Caller, opts Options) *Client {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	fieldsTTL := opts.FieldsTTL
	if fieldsTTL <= 0 {
		fieldsTTL = defaultFieldsTTL
	}

	memory := cache.NewMemory(cache.Options[json.RawMessage]{
		MaxSize:       opts.CacheMaxSize,
		SweepInterval: opts.CacheSweepInterval,
		IsEmpty:       isEmptyResult,
	})

	return &Client{
		caller:    caller,
		queue:     queue.New(opts.Queue),
		cache:     cache.NewInstrumented[json.RawMessage](memory, "memory"),
		ttl:       ttl,
		fieldsTTL: fieldsTTL,
		tracer:    otel.Tracer("github.com/chinmina/crm-bridge/internal/crm"),
	}
}

// Close stops the cache sweep and waits for queued calls to finish.
func (c *Client) Close() error {
	qerr := c.queue.Close()
	cerr := c.cache.Close()
	if qerr != nil {
		return qerr
	}
	return cerr
}

// Metrics is a point-in-time view of the client's counters. HitRate and the
// current sizes are derived when read.
type Metrics struct {
	CacheHits      uint64  `json:"cacheHits"`
	CacheMisses    uint64  `json:"cacheMisses"`
	CacheEvictions uint64  `json:"cacheEvictions"`
	HitRate        float64 `json:"hitRate"`
	CacheSize      int     `json:"cacheSize"`
	QueueDepth     int     `json:"queueDepth"`
	TasksQueued    uint64  `json:"tasksQueued"`
	TasksProcessed uint64  `json:"tasksProcessed"`
	TasksFailed    uint64  `json:"tasksFailed"`
	TasksRejected  uint64  `json:"tasksRejected"`
}

func (c *Client) Metrics() Metrics {
	cs := c.cache.Stats()
	qs := c.queue.Stats()

	return Metrics{
		CacheHits:      cs.Hits,
		CacheMisses:    cs.Misses,
		CacheEvictions: cs.Evictions,
		HitRate:        cs.HitRate,
		CacheSize:      cs.Size,
		QueueDepth:     qs.Depth,
		TasksQueued:    qs.Queued,
		TasksProcessed: qs.Processed,
		TasksFailed:    qs.Failed,
		TasksRejected:  qs.Rejected,
	}
}

// indexFunc derives the cache index entries for a read result.
type indexFunc func(result json.RawMessage) []string

// lookup is the read path: cache, then queue, then the remote call. Failures
// are logged and reported as an empty result, so callers cannot distinguish
// "absent" from "lookup failed"; Metrics exposes the failure counts.
func (c *Client) lookup(ctx context.Context, method string, params any, ttl time.Duration, index indexFunc) json.RawMessage {
	result, err := c.fetch(ctx, method, params, ttl, index)
	if err != nil {
		log.Warn().Err(err).Str("method", method).Msg("CRM lookup failed, returning empty result")
		return nil
	}
	return result
}

func (c *Client) fetch(ctx context.Context, method string, params any, ttl time.Duration, index indexFunc) (json.RawMessage, error) {
	key, err := cacheKey(method, params)
	if err != nil {
		return nil, err
	}

	return c.cache.GetOrFetch(ctx, key, ttl, func(ctx context.Context) (json.RawMessage, []string, error) {
		resp, err := c.call(ctx, method, params)
		if err != nil {
			return nil, nil, err
		}
		return resp.Result, index(resp.Result), nil
	})
}

// call admits a remote call into the queue and waits for its result.
func (c *Client) call(ctx context.Context, method string, params any) (transport.Response, error) {
	ctx, span := c.tracer.Start(ctx, "crm.call", trace.WithAttributes(attribute.String("crm.method", method)))
	defer span.End()

	resp, err := queue.Do(ctx, c.queue, func(ctx context.Context) (transport.Response, error) {
		return c.caller.Call(ctx, method, params)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "CRM call failed")
		return resp, err
	}

	span.SetStatus(codes.Ok, "")
	return resp, nil
}

// invalidate drops every cached read derived from the given index entries.
func (c *Client) invalidate(ctx context.Context, keys ...string) {
	removed := 0
	for _, key := range keys {
		removed += c.cache.Invalidate(ctx, key)
	}
	log.Debug().Strs("entities", keys).Int("removed", removed).Msg("cache invalidated after write")
}
