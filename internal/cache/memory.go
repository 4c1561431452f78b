package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/maypok86/otter/v2/stats"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// Options configures a Memory cache.
type Options[T any] struct {
	// MaxSize is the entry capacity. When full, the oldest inserted entry is
	// evicted.
	MaxSize int

	// SweepInterval is how often expired entries are removed in the
	// background. Zero disables the sweep; expired entries are still removed
	// when read.
	SweepInterval time.Duration

	// IsEmpty reports values that GetOrFetch must not cache. Defaults to
	// never empty.
	IsEmpty func(T) bool
}

// Memory is a process-local TTL cache with insertion-order eviction and an
// entity index. All methods are safe for concurrent use.
type Memory[T any] struct {
	mu      sync.Mutex
	items   map[string]*list.Element
	order   *list.List // front is the oldest insertion
	index   map[string]map[string]struct{}
	maxSize int

	// clock advances on every invalidation made while fetches are in flight.
	// invalidated holds the clock at which each entity was last invalidated,
	// and inflight counts running fetches by the clock they started at. A
	// fill is dropped only if one of its own entities was invalidated after
	// its fetch started.
	clock       uint64
	invalidated map[string]uint64
	inflight    map[uint64]int

	isEmpty func(T) bool
	group   singleflight.Group
	counter *stats.Counter

	stopCh chan struct{}
	doneCh chan struct{}
	once   sync.Once
}

type entry[T any] struct {
	key       string
	value     T
	expiresAt time.Time
	entityIDs []string
}

// NewMemory creates a cache and starts the background sweep if configured.
// Call Close to stop it.
func NewMemory[T any](opts Options[T]) *Memory[T] {
	maxSize := opts.MaxSize
	if maxSize < 1 {
		maxSize = 1
	}

	isEmpty := opts.IsEmpty
	if isEmpty == nil {
		isEmpty = func(T) bool { return false }
	}

	m := &Memory[T]{
		items:   make(map[string]*list.Element),
		order:   list.New(),
		index:   make(map[string]map[string]struct{}),
		maxSize: maxSize,

		invalidated: make(map[string]uint64),
		inflight:    make(map[uint64]int),

		isEmpty: isEmpty,
		counter: stats.NewCounter(),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}

	if opts.SweepInterval > 0 {
		go m.sweepLoop(opts.SweepInterval)
	} else {
		close(m.doneCh)
	}

	return m
}

// Get retrieves a value if present and unexpired. Every call counts as a hit
// or a miss.
func (m *Memory[T]) Get(ctx context.Context, key string) (T, bool) {
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	el, ok := m.items[key]
	if !ok {
		m.counter.RecordMisses(1)
		var zero T
		return zero, false
	}

	e := el.Value.(*entry[T])
	if !e.expiresAt.After(now) {
		m.removeLocked(el)
		m.counter.RecordMisses(1)
		var zero T
		return zero, false
	}

	m.counter.RecordHits(1)
	return e.value, true
}

// Set inserts or replaces an entry. Replacing a key moves it to the newest
// insertion position.
func (m *Memory[T]) Set(ctx context.Context, key string, value T, ttl time.Duration, entityIDs ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.setLocked(key, value, ttl, entityIDs)
}

func (m *Memory[T]) setLocked(key string, value T, ttl time.Duration, entityIDs []string) {
	if el, ok := m.items[key]; ok {
		m.removeLocked(el)
	}

	for len(m.items) >= m.maxSize {
		oldest := m.order.Front()
		if oldest == nil {
			break
		}
		m.removeLocked(oldest)
		m.counter.RecordEviction(1)
	}

	ids := make([]string, 0, len(entityIDs))
	for _, id := range entityIDs {
		if id != "" {
			ids = append(ids, id)
		}
	}

	e := &entry[T]{
		key:       key,
		value:     value,
		expiresAt: time.Now().Add(ttl),
		entityIDs: ids,
	}
	m.items[key] = m.order.PushBack(e)

	for _, id := range ids {
		keys, ok := m.index[id]
		if !ok {
			keys = make(map[string]struct{})
			m.index[id] = keys
		}
		keys[key] = struct{}{}
	}
}

// Delete removes a single key and its index memberships.
func (m *Memory[T]) Delete(ctx context.Context, key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if el, ok := m.items[key]; ok {
		m.removeLocked(el)
	}
}

// Invalidate removes every key indexed under entityID and the index entry
// itself. The cost is proportional to the number of keys removed.
func (m *Memory[T]) Invalidate(ctx context.Context, entityID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.inflight) > 0 {
		m.clock++
		m.invalidated[entityID] = m.clock
	}

	keys := m.index[entityID]
	removed := 0
	for key := range keys {
		if el, ok := m.items[key]; ok {
			m.removeLocked(el)
			removed++
		}
	}
	delete(m.index, entityID)

	return removed
}

// GetOrFetch returns a cached value or loads it with fetch. Concurrent misses
// for the same key share a single fetch. The shared fetch is detached from
// the cancellation of the caller that started it; each caller stops waiting
// when its own context is done. Errors and empty results are returned but
// never cached, so a transient failure does not block later retries.
func (m *Memory[T]) GetOrFetch(ctx context.Context, key string, ttl time.Duration, fetch FetchFunc[T]) (T, error) {
	if value, ok := m.Get(ctx, key); ok {
		return value, nil
	}

	fetchCtx := context.WithoutCancel(ctx)
	ch := m.group.DoChan(key, func() (any, error) {
		return m.load(fetchCtx, key, ttl, fetch)
	})

	select {
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case res := <-ch:
		if res.Shared {
			log.Debug().Str("key", key).Msg("cache fetch shared with concurrent caller")
		}
		value, _ := res.Val.(T)
		return value, res.Err
	}
}

// load runs fetch and stores a non-empty result, unless one of the entities
// it is indexed under was invalidated while the fetch was running.
func (m *Memory[T]) load(ctx context.Context, key string, ttl time.Duration, fetch FetchFunc[T]) (T, error) {
	m.mu.Lock()
	started := m.clock
	m.inflight[started]++
	m.mu.Unlock()

	begin := time.Now()
	value, entityIDs, err := fetch(ctx)
	if err != nil {
		m.counter.RecordLoadFailure(time.Since(begin))
	} else {
		m.counter.RecordLoadSuccess(time.Since(begin))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	defer m.finishLoadLocked(started)

	if err != nil || m.isEmpty(value) {
		return value, err
	}

	for _, id := range entityIDs {
		if m.invalidated[id] > started {
			log.Debug().Str("key", key).Str("entity", id).Msg("invalidated during fetch, result not cached")
			return value, nil
		}
	}
	m.setLocked(key, value, ttl, entityIDs)

	return value, nil
}

// finishLoadLocked retires a fetch and forgets invalidations that no running
// fetch can still observe.
func (m *Memory[T]) finishLoadLocked(started uint64) {
	m.inflight[started]--
	if m.inflight[started] <= 0 {
		delete(m.inflight, started)
	}

	if len(m.inflight) == 0 {
		clear(m.invalidated)
		return
	}

	oldest := m.clock
	for clock := range m.inflight {
		oldest = min(oldest, clock)
	}
	for id, clock := range m.invalidated {
		if clock <= oldest {
			delete(m.invalidated, id)
		}
	}
}

// Sweep removes every expired entry, returning the number removed.
func (m *Memory[T]) Sweep() int {
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for el := m.order.Front(); el != nil; {
		next := el.Next()
		if !el.Value.(*entry[T]).expiresAt.After(now) {
			m.removeLocked(el)
			removed++
		}
		el = next
	}

	return removed
}

func (m *Memory[T]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

func (m *Memory[T]) Stats() Stats {
	snapshot := m.counter.Snapshot()
	return Stats{
		Hits:      snapshot.Hits,
		Misses:    snapshot.Misses,
		Evictions: snapshot.Evictions,
		HitRate:   snapshot.HitRatio(),
		Size:      m.Len(),
	}
}

// Close stops the sweep goroutine and waits for it to exit. Close is safe to
// call more than once.
func (m *Memory[T]) Close() error {
	m.once.Do(func() {
		close(m.stopCh)
	})
	<-m.doneCh
	return nil
}

// removeLocked drops an entry from the store, the insertion order and every
// index set it belongs to. Index sets left empty are deleted.
func (m *Memory[T]) removeLocked(el *list.Element) {
	e := el.Value.(*entry[T])

	m.order.Remove(el)
	delete(m.items, e.key)

	for _, id := range e.entityIDs {
		keys, ok := m.index[id]
		if !ok {
			continue
		}
		delete(keys, e.key)
		if len(keys) == 0 {
			delete(m.index, id)
		}
	}
}

func (m *Memory[T]) sweepLoop(interval time.Duration) {
	defer close(m.doneCh)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			if removed := m.Sweep(); removed > 0 {
				log.Debug().Int("removed", removed).Msg("expired cache entries swept")
			}
		}
	}
}
