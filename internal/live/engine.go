// Package live turns point-in-time store reads into subscribable streams.
//
// A live query is identified by its key. Subscribers that ask for the same
// key share one query, so a change notification costs one re-read no matter
// how many sockets are watching. The engine implements store.Notifier: the
// store publishes the scopes a committed mutation touched, every live query
// depending on one of those scopes is marked dirty, and its loop re-reads on
// the shared worker pool. Marks that arrive while a read is pending coalesce
// into a single follow-up read.
package live

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/pliu/chatty/internal/store"
	"golang.org/x/sync/semaphore"
)

var ErrEngineClosed = errors.New("live query engine closed")

type Engine struct {
	log  *slog.Logger
	pool *semaphore.Weighted

	mu      sync.Mutex
	closed  bool
	queries map[string]*query
	byScope map[store.Scope]map[*query]struct{}
}

var _ store.Notifier = (*Engine)(nil)

// NewEngine creates an engine whose re-reads run at most workers at a time.
func NewEngine(log *slog.Logger, workers int) *Engine {
	if workers < 1 {
		workers = 1
	}
	return &Engine{
		log:     log,
		pool:    semaphore.NewWeighted(int64(workers)),
		queries: make(map[string]*query),
		byScope: make(map[store.Scope]map[*query]struct{}),
	}
}

// Publish marks every live query depending on one of the scopes as dirty.
// It never blocks on readers or subscribers.
func (e *Engine) Publish(scopes ...store.Scope) {
	e.mu.Lock()
	var dirty []*query
	for _, scope := range scopes {
		for q := range e.byScope[scope] {
			dirty = append(dirty, q)
		}
	}
	e.mu.Unlock()

	for _, q := range dirty {
		q.invalidate()
	}
}

// Len reports how many live queries are active.
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queries)
}

// Close stops every live query and waits for their loops to exit.
// Subscribing afterwards fails with ErrEngineClosed.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	queries := make([]*query, 0, len(e.queries))
	for key, q := range e.queries {
		queries = append(queries, q)
		e.detachLocked(key, q)
	}
	e.mu.Unlock()

	for _, q := range queries {
		q.close()
		<-q.done
	}
}

func (e *Engine) subscribe(key string, scopes []store.Scope, read readFunc, deliver func(any)) (*Subscription, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, ErrEngineClosed
	}

	q, ok := e.queries[key]
	if !ok {
		q = newQuery(e, key, scopes, read)
		e.queries[key] = q
		for _, scope := range scopes {
			if e.byScope[scope] == nil {
				e.byScope[scope] = make(map[*query]struct{})
			}
			e.byScope[scope][q] = struct{}{}
		}
		q.start()
		e.log.Debug("Live query started", "key", key)
	}

	id := q.add(deliver)
	return &Subscription{engine: e, query: q, id: id}, nil
}

func (e *Engine) unsubscribe(q *query, id uint64) {
	e.mu.Lock()
	empty := q.remove(id)
	if empty && e.queries[q.key] == q {
		e.detachLocked(q.key, q)
	}
	e.mu.Unlock()

	if empty {
		q.close()
		e.log.Debug("Live query closed", "key", q.key)
	}
}

func (e *Engine) detachLocked(key string, q *query) {
	delete(e.queries, key)
	for _, scope := range q.scopes {
		if set, ok := e.byScope[scope]; ok {
			delete(set, q)
			if len(set) == 0 {
				delete(e.byScope, scope)
			}
		}
	}
}

func (e *Engine) acquire(ctx context.Context) error {
	return e.pool.Acquire(ctx, 1)
}

func (e *Engine) release() {
	e.pool.Release(1)
}
