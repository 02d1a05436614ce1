package live

import (
	"context"
	"reflect"
	"sync"

	"github.com/pliu/chatty/internal/store"
)

type State int

const (
	Idle State = iota
	Active
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Active:
		return "active"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Query describes a read and the scopes whose changes can alter its result.
// Queries with equal keys must perform the same read.
type Query[T any] struct {
	Key    string
	Scopes []store.Scope
	Read   func(ctx context.Context) (T, error)
}

// Subscribe attaches deliver to the live query for q.Key, starting it if
// needed. deliver first receives the current value, then every value that
// differs from the previous emission. It is called from a single goroutine
// per query and must not block.
func Subscribe[T any](e *Engine, q Query[T], deliver func(T)) (*Subscription, error) {
	read := func(ctx context.Context) (any, error) { return q.Read(ctx) }
	return e.subscribe(q.Key, q.Scopes, read, func(v any) { deliver(v.(T)) })
}

type Subscription struct {
	engine *Engine
	query  *query
	id     uint64
	once   sync.Once
}

// Unsubscribe detaches the subscriber. The last one out closes the query.
// It is safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.engine.unsubscribe(s.query, s.id)
	})
}

// State reports the state of the underlying live query.
func (s *Subscription) State() State {
	return s.query.currentState()
}

type readFunc func(ctx context.Context) (any, error)

type query struct {
	engine *Engine
	key    string
	scopes []store.Scope
	read   readFunc

	ctx    context.Context
	cancel context.CancelFunc
	dirty  chan struct{}
	done   chan struct{}

	mu      sync.Mutex
	state   State
	subs    map[uint64]func(any)
	nextID  uint64
	last    any
	hasLast bool
}

func newQuery(e *Engine, key string, scopes []store.Scope, read readFunc) *query {
	ctx, cancel := context.WithCancel(context.Background())
	return &query{
		engine: e,
		key:    key,
		scopes: scopes,
		read:   read,
		ctx:    ctx,
		cancel: cancel,
		dirty:  make(chan struct{}, 1),
		done:   make(chan struct{}),
		subs:   make(map[uint64]func(any)),
	}
}

func (q *query) start() {
	q.mu.Lock()
	q.state = Active
	q.mu.Unlock()

	q.invalidate()
	go q.run()
}

// invalidate schedules a re-read. A pending mark absorbs new ones.
func (q *query) invalidate() {
	select {
	case q.dirty <- struct{}{}:
	default:
	}
}

func (q *query) run() {
	defer close(q.done)
	for {
		select {
		case <-q.ctx.Done():
			return
		case <-q.dirty:
		}

		if err := q.engine.acquire(q.ctx); err != nil {
			return
		}
		value, err := q.read(q.ctx)
		q.engine.release()

		if err != nil {
			if q.ctx.Err() != nil {
				return
			}
			q.engine.log.Warn("Live query read failed, waiting for next change", "key", q.key, "error", err)
			continue
		}
		q.emit(value)
	}
}

func (q *query) emit(value any) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.state != Active {
		return
	}
	if q.hasLast && reflect.DeepEqual(q.last, value) {
		return
	}
	q.last, q.hasLast = value, true
	for _, deliver := range q.subs {
		deliver(value)
	}
}

// add registers a subscriber and hands it the current value when one is
// already known; otherwise the pending first read will reach it.
func (q *query) add(deliver func(any)) uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.nextID++
	id := q.nextID
	q.subs[id] = deliver
	if q.hasLast {
		deliver(q.last)
	}
	return id
}

// remove drops a subscriber and reports whether none remain, in which case
// the query is already Closed.
func (q *query) remove(id uint64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.subs, id)
	if len(q.subs) > 0 || q.state == Closed {
		return false
	}
	q.state = Closed
	return true
}

func (q *query) close() {
	q.mu.Lock()
	q.state = Closed
	q.subs = map[uint64]func(any){}
	q.mu.Unlock()
	q.cancel()
}

func (q *query) currentState() State {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}
