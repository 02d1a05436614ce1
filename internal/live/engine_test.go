package live_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/pliu/chatty/internal/filter"
	"github.com/pliu/chatty/internal/live"
	"github.com/pliu/chatty/internal/models"
	"github.com/pliu/chatty/internal/store"
	"github.com/pliu/chatty/internal/store/sqlstore"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

// source is a value behind a scope, counting reads.
type source struct {
	mu    sync.Mutex
	value int
	err   error
	gate  chan struct{}
	reads atomic.Int32
}

func (s *source) set(v int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.value = v
}

func (s *source) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *source) query(key string) live.Query[int] {
	return live.Query[int]{
		Key:    key,
		Scopes: []store.Scope{"source"},
		Read: func(ctx context.Context) (int, error) {
			s.reads.Add(1)
			if s.gate != nil {
				select {
				case <-s.gate:
				case <-ctx.Done():
					return 0, ctx.Err()
				}
			}
			s.mu.Lock()
			defer s.mu.Unlock()
			return s.value, s.err
		},
	}
}

func collect[T any]() (chan T, func(T)) {
	ch := make(chan T, 64)
	return ch, func(v T) { ch <- v }
}

func next[T any](t *testing.T, ch chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for emission")
	}
	var zero T
	return zero
}

func quiet[T any](t *testing.T, ch chan T) {
	t.Helper()
	select {
	case v := <-ch:
		t.Fatalf("unexpected emission %v", v)
	case <-time.After(50 * time.Millisecond):
	}
}

func newEngine(t *testing.T, workers int) *live.Engine {
	t.Helper()
	engine := live.NewEngine(logs.GetLoggerFromLevel(slog.LevelDebug), workers)
	t.Cleanup(engine.Close)
	return engine
}

func TestSubscribe_EmitsCurrentThenChanges(t *testing.T) {
	req := require.New(t)
	engine := newEngine(t, 2)
	src := &source{value: 1}

	ch, deliver := collect[int]()
	sub, err := live.Subscribe(engine, src.query("k"), deliver)
	req.NoError(err)
	defer sub.Unsubscribe()

	req.Equal(1, next(t, ch))
	req.Equal(live.Active, sub.State())

	src.set(2)
	engine.Publish("source")
	req.Equal(2, next(t, ch))

	engine.Publish("unrelated")
	quiet(t, ch)
}

func TestSubscribe_SkipsEqualValues(t *testing.T) {
	req := require.New(t)
	engine := newEngine(t, 2)
	src := &source{value: 1}

	ch, deliver := collect[int]()
	sub, err := live.Subscribe(engine, src.query("k"), deliver)
	req.NoError(err)
	defer sub.Unsubscribe()
	req.Equal(1, next(t, ch))

	engine.Publish("source")
	req.Eventually(func() bool { return src.reads.Load() == 2 }, waitFor, tick)
	quiet(t, ch)
}

func TestSubscribe_SharesQueriesByKey(t *testing.T) {
	req := require.New(t)
	engine := newEngine(t, 2)
	src := &source{value: 1}

	first, deliverFirst := collect[int]()
	subA, err := live.Subscribe(engine, src.query("shared"), deliverFirst)
	req.NoError(err)
	req.Equal(1, next(t, first))

	second, deliverSecond := collect[int]()
	subB, err := live.Subscribe(engine, src.query("shared"), deliverSecond)
	req.NoError(err)
	req.Equal(1, next(t, second))
	req.Equal(1, engine.Len())
	req.EqualValues(1, src.reads.Load())

	src.set(5)
	engine.Publish("source")
	req.Equal(5, next(t, first))
	req.Equal(5, next(t, second))
	req.EqualValues(2, src.reads.Load())

	subA.Unsubscribe()
	req.Equal(live.Active, subB.State())
	req.Equal(1, engine.Len())

	subB.Unsubscribe()
	req.Equal(live.Closed, subB.State())
	req.Equal(0, engine.Len())
}

func TestPublish_CoalescesBursts(t *testing.T) {
	req := require.New(t)
	engine := newEngine(t, 1)
	src := &source{value: 1, gate: make(chan struct{})}

	ch, deliver := collect[int]()
	sub, err := live.Subscribe(engine, src.query("k"), deliver)
	req.NoError(err)
	defer sub.Unsubscribe()

	src.gate <- struct{}{}
	req.Equal(1, next(t, ch))

	src.set(2)
	engine.Publish("source")
	req.Eventually(func() bool { return src.reads.Load() == 2 }, waitFor, tick)

	// The re-read is parked on the gate; the burst collapses into a single
	// pending follow-up.
	for range 20 {
		engine.Publish("source")
	}
	src.gate <- struct{}{}
	req.Equal(2, next(t, ch))

	src.gate <- struct{}{}
	req.Eventually(func() bool { return src.reads.Load() == 3 }, waitFor, tick)
	quiet(t, ch)
	req.EqualValues(3, src.reads.Load())
}

func TestUnsubscribe_ClosesAndStopsDelivery(t *testing.T) {
	req := require.New(t)
	engine := newEngine(t, 2)
	src := &source{value: 1}

	ch, deliver := collect[int]()
	sub, err := live.Subscribe(engine, src.query("k"), deliver)
	req.NoError(err)
	req.Equal(1, next(t, ch))

	sub.Unsubscribe()
	sub.Unsubscribe()
	req.Equal(live.Closed, sub.State())
	req.Equal(0, engine.Len())

	src.set(2)
	engine.Publish("source")
	quiet(t, ch)
}

func TestReadFailure_KeepsSubscription(t *testing.T) {
	req := require.New(t)
	engine := newEngine(t, 2)
	src := &source{value: 1}

	ch, deliver := collect[int]()
	sub, err := live.Subscribe(engine, src.query("k"), deliver)
	req.NoError(err)
	defer sub.Unsubscribe()
	req.Equal(1, next(t, ch))

	src.fail(errors.New("database is locked"))
	engine.Publish("source")
	req.Eventually(func() bool { return src.reads.Load() == 2 }, waitFor, tick)
	quiet(t, ch)
	req.Equal(live.Active, sub.State())

	src.fail(nil)
	src.set(3)
	engine.Publish("source")
	req.Equal(3, next(t, ch))
}

func TestClose(t *testing.T) {
	req := require.New(t)
	engine := live.NewEngine(logs.GetLoggerFromLevel(slog.LevelDebug), 2)
	src := &source{value: 1}

	ch, deliver := collect[int]()
	sub, err := live.Subscribe(engine, src.query("k"), deliver)
	req.NoError(err)
	req.Equal(1, next(t, ch))

	engine.Close()
	req.Equal(live.Closed, sub.State())
	req.Equal(0, engine.Len())
	sub.Unsubscribe()

	_, err = live.Subscribe(engine, src.query("k"), deliver)
	req.ErrorIs(err, live.ErrEngineClosed)
}

func TestConversationsFor_FollowsSentMessages(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	engine := newEngine(t, 4)

	sanitizer, err := filter.New([]string{"darn"}, '*')
	req.NoError(err)
	s, err := sqlstore.New("sqlite3", ":memory:", sqlstore.WithSanitizer(sanitizer), sqlstore.WithNotifier(engine))
	req.NoError(err)
	defer s.Close()

	for _, u := range []models.User{{Username: "alice", DisplayName: "Alice"}, {Username: "bob", DisplayName: "Bob"}} {
		user := u
		user.Password = "hash"
		req.NoError(s.CreateUser(ctx, &user))
	}
	conversation, err := s.CreateConversation(ctx, "bob", "", true)
	req.NoError(err)
	req.NoError(s.AddMember(ctx, conversation.ID, "alice"))

	ch, deliver := collect[[]models.Conversation]()
	sub, err := live.Subscribe(engine, live.ConversationsFor(s, "alice"), deliver)
	req.NoError(err)
	defer sub.Unsubscribe()

	initial := next(t, ch)
	req.Len(initial, 1)
	req.Equal("Alice, Bob", initial[0].Name)

	_, err = s.SendMessage(ctx, conversation.ID, "bob", "well darn")
	req.NoError(err)

	req.Eventually(func() bool {
		for {
			select {
			case list := <-ch:
				if len(list) == 1 && list[0].LastMessage != nil && list[0].LastMessage.Text == "well ****" {
					return true
				}
			default:
				return false
			}
		}
	}, waitFor, tick)
}

func TestThreadMessages_FollowsThread(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	engine := newEngine(t, 4)

	s, err := sqlstore.New("sqlite3", ":memory:", sqlstore.WithNotifier(engine))
	req.NoError(err)
	defer s.Close()
	req.NoError(s.CreateUser(ctx, &models.User{Username: "alice", DisplayName: "Alice", Password: "hash"}))

	conversation, err := s.CreateConversation(ctx, "alice", "", true)
	req.NoError(err)

	messages, deliver := collect[[]models.Message]()
	sub, err := live.Subscribe(engine, live.ThreadMessages(s, conversation.ID, 2), deliver)
	req.NoError(err)
	defer sub.Unsubscribe()
	req.Len(next(t, messages), 1)

	members, deliverMembers := collect[[]models.User]()
	membersSub, err := live.Subscribe(engine, live.Members(s, conversation.ID), deliverMembers)
	req.NoError(err)
	defer membersSub.Unsubscribe()
	req.Len(next(t, members), 1)

	for _, text := range []string{"one", "two", "three"} {
		_, err := s.SendMessage(ctx, conversation.ID, "alice", text)
		req.NoError(err)
	}
	req.Eventually(func() bool {
		for {
			select {
			case page := <-messages:
				if len(page) == 2 && page[0].Text == "three" && page[1].Text == "two" {
					return true
				}
			default:
				return false
			}
		}
	}, waitFor, tick)
}
