// Package queue provides the black-box task queue contract the Rendition
// Runner is dispatched through, plus the cross-worker primitives a Runner
// needs to coordinate with its siblings: a per-job lock for the atomic job
// completion critical section, and a revocation registry so stopping one
// Output can cancel its siblings by background_task_id, possibly running
// on a different worker.
package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Dispatcher is the black-box task queue spec.md §1 describes: "enqueue(task,
// args, queue)". Real deployments wire this to a broker (Celery, SQS,
// whatever); InProcessDispatcher below is the reference implementation used
// when none is configured.
type Dispatcher interface {
	Enqueue(backgroundTaskID, jobID, outputID, queueName string) error
}

// Runner is the minimal surface InProcessDispatcher needs from the
// Rendition Runner, narrowed to an interface so this package never imports
// runner (which itself imports pipeline, manifest, webhook — importing it
// here would be a cycle back through job/queue's own dependents).
type Runner interface {
	Run(backgroundTaskID, jobID, outputID string) error
}

// InProcessDispatcher runs each task on its own goroutine in the calling
// process instead of handing it to a broker — the "single worker, no
// external queue" deployment mode, matching InMemoryLocker's reasoning for
// development and tests.
type InProcessDispatcher struct {
	runner Runner
}

func NewInProcessDispatcher(runner Runner) *InProcessDispatcher {
	return &InProcessDispatcher{runner: runner}
}

func (d *InProcessDispatcher) Enqueue(backgroundTaskID, jobID, outputID, _ string) error {
	go d.runner.Run(backgroundTaskID, jobID, outputID)
	return nil
}

// Locker acquires a distributed, job-scoped mutual-exclusion lock: the
// mechanism behind spec.md §5's "per-job critical section (database row
// lock, or equivalent distributed lock keyed by job id)". Unlock is
// idempotent.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// InMemoryLocker backs a single process with a plain mutex map — used when
// no Redis URL is configured, so unit tests and local single-worker runs
// don't need a broker.
type InMemoryLocker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewInMemoryLocker() *InMemoryLocker {
	return &InMemoryLocker{locks: map[string]*sync.Mutex{}}
}

func (l *InMemoryLocker) lockFor(key string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	return m
}

func (l *InMemoryLocker) Lock(_ context.Context, key string) (func(), error) {
	m := l.lockFor(key)
	m.Lock()
	var once sync.Once
	return func() { once.Do(m.Unlock) }, nil
}

// RedisLocker implements Locker with a Redis SETNX-based lock, so the
// "last-one-in" completion race is serialised across worker processes and
// hosts, not just within one.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: client, ttl: 30 * time.Second}
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := "catalyst-render:lock:" + key
	token := fmt.Sprintf("%d", time.Now().UnixNano())

	deadline := time.Now().Add(l.ttl)
	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquiring redis lock %q: %w", redisKey, err)
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("timed out acquiring redis lock %q", redisKey)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}

	var once sync.Once
	unlock := func() {
		once.Do(func() {
			_ = l.client.Del(context.Background(), redisKey).Err()
		})
	}
	return unlock, nil
}

// revokeChannel is the Redis pub/sub channel a Revoker publishes revoked
// background_task_ids to, so every worker process subscribed to it can
// cancel its own local registration for that id.
const revokeChannel = "catalyst-render:revoke"

// Revoker terminates a sibling Output's task by its background_task_id,
// per spec.md §4.7's ffmpeg-exception path ("revoke every other sibling
// Output's task, with a terminate signal") and §4.6's stop/restart
// handling. With no Redis client it only cancels registrations local to
// this process — enough for a single worker, and for tests. With one, a
// Revoke also publishes the id over revokeChannel and every Revoker
// (including this one, and every sibling worker's) subscribed to that
// channel cancels its own matching local registration, so a stop/restart
// issued against one worker's API reaches tasks owned by another.
type Revoker struct {
	mu        sync.Mutex
	cancelers map[string]context.CancelFunc

	client     *redis.Client
	subscribed context.CancelFunc
}

// NewRevoker returns a Revoker. Pass a nil client to run single-worker
// (in-memory only, no cross-process revocation) — the right mode for unit
// tests and local/dev runs without Redis configured.
func NewRevoker(client *redis.Client) *Revoker {
	r := &Revoker{cancelers: map[string]context.CancelFunc{}, client: client}
	if client != nil {
		ctx, cancel := context.WithCancel(context.Background())
		r.subscribed = cancel
		go r.listen(ctx)
	}
	return r
}

func (r *Revoker) listen(ctx context.Context) {
	sub := r.client.Subscribe(ctx, revokeChannel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			r.revokeLocal(msg.Payload)
		}
	}
}

// Close stops this Revoker's Redis subscription, if any. Safe to call on a
// Revoker constructed with a nil client.
func (r *Revoker) Close() {
	if r.subscribed != nil {
		r.subscribed()
	}
}

// Register associates a background task id with a cancel function and
// returns a context a Runner should select on to notice revocation.
func (r *Revoker) Register(backgroundTaskID string) context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	r.mu.Lock()
	r.cancelers[backgroundTaskID] = cancel
	r.mu.Unlock()
	return ctx
}

// Revoke cancels the context previously returned by Register for id, if
// any is still registered locally, and — when backed by Redis — publishes
// the id so every other worker subscribed to revokeChannel does the same.
func (r *Revoker) Revoke(backgroundTaskID string) {
	r.revokeLocal(backgroundTaskID)
	if r.client != nil {
		_ = r.client.Publish(context.Background(), revokeChannel, backgroundTaskID).Err()
	}
}

func (r *Revoker) revokeLocal(backgroundTaskID string) {
	r.mu.Lock()
	cancel, ok := r.cancelers[backgroundTaskID]
	delete(r.cancelers, backgroundTaskID)
	r.mu.Unlock()
	if ok {
		cancel()
	}
}

func (r *Revoker) Unregister(backgroundTaskID string) {
	r.mu.Lock()
	delete(r.cancelers, backgroundTaskID)
	r.mu.Unlock()
}
