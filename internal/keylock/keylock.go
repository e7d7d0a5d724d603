// Package keylock provides per-entity mutual exclusion with bounded wait.
//
// Every operation that touches shared state locks the entities it mutates;
// operations on different accounts or markets proceed fully in parallel.
// When an operation needs both an account and a market, locks are taken in
// a fixed global order (account strictly before market) so lock
// acquisition can never deadlock. A caller that cannot acquire a
// lock within the configured wait fails with ErrContention instead of
// hanging, so upstream callers can retry the whole command.
package keylock

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// ErrContention is returned when a lock could not be acquired within the
// bounded wait. The operation did not run; it is safe to retry.
var ErrContention = errors.New("keylock: entity lock contention")

// Registry hands out one lock per entity key. Locks are created lazily and
// kept for the life of the registry (entities are never deleted).
type Registry struct {
	mu      sync.Mutex
	locks   map[string]*semaphore.Weighted
	maxWait time.Duration
}

// NewRegistry creates a lock registry with the given bounded wait per
// acquisition.
func NewRegistry(maxWait time.Duration) *Registry {
	if maxWait <= 0 {
		maxWait = 2 * time.Second
	}
	return &Registry{
		locks:   make(map[string]*semaphore.Weighted),
		maxWait: maxWait,
	}
}

func (r *Registry) lockFor(key string) *semaphore.Weighted {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[key]
	if !ok {
		l = semaphore.NewWeighted(1)
		r.locks[key] = l
	}
	return l
}

// Acquire locks a single entity. The returned release function must be
// called exactly once; callers typically defer it.
func (r *Registry) Acquire(ctx context.Context, key string) (release func(), err error) {
	l := r.lockFor(key)

	ctx, cancel := context.WithTimeout(ctx, r.maxWait)
	defer cancel()

	if err := l.Acquire(ctx, 1); err != nil {
		return nil, ErrContention
	}
	return func() { l.Release(1) }, nil
}

// AcquirePair locks an account and a market in the fixed global order:
// account strictly before market. Namespaced keys keep the order total.
func (r *Registry) AcquirePair(ctx context.Context, accountKey, marketKey string) (release func(), err error) {
	first, second := accountKey, marketKey
	if first == second {
		return r.Acquire(ctx, first)
	}

	rel1, err := r.Acquire(ctx, first)
	if err != nil {
		return nil, err
	}
	rel2, err := r.Acquire(ctx, second)
	if err != nil {
		rel1()
		return nil, err
	}
	return func() {
		rel2()
		rel1()
	}, nil
}

// AccountKey namespaces an account id for lock ordering.
func AccountKey(id string) string { return "account:" + id }

// MarketKey namespaces a market id for lock ordering.
func MarketKey(id string) string { return "market:" + id }
