// Package lock serializes balance mutations per account.
package lock

import (
	"context"
	"sort"
	"sync"
)

// Locker acquires exclusive ownership of a set of keys. Keys are always taken
// in sorted order so two callers locking overlapping sets cannot deadlock.
// The returned unlock func releases every key and is safe to call once.
type Locker interface {
	Lock(ctx context.Context, keys ...string) (unlock func(), err error)
}

// AccountKeys maps account ids to lock keys.
func AccountKeys(ids ...string) []string {
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" {
			keys = append(keys, "account:"+id)
		}
	}
	return keys
}

// normalize sorts and de-duplicates keys.
func normalize(keys []string) []string {
	out := append([]string(nil), keys...)
	sort.Strings(out)
	n := 0
	for i, k := range out {
		if i > 0 && k == out[n-1] {
			continue
		}
		out[n] = k
		n++
	}
	return out[:n]
}

type slot struct {
	ch   chan struct{}
	refs int
}

// Local is an in-process Locker backed by one semaphore per key.
type Local struct {
	mu    sync.Mutex
	slots map[string]*slot
}

// NewLocal creates an in-process locker.
func NewLocal() *Local {
	return &Local{slots: make(map[string]*slot)}
}

func (l *Local) acquireSlot(key string) *slot {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	return s
}

func (l *Local) releaseSlot(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.slots[key]
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}

func (l *Local) Lock(ctx context.Context, keys ...string) (func(), error) {
	keys = normalize(keys)
	held := make([]string, 0, len(keys))
	slots := make([]*slot, 0, len(keys))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			<-slots[i].ch
			l.releaseSlot(held[i])
		}
	}

	for _, key := range keys {
		s := l.acquireSlot(key)
		select {
		case s.ch <- struct{}{}:
			held = append(held, key)
			slots = append(slots, s)
		case <-ctx.Done():
			l.releaseSlot(key)
			release()
			return nil, ctx.Err()
		}
	}

	var once sync.Once
	return func() { once.Do(release) }, nil
}

// Nop is a Locker that never blocks. For single-writer deployments and tests.
type Nop struct{}

func (Nop) Lock(context.Context, ...string) (func(), error) { return func() {}, nil }
