package storage

import (
	"context"
	"sync"
)

type heldKey struct{ mailboxID string }

// Locks hands out the per-mailbox exclusive locks. A lock is reentrant for
// the context chain it was acquired on: WithLock called again with a context
// derived from the locked one runs immediately.
type Locks struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

// NewLocks returns an empty lock table.
func NewLocks() *Locks {
	return &Locks{locks: map[string]chan struct{}{}}
}

func (l *Locks) get(mailboxID string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.locks[mailboxID]
	if !ok {
		ch = make(chan struct{}, 1)
		l.locks[mailboxID] = ch
	}
	return ch
}

// WithLock runs fn holding the lock of mailboxID. The context passed to fn
// carries the lock, see Held. Waiting for the lock is aborted when ctx is done.
func (l *Locks) WithLock(ctx context.Context, mailboxID string, fn func(ctx context.Context) error) error {
	if Held(ctx, mailboxID) {
		return fn(ctx)
	}
	ch := l.get(mailboxID)
	select {
	case ch <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-ch }()
	return fn(context.WithValue(ctx, heldKey{mailboxID}, true))
}

// Held reports whether ctx was passed down from WithLock for mailboxID.
func Held(ctx context.Context, mailboxID string) bool {
	v, _ := ctx.Value(heldKey{mailboxID}).(bool)
	return v
}
