package inventory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// Key identifies one ledger row.
type Key struct {
	StoreID string
	SKUID   string
}

func (k Key) String() string {
	return k.StoreID + "/" + k.SKUID
}

// SortKeys returns the distinct keys ordered by store then SKU. Every caller
// that holds more than one key must acquire them in this order.
func SortKeys(keys []Key) []Key {
	seen := make(map[Key]struct{}, len(keys))
	out := make([]Key, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StoreID != out[j].StoreID {
			return out[i].StoreID < out[j].StoreID
		}
		return out[i].SKUID < out[j].SKUID
	})
	return out
}

// KeyLocker hands out one mutex per (store, sku). The mutexes are buffered
// channels so a waiter can give up when its context ends.
type KeyLocker struct {
	locks   *xsync.MapOf[Key, chan struct{}]
	timeout time.Duration
}

// NewKeyLocker returns a locker whose LockAll waits at most timeout. A zero
// timeout waits until the caller's context ends.
func NewKeyLocker(timeout time.Duration) *KeyLocker {
	return &KeyLocker{
		locks:   xsync.NewMapOf[Key, chan struct{}](),
		timeout: timeout,
	}
}

// LockAll acquires every key in sorted order and returns the matching unlock
// func. On failure nothing stays held.
func (l *KeyLocker) LockAll(ctx context.Context, keys []Key) (func(), error) {
	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	sorted := SortKeys(keys)
	held := make([]chan struct{}, 0, len(sorted))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			<-held[i]
		}
	}

	for _, k := range sorted {
		ch, _ := l.locks.LoadOrCompute(k, func() chan struct{} {
			return make(chan struct{}, 1)
		})
		select {
		case ch <- struct{}{}:
			held = append(held, ch)
		case <-ctx.Done():
			release()
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: waiting for %s", ErrLockTimeout, k)
			}
			return nil, ctx.Err()
		}
	}

	var once sync.Once
	return func() { once.Do(release) }, nil
}
