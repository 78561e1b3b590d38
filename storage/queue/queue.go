// Package queue is a persistent due-time queue backed by a B-tree: entries
// are keyed by (fire time, registration sequence), so iteration order is
// exactly firing order and pending entries survive a driver restart.
//
// Coordination uses channels instead of sync.Cond so timers and context
// cancellation compose in a single select loop.
package queue

import (
	"context"
	"encoding/binary"
	"os"
	"sync"
	"time"

	driver "github.com/duskmud/driver"
	"github.com/duskmud/driver/storage/dbm"
	"github.com/pkg/errors"
)

var (
	lastSequence uint64 = 0
)

// Entry is one scheduled call-out: which object to call, which script
// callback, and the JSON message to deliver.
type Entry struct {
	Key      string `json:"-"`
	At       uint64 `json:"at"`
	Object   string `json:"object"`
	Callback string `json:"callback"`
	Message  string `json:"message,omitempty"`
}

// createKey builds the tree key: big-endian fire time then a strictly
// increasing sequence, so equal fire times keep registration order.
func (e *Entry) createKey() {
	seq := driver.Increment(&lastSequence)
	k := make([]byte, 16)
	binary.BigEndian.PutUint64(k, e.At)
	binary.BigEndian.PutUint64(k[8:], seq)
	e.Key = string(k)
}

type Handler func(context.Context, *Entry)

type Queue struct {
	tree    *dbm.TypeTree[Entry]
	wake    chan struct{} // buffered(1), signals new entry or close
	done    chan struct{} // closed when Start exits
	mu      sync.Mutex
	started bool
	closed  bool
}

func Open(path string) (*Queue, error) {
	tree, err := dbm.OpenTypeTree[Entry](path)
	if err != nil {
		return nil, driver.WithStack(err)
	}
	return New(tree), nil
}

func New(tree *dbm.TypeTree[Entry]) *Queue {
	return &Queue{
		tree: tree,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

func At(t time.Time) uint64 {
	return uint64(t.UnixNano())
}

func After(dur time.Duration) uint64 {
	return At(time.Now().Add(dur))
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Push schedules the entry and fills in its Key, which is also the cancel
// token.
func (q *Queue) Push(ctx context.Context, e *Entry) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return errors.Errorf("queue is closed")
	}
	q.mu.Unlock()

	e.createKey()
	if err := q.tree.SetT(e.Key, e, false); err != nil {
		return driver.WithStack(err)
	}
	q.signal()
	return nil
}

// Remove cancels a pending entry. Returns whether it was still pending.
func (q *Queue) Remove(key string) bool {
	err := q.tree.Del(key)
	if err == nil {
		q.signal()
	}
	return err == nil
}

// Each visits all pending entries in firing order. Used to reindex cancel
// handles after a restart.
func (q *Queue) Each(f func(e *Entry) (bool, error)) error {
	return q.tree.EachT(func(key string, value *Entry) (bool, error) {
		value.Key = key
		return f(value)
	})
}

func (q *Queue) peekFirst() (*Entry, error) {
	key, res, err := q.tree.FirstT()
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	} else if err != nil {
		return nil, driver.WithStack(err)
	}
	res.Key = key
	return res, nil
}

// Close signals the queue to stop, waits for a running Start to exit, and
// closes the backing tree.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	started := q.started
	q.mu.Unlock()
	q.signal()
	if started {
		<-q.done
	}
	return q.tree.Close()
}

// Start runs the drain loop, calling handler for each entry when its time
// arrives. Entries already overdue after a restart fire immediately, in
// order. Blocks until Close or context cancellation.
func (q *Queue) Start(ctx context.Context, handler Handler) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.started = true
	q.mu.Unlock()
	defer close(q.done)

	if ctx.Err() != nil {
		return driver.WithStack(ctx.Err())
	}

	next, err := q.peekFirst()
	if err != nil {
		return driver.WithStack(err)
	}

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		q.mu.Lock()
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return nil
		}

		for next != nil && next.At <= At(time.Now()) {
			handler(ctx, next)
			if err := q.tree.Del(next.Key); err != nil && !errors.Is(err, os.ErrNotExist) {
				return driver.WithStack(err)
			}
			if next, err = q.peekFirst(); err != nil {
				return driver.WithStack(err)
			}
		}

		var timerC <-chan time.Time
		if next != nil {
			if d := time.Duration(next.At - At(time.Now())); d > 0 {
				timer.Reset(d)
				timerC = timer.C
			} else {
				continue
			}
		}

		select {
		case <-timerC:
		case <-q.wake:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			if next, err = q.peekFirst(); err != nil {
				return driver.WithStack(err)
			}
		case <-ctx.Done():
			return driver.WithStack(ctx.Err())
		}
	}
}
