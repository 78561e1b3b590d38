// Package scheduler drives time in the game: a fixed-interval heartbeat
// over every object that asked for one, and one-shot call-outs drained
// from a persistent due-time queue. Failures in one tick or call-out
// are logged and never stop the rest of the cycle.
package scheduler

import (
	"context"
	"log"
	"time"

	"github.com/duskmud/driver"
	"github.com/duskmud/driver/storage/queue"
	"github.com/duskmud/driver/structs"
	"github.com/pkg/errors"
)

const heartbeatCallbackName = "heartbeat"

// RunFunc executes a callback on an object. Installed by the game
// layer; the run itself is timeout bounded there, which is what keeps
// one slow object from starving the cycle.
type RunFunc func(ctx context.Context, objectID string, call *structs.Call) error

type Options struct {
	HeartbeatInterval time.Duration
}

type Scheduler struct {
	opts  Options
	queue *queue.Queue
	run   RunFunc
	stats *Stats

	heartbeats *driver.SyncMap[string, bool]
	// handles maps the numeric cancel handle to the queue key and
	// back. Both sides are cleaned when an entry fires or is
	// cancelled.
	handles    *driver.SyncMap[uint64, string]
	keys       *driver.SyncMap[string, uint64]
	lastHandle uint64

	cancel context.CancelFunc
	ticked chan struct{} // closed-loop signal for tests
}

func New(opts Options, q *queue.Queue) *Scheduler {
	return &Scheduler{
		opts:       opts,
		queue:      q,
		stats:      NewStats(),
		heartbeats: driver.NewSyncMap[string, bool](),
		handles:    driver.NewSyncMap[uint64, string](),
		keys:       driver.NewSyncMap[string, uint64](),
	}
}

// SetRun installs the sandbox execution hook.
func (s *Scheduler) SetRun(run RunFunc) {
	s.run = run
}

func (s *Scheduler) Stats() *Stats {
	return s.stats
}

// SetHeartbeat toggles obj's membership in the heartbeat set. Disabling
// takes effect no later than the next tick.
func (s *Scheduler) SetHeartbeat(obj *structs.Object, enabled bool) {
	obj.Heartbeat = enabled
	if enabled {
		s.heartbeats.Set(obj.Id, true)
	} else {
		s.heartbeats.Del(obj.Id)
	}
}

// HeartbeatCount returns the size of the heartbeat set.
func (s *Scheduler) HeartbeatCount() int {
	return s.heartbeats.Len()
}

// Forget drops every scheduler registration for an object that is being
// destroyed: its heartbeat and all of its pending call-outs.
func (s *Scheduler) Forget(objectID string) {
	s.heartbeats.Del(objectID)
	// Removals wait until the scan is done; the queue's cursor holds a
	// read lock that Remove would deadlock against.
	var stale []uint64
	var orphaned []string
	if err := s.queue.Each(func(e *queue.Entry) (bool, error) {
		if e.Object == objectID {
			if handle, found := s.keys.GetHas(e.Key); found {
				stale = append(stale, handle)
			} else {
				orphaned = append(orphaned, e.Key)
			}
		}
		return true, nil
	}); err != nil {
		log.Printf("scanning call-outs for %s: %v", objectID, err)
	}
	for _, handle := range stale {
		s.RemoveCallOut(handle)
	}
	for _, key := range orphaned {
		s.queue.Remove(key)
	}
}

// CallOut schedules callback on the object after delay, delivering
// message as the callback argument. The returned handle cancels it.
func (s *Scheduler) CallOut(ctx context.Context, objectID, callback, message string, delay time.Duration) (uint64, error) {
	e := &queue.Entry{
		At:       queue.After(delay),
		Object:   objectID,
		Callback: callback,
		Message:  message,
	}
	if err := s.queue.Push(ctx, e); err != nil {
		return 0, err
	}
	handle := driver.Increment(&s.lastHandle)
	s.handles.Set(handle, e.Key)
	s.keys.Set(e.Key, handle)
	return handle, nil
}

// RemoveCallOut cancels a pending call-out. Reports whether it was
// still pending.
func (s *Scheduler) RemoveCallOut(handle uint64) bool {
	key, found := s.handles.GetHas(handle)
	if !found {
		return false
	}
	s.handles.Del(handle)
	s.keys.Del(key)
	return s.queue.Remove(key)
}

// Reindex reissues cancel handles for call-outs that survived a
// restart. Their old handles died with the previous process.
func (s *Scheduler) Reindex() error {
	return s.queue.Each(func(e *queue.Entry) (bool, error) {
		handle := driver.Increment(&s.lastHandle)
		s.handles.Set(handle, e.Key)
		s.keys.Set(e.Key, handle)
		return true, nil
	})
}

func (s *Scheduler) fire(ctx context.Context, e *queue.Entry) {
	if handle, found := s.keys.GetHas(e.Key); found {
		s.keys.Del(e.Key)
		s.handles.Del(handle)
	}
	if s.run == nil {
		return
	}
	start := time.Now()
	err := s.run(ctx, e.Object, &structs.Call{Name: e.Callback, Message: e.Message})
	s.stats.Record(OpCallOut, e.Object, e.Callback, time.Since(start))
	if err != nil {
		log.Printf("call-out %s on %s: %v", e.Callback, e.Object, err)
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	for id := range s.heartbeats.Keys() {
		if s.run == nil {
			return
		}
		start := time.Now()
		err := s.run(ctx, id, &structs.Call{Name: heartbeatCallbackName})
		s.stats.Record(OpHeartbeat, id, heartbeatCallbackName, time.Since(start))
		if err != nil {
			log.Printf("heartbeat on %s: %v", id, err)
		}
	}
	if s.ticked != nil {
		select {
		case s.ticked <- struct{}{}:
		default:
		}
	}
}

// Start launches the heartbeat ticker and the call-out drain loop. It
// returns immediately; both loops stop when ctx is cancelled or Stop is
// called.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.opts.HeartbeatInterval <= 0 {
		return errors.Errorf("heartbeat interval %v is not positive", s.opts.HeartbeatInterval)
	}
	ctx, s.cancel = context.WithCancel(ctx)
	go func() {
		if err := s.queue.Start(ctx, s.fire); err != nil {
			log.Printf("call-out queue stopped: %v", err)
		}
	}()
	go func() {
		ticker := time.NewTicker(s.opts.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.tick(ctx)
			}
		}
	}()
	return nil
}

// Stop cancels both loops.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}
