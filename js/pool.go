package js

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"rogchap.com/v8go"
)

var (
	ErrPoolDisposed = errors.New("isolate pool is disposed")
)

// Options bounds the pool. MemoryLimitMB is a per-isolate heap ceiling:
// an isolate whose heap has grown past it is discarded on release and
// replaced lazily, instead of being recycled.
type Options struct {
	MaxIsolates    int
	MemoryLimitMB  int
	DefaultTimeout time.Duration
}

// Sandbox is one pooled isolate. A fresh v8 context is created for every
// run, so nothing defined in one run is visible to the next, on this or
// any other sandbox.
type Sandbox struct {
	iso        *v8go.Isolate
	executions uint64
	poisoned   bool
}

// Executions returns how many runs this sandbox has been released from.
func (sb *Sandbox) Executions() uint64 {
	return sb.executions
}

// poison marks the sandbox for disposal on release. Used after
// TerminateExecution, since a terminated isolate may hold interrupted
// state we don't want leaking into later runs.
func (sb *Sandbox) poison() {
	sb.poisoned = true
}

// Pool hands out sandboxes up to MaxIsolates, creating them lazily.
// Acquire blocks when all sandboxes are busy.
type Pool struct {
	opts     Options
	mu       sync.Mutex
	idle     chan *Sandbox
	created  int
	disposed bool
	done     chan struct{}
}

func NewPool(opts Options) *Pool {
	if opts.MaxIsolates <= 0 {
		opts.MaxIsolates = 1
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = 200 * time.Millisecond
	}
	return &Pool{
		opts: opts,
		idle: make(chan *Sandbox, opts.MaxIsolates),
		done: make(chan struct{}),
	}
}

func (p *Pool) DefaultTimeout() time.Duration {
	return p.opts.DefaultTimeout
}

// Acquire returns an idle sandbox, creates one if the pool is below its
// maximum, or blocks until one is released. Fails once the pool is
// disposed or the context is cancelled.
func (p *Pool) Acquire(ctx context.Context) (*Sandbox, error) {
	select {
	case sb := <-p.idle:
		return sb, nil
	default:
	}

	p.mu.Lock()
	if p.disposed {
		p.mu.Unlock()
		return nil, errors.WithStack(ErrPoolDisposed)
	}
	if p.created < p.opts.MaxIsolates {
		p.created++
		p.mu.Unlock()
		return &Sandbox{iso: v8go.NewIsolate()}, nil
	}
	p.mu.Unlock()

	select {
	case sb := <-p.idle:
		return sb, nil
	case <-p.done:
		return nil, errors.WithStack(ErrPoolDisposed)
	case <-ctx.Done():
		return nil, errors.WithStack(ctx.Err())
	}
}

// Release returns a sandbox to the pool. Poisoned sandboxes and sandboxes
// whose heap outgrew the memory ceiling are destroyed instead; capacity is
// recovered because the next Acquire may create a replacement.
func (p *Pool) Release(sb *Sandbox) {
	sb.executions++

	discard := sb.poisoned
	if !discard && p.opts.MemoryLimitMB > 0 {
		stats := sb.iso.GetHeapStatistics()
		if stats.TotalHeapSize > uint64(p.opts.MemoryLimitMB)<<20 {
			discard = true
		}
	}

	// The push into idle happens under the same mutex Dispose uses to
	// flip disposed, so a release either lands before Dispose drains
	// idle or sees disposed and destroys the sandbox itself.
	p.mu.Lock()
	if p.disposed {
		discard = true
	}
	if !discard {
		select {
		case p.idle <- sb:
			p.mu.Unlock()
			return
		default:
			// Shouldn't happen (idle is sized to MaxIsolates), but never block.
		}
	}
	p.created--
	p.mu.Unlock()
	sb.iso.Dispose()
}

// Dispose destroys all idle sandboxes and makes every later Acquire fail
// with ErrPoolDisposed. Sandboxes currently in use are destroyed when
// released.
func (p *Pool) Dispose() {
	p.mu.Lock()
	if p.disposed {
		p.mu.Unlock()
		return
	}
	p.disposed = true
	p.mu.Unlock()
	close(p.done)

	for {
		select {
		case sb := <-p.idle:
			p.mu.Lock()
			p.created--
			p.mu.Unlock()
			sb.iso.Dispose()
		default:
			return
		}
	}
}
