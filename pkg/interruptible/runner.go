// Package interruptible runs multi-step computations so that at most one
// invocation per Runner is current. Starting a new invocation supersedes the
// previous one, which stops at its next guard point and resolves Superseded.
//
// Cancellation is cooperative: the superseded run's pending operation sees its
// context cancelled, but anything the operation already did is not undone.
package interruptible

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
)

var (
	ErrNilComputation = errors.New("start function returned a nil computation")
	ErrNilOperation   = errors.New("computation yielded a nil operation")
)

type Option func(*options)

type options struct {
	log      logr.Logger
	newRunID func() string
}

// WithLogger sets the logger used for run lifecycle messages.
func WithLogger(log logr.Logger) Option {
	return func(o *options) {
		o.log = log
	}
}

// WithTokenSource overrides how run identifiers are generated for log lines.
// They are independent of the generation token that decides which run is
// current.
func WithTokenSource(newRunID func() string) Option {
	return func(o *options) {
		o.newRunID = newRunID
	}
}

type Runner[A, R any] struct {
	start    StartFunc[A, R]
	log      logr.Logger
	newRunID func() string

	mu sync.Mutex
	// current is the token of the run allowed to make progress, 0 if none
	current uint64
	// last is the most recently minted token; tokens are never reused
	last   uint64
	cancel context.CancelFunc

	hasRun atomic.Bool
}

func New[A, R any](start StartFunc[A, R], opts ...Option) *Runner[A, R] {
	o := options{
		log:      logr.Discard(),
		newRunID: func() string { return uuid.New().String() },
	}

	for _, opt := range opts {
		opt(&o)
	}

	return &Runner[A, R]{start: start, log: o.log, newRunID: o.newRunID}
}

type invocation struct {
	ctx    context.Context
	cancel context.CancelFunc
	token  uint64
	log    logr.Logger
}

// Invoke supersedes any in-flight run and drives a new computation built from
// args until it finishes, fails, or is itself superseded.
func (r *Runner[A, R]) Invoke(ctx context.Context, args A) (Result[R], error) {
	r.hasRun.Store(true)

	return r.run(r.begin(ctx), args)
}

// InvokeAsync is Invoke on a separate goroutine. The new run is already
// current when InvokeAsync returns.
func (r *Runner[A, R]) InvokeAsync(ctx context.Context, args A) <-chan Outcome[R] {
	r.hasRun.Store(true)

	current := r.begin(ctx)
	out := make(chan Outcome[R], 1)

	go func() {
		defer close(out)

		result, err := r.run(current, args)
		out <- Outcome[R]{Result: result, Err: err}
	}()

	return out
}

func (r *Runner[A, R]) HasBeenCalledAtLeastOnce() bool {
	return r.hasRun.Load()
}

// Interrupt invalidates the current run, if any, and cancels the context of
// its pending operation. It does not wait for the run to stop.
func (r *Runner[A, R]) Interrupt() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.interruptLocked()
}

func (r *Runner[A, R]) interruptLocked() {
	if r.current == 0 {
		return
	}

	r.current = 0

	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
}

func (r *Runner[A, R]) begin(ctx context.Context) invocation {
	runCtx, cancel := context.WithCancel(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()

	r.interruptLocked()

	r.last++
	r.current = r.last
	r.cancel = cancel

	return invocation{
		ctx:    runCtx,
		cancel: cancel,
		token:  r.current,
		log:    r.log.WithValues("run", r.newRunID()),
	}
}

func (r *Runner[A, R]) finish(current invocation) {
	r.mu.Lock()
	if r.current == current.token {
		r.cancel = nil
	}
	r.mu.Unlock()

	current.cancel()
}

func (r *Runner[A, R]) isCurrent(token uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.current == token
}

func (r *Runner[A, R]) run(current invocation, args A) (Result[R], error) {
	defer r.finish(current)

	log := current.log
	log.V(1).Info("Run started")

	computation := r.start(args)
	if computation == nil {
		return Result[R]{}, ErrNilComputation
	}

	var value any

	for n := 0; ; n++ {
		if !r.isCurrent(current.token) {
			log.V(1).Info("Run superseded before step", "step", n)
			return Superseded[R](), nil
		}

		step, err := computation.Resume(value)
		if err != nil {
			return r.failed(current, n, err)
		}

		if step.Done() {
			log.V(1).Info("Run completed", "steps", n)
			return Completed(step.result), nil
		}

		if !r.isCurrent(current.token) {
			log.V(1).Info("Run superseded before operation", "step", n)
			return Superseded[R](), nil
		}

		if step.op == nil {
			return Result[R]{}, fmt.Errorf("step %d: %w", n, ErrNilOperation)
		}

		value, err = step.op(current.ctx)
		if err != nil {
			return r.failed(current, n, err)
		}
	}
}

// failed converts a failure into a Superseded result when the run has
// already been overtaken, so callers only ever see errors for runs that
// were still current.
func (r *Runner[A, R]) failed(current invocation, n int, err error) (Result[R], error) {
	if !r.isCurrent(current.token) {
		current.log.V(1).Info("Discarding failure of superseded run", "step", n, "error", err.Error())
		return Superseded[R](), nil
	}

	return Result[R]{}, fmt.Errorf("step %d: %w", n, err)
}
