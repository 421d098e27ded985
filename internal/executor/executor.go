// Package executor runs independent tasks on a bounded worker pool and
// retries failing tasks with exponential backoff.
package executor

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"
)

var (
	ErrTaskFailed   = errors.New("task failed")
	ErrTaskPanicked = errors.New("task panicked")
	ErrClosed       = errors.New("executor is closed")
)

const DefaultMaxRetries = 10

type Policy struct {
	Workers        int
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64
}

type Hooks struct {
	OnTaskRetry            func(name string, err error, retry int)
	OnTaskPermanentFailure func(name string, err error, retries int)
}

func DefaultPolicy() Policy {
	return Policy{
		Workers:        runtime.NumCPU(),
		MaxRetries:     DefaultMaxRetries,
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     200 * time.Millisecond,
		BackoffFactor:  2.0,
	}
}

func normalizePolicy(policy Policy) Policy {
	def := DefaultPolicy()
	if policy.Workers <= 0 {
		policy.Workers = def.Workers
	}
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}
	if policy.InitialBackoff <= 0 {
		policy.InitialBackoff = def.InitialBackoff
	}
	if policy.MaxBackoff <= 0 {
		policy.MaxBackoff = def.MaxBackoff
	}
	if policy.MaxBackoff < policy.InitialBackoff {
		policy.MaxBackoff = policy.InitialBackoff
	}
	if policy.BackoffFactor < 1 {
		policy.BackoffFactor = def.BackoffFactor
	}
	return policy
}

// Task is one unit of work. Returning an error or panicking makes it
// eligible for retry.
type Task func(ctx context.Context) (any, error)

type Outcome struct {
	Name    string
	Value   any
	Err     error
	Retries int
}

type Future struct {
	name    string
	done    chan struct{}
	outcome Outcome
}

func (f *Future) Name() string {
	return f.name
}

func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the task settles or ctx ends.
func (f *Future) Wait(ctx context.Context) Outcome {
	select {
	case <-f.done:
		return f.outcome
	case <-ctx.Done():
		return Outcome{Name: f.name, Err: ctx.Err()}
	}
}

type Executor struct {
	policy Policy
	hooks  Hooks
	slots  chan struct{}

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func New(policy Policy) *Executor {
	return NewWithHooks(policy, Hooks{})
}

func NewWithHooks(policy Policy, hooks Hooks) *Executor {
	policy = normalizePolicy(policy)
	return &Executor{
		policy: policy,
		hooks:  hooks,
		slots:  make(chan struct{}, policy.Workers),
	}
}

func (e *Executor) Policy() Policy {
	return e.policy
}

// Submit schedules fn and returns immediately. At most Workers tasks run at
// once; a task waiting out its backoff does not hold a worker.
func (e *Executor) Submit(ctx context.Context, name string, fn Task) *Future {
	f := &Future{name: name, done: make(chan struct{})}
	if fn == nil {
		f.outcome = Outcome{Name: name, Err: fmt.Errorf("%w: %s has no runner", ErrTaskFailed, name)}
		close(f.done)
		return f
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		f.outcome = Outcome{Name: name, Err: ErrClosed}
		close(f.done)
		return f
	}
	e.wg.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.wg.Done()
		defer close(f.done)
		f.outcome = e.run(ctx, name, fn)
	}()
	return f
}

func (e *Executor) run(ctx context.Context, name string, fn Task) Outcome {
	backoff := e.policy.InitialBackoff
	retries := 0
	for {
		value, err := e.attempt(ctx, fn)
		if err == nil {
			return Outcome{Name: name, Value: value, Retries: retries}
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Outcome{Name: name, Err: ctxErr, Retries: retries}
		}
		if retries >= e.policy.MaxRetries {
			if e.hooks.OnTaskPermanentFailure != nil {
				e.hooks.OnTaskPermanentFailure(name, err, retries)
			}
			return Outcome{
				Name:    name,
				Err:     fmt.Errorf("%w: %s after %d retries: %w", ErrTaskFailed, name, retries, err),
				Retries: retries,
			}
		}
		retries++
		if e.hooks.OnTaskRetry != nil {
			e.hooks.OnTaskRetry(name, err, retries)
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Outcome{Name: name, Err: ctx.Err(), Retries: retries}
		case <-timer.C:
		}
		next := time.Duration(float64(backoff) * e.policy.BackoffFactor)
		if next > e.policy.MaxBackoff {
			next = e.policy.MaxBackoff
		}
		backoff = next
	}
}

func (e *Executor) attempt(ctx context.Context, fn Task) (value any, err error) {
	select {
	case e.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-e.slots }()
	defer func() {
		if r := recover(); r != nil {
			value = nil
			err = fmt.Errorf("%w: %v", ErrTaskPanicked, r)
		}
	}()
	return fn(ctx)
}

// AwaitAll waits for every future and returns outcomes in submission order.
func AwaitAll(ctx context.Context, futures []*Future) []Outcome {
	out := make([]Outcome, len(futures))
	for i, f := range futures {
		out[i] = f.Wait(ctx)
	}
	return out
}

// Close rejects new submissions and waits for running tasks.
func (e *Executor) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.wg.Wait()
}
