package reconcile

import (
	"context"
	"sync"
)

// Result is what a transition left behind.
type Result struct {
	Snapshot    Snapshot
	Diagnostics []Diagnostic
}

type job struct {
	name     string
	readOnly bool
	fn       func(*Controller) error
	done     chan jobResult
}

type jobResult struct {
	res Result
	err error
}

// Loop serializes every transition of one Controller on a single goroutine.
// Observers never see a half-applied transition: they get a deep copy taken
// after it completed.
type Loop struct {
	c    *Controller
	jobs chan job
	stop chan struct{}
	once sync.Once

	mu     sync.Mutex
	subs   map[int]chan Snapshot
	nextID int
}

func NewLoop(c *Controller) *Loop {
	return &Loop{
		c:    c,
		jobs: make(chan job),
		stop: make(chan struct{}),
		subs: map[int]chan Snapshot{},
	}
}

// Run processes transitions until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	defer l.once.Do(func() { close(l.stop) })
	l.c.logger.Info().Msg("reconcile loop started")
	for {
		select {
		case <-ctx.Done():
			l.c.logger.Info().Msg("reconcile loop stopped")
			return ctx.Err()
		case j := <-l.jobs:
			err := j.fn(l.c)
			if j.readOnly {
				j.done <- jobResult{err: err}
				continue
			}
			l.c.commit(j.name)
			res := Result{Snapshot: l.c.Snapshot(), Diagnostics: l.c.Diagnostics()}
			l.publish(res.Snapshot)
			j.done <- jobResult{res: res, err: err}
		}
	}
}

// Do runs fn as one transition and waits for it. The returned error is fn's.
func (l *Loop) Do(ctx context.Context, name string, fn func(*Controller) error) (Result, error) {
	return l.submit(ctx, job{name: name, fn: fn})
}

// Dispatch applies an inbound event as one transition.
func (l *Loop) Dispatch(ctx context.Context, ev Event) (Result, error) {
	return l.Do(ctx, ev.Name(), func(c *Controller) error {
		c.Apply(ev)
		return nil
	})
}

// Read runs fn on the loop goroutine without committing a transition. fn
// must not mutate the controller.
func (l *Loop) Read(ctx context.Context, fn func(*Controller) error) error {
	_, err := l.submit(ctx, job{name: "read", readOnly: true, fn: fn})
	return err
}

// Snapshot returns the current state.
func (l *Loop) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := l.Read(ctx, func(c *Controller) error {
		snap = c.Snapshot()
		return nil
	})
	return snap, err
}

func (l *Loop) submit(ctx context.Context, j job) (Result, error) {
	j.done = make(chan jobResult, 1)
	select {
	case l.jobs <- j:
	case <-l.stop:
		return Result{}, ErrStopped
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
	// An accepted job always completes.
	r := <-j.done
	return r.res, r.err
}

// Subscribe returns a channel that receives the snapshot after each
// transition. Slow subscribers only see the latest one.
func (l *Loop) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)
	l.mu.Lock()
	id := l.nextID
	l.nextID++
	l.subs[id] = ch
	l.mu.Unlock()
	return ch, func() {
		l.mu.Lock()
		delete(l.subs, id)
		l.mu.Unlock()
	}
}

func (l *Loop) publish(s Snapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, ch := range l.subs {
		select {
		case <-ch:
		default:
		}
		ch <- s
	}
}
