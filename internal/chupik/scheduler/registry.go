package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrShutdown is returned by Go after Shutdown.
var ErrShutdown = errors.New("scheduler: registry is shut down")

// Task describes a running detached task.
type Task struct {
	ID      string
	Name    string
	Started time.Time
}

// Registry owns fire-and-forget work. Every task runs in its own goroutine
// under a context shared by the registry, and is deregistered when it
// returns, fails or panics. Individual tasks cannot be cancelled; Shutdown
// cancels them all.
type Registry struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	tasks  map[string]Task
	closed bool
	wg     sync.WaitGroup

	// OnChange, when set, is called with the task count after every start
	// and finish.
	OnChange func(active int)
}

// NewRegistry returns a Registry whose tasks inherit parent's values but
// are only cancelled by Shutdown.
func NewRegistry(parent context.Context) *Registry {
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	return &Registry{ctx: ctx, cancel: cancel, tasks: make(map[string]Task)}
}

// Go starts fn as a detached task and returns its id.
func (r *Registry) Go(name string, fn func(ctx context.Context) error) (string, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return "", ErrShutdown
	}
	t := Task{ID: uuid.NewString(), Name: name, Started: time.Now()}
	r.tasks[t.ID] = t
	r.wg.Add(1)
	n := len(r.tasks)
	r.mu.Unlock()
	r.notify(n)

	go r.run(t, fn)
	return t.ID, nil
}

func (r *Registry) run(t Task, fn func(ctx context.Context) error) {
	defer r.wg.Done()
	defer func() {
		if p := recover(); p != nil {
			slog.Error("scheduler: task panicked", "task", t.Name, "id", t.ID, "panic", fmt.Sprint(p), "stack", string(debug.Stack()))
		}
		r.mu.Lock()
		delete(r.tasks, t.ID)
		n := len(r.tasks)
		r.mu.Unlock()
		r.notify(n)
	}()

	if err := fn(r.ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("scheduler: task failed", "task", t.Name, "id", t.ID, "err", err)
	}
}

func (r *Registry) notify(n int) {
	if r.OnChange != nil {
		r.OnChange(n)
	}
}

// Len returns the number of running tasks.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}

// Tasks lists running tasks, oldest first.
func (r *Registry) Tasks() []Task {
	r.mu.Lock()
	out := make([]Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, t)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Started.Before(out[j].Started) })
	return out
}

// Wait blocks until no task is running or ctx is done.
func (r *Registry) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown refuses new tasks, cancels the running ones and waits for them
// until ctx is done.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	n := len(r.tasks)
	r.mu.Unlock()

	if n > 0 {
		slog.Info("scheduler: cancelling detached tasks", "count", n)
	}
	r.cancel()
	return r.Wait(ctx)
}
