// Package scheduler runs keyed, cancellable actions after a delay.
package scheduler

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type TaskStatus string

const (
	TaskPending TaskStatus = "pending"
	TaskRunning TaskStatus = "running"
)

// Task describes a scheduled action.
type Task struct {
	ID     string     `json:"id"`
	Key    string     `json:"key"`
	Name   string     `json:"name"`
	Due    time.Time  `json:"due"`
	Status TaskStatus `json:"status"`
}

type entry struct {
	task   Task
	timer  *time.Timer
	cancel context.CancelFunc
}

// Deferred holds at most one pending action per key. Scheduling a key that
// is already pending replaces the earlier action.
type Deferred struct {
	mu      sync.Mutex
	tasks   map[string]*entry
	root    context.Context
	stop    context.CancelFunc
	stopped bool
	wg      sync.WaitGroup
	logger  *slog.Logger
}

func NewDeferred(logger *slog.Logger) *Deferred {
	if logger == nil {
		logger = slog.Default()
	}
	root, stop := context.WithCancel(context.Background())
	return &Deferred{
		tasks:  make(map[string]*entry),
		root:   root,
		stop:   stop,
		logger: logger,
	}
}

// After runs fn once delay has elapsed. fn receives a context that is
// cancelled by Cancel(key), by a replacing After, or by Stop.
func (d *Deferred) After(key, name string, delay time.Duration, fn func(ctx context.Context)) Task {
	d.mu.Lock()
	defer d.mu.Unlock()

	if prev, ok := d.tasks[key]; ok {
		d.discard(prev)
		d.logger.Info("deferred task replaced", "key", key, "id", prev.task.ID)
	}

	ctx, cancel := context.WithCancel(d.root)
	e := &entry{
		task: Task{
			ID:     uuid.NewString(),
			Key:    key,
			Name:   name,
			Due:    time.Now().Add(delay),
			Status: TaskPending,
		},
		cancel: cancel,
	}
	if d.stopped {
		cancel()
		return e.task
	}
	d.tasks[key] = e

	id := e.task.ID
	e.timer = time.AfterFunc(delay, func() { d.run(key, id, ctx, fn) })

	d.logger.Debug("deferred task scheduled", "key", key, "name", name, "id", id, "delay", delay)
	return e.task
}

func (d *Deferred) run(key, id string, ctx context.Context, fn func(ctx context.Context)) {
	d.mu.Lock()
	e, ok := d.tasks[key]
	if !ok || e.task.ID != id || d.stopped || ctx.Err() != nil {
		d.mu.Unlock()
		return
	}
	e.task.Status = TaskRunning
	d.wg.Add(1)
	d.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("deferred task panic", "key", key, "id", id, "panic", r)
		}
		d.mu.Lock()
		if cur, ok := d.tasks[key]; ok && cur.task.ID == id {
			delete(d.tasks, key)
		}
		d.mu.Unlock()
		e.cancel()
		d.wg.Done()
	}()

	fn(ctx)
}

// Cancel drops the action for key. A running action sees its context cancelled.
func (d *Deferred) Cancel(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.tasks[key]
	if !ok {
		return false
	}
	d.discard(e)
	d.logger.Info("deferred task cancelled", "key", key, "id", e.task.ID)
	return true
}

// discard must be called with d.mu held.
func (d *Deferred) discard(e *entry) {
	if e.timer != nil {
		e.timer.Stop()
	}
	e.cancel()
	delete(d.tasks, e.task.Key)
}

// Pending lists scheduled and running actions ordered by due time.
func (d *Deferred) Pending() []Task {
	d.mu.Lock()
	defer d.mu.Unlock()

	tasks := make([]Task, 0, len(d.tasks))
	for _, e := range d.tasks {
		tasks = append(tasks, e.task)
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].Due.Before(tasks[j].Due) })
	return tasks
}

// Stop cancels every action and waits for running ones to return. Safe to call multiple times.
func (d *Deferred) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	for _, e := range d.tasks {
		d.discard(e)
	}
	d.stop()
	d.mu.Unlock()

	d.wg.Wait()
	d.logger.Info("deferred scheduler stopped")
}
