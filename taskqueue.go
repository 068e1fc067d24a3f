// SPDX-License-Identifier: GPL-3.0-or-later

package spio

import "sync"

// taskFunc is a unit of work dispatched onto a [*taskQueue].
type taskFunc func()

// taskEntry tracks one dispatched (or queued) unit of work so it can be
// cancelled before it starts running.
type taskEntry struct {
	fn        taskFunc
	cancelled bool
}

// taskQueue is a small bounded worker pool: a fixed number of goroutines
// drain a shared channel of [*taskEntry]. It exists because the resolver
// needs "dispatch, but let me cancel before it runs" semantics that
// stdlib worker-pool idioms (errgroup, a raw channel of funcs) do not
// expose directly.
type taskQueue struct {
	mu      sync.Mutex
	ch      chan *taskEntry
	closed  bool
	closeWG sync.WaitGroup
}

// newTaskQueue starts a [*taskQueue] with the given number of worker
// goroutines (default 4).
func newTaskQueue(workers int) *taskQueue {
	if workers <= 0 {
		workers = 4
	}
	tq := &taskQueue{ch: make(chan *taskEntry, 64)}
	tq.closeWG.Add(workers)
	for i := 0; i < workers; i++ {
		go tq.worker()
	}
	return tq
}

func (tq *taskQueue) worker() {
	defer tq.closeWG.Done()
	for entry := range tq.ch {
		tq.mu.Lock()
		cancelled := entry.cancelled
		tq.mu.Unlock()
		if cancelled {
			continue
		}
		entry.fn()
	}
}

// dispatch enqueues fn for execution by a worker and returns the
// [*taskEntry] handle, which can be passed to [*taskQueue.cancel] to
// remove it before it runs. dispatch returns [ErrClosed] if the queue
// has been shut down.
func (tq *taskQueue) dispatch(fn taskFunc) (*taskEntry, error) {
	tq.mu.Lock()
	if tq.closed {
		tq.mu.Unlock()
		return nil, ErrClosed
	}
	entry := &taskEntry{fn: fn}
	tq.mu.Unlock()

	tq.ch <- entry
	return entry, nil
}

// cancel marks entry so a worker that later dequeues it skips execution.
// If the task is still sitting in the channel buffer (not yet claimed by
// a worker), this is equivalent to removing it from the queue.
func (tq *taskQueue) cancel(entry *taskEntry) {
	tq.mu.Lock()
	entry.cancelled = true
	tq.mu.Unlock()
}

// close stops accepting new work and waits for in-flight tasks to drain.
func (tq *taskQueue) close() {
	tq.mu.Lock()
	if tq.closed {
		tq.mu.Unlock()
		return
	}
	tq.closed = true
	tq.mu.Unlock()
	close(tq.ch)
	tq.closeWG.Wait()
}
