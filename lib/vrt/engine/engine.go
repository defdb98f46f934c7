// Copyright (C) 2002, 2010 Seanodes Ltd http://www.seanodes.com.
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package engine implements the single-worker I/O scheduler that drains
// a group's requests through the layout state machine and submits their
// backing I/Os, replaying on lock conflict.
package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/datawire/dlib/dlog"

	"github.com/exanodes/vrt/lib/vrt/request"
)

// ReplayInterval is how often the pending queue is re-scanned for
// requests whose backing I/O was deferred by a lock conflict.
const ReplayInterval = 1 * time.Second

// Submitter issues one backing I/O and reports completion
// asynchronously via the engine's completion channel. ErrZoneLocked
// signals a rebuild lock conflict: the engine leaves the I/O in
// pending and retries it on the next replay tick instead of treating it
// as a hard failure.
type Submitter interface {
	Submit(ctx context.Context, io request.IO, done func(error))
}

// ErrZoneLocked is returned by a Submitter (via the done callback) when
// a backing I/O conflicts with an in-progress rebuild lock.
var ErrZoneLocked = zoneLockedError{}

type zoneLockedError struct{}

func (zoneLockedError) Error() string { return "engine: zone locked by rebuild" }

type pendingIO struct {
	req      *request.Request
	io       request.IO
	replayAt time.Time
}

// Engine is the single-worker scheduler described in spec.md §4.3: it
// owns three queues (suspended, to-build, pending) and drains them from
// one goroutine, exactly as the original C source's single I/O thread
// does.
type Engine struct {
	Submitter Submitter

	mu        sync.Mutex
	suspended []*request.Request
	toBuild   []*request.Request
	pending   []*pendingIO

	wake chan struct{}
}

// New creates an engine that submits backing I/Os through sub.
func New(sub Submitter) *Engine {
	return &Engine{
		Submitter: sub,
		wake:      make(chan struct{}, 1),
	}
}

func (e *Engine) signal() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// Submit enqueues a freshly-created request onto the to-build queue.
func (e *Engine) Submit(r *request.Request) {
	e.mu.Lock()
	e.toBuild = append(e.toBuild, r)
	e.mu.Unlock()
	e.signal()
}

// Suspend moves every request of a group (identified by the caller via
// belongsToGroup) from to-build/pending to the suspended queue, calling
// Cancel on each so it unwinds any counters it had incremented.
func (e *Engine) Suspend(belongsToGroup func(*request.Request) bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	keepBuild := e.toBuild[:0]
	for _, r := range e.toBuild {
		if belongsToGroup(r) {
			r.Cancel()
			e.suspended = append(e.suspended, r)
		} else {
			keepBuild = append(keepBuild, r)
		}
	}
	e.toBuild = keepBuild

	keepPending := e.pending[:0]
	for _, p := range e.pending {
		if belongsToGroup(p.req) {
			p.req.Cancel()
			e.suspended = append(e.suspended, p.req)
		} else {
			keepPending = append(keepPending, p)
		}
	}
	e.pending = keepPending
}

// Resume migrates every suspended request belonging to the group back
// onto the to-build queue.
func (e *Engine) Resume(belongsToGroup func(*request.Request) bool) {
	e.mu.Lock()
	keep := e.suspended[:0]
	for _, r := range e.suspended {
		if belongsToGroup(r) {
			e.toBuild = append(e.toBuild, r)
		} else {
			keep = append(keep, r)
		}
	}
	e.suspended = keep
	e.mu.Unlock()
	e.signal()
}

// Run drives the worker loop until ctx is done: drain to-build by
// stepping the state machine, submit whatever I/Os that produced, and
// periodically replay pending I/Os that were deferred by a lock
// conflict.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(ReplayInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-e.wake:
			e.drainToBuild(ctx)
		case <-ticker.C:
			e.replayPending(ctx)
		}
	}
}

func (e *Engine) drainToBuild(ctx context.Context) {
	e.mu.Lock()
	batch := e.toBuild
	e.toBuild = nil
	e.mu.Unlock()

	for _, r := range batch {
		e.stepUntilBlocked(ctx, r)
	}
}

// stepUntilBlocked drives r's state machine forward across whatever run
// of bookkeeping-only transitions (Begin, the Continue*Write states) it
// lands on, stopping as soon as a Step call produces I/O to submit or
// the request stops changing state (it's reached a postponed wait, or
// Success/Failed).
func (e *Engine) stepUntilBlocked(ctx context.Context, r *request.Request) {
	for {
		prev := r.State
		r.Step(ctx)

		ios := r.PendingIOs()
		for _, io := range ios {
			e.submitOne(ctx, r, io, time.Time{})
		}

		if r.State == request.Success || r.State == request.Failed || r.State == request.IOErrorTriggered {
			if r.Done != nil {
				r.Done(r.Err())
			}
			return
		}
		if len(ios) > 0 || r.State == prev {
			return
		}
	}
}

func (e *Engine) submitOne(ctx context.Context, r *request.Request, io request.IO, replayAt time.Time) {
	p := &pendingIO{req: r, io: io, replayAt: replayAt}

	e.mu.Lock()
	e.pending = append(e.pending, p)
	e.mu.Unlock()

	e.Submitter.Submit(ctx, io, func(err error) {
		e.onIODone(ctx, p, err)
	})
}

func (e *Engine) onIODone(ctx context.Context, p *pendingIO, err error) {
	if errors.Is(err, ErrZoneLocked) {
		p.replayAt = time.Now().Add(ReplayInterval)
		return
	}

	e.removePending(p)
	p.req.OnIOComplete(err)
	e.Submit(p.req)
}

func (e *Engine) removePending(target *pendingIO) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, p := range e.pending {
		if p == target {
			e.pending = append(e.pending[:i], e.pending[i+1:]...)
			return
		}
	}
}

func (e *Engine) replayPending(ctx context.Context) {
	log := dlog.GetLogger(ctx)
	now := time.Now()

	e.mu.Lock()
	var toRetry []*pendingIO
	for _, p := range e.pending {
		if !p.replayAt.IsZero() && !p.replayAt.After(now) {
			toRetry = append(toRetry, p)
		}
	}
	e.mu.Unlock()

	for _, p := range toRetry {
		log.Debugf("engine: replaying I/O after zone-lock conflict")
		p.replayAt = time.Time{}
		e.Submitter.Submit(ctx, p.io, func(err error) {
			e.onIODone(ctx, p, err)
		})
	}
}
