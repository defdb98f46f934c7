// Copyright (C) 2002, 2010 Seanodes Ltd http://www.seanodes.com.
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package request implements the per-I/O state machine that sequences a
// write through metadata-then-data replication, and the minimal read
// graph that picks the first readable replica.
package request

import (
	"context"
	"fmt"

	"github.com/exanodes/vrt/lib/util"
	"github.com/exanodes/vrt/lib/vrt/desyncinfo"
	"github.com/exanodes/vrt/lib/vrt/striping"
)

// State is one node of the request state graph described in spec.md
// §4.2. The zero value is Begin.
type State int

const (
	Begin State = iota
	PostponedUntilAvail
	PostponedUntilFlush
	StartMetadataWrite
	DoMetadataWrite
	ContinueMetadataWrite
	StartUserDataWrite
	DoUserBarrierWrite
	DoUserDataWrite
	ContinueUserDataWrite
	IOErrorTriggered
	Read
	Success
	Failed
)

func (s State) String() string {
	switch s {
	case Begin:
		return "BEGIN"
	case PostponedUntilAvail:
		return "POSTPONED_UNTIL_AVAIL"
	case PostponedUntilFlush:
		return "POSTPONED_UNTIL_FLUSH"
	case StartMetadataWrite:
		return "START_METADATA_WRITE"
	case DoMetadataWrite:
		return "DO_METADATA_WRITE"
	case ContinueMetadataWrite:
		return "CONTINUE_METADATA_WRITE"
	case StartUserDataWrite:
		return "START_USER_DATA_WRITE"
	case DoUserBarrierWrite:
		return "DO_USER_BARRIER_WRITE"
	case DoUserDataWrite:
		return "DO_USER_DATA_WRITE"
	case ContinueUserDataWrite:
		return "CONTINUE_USER_DATA_WRITE"
	case IOErrorTriggered:
		return "IOERROR_TRIGGERED"
	case Read:
		return "READ"
	case Success:
		return "SUCCESS"
	case Failed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Kind distinguishes a read request from a write request; reads use the
// minimal BEGIN -> READ -> {SUCCESS, FAILED} graph.
type Kind int

const (
	KindRead Kind = iota
	KindWrite
)

// IO is one backing-device operation the engine has prepared and is
// waiting to complete; the engine submits it and eventually calls
// OnIOComplete.
type IO struct {
	Loc    striping.RDevLocation
	Buf    []byte
	IsRead bool
}

// Request is one in-flight user I/O working its way through the layout
// state machine. Per spec.md §9, private per-request state is a typed
// union of optional fields guarded by State, not a fixed-size byte
// buffer: Go has no use for the C source's embedded-buffer trick.
type Request struct {
	Kind  Kind
	State State

	// GroupUUID tags the request with its owning group, so the engine's
	// Suspend/Resume predicates can select every request of a group
	// without this package needing to know anything about groups.
	GroupUUID util.UUID

	// Locations for the two writes a write request must perform: the
	// slot's metadata block, then the user data itself.
	MetadataLocs []striping.RDevLocation
	DataLocs     []striping.RDevLocation

	// SlotBlock is the desync-info block guarding the target dirty
	// zone; nil for reads.
	SlotBlock *desyncinfo.SlotBlock
	DZoneIdx  int

	Barrier bool

	// Remaining counts outstanding backing I/Os for the current state's
	// fan-out; it reaches zero when every I/O of the current phase has
	// completed.
	Remaining int

	// Buf is the caller's data buffer (for KindWrite, the data to
	// write; for KindRead, the buffer to fill).
	Buf []byte

	// pendingIOs is filled in by Step and drained by the engine.
	pendingIOs []IO

	// nextAfterIO is the state OnIOComplete advances to once Remaining
	// reaches zero.
	nextAfterIO State

	err error

	// Done, if set, is called exactly once by the engine after Step
	// first observes State == Success, Failed or IOErrorTriggered.
	// Requests created directly (as in this package's own tests) may
	// leave it nil.
	Done func(error)
}

// ErrNoWritableReplica is IOErrorTriggered's cause when no location in
// a write's location list is writable.
var ErrNoWritableReplica = fmt.Errorf("request: no writable replica for this I/O")

// ErrNoReadableReplica is Failed's cause for a read that found no
// readable replica.
var ErrNoReadableReplica = fmt.Errorf("request: no readable replica for this I/O")

// Err returns the error that drove the request to Failed, if any.
func (r *Request) Err() error { return r.err }

// PendingIOs drains and returns the backing I/Os prepared by the most
// recent Step call, for the engine to submit.
func (r *Request) PendingIOs() []IO {
	ios := r.pendingIOs
	r.pendingIOs = nil
	return ios
}

// Step performs one state transition. It's called by the engine's
// to-build drain; after it returns, either PendingIOs has I/Os to
// submit (the request then waits in "pending" for OnIOComplete) or the
// request has reached Success/Failed. Bookkeeping transitions that
// produce no I/O of their own (Begin, the Continue*Write states) leave
// the request in a new non-terminal state with nothing pending; the
// caller is expected to call Step again immediately, as the engine's
// drain loop does.
func (r *Request) Step(ctx context.Context) {
	switch r.State {
	case Begin:
		r.stepBegin()
	case PostponedUntilAvail, PostponedUntilFlush:
		// Nothing to do until the slot block's waiter fires and
		// re-enqueues us at StartMetadataWrite or StartUserDataWrite.
	case StartMetadataWrite:
		r.stepStartMetadataWrite()
	case ContinueMetadataWrite:
		r.stepContinueWrite(r.MetadataLocs, StartUserDataWrite)
	case StartUserDataWrite:
		r.stepStartUserDataWrite()
	case DoUserBarrierWrite:
		r.issueWrites(r.DataLocs, ContinueUserDataWrite)
	case ContinueUserDataWrite:
		r.SlotBlock.Lock()
		if r.SlotBlock.InMemory[r.DZoneIdx].WritePendingCounter > 0 {
			r.SlotBlock.InMemory[r.DZoneIdx].WritePendingCounter--
		}
		if r.SlotBlock.InMemory[r.DZoneIdx].WritePendingCounter == 0 {
			r.SlotBlock.FlushNeeded = true
		}
		r.SlotBlock.Unlock()
		r.stepContinueWrite(r.DataLocs, Success)
	case Read:
		r.stepRead()
	}
}

func (r *Request) stepBegin() {
	if r.Kind == KindRead {
		r.State = Read
		return
	}

	r.SlotBlock.Lock()
	defer r.SlotBlock.Unlock()

	if r.SlotBlock.OngoingFlush {
		r.State = PostponedUntilAvail
		r.SlotBlock.AddWaitAvail(func() { r.State = StartMetadataWrite })
		return
	}

	if r.SlotBlock.InMemory[r.DZoneIdx].WritePendingCounter == 0 {
		r.SlotBlock.FlushNeeded = true
	}
	r.SlotBlock.InMemory[r.DZoneIdx].WritePendingCounter++

	r.State = StartMetadataWrite
}

func (r *Request) stepStartMetadataWrite() {
	if !anyWritable(r.MetadataLocs) {
		r.State = IOErrorTriggered
		r.err = ErrNoWritableReplica
		return
	}
	r.State = DoMetadataWrite
	r.issueWrites(r.MetadataLocs, ContinueMetadataWrite)
}

func (r *Request) stepStartUserDataWrite() {
	if !anyWritable(r.DataLocs) {
		r.State = IOErrorTriggered
		r.err = ErrNoWritableReplica
		return
	}
	if r.Barrier {
		r.State = DoUserBarrierWrite
		r.issueWrites(r.DataLocs, ContinueUserDataWrite)
		return
	}
	r.State = DoUserDataWrite
	r.issueWrites(r.DataLocs, ContinueUserDataWrite)
}

// issueWrites prepares one uptodate-first write fan-out; the engine
// submits PendingIOs and calls OnIOComplete for each, which transitions
// to next once Remaining reaches zero.
func (r *Request) issueWrites(locs []striping.RDevLocation, next State) {
	ordered := striping.OrderedUptodateFirst(locs)
	r.Remaining = len(ordered)
	r.nextAfterIO = next
	for _, loc := range ordered {
		r.pendingIOs = append(r.pendingIOs, IO{Loc: loc, Buf: r.Buf, IsRead: false})
	}
}

// stepContinueWrite is only reached once every write of the previous
// phase has completed (Remaining hit zero in OnIOComplete); it just
// advances to the next phase, mirroring the C source's "continue" state
// which existed to resume after interruption by a lock conflict.
func (r *Request) stepContinueWrite(_ []striping.RDevLocation, next State) {
	r.State = next
}

func (r *Request) stepRead() {
	for _, loc := range r.DataLocs {
		if loc.Uptodate {
			r.pendingIOs = append(r.pendingIOs, IO{Loc: loc, Buf: r.Buf, IsRead: true})
			r.Remaining = 1
			r.nextAfterIO = Success
			return
		}
	}
	r.State = Failed
	r.err = ErrNoReadableReplica
}

func anyWritable(locs []striping.RDevLocation) bool {
	for _, l := range locs {
		if l.Uptodate || !l.NeverReplicated {
			return true
		}
	}
	return len(locs) > 0
}


// OnIOComplete decrements Remaining for one completed backing I/O; when
// it reaches zero the request advances to whatever state Step queued up
// as nextAfterIO and is ready to be stepped again.
func (r *Request) OnIOComplete(err error) {
	if err != nil {
		r.State = IOErrorTriggered
		r.err = err
		return
	}
	r.Remaining--
	if r.Remaining <= 0 {
		r.State = r.nextAfterIO
	}
}

// Cancel returns a request to Begin on group suspend, undoing the
// write-pending counter increment it made in Begin (a request still in
// PostponedUntilAvail made none). It does not remove the request from a
// slot block's wait list: a waiter queued by stepBegin stays queued.
// Per spec.md §4.2 "Cancellation".
func (r *Request) Cancel() {
	if r.Kind == KindWrite && r.SlotBlock != nil && r.State != Begin && r.State != PostponedUntilAvail {
		r.SlotBlock.Lock()
		if r.SlotBlock.InMemory[r.DZoneIdx].WritePendingCounter > 0 {
			r.SlotBlock.InMemory[r.DZoneIdx].WritePendingCounter--
		}
		r.SlotBlock.Unlock()
	}
	r.State = Begin
	r.pendingIOs = nil
	r.Remaining = 0
}
