// Copyright (C) 2002, 2009, 2011 Seanodes Ltd http://www.seanodes.com.
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package desyncinfo holds the per-dirty-zone write-pending/sync-tag
// record and the per-slot metadata block that groups PerBlock of
// them together for a single synchronous disk write.
package desyncinfo

import (
	"sync"

	"github.com/exanodes/vrt/lib/vrt/sectors"
	"github.com/exanodes/vrt/lib/vrt/synctag"
)

// MetadataBlockSize is the size, in bytes, of one slot's per-node
// metadata sector.
const MetadataBlockSize = sectors.SectorSize

// DZone is the per-dirty-zone record persisted in a metadata block.
//
// FIXME: endianness of the stored record is not tracked; this assumes a
// single-endian cluster, matching the upstream layout this was ported
// from.
type DZone struct {
	SyncTag             synctag.SyncTag
	WritePendingCounter uint16
}

// SizeOf is the marshaled size of a DZone record.
const SizeOf = 2 + 2

// PerBlock is how many DZone records fit in one MetadataBlockSize sector.
const PerBlock = MetadataBlockSize / SizeOf

// IsValid reports whether d is a legal record given the group's current
// sync tag and the configured maximum in-flight request count.
func IsValid(d DZone, currentTag synctag.SyncTag, maxRequests uint16) bool {
	return d.WritePendingCounter <= maxRequests &&
		synctag.AreComparable(d.SyncTag, currentTag) &&
		!synctag.IsGreater(d.SyncTag, currentTag)
}

// InitBlock resets every record of a fresh metadata block to the given
// uptodate tag with a zero write-pending counter (used at subspace/volume
// creation and on resize-grow, spec "Wipe").
func InitBlock(block *[PerBlock]DZone, uptodateTag synctag.SyncTag) {
	for i := range block {
		block[i] = DZone{SyncTag: uptodateTag, WritePendingCounter: 0}
	}
}

// MergeBlock element-wise merges src into dst: the greater of the two
// write-pending counters, and the greater (by synctag.Max2) of the two
// sync tags. Used by resync to combine records read from every node in
// the crashed set.
func MergeBlock(dst *[PerBlock]DZone, src *[PerBlock]DZone) {
	for i := range dst {
		if src[i].WritePendingCounter > dst[i].WritePendingCounter {
			dst[i].WritePendingCounter = src[i].WritePendingCounter
		}
		dst[i].SyncTag = synctag.Max2(dst[i].SyncTag, src[i].SyncTag)
	}
}

// Waiter is a suspended request continuation: the engine re-enqueues it
// to the to-build queue once its wait condition is satisfied. This
// replaces the C source's wait_queue_head_t + list_head pair (spec.md §9
// "manual waitqueue + semaphore macros") with an explicit, typed
// continuation the caller supplies.
type Waiter func()

// SlotBlock is the in-memory state of one slot's metadata block: the live
// records, a shadow of what's currently on disk, flush bookkeeping, and
// the two wait lists described in spec.md §4.2/§4.4.
type SlotBlock struct {
	mu sync.Mutex

	InMemory [PerBlock]DZone
	OnDisk   [PerBlock]DZone

	OngoingFlush bool
	FlushNeeded  bool

	waitAvail []Waiter
	waitWrite []Waiter
}

// NewSlotBlock allocates a slot block with every record initialized to
// syncTag, both in memory and on the disk shadow.
func NewSlotBlock(syncTag synctag.SyncTag) *SlotBlock {
	sb := &SlotBlock{}
	InitBlock(&sb.InMemory, syncTag)
	InitBlock(&sb.OnDisk, syncTag)
	return sb
}

// Lock/Unlock expose the slot mutex directly: callers (the request state
// machine, the flusher) hold it across a read-modify-write of InMemory
// plus the flush flags, exactly as the C source's slot_desync_info_t.lock
// guards "both the modification of the metadata themselves, and the
// metadata block status".
func (sb *SlotBlock) Lock()   { sb.mu.Lock() }
func (sb *SlotBlock) Unlock() { sb.mu.Unlock() }

// AddWaitAvail enqueues w on the wait-for-availability list. Must be
// called with the slot locked.
func (sb *SlotBlock) AddWaitAvail(w Waiter) { sb.waitAvail = append(sb.waitAvail, w) }

// AddWaitWrite enqueues w on the wait-for-flush-completion list. Must be
// called with the slot locked.
func (sb *SlotBlock) AddWaitWrite(w Waiter) { sb.waitWrite = append(sb.waitWrite, w) }

// TakeWaitAvail removes and returns the oldest availability waiter (if
// any). The remaining waiters stay on the wait-for-availability list;
// they are not moved to the flush-wait list.
func (sb *SlotBlock) TakeWaitAvail() (Waiter, bool) {
	if len(sb.waitAvail) == 0 {
		return nil, false
	}
	w := sb.waitAvail[0]
	sb.waitAvail = sb.waitAvail[1:]
	return w, true
}

// DrainWaitWrite removes and returns every flush-completion waiter.
func (sb *SlotBlock) DrainWaitWrite() []Waiter {
	w := sb.waitWrite
	sb.waitWrite = nil
	return w
}

// DrainWaitAvail removes and returns every availability waiter (used when
// a flush fails and waiters must be cancelled cleanly, spec.md §4.4).
func (sb *SlotBlock) DrainWaitAvail() []Waiter {
	w := sb.waitAvail
	sb.waitAvail = nil
	return w
}
