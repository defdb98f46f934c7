// Copyright (C) 2002, 2010 Seanodes Ltd http://www.seanodes.com.
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package rebuild drives the incremental device rebuild that brings a
// device back up to date after it rejoins the group (a prior DOWN or a
// freshly-replaced disk): copy every dirty zone it's missing from a
// readable, uptodate replica.
package rebuild

import (
	"context"
	"fmt"
	"sync"
	"time"

	"git.lukeshu.com/go/typedsync"

	"github.com/exanodes/vrt/lib/textui"
	"github.com/exanodes/vrt/lib/util"
	"github.com/exanodes/vrt/lib/vrt/desyncinfo"
	"github.com/exanodes/vrt/lib/vrt/rdev"
	"github.com/exanodes/vrt/lib/vrt/synctag"
	"github.com/exanodes/vrt/lib/vrt/transport"
)

// MaxLockedZones bounds how many dirty zones may have their destination
// range locked on the transport at once, so a rebuild can't starve user
// I/O by locking the whole device in one shot.
const MaxLockedZones = 8

// Progress reports a rebuild's advancement, for status queries and the
// admin command surface.
type Progress struct {
	NbSlotsRebuilt int
	NbSlotsTotal   int
	Complete       bool
}

var _ textui.Stats = Progress{}

// String implements textui.Stats, so a rebuild's Progress can be
// reported through a textui.Progress[Progress] the way the admin
// surface's rebuild goroutine does.
func (p Progress) String() string {
	word := "rebuilding"
	if p.Complete {
		word = "rebuilt"
	}
	return textui.Sprintf("%s %v", word, textui.Portion[int]{N: p.NbSlotsRebuilt, D: p.NbSlotsTotal})
}

// DeviceContext is the rebuild state attached to one device for the
// duration of its rebuild: why it's rebuilding, from which sync tag,
// and how far it's gotten. Type and SyncTag are fixed at Start and
// safe to read without locking; Progress is written by the rebuild
// goroutine and read concurrently by status queries, so it's guarded
// by mu.
type DeviceContext struct {
	Type    rdev.RebuildType
	SyncTag synctag.SyncTag

	mu       sync.RWMutex
	progress Progress
}

// Progress returns a snapshot of the rebuild's current advancement,
// safe to call concurrently with the rebuild goroutine's updates.
func (dc *DeviceContext) Progress() Progress {
	dc.mu.RLock()
	defer dc.mu.RUnlock()
	return dc.progress
}

// SetTotal records the slot count a rebuild will cover, once it's
// known (slot enumeration may happen after Start, which seeds
// Progress with a zero total).
func (dc *DeviceContext) SetTotal(n int) {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	dc.progress.NbSlotsTotal = n
}

func (dc *DeviceContext) incRebuilt() {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	dc.progress.NbSlotsRebuilt++
}

func (dc *DeviceContext) setComplete() {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	dc.progress.Complete = true
}

// ContextTable maps a device's layout UUID to its active rebuild
// context, if any. Backed by typedsync.Map so concurrent status queries
// never block behind a rebuild's own bookkeeping writes.
type ContextTable struct {
	inner typedsync.Map[util.UUID, *DeviceContext]
}

// Start registers a new rebuild context for dev, replacing any prior
// one.
func (t *ContextTable) Start(devUUID util.UUID, typ rdev.RebuildType, tag synctag.SyncTag, totalSlots int) *DeviceContext {
	dc := &DeviceContext{Type: typ, SyncTag: tag, progress: Progress{NbSlotsTotal: totalSlots}}
	t.inner.Store(devUUID, dc)
	return dc
}

// Get returns the active rebuild context for dev, if any.
func (t *ContextTable) Get(devUUID util.UUID) (*DeviceContext, bool) {
	return t.inner.Load(devUUID)
}

// Finish removes dev's rebuild context, marking it complete for any
// caller that had retained a pointer to it.
func (t *ContextTable) Finish(devUUID util.UUID) {
	if dc, ok := t.inner.LoadAndDelete(devUUID); ok {
		dc.setComplete()
	}
}

// Range calls f for every device with an active rebuild context, in no
// particular order, stopping early if f returns false. For the admin
// surface to report every in-flight rebuild, not just one device at a
// time.
func (t *ContextTable) Range(f func(devUUID util.UUID, dc *DeviceContext) bool) {
	t.inner.Range(f)
}

// Slot is the minimal view rebuild needs of an assembly slot: its
// dirty-zone metadata block.
type Slot interface {
	DesyncInfo() *desyncinfo.SlotBlock
}

// Transport is the locking collaborator a rebuild job acquires a
// destination range from before writing it, and releases when done.
// See lib/vrt/transport.
type Transport interface {
	Lock(ctx context.Context, devUUID util.UUID, startSector, endSector uint64) error
	Unlock(ctx context.Context, devUUID util.UUID, startSector, endSector uint64)
}

// SlotRebuilder reads one zone from a readable source and writes it to
// the destination device wherever the destination isn't already
// uptodate for that zone. Supplied by the layout/group wiring so this
// package stays free of striping/placement specifics.
type SlotRebuilder func(ctx context.Context, slot Slot, dzoneIndex int, dest util.UUID) error

// Throttle optionally sleeps between zones to bound the rebuild's
// impact on foreground I/O; the zero value means no throttling.
type Throttle func()

// ErrInterrupted is returned by Rebuild when the group's sync tag
// advanced while the rebuild was running: the context captured at Start
// is now stale and the caller should restart with a fresh one.
var ErrInterrupted = fmt.Errorf("rebuild: interrupted by concurrent sync tag advance")

// CurrentSyncTag reports the group's live sync tag, so Rebuild can
// detect a concurrent status transition invalidating its progress.
type CurrentSyncTag func() synctag.SyncTag

// Rebuild drives dev's rebuild to completion: for every slot (in order)
// and every dirty zone of that slot needing a copy, lock the
// destination range, rebuild the zone, unlock, optionally throttle. It
// aborts with ErrInterrupted as soon as the group's sync tag no longer
// matches dc.SyncTag, since that means status computation has already
// superseded this rebuild.
func Rebuild(ctx context.Context, dc *DeviceContext, dest util.UUID, slots []Slot, dzonesPerSlot int, tr Transport, rebuildZone SlotRebuilder, currentTag CurrentSyncTag, throttle Throttle) error {
	sem := make(chan struct{}, MaxLockedZones)

	for _, slot := range slots {
		if !synctag.IsEqual(currentTag(), dc.SyncTag) {
			return ErrInterrupted
		}

		sb := slot.DesyncInfo()
		for z := 0; z < dzonesPerSlot; z++ {
			sb.Lock()
			needsRebuild := sb.InMemory[z].WritePendingCounter == 0 &&
				!synctag.IsEqual(sb.InMemory[z].SyncTag, dc.SyncTag)
			sb.Unlock()
			if !needsRebuild {
				continue
			}

			sem <- struct{}{}
			err := rebuildOneZone(ctx, tr, dest, slot, z, rebuildZone)
			<-sem
			if err != nil {
				return err
			}

			dc.incRebuilt()
			if throttle != nil {
				throttle()
			}
		}
	}

	dc.setComplete()
	return nil
}

func rebuildOneZone(ctx context.Context, tr Transport, dest util.UUID, slot Slot, z int, rebuildZone SlotRebuilder) error {
	blockSectors := uint64(desyncinfo.MetadataBlockSize) / 512
	start := uint64(z) * blockSectors
	end := start + blockSectors

	if err := transport.LockWithRetry(ctx, tr, dest, start, end); err != nil {
		return err
	}
	defer tr.Unlock(ctx, dest, start, end)

	return rebuildZone(ctx, slot, z, dest)
}

// DefaultThrottle sleeps briefly between zones; used when a deployment
// wants rebuild throttling but hasn't configured a specific rate.
func DefaultThrottle(d time.Duration) Throttle {
	return func() { time.Sleep(d) }
}
