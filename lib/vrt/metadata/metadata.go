// Copyright (C) 2002, 2010 Seanodes Ltd http://www.seanodes.com.
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package metadata reads and writes a slot's per-node desync-info
// blocks to their replica devices, and runs the background flusher that
// batches in-memory dirty-zone updates into periodic disk writes.
package metadata

import (
	"context"
	"fmt"
	"time"

	"github.com/datawire/dlib/dgroup"
	"github.com/datawire/dlib/dlog"

	"github.com/exanodes/vrt/lib/vrt/desyncinfo"
	"github.com/exanodes/vrt/lib/vrt/striping"
	"github.com/exanodes/vrt/lib/vrt/synctag"
)

// ErrIO is returned by ReadSlotMetadata/WriteSlotMetadata when no
// replica location could be read from or written to at all.
var ErrIO = fmt.Errorf("metadata: I/O failed on every replica location")

// IO is the minimal read/write surface metadata needs of a device,
// addressed by absolute sector. Implemented by whatever backs the
// group's real devices in a given deployment (see lib/vrt/group).
type IO interface {
	ReadAt(ctx context.Context, rdev interface{}, sector uint64, buf []byte) error
	WriteAt(ctx context.Context, rdev interface{}, sector uint64, buf []byte) error
}

// ReadSlotMetadata reads a PerBlock DZone array for one node's metadata
// sector, trying replica locations uptodate-first until one succeeds.
func ReadSlotMetadata(ctx context.Context, io IO, locs []striping.RDevLocation) (*[desyncinfo.PerBlock]desyncinfo.DZone, error) {
	var block [desyncinfo.PerBlock]desyncinfo.DZone
	buf := make([]byte, desyncinfo.MetadataBlockSize)

	for _, loc := range striping.OrderedUptodateFirst(locs) {
		if err := io.ReadAt(ctx, loc.RDev, loc.Sector, buf); err != nil {
			continue
		}
		decodeBlock(buf, &block)
		return &block, nil
	}
	return nil, ErrIO
}

// WriteSlotMetadata writes block to every replica location,
// uptodate-first, and returns ErrIO only if every single write failed.
func WriteSlotMetadata(ctx context.Context, io IO, locs []striping.RDevLocation, block *[desyncinfo.PerBlock]desyncinfo.DZone) error {
	buf := make([]byte, desyncinfo.MetadataBlockSize)
	encodeBlock(block, buf)

	succeeded := false
	for _, loc := range striping.OrderedUptodateFirst(locs) {
		if err := io.WriteAt(ctx, loc.RDev, loc.Sector, buf); err == nil {
			succeeded = true
		}
	}
	if !succeeded {
		return ErrIO
	}
	return nil
}

// WipeSlot resets every node's metadata block of a freshly-created or
// grown slot to a blank, zero-pending state at the given replica
// locations (one set of locations per node index).
func WipeSlot(ctx context.Context, io IO, locsPerNode [][]striping.RDevLocation) error {
	var block [desyncinfo.PerBlock]desyncinfo.DZone
	desyncinfo.InitBlock(&block, synctag.Blank)

	for _, locs := range locsPerNode {
		if err := WriteSlotMetadata(ctx, io, locs, &block); err != nil {
			return err
		}
	}
	return nil
}

func encodeBlock(block *[desyncinfo.PerBlock]desyncinfo.DZone, buf []byte) {
	for i, dz := range block {
		off := i * desyncinfo.SizeOf
		buf[off] = byte(dz.SyncTag)
		buf[off+1] = byte(dz.SyncTag >> 8)
		buf[off+2] = byte(dz.WritePendingCounter)
		buf[off+3] = byte(dz.WritePendingCounter >> 8)
	}
}

func decodeBlock(buf []byte, block *[desyncinfo.PerBlock]desyncinfo.DZone) {
	for i := range block {
		off := i * desyncinfo.SizeOf
		block[i] = desyncinfo.DZone{
			SyncTag:             synctag.SyncTag(uint16(buf[off]) | uint16(buf[off+1])<<8),
			WritePendingCounter: uint16(buf[off+2]) | uint16(buf[off+3])<<8,
		}
	}
}

// FlushInterval is the default period of the background flusher's
// ticker.
const FlushInterval = 5 * time.Second

// FlushFunc performs one slot's flush: write its in-memory block out.
// The wait lists are handled by the flusher's sweep around the call: on
// success it runs the wait-write list, on failure it drops the
// wait-avail list.
type FlushFunc func(ctx context.Context, sb *desyncinfo.SlotBlock) error

// Flusher periodically sweeps a set of slot blocks, writing out any
// that have accumulated dirty in-memory state since the last sweep, or
// whose flush was explicitly requested via Kick.
type Flusher struct {
	Interval time.Duration
	Flush    FlushFunc

	slots []*desyncinfo.SlotBlock
	kick  chan struct{}
}

// NewFlusher creates a flusher over slots, flushing with fn every
// interval (or FlushInterval if interval is zero).
func NewFlusher(interval time.Duration, slots []*desyncinfo.SlotBlock, fn FlushFunc) *Flusher {
	if interval <= 0 {
		interval = FlushInterval
	}
	return &Flusher{
		Interval: interval,
		Flush:    fn,
		slots:    slots,
		kick:     make(chan struct{}, 1),
	}
}

// Kick requests an out-of-band sweep without waiting for the next tick.
func (f *Flusher) Kick() {
	select {
	case f.kick <- struct{}{}:
	default:
	}
}

// Run drives the flusher until ctx is done. It's meant to be handed to
// a dgroup.Group as a goroutine, matching the rest of the engine's
// supervised-goroutine style.
func (f *Flusher) Run(ctx context.Context) error {
	ticker := time.NewTicker(f.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			f.sweep(ctx)
		case <-f.kick:
			f.sweep(ctx)
		}
	}
}

func (f *Flusher) sweep(ctx context.Context) {
	log := dlog.GetLogger(ctx)
	for _, sb := range f.slots {
		sb.Lock()
		needed := sb.FlushNeeded && !sb.OngoingFlush
		if needed {
			sb.OngoingFlush = true
		}
		sb.Unlock()
		if !needed {
			continue
		}

		err := f.Flush(ctx, sb)

		sb.Lock()
		sb.OngoingFlush = false
		if err != nil {
			log.Errorf("metadata: flush failed: %v", err)
			sb.DrainWaitAvail() // cancel: nobody gets to own the next flush attempt
		} else {
			sb.FlushNeeded = false
			for _, w := range sb.DrainWaitWrite() {
				w()
			}
		}
		sb.Unlock()
	}
}

// Supervise registers the flusher as a named goroutine on g, the way
// the rest of the daemon's background workers are started.
func Supervise(g *dgroup.Group, name string, f *Flusher) {
	g.Go(name, func(ctx context.Context) error {
		return f.Run(ctx)
	})
}
