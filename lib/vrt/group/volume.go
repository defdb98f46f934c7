// Copyright (C) 2002, 2010 Seanodes Ltd http://www.seanodes.com.
//
// SPDX-License-Identifier: GPL-2.0-or-later

package group

import (
	"context"
	"fmt"

	"github.com/exanodes/vrt/lib/util"
	"github.com/exanodes/vrt/lib/vrt/assembly"
	"github.com/exanodes/vrt/lib/vrt/desyncinfo"
	"github.com/exanodes/vrt/lib/vrt/engine"
	"github.com/exanodes/vrt/lib/vrt/rdev"
	"github.com/exanodes/vrt/lib/vrt/request"
	"github.com/exanodes/vrt/lib/vrt/sectors"
	"github.com/exanodes/vrt/lib/vrt/striping"
)

// VolumeStatus mirrors a volume's own degraded/offline state, derived
// from whether every dirty zone it touches still has a writable
// replica, independent of the group-wide status.SPOFGroup rollup.
type VolumeStatus int

const (
	VolumeOK VolumeStatus = iota
	VolumeDegraded
	VolumeOffline
)

// BarrierState tracks whether a volume has a flush-cache barrier
// in flight, so a second barrier request can be coalesced with it
// rather than re-issued.
type BarrierState int

const (
	BarrierNone BarrierState = iota
	BarrierPending
)

// IOStats counts completed I/Os for the admin stats surface.
type IOStats struct {
	ReadCount  uint64
	WriteCount uint64
}

// Volume is one logical block-device endpoint carved out of a group:
// the assembly-level slot sequence that backs its address space, plus
// the engine it drives its requests through.
type Volume struct {
	UUID        util.UUID
	Name        string
	SizeSectors uint64

	Status     VolumeStatus
	Frozen     bool
	InProgress int64
	Barrier    BarrierState
	Stats      IOStats

	group    *Group
	assembly *assembly.Volume
	params   striping.Params
	engine   *engine.Engine

	metadataBlockSize uint64
}

// NewVolume creates a volume backed by av (already populated with
// slots by the caller via Storage.ReserveSlots + Group.Assembly.AddSubspace)
// and wires it to eng for request scheduling.
func NewVolume(uuid util.UUID, name string, g *Group, av *assembly.Volume, params striping.Params, eng *engine.Engine) *Volume {
	return &Volume{
		UUID:              uuid,
		Name:              name,
		SizeSectors:       av.SizeSectors(params.SlotDataSize),
		group:             g,
		assembly:          av,
		params:            params,
		engine:            eng,
		metadataBlockSize: desyncinfo.MetadataBlockSize,
	}
}

// metadataSize is the slot sub-area reserved for per-node desync-info
// blocks, given this volume's striping unit size.
func (v *Volume) metadataSize() uint64 {
	return striping.SlotMetadataSize(v.params.SUSize, v.metadataBlockSize)
}

// SubmitIO is the block-device facade: it resolves startSector to a
// slot and dirty zone, builds the replica location lists the request
// state machine needs, and hands the request to the engine. cb is
// called exactly once, with the request's terminal error (nil on
// success).
//
// Mirrors the submit_io entry point of spec.md §6: sector-addressed,
// barriers honored only when flushCache is set.
func (v *Volume) SubmitIO(ctx context.Context, kind request.Kind, startSector uint64, buf []byte, flushCache bool, cb func(error)) {
	if v.Frozen {
		cb(fmt.Errorf("group: volume %v is frozen", v.UUID))
		return
	}
	if v.group.Suspended {
		cb(fmt.Errorf("group: group %v is stopped", v.group.UUID))
		return
	}

	slot, slotSector := v.assembly.MapSectorToSlot(v.params.SlotDataSize, startSector)
	adapter := &stripingSlot{slot: slot, resolve: v.group.resolve}
	groupTag := v.group.SyncTag()

	dataLocs := striping.SlotData2RDev(v.params, adapter, v.metadataSize(), slotSector, groupTag)

	req := &request.Request{
		Kind:      kind,
		GroupUUID: v.group.UUID,
		DataLocs:  dataLocs,
		SlotBlock: slot.DesyncInfo,
		DZoneIdx:  striping.Volume2DZone(slotSector, v.group.DirtyZoneSize),
		Barrier:   flushCache,
		Buf:       buf,
		Done: func(err error) {
			v.group.Reqs.Dec()
			if err == nil {
				if kind == request.KindRead {
					v.Stats.ReadCount++
				} else {
					v.Stats.WriteCount++
				}
			}
			cb(err)
		},
	}

	if kind == request.KindWrite {
		req.MetadataLocs = striping.DZone2RDev(v.params, adapter, v.group.NodeIndex, v.metadataBlockSize, groupTag)
	}

	v.group.Reqs.Inc()
	v.engine.Submit(req)
}

// MetadataLocations returns this volume's node's write locations for
// slot's metadata block, for the group's background flusher (see
// Group.NewFlusher) to use outside of any particular request.
func (v *Volume) MetadataLocations(slot *assembly.Slot) []striping.RDevLocation {
	return v.metadataLocationsFor(slot, v.group.NodeIndex)
}

// metadataLocationsFor is MetadataLocations generalized to an arbitrary
// node index, for resync to reach a crashed node's own metadata sector
// rather than this node's.
func (v *Volume) metadataLocationsFor(slot *assembly.Slot, nodeIndex int) []striping.RDevLocation {
	adapter := &stripingSlot{slot: slot, resolve: v.group.resolve}
	return striping.DZone2RDev(v.params, adapter, nodeIndex, v.metadataBlockSize, v.group.SyncTag())
}

// copyDZone copies dzoneIndex's data sectors, run by run, from a
// readable uptodate replica onto dest; if dest is the zero UUID, it
// instead broadcasts to every replica of the zone that isn't already
// uptodate (the resync case, which has no single destination).
//
// Mirrors the placement chain Volume.SubmitIO drives for foreground
// I/O (striping.SlotData2RDev), applied to a whole zone instead of one
// request's sector range.
func (v *Volume) copyDZone(ctx context.Context, devs BlockIO, slot *assembly.Slot, dzoneIndex int, dest util.UUID) error {
	adapter := &stripingSlot{slot: slot, resolve: v.group.resolve}
	groupTag := v.group.SyncTag()

	start := uint64(dzoneIndex) * v.group.DirtyZoneSize
	end := start + v.group.DirtyZoneSize

	for s := start; s < end; {
		locs := striping.SlotData2RDev(v.params, adapter, v.metadataSize(), s, groupTag)
		if len(locs) == 0 {
			s += uint64(v.params.SUSize)
			continue
		}

		runLen := uint64(locs[0].Size)
		if s+runLen > end {
			runLen = end - s
		}

		var source *striping.RDevLocation
		for i := range locs {
			if locs[i].Uptodate {
				source = &locs[i]
				break
			}
		}
		if source == nil {
			return fmt.Errorf("group: dirty zone %d of slot has no uptodate replica to copy from", dzoneIndex)
		}
		srcDev := source.RDev.(*rdev.RDev)

		buf := make([]byte, runLen*sectors.SectorSize)
		if err := devs.ReadAt(ctx, srcDev.LayoutUUID, source.Sector, buf); err != nil {
			return fmt.Errorf("group: dirty zone %d: read from %v: %w", dzoneIndex, srcDev.LayoutUUID, err)
		}

		for i := range locs {
			rd := locs[i].RDev.(*rdev.RDev)
			if rd.LayoutUUID == srcDev.LayoutUUID {
				continue
			}
			targeted := dest != (util.UUID{}) && rd.LayoutUUID == dest
			broadcast := dest == (util.UUID{}) && !locs[i].Uptodate
			if !targeted && !broadcast {
				continue
			}
			if err := devs.WriteAt(ctx, rd.LayoutUUID, locs[i].Sector, buf); err != nil {
				return fmt.Errorf("group: dirty zone %d: write to %v: %w", dzoneIndex, rd.LayoutUUID, err)
			}
		}

		s += runLen
	}
	return nil
}

// SizeBytes is SizeSectors in bytes.
func (v *Volume) SizeBytes() int64 {
	return sectors.Delta(v.SizeSectors).ToBytes()
}
