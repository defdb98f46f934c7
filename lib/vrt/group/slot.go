// Copyright (C) 2002, 2010 Seanodes Ltd http://www.seanodes.com.
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package group is the volume facade: it owns a group's assembly
// (chunk placement) and storage (free space) together with the rdev
// registry that gives those chunk placements meaning, and exposes the
// block-device surface (Volume.SubmitIO) that the rest of the daemon
// drives requests through.
package group

import (
	"github.com/exanodes/vrt/lib/util"
	"github.com/exanodes/vrt/lib/vrt/assembly"
	"github.com/exanodes/vrt/lib/vrt/desyncinfo"
	"github.com/exanodes/vrt/lib/vrt/rdev"
	"github.com/exanodes/vrt/lib/vrt/striping"
)

// rdevLookup resolves a chunk's device UUID to its live rdev state.
// assembly.Slot only ever hands back UUIDs (it has no rdev import, to
// keep the two packages decoupled); this is the seam where a group
// binds the two back together.
type rdevLookup func(util.UUID) *rdev.RDev

// stripingSlot adapts an *assembly.Slot, which maps a chunk position to
// a bare device UUID, into a striping.Slot, which needs a status-bearing
// handle for the placement chain's writability/uptodate decisions.
//
// volume and idx are only populated when a stripingSlot is built by
// Group.RebuildSlots/ResyncSlots: they let RebuildZone/SyncZone recover
// the owning volume's params from the rebuild.Slot/resync.Slot
// interface value, and let resync.Slot.Index shard ownership across
// nodes without a second index.
type stripingSlot struct {
	slot    *assembly.Slot
	resolve rdevLookup
	volume  *Volume
	idx     int
}

var _ striping.Slot = (*stripingSlot)(nil)

func (s *stripingSlot) Width() uint32 { return s.slot.Width() }

func (s *stripingSlot) MapSectorToRDev(chunkIdx uint32, sectorInChunk uint64) (striping.RDevStatus, uint64) {
	devUUID, rsector := s.slot.MapSectorToRDev(chunkIdx, sectorInChunk)
	rd := s.resolve(devUUID)
	if rd == nil {
		return nil, 0
	}
	return rd, rsector
}

// DesyncInfo exposes the slot's dirty-zone metadata block, satisfying
// both rebuild.Slot and resync.Slot without either package needing to
// know about assembly.Slot directly.
func (s *stripingSlot) DesyncInfo() *desyncinfo.SlotBlock {
	return s.slot.DesyncInfo
}

// Index satisfies resync.Slot: the slot's position in the group-wide
// sequence Group.ResyncSlots built it from.
func (s *stripingSlot) Index() int {
	return s.idx
}
