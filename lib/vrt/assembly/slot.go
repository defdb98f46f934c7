// Copyright (C) 2002, 2010 Seanodes Ltd http://www.seanodes.com.
//
// SPDX-License-Identifier: GPL-2.0-or-later

package assembly

import (
	"github.com/exanodes/vrt/lib/util"
	"github.com/exanodes/vrt/lib/vrt/desyncinfo"
)

// Slot is a vector of chunks, drawn from pairwise-distinct SPOF groups
// by Storage.ReserveSlot, that a layout stripes data and its replica
// across. DesyncInfo is the layout's per-slot dirty-zone metadata block,
// attached once the slot is bound into a group.
type Slot struct {
	Chunks     []Chunk
	DesyncInfo *desyncinfo.SlotBlock
}

// Width is the number of chunks in the slot.
func (sl *Slot) Width() uint32 {
	return uint32(len(sl.Chunks))
}

// MapSectorToRDev resolves (chunkIndex, sectorInChunk) to the absolute
// sector on the chunk's device, relative to the device's usable area
// (i.e. excluding the reserved superblock area).
//
// Mirrors assembly_slot_map_sector_to_rdev().
func (sl *Slot) MapSectorToRDev(chunkIndex uint32, sectorInChunk uint64) (rdevUUID util.UUID, rsector uint64) {
	c := sl.Chunks[chunkIndex]
	return c.RDev, c.Offset + sectorInChunk
}

// Equals reports whether sl and o consist of the same chunks in the
// same order.
func (sl *Slot) Equals(o *Slot) bool {
	if len(sl.Chunks) != len(o.Chunks) {
		return false
	}
	for i := range sl.Chunks {
		if sl.Chunks[i].Cmp(o.Chunks[i]) != 0 {
			return false
		}
	}
	return true
}
