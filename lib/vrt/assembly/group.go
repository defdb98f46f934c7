// Copyright (C) 2002, 2010 Seanodes Ltd http://www.seanodes.com.
//
// SPDX-License-Identifier: GPL-2.0-or-later

package assembly

import (
	"github.com/exanodes/vrt/lib/containers"
	"github.com/exanodes/vrt/lib/util"
)

// Group is an assembly group: the uniform slot geometry shared by every
// subspace (assembly volume) carved out of one storage pool.
//
// The original C source threads subspaces together as a linked list of
// assembly_volume_t nodes; here that's an insertion-ordered slice
// indexed by UUID, which is the idiomatic Go equivalent of "arena
// indexed by next-pointer" for a collection that's walked far more
// often than it's spliced.
type Group struct {
	SlotWidth uint32 // chunks per slot
	SlotSize  uint64 // sectors per slot (uniform across every subspace)

	subspaces map[util.UUID]*Volume
	order     []util.UUID
}

// NewGroup creates an empty assembly group with the given uniform slot
// geometry.
func NewGroup(slotWidth uint32, slotSize uint64) *Group {
	return &Group{
		SlotWidth: slotWidth,
		SlotSize:  slotSize,
		subspaces: make(map[util.UUID]*Volume),
	}
}

// AddSubspace registers a new assembly volume (subspace) in the group.
func (g *Group) AddSubspace(v *Volume) {
	g.subspaces[v.UUID] = v
	g.order = append(g.order, v.UUID)
}

// RemoveSubspace drops a subspace and returns the slots it owned, so
// the caller can release them back to storage.
func (g *Group) RemoveSubspace(uuid util.UUID) []*Slot {
	v, ok := g.subspaces[uuid]
	if !ok {
		return nil
	}
	delete(g.subspaces, uuid)
	for i, id := range g.order {
		if id == uuid {
			g.order = append(g.order[:i], g.order[i+1:]...)
			break
		}
	}
	return v.Slots
}

// Subspace looks a subspace up by UUID.
func (g *Group) Subspace(uuid util.UUID) (*Volume, bool) {
	v, ok := g.subspaces[uuid]
	return v, ok
}

// Subspaces returns every subspace in insertion order.
func (g *Group) Subspaces() []*Volume {
	out := make([]*Volume, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.subspaces[id])
	}
	return out
}

// MaxSlotsCount returns how many SlotWidth-wide slots could ever fit in
// storage's free space, given its uniform chunk size (an upper bound
// used for capacity reporting, not a live count: it does not account
// for SPOF-disjointness shortfalls that ReserveSlot may still hit).
func (g *Group) MaxSlotsCount(s *Storage) uint64 {
	var totalChunks uint64
	for _, rdevUUID := range s.order {
		d := s.devices[rdevUUID]
		d.free.Range(func(_ containers.NativeOrdered[uint64], length uint64) bool {
			totalChunks += length / s.ChunkSize
			return true
		})
	}
	return totalChunks / uint64(g.SlotWidth)
}

// UsedSlotsCount returns the number of slots currently allocated across
// every subspace of the group.
func (g *Group) UsedSlotsCount() uint64 {
	var n uint64
	for _, v := range g.Subspaces() {
		n += uint64(len(v.Slots))
	}
	return n
}

// MapSectorToSlot converts a group-relative sector on av into the slot
// that contains it and the sector's offset within that slot, using
// slotSize (pass either the logical or the physical slot size depending
// on which addressing domain vsector is in).
//
// Mirrors assembly_group_map_sector_to_slot().
func (g *Group) MapSectorToSlot(av *Volume, slotSize uint64, vsector uint64) (slot *Slot, offsetInSlot uint64) {
	return av.MapSectorToSlot(slotSize, vsector)
}
