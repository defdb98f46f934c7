// Copyright (C) 2002, 2010 Seanodes Ltd http://www.seanodes.com.
//
// SPDX-License-Identifier: GPL-2.0-or-later

package assembly

import (
	"github.com/exanodes/vrt/lib/util"
)

// Volume is an assembly volume: the ordered sequence of slots that back
// one logical vrt volume's address space, in the order they were
// appended (i.e. in logical-address order).
type Volume struct {
	UUID  util.UUID
	Slots []*Slot
}

// NewVolume creates an empty assembly volume.
func NewVolume(uuid util.UUID) *Volume {
	return &Volume{UUID: uuid}
}

// AppendSlot extends the volume's address space by one more slot.
func (v *Volume) AppendSlot(s *Slot) {
	v.Slots = append(v.Slots, s)
}

// MapSectorToSlot converts a volume-relative sector into the slot that
// holds it and the sector's offset within that slot's data area.
//
// Mirrors assembly_volume_map_sector_to_slot().
func (v *Volume) MapSectorToSlot(slotDataSize uint64, vsector uint64) (slot *Slot, offsetInSlot uint64) {
	idx := vsector / slotDataSize
	return v.Slots[idx], vsector % slotDataSize
}

// SizeSectors returns the volume's total addressable size, in sectors,
// given the per-slot data size.
func (v *Volume) SizeSectors(slotDataSize uint64) uint64 {
	return uint64(len(v.Slots)) * slotDataSize
}
