// Copyright (C) 2002, 2009 Seanodes Ltd http://www.seanodes.com.
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package striping computes the mapping between a logical position on a
// volume and the physical locations on the chunks of a slot: the
// striping formula, the replication formula and the distributed-shift
// formula that together place data and its mirror on two different
// chunks of two different stripes.
package striping

import (
	"github.com/exanodes/vrt/lib/vrt/sectors"
	"github.com/exanodes/vrt/lib/vrt/synctag"
)

// MaxNodes bounds the per-slot metadata sub-area: one MetadataBlockSize
// sector reserved per node in the cluster, whatever the group's actual
// node count at any given time.
const MaxNodes = 32

// Params describes the geometry of one assembly group's slots, as
// needed to place data within them.
//
// A slot has two distinct sizes that must not be conflated: its raw,
// logical size (metadata sub-area plus data sub-area, the bound every
// physical placement is checked against) and its data sub-area size
// alone (the bound a data-relative sector is checked against before
// the metadata offset is added in). rain1_group_t kept these as
// logical_slot_size and rain1_group_get_slot_data_size() respectively;
// collapsing them into one field here would make SlotData2RDev reject
// valid sectors whenever the metadata sub-area is non-empty.
type Params struct {
	// SUSize is the striping unit size, in sectors.
	SUSize uint32
	// StripeWidth is the number of chunks in a slot.
	StripeWidth uint32
	// LogicalSlotSize is the raw size of a slot (metadata sub-area plus
	// data sub-area), in sectors. This is the bound the placement chain
	// checks a raw slot-relative sector against.
	LogicalSlotSize uint64
	// SlotDataSize is the size of the data sub-area of a slot, in
	// sectors: LogicalSlotSize minus whatever metadata sub-area the
	// slot's geometry reserves.
	SlotDataSize uint64
	// Blended selects the blended (interlaced) replication layout over
	// the split (first-half/second-half) layout.
	Blended bool
}

// SlotMetadataSize returns the number of sectors reserved at the head of
// each slot for the per-node desync-info blocks, given the unit size.
func SlotMetadataSize(suSize uint32, metadataBlockSize uint64) uint64 {
	blockSectors := sectors.BytesToSectors(metadataBlockSize)
	total := MaxNodes * blockSectors
	units := (total + uint64(suSize) - 1) / uint64(suSize)
	return units * uint64(suSize)
}

// RDevLocation is one physical location that a logical sector maps to:
// one member of a replica pair, annotated with enough status to let the
// caller decide whether it is safe to read and whether it was ever
// replicated to.
type RDevLocation struct {
	RDev            interface{} // *rdev.RDev; kept untyped here to avoid an import cycle
	Sector          uint64
	Size            uint32 // remaining sectors until the next striping unit boundary
	Uptodate        bool
	NeverReplicated bool
}

// Slot is the minimal view striping needs of an assembly slot: its
// width (chunk count) and a way to resolve a (chunk index, sector
// within chunk) pair to a physical rdev location.
type Slot interface {
	Width() uint32
	MapSectorToRDev(chunkIdx uint32, sectorInChunk uint64) (rdev RDevStatus, rdevSector uint64)
}

// RDevStatus is the minimal view striping needs of a real device's
// status.
type RDevStatus interface {
	SyncTag() synctag.SyncTag
	IsWritable() bool
	IsUptodate(groupTag synctag.SyncTag) bool
}

// OrderedUptodateFirst partitions locs into the uptodate ones first,
// the rest after, preserving relative order within each group. Reads
// prefer an uptodate replica and writes go to uptodate replicas first
// so a crash after a partial write still leaves a legible majority.
func OrderedUptodateFirst(locs []RDevLocation) []RDevLocation {
	out := make([]RDevLocation, 0, len(locs))
	for _, l := range locs {
		if l.Uptodate {
			out = append(out, l)
		}
	}
	for _, l := range locs {
		if !l.Uptodate {
			out = append(out, l)
		}
	}
	return out
}

// StripeFor applies the striping formula: splits a slot-relative sector
// into an offset within its striping unit, the index of the logical
// stripe it belongs to, and the chunk index within that stripe.
//
// Mirrors rain1_striping().
func StripeFor(p Params, sector uint64) (offset uint32, stripe uint64, chunkIdx uint32) {
	su := uint64(p.SUSize)
	offset = uint32(sector % su)
	stripe = sector / su / uint64(p.StripeWidth)
	chunkIdx = uint32((sector / su) % uint64(p.StripeWidth))
	return
}

// Replicas applies the replication formula: given a non-replicated
// stripe index, returns the indices of the original and mirror physical
// stripes among nbStripes physical stripes in the slot.
//
// Mirrors rain1_replication().
func Replicas(stripe uint64, blended bool, nbStripes uint64) (orig, mirror uint64) {
	if blended {
		orig = stripe * 2
		mirror = orig + 1
	} else {
		orig = stripe
		mirror = orig + nbStripes/2
	}
	return
}

// MirrorChunk applies the distributed-shift formula: computes the chunk
// index of the mirror replica, shifted from the original chunk index by
// an offset that depends on the original stripe so that replicas spread
// across all chunks of a slot rather than piling onto one pair.
//
// Mirrors rain1_distributed_shift(). Panics if stripeWidth <= 1, since a
// slot of width 1 cannot place two replicas on distinct chunks.
func MirrorChunk(chunkOrig uint32, stripe uint64, stripeWidth uint32) uint32 {
	if stripeWidth <= 1 {
		panic("striping: MirrorChunk requires stripe width > 1")
	}
	shifted := (uint64(chunkOrig) + 1 + stripe%uint64(stripeWidth-1)) % uint64(stripeWidth)
	mirror := uint32(shifted)
	if mirror == chunkOrig {
		panic("striping: MirrorChunk computed the same chunk as the original")
	}
	return mirror
}

// Volume2DZone converts a volume-relative sector (already resolved to a
// slot-relative offset by the assembly layer) into the dirty-zone index
// within that slot, given the size of a dirty zone in sectors.
func Volume2DZone(offsetInSlot uint64, dirtyZoneSize uint64) (dzoneIndex int) {
	return int(offsetInSlot / dirtyZoneSize)
}

// slotToRDevLocations applies the full placement chain (striping,
// replication, distributed shift) to a slot-relative sector and returns
// every writable replica location, each annotated with its uptodate and
// never-replicated status. At most two locations are ever returned.
//
// Mirrors slot_to_rdev_location().
func slotToRDevLocations(p Params, slot Slot, ssector uint64, groupTag synctag.SyncTag) []RDevLocation {
	width := slot.Width()
	if width <= 1 {
		panic("striping: a slot must have stripe width > 1")
	}

	if ssector >= p.LogicalSlotSize {
		panic("striping: sector maps past the end of the slot")
	}

	offset, stripe, chunk0 := StripeFor(p, ssector)

	nbStripes := p.LogicalSlotSize / (uint64(width) * uint64(p.SUSize)) * 2
	if stripe >= nbStripes/2 {
		panic("striping: sector maps past the end of the slot")
	}

	replicaStripe0, replicaStripe1 := Replicas(stripe, p.Blended, nbStripes)
	chunk1 := MirrorChunk(chunk0, stripe, width)

	replicaChunk := [2]uint32{chunk0, chunk1}
	replicaStripe := [2]uint64{replicaStripe0, replicaStripe1}

	out := make([]RDevLocation, 0, 2)
	maxTag := synctag.Blank
	for i := 0; i < 2; i++ {
		chunk := (replicaChunk[i] + uint32(stripe)) % width
		rd, rsector := slot.MapSectorToRDev(chunk, replicaStripe[i]*uint64(p.SUSize)+uint64(offset))
		if rd == nil {
			panic("striping: slot chunk resolved to no device")
		}

		maxTag = synctag.Max2(maxTag, rd.SyncTag())

		if !rd.IsWritable() {
			continue
		}

		out = append(out, RDevLocation{
			RDev:            rd,
			Sector:          rsector,
			Size:            p.SUSize - offset,
			Uptodate:        rd.IsUptodate(groupTag),
			NeverReplicated: synctag.IsGreater(maxTag, rd.SyncTag()),
		})
	}
	return out
}

// SlotRaw2RDev maps a raw (metadata-area-included) slot-relative sector
// to its physical replica locations.
//
// Mirrors rain1_slot_raw2rdev().
func SlotRaw2RDev(p Params, slot Slot, ssector uint64, groupTag synctag.SyncTag) []RDevLocation {
	return slotToRDevLocations(p, slot, ssector, groupTag)
}

// SlotData2RDev maps a data-area-relative slot sector (i.e. excluding
// the metadata sub-area) to its physical replica locations.
//
// Mirrors rain1_slot_data2rdev(), which bound-checks dataSector against
// the data sub-area size before adding the metadata offset and
// delegating to rain1_slot_raw2rdev (which re-checks the raw sector
// against the slot's logical size).
func SlotData2RDev(p Params, slot Slot, metadataSize uint64, dataSector uint64, groupTag synctag.SyncTag) []RDevLocation {
	if dataSector >= p.SlotDataSize {
		panic("striping: data sector maps past the end of the slot's data sub-area")
	}
	return SlotRaw2RDev(p, slot, dataSector+metadataSize, groupTag)
}

// DZone2RDev maps a per-node desync-info block index to its physical
// replica locations within the slot's metadata sub-area.
//
// Mirrors rain1_dzone2rdev().
func DZone2RDev(p Params, slot Slot, nodeIndex int, metadataBlockSize uint64, groupTag synctag.SyncTag) []RDevLocation {
	ssector := uint64(nodeIndex) * sectors.BytesToSectors(metadataBlockSize)
	return SlotRaw2RDev(p, slot, ssector, groupTag)
}

// Volume2RDev maps a slot-relative data sector already resolved from a
// volume-relative sector (by the assembly layer's Volume/Group mapping)
// to its physical replica locations. Kept as a thin wrapper over
// SlotData2RDev so the two call sites named in lay_rain1_striping.c
// (rain1_volume2rdev and rain1_slot_data2rdev) stay distinguishable.
//
// Mirrors rain1_volume2rdev().
func Volume2RDev(p Params, slot Slot, metadataSize uint64, dataSector uint64, groupTag synctag.SyncTag) []RDevLocation {
	return SlotData2RDev(p, slot, metadataSize, dataSector, groupTag)
}
