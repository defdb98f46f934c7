// Copyright (C) 2002, 2010 Seanodes Ltd http://www.seanodes.com.
//
// SPDX-License-Identifier: GPL-2.0-or-later

package assembly

import (
	"fmt"
	"sort"

	"github.com/exanodes/vrt/lib/containers"
	"github.com/exanodes/vrt/lib/util"
)

// ErrCapacity is returned by Storage.ReserveSlot/ReserveSlots when there
// is not enough free, SPOF-disjoint space to satisfy the request. No
// partial reservation is ever made: either every requested slot is
// reserved, or none is.
var ErrCapacity = fmt.Errorf("assembly: not enough free space across distinct SPOF groups")

// device is one real device's free-space bookkeeping: a sorted map from
// the start sector of each free extent to its length, in sectors.
type device struct {
	spofGroup string
	free      containers.SortedMap[containers.NativeOrdered[uint64], uint64]
}

// Storage is the free-space pool a group's slots are carved out of: a
// set of real devices grouped by SPOF group, plus the uniform chunk
// size used to carve slots.
type Storage struct {
	ChunkSize uint64 // sectors

	devices map[util.UUID]*device
	order   []util.UUID // insertion order, for deterministic allocation
}

// NewStorage creates an empty storage pool with the given chunk size.
func NewStorage(chunkSize uint64) *Storage {
	return &Storage{
		ChunkSize: chunkSize,
		devices:   make(map[util.UUID]*device),
	}
}

// AddDevice registers a device's free space (usableSectors, starting at
// sector 0 of its usable area) under the given SPOF group.
func (s *Storage) AddDevice(rdevUUID util.UUID, spofGroup string, usableSectors uint64) {
	d := &device{spofGroup: spofGroup}
	if usableSectors > 0 {
		d.free.Store(containers.NativeOrdered[uint64]{Val: 0}, usableSectors)
	}
	s.devices[rdevUUID] = d
	s.order = append(s.order, rdevUUID)
}

// SPOFGroups returns the distinct SPOF group names currently registered.
func (s *Storage) SPOFGroups() []string {
	seen := make(map[string]bool)
	var out []string
	for _, rdevUUID := range s.order {
		g := s.devices[rdevUUID].spofGroup
		if !seen[g] {
			seen[g] = true
			out = append(out, g)
		}
	}
	sort.Strings(out)
	return out
}

// allocChunk finds and removes one free chunk from the given device,
// returning its offset. Returns false if the device has no chunk-sized
// free extent left.
func (d *device) allocChunk(chunkSize uint64) (offset uint64, ok bool) {
	var foundKey containers.NativeOrdered[uint64]
	var foundLen uint64
	found := false
	d.free.Range(func(key containers.NativeOrdered[uint64], length uint64) bool {
		if length >= chunkSize {
			foundKey, foundLen = key, length
			found = true
			return false
		}
		return true
	})
	if !found {
		return 0, false
	}

	d.free.Delete(foundKey)
	if foundLen > chunkSize {
		d.free.Store(containers.NativeOrdered[uint64]{Val: foundKey.Val + chunkSize}, foundLen-chunkSize)
	}
	return foundKey.Val, true
}

func (d *device) releaseChunk(offset, chunkSize uint64) {
	d.free.Store(containers.NativeOrdered[uint64]{Val: offset}, chunkSize)
	mergeAdjacentFreeExtents(d)
}

// mergeAdjacentFreeExtents coalesces free extents that abut, so that
// fragmentation from repeated alloc/release cycles doesn't understate
// the largest available chunk.
func mergeAdjacentFreeExtents(d *device) {
	type extent struct {
		start, length uint64
	}
	var extents []extent
	d.free.Range(func(key containers.NativeOrdered[uint64], length uint64) bool {
		extents = append(extents, extent{key.Val, length})
		return true
	})
	sort.Slice(extents, func(i, j int) bool { return extents[i].start < extents[j].start })

	var merged []extent
	for _, e := range extents {
		if n := len(merged); n > 0 && merged[n-1].start+merged[n-1].length == e.start {
			merged[n-1].length += e.length
		} else {
			merged = append(merged, e)
		}
	}

	for _, e := range extents {
		d.free.Delete(containers.NativeOrdered[uint64]{Val: e.start})
	}
	for _, e := range merged {
		d.free.Store(containers.NativeOrdered[uint64]{Val: e.start}, e.length)
	}
}

// ReserveSlot allocates one chunk from each of width distinct SPOF
// groups, returning the new Slot. On failure to find width
// SPOF-disjoint chunks, releases any chunks it had provisionally taken
// and returns ErrCapacity: no partial reservation.
func (s *Storage) ReserveSlot(width uint32) (*Slot, error) {
	type taken struct {
		rdevUUID util.UUID
		offset   uint64
	}
	var takenChunks []taken
	usedGroups := make(map[string]bool)

	rollback := func() {
		for _, t := range takenChunks {
			s.devices[t.rdevUUID].releaseChunk(t.offset, s.ChunkSize)
		}
	}

	for i := uint32(0); i < width; i++ {
		placed := false
		for _, rdevUUID := range s.order {
			d := s.devices[rdevUUID]
			if usedGroups[d.spofGroup] {
				continue
			}
			offset, ok := d.allocChunk(s.ChunkSize)
			if !ok {
				continue
			}
			takenChunks = append(takenChunks, taken{rdevUUID, offset})
			usedGroups[d.spofGroup] = true
			placed = true
			break
		}
		if !placed {
			rollback()
			return nil, ErrCapacity
		}
	}

	chunks := make([]Chunk, len(takenChunks))
	for i, t := range takenChunks {
		chunks[i] = Chunk{RDev: t.rdevUUID, Offset: t.offset}
	}
	return &Slot{Chunks: chunks}, nil
}

// ReserveSlots reserves n slots of the given width as a single
// all-or-nothing operation: if any slot can't be placed, every slot
// already reserved in this call is released before returning
// ErrCapacity.
func (s *Storage) ReserveSlots(n int, width uint32) ([]*Slot, error) {
	slots := make([]*Slot, 0, n)
	for i := 0; i < n; i++ {
		slot, err := s.ReserveSlot(width)
		if err != nil {
			for _, done := range slots {
				s.ReleaseSlot(done)
			}
			return nil, err
		}
		slots = append(slots, slot)
	}
	return slots, nil
}

// ReleaseSlot returns every chunk of slot to its device's free space.
func (s *Storage) ReleaseSlot(slot *Slot) {
	for _, c := range slot.Chunks {
		if d, ok := s.devices[c.RDev]; ok {
			d.releaseChunk(c.Offset, s.ChunkSize)
		}
	}
}
