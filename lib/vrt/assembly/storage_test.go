// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package assembly_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/exanodes/vrt/lib/util"
	"github.com/exanodes/vrt/lib/vrt/assembly"
)

func uuidN(n byte) util.UUID {
	var u util.UUID
	u[15] = n
	return u
}

func TestReserveSlotPicksDistinctSPOFGroups(t *testing.T) {
	t.Parallel()
	s := assembly.NewStorage(100)
	s.AddDevice(uuidN(1), "spofA", 1000)
	s.AddDevice(uuidN(2), "spofA", 1000)
	s.AddDevice(uuidN(3), "spofB", 1000)
	s.AddDevice(uuidN(4), "spofC", 1000)

	slot, err := s.ReserveSlot(3)
	assert.NoError(t, err)
	assert.Len(t, slot.Chunks, 3)

	spofOf := map[util.UUID]string{
		uuidN(1): "spofA",
		uuidN(2): "spofA",
		uuidN(3): "spofB",
		uuidN(4): "spofC",
	}
	groups := make(map[string]bool)
	for _, c := range slot.Chunks {
		groups[spofOf[c.RDev]] = true
	}
	assert.Len(t, groups, 3)
}

func TestReserveSlotFailsWithoutEnoughGroups(t *testing.T) {
	t.Parallel()
	s := assembly.NewStorage(100)
	s.AddDevice(uuidN(1), "spofA", 1000)
	s.AddDevice(uuidN(2), "spofA", 1000)

	_, err := s.ReserveSlot(3)
	assert.ErrorIs(t, err, assembly.ErrCapacity)
}

func TestReserveSlotsAllOrNothing(t *testing.T) {
	t.Parallel()
	s := assembly.NewStorage(500)
	s.AddDevice(uuidN(1), "spofA", 1000) // 2 chunks
	s.AddDevice(uuidN(2), "spofB", 1000) // 2 chunks

	_, err := s.ReserveSlots(3, 2)
	assert.ErrorIs(t, err, assembly.ErrCapacity)

	// Confirm the partial reservations from the failed attempt were
	// rolled back: two full slots of width 2 must still be possible.
	slots, err := s.ReserveSlots(2, 2)
	assert.NoError(t, err)
	assert.Len(t, slots, 2)
}

func TestReleaseSlotReturnsChunks(t *testing.T) {
	t.Parallel()
	s := assembly.NewStorage(500)
	s.AddDevice(uuidN(1), "spofA", 500)
	s.AddDevice(uuidN(2), "spofB", 500)

	slot, err := s.ReserveSlot(2)
	assert.NoError(t, err)

	_, err = s.ReserveSlot(2)
	assert.ErrorIs(t, err, assembly.ErrCapacity)

	s.ReleaseSlot(slot)
	_, err = s.ReserveSlot(2)
	assert.NoError(t, err)
}
