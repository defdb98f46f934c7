// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package assembly_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/exanodes/vrt/lib/vrt/assembly"
)

func TestVolumeMapSectorToSlot(t *testing.T) {
	t.Parallel()
	v := assembly.NewVolume(uuidN(9))
	v.AppendSlot(&assembly.Slot{Chunks: []assembly.Chunk{{RDev: uuidN(1), Offset: 0}}})
	v.AppendSlot(&assembly.Slot{Chunks: []assembly.Chunk{{RDev: uuidN(2), Offset: 0}}})

	slot, offset := v.MapSectorToSlot(100, 150)
	assert.Same(t, v.Slots[1], slot)
	assert.Equal(t, uint64(50), offset)
}

func TestVolumeSizeSectors(t *testing.T) {
	t.Parallel()
	v := assembly.NewVolume(uuidN(9))
	v.AppendSlot(&assembly.Slot{})
	v.AppendSlot(&assembly.Slot{})
	v.AppendSlot(&assembly.Slot{})
	assert.Equal(t, uint64(300), v.SizeSectors(100))
}

func TestGroupSubspaceLifecycle(t *testing.T) {
	t.Parallel()
	g := assembly.NewGroup(3, 1000)
	v := assembly.NewVolume(uuidN(1))
	v.AppendSlot(&assembly.Slot{})
	g.AddSubspace(v)

	got, ok := g.Subspace(uuidN(1))
	assert.True(t, ok)
	assert.Same(t, v, got)
	assert.Equal(t, uint64(1), g.UsedSlotsCount())

	slots := g.RemoveSubspace(uuidN(1))
	assert.Len(t, slots, 1)
	assert.Equal(t, uint64(0), g.UsedSlotsCount())

	_, ok = g.Subspace(uuidN(1))
	assert.False(t, ok)
}
