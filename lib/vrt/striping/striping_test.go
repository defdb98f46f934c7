// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package striping_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/exanodes/vrt/lib/vrt/striping"
	"github.com/exanodes/vrt/lib/vrt/synctag"
)

func TestStripeFor(t *testing.T) {
	t.Parallel()
	p := striping.Params{SUSize: 1, StripeWidth: 4}

	offset, stripe, chunk := striping.StripeFor(p, 11)
	assert.Equal(t, uint32(0), offset)
	assert.Equal(t, uint64(2), stripe)
	assert.Equal(t, uint32(3), chunk)
}

func TestReplicasBlended(t *testing.T) {
	t.Parallel()
	orig, mirror := striping.Replicas(2, true, 16)
	assert.Equal(t, uint64(4), orig)
	assert.Equal(t, uint64(5), mirror)
}

func TestReplicasSplit(t *testing.T) {
	t.Parallel()
	orig, mirror := striping.Replicas(2, false, 16)
	assert.Equal(t, uint64(2), orig)
	assert.Equal(t, uint64(10), mirror)
}

func TestMirrorChunkNeverEqualsOriginal(t *testing.T) {
	t.Parallel()
	for width := uint32(2); width < 8; width++ {
		for chunk := uint32(0); chunk < width; chunk++ {
			for stripe := uint64(0); stripe < 20; stripe++ {
				m := striping.MirrorChunk(chunk, stripe, width)
				assert.NotEqual(t, chunk, m)
				assert.Less(t, m, width)
			}
		}
	}
}

func TestMirrorChunkPanicsOnWidthOne(t *testing.T) {
	t.Parallel()
	assert.Panics(t, func() { striping.MirrorChunk(0, 0, 1) })
}

func TestVolume2DZone(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 3, striping.Volume2DZone(3*64+5, 64))
}

func TestSlotMetadataSize(t *testing.T) {
	t.Parallel()
	size := striping.SlotMetadataSize(8, 512)
	// 32 nodes * 1 sector each = 32 sectors, rounded up to a multiple of 8.
	assert.Equal(t, uint64(32), size)
}

type fakeRDev struct {
	tag      synctag.SyncTag
	writable bool
	uptodate bool
}

func (r *fakeRDev) SyncTag() synctag.SyncTag          { return r.tag }
func (r *fakeRDev) IsWritable() bool                  { return r.writable }
func (r *fakeRDev) IsUptodate(_ synctag.SyncTag) bool { return r.uptodate }

type fakeSlot struct {
	width uint32
	devs  map[uint32]*fakeRDev
}

func (s *fakeSlot) Width() uint32 { return s.width }

func (s *fakeSlot) MapSectorToRDev(chunkIdx uint32, sectorInChunk uint64) (striping.RDevStatus, uint64) {
	return s.devs[chunkIdx], sectorInChunk
}

func TestSlotData2RDevReturnsTwoWritableReplicas(t *testing.T) {
	t.Parallel()
	p := striping.Params{SUSize: 4, StripeWidth: 4, LogicalSlotSize: 96, SlotDataSize: 64, Blended: false}
	slot := &fakeSlot{
		width: 4,
		devs: map[uint32]*fakeRDev{
			0: {tag: synctag.SyncTag(5), writable: true, uptodate: true},
			1: {tag: synctag.SyncTag(5), writable: true, uptodate: true},
			2: {tag: synctag.SyncTag(5), writable: true, uptodate: true},
			3: {tag: synctag.SyncTag(5), writable: true, uptodate: true},
		},
	}

	locs := striping.SlotData2RDev(p, slot, 32, 0, synctag.SyncTag(5))
	assert.Len(t, locs, 2)
	assert.NotEqual(t, locs[0].RDev, locs[1].RDev)
}

func TestSlotData2RDevSkipsNonWritable(t *testing.T) {
	t.Parallel()
	p := striping.Params{SUSize: 4, StripeWidth: 4, LogicalSlotSize: 96, SlotDataSize: 64, Blended: false}
	slot := &fakeSlot{
		width: 4,
		devs: map[uint32]*fakeRDev{
			0: {tag: synctag.SyncTag(5), writable: false, uptodate: false},
			1: {tag: synctag.SyncTag(5), writable: true, uptodate: true},
			2: {tag: synctag.SyncTag(5), writable: true, uptodate: true},
			3: {tag: synctag.SyncTag(5), writable: true, uptodate: true},
		},
	}

	locs := striping.SlotData2RDev(p, slot, 32, 0, synctag.SyncTag(5))
	for _, l := range locs {
		fr := l.RDev.(*fakeRDev)
		assert.True(t, fr.writable)
	}
}
