// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package superblock_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exanodes/vrt/lib/util"
	"github.com/exanodes/vrt/lib/vrt/rdev"
	"github.com/exanodes/vrt/lib/vrt/superblock"
)

type memIO struct {
	area map[util.UUID][]byte
}

func newMemIO() *memIO {
	return &memIO{area: make(map[util.UUID][]byte)}
}

func (m *memIO) buf(dev util.UUID) []byte {
	b, ok := m.area[dev]
	if !ok {
		b = make([]byte, rdev.SuperblockArea*512)
		m.area[dev] = b
	}
	return b
}

func (m *memIO) ReadAt(_ context.Context, dev util.UUID, offset uint64, buf []byte) error {
	copy(buf, m.buf(dev)[offset:])
	return nil
}

func (m *memIO) WriteAt(_ context.Context, dev util.UUID, offset uint64, buf []byte) error {
	copy(m.buf(dev)[offset:], buf)
	return nil
}

func devUUID(n byte) util.UUID {
	var u util.UUID
	u[15] = n
	return u
}

func samplePayload() superblock.GroupPayload {
	return superblock.GroupPayload{
		LayoutHeader: []byte("layout-v1"),
		Storage:      []byte("storage-table"),
		Volumes:      [][]byte{[]byte("vol-a"), []byte("vol-b")},
	}
}

func TestCreateSlotsThenWriteThenRead(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	io := newMemIO()
	dev := devUUID(1)

	require.NoError(t, superblock.CreateSlots(ctx, io, dev))
	require.NoError(t, superblock.WriteGroup(ctx, io, dev, 0, 1, samplePayload()))

	got, err := superblock.ReadGroup(ctx, io, dev, 1)
	require.NoError(t, err)
	assert.Equal(t, samplePayload(), got)
}

func TestWriteGroupAlternatesSlots(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	io := newMemIO()
	dev := devUUID(2)

	require.NoError(t, superblock.CreateSlots(ctx, io, dev))
	require.NoError(t, superblock.WriteGroup(ctx, io, dev, 0, 1, samplePayload()))

	headersBefore := append([]byte(nil), io.buf(dev)[:2*superblock.HeaderSize]...)

	second := superblock.GroupPayload{LayoutHeader: []byte("layout-v2"), Storage: []byte("s2")}
	require.NoError(t, superblock.WriteGroup(ctx, io, dev, 1, 2, second))

	got, err := superblock.ReadGroup(ctx, io, dev, 2)
	require.NoError(t, err)
	assert.Equal(t, second, got)

	// The version-1 slot's header bytes were left untouched by the
	// version-2 write: it wrote into the other slot.
	oldStillReadable, err := superblock.ReadGroup(ctx, io, dev, 1)
	require.NoError(t, err)
	assert.Equal(t, samplePayload(), oldStillReadable)
	assert.NotEqual(t, headersBefore, io.buf(dev)[:2*superblock.HeaderSize])
}

func TestReadGroupDetectsChecksumCorruption(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	io := newMemIO()
	dev := devUUID(3)

	require.NoError(t, superblock.CreateSlots(ctx, io, dev))
	require.NoError(t, superblock.WriteGroup(ctx, io, dev, 0, 1, samplePayload()))

	start := 2 * superblock.HeaderSize
	io.buf(dev)[start] ^= 0xFF

	_, err := superblock.ReadGroup(ctx, io, dev, 1)
	assert.ErrorIs(t, err, superblock.ErrChecksum)
}

func TestReadGroupNotFound(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	io := newMemIO()
	dev := devUUID(4)

	require.NoError(t, superblock.CreateSlots(ctx, io, dev))
	_, err := superblock.ReadGroup(ctx, io, dev, 99)
	assert.ErrorIs(t, err, superblock.ErrNotFound)
}
