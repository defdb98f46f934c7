// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package resync_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exanodes/vrt/lib/vrt/desyncinfo"
	"github.com/exanodes/vrt/lib/vrt/resync"
	"github.com/exanodes/vrt/lib/vrt/synctag"
)

type fakeSlot struct {
	idx   int
	block *desyncinfo.SlotBlock
}

func (s *fakeSlot) DesyncInfo() *desyncinfo.SlotBlock { return s.block }
func (s *fakeSlot) Index() int                        { return s.idx }

type fakeNodeIO struct {
	perNode map[int]*[desyncinfo.PerBlock]desyncinfo.DZone
	writes  map[int]*[desyncinfo.PerBlock]desyncinfo.DZone
}

func newFakeNodeIO() *fakeNodeIO {
	return &fakeNodeIO{
		perNode: make(map[int]*[desyncinfo.PerBlock]desyncinfo.DZone),
		writes:  make(map[int]*[desyncinfo.PerBlock]desyncinfo.DZone),
	}
}

func (f *fakeNodeIO) ReadNode(_ context.Context, _ resync.Slot, node int) (*[desyncinfo.PerBlock]desyncinfo.DZone, error) {
	return f.perNode[node], nil
}

func (f *fakeNodeIO) WriteNode(_ context.Context, _ resync.Slot, node int, block *[desyncinfo.PerBlock]desyncinfo.DZone) error {
	cp := *block
	f.writes[node] = &cp
	return nil
}

func TestResyncSynchronizesDirtyZonesAndClearsRecords(t *testing.T) {
	t.Parallel()
	sb := desyncinfo.NewSlotBlock(synctag.Zero)
	slot := &fakeSlot{idx: 2, block: sb}

	var nodeA, nodeB [desyncinfo.PerBlock]desyncinfo.DZone
	desyncinfo.InitBlock(&nodeA, synctag.Zero)
	desyncinfo.InitBlock(&nodeB, synctag.Zero)
	nodeA[5].WritePendingCounter = 1

	io := newFakeNodeIO()
	io.perNode[0] = &nodeA
	io.perNode[1] = &nodeB

	var synced []int
	syncFn := func(_ context.Context, _ resync.Slot, z int) error {
		synced = append(synced, z)
		return nil
	}

	err := resync.Resync(context.Background(), []resync.Slot{slot}, []int{0, 1}, 1, 0, io, syncFn, synctag.SyncTag(9))
	require.NoError(t, err)
	assert.Equal(t, []int{5}, synced)

	sb.Lock()
	assert.Equal(t, uint16(0), sb.InMemory[5].WritePendingCounter)
	assert.Equal(t, synctag.SyncTag(9), sb.InMemory[5].SyncTag)
	sb.Unlock()

	assert.Contains(t, io.writes, 0)
	assert.Contains(t, io.writes, 1)
}

func TestResyncSkipsSlotsNotOwnedByThisNode(t *testing.T) {
	t.Parallel()
	sb := desyncinfo.NewSlotBlock(synctag.Zero)
	slot := &fakeSlot{idx: 3, block: sb}

	io := newFakeNodeIO()
	called := false
	syncFn := func(context.Context, resync.Slot, int) error {
		called = true
		return nil
	}

	err := resync.Resync(context.Background(), []resync.Slot{slot}, nil, 2, 0, io, syncFn, synctag.Zero)
	require.NoError(t, err)
	assert.False(t, called)
}
