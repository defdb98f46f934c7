// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package rebuild_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exanodes/vrt/lib/util"
	"github.com/exanodes/vrt/lib/vrt/desyncinfo"
	"github.com/exanodes/vrt/lib/vrt/rdev"
	"github.com/exanodes/vrt/lib/vrt/rebuild"
	"github.com/exanodes/vrt/lib/vrt/synctag"
)

type fakeSlot struct {
	block *desyncinfo.SlotBlock
}

func (s *fakeSlot) DesyncInfo() *desyncinfo.SlotBlock { return s.block }

type noopTransport struct{}

func (noopTransport) Lock(context.Context, util.UUID, uint64, uint64) error { return nil }
func (noopTransport) Unlock(context.Context, util.UUID, uint64, uint64)     {}

func TestContextTableLifecycle(t *testing.T) {
	t.Parallel()
	var tbl rebuild.ContextTable
	dev := util.MustParseUUID("00000000-0000-0000-0000-000000000001")

	dc := tbl.Start(dev, rdev.RebuildUpdating, synctag.SyncTag(5), 10)
	got, ok := tbl.Get(dev)
	require.True(t, ok)
	assert.Same(t, dc, got)

	tbl.Finish(dev)
	_, ok = tbl.Get(dev)
	assert.False(t, ok)
	assert.True(t, dc.Progress().Complete)
}

func TestRebuildCopiesOnlyOutdatedZones(t *testing.T) {
	t.Parallel()
	sb := desyncinfo.NewSlotBlock(synctag.SyncTag(3))
	sb.InMemory[0].SyncTag = synctag.SyncTag(1) // outdated, needs rebuild
	sb.InMemory[1].SyncTag = synctag.SyncTag(3) // already current

	slots := []rebuild.Slot{&fakeSlot{block: sb}}
	dc := &rebuild.DeviceContext{SyncTag: synctag.SyncTag(3)}
	dest := util.MustParseUUID("00000000-0000-0000-0000-000000000002")

	var rebuilt []int
	rebuildFn := func(_ context.Context, slot rebuild.Slot, z int, _ util.UUID) error {
		rebuilt = append(rebuilt, z)
		return nil
	}

	err := rebuild.Rebuild(context.Background(), dc, dest, slots, 2, noopTransport{}, rebuildFn,
		func() synctag.SyncTag { return synctag.SyncTag(3) }, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{0}, rebuilt)
	assert.True(t, dc.Progress().Complete)
}

func TestRebuildAbortsOnSyncTagAdvance(t *testing.T) {
	t.Parallel()
	sb := desyncinfo.NewSlotBlock(synctag.SyncTag(3))
	slots := []rebuild.Slot{&fakeSlot{block: sb}}
	dc := &rebuild.DeviceContext{SyncTag: synctag.SyncTag(3)}
	dest := util.MustParseUUID("00000000-0000-0000-0000-000000000002")

	err := rebuild.Rebuild(context.Background(), dc, dest, slots, 2, noopTransport{},
		func(context.Context, rebuild.Slot, int, util.UUID) error { return nil },
		func() synctag.SyncTag { return synctag.SyncTag(4) }, nil)
	assert.ErrorIs(t, err, rebuild.ErrInterrupted)
}
