// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package rdev_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/exanodes/vrt/lib/util"
	"github.com/exanodes/vrt/lib/vrt/rdev"
	"github.com/exanodes/vrt/lib/vrt/synctag"
)

func newDev(t *testing.T) *rdev.RDev {
	t.Helper()
	return rdev.New(util.MustParseUUID("00000000-0000-0000-0000-000000000001"),
		util.MustParseUUID("00000000-0000-0000-0000-000000000002"),
		"node0", "spof0", 2*rdev.SuperblockArea)
}

func TestNewDeviceIsBlank(t *testing.T) {
	t.Parallel()
	d := newDev(t)
	assert.True(t, d.IsUp())
	assert.False(t, d.IsCorrupted())
	assert.Equal(t, synctag.Blank, d.SyncTag())
	assert.Equal(t, rdev.StatusBlank, d.ComputeStatus(synctag.Zero))
}

func TestComputeStatusDown(t *testing.T) {
	t.Parallel()
	d := newDev(t)
	d.SetUp(false)
	assert.Equal(t, rdev.StatusDown, d.ComputeStatus(synctag.Zero))
}

func TestComputeStatusAlienBeatsOutdated(t *testing.T) {
	t.Parallel()
	d := newDev(t)
	d.SetSyncTag(synctag.Zero)
	d.SetCorrupted(true)
	assert.Equal(t, rdev.StatusAlien, d.ComputeStatus(synctag.SyncTag(50)))
}

func TestComputeStatusOutdated(t *testing.T) {
	t.Parallel()
	d := newDev(t)
	d.SetSyncTag(synctag.Zero)
	assert.Equal(t, rdev.StatusOutdated, d.ComputeStatus(synctag.SyncTag(50)))
}

func TestComputeStatusOK(t *testing.T) {
	t.Parallel()
	d := newDev(t)
	d.SetSyncTag(synctag.SyncTag(50))
	assert.Equal(t, rdev.StatusOK, d.ComputeStatus(synctag.SyncTag(50)))
}

func TestComputeStatusRebuild(t *testing.T) {
	t.Parallel()
	d := newDev(t)
	d.SetSyncTag(synctag.Zero)
	d.SetRebuild(rdev.RebuildUpdating)
	assert.Equal(t, rdev.StatusUpdating, d.ComputeStatus(synctag.SyncTag(50)))

	d.SetRebuild(rdev.RebuildReplicating)
	assert.Equal(t, rdev.StatusReplicating, d.ComputeStatus(synctag.SyncTag(50)))
}

func TestUsableSectorsExcludesSuperblockArea(t *testing.T) {
	t.Parallel()
	d := newDev(t)
	assert.Equal(t, uint64(rdev.SuperblockArea), d.UsableSectors())
}
