// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package desyncinfo_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/exanodes/vrt/lib/vrt/desyncinfo"
	"github.com/exanodes/vrt/lib/vrt/synctag"
)

func TestIsValid(t *testing.T) {
	t.Parallel()
	current := synctag.SyncTag(10)
	assert.True(t, desyncinfo.IsValid(desyncinfo.DZone{SyncTag: 5, WritePendingCounter: 2}, current, 4))
	assert.False(t, desyncinfo.IsValid(desyncinfo.DZone{SyncTag: 5, WritePendingCounter: 5}, current, 4))
	assert.False(t, desyncinfo.IsValid(desyncinfo.DZone{SyncTag: 11, WritePendingCounter: 0}, current, 4))
}

func TestMergeBlockTakesMax(t *testing.T) {
	t.Parallel()
	var dst, src [desyncinfo.PerBlock]desyncinfo.DZone
	desyncinfo.InitBlock(&dst, synctag.Zero)
	desyncinfo.InitBlock(&src, synctag.Zero)
	dst[0].WritePendingCounter = 1
	src[0].WritePendingCounter = 3
	src[0].SyncTag = synctag.Zero + 2
	desyncinfo.MergeBlock(&dst, &src)
	assert.Equal(t, uint16(3), dst[0].WritePendingCounter)
	assert.Equal(t, synctag.Zero+2, dst[0].SyncTag)
}

func TestSlotBlockWaitLists(t *testing.T) {
	t.Parallel()
	sb := desyncinfo.NewSlotBlock(synctag.Blank)
	var ran []int
	sb.AddWaitAvail(func() { ran = append(ran, 1) })
	sb.AddWaitAvail(func() { ran = append(ran, 2) })

	w, ok := sb.TakeWaitAvail()
	assert.True(t, ok)
	w()
	assert.Equal(t, []int{1}, ran)

	remaining := sb.DrainWaitAvail()
	assert.Len(t, remaining, 1)
	remaining[0]()
	assert.Equal(t, []int{1, 2}, ran)

	_, ok = sb.TakeWaitAvail()
	assert.False(t, ok)
}
