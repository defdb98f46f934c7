// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package synctag_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/exanodes/vrt/lib/vrt/synctag"
)

func TestIsGreaterSentinels(t *testing.T) {
	t.Parallel()
	for tag := synctag.SyncTag(1); tag < 1000; tag++ {
		assert.Truef(t, synctag.IsGreater(tag, synctag.Blank), "tag=%d", tag)
		assert.Falsef(t, synctag.IsGreater(synctag.Blank, tag), "tag=%d", tag)
		assert.Truef(t, synctag.IsGreater(synctag.Max, tag), "tag=%d", tag)
		assert.Falsef(t, synctag.IsGreater(tag, synctag.Max), "tag=%d", tag)
	}
}

func TestIncRotation(t *testing.T) {
	t.Parallel()
	assert.Equal(t, synctag.Zero, synctag.Inc(synctag.Blank))
	assert.Equal(t, synctag.Zero, synctag.Inc(synctag.Last))
	assert.Equal(t, synctag.Max, synctag.Inc(synctag.Max))
	assert.Equal(t, synctag.SyncTag(42), synctag.Inc(synctag.SyncTag(41)))
}

func TestIncIsGreaterAfterWalk(t *testing.T) {
	t.Parallel()
	tag := synctag.Zero
	for i := 0; i < 50; i++ {
		next := synctag.Inc(tag)
		if next != tag {
			assert.True(t, synctag.IsGreater(next, tag), "step %d: %d -> %d", i, tag, next)
		}
		tag = next
	}
}

func TestAreComparableFarApart(t *testing.T) {
	t.Parallel()
	// Past MaxDiff but still short of wrapping back around into range.
	assert.False(t, synctag.AreComparable(synctag.Zero, synctag.Zero+synctag.MaxDiff+50))
	assert.True(t, synctag.AreComparable(synctag.Zero, synctag.Zero+synctag.MaxDiff))
	// Far enough around the rotation that the wrapped path is short again.
	assert.True(t, synctag.AreComparable(synctag.Zero, synctag.Zero+2*synctag.MaxDiff))
}

func TestMax2(t *testing.T) {
	t.Parallel()
	assert.Equal(t, synctag.SyncTag(10), synctag.Max2(synctag.SyncTag(10), synctag.SyncTag(5)))
	assert.Equal(t, synctag.Max, synctag.Max2(synctag.Max, synctag.SyncTag(5)))
	assert.Equal(t, synctag.SyncTag(5), synctag.Max2(synctag.Blank, synctag.SyncTag(5)))
}
