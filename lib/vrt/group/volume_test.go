// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package group_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exanodes/vrt/lib/util"
	"github.com/exanodes/vrt/lib/vrt/assembly"
	"github.com/exanodes/vrt/lib/vrt/desyncinfo"
	"github.com/exanodes/vrt/lib/vrt/engine"
	"github.com/exanodes/vrt/lib/vrt/group"
	"github.com/exanodes/vrt/lib/vrt/rdev"
	"github.com/exanodes/vrt/lib/vrt/request"
	"github.com/exanodes/vrt/lib/vrt/striping"
	"github.com/exanodes/vrt/lib/vrt/synctag"
)

// recordingSubmitter stands in for the real rdev transport: it
// remembers every backing I/O it was asked to perform and completes it
// immediately.
type recordingSubmitter struct {
	mu    sync.Mutex
	calls []request.IO
}

func (s *recordingSubmitter) Submit(_ context.Context, io request.IO, done func(error)) {
	s.mu.Lock()
	s.calls = append(s.calls, io)
	s.mu.Unlock()
	go done(nil)
}

func (s *recordingSubmitter) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func devUUID(n byte) util.UUID {
	var u util.UUID
	u[0] = n
	return u
}

// newTestGeometry builds a group whose slot geometry is small enough to
// reason about by hand: 4 chunks wide, 8-sector striping unit, a
// 32-sector metadata sub-area (forced by MaxNodes regardless of su
// size) and a 64-sector data sub-area, for a 96-sector logical slot
// size and a 48-sector-per-chunk storage pool.
func newTestGeometry(t *testing.T) (*group.Group, striping.Params) {
	t.Helper()

	const (
		width        uint32 = 4
		suSize       uint32 = 8
		slotDataSize uint64 = 64
		metadataSize uint64 = 32 // MaxNodes(32) * 1 sector, rounded to a su multiple
		chunkSize    uint64 = 48 // >= nbStripes(6) * suSize(8)
	)

	storage := assembly.NewStorage(chunkSize)
	for i := byte(1); i <= 4; i++ {
		storage.AddDevice(devUUID(i), string(rune('a'+i)), chunkSize)
	}

	g := group.New(devUUID(0xA0), "g0", storage, width, slotDataSize+metadataSize)
	for i := byte(1); i <= 4; i++ {
		g.AddRDev(rdev.New(devUUID(i), devUUID(0x10+i), "node0", string(rune('a'+i)), chunkSize+rdev.SuperblockArea))
	}
	g.DirtyZoneSize = 8

	params := striping.Params{
		SUSize:          suSize,
		StripeWidth:     width,
		LogicalSlotSize: slotDataSize + metadataSize,
		SlotDataSize:    slotDataSize,
		Blended:         false,
	}
	return g, params
}

func newTestVolume(t *testing.T, g *group.Group, params striping.Params, eng *engine.Engine) *group.Volume {
	t.Helper()

	slots, err := g.Storage.ReserveSlots(1, params.StripeWidth)
	require.NoError(t, err)

	av := assembly.NewVolume(devUUID(0xB0))
	for _, s := range slots {
		s.DesyncInfo = desyncinfo.NewSlotBlock(synctag.Blank)
		av.AppendSlot(s)
	}
	g.Assembly.AddSubspace(av)

	return group.NewVolume(devUUID(0xB0), "v0", g, av, params, eng)
}

func TestVolumeSubmitIOWriteSucceeds(t *testing.T) {
	t.Parallel()

	g, params := newTestGeometry(t)
	sub := &recordingSubmitter{}
	eng := engine.New(sub)
	vol := newTestVolume(t, g, params, eng)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go eng.Run(ctx)

	var (
		mu       sync.Mutex
		gotErr   error
		gotCalls bool
	)
	vol.SubmitIO(ctx, request.KindWrite, 0, make([]byte, 512), false, func(err error) {
		mu.Lock()
		gotErr = err
		gotCalls = true
		mu.Unlock()
	})

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return gotCalls
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.NoError(t, gotErr)
	// Two replicas for the metadata write, two for the data write.
	assert.Equal(t, 4, sub.count())
	assert.Equal(t, int64(0), g.Reqs.InProgress)
}

func TestVolumeSubmitIOReadSucceeds(t *testing.T) {
	t.Parallel()

	g, params := newTestGeometry(t)
	sub := &recordingSubmitter{}
	eng := engine.New(sub)
	vol := newTestVolume(t, g, params, eng)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go eng.Run(ctx)

	done := make(chan error, 1)
	vol.SubmitIO(ctx, request.KindRead, 0, make([]byte, 512), false, func(err error) {
		done <- err
	})

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("read never completed")
	}
}

func TestVolumeSubmitIOFrozenFailsImmediately(t *testing.T) {
	t.Parallel()

	g, params := newTestGeometry(t)
	sub := &recordingSubmitter{}
	eng := engine.New(sub)
	vol := newTestVolume(t, g, params, eng)
	vol.Frozen = true

	done := make(chan error, 1)
	vol.SubmitIO(context.Background(), request.KindRead, 0, make([]byte, 512), false, func(err error) {
		done <- err
	})

	err := <-done
	assert.Error(t, err)
	assert.Equal(t, 0, sub.count())
}
