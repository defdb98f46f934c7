// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package request_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exanodes/vrt/lib/vrt/desyncinfo"
	"github.com/exanodes/vrt/lib/vrt/request"
	"github.com/exanodes/vrt/lib/vrt/striping"
	"github.com/exanodes/vrt/lib/vrt/synctag"
)

func writableLoc(uptodate bool) striping.RDevLocation {
	return striping.RDevLocation{Uptodate: uptodate}
}

func newWriteRequest() *request.Request {
	sb := desyncinfo.NewSlotBlock(synctag.Zero)
	return &request.Request{
		Kind:         request.KindWrite,
		SlotBlock:    sb,
		MetadataLocs: []striping.RDevLocation{writableLoc(true), writableLoc(false)},
		DataLocs:     []striping.RDevLocation{writableLoc(true), writableLoc(false)},
		Buf:          make([]byte, 512),
	}
}

func driveToCompletion(t *testing.T, r *request.Request, maxSteps int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < maxSteps; i++ {
		if r.State == request.Success || r.State == request.Failed {
			return
		}
		r.Step(ctx)
		for _, io := range r.PendingIOs() {
			r.OnIOComplete(nil)
			_ = io
		}
	}
	t.Fatalf("request did not complete within %d steps, stuck at %v", maxSteps, r.State)
}

func TestWriteRequestHappyPath(t *testing.T) {
	t.Parallel()
	r := newWriteRequest()
	driveToCompletion(t, r, 20)
	assert.Equal(t, request.Success, r.State)
}

func TestWriteRequestIncrementsThenDecrementsCounter(t *testing.T) {
	t.Parallel()
	r := newWriteRequest()
	r.Step(context.Background()) // Begin -> StartMetadataWrite
	require.Equal(t, request.StartMetadataWrite, r.State)

	r.SlotBlock.Lock()
	assert.Equal(t, uint16(1), r.SlotBlock.InMemory[0].WritePendingCounter)
	assert.True(t, r.SlotBlock.FlushNeeded)
	r.SlotBlock.Unlock()

	driveToCompletion(t, r, 20)
	r.SlotBlock.Lock()
	assert.Equal(t, uint16(0), r.SlotBlock.InMemory[0].WritePendingCounter)
	r.SlotBlock.Unlock()
}

func TestWriteRequestNoWritableReplicaFails(t *testing.T) {
	t.Parallel()
	r := newWriteRequest()
	r.MetadataLocs = nil

	r.Step(context.Background()) // Begin -> StartMetadataWrite
	r.Step(context.Background()) // StartMetadataWrite -> IOErrorTriggered
	assert.Equal(t, request.IOErrorTriggered, r.State)
	assert.ErrorIs(t, r.Err(), request.ErrNoWritableReplica)
}

func TestReadRequestPicksUptodateReplica(t *testing.T) {
	t.Parallel()
	r := &request.Request{
		Kind:     request.KindRead,
		DataLocs: []striping.RDevLocation{writableLoc(false), writableLoc(true)},
		Buf:      make([]byte, 512),
	}
	driveToCompletion(t, r, 10)
	assert.Equal(t, request.Success, r.State)
}

func TestReadRequestFailsWithNoUptodateReplica(t *testing.T) {
	t.Parallel()
	r := &request.Request{
		Kind:     request.KindRead,
		DataLocs: []striping.RDevLocation{writableLoc(false)},
		Buf:      make([]byte, 512),
	}
	r.Step(context.Background())
	assert.Equal(t, request.Failed, r.State)
	assert.ErrorIs(t, r.Err(), request.ErrNoReadableReplica)
}

func TestCancelUndoesCounterAndReturnsToBegin(t *testing.T) {
	t.Parallel()
	r := newWriteRequest()
	r.Step(context.Background()) // Begin -> StartMetadataWrite, counter = 1

	r.Cancel()
	assert.Equal(t, request.Begin, r.State)

	r.SlotBlock.Lock()
	assert.Equal(t, uint16(0), r.SlotBlock.InMemory[0].WritePendingCounter)
	r.SlotBlock.Unlock()
}

func TestOnIOCompleteErrorTriggersIOError(t *testing.T) {
	t.Parallel()
	r := newWriteRequest()
	r.Step(context.Background())
	r.Step(context.Background())
	r.OnIOComplete(assertErr{})
	assert.Equal(t, request.IOErrorTriggered, r.State)
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }
