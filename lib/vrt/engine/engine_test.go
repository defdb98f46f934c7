// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package engine_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/exanodes/vrt/lib/vrt/engine"
	"github.com/exanodes/vrt/lib/vrt/request"
	"github.com/exanodes/vrt/lib/vrt/striping"
)

type fakeSubmitter struct {
	mu    sync.Mutex
	calls int
}

func (s *fakeSubmitter) Submit(_ context.Context, _ request.IO, done func(error)) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	go done(nil)
}

func TestEngineDrivesReadRequestToSuccess(t *testing.T) {
	t.Parallel()
	sub := &fakeSubmitter{}
	e := engine.New(sub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	r := &request.Request{
		Kind:     request.KindRead,
		DataLocs: []striping.RDevLocation{{Uptodate: true}},
		Buf:      make([]byte, 512),
	}
	e.Submit(r)

	assert.Eventually(t, func() bool {
		return r.State == request.Success
	}, 2*time.Second, 10*time.Millisecond)
}

func TestEngineSuspendAndResume(t *testing.T) {
	t.Parallel()
	sub := &fakeSubmitter{}
	e := engine.New(sub)

	r := &request.Request{
		Kind:     request.KindRead,
		DataLocs: []striping.RDevLocation{{Uptodate: true}},
		Buf:      make([]byte, 512),
	}
	e.Submit(r)

	e.Suspend(func(*request.Request) bool { return true })
	assert.Equal(t, request.Begin, r.State)

	e.Resume(func(*request.Request) bool { return true })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	assert.Eventually(t, func() bool {
		return r.State == request.Success
	}, 2*time.Second, 10*time.Millisecond)
}
