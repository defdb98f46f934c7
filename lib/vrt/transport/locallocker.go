// Copyright (C) 2002, 2010 Seanodes Ltd http://www.seanodes.com.
//
// SPDX-License-Identifier: GPL-2.0-or-later

package transport

import (
	"context"
	"sync"

	"github.com/exanodes/vrt/lib/util"
)

// LocalLocker is a genuine, in-process Locker: it serializes a device's
// sector ranges against each other with a plain mutex and an
// overlap check, so that two holders in the same process (in vrtd, two
// concurrent rebuilds) never hold overlapping ranges. The engine's
// foreground I/O does not take these locks.
//
// It does not coordinate with any other node. A deployment with more
// than one node replaces this with a real distributed lock manager;
// within a single process this is the whole of what Locker needs to
// mean.
type LocalLocker struct {
	mu     sync.Mutex
	ranges map[util.UUID][]lockedRange
}

type lockedRange struct {
	start, end uint64
}

// NewLocalLocker returns an empty LocalLocker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{ranges: make(map[util.UUID][]lockedRange)}
}

func (r lockedRange) overlaps(start, end uint64) bool {
	return start < r.end && r.start < end
}

// Lock implements Locker. It never blocks: a conflicting range returns
// ErrAgain immediately for the caller (normally transport.LockWithRetry)
// to back off and retry.
func (l *LocalLocker) Lock(ctx context.Context, dev util.UUID, startSector, endSector uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	for _, held := range l.ranges[dev] {
		if held.overlaps(startSector, endSector) {
			return ErrAgain
		}
	}

	l.ranges[dev] = append(l.ranges[dev], lockedRange{start: startSector, end: endSector})
	return nil
}

// Unlock releases a range previously granted by Lock. Unlocking a range
// that isn't held is a no-op.
func (l *LocalLocker) Unlock(ctx context.Context, dev util.UUID, startSector, endSector uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	held := l.ranges[dev]
	for i, r := range held {
		if r.start == startSector && r.end == endSector {
			l.ranges[dev] = append(held[:i], held[i+1:]...)
			return
		}
	}
}
