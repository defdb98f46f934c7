// Copyright (C) 2002, 2010 Seanodes Ltd http://www.seanodes.com.
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package transport names the cluster-wide locking collaborator the
// rebuild engine acquires a destination range on before copying a dirty
// zone into it, and the two transient errors that are retried rather
// than surfaced as a rebuild failure (spec.md §6 "Transport locking
// interface", §7 "Transient").
//
// The one Locker this package provides is LocalLocker
// (locallocker.go), which locks ranges within a single process and does
// not coordinate with other nodes.
package transport

import (
	"context"
	"errors"
	"time"

	"github.com/exanodes/vrt/lib/util"
)

// ErrAgain is returned by Locker.Lock when the requested range is
// currently held by another lock holder; the caller should retry after
// a short backoff rather than treat this as a failure.
var ErrAgain = errors.New("transport: lock conflict, try again")

// ErrIntr is returned by Locker.Lock when the underlying call was
// interrupted before it could determine whether the lock was granted;
// like ErrAgain, this is retried rather than failed.
var ErrIntr = errors.New("transport: lock call interrupted")

// Locker is the minimal cluster-wide locking surface a rebuild job
// needs: exclusive ownership of a device's sector range for the
// duration of one zone's rebuild copy.
type Locker interface {
	Lock(ctx context.Context, dev util.UUID, startSector, endSector uint64) error
	Unlock(ctx context.Context, dev util.UUID, startSector, endSector uint64)
}

// RetryInterval is the backoff between retries of a transient lock
// failure.
const RetryInterval = 100 * time.Millisecond

// MaxRetries bounds how many times in all LockWithRetry calls Lock while
// it keeps returning ErrAgain/ErrIntr, before giving up and returning the
// last error, so a persistently conflicted range doesn't retry forever
// and starve the rebuild loop.
const MaxRetries = 50

// LockWithRetry calls l.Lock at most MaxRetries times in all, waiting
// RetryInterval after each call that returns ErrAgain or ErrIntr.
// Any other error, or ctx becoming Done, is returned immediately.
func LockWithRetry(ctx context.Context, l Locker, dev util.UUID, startSector, endSector uint64) error {
	var err error
	for attempt := 0; attempt < MaxRetries; attempt++ {
		err = l.Lock(ctx, dev, startSector, endSector)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrAgain) && !errors.Is(err, ErrIntr) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(RetryInterval):
		}
	}
	return err
}
