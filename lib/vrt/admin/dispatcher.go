// Copyright (C) 2002, 2010 Seanodes Ltd http://www.seanodes.com.
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package admin names the administrative command dispatcher spec.md §6
// describes: one method per group/volume command, returning an integer
// error code and, for info queries, a structured reply. The package
// also carries the one-request-per-connection wire protocol (rpc.go's
// Request/Response, Dispatch, Serve and Call) that vrtctl and vrtd use
// over the admin socket.
package admin

import (
	"context"
	"errors"

	"github.com/exanodes/vrt/lib/util"
)

// DeviceEvent is the kind of device transition reported by the
// "event" group command.
type DeviceEvent int

const (
	DeviceUp DeviceEvent = iota
	DeviceDown
	DeviceReintegrate
	DevicePostReintegrate
)

func (e DeviceEvent) String() string {
	switch e {
	case DeviceUp:
		return "up"
	case DeviceDown:
		return "down"
	case DeviceReintegrate:
		return "reintegrate"
	case DevicePostReintegrate:
		return "post-reintegrate"
	default:
		return "unknown"
	}
}

// ErrNotSupported is returned by a Dispatcher method that names a real
// command from spec.md §6 but has no backing implementation in this
// process; see DESIGN.md for which commands this applies to and why.
var ErrNotSupported = errors.New("admin: command not supported by this dispatcher")

// ErrGroupBusy is returned when a command that runs at most once at a
// time per group (GroupResync) is invoked while a prior call for the
// same group is still in flight.
var ErrGroupBusy = errors.New("admin: group already has this operation in flight")

// Dispatcher is the administrative command surface of spec.md §6: one
// method per group and volume command, each returning the command's
// integer error code (0 for success, following the original C source's
// convention) or, for the commands that report back a structured
// payload (compute_status, get_status, stats), that payload.
type Dispatcher interface {
	// Group lifecycle and geometry.
	GroupBegin(ctx context.Context, groupUUID util.UUID) (int32, error)
	GroupAddRDev(ctx context.Context, groupUUID util.UUID, rdevUUID, transportUUID util.UUID, node, spofGroup string, realSizeSectors uint64) (int32, error)
	GroupCreate(ctx context.Context, groupUUID util.UUID, name string, suSize uint32, blended bool, dirtyZoneSize uint64) (int32, string, error)
	GroupStart(ctx context.Context, groupUUID util.UUID) (int32, error)
	GroupStop(ctx context.Context, groupUUID util.UUID) (int32, error)
	GroupInsertRDev(ctx context.Context, groupUUID util.UUID, rdevUUID, transportUUID util.UUID, node, spofGroup string, realSizeSectors uint64) (int32, error)
	GroupStoppable(ctx context.Context, groupUUID util.UUID) (bool, error)

	// Device membership changes.
	GroupGoingOffline(ctx context.Context, groupUUID, devUUID util.UUID) (int32, error)
	GroupSyncSB(ctx context.Context, groupUUID util.UUID) (int32, error)

	// Freeze/unfreeze suspends/resumes all I/O on every volume of the
	// group, without unwinding in-flight requests the way suspend/resume
	// does.
	GroupFreeze(ctx context.Context, groupUUID util.UUID) (int32, error)
	GroupUnfreeze(ctx context.Context, groupUUID util.UUID) (int32, error)

	GroupReset(ctx context.Context, groupUUID util.UUID) (int32, error)
	GroupCheck(ctx context.Context, groupUUID util.UUID) (int32, error)
	GroupResync(ctx context.Context, groupUUID util.UUID) (int32, error)

	// Suspend/resume quiesce the engine's in-flight requests for the
	// group (spec.md §4.3 suspended queue), cancelling and requeueing
	// them rather than rejecting new ones outright.
	GroupSuspend(ctx context.Context, groupUUID util.UUID) (int32, error)
	GroupResume(ctx context.Context, groupUUID util.UUID) (int32, error)

	GroupComputeStatus(ctx context.Context, groupUUID util.UUID) (GroupStatusReply, error)
	GroupWaitInitialized(ctx context.Context, groupUUID util.UUID) (int32, error)
	GroupPostResync(ctx context.Context, groupUUID util.UUID) (int32, error)
	GroupEvent(ctx context.Context, groupUUID, devUUID util.UUID, ev DeviceEvent) (int32, error)
	GroupReplaceDevice(ctx context.Context, groupUUID, oldDevUUID, newDevUUID util.UUID) (int32, error)

	// Volume lifecycle.
	VolumeCreate(ctx context.Context, groupUUID, volUUID util.UUID, name string, sizeSectors uint64) (int32, error)
	VolumeStart(ctx context.Context, volUUID util.UUID) (int32, error)
	VolumeStop(ctx context.Context, volUUID util.UUID) (int32, error)
	VolumeResize(ctx context.Context, volUUID util.UUID, newSizeSectors uint64) (int32, error)
	VolumeDelete(ctx context.Context, volUUID util.UUID) (int32, error)
	VolumeGetStatus(ctx context.Context, volUUID util.UUID) (VolumeStatusReply, error)
	VolumeStats(ctx context.Context, volUUID util.UUID) (VolumeStatsReply, error)
}
