// Copyright (C) 2002, 2010 Seanodes Ltd http://www.seanodes.com.
//
// SPDX-License-Identifier: GPL-2.0-or-later

package admin

import (
	"context"
	"fmt"
	"net"

	"github.com/datawire/dlib/dlog"

	"github.com/exanodes/vrt/lib/util"
)

// Request is the one-shot wire envelope vrtctl sends down the admin
// socket: a command name plus whichever of the identifying fields that
// command needs. Unused fields are left zero.
type Request struct {
	Command string `json:",omitempty"`

	Group        util.UUID `json:",omitempty"`
	Volume       util.UUID `json:",omitempty"`
	Dev          util.UUID `json:",omitempty"`
	TransportDev util.UUID `json:",omitempty"`
	OldDev       util.UUID `json:",omitempty"`
	NewDev       util.UUID `json:",omitempty"`

	Name          string `json:",omitempty"`
	Node          string `json:",omitempty"`
	SPOFGroup     string `json:",omitempty"`
	Event         string `json:",omitempty"`
	SUSize        uint32 `json:",omitempty"`
	Blended       bool   `json:",omitempty"`
	DirtyZoneSize uint64 `json:",omitempty"`
	SizeSectors   uint64 `json:",omitempty"`
}

// Response is the one-shot reply: the command's integer error code,
// a free-text diagnostic (set only by group create), the error text of
// a command that failed, and whichever structured reply the command
// produces.
type Response struct {
	Code int32  `json:",omitempty"`
	Diag string `json:",omitempty"`
	Err  string `json:",omitempty"`

	GroupStatus  *GroupStatusReply  `json:",omitempty"`
	VolumeStatus *VolumeStatusReply `json:",omitempty"`
	VolumeStats  *VolumeStatsReply  `json:",omitempty"`
	Stoppable    *bool              `json:",omitempty"`
}

func errResponse(err error) Response {
	return Response{Code: -1, Err: err.Error()}
}

// Dispatch decodes one Request against d and returns the Response to
// send back, translating spec.md §6's "up/down/reintegrate/
// post-reintegrate" event strings and dispatching to the matching
// Dispatcher method.
func Dispatch(ctx context.Context, d Dispatcher, req Request) Response {
	switch req.Command {
	case "begin":
		code, err := d.GroupBegin(ctx, req.Group)
		return codeResponse(code, err)
	case "add_rdev":
		code, err := d.GroupAddRDev(ctx, req.Group, req.Dev, req.TransportDev, req.Node, req.SPOFGroup, req.SizeSectors)
		return codeResponse(code, err)
	case "create":
		code, diag, err := d.GroupCreate(ctx, req.Group, req.Name, req.SUSize, req.Blended, req.DirtyZoneSize)
		if err != nil {
			return errResponse(err)
		}
		return Response{Code: code, Diag: diag}
	case "start":
		code, err := d.GroupStart(ctx, req.Group)
		return codeResponse(code, err)
	case "stop":
		code, err := d.GroupStop(ctx, req.Group)
		return codeResponse(code, err)
	case "insert_rdev":
		code, err := d.GroupInsertRDev(ctx, req.Group, req.Dev, req.TransportDev, req.Node, req.SPOFGroup, req.SizeSectors)
		return codeResponse(code, err)
	case "stoppable":
		ok, err := d.GroupStoppable(ctx, req.Group)
		if err != nil {
			return errResponse(err)
		}
		return Response{Stoppable: &ok}
	case "going_offline":
		code, err := d.GroupGoingOffline(ctx, req.Group, req.Dev)
		return codeResponse(code, err)
	case "sync_sb":
		code, err := d.GroupSyncSB(ctx, req.Group)
		return codeResponse(code, err)
	case "freeze":
		code, err := d.GroupFreeze(ctx, req.Group)
		return codeResponse(code, err)
	case "unfreeze":
		code, err := d.GroupUnfreeze(ctx, req.Group)
		return codeResponse(code, err)
	case "reset":
		code, err := d.GroupReset(ctx, req.Group)
		return codeResponse(code, err)
	case "check":
		code, err := d.GroupCheck(ctx, req.Group)
		return codeResponse(code, err)
	case "resync":
		code, err := d.GroupResync(ctx, req.Group)
		return codeResponse(code, err)
	case "suspend":
		code, err := d.GroupSuspend(ctx, req.Group)
		return codeResponse(code, err)
	case "resume":
		code, err := d.GroupResume(ctx, req.Group)
		return codeResponse(code, err)
	case "compute_status":
		reply, err := d.GroupComputeStatus(ctx, req.Group)
		if err != nil {
			return errResponse(err)
		}
		return Response{GroupStatus: &reply}
	case "wait_initialized":
		code, err := d.GroupWaitInitialized(ctx, req.Group)
		return codeResponse(code, err)
	case "post_resync":
		code, err := d.GroupPostResync(ctx, req.Group)
		return codeResponse(code, err)
	case "event":
		code, err := d.GroupEvent(ctx, req.Group, req.Dev, parseDeviceEvent(req.Event))
		return codeResponse(code, err)
	case "replace_device":
		code, err := d.GroupReplaceDevice(ctx, req.Group, req.OldDev, req.NewDev)
		return codeResponse(code, err)

	case "volume_create":
		code, err := d.VolumeCreate(ctx, req.Group, req.Volume, req.Name, req.SizeSectors)
		return codeResponse(code, err)
	case "volume_start":
		code, err := d.VolumeStart(ctx, req.Volume)
		return codeResponse(code, err)
	case "volume_stop":
		code, err := d.VolumeStop(ctx, req.Volume)
		return codeResponse(code, err)
	case "volume_resize":
		code, err := d.VolumeResize(ctx, req.Volume, req.SizeSectors)
		return codeResponse(code, err)
	case "volume_delete":
		code, err := d.VolumeDelete(ctx, req.Volume)
		return codeResponse(code, err)
	case "volume_get_status":
		reply, err := d.VolumeGetStatus(ctx, req.Volume)
		if err != nil {
			return errResponse(err)
		}
		return Response{VolumeStatus: &reply}
	case "volume_stats":
		reply, err := d.VolumeStats(ctx, req.Volume)
		if err != nil {
			return errResponse(err)
		}
		return Response{VolumeStats: &reply}

	default:
		return errResponse(fmt.Errorf("admin: unknown command %q", req.Command))
	}
}

func codeResponse(code int32, err error) Response {
	if err != nil {
		return errResponse(err)
	}
	return Response{Code: code}
}

func parseDeviceEvent(s string) DeviceEvent {
	switch s {
	case "down":
		return DeviceDown
	case "reintegrate":
		return DeviceReintegrate
	case "post-reintegrate":
		return DevicePostReintegrate
	default:
		return DeviceUp
	}
}

// Serve accepts connections on l until ctx is done, treating each one as
// a single Request/Response round trip: decode one Request, dispatch it
// against d, encode the Response, close the connection. Meant to be
// handed to a dgroup.Group alongside the engine and flusher goroutines.
func Serve(ctx context.Context, l net.Listener, d Dispatcher) error {
	log := dlog.GetLogger(ctx)
	go func() {
		<-ctx.Done()
		_ = l.Close()
	}()

	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go func() {
			defer conn.Close()
			if err := serveOne(ctx, conn, d); err != nil {
				log.Errorf("admin: serving connection: %v", err)
			}
		}()
	}
}

func serveOne(ctx context.Context, conn net.Conn, d Dispatcher) error {
	req, err := ReadRequest[Request](conn)
	if err != nil {
		return fmt.Errorf("decoding request: %w", err)
	}
	resp := Dispatch(ctx, d, req)
	return WriteReply(conn, resp)
}

// Call dials address over network, sends req as the single Request of
// that connection, and returns the decoded Response.
func Call(ctx context.Context, network, address string, req Request) (Response, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, network, address)
	if err != nil {
		return Response{}, err
	}
	defer conn.Close()

	if err := WriteReply(conn, req); err != nil {
		return Response{}, fmt.Errorf("sending request: %w", err)
	}
	return ReadRequest[Response](conn)
}
