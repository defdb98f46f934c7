// Copyright (C) 2002, 2010 Seanodes Ltd http://www.seanodes.com.
//
// SPDX-License-Identifier: GPL-2.0-or-later

package admin

import (
	"bufio"
	"io"

	"git.lukeshu.com/go/lowmemjson"

	"github.com/exanodes/vrt/lib/util"
	"github.com/exanodes/vrt/lib/vrt/group"
	"github.com/exanodes/vrt/lib/vrt/rdev"
	"github.com/exanodes/vrt/lib/vrt/rebuild"
)

// DeviceReply is one device's externally-visible state, as returned by
// GroupComputeStatus.
type DeviceReply struct {
	LayoutUUID util.UUID
	Node       string
	SPOFGroup  string
	Status     string
	Flags      string
	Rebuild    *RebuildReply `json:",omitempty"`
}

// GroupStatusReply is the structured reply to "compute_status": the
// group's overall health plus a per-device breakdown.
type GroupStatusReply struct {
	UUID    util.UUID
	Name    string
	Status  string
	Devices []DeviceReply
}

// RebuildReply mirrors rebuild.Progress for a device currently being
// rebuilt, omitted when the device has no active rebuild.
type RebuildReply struct {
	SyncTag        uint64
	NbSlotsRebuilt int
	NbSlotsTotal   int
	Complete       bool
}

// VolumeStatusReply is the structured reply to "get_status" for one
// volume.
type VolumeStatusReply struct {
	UUID        util.UUID
	Name        string
	SizeSectors uint64
	Status      string
	Frozen      bool
}

// VolumeStatsReply is the structured reply to "stats" for one volume.
type VolumeStatsReply struct {
	UUID       util.UUID
	ReadCount  uint64
	WriteCount uint64
	InProgress int64
}

func newGroupStatusReply(g *group.Group, devices []DeviceReply) GroupStatusReply {
	return GroupStatusReply{
		UUID:    g.UUID,
		Name:    g.Name,
		Status:  g.Status.String(),
		Devices: devices,
	}
}

func deviceStatusString(s rdev.Status) string { return s.String() }

func rebuildReplyFrom(dc *rebuild.DeviceContext) RebuildReply {
	p := dc.Progress()
	return RebuildReply{
		SyncTag:        uint64(dc.SyncTag),
		NbSlotsRebuilt: p.NbSlotsRebuilt,
		NbSlotsTotal:   p.NbSlotsTotal,
		Complete:       p.Complete,
	}
}

// WriteReply JSON-encodes v to w the way the admin socket writes every
// info-query reply: tab-indented, with a trailing newline so replies are
// line-delimited on the wire.
func WriteReply(w io.Writer, v any) (err error) {
	buffer := bufio.NewWriter(w)
	defer func() {
		if ferr := buffer.Flush(); err == nil && ferr != nil {
			err = ferr
		}
	}()
	cfg := lowmemjson.ReEncoder{
		Indent:                "\t",
		ForceTrailingNewlines: true,
		Out:                   buffer,
	}
	return lowmemjson.Encode(&cfg, v)
}

// ReadRequest decodes one request body from r, failing if trailing
// bytes remain, the same way the admin socket reads a command's
// argument payload.
func ReadRequest[T any](r io.Reader) (T, error) {
	var ret T
	err := lowmemjson.DecodeThenEOF(r, &ret)
	return ret, err
}
