// Copyright (C) 2002, 2010 Seanodes Ltd http://www.seanodes.com.
//
// SPDX-License-Identifier: GPL-2.0-or-later

package admin

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/datawire/dlib/dlog"

	"github.com/exanodes/vrt/lib/textui"
	"github.com/exanodes/vrt/lib/util"
	"github.com/exanodes/vrt/lib/vrt/desyncinfo"
	"github.com/exanodes/vrt/lib/vrt/group"
	"github.com/exanodes/vrt/lib/vrt/metadata"
	"github.com/exanodes/vrt/lib/vrt/rdev"
	"github.com/exanodes/vrt/lib/vrt/rebuild"
	"github.com/exanodes/vrt/lib/vrt/request"
	"github.com/exanodes/vrt/lib/vrt/resync"
	"github.com/exanodes/vrt/lib/vrt/transport"
)

// progressReportInterval paces how often an in-flight rebuild's
// Progress is logged.
var progressReportInterval = textui.Tunable(2 * time.Second)

// Server implements Dispatcher against a live process's group registry.
// It backs the command families this process can actually execute
// in-memory (status/stats queries, freeze, suspend/resume, stop/start,
// and now check/event/resync, which drive the rebuild and resync
// engines against Devices) and returns ErrNotSupported for the commands
// spec.md §6 names that require cluster-wide coordination this package
// doesn't implement; see DESIGN.md.
type Server struct {
	Groups     *group.Registry
	Devices    group.BlockIO
	MetadataIO metadata.IO
	Locker     transport.Locker

	// bgCtx outlives any single RPC: GroupCheck/GroupEvent spawn a
	// rebuild that keeps running long after the command that triggered
	// it has returned its status code to the caller.
	bgCtx context.Context

	mu         sync.Mutex
	rebuilding map[util.UUID]bool
	resyncing  map[util.UUID]bool
}

// NewServer wraps a group registry as a Dispatcher. bgCtx bounds the
// lifetime of any rebuild goroutine GroupCheck/GroupEvent starts; it
// should be the daemon's own run context, not a per-request one.
func NewServer(bgCtx context.Context, groups *group.Registry, devices group.BlockIO, metadataIO metadata.IO, locker transport.Locker) *Server {
	return &Server{
		Groups:     groups,
		Devices:    devices,
		MetadataIO: metadataIO,
		Locker:     locker,
		bgCtx:      bgCtx,
		rebuilding: make(map[util.UUID]bool),
		resyncing:  make(map[util.UUID]bool),
	}
}

func (s *Server) findVolume(volUUID util.UUID) (*group.Group, *group.Volume, bool) {
	var found *group.Volume
	var owner *group.Group
	s.Groups.Range(func(g *group.Group) bool {
		for _, v := range g.Volumes {
			if v.UUID == volUUID {
				found, owner = v, g
				return false
			}
		}
		return true
	})
	return owner, found, found != nil
}

func groupByUUID(ctx context.Context, reg *group.Registry, groupUUID util.UUID) (*group.Group, error) {
	g, ok := reg.Lookup(groupUUID)
	if !ok {
		return nil, fmt.Errorf("admin: no such group %v", groupUUID)
	}
	return g, nil
}

func (s *Server) GroupBegin(ctx context.Context, groupUUID util.UUID) (int32, error) {
	return 0, ErrNotSupported
}

func (s *Server) GroupAddRDev(ctx context.Context, groupUUID util.UUID, rdevUUID, transportUUID util.UUID, node, spofGroup string, realSizeSectors uint64) (int32, error) {
	return 0, ErrNotSupported
}

func (s *Server) GroupCreate(ctx context.Context, groupUUID util.UUID, name string, suSize uint32, blended bool, dirtyZoneSize uint64) (int32, string, error) {
	return 0, "", ErrNotSupported
}

func (s *Server) GroupStart(ctx context.Context, groupUUID util.UUID) (int32, error) {
	g, err := groupByUUID(ctx, s.Groups, groupUUID)
	if err != nil {
		return -1, err
	}
	g.Suspended = false
	if g.Engine != nil {
		g.Engine.Resume(func(r *request.Request) bool { return r.GroupUUID == groupUUID })
	}
	return 0, nil
}

// GroupStop marks the group unavailable to new I/O and drains its
// in-flight requests via the engine's suspend path, so it's safe for
// the caller to tear the group down once this returns.
func (s *Server) GroupStop(ctx context.Context, groupUUID util.UUID) (int32, error) {
	g, err := groupByUUID(ctx, s.Groups, groupUUID)
	if err != nil {
		return -1, err
	}
	g.Suspended = true
	if g.Engine != nil {
		g.Engine.Suspend(func(r *request.Request) bool { return r.GroupUUID == groupUUID })
	}
	return 0, nil
}

func (s *Server) GroupInsertRDev(ctx context.Context, groupUUID util.UUID, rdevUUID, transportUUID util.UUID, node, spofGroup string, realSizeSectors uint64) (int32, error) {
	return 0, ErrNotSupported
}

// GroupStoppable reports whether a group has no in-flight requests left,
// i.e. whether a prior GroupStop has finished draining it.
func (s *Server) GroupStoppable(ctx context.Context, groupUUID util.UUID) (bool, error) {
	g, err := groupByUUID(ctx, s.Groups, groupUUID)
	if err != nil {
		return false, err
	}
	return g.Reqs.InProgress == 0, nil
}

func (s *Server) GroupGoingOffline(ctx context.Context, groupUUID, devUUID util.UUID) (int32, error) {
	return 0, ErrNotSupported
}

func (s *Server) GroupSyncSB(ctx context.Context, groupUUID util.UUID) (int32, error) {
	return 0, ErrNotSupported
}

func (s *Server) GroupFreeze(ctx context.Context, groupUUID util.UUID) (int32, error) {
	g, err := groupByUUID(ctx, s.Groups, groupUUID)
	if err != nil {
		return -1, err
	}
	for _, v := range g.Volumes {
		v.Frozen = true
	}
	return 0, nil
}

func (s *Server) GroupUnfreeze(ctx context.Context, groupUUID util.UUID) (int32, error) {
	g, err := groupByUUID(ctx, s.Groups, groupUUID)
	if err != nil {
		return -1, err
	}
	for _, v := range g.Volumes {
		v.Frozen = false
	}
	return 0, nil
}

func (s *Server) GroupReset(ctx context.Context, groupUUID util.UUID) (int32, error) {
	return 0, ErrNotSupported
}

// GroupCheck recomputes the group's status and prepares rebuild
// contexts for any device a SPOF-group transition left needing an
// update (spec.md §4.7), then starts a rebuild goroutine for each one
// that doesn't already have one running.
func (s *Server) GroupCheck(ctx context.Context, groupUUID util.UUID) (int32, error) {
	g, err := groupByUUID(ctx, s.Groups, groupUUID)
	if err != nil {
		return -1, err
	}
	g.Transition()
	s.startRebuilds(g)
	return 0, nil
}

// GroupResync runs the resync engine for a group that was suspended
// after this node's own restart (spec.md §4.6, scenario 2 of spec.md
// §8: "run resync treating the writer node as crashed"). It shards no
// work across other nodes: in a single running process, this node
// alone reconciles its own crashed record against its replicas.
func (s *Server) GroupResync(ctx context.Context, groupUUID util.UUID) (int32, error) {
	g, err := groupByUUID(ctx, s.Groups, groupUUID)
	if err != nil {
		return -1, err
	}
	if s.Devices == nil || s.MetadataIO == nil {
		return -1, ErrNotSupported
	}

	s.mu.Lock()
	if s.resyncing[g.UUID] {
		s.mu.Unlock()
		return -1, ErrGroupBusy
	}
	s.resyncing[g.UUID] = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.resyncing, g.UUID)
		s.mu.Unlock()
	}()

	io := g.NodeMetadataIO(s.MetadataIO)
	syncZone := g.SyncZone(s.Devices)
	crashedNodes := []int{g.NodeIndex}
	if err := resync.Resync(ctx, g.ResyncSlots(), crashedNodes, 1, 0, io, syncZone, g.SyncTag()); err != nil {
		return -1, err
	}
	return 0, nil
}

// startRebuilds launches a rebuild goroutine for every device of g that
// has an active rebuild context and isn't already being rebuilt.
func (s *Server) startRebuilds(g *group.Group) {
	if s.Devices == nil || s.Locker == nil {
		return
	}
	// Every device of g rebuilds against the same slot list; compute it
	// at most once per call regardless of how many devices need it.
	var slots []rebuild.Slot
	slotsLoaded := false
	for _, rd := range g.Devices() {
		dc, ok := g.Contexts.Get(rd.LayoutUUID)
		if !ok {
			continue
		}

		s.mu.Lock()
		if s.rebuilding[rd.LayoutUUID] {
			s.mu.Unlock()
			continue
		}
		s.rebuilding[rd.LayoutUUID] = true
		s.mu.Unlock()

		if !slotsLoaded {
			slots = g.RebuildSlots()
			slotsLoaded = true
		}
		dc.SetTotal(len(slots))

		go func(rd *rdev.RDev, dc *rebuild.DeviceContext) {
			defer func() {
				s.mu.Lock()
				delete(s.rebuilding, rd.LayoutUUID)
				s.mu.Unlock()
			}()

			progress := textui.NewProgress[rebuild.Progress](s.bgCtx, dlog.LogLevelInfo, progressReportInterval)
			var memUse textui.LiveMemUse
			watch, stopWatch := context.WithCancel(s.bgCtx)
			go func() {
				ticker := time.NewTicker(progressReportInterval)
				defer ticker.Stop()
				for {
					select {
					case <-watch.Done():
						return
					case <-ticker.C:
						progress.Set(dc.Progress())
						dlog.Debugf(s.bgCtx, "rebuild %v: memory use %v", rd.LayoutUUID, &memUse)
					}
				}
			}()

			err := rebuild.Rebuild(s.bgCtx, dc, rd.LayoutUUID, slots, desyncinfo.PerBlock, s.Locker, g.RebuildZone(s.Devices), g.SyncTag, nil)
			stopWatch()
			progress.Set(dc.Progress())
			progress.Done()
			if err != nil {
				return
			}
			rd.SetRebuild(rdev.RebuildNone)
			g.Contexts.Finish(rd.LayoutUUID)
			g.Transition()
		}(rd, dc)
	}
}

func (s *Server) GroupSuspend(ctx context.Context, groupUUID util.UUID) (int32, error) {
	g, err := groupByUUID(ctx, s.Groups, groupUUID)
	if err != nil {
		return -1, err
	}
	if g.Engine != nil {
		g.Engine.Suspend(func(r *request.Request) bool { return r.GroupUUID == groupUUID })
	}
	return 0, nil
}

func (s *Server) GroupResume(ctx context.Context, groupUUID util.UUID) (int32, error) {
	g, err := groupByUUID(ctx, s.Groups, groupUUID)
	if err != nil {
		return -1, err
	}
	if g.Engine != nil {
		g.Engine.Resume(func(r *request.Request) bool { return r.GroupUUID == groupUUID })
	}
	return 0, nil
}

func (s *Server) GroupComputeStatus(ctx context.Context, groupUUID util.UUID) (GroupStatusReply, error) {
	g, err := groupByUUID(ctx, s.Groups, groupUUID)
	if err != nil {
		return GroupStatusReply{}, err
	}
	groupTag := g.SyncTag()
	g.ComputeStatus()

	devs := g.Devices()
	reply := make([]DeviceReply, 0, len(devs))
	for _, rd := range devs {
		dr := DeviceReply{
			LayoutUUID: rd.LayoutUUID,
			Node:       rd.Node,
			SPOFGroup:  rd.SPOFGroup,
			Status:     deviceStatusString(rd.ComputeStatus(groupTag)),
			Flags:      rd.Flags().String(),
		}
		if dc, ok := g.Contexts.Get(rd.LayoutUUID); ok {
			rr := rebuildReplyFrom(dc)
			dr.Rebuild = &rr
		}
		reply = append(reply, dr)
	}
	return newGroupStatusReply(g, reply), nil
}

func (s *Server) GroupWaitInitialized(ctx context.Context, groupUUID util.UUID) (int32, error) {
	return 0, ErrNotSupported
}

func (s *Server) GroupPostResync(ctx context.Context, groupUUID util.UUID) (int32, error) {
	return 0, ErrNotSupported
}

// GroupEvent applies a device transition (up/down/reintegrate) to the
// named device, recomputes the group's status, and starts any rebuild
// the resulting transition prepares — this is spec.md §8 scenario 3
// ("device down then replace ... rebuild context transitions NONE ->
// UPDATING") entering through the admin surface rather than a test
// harness calling status.Transition directly.
func (s *Server) GroupEvent(ctx context.Context, groupUUID, devUUID util.UUID, ev DeviceEvent) (int32, error) {
	g, err := groupByUUID(ctx, s.Groups, groupUUID)
	if err != nil {
		return -1, err
	}
	rd, ok := g.Device(devUUID)
	if !ok {
		return -1, fmt.Errorf("admin: no such device %v in group %v", devUUID, groupUUID)
	}

	switch ev {
	case DeviceUp:
		rd.SetUp(true)
	case DeviceDown:
		rd.SetUp(false)
	case DeviceReintegrate:
		rd.SetUp(true)
		rd.SetCorrupted(false)
	case DevicePostReintegrate:
		rd.SetRebuild(rdev.RebuildNone)
	default:
		return -1, fmt.Errorf("admin: unknown device event %v", ev)
	}

	g.Transition()
	s.startRebuilds(g)
	return 0, nil
}

func (s *Server) GroupReplaceDevice(ctx context.Context, groupUUID, oldDevUUID, newDevUUID util.UUID) (int32, error) {
	return 0, ErrNotSupported
}

func (s *Server) VolumeCreate(ctx context.Context, groupUUID, volUUID util.UUID, name string, sizeSectors uint64) (int32, error) {
	return 0, ErrNotSupported
}

func (s *Server) VolumeStart(ctx context.Context, volUUID util.UUID) (int32, error) {
	_, v, ok := s.findVolume(volUUID)
	if !ok {
		return -1, fmt.Errorf("admin: no such volume %v", volUUID)
	}
	v.Frozen = false
	return 0, nil
}

func (s *Server) VolumeStop(ctx context.Context, volUUID util.UUID) (int32, error) {
	_, v, ok := s.findVolume(volUUID)
	if !ok {
		return -1, fmt.Errorf("admin: no such volume %v", volUUID)
	}
	v.Frozen = true
	return 0, nil
}

func (s *Server) VolumeResize(ctx context.Context, volUUID util.UUID, newSizeSectors uint64) (int32, error) {
	return 0, ErrNotSupported
}

func (s *Server) VolumeDelete(ctx context.Context, volUUID util.UUID) (int32, error) {
	return 0, ErrNotSupported
}

func (s *Server) VolumeGetStatus(ctx context.Context, volUUID util.UUID) (VolumeStatusReply, error) {
	_, v, ok := s.findVolume(volUUID)
	if !ok {
		return VolumeStatusReply{}, fmt.Errorf("admin: no such volume %v", volUUID)
	}
	status := "OK"
	switch v.Status {
	case group.VolumeDegraded:
		status = "DEGRADED"
	case group.VolumeOffline:
		status = "OFFLINE"
	}
	return VolumeStatusReply{
		UUID:        v.UUID,
		Name:        v.Name,
		SizeSectors: v.SizeSectors,
		Status:      status,
		Frozen:      v.Frozen,
	}, nil
}

func (s *Server) VolumeStats(ctx context.Context, volUUID util.UUID) (VolumeStatsReply, error) {
	_, v, ok := s.findVolume(volUUID)
	if !ok {
		return VolumeStatsReply{}, fmt.Errorf("admin: no such volume %v", volUUID)
	}
	return VolumeStatsReply{
		UUID:       v.UUID,
		ReadCount:  v.Stats.ReadCount,
		WriteCount: v.Stats.WriteCount,
		InProgress: v.InProgress,
	}, nil
}

var _ Dispatcher = (*Server)(nil)
