// Copyright (C) 2002, 2010 Seanodes Ltd http://www.seanodes.com.
//
// SPDX-License-Identifier: GPL-2.0-or-later

package group

import (
	"context"
	"fmt"
	"sync"
	"time"

	"git.lukeshu.com/go/typedsync"

	"github.com/exanodes/vrt/lib/util"
	"github.com/exanodes/vrt/lib/vrt/assembly"
	"github.com/exanodes/vrt/lib/vrt/desyncinfo"
	"github.com/exanodes/vrt/lib/vrt/engine"
	"github.com/exanodes/vrt/lib/vrt/metadata"
	"github.com/exanodes/vrt/lib/vrt/rdev"
	"github.com/exanodes/vrt/lib/vrt/rebuild"
	"github.com/exanodes/vrt/lib/vrt/resync"
	"github.com/exanodes/vrt/lib/vrt/status"
	"github.com/exanodes/vrt/lib/vrt/striping"
	"github.com/exanodes/vrt/lib/vrt/synctag"
)

// BlockIO is the synchronous device I/O surface rebuild and resync need
// to copy a dirty zone's bytes directly between replicas, outside the
// engine's request pipeline; blockdev.Store satisfies it directly.
type BlockIO interface {
	ReadAt(ctx context.Context, dev util.UUID, sector uint64, buf []byte) error
	WriteAt(ctx context.Context, dev util.UUID, sector uint64, buf []byte) error
}

// ReqCounters tracks the group-wide in-flight request accounting used by
// the admin "group stop"/suspend path to know when it's safe to tear
// down the engine.
type ReqCounters struct {
	mu         sync.Mutex
	InProgress int64
}

// Inc records one more request entering the group.
func (c *ReqCounters) Inc() {
	c.mu.Lock()
	c.InProgress++
	c.mu.Unlock()
}

// Dec records one request leaving the group.
func (c *ReqCounters) Dec() {
	c.mu.Lock()
	c.InProgress--
	c.mu.Unlock()
}

// Group is one RAIN1 group: a uniform-geometry assembly (chunk
// placement) and storage (free space) pool, the rdevs that back it, and
// the volumes carved out of it.
type Group struct {
	UUID util.UUID
	Name string

	Assembly *assembly.Group
	Storage  *assembly.Storage
	Volumes  []*Volume

	// Engine is the single process-wide worker every volume of this
	// group submits requests through (spec.md §4.3: "a single worker
	// thread per process"). Set by the daemon's wiring after
	// construction; admin's suspend/resume/stop/start commands drive it
	// via Suspend/Resume predicated on Request.GroupUUID.
	Engine *engine.Engine

	Status    status.Status
	Suspended bool
	SBVersion uint64

	// SUSize, Blended, DirtyZoneSize and NodeIndex are the layout's own
	// per-group geometry, mirroring rain1_group_t's su_size,
	// blended_stripes, dirty_zone_size and this node's position in the
	// cluster.
	SUSize        uint32
	Blended       bool
	DirtyZoneSize uint64
	NodeIndex     int
	NUpNodes      int

	mu       sync.RWMutex
	rdevs    map[util.UUID]*rdev.RDev
	spofTags map[string][]util.UUID // SPOF group name -> member devices, insertion order
	syncTag  synctag.SyncTag

	Reqs     ReqCounters
	Contexts rebuild.ContextTable
}

// New creates an empty group around the given storage pool and slot
// geometry.
func New(uuid util.UUID, name string, storage *assembly.Storage, slotWidth uint32, slotSize uint64) *Group {
	return &Group{
		UUID:     uuid,
		Name:     name,
		Assembly: assembly.NewGroup(slotWidth, slotSize),
		Storage:  storage,
		rdevs:    make(map[util.UUID]*rdev.RDev),
		spofTags: make(map[string][]util.UUID),
	}
}

// AddRDev registers a device in the group's rdev registry and SPOF
// table.
func (g *Group) AddRDev(rd *rdev.RDev) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rdevs[rd.LayoutUUID] = rd
	g.spofTags[rd.SPOFGroup] = append(g.spofTags[rd.SPOFGroup], rd.LayoutUUID)
}

// resolve looks a device up by its layout UUID. Satisfies rdevLookup for
// the striping.Slot bridge.
func (g *Group) resolve(u util.UUID) *rdev.RDev {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.rdevs[u]
}

// Device is resolve's exported counterpart, for admin's device-event
// handling (GroupEvent) to reach a device by its layout UUID.
func (g *Group) Device(u util.UUID) (*rdev.RDev, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	rd, ok := g.rdevs[u]
	return rd, ok
}

// SyncTag returns the group's current generation stamp.
func (g *Group) SyncTag() synctag.SyncTag {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.syncTag
}

// Devices returns every rdev registered in the group, for status/admin
// reporting.
func (g *Group) Devices() []*rdev.RDev {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]*rdev.RDev, 0, len(g.rdevs))
	for _, rd := range g.rdevs {
		out = append(out, rd)
	}
	return out
}

// SlotBlocks collects every slot's dirty-zone metadata block across
// every volume of the group, for handing to metadata.NewFlusher so the
// group's dirty zones get swept on the flusher's schedule (spec.md
// §4.4).
func (g *Group) SlotBlocks() []*desyncinfo.SlotBlock {
	var out []*desyncinfo.SlotBlock
	for _, av := range g.Assembly.Subspaces() {
		for _, slot := range av.Slots {
			out = append(out, slot.DesyncInfo)
		}
	}
	return out
}

func (g *Group) spofGroups() []status.SPOFGroup {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]status.SPOFGroup, 0, len(g.spofTags))
	for name, members := range g.spofTags {
		devs := make([]*rdev.RDev, 0, len(members))
		for _, u := range members {
			devs = append(devs, g.rdevs[u])
		}
		out = append(out, status.SPOFGroup{Name: name, Devices: devs})
	}
	return out
}

// ComputeStatus recomputes the group's overall health from its current
// SPOF table, without advancing the sync tag.
func (g *Group) ComputeStatus() status.Status {
	g.Status = status.Compute(g.spofGroups())
	return g.Status
}

// Transition advances the group's sync tag following a status
// recomputation (a device going down or coming back up), preparing
// rebuild contexts for any device left needing an update.
func (g *Group) Transition() synctag.SyncTag {
	g.mu.Lock()
	devs := make([]*rdev.RDev, 0, len(g.rdevs))
	for _, rd := range g.rdevs {
		devs = append(devs, rd)
	}
	oldTag := g.syncTag
	g.mu.Unlock()

	groups := g.spofGroups()
	newTag := status.Transition(devs, oldTag, groups, &g.Contexts, func(rd *rdev.RDev) util.UUID { return rd.LayoutUUID })

	g.mu.Lock()
	g.syncTag = newTag
	g.mu.Unlock()

	g.ComputeStatus()
	return newTag
}

// NewFlusher builds a metadata.Flusher over every slot block of the
// group, writing a dirty slot's block to this node's replica locations
// through io when the flusher sweeps it. Per spec.md §4.4, each node
// only ever writes its own metadata sector.
func (g *Group) NewFlusher(io metadata.IO, interval time.Duration) *metadata.Flusher {
	blocks := g.SlotBlocks()

	locate := func(sb *desyncinfo.SlotBlock) []striping.RDevLocation {
		for _, v := range g.Volumes {
			for _, slot := range v.assembly.Slots {
				if slot.DesyncInfo == sb {
					return v.MetadataLocations(slot)
				}
			}
		}
		return nil
	}

	flush := func(ctx context.Context, sb *desyncinfo.SlotBlock) error {
		locs := locate(sb)
		if locs == nil {
			return fmt.Errorf("group: flush: slot block not found in group %v", g.UUID)
		}
		sb.Lock()
		block := sb.InMemory
		sb.Unlock()
		return metadata.WriteSlotMetadata(ctx, io, locs, &block)
	}

	return metadata.NewFlusher(interval, blocks, flush)
}

// rebuildSlots collects every slot across every volume of the group,
// each bound to its owning volume, in a stable order.
func (g *Group) rebuildSlots() []*stripingSlot {
	var out []*stripingSlot
	idx := 0
	for _, v := range g.Volumes {
		for _, slot := range v.assembly.Slots {
			out = append(out, &stripingSlot{slot: slot, resolve: g.resolve, volume: v, idx: idx})
			idx++
		}
	}
	return out
}

// RebuildSlots is the []rebuild.Slot view of the group's slots, for
// rebuild.Rebuild to walk in order.
func (g *Group) RebuildSlots() []rebuild.Slot {
	ss := g.rebuildSlots()
	out := make([]rebuild.Slot, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// ResyncSlots is RebuildSlots's resync.Slot-typed counterpart.
func (g *Group) ResyncSlots() []resync.Slot {
	ss := g.rebuildSlots()
	out := make([]resync.Slot, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// RebuildZone returns a rebuild.SlotRebuilder bound to devs: it copies
// a dirty zone's data sectors from a readable, uptodate replica onto
// dest.
func (g *Group) RebuildZone(devs BlockIO) rebuild.SlotRebuilder {
	return func(ctx context.Context, slot rebuild.Slot, dzoneIndex int, dest util.UUID) error {
		ss, ok := slot.(*stripingSlot)
		if !ok || ss.volume == nil {
			return fmt.Errorf("group: rebuild: slot not bound to an owning volume")
		}
		return ss.volume.copyDZone(ctx, devs, ss.slot, dzoneIndex, dest)
	}
}

// SyncZone returns a resync.ZoneSynchronizer bound to devs: it copies a
// dirty zone's data sectors from a readable, uptodate replica onto
// every replica that isn't already uptodate for that zone.
func (g *Group) SyncZone(devs BlockIO) resync.ZoneSynchronizer {
	return func(ctx context.Context, slot resync.Slot, dzoneIndex int) error {
		ss, ok := slot.(*stripingSlot)
		if !ok || ss.volume == nil {
			return fmt.Errorf("group: resync: slot not bound to an owning volume")
		}
		return ss.volume.copyDZone(ctx, devs, ss.slot, dzoneIndex, util.UUID{})
	}
}

// NodeMetadataIO returns a resync.NodeMetadataIO that reads and writes
// a crashed node's metadata sector through this group's placement
// chain and io. Per spec.md §5, every node's metadata sector lives on
// the group's own shared devices, so reconciling a crashed node's
// record needs no RPC to that node.
func (g *Group) NodeMetadataIO(io metadata.IO) resync.NodeMetadataIO {
	return &groupNodeIO{io: io}
}

type groupNodeIO struct {
	io metadata.IO
}

func (n *groupNodeIO) ReadNode(ctx context.Context, slot resync.Slot, nodeIndex int) (*[desyncinfo.PerBlock]desyncinfo.DZone, error) {
	ss, ok := slot.(*stripingSlot)
	if !ok || ss.volume == nil {
		return nil, fmt.Errorf("group: resync: slot not bound to an owning volume")
	}
	return metadata.ReadSlotMetadata(ctx, n.io, ss.volume.metadataLocationsFor(ss.slot, nodeIndex))
}

func (n *groupNodeIO) WriteNode(ctx context.Context, slot resync.Slot, nodeIndex int, block *[desyncinfo.PerBlock]desyncinfo.DZone) error {
	ss, ok := slot.(*stripingSlot)
	if !ok || ss.volume == nil {
		return fmt.Errorf("group: resync: slot not bound to an owning volume")
	}
	return metadata.WriteSlotMetadata(ctx, n.io, ss.volume.metadataLocationsFor(ss.slot, nodeIndex), block)
}

// Registry is a process-wide UUID->*Group lookup, backed by
// typedsync.Map so status queries and the admin command dispatcher never
// block behind a group's own bookkeeping.
type Registry struct {
	inner typedsync.Map[util.UUID, *Group]
}

// Register adds g to the registry.
func (r *Registry) Register(g *Group) { r.inner.Store(g.UUID, g) }

// Lookup finds a group by UUID.
func (r *Registry) Lookup(uuid util.UUID) (*Group, bool) { return r.inner.Load(uuid) }

// Unregister removes a group, returning it if present.
func (r *Registry) Unregister(uuid util.UUID) (*Group, bool) { return r.inner.LoadAndDelete(uuid) }

// Range calls f for every registered group, stopping early if f returns
// false. Used by the admin dispatcher to resolve a volume UUID to its
// owning group without a second index.
func (r *Registry) Range(f func(g *Group) bool) {
	r.inner.Range(func(_ util.UUID, g *Group) bool { return f(g) })
}
