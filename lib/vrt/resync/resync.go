// Copyright (C) 2002, 2010 Seanodes Ltd http://www.seanodes.com.
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package resync reconciles a slot's desync-info records after a crash
// that took down a set of nodes together: merge what each crashed
// node's sector last recorded, synchronize every zone that merge says
// is dirty, then rewrite a clean record to every crashed node's sector.
package resync

import (
	"context"

	"github.com/exanodes/vrt/lib/vrt/desyncinfo"
	"github.com/exanodes/vrt/lib/vrt/synctag"
)

// Slot is the minimal view resync needs of an assembly slot.
type Slot interface {
	DesyncInfo() *desyncinfo.SlotBlock
	Index() int
}

// ZoneSynchronizer copies a readable, uptodate source for dzoneIndex of
// slot to every replica that isn't already uptodate for that zone.
type ZoneSynchronizer func(ctx context.Context, slot Slot, dzoneIndex int) error

// NodeMetadataIO reads and writes one crashed node's raw metadata block
// for a slot, used to merge records across the crashed set and to write
// the reconciled result back.
type NodeMetadataIO interface {
	ReadNode(ctx context.Context, slot Slot, nodeIndex int) (*[desyncinfo.PerBlock]desyncinfo.DZone, error)
	WriteNode(ctx context.Context, slot Slot, nodeIndex int, block *[desyncinfo.PerBlock]desyncinfo.DZone) error
}

// Resync reconciles every slot this node owns (slotIndex % nUpNodes ==
// myUpIndex, so ownership is sharded evenly across the surviving nodes
// without any coordination) against the metadata sectors of
// crashedNodes.
func Resync(ctx context.Context, slots []Slot, crashedNodes []int, nUpNodes, myUpIndex int, io NodeMetadataIO, sync ZoneSynchronizer, currentTag synctag.SyncTag) error {
	for _, slot := range slots {
		if slot.Index()%nUpNodes != myUpIndex {
			continue
		}
		if err := resyncSlot(ctx, slot, crashedNodes, io, sync, currentTag); err != nil {
			return err
		}
	}
	return nil
}

func resyncSlot(ctx context.Context, slot Slot, crashedNodes []int, io NodeMetadataIO, sync ZoneSynchronizer, currentTag synctag.SyncTag) error {
	var merged [desyncinfo.PerBlock]desyncinfo.DZone
	desyncinfo.InitBlock(&merged, synctag.Blank)

	for _, node := range crashedNodes {
		block, err := io.ReadNode(ctx, slot, node)
		if err != nil {
			continue
		}
		desyncinfo.MergeBlock(&merged, block)
	}

	for z := range merged {
		if merged[z].WritePendingCounter == 0 {
			continue
		}
		if err := sync(ctx, slot, z); err != nil {
			return err
		}
	}

	var clean [desyncinfo.PerBlock]desyncinfo.DZone
	desyncinfo.InitBlock(&clean, currentTag)

	sb := slot.DesyncInfo()
	sb.Lock()
	sb.InMemory = clean
	sb.OnDisk = clean
	sb.Unlock()

	for _, node := range crashedNodes {
		if err := io.WriteNode(ctx, slot, node, &clean); err != nil {
			return err
		}
	}
	return nil
}
