// Copyright (C) 2002, 2010 Seanodes Ltd http://www.seanodes.com.
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package status computes a group's overall health from the SPOF
// groups it's built on, and drives the sync-tag advance and rebuild
// preparation that follow any status transition.
package status

import (
	"github.com/exanodes/vrt/lib/util"
	"github.com/exanodes/vrt/lib/vrt/rdev"
	"github.com/exanodes/vrt/lib/vrt/rebuild"
	"github.com/exanodes/vrt/lib/vrt/synctag"
)

// Status is a group's overall health, derived from how many of its
// SPOF groups currently have a defective (down or alien) device.
type Status int

const (
	OK Status = iota
	Degraded
	Offline
)

func (s Status) String() string {
	switch s {
	case OK:
		return "OK"
	case Degraded:
		return "DEGRADED"
	default:
		return "OFFLINE"
	}
}

// SPOFGroup is one fault domain's set of devices, as seen by status
// computation.
type SPOFGroup struct {
	Name    string
	Devices []*rdev.RDev
}

func spofGroupDefective(g SPOFGroup) bool {
	for _, d := range g.Devices {
		if !d.IsOK() {
			return true
		}
	}
	return false
}

// Compute derives the group's overall status from 0/1/>=2 defective
// SPOF groups.
func Compute(groups []SPOFGroup) Status {
	defective := 0
	for _, g := range groups {
		if spofGroupDefective(g) {
			defective++
		}
	}
	switch {
	case defective == 0:
		return OK
	case defective == 1:
		return Degraded
	default:
		return Offline
	}
}

// Transition advances the group's generation following any non-OFFLINE
// status recomputation; when Compute(spofGroups) is Offline it returns
// oldTag and changes nothing. Otherwise the sync tag is incremented
// (wrap-aware);
// every device that was uptodate at the old tag and is still up gets
// stamped with the new tag (it rode along with the write that caused
// this transition); every device whose tag is no longer AreComparable
// with the new tag is reset to Blank (it's too far behind to reason
// about, and must rebuild from scratch); and an UPDATING rebuild
// context is prepared for each SPOF group left needing an update.
//
// Mirrors rain1_update_sync_tag() / rain1_compute_rebuilding_status().
// Each call advances the tag again, also with no intervening device
// events: the devices stamped by the previous call carry the tag passed
// in as oldTag and are stamped again, and ctxTable.Start replaces any
// rebuild context already prepared.
func Transition(devices []*rdev.RDev, oldTag synctag.SyncTag, spofGroups []SPOFGroup, ctxTable *rebuild.ContextTable, deviceUUID func(*rdev.RDev) util.UUID) synctag.SyncTag {
	if Compute(spofGroups) == Offline {
		return oldTag
	}
	newTag := synctag.Inc(oldTag)

	for _, d := range devices {
		if d.IsUp() && synctag.IsEqual(d.SyncTag(), oldTag) {
			d.SetSyncTag(newTag)
			continue
		}
		if !synctag.AreComparable(d.SyncTag(), newTag) {
			d.SetSyncTag(synctag.Blank)
		}
	}

	prepareUpdating(spofGroups, newTag, ctxTable, deviceUUID)
	return newTag
}

func prepareUpdating(spofGroups []SPOFGroup, newTag synctag.SyncTag, ctxTable *rebuild.ContextTable, deviceUUID func(*rdev.RDev) util.UUID) {
	for _, g := range spofGroups {
		for _, d := range g.Devices {
			if !d.IsOK() {
				continue
			}
			if d.IsUptodate(newTag) {
				continue
			}
			d.SetRebuild(rdev.RebuildUpdating)
			ctxTable.Start(deviceUUID(d), rdev.RebuildUpdating, newTag, 0)
		}
	}
}
