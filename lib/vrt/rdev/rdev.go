// Copyright (C) 2002, 2009 Seanodes Ltd http://www.seanodes.com.
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package rdev models one real (physical) device contributing chunks to
// a group: its identity, its primitive up/corrupted status, and the
// compound status derived from that plus any in-progress rebuild.
package rdev

import (
	"sync"

	"github.com/exanodes/vrt/lib/fmtutil"
	"github.com/exanodes/vrt/lib/util"
	"github.com/exanodes/vrt/lib/vrt/sectors"
	"github.com/exanodes/vrt/lib/vrt/synctag"
)

// SuperblockArea is the number of sectors reserved at the head of every
// real device for the two alternating superblock slots.
const SuperblockArea = 65536 // 32 MiB

// RebuildType distinguishes why a device is being rebuilt.
type RebuildType int

const (
	RebuildNone RebuildType = iota
	RebuildUpdating
	RebuildReplicating
)

// Status is the compound, externally-visible status of a device.
type Status int

const (
	StatusOK Status = iota
	StatusDown
	StatusAlien
	StatusBlank
	StatusOutdated
	StatusUpdating
	StatusReplicating
)

// Flags is the device's raw primitive bits, independent of the compound
// Status derived from them and the group's sync tag. Admin diagnostics
// show both: Status answers "is it usable", Flags answers "why".
type Flags uint8

const (
	FlagUp Flags = 1 << iota
	FlagCorrupted
	FlagReplicating
	FlagUpdating
)

var flagNames = []string{"UP", "CORRUPTED", "REPLICATING", "UPDATING"}

func (f Flags) String() string {
	return fmtutil.BitfieldString(uint8(f), flagNames, fmtutil.HexNone)
}

// Flags reports the device's current primitive bits, for diagnostics
// alongside ComputeStatus's derived verdict.
func (r *RDev) Flags() Flags {
	var f Flags
	if r.IsUp() {
		f |= FlagUp
	}
	if r.IsCorrupted() {
		f |= FlagCorrupted
	}
	switch r.Rebuild() {
	case RebuildReplicating:
		f |= FlagReplicating
	case RebuildUpdating:
		f |= FlagUpdating
	}
	return f
}

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusDown:
		return "DOWN"
	case StatusAlien:
		return "ALIEN"
	case StatusBlank:
		return "BLANK"
	case StatusOutdated:
		return "OUTDATED"
	case StatusUpdating:
		return "UPDATING"
	case StatusReplicating:
		return "REPLICATING"
	default:
		return "UNKNOWN"
	}
}

// RDev is one real device contributing storage to a group. Its
// up/corrupted bits, sync tag and rebuild type are guarded by the
// device's own mutex and are read and written only through its methods.
type RDev struct {
	LayoutUUID    util.UUID
	TransportUUID util.UUID
	Node          string
	SPOFGroup     string

	// RealSize is the device's total size, in sectors, including the
	// SuperblockArea reserved at its head.
	RealSize uint64

	mu        sync.Mutex
	up        bool
	corrupted bool
	tag       synctag.SyncTag
	rebuild   RebuildType
}

// New constructs a device that is up, uncorrupted, and blank: the state
// of a freshly-added device before it has ever been written.
func New(layoutUUID, transportUUID util.UUID, node, spofGroup string, realSize uint64) *RDev {
	return &RDev{
		LayoutUUID:    layoutUUID,
		TransportUUID: transportUUID,
		Node:          node,
		SPOFGroup:     spofGroup,
		RealSize:      realSize,
		up:            true,
		tag:           synctag.Blank,
	}
}

// UsableSectors returns the sectors available for chunk allocation,
// i.e. RealSize minus the reserved superblock area.
func (r *RDev) UsableSectors() uint64 {
	if r.RealSize <= SuperblockArea {
		return 0
	}
	return r.RealSize - SuperblockArea
}

// UsableBytes is UsableSectors expressed in bytes.
func (r *RDev) UsableBytes() uint64 {
	return r.UsableSectors() * sectors.SectorSize
}

// SetUp marks the device up or down.
func (r *RDev) SetUp(up bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.up = up
}

// IsUp reports the device's primitive up/down status.
func (r *RDev) IsUp() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.up
}

// SetCorrupted marks the device's superblock as corrupted or sound.
func (r *RDev) SetCorrupted(corrupted bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.corrupted = corrupted
}

// IsCorrupted reports whether the device's superblock failed checksum
// or UUID verification on last read.
func (r *RDev) IsCorrupted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.corrupted
}

// IsOK reports whether the device is up and not corrupted: the
// necessary condition for it to be writable or readable at all.
func (r *RDev) IsOK() bool {
	return r.IsUp() && !r.IsCorrupted()
}

// SyncTag returns the device's current generation stamp.
func (r *RDev) SyncTag() synctag.SyncTag {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tag
}

// SetSyncTag stamps the device's generation.
func (r *RDev) SetSyncTag(tag synctag.SyncTag) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tag = tag
}

// Rebuild returns the device's current rebuild context type.
func (r *RDev) Rebuild() RebuildType {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rebuild
}

// SetRebuild sets the device's rebuild context type.
func (r *RDev) SetRebuild(t RebuildType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rebuild = t
}

// IsUptodate reports whether the device's tag matches groupTag closely
// enough to be trusted without a rebuild: equal, or newer (which can
// happen transiently while the group tag is catching up).
func (r *RDev) IsUptodate(groupTag synctag.SyncTag) bool {
	tag := r.SyncTag()
	if !synctag.AreComparable(tag, groupTag) {
		return false
	}
	return synctag.IsEqual(tag, groupTag) || synctag.IsGreater(tag, groupTag)
}

// IsWritable reports whether I/O may target this device at all: up and
// uncorrupted (ComputeStatus reports a corrupted device as ALIEN).
func (r *RDev) IsWritable() bool {
	return r.IsOK()
}

// ComputeStatus derives this device's compound, externally-visible
// status from its primitive up/corrupted bits plus its rebuild state
// and sync tag, relative to the group's current sync tag.
//
// Mirrors rain1_rdev_get_compound_status().
func (r *RDev) ComputeStatus(groupTag synctag.SyncTag) Status {
	if !r.IsUp() {
		return StatusDown
	}
	if r.IsCorrupted() {
		return StatusAlien
	}

	switch r.Rebuild() {
	case RebuildReplicating:
		return StatusReplicating
	case RebuildUpdating:
		return StatusUpdating
	}

	tag := r.SyncTag()
	if tag == synctag.Blank {
		return StatusBlank
	}
	if !r.IsUptodate(groupTag) {
		return StatusOutdated
	}
	return StatusOK
}
