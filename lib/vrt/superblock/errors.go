// Copyright (C) 2002, 2009 Seanodes Ltd http://www.seanodes.com.
//
// SPDX-License-Identifier: GPL-2.0-or-later

package superblock

import "errors"

// ErrCorruption is returned when a superblock slot's header fails its
// magic/format/position/size sanity checks.
var ErrCorruption = errors.New("superblock corruption")

// ErrChecksum is returned when a slot's stored checksum doesn't match
// its data.
var ErrChecksum = errors.New("superblock checksum mismatch")

// ErrNotFound is returned when neither slot carries the requested
// sb_version.
var ErrNotFound = errors.New("superblock version not found")

// ErrNoSlotAvailable is returned when neither of the two slots is
// eligible to receive the next write (both already hold old_version, or
// neither parses).
var ErrNoSlotAvailable = errors.New("no superblock slot available for write")
