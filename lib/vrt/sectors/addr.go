// Copyright (C) 2002, 2010 Seanodes Ltd http://www.seanodes.com.
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package sectors defines the address types shared by the striping,
// assembly and rdev packages: a sector offset within a volume's logical
// space, a sector offset on a physical rdev, and a physical offset
// pinned to the rdev it lives on.
package sectors

import (
	"fmt"

	"github.com/exanodes/vrt/lib/fmtutil"
	"github.com/exanodes/vrt/lib/util"
)

// SectorSize is the fixed block-device sector size (spec §6).
const SectorSize = 512

// BlockSize is the fixed metadata/data block size (spec §6).
const BlockSize = 4096

type (
	// Logical is a sector offset within a volume's (or a slot's) logical
	// address space.
	Logical int64
	// Physical is a sector offset within a single rdev.
	Physical int64
	// Delta is a signed distance between two sector addresses.
	Delta int64
)

func formatAddr(addr int64, f fmt.State, verb rune) {
	switch verb {
	case 'v', 's', 'q':
		str := fmt.Sprintf("%#016x", addr)
		fmt.Fprintf(f, fmtutil.FmtStateString(f, verb), str)
	default:
		fmt.Fprintf(f, fmtutil.FmtStateString(f, verb), addr)
	}
}

func (a Logical) Format(f fmt.State, verb rune)  { formatAddr(int64(a), f, verb) }
func (a Physical) Format(f fmt.State, verb rune) { formatAddr(int64(a), f, verb) }
func (d Delta) Format(f fmt.State, verb rune)    { formatAddr(int64(d), f, verb) }

func (a Logical) Sub(b Logical) Delta   { return Delta(a - b) }
func (a Physical) Sub(b Physical) Delta { return Delta(a - b) }

func (a Logical) Add(b Delta) Logical   { return a + Logical(b) }
func (a Physical) Add(b Delta) Physical { return a + Physical(b) }

// ToBytes converts a sector count to a byte count.
func (a Delta) ToBytes() int64 { return int64(a) * SectorSize }

// BytesToSectors converts a byte count (assumed sector-aligned) into a
// sector count, rounding up.
func BytesToSectors(nbytes uint64) uint64 {
	return (nbytes + SectorSize - 1) / SectorSize
}

// QualifiedPhysical pins a physical sector to the rdev it lives on.
type QualifiedPhysical struct {
	RDev util.UUID
	Addr Physical
}

func (a QualifiedPhysical) Add(b Delta) QualifiedPhysical {
	return QualifiedPhysical{RDev: a.RDev, Addr: a.Addr.Add(b)}
}

func (a QualifiedPhysical) Cmp(b QualifiedPhysical) int {
	if d := a.RDev.Cmp(b.RDev); d != 0 {
		return d
	}
	return int(a.Addr - b.Addr)
}
