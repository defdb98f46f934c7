// Copyright (C) 2002, 2010 Seanodes Ltd http://www.seanodes.com.
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package assembly implements the chunk-based allocator that carves
// slots out of the free space of a storage pool: chunks are fixed-size
// extents of a single real device, slots are vectors of chunks drawn
// from pairwise-distinct SPOF groups, and assembly volumes/groups chain
// slots together into the addressable space a layout maps onto.
package assembly

import (
	"github.com/exanodes/vrt/lib/util"
)

// Chunk is a fixed-size extent of a single real device, identified by
// the device's layout UUID and a sector offset within it.
type Chunk struct {
	RDev   util.UUID
	Offset uint64
}

// Cmp orders chunks by device UUID then offset, so they can live in a
// containers.SortedMap or RBTree keyed on themselves.
func (c Chunk) Cmp(o Chunk) int {
	if d := c.RDev.Cmp(o.RDev); d != 0 {
		return d
	}
	switch {
	case c.Offset < o.Offset:
		return -1
	case c.Offset > o.Offset:
		return 1
	default:
		return 0
	}
}
