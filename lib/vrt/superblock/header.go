// Copyright (C) 2002, 2009 Seanodes Ltd http://www.seanodes.com.
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package superblock serializes a group's on-disk state into the two
// alternating superblock slots carried at the front of every rdev, and
// reads it back.
package superblock

import (
	"fmt"

	"github.com/exanodes/vrt/lib/binstruct"
	"github.com/exanodes/vrt/lib/vrt/rdev"
)

// HeaderMagic identifies a valid superblock header.
const HeaderMagic = 0x56525453 // "VRTS"

// HeaderFormat is the only header layout this package understands.
const HeaderFormat = 1

// HeaderSize is the marshaled size of Header, in bytes.
const HeaderSize = 0x30

// areaDataSize is the data capacity of one superblock slot: half of
// rdev.SuperblockArea (in bytes), minus the two headers that share the
// area between them, mirroring __get_superblock_data_range.
const areaDataSize = (rdev.SuperblockArea*512 - 2*HeaderSize) / 2

// Header is the fixed-size record at the start of each of a group's two
// superblock slots. Mirrors superblock_header_t.
type Header struct {
	Magic     uint32 `bin:"off=0x0,  siz=0x4"`
	Format    uint8  `bin:"off=0x4,  siz=0x1"`
	Position  uint8  `bin:"off=0x5,  siz=0x1"`
	Reserved1 uint16 `bin:"off=0x6,  siz=0x2"`

	SBVersion   uint64 `bin:"off=0x8,  siz=0x8"`
	DataMaxSize uint64 `bin:"off=0x10, siz=0x8"`
	DataOffset  uint64 `bin:"off=0x18, siz=0x8"`
	DataSize    uint64 `bin:"off=0x20, siz=0x8"`

	Checksum  uint32 `bin:"off=0x28, siz=0x4"`
	Reserved2 uint32 `bin:"off=0x2c, siz=0x4"`

	binstruct.End `bin:"off=0x30"`
}

func slotDataRange(position int) (start, size uint64) {
	return uint64(position)*areaDataSize + 2*HeaderSize, areaDataSize
}

func blankHeader(position int) Header {
	start, size := slotDataRange(position)
	return Header{
		Magic:       HeaderMagic,
		Format:      HeaderFormat,
		Position:    uint8(position),
		SBVersion:   0,
		DataMaxSize: size,
		DataOffset:  start,
		DataSize:    0,
		Checksum:    0,
	}
}

func checkHeader(h Header, position int) error {
	if h.Magic != HeaderMagic {
		return fmt.Errorf("%w: bad magic %#x in slot %d", ErrCorruption, h.Magic, position)
	}
	if h.Format != HeaderFormat {
		return fmt.Errorf("%w: unknown format %d in slot %d", ErrCorruption, h.Format, position)
	}
	if int(h.Position) != position {
		return fmt.Errorf("%w: slot %d claims position %d", ErrCorruption, position, h.Position)
	}
	if h.DataSize > h.DataMaxSize {
		return fmt.Errorf("%w: slot %d data_size %d exceeds max %d", ErrCorruption, position, h.DataSize, h.DataMaxSize)
	}
	return nil
}

func marshalHeader(h Header) ([]byte, error) {
	bs, err := binstruct.Marshal(h)
	if err != nil {
		return nil, fmt.Errorf("superblock: marshal header: %w", err)
	}
	return bs, nil
}

func unmarshalHeader(dat []byte) (Header, error) {
	var h Header
	if _, err := binstruct.Unmarshal(dat, &h); err != nil {
		return Header{}, fmt.Errorf("superblock: unmarshal header: %w", err)
	}
	return h, nil
}
