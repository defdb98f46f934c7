// Copyright (C) 2002, 2009 Seanodes Ltd http://www.seanodes.com.
//
// SPDX-License-Identifier: GPL-2.0-or-later

package superblock

import (
	"encoding/binary"
	"fmt"
)

// GroupPayload is the superblock's data area, in the order
// rain1_group_serialize lays it out: the layout's own header fields,
// the storage pool (SPOF table + rdev list), then one entry per volume
// in insertion order. Each section is an opaque, already-encoded blob;
// this package only owns the length-prefixed framing and checksum, not
// the section contents themselves.
type GroupPayload struct {
	LayoutHeader []byte
	Storage      []byte
	Volumes      [][]byte
}

func putSection(buf []byte, data []byte) []byte {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(data)))
	buf = append(buf, lenBuf[:]...)
	return append(buf, data...)
}

func getSection(dat []byte) (section []byte, rest []byte, err error) {
	if len(dat) < 4 {
		return nil, nil, fmt.Errorf("superblock: truncated section length")
	}
	n := binary.LittleEndian.Uint32(dat[:4])
	dat = dat[4:]
	if uint64(len(dat)) < uint64(n) {
		return nil, nil, fmt.Errorf("superblock: truncated section data: want %d have %d", n, len(dat))
	}
	return dat[:n], dat[n:], nil
}

// Encode serializes the payload into the byte stream that gets written
// to a superblock slot's data area.
func (p GroupPayload) Encode() []byte {
	var buf []byte
	buf = putSection(buf, p.LayoutHeader)
	buf = putSection(buf, p.Storage)

	var countBuf [4]byte
	binary.LittleEndian.PutUint32(countBuf[:], uint32(len(p.Volumes)))
	buf = append(buf, countBuf[:]...)
	for _, v := range p.Volumes {
		buf = putSection(buf, v)
	}
	return buf
}

// DecodePayload parses the byte stream previously produced by
// GroupPayload.Encode.
func DecodePayload(dat []byte) (GroupPayload, error) {
	var p GroupPayload
	var err error

	p.LayoutHeader, dat, err = getSection(dat)
	if err != nil {
		return GroupPayload{}, fmt.Errorf("superblock: layout header: %w", err)
	}
	p.Storage, dat, err = getSection(dat)
	if err != nil {
		return GroupPayload{}, fmt.Errorf("superblock: storage: %w", err)
	}

	if len(dat) < 4 {
		return GroupPayload{}, fmt.Errorf("superblock: truncated volume count")
	}
	n := binary.LittleEndian.Uint32(dat[:4])
	dat = dat[4:]

	p.Volumes = make([][]byte, 0, n)
	for i := uint32(0); i < n; i++ {
		var v []byte
		v, dat, err = getSection(dat)
		if err != nil {
			return GroupPayload{}, fmt.Errorf("superblock: volume %d: %w", i, err)
		}
		p.Volumes = append(p.Volumes, v)
	}
	return p, nil
}
