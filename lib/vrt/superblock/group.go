// Copyright (C) 2002, 2009 Seanodes Ltd http://www.seanodes.com.
//
// SPDX-License-Identifier: GPL-2.0-or-later

package superblock

import (
	"context"
	"fmt"
	"hash/crc32"

	"github.com/exanodes/vrt/lib/util"
)

// IO reads and writes raw bytes at a byte offset on one rdev's
// superblock area. Implementations are expected to be backed by a raw
// block device, narrowed to the first rdev.SuperblockArea sectors.
type IO interface {
	ReadAt(ctx context.Context, dev util.UUID, offset uint64, buf []byte) error
	WriteAt(ctx context.Context, dev util.UUID, offset uint64, buf []byte) error
}

// CreateSlots writes two blank, zero-version headers to a freshly added
// rdev, mirroring vrt_rdev_create_superblocks.
func CreateSlots(ctx context.Context, io IO, dev util.UUID) error {
	for position := 0; position < 2; position++ {
		bs, err := marshalHeader(blankHeader(position))
		if err != nil {
			return err
		}
		if err := io.WriteAt(ctx, dev, uint64(position)*HeaderSize, bs); err != nil {
			return fmt.Errorf("superblock: create slot %d on %v: %w", position, dev, err)
		}
	}
	return nil
}

func readHeaders(ctx context.Context, io IO, dev util.UUID) ([2]Header, error) {
	var headers [2]Header
	for position := 0; position < 2; position++ {
		buf := make([]byte, HeaderSize)
		if err := io.ReadAt(ctx, dev, uint64(position)*HeaderSize, buf); err != nil {
			return headers, fmt.Errorf("superblock: read header %d on %v: %w", position, dev, err)
		}
		h, err := unmarshalHeader(buf)
		if err != nil {
			return headers, err
		}
		headers[position] = h
	}
	return headers, nil
}

// WriteGroup serializes payload into whichever of the two slots does
// not hold oldVersion, then stamps that slot's header with newVersion
// last, mirroring vrt_rdev_begin_superblock_write /
// vrt_rdev_end_superblock_write: the other slot, still bearing
// oldVersion, remains a valid fallback if the write is interrupted.
func WriteGroup(ctx context.Context, io IO, dev util.UUID, oldVersion, newVersion uint64, payload GroupPayload) error {
	headers, err := readHeaders(ctx, io, dev)
	if err != nil {
		return err
	}

	position := -1
	for i, h := range headers {
		if checkHeader(h, i) != nil {
			continue
		}
		if h.SBVersion == 0 || h.SBVersion != oldVersion {
			position = i
			break
		}
	}
	if position == -1 {
		return ErrNoSlotAvailable
	}

	data := payload.Encode()
	start, maxSize := slotDataRange(position)
	if uint64(len(data)) > maxSize {
		return fmt.Errorf("superblock: payload %d bytes exceeds slot capacity %d", len(data), maxSize)
	}
	if err := io.WriteAt(ctx, dev, start, data); err != nil {
		return fmt.Errorf("superblock: write slot %d data on %v: %w", position, dev, err)
	}

	h := blankHeader(position)
	h.SBVersion = newVersion
	h.DataSize = uint64(len(data))
	h.Checksum = crc32.ChecksumIEEE(data)

	bs, err := marshalHeader(h)
	if err != nil {
		return err
	}
	if err := io.WriteAt(ctx, dev, uint64(position)*HeaderSize, bs); err != nil {
		return fmt.Errorf("superblock: write slot %d header on %v: %w", position, dev, err)
	}
	return nil
}

// ReadGroup locates the slot carrying wantVersion, verifies its
// checksum, and decodes its payload. Mirrors
// vrt_rdev_begin_superblock_read / vrt_rdev_end_superblock_read.
func ReadGroup(ctx context.Context, io IO, dev util.UUID, wantVersion uint64) (GroupPayload, error) {
	headers, err := readHeaders(ctx, io, dev)
	if err != nil {
		return GroupPayload{}, err
	}

	for position, h := range headers {
		if checkHeader(h, position) != nil {
			continue
		}
		if h.SBVersion != wantVersion {
			continue
		}

		start, _ := slotDataRange(position)
		data := make([]byte, h.DataSize)
		if err := io.ReadAt(ctx, dev, start, data); err != nil {
			return GroupPayload{}, fmt.Errorf("superblock: read slot %d data on %v: %w", position, dev, err)
		}
		if crc32.ChecksumIEEE(data) != h.Checksum {
			return GroupPayload{}, fmt.Errorf("%w: slot %d on %v", ErrChecksum, position, dev)
		}

		return DecodePayload(data)
	}

	return GroupPayload{}, fmt.Errorf("%w: version %d on %v", ErrNotFound, wantVersion, dev)
}
