// Copyright (C) 2002, 2010 Seanodes Ltd http://www.seanodes.com.
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package blockdev is the per-node physical-disk client: it opens each
// rdev's backing file/block device and satisfies engine.Submitter by
// reading and writing at the sector offsets the layout's placement
// chain resolved. Built on lib/diskio's address-typed file wrapper,
// exactly the way the teacher's own tooling addresses a raw filesystem
// image.
package blockdev

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/exanodes/vrt/lib/diskio"
	"github.com/exanodes/vrt/lib/util"
	"github.com/exanodes/vrt/lib/vrt/rdev"
	"github.com/exanodes/vrt/lib/vrt/request"
	"github.com/exanodes/vrt/lib/vrt/sectors"
	"github.com/exanodes/vrt/lib/textui"
)

// Store maps an rdev's layout UUID to the open file backing it, and
// submits request.IO operations against whichever one a location names.
type Store struct {
	mu    sync.Mutex
	files map[util.UUID]diskio.File[int64]
}

// NewStore creates an empty device store; call Open for each rdev
// before the engine can submit I/O to it.
func NewStore() *Store {
	return &Store{files: make(map[util.UUID]diskio.File[int64])}
}

// bufferedBlockSize and bufferedBlockCount size the read cache every
// opened device gets wrapped in, the same way btrfsutil.Open sizes its
// buffered file: a block bigger than one sector, cached deep enough to
// absorb a rebuild or resync sweep's repeated re-reads of a dirty
// zone's stripe without re-hitting the backing file each time.
var (
	bufferedBlockSize  = textui.Tunable(int64(64 * sectors.SectorSize))
	bufferedBlockCount = textui.Tunable(256)
)

// Open opens path (a raw block device or a regular file standing in for
// one) for read/write and registers it under layoutUUID.
func (s *Store) Open(layoutUUID util.UUID, path string) error {
	fh, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("blockdev: open %s: %w", path, err)
	}
	buffered := diskio.NewBufferedFile[int64](&diskio.OSFile[int64]{File: fh}, bufferedBlockSize, bufferedBlockCount)
	s.mu.Lock()
	s.files[layoutUUID] = buffered
	s.mu.Unlock()
	return nil
}

// Close closes every open device.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var first error
	for uuid, fh := range s.files {
		if err := fh.Close(); err != nil && first == nil {
			first = err
		}
		delete(s.files, uuid)
	}
	return first
}

func (s *Store) lookup(layoutUUID util.UUID) (diskio.File[int64], bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fh, ok := s.files[layoutUUID]
	return fh, ok
}

// ReadAt and WriteAt satisfy group.BlockIO: they give rebuild and
// resync a synchronous way to copy a dirty zone's sectors directly
// between devices, outside the engine's request pipeline.

func (s *Store) ReadAt(ctx context.Context, layoutUUID util.UUID, sector uint64, buf []byte) error {
	fh, ok := s.lookup(layoutUUID)
	if !ok {
		return fmt.Errorf("blockdev: device %v is not open", layoutUUID)
	}
	_, err := fh.ReadAt(buf, int64(sector)*sectors.SectorSize)
	return err
}

func (s *Store) WriteAt(ctx context.Context, layoutUUID util.UUID, sector uint64, buf []byte) error {
	fh, ok := s.lookup(layoutUUID)
	if !ok {
		return fmt.Errorf("blockdev: device %v is not open", layoutUUID)
	}
	_, err := fh.WriteAt(buf, int64(sector)*sectors.SectorSize)
	return err
}

// MetadataIO adapts a Store to metadata.IO, whose ReadAt/WriteAt are
// addressed by the striping chain's own *rdev.RDev handles rather than
// a bare layout UUID (metadata locations carry the rdev directly; there
// is no separate lookup step). Returned by NewMetadataIO for the
// group's flusher and resync wiring.
type MetadataIO struct {
	store *Store
}

// NewMetadataIO wraps s as a metadata.IO.
func NewMetadataIO(s *Store) *MetadataIO {
	return &MetadataIO{store: s}
}

func (m *MetadataIO) ReadAt(ctx context.Context, rd interface{}, sector uint64, buf []byte) error {
	r, ok := rd.(*rdev.RDev)
	if !ok {
		return fmt.Errorf("blockdev: metadata location has no backing rdev")
	}
	return m.store.ReadAt(ctx, r.LayoutUUID, sector, buf)
}

func (m *MetadataIO) WriteAt(ctx context.Context, rd interface{}, sector uint64, buf []byte) error {
	r, ok := rd.(*rdev.RDev)
	if !ok {
		return fmt.Errorf("blockdev: metadata location has no backing rdev")
	}
	return m.store.WriteAt(ctx, r.LayoutUUID, sector, buf)
}

// Submit implements engine.Submitter: it resolves io.Loc.RDev to an
// open file and performs the read or write at io.Loc.Sector,
// synchronously but off the engine's own goroutine.
func (s *Store) Submit(ctx context.Context, io request.IO, done func(error)) {
	rd, ok := io.Loc.RDev.(*rdev.RDev)
	if !ok {
		done(fmt.Errorf("blockdev: I/O location has no backing rdev"))
		return
	}
	fh, ok := s.lookup(rd.LayoutUUID)
	if !ok {
		done(fmt.Errorf("blockdev: device %v is not open", rd.LayoutUUID))
		return
	}

	go func() {
		if ctx.Err() != nil {
			done(ctx.Err())
			return
		}
		off := int64(io.Loc.Sector) * sectors.SectorSize
		var err error
		if io.IsRead {
			_, err = fh.ReadAt(io.Buf, off)
		} else {
			_, err = fh.WriteAt(io.Buf, off)
		}
		done(err)
	}()
}
