// Copyright 2019 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ext2

import (
	"fmt"
	"math"
	"math/bits"
	"time"

	"github.com/google/uuid"
	"posnk.dev/posnk/pkg/bitmap"
	"posnk.dev/posnk/pkg/errors/linuxerr"
	"posnk.dev/posnk/pkg/log"
	"posnk.dev/posnk/pkg/sentry/devices"
	"posnk.dev/posnk/pkg/sentry/fsimpl/ext2/disklayout"
)

const (
	// DefaultBlockSize is the block size Format uses if none is given.
	DefaultBlockSize = 1024

	// defaultBytesPerInode is the inode density Format uses if no inode count
	// is given.
	defaultBytesPerInode = 4096

	// lostAndFoundInode is the inode number of lost+found in a fresh
	// filesystem.
	lostAndFoundInode = disklayout.OldFirstInode
)

// FormatOptions configures Format.
type FormatOptions struct {
	// BlockSize is the block size in bytes, a power of two between 1024 and
	// disklayout.MaxBlockSize. Zero means DefaultBlockSize.
	BlockSize uint32

	// Inodes is the minimum number of inodes. Zero means one per 4KiB.
	Inodes uint32

	// VolumeName is stored in the superblock, truncated to 16 bytes.
	VolumeName string

	// UUID identifies the filesystem. The zero value means a random UUID.
	UUID uuid.UUID

	// Now returns the current time. If nil, time.Now is used.
	Now func() time.Time
}

// layout is the geometry of a filesystem being created.
type layout struct {
	blockSize      uint32
	blocks         uint32
	firstBlock     uint32
	groups         uint32
	inodesPerGroup uint32
	itableBlocks   uint32
	gdtBlocks      uint32
}

// groupStart returns the first block of group g.
func (l *layout) groupStart(g uint32) uint32 {
	return l.firstBlock + g*l.blockSize*8
}

// groupLen returns the number of blocks in group g.
func (l *layout) groupLen(g uint32) uint32 {
	return min(l.blockSize*8, l.blocks-l.groupStart(g))
}

// metaStart returns the block holding group g's block bitmap. Group 0 also
// holds the superblock and the descriptor table.
func (l *layout) metaStart(g uint32) uint32 {
	if g == 0 {
		return l.firstBlock + 1 + l.gdtBlocks
	}
	return l.groupStart(g)
}

// dataStart returns the first data block of group g.
func (l *layout) dataStart(g uint32) uint32 {
	return l.metaStart(g) + 2 + l.itableBlocks
}

func newLayout(size int64, opts *FormatOptions) (*layout, error) {
	bs := opts.BlockSize
	if bs == 0 {
		bs = DefaultBlockSize
	}
	if bs < disklayout.MinBlockSize || bs > disklayout.MaxBlockSize || bs&(bs-1) != 0 {
		return nil, fmt.Errorf("invalid block size %d: %w", bs, linuxerr.EINVAL)
	}
	l := &layout{blockSize: bs}
	if bs == disklayout.MinBlockSize {
		l.firstBlock = 1
	}
	l.blocks = uint32(min(size/int64(bs), math.MaxUint32))
	if l.blocks <= l.firstBlock {
		return nil, fmt.Errorf("device of %d bytes is too small: %w", size, linuxerr.EINVAL)
	}
	bpg := bs * 8
	l.groups = (l.blocks - l.firstBlock + bpg - 1) / bpg

	inodes := opts.Inodes
	if inodes == 0 {
		inodes = uint32(min(size/defaultBytesPerInode, math.MaxUint32))
	}
	inodesPerBlock := bs / disklayout.InodeRecordSize
	for {
		ipg := (inodes + l.groups - 1) / l.groups
		ipg = (ipg + inodesPerBlock - 1) / inodesPerBlock * inodesPerBlock
		l.inodesPerGroup = min(max(ipg, inodesPerBlock, lostAndFoundInode+1), bpg)
		l.inodesPerGroup = (l.inodesPerGroup + inodesPerBlock - 1) / inodesPerBlock * inodesPerBlock
		l.itableBlocks = l.inodesPerGroup / inodesPerBlock
		l.gdtBlocks = (l.groups*disklayout.BlockGroupSize + bs - 1) / bs

		// A last group without room for its metadata and a few data blocks
		// is dropped.
		last := l.groups - 1
		if l.groupLen(last) >= l.dataStart(last)-l.groupStart(last)+16 {
			break
		}
		if l.groups == 1 {
			return nil, fmt.Errorf("device of %d bytes is too small: %w", size, linuxerr.EINVAL)
		}
		l.groups--
		l.blocks = l.groupStart(l.groups)
	}
	return l, nil
}

// Format writes an empty ext2 revision 1 filesystem to dev, which holds
// size bytes. The root directory holds an empty lost+found directory.
// Superblock backups are not written.
func Format(dev devices.BlockDevice, size int64, opts FormatOptions) error {
	l, err := newLayout(size, &opts)
	if err != nil {
		return err
	}
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	ts := uint32(now().Unix())
	id := opts.UUID
	if id == uuid.Nil {
		id = uuid.New()
	}
	bs := l.blockSize
	w := func(buf []byte, off int64) error {
		if n, err := dev.WriteAt(buf, off); n != len(buf) || err != nil {
			log.Warningf("ext2: format: write of %d bytes at %d failed: %v", len(buf), off, err)
			return linuxerr.EIO
		}
		return nil
	}
	blockOff := func(blk uint32) int64 { return int64(blk) * int64(bs) }

	rootBlock := l.dataStart(0)
	lostBlock := rootBlock + 1

	var freeBlocks, freeInodes uint32
	gdt := make([]byte, l.gdtBlocks*bs)
	zero := make([]byte, bs)
	for g := uint32(0); g < l.groups; g++ {
		meta := l.metaStart(g)
		bg := disklayout.BlockGroup{
			BlockBitmap: meta,
			InodeBitmap: meta + 1,
			InodeTable:  meta + 2,
		}

		// Block bitmap: metadata blocks and bits past the end of the group
		// are in use.
		bm := bitmap.New(bs * 8)
		start := l.groupStart(g)
		bm.AddRange(0, l.dataStart(g)-start)
		if g == 0 {
			bm.AddRange(rootBlock-start, lostBlock-start+1)
		}
		glen := l.groupLen(g)
		bm.AddRange(glen, bs*8)
		bg.FreeBlocksCount = uint16(glen - bm.CountOnes(0, glen))

		// Inode bitmap: reserved inodes, the root and lost+found.
		im := bitmap.New(bs * 8)
		if g == 0 {
			im.AddRange(0, lostAndFoundInode)
			bg.UsedDirsCount = 2
		}
		im.AddRange(l.inodesPerGroup, bs*8)
		bg.FreeInodesCount = uint16(l.inodesPerGroup - im.CountOnes(0, l.inodesPerGroup))

		buf := make([]byte, bs)
		bm.MarshalBytes(buf)
		if err := w(buf, blockOff(bg.BlockBitmap)); err != nil {
			return err
		}
		im.MarshalBytes(buf)
		if err := w(buf, blockOff(bg.InodeBitmap)); err != nil {
			return err
		}
		for i := uint32(0); i < l.itableBlocks; i++ {
			if err := w(zero, blockOff(bg.InodeTable+i)); err != nil {
				return err
			}
		}
		bg.MarshalBytes(gdt[g*disklayout.BlockGroupSize:])
		freeBlocks += uint32(bg.FreeBlocksCount)
		freeInodes += uint32(bg.FreeInodesCount)
	}
	if err := w(gdt, blockOff(l.firstBlock+1)); err != nil {
		return err
	}

	// Root and lost+found directories.
	itable := l.metaStart(0) + 2
	writeDir := func(ino, blk uint32, mode uint16, links uint16, entries []disklayout.Dirent) error {
		buf := make([]byte, bs)
		o := 0
		for i := range entries {
			d := &entries[i]
			d.NameLength = uint8(len(d.Name))
			d.FileType = disklayout.FtDir
			d.RecordLength = disklayout.RecordLengthFor(len(d.Name))
			if i == len(entries)-1 {
				d.RecordLength = uint16(int(bs) - o)
			}
			d.MarshalBytes(buf[o:])
			o += int(d.RecordLength)
		}
		if err := w(buf, blockOff(blk)); err != nil {
			return err
		}
		in := disklayout.Inode{
			Mode:       disklayout.ModeDir | mode,
			Size:       bs,
			Atime:      ts,
			Ctime:      ts,
			Mtime:      ts,
			LinksCount: links,
			Blocks:     bs / 512,
		}
		in.Block[0] = blk
		ibuf := make([]byte, disklayout.InodeRecordSize)
		in.MarshalBytes(ibuf)
		return w(ibuf, blockOff(itable)+int64(ino-1)*disklayout.InodeRecordSize)
	}
	if err := writeDir(disklayout.RootDirInode, rootBlock, 0755, 3, []disklayout.Dirent{
		{Inode: disklayout.RootDirInode, Name: "."},
		{Inode: disklayout.RootDirInode, Name: ".."},
		{Inode: lostAndFoundInode, Name: "lost+found"},
	}); err != nil {
		return err
	}
	if err := writeDir(lostAndFoundInode, lostBlock, 0700, 2, []disklayout.Dirent{
		{Inode: lostAndFoundInode, Name: "."},
		{Inode: disklayout.RootDirInode, Name: ".."},
	}); err != nil {
		return err
	}

	sb := disklayout.SuperBlock{
		InodesCount:     l.inodesPerGroup * l.groups,
		BlocksCount:     l.blocks,
		ReservedBlocks:  l.blocks / 20,
		FreeBlocksCount: freeBlocks,
		FreeInodesCount: freeInodes,
		FirstDataBlock:  l.firstBlock,
		LogBlockSize:    uint32(bits.TrailingZeros32(bs / disklayout.MinBlockSize)),
		BlocksPerGroup:  bs * 8,
		InodesPerGroup:  l.inodesPerGroup,
		WriteTime:       ts,
		MaxMountCount:   math.MaxUint16,
		Magic:           disklayout.SuperBlockMagic,
		State:           disklayout.StateValid,
		Errors:          disklayout.ErrorsContinue,
		LastCheck:       ts,
		RevLevel:        disklayout.RevDynamic,
		FirstInodeRaw:   lostAndFoundInode,
		InodeSizeRaw:    disklayout.InodeRecordSize,
		FeatureIncompat: disklayout.SbDirentFileType,
	}
	sb.LogFragSize = sb.LogBlockSize
	sb.FragsPerGroup = sb.BlocksPerGroup
	copy(sb.UUID[:], id[:])
	copy(sb.VolumeName[:], opts.VolumeName)
	buf := make([]byte, disklayout.SuperBlockSize)
	sb.MarshalBytes(buf)
	if err := w(buf, disklayout.SbOffset); err != nil {
		return err
	}
	log.Infof("ext2: formatted %d blocks of %d bytes in %d groups, %d inodes", l.blocks, bs, l.groups, sb.InodesCount)
	return nil
}
