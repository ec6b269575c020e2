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
	"posnk.dev/posnk/pkg/bitmap"
	"posnk.dev/posnk/pkg/errors/linuxerr"
	"posnk.dev/posnk/pkg/log"
	"posnk.dev/posnk/pkg/sentry/fsimpl/ext2/disklayout"
)

// bitmapKind selects the block or the inode bitmap of a block group.
type bitmapKind int

const (
	blockBitmap bitmapKind = iota
	inodeBitmap
)

// String implements fmt.Stringer.
func (k bitmapKind) String() string {
	if k == blockBitmap {
		return "block"
	}
	return "inode"
}

// bitmapGeometry describes how ids of one kind map to bitmap bits. Bit b of
// group g's bitmap tracks id first + g*perGroup + b, and ids range over
// [first, first+span).
type bitmapGeometry struct {
	first    uint32
	perGroup uint32
	span     uint32

	// lowest is the smallest id that may be handed out.
	lowest uint32
}

// Preconditions: fs.allocMu must be locked.
func (fs *Filesystem) geometry(kind bitmapKind) bitmapGeometry {
	if kind == blockBitmap {
		return bitmapGeometry{
			first:    fs.firstBlock,
			perGroup: fs.sb.BlocksPerGroup,
			span:     fs.sb.BlocksCount - fs.firstBlock,
			lowest:   fs.firstBlock,
		}
	}
	return bitmapGeometry{
		first:    1,
		perGroup: fs.sb.InodesPerGroup,
		span:     fs.sb.InodesCount,
		lowest:   fs.firstInode,
	}
}

// groupLimit returns the number of valid bits in group's bitmap. The last
// group may be shorter than the others.
func (g *bitmapGeometry) groupLimit(group uint32) uint32 {
	base := group * g.perGroup
	if base >= g.span {
		return 0
	}
	return min(g.perGroup, g.span-base)
}

func bitmapBlock(bg *disklayout.BlockGroup, kind bitmapKind) uint32 {
	if kind == blockBitmap {
		return bg.BlockBitmap
	}
	return bg.InodeBitmap
}

func freeCount(bg *disklayout.BlockGroup, kind bitmapKind) uint16 {
	if kind == blockBitmap {
		return bg.FreeBlocksCount
	}
	return bg.FreeInodesCount
}

// Preconditions: fs.allocMu must be locked.
func (fs *Filesystem) adjustFreeCounts(bg *disklayout.BlockGroup, kind bitmapKind, delta int) {
	if kind == blockBitmap {
		bg.FreeBlocksCount = uint16(int(bg.FreeBlocksCount) + delta)
		fs.sb.FreeBlocksCount = uint32(int64(fs.sb.FreeBlocksCount) + int64(delta))
	} else {
		bg.FreeInodesCount = uint16(int(bg.FreeInodesCount) + delta)
		fs.sb.FreeInodesCount = uint32(int64(fs.sb.FreeInodesCount) + int64(delta))
	}
}

// AllocBlock allocates a zero-filled block, preferring blocks at or after
// hint.
func (fs *Filesystem) AllocBlock(hint uint32) (uint32, error) {
	if fs.readOnly {
		return 0, linuxerr.EROFS
	}
	fs.allocMu.Lock()
	defer fs.allocMu.Unlock()
	blk, err := fs.allocLocked(blockBitmap, hint)
	if err != nil {
		return 0, err
	}
	if err := fs.writeBlock(blk, make([]byte, fs.blockSize)); err != nil {
		if ferr := fs.freeLocked(blockBitmap, blk); ferr != nil {
			log.Warningf("ext2: releasing block %d after failed zero-fill: %v", blk, ferr)
		}
		return 0, err
	}
	return blk, nil
}

// FreeBlock returns block blk to the free pool.
func (fs *Filesystem) FreeBlock(blk uint32) error {
	if fs.readOnly {
		return linuxerr.EROFS
	}
	fs.allocMu.Lock()
	defer fs.allocMu.Unlock()
	return fs.freeLocked(blockBitmap, blk)
}

// AllocInode allocates an inode number, preferring numbers at or after hint.
// Reserved inodes below the superblock's first inode are never returned.
func (fs *Filesystem) AllocInode(hint uint32) (uint32, error) {
	if fs.readOnly {
		return 0, linuxerr.EROFS
	}
	fs.allocMu.Lock()
	defer fs.allocMu.Unlock()
	return fs.allocLocked(inodeBitmap, hint)
}

// FreeInode returns inode number ino to the free pool.
func (fs *Filesystem) FreeInode(ino uint32) error {
	if fs.readOnly {
		return linuxerr.EROFS
	}
	fs.allocMu.Lock()
	defer fs.allocMu.Unlock()
	return fs.freeLocked(inodeBitmap, ino)
}

// allocLocked finds, marks and accounts a free bit. The scan starts in the
// hint's group at the word holding the hint's bit and continues through the
// following groups; a second pass starts over at group 0. Groups whose
// descriptor reports no free entries are skipped.
//
// Preconditions: fs.allocMu must be locked.
func (fs *Filesystem) allocLocked(kind bitmapKind, hint uint32) (uint32, error) {
	g := fs.geometry(kind)
	if hint < g.first {
		hint = g.first
	}
	rel := hint - g.first
	startGroup := rel / g.perGroup
	startBit := (rel % g.perGroup) &^ (bitmap.WordBits - 1)
	if startGroup >= fs.groupCount {
		startGroup, startBit = 0, 0
	}

	for pass := 0; pass < 2; pass++ {
		group := uint32(0)
		if pass == 0 {
			group = startGroup
		}
		for ; group < fs.groupCount; group++ {
			bg, err := fs.loadBlockGroup(group)
			if err != nil {
				return 0, err
			}
			if freeCount(&bg, kind) == 0 {
				continue
			}
			start := uint32(0)
			if pass == 0 && group == startGroup {
				start = startBit
			}
			bit, ok, err := fs.claimBit(&g, kind, &bg, group, start)
			if err != nil {
				return 0, err
			}
			if !ok {
				continue
			}
			fs.adjustFreeCounts(&bg, kind, -1)
			if err := fs.storeBlockGroup(group, &bg); err != nil {
				return 0, fs.corrupted("writing group %d descriptor after %s allocation: %v", group, kind, err)
			}
			id := g.first + group*g.perGroup + bit
			log.Debugf("ext2: allocated %s %d (hint %d)", kind, id, hint)
			return id, nil
		}
	}
	return 0, linuxerr.ENOSPC
}

// claimBit sets the first clear bit at or after start in group's bitmap that
// maps to an id that may be handed out, and writes the bitmap back. It
// returns false if there is none.
//
// Preconditions: fs.allocMu must be locked.
func (fs *Filesystem) claimBit(g *bitmapGeometry, kind bitmapKind, bg *disklayout.BlockGroup, group, start uint32) (uint32, bool, error) {
	limit := g.groupLimit(group)
	bitsPerBlock := fs.blockSize * 8
	buf := make([]byte, fs.blockSize)
	for blkIdx := start / bitsPerBlock; blkIdx*bitsPerBlock < limit; blkIdx++ {
		blk := bitmapBlock(bg, kind) + blkIdx
		if err := fs.readBlock(blk, buf); err != nil {
			return 0, false, err
		}
		bm := bitmap.FromBytes(buf)
		pos := uint32(0)
		if blkIdx == start/bitsPerBlock {
			pos = start % bitsPerBlock
		}
		for pos < bitsPerBlock {
			b, err := bm.FirstZero(pos)
			if err != nil {
				break
			}
			idx := blkIdx*bitsPerBlock + b
			if idx >= limit {
				return 0, false, nil
			}
			if g.first+group*g.perGroup+idx < g.lowest {
				pos = b + 1
				continue
			}
			bm.Add(b)
			bm.MarshalBytes(buf)
			if err := fs.writeBlock(blk, buf); err != nil {
				return 0, false, fs.corrupted("writing %s bitmap block %d: %v", kind, blk, err)
			}
			return idx, true, nil
		}
	}
	return 0, false, nil
}

// freeLocked clears the bitmap bit of id and accounts for it.
//
// Preconditions: fs.allocMu must be locked.
func (fs *Filesystem) freeLocked(kind bitmapKind, id uint32) error {
	g := fs.geometry(kind)
	if id < g.first || id-g.first >= g.span {
		return fs.corrupted("freeing out of range %s %d", kind, id)
	}
	rel := id - g.first
	group, idx := rel/g.perGroup, rel%g.perGroup
	bg, err := fs.loadBlockGroup(group)
	if err != nil {
		return err
	}
	bitsPerBlock := fs.blockSize * 8
	blk := bitmapBlock(&bg, kind) + idx/bitsPerBlock
	buf := make([]byte, fs.blockSize)
	if err := fs.readBlock(blk, buf); err != nil {
		return err
	}
	bm := bitmap.FromBytes(buf)
	bit := idx % bitsPerBlock
	if !bm.IsSet(bit) {
		return fs.corrupted("freeing unallocated %s %d", kind, id)
	}
	bm.Remove(bit)
	bm.MarshalBytes(buf)
	if err := fs.writeBlock(blk, buf); err != nil {
		return err
	}
	fs.adjustFreeCounts(&bg, kind, 1)
	if err := fs.storeBlockGroup(group, &bg); err != nil {
		return err
	}
	log.Debugf("ext2: freed %s %d", kind, id)
	return nil
}
