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
	"encoding/binary"

	"posnk.dev/posnk/pkg/errors/linuxerr"
	"posnk.dev/posnk/pkg/sentry/fsimpl/ext2/disklayout"
)

// blockPath locates the pointer for logical block l. It returns the index
// into Inode.Block at which the walk starts and the slot index to follow in
// each indirect block below it, outermost first. Direct blocks have no slots.
func (fs *Filesystem) blockPath(l uint32) (int, []uint32, error) {
	n := uint64(fs.blockSize / 4)
	rel := uint64(l)
	if rel < disklayout.NumDirectBlocks {
		return int(rel), nil, nil
	}
	rel -= disklayout.NumDirectBlocks
	if rel < n {
		return disklayout.IndBlock, []uint32{uint32(rel)}, nil
	}
	rel -= n
	if rel < n*n {
		return disklayout.DIndBlock, []uint32{uint32(rel / n), uint32(rel % n)}, nil
	}
	rel -= n * n
	if rel < n*n*n {
		return disklayout.TIndBlock, []uint32{uint32(rel / (n * n)), uint32((rel / n) % n), uint32(rel % n)}, nil
	}
	return 0, nil, linuxerr.EFBIG
}

// slotOffset returns the device offset of pointer slot i of indirect block
// blk.
func (fs *Filesystem) slotOffset(blk, i uint32) int64 {
	return fs.blockOffset(blk) + int64(i)*4
}

func (fs *Filesystem) readSlot(blk, i uint32) (uint32, error) {
	var buf [4]byte
	if err := fs.readAt(buf[:], fs.slotOffset(blk, i)); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

func (fs *Filesystem) writeSlot(blk, i, v uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	return fs.writeAt(buf[:], fs.slotOffset(blk, i))
}

// decode returns the physical block holding logical block l of ii, or 0 if
// l is a hole. It never allocates.
func (fs *Filesystem) decode(ii *inode, l uint32) (uint32, error) {
	root, slots, err := fs.blockPath(l)
	if err != nil {
		return 0, err
	}
	ptr := ii.disk.Block[root]
	for _, s := range slots {
		if ptr == 0 {
			return 0, nil
		}
		if ptr, err = fs.readSlot(ptr, s); err != nil {
			return 0, err
		}
	}
	return ptr, nil
}

// set maps logical block l of ii to physical block v. Missing indirect
// blocks on the way are allocated and accounted in ii's block count, except
// when v is 0: there is nothing to unmap below a missing indirect block.
//
// The caller is responsible for storing ii.
func (fs *Filesystem) set(ii *inode, l, v uint32) error {
	root, slots, err := fs.blockPath(l)
	if err != nil {
		return err
	}
	if len(slots) == 0 {
		ii.disk.Block[root] = v
		return nil
	}

	ptr := ii.disk.Block[root]
	if ptr == 0 {
		if v == 0 {
			return nil
		}
		if ptr, err = fs.AllocBlock(v); err != nil {
			return err
		}
		ii.disk.Block[root] = ptr
		ii.disk.Blocks += fs.sectorsPerBlock()
	}
	for _, s := range slots[:len(slots)-1] {
		next, err := fs.readSlot(ptr, s)
		if err != nil {
			return err
		}
		if next == 0 {
			if v == 0 {
				return nil
			}
			if next, err = fs.AllocBlock(ptr); err != nil {
				return err
			}
			if err := fs.writeSlot(ptr, s, next); err != nil {
				if ferr := fs.FreeBlock(next); ferr != nil {
					return ferr
				}
				return err
			}
			ii.disk.Blocks += fs.sectorsPerBlock()
		}
		ptr = next
	}
	return fs.writeSlot(ptr, slots[len(slots)-1], v)
}

// indirectRoot describes the tree hanging off one indirect pointer of
// Inode.Block.
type indirectRoot struct {
	index int
	depth int
	base  uint64
}

// indirectRoots returns the indirect trees of the inode and the first
// logical block each covers.
func (fs *Filesystem) indirectRoots() [3]indirectRoot {
	n := uint64(fs.blockSize / 4)
	return [3]indirectRoot{
		{disklayout.IndBlock, 1, disklayout.NumDirectBlocks},
		{disklayout.DIndBlock, 2, disklayout.NumDirectBlocks + n},
		{disklayout.TIndBlock, 3, disklayout.NumDirectBlocks + n + n*n},
	}
}

// trimIndirect frees the indirect blocks of ii that only map logical blocks
// at or after keep. Data blocks must already have been unmapped.
func (fs *Filesystem) trimIndirect(ii *inode, keep uint64) error {
	for _, r := range fs.indirectRoots() {
		ptr := ii.disk.Block[r.index]
		if ptr == 0 {
			continue
		}
		freed, err := fs.trimTree(ii, ptr, r.depth, r.base, keep)
		if err != nil {
			return err
		}
		if freed {
			ii.disk.Block[r.index] = 0
		}
	}
	return nil
}

// trimTree trims the indirect block ptr of the given depth, which maps the
// logical blocks starting at base. Depth 1 blocks point at data blocks. It
// returns true if ptr itself was freed.
func (fs *Filesystem) trimTree(ii *inode, ptr uint32, depth int, base, keep uint64) (bool, error) {
	n := uint64(fs.blockSize / 4)
	span := uint64(1)
	for i := 1; i < depth; i++ {
		span *= n
	}
	if depth > 1 {
		for i := uint64(0); i < n; i++ {
			childBase := base + i*span
			if childBase+span <= keep {
				continue
			}
			child, err := fs.readSlot(ptr, uint32(i))
			if err != nil {
				return false, err
			}
			if child == 0 {
				continue
			}
			freed, err := fs.trimTree(ii, child, depth-1, childBase, keep)
			if err != nil {
				return false, err
			}
			if freed {
				if err := fs.writeSlot(ptr, uint32(i), 0); err != nil {
					return false, err
				}
			}
		}
	}
	if base < keep {
		return false, nil
	}
	if err := fs.FreeBlock(ptr); err != nil {
		return false, err
	}
	ii.disk.Blocks -= fs.sectorsPerBlock()
	return true, nil
}
