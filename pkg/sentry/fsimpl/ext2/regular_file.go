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
	"context"
	"math"

	"posnk.dev/posnk/pkg/errors/linuxerr"
	"posnk.dev/posnk/pkg/sentry/vfs"
)

// maxFileSize is the largest file size the 32-bit size field can hold.
const maxFileSize = math.MaxUint32

// Read implements vfs.FilesystemImpl.Read. Holes read as zeros. Reads are
// clamped to the file size.
func (fs *Filesystem) Read(ctx context.Context, in *vfs.Inode, off int64, dst []byte) (int, error) {
	size := in.Attrs.Size
	if off < 0 || off > size {
		return 0, linuxerr.EINVAL
	}
	if rem := size - off; int64(len(dst)) > rem {
		dst = dst[:rem]
	}
	ii := inodeOf(in)
	if ii.disk.IsFastSymlink() {
		return copy(dst, ii.disk.InlineData()[off:]), nil
	}

	bs := int64(fs.blockSize)
	done := 0
	for done < len(dst) {
		pos := off + int64(done)
		blkOff := pos % bs
		n := int(min(bs-blkOff, int64(len(dst)-done)))
		phys, err := fs.decode(ii, uint32(pos/bs))
		if err != nil {
			return done, err
		}
		if phys == 0 {
			clear(dst[done : done+n])
		} else if err := fs.readAt(dst[done:done+n], fs.blockOffset(phys)+blkOff); err != nil {
			return done, err
		}
		done += n
	}
	return done, nil
}

// Write implements vfs.FilesystemImpl.Write. Missing data blocks are
// allocated next to the previous block of the file, or at the start of the
// inode's block group.
func (fs *Filesystem) Write(ctx context.Context, in *vfs.Inode, off int64, src []byte) (int, error) {
	if fs.readOnly {
		return 0, linuxerr.EROFS
	}
	if off < 0 {
		return 0, linuxerr.EINVAL
	}
	if off+int64(len(src)) > maxFileSize {
		return 0, linuxerr.EFBIG
	}
	ii := inodeOf(in)
	bs := int64(fs.blockSize)
	prev := uint32(0)
	done := 0
	var err error
	for done < len(src) {
		pos := off + int64(done)
		l := uint32(pos / bs)
		blkOff := pos % bs
		n := int(min(bs-blkOff, int64(len(src)-done)))

		var phys uint32
		if phys, err = fs.decode(ii, l); err != nil {
			break
		}
		if phys == 0 {
			if phys, err = fs.allocDataBlock(ii, in.Ino(), l, prev); err != nil {
				break
			}
		}
		if err = fs.writeAt(src[done:done+n], fs.blockOffset(phys)+blkOff); err != nil {
			break
		}
		prev = phys
		done += n
	}
	if serr := fs.storeInode(in); serr != nil && err == nil {
		err = serr
	}
	return done, err
}

// allocDataBlock allocates a data block for logical block l of ii and maps
// it.
func (fs *Filesystem) allocDataBlock(ii *inode, ino, l, prev uint32) (uint32, error) {
	hint := prev
	if hint == 0 && l > 0 {
		p, err := fs.decode(ii, l-1)
		if err != nil {
			return 0, err
		}
		hint = p
	}
	if hint == 0 {
		hint = fs.groupFirstBlock(fs.inodeGroup(ino))
	}
	phys, err := fs.AllocBlock(hint)
	if err != nil {
		return 0, err
	}
	if err := fs.set(ii, l, phys); err != nil {
		if ferr := fs.FreeBlock(phys); ferr != nil {
			return 0, ferr
		}
		return 0, err
	}
	ii.disk.Blocks += fs.sectorsPerBlock()
	return phys, nil
}

// Truncate implements vfs.FilesystemImpl.Truncate. Growing a file leaves a
// hole; shrinking it frees the blocks past the new end.
func (fs *Filesystem) Truncate(ctx context.Context, in *vfs.Inode, size int64) error {
	if fs.readOnly {
		return linuxerr.EROFS
	}
	if size < 0 {
		return linuxerr.EINVAL
	}
	if size > maxFileSize {
		return linuxerr.EFBIG
	}
	ii := inodeOf(in)
	var err error
	if size < in.Attrs.Size && ii.disk.HasDataBlocks() {
		err = fs.shrink(ii, in.Attrs.Size, size)
	}
	in.Attrs.Size = size
	if serr := fs.storeInode(in); serr != nil && err == nil {
		err = serr
	}
	return err
}

// shrink releases the blocks of ii past newSize, walking backward from the
// last block of oldSize, then frees emptied indirect blocks and zeroes the
// tail of the new last block so that a later extension reads zeros.
func (fs *Filesystem) shrink(ii *inode, oldSize, newSize int64) error {
	bs := int64(fs.blockSize)
	keep := uint32((newSize + bs - 1) / bs)
	last := uint32((oldSize + bs - 1) / bs)
	for l := last; l > keep; {
		l--
		phys, err := fs.decode(ii, l)
		if err != nil {
			return err
		}
		if phys == 0 {
			continue
		}
		if err := fs.set(ii, l, 0); err != nil {
			return err
		}
		if err := fs.FreeBlock(phys); err != nil {
			return err
		}
		ii.disk.Blocks -= fs.sectorsPerBlock()
	}
	if err := fs.trimIndirect(ii, uint64(keep)); err != nil {
		return err
	}
	if tail := newSize % bs; tail != 0 {
		phys, err := fs.decode(ii, keep-1)
		if err != nil {
			return err
		}
		if phys != 0 {
			return fs.writeAt(make([]byte, bs-tail), fs.blockOffset(phys)+tail)
		}
	}
	return nil
}
