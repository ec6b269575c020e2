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

	"posnk.dev/posnk/pkg/abi/linux"
	"posnk.dev/posnk/pkg/errors/linuxerr"
	"posnk.dev/posnk/pkg/sentry/fsimpl/ext2/disklayout"
	"posnk.dev/posnk/pkg/sentry/vfs"
)

// dirBlock is one block of directory data held in memory.
type dirBlock struct {
	fs   *Filesystem
	dir  *vfs.Inode
	phys uint32
	// pos is the directory offset of buf[0].
	pos int64
	buf []byte
}

// readDirBlock reads the directory block at logical block l of dir.
// Directories have no holes, so an unmapped block is an inconsistency.
func (fs *Filesystem) readDirBlock(dir *vfs.Inode, l uint32, b *dirBlock) error {
	phys, err := fs.decode(inodeOf(dir), l)
	if err != nil {
		return err
	}
	if phys == 0 {
		return fs.corrupted("directory %d has a hole at block %d", dir.Ino(), l)
	}
	if b.buf == nil {
		b.buf = make([]byte, fs.blockSize)
	}
	b.fs, b.dir, b.phys, b.pos = fs, dir, phys, int64(l)*int64(fs.blockSize)
	return fs.readBlock(phys, b.buf)
}

// entry parses the record at byte o of the block. Records must not be
// shorter than a header, must be 4-byte aligned, and must not run past the
// end of the block or the name they carry.
func (b *dirBlock) entry(o int) (disklayout.Dirent, error) {
	var d disklayout.Dirent
	if o+disklayout.DirentHeaderSize > len(b.buf) {
		return d, b.fs.corrupted("directory %d: truncated record header at offset %d", b.dir.Ino(), b.pos+int64(o))
	}
	d.UnmarshalHeader(b.buf[o:])
	rec := int(d.RecordLength)
	if rec < disklayout.DirentHeaderSize || rec%4 != 0 || o+rec > len(b.buf) || disklayout.DirentHeaderSize+int(d.NameLength) > rec {
		return d, b.fs.corrupted("directory %d: bad record length %d at offset %d", b.dir.Ino(), rec, b.pos+int64(o))
	}
	d.Name = string(b.buf[o+disklayout.DirentHeaderSize : o+disklayout.DirentHeaderSize+int(d.NameLength)])
	return d, nil
}

func (b *dirBlock) write() error {
	return b.fs.writeBlock(b.phys, b.buf)
}

// forEachEntry calls fn for every record of dir starting at directory offset
// off, in order. fn returns false to stop the walk.
func (fs *Filesystem) forEachEntry(dir *vfs.Inode, off int64, fn func(b *dirBlock, o int, d *disklayout.Dirent) (bool, error)) error {
	bs := int64(fs.blockSize)
	var b dirBlock
	for pos := off; pos < dir.Attrs.Size; {
		if err := fs.readDirBlock(dir, uint32(pos/bs), &b); err != nil {
			return err
		}
		for o := int(pos % bs); o < len(b.buf); {
			d, err := b.entry(o)
			if err != nil {
				return err
			}
			more, err := fn(&b, o, &d)
			if err != nil || !more {
				return err
			}
			o += int(d.RecordLength)
			pos = b.pos + int64(o)
		}
	}
	return nil
}

func (fs *Filesystem) direntFileType(mode linux.FileMode) uint8 {
	if !fs.fileType {
		return disklayout.FtUnknown
	}
	return disklayout.FileTypeFromMode(mode)
}

// Link implements vfs.FilesystemImpl.Link.
//
// The first record that can hold the new entry is used: a hole that is large
// enough is reused in place, and a live record with enough slack is split.
// If none fits, a block is appended to the directory.
func (fs *Filesystem) Link(ctx context.Context, dir *vfs.Inode, name string, in *vfs.Inode) error {
	if fs.readOnly {
		return linuxerr.EROFS
	}
	if len(name) > disklayout.MaxFileName {
		return linuxerr.ENAMETOOLONG
	}
	if len(name) == 0 {
		return linuxerr.ENOENT
	}
	need := disklayout.RecordLengthFor(len(name))
	nd := disklayout.Dirent{
		Inode:      in.Ino(),
		NameLength: uint8(len(name)),
		FileType:   fs.direntFileType(in.Attrs.Mode),
		Name:       name,
	}

	done := false
	err := fs.forEachEntry(dir, 0, func(b *dirBlock, o int, d *disklayout.Dirent) (bool, error) {
		switch {
		case d.IsHole() && d.RecordLength >= need:
			nd.RecordLength = d.RecordLength
			nd.MarshalBytes(b.buf[o:])
		case d.RecordLength-d.TightLength() >= need:
			tight := d.TightLength()
			nd.RecordLength = d.RecordLength - tight
			d.RecordLength = tight
			d.MarshalHeader(b.buf[o:])
			nd.MarshalBytes(b.buf[o+int(tight):])
		default:
			return true, nil
		}
		done = true
		return false, b.write()
	})
	if err != nil || done {
		return err
	}

	buf := make([]byte, fs.blockSize)
	nd.RecordLength = uint16(fs.blockSize)
	nd.MarshalBytes(buf)
	if _, err := fs.Write(ctx, dir, dir.Attrs.Size, buf); err != nil {
		return err
	}
	dir.Attrs.Size += int64(fs.blockSize)
	return fs.storeInode(dir)
}

// Lookup implements vfs.FilesystemImpl.Lookup.
func (fs *Filesystem) Lookup(ctx context.Context, dir *vfs.Inode, name string) (uint32, error) {
	d, err := fs.lookup(dir, name)
	if err != nil {
		return 0, err
	}
	return d.Inode, nil
}

func (fs *Filesystem) lookup(dir *vfs.Inode, name string) (disklayout.Dirent, error) {
	var found disklayout.Dirent
	ok := false
	err := fs.forEachEntry(dir, 0, func(_ *dirBlock, _ int, d *disklayout.Dirent) (bool, error) {
		if !d.IsHole() && d.Name == name {
			found, ok = *d, true
			return false, nil
		}
		return true, nil
	})
	if err != nil {
		return found, err
	}
	if !ok {
		return found, linuxerr.ENOENT
	}
	return found, nil
}

// ReadDir implements vfs.FilesystemImpl.ReadDir.
func (fs *Filesystem) ReadDir(ctx context.Context, dir *vfs.Inode, off int64, count int) ([]vfs.Dirent, int64, error) {
	if off < 0 {
		return nil, off, linuxerr.EINVAL
	}
	var dirents []vfs.Dirent
	next, used := off, 0
	full := false
	err := fs.forEachEntry(dir, off, func(b *dirBlock, o int, d *disklayout.Dirent) (bool, error) {
		end := b.pos + int64(o) + int64(d.RecordLength)
		if d.IsHole() {
			next = end
			return true, nil
		}
		size := vfs.DirentSize(d.Name)
		if used+size > count {
			full = true
			return false, nil
		}
		used += size
		typ := uint8(linux.DT_UNKNOWN)
		if fs.fileType {
			typ = disklayout.DirentType(d.FileType)
		}
		dirents = append(dirents, vfs.Dirent{
			Name:    d.Name,
			Ino:     d.Inode,
			Type:    typ,
			NextOff: end,
		})
		next = end
		return true, nil
	})
	if err != nil {
		return nil, off, err
	}
	if full && len(dirents) == 0 {
		return nil, off, linuxerr.ErrBufferTooSmall
	}
	return dirents, next, nil
}

// Unlink implements vfs.FilesystemImpl.Unlink. The record of name is merged
// into the record preceding it in the same block, or turned into a hole if it
// is the first record of its block.
func (fs *Filesystem) Unlink(ctx context.Context, dir *vfs.Inode, name string) error {
	if fs.readOnly {
		return linuxerr.EROFS
	}
	prev, prevBlock := -1, int64(-1)
	done := false
	err := fs.forEachEntry(dir, 0, func(b *dirBlock, o int, d *disklayout.Dirent) (bool, error) {
		if b.pos != prevBlock {
			prev, prevBlock = -1, b.pos
		}
		if d.IsHole() || d.Name != name {
			prev = o
			return true, nil
		}
		if prev >= 0 {
			p, err := b.entry(prev)
			if err != nil {
				return false, err
			}
			p.RecordLength += d.RecordLength
			p.MarshalHeader(b.buf[prev:])
		} else {
			d.Inode = 0
			d.MarshalHeader(b.buf[o:])
		}
		done = true
		return false, b.write()
	})
	if err != nil {
		return err
	}
	if !done {
		return linuxerr.ENOENT
	}
	return nil
}

// isEmpty returns true if dir holds no live entries other than "." and "..".
func (fs *Filesystem) isEmpty(dir *vfs.Inode) (bool, error) {
	empty := true
	err := fs.forEachEntry(dir, 0, func(_ *dirBlock, _ int, d *disklayout.Dirent) (bool, error) {
		if !d.IsHole() && d.Name != "." && d.Name != ".." {
			empty = false
			return false, nil
		}
		return true, nil
	})
	return empty, err
}
