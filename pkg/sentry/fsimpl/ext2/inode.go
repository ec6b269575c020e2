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
	"fmt"

	"posnk.dev/posnk/pkg/abi/linux"
	"posnk.dev/posnk/pkg/errors/linuxerr"
	"posnk.dev/posnk/pkg/sentry/fsimpl/ext2/disklayout"
	"posnk.dev/posnk/pkg/sentry/kernel/auth"
	"posnk.dev/posnk/pkg/sentry/vfs"
)

// inode is the driver-private part of a vfs.Inode. It holds the on-disk
// record; the attributes the VFS interprets are copied to and from
// vfs.Inode.Attrs on load and store.
type inode struct {
	disk disklayout.Inode
}

// inodeOf returns the driver state of in.
func inodeOf(in *vfs.Inode) *inode {
	ii, ok := in.Impl().(*inode)
	if !ok {
		panic(fmt.Sprintf("ext2: inode %d has foreign private data %T", in.Ino(), in.Impl()))
	}
	return ii
}

// inodeOffset returns the device offset of the inode table record of ino.
func (fs *Filesystem) inodeOffset(ino uint32) (int64, error) {
	if ino == 0 || ino > fs.sb.InodesCount {
		return 0, linuxerr.EINVAL
	}
	group := fs.inodeGroup(ino)
	bg, err := fs.loadBlockGroup(group)
	if err != nil {
		return 0, err
	}
	idx := (ino - 1) % fs.sb.InodesPerGroup
	return fs.blockOffset(bg.InodeTable) + int64(idx)*int64(fs.inodeSize), nil
}

// readInode reads the record of ino. Only the leading InodeRecordSize bytes
// of larger records are interpreted.
func (fs *Filesystem) readInode(ino uint32, disk *disklayout.Inode) error {
	off, err := fs.inodeOffset(ino)
	if err != nil {
		return err
	}
	buf := make([]byte, disklayout.InodeRecordSize)
	if err := fs.readAt(buf, off); err != nil {
		return err
	}
	disk.UnmarshalBytes(buf)
	return nil
}

// writeInode writes the record of ino, leaving the tail of larger records
// untouched.
func (fs *Filesystem) writeInode(ino uint32, disk *disklayout.Inode) error {
	off, err := fs.inodeOffset(ino)
	if err != nil {
		return err
	}
	buf := make([]byte, disklayout.InodeRecordSize)
	disk.MarshalBytes(buf)
	return fs.writeAt(buf, off)
}

// fileTypeFromDisk translates the type bits of an on-disk mode.
func (fs *Filesystem) fileTypeFromDisk(ino uint32, mode uint16) linux.FileMode {
	switch mode & disklayout.ModeTypeMask {
	case disklayout.ModeRegular:
		return linux.ModeRegular
	case disklayout.ModeDir:
		return linux.ModeDirectory
	case disklayout.ModeSymlink:
		return linux.ModeSymlink
	case disklayout.ModeCharDev:
		return linux.ModeCharacterDevice
	case disklayout.ModeBlockDev:
		return linux.ModeBlockDevice
	case disklayout.ModeFIFO:
		return linux.ModeNamedPipe
	case disklayout.ModeSocket:
		return linux.ModeSocket
	default:
		fs.warn.Warningf("ext2: inode %d has unknown file type %#x, treating it as a regular file", ino, mode&disklayout.ModeTypeMask)
		return linux.ModeRegular
	}
}

// fileTypeToDisk translates the type bits of a VFS mode.
func fileTypeToDisk(mode linux.FileMode) uint16 {
	switch mode.FileType() {
	case linux.ModeDirectory:
		return disklayout.ModeDir
	case linux.ModeSymlink:
		return disklayout.ModeSymlink
	case linux.ModeCharacterDevice:
		return disklayout.ModeCharDev
	case linux.ModeBlockDevice:
		return disklayout.ModeBlockDev
	case linux.ModeNamedPipe:
		return disklayout.ModeFIFO
	case linux.ModeSocket:
		return disklayout.ModeSocket
	default:
		return disklayout.ModeRegular
	}
}

// attrsFromDisk fills attrs from the on-disk record of ino.
func (fs *Filesystem) attrsFromDisk(ino uint32, disk *disklayout.Inode, attrs *vfs.InodeAttrs) {
	ft := fs.fileTypeFromDisk(ino, disk.Mode)
	*attrs = vfs.InodeAttrs{
		Mode:   ft | linux.FileMode(disk.Mode&disklayout.ModePermMask),
		UID:    auth.KUID(disk.UID),
		GID:    auth.KGID(disk.GID),
		Links:  uint32(disk.LinksCount),
		Size:   int64(disk.Size),
		Atime:  int64(disk.Atime),
		Mtime:  int64(disk.Mtime),
		Ctime:  int64(disk.Ctime),
		Blocks: uint64(disk.Blocks),
	}
	if ft == linux.ModeCharacterDevice || ft == linux.ModeBlockDevice {
		attrs.Rdev = disk.Block[0]
	}
}

// attrsToDisk copies attrs into the on-disk record. Block pointers and the
// block count are owned by the driver and left alone, except for device
// nodes which keep their device number in the first block pointer.
func attrsToDisk(attrs *vfs.InodeAttrs, disk *disklayout.Inode) {
	disk.Mode = fileTypeToDisk(attrs.Mode) | uint16(attrs.Mode&disklayout.ModePermMask)
	disk.UID = attrs.UID.In16()
	disk.GID = attrs.GID.In16()
	disk.LinksCount = uint16(attrs.Links)
	disk.Size = uint32(attrs.Size)
	disk.Atime = uint32(attrs.Atime)
	disk.Mtime = uint32(attrs.Mtime)
	disk.Ctime = uint32(attrs.Ctime)
	switch attrs.Mode.FileType() {
	case linux.ModeCharacterDevice, linux.ModeBlockDevice:
		disk.Block[0] = attrs.Rdev
	}
}

// LoadInode implements vfs.FilesystemImpl.LoadInode.
func (fs *Filesystem) LoadInode(ctx context.Context, in *vfs.Inode) error {
	ii := &inode{}
	if err := fs.readInode(in.Ino(), &ii.disk); err != nil {
		return err
	}
	fs.attrsFromDisk(in.Ino(), &ii.disk, &in.Attrs)
	in.SetImpl(ii)
	return nil
}

// StoreInode implements vfs.FilesystemImpl.StoreInode.
func (fs *Filesystem) StoreInode(ctx context.Context, in *vfs.Inode) error {
	if fs.readOnly {
		return nil
	}
	return fs.storeInode(in)
}

func (fs *Filesystem) storeInode(in *vfs.Inode) error {
	ii := inodeOf(in)
	attrsToDisk(&in.Attrs, &ii.disk)
	in.Attrs.Blocks = uint64(ii.disk.Blocks)
	return fs.writeInode(in.Ino(), &ii.disk)
}

// Mknod implements vfs.FilesystemImpl.Mknod.
func (fs *Filesystem) Mknod(ctx context.Context, dir *vfs.Inode, in *vfs.Inode) error {
	if fs.readOnly {
		return linuxerr.EROFS
	}
	ino, err := fs.AllocInode(fs.groupFirstInode(fs.inodeGroup(dir.Ino())))
	if err != nil {
		return err
	}
	ii := &inode{}
	attrsToDisk(&in.Attrs, &ii.disk)
	if err := fs.writeInode(ino, &ii.disk); err != nil {
		if ferr := fs.FreeInode(ino); ferr != nil {
			return ferr
		}
		return err
	}
	in.SetIno(ino)
	in.SetImpl(ii)
	in.Attrs.Blocks = 0
	return nil
}

// Rmnod implements vfs.FilesystemImpl.Rmnod.
func (fs *Filesystem) Rmnod(ctx context.Context, in *vfs.Inode) error {
	if fs.readOnly {
		return linuxerr.EROFS
	}
	ii := inodeOf(in)
	if ii.disk.HasDataBlocks() {
		if err := fs.shrink(ii, in.Attrs.Size, 0); err != nil {
			return err
		}
	}
	in.Attrs.Links = 0
	in.Attrs.Size = 0
	attrsToDisk(&in.Attrs, &ii.disk)
	ii.disk.Dtime = fs.timestamp()
	if err := fs.writeInode(in.Ino(), &ii.disk); err != nil {
		return err
	}
	return fs.FreeInode(in.Ino())
}

// Mkdir implements vfs.FilesystemImpl.Mkdir.
func (fs *Filesystem) Mkdir(ctx context.Context, in *vfs.Inode) error {
	if fs.readOnly {
		return linuxerr.EROFS
	}
	return fs.adjustUsedDirs(in.Ino(), 1)
}

// Rmdir implements vfs.FilesystemImpl.Rmdir.
func (fs *Filesystem) Rmdir(ctx context.Context, in *vfs.Inode) error {
	if fs.readOnly {
		return linuxerr.EROFS
	}
	empty, err := fs.isEmpty(in)
	if err != nil {
		return err
	}
	if !empty {
		return linuxerr.ENOTEMPTY
	}
	return fs.adjustUsedDirs(in.Ino(), -1)
}
