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

package vfs

import (
	"context"

	"posnk.dev/posnk/pkg/abi/linux"
	"posnk.dev/posnk/pkg/sentry/devices"
)

// Filesystem is a mounted instance of a FilesystemImpl.
type Filesystem struct {
	vfs    *VirtualFilesystem
	impl   FilesystemImpl
	fsType FilesystemType

	// devID is the device number inodes of this filesystem report.
	devID uint32

	// source is the block device node the filesystem was mounted from, or nil.
	source *Inode

	// readOnly is set for filesystems mounted with
	// GetFilesystemOptions.ReadOnly.
	readOnly bool
}

// NewFilesystem wraps impl for use outside of a VirtualFilesystem, e.g. in
// filesystem driver tests.
func NewFilesystem(impl FilesystemImpl, devID uint32) *Filesystem {
	return &Filesystem{impl: impl, devID: devID}
}

// Impl returns the FilesystemImpl of fs.
func (fs *Filesystem) Impl() FilesystemImpl {
	return fs.impl
}

// DevID returns the device number of fs.
func (fs *Filesystem) DevID() uint32 {
	return fs.devID
}

// ReadOnly returns true if fs was mounted read-only.
func (fs *Filesystem) ReadOnly() bool {
	return fs.readOnly
}

// VirtualFilesystem returns the VirtualFilesystem fs is mounted in.
func (fs *Filesystem) VirtualFilesystem() *VirtualFilesystem {
	return fs.vfs
}

// FilesystemImpl is the interface a filesystem driver implements.
//
// Unless noted otherwise, the caller holds the lock of every Inode argument
// for the duration of the call. Inode attributes live in Inode.Attrs; a
// driver keeps its own state in Inode.Impl.
type FilesystemImpl interface {
	// Root returns the inode number of the root directory.
	Root() uint32

	// LoadInode reads inode in.Ino() from storage into in.
	LoadInode(ctx context.Context, in *Inode) error

	// StoreInode writes the attributes of in back to storage.
	StoreInode(ctx context.Context, in *Inode) error

	// Mknod allocates an on-disk inode near dir for the attributes in
	// in.Attrs, sets in's inode number and stores it. It does not link the
	// inode into dir.
	Mknod(ctx context.Context, dir *Inode, in *Inode) error

	// Rmnod releases every resource held by in, including the inode number.
	Rmnod(ctx context.Context, in *Inode) error

	// Mkdir and Rmdir update the filesystem's directory accounting for a
	// directory inode that was just created or is about to be removed.
	Mkdir(ctx context.Context, in *Inode) error
	Rmdir(ctx context.Context, in *Inode) error

	// Link adds an entry called name referring to in to directory dir.
	Link(ctx context.Context, dir *Inode, name string, in *Inode) error

	// Unlink removes the entry called name from directory dir.
	Unlink(ctx context.Context, dir *Inode, name string) error

	// Lookup returns the inode number of the entry called name in dir.
	Lookup(ctx context.Context, dir *Inode, name string) (uint32, error)

	// ReadDir returns the entries of dir starting at offset off whose
	// DirentSize sum does not exceed count, and the offset to continue from.
	// An empty result means the end of the directory was reached.
	ReadDir(ctx context.Context, dir *Inode, off int64, count int) ([]Dirent, int64, error)

	// Read reads file data at off into dst.
	Read(ctx context.Context, in *Inode, off int64, dst []byte) (int, error)

	// Write writes src to the file at off. It does not update in.Attrs.Size.
	Write(ctx context.Context, in *Inode, off int64, src []byte) (int, error)

	// Truncate sets the size of in.
	Truncate(ctx context.Context, in *Inode, size int64) error

	// Sync flushes filesystem-wide metadata to storage.
	Sync(ctx context.Context) error

	// Statfs returns filesystem statistics.
	Statfs(ctx context.Context) (linux.Statfs, error)

	// Release is called when the filesystem is unmounted. No inodes of the
	// filesystem are referenced at that point.
	Release(ctx context.Context) error
}

// GetFilesystemOptions contains options to FilesystemType.GetFilesystem.
type GetFilesystemOptions struct {
	// ReadOnly requests a read-only mount.
	ReadOnly bool

	// Data is the filesystem-specific, comma-separated option string.
	Data string
}

// FilesystemType creates filesystems of one type, e.g. "ext2".
type FilesystemType interface {
	// Name returns the name the type is registered under.
	Name() string

	// GetFilesystem mounts the filesystem stored on source.
	GetFilesystem(ctx context.Context, source devices.BlockDevice, opts GetFilesystemOptions) (FilesystemImpl, error)
}
