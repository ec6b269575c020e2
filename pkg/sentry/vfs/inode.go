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
	"container/list"
	"sync"
	"sync/atomic"

	"posnk.dev/posnk/pkg/abi/linux"
	"posnk.dev/posnk/pkg/refs"
	"posnk.dev/posnk/pkg/sentry/kernel/auth"
	"posnk.dev/posnk/pkg/sentry/kernel/pipe"
)

// InodeAttrs holds the attributes of an inode that the VFS layer interprets.
// Times are seconds since the epoch.
type InodeAttrs struct {
	Mode  linux.FileMode
	UID   auth.KUID
	GID   auth.KGID
	Links uint32
	Size  int64
	Atime int64
	Mtime int64
	Ctime int64

	// Rdev is the device number of character and block device nodes.
	Rdev uint32

	// Blocks is the number of 512-byte units allocated to the file.
	Blocks uint64
}

// Inode is the in-memory representation of a file. At most one Inode exists
// per (device, inode number) pair; InodeCache enforces this.
//
// Inodes are reference counted. References are taken by InodeCache.Get and
// dropped by InodeCache.Release.
type Inode struct {
	// fs and ino are immutable once the inode is in the cache.
	fs  *Filesystem
	ino uint32

	refs refs.AtomicRefCount

	// opens is the number of open file descriptions of this inode.
	opens atomic.Int32

	// mu serializes operations on the inode and protects Attrs.
	mu sync.Mutex

	// Attrs are the inode's attributes. Protected by mu.
	Attrs InodeAttrs

	// impl holds private data of the owning FilesystemImpl. Protected by mu.
	impl any

	// mounted is the filesystem mounted over this directory, if any.
	// Protected by VirtualFilesystem.mountMu.
	mounted *Mount

	// fifo is the pipe backing a named pipe. It is created on first use.
	// Protected by mu.
	fifo *pipe.Pipe

	// lruElem is this inode's position in InodeCache.unused, or nil.
	// Protected by InodeCache.mu.
	lruElem *list.Element
}

// NewInode returns an unreferenced inode numbered ino on fs. fs may be nil for
// inodes that are used outside of a VirtualFilesystem.
func NewInode(fs *Filesystem, ino uint32) *Inode {
	return &Inode{fs: fs, ino: ino}
}

// Ino returns the inode number.
func (in *Inode) Ino() uint32 {
	return in.ino
}

// SetIno sets the inode number. It is called by FilesystemImpl.Mknod once
// the new inode has been allocated.
func (in *Inode) SetIno(ino uint32) {
	in.ino = ino
}

// Dev returns the device number of the filesystem holding in.
func (in *Inode) Dev() uint32 {
	if in.fs == nil {
		return 0
	}
	return in.fs.devID
}

// Filesystem returns the filesystem holding in.
func (in *Inode) Filesystem() *Filesystem {
	return in.fs
}

// Impl returns the FilesystemImpl private data of in. The caller must hold
// in's lock, or own in exclusively.
func (in *Inode) Impl() any {
	return in.impl
}

// SetImpl sets the FilesystemImpl private data of in.
func (in *Inode) SetImpl(impl any) {
	in.impl = impl
}

// Lock locks in.
func (in *Inode) Lock() {
	in.mu.Lock()
}

// Unlock unlocks in.
func (in *Inode) Unlock() {
	in.mu.Unlock()
}

// Kind returns the file kind of in. The type bits of an inode never change,
// so no lock is required.
func (in *Inode) Kind() Kind {
	return KindOf(in.Attrs.Mode)
}

// ReadRefs returns the current number of references on in.
func (in *Inode) ReadRefs() int64 {
	return in.refs.ReadRefs()
}

// IncOpen records a new open file description of in.
func (in *Inode) IncOpen() {
	in.opens.Add(1)
}

// DecOpen records that an open file description of in was closed.
func (in *Inode) DecOpen() {
	if in.opens.Add(-1) < 0 {
		panic("Inode.DecOpen without matching IncOpen")
	}
}

// Opens returns the number of open file descriptions of in.
func (in *Inode) Opens() int32 {
	return in.opens.Load()
}

// Dirent is a directory entry as returned by FilesystemImpl.ReadDir.
type Dirent struct {
	// Name is the name of the entry.
	Name string

	// Ino is the inode number the entry refers to.
	Ino uint32

	// Type is a DT_* value, or DT_UNKNOWN if the filesystem does not record
	// file types in directory entries.
	Type uint8

	// NextOff is the directory offset of the following entry.
	NextOff int64
}

// DirentSize is the number of bytes a directory entry with the given name
// consumes from a ReadDir budget.
func DirentSize(name string) int {
	return len(name) + 9
}
