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
	"strings"
	"sync"

	"posnk.dev/posnk/pkg/abi/linux"
	"posnk.dev/posnk/pkg/errors/linuxerr"
	"posnk.dev/posnk/pkg/sentry/kernel/auth"
	"posnk.dev/posnk/pkg/sentry/kernel/pipe"
)

// A FileDescription represents an open file. It holds a reference on the
// Dentry it was opened through, and counts as an open of its inode until it
// is closed.
//
// FileDescription is analogous to Linux's struct file.
type FileDescription struct {
	vfs *VirtualFilesystem

	// d and flags are immutable.
	d     *Dentry
	flags uint32

	// fifo is the pipe end opened for a named pipe, or nil.
	fifo      *pipe.Pipe
	fifoFlags pipe.OpenFlags

	// mu serializes I/O that uses or moves off.
	mu  sync.Mutex
	off int64
}

// Open opens the file at path.
func (vfs *VirtualFilesystem) Open(ctx context.Context, path string, opts OpenOptions) (*FileDescription, error) {
	flags := opts.Flags
	var rflags ResolveFlags
	if flags&linux.O_NOFOLLOW != 0 {
		rflags |= ResolveNoFollow
	}

	var (
		d       *Dentry
		err     error
		created bool
	)
	if flags&linux.O_CREAT != 0 {
		if strings.HasSuffix(path, "/") {
			return nil, linuxerr.EISDIR
		}
		mode := linux.ModeRegular | (opts.Mode&(linux.PermissionsMask|linux.ModeSetUID|linux.ModeSetGID|linux.ModeSticky))&^umask(ctx)
		d, err = vfs.create(ctx, path, mode, 0, nil)
		switch {
		case err == nil:
			created = true
		case linuxerr.Equals(linuxerr.EEXIST, err) && flags&linux.O_EXCL == 0:
			d, err = vfs.resolve(ctx, path, rflags)
		}
	} else {
		d, err = vfs.resolve(ctx, path, rflags)
	}
	if err != nil {
		return nil, err
	}

	fd, err := vfs.openDentry(ctx, d, flags, created)
	if err != nil {
		d.DecRef(ctx)
		return nil, err
	}
	return fd, nil
}

// openDentry opens the file d refers to. On success the FileDescription owns
// the caller's reference on d.
func (vfs *VirtualFilesystem) openDentry(ctx context.Context, d *Dentry, flags uint32, created bool) (*FileDescription, error) {
	in := d.inode
	switch in.Kind() {
	case KindSymlink:
		return nil, linuxerr.ELOOP
	case KindDirectory:
		if writable(flags) || flags&linux.O_TRUNC != 0 {
			return nil, linuxerr.EISDIR
		}
	default:
		if flags&linux.O_DIRECTORY != 0 {
			return nil, linuxerr.ENOTDIR
		}
	}
	if !created {
		in.mu.Lock()
		err := in.checkPermissions(auth.CredentialsFromContext(ctx), openAccess(flags))
		in.mu.Unlock()
		if err != nil {
			return nil, err
		}
		if flags&linux.O_TRUNC != 0 && in.Kind() == KindRegular {
			if err := vfs.Truncate(ctx, d, 0); err != nil {
				return nil, err
			}
		}
	}

	fd := &FileDescription{vfs: vfs, d: d, flags: flags}
	if in.Kind() == KindFIFO {
		in.mu.Lock()
		p := in.pipeLocked()
		in.mu.Unlock()
		pf := pipe.OpenFlags{
			Read:        readable(flags),
			Write:       writable(flags),
			NonBlocking: flags&linux.O_NONBLOCK != 0,
		}
		if err := p.Open(ctx, pf); err != nil {
			return nil, err
		}
		fd.fifo, fd.fifoFlags = p, pf
	}
	in.IncOpen()
	return fd, nil
}

// Dentry returns the Dentry fd was opened through. It remains valid until fd
// is closed.
func (fd *FileDescription) Dentry() *Dentry {
	return fd.d
}

// Flags returns the flags fd was opened with.
func (fd *FileDescription) Flags() uint32 {
	return fd.flags
}

func (fd *FileDescription) nonblock() bool {
	return fd.flags&linux.O_NONBLOCK != 0
}

// Read reads from fd at its offset and advances it.
func (fd *FileDescription) Read(ctx context.Context, dst []byte) (int, error) {
	if !readable(fd.flags) {
		return 0, linuxerr.EBADF
	}
	fd.mu.Lock()
	defer fd.mu.Unlock()
	in := fd.d.inode
	in.mu.Lock()
	n, err := fd.vfs.readLocked(ctx, in, fd.off, dst, fd.nonblock())
	fd.off += int64(n)
	return n, err
}

// PRead reads from fd at offset off without moving fd's offset.
func (fd *FileDescription) PRead(ctx context.Context, dst []byte, off int64) (int, error) {
	if !readable(fd.flags) {
		return 0, linuxerr.EBADF
	}
	if fd.fifo != nil {
		return 0, linuxerr.ESPIPE
	}
	if off < 0 {
		return 0, linuxerr.EINVAL
	}
	in := fd.d.inode
	in.mu.Lock()
	return fd.vfs.readLocked(ctx, in, off, dst, fd.nonblock())
}

// Write writes to fd at its offset, or at end of file if fd was opened with
// O_APPEND, and advances the offset.
func (fd *FileDescription) Write(ctx context.Context, src []byte) (int, error) {
	if !writable(fd.flags) {
		return 0, linuxerr.EBADF
	}
	fd.mu.Lock()
	defer fd.mu.Unlock()
	in := fd.d.inode
	in.mu.Lock()
	if fd.flags&linux.O_APPEND != 0 && in.Kind() == KindRegular {
		fd.off = in.Attrs.Size
	}
	n, err := fd.vfs.writeLocked(ctx, in, fd.off, src, fd.nonblock())
	fd.off += int64(n)
	return n, err
}

// PWrite writes to fd at offset off without moving fd's offset.
func (fd *FileDescription) PWrite(ctx context.Context, src []byte, off int64) (int, error) {
	if !writable(fd.flags) {
		return 0, linuxerr.EBADF
	}
	if fd.fifo != nil {
		return 0, linuxerr.ESPIPE
	}
	if off < 0 {
		return 0, linuxerr.EINVAL
	}
	in := fd.d.inode
	in.mu.Lock()
	return fd.vfs.writeLocked(ctx, in, off, src, fd.nonblock())
}

// Seek moves fd's offset as lseek(2) does.
func (fd *FileDescription) Seek(ctx context.Context, offset int64, whence int32) (int64, error) {
	if fd.fifo != nil {
		return 0, linuxerr.ESPIPE
	}
	fd.mu.Lock()
	defer fd.mu.Unlock()
	var base int64
	switch whence {
	case linux.SEEK_SET:
	case linux.SEEK_CUR:
		base = fd.off
	case linux.SEEK_END:
		in := fd.d.inode
		in.mu.Lock()
		base = in.Attrs.Size
		in.mu.Unlock()
	default:
		return 0, linuxerr.EINVAL
	}
	off := base + offset
	if off < 0 {
		return 0, linuxerr.EINVAL
	}
	fd.off = off
	return off, nil
}

// Getdents returns the next entries of the directory fd refers to, consuming
// at most count bytes as measured by DirentSize. An empty result marks the
// end of the directory.
func (fd *FileDescription) Getdents(ctx context.Context, count int) ([]Dirent, error) {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	in := fd.d.inode
	in.mu.Lock()
	defer in.mu.Unlock()
	dirents, next, err := fd.vfs.getdentsLocked(ctx, in, fd.off, count)
	if err != nil {
		return nil, err
	}
	fd.off = next
	return dirents, nil
}

// Truncate sets the size of the file fd refers to.
func (fd *FileDescription) Truncate(ctx context.Context, size int64) error {
	if !writable(fd.flags) {
		return linuxerr.EINVAL
	}
	return fd.vfs.Truncate(ctx, fd.d, size)
}

// Chmod is VirtualFilesystem.Chmod for the file fd refers to.
func (fd *FileDescription) Chmod(ctx context.Context, mode linux.FileMode) error {
	return fd.vfs.chmod(ctx, fd.d.inode, mode)
}

// Chown is VirtualFilesystem.Chown for the file fd refers to.
func (fd *FileDescription) Chown(ctx context.Context, uid auth.KUID, gid auth.KGID) error {
	return fd.vfs.chown(ctx, fd.d.inode, uid, gid)
}

// Stat returns the attributes of the file fd refers to.
func (fd *FileDescription) Stat() Statx {
	return fd.d.Stat()
}

// Close releases fd. If fd held the last reference on an inode without
// links, the inode is freed.
func (fd *FileDescription) Close(ctx context.Context) {
	if fd.fifo != nil {
		fd.fifo.Close(fd.fifoFlags)
	}
	fd.d.inode.DecOpen()
	fd.d.DecRef(ctx)
}
