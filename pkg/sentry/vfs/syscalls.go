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
	"errors"
	"io"

	"posnk.dev/posnk/pkg/abi/linux"
	"posnk.dev/posnk/pkg/errors/linuxerr"
	"posnk.dev/posnk/pkg/sentry/kernel/auth"
	"posnk.dev/posnk/pkg/sentry/kernel/pipe"
)

// padChunk is the largest zero buffer written at once when a write past end
// of file pads the gap.
const padChunk = 64 << 10

// pipeLocked returns the pipe backing the FIFO in, creating it on first use.
//
// Preconditions: in.mu must be locked. in is a FIFO.
func (in *Inode) pipeLocked() *pipe.Pipe {
	if in.fifo == nil {
		in.fifo = pipe.NewPipe(true, pipe.DefaultPipeSize, pipe.AtomicIOBytes)
	}
	return in.fifo
}

// Read reads up to len(dst) bytes at offset off from the file d refers to.
// Reads of regular files stop at end of file. Reads of FIFOs and character
// devices may block unless nonblock is set.
//
// Callers are expected to have checked access when the file was opened; a
// caller without read permission gets EBADF.
func (vfs *VirtualFilesystem) Read(ctx context.Context, d *Dentry, off int64, dst []byte, nonblock bool) (int, error) {
	in := d.inode
	creds := auth.CredentialsFromContext(ctx)
	in.mu.Lock()
	if err := in.checkPermissions(creds, MayRead); err != nil {
		in.mu.Unlock()
		return 0, linuxerr.EBADF
	}
	return vfs.readLocked(ctx, in, off, dst, nonblock)
}

// readLocked dispatches a read on in according to its kind. It unlocks in.mu,
// before blocking if the read can block.
//
// Preconditions: in.mu must be locked.
func (vfs *VirtualFilesystem) readLocked(ctx context.Context, in *Inode, off int64, dst []byte, nonblock bool) (int, error) {
	switch in.Kind() {
	case KindRegular:
		defer in.mu.Unlock()
		if off < 0 {
			return 0, linuxerr.EINVAL
		}
		if off >= in.Attrs.Size || len(dst) == 0 {
			return 0, nil
		}
		if rem := in.Attrs.Size - off; int64(len(dst)) > rem {
			dst = dst[:rem]
		}
		n, err := in.fs.impl.Read(ctx, in, off, dst)
		if n > 0 {
			in.Attrs.Atime = vfs.now()
		}
		return n, err

	case KindDirectory:
		in.mu.Unlock()
		return 0, linuxerr.EISDIR

	case KindFIFO:
		p := in.pipeLocked()
		in.mu.Unlock()
		return p.Read(ctx, dst, nonblock)

	case KindCharDevice:
		rdev := in.Attrs.Rdev
		in.mu.Unlock()
		dev, err := vfs.devices.Char(rdev)
		if err != nil {
			return 0, err
		}
		return dev.Read(ctx, off, dst, nonblock)

	case KindBlockDevice:
		rdev := in.Attrs.Rdev
		in.mu.Unlock()
		dev, err := vfs.devices.Block(rdev)
		if err != nil {
			return 0, err
		}
		n, err := dev.ReadAt(dst, off)
		if errors.Is(err, io.EOF) {
			err = nil
		}
		return n, err

	default:
		in.mu.Unlock()
		return 0, linuxerr.EINVAL
	}
}

// Write writes src at offset off to the file d refers to. A write to a
// regular file that starts past end of file first fills the gap with zeros.
// The size and modification time only change if bytes were written.
//
// A caller without write permission gets EBADF.
func (vfs *VirtualFilesystem) Write(ctx context.Context, d *Dentry, off int64, src []byte, nonblock bool) (int, error) {
	in := d.inode
	creds := auth.CredentialsFromContext(ctx)
	in.mu.Lock()
	if err := in.checkPermissions(creds, MayWrite); err != nil {
		in.mu.Unlock()
		return 0, linuxerr.EBADF
	}
	return vfs.writeLocked(ctx, in, off, src, nonblock)
}

// writeLocked is the write analogue of readLocked.
//
// Preconditions: in.mu must be locked.
func (vfs *VirtualFilesystem) writeLocked(ctx context.Context, in *Inode, off int64, src []byte, nonblock bool) (int, error) {
	switch in.Kind() {
	case KindRegular:
		defer in.mu.Unlock()
		if off < 0 {
			return 0, linuxerr.EINVAL
		}
		if len(src) == 0 {
			return 0, nil
		}
		if err := vfs.padLocked(ctx, in, off); err != nil {
			return 0, err
		}
		n, err := in.fs.impl.Write(ctx, in, off, src)
		if n > 0 {
			now := vfs.now()
			in.Attrs.Mtime = now
			in.Attrs.Ctime = now
			if end := off + int64(n); end > in.Attrs.Size {
				in.Attrs.Size = end
			}
			if serr := in.fs.impl.StoreInode(ctx, in); serr != nil && err == nil {
				err = serr
			}
		}
		return n, err

	case KindDirectory:
		in.mu.Unlock()
		return 0, linuxerr.EISDIR

	case KindFIFO:
		p := in.pipeLocked()
		in.mu.Unlock()
		return p.Write(ctx, src, nonblock)

	case KindCharDevice:
		rdev := in.Attrs.Rdev
		in.mu.Unlock()
		dev, err := vfs.devices.Char(rdev)
		if err != nil {
			return 0, err
		}
		return dev.Write(ctx, off, src, nonblock)

	case KindBlockDevice:
		rdev := in.Attrs.Rdev
		in.mu.Unlock()
		dev, err := vfs.devices.Block(rdev)
		if err != nil {
			return 0, err
		}
		return dev.WriteAt(src, off)

	default:
		in.mu.Unlock()
		return 0, linuxerr.EINVAL
	}
}

// padLocked zero-fills the regular file in from its end up to off.
//
// Preconditions: in.mu must be locked.
func (vfs *VirtualFilesystem) padLocked(ctx context.Context, in *Inode, off int64) error {
	if off <= in.Attrs.Size {
		return nil
	}
	zeros := make([]byte, min(off-in.Attrs.Size, padChunk))
	for in.Attrs.Size < off {
		chunk := zeros[:min(off-in.Attrs.Size, int64(len(zeros)))]
		n, err := in.fs.impl.Write(ctx, in, in.Attrs.Size, chunk)
		if n > 0 {
			in.Attrs.Size += int64(n)
			in.Attrs.Mtime = vfs.now()
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Truncate sets the size of the regular file d refers to. Growing a file
// leaves a hole that reads as zeros.
func (vfs *VirtualFilesystem) Truncate(ctx context.Context, d *Dentry, size int64) error {
	in := d.inode
	creds := auth.CredentialsFromContext(ctx)
	in.mu.Lock()
	defer in.mu.Unlock()
	if err := in.checkPermissions(creds, MayWrite); err != nil {
		return err
	}
	switch in.Kind() {
	case KindRegular:
		if size < 0 {
			return linuxerr.EINVAL
		}
		if err := in.fs.impl.Truncate(ctx, in, size); err != nil {
			return err
		}
		now := vfs.now()
		in.Attrs.Mtime = now
		in.Attrs.Ctime = now
		in.Attrs.Size = size
		return nil
	case KindDirectory:
		return linuxerr.EISDIR
	default:
		return linuxerr.EINVAL
	}
}

// Getdents returns the entries of the directory d refers to starting at
// offset off, consuming at most count bytes as measured by DirentSize, and
// the offset to continue from. An empty result marks the end of the
// directory.
func (vfs *VirtualFilesystem) Getdents(ctx context.Context, d *Dentry, off int64, count int) ([]Dirent, int64, error) {
	in := d.inode
	creds := auth.CredentialsFromContext(ctx)
	in.mu.Lock()
	defer in.mu.Unlock()
	if err := in.checkPermissions(creds, MayRead); err != nil {
		return nil, off, linuxerr.EBADF
	}
	return vfs.getdentsLocked(ctx, in, off, count)
}

// Preconditions: in.mu must be locked.
func (vfs *VirtualFilesystem) getdentsLocked(ctx context.Context, in *Inode, off int64, count int) ([]Dirent, int64, error) {
	if in.Kind() != KindDirectory {
		return nil, off, linuxerr.ENOTDIR
	}
	if off >= in.Attrs.Size {
		return nil, off, nil
	}
	dirents, next, err := in.fs.impl.ReadDir(ctx, in, off, count)
	if len(dirents) > 0 {
		in.Attrs.Atime = vfs.now()
	}
	return dirents, next, err
}

// Statx holds the attributes of a file, as returned by Stat.
type Statx struct {
	Dev    uint32
	Ino    uint32
	Mode   linux.FileMode
	Links  uint32
	UID    auth.KUID
	GID    auth.KGID
	Rdev   uint32
	Size   int64
	Blocks uint64
	Atime  int64
	Mtime  int64
	Ctime  int64
}

// Statfs holds filesystem statistics, as returned by VirtualFilesystem.Statfs.
type Statfs = linux.Statfs

// Stat returns the attributes of the file d refers to.
func (d *Dentry) Stat() Statx {
	in := d.inode
	in.mu.Lock()
	defer in.mu.Unlock()
	return Statx{
		Dev:    in.Dev(),
		Ino:    in.ino,
		Mode:   in.Attrs.Mode,
		Links:  in.Attrs.Links,
		UID:    in.Attrs.UID,
		GID:    in.Attrs.GID,
		Rdev:   in.Attrs.Rdev,
		Size:   in.Attrs.Size,
		Blocks: in.Attrs.Blocks,
		Atime:  in.Attrs.Atime,
		Mtime:  in.Attrs.Mtime,
		Ctime:  in.Attrs.Ctime,
	}
}

// Stat returns the attributes of the file at path, following a final
// symbolic link.
func (vfs *VirtualFilesystem) Stat(ctx context.Context, path string) (Statx, error) {
	return vfs.stat(ctx, path, 0)
}

// Lstat is Stat without following a final symbolic link.
func (vfs *VirtualFilesystem) Lstat(ctx context.Context, path string) (Statx, error) {
	return vfs.stat(ctx, path, ResolveNoFollow)
}

func (vfs *VirtualFilesystem) stat(ctx context.Context, path string, flags ResolveFlags) (Statx, error) {
	d, err := vfs.resolve(ctx, path, flags)
	if err != nil {
		return Statx{}, err
	}
	defer d.DecRef(ctx)
	return d.Stat(), nil
}

// Statfs returns statistics of the filesystem holding the file at path.
func (vfs *VirtualFilesystem) Statfs(ctx context.Context, path string) (Statfs, error) {
	d, err := vfs.resolve(ctx, path, 0)
	if err != nil {
		return Statfs{}, err
	}
	defer d.DecRef(ctx)
	return d.inode.fs.impl.Statfs(ctx)
}
