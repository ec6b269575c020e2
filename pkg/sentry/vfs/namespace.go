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
	"math"

	"golang.org/x/sys/unix"
	"posnk.dev/posnk/pkg/abi/linux"
	"posnk.dev/posnk/pkg/errors"
	"posnk.dev/posnk/pkg/errors/linuxerr"
	"posnk.dev/posnk/pkg/fspath"
	"posnk.dev/posnk/pkg/log"
	"posnk.dev/posnk/pkg/sentry/kernel/auth"
)

// umask returns the file mode creation mask of the task ctx belongs to.
func umask(ctx context.Context) linux.FileMode {
	if fsc := FSContextFromContext(ctx); fsc != nil {
		return fsc.Umask()
	}
	return 0
}

// create makes a new inode with the given mode and links it into its parent
// directory under the final component of path. If init is not nil, it runs
// on the new inode before the inode becomes reachable. create returns a
// Dentry for the new file.
func (vfs *VirtualFilesystem) create(ctx context.Context, path string, mode linux.FileMode, rdev uint32, init func(dir, in *Inode) error) (*Dentry, error) {
	creds := auth.CredentialsFromContext(ctx)
	parent, name, mustBeDir, err := vfs.resolveParent(ctx, path)
	if err != nil {
		return nil, err
	}
	defer parent.DecRef(ctx)
	if name == "." || name == ".." {
		return nil, linuxerr.EEXIST
	}
	if err := fspath.CheckComponent(name); err != nil {
		return nil, err
	}

	dir := parent.inode
	dir.mu.Lock()
	defer dir.mu.Unlock()
	if err := dir.checkPermissions(creds, MayWrite|MayExec); err != nil {
		return nil, err
	}
	if dir.Attrs.Links == 0 {
		// dir was removed after it was resolved.
		return nil, linuxerr.ENOENT
	}
	if _, err := dir.fs.impl.Lookup(ctx, dir, name); err == nil {
		return nil, linuxerr.EEXIST
	} else if !linuxerr.Equals(linuxerr.ENOENT, err) {
		return nil, err
	}
	isDir := KindOf(mode) == KindDirectory
	if mustBeDir && !isDir {
		return nil, linuxerr.ENOENT
	}
	if isDir && dir.Attrs.Links >= math.MaxUint16 {
		return nil, linuxerr.EMLINK
	}

	now := vfs.now()
	in := NewInode(dir.fs, 0)
	in.Attrs = InodeAttrs{
		Mode:  mode,
		UID:   creds.EffectiveKUID,
		GID:   creds.EffectiveKGID,
		Links: 1,
		Rdev:  rdev,
		Atime: now,
		Mtime: now,
		Ctime: now,
	}
	if err := dir.fs.impl.Mknod(ctx, dir, in); err != nil {
		return nil, err
	}
	if init != nil {
		if err := init(dir, in); err != nil {
			vfs.discard(ctx, in)
			return nil, err
		}
	}
	if err := dir.fs.impl.Link(ctx, dir, name, in); err != nil {
		if isDir {
			in.fs.impl.Rmdir(ctx, in)
		}
		vfs.discard(ctx, in)
		return nil, err
	}
	if err := in.fs.impl.StoreInode(ctx, in); err != nil {
		log.Warningf("Storing new inode %v: %v", keyOf(in), err)
	}
	if isDir {
		dir.Attrs.Links++
	}
	dir.Attrs.Mtime = now
	dir.Attrs.Ctime = now
	if err := dir.fs.impl.StoreInode(ctx, dir); err != nil {
		log.Warningf("Storing directory inode %v: %v", keyOf(dir), err)
	}
	vfs.inodes.Put(in)
	return newDentry(parent, name, in), nil
}

// discard frees an inode that was never linked into a directory.
func (vfs *VirtualFilesystem) discard(ctx context.Context, in *Inode) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.Attrs.Links = 0
	if err := in.fs.impl.Rmnod(ctx, in); err != nil {
		log.Warningf("Freeing inode %v: %v", keyOf(in), err)
	}
}

// Mknod creates a file of the type and permissions given by mode at path.
// rdev is the device number of character and block device nodes. A mode
// without a file type creates a regular file.
func (vfs *VirtualFilesystem) Mknod(ctx context.Context, path string, mode linux.FileMode, rdev uint32) error {
	if mode.FileType() == 0 {
		mode |= linux.ModeRegular
	}
	switch KindOf(mode) {
	case KindRegular, KindFIFO, KindSocket:
		rdev = 0
	case KindCharDevice, KindBlockDevice:
		if !auth.CredentialsFromContext(ctx).HasCapability(auth.CAP_MKNOD) {
			return linuxerr.EPERM
		}
	case KindDirectory:
		return linuxerr.EPERM
	case KindSymlink:
		return linuxerr.EINVAL
	}
	mode = mode.FileType() | (mode.Permissions()|mode.ExtraBits())&^umask(ctx)
	d, err := vfs.create(ctx, path, mode, rdev, nil)
	if err != nil {
		return err
	}
	d.DecRef(ctx)
	return nil
}

// Mkdir creates a directory at path.
func (vfs *VirtualFilesystem) Mkdir(ctx context.Context, path string, mode linux.FileMode) error {
	mode = linux.ModeDirectory | (mode&(linux.PermissionsMask|linux.ModeSticky))&^umask(ctx)
	d, err := vfs.create(ctx, path, mode, 0, func(dir, in *Inode) error {
		impl := in.fs.impl
		in.Attrs.Links = 2
		if err := impl.Link(ctx, in, ".", in); err != nil {
			return err
		}
		if err := impl.Link(ctx, in, "..", dir); err != nil {
			return err
		}
		return impl.Mkdir(ctx, in)
	})
	if err != nil {
		return err
	}
	d.DecRef(ctx)
	return nil
}

// Symlink creates a symbolic link at path pointing to target.
func (vfs *VirtualFilesystem) Symlink(ctx context.Context, target, path string) error {
	if err := fspath.CheckPathname(target); err != nil {
		return err
	}
	d, err := vfs.create(ctx, path, linux.ModeSymlink|0777, 0, func(_, in *Inode) error {
		n, err := in.fs.impl.Write(ctx, in, 0, []byte(target))
		in.Attrs.Size = int64(n)
		if err != nil {
			return err
		}
		return in.fs.impl.StoreInode(ctx, in)
	})
	if err != nil {
		return err
	}
	d.DecRef(ctx)
	return nil
}

// Readlink returns the target of the symbolic link at path.
func (vfs *VirtualFilesystem) Readlink(ctx context.Context, path string) (string, error) {
	d, err := vfs.resolve(ctx, path, ResolveNoFollow)
	if err != nil {
		return "", err
	}
	defer d.DecRef(ctx)
	if d.inode.Kind() != KindSymlink {
		return "", linuxerr.EINVAL
	}
	return vfs.readlink(ctx, d.inode)
}

// readlink reads the target of the symbolic link in.
func (vfs *VirtualFilesystem) readlink(ctx context.Context, in *Inode) (string, error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.Attrs.Size >= linux.PATH_MAX {
		return "", linuxerr.ENAMETOOLONG
	}
	buf := make([]byte, in.Attrs.Size)
	n, err := in.fs.impl.Read(ctx, in, 0, buf)
	if err != nil {
		return "", err
	}
	in.Attrs.Atime = vfs.now()
	return string(buf[:n]), nil
}

// Link creates a new link at newpath to the file at oldpath. A symbolic link
// at oldpath is not followed.
func (vfs *VirtualFilesystem) Link(ctx context.Context, oldpath, newpath string) error {
	creds := auth.CredentialsFromContext(ctx)
	old, err := vfs.resolve(ctx, oldpath, ResolveNoFollow)
	if err != nil {
		return err
	}
	defer old.DecRef(ctx)
	in := old.inode
	if in.Kind() == KindDirectory {
		return linuxerr.EPERM
	}

	parent, name, mustBeDir, err := vfs.resolveParent(ctx, newpath)
	if err != nil {
		return err
	}
	defer parent.DecRef(ctx)
	if name == "." || name == ".." {
		return linuxerr.EEXIST
	}
	if err := fspath.CheckComponent(name); err != nil {
		return err
	}
	dir := parent.inode
	if dir.fs != in.fs {
		return linuxerr.EXDEV
	}

	in.mu.Lock()
	defer in.mu.Unlock()
	dir.mu.Lock()
	defer dir.mu.Unlock()
	if err := dir.checkPermissions(creds, MayWrite|MayExec); err != nil {
		return err
	}
	if dir.Attrs.Links == 0 || in.Attrs.Links == 0 {
		return linuxerr.ENOENT
	}
	if in.Attrs.Links >= math.MaxUint16 {
		return linuxerr.EMLINK
	}
	if _, err := dir.fs.impl.Lookup(ctx, dir, name); err == nil {
		return linuxerr.EEXIST
	} else if !linuxerr.Equals(linuxerr.ENOENT, err) {
		return err
	}
	if mustBeDir {
		return linuxerr.ENOENT
	}
	if err := dir.fs.impl.Link(ctx, dir, name, in); err != nil {
		return err
	}
	now := vfs.now()
	in.Attrs.Links++
	in.Attrs.Ctime = now
	dir.Attrs.Mtime = now
	dir.Attrs.Ctime = now
	if err := dir.fs.impl.StoreInode(ctx, dir); err != nil {
		return err
	}
	return in.fs.impl.StoreInode(ctx, in)
}

// lookupChild returns the inode called name in dir, without following mounts.
func (vfs *VirtualFilesystem) lookupChild(ctx context.Context, dir *Inode, name string) (*Inode, error) {
	dir.mu.Lock()
	ino, err := dir.fs.impl.Lookup(ctx, dir, name)
	dir.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return vfs.inodes.Get(ctx, dir.fs, ino)
}

// revalidateLocked checks that name in dir still refers to in and that creds
// may remove it.
//
// Preconditions: in.mu and dir.mu must be locked.
func (vfs *VirtualFilesystem) revalidateLocked(ctx context.Context, creds *auth.Credentials, dir *Inode, name string, in *Inode) error {
	if err := dir.checkPermissions(creds, MayWrite|MayExec); err != nil {
		return err
	}
	if err := checkSticky(creds, dir, in); err != nil {
		return err
	}
	ino, err := dir.fs.impl.Lookup(ctx, dir, name)
	if err != nil {
		return err
	}
	if ino != in.ino {
		return errStale
	}
	return nil
}

// errStale is returned by revalidateLocked when a name was rebound between
// lookup and locking.
var errStale = errors.New(unix.EAGAIN, "directory entry changed")

// Unlink removes the link at path. The file itself is freed once it has no
// links left and is no longer referenced.
func (vfs *VirtualFilesystem) Unlink(ctx context.Context, path string) error {
	creds := auth.CredentialsFromContext(ctx)
	parent, name, mustBeDir, err := vfs.resolveParent(ctx, path)
	if err != nil {
		return err
	}
	defer parent.DecRef(ctx)
	if name == "." || name == ".." {
		return linuxerr.EISDIR
	}
	if err := fspath.CheckComponent(name); err != nil {
		return err
	}
	dir := parent.inode
	for {
		in, err := vfs.lookupChild(ctx, dir, name)
		if err != nil {
			return err
		}
		if in.Kind() == KindDirectory {
			vfs.inodes.Release(ctx, in)
			return linuxerr.EISDIR
		}
		if mustBeDir {
			vfs.inodes.Release(ctx, in)
			return linuxerr.ENOTDIR
		}
		in.mu.Lock()
		dir.mu.Lock()
		err = vfs.revalidateLocked(ctx, creds, dir, name, in)
		if err == nil {
			err = vfs.unlinkLocked(ctx, dir, name, in)
		}
		dir.mu.Unlock()
		in.mu.Unlock()
		if rerr := vfs.inodes.Release(ctx, in); rerr != nil && err == nil {
			err = rerr
		}
		if err != errStale {
			return err
		}
	}
}

// Preconditions: in.mu and dir.mu must be locked.
func (vfs *VirtualFilesystem) unlinkLocked(ctx context.Context, dir *Inode, name string, in *Inode) error {
	if err := dir.fs.impl.Unlink(ctx, dir, name); err != nil {
		return err
	}
	now := vfs.now()
	in.Attrs.Links--
	in.Attrs.Ctime = now
	dir.Attrs.Mtime = now
	dir.Attrs.Ctime = now
	if in.Attrs.Links == 0 && in.Opens() > 0 {
		log.Debugf("Inode %v unlinked while open, reclaiming on last close", keyOf(in))
	}
	if err := dir.fs.impl.StoreInode(ctx, dir); err != nil {
		return err
	}
	return in.fs.impl.StoreInode(ctx, in)
}

// Rmdir removes the empty directory at path.
func (vfs *VirtualFilesystem) Rmdir(ctx context.Context, path string) error {
	creds := auth.CredentialsFromContext(ctx)
	parent, name, _, err := vfs.resolveParent(ctx, path)
	if err != nil {
		return err
	}
	defer parent.DecRef(ctx)
	switch name {
	case ".":
		return linuxerr.EINVAL
	case "..":
		return linuxerr.ENOTEMPTY
	}
	if err := fspath.CheckComponent(name); err != nil {
		return err
	}
	dir := parent.inode
	for {
		in, err := vfs.lookupChild(ctx, dir, name)
		if err != nil {
			return err
		}
		err = vfs.rmdir(ctx, creds, dir, name, in)
		if rerr := vfs.inodes.Release(ctx, in); rerr != nil && err == nil {
			err = rerr
		}
		if err != errStale {
			return err
		}
	}
}

func (vfs *VirtualFilesystem) rmdir(ctx context.Context, creds *auth.Credentials, dir *Inode, name string, in *Inode) error {
	if in.Kind() != KindDirectory {
		return linuxerr.ENOTDIR
	}
	if vfs.isMountPoint(in) || vfs.isRootOf(ctx, in) {
		return linuxerr.EBUSY
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	dir.mu.Lock()
	defer dir.mu.Unlock()
	if err := vfs.revalidateLocked(ctx, creds, dir, name, in); err != nil {
		return err
	}
	if err := in.fs.impl.Rmdir(ctx, in); err != nil {
		return err
	}
	if err := dir.fs.impl.Unlink(ctx, dir, name); err != nil {
		if merr := in.fs.impl.Mkdir(ctx, in); merr != nil {
			log.Warningf("Restoring directory accounting of %v: %v", keyOf(in), merr)
		}
		return err
	}
	now := vfs.now()
	in.Attrs.Links = 0
	in.Attrs.Ctime = now
	dir.Attrs.Links--
	dir.Attrs.Mtime = now
	dir.Attrs.Ctime = now
	return dir.fs.impl.StoreInode(ctx, dir)
}

// isMountPoint returns true if a filesystem is mounted over in.
func (vfs *VirtualFilesystem) isMountPoint(in *Inode) bool {
	vfs.mountMu.RLock()
	defer vfs.mountMu.RUnlock()
	return in.mounted != nil
}

// isRootOf returns true if in is the root directory of the task ctx belongs
// to, or of the mount tree.
func (vfs *VirtualFilesystem) isRootOf(ctx context.Context, in *Inode) bool {
	if fsc := FSContextFromContext(ctx); fsc != nil {
		root := fsc.RootDirectory()
		defer root.DecRef(ctx)
		if root.inode == in {
			return true
		}
	}
	root := vfs.RootDentry()
	if root == nil {
		return false
	}
	defer root.DecRef(ctx)
	return root.inode == in
}
