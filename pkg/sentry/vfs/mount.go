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

	"posnk.dev/posnk/pkg/errors/linuxerr"
	"posnk.dev/posnk/pkg/log"
	"posnk.dev/posnk/pkg/sentry/devices"
	"posnk.dev/posnk/pkg/sentry/kernel/auth"
)

// A Mount is a replacement of a directory by the root of a Filesystem.
//
// A Mount holds references on the root of its filesystem and on the
// directory it covers.
type Mount struct {
	// fs, root and point are immutable.
	fs   *Filesystem
	root *Inode

	// point is the directory the filesystem is mounted on, or nil for the
	// root mount.
	point *Inode
}

// Filesystem returns the filesystem mounted by mnt.
func (mnt *Mount) Filesystem() *Filesystem {
	return mnt.fs
}

// RegisterFilesystemType makes fsType available to Mount under its name.
func (vfs *VirtualFilesystem) RegisterFilesystemType(fsType FilesystemType) error {
	vfs.fsTypesMu.Lock()
	defer vfs.fsTypesMu.Unlock()
	name := fsType.Name()
	if _, ok := vfs.fsTypes[name]; ok {
		return linuxerr.EEXIST
	}
	vfs.fsTypes[name] = fsType
	return nil
}

func (vfs *VirtualFilesystem) getFilesystemType(name string) (FilesystemType, error) {
	vfs.fsTypesMu.RLock()
	defer vfs.fsTypesMu.RUnlock()
	fsType, ok := vfs.fsTypes[name]
	if !ok {
		return nil, linuxerr.ENODEV
	}
	return fsType, nil
}

// newFilesystem instantiates a filesystem of type fsTypeName on source and
// returns it along with its root directory, referenced.
func (vfs *VirtualFilesystem) newFilesystem(ctx context.Context, fsTypeName string, source devices.BlockDevice, devID uint32, opts GetFilesystemOptions) (*Filesystem, *Inode, error) {
	fsType, err := vfs.getFilesystemType(fsTypeName)
	if err != nil {
		return nil, nil, err
	}
	impl, err := fsType.GetFilesystem(ctx, source, opts)
	if err != nil {
		return nil, nil, err
	}
	fs := &Filesystem{
		vfs:      vfs,
		impl:     impl,
		fsType:   fsType,
		devID:    devID,
		readOnly: opts.ReadOnly,
	}
	root, err := vfs.inodes.Get(ctx, fs, impl.Root())
	if err == nil && root.Kind() != KindDirectory {
		vfs.inodes.Release(ctx, root)
		err = linuxerr.ENOTDIR
	}
	if err != nil {
		vfs.inodes.evictFilesystem(fs)
		impl.Release(ctx)
		return nil, nil, err
	}
	return fs, root, nil
}

// MountRoot mounts a filesystem stored on source as the root of the mount
// tree. The filesystem is assigned an anonymous device number.
func (vfs *VirtualFilesystem) MountRoot(ctx context.Context, fsTypeName string, source devices.BlockDevice, opts GetFilesystemOptions) error {
	vfs.mountMu.Lock()
	defer vfs.mountMu.Unlock()
	if vfs.root != nil {
		return linuxerr.EBUSY
	}
	id := vfs.devices.NewAnonID()
	fs, root, err := vfs.newFilesystem(ctx, fsTypeName, source, id.DeviceID(), opts)
	if err != nil {
		return err
	}
	vfs.inodes.IncRef(root)
	vfs.mounts[root] = &Mount{fs: fs, root: root}
	vfs.root = vfs.NewRootDentry(root)
	log.Infof("Mounted %s root filesystem on device %v", fsTypeName, id)
	return nil
}

// Mount mounts the filesystem of type fsTypeName stored on the block device
// node at source over the directory at target.
func (vfs *VirtualFilesystem) Mount(ctx context.Context, source, target, fsTypeName string, opts GetFilesystemOptions) error {
	if !auth.CredentialsFromContext(ctx).HasCapability(auth.CAP_SYS_ADMIN) {
		return linuxerr.EPERM
	}
	src, err := vfs.resolve(ctx, source, 0)
	if err != nil {
		return err
	}
	defer src.DecRef(ctx)
	if src.inode.Kind() != KindBlockDevice {
		return linuxerr.ENOTBLK
	}
	src.inode.mu.Lock()
	rdev := src.inode.Attrs.Rdev
	src.inode.mu.Unlock()
	dev, err := vfs.devices.Block(rdev)
	if err != nil {
		return err
	}

	tgt, err := vfs.resolve(ctx, target, ResolveDirectory)
	if err != nil {
		return err
	}
	defer tgt.DecRef(ctx)

	vfs.mountMu.Lock()
	defer vfs.mountMu.Unlock()
	if _, ok := vfs.mounts[tgt.inode]; ok {
		return linuxerr.EBUSY
	}
	for _, m := range vfs.mounts {
		if m.fs.devID == rdev {
			return linuxerr.EBUSY
		}
	}
	fs, root, err := vfs.newFilesystem(ctx, fsTypeName, dev, rdev, opts)
	if err != nil {
		return err
	}
	vfs.inodes.IncRef(src.inode)
	fs.source = src.inode
	vfs.inodes.IncRef(tgt.inode)
	m := &Mount{fs: fs, root: root, point: tgt.inode}
	tgt.inode.mounted = m
	vfs.mounts[root] = m
	log.Infof("Mounted %s filesystem from %s on %s", fsTypeName, source, target)
	return nil
}

// Unmount detaches the filesystem whose root is at target. It fails with
// EBUSY while any inode of the filesystem other than its root is referenced.
func (vfs *VirtualFilesystem) Unmount(ctx context.Context, target string) error {
	if !auth.CredentialsFromContext(ctx).HasCapability(auth.CAP_SYS_ADMIN) {
		return linuxerr.EPERM
	}
	tgt, err := vfs.resolve(ctx, target, 0)
	if err != nil {
		return err
	}

	vfs.mountMu.Lock()
	defer vfs.mountMu.Unlock()
	m, ok := vfs.mounts[tgt.inode]
	tgt.DecRef(ctx)
	if !ok {
		return linuxerr.EINVAL
	}
	if m.point == nil {
		return linuxerr.EBUSY
	}
	// The only reference left should be the mount's own.
	if n := vfs.inodes.references(m.fs); n > 1 {
		log.Debugf("Unmount of %s refused: %d references on filesystem inodes", target, n)
		return linuxerr.EBUSY
	}

	err = vfs.detachLocked(ctx, m)
	log.Infof("Unmounted %s", target)
	return err
}

// detachLocked removes m from the mount tree, writes its filesystem back and
// releases it. vfs.mountMu must be locked.
func (vfs *VirtualFilesystem) detachLocked(ctx context.Context, m *Mount) error {
	delete(vfs.mounts, m.root)
	var firstErr error
	if err := vfs.inodes.Release(ctx, m.root); err != nil {
		firstErr = err
	}
	if m.point != nil {
		m.point.mounted = nil
		vfs.inodes.Release(ctx, m.point)
	}
	if err := m.fs.impl.Sync(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	vfs.inodes.evictFilesystem(m.fs)
	if err := m.fs.impl.Release(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	if m.fs.source != nil {
		vfs.inodes.Release(ctx, m.fs.source)
	}
	return firstErr
}

// Shutdown detaches every mounted filesystem, innermost first, and finally
// the root. The caller must have released every Dentry and FileDescription
// it holds. vfs cannot be used afterwards.
func (vfs *VirtualFilesystem) Shutdown(ctx context.Context) error {
	vfs.mountMu.Lock()
	defer vfs.mountMu.Unlock()
	var firstErr error
	for len(vfs.mounts) > 0 {
		var leaf *Mount
		for _, m := range vfs.mounts {
			if m.point != nil && !vfs.hasSubmountsLocked(m) {
				leaf = m
				break
			}
		}
		if leaf == nil {
			break
		}
		if err := vfs.detachLocked(ctx, leaf); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if vfs.root == nil {
		return firstErr
	}
	root := vfs.root.inode
	m := vfs.mounts[root]
	// The root Dentry and the mount each hold a reference on root. Dropping
	// the Dentry's leaves the mount's for detachLocked.
	vfs.root.DecRef(ctx)
	vfs.root = nil
	if m != nil {
		if err := vfs.detachLocked(ctx, m); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	log.Infof("Virtual filesystem shut down")
	return firstErr
}

func (vfs *VirtualFilesystem) hasSubmountsLocked(m *Mount) bool {
	for _, other := range vfs.mounts {
		if other.point != nil && other.point.fs == m.fs {
			return true
		}
	}
	return false
}
