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

// Package vfs implements the virtual filesystem layer: path resolution,
// inode caching, mounts, permission checks and dispatch of file operations
// to filesystem drivers, device drivers and pipes.
//
// Lock order:
//
//	VirtualFilesystem.mountMu
//	  Inode.mu (a child before its parent directory)
//	    InodeCache.mu
//	      Inode.mu of an unreferenced inode
package vfs

import (
	"context"
	"sync"
	"time"

	"posnk.dev/posnk/pkg/sentry/devices"
)

// A VirtualFilesystem (VFS for short) combines Filesystems in trees of Mounts.
//
// There is no analogue to the VirtualFilesystem type in Linux, as the
// equivalent state in Linux is global.
type VirtualFilesystem struct {
	opts Options

	// devices maps device numbers of device nodes to drivers.
	devices *devices.Registry

	// inodes holds the live inodes of every mounted filesystem.
	inodes *InodeCache

	fsTypesMu sync.RWMutex

	// fsTypes contains all registered FilesystemTypes. fsTypes is protected
	// by fsTypesMu.
	fsTypes map[string]FilesystemType

	// mountMu serializes mount and unmount and protects the fields below and
	// Inode.mounted.
	mountMu sync.RWMutex

	// root is the root of the mount tree, or nil before MountRoot.
	root *Dentry

	// mounts maps the root inode of every mounted filesystem to its Mount.
	mounts map[*Inode]*Mount
}

// New returns a VirtualFilesystem without any mounts. If devs is nil, an
// empty device registry is used.
func New(devs *devices.Registry, opts Options) *VirtualFilesystem {
	if devs == nil {
		devs = devices.NewRegistry()
	}
	return &VirtualFilesystem{
		opts:    opts,
		devices: devs,
		inodes:  NewInodeCache(opts.MaxUnusedInodes),
		fsTypes: make(map[string]FilesystemType),
		mounts:  make(map[*Inode]*Mount),
	}
}

// Devices returns the device registry of vfs.
func (vfs *VirtualFilesystem) Devices() *devices.Registry {
	return vfs.devices
}

// Inodes returns the inode cache of vfs.
func (vfs *VirtualFilesystem) Inodes() *InodeCache {
	return vfs.inodes
}

// RootDentry returns the root of the mount tree with a reference held, or nil
// if no root filesystem is mounted.
func (vfs *VirtualFilesystem) RootDentry() *Dentry {
	vfs.mountMu.RLock()
	defer vfs.mountMu.RUnlock()
	if vfs.root != nil {
		vfs.root.IncRef()
	}
	return vfs.root
}

// now returns the current time in seconds since the epoch.
func (vfs *VirtualFilesystem) now() int64 {
	if vfs.opts.Now != nil {
		return vfs.opts.Now().Unix()
	}
	return time.Now().Unix()
}

// Sync writes back every referenced inode and the metadata of every mounted
// filesystem.
func (vfs *VirtualFilesystem) Sync(ctx context.Context) error {
	vfs.mountMu.RLock()
	defer vfs.mountMu.RUnlock()
	var firstErr error
	for _, m := range vfs.mounts {
		if err := vfs.syncFilesystem(ctx, m.fs); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (vfs *VirtualFilesystem) syncFilesystem(ctx context.Context, fs *Filesystem) error {
	var firstErr error
	for _, in := range vfs.inodes.referenced(fs) {
		in.mu.Lock()
		err := fs.impl.StoreInode(ctx, in)
		in.mu.Unlock()
		if err != nil && firstErr == nil {
			firstErr = err
		}
		vfs.inodes.Release(ctx, in)
	}
	if err := fs.impl.Sync(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
