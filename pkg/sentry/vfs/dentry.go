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
	"fmt"

	"posnk.dev/posnk/pkg/log"
	"posnk.dev/posnk/pkg/refs"
)

// Dentry binds a path component to the inode it resolved to.
//
// Dentries form chains through their parents up to the root they were
// resolved from, so ".." and Getcwd retrace the path that was actually
// walked, including across mount points. A Dentry holds a reference on its
// inode and on its parent; releasing the last reference on a Dentry releases
// both.
//
// Dentries are reference-counted. Unless otherwise specified, all Dentry
// methods require that a reference is held.
type Dentry struct {
	refs refs.AtomicRefCount

	// vfs, parent, name and inode are immutable.
	vfs *VirtualFilesystem

	// parent is nil for a root Dentry, which Parent reports as its own
	// parent. The self link is not counted as a reference.
	parent *Dentry
	name   string
	inode  *Inode
}

// NewRootDentry returns a parentless Dentry for in, taking over the caller's
// reference on in.
func (vfs *VirtualFilesystem) NewRootDentry(in *Inode) *Dentry {
	d := &Dentry{vfs: vfs, inode: in}
	d.refs.InitRefs()
	refs.Register(d)
	return d
}

// newDentry returns a child of parent bound to in. It takes over the caller's
// reference on in and takes a new reference on parent.
func newDentry(parent *Dentry, name string, in *Inode) *Dentry {
	parent.IncRef()
	d := &Dentry{vfs: parent.vfs, parent: parent, name: name, inode: in}
	d.refs.InitRefs()
	refs.Register(d)
	return d
}

// RefType implements refs.CheckedObject.RefType.
func (d *Dentry) RefType() string {
	return "vfs.Dentry"
}

// LeakMessage implements refs.CheckedObject.LeakMessage.
func (d *Dentry) LeakMessage() string {
	return fmt.Sprintf("[%p] %q on inode %v has %d references", d, d.name, keyOf(d.inode), d.refs.ReadRefs())
}

// Inode returns the inode d is bound to. The caller must hold its own
// reference on d for as long as it uses the returned Inode.
func (d *Dentry) Inode() *Inode {
	return d.inode
}

// Parent returns the Dentry d was resolved in. A root Dentry is its own
// parent. The result is only valid while the caller holds its reference on d.
func (d *Dentry) Parent() *Dentry {
	if d.parent == nil {
		return d
	}
	return d.parent
}

// Name returns the path component d was resolved from, or "" for a root.
func (d *Dentry) Name() string {
	return d.name
}

// IncRef increments d's reference count.
func (d *Dentry) IncRef() {
	d.refs.IncRef()
}

// TryIncRef increments d's reference count unless it is already zero.
func (d *Dentry) TryIncRef() bool {
	return d.refs.TryIncRef()
}

// DecRef decrements d's reference count. Dropping the last reference releases
// d's inode and then its parent.
func (d *Dentry) DecRef(ctx context.Context) {
	for d != nil {
		var parent *Dentry
		d.refs.DecRefWithDestructor(func() {
			refs.Unregister(d)
			if err := d.vfs.inodes.Release(ctx, d.inode); err != nil {
				log.Warningf("Releasing inode %v: %v", keyOf(d.inode), err)
			}
			parent = d.parent
		})
		d = parent
	}
}

// isAncestorOf returns true if d is on the parent chain of d2, comparing by
// inode. A Dentry is its own ancestor.
func (d *Dentry) isAncestorOf(d2 *Dentry) bool {
	for ; d2 != nil; d2 = d2.parent {
		if d2.inode == d.inode {
			return true
		}
	}
	return false
}

// followMounts returns the root of the filesystem mounted over in, repeatedly,
// or in itself if nothing is mounted there. It takes over the caller's
// reference on in and returns a reference on the result.
func (vfs *VirtualFilesystem) followMounts(ctx context.Context, in *Inode) *Inode {
	vfs.mountMu.RLock()
	defer vfs.mountMu.RUnlock()
	for in.mounted != nil {
		next := in.mounted.root
		vfs.inodes.IncRef(next)
		// The mount holds its own reference on in.
		vfs.inodes.Release(ctx, in)
		in = next
	}
	return in
}
