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

	"posnk.dev/posnk/pkg/abi/linux"
	"posnk.dev/posnk/pkg/errors/linuxerr"
	"posnk.dev/posnk/pkg/fspath"
	"posnk.dev/posnk/pkg/sentry/kernel/auth"
)

// PathOperation specifies the path operated on by a VFS method.
type PathOperation struct {
	// Root is the point at which ".." stops and absolute paths begin.
	Root *Dentry

	// Start is the starting point of relative paths.
	Start *Dentry

	// Path is the pathname to resolve.
	Path string
}

// resolvingPath holds the state of a single path resolution.
type resolvingPath struct {
	vfs   *VirtualFilesystem
	creds *auth.Credentials
	root  *Dentry

	// symlinks is the number of symbolic links followed so far.
	symlinks int
}

// Resolve returns the Dentry pop.Path resolves to, with a reference held.
func (vfs *VirtualFilesystem) Resolve(ctx context.Context, creds *auth.Credentials, pop *PathOperation, flags ResolveFlags) (*Dentry, error) {
	rp := resolvingPath{vfs: vfs, creds: creds, root: pop.Root}
	d, err := rp.walk(ctx, pop.Start, pop.Path, flags&ResolveNoFollow == 0)
	if err != nil {
		return nil, err
	}
	if flags&ResolveDirectory != 0 && d.inode.Kind() != KindDirectory {
		d.DecRef(ctx)
		return nil, linuxerr.ENOTDIR
	}
	return d, nil
}

// ResolveParent resolves every component of pop.Path but the last, and
// returns the resulting directory along with the last component. A path
// without components, such as "/", yields the name ".". mustBeDir is set if
// pop.Path ends in a separator, so the last component may only name a
// directory.
func (vfs *VirtualFilesystem) ResolveParent(ctx context.Context, creds *auth.Credentials, pop *PathOperation) (parent *Dentry, name string, mustBeDir bool, err error) {
	path := strings.TrimRight(pop.Path, "/")
	mustBeDir = len(path) != len(pop.Path)
	if path == "" {
		if pop.Path == "" {
			return nil, "", false, linuxerr.ENOENT
		}
		path = "/."
	}
	dir, name := ".", path
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		dir, name = path[:i+1], path[i+1:]
	}
	rp := resolvingPath{vfs: vfs, creds: creds, root: pop.Root}
	d, err := rp.walk(ctx, pop.Start, dir, true)
	if err != nil {
		return nil, "", false, err
	}
	if d.inode.Kind() != KindDirectory {
		d.DecRef(ctx)
		return nil, "", false, linuxerr.ENOTDIR
	}
	return d, name, mustBeDir, nil
}

// walk resolves path relative to start and returns the result with a
// reference held. A symbolic link in the final component is followed only if
// followFinal is set or the path has a trailing slash.
func (rp *resolvingPath) walk(ctx context.Context, start *Dentry, path string, followFinal bool) (*Dentry, error) {
	p, err := fspath.Parse(path)
	if err != nil {
		return nil, err
	}
	d := start
	if p.Absolute {
		d = rp.root
	}
	d.IncRef()
	for it := p.Begin; it.Ok(); it = it.Next() {
		follow := it.NextOk() || followFinal || p.Dir
		next, err := rp.step(ctx, d, it.String(), follow)
		d.DecRef(ctx)
		if err != nil {
			return nil, err
		}
		d = next
	}
	if p.Dir && d.inode.Kind() != KindDirectory {
		d.DecRef(ctx)
		return nil, linuxerr.ENOTDIR
	}
	return d, nil
}

// step resolves a single path component in directory d.
func (rp *resolvingPath) step(ctx context.Context, d *Dentry, name string, follow bool) (*Dentry, error) {
	dir := d.inode
	if dir.Kind() != KindDirectory {
		return nil, linuxerr.ENOTDIR
	}
	dir.mu.Lock()
	err := dir.checkPermissions(rp.creds, MayExec)
	dir.mu.Unlock()
	if err != nil {
		return nil, err
	}

	switch name {
	case ".":
		d.IncRef()
		return d, nil
	case "..":
		parent := d.Parent()
		if d.inode == rp.root.inode {
			parent = d
		}
		parent.IncRef()
		return parent, nil
	}
	if err := fspath.CheckComponent(name); err != nil {
		return nil, err
	}

	dir.mu.Lock()
	ino, err := dir.fs.impl.Lookup(ctx, dir, name)
	dir.mu.Unlock()
	if err != nil {
		return nil, err
	}
	in, err := rp.vfs.inodes.Get(ctx, dir.fs, ino)
	if err != nil {
		return nil, err
	}
	in = rp.vfs.followMounts(ctx, in)

	if !follow || in.Kind() != KindSymlink {
		return newDentry(d, name, in), nil
	}
	rp.symlinks++
	if rp.symlinks > linux.MaxSymlinkTraversals {
		rp.vfs.inodes.Release(ctx, in)
		return nil, linuxerr.ELOOP
	}
	target, err := rp.vfs.readlink(ctx, in)
	rp.vfs.inodes.Release(ctx, in)
	if err != nil {
		return nil, err
	}
	return rp.walk(ctx, d, target, true)
}

// pathOperation returns the PathOperation for resolving path on behalf of
// the task that ctx belongs to. The returned function releases it.
func (vfs *VirtualFilesystem) pathOperation(ctx context.Context, path string) (*PathOperation, func(), error) {
	var root, start *Dentry
	if fsc := FSContextFromContext(ctx); fsc != nil {
		root = fsc.RootDirectory()
		start = fsc.WorkingDirectory()
	} else {
		root = vfs.RootDentry()
		if root == nil {
			return nil, nil, linuxerr.ENOENT
		}
		root.IncRef()
		start = root
	}
	pop := &PathOperation{Root: root, Start: start, Path: path}
	return pop, func() {
		root.DecRef(ctx)
		start.DecRef(ctx)
	}, nil
}

// resolve resolves path for the task that ctx belongs to.
func (vfs *VirtualFilesystem) resolve(ctx context.Context, path string, flags ResolveFlags) (*Dentry, error) {
	pop, release, err := vfs.pathOperation(ctx, path)
	if err != nil {
		return nil, err
	}
	defer release()
	return vfs.Resolve(ctx, auth.CredentialsFromContext(ctx), pop, flags)
}

// resolveParent is the ResolveParent analogue of resolve.
func (vfs *VirtualFilesystem) resolveParent(ctx context.Context, path string) (*Dentry, string, bool, error) {
	pop, release, err := vfs.pathOperation(ctx, path)
	if err != nil {
		return nil, "", false, err
	}
	defer release()
	return vfs.ResolveParent(ctx, auth.CredentialsFromContext(ctx), pop)
}
