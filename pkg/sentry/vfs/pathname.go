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
	"sync"

	"posnk.dev/posnk/pkg/errors/linuxerr"
	"posnk.dev/posnk/pkg/fspath"
	"posnk.dev/posnk/pkg/sentry/kernel/auth"
)

var fspathBuilderPool = sync.Pool{
	New: func() any {
		return &fspath.Builder{}
	},
}

func getFSPathBuilder() *fspath.Builder {
	return fspathBuilderPool.Get().(*fspath.Builder)
}

func putFSPathBuilder(b *fspath.Builder) {
	b.Reset()
	fspathBuilderPool.Put(b)
}

// PathnameWithRoot returns an absolute pathname to d, as seen from root. If
// root is not an ancestor of d, the pathname is prefixed with
// fspath.UnreachablePrefix.
func (vfs *VirtualFilesystem) PathnameWithRoot(root, d *Dentry) string {
	b := getFSPathBuilder()
	defer putFSPathBuilder(b)
	for ; d != nil; d = d.parent {
		if d.inode == root.inode {
			return b.Absolute()
		}
		if d.parent != nil {
			b.PrependComponent(d.name)
		}
	}
	return b.Unreachable()
}

// taskDirectories returns the root and working directory of the task ctx
// belongs to, with references held.
func (vfs *VirtualFilesystem) taskDirectories(ctx context.Context) (root, cwd *Dentry, err error) {
	if fsc := FSContextFromContext(ctx); fsc != nil {
		return fsc.RootDirectory(), fsc.WorkingDirectory(), nil
	}
	root = vfs.RootDentry()
	if root == nil {
		return nil, nil, linuxerr.ENOENT
	}
	root.IncRef()
	return root, root, nil
}

// Getcwd returns the path of the working directory of the task ctx belongs
// to.
func (vfs *VirtualFilesystem) Getcwd(ctx context.Context) (string, error) {
	root, cwd, err := vfs.taskDirectories(ctx)
	if err != nil {
		return "", err
	}
	defer root.DecRef(ctx)
	defer cwd.DecRef(ctx)
	cwd.inode.mu.Lock()
	deleted := cwd.inode.Attrs.Links == 0
	cwd.inode.mu.Unlock()
	if deleted {
		return "", linuxerr.ENOENT
	}
	return vfs.PathnameWithRoot(root, cwd), nil
}

// Chdir changes the working directory of the task ctx belongs to.
func (vfs *VirtualFilesystem) Chdir(ctx context.Context, path string) error {
	fsc := FSContextFromContext(ctx)
	if fsc == nil {
		return linuxerr.EINVAL
	}
	d, err := vfs.resolveSearchable(ctx, path)
	if err != nil {
		return err
	}
	defer d.DecRef(ctx)
	fsc.SetWorkingDirectory(ctx, d)
	return nil
}

// Chroot changes the root directory of the task ctx belongs to. It requires
// CAP_SYS_CHROOT.
func (vfs *VirtualFilesystem) Chroot(ctx context.Context, path string) error {
	fsc := FSContextFromContext(ctx)
	if fsc == nil {
		return linuxerr.EINVAL
	}
	if !auth.CredentialsFromContext(ctx).HasCapability(auth.CAP_SYS_CHROOT) {
		return linuxerr.EPERM
	}
	d, err := vfs.resolveSearchable(ctx, path)
	if err != nil {
		return err
	}
	defer d.DecRef(ctx)
	fsc.SetRootDirectory(ctx, d)
	return nil
}

// resolveSearchable resolves path to a directory the caller may search.
func (vfs *VirtualFilesystem) resolveSearchable(ctx context.Context, path string) (*Dentry, error) {
	d, err := vfs.resolve(ctx, path, ResolveDirectory)
	if err != nil {
		return nil, err
	}
	in := d.inode
	in.mu.Lock()
	err = in.checkPermissions(auth.CredentialsFromContext(ctx), MayExec)
	in.mu.Unlock()
	if err != nil {
		d.DecRef(ctx)
		return nil, err
	}
	return d, nil
}
