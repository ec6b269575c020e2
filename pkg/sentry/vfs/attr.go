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
	"posnk.dev/posnk/pkg/errors/linuxerr"
	"posnk.dev/posnk/pkg/sentry/kernel/auth"
)

// isOwner returns true if creds owns in or may act as its owner. Compare
// Linux's fs/inode.c:inode_owner_or_capable().
//
// Preconditions: in.mu must be locked.
func isOwner(creds *auth.Credentials, in *Inode) bool {
	return creds.EffectiveKUID == in.Attrs.UID || creds.HasCapability(auth.CAP_FOWNER)
}

// Chmod sets the permission bits, including the set-user-ID, set-group-ID
// and sticky bits, of the file at path. A final symbolic link is followed.
func (vfs *VirtualFilesystem) Chmod(ctx context.Context, path string, mode linux.FileMode) error {
	d, err := vfs.resolve(ctx, path, 0)
	if err != nil {
		return err
	}
	defer d.DecRef(ctx)
	return vfs.chmod(ctx, d.inode, mode)
}

func (vfs *VirtualFilesystem) chmod(ctx context.Context, in *Inode, mode linux.FileMode) error {
	creds := auth.CredentialsFromContext(ctx)
	in.mu.Lock()
	defer in.mu.Unlock()
	if !isOwner(creds, in) {
		return linuxerr.EPERM
	}
	if in.fs.readOnly {
		return linuxerr.EROFS
	}
	mode &= linux.ModeSetUID | linux.ModeSetGID | linux.ModeSticky | linux.PermissionsMask
	// Only group members keep the set-group-ID bit.
	if !creds.InGroup(in.Attrs.GID) && !creds.HasCapability(auth.CAP_FSETID) {
		mode &^= linux.ModeSetGID
	}
	old := in.Attrs
	in.Attrs.Mode = in.Attrs.Mode.FileType() | mode
	in.Attrs.Ctime = vfs.now()
	if err := in.fs.impl.StoreInode(ctx, in); err != nil {
		in.Attrs = old
		return err
	}
	return nil
}

// Chown changes the owner and group of the file at path, following a final
// symbolic link. An ID of auth.NoID leaves that ID unchanged.
//
// Giving a file away takes CAP_CHOWN. Without it, the owner may only move
// the file into a group they belong to.
func (vfs *VirtualFilesystem) Chown(ctx context.Context, path string, uid auth.KUID, gid auth.KGID) error {
	return vfs.chownAt(ctx, path, uid, gid, 0)
}

// Lchown is Chown without following a final symbolic link.
func (vfs *VirtualFilesystem) Lchown(ctx context.Context, path string, uid auth.KUID, gid auth.KGID) error {
	return vfs.chownAt(ctx, path, uid, gid, ResolveNoFollow)
}

func (vfs *VirtualFilesystem) chownAt(ctx context.Context, path string, uid auth.KUID, gid auth.KGID, flags ResolveFlags) error {
	d, err := vfs.resolve(ctx, path, flags)
	if err != nil {
		return err
	}
	defer d.DecRef(ctx)
	return vfs.chown(ctx, d.inode, uid, gid)
}

func (vfs *VirtualFilesystem) chown(ctx context.Context, in *Inode, uid auth.KUID, gid auth.KGID) error {
	creds := auth.CredentialsFromContext(ctx)
	in.mu.Lock()
	defer in.mu.Unlock()
	if !uid.Ok() {
		uid = in.Attrs.UID
	}
	if !gid.Ok() {
		gid = in.Attrs.GID
	}
	if !creds.HasCapability(auth.CAP_CHOWN) {
		if uid != in.Attrs.UID || creds.EffectiveKUID != in.Attrs.UID {
			return linuxerr.EPERM
		}
		if gid != in.Attrs.GID && !creds.InGroup(gid) {
			return linuxerr.EPERM
		}
	}
	if in.fs.readOnly {
		return linuxerr.EROFS
	}
	old := in.Attrs
	changed := uid != in.Attrs.UID || gid != in.Attrs.GID
	in.Attrs.UID = uid
	in.Attrs.GID = gid
	// A change of ownership drops set-user-ID, and set-group-ID when it
	// marks an executable, from everything but directories.
	if changed && in.Kind() != KindDirectory {
		in.Attrs.Mode &^= linux.ModeSetUID
		if in.Attrs.Mode&linux.ModeGroupExec != 0 {
			in.Attrs.Mode &^= linux.ModeSetGID
		}
	}
	in.Attrs.Ctime = vfs.now()
	if err := in.fs.impl.StoreInode(ctx, in); err != nil {
		in.Attrs = old
		return err
	}
	return nil
}
