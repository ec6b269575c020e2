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
	"posnk.dev/posnk/pkg/abi/linux"
	"posnk.dev/posnk/pkg/errors/linuxerr"
	"posnk.dev/posnk/pkg/sentry/kernel/auth"
)

// AccessTypes is a set of rwx permission bits, aligned so that MayRead is
// the "other read" bit of a mode.
type AccessTypes uint16

const (
	MayRead  AccessTypes = 4
	MayWrite AccessTypes = 2
	MayExec  AccessTypes = 1
)

// CheckAccess decides whether creds may perform want on a file with the
// given mode and owner. The owner, group and other triads are tried in the
// usual order; failing that, CAP_DAC_READ_SEARCH covers reads and directory
// searches, and CAP_DAC_OVERRIDE covers everything except executing a file
// that has no execute bit at all.
func CheckAccess(creds *auth.Credentials, want AccessTypes, mode linux.FileMode, uid auth.KUID, gid auth.KGID) error {
	var granted AccessTypes
	switch {
	case creds.EffectiveKUID == uid:
		granted = AccessTypes(mode>>6) & 7
	case creds.InGroup(gid):
		granted = AccessTypes(mode>>3) & 7
	default:
		granted = AccessTypes(mode) & 7
	}
	if want&^granted == 0 {
		return nil
	}

	dir := mode.IsDir()
	readOnly := want == MayRead || (dir && want&MayWrite == 0)
	if readOnly && creds.HasCapability(auth.CAP_DAC_READ_SEARCH) {
		return nil
	}
	execOK := dir || want&MayExec == 0 || mode&0111 != 0
	if execOK && creds.HasCapability(auth.CAP_DAC_OVERRIDE) {
		return nil
	}
	return linuxerr.EACCES
}

// checkPermissions checks creds against the attributes of in.
//
// Preconditions: in.mu must be locked.
func (in *Inode) checkPermissions(creds *auth.Credentials, want AccessTypes) error {
	return CheckAccess(creds, want, in.Attrs.Mode, in.Attrs.UID, in.Attrs.GID)
}

// checkSticky enforces the restricted deletion flag: in a sticky directory
// only the file's owner, the directory's owner or a CAP_FOWNER holder may
// remove or rename an entry.
//
// Preconditions: dir.mu and in.mu must be locked.
func checkSticky(creds *auth.Credentials, dir, in *Inode) error {
	switch {
	case dir.Attrs.Mode&linux.ModeSticky == 0,
		creds.EffectiveKUID == in.Attrs.UID,
		creds.EffectiveKUID == dir.Attrs.UID,
		creds.HasCapability(auth.CAP_FOWNER):
		return nil
	}
	return linuxerr.EPERM
}

// openAccess is the access checked when opening with flags. O_TRUNC asks for
// write permission even on a read-only open, and the invalid access mode 3
// is checked as read-write.
func openAccess(flags uint32) AccessTypes {
	switch flags & linux.O_ACCMODE {
	case linux.O_RDONLY:
		if flags&linux.O_TRUNC != 0 {
			return MayRead | MayWrite
		}
		return MayRead
	case linux.O_WRONLY:
		return MayWrite
	}
	return MayRead | MayWrite
}

// readable reports whether a description opened with flags permits reads.
func readable(flags uint32) bool {
	acc := flags & linux.O_ACCMODE
	return acc == linux.O_RDONLY || acc == linux.O_RDWR
}

// writable reports whether a description opened with flags permits writes.
func writable(flags uint32) bool {
	acc := flags & linux.O_ACCMODE
	return acc == linux.O_WRONLY || acc == linux.O_RDWR
}
