// Copyright 2018 The gVisor Authors.
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

// Package auth implements an access control model that is a subset of Linux's.
//
// The auth package supports two kinds of access controls: user/group IDs and
// capabilities. "Privileged" operations check that the operator's credentials
// have the required user/group IDs or capabilities. There are no user
// namespaces: every ID is a kernel ID.
package auth

import "math"

// KUID is a user ID as seen by the kernel.
type KUID uint32

// KGID is a group ID as seen by the kernel.
type KGID uint32

const (
	// RootKUID is the KUID of the superuser.
	RootKUID = KUID(0)

	// RootKGID is the KGID of the superuser's primary group.
	RootKGID = KGID(0)

	// NoID is uint32(-1). -1 is consistently used as a special value, in
	// Linux and by extension in the auth package, to mean "no ID".
	NoID = math.MaxUint32

	// OverflowUID is the UID stored on disk when a KUID does not fit the
	// 16-bit field of a revision 0 inode.
	OverflowUID = 65534

	// OverflowGID is the GID counterpart of OverflowUID.
	OverflowGID = 65534
)

// Ok returns true if uid is not NoID.
func (uid KUID) Ok() bool {
	return uid != NoID
}

// In16 returns the value stored in a 16-bit on-disk owner field.
func (uid KUID) In16() uint16 {
	if uid > math.MaxUint16 {
		return OverflowUID
	}
	return uint16(uid)
}

// Ok returns true if gid is not NoID.
func (gid KGID) Ok() bool {
	return gid != NoID
}

// In16 returns the value stored in a 16-bit on-disk group field.
func (gid KGID) In16() uint16 {
	if gid > math.MaxUint16 {
		return OverflowGID
	}
	return uint16(gid)
}
