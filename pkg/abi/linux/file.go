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

// Package linux contains the constants and types shared between the kernel's
// filesystem layers and the on-disk formats they implement.
package linux

import (
	"fmt"
	"strings"
)

// MaxSymlinkTraversals is the maximum number of links that will be followed by
// the kernel to resolve a symlink.
const MaxSymlinkTraversals = 40

// Values for mode_t.
const (
	FileTypeMask        = 0170000
	ModeSocket          = 0140000
	ModeSymlink         = 0120000
	ModeRegular         = 0100000
	ModeBlockDevice     = 060000
	ModeDirectory       = 040000
	ModeCharacterDevice = 020000
	ModeNamedPipe       = 010000

	ModeSetUID = 04000
	ModeSetGID = 02000
	ModeSticky = 01000

	ModeUserAll     = 0700
	ModeUserRead    = 0400
	ModeUserWrite   = 0200
	ModeUserExec    = 0100
	ModeGroupAll    = 0070
	ModeGroupRead   = 0040
	ModeGroupWrite  = 0020
	ModeGroupExec   = 0010
	ModeOtherAll    = 0007
	ModeOtherRead   = 0004
	ModeOtherWrite  = 0002
	ModeOtherExec   = 0001
	PermissionsMask = 0777
)

// Flags for open(2), with their x86-64 values.
const (
	O_ACCMODE   = 000000003
	O_RDONLY    = 000000000
	O_WRONLY    = 000000001
	O_RDWR      = 000000002
	O_CREAT     = 000000100
	O_EXCL      = 000000200
	O_TRUNC     = 000001000
	O_APPEND    = 000002000
	O_NONBLOCK  = 000004000
	O_DIRECTORY = 000200000
	O_NOFOLLOW  = 000400000
)

// Values for lseek(2) whence.
const (
	SEEK_SET = 0
	SEEK_CUR = 1
	SEEK_END = 2
)

// Values for linux_dirent64.d_type.
const (
	DT_UNKNOWN = 0
	DT_FIFO    = 1
	DT_CHR     = 2
	DT_DIR     = 4
	DT_BLK     = 6
	DT_REG     = 8
	DT_LNK     = 10
	DT_SOCK    = 12
	DT_WHT     = 14
)

// FileMode represents a mode_t.
type FileMode uint

// Permissions returns just the permission bits.
func (m FileMode) Permissions() FileMode {
	return m & PermissionsMask
}

// FileType returns just the file type bits.
func (m FileMode) FileType() FileMode {
	return m & FileTypeMask
}

// ExtraBits returns everything but the file type and permission bits.
func (m FileMode) ExtraBits() FileMode {
	return m &^ (PermissionsMask | FileTypeMask)
}

// IsDir returns true if m represents a directory.
func (m FileMode) IsDir() bool {
	return m.FileType() == ModeDirectory
}

// DirentType maps m to the corresponding DT_* value.
func (m FileMode) DirentType() uint8 {
	switch m.FileType() {
	case ModeSocket:
		return DT_SOCK
	case ModeSymlink:
		return DT_LNK
	case ModeRegular:
		return DT_REG
	case ModeBlockDevice:
		return DT_BLK
	case ModeDirectory:
		return DT_DIR
	case ModeCharacterDevice:
		return DT_CHR
	case ModeNamedPipe:
		return DT_FIFO
	default:
		return DT_UNKNOWN
	}
}

// String returns a string representation of m.
func (m FileMode) String() string {
	var s []string
	if ft := m.FileType(); ft != 0 {
		s = append(s, fileTypeName(ft))
	}
	if eb := m.ExtraBits(); eb != 0 {
		for _, f := range modeExtraBits {
			if eb&f.flag != 0 {
				s = append(s, f.name)
			}
		}
	}
	s = append(s, fmt.Sprintf("0o%o", m.Permissions()))
	return strings.Join(s, "|")
}

var modeExtraBits = []struct {
	flag FileMode
	name string
}{
	{ModeSetUID, "S_ISUID"},
	{ModeSetGID, "S_ISGID"},
	{ModeSticky, "S_ISVTX"},
}

func fileTypeName(ft FileMode) string {
	switch ft {
	case ModeSocket:
		return "S_IFSOCK"
	case ModeSymlink:
		return "S_IFLINK"
	case ModeRegular:
		return "S_IFREG"
	case ModeBlockDevice:
		return "S_IFBLK"
	case ModeDirectory:
		return "S_IFDIR"
	case ModeCharacterDevice:
		return "S_IFCHR"
	case ModeNamedPipe:
		return "S_IFIFO"
	default:
		return fmt.Sprintf("%#o", uint(ft))
	}
}

// MakeDeviceID encodes a major/minor pair the way the old 16-bit dev_t did.
func MakeDeviceID(major, minor uint16) uint32 {
	return uint32(major&0xff)<<8 | uint32(minor&0xff)
}

// DecodeDeviceID is the inverse of MakeDeviceID.
func DecodeDeviceID(rdev uint32) (major, minor uint16) {
	return uint16((rdev >> 8) & 0xff), uint16(rdev & 0xff)
}
