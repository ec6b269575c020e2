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
	"fmt"

	"posnk.dev/posnk/pkg/abi/linux"
)

// Kind is the type of file an inode represents. Operations dispatch on it
// with exhaustive switches.
type Kind int

// Kinds of files.
const (
	KindRegular Kind = iota
	KindDirectory
	KindSymlink
	KindCharDevice
	KindBlockDevice
	KindFIFO
	KindSocket
)

// KindOf returns the Kind encoded in the file type bits of mode. Modes with
// no recognised type bits are regular files.
func KindOf(mode linux.FileMode) Kind {
	switch mode.FileType() {
	case linux.ModeDirectory:
		return KindDirectory
	case linux.ModeSymlink:
		return KindSymlink
	case linux.ModeCharacterDevice:
		return KindCharDevice
	case linux.ModeBlockDevice:
		return KindBlockDevice
	case linux.ModeNamedPipe:
		return KindFIFO
	case linux.ModeSocket:
		return KindSocket
	default:
		return KindRegular
	}
}

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindRegular:
		return "regular"
	case KindDirectory:
		return "directory"
	case KindSymlink:
		return "symlink"
	case KindCharDevice:
		return "char device"
	case KindBlockDevice:
		return "block device"
	case KindFIFO:
		return "fifo"
	case KindSocket:
		return "socket"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}
