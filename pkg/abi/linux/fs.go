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


package linux

// EXT_SUPER_MAGIC is reported in Statfs.Type by ext2 mounts (linux/magic.h).
const EXT_SUPER_MAGIC = 0xef53

// Path limits from uapi/linux/limits.h. PATH_MAX counts the terminating NUL
// of the C string, so the longest usable path is one byte shorter.
const (
	NAME_MAX = 255
	PATH_MAX = 4096
)

// Statfs mirrors the fields of struct statfs (uapi/asm-generic/statfs.h)
// that a filesystem reports. Block counts are in units of BlockSize.
type Statfs struct {
	Type      uint64
	BlockSize int64

	Blocks          uint64
	BlocksFree      uint64
	BlocksAvailable uint64 // free blocks usable without privilege

	Files     uint64
	FilesFree uint64

	FSID       [2]int32
	NameLength uint64
}
