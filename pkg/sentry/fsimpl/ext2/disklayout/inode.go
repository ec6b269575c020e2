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

package disklayout

import (
	"encoding/binary"
)

const (
	// InodeRecordSize is the size of the fields this package understands.
	// Larger inode records keep their tail bytes untouched.
	InodeRecordSize = 128

	// NumBlockPointers is the number of entries in Inode.Block.
	NumBlockPointers = 15

	// NumDirectBlocks is the number of direct block pointers.
	NumDirectBlocks = 12

	// Indices of the indirect block pointers within Inode.Block.
	IndBlock  = 12
	DIndBlock = 13
	TIndBlock = 14

	// FastSymlinkMax is the longest symlink target stored inline in
	// Inode.Block.
	FastSymlinkMax = NumBlockPointers*4 - 1
)

// Values for the type bits of Inode.Mode.
const (
	ModeTypeMask = 0xf000
	ModeSocket   = 0xc000
	ModeSymlink  = 0xa000
	ModeRegular  = 0x8000
	ModeBlockDev = 0x6000
	ModeDir      = 0x4000
	ModeCharDev  = 0x2000
	ModeFIFO     = 0x1000

	// ModePermMask covers the permission, setuid, setgid and sticky bits.
	ModePermMask = 0x0fff
)

// Inode is the 128-byte ext2_inode struct. All time fields are in seconds
// since the epoch.
type Inode struct {
	Mode       uint16
	UID        uint16
	Size       uint32
	Atime      uint32
	Ctime      uint32
	Mtime      uint32
	Dtime      uint32
	GID        uint16
	LinksCount uint16
	// Blocks counts 512-byte sectors, including indirect blocks.
	Blocks     uint32
	Flags      uint32
	OSD1       uint32
	Block      [NumBlockPointers]uint32
	Generation uint32
	FileACL    uint32
	DirACL     uint32
	Faddr      uint32
	OSD2       [12]byte
}

// SizeBytes returns the encoded size of in.
func (in *Inode) SizeBytes() int {
	return InodeRecordSize
}

// MarshalBytes serializes in into dst.
func (in *Inode) MarshalBytes(dst []byte) {
	le := binary.LittleEndian
	le.PutUint16(dst[0:], in.Mode)
	le.PutUint16(dst[2:], in.UID)
	le.PutUint32(dst[4:], in.Size)
	le.PutUint32(dst[8:], in.Atime)
	le.PutUint32(dst[12:], in.Ctime)
	le.PutUint32(dst[16:], in.Mtime)
	le.PutUint32(dst[20:], in.Dtime)
	le.PutUint16(dst[24:], in.GID)
	le.PutUint16(dst[26:], in.LinksCount)
	le.PutUint32(dst[28:], in.Blocks)
	le.PutUint32(dst[32:], in.Flags)
	le.PutUint32(dst[36:], in.OSD1)
	for i, b := range in.Block {
		le.PutUint32(dst[40+4*i:], b)
	}
	le.PutUint32(dst[100:], in.Generation)
	le.PutUint32(dst[104:], in.FileACL)
	le.PutUint32(dst[108:], in.DirACL)
	le.PutUint32(dst[112:], in.Faddr)
	copy(dst[116:InodeRecordSize], in.OSD2[:])
}

// UnmarshalBytes deserializes in from src.
func (in *Inode) UnmarshalBytes(src []byte) {
	le := binary.LittleEndian
	in.Mode = le.Uint16(src[0:])
	in.UID = le.Uint16(src[2:])
	in.Size = le.Uint32(src[4:])
	in.Atime = le.Uint32(src[8:])
	in.Ctime = le.Uint32(src[12:])
	in.Mtime = le.Uint32(src[16:])
	in.Dtime = le.Uint32(src[20:])
	in.GID = le.Uint16(src[24:])
	in.LinksCount = le.Uint16(src[26:])
	in.Blocks = le.Uint32(src[28:])
	in.Flags = le.Uint32(src[32:])
	in.OSD1 = le.Uint32(src[36:])
	for i := range in.Block {
		in.Block[i] = le.Uint32(src[40+4*i:])
	}
	in.Generation = le.Uint32(src[100:])
	in.FileACL = le.Uint32(src[104:])
	in.DirACL = le.Uint32(src[108:])
	in.Faddr = le.Uint32(src[112:])
	copy(in.OSD2[:], src[116:InodeRecordSize])
}

// IsFastSymlink returns true if in is a symlink whose target is stored in
// the block pointer array instead of a data block.
func (in *Inode) IsFastSymlink() bool {
	return in.Mode&ModeTypeMask == ModeSymlink && in.Blocks == 0 && in.Size <= FastSymlinkMax
}

// InlineData returns the block pointer array as raw bytes.
func (in *Inode) InlineData() []byte {
	var buf [NumBlockPointers * 4]byte
	for i, b := range in.Block {
		binary.LittleEndian.PutUint32(buf[4*i:], b)
	}
	return buf[:]
}

// HasDataBlocks returns true if Block holds data block pointers. Device
// nodes keep their device number there instead.
func (in *Inode) HasDataBlocks() bool {
	switch in.Mode & ModeTypeMask {
	case ModeCharDev, ModeBlockDev, ModeFIFO, ModeSocket:
		return false
	case ModeSymlink:
		return !in.IsFastSymlink()
	default:
		return true
	}
}
