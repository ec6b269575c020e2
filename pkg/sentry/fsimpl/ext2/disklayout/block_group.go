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

// BlockGroupSize is the size of an ext2 block group descriptor.
const BlockGroupSize = 32

// BlockGroup represents the ext2_group_desc struct. The descriptors of all
// groups form the block group descriptor table, which starts in the block
// after the superblock.
type BlockGroup struct {
	BlockBitmap     uint32
	InodeBitmap     uint32
	InodeTable      uint32
	FreeBlocksCount uint16
	FreeInodesCount uint16
	UsedDirsCount   uint16
	Pad             uint16
	Reserved        [12]byte
}

// SizeBytes returns the encoded size of bg.
func (bg *BlockGroup) SizeBytes() int {
	return BlockGroupSize
}

// MarshalBytes serializes bg into dst.
func (bg *BlockGroup) MarshalBytes(dst []byte) {
	le := binary.LittleEndian
	le.PutUint32(dst[0:], bg.BlockBitmap)
	le.PutUint32(dst[4:], bg.InodeBitmap)
	le.PutUint32(dst[8:], bg.InodeTable)
	le.PutUint16(dst[12:], bg.FreeBlocksCount)
	le.PutUint16(dst[14:], bg.FreeInodesCount)
	le.PutUint16(dst[16:], bg.UsedDirsCount)
	le.PutUint16(dst[18:], bg.Pad)
	copy(dst[20:BlockGroupSize], bg.Reserved[:])
}

// UnmarshalBytes deserializes bg from src.
func (bg *BlockGroup) UnmarshalBytes(src []byte) {
	le := binary.LittleEndian
	bg.BlockBitmap = le.Uint32(src[0:])
	bg.InodeBitmap = le.Uint32(src[4:])
	bg.InodeTable = le.Uint32(src[8:])
	bg.FreeBlocksCount = le.Uint16(src[12:])
	bg.FreeInodesCount = le.Uint16(src[14:])
	bg.UsedDirsCount = le.Uint16(src[16:])
	bg.Pad = le.Uint16(src[18:])
	copy(bg.Reserved[:], src[20:BlockGroupSize])
}
