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

// Package disklayout provides ext2 disk level structures which can be directly
// filled with bytes from the underlying device. All structures are little
// endian and are (de)serialized explicitly with encoding/binary.
//
// Structures in this package correspond to those described in
// fs/ext2/ext2.h of the Linux kernel.
package disklayout

import (
	"encoding/binary"
)

const (
	// SbOffset is the absolute offset at which the superblock is placed.
	SbOffset = 1024

	// SuperBlockSize is the on-disk size of the superblock.
	SuperBlockSize = 1024

	// SuperBlockMagic is the magic number every superblock carries.
	SuperBlockMagic = 0xef53

	// MinBlockSize is the smallest supported block size.
	MinBlockSize = 1024

	// MaxBlockSize is the largest supported block size. Directory record
	// lengths are 16 bits wide, so a record spanning a whole block must fit.
	MaxBlockSize = 32768
)

// Revision levels.
const (
	// RevOld is the original format with fixed inode sizes.
	RevOld = 0

	// RevDynamic is the V2 format with dynamic inode sizes.
	RevDynamic = 1
)

// Values for the first inode and inode size of revision 0 filesystems.
const (
	OldFirstInode = 11
	OldInodeSize  = 128
)

// Reserved inode numbers.
const (
	BadBlocksInode = 1
	RootDirInode   = 2
)

// Filesystem states, stored in SuperBlock.State.
const (
	StateValid  = 1
	StateErrors = 2
)

// Error behaviours, stored in SuperBlock.Errors.
const (
	ErrorsContinue = 1
	ErrorsRO       = 2
	ErrorsPanic    = 3
)

// SuperBlock is the ext2_super_block struct from fs/ext2/ext2.h. This sums up
// to exactly 1024 bytes (smallest possible block size) and hence the
// superblock always fits in no more than one data block.
//
// Fields after VolumeName are kept as raw bytes and written back untouched.
type SuperBlock struct {
	InodesCount      uint32
	BlocksCount      uint32
	ReservedBlocks   uint32
	FreeBlocksCount  uint32
	FreeInodesCount  uint32
	FirstDataBlock   uint32
	LogBlockSize     uint32
	LogFragSize      uint32
	BlocksPerGroup   uint32
	FragsPerGroup    uint32
	InodesPerGroup   uint32
	MountTime        uint32
	WriteTime        uint32
	MountCount       uint16
	MaxMountCount    uint16
	Magic            uint16
	State            uint16
	Errors           uint16
	MinorRevLevel    uint16
	LastCheck        uint32
	CheckInterval    uint32
	CreatorOS        uint32
	RevLevel         uint32
	DefResUID        uint16
	DefResGID        uint16
	FirstInodeRaw    uint32
	InodeSizeRaw     uint16
	BlockGroupNumber uint16
	FeatureCompat    uint32
	FeatureIncompat  uint32
	FeatureRoCompat  uint32
	UUID             [16]byte
	VolumeName       [16]byte
	Rest             [SuperBlockSize - 136]byte
}

// SizeBytes returns the encoded size of sb.
func (sb *SuperBlock) SizeBytes() int {
	return SuperBlockSize
}

// MarshalBytes serializes sb into dst, which must hold SizeBytes bytes.
func (sb *SuperBlock) MarshalBytes(dst []byte) {
	le := binary.LittleEndian
	le.PutUint32(dst[0:], sb.InodesCount)
	le.PutUint32(dst[4:], sb.BlocksCount)
	le.PutUint32(dst[8:], sb.ReservedBlocks)
	le.PutUint32(dst[12:], sb.FreeBlocksCount)
	le.PutUint32(dst[16:], sb.FreeInodesCount)
	le.PutUint32(dst[20:], sb.FirstDataBlock)
	le.PutUint32(dst[24:], sb.LogBlockSize)
	le.PutUint32(dst[28:], sb.LogFragSize)
	le.PutUint32(dst[32:], sb.BlocksPerGroup)
	le.PutUint32(dst[36:], sb.FragsPerGroup)
	le.PutUint32(dst[40:], sb.InodesPerGroup)
	le.PutUint32(dst[44:], sb.MountTime)
	le.PutUint32(dst[48:], sb.WriteTime)
	le.PutUint16(dst[52:], sb.MountCount)
	le.PutUint16(dst[54:], sb.MaxMountCount)
	le.PutUint16(dst[56:], sb.Magic)
	le.PutUint16(dst[58:], sb.State)
	le.PutUint16(dst[60:], sb.Errors)
	le.PutUint16(dst[62:], sb.MinorRevLevel)
	le.PutUint32(dst[64:], sb.LastCheck)
	le.PutUint32(dst[68:], sb.CheckInterval)
	le.PutUint32(dst[72:], sb.CreatorOS)
	le.PutUint32(dst[76:], sb.RevLevel)
	le.PutUint16(dst[80:], sb.DefResUID)
	le.PutUint16(dst[82:], sb.DefResGID)
	le.PutUint32(dst[84:], sb.FirstInodeRaw)
	le.PutUint16(dst[88:], sb.InodeSizeRaw)
	le.PutUint16(dst[90:], sb.BlockGroupNumber)
	le.PutUint32(dst[92:], sb.FeatureCompat)
	le.PutUint32(dst[96:], sb.FeatureIncompat)
	le.PutUint32(dst[100:], sb.FeatureRoCompat)
	copy(dst[104:120], sb.UUID[:])
	copy(dst[120:136], sb.VolumeName[:])
	copy(dst[136:SuperBlockSize], sb.Rest[:])
}

// UnmarshalBytes deserializes sb from src, which must hold SizeBytes bytes.
func (sb *SuperBlock) UnmarshalBytes(src []byte) {
	le := binary.LittleEndian
	sb.InodesCount = le.Uint32(src[0:])
	sb.BlocksCount = le.Uint32(src[4:])
	sb.ReservedBlocks = le.Uint32(src[8:])
	sb.FreeBlocksCount = le.Uint32(src[12:])
	sb.FreeInodesCount = le.Uint32(src[16:])
	sb.FirstDataBlock = le.Uint32(src[20:])
	sb.LogBlockSize = le.Uint32(src[24:])
	sb.LogFragSize = le.Uint32(src[28:])
	sb.BlocksPerGroup = le.Uint32(src[32:])
	sb.FragsPerGroup = le.Uint32(src[36:])
	sb.InodesPerGroup = le.Uint32(src[40:])
	sb.MountTime = le.Uint32(src[44:])
	sb.WriteTime = le.Uint32(src[48:])
	sb.MountCount = le.Uint16(src[52:])
	sb.MaxMountCount = le.Uint16(src[54:])
	sb.Magic = le.Uint16(src[56:])
	sb.State = le.Uint16(src[58:])
	sb.Errors = le.Uint16(src[60:])
	sb.MinorRevLevel = le.Uint16(src[62:])
	sb.LastCheck = le.Uint32(src[64:])
	sb.CheckInterval = le.Uint32(src[68:])
	sb.CreatorOS = le.Uint32(src[72:])
	sb.RevLevel = le.Uint32(src[76:])
	sb.DefResUID = le.Uint16(src[80:])
	sb.DefResGID = le.Uint16(src[82:])
	sb.FirstInodeRaw = le.Uint32(src[84:])
	sb.InodeSizeRaw = le.Uint16(src[88:])
	sb.BlockGroupNumber = le.Uint16(src[90:])
	sb.FeatureCompat = le.Uint32(src[92:])
	sb.FeatureIncompat = le.Uint32(src[96:])
	sb.FeatureRoCompat = le.Uint32(src[100:])
	copy(sb.UUID[:], src[104:120])
	copy(sb.VolumeName[:], src[120:136])
	copy(sb.Rest[:], src[136:SuperBlockSize])
}

// BlockSize returns the block size in bytes.
func (sb *SuperBlock) BlockSize() uint32 {
	return MinBlockSize << sb.LogBlockSize
}

// FirstInode returns the first inode number that may be handed out to
// user files.
func (sb *SuperBlock) FirstInode() uint32 {
	if sb.RevLevel == RevOld {
		return OldFirstInode
	}
	return sb.FirstInodeRaw
}

// InodeSize returns the size of an inode record in the inode table.
func (sb *SuperBlock) InodeSize() uint16 {
	if sb.RevLevel == RevOld {
		return OldInodeSize
	}
	return sb.InodeSizeRaw
}

// BgdtBlock returns the block holding the first block group descriptor.
// The descriptor table follows the block that holds the superblock.
func (sb *SuperBlock) BgdtBlock() uint32 {
	if sb.BlockSize() > MinBlockSize {
		return 1
	}
	return 2
}

// FirstUsableBlock returns the number of the first block tracked by block
// bitmap bit 0.
func (sb *SuperBlock) FirstUsableBlock() uint32 {
	if sb.BlockSize() > MinBlockSize {
		return 0
	}
	return 1
}

// BlockGroupCount returns the number of block groups.
func (sb *SuperBlock) BlockGroupCount() uint32 {
	first := sb.FirstUsableBlock()
	if sb.BlocksCount <= first || sb.BlocksPerGroup == 0 {
		return 0
	}
	return (sb.BlocksCount - first + sb.BlocksPerGroup - 1) / sb.BlocksPerGroup
}

// Label returns the volume name without trailing NULs.
func (sb *SuperBlock) Label() string {
	n := 0
	for n < len(sb.VolumeName) && sb.VolumeName[n] != 0 {
		n++
	}
	return string(sb.VolumeName[:n])
}
