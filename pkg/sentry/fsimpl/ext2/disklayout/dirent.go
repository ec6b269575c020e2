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

	"posnk.dev/posnk/pkg/abi/linux"
)

const (
	// DirentHeaderSize is the size of the fixed part of a directory entry.
	DirentHeaderSize = 8

	// MaxFileName is the maximum length of an ext fs file's name.
	MaxFileName = 255
)

// File type values stored in Dirent.FileType when the SbDirentFileType
// feature is set.
const (
	FtUnknown  = 0
	FtRegular  = 1
	FtDir      = 2
	FtCharDev  = 3
	FtBlockDev = 4
	FtFIFO     = 5
	FtSocket   = 6
	FtSymlink  = 7
)

// Dirent represents the ext2_dir_entry_2 struct. The name can not be more than
// 255 bytes so only 8 bits are needed for NameLength; the other 8 bits encode
// the file type.
//
// RecordLength spans the name, padding and any hole that follows it up to
// the next entry. An entry whose Inode or NameLength is zero is a hole.
type Dirent struct {
	Inode        uint32
	RecordLength uint16
	NameLength   uint8
	FileType     uint8
	Name         string
}

// RecordLengthFor returns the tight record length of an entry with a name of
// nameLen bytes: the header plus the name, rounded up to 4 bytes.
func RecordLengthFor(nameLen int) uint16 {
	return uint16((DirentHeaderSize + nameLen + 3) &^ 3)
}

// IsHole returns true if d does not name a live file.
func (d *Dirent) IsHole() bool {
	return d.Inode == 0 || d.NameLength == 0
}

// TightLength returns the space d needs for its own name.
func (d *Dirent) TightLength() uint16 {
	return RecordLengthFor(int(d.NameLength))
}

// MarshalHeader serializes the fixed part of d into dst.
func (d *Dirent) MarshalHeader(dst []byte) {
	le := binary.LittleEndian
	le.PutUint32(dst[0:], d.Inode)
	le.PutUint16(dst[4:], d.RecordLength)
	dst[6] = d.NameLength
	dst[7] = d.FileType
}

// UnmarshalHeader deserializes the fixed part of d from src.
func (d *Dirent) UnmarshalHeader(src []byte) {
	le := binary.LittleEndian
	d.Inode = le.Uint32(src[0:])
	d.RecordLength = le.Uint16(src[4:])
	d.NameLength = src[6]
	d.FileType = src[7]
}

// MarshalBytes serializes the header followed by the name. It returns the
// number of bytes used.
func (d *Dirent) MarshalBytes(dst []byte) int {
	d.MarshalHeader(dst)
	return DirentHeaderSize + copy(dst[DirentHeaderSize:], d.Name[:d.NameLength])
}

// FileTypeFromMode returns the directory entry file type for mode.
func FileTypeFromMode(mode linux.FileMode) uint8 {
	switch mode.FileType() {
	case linux.ModeRegular:
		return FtRegular
	case linux.ModeDirectory:
		return FtDir
	case linux.ModeCharacterDevice:
		return FtCharDev
	case linux.ModeBlockDevice:
		return FtBlockDev
	case linux.ModeNamedPipe:
		return FtFIFO
	case linux.ModeSocket:
		return FtSocket
	case linux.ModeSymlink:
		return FtSymlink
	default:
		return FtUnknown
	}
}

// DirentType converts a file type value into a linux DT_* value.
func DirentType(ft uint8) uint8 {
	switch ft {
	case FtRegular:
		return linux.DT_REG
	case FtDir:
		return linux.DT_DIR
	case FtCharDev:
		return linux.DT_CHR
	case FtBlockDev:
		return linux.DT_BLK
	case FtFIFO:
		return linux.DT_FIFO
	case FtSocket:
		return linux.DT_SOCK
	case FtSymlink:
		return linux.DT_LNK
	default:
		return linux.DT_UNKNOWN
	}
}
