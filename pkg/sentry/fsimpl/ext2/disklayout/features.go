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

// Compatible features. An implementation may ignore them.
const (
	SbDirPrealloc  = 0x1
	SbImagicInodes = 0x2
	SbHasJournal   = 0x4
	SbExtAttr      = 0x8
	SbResizeInode  = 0x10
	SbDirIndex     = 0x20
)

// Incompatible features. Mounting is refused if an unknown one is set.
const (
	SbCompression    = 0x1
	SbDirentFileType = 0x2
	SbRecovery       = 0x4
	SbJournalDev     = 0x8
	SbMetaBG         = 0x10
	SbExtents        = 0x40
	SbIs64Bit        = 0x80
	SbMMP            = 0x100
	SbFlexBg         = 0x200
	SbInlineData     = 0x8000
)

// Read-only compatible features. An unknown one forces a read-only mount.
const (
	SbSparse       = 0x1
	SbLargeFile    = 0x2
	SbBtreeDir     = 0x4
	SbHugeFile     = 0x8
	SbGdtCsum      = 0x10
	SbDirNlink     = 0x20
	SbExtraIsize   = 0x40
	SbMetadataCsum = 0x400
)

// Feature sets understood by this implementation.
const (
	SupportedIncompat = SbDirentFileType
	SupportedRoCompat = SbSparse | SbLargeFile
)

// HasFileType returns true if directory entries record the file type.
func (sb *SuperBlock) HasFileType() bool {
	return sb.RevLevel != RevOld && sb.FeatureIncompat&SbDirentFileType != 0
}

// UnsupportedIncompat returns the incompatible features that are set but
// not supported.
func (sb *SuperBlock) UnsupportedIncompat() uint32 {
	if sb.RevLevel == RevOld {
		return 0
	}
	return sb.FeatureIncompat &^ SupportedIncompat
}

// UnsupportedRoCompat returns the read-only compatible features that are set
// but not supported.
func (sb *SuperBlock) UnsupportedRoCompat() uint32 {
	if sb.RevLevel == RevOld {
		return 0
	}
	return sb.FeatureRoCompat &^ SupportedRoCompat
}
