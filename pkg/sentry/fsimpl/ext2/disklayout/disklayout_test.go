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
	"testing"

	"github.com/google/go-cmp/cmp"
	"posnk.dev/posnk/pkg/abi/linux"
)

func TestSizes(t *testing.T) {
	for _, test := range []struct {
		name string
		got  int
		want int
	}{
		{name: "superblock", got: (&SuperBlock{}).SizeBytes(), want: 1024},
		{name: "block group", got: (&BlockGroup{}).SizeBytes(), want: 32},
		{name: "inode", got: (&Inode{}).SizeBytes(), want: 128},
	} {
		if test.got != test.want {
			t.Errorf("%s size = %d, want %d", test.name, test.got, test.want)
		}
	}
}

func TestSuperBlockOffsets(t *testing.T) {
	sb := SuperBlock{
		BlocksCount:   0x11223344,
		Magic:         SuperBlockMagic,
		RevLevel:      RevDynamic,
		FirstInodeRaw: 11,
	}
	copy(sb.VolumeName[:], "vol")
	buf := make([]byte, SuperBlockSize)
	sb.MarshalBytes(buf)
	le := binary.LittleEndian
	if got := le.Uint32(buf[4:]); got != sb.BlocksCount {
		t.Errorf("blocks count at offset 4 = %#x", got)
	}
	if got := le.Uint16(buf[56:]); got != SuperBlockMagic {
		t.Errorf("magic at offset 56 = %#x", got)
	}
	if got := le.Uint32(buf[76:]); got != RevDynamic {
		t.Errorf("revision at offset 76 = %d", got)
	}
	if got := string(buf[120:123]); got != "vol" {
		t.Errorf("volume name at offset 120 = %q", got)
	}

	var back SuperBlock
	back.UnmarshalBytes(buf)
	if diff := cmp.Diff(sb, back); diff != "" {
		t.Errorf("superblock mismatch (-want +got):\n%s", diff)
	}
}

func TestSuperBlockGeometry(t *testing.T) {
	for _, test := range []struct {
		name       string
		sb         SuperBlock
		blockSize  uint32
		bgdt       uint32
		firstBlock uint32
		groups     uint32
		firstInode uint32
		inodeSize  uint16
	}{
		{
			name:       "1KiB revision 0",
			sb:         SuperBlock{BlocksCount: 9216, BlocksPerGroup: 8192, FirstInodeRaw: 99, InodeSizeRaw: 256},
			blockSize:  1024,
			bgdt:       2,
			firstBlock: 1,
			groups:     2,
			firstInode: 11,
			inodeSize:  128,
		},
		{
			name:       "4KiB revision 1",
			sb:         SuperBlock{LogBlockSize: 2, BlocksCount: 32768, BlocksPerGroup: 32768, RevLevel: RevDynamic, FirstInodeRaw: 12, InodeSizeRaw: 256},
			blockSize:  4096,
			bgdt:       1,
			firstBlock: 0,
			groups:     1,
			firstInode: 12,
			inodeSize:  256,
		},
		{
			name:      "empty",
			sb:        SuperBlock{BlocksCount: 1, BlocksPerGroup: 8192},
			blockSize:  1024,
			bgdt:       2,
			firstBlock: 1,
			groups:     0,
			firstInode: 11,
			inodeSize:  128,
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			sb := &test.sb
			if got := sb.BlockSize(); got != test.blockSize {
				t.Errorf("BlockSize() = %d, want %d", got, test.blockSize)
			}
			if got := sb.BgdtBlock(); got != test.bgdt {
				t.Errorf("BgdtBlock() = %d, want %d", got, test.bgdt)
			}
			if got := sb.FirstUsableBlock(); got != test.firstBlock {
				t.Errorf("FirstUsableBlock() = %d, want %d", got, test.firstBlock)
			}
			if got := sb.BlockGroupCount(); got != test.groups {
				t.Errorf("BlockGroupCount() = %d, want %d", got, test.groups)
			}
			if got := sb.FirstInode(); got != test.firstInode {
				t.Errorf("FirstInode() = %d, want %d", got, test.firstInode)
			}
			if got := sb.InodeSize(); got != test.inodeSize {
				t.Errorf("InodeSize() = %d, want %d", got, test.inodeSize)
			}
		})
	}
}

func TestFeatures(t *testing.T) {
	rev0 := SuperBlock{FeatureIncompat: SbExtents | SbDirentFileType}
	if rev0.UnsupportedIncompat() != 0 || rev0.HasFileType() {
		t.Errorf("revision 0 superblock reports features")
	}
	sb := SuperBlock{RevLevel: RevDynamic, FeatureIncompat: SbDirentFileType | SbExtents, FeatureRoCompat: SbSparse | SbBtreeDir}
	if !sb.HasFileType() {
		t.Errorf("HasFileType() = false")
	}
	if got := sb.UnsupportedIncompat(); got != SbExtents {
		t.Errorf("UnsupportedIncompat() = %#x, want %#x", got, SbExtents)
	}
	if got := sb.UnsupportedRoCompat(); got != SbBtreeDir {
		t.Errorf("UnsupportedRoCompat() = %#x, want %#x", got, SbBtreeDir)
	}
}

func TestInodeLayout(t *testing.T) {
	in := Inode{
		Mode:       ModeRegular | 0644,
		Size:       0x01020304,
		LinksCount: 1,
		Generation: 0xdeadbeef,
	}
	in.Block[0] = 100
	in.Block[TIndBlock] = 200
	buf := make([]byte, InodeRecordSize)
	in.MarshalBytes(buf)
	le := binary.LittleEndian
	for _, test := range []struct {
		name string
		off  int
		want uint32
	}{
		{name: "size", off: 4, want: 0x01020304},
		{name: "block 0", off: 40, want: 100},
		{name: "triple indirect", off: 40 + 4*TIndBlock, want: 200},
		{name: "generation", off: 100, want: 0xdeadbeef},
	} {
		if got := le.Uint32(buf[test.off:]); got != test.want {
			t.Errorf("%s at offset %d = %#x, want %#x", test.name, test.off, got, test.want)
		}
	}
	var back Inode
	back.UnmarshalBytes(buf)
	if diff := cmp.Diff(in, back); diff != "" {
		t.Errorf("inode mismatch (-want +got):\n%s", diff)
	}
}

func TestInodeData(t *testing.T) {
	link := Inode{Mode: ModeSymlink | 0777, Size: 5}
	link.Block[0] = binary.LittleEndian.Uint32([]byte("hell"))
	link.Block[1] = 'o'
	if !link.IsFastSymlink() || link.HasDataBlocks() {
		t.Errorf("short symlink is not fast")
	}
	if got := string(link.InlineData()[:5]); got != "hello" {
		t.Errorf("InlineData() = %q", got)
	}
	for _, test := range []struct {
		name string
		in   Inode
		want bool
	}{
		{name: "regular", in: Inode{Mode: ModeRegular}, want: true},
		{name: "directory", in: Inode{Mode: ModeDir}, want: true},
		{name: "slow symlink", in: Inode{Mode: ModeSymlink, Size: 100, Blocks: 2}, want: true},
		{name: "char device", in: Inode{Mode: ModeCharDev}},
		{name: "fifo", in: Inode{Mode: ModeFIFO}},
		{name: "socket", in: Inode{Mode: ModeSocket}},
	} {
		if got := test.in.HasDataBlocks(); got != test.want {
			t.Errorf("%s: HasDataBlocks() = %t, want %t", test.name, got, test.want)
		}
	}
}

func TestDirent(t *testing.T) {
	for _, test := range []struct {
		n    int
		want uint16
	}{
		{0, 8}, {1, 12}, {4, 12}, {5, 16}, {10, 20}, {255, 264},
	} {
		if got := RecordLengthFor(test.n); got != test.want {
			t.Errorf("RecordLengthFor(%d) = %d, want %d", test.n, got, test.want)
		}
	}

	d := Dirent{Inode: 12, RecordLength: 1012, NameLength: 3, FileType: FtRegular, Name: "abc"}
	buf := make([]byte, 16)
	if n := d.MarshalBytes(buf); n != 11 {
		t.Errorf("MarshalBytes wrote %d bytes, want 11", n)
	}
	var back Dirent
	back.UnmarshalHeader(buf)
	back.Name = string(buf[DirentHeaderSize : DirentHeaderSize+back.NameLength])
	if diff := cmp.Diff(d, back); diff != "" {
		t.Errorf("dirent mismatch (-want +got):\n%s", diff)
	}
	if d.IsHole() || d.TightLength() != 12 {
		t.Errorf("IsHole() = %t, TightLength() = %d", d.IsHole(), d.TightLength())
	}
	d.Inode = 0
	if !d.IsHole() {
		t.Errorf("entry with inode 0 is not a hole")
	}
}

func TestFileTypes(t *testing.T) {
	for _, mode := range []linux.FileMode{
		linux.ModeRegular, linux.ModeDirectory, linux.ModeSymlink, linux.ModeCharacterDevice,
		linux.ModeBlockDevice, linux.ModeNamedPipe, linux.ModeSocket,
	} {
		if got, want := DirentType(FileTypeFromMode(mode|0644)), mode.DirentType(); got != want {
			t.Errorf("DirentType(FileTypeFromMode(%v)) = %d, want %d", mode, got, want)
		}
	}
	if got := DirentType(FtUnknown); got != linux.DT_UNKNOWN {
		t.Errorf("DirentType(FtUnknown) = %d", got)
	}
}
