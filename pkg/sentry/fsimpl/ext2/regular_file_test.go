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

package ext2

import (
	"bytes"
	"context"
	"encoding/binary"
	"testing"

	"github.com/google/go-cmp/cmp"
	"posnk.dev/posnk/pkg/abi/linux"
	"posnk.dev/posnk/pkg/errors/linuxerr"
	"posnk.dev/posnk/pkg/sentry/fsimpl/ext2/disklayout"
	"posnk.dev/posnk/pkg/sentry/vfs"
)

func pattern(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*7%251 + 1)
	}
	return b
}

// writeFile writes data at off and extends the size the way the VFS does.
func writeFile(t *testing.T, ctx context.Context, fs *Filesystem, in *vfs.Inode, off int64, data []byte) {
	t.Helper()
	n, err := fs.Write(ctx, in, off, data)
	if err != nil {
		t.Fatalf("Write(%d, %d bytes) failed: %v", off, len(data), err)
	}
	if n != len(data) {
		t.Fatalf("Write(%d, %d bytes) wrote %d bytes", off, len(data), n)
	}
	in.Attrs.Size = max(in.Attrs.Size, off+int64(n))
	if err := fs.StoreInode(ctx, in); err != nil {
		t.Fatalf("StoreInode failed: %v", err)
	}
}

func readFile(t *testing.T, ctx context.Context, fs *Filesystem, in *vfs.Inode, off int64, n int) []byte {
	t.Helper()
	buf := make([]byte, n)
	got, err := fs.Read(ctx, in, off, buf)
	if err != nil {
		t.Fatalf("Read(%d, %d) failed: %v", off, n, err)
	}
	return buf[:got]
}

// TestWriteSingleIndirect writes two bytes into the single indirect range of
// an empty file: one data block and one indirect block are allocated.
func TestWriteSingleIndirect(t *testing.T) {
	ctx, fs, _ := setUpTiny(t)
	f := mknod(t, ctx, fs, rootInode(t, ctx, fs), "f", linux.ModeRegular|0644)
	off := int64(13*1024 + 4000)
	writeFile(t, ctx, fs, f, off, []byte("hi"))
	if got, want := f.Attrs.Blocks, uint64(2*(1024/512)); got != want {
		t.Errorf("blocks = %d, want %d", got, want)
	}
	if inodeOf(f).disk.Block[disklayout.IndBlock] == 0 {
		t.Errorf("no indirect block was allocated")
	}

	want := make([]byte, off+2)
	copy(want[off:], "hi")
	if diff := cmp.Diff(want, readFile(t, ctx, fs, f, 0, len(want)+10)); diff != "" {
		t.Errorf("file contents mismatch (-want +got):\n%s", diff)
	}

	// The block count survives a reload.
	if got := loadInode(t, ctx, fs, f.Ino()).Attrs.Blocks; got != 4 {
		t.Errorf("reloaded blocks = %d, want 4", got)
	}
}

func TestReadWrite(t *testing.T) {
	ctx, fs, _ := setUpTiny(t)
	f := mknod(t, ctx, fs, rootInode(t, ctx, fs), "f", linux.ModeRegular|0644)
	data := pattern(300 * 1024)
	writeFile(t, ctx, fs, f, 0, data)

	for _, test := range []struct {
		off int64
		n   int
	}{
		{off: 0, n: len(data)},
		{off: 1, n: 1023},
		{off: 1000, n: 100},
		{off: 12*1024 - 10, n: 20},
		{off: 268*1024 - 3, n: 4096},
		{off: int64(len(data)) - 5, n: 5},
	} {
		got := readFile(t, ctx, fs, f, test.off, test.n)
		if !bytes.Equal(got, data[test.off:test.off+int64(test.n)]) {
			t.Errorf("Read(%d, %d) returned wrong data", test.off, test.n)
		}
	}

	// Overwrite in place does not allocate.
	blocks := f.Attrs.Blocks
	writeFile(t, ctx, fs, f, 5000, []byte("overwrite"))
	if f.Attrs.Blocks != blocks {
		t.Errorf("overwrite changed blocks from %d to %d", blocks, f.Attrs.Blocks)
	}
	if got := readFile(t, ctx, fs, f, 5000, 9); string(got) != "overwrite" {
		t.Errorf("Read after overwrite = %q", got)
	}
}

func TestReadBounds(t *testing.T) {
	ctx, fs, _ := setUpTiny(t)
	f := mknod(t, ctx, fs, rootInode(t, ctx, fs), "f", linux.ModeRegular|0644)
	writeFile(t, ctx, fs, f, 0, []byte("a"))
	writeFile(t, ctx, fs, f, 50000, []byte("b"))

	got := readFile(t, ctx, fs, f, 0, 60000)
	want := make([]byte, 50001)
	want[0], want[50000] = 'a', 'b'
	if !bytes.Equal(got, want) {
		t.Errorf("Read over a hole returned wrong data")
	}
	if n, err := fs.Read(ctx, f, 50002, make([]byte, 1)); !linuxerr.Equals(linuxerr.EINVAL, err) {
		t.Errorf("Read past EOF = %d, %v, want EINVAL", n, err)
	}
	if n, err := fs.Read(ctx, f, 50001, make([]byte, 1)); err != nil || n != 0 {
		t.Errorf("Read at EOF = %d, %v, want 0, nil", n, err)
	}
	if _, err := fs.Write(ctx, f, maxFileSize-1, []byte("xy")); !linuxerr.Equals(linuxerr.EFBIG, err) {
		t.Errorf("Write past the size limit returned %v, want EFBIG", err)
	}
}

func TestTruncate(t *testing.T) {
	ctx, fs, _ := setUpTiny(t)
	f := mknod(t, ctx, fs, rootInode(t, ctx, fs), "f", linux.ModeRegular|0644)
	free := statfs(t, ctx, fs).BlocksFree
	data := pattern(300 * 1024)
	writeFile(t, ctx, fs, f, 0, data)
	// 300 data blocks, the single indirect block, the double indirect block
	// and one of its children.
	if got, want := statfs(t, ctx, fs).BlocksFree, free-303; got != want {
		t.Fatalf("BlocksFree after write = %d, want %d", got, want)
	}

	if err := fs.Truncate(ctx, f, 5000); err != nil {
		t.Fatalf("Truncate(5000) failed: %v", err)
	}
	if got, want := statfs(t, ctx, fs).BlocksFree, free-5; got != want {
		t.Errorf("BlocksFree after shrinking = %d, want %d", got, want)
	}
	if f.Attrs.Size != 5000 || f.Attrs.Blocks != 10 {
		t.Errorf("after shrinking size = %d, blocks = %d, want 5000, 10", f.Attrs.Size, f.Attrs.Blocks)
	}
	ii := inodeOf(f)
	if ii.disk.Block[disklayout.IndBlock] != 0 || ii.disk.Block[disklayout.DIndBlock] != 0 {
		t.Errorf("indirect blocks survived shrinking: %v", ii.disk.Block)
	}

	// Growing is sparse and the old tail reads as zeros.
	if err := fs.Truncate(ctx, f, int64(len(data))); err != nil {
		t.Fatalf("Truncate(%d) failed: %v", len(data), err)
	}
	if got, want := statfs(t, ctx, fs).BlocksFree, free-5; got != want {
		t.Errorf("BlocksFree after growing = %d, want %d", got, want)
	}
	got := readFile(t, ctx, fs, f, 0, len(data))
	want := make([]byte, len(data))
	copy(want, data[:5000])
	if !bytes.Equal(got, want) {
		t.Errorf("contents after shrink and grow are wrong")
	}
}

func TestTruncatePartialIndirect(t *testing.T) {
	ctx, fs, _ := setUpTiny(t)
	f := mknod(t, ctx, fs, rootInode(t, ctx, fs), "f", linux.ModeRegular|0644)
	writeFile(t, ctx, fs, f, 0, pattern(270*1024))
	free := statfs(t, ctx, fs).BlocksFree

	if err := fs.Truncate(ctx, f, 269*1024); err != nil {
		t.Fatalf("Truncate failed: %v", err)
	}
	if got, want := statfs(t, ctx, fs).BlocksFree, free+1; got != want {
		t.Errorf("BlocksFree = %d, want %d", got, want)
	}
	ii := inodeOf(f)
	if ii.disk.Block[disklayout.DIndBlock] == 0 {
		t.Errorf("double indirect block was freed while still in use")
	}
	if phys, err := fs.decode(ii, firstDouble); err != nil || phys == 0 {
		t.Errorf("decode(%d) = %d, %v, want a mapped block", firstDouble, phys, err)
	}
	if phys, err := fs.decode(ii, firstDouble+1); err != nil || phys != 0 {
		t.Errorf("decode(%d) = %d, %v, want 0, nil", firstDouble+1, phys, err)
	}
}

func TestRmnod(t *testing.T) {
	ctx, fs, _ := setUpTiny(t)
	root := rootInode(t, ctx, fs)
	before := statfs(t, ctx, fs)
	f := mknod(t, ctx, fs, root, "f", linux.ModeRegular|0644)
	writeFile(t, ctx, fs, f, 0, pattern(300*1024))
	if err := fs.Unlink(ctx, root, "f"); err != nil {
		t.Fatalf("Unlink failed: %v", err)
	}
	if err := fs.Rmnod(ctx, f); err != nil {
		t.Fatalf("Rmnod failed: %v", err)
	}
	after := statfs(t, ctx, fs)
	if after.BlocksFree != before.BlocksFree || after.FilesFree != before.FilesFree {
		t.Errorf("after Rmnod free blocks/inodes = %d/%d, want %d/%d", after.BlocksFree, after.FilesFree, before.BlocksFree, before.FilesFree)
	}
	var disk disklayout.Inode
	if err := fs.readInode(f.Ino(), &disk); err != nil {
		t.Fatalf("readInode failed: %v", err)
	}
	if disk.LinksCount != 0 || disk.Dtime != uint32(testTime.Unix()) {
		t.Errorf("removed inode has links %d, dtime %d", disk.LinksCount, disk.Dtime)
	}
}

func TestDeviceNode(t *testing.T) {
	ctx, fs, _ := setUpTiny(t)
	root := rootInode(t, ctx, fs)
	in := vfs.NewInode(nil, 0)
	in.Attrs = vfs.InodeAttrs{Mode: linux.ModeCharacterDevice | 0600, Links: 1, Rdev: linux.MakeDeviceID(1, 3)}
	if err := fs.Mknod(ctx, root, in); err != nil {
		t.Fatalf("Mknod failed: %v", err)
	}
	got := loadInode(t, ctx, fs, in.Ino())
	if diff := cmp.Diff(in.Attrs, got.Attrs); diff != "" {
		t.Errorf("device node attributes mismatch (-want +got):\n%s", diff)
	}
	free := statfs(t, ctx, fs)
	if err := fs.Rmnod(ctx, got); err != nil {
		t.Fatalf("Rmnod failed: %v", err)
	}
	// The device number is not a block pointer.
	if after := statfs(t, ctx, fs); after.BlocksFree != free.BlocksFree || after.FilesFree != free.FilesFree+1 {
		t.Errorf("Rmnod of a device node changed free blocks from %d to %d", free.BlocksFree, after.BlocksFree)
	}
}

func TestFastSymlink(t *testing.T) {
	ctx, fs, _ := setUpTiny(t)
	root := rootInode(t, ctx, fs)
	in := mknod(t, ctx, fs, root, "link", linux.ModeSymlink|0777)
	target := "some/relative/target"
	var inline [disklayout.NumBlockPointers * 4]byte
	copy(inline[:], target)
	ii := inodeOf(in)
	for i := range ii.disk.Block {
		ii.disk.Block[i] = binary.LittleEndian.Uint32(inline[i*4:])
	}
	in.Attrs.Size = int64(len(target))
	if err := fs.StoreInode(ctx, in); err != nil {
		t.Fatalf("StoreInode failed: %v", err)
	}

	got := loadInode(t, ctx, fs, in.Ino())
	if s := string(readFile(t, ctx, fs, got, 0, 100)); s != target {
		t.Errorf("fast symlink target = %q, want %q", s, target)
	}
}
