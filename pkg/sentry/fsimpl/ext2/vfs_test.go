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
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"posnk.dev/posnk/pkg/abi/linux"
	"posnk.dev/posnk/pkg/errors/linuxerr"
	"posnk.dev/posnk/pkg/sentry/devices"
	"posnk.dev/posnk/pkg/sentry/fsimpl/ext2/disklayout"
	"posnk.dev/posnk/pkg/sentry/kernel/auth"
	"posnk.dev/posnk/pkg/sentry/vfs"
)

// formatDevice returns a memory device holding a fresh filesystem.
func formatDevice(t *testing.T, size int64) *devices.MemoryDevice {
	t.Helper()
	dev := devices.NewMemoryDevice(size)
	if err := Format(dev, size, FormatOptions{Now: testNow}); err != nil {
		t.Fatalf("Format failed: %v", err)
	}
	return dev
}

// newVFS mounts dev as the root of a new VirtualFilesystem.
func newVFS(t *testing.T, dev devices.BlockDevice, opts vfs.GetFilesystemOptions) (context.Context, *vfs.VirtualFilesystem) {
	t.Helper()
	v := vfs.New(nil, vfs.Options{Now: testNow})
	if err := v.RegisterFilesystemType(FilesystemType{}); err != nil {
		t.Fatalf("RegisterFilesystemType failed: %v", err)
	}
	ctx := auth.ContextWithCredentials(context.Background(), auth.NewRootCredentials())
	if err := v.MountRoot(ctx, Name, dev, opts); err != nil {
		t.Fatalf("MountRoot failed: %v", err)
	}
	return ctx, v
}

func vfsStatfs(t *testing.T, ctx context.Context, v *vfs.VirtualFilesystem, path string) vfs.Statfs {
	t.Helper()
	st, err := v.Statfs(ctx, path)
	if err != nil {
		t.Fatalf("Statfs(%q) failed: %v", path, err)
	}
	return st
}

func vfsStat(t *testing.T, ctx context.Context, v *vfs.VirtualFilesystem, path string) vfs.Statx {
	t.Helper()
	st, err := v.Stat(ctx, path)
	if err != nil {
		t.Fatalf("Stat(%q) failed: %v", path, err)
	}
	return st
}

func vfsNames(t *testing.T, ctx context.Context, v *vfs.VirtualFilesystem, path string) []string {
	t.Helper()
	fd, err := v.Open(ctx, path, vfs.OpenOptions{Flags: linux.O_RDONLY | linux.O_DIRECTORY})
	if err != nil {
		t.Fatalf("Open(%q) failed: %v", path, err)
	}
	defer fd.Close(ctx)
	var names []string
	for {
		ds, err := fd.Getdents(ctx, 256)
		if err != nil {
			t.Fatalf("Getdents(%q) failed: %v", path, err)
		}
		if len(ds) == 0 {
			return names
		}
		for _, d := range ds {
			names = append(names, d.Name)
		}
	}
}

func TestVFSReadWrite(t *testing.T) {
	ctx, v := newVFS(t, formatDevice(t, mib), vfs.GetFilesystemOptions{})
	if err := v.Mkdir(ctx, "/home", 0755); err != nil {
		t.Fatalf("Mkdir failed: %v", err)
	}
	start := vfsStatfs(t, ctx, v, "/")

	fd, err := v.Open(ctx, "/home/notes", vfs.OpenOptions{Flags: linux.O_CREAT | linux.O_RDWR, Mode: 0644})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	data := bytes.Repeat([]byte("ext2"), 768)
	if n, err := fd.Write(ctx, data); n != len(data) || err != nil {
		t.Fatalf("Write: got (%d, %v), want (%d, nil)", n, err, len(data))
	}
	st := fd.Stat()
	if st.Size != int64(len(data)) || st.Blocks != 6 {
		t.Errorf("after Write: size %d blocks %d, want %d and 6", st.Size, st.Blocks, len(data))
	}
	if got := vfsStatfs(t, ctx, v, "/"); got.BlocksFree != start.BlocksFree-3 || got.FilesFree != start.FilesFree-1 {
		t.Errorf("after Write: %d free blocks %d free inodes, want %d and %d", got.BlocksFree, got.FilesFree, start.BlocksFree-3, start.FilesFree-1)
	}

	buf := make([]byte, 2*len(data))
	n, err := fd.PRead(ctx, buf, 0)
	if err != nil || !bytes.Equal(buf[:n], data) {
		t.Errorf("PRead: got %d bytes, err %v; data mismatch %t", n, err, !bytes.Equal(buf[:n], data))
	}

	if err := fd.Truncate(ctx, 1000); err != nil {
		t.Fatalf("Truncate failed: %v", err)
	}
	if got := vfsStatfs(t, ctx, v, "/"); got.BlocksFree != start.BlocksFree-1 {
		t.Errorf("after Truncate: %d free blocks, want %d", got.BlocksFree, start.BlocksFree-1)
	}
	if st := fd.Stat(); st.Size != 1000 || st.Blocks != 2 {
		t.Errorf("after Truncate: size %d blocks %d, want 1000 and 2", st.Size, st.Blocks)
	}
	fd.Close(ctx)

	if err := v.Unlink(ctx, "/home/notes"); err != nil {
		t.Fatalf("Unlink failed: %v", err)
	}
	if got := vfsStatfs(t, ctx, v, "/"); got.BlocksFree != start.BlocksFree || got.FilesFree != start.FilesFree {
		t.Errorf("after Unlink: %d free blocks %d free inodes, want %d and %d", got.BlocksFree, got.FilesFree, start.BlocksFree, start.FilesFree)
	}
}

func TestVFSDirectories(t *testing.T) {
	ctx, v := newVFS(t, formatDevice(t, mib), vfs.GetFilesystemOptions{})
	if diff := cmp.Diff([]string{".", "..", "lost+found"}, vfsNames(t, ctx, v, "/")); diff != "" {
		t.Errorf("root entries mismatch (-want +got):\n%s", diff)
	}
	for _, path := range []string{"/a", "/a/b"} {
		if err := v.Mkdir(ctx, path, 0755); err != nil {
			t.Fatalf("Mkdir(%q) failed: %v", path, err)
		}
	}
	if got := vfsStat(t, ctx, v, "/").Links; got != 4 {
		t.Errorf("root links: got %d, want 4", got)
	}
	if got := vfsStat(t, ctx, v, "/a").Links; got != 3 {
		t.Errorf("/a links: got %d, want 3", got)
	}
	if got, want := vfsStat(t, ctx, v, "/a/b/..").Ino, vfsStat(t, ctx, v, "/a").Ino; got != want {
		t.Errorf("/a/b/..: got inode %d, want %d", got, want)
	}

	if err := v.Rmdir(ctx, "/a"); !linuxerr.Equals(linuxerr.ENOTEMPTY, err) {
		t.Errorf("Rmdir of non-empty directory: got %v, want ENOTEMPTY", err)
	}
	for _, path := range []string{"/a/b", "/a"} {
		if err := v.Rmdir(ctx, path); err != nil {
			t.Fatalf("Rmdir(%q) failed: %v", path, err)
		}
	}
	if got := vfsStat(t, ctx, v, "/").Links; got != 3 {
		t.Errorf("root links after Rmdir: got %d, want 3", got)
	}
	if diff := cmp.Diff([]string{".", "..", "lost+found"}, vfsNames(t, ctx, v, "/")); diff != "" {
		t.Errorf("root entries after Rmdir mismatch (-want +got):\n%s", diff)
	}
}

func TestVFSChmodChown(t *testing.T) {
	dev := formatDevice(t, mib)
	ctx, v := newVFS(t, dev, vfs.GetFilesystemOptions{})
	if err := v.Mknod(ctx, "/f", linux.ModeRegular|0644, 0); err != nil {
		t.Fatalf("Mknod failed: %v", err)
	}
	if err := v.Chmod(ctx, "/f", 01750); err != nil {
		t.Fatalf("Chmod failed: %v", err)
	}
	if err := v.Chown(ctx, "/f", 1000, 100); err != nil {
		t.Fatalf("Chown failed: %v", err)
	}
	if err := v.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	ctx, v = newVFS(t, dev, vfs.GetFilesystemOptions{ReadOnly: true})
	st := vfsStat(t, ctx, v, "/f")
	if st.Mode != linux.ModeRegular|01750 || st.UID != 1000 || st.GID != 100 {
		t.Errorf("after remount: mode %v owner %d:%d, want %v 1000:100", st.Mode, st.UID, st.GID, linux.FileMode(linux.ModeRegular|01750))
	}
	if err := v.Chmod(ctx, "/f", 0600); !linuxerr.Equals(linuxerr.EROFS, err) {
		t.Errorf("Chmod on read-only mount: got %v, want EROFS", err)
	}
}

func TestVFSEntryReuse(t *testing.T) {
	ctx, v := newVFS(t, formatDevice(t, mib), vfs.GetFilesystemOptions{})
	if err := v.Mkdir(ctx, "/d", 0755); err != nil {
		t.Fatalf("Mkdir failed: %v", err)
	}
	for _, name := range []string{"x1", "x2", "x3"} {
		if err := v.Mknod(ctx, "/d/"+name, linux.ModeRegular|0644, 0); err != nil {
			t.Fatalf("Mknod(%q) failed: %v", name, err)
		}
	}
	size := vfsStat(t, ctx, v, "/d").Size
	if err := v.Unlink(ctx, "/d/x2"); err != nil {
		t.Fatalf("Unlink failed: %v", err)
	}
	if err := v.Mknod(ctx, "/d/y", linux.ModeRegular|0644, 0); err != nil {
		t.Fatalf("Mknod failed: %v", err)
	}
	// The new entry takes the space x2 left behind.
	if diff := cmp.Diff([]string{".", "..", "x1", "y", "x3"}, vfsNames(t, ctx, v, "/d")); diff != "" {
		t.Errorf("entries mismatch (-want +got):\n%s", diff)
	}
	if got := vfsStat(t, ctx, v, "/d").Size; got != size {
		t.Errorf("directory size: got %d, want %d", got, size)
	}
}

func TestVFSSymlinks(t *testing.T) {
	ctx, v := newVFS(t, formatDevice(t, mib), vfs.GetFilesystemOptions{})
	long := "/" + strings.Repeat("d", 100)
	if err := v.Mkdir(ctx, long, 0755); err != nil {
		t.Fatalf("Mkdir failed: %v", err)
	}
	for _, test := range []struct {
		path   string
		target string
	}{
		{path: "/short", target: "lost+found"},
		{path: "/long", target: long},
	} {
		if err := v.Symlink(ctx, test.target, test.path); err != nil {
			t.Fatalf("Symlink(%q) failed: %v", test.path, err)
		}
		if got, err := v.Readlink(ctx, test.path); err != nil || got != test.target {
			t.Errorf("Readlink(%q): got (%q, %v), want (%q, nil)", test.path, got, err, test.target)
		}
		if st := vfsStat(t, ctx, v, test.path); st.Mode.FileType() != linux.ModeDirectory {
			t.Errorf("Stat(%q) did not follow the link: mode %v", test.path, st.Mode)
		}
	}
	if err := v.Unlink(ctx, "/long"); err != nil {
		t.Fatalf("Unlink failed: %v", err)
	}
	if _, err := v.Lstat(ctx, "/long"); !linuxerr.Equals(linuxerr.ENOENT, err) {
		t.Errorf("Lstat after Unlink: got %v, want ENOENT", err)
	}
}

func TestVFSMountImage(t *testing.T) {
	ctx, v := newVFS(t, formatDevice(t, mib), vfs.GetFilesystemOptions{})
	image := formatDevice(t, 2*mib)
	id := devices.ID{Major: 8, Minor: 16}
	if err := v.Devices().RegisterBlock(id, image); err != nil {
		t.Fatalf("RegisterBlock failed: %v", err)
	}
	if err := v.Mknod(ctx, "/sdb", linux.ModeBlockDevice|0600, id.DeviceID()); err != nil {
		t.Fatalf("Mknod failed: %v", err)
	}
	if err := v.Mkdir(ctx, "/mnt", 0755); err != nil {
		t.Fatalf("Mkdir failed: %v", err)
	}
	if err := v.Mount(ctx, "/sdb", "/mnt", Name, vfs.GetFilesystemOptions{Data: "errors=continue"}); err != nil {
		t.Fatalf("Mount failed: %v", err)
	}
	if got := vfsStatfs(t, ctx, v, "/mnt").Blocks; got != 2048 {
		t.Errorf("Statfs(/mnt) blocks: got %d, want 2048", got)
	}
	if got := vfsStat(t, ctx, v, "/mnt/lost+found").Dev; got != id.DeviceID() {
		t.Errorf("device of /mnt/lost+found: got %#x, want %#x", got, id.DeviceID())
	}

	fd, err := v.Open(ctx, "/mnt/hello", vfs.OpenOptions{Flags: linux.O_CREAT | linux.O_WRONLY, Mode: 0644})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if _, err := fd.Write(ctx, []byte("hello, image")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	fd.Close(ctx)
	if err := v.Unmount(ctx, "/mnt"); err != nil {
		t.Fatalf("Unmount failed: %v", err)
	}
	if sb := readSuperBlock(t, image); sb.State&disklayout.StateValid == 0 {
		t.Errorf("unmounted image is not marked clean")
	}

	// The image keeps the file, and a read-only mount refuses changes.
	ctx2, v2 := newVFS(t, image, vfs.GetFilesystemOptions{ReadOnly: true})
	rfd, err := v2.Open(ctx2, "/hello", vfs.OpenOptions{Flags: linux.O_RDONLY})
	if err != nil {
		t.Fatalf("Open on remounted image failed: %v", err)
	}
	defer rfd.Close(ctx2)
	buf := make([]byte, 64)
	n, err := rfd.Read(ctx2, buf)
	if err != nil || string(buf[:n]) != "hello, image" {
		t.Errorf("Read: got (%q, %v), want (%q, nil)", buf[:n], err, "hello, image")
	}
	if err := v2.Mknod(ctx2, "/new", linux.ModeRegular|0644, 0); !linuxerr.Equals(linuxerr.EROFS, err) {
		t.Errorf("Mknod on read-only mount: got %v, want EROFS", err)
	}
}

func TestVFSBadMountData(t *testing.T) {
	v := vfs.New(nil, vfs.Options{})
	if err := v.RegisterFilesystemType(FilesystemType{}); err != nil {
		t.Fatalf("RegisterFilesystemType failed: %v", err)
	}
	ctx := auth.ContextWithCredentials(context.Background(), auth.NewRootCredentials())
	err := v.MountRoot(ctx, Name, formatDevice(t, mib), vfs.GetFilesystemOptions{Data: "bogus"})
	if !linuxerr.Equals(linuxerr.EINVAL, err) {
		t.Errorf("MountRoot with bad options: got %v, want EINVAL", err)
	}
}
