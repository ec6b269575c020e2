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
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/sync/errgroup"
	"posnk.dev/posnk/pkg/abi/linux"
	"posnk.dev/posnk/pkg/errors/linuxerr"
	"posnk.dev/posnk/pkg/sentry/devices"
	"posnk.dev/posnk/pkg/sentry/kernel/auth"
)

// testClock is a manually advanced clock for Options.Now.
type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time {
	return c.now
}

func (c *testClock) Advance() {
	c.now = c.now.Add(time.Minute)
}

func TestReadWriteSeek(t *testing.T) {
	vfs, _ := newTestVFS(t, Options{})
	ctx := rootContext()
	fd := mustOpen(t, ctx, vfs, "/f", linux.O_CREAT|linux.O_RDWR, 0644)
	defer fd.Close(ctx)

	if n, err := fd.Write(ctx, []byte("hello")); n != 5 || err != nil {
		t.Fatalf("Write: got (%d, %v), want (5, nil)", n, err)
	}
	if off, err := fd.Seek(ctx, 0, linux.SEEK_SET); off != 0 || err != nil {
		t.Fatalf("Seek: got (%d, %v), want (0, nil)", off, err)
	}
	buf := make([]byte, 10)
	n, err := fd.Read(ctx, buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got := string(buf[:n]); got != "hello" {
		t.Errorf("Read: got %q, want %q", got, "hello")
	}
	if n, err := fd.Read(ctx, buf); n != 0 || err != nil {
		t.Errorf("Read at end of file: got (%d, %v), want (0, nil)", n, err)
	}

	// Writing past the end fills the gap with zeros.
	if n, err := fd.PWrite(ctx, []byte("xy"), 10); n != 2 || err != nil {
		t.Fatalf("PWrite: got (%d, %v), want (2, nil)", n, err)
	}
	if st := fd.Stat(); st.Size != 12 {
		t.Errorf("size after PWrite: got %d, want 12", st.Size)
	}
	buf = make([]byte, 20)
	n, err = fd.PRead(ctx, buf, 0)
	if err != nil {
		t.Fatalf("PRead: %v", err)
	}
	if want := []byte("hello\x00\x00\x00\x00\x00xy"); !bytes.Equal(buf[:n], want) {
		t.Errorf("PRead: got %q, want %q", buf[:n], want)
	}

	// PRead and PWrite leave the offset alone.
	if off, err := fd.Seek(ctx, 0, linux.SEEK_CUR); off != 5 || err != nil {
		t.Errorf("Seek(SEEK_CUR): got (%d, %v), want (5, nil)", off, err)
	}
	if off, err := fd.Seek(ctx, -2, linux.SEEK_END); off != 10 || err != nil {
		t.Errorf("Seek(SEEK_END): got (%d, %v), want (10, nil)", off, err)
	}
	_, err = fd.Seek(ctx, -100, linux.SEEK_CUR)
	wantErr(t, "Seek before start", err, linuxerr.EINVAL)
	_, err = fd.Seek(ctx, 0, 7)
	wantErr(t, "Seek with bad whence", err, linuxerr.EINVAL)
	_, err = fd.PRead(ctx, buf, -1)
	wantErr(t, "PRead at negative offset", err, linuxerr.EINVAL)

	app := mustOpen(t, ctx, vfs, "/f", linux.O_WRONLY|linux.O_APPEND, 0)
	defer app.Close(ctx)
	if _, err := app.Write(ctx, []byte("!")); err != nil {
		t.Fatalf("append Write: %v", err)
	}
	if st := mustStat(t, ctx, vfs, "/f"); st.Size != 13 {
		t.Errorf("size after append: got %d, want 13", st.Size)
	}
}

func TestWriteTimestamps(t *testing.T) {
	clock := &testClock{now: testTime}
	vfs, _ := newTestVFS(t, Options{Now: clock.Now})
	ctx := rootContext()
	fd := mustOpen(t, ctx, vfs, "/f", linux.O_CREAT|linux.O_RDWR, 0644)
	defer fd.Close(ctx)
	created := fd.Stat()
	if created.Mtime != testTime.Unix() || created.Atime != testTime.Unix() {
		t.Errorf("new file times: got atime %d mtime %d, want %d", created.Atime, created.Mtime, testTime.Unix())
	}
	dir := mustStat(t, ctx, vfs, "/")
	if dir.Mtime != testTime.Unix() {
		t.Errorf("directory mtime after create: got %d, want %d", dir.Mtime, testTime.Unix())
	}

	clock.Advance()
	if n, err := fd.Write(ctx, nil); n != 0 || err != nil {
		t.Fatalf("empty Write: got (%d, %v), want (0, nil)", n, err)
	}
	if st := fd.Stat(); st.Mtime != created.Mtime || st.Size != 0 {
		t.Errorf("empty Write changed the file: mtime %d size %d", st.Mtime, st.Size)
	}

	if _, err := fd.Write(ctx, []byte("data")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	written := fd.Stat()
	if want := clock.now.Unix(); written.Mtime != want || written.Ctime != want {
		t.Errorf("after Write: got mtime %d ctime %d, want %d", written.Mtime, written.Ctime, want)
	}

	clock.Advance()
	if _, err := fd.PRead(ctx, make([]byte, 4), 0); err != nil {
		t.Fatalf("PRead: %v", err)
	}
	if st := fd.Stat(); st.Atime != clock.now.Unix() || st.Mtime != written.Mtime {
		t.Errorf("after Read: got atime %d mtime %d, want %d and %d", st.Atime, st.Mtime, clock.now.Unix(), written.Mtime)
	}
}

func TestKindErrors(t *testing.T) {
	vfs, _ := newTestVFS(t, Options{})
	ctx := rootContext()
	mustMkdir(t, ctx, vfs, "/d", 0755)
	mustMknod(t, ctx, vfs, "/f", linux.ModeRegular|0644)
	if err := vfs.Symlink(ctx, "/f", "/s"); err != nil {
		t.Fatalf("Symlink: %v", err)
	}
	null := devices.ID{Major: devices.MemMajor, Minor: 3}
	if err := vfs.Mknod(ctx, "/null", linux.ModeCharacterDevice|0666, null.DeviceID()); err != nil {
		t.Fatalf("Mknod: %v", err)
	}

	d := mustResolve(t, ctx, vfs, "/d", 0)
	defer d.DecRef(ctx)
	_, err := vfs.Read(ctx, d, 0, make([]byte, 1), false)
	wantErr(t, "Read of directory", err, linuxerr.EISDIR)
	_, err = vfs.Write(ctx, d, 0, []byte("x"), false)
	wantErr(t, "Write of directory", err, linuxerr.EISDIR)
	wantErr(t, "Truncate of directory", vfs.Truncate(ctx, d, 0), linuxerr.EISDIR)

	f := mustResolve(t, ctx, vfs, "/f", 0)
	defer f.DecRef(ctx)
	_, _, err = vfs.Getdents(ctx, f, 0, 4096)
	wantErr(t, "Getdents of file", err, linuxerr.ENOTDIR)
	wantErr(t, "Truncate to negative size", vfs.Truncate(ctx, f, -1), linuxerr.EINVAL)

	dev := mustResolve(t, ctx, vfs, "/null", 0)
	defer dev.DecRef(ctx)
	wantErr(t, "Truncate of character device", vfs.Truncate(ctx, dev, 0), linuxerr.EINVAL)

	for _, test := range []struct {
		name  string
		path  string
		flags uint32
		want  error
	}{
		{name: "directory for writing", path: "/d", flags: linux.O_WRONLY, want: linuxerr.EISDIR},
		{name: "directory with O_TRUNC", path: "/d", flags: linux.O_RDONLY | linux.O_TRUNC, want: linuxerr.EISDIR},
		{name: "O_DIRECTORY on file", path: "/f", flags: linux.O_RDONLY | linux.O_DIRECTORY, want: linuxerr.ENOTDIR},
		{name: "O_NOFOLLOW on symlink", path: "/s", flags: linux.O_RDONLY | linux.O_NOFOLLOW, want: linuxerr.ELOOP},
		{name: "O_EXCL on existing file", path: "/f", flags: linux.O_CREAT | linux.O_EXCL | linux.O_RDWR, want: linuxerr.EEXIST},
		{name: "missing", path: "/missing", flags: linux.O_RDONLY, want: linuxerr.ENOENT},
	} {
		t.Run(test.name, func(t *testing.T) {
			fd, err := vfs.Open(ctx, test.path, OpenOptions{Flags: test.flags, Mode: 0644})
			if err == nil {
				fd.Close(ctx)
			}
			wantErr(t, "Open", err, test.want)
		})
	}

	// Without O_NOFOLLOW the link is followed.
	fd := mustOpen(t, ctx, vfs, "/s", linux.O_RDONLY, 0)
	if got := fd.Stat().Mode.FileType(); got != linux.ModeRegular {
		t.Errorf("Open(/s) file type: got %v, want %v", got, linux.FileMode(linux.ModeRegular))
	}
	fd.Close(ctx)
}

func TestPermissions(t *testing.T) {
	vfs, _ := newTestVFS(t, Options{})
	ctx := rootContext()
	mustMknod(t, ctx, vfs, "/ro", linux.ModeRegular|0444)
	mustMkdir(t, ctx, vfs, "/home", 0777)
	uctx := userContext()

	ro := mustResolve(t, ctx, vfs, "/ro", 0)
	defer ro.DecRef(ctx)
	_, err := vfs.Write(uctx, ro, 0, []byte("x"), false)
	wantErr(t, "Write without permission", err, linuxerr.EBADF)
	wantErr(t, "Truncate without permission", vfs.Truncate(uctx, ro, 0), linuxerr.EACCES)
	if _, err := vfs.Read(uctx, ro, 0, make([]byte, 1), false); err != nil {
		t.Errorf("Read of world-readable file: %v", err)
	}
	// Root overrides permission bits.
	if _, err := vfs.Write(ctx, ro, 0, []byte("x"), false); err != nil {
		t.Errorf("Write as root: %v", err)
	}

	_, err = vfs.Open(uctx, "/ro", OpenOptions{Flags: linux.O_WRONLY})
	wantErr(t, "Open for writing without permission", err, linuxerr.EACCES)
	_, err = vfs.Open(uctx, "/ro", OpenOptions{Flags: linux.O_RDONLY | linux.O_TRUNC})
	wantErr(t, "Open with O_TRUNC without permission", err, linuxerr.EACCES)
	wantErr(t, "Mknod in root-owned directory", vfs.Mknod(uctx, "/x", linux.ModeRegular|0644, 0), linuxerr.EACCES)
	wantErr(t, "Mkdir in root-owned directory", vfs.Mkdir(uctx, "/x", 0755), linuxerr.EACCES)

	mustMknod(t, uctx, vfs, "/home/u", linux.ModeRegular|0600)
	st := mustStat(t, uctx, vfs, "/home/u")
	if st.UID != testUID || st.GID != testUID {
		t.Errorf("owner of new file: got %d:%d, want %d:%d", st.UID, st.GID, testUID, testUID)
	}
	fd := mustOpen(t, uctx, vfs, "/home/u", linux.O_RDONLY, 0)
	defer fd.Close(uctx)
	_, err = fd.Write(uctx, []byte("x"))
	wantErr(t, "Write to read-only file description", err, linuxerr.EBADF)
	wantErr(t, "Truncate of read-only file description", fd.Truncate(uctx, 0), linuxerr.EINVAL)

	wfd := mustOpen(t, uctx, vfs, "/home/u", linux.O_WRONLY, 0)
	defer wfd.Close(uctx)
	_, err = wfd.Read(uctx, make([]byte, 1))
	wantErr(t, "Read from write-only file description", err, linuxerr.EBADF)
}

func TestStickyDirectory(t *testing.T) {
	vfs, _ := newTestVFS(t, Options{})
	ctx := rootContext()
	mustMkdir(t, ctx, vfs, "/tmp", 0777|linux.ModeSticky)
	owner := userContext()
	other := auth.ContextWithCredentials(context.Background(), auth.NewUserCredentials(testUID+1, testUID+1, nil))
	mustMknod(t, owner, vfs, "/tmp/mine", linux.ModeRegular|0666)

	wantErr(t, "Unlink of another user's file", vfs.Unlink(other, "/tmp/mine"), linuxerr.EPERM)
	if err := vfs.Unlink(owner, "/tmp/mine"); err != nil {
		t.Errorf("Unlink by owner: %v", err)
	}
}

func TestGetdents(t *testing.T) {
	vfs, _ := newTestVFS(t, Options{})
	ctx := rootContext()
	mustMkdir(t, ctx, vfs, "/d", 0755)
	want := []string{".", ".."}
	for _, name := range []string{"e1", "e2", "e3", "e4", "e5"} {
		mustMknod(t, ctx, vfs, "/d/"+name, linux.ModeRegular|0644)
		want = append(want, name)
	}

	readAll := func(count int) []string {
		t.Helper()
		fd := mustOpen(t, ctx, vfs, "/d", linux.O_RDONLY|linux.O_DIRECTORY, 0)
		defer fd.Close(ctx)
		var names []string
		for {
			dirents, err := fd.Getdents(ctx, count)
			if err != nil {
				t.Fatalf("Getdents(%d): %v", count, err)
			}
			if len(dirents) == 0 {
				return names
			}
			for _, d := range dirents {
				names = append(names, d.Name)
			}
		}
	}
	if diff := cmp.Diff(want, readAll(4096)); diff != "" {
		t.Errorf("Getdents mismatch (-want +got):\n%s", diff)
	}
	// Each call fits exactly one entry.
	if diff := cmp.Diff(want, readAll(DirentSize("e1"))); diff != "" {
		t.Errorf("Getdents one at a time mismatch (-want +got):\n%s", diff)
	}

	fd := mustOpen(t, ctx, vfs, "/d", linux.O_RDONLY, 0)
	defer fd.Close(ctx)
	_, err := fd.Getdents(ctx, 1)
	wantErr(t, "Getdents with small buffer", err, linuxerr.ErrBufferTooSmall)

	dirents, err := fd.Getdents(ctx, 4096)
	if err != nil {
		t.Fatalf("Getdents: %v", err)
	}
	if got := dirents[len(dirents)-1]; got.Name != "e5" || got.Type != linux.DT_REG {
		t.Errorf("last entry: got %+v, want regular file e5", got)
	}

	if err := vfs.Unlink(ctx, "/d/e3"); err != nil {
		t.Fatalf("Unlink: %v", err)
	}
	want = append(want[:4], want[5:]...)
	if diff := cmp.Diff(want, readAll(4096)); diff != "" {
		t.Errorf("Getdents after Unlink mismatch (-want +got):\n%s", diff)
	}
}

func TestTruncate(t *testing.T) {
	vfs, _ := newTestVFS(t, Options{})
	ctx := rootContext()
	fd := mustOpen(t, ctx, vfs, "/f", linux.O_CREAT|linux.O_RDWR, 0644)
	defer fd.Close(ctx)
	if _, err := fd.Write(ctx, []byte("0123456789")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if err := fd.Truncate(ctx, 4); err != nil {
		t.Fatalf("Truncate(4): %v", err)
	}
	buf := make([]byte, 16)
	n, _ := fd.PRead(ctx, buf, 0)
	if got := string(buf[:n]); got != "0123" {
		t.Errorf("after shrinking: got %q, want %q", got, "0123")
	}

	if err := fd.Truncate(ctx, 8); err != nil {
		t.Fatalf("Truncate(8): %v", err)
	}
	n, _ = fd.PRead(ctx, buf, 0)
	if want := []byte("0123\x00\x00\x00\x00"); !bytes.Equal(buf[:n], want) {
		t.Errorf("after growing: got %q, want %q", buf[:n], want)
	}

	// O_TRUNC empties the file.
	fd2 := mustOpen(t, ctx, vfs, "/f", linux.O_WRONLY|linux.O_TRUNC, 0)
	fd2.Close(ctx)
	if st := fd.Stat(); st.Size != 0 {
		t.Errorf("size after O_TRUNC: got %d, want 0", st.Size)
	}
}

func TestUnlinkOpenFile(t *testing.T) {
	vfs, tfs := newTestVFS(t, Options{})
	ctx := rootContext()
	fd := mustOpen(t, ctx, vfs, "/f", linux.O_CREAT|linux.O_RDWR, 0644)
	if _, err := fd.Write(ctx, []byte("still here")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	ino := fd.Stat().Ino

	if err := vfs.Unlink(ctx, "/f"); err != nil {
		t.Fatalf("Unlink: %v", err)
	}
	_, err := vfs.Stat(ctx, "/f")
	wantErr(t, "Stat after Unlink", err, linuxerr.ENOENT)
	if st := fd.Stat(); st.Links != 0 {
		t.Errorf("links after Unlink: got %d, want 0", st.Links)
	}
	buf := make([]byte, 32)
	n, err := fd.PRead(ctx, buf, 0)
	if err != nil || string(buf[:n]) != "still here" {
		t.Errorf("PRead of unlinked file: got (%q, %v), want (%q, nil)", buf[:n], err, "still here")
	}
	if !tfs.Exists(ino) {
		t.Fatalf("inode %d freed while open", ino)
	}

	fd.Close(ctx)
	if tfs.Exists(ino) {
		t.Errorf("inode %d not freed on last close", ino)
	}
	if tfs.Removed != 1 {
		t.Errorf("Rmnod calls: got %d, want 1", tfs.Removed)
	}
}

func TestLink(t *testing.T) {
	vfs, tfs := newTestVFS(t, Options{})
	ctx := rootContext()
	mustMkdir(t, ctx, vfs, "/d", 0755)
	mustMknod(t, ctx, vfs, "/f", linux.ModeRegular|0644)

	if err := vfs.Link(ctx, "/f", "/d/g"); err != nil {
		t.Fatalf("Link: %v", err)
	}
	f, g := mustStat(t, ctx, vfs, "/f"), mustStat(t, ctx, vfs, "/d/g")
	if f.Ino != g.Ino {
		t.Errorf("Link: inodes differ, %d and %d", f.Ino, g.Ino)
	}
	if f.Links != 2 {
		t.Errorf("links after Link: got %d, want 2", f.Links)
	}

	for _, test := range []struct {
		name     string
		old, new string
		want     error
	}{
		{name: "directory", old: "/d", new: "/d2", want: linuxerr.EPERM},
		{name: "existing name", old: "/f", new: "/d/g", want: linuxerr.EEXIST},
		{name: "dot", old: "/f", new: "/d/.", want: linuxerr.EEXIST},
		{name: "missing source", old: "/missing", new: "/x", want: linuxerr.ENOENT},
		{name: "missing directory", old: "/f", new: "/missing/x", want: linuxerr.ENOENT},
		{name: "long name", old: "/f", new: "/" + strings.Repeat("n", linux.NAME_MAX+1), want: linuxerr.ENAMETOOLONG},
	} {
		t.Run(test.name, func(t *testing.T) {
			wantErr(t, "Link", vfs.Link(ctx, test.old, test.new), test.want)
		})
	}

	if err := vfs.Unlink(ctx, "/f"); err != nil {
		t.Fatalf("Unlink: %v", err)
	}
	if g := mustStat(t, ctx, vfs, "/d/g"); g.Links != 1 {
		t.Errorf("links after Unlink: got %d, want 1", g.Links)
	}
	if err := vfs.Unlink(ctx, "/d/g"); err != nil {
		t.Fatalf("Unlink: %v", err)
	}
	if tfs.Exists(g.Ino) {
		t.Errorf("inode %d not freed after last Unlink", g.Ino)
	}
}

func TestUnlinkErrors(t *testing.T) {
	vfs, _ := newTestVFS(t, Options{})
	ctx := rootContext()
	mustMkdir(t, ctx, vfs, "/d", 0755)
	mustMknod(t, ctx, vfs, "/f", linux.ModeRegular|0644)
	for _, test := range []struct {
		path string
		want error
	}{
		{path: "/d", want: linuxerr.EISDIR},
		{path: "/d/.", want: linuxerr.EISDIR},
		{path: "/d/..", want: linuxerr.EISDIR},
		{path: "/missing", want: linuxerr.ENOENT},
		{path: "/f/x", want: linuxerr.ENOTDIR},
		{path: "/f/", want: linuxerr.ENOTDIR},
		{path: "/d/", want: linuxerr.EISDIR},
		{path: "/missing/", want: linuxerr.ENOENT},
		{path: "", want: linuxerr.ENOENT},
	} {
		wantErr(t, "Unlink("+test.path+")", vfs.Unlink(ctx, test.path), test.want)
	}
	mustStat(t, ctx, vfs, "/f")
}

func TestTrailingSlashCreate(t *testing.T) {
	vfs, _ := newTestVFS(t, Options{})
	ctx := rootContext()
	mustMknod(t, ctx, vfs, "/f", linux.ModeRegular|0644)

	wantErr(t, "Mknod(/g/)", vfs.Mknod(ctx, "/g/", linux.ModeRegular|0644, 0), linuxerr.ENOENT)
	wantErr(t, "Symlink(/l/)", vfs.Symlink(ctx, "f", "/l/"), linuxerr.ENOENT)
	wantErr(t, "Link(/f, /h/)", vfs.Link(ctx, "/f", "/h/"), linuxerr.ENOENT)
	_, err := vfs.Open(ctx, "/o/", OpenOptions{Flags: linux.O_CREAT | linux.O_RDWR, Mode: 0644})
	wantErr(t, "Open(/o/, O_CREAT)", err, linuxerr.EISDIR)
	for _, path := range []string{"/g", "/l", "/h", "/o"} {
		if _, err := vfs.Lstat(ctx, path); !linuxerr.Equals(linuxerr.ENOENT, err) {
			t.Errorf("Lstat(%q) after failed creation: got %v, want ENOENT", path, err)
		}
	}
	if st := mustStat(t, ctx, vfs, "/f"); st.Links != 1 {
		t.Errorf("links of /f: got %d, want 1", st.Links)
	}

	mustMkdir(t, ctx, vfs, "/d/", 0755)
	if st := mustStat(t, ctx, vfs, "/d"); !st.Mode.IsDir() {
		t.Errorf("Mkdir(/d/) made mode %v", st.Mode)
	}
	if err := vfs.Rmdir(ctx, "/d/"); err != nil {
		t.Errorf("Rmdir(/d/): %v", err)
	}
}

func TestMkdirRmdir(t *testing.T) {
	vfs, tfs := newTestVFS(t, Options{})
	ctx := rootContext()
	links := func(path string) uint32 {
		t.Helper()
		return mustStat(t, ctx, vfs, path).Links
	}

	mustMkdir(t, ctx, vfs, "/d", 0755)
	if got := links("/"); got != 3 {
		t.Errorf("root links after Mkdir: got %d, want 3", got)
	}
	if got := links("/d"); got != 2 {
		t.Errorf("new directory links: got %d, want 2", got)
	}
	mustMkdir(t, ctx, vfs, "/d/e", 0755)
	if got := links("/d"); got != 3 {
		t.Errorf("parent links after Mkdir: got %d, want 3", got)
	}
	if got, want := mustStat(t, ctx, vfs, "/d/e/..").Ino, mustStat(t, ctx, vfs, "/d").Ino; got != want {
		t.Errorf("/d/e/..: got inode %d, want %d", got, want)
	}

	wantErr(t, "Mkdir of existing directory", vfs.Mkdir(ctx, "/d", 0755), linuxerr.EEXIST)
	wantErr(t, "Mkdir of root", vfs.Mkdir(ctx, "/", 0755), linuxerr.EEXIST)
	wantErr(t, "Rmdir of non-empty directory", vfs.Rmdir(ctx, "/d"), linuxerr.ENOTEMPTY)
	wantErr(t, "Rmdir of dot", vfs.Rmdir(ctx, "/d/."), linuxerr.EINVAL)
	wantErr(t, "Rmdir of dot-dot", vfs.Rmdir(ctx, "/d/e/.."), linuxerr.ENOTEMPTY)
	wantErr(t, "Rmdir of missing directory", vfs.Rmdir(ctx, "/missing"), linuxerr.ENOENT)
	mustMknod(t, ctx, vfs, "/f", linux.ModeRegular|0644)
	wantErr(t, "Rmdir of file", vfs.Rmdir(ctx, "/f"), linuxerr.ENOTDIR)

	e := mustStat(t, ctx, vfs, "/d/e")
	if err := vfs.Rmdir(ctx, "/d/e"); err != nil {
		t.Fatalf("Rmdir(/d/e): %v", err)
	}
	if got := links("/d"); got != 2 {
		t.Errorf("parent links after Rmdir: got %d, want 2", got)
	}
	if tfs.Exists(e.Ino) {
		t.Errorf("inode %d not freed by Rmdir", e.Ino)
	}
	if err := vfs.Rmdir(ctx, "/d"); err != nil {
		t.Fatalf("Rmdir(/d): %v", err)
	}
	if got := links("/"); got != 2 {
		t.Errorf("root links after Rmdir: got %d, want 2", got)
	}
}

func TestMknod(t *testing.T) {
	vfs, _ := newTestVFS(t, Options{})
	ctx, _ := newTaskContext(t, rootContext(), vfs)

	for _, test := range []struct {
		path string
		mode linux.FileMode
		want linux.FileMode
	}{
		{path: "/plain", mode: 0666, want: linux.ModeRegular | 0644},
		{path: "/reg", mode: linux.ModeRegular | 0777, want: linux.ModeRegular | 0755},
		{path: "/fifo", mode: linux.ModeNamedPipe | 0666, want: linux.ModeNamedPipe | 0644},
		{path: "/sock", mode: linux.ModeSocket | 0600, want: linux.ModeSocket | 0600},
	} {
		t.Run(test.path, func(t *testing.T) {
			if err := vfs.Mknod(ctx, test.path, test.mode, 0); err != nil {
				t.Fatalf("Mknod: %v", err)
			}
			if got := mustStat(t, ctx, vfs, test.path).Mode; got != test.want {
				t.Errorf("mode: got %v, want %v", got, test.want)
			}
		})
	}

	mustMkdir(t, ctx, vfs, "/dir", 0777)
	if got, want := mustStat(t, ctx, vfs, "/dir").Mode, linux.FileMode(linux.ModeDirectory|0755); got != want {
		t.Errorf("Mkdir mode: got %v, want %v", got, want)
	}

	wantErr(t, "Mknod of directory", vfs.Mknod(ctx, "/d2", linux.ModeDirectory|0755, 0), linuxerr.EPERM)
	wantErr(t, "Mknod of symlink", vfs.Mknod(ctx, "/s", linux.ModeSymlink|0777, 0), linuxerr.EINVAL)
	wantErr(t, "Mknod of existing name", vfs.Mknod(ctx, "/plain", 0644, 0), linuxerr.EEXIST)
	wantErr(t, "Mknod of dot-dot", vfs.Mknod(ctx, "/dir/..", 0644, 0), linuxerr.EEXIST)
	wantErr(t, "Mknod under file", vfs.Mknod(ctx, "/plain/x", 0644, 0), linuxerr.ENOTDIR)
	wantErr(t, "Mknod of device as user", vfs.Mknod(userContext(), "/dev", linux.ModeCharacterDevice|0666, 0), linuxerr.EPERM)
}

func TestSymlinkReadlink(t *testing.T) {
	vfs, _ := newTestVFS(t, Options{})
	ctx := rootContext()
	mustMknod(t, ctx, vfs, "/f", linux.ModeRegular|0644)
	if err := vfs.Symlink(ctx, "/f", "/s"); err != nil {
		t.Fatalf("Symlink: %v", err)
	}
	if target, err := vfs.Readlink(ctx, "/s"); err != nil || target != "/f" {
		t.Errorf("Readlink: got (%q, %v), want (%q, nil)", target, err, "/f")
	}
	if st, err := vfs.Lstat(ctx, "/s"); err != nil || st.Mode != linux.ModeSymlink|0777 {
		t.Errorf("Lstat: got (%v, %v), want mode %v", st.Mode, err, linux.FileMode(linux.ModeSymlink|0777))
	}

	_, err := vfs.Readlink(ctx, "/f")
	wantErr(t, "Readlink of file", err, linuxerr.EINVAL)
	wantErr(t, "Symlink with empty target", vfs.Symlink(ctx, "", "/e"), linuxerr.ENOENT)
	wantErr(t, "Symlink with long target", vfs.Symlink(ctx, strings.Repeat("t", linux.PATH_MAX), "/l"), linuxerr.ENAMETOOLONG)
	wantErr(t, "Symlink over existing name", vfs.Symlink(ctx, "/f", "/s"), linuxerr.EEXIST)
}

func TestCharDevices(t *testing.T) {
	vfs, _ := newTestVFS(t, Options{})
	ctx := rootContext()
	for name, minor := range map[string]uint16{"/null": 3, "/zero": 5, "/nodev": 9} {
		id := devices.ID{Major: devices.MemMajor, Minor: minor}
		if err := vfs.Mknod(ctx, name, linux.ModeCharacterDevice|0666, id.DeviceID()); err != nil {
			t.Fatalf("Mknod(%s): %v", name, err)
		}
	}

	null := mustOpen(t, ctx, vfs, "/null", linux.O_RDWR, 0)
	defer null.Close(ctx)
	if n, err := null.Write(ctx, []byte("discard")); n != 7 || err != nil {
		t.Errorf("write to null: got (%d, %v), want (7, nil)", n, err)
	}
	if n, err := null.Read(ctx, make([]byte, 8)); n != 0 || err != nil {
		t.Errorf("read from null: got (%d, %v), want (0, nil)", n, err)
	}

	zero := mustOpen(t, ctx, vfs, "/zero", linux.O_RDONLY, 0)
	defer zero.Close(ctx)
	buf := bytes.Repeat([]byte{0xff}, 8)
	if n, err := zero.Read(ctx, buf); n != 8 || err != nil {
		t.Fatalf("read from zero: got (%d, %v), want (8, nil)", n, err)
	}
	if !bytes.Equal(buf, make([]byte, 8)) {
		t.Errorf("read from zero: got %v", buf)
	}

	nodev := mustOpen(t, ctx, vfs, "/nodev", linux.O_RDONLY, 0)
	defer nodev.Close(ctx)
	_, err := nodev.Read(ctx, buf)
	wantErr(t, "read from unregistered device", err, linuxerr.ENXIO)

	if st := mustStat(t, ctx, vfs, "/zero"); st.Rdev != linux.MakeDeviceID(devices.MemMajor, 5) {
		t.Errorf("Rdev: got %#x, want %#x", st.Rdev, linux.MakeDeviceID(devices.MemMajor, 5))
	}
}

func TestFIFO(t *testing.T) {
	vfs, _ := newTestVFS(t, Options{})
	ctx := rootContext()
	mustMknod(t, ctx, vfs, "/p", linux.ModeNamedPipe|0666)

	var got []byte
	var g errgroup.Group
	g.Go(func() error {
		fd, err := vfs.Open(ctx, "/p", OpenOptions{Flags: linux.O_RDONLY})
		if err != nil {
			return err
		}
		defer fd.Close(ctx)
		buf := make([]byte, 4)
		for {
			n, err := fd.Read(ctx, buf)
			if err != nil {
				return err
			}
			if n == 0 {
				return nil
			}
			got = append(got, buf[:n]...)
		}
	})
	g.Go(func() error {
		fd, err := vfs.Open(ctx, "/p", OpenOptions{Flags: linux.O_WRONLY})
		if err != nil {
			return err
		}
		defer fd.Close(ctx)
		_, err = fd.Write(ctx, []byte("through the pipe"))
		return err
	})
	if err := g.Wait(); err != nil {
		t.Fatalf("pipe transfer: %v", err)
	}
	if string(got) != "through the pipe" {
		t.Errorf("read from FIFO: got %q, want %q", got, "through the pipe")
	}
}

func TestFIFONonBlocking(t *testing.T) {
	vfs, _ := newTestVFS(t, Options{})
	ctx := rootContext()
	mustMknod(t, ctx, vfs, "/p", linux.ModeNamedPipe|0666)

	_, err := vfs.Open(ctx, "/p", OpenOptions{Flags: linux.O_WRONLY | linux.O_NONBLOCK})
	wantErr(t, "nonblocking open for writing without readers", err, linuxerr.ENXIO)

	r := mustOpen(t, ctx, vfs, "/p", linux.O_RDONLY|linux.O_NONBLOCK, 0)
	defer r.Close(ctx)
	if n, err := r.Read(ctx, make([]byte, 1)); n != 0 || err != nil {
		t.Errorf("read without writers: got (%d, %v), want (0, nil)", n, err)
	}

	rw := mustOpen(t, ctx, vfs, "/p", linux.O_RDWR|linux.O_NONBLOCK, 0)
	defer rw.Close(ctx)
	_, err = rw.Read(ctx, make([]byte, 1))
	wantErr(t, "read from empty FIFO", err, linuxerr.ErrWouldBlock)
	_, err = rw.PRead(ctx, make([]byte, 1), 0)
	wantErr(t, "PRead of FIFO", err, linuxerr.ESPIPE)
	_, err = rw.PWrite(ctx, []byte("x"), 0)
	wantErr(t, "PWrite of FIFO", err, linuxerr.ESPIPE)
	_, err = rw.Seek(ctx, 0, linux.SEEK_SET)
	wantErr(t, "Seek of FIFO", err, linuxerr.ESPIPE)

	if n, err := rw.Write(ctx, []byte("ab")); n != 2 || err != nil {
		t.Fatalf("Write: got (%d, %v), want (2, nil)", n, err)
	}
	buf := make([]byte, 4)
	if n, err := r.Read(ctx, buf); n != 2 || string(buf[:n]) != "ab" || err != nil {
		t.Errorf("Read: got (%q, %v), want (\"ab\", nil)", buf[:n], err)
	}
}

func TestFIFOInterrupted(t *testing.T) {
	vfs, _ := newTestVFS(t, Options{})
	ctx := rootContext()
	mustMknod(t, ctx, vfs, "/p", linux.ModeNamedPipe|0666)
	rw := mustOpen(t, ctx, vfs, "/p", linux.O_RDWR, 0)
	defer rw.Close(ctx)

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	_, err := rw.Read(cctx, make([]byte, 1))
	wantErr(t, "Read with cancelled context", err, linuxerr.ErrInterrupted)

	// A blocking read-only open returns at once if a writer is present.
	r, err := vfs.Open(cctx, "/p", OpenOptions{Flags: linux.O_RDONLY})
	if err != nil {
		t.Fatalf("read-only open with a writer present: %v", err)
	}
	r.Close(ctx)
}
