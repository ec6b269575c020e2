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
	"context"
	"sync"

	"posnk.dev/posnk/pkg/abi/linux"
	"posnk.dev/posnk/pkg/errors/linuxerr"
	"posnk.dev/posnk/pkg/sentry/devices"
)

// TestFilesystemType is a test-only FilesystemType producing in-memory
// filesystems that ignore their source device. Each filesystem starts with an
// empty root directory owned by root.
type TestFilesystemType struct{}

// TestFilesystemName is the name TestFilesystemType registers under.
const TestFilesystemName = "testfs"

// Name implements FilesystemType.Name.
func (TestFilesystemType) Name() string {
	return TestFilesystemName
}

// GetFilesystem implements FilesystemType.GetFilesystem.
func (TestFilesystemType) GetFilesystem(ctx context.Context, source devices.BlockDevice, opts GetFilesystemOptions) (FilesystemImpl, error) {
	return NewTestFilesystem(), nil
}

const testRootIno = 1

type testEntry struct {
	name string
	ino  uint32
}

type testNode struct {
	attrs   InodeAttrs
	data    []byte
	entries []testEntry
}

// TestFilesystem is the FilesystemImpl produced by TestFilesystemType.
// Directory offsets are entry indices.
type TestFilesystem struct {
	mu      sync.Mutex
	nextIno uint32
	nodes   map[uint32]*testNode

	// Loads counts LoadInode calls, Removed counts Rmnod calls.
	Loads    int
	Removed  int
	Released bool
}

// NewTestFilesystem returns a TestFilesystem holding an empty root directory.
func NewTestFilesystem() *TestFilesystem {
	fs := &TestFilesystem{
		nextIno: testRootIno + 1,
		nodes:   make(map[uint32]*testNode),
	}
	fs.nodes[testRootIno] = &testNode{
		attrs: InodeAttrs{Mode: linux.ModeDirectory | 0755, Links: 2, Size: 2},
		entries: []testEntry{
			{name: ".", ino: testRootIno},
			{name: "..", ino: testRootIno},
		},
	}
	return fs
}

// NewNode adds an unlinked inode with the given attributes and returns its
// number.
func (fs *TestFilesystem) NewNode(attrs InodeAttrs) uint32 {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	ino := fs.nextIno
	fs.nextIno++
	fs.nodes[ino] = &testNode{attrs: attrs}
	return ino
}

// Exists returns true if inode ino has not been removed.
func (fs *TestFilesystem) Exists(ino uint32) bool {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	_, ok := fs.nodes[ino]
	return ok
}

func (fs *TestFilesystem) node(ino uint32) (*testNode, error) {
	n, ok := fs.nodes[ino]
	if !ok {
		return nil, linuxerr.ENOENT
	}
	return n, nil
}

// Root implements FilesystemImpl.Root.
func (fs *TestFilesystem) Root() uint32 {
	return testRootIno
}

// LoadInode implements FilesystemImpl.LoadInode.
func (fs *TestFilesystem) LoadInode(ctx context.Context, in *Inode) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.Loads++
	n, err := fs.node(in.Ino())
	if err != nil {
		return err
	}
	in.Attrs = n.attrs
	return nil
}

// StoreInode implements FilesystemImpl.StoreInode.
func (fs *TestFilesystem) StoreInode(ctx context.Context, in *Inode) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	n, err := fs.node(in.Ino())
	if err != nil {
		return err
	}
	n.attrs = in.Attrs
	return nil
}

// Mknod implements FilesystemImpl.Mknod.
func (fs *TestFilesystem) Mknod(ctx context.Context, dir *Inode, in *Inode) error {
	in.SetIno(fs.NewNode(in.Attrs))
	return nil
}

// Rmnod implements FilesystemImpl.Rmnod.
func (fs *TestFilesystem) Rmnod(ctx context.Context, in *Inode) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if _, err := fs.node(in.Ino()); err != nil {
		return err
	}
	delete(fs.nodes, in.Ino())
	fs.Removed++
	return nil
}

// Mkdir implements FilesystemImpl.Mkdir.
func (fs *TestFilesystem) Mkdir(ctx context.Context, in *Inode) error {
	return nil
}

// Rmdir implements FilesystemImpl.Rmdir.
func (fs *TestFilesystem) Rmdir(ctx context.Context, in *Inode) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	n, err := fs.node(in.Ino())
	if err != nil {
		return err
	}
	for _, e := range n.entries {
		if e.name != "." && e.name != ".." {
			return linuxerr.ENOTEMPTY
		}
	}
	return nil
}

// Link implements FilesystemImpl.Link.
func (fs *TestFilesystem) Link(ctx context.Context, dir *Inode, name string, in *Inode) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	n, err := fs.node(dir.Ino())
	if err != nil {
		return err
	}
	for _, e := range n.entries {
		if e.name == name {
			return linuxerr.EEXIST
		}
	}
	n.entries = append(n.entries, testEntry{name: name, ino: in.Ino()})
	dir.Attrs.Size = int64(len(n.entries))
	return nil
}

// Unlink implements FilesystemImpl.Unlink.
func (fs *TestFilesystem) Unlink(ctx context.Context, dir *Inode, name string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	n, err := fs.node(dir.Ino())
	if err != nil {
		return err
	}
	for i, e := range n.entries {
		if e.name == name {
			n.entries = append(n.entries[:i], n.entries[i+1:]...)
			dir.Attrs.Size = int64(len(n.entries))
			return nil
		}
	}
	return linuxerr.ENOENT
}

// Lookup implements FilesystemImpl.Lookup.
func (fs *TestFilesystem) Lookup(ctx context.Context, dir *Inode, name string) (uint32, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	n, err := fs.node(dir.Ino())
	if err != nil {
		return 0, err
	}
	for _, e := range n.entries {
		if e.name == name {
			return e.ino, nil
		}
	}
	return 0, linuxerr.ENOENT
}

// ReadDir implements FilesystemImpl.ReadDir.
func (fs *TestFilesystem) ReadDir(ctx context.Context, dir *Inode, off int64, count int) ([]Dirent, int64, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	n, err := fs.node(dir.Ino())
	if err != nil {
		return nil, off, err
	}
	var dirents []Dirent
	for i := off; i < int64(len(n.entries)); i++ {
		e := n.entries[i]
		size := DirentSize(e.name)
		if size > count {
			if len(dirents) == 0 {
				return nil, off, linuxerr.ErrBufferTooSmall
			}
			break
		}
		count -= size
		typ := uint8(linux.DT_UNKNOWN)
		if child, ok := fs.nodes[e.ino]; ok {
			typ = child.attrs.Mode.DirentType()
		}
		dirents = append(dirents, Dirent{Name: e.name, Ino: e.ino, Type: typ, NextOff: i + 1})
	}
	next := off
	if len(dirents) > 0 {
		next = dirents[len(dirents)-1].NextOff
	}
	return dirents, next, nil
}

// Read implements FilesystemImpl.Read.
func (fs *TestFilesystem) Read(ctx context.Context, in *Inode, off int64, dst []byte) (int, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	n, err := fs.node(in.Ino())
	if err != nil {
		return 0, err
	}
	if off >= int64(len(n.data)) {
		return 0, nil
	}
	return copy(dst, n.data[off:]), nil
}

// Write implements FilesystemImpl.Write.
func (fs *TestFilesystem) Write(ctx context.Context, in *Inode, off int64, src []byte) (int, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	n, err := fs.node(in.Ino())
	if err != nil {
		return 0, err
	}
	if end := off + int64(len(src)); end > int64(len(n.data)) {
		n.data = append(n.data, make([]byte, end-int64(len(n.data)))...)
	}
	return copy(n.data[off:], src), nil
}

// Truncate implements FilesystemImpl.Truncate.
func (fs *TestFilesystem) Truncate(ctx context.Context, in *Inode, size int64) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	n, err := fs.node(in.Ino())
	if err != nil {
		return err
	}
	if size < int64(len(n.data)) {
		n.data = n.data[:size]
	} else {
		n.data = append(n.data, make([]byte, size-int64(len(n.data)))...)
	}
	in.Attrs.Size = size
	return nil
}

// Sync implements FilesystemImpl.Sync.
func (fs *TestFilesystem) Sync(ctx context.Context) error {
	return nil
}

// Statfs implements FilesystemImpl.Statfs.
func (fs *TestFilesystem) Statfs(ctx context.Context) (linux.Statfs, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return linux.Statfs{
		BlockSize:  1,
		Files:      uint64(len(fs.nodes)),
		NameLength: linux.NAME_MAX,
	}, nil
}

// Release implements FilesystemImpl.Release.
func (fs *TestFilesystem) Release(ctx context.Context) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.Released = true
	return nil
}
