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
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"posnk.dev/posnk/pkg/abi/linux"
	"posnk.dev/posnk/pkg/errors/linuxerr"
	"posnk.dev/posnk/pkg/log"
	"posnk.dev/posnk/pkg/sentry/devices"
	"posnk.dev/posnk/pkg/sentry/fsimpl/ext2/disklayout"
	"posnk.dev/posnk/pkg/sentry/vfs"
)

// maxLogBlockSize bounds SuperBlock.LogBlockSize to disklayout.MaxBlockSize.
const maxLogBlockSize = 5

// Filesystem implements vfs.FilesystemImpl for ext2.
type Filesystem struct {
	// dev is the underlying device. io.ReaderAt and io.WriterAt permit
	// concurrent calls.
	dev devices.BlockDevice

	readOnly bool
	policy   ErrorPolicy
	now      func() time.Time

	// warn reports metadata inconsistencies without flooding the log.
	warn log.Logger

	// errored is set once an inconsistency was found. It is recorded in the
	// superblock state by the next Sync.
	errored atomic.Bool

	// The fields below are derived from the superblock and are immutable
	// after Mount.
	blockSize  uint32
	groupCount uint32
	firstBlock uint32
	firstInode uint32
	inodeSize  uint32
	fileType   bool

	// allocMu serializes the allocator and every block group descriptor
	// update, and protects sb.
	allocMu sync.Mutex
	sb      disklayout.SuperBlock
}

// Compiles only if Filesystem implements vfs.FilesystemImpl.
var _ vfs.FilesystemImpl = (*Filesystem)(nil)

// Mount reads the superblock from dev and returns the filesystem stored on
// it.
func Mount(ctx context.Context, dev devices.BlockDevice, opts MountOptions) (*Filesystem, error) {
	fs := &Filesystem{
		dev:      dev,
		readOnly: opts.ReadOnly,
		policy:   opts.Errors,
		now:      opts.Now,
		warn:     log.BasicRateLimitedLogger(time.Second),
	}
	if fs.now == nil {
		fs.now = time.Now
	}

	buf := make([]byte, disklayout.SuperBlockSize)
	if err := fs.readAt(buf, disklayout.SbOffset); err != nil {
		return nil, err
	}
	fs.sb.UnmarshalBytes(buf)

	if fs.sb.Magic != linux.EXT_SUPER_MAGIC {
		// mount(2) specifies that EINVAL should be returned if the superblock is
		// invalid.
		log.Infof("ext2: bad superblock magic %#x", fs.sb.Magic)
		return nil, linuxerr.EINVAL
	}
	if err := fs.checkGeometry(); err != nil {
		return nil, err
	}
	if f := fs.sb.UnsupportedIncompat(); f != 0 {
		log.Warningf("ext2: unsupported incompatible features %#x", f)
		return nil, linuxerr.EINVAL
	}
	if f := fs.sb.UnsupportedRoCompat(); f != 0 && !fs.readOnly {
		log.Infof("ext2: unsupported read-only compatible features %#x, mounting read-only", f)
		fs.readOnly = true
	}
	if fs.sb.State&disklayout.StateErrors != 0 {
		log.Warningf("ext2: mounting filesystem with errors, running fsck is recommended")
	}

	fs.blockSize = fs.sb.BlockSize()
	fs.groupCount = fs.sb.BlockGroupCount()
	fs.firstBlock = fs.sb.FirstUsableBlock()
	fs.firstInode = fs.sb.FirstInode()
	fs.inodeSize = uint32(fs.sb.InodeSize())
	fs.fileType = fs.sb.HasFileType()

	log.Infof("ext2: mounted %q rev %d, %d blocks of %d bytes, %d inodes, %d groups, read-only %t",
		fs.sb.Label(), fs.sb.RevLevel, fs.sb.BlocksCount, fs.blockSize, fs.sb.InodesCount, fs.groupCount, fs.readOnly)

	if fs.readOnly {
		return fs, nil
	}
	fs.allocMu.Lock()
	fs.sb.MountCount++
	fs.sb.MountTime = fs.timestamp()
	fs.sb.State &^= disklayout.StateValid
	err := fs.syncLocked()
	fs.allocMu.Unlock()
	if err != nil {
		return nil, err
	}
	return fs, nil
}

// checkGeometry validates the superblock fields the rest of the driver
// divides by or indexes with.
func (fs *Filesystem) checkGeometry() error {
	sb := &fs.sb
	switch {
	case sb.LogBlockSize > maxLogBlockSize:
		log.Warningf("ext2: unsupported block size exponent %d", sb.LogBlockSize)
		return linuxerr.EINVAL
	case sb.BlocksPerGroup == 0 || sb.InodesPerGroup == 0:
		log.Warningf("ext2: superblock has empty block groups")
		return linuxerr.EINVAL
	case sb.BlocksPerGroup > sb.BlockSize()*8 || sb.InodesPerGroup > sb.BlockSize()*8:
		log.Warningf("ext2: block group larger than one bitmap block")
		return linuxerr.EINVAL
	}
	if size := uint32(sb.InodeSize()); size < disklayout.InodeRecordSize || size > sb.BlockSize() || size&(size-1) != 0 {
		log.Warningf("ext2: unsupported inode size %d", size)
		return linuxerr.EINVAL
	}
	if sb.BlockGroupCount() == 0 {
		log.Warningf("ext2: filesystem has no block groups")
		return linuxerr.EINVAL
	}
	return nil
}

// timestamp returns the current time as an on-disk timestamp.
func (fs *Filesystem) timestamp() uint32 {
	return uint32(fs.now().Unix())
}

// corrupted records a metadata inconsistency and applies the error policy.
func (fs *Filesystem) corrupted(format string, v ...any) error {
	msg := fmt.Sprintf(format, v...)
	fs.warn.Warningf("ext2: %s", msg)
	fs.errored.Store(true)
	if fs.policy == ErrorsPanic {
		panic(fmt.Sprintf("ext2: %s", msg))
	}
	return linuxerr.ErrCorrupted
}

// readAt fills buf from the device at byte offset off.
func (fs *Filesystem) readAt(buf []byte, off int64) error {
	n, err := fs.dev.ReadAt(buf, off)
	if n == len(buf) {
		return nil
	}
	log.Debugf("ext2: short device read at %d: %d of %d bytes: %v", off, n, len(buf), err)
	return linuxerr.EIO
}

// writeAt writes buf to the device at byte offset off.
func (fs *Filesystem) writeAt(buf []byte, off int64) error {
	n, err := fs.dev.WriteAt(buf, off)
	if n == len(buf) && err == nil {
		return nil
	}
	log.Debugf("ext2: short device write at %d: %d of %d bytes: %v", off, n, len(buf), err)
	return linuxerr.EIO
}

// blockOffset returns the byte offset of block blk.
func (fs *Filesystem) blockOffset(blk uint32) int64 {
	return int64(blk) * int64(fs.blockSize)
}

// readBlock fills buf, which must be one block long, with block blk.
func (fs *Filesystem) readBlock(blk uint32, buf []byte) error {
	return fs.readAt(buf, fs.blockOffset(blk))
}

// writeBlock writes buf, which must be one block long, to block blk.
func (fs *Filesystem) writeBlock(blk uint32, buf []byte) error {
	return fs.writeAt(buf, fs.blockOffset(blk))
}

// sectorsPerBlock is the amount Inode.Blocks changes by per block.
func (fs *Filesystem) sectorsPerBlock() uint32 {
	return fs.blockSize / 512
}

// Root implements vfs.FilesystemImpl.Root.
func (fs *Filesystem) Root() uint32 {
	return disklayout.RootDirInode
}

// ReadOnly returns true if modifications are rejected.
func (fs *Filesystem) ReadOnly() bool {
	return fs.readOnly
}

// BlockSize returns the filesystem block size in bytes.
func (fs *Filesystem) BlockSize() uint32 {
	return fs.blockSize
}

// Sync implements vfs.FilesystemImpl.Sync.
func (fs *Filesystem) Sync(ctx context.Context) error {
	if fs.readOnly {
		return nil
	}
	fs.allocMu.Lock()
	defer fs.allocMu.Unlock()
	return fs.syncLocked()
}

// Preconditions: fs.allocMu must be locked.
func (fs *Filesystem) syncLocked() error {
	if fs.errored.Load() {
		fs.sb.State |= disklayout.StateErrors
	}
	buf := make([]byte, disklayout.SuperBlockSize)
	fs.sb.MarshalBytes(buf)
	return fs.writeAt(buf, disklayout.SbOffset)
}

// Statfs implements vfs.FilesystemImpl.Statfs.
func (fs *Filesystem) Statfs(ctx context.Context) (linux.Statfs, error) {
	fs.allocMu.Lock()
	defer fs.allocMu.Unlock()
	sb := &fs.sb
	avail := uint64(0)
	if sb.FreeBlocksCount > sb.ReservedBlocks {
		avail = uint64(sb.FreeBlocksCount - sb.ReservedBlocks)
	}
	st := linux.Statfs{
		Type:            linux.EXT_SUPER_MAGIC,
		BlockSize:       int64(fs.blockSize),
		Blocks:          uint64(sb.BlocksCount),
		BlocksFree:      uint64(sb.FreeBlocksCount),
		BlocksAvailable: avail,
		Files:           uint64(sb.InodesCount),
		FilesFree:       uint64(sb.FreeInodesCount),
		NameLength:      disklayout.MaxFileName,
	}
	for i := range st.FSID {
		u := sb.UUID[i*4:]
		st.FSID[i] = int32(uint32(u[0]) | uint32(u[1])<<8 | uint32(u[2])<<16 | uint32(u[3])<<24)
	}
	return st, nil
}

// Release implements vfs.FilesystemImpl.Release.
func (fs *Filesystem) Release(ctx context.Context) error {
	if fs.readOnly {
		return nil
	}
	fs.allocMu.Lock()
	defer fs.allocMu.Unlock()
	if !fs.errored.Load() && fs.sb.State&disklayout.StateErrors == 0 {
		fs.sb.State |= disklayout.StateValid
	}
	fs.sb.WriteTime = fs.timestamp()
	return fs.syncLocked()
}
