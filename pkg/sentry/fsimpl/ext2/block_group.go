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
	"posnk.dev/posnk/pkg/errors/linuxerr"
	"posnk.dev/posnk/pkg/sentry/fsimpl/ext2/disklayout"
)

// blockGroupOffset returns the device offset of the descriptor of group.
// The descriptor table starts in the block following the superblock.
func (fs *Filesystem) blockGroupOffset(group uint32) (int64, error) {
	if group >= fs.groupCount {
		return 0, linuxerr.EINVAL
	}
	return fs.blockOffset(fs.sb.BgdtBlock()) + int64(group)*disklayout.BlockGroupSize, nil
}

// loadBlockGroup reads the descriptor of group from the device. Descriptors
// are not cached.
func (fs *Filesystem) loadBlockGroup(group uint32) (disklayout.BlockGroup, error) {
	var bg disklayout.BlockGroup
	off, err := fs.blockGroupOffset(group)
	if err != nil {
		return bg, err
	}
	buf := make([]byte, disklayout.BlockGroupSize)
	if err := fs.readAt(buf, off); err != nil {
		return bg, err
	}
	bg.UnmarshalBytes(buf)
	return bg, nil
}

// storeBlockGroup writes the descriptor of group to the device.
func (fs *Filesystem) storeBlockGroup(group uint32, bg *disklayout.BlockGroup) error {
	off, err := fs.blockGroupOffset(group)
	if err != nil {
		return err
	}
	buf := make([]byte, disklayout.BlockGroupSize)
	bg.MarshalBytes(buf)
	return fs.writeAt(buf, off)
}

// inodeGroup returns the block group holding inode ino.
func (fs *Filesystem) inodeGroup(ino uint32) uint32 {
	return (ino - 1) / fs.sb.InodesPerGroup
}

// groupFirstBlock returns the first block tracked by group's block bitmap.
func (fs *Filesystem) groupFirstBlock(group uint32) uint32 {
	return fs.firstBlock + group*fs.sb.BlocksPerGroup
}

// groupFirstInode returns the first inode number of group.
func (fs *Filesystem) groupFirstInode(group uint32) uint32 {
	return group*fs.sb.InodesPerGroup + 1
}

// adjustUsedDirs adds delta to the directory count of the group holding ino.
func (fs *Filesystem) adjustUsedDirs(ino uint32, delta int) error {
	fs.allocMu.Lock()
	defer fs.allocMu.Unlock()
	group := fs.inodeGroup(ino)
	bg, err := fs.loadBlockGroup(group)
	if err != nil {
		return err
	}
	if delta < 0 && bg.UsedDirsCount == 0 {
		return fs.corrupted("group %d directory count underflow", group)
	}
	bg.UsedDirsCount = uint16(int(bg.UsedDirsCount) + delta)
	return fs.storeBlockGroup(group, &bg)
}
