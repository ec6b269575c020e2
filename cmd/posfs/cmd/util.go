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

package cmd

import (
	"path"
	"time"

	"posnk.dev/posnk/pkg/abi/linux"
	"posnk.dev/posnk/pkg/sentry/vfs"
)

// getdentsCount is the buffer size handed to Getdents.
const getdentsCount = 4096

// readDir returns the entries of the directory at p, including "." and "..".
func (s *session) readDir(p string) ([]vfs.Dirent, error) {
	fd, err := s.vfs.Open(s.ctx, p, vfs.OpenOptions{Flags: linux.O_RDONLY | linux.O_DIRECTORY})
	if err != nil {
		return nil, err
	}
	defer fd.Close(s.ctx)
	var all []vfs.Dirent
	for {
		ds, err := fd.Getdents(s.ctx, getdentsCount)
		if err != nil {
			return nil, err
		}
		if len(ds) == 0 {
			return all, nil
		}
		all = append(all, ds...)
	}
}

// join joins a directory entry name to the path of its directory.
func join(dir, name string) string {
	return path.Join(dir, name)
}

var permChars = [9]byte{'r', 'w', 'x', 'r', 'w', 'x', 'r', 'w', 'x'}

// modeString formats m the way ls -l does.
func modeString(m linux.FileMode) string {
	var b [10]byte
	switch m.FileType() {
	case linux.ModeDirectory:
		b[0] = 'd'
	case linux.ModeSymlink:
		b[0] = 'l'
	case linux.ModeCharacterDevice:
		b[0] = 'c'
	case linux.ModeBlockDevice:
		b[0] = 'b'
	case linux.ModeNamedPipe:
		b[0] = 'p'
	case linux.ModeSocket:
		b[0] = 's'
	default:
		b[0] = '-'
	}
	for i := 0; i < 9; i++ {
		if m&(1<<(8-i)) != 0 {
			b[i+1] = permChars[i]
		} else {
			b[i+1] = '-'
		}
	}
	if m&linux.ModeSetUID != 0 {
		b[3] = setBit(b[3], 's')
	}
	if m&linux.ModeSetGID != 0 {
		b[6] = setBit(b[6], 's')
	}
	if m&linux.ModeSticky != 0 {
		b[9] = setBit(b[9], 't')
	}
	return string(b[:])
}

// setBit replaces an execute slot with c, or its upper case form if the
// execute bit is clear.
func setBit(slot, c byte) byte {
	if slot == '-' {
		return c - 'a' + 'A'
	}
	return c
}

func formatTime(sec int64) string {
	return time.Unix(sec, 0).UTC().Format(time.RFC3339)
}
