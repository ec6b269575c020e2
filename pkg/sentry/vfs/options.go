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
	"time"

	"posnk.dev/posnk/pkg/abi/linux"
)

// Options configures a VirtualFilesystem.
type Options struct {
	// MaxUnusedInodes bounds the number of unreferenced inodes kept in the
	// inode cache. Zero keeps all of them.
	MaxUnusedInodes int

	// Now returns the current time used for inode timestamps. If nil,
	// time.Now is used.
	Now func() time.Time
}

// ResolveFlags control path resolution.
type ResolveFlags uint32

const (
	// ResolveNoFollow stops resolution from following a symbolic link in the
	// final path component.
	ResolveNoFollow ResolveFlags = 1 << iota

	// ResolveDirectory requires the result to be a directory.
	ResolveDirectory
)

// OpenOptions are the arguments to VirtualFilesystem.Open.
type OpenOptions struct {
	// Flags contains O_* flags.
	Flags uint32

	// Mode is the permission bits of a file created by O_CREAT.
	Mode linux.FileMode
}
