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

// Package ext2 implements read/write ext2 filesystems on top of a block
// device.
//
// Block and inode allocation use the on-disk bitmaps of each block group;
// file data is addressed through direct and single, double and triple
// indirect blocks; directories hold variable-length entries.
package ext2

import (
	"context"
	"fmt"
	"strings"
	"time"

	"posnk.dev/posnk/pkg/errors/linuxerr"
	"posnk.dev/posnk/pkg/log"
	"posnk.dev/posnk/pkg/sentry/devices"
	"posnk.dev/posnk/pkg/sentry/vfs"
)

// Name is the default filesystem name.
const Name = "ext2"

// ErrorPolicy decides what happens when inconsistent metadata is found.
type ErrorPolicy int

const (
	// ErrorsContinue reports the inconsistency to the caller as
	// linuxerr.ErrCorrupted.
	ErrorsContinue ErrorPolicy = iota

	// ErrorsPanic stops the system.
	ErrorsPanic
)

// String implements fmt.Stringer.
func (p ErrorPolicy) String() string {
	switch p {
	case ErrorsContinue:
		return "continue"
	case ErrorsPanic:
		return "panic"
	default:
		return fmt.Sprintf("ErrorPolicy(%d)", int(p))
	}
}

// ParseErrorPolicy parses the value of an errors= mount option.
func ParseErrorPolicy(s string) (ErrorPolicy, error) {
	switch s {
	case "continue", "":
		return ErrorsContinue, nil
	case "panic":
		return ErrorsPanic, nil
	default:
		return 0, fmt.Errorf("unknown error policy %q", s)
	}
}

// MountOptions configures a mounted filesystem.
type MountOptions struct {
	// ReadOnly rejects every modification with EROFS.
	ReadOnly bool

	// Errors is the policy applied to metadata inconsistencies.
	Errors ErrorPolicy

	// Now returns the current time. If nil, time.Now is used.
	Now func() time.Time
}

// ParseMountOptions parses a comma-separated mount data string such as
// "ro,errors=panic".
func ParseMountOptions(data string) (MountOptions, error) {
	var opts MountOptions
	for _, opt := range strings.Split(data, ",") {
		key, value, _ := strings.Cut(strings.TrimSpace(opt), "=")
		switch key {
		case "":
		case "ro":
			opts.ReadOnly = true
		case "rw":
			opts.ReadOnly = false
		case "errors":
			p, err := ParseErrorPolicy(value)
			if err != nil {
				log.Warningf("ext2: %v", err)
				return MountOptions{}, linuxerr.EINVAL
			}
			opts.Errors = p
		default:
			log.Warningf("ext2: unknown mount option %q", opt)
			return MountOptions{}, linuxerr.EINVAL
		}
	}
	return opts, nil
}

// FilesystemType implements vfs.FilesystemType.
type FilesystemType struct{}

// Compiles only if FilesystemType implements vfs.FilesystemType.
var _ vfs.FilesystemType = FilesystemType{}

// Name implements vfs.FilesystemType.Name.
func (FilesystemType) Name() string {
	return Name
}

// GetFilesystem implements vfs.FilesystemType.GetFilesystem.
func (FilesystemType) GetFilesystem(ctx context.Context, source devices.BlockDevice, opts vfs.GetFilesystemOptions) (vfs.FilesystemImpl, error) {
	mopts, err := ParseMountOptions(opts.Data)
	if err != nil {
		return nil, err
	}
	mopts.ReadOnly = mopts.ReadOnly || opts.ReadOnly
	return Mount(ctx, source, mopts)
}
