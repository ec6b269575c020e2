// Copyright 2021 The gVisor Authors.
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


// Package linuxerr declares the errno values the storage stack returns as
// *errors.Error sentinels. Callers compare them with Equals or errors.Is;
// Errno recovers the number for exit codes and host interop.
package linuxerr

import (
	goerrors "errors"

	"golang.org/x/sys/unix"
	"posnk.dev/posnk/pkg/errors"
)

var (
	EPERM        = errors.New(unix.EPERM, "operation not permitted")
	ENOENT       = errors.New(unix.ENOENT, "no such file or directory")
	EINTR        = errors.New(unix.EINTR, "interrupted system call")
	EIO          = errors.New(unix.EIO, "I/O error")
	ENXIO        = errors.New(unix.ENXIO, "no such device or address")
	EBADF        = errors.New(unix.EBADF, "bad file number")
	EACCES       = errors.New(unix.EACCES, "permission denied")
	ENOTBLK      = errors.New(unix.ENOTBLK, "block device required")
	EBUSY        = errors.New(unix.EBUSY, "device or resource busy")
	EEXIST       = errors.New(unix.EEXIST, "file exists")
	EXDEV        = errors.New(unix.EXDEV, "cross-device link")
	ENODEV       = errors.New(unix.ENODEV, "no such device")
	ENOTDIR      = errors.New(unix.ENOTDIR, "not a directory")
	EISDIR       = errors.New(unix.EISDIR, "is a directory")
	EINVAL       = errors.New(unix.EINVAL, "invalid argument")
	EFBIG        = errors.New(unix.EFBIG, "file too large")
	ENOSPC       = errors.New(unix.ENOSPC, "no space left on device")
	ESPIPE       = errors.New(unix.ESPIPE, "illegal seek")
	EROFS        = errors.New(unix.EROFS, "read-only file system")
	EMLINK       = errors.New(unix.EMLINK, "too many links")
	EPIPE        = errors.New(unix.EPIPE, "broken pipe")
	ENAMETOOLONG = errors.New(unix.ENAMETOOLONG, "file name too long")
	ENOTEMPTY    = errors.New(unix.ENOTEMPTY, "directory not empty")
	ELOOP        = errors.New(unix.ELOOP, "too many symbolic links encountered")
	EUCLEAN      = errors.New(unix.EUCLEAN, "structure needs cleaning")
)

// Equals reports whether err is the sentinel e, either directly, wrapped, or
// as the bare unix.Errno it carries. A nil e matches only a nil err.
func Equals(e *errors.Error, err error) bool {
	switch {
	case e == nil || err == nil:
		return e == nil && err == nil
	case err == error(e):
		return true
	}
	if errno, ok := err.(unix.Errno); ok {
		return errno == e.Errno()
	}
	var ee *errors.Error
	return goerrors.As(err, &ee) && ee == e
}

// Errno extracts the errno carried by err, or EIO if err carries none.
func Errno(err error) unix.Errno {
	if err == nil {
		return 0
	}
	var ee *errors.Error
	if goerrors.As(err, &ee) {
		return ee.Errno()
	}
	var errno unix.Errno
	if goerrors.As(err, &errno) {
		return errno
	}
	return unix.EIO
}
