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


package linuxerr

import (
	"golang.org/x/sys/unix"
	"posnk.dev/posnk/pkg/errors"
)

// Errors raised inside the storage stack. Each carries the errno a system
// call boundary reports for it, so Errno and errors.Is treat them like the
// matching Exxx value while Equals still tells them apart.
var (
	// ErrWouldBlock is returned by non-blocking pipe and device I/O that
	// cannot make progress yet.
	ErrWouldBlock = errors.New(unix.EWOULDBLOCK, "request would block")

	// ErrInterrupted is returned when the caller's context ends a blocking
	// wait.
	ErrInterrupted = errors.New(unix.EINTR, "request was interrupted")

	// ErrCorrupted is returned when on-disk metadata contradicts itself, or
	// when writing metadata back failed after memory was already updated.
	ErrCorrupted = errors.New(unix.EUCLEAN, "filesystem metadata corrupted")

	// ErrBufferTooSmall is returned by directory reads whose budget cannot
	// hold one entry.
	ErrBufferTooSmall = errors.New(unix.EINVAL, "result buffer is too small")
)
