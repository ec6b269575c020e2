// Copyright 2018 The gVisor Authors.
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

package pipe

import (
	"context"

	"posnk.dev/posnk/pkg/errors/linuxerr"
)

// OpenFlags describes how an end of the pipe is opened.
type OpenFlags struct {
	Read        bool
	Write       bool
	NonBlocking bool
}

// Open registers a new reader and/or writer. Named pipes have special
// blocking semantics during open:
//
// "Normally, opening the FIFO blocks until the other end is opened also. A
// process can open a FIFO in nonblocking mode. In this case, opening for
// read-only will succeed even if no-one has opened on the write side yet,
// opening for write-only will fail with ENXIO (no such device or address)
// unless the other end has already been opened. Under Linux, opening a FIFO
// for read and write will succeed both in blocking and nonblocking mode. POSIX
// leaves this behavior undefined. This can be used to open a FIFO for writing
// while there are no readers available." - fifo(7)
//
// Every successful Open must be paired with a Close using the same flags.
func (p *Pipe) Open(ctx context.Context, flags OpenFlags) error {
	switch {
	case flags.Read && !flags.Write: // O_RDONLY.
		seen := p.rOpen()
		if p.isNamed && !flags.NonBlocking && !p.HasWriters() {
			if !p.waitFor(ctx, &p.wWakeup, func() bool { return p.writers > 0 || p.wOpens != seen }) {
				p.rClose()
				return linuxerr.ErrInterrupted
			}
		}
		// By now, either we're doing a nonblocking open or we have a writer. On
		// a nonblocking read-only open, the open succeeds even if no-one has
		// opened the write side yet.
		return nil

	case flags.Write && !flags.Read: // O_WRONLY.
		seen := p.wOpen()
		if p.isNamed && !p.HasReaders() {
			// On a nonblocking, write-only open, the open fails with ENXIO if the
			// read side isn't open yet.
			if flags.NonBlocking {
				p.wClose()
				return linuxerr.ENXIO
			}
			if !p.waitFor(ctx, &p.rWakeup, func() bool { return p.readers > 0 || p.rOpens != seen }) {
				p.wClose()
				return linuxerr.ErrInterrupted
			}
		}
		return nil

	case flags.Read && flags.Write: // O_RDWR.
		// Pipes opened for read-write always succeeds without blocking.
		p.rOpen()
		p.wOpen()
		return nil

	default:
		return linuxerr.EINVAL
	}
}

// Close releases the ends registered by a matching Open.
func (p *Pipe) Close(flags OpenFlags) {
	if flags.Read {
		p.rClose()
	}
	if flags.Write {
		p.wClose()
	}
}

// waitFor blocks until a reader or writer is announced via 'wakeupChan', or
// until ctx is cancelled. Any call to this function will block for either
// readers or writers, depending on where 'wakeupChan' points. arrived is
// evaluated with p.mu held; it reports whether the other end was opened since
// the caller registered, even if it has been closed again since.
func (p *Pipe) waitFor(ctx context.Context, wakeupChan *chan struct{}, arrived func() bool) bool {
	p.mu.Lock()
	// The other end may have shown up between the caller's check and now.
	if arrived() {
		p.mu.Unlock()
		return true
	}
	// Does an appropriate wakeup channel already exist? If not, create a new
	// one. This is all done under p.mu to avoid races.
	if *wakeupChan == nil {
		*wakeupChan = make(chan struct{})
	}

	// Grab a local reference to the wakeup channel since it may disappear as
	// soon as we drop p.mu.
	wakeup := *wakeupChan
	p.mu.Unlock()

	// Wait for either a new reader/write to be signalled via 'wakeup', or
	// for the sleep to be cancelled. If we were woken and interrupted, the
	// former takes priority.
	select {
	case <-wakeup:
		return true
	case <-ctx.Done():
		select {
		case <-wakeup:
			return true
		default:
			return false
		}
	}
}

// newHandleLocked signals a new pipe reader or writer depending on where
// 'wakeupChan' points. This unblocks any corresponding reader or writer
// waiting for the other end of the channel to be opened, see waitFor.
//
// Preconditions: p.mu must be held.
func (*Pipe) newHandleLocked(wakeupChan *chan struct{}) {
	if *wakeupChan != nil {
		close(*wakeupChan)
		*wakeupChan = nil
	}
}
