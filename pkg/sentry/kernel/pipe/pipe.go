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

// Package pipe provides an in-memory implementation of a unidirectional
// pipe.
//
// The goal of this pipe is to emulate the pipe syscall in all of its
// edge cases and guarantees of atomic IO.
package pipe

import (
	"context"
	"fmt"
	"sync"

	"posnk.dev/posnk/pkg/errors/linuxerr"
)

const (
	// DefaultPipeSize is the system-wide default size of a pipe in bytes.
	DefaultPipeSize = 65536

	// MinimumPipeSize is the minimum size of a pipe.
	MinimumPipeSize = 4096

	// AtomicIOBytes is the maximum number of bytes the pipe guarantees to
	// write atomically (PIPE_BUF).
	AtomicIOBytes = 4096
)

// Pipe is an encapsulation of a platform-independent pipe.
// It manages a buffered byte queue shared between a reader/writer
// pair.
type Pipe struct {
	// Whether this is a named or anonymous pipe.
	isNamed bool

	// Max size of the pipe in bytes. When this max has been reached,
	// writers will get EWOULDBLOCK.
	max int

	// Max number of bytes the pipe can guarantee to read or write
	// atomically.
	atomicIOBytes int

	// mu protects all pipe internal state below.
	mu sync.Mutex

	// The buffered byte queue.
	data []byte

	// The number of active readers and writers for this pipe.
	readers int32
	writers int32

	// This flag indicates if this pipe ever had a writer. Note that this does
	// not necessarily indicate there is *currently* a writer, just that there
	// has been a writer at some point since the pipe was created.
	hadWriter bool

	// rOpens and wOpens count the opens of each end over the lifetime of the
	// pipe, so that a blocked open notices a partner that came and went.
	rOpens uint64
	wOpens uint64

	// changed is closed, and replaced, whenever the queue or the set of
	// readers and writers changes. Blocked readers and writers wait on it.
	changed chan struct{}

	// Channels for synchronizing the creation of new readers and writers of
	// this fifo. See waitFor and newHandleLocked.
	rWakeup chan struct{}
	wWakeup chan struct{}
}

// NewPipe initializes and returns a pipe. A pipe created by this function is
// persistent, and will remain valid even without any open handles to it.
// Named pipes for mknod(2) are created via this function.
func NewPipe(isNamed bool, sizeBytes, atomicIOBytes int) *Pipe {
	if sizeBytes < MinimumPipeSize {
		sizeBytes = MinimumPipeSize
	}
	if atomicIOBytes <= 0 {
		atomicIOBytes = 1
	}
	if atomicIOBytes > sizeBytes {
		atomicIOBytes = sizeBytes
	}
	return &Pipe{
		isNamed:       isNamed,
		max:           sizeBytes,
		atomicIOBytes: atomicIOBytes,
		changed:       make(chan struct{}),
	}
}

// notifyLocked wakes every blocked reader and writer.
//
// Preconditions: p.mu must be held.
func (p *Pipe) notifyLocked() {
	close(p.changed)
	p.changed = make(chan struct{})
}

// Read reads data from the pipe into dst and returns the number of bytes
// read. An empty pipe without writers reads as end of file. Otherwise an
// empty pipe blocks until data arrives, unless nonblock is set, in which case
// ErrWouldBlock is returned. Cancellation of ctx interrupts the wait with
// ErrInterrupted.
func (p *Pipe) Read(ctx context.Context, dst []byte, nonblock bool) (int, error) {
	// Don't block for a zero-length read even if the pipe is empty.
	if len(dst) == 0 {
		return 0, nil
	}
	for {
		p.mu.Lock()
		if len(p.data) != 0 {
			n := copy(dst, p.data)
			p.data = p.data[:copy(p.data, p.data[n:])]
			p.notifyLocked()
			p.mu.Unlock()
			return n, nil
		}
		if p.writers == 0 {
			// There are no writers, return EOF.
			p.mu.Unlock()
			return 0, nil
		}
		if nonblock {
			p.mu.Unlock()
			return 0, linuxerr.ErrWouldBlock
		}
		changed := p.changed
		p.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return 0, linuxerr.ErrInterrupted
		}
	}
}

// Write writes data from src into the pipe and returns the number of bytes
// written. Writing to a pipe without readers fails with EPIPE. A full pipe
// blocks the writer unless nonblock is set, in which case the bytes written
// so far are returned, along with ErrWouldBlock if there were none.
//
// POSIX requires that a write smaller than atomicIOBytes (PIPE_BUF) be
// atomic, but requires no atomicity for writes larger than this.
func (p *Pipe) Write(ctx context.Context, src []byte, nonblock bool) (int, error) {
	done := 0
	for done < len(src) {
		p.mu.Lock()
		if p.readers == 0 {
			p.mu.Unlock()
			return done, linuxerr.EPIPE
		}
		remaining := src[done:]
		free := p.max - len(p.data)
		canWrite := len(remaining)
		if canWrite > free {
			if canWrite <= p.atomicIOBytes {
				canWrite = 0
			} else {
				canWrite = free
			}
		}
		if canWrite > 0 {
			p.data = append(p.data, remaining[:canWrite]...)
			done += canWrite
			p.notifyLocked()
			p.mu.Unlock()
			continue
		}
		if nonblock {
			p.mu.Unlock()
			if done == 0 {
				return 0, linuxerr.ErrWouldBlock
			}
			return done, nil
		}
		changed := p.changed
		p.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return done, linuxerr.ErrInterrupted
		}
	}
	return done, nil
}

// rOpen signals a new reader of the pipe. It returns the number of writer
// opens so far.
func (p *Pipe) rOpen() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readers++
	p.rOpens++
	p.newHandleLocked(&p.rWakeup)
	p.notifyLocked()
	return p.wOpens
}

// wOpen signals a new writer of the pipe. It returns the number of reader
// opens so far.
func (p *Pipe) wOpen() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hadWriter = true
	p.writers++
	p.wOpens++
	p.newHandleLocked(&p.wWakeup)
	p.notifyLocked()
	return p.rOpens
}

// rClose signals that a reader has closed their end of the pipe.
func (p *Pipe) rClose() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readers--
	if p.readers < 0 {
		panic(fmt.Sprintf("Refcounting bug, pipe has negative readers: %v", p.readers))
	}
	p.notifyLocked()
}

// wClose signals that a writer has closed their end of the pipe.
func (p *Pipe) wClose() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writers--
	if p.writers < 0 {
		panic(fmt.Sprintf("Refcounting bug, pipe has negative writers: %v.", p.writers))
	}
	p.notifyLocked()
}

// HasReaders returns whether the pipe has any active readers.
func (p *Pipe) HasReaders() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.readers > 0
}

// HasWriters returns whether the pipe has any active writers.
func (p *Pipe) HasWriters() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writers > 0
}

// HadWriter returns whether the pipe ever had a writer.
func (p *Pipe) HadWriter() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hadWriter
}

// Busy returns true while any reader or writer holds the pipe open.
func (p *Pipe) Busy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.readers+p.writers != 0
}

// QueuedSize returns the number of buffered bytes.
func (p *Pipe) QueuedSize() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.data)
}
