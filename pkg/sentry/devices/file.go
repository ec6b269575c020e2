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

package devices

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gofrs/flock"
	"golang.org/x/sys/unix"
	"posnk.dev/posnk/pkg/log"
)

const (
	// retryInterval is the delay between attempts at a transient failure.
	retryInterval = 10 * time.Millisecond

	// maxRetries bounds the attempts made for one transfer.
	maxRetries = 5
)

// FileDevice is a BlockDevice backed by an image file. The image is held
// under an exclusive advisory lock (a shared one when read-only) until Close.
type FileDevice struct {
	f    *os.File
	lock *flock.Flock
}

// OpenFile opens the image at path.
func OpenFile(path string, readOnly bool) (*FileDevice, error) {
	flags := os.O_RDWR
	if readOnly {
		flags = os.O_RDONLY
	}
	f, err := os.OpenFile(path, flags, 0)
	if err != nil {
		return nil, fmt.Errorf("opening image %q: %w", path, err)
	}
	l := flock.New(path)
	var locked bool
	if readOnly {
		locked, err = l.TryRLock()
	} else {
		locked, err = l.TryLock()
	}
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("locking image %q: %w", path, err)
	}
	if !locked {
		f.Close()
		return nil, fmt.Errorf("image %q is in use by another process", path)
	}
	log.Debugf("Opened image %q (read-only: %t)", path, readOnly)
	return &FileDevice{f: f, lock: l}, nil
}

// CreateFile creates (or truncates) an image file of size bytes and opens it.
func CreateFile(path string, size int64) (*FileDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("creating image %q: %w", path, err)
	}
	if err := f.Truncate(size); err != nil {
		f.Close()
		return nil, fmt.Errorf("sizing image %q: %w", path, err)
	}
	f.Close()
	return OpenFile(path, false)
}

// transient reports whether err is worth retrying.
func transient(err error) bool {
	return errors.Is(err, unix.EINTR) || errors.Is(err, unix.EAGAIN)
}

// retry runs op until it succeeds, fails permanently or runs out of attempts.
func retry(op func() error) error {
	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(retryInterval), maxRetries)
	return backoff.Retry(func() error {
		err := op()
		if err != nil && !transient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, b)
}

// ReadAt implements io.ReaderAt.ReadAt.
func (d *FileDevice) ReadAt(p []byte, off int64) (int, error) {
	var n int
	err := retry(func() error {
		m, err := d.f.ReadAt(p[n:], off+int64(n))
		n += m
		return err
	})
	if err == io.EOF && n == len(p) {
		err = nil
	}
	return n, err
}

// WriteAt implements io.WriterAt.WriteAt.
func (d *FileDevice) WriteAt(p []byte, off int64) (int, error) {
	var n int
	err := retry(func() error {
		m, err := d.f.WriteAt(p[n:], off+int64(n))
		n += m
		return err
	})
	return n, err
}

// Size returns the image size in bytes.
func (d *FileDevice) Size() (int64, error) {
	fi, err := d.f.Stat()
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

// Sync flushes the image to stable storage.
func (d *FileDevice) Sync() error {
	return retry(d.f.Sync)
}

// Close releases the lock and closes the image.
func (d *FileDevice) Close() error {
	if err := d.lock.Unlock(); err != nil {
		log.Warningf("Unlocking image %q: %v", d.f.Name(), err)
	}
	return d.f.Close()
}
