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
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"posnk.dev/posnk/pkg/errors/linuxerr"
)

func TestMemoryDevice(t *testing.T) {
	d := NewMemoryDevice(16)
	if n, err := d.WriteAt([]byte("abcd"), 14); n != 2 || err != io.ErrShortWrite {
		t.Errorf("WriteAt past the end: got (%d, %v), wanted (2, %v)", n, err, io.ErrShortWrite)
	}
	buf := make([]byte, 4)
	if n, err := d.ReadAt(buf, 13); n != 3 || err != io.EOF {
		t.Errorf("ReadAt past the end: got (%d, %v), wanted (3, EOF)", n, err)
	}
	if diff := cmp.Diff([]byte{0, 'a', 'b', 0}, buf); diff != "" {
		t.Errorf("ReadAt mismatch (-want +got):\n%s", diff)
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	if err := RegisterMemoryDevices(r); err != nil {
		t.Fatalf("RegisterMemoryDevices failed: %v", err)
	}
	if err := r.RegisterChar(ID{Major: MemMajor, Minor: nullDevMinor}, NullDevice{}); !linuxerr.Equals(linuxerr.EEXIST, err) {
		t.Errorf("duplicate RegisterChar: got %v, wanted EEXIST", err)
	}
	zero, err := r.Char(ID{Major: MemMajor, Minor: zeroDevMinor}.DeviceID())
	if err != nil {
		t.Fatalf("Char(zero) failed: %v", err)
	}
	buf := []byte{1, 2, 3}
	if n, err := zero.Read(context.Background(), 0, buf, false); n != 3 || err != nil {
		t.Fatalf("zero.Read: got (%d, %v)", n, err)
	}
	if diff := cmp.Diff([]byte{0, 0, 0}, buf); diff != "" {
		t.Errorf("zero.Read mismatch (-want +got):\n%s", diff)
	}
	if _, err := r.Block(ID{Major: 3}.DeviceID()); !linuxerr.Equals(linuxerr.ENXIO, err) {
		t.Errorf("Block(unregistered): got %v, wanted ENXIO", err)
	}
	dev := NewMemoryDevice(1024)
	if err := r.RegisterBlock(ID{Major: 3}, dev); err != nil {
		t.Fatalf("RegisterBlock failed: %v", err)
	}
	if got, err := r.Block(ID{Major: 3}.DeviceID()); err != nil || got != BlockDevice(dev) {
		t.Errorf("Block: got (%v, %v), wanted the registered device", got, err)
	}
}

func TestIDRoundTrip(t *testing.T) {
	id := ID{Major: 8, Minor: 17}
	if got := IDFromDeviceID(id.DeviceID()); got != id {
		t.Errorf("IDFromDeviceID(%#x) = %v, want %v", id.DeviceID(), got, id)
	}
	r := NewRegistry()
	if a, b := r.NewAnonID(), r.NewAnonID(); a == b || a.Major != 0 {
		t.Errorf("NewAnonID returned %v then %v", a, b)
	}
}

func TestFileDevice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.img")
	d, err := CreateFile(path, 4096)
	if err != nil {
		t.Fatalf("CreateFile failed: %v", err)
	}
	if _, err := OpenFile(path, false); err == nil {
		t.Errorf("second exclusive open of a locked image succeeded")
	}
	if n, err := d.WriteAt([]byte("ext2"), 1024); n != 4 || err != nil {
		t.Fatalf("WriteAt: got (%d, %v)", n, err)
	}
	buf := make([]byte, 4)
	if n, err := d.ReadAt(buf, 1024); n != 4 || err != nil || string(buf) != "ext2" {
		t.Fatalf("ReadAt: got (%d, %v) %q", n, err, buf)
	}
	if size, err := d.Size(); err != nil || size != 4096 {
		t.Errorf("Size: got (%d, %v), wanted 4096", size, err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
}
