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
)

// CharDevice is a character device driver. Transfers may block; drivers
// honour ctx cancellation and return ErrInterrupted when it fires.
type CharDevice interface {
	// Read reads into dst starting at offset off.
	Read(ctx context.Context, off int64, dst []byte, nonblock bool) (int, error)

	// Write writes src starting at offset off.
	Write(ctx context.Context, off int64, src []byte, nonblock bool) (int, error)
}

// Minor numbers of the memory devices under major MemMajor.
const (
	MemMajor     = 1
	nullDevMinor = 3
	zeroDevMinor = 5
)

// NullDevice implements CharDevice for /dev/null.
type NullDevice struct{}

// Read implements CharDevice.Read.
func (NullDevice) Read(context.Context, int64, []byte, bool) (int, error) {
	return 0, nil
}

// Write implements CharDevice.Write.
func (NullDevice) Write(_ context.Context, _ int64, src []byte, _ bool) (int, error) {
	return len(src), nil
}

// ZeroDevice implements CharDevice for /dev/zero.
type ZeroDevice struct{}

// Read implements CharDevice.Read.
func (ZeroDevice) Read(_ context.Context, _ int64, dst []byte, _ bool) (int, error) {
	clear(dst)
	return len(dst), nil
}

// Write implements CharDevice.Write.
func (ZeroDevice) Write(_ context.Context, _ int64, src []byte, _ bool) (int, error) {
	return len(src), nil
}

// RegisterMemoryDevices registers /dev/null and /dev/zero.
func RegisterMemoryDevices(r *Registry) error {
	if err := r.RegisterChar(ID{Major: MemMajor, Minor: nullDevMinor}, NullDevice{}); err != nil {
		return err
	}
	return r.RegisterChar(ID{Major: MemMajor, Minor: zeroDevMinor}, ZeroDevice{})
}
