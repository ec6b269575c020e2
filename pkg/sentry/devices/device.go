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

// Package devices defines the character and block device interfaces used by
// the filesystem layers, and a registry mapping device numbers to drivers.
package devices

import (
	"fmt"
	"sync"
	"sync/atomic"

	"posnk.dev/posnk/pkg/abi/linux"
	"posnk.dev/posnk/pkg/errors/linuxerr"
	"posnk.dev/posnk/pkg/log"
)

// ID identifies a device.
type ID struct {
	Major uint16
	Minor uint16
}

// DeviceID formats a major and minor device number into a standard device number.
func (i ID) DeviceID() uint32 {
	return linux.MakeDeviceID(i.Major, i.Minor)
}

// String implements fmt.Stringer.
func (i ID) String() string {
	return fmt.Sprintf("%d:%d", i.Major, i.Minor)
}

// IDFromDeviceID is the inverse of ID.DeviceID.
func IDFromDeviceID(dev uint32) ID {
	major, minor := linux.DecodeDeviceID(dev)
	return ID{Major: major, Minor: minor}
}

// Registry tracks the character and block devices known to the system.
type Registry struct {
	// lastAnonDeviceMinor is the last minor device number used for an anonymous
	// device.
	lastAnonDeviceMinor atomic.Uint32

	// mu protects the fields below.
	mu sync.Mutex

	chars  map[uint32]CharDevice
	blocks map[uint32]BlockDevice
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		chars:  make(map[uint32]CharDevice),
		blocks: make(map[uint32]BlockDevice),
	}
}

// NewAnonID assigns a major and minor number to an anonymous device, such as
// a filesystem mounted from a device that was never registered.
func (r *Registry) NewAnonID() ID {
	return ID{
		// Anon devices always have a major number of 0.
		Major: 0,
		// Use the next minor number.
		Minor: uint16(r.lastAnonDeviceMinor.Add(1)),
	}
}

// RegisterChar registers dev under id. Registering an id twice is EEXIST.
func (r *Registry) RegisterChar(id ID, dev CharDevice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.chars[id.DeviceID()]; ok {
		return linuxerr.EEXIST
	}
	r.chars[id.DeviceID()] = dev
	log.Debugf("Registered character device %v", id)
	return nil
}

// RegisterBlock registers dev under id. Registering an id twice is EEXIST.
func (r *Registry) RegisterBlock(id ID, dev BlockDevice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.blocks[id.DeviceID()]; ok {
		return linuxerr.EEXIST
	}
	r.blocks[id.DeviceID()] = dev
	log.Debugf("Registered block device %v", id)
	return nil
}

// Char returns the character device with number dev, or ENXIO.
func (r *Registry) Char(dev uint32) (CharDevice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.chars[dev]; ok {
		return d, nil
	}
	return nil, linuxerr.ENXIO
}

// Block returns the block device with number dev, or ENXIO.
func (r *Registry) Block(dev uint32) (BlockDevice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.blocks[dev]; ok {
		return d, nil
	}
	return nil, linuxerr.ENXIO
}
