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

package auth

import (
	"fmt"
	"strings"
)

// A Capability represents the ability to perform a privileged operation.
type Capability int

// Capabilities consulted by the filesystem layers, numbered as in
// include/uapi/linux/capability.h.
const (
	CAP_CHOWN           = Capability(0)
	CAP_DAC_OVERRIDE    = Capability(1)
	CAP_DAC_READ_SEARCH = Capability(2)
	CAP_FOWNER          = Capability(3)
	CAP_FSETID          = Capability(4)
	CAP_SYS_CHROOT      = Capability(18)
	CAP_SYS_ADMIN       = Capability(21)
	CAP_MKNOD           = Capability(27)

	// CAP_LAST_CAP is the highest-numbered capability.
	CAP_LAST_CAP = Capability(40)
)

var capabilityNames = map[Capability]string{
	CAP_CHOWN:           "CAP_CHOWN",
	CAP_DAC_OVERRIDE:    "CAP_DAC_OVERRIDE",
	CAP_DAC_READ_SEARCH: "CAP_DAC_READ_SEARCH",
	CAP_FOWNER:          "CAP_FOWNER",
	CAP_FSETID:          "CAP_FSETID",
	CAP_SYS_CHROOT:      "CAP_SYS_CHROOT",
	CAP_SYS_ADMIN:       "CAP_SYS_ADMIN",
	CAP_MKNOD:           "CAP_MKNOD",
}

// String returns the capability name.
func (cp Capability) String() string {
	if name, ok := capabilityNames[cp]; ok {
		return name
	}
	return fmt.Sprintf("CAP_%d", int(cp))
}

// A CapabilitySet is a set of capabilities implemented as a bitset. The zero
// value of CapabilitySet is a set containing no capabilities.
type CapabilitySet uint64

// AllCapabilities is a CapabilitySet containing all valid capabilities.
var AllCapabilities = CapabilitySetOf(CAP_LAST_CAP+1) - 1

// CapabilitySetOf returns a CapabilitySet containing only the given
// capability.
func CapabilitySetOf(cp Capability) CapabilitySet {
	return CapabilitySet(uint64(1) << uint(cp))
}

// CapabilitySetOfMany returns a CapabilitySet containing the given capabilities.
func CapabilitySetOfMany(cps []Capability) CapabilitySet {
	var cs CapabilitySet
	for _, cp := range cps {
		cs |= CapabilitySetOf(cp)
	}
	return cs
}

// Has returns true if cs contains cp.
func (cs CapabilitySet) Has(cp Capability) bool {
	return cs&CapabilitySetOf(cp) != 0
}

// String lists the named capabilities in cs.
func (cs CapabilitySet) String() string {
	if cs == AllCapabilities {
		return "all"
	}
	var names []string
	for cp := Capability(0); cp <= CAP_LAST_CAP; cp++ {
		if cs.Has(cp) {
			names = append(names, cp.String())
		}
	}
	return strings.Join(names, "|")
}
