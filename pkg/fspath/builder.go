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

package fspath

import (
	"strings"
)

// UnreachablePrefix marks a pathname whose leaf is not below the root it was
// rendered from, as getcwd(2) reports after a chroot.
const UnreachablePrefix = "(unreachable)"

// Builder assembles a pathname from components supplied leaf first, the order
// in which they are found by walking parent links up to a root.
//
// The zero value is an empty Builder.
type Builder struct {
	// comps holds the components in the order they were prepended.
	comps []string

	// size is the total length of comps.
	size int
}

// Reset empties b, keeping its storage.
func (b *Builder) Reset() {
	b.comps = b.comps[:0]
	b.size = 0
}

// Depth returns the number of components prepended so far.
func (b *Builder) Depth() int {
	return len(b.comps)
}

// Len returns the length of the absolute pathname b would build.
func (b *Builder) Len() int {
	if len(b.comps) == 0 {
		return 1
	}
	return b.size + len(b.comps)
}

// PrependComponent adds pc in front of the components already in b. pc must
// not be empty or contain a separator.
func (b *Builder) PrependComponent(pc string) {
	b.comps = append(b.comps, pc)
	b.size += len(pc)
}

// Absolute returns the components of b as an absolute pathname. An empty
// Builder yields "/".
func (b *Builder) Absolute() string {
	var sb strings.Builder
	sb.Grow(b.Len())
	b.writeTo(&sb)
	return sb.String()
}

// Unreachable returns the pathname of Absolute marked with UnreachablePrefix.
func (b *Builder) Unreachable() string {
	var sb strings.Builder
	sb.Grow(len(UnreachablePrefix) + b.Len())
	sb.WriteString(UnreachablePrefix)
	b.writeTo(&sb)
	return sb.String()
}

func (b *Builder) writeTo(sb *strings.Builder) {
	if len(b.comps) == 0 {
		sb.WriteByte('/')
		return
	}
	for i := len(b.comps) - 1; i >= 0; i-- {
		sb.WriteByte('/')
		sb.WriteString(b.comps[i])
	}
}
