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

// Package fspath parses and builds pathnames as path_resolution(7) describes
// them.
package fspath

import (
	"strings"

	"posnk.dev/posnk/pkg/abi/linux"
	"posnk.dev/posnk/pkg/errors/linuxerr"
)

const pathSep = '/'

// CheckPathname returns the error path resolution reports for a pathname
// that is empty (ENOENT) or does not fit in PATH_MAX bytes including its
// terminating NUL (ENAMETOOLONG).
func CheckPathname(pathname string) error {
	switch {
	case pathname == "":
		return linuxerr.ENOENT
	case len(pathname) >= linux.PATH_MAX:
		return linuxerr.ENAMETOOLONG
	}
	return nil
}

// CheckComponent returns ENAMETOOLONG if name is longer than NAME_MAX.
func CheckComponent(name string) error {
	if len(name) > linux.NAME_MAX {
		return linuxerr.ENAMETOOLONG
	}
	return nil
}

// Parse splits pathname into its components. Redundant separators are
// dropped; leading and trailing ones are recorded in Path.Absolute and
// Path.Dir.
func Parse(pathname string) (Path, error) {
	if err := CheckPathname(pathname); err != nil {
		return Path{}, err
	}
	rel := strings.TrimLeft(pathname, "/")
	p := Path{Absolute: len(rel) != len(pathname)}
	if rel == "" {
		// Only separators.
		p.Dir = true
		return p, nil
	}
	trimmed := strings.TrimRight(rel, "/")
	p.Dir = len(trimmed) != len(rel)
	p.Begin = newIterator(trimmed)
	return p, nil
}

// Path is a parsed pathname. It is copyable by value; the zero value is a
// relative path without components.
type Path struct {
	// Begin is the first component. Later ones are reached with
	// Iterator.Next, so Path itself never allocates.
	Begin Iterator

	// Absolute is set if resolution starts at the root rather than at the
	// working directory.
	Absolute bool

	// Dir is set if the pathname ends in a separator, so its final component
	// must be a directory.
	Dir bool
}

// String returns p in canonical form: no repeated separators and at most one
// trailing separator.
func (p Path) String() string {
	var b strings.Builder
	if p.Absolute {
		b.WriteByte(pathSep)
	}
	for it := p.Begin; it.Ok(); it = it.Next() {
		b.WriteString(it.String())
		if it.NextOk() {
			b.WriteByte(pathSep)
		}
	}
	if p.Dir && p.Begin.Ok() {
		b.WriteByte(pathSep)
	}
	return b.String()
}

// HasComponents returns true if p names anything beyond its starting point.
func (p Path) HasComponents() bool {
	return p.Begin.Ok()
}

// Iterator points at one component of a Path, or past the last one.
//
// Iterator is immutable and copyable by value. The zero value is the
// terminal iterator.
type Iterator struct {
	// rest starts at the current component and runs to the end of the last
	// one. It is empty for the terminal iterator.
	rest string

	// end is the length of the current component within rest.
	end int
}

func newIterator(rest string) Iterator {
	end := strings.IndexByte(rest, pathSep)
	if end < 0 {
		end = len(rest)
	}
	return Iterator{rest: rest, end: end}
}

// Ok returns true unless it is the terminal iterator.
func (it Iterator) Ok() bool {
	return it.rest != ""
}

// String returns the current component.
//
// Preconditions: it.Ok().
func (it Iterator) String() string {
	return it.rest[:it.end]
}

// Next returns the iterator for the following component.
//
// Preconditions: it.Ok().
func (it Iterator) Next() Iterator {
	if !it.NextOk() {
		return Iterator{}
	}
	// rest never ends in a separator, so something follows this run.
	return newIterator(strings.TrimLeft(it.rest[it.end:], "/"))
}

// NextOk is equivalent to it.Next().Ok().
//
// Preconditions: it.Ok().
func (it Iterator) NextOk() bool {
	return it.end != len(it.rest)
}
