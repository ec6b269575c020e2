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
	"testing"

	"github.com/google/go-cmp/cmp"
	"posnk.dev/posnk/pkg/errors/linuxerr"
)

func components(p Path) []string {
	var pcs []string
	for it := p.Begin; it.Ok(); it = it.Next() {
		pcs = append(pcs, it.String())
	}
	return pcs
}

func TestParse(t *testing.T) {
	for _, test := range []struct {
		pathname string
		pcs      []string
		absolute bool
		dir      bool
		str      string
	}{
		{pathname: "/", absolute: true, dir: true, str: "/"},
		{pathname: "///", absolute: true, dir: true, str: "/"},
		{pathname: ".", pcs: []string{"."}, str: "."},
		{pathname: "a", pcs: []string{"a"}, str: "a"},
		{pathname: "/a/b", pcs: []string{"a", "b"}, absolute: true, str: "/a/b"},
		{pathname: "a//b///c", pcs: []string{"a", "b", "c"}, str: "a/b/c"},
		{pathname: "a/b/", pcs: []string{"a", "b"}, dir: true, str: "a/b/"},
		{pathname: "//mnt//..//x//", pcs: []string{"mnt", "..", "x"}, absolute: true, dir: true, str: "/mnt/../x/"},
		{pathname: "lost+found", pcs: []string{"lost+found"}, str: "lost+found"},
	} {
		t.Run(test.pathname, func(t *testing.T) {
			p, err := Parse(test.pathname)
			if err != nil {
				t.Fatalf("Parse failed: %v", err)
			}
			if diff := cmp.Diff(test.pcs, components(p)); diff != "" {
				t.Errorf("components mismatch (-want +got):\n%s", diff)
			}
			if p.Absolute != test.absolute || p.Dir != test.dir {
				t.Errorf("got Absolute %t Dir %t, want %t and %t", p.Absolute, p.Dir, test.absolute, test.dir)
			}
			if p.HasComponents() != (len(test.pcs) > 0) {
				t.Errorf("HasComponents: got %t", p.HasComponents())
			}
			if got := p.String(); got != test.str {
				t.Errorf("String: got %q, want %q", got, test.str)
			}
		})
	}
}

func TestParseErrors(t *testing.T) {
	if _, err := Parse(""); !linuxerr.Equals(linuxerr.ENOENT, err) {
		t.Errorf("Parse of empty pathname: got %v, want ENOENT", err)
	}
	long := "/" + strings.Repeat("a/", 2048)
	if _, err := Parse(long); !linuxerr.Equals(linuxerr.ENAMETOOLONG, err) {
		t.Errorf("Parse of %d byte pathname: got %v, want ENAMETOOLONG", len(long), err)
	}
	if _, err := Parse(long[:4095]); err != nil {
		t.Errorf("Parse of 4095 byte pathname: got %v, want nil", err)
	}
}

func TestIteratorNextOk(t *testing.T) {
	p, err := Parse("x//y/")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	it := p.Begin
	if !it.NextOk() {
		t.Errorf("NextOk at %q: got false", it.String())
	}
	it = it.Next()
	if it.String() != "y" || it.NextOk() {
		t.Errorf("second component: got %q, NextOk %t", it.String(), it.NextOk())
	}
	if it = it.Next(); it.Ok() {
		t.Errorf("iterator past the end is Ok")
	}
}

func TestCheckComponent(t *testing.T) {
	if err := CheckComponent(strings.Repeat("n", 255)); err != nil {
		t.Errorf("CheckComponent of 255 bytes: got %v, want nil", err)
	}
	if err := CheckComponent(strings.Repeat("n", 256)); !linuxerr.Equals(linuxerr.ENAMETOOLONG, err) {
		t.Errorf("CheckComponent of 256 bytes: got %v, want ENAMETOOLONG", err)
	}
}
