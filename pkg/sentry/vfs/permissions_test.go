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


package vfs

import (
	"testing"

	"posnk.dev/posnk/pkg/abi/linux"
	"posnk.dev/posnk/pkg/errors/linuxerr"
	"posnk.dev/posnk/pkg/sentry/kernel/auth"
)

func TestCheckAccess(t *testing.T) {
	owner := auth.NewUserCredentials(100, 100, nil)
	member := auth.NewUserCredentials(200, 300, []auth.KGID{100})
	other := auth.NewUserCredentials(300, 300, nil)
	searcher := auth.NewUserCredentials(400, 400, nil)
	searcher.EffectiveCaps = auth.CapabilitySetOf(auth.CAP_DAC_READ_SEARCH)
	root := auth.NewRootCredentials()

	const reg = linux.ModeRegular
	const dir = linux.ModeDirectory
	for _, tc := range []struct {
		name  string
		creds *auth.Credentials
		want  AccessTypes
		mode  linux.FileMode
		ok    bool
	}{
		{"owner read", owner, MayRead, reg | 0400, true},
		{"owner bits only", owner, MayWrite, reg | 0077, false},
		{"group write", member, MayWrite, reg | 0620, true},
		{"group denied", member, MayWrite, reg | 0646, false},
		{"other read-write", other, MayRead | MayWrite, reg | 0666, true},
		{"other partial", other, MayRead | MayWrite, reg | 0664, false},
		{"search cap reads", searcher, MayRead, reg | 0, true},
		{"search cap does not write", searcher, MayWrite, reg | 0, false},
		{"search cap lists dirs", searcher, MayRead | MayExec, dir | 0, true},
		{"root writes anything", root, MayWrite, reg | 0, true},
		{"root executes dirs", root, MayExec, dir | 0, true},
		{"root needs an exec bit", root, MayExec, reg | 0644, false},
		{"root with an exec bit", root, MayExec, reg | 0100, true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			err := CheckAccess(tc.creds, tc.want, tc.mode, 100, 100)
			switch {
			case tc.ok && err != nil:
				t.Errorf("CheckAccess = %v, want nil", err)
			case !tc.ok && !linuxerr.Equals(linuxerr.EACCES, err):
				t.Errorf("CheckAccess = %v, want EACCES", err)
			}
		})
	}
}

func TestOpenAccess(t *testing.T) {
	for _, tc := range []struct {
		flags     uint32
		want      AccessTypes
		read, wrt bool
	}{
		{linux.O_RDONLY, MayRead, true, false},
		{linux.O_RDONLY | linux.O_TRUNC, MayRead | MayWrite, true, false},
		{linux.O_WRONLY, MayWrite, false, true},
		{linux.O_RDWR | linux.O_APPEND, MayRead | MayWrite, true, true},
		{linux.O_ACCMODE, MayRead | MayWrite, false, false},
	} {
		if got := openAccess(tc.flags); got != tc.want {
			t.Errorf("openAccess(%#o) = %d, want %d", tc.flags, got, tc.want)
		}
		if got := readable(tc.flags); got != tc.read {
			t.Errorf("readable(%#o) = %t, want %t", tc.flags, got, tc.read)
		}
		if got := writable(tc.flags); got != tc.wrt {
			t.Errorf("writable(%#o) = %t, want %t", tc.flags, got, tc.wrt)
		}
	}
}
