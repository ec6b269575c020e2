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

package cmd

import (
	"context"
	"flag"
	"fmt"
	"path"
	"strings"

	"github.com/google/subcommands"
	"posnk.dev/posnk/cmd/posfs/config"
	"posnk.dev/posnk/pkg/abi/linux"
	"posnk.dev/posnk/pkg/errors/linuxerr"
)

// Mkdir implements subcommands.Command for the "mkdir" command.
type Mkdir struct {
	mode    string
	parents bool
}

// Name implements subcommands.Command.Name.
func (*Mkdir) Name() string {
	return "mkdir"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Mkdir) Synopsis() string {
	return "create directories in the image"
}

// Usage implements subcommands.Command.Usage.
func (*Mkdir) Usage() string {
	return `mkdir [flags] <path>... - creates each directory.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (m *Mkdir) SetFlags(f *flag.FlagSet) {
	f.StringVar(&m.mode, "mode", "", "octal permissions of the new directories, set exactly. Without it, 777 less the umask.")
	f.BoolVar(&m.parents, "p", false, "create missing parents and accept existing directories.")
}

// Execute implements subcommands.Command.Execute.
func (m *Mkdir) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	return execute(ctx, m.Name(), f, args, 1, func(ctx context.Context, conf *config.Config) error {
		var mode linux.FileMode
		if m.mode != "" {
			var err error
			if mode, err = parseMode(m.mode); err != nil {
				return err
			}
		}
		return withSession(ctx, conf, true, func(s *session) error {
			for _, p := range f.Args() {
				if err := s.mkdir(p, m.parents, m.mode != "", mode); err != nil {
					return fmt.Errorf("%s: %w", p, err)
				}
			}
			return nil
		})
	})
}

// mkdir creates the directory p. Like mkdir(1) -m, an explicit mode is
// applied after creation so that the umask does not narrow it. With parents
// set, missing ancestors are created with the default mode and an existing
// p is left as it is.
func (s *session) mkdir(p string, parents, explicit bool, mode linux.FileMode) error {
	var err error
	created := true
	if parents {
		created, err = s.mkdirAll(p)
	} else {
		err = s.vfs.Mkdir(s.ctx, p, 0777)
	}
	if err != nil || !created || !explicit {
		return err
	}
	return s.vfs.Chmod(s.ctx, p, mode)
}

// mkdirAll creates p and every missing ancestor of it. It reports whether p
// itself was created.
func (s *session) mkdirAll(p string) (bool, error) {
	cur := ""
	if strings.HasPrefix(p, "/") {
		cur = "/"
	}
	created := false
	for _, name := range strings.Split(path.Clean(p), "/") {
		if name == "" {
			continue
		}
		cur = path.Join(cur, name)
		err := s.vfs.Mkdir(s.ctx, cur, 0777)
		if err == nil {
			created = true
			continue
		}
		if !linuxerr.Equals(linuxerr.EEXIST, err) {
			return false, err
		}
		created = false
		st, serr := s.vfs.Stat(s.ctx, cur)
		if serr != nil {
			return false, serr
		}
		if !st.Mode.IsDir() {
			return false, linuxerr.ENOTDIR
		}
	}
	return created, nil
}
