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

	"github.com/google/subcommands"
	"posnk.dev/posnk/cmd/posfs/config"
)

// Rm implements subcommands.Command for the "rm" command.
type Rm struct {
	recursive bool
}

// Name implements subcommands.Command.Name.
func (*Rm) Name() string {
	return "rm"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Rm) Synopsis() string {
	return "remove files and directories from the image"
}

// Usage implements subcommands.Command.Usage.
func (*Rm) Usage() string {
	return `rm [flags] <path>... - removes each file. Empty directories are removed with rmdir semantics.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (r *Rm) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&r.recursive, "r", false, "remove directories and their contents.")
}

// Execute implements subcommands.Command.Execute.
func (r *Rm) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	return execute(ctx, r.Name(), f, args, 1, func(ctx context.Context, conf *config.Config) error {
		return withSession(ctx, conf, true, func(s *session) error {
			for _, p := range f.Args() {
				if err := s.remove(p, r.recursive); err != nil {
					return fmt.Errorf("%s: %w", p, err)
				}
			}
			return nil
		})
	})
}

func (s *session) remove(p string, recursive bool) error {
	st, err := s.vfs.Lstat(s.ctx, p)
	if err != nil {
		return err
	}
	if !st.Mode.IsDir() {
		return s.vfs.Unlink(s.ctx, p)
	}
	if recursive {
		ents, err := s.readDir(p)
		if err != nil {
			return err
		}
		for _, d := range ents {
			if d.Name == "." || d.Name == ".." {
				continue
			}
			if err := s.remove(join(p, d.Name), true); err != nil {
				return err
			}
		}
	}
	return s.vfs.Rmdir(s.ctx, p)
}
