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

// Ln implements subcommands.Command for the "ln" command.
type Ln struct {
	symbolic bool
}

// Name implements subcommands.Command.Name.
func (*Ln) Name() string {
	return "ln"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Ln) Synopsis() string {
	return "create a link in the image"
}

// Usage implements subcommands.Command.Usage.
func (*Ln) Usage() string {
	return `ln [flags] <target> <path> - creates path as a hard link to target.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (l *Ln) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&l.symbolic, "s", false, "create a symbolic link instead.")
}

// Execute implements subcommands.Command.Execute.
func (l *Ln) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	return execute(ctx, l.Name(), f, args, 2, func(ctx context.Context, conf *config.Config) error {
		target, p := f.Arg(0), f.Arg(1)
		return withSession(ctx, conf, true, func(s *session) error {
			var err error
			if l.symbolic {
				err = s.vfs.Symlink(s.ctx, target, p)
			} else {
				err = s.vfs.Link(s.ctx, target, p)
			}
			if err != nil {
				return fmt.Errorf("%s: %w", p, err)
			}
			return nil
		})
	})
}
