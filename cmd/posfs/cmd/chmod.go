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

// Chmod implements subcommands.Command for the "chmod" command.
type Chmod struct{}

// Name implements subcommands.Command.Name.
func (*Chmod) Name() string {
	return "chmod"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Chmod) Synopsis() string {
	return "change the permissions of files in the image"
}

// Usage implements subcommands.Command.Usage.
func (*Chmod) Usage() string {
	return `chmod <octal-mode> <path>... - sets the permission bits of each file.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Chmod) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (c *Chmod) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	return execute(ctx, c.Name(), f, args, 2, func(ctx context.Context, conf *config.Config) error {
		mode, err := parseMode(f.Arg(0))
		if err != nil {
			return err
		}
		return withSession(ctx, conf, true, func(s *session) error {
			for _, p := range f.Args()[1:] {
				if err := s.vfs.Chmod(s.ctx, p, mode); err != nil {
					return fmt.Errorf("%s: %w", p, err)
				}
			}
			return nil
		})
	})
}
