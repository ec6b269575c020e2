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
	"posnk.dev/posnk/pkg/abi/linux"
	"posnk.dev/posnk/pkg/sentry/vfs"
)

// copyBufferSize is the size of the buffer file contents are copied through.
const copyBufferSize = 64 << 10

// Cat implements subcommands.Command for the "cat" command.
type Cat struct{}

// Name implements subcommands.Command.Name.
func (*Cat) Name() string {
	return "cat"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Cat) Synopsis() string {
	return "print files of the image"
}

// Usage implements subcommands.Command.Usage.
func (*Cat) Usage() string {
	return `cat <path>... - writes the contents of each file to standard output.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Cat) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (c *Cat) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	return execute(ctx, c.Name(), f, args, 1, func(ctx context.Context, conf *config.Config) error {
		return withSession(ctx, conf, false, func(s *session) error {
			for _, p := range f.Args() {
				if err := s.cat(p); err != nil {
					return fmt.Errorf("%s: %w", p, err)
				}
			}
			return nil
		})
	})
}

func (s *session) cat(p string) error {
	fd, err := s.vfs.Open(s.ctx, p, vfs.OpenOptions{Flags: linux.O_RDONLY})
	if err != nil {
		return err
	}
	defer fd.Close(s.ctx)
	buf := make([]byte, copyBufferSize)
	for {
		n, err := fd.Read(s.ctx, buf)
		if n > 0 {
			if _, werr := Stdout.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
	}
}
