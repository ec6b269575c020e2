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

	"github.com/dustin/go-humanize"
	"github.com/google/subcommands"
	"posnk.dev/posnk/cmd/posfs/config"
)

// Df implements subcommands.Command for the "df" command.
type Df struct {
	raw bool
}

// Name implements subcommands.Command.Name.
func (*Df) Name() string {
	return "df"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Df) Synopsis() string {
	return "report space and inode usage of the image"
}

// Usage implements subcommands.Command.Usage.
func (*Df) Usage() string {
	return `df [flags] [path] - reports usage of the filesystem holding path (default /).
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (d *Df) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&d.raw, "raw", false, "print sizes in bytes.")
}

// Execute implements subcommands.Command.Execute.
func (d *Df) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	p := "/"
	if f.NArg() > 0 {
		p = f.Arg(0)
	}
	return execute(ctx, d.Name(), f, args, 0, func(ctx context.Context, conf *config.Config) error {
		return withSession(ctx, conf, false, func(s *session) error {
			st, err := s.vfs.Statfs(s.ctx, p)
			if err != nil {
				return fmt.Errorf("%s: %w", p, err)
			}
			bs := uint64(st.BlockSize)
			size := func(blocks uint64) string {
				if d.raw {
					return fmt.Sprintf("%d", blocks*bs)
				}
				return humanize.IBytes(blocks * bs)
			}
			used := st.Blocks - st.BlocksFree
			fmt.Fprintf(Stdout, "%-10s %10s %10s %10s %5s\n", "", "Size", "Used", "Avail", "Use%")
			fmt.Fprintf(Stdout, "%-10s %10s %10s %10s %4d%%\n", "blocks", size(st.Blocks), size(used), size(st.BlocksAvailable), percent(used, st.Blocks))
			iused := st.Files - st.FilesFree
			fmt.Fprintf(Stdout, "%-10s %10s %10s %10s %4d%%\n", "inodes",
				humanize.Comma(int64(st.Files)), humanize.Comma(int64(iused)), humanize.Comma(int64(st.FilesFree)), percent(iused, st.Files))
			return nil
		})
	})
}

func percent(part, whole uint64) uint64 {
	if whole == 0 {
		return 0
	}
	return (part*100 + whole - 1) / whole
}
