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
	"posnk.dev/posnk/pkg/abi/linux"
)

// Ls implements subcommands.Command for the "ls" command.
type Ls struct {
	long  bool
	all   bool
	human bool
}

// Name implements subcommands.Command.Name.
func (*Ls) Name() string {
	return "ls"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Ls) Synopsis() string {
	return "list a directory of the image"
}

// Usage implements subcommands.Command.Usage.
func (*Ls) Usage() string {
	return `ls [flags] [path...] - lists directories (default /). Entries are printed in directory order.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (l *Ls) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&l.long, "l", false, "use the long listing format.")
	f.BoolVar(&l.all, "a", false, "include . and .. in the listing.")
	f.BoolVar(&l.human, "h", false, "print sizes in human readable form.")
}

// Execute implements subcommands.Command.Execute.
func (l *Ls) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	paths := f.Args()
	if len(paths) == 0 {
		paths = []string{"/"}
	}
	return execute(ctx, l.Name(), f, args, 0, func(ctx context.Context, conf *config.Config) error {
		return withSession(ctx, conf, false, func(s *session) error {
			for i, p := range paths {
				if len(paths) > 1 {
					if i > 0 {
						fmt.Fprintln(Stdout)
					}
					fmt.Fprintf(Stdout, "%s:\n", p)
				}
				if err := l.list(s, p); err != nil {
					return err
				}
			}
			return nil
		})
	})
}

func (l *Ls) list(s *session, p string) error {
	st, err := s.vfs.Stat(s.ctx, p)
	if err != nil {
		return fmt.Errorf("%s: %w", p, err)
	}
	if !st.Mode.IsDir() {
		return l.print(s, p, p)
	}
	ents, err := s.readDir(p)
	if err != nil {
		return fmt.Errorf("%s: %w", p, err)
	}
	for _, d := range ents {
		if !l.all && (d.Name == "." || d.Name == "..") {
			continue
		}
		if err := l.print(s, join(p, d.Name), d.Name); err != nil {
			return err
		}
	}
	return nil
}

func (l *Ls) print(s *session, p, name string) error {
	if !l.long {
		fmt.Fprintln(Stdout, name)
		return nil
	}
	st, err := s.vfs.Lstat(s.ctx, p)
	if err != nil {
		return fmt.Errorf("%s: %w", p, err)
	}
	size := fmt.Sprintf("%d", st.Size)
	switch {
	case st.Mode.FileType() == linux.ModeCharacterDevice || st.Mode.FileType() == linux.ModeBlockDevice:
		major, minor := linux.DecodeDeviceID(st.Rdev)
		size = fmt.Sprintf("%d, %d", major, minor)
	case l.human:
		size = humanize.IBytes(uint64(st.Size))
	}
	if st.Mode.FileType() == linux.ModeSymlink {
		target, err := s.vfs.Readlink(s.ctx, p)
		if err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
		name += " -> " + target
	}
	fmt.Fprintf(Stdout, "%s %3d %5d %5d %10s %s %s\n",
		modeString(st.Mode), st.Links, st.UID, st.GID, size, formatTime(st.Mtime), name)
	return nil
}

