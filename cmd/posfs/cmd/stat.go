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
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/subcommands"
	"posnk.dev/posnk/cmd/posfs/config"
	"posnk.dev/posnk/pkg/abi/linux"
	"posnk.dev/posnk/pkg/sentry/devices"
	"posnk.dev/posnk/pkg/sentry/vfs"
)

// Stat implements subcommands.Command for the "stat" command.
type Stat struct {
	follow bool
}

// Name implements subcommands.Command.Name.
func (*Stat) Name() string {
	return "stat"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Stat) Synopsis() string {
	return "display file attributes"
}

// Usage implements subcommands.Command.Usage.
func (*Stat) Usage() string {
	return `stat [flags] <path>... - prints the attributes of each file.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (st *Stat) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&st.follow, "L", false, "follow symbolic links.")
}

// Execute implements subcommands.Command.Execute.
func (st *Stat) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	return execute(ctx, st.Name(), f, args, 1, func(ctx context.Context, conf *config.Config) error {
		return withSession(ctx, conf, false, func(s *session) error {
			for _, p := range f.Args() {
				var (
					attrs vfs.Statx
					err   error
				)
				if st.follow {
					attrs, err = s.vfs.Stat(s.ctx, p)
				} else {
					attrs, err = s.vfs.Lstat(s.ctx, p)
				}
				if err != nil {
					return fmt.Errorf("%s: %w", p, err)
				}
				printStat(p, attrs)
			}
			return nil
		})
	})
}

func printStat(p string, st vfs.Statx) {
	fmt.Fprintf(Stdout, "  File: %s\n", p)
	fmt.Fprintf(Stdout, "  Size: %d (%s)\tBlocks: %d\tType: %s\n",
		st.Size, humanize.IBytes(uint64(st.Size)), st.Blocks, typeName(st.Mode))
	fmt.Fprintf(Stdout, "Device: %v\tInode: %d\tLinks: %d", devices.IDFromDeviceID(st.Dev), st.Ino, st.Links)
	if ft := st.Mode.FileType(); ft == linux.ModeCharacterDevice || ft == linux.ModeBlockDevice {
		fmt.Fprintf(Stdout, "\tDevice type: %v", devices.IDFromDeviceID(st.Rdev))
	}
	fmt.Fprintln(Stdout)
	fmt.Fprintf(Stdout, "Access: (%04o/%s)\tUid: %d\tGid: %d\n",
		uint(st.Mode&^linux.FileTypeMask), modeString(st.Mode), st.UID, st.GID)
	for _, t := range []struct {
		name string
		sec  int64
	}{
		{"Access", st.Atime},
		{"Modify", st.Mtime},
		{"Change", st.Ctime},
	} {
		fmt.Fprintf(Stdout, "%s: %s (%s)\n", t.name, formatTime(t.sec), humanize.Time(time.Unix(t.sec, 0)))
	}
}

func typeName(m linux.FileMode) string {
	switch m.FileType() {
	case linux.ModeDirectory:
		return "directory"
	case linux.ModeSymlink:
		return "symbolic link"
	case linux.ModeCharacterDevice:
		return "character special file"
	case linux.ModeBlockDevice:
		return "block special file"
	case linux.ModeNamedPipe:
		return "fifo"
	case linux.ModeSocket:
		return "socket"
	default:
		return "regular file"
	}
}
