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
	"io"
	"os"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/google/subcommands"
	"posnk.dev/posnk/cmd/posfs/config"
	"posnk.dev/posnk/pkg/abi/linux"
	"posnk.dev/posnk/pkg/log"
	"posnk.dev/posnk/pkg/sentry/vfs"
)

// Put implements subcommands.Command for the "put" command.
type Put struct {
	mode   string
	append bool
}

// Name implements subcommands.Command.Name.
func (*Put) Name() string {
	return "put"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Put) Synopsis() string {
	return "copy a host file into the image"
}

// Usage implements subcommands.Command.Usage.
func (*Put) Usage() string {
	return `put [flags] <host file|-> <path> - copies a host file (or standard input) to path.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (p *Put) SetFlags(f *flag.FlagSet) {
	f.StringVar(&p.mode, "mode", "644", "octal permissions of a newly created file.")
	f.BoolVar(&p.append, "append", false, "append to the file instead of replacing its contents.")
}

// Execute implements subcommands.Command.Execute.
func (p *Put) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	return execute(ctx, p.Name(), f, args, 2, func(ctx context.Context, conf *config.Config) error {
		mode, err := parseMode(p.mode)
		if err != nil {
			return err
		}
		var src io.Reader = os.Stdin
		if name := f.Arg(0); name != "-" {
			hf, err := os.Open(name)
			if err != nil {
				return err
			}
			defer hf.Close()
			src = hf
		}
		return withSession(ctx, conf, true, func(s *session) error {
			n, err := s.put(src, f.Arg(1), mode, p.append)
			if err != nil {
				return fmt.Errorf("%s: %w", f.Arg(1), err)
			}
			log.Infof("Copied %s to %s", humanize.IBytes(uint64(n)), f.Arg(1))
			return nil
		})
	})
}

func (s *session) put(src io.Reader, p string, mode linux.FileMode, appendData bool) (int64, error) {
	flags := uint32(linux.O_WRONLY | linux.O_CREAT)
	if appendData {
		flags |= linux.O_APPEND
	} else {
		flags |= linux.O_TRUNC
	}
	fd, err := s.vfs.Open(s.ctx, p, vfs.OpenOptions{Flags: flags, Mode: mode})
	if err != nil {
		return 0, err
	}
	defer fd.Close(s.ctx)
	buf := make([]byte, copyBufferSize)
	var total int64
	for {
		n, rerr := src.Read(buf)
		for off := 0; off < n; {
			m, err := fd.Write(s.ctx, buf[off:n])
			total += int64(m)
			if err != nil {
				return total, err
			}
			if m == 0 {
				return total, io.ErrShortWrite
			}
			off += m
		}
		if rerr == io.EOF {
			return total, nil
		}
		if rerr != nil {
			return total, rerr
		}
	}
}

// parseMode parses octal permission bits.
func parseMode(s string) (linux.FileMode, error) {
	m, err := strconv.ParseUint(s, 8, 32)
	if err != nil || m&^(linux.PermissionsMask|linux.ModeSetUID|linux.ModeSetGID|linux.ModeSticky) != 0 {
		return 0, usageError{fmt.Sprintf("invalid mode %q", s)}
	}
	return linux.FileMode(m), nil
}
