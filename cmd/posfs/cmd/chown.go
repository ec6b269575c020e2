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
	"strconv"
	"strings"

	"github.com/google/subcommands"
	"posnk.dev/posnk/cmd/posfs/config"
	"posnk.dev/posnk/pkg/sentry/kernel/auth"
)

// Chown implements subcommands.Command for the "chown" command.
type Chown struct {
	noDereference bool
}

// Name implements subcommands.Command.Name.
func (*Chown) Name() string {
	return "chown"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Chown) Synopsis() string {
	return "change the owner and group of files in the image"
}

// Usage implements subcommands.Command.Usage.
func (*Chown) Usage() string {
	return `chown [flags] <uid>[:<gid>] <path>... - changes the owner of each file.
An empty uid, as in ":100", changes only the group.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (c *Chown) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.noDereference, "h", false, "change symbolic links instead of their targets.")
}

// Execute implements subcommands.Command.Execute.
func (c *Chown) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	return execute(ctx, c.Name(), f, args, 2, func(ctx context.Context, conf *config.Config) error {
		uid, gid, err := parseOwner(f.Arg(0))
		if err != nil {
			return err
		}
		return withSession(ctx, conf, true, func(s *session) error {
			for _, p := range f.Args()[1:] {
				if c.noDereference {
					err = s.vfs.Lchown(s.ctx, p, uid, gid)
				} else {
					err = s.vfs.Chown(s.ctx, p, uid, gid)
				}
				if err != nil {
					return fmt.Errorf("%s: %w", p, err)
				}
			}
			return nil
		})
	})
}

// parseOwner parses "uid", "uid:gid" or ":gid". An omitted ID is returned as
// auth.NoID.
func parseOwner(s string) (auth.KUID, auth.KGID, error) {
	us, gs, hasGroup := strings.Cut(s, ":")
	uid, gid := auth.KUID(auth.NoID), auth.KGID(auth.NoID)
	if us != "" {
		n, err := parseID(us)
		if err != nil {
			return 0, 0, err
		}
		uid = auth.KUID(n)
	}
	if hasGroup {
		n, err := parseID(gs)
		if err != nil {
			return 0, 0, err
		}
		gid = auth.KGID(n)
	}
	if !uid.Ok() && !gid.Ok() {
		return 0, 0, usageError{fmt.Sprintf("invalid owner %q", s)}
	}
	return uid, gid, nil
}

func parseID(s string) (uint32, error) {
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil || n == auth.NoID {
		return 0, usageError{fmt.Sprintf("invalid ID %q", s)}
	}
	return uint32(n), nil
}
