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
	"github.com/google/uuid"
	"posnk.dev/posnk/cmd/posfs/config"
	"posnk.dev/posnk/pkg/log"
	"posnk.dev/posnk/pkg/sentry/devices"
	"posnk.dev/posnk/pkg/sentry/fsimpl/ext2"
)

// Mkfs implements subcommands.Command for the "mkfs" command.
type Mkfs struct {
	size      string
	blockSize uint
	inodes    uint
	label     string
	uuid      string
}

// Name implements subcommands.Command.Name.
func (*Mkfs) Name() string {
	return "mkfs"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Mkfs) Synopsis() string {
	return "create an empty ext2 image"
}

// Usage implements subcommands.Command.Usage.
func (*Mkfs) Usage() string {
	return `mkfs [flags] - creates the configured image, replacing any existing file.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (m *Mkfs) SetFlags(f *flag.FlagSet) {
	f.StringVar(&m.size, "size", "", "image size such as 16MiB; overrides the configured size.")
	f.UintVar(&m.blockSize, "block-size", 0, "block size in bytes; overrides the configured block size.")
	f.UintVar(&m.inodes, "inodes", 0, "minimum number of inodes; overrides the configured count.")
	f.StringVar(&m.label, "label", "", "volume label; overrides the configured volume name.")
	f.StringVar(&m.uuid, "uuid", "", "filesystem UUID. A random one is used if empty.")
}

// Execute implements subcommands.Command.Execute.
func (m *Mkfs) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	return execute(ctx, m.Name(), f, args, 0, m.run)
}

func (m *Mkfs) run(ctx context.Context, conf *config.Config) error {
	c := *conf
	if m.size != "" {
		c.Size = m.size
	}
	if m.blockSize != 0 {
		c.BlockSize = uint32(m.blockSize)
	}
	if m.inodes != 0 {
		c.Inodes = uint32(m.inodes)
	}
	if m.label != "" {
		c.VolumeName = m.label
	}
	if c.Image == "" {
		return usageError{fmt.Sprintf("no image given: set image in the config file or %s_IMAGE", config.EnvPrefix)}
	}
	size, err := c.SizeBytes()
	if err != nil {
		return usageError{err.Error()}
	}
	opts := ext2.FormatOptions{
		BlockSize:  c.BlockSize,
		Inodes:     c.Inodes,
		VolumeName: c.VolumeName,
	}
	if m.uuid != "" {
		id, err := uuid.Parse(m.uuid)
		if err != nil {
			return usageError{fmt.Sprintf("invalid uuid %q: %v", m.uuid, err)}
		}
		opts.UUID = id
	}

	dev, err := devices.CreateFile(c.Image, size)
	if err != nil {
		return err
	}
	err = ext2.Format(dev, size, opts)
	if serr := dev.Sync(); err == nil {
		err = serr
	}
	if cerr := dev.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("formatting %s: %w", c.Image, err)
	}
	log.Infof("Formatted %s (%d bytes)", c.Image, size)

	return withSession(ctx, &c, false, func(s *session) error {
		st, err := s.vfs.Statfs(s.ctx, "/")
		if err != nil {
			return err
		}
		fmt.Fprintf(Stdout, "%s: %s ext2 filesystem, %d blocks of %s, %d inodes\n",
			c.Image, humanize.IBytes(uint64(size)), st.Blocks, humanize.IBytes(uint64(st.BlockSize)), st.Files)
		return nil
	})
}
