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

// Package cmd holds the subcommands of posfs. Every command takes the
// *config.Config as its first Execute argument.
package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/google/subcommands"
	"posnk.dev/posnk/cmd/posfs/config"
	"posnk.dev/posnk/pkg/log"
	"posnk.dev/posnk/pkg/refs"
	"posnk.dev/posnk/pkg/sentry/devices"
	"posnk.dev/posnk/pkg/sentry/fsimpl/ext2"
	"posnk.dev/posnk/pkg/sentry/kernel/auth"
	"posnk.dev/posnk/pkg/sentry/vfs"
)

// Stdout and Stderr receive the output of every command.
var (
	Stdout io.Writer = os.Stdout
	Stderr io.Writer = os.Stderr
)

// ForEach calls fn with every posfs command and the group it belongs to.
func ForEach(fn func(cmd subcommands.Command, group string)) {
	const (
		image = "image"
		files = "files"
		info  = "information"
	)
	fn(new(Mkfs), image)
	fn(new(Df), image)

	fn(new(Ls), files)
	fn(new(Cat), files)
	fn(new(Put), files)
	fn(new(Mkdir), files)
	fn(new(Rm), files)
	fn(new(Ln), files)
	fn(new(Chmod), files)
	fn(new(Chown), files)

	fn(new(Stat), info)
}

// session is an image mounted as the root of a private VirtualFilesystem.
type session struct {
	dev *devices.FileDevice
	vfs *vfs.VirtualFilesystem
	fsc *vfs.FSContext

	// ctx carries the configured credentials and fsc.
	ctx context.Context
}

// openSession mounts the configured image. Unless write is set, or the
// configuration asks for it anyway, the image is opened read-only.
func openSession(ctx context.Context, conf *config.Config, write bool) (*session, error) {
	if conf.Image == "" {
		return nil, fmt.Errorf("no image given: set image in the config file or %s_IMAGE", config.EnvPrefix)
	}
	umask, err := conf.UmaskMode()
	if err != nil {
		return nil, err
	}
	readOnly := conf.ReadOnly || !write
	dev, err := devices.OpenFile(conf.Image, readOnly)
	if err != nil {
		return nil, err
	}

	v := vfs.New(nil, vfs.Options{MaxUnusedInodes: conf.MaxUnusedInodes})
	if err := v.RegisterFilesystemType(ext2.FilesystemType{}); err != nil {
		dev.Close()
		return nil, err
	}
	ctx = auth.ContextWithCredentials(ctx, conf.Credentials())
	opts := vfs.GetFilesystemOptions{ReadOnly: readOnly, Data: conf.MountData()}
	if err := v.MountRoot(ctx, ext2.Name, dev, opts); err != nil {
		dev.Close()
		return nil, fmt.Errorf("mounting %s: %w", conf.Image, err)
	}

	root := v.RootDentry()
	fsc := vfs.NewFSContext(root, root, umask)
	root.DecRef(ctx)
	return &session{
		dev: dev,
		vfs: v,
		fsc: fsc,
		ctx: vfs.WithFSContext(ctx, fsc),
	}, nil
}

// close writes everything back, marks the image clean and closes it.
func (s *session) close() error {
	s.fsc.Release(s.ctx)
	err := s.vfs.Sync(s.ctx)
	if serr := s.vfs.Shutdown(s.ctx); err == nil {
		err = serr
	}
	if serr := s.dev.Sync(); err == nil {
		err = serr
	}
	if cerr := s.dev.Close(); err == nil {
		err = cerr
	}
	if refs.LeakCheckEnabled() {
		if n := refs.DoLeakCheck(); n > 0 && err == nil {
			err = fmt.Errorf("%d objects still referenced after unmount", n)
		}
	}
	return err
}

// withSession runs fn against the configured image and closes it again.
func withSession(ctx context.Context, conf *config.Config, write bool, fn func(s *session) error) error {
	s, err := openSession(ctx, conf, write)
	if err != nil {
		return err
	}
	err = fn(s)
	if cerr := s.close(); err == nil {
		err = cerr
	}
	return err
}

// execute adapts a command body to subcommands.Command.Execute. minArgs is the
// number of positional arguments the command needs.
func execute(ctx context.Context, name string, f *flag.FlagSet, args []any, minArgs int, run func(ctx context.Context, conf *config.Config) error) subcommands.ExitStatus {
	if f.NArg() < minArgs {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf, ok := configFrom(args)
	if !ok {
		fmt.Fprintf(Stderr, "posfs %s: missing configuration\n", name)
		return subcommands.ExitFailure
	}
	if err := run(ctx, conf); err != nil {
		var usage usageError
		if errors.As(err, &usage) {
			fmt.Fprintf(Stderr, "posfs %s: %v\n", name, err)
			f.Usage()
			return subcommands.ExitUsageError
		}
		log.Debugf("%s failed: %v", name, err)
		fmt.Fprintf(Stderr, "posfs %s: %v\n", name, err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func configFrom(args []any) (*config.Config, bool) {
	if len(args) == 0 {
		return nil, false
	}
	conf, ok := args[0].(*config.Config)
	return conf, ok && conf != nil
}

// usageError is a problem with the command line rather than the image.
type usageError struct {
	msg string
}

func (e usageError) Error() string {
	return e.msg
}
