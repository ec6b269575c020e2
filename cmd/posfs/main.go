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

// Binary posfs inspects and edits ext2 images through the kernel's virtual
// filesystem.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"
	"posnk.dev/posnk/cmd/posfs/cmd"
	"posnk.dev/posnk/cmd/posfs/config"
	"posnk.dev/posnk/pkg/log"
	"posnk.dev/posnk/pkg/refs"
)

var (
	configFile = flag.String("config", os.Getenv(config.EnvPrefix+"_CONFIG"), "path of a TOML or YAML configuration file.")
	image      = flag.String("image", "", "path of the image; overrides the configuration.")
	debug      = flag.Bool("debug", false, "log at debug level.")
)

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")
	cmd.ForEach(subcommands.Register)
	flag.Parse()

	conf, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "posfs: %v\n", err)
		os.Exit(int(subcommands.ExitFailure))
	}
	if *image != "" {
		conf.Image = *image
	}
	if *debug {
		conf.LogLevel = "debug"
	}
	level, err := conf.Level()
	if err != nil {
		fmt.Fprintf(os.Stderr, "posfs: %v\n", err)
		os.Exit(int(subcommands.ExitFailure))
	}
	var logOut io.Writer = os.Stderr
	if conf.LogFile != "" {
		f, err := log.OpenFile(conf.LogFile, os.O_WRONLY|os.O_CREATE|os.O_APPEND, log.PatternOpts{Image: conf.Image})
		if err != nil {
			fmt.Fprintf(os.Stderr, "posfs: %v\n", err)
			os.Exit(int(subcommands.ExitFailure))
		}
		logOut = f
	}
	log.SetTarget(newEmitter(conf.LogFormat, logOut))
	log.SetLevel(level)
	refs.SetLeakCheck(conf.LeakCheck)
	conf.Log()

	status := subcommands.Execute(context.Background(), conf)
	if f, ok := logOut.(*os.File); ok && f != os.Stderr {
		f.Close()
	}
	os.Exit(int(status))
}

// newEmitter returns the log emitter for format, which config.Validate has
// already checked.
func newEmitter(format string, w io.Writer) log.Emitter {
	switch format {
	case "json":
		return log.JSONEmitter{Writer: &log.Writer{Next: w}}
	case "glog":
		return log.GoogleEmitter{Writer: &log.Writer{Next: w}}
	default:
		l := logrus.New()
		l.SetOutput(w)
		l.SetLevel(logrus.DebugLevel)
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		return log.LogrusEmitter{Logger: l}
	}
}
