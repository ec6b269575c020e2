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

// Package config holds the configuration of the posfs tool.
//
// A Config starts from Default, is overlaid with a TOML or YAML file and is
// finally overridden by POSFS_* environment variables.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/dustin/go-humanize"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
	"posnk.dev/posnk/pkg/abi/linux"
	"posnk.dev/posnk/pkg/log"
	"posnk.dev/posnk/pkg/sentry/fsimpl/ext2"
	"posnk.dev/posnk/pkg/sentry/kernel/auth"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "POSFS"

// Config is the configuration of posfs.
type Config struct {
	// Image is the path of the filesystem image.
	Image string `toml:"image" yaml:"image" envconfig:"IMAGE"`

	// Size is the size of images created by mkfs, such as "8MiB".
	Size string `toml:"size" yaml:"size" envconfig:"SIZE"`

	// BlockSize is the block size of images created by mkfs. Zero selects
	// the driver default.
	BlockSize uint32 `toml:"block_size" yaml:"blockSize" envconfig:"BLOCK_SIZE"`

	// Inodes is the minimum inode count of images created by mkfs.
	Inodes uint32 `toml:"inodes" yaml:"inodes" envconfig:"INODES"`

	// VolumeName is the volume label of images created by mkfs.
	VolumeName string `toml:"volume_name" yaml:"volumeName" envconfig:"VOLUME_NAME"`

	// ReadOnly mounts the image read-only for every command.
	ReadOnly bool `toml:"read_only" yaml:"readOnly" envconfig:"READ_ONLY"`

	// Errors is the driver's policy on metadata corruption: "continue" or
	// "panic".
	Errors string `toml:"errors" yaml:"errors" envconfig:"ERRORS"`

	// MaxUnusedInodes bounds the unreferenced inodes kept in the inode
	// cache. Zero keeps all of them.
	MaxUnusedInodes int `toml:"max_unused_inodes" yaml:"maxUnusedInodes" envconfig:"MAX_UNUSED_INODES"`

	// LogLevel is one of "warning", "info" or "debug".
	LogLevel string `toml:"log_level" yaml:"logLevel" envconfig:"LOG_LEVEL"`

	// LogFormat is one of "text", "json" or "glog".
	LogFormat string `toml:"log_format" yaml:"logFormat" envconfig:"LOG_FORMAT"`

	// LogFile is the path logs are appended to instead of stderr. %IMAGE%
	// and %TIMESTAMP% are expanded.
	LogFile string `toml:"log_file" yaml:"logFile" envconfig:"LOG_FILE"`

	// LeakCheck reports dentries still referenced when a command ends.
	LeakCheck bool `toml:"leak_check" yaml:"leakCheck" envconfig:"LEAK_CHECK"`

	// UID and GID are the credentials files are accessed with.
	UID uint32 `toml:"uid" yaml:"uid" envconfig:"UID"`
	GID uint32 `toml:"gid" yaml:"gid" envconfig:"GID"`

	// Umask is the octal file creation mask, such as "022".
	Umask string `toml:"umask" yaml:"umask" envconfig:"UMASK"`
}

// Default returns the configuration used when nothing else is given.
func Default() *Config {
	return &Config{
		Size:      "8MiB",
		Errors:    ext2.ErrorsContinue.String(),
		LogLevel:  "warning",
		LogFormat: "text",
		Umask:     "022",
	}
}

// Load builds a Config from the defaults, the file at path (if path is not
// empty) and the environment.
func Load(path string) (*Config, error) {
	c := Default()
	if path != "" {
		if err := c.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := envconfig.Process(EnvPrefix, c); err != nil {
		return nil, fmt.Errorf("parsing environment variables: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		md, err := toml.Decode(string(data), c)
		if err != nil {
			return fmt.Errorf("decoding %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return fmt.Errorf("decoding %s: unknown keys %v", path, undecoded)
		}
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(c); err != nil {
			return fmt.Errorf("decoding %s: %w", path, err)
		}
	default:
		return fmt.Errorf("config file %s: unsupported format %q", path, ext)
	}
	return nil
}

// Validate checks that every field holds a usable value.
func (c *Config) Validate() error {
	if _, err := c.SizeBytes(); err != nil {
		return err
	}
	if _, err := c.ErrorPolicy(); err != nil {
		return err
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	switch c.LogFormat {
	case "text", "json", "glog":
	default:
		return fmt.Errorf("invalid log format %q, must be 'text', 'json' or 'glog'", c.LogFormat)
	}
	if _, err := c.UmaskMode(); err != nil {
		return err
	}
	if c.MaxUnusedInodes < 0 {
		return fmt.Errorf("max_unused_inodes must not be negative, got %d", c.MaxUnusedInodes)
	}
	return nil
}

// SizeBytes parses Size.
func (c *Config) SizeBytes() (int64, error) {
	n, err := humanize.ParseBytes(c.Size)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", c.Size, err)
	}
	return int64(n), nil
}

// ErrorPolicy parses Errors.
func (c *Config) ErrorPolicy() (ext2.ErrorPolicy, error) {
	return ext2.ParseErrorPolicy(c.Errors)
}

// Level parses LogLevel.
func (c *Config) Level() (log.Level, error) {
	l, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	return l, nil
}

// UmaskMode parses Umask.
func (c *Config) UmaskMode() (linux.FileMode, error) {
	m, err := strconv.ParseUint(c.Umask, 8, 32)
	if err != nil || m&^linux.PermissionsMask != 0 {
		return 0, fmt.Errorf("invalid umask %q", c.Umask)
	}
	return linux.FileMode(m), nil
}

// MountData returns the ext2 mount option string for c.
func (c *Config) MountData() string {
	opts := []string{"errors=" + c.Errors}
	if c.ReadOnly {
		opts = append(opts, "ro")
	}
	return strings.Join(opts, ",")
}

// Credentials returns the credentials files are accessed with. UID 0 gets
// full root capabilities.
func (c *Config) Credentials() *auth.Credentials {
	return auth.NewUserCredentials(auth.KUID(c.UID), auth.KGID(c.GID), nil)
}

// Log writes c to the debug log.
func (c *Config) Log() {
	log.Infof("Config: image %q, size %s, block size %d, inodes %d, read-only %t, errors %s",
		c.Image, c.Size, c.BlockSize, c.Inodes, c.ReadOnly, c.Errors)
	log.Debugf("Config: log %s/%s to %q, leak check %t, max unused inodes %d, uid %d gid %d umask %s",
		c.LogLevel, c.LogFormat, c.LogFile, c.LeakCheck, c.MaxUnusedInodes, c.UID, c.GID, c.Umask)
}
