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

package vfs

import (
	"context"
	"sync"

	"posnk.dev/posnk/pkg/abi/linux"
)

// contextID is this package's type for context.Context.Value keys.
type contextID int

const (
	// CtxFSContext is a Context.Value key for an FSContext.
	CtxFSContext contextID = iota
)

// FSContextFromContext returns the FSContext used by ctx, or nil if ctx does
// not carry one.
func FSContextFromContext(ctx context.Context) *FSContext {
	if v := ctx.Value(CtxFSContext); v != nil {
		return v.(*FSContext)
	}
	return nil
}

// WithFSContext returns a copy of ctx carrying fsc.
func WithFSContext(ctx context.Context, fsc *FSContext) context.Context {
	return context.WithValue(ctx, CtxFSContext, fsc)
}

// DefaultUmask is the umask of a new FSContext.
const DefaultUmask = 0022

// FSContext is the filesystem state of a task: its root directory, working
// directory and umask.
type FSContext struct {
	mu sync.Mutex

	// root and cwd are protected by mu. Each holds a reference.
	root *Dentry
	cwd  *Dentry

	umask linux.FileMode
}

// NewFSContext returns an FSContext rooted at root with working directory
// cwd. It takes new references on both.
func NewFSContext(root, cwd *Dentry, umask linux.FileMode) *FSContext {
	root.IncRef()
	cwd.IncRef()
	return &FSContext{
		root:  root,
		cwd:   cwd,
		umask: umask & linux.PermissionsMask,
	}
}

// Fork returns a copy of f with its own references.
func (f *FSContext) Fork() *FSContext {
	f.mu.Lock()
	defer f.mu.Unlock()
	return NewFSContext(f.root, f.cwd, f.umask)
}

// RootDirectory returns the root directory of f with a reference held.
func (f *FSContext) RootDirectory() *Dentry {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.root.IncRef()
	return f.root
}

// WorkingDirectory returns the working directory of f with a reference held.
func (f *FSContext) WorkingDirectory() *Dentry {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cwd.IncRef()
	return f.cwd
}

// SetRootDirectory makes d the root directory of f. It takes a new reference
// on d.
func (f *FSContext) SetRootDirectory(ctx context.Context, d *Dentry) {
	d.IncRef()
	f.mu.Lock()
	old := f.root
	f.root = d
	f.mu.Unlock()
	old.DecRef(ctx)
}

// SetWorkingDirectory makes d the working directory of f. It takes a new
// reference on d.
func (f *FSContext) SetWorkingDirectory(ctx context.Context, d *Dentry) {
	d.IncRef()
	f.mu.Lock()
	old := f.cwd
	f.cwd = d
	f.mu.Unlock()
	old.DecRef(ctx)
}

// Umask returns the file mode creation mask.
func (f *FSContext) Umask() linux.FileMode {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.umask
}

// SwapUmask sets the file mode creation mask and returns the previous one.
func (f *FSContext) SwapUmask(mask linux.FileMode) linux.FileMode {
	f.mu.Lock()
	defer f.mu.Unlock()
	old := f.umask
	f.umask = mask & linux.PermissionsMask
	return old
}

// Release drops the references held by f. f must not be used afterwards.
func (f *FSContext) Release(ctx context.Context) {
	f.mu.Lock()
	root, cwd := f.root, f.cwd
	f.root, f.cwd = nil, nil
	f.mu.Unlock()
	if root != nil {
		root.DecRef(ctx)
	}
	if cwd != nil {
		cwd.DecRef(ctx)
	}
}
