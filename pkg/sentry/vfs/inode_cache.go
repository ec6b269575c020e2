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
	"container/list"
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/google/btree"
	"golang.org/x/sync/singleflight"
	"posnk.dev/posnk/pkg/log"
)

// inodeKey identifies an inode system-wide.
type inodeKey struct {
	dev uint32
	ino uint32
}

func keyOf(in *Inode) inodeKey {
	return inodeKey{dev: in.Dev(), ino: in.ino}
}

func (k inodeKey) less(o inodeKey) bool {
	if k.dev != o.dev {
		return k.dev < o.dev
	}
	return k.ino < o.ino
}

// String implements fmt.Stringer.
func (k inodeKey) String() string {
	return strconv.FormatUint(uint64(k.dev), 10) + ":" + strconv.FormatUint(uint64(k.ino), 10)
}

type cacheEntry struct {
	key   inodeKey
	inode *Inode
}

// InodeCache holds the live in-memory inodes of every mounted filesystem.
// There is at most one Inode per (device, inode number).
//
// An inode stays cached while it is referenced. When its last reference is
// released it is written back, or removed from its filesystem if it has no
// links left. Unreferenced inodes stay cached unless the cache was created
// with a bound on them, in which case the least recently released ones are
// dropped first.
type InodeCache struct {
	maxUnused int

	// loads collapses concurrent misses for the same inode.
	loads singleflight.Group

	// mu protects the fields below, and Inode.lruElem and Inode.refs of
	// cached inodes.
	mu sync.Mutex

	// inodes is ordered by (device, inode number), so that the inodes of one
	// filesystem are adjacent.
	inodes *btree.BTreeG[cacheEntry]

	// unused holds unreferenced inodes, most recently released first. It is
	// only maintained if maxUnused > 0.
	unused list.List
}

// NewInodeCache returns an empty cache. If maxUnused is positive, at most
// that many unreferenced inodes are kept.
func NewInodeCache(maxUnused int) *InodeCache {
	c := &InodeCache{
		maxUnused: maxUnused,
		inodes: btree.NewG(16, func(a, b cacheEntry) bool {
			return a.key.less(b.key)
		}),
	}
	c.unused.Init()
	return c
}

// Get returns inode ino of fs with a reference held, loading it through the
// filesystem on a miss.
func (c *InodeCache) Get(ctx context.Context, fs *Filesystem, ino uint32) (*Inode, error) {
	key := inodeKey{dev: fs.devID, ino: ino}
	for {
		if in := c.tryGet(key); in != nil {
			return in, nil
		}
		_, err, _ := c.loads.Do(key.String(), func() (any, error) {
			c.mu.Lock()
			_, ok := c.inodes.Get(cacheEntry{key: key})
			c.mu.Unlock()
			if ok {
				return nil, nil
			}
			in := NewInode(fs, ino)
			if err := fs.impl.LoadInode(ctx, in); err != nil {
				return nil, err
			}
			c.mu.Lock()
			c.inodes.ReplaceOrInsert(cacheEntry{key: key, inode: in})
			c.mu.Unlock()
			log.Debugf("Loaded inode %v", key)
			return nil, nil
		})
		if err != nil {
			return nil, err
		}
	}
}

func (c *InodeCache) tryGet(key inodeKey) *Inode {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.inodes.Get(cacheEntry{key: key})
	if !ok {
		return nil
	}
	c.incRefLocked(e.inode)
	return e.inode
}

// incRefLocked takes a reference on a cached inode. Inodes that were just
// loaded, or that sit unused in the cache, hold no references; the cache
// revives them, which is safe because Release drops the last reference under
// c.mu too.
//
// +checklocks:c.mu
func (c *InodeCache) incRefLocked(in *Inode) {
	if in.lruElem != nil {
		c.unused.Remove(in.lruElem)
		in.lruElem = nil
	}
	if in.refs.ReadRefs() == 0 {
		in.refs.InitRefs()
		return
	}
	in.refs.IncRef()
}

// Put inserts a newly created inode with one reference held.
func (c *InodeCache) Put(in *Inode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := keyOf(in)
	if _, ok := c.inodes.ReplaceOrInsert(cacheEntry{key: key, inode: in}); ok {
		panic(fmt.Sprintf("inode %v is already cached", key))
	}
	in.refs.InitRefs()
}

// IncRef takes an additional reference on a cached inode.
//
// Preconditions: A reference is held on in.
func (c *InodeCache) IncRef(in *Inode) {
	c.mu.Lock()
	c.incRefLocked(in)
	c.mu.Unlock()
}

// Release drops a reference on in. When the last reference is dropped, in is
// written back; if it also has no links left, the filesystem frees it and it
// leaves the cache.
//
// Preconditions: in.mu must not be locked.
func (c *InodeCache) Release(ctx context.Context, in *Inode) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var err error
	in.refs.DecRefWithDestructor(func() {
		err = c.releaseLocked(ctx, in)
	})
	return err
}

// +checklocks:c.mu
func (c *InodeCache) releaseLocked(ctx context.Context, in *Inode) error {
	key := keyOf(in)
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.Attrs.Links == 0 {
		c.inodes.Delete(cacheEntry{key: key})
		log.Debugf("Reclaiming orphaned inode %v", key)
		return in.fs.impl.Rmnod(ctx, in)
	}
	err := in.fs.impl.StoreInode(ctx, in)
	if c.maxUnused > 0 {
		in.lruElem = c.unused.PushFront(in)
		for c.unused.Len() > c.maxUnused {
			old := c.unused.Remove(c.unused.Back()).(*Inode)
			old.lruElem = nil
			c.inodes.Delete(cacheEntry{key: keyOf(old)})
		}
	}
	return err
}

// Evict removes in from the cache.
func (c *InodeCache) Evict(in *Inode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evictLocked(in)
}

// +checklocks:c.mu
func (c *InodeCache) evictLocked(in *Inode) {
	if in.lruElem != nil {
		c.unused.Remove(in.lruElem)
		in.lruElem = nil
	}
	c.inodes.Delete(cacheEntry{key: keyOf(in)})
}

// Len returns the number of cached inodes.
func (c *InodeCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inodes.Len()
}

// Unused returns the number of cached inodes without references. It is only
// tracked for bounded caches.
func (c *InodeCache) Unused() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unused.Len()
}

// forEachLocked calls fn for every cached inode of the filesystem with device
// number dev, in inode number order.
//
// +checklocks:c.mu
func (c *InodeCache) forEachLocked(dev uint32, fn func(in *Inode)) {
	c.inodes.AscendGreaterOrEqual(cacheEntry{key: inodeKey{dev: dev}}, func(e cacheEntry) bool {
		if e.key.dev != dev {
			return false
		}
		fn(e.inode)
		return true
	})
}

// references returns the number of references held on inodes of fs.
func (c *InodeCache) references(fs *Filesystem) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var n int64
	c.forEachLocked(fs.devID, func(in *Inode) {
		n += in.refs.ReadRefs()
	})
	return n
}

// evictFilesystem drops every cached inode of fs.
func (c *InodeCache) evictFilesystem(fs *Filesystem) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var victims []*Inode
	c.forEachLocked(fs.devID, func(in *Inode) {
		victims = append(victims, in)
	})
	for _, in := range victims {
		c.evictLocked(in)
	}
}

// referenced returns the referenced inodes of fs, taking a new reference on
// each.
func (c *InodeCache) referenced(fs *Filesystem) []*Inode {
	c.mu.Lock()
	defer c.mu.Unlock()
	var ins []*Inode
	c.forEachLocked(fs.devID, func(in *Inode) {
		if in.refs.ReadRefs() > 0 {
			in.refs.IncRef()
			ins = append(ins, in)
		}
	})
	return ins
}
