// Copyright 2018 The gVisor Authors.
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


// Package refs provides the reference count embedded in dentries and cached
// inodes, and an optional registry used to report objects that were never
// released.
package refs

import (
	"fmt"
	"sync/atomic"
)

// AtomicRefCount is a reference count that may be shared between goroutines.
// The zero value holds no references.
type AtomicRefCount struct {
	n atomic.Int64
}

// InitRefs sets the count to one.
func (r *AtomicRefCount) InitRefs() {
	r.n.Store(1)
}

// ReadRefs returns the current count. The value may be stale by the time the
// caller looks at it unless the owner's lock is held.
func (r *AtomicRefCount) ReadRefs() int64 {
	return r.n.Load()
}

// IncRef takes a reference. The caller must already hold one.
func (r *AtomicRefCount) IncRef() {
	if v := r.n.Add(1); v <= 1 {
		panic(fmt.Sprintf("IncRef on released object %p (count %d)", r, v))
	}
}

// TryIncRef takes a reference unless the count has already dropped to zero,
// in which case the object is being destroyed and false is returned.
func (r *AtomicRefCount) TryIncRef() bool {
	for {
		v := r.n.Load()
		if v <= 0 {
			return false
		}
		if r.n.CompareAndSwap(v, v+1) {
			return true
		}
	}
}

// DecRefWithDestructor drops a reference and runs destroy, if non-nil, when
// the last one goes away.
func (r *AtomicRefCount) DecRefWithDestructor(destroy func()) {
	v := r.n.Add(-1)
	if v < 0 {
		panic(fmt.Sprintf("DecRef on released object %p (count %d)", r, v))
	}
	if v == 0 && destroy != nil {
		destroy()
	}
}

// DecRef drops a reference.
func (r *AtomicRefCount) DecRef() {
	r.DecRefWithDestructor(nil)
}
