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


package refs

import (
	"sort"
	"sync"
	"sync/atomic"

	"posnk.dev/posnk/pkg/log"
)

// CheckedObject is a reference-counted object that can describe itself when
// it outlives its owner.
type CheckedObject interface {
	RefType() string
	LeakMessage() string
}

var (
	leakCheck atomic.Bool

	liveMu sync.Mutex
	live   = make(map[CheckedObject]struct{})
)

// SetLeakCheck turns tracking of live objects on or off. Objects created
// while tracking is off are never reported.
func SetLeakCheck(enabled bool) {
	leakCheck.Store(enabled)
}

// LeakCheckEnabled reports whether Register records objects.
func LeakCheckEnabled() bool {
	return leakCheck.Load()
}

// Register records obj as live.
func Register(obj CheckedObject) {
	if !LeakCheckEnabled() {
		return
	}
	liveMu.Lock()
	live[obj] = struct{}{}
	liveMu.Unlock()
}

// Unregister forgets obj. Unknown objects are ignored.
func Unregister(obj CheckedObject) {
	liveMu.Lock()
	delete(live, obj)
	liveMu.Unlock()
}

// DoLeakCheck logs a warning per object still live and returns the count.
func DoLeakCheck() int {
	liveMu.Lock()
	defer liveMu.Unlock()
	msgs := make([]string, 0, len(live))
	for obj := range live {
		msgs = append(msgs, obj.RefType()+": "+obj.LeakMessage())
	}
	sort.Strings(msgs)
	for _, m := range msgs {
		log.Warningf("Leaked %s", m)
	}
	return len(msgs)
}
