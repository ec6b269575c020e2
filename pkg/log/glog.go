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


package log

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// GoogleEmitter writes glog-style lines:
//
//	Lmmdd hh:mm:ss.uuuuuu pid file:line] msg
type GoogleEmitter struct {
	*Writer
}

// glogPid is the right-aligned pid column, seven characters wide as glog
// prints thread IDs.
var glogPid = fmt.Sprintf("%7d", os.Getpid())

// levelLetter returns the glog severity letter for l.
func levelLetter(l Level) byte {
	switch l {
	case Warning:
		return 'W'
	case Debug:
		return 'D'
	default:
		return 'I'
	}
}

// caller returns "file:line" for the frame skip levels above its caller, with
// the directory trimmed.
func caller(skip int) (string, bool) {
	_, file, line, ok := runtime.Caller(skip + 1)
	if !ok {
		return "", false
	}
	if i := strings.LastIndexByte(file, '/'); i >= 0 {
		file = file[i+1:]
	}
	return file + ":" + strconv.Itoa(line), true
}

// Emit implements Emitter.Emit.
func (g GoogleEmitter) Emit(depth int, level Level, timestamp time.Time, format string, args ...any) {
	var scratch [256]byte
	b := append(scratch[:0], levelLetter(level))
	b = timestamp.AppendFormat(b, "0102 15:04:05.000000")
	b = append(b, ' ')
	b = append(b, glogPid...)
	b = append(b, ' ')
	if where, ok := caller(depth + 1); ok {
		b = append(b, where...)
	} else {
		b = append(b, "x:0"...)
	}
	b = append(b, "] "...)
	b = fmt.Appendf(b, format, args...)
	b = append(b, '\n')
	g.Writer.Write(b)
}
