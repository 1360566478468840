/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package logrelay

import (
	"sync"

	"github.com/go-logr/logr"

	"github.com/altairalabs/jobrunner/internal/jobs"
)

// Sink receives relayed lines. Write is called concurrently for different
// containers and must be safe for that.
type Sink interface {
	Write(line jobs.LogLine)
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(jobs.LogLine)

// Write implements Sink.
func (f SinkFunc) Write(line jobs.LogLine) { f(line) }

// LoggerSink writes every line through a logger.
type LoggerSink struct {
	Log logr.Logger
}

// Write implements Sink.
func (s LoggerSink) Write(line jobs.LogLine) {
	kv := []any{"pod", line.Pod, "container", line.Container, "ts", line.Timestamp}
	if line.Truncated {
		kv = append(kv, "truncated", true)
	}
	s.Log.Info(line.Text, kv...)
}

// Tail keeps the last N lines.
type Tail struct {
	mu    sync.Mutex
	lines []string
	next  int
	full  bool
}

// NewTail creates a Tail holding up to size lines. A size below one keeps nothing.
func NewTail(size int) *Tail {
	return &Tail{lines: make([]string, max(size, 0))}
}

// Add records a line, evicting the oldest once full.
func (t *Tail) Add(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.lines) == 0 {
		return
	}
	t.lines[t.next] = line
	t.next = (t.next + 1) % len(t.lines)
	if t.next == 0 {
		t.full = true
	}
}

// Lines returns the retained lines, oldest first.
func (t *Tail) Lines() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.full {
		return append([]string(nil), t.lines[:t.next]...)
	}
	out := make([]string, 0, len(t.lines))
	out = append(out, t.lines[t.next:]...)
	return append(out, t.lines[:t.next]...)
}
