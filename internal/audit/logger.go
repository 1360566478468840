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

// Package audit writes one JSON line per execution event so that every Job
// created or adopted can be traced back to the task attempt that owns it.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/altairalabs/jobrunner/internal/jobs"
	"github.com/altairalabs/jobrunner/pkg/logctx"
)

// Event types.
const (
	EventSubmitted = "job.submitted"
	EventAdopted   = "job.adopted"
	EventFinished  = "job.finished"
)

// Entry is one audit record.
type Entry struct {
	Timestamp   time.Time  `json:"timestamp"`
	EventType   string     `json:"eventType"`
	ExecutionID string     `json:"executionId"`
	TaskID      string     `json:"taskId"`
	Job         string     `json:"job"`
	Namespace   string     `json:"namespace"`
	UID         string     `json:"uid,omitempty"`
	Adopted     bool       `json:"adopted,omitempty"`
	State       jobs.State `json:"state,omitempty"`
	Reason      string     `json:"reason,omitempty"`
	ExitCode    *int32     `json:"exitCode,omitempty"`
}

// NewEntry fills the identifying fields of an entry from a handle and the
// execution identifiers carried by ctx. The handle's task id wins over the
// one in ctx.
func NewEntry(ctx context.Context, eventType string, h jobs.RunHandle) *Entry {
	fields := logctx.ExtractLoggingFields(ctx)
	taskID := h.TaskID
	if taskID == "" {
		taskID = fields.TaskID
	}
	return &Entry{
		EventType:   eventType,
		ExecutionID: fields.ExecutionID,
		TaskID:      taskID,
		Job:         h.Name,
		Namespace:   h.Namespace,
		UID:         string(h.UID),
		Adopted:     h.Adopted,
	}
}

// Logger appends entries to a writer as JSON lines. It is safe for
// concurrent use. A nil Logger discards everything.
type Logger struct {
	mu  sync.Mutex
	out io.Writer
	log logr.Logger
	now func() time.Time
}

// NewLogger creates a Logger writing to out.
func NewLogger(out io.Writer, log logr.Logger) *Logger {
	return &Logger{out: out, log: log.WithName("audit-logger"), now: time.Now}
}

// LogEvent writes e, stamping it with the current time if unset.
func (l *Logger) LogEvent(_ context.Context, e *Entry) error {
	if l == nil || l.out == nil || e == nil {
		return nil
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = l.now().UTC()
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}
	data = append(data, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.out.Write(data); err != nil {
		l.log.Error(err, "failed to write audit entry", "eventType", e.EventType, "job", e.Job)
		return fmt.Errorf("failed to write audit entry: %w", err)
	}
	return nil
}
