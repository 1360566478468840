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

package audit

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/altairalabs/jobrunner/internal/jobs"
	"github.com/altairalabs/jobrunner/pkg/logctx"
)

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestLogger_WritesJSONLines(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf, logr.Discard())
	fixed := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	l.now = func() time.Time { return fixed }

	ctx := logctx.WithExecutionID(context.Background(), "exec-1")
	h := jobs.RunHandle{Name: "job-a", Namespace: "ns", UID: "uid-1", TaskID: "task-a", Adopted: true}

	require.NoError(t, l.LogEvent(ctx, NewEntry(ctx, EventAdopted, h)))
	finished := NewEntry(ctx, EventFinished, h)
	finished.State = jobs.StateFailed
	finished.Reason = "BackoffLimitExceeded"
	code := int32(3)
	finished.ExitCode = &code
	require.NoError(t, l.LogEvent(ctx, finished))

	var entries []Entry
	scanner := bufio.NewScanner(&buf)
	for scanner.Scan() {
		var e Entry
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		entries = append(entries, e)
	}
	require.Len(t, entries, 2)

	assert.Equal(t, EventAdopted, entries[0].EventType)
	assert.Equal(t, "exec-1", entries[0].ExecutionID)
	assert.Equal(t, "task-a", entries[0].TaskID)
	assert.Equal(t, "uid-1", entries[0].UID)
	assert.True(t, entries[0].Adopted)
	assert.True(t, fixed.Equal(entries[0].Timestamp))

	assert.Equal(t, jobs.StateFailed, entries[1].State)
	require.NotNil(t, entries[1].ExitCode)
	assert.Equal(t, int32(3), *entries[1].ExitCode)
}

func TestLogger_WriteError(t *testing.T) {
	l := NewLogger(failingWriter{}, logr.Discard())
	err := l.LogEvent(context.Background(), &Entry{EventType: EventSubmitted})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestLogger_NilIsNoop(t *testing.T) {
	var l *Logger
	assert.NoError(t, l.LogEvent(context.Background(), &Entry{}))
	assert.NoError(t, NewLogger(nil, logr.Discard()).LogEvent(context.Background(), &Entry{}))
}
