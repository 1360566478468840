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

package logctx

import (
	"context"
	"strings"
	"testing"

	"github.com/go-logr/logr/funcr"
)

func TestWithTaskID(t *testing.T) {
	ctx := WithTaskID(context.Background(), "task-123")

	if got := ExtractLoggingFields(ctx).TaskID; got != "task-123" {
		t.Errorf("TaskID = %q, want %q", got, "task-123")
	}
}

func TestWithExecutionID(t *testing.T) {
	ctx := WithExecutionID(context.Background(), "exec-1")

	if got := ExecutionID(ctx); got != "exec-1" {
		t.Errorf("ExecutionID() = %q, want %q", got, "exec-1")
	}
}

func TestWithJob(t *testing.T) {
	ctx := WithJob(context.Background(), "job-abc")

	if got := Job(ctx); got != "job-abc" {
		t.Errorf("Job() = %q, want %q", got, "job-abc")
	}
}

func TestWithNamespace(t *testing.T) {
	ctx := WithNamespace(context.Background(), "my-ns")

	if got := ExtractLoggingFields(ctx).Namespace; got != "my-ns" {
		t.Errorf("Namespace = %q, want %q", got, "my-ns")
	}
}

func TestWithPodAndContainer(t *testing.T) {
	ctx := WithContainer(WithPod(context.Background(), "pod-1"), "main")

	fields := ExtractLoggingFields(ctx)
	if fields.Pod != "pod-1" {
		t.Errorf("Pod = %q, want %q", fields.Pod, "pod-1")
	}
	if fields.Container != "main" {
		t.Errorf("Container = %q, want %q", fields.Container, "main")
	}
}

func TestWithLoggingContext(t *testing.T) {
	ctx := WithLoggingContext(context.Background(), &LoggingFields{
		TaskID:    "t",
		Job:       "j",
		Namespace: "ns",
		Stage:     "watch",
	})

	fields := ExtractLoggingFields(ctx)
	want := LoggingFields{TaskID: "t", Job: "j", Namespace: "ns", Stage: "watch"}
	if fields != want {
		t.Errorf("ExtractLoggingFields() = %+v, want %+v", fields, want)
	}
}

func TestWithLoggingContext_Nil(t *testing.T) {
	ctx := context.Background()
	if got := WithLoggingContext(ctx, nil); got != ctx {
		t.Error("nil fields should return the same context")
	}
}

func TestLogrValues_OnlyNonEmpty(t *testing.T) {
	ctx := WithStage(WithTaskID(context.Background(), "t"), "")

	values := LogrValues(ctx)
	if len(values) != 2 {
		t.Fatalf("LogrValues() returned %d values, want 2: %v", len(values), values)
	}
	if values[0] != "task_id" || values[1] != "t" {
		t.Errorf("LogrValues() = %v", values)
	}
}

func TestLoggerWithContext(t *testing.T) {
	var captured string
	base := funcr.New(func(_, args string) { captured = args }, funcr.Options{})

	LoggerWithContext(base, WithJob(context.Background(), "job-x")).Info("hello")
	if !strings.Contains(captured, `"job"="job-x"`) {
		t.Errorf("logger output %q does not carry job field", captured)
	}

	captured = ""
	LoggerWithContext(base, context.Background()).Info("plain")
	if strings.Contains(captured, `"job"`) {
		t.Errorf("empty context added fields: %q", captured)
	}
}

func TestValue_WrongType(t *testing.T) {
	ctx := context.WithValue(context.Background(), ContextKeyTaskID, 42)
	if got := ExtractLoggingFields(ctx).TaskID; got != "" {
		t.Errorf("TaskID = %q, want empty for non-string value", got)
	}
}
