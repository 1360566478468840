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

// Package logctx provides structured logging context management.
// It stores the identifiers of a job execution in context.Context so every
// component of the run logs them consistently.
package logctx

import (
	"context"

	"github.com/go-logr/logr"
)

// contextKey is a private type for context keys to avoid collisions.
type contextKey string

// Context keys for common logging fields.
const (
	// ContextKeyTaskID identifies the orchestrator task.
	ContextKeyTaskID contextKey = "task_id"

	// ContextKeyExecutionID identifies one execution attempt of a task.
	ContextKeyExecutionID contextKey = "execution_id"

	// ContextKeyJob identifies the Kubernetes Job.
	ContextKeyJob contextKey = "job"

	// ContextKeyNamespace identifies the Kubernetes namespace.
	ContextKeyNamespace contextKey = "namespace"

	// ContextKeyPod identifies a Pod of the Job.
	ContextKeyPod contextKey = "pod"

	// ContextKeyContainer identifies a container of a Pod.
	ContextKeyContainer contextKey = "container"

	// ContextKeyStage identifies the execution stage (render, submit, watch, ...).
	ContextKeyStage contextKey = "stage"
)

// Execution stages carried under ContextKeyStage.
const (
	StageRender  = "render"
	StageSubmit  = "submit"
	StageWatch   = "watch"
	StageLogs    = "logs"
	StageCleanup = "cleanup"
)

// allContextKeys lists all context keys that should be extracted for logging.
var allContextKeys = []contextKey{
	ContextKeyTaskID,
	ContextKeyExecutionID,
	ContextKeyJob,
	ContextKeyNamespace,
	ContextKeyPod,
	ContextKeyContainer,
	ContextKeyStage,
}

// WithTaskID returns a new context with the task ID set.
func WithTaskID(ctx context.Context, taskID string) context.Context {
	return context.WithValue(ctx, ContextKeyTaskID, taskID)
}

// WithExecutionID returns a new context with the execution ID set.
func WithExecutionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ContextKeyExecutionID, id)
}

// WithJob returns a new context with the Job name set.
func WithJob(ctx context.Context, job string) context.Context {
	return context.WithValue(ctx, ContextKeyJob, job)
}

// WithNamespace returns a new context with the namespace set.
func WithNamespace(ctx context.Context, namespace string) context.Context {
	return context.WithValue(ctx, ContextKeyNamespace, namespace)
}

// WithPod returns a new context with the Pod name set.
func WithPod(ctx context.Context, pod string) context.Context {
	return context.WithValue(ctx, ContextKeyPod, pod)
}

// WithContainer returns a new context with the container name set.
func WithContainer(ctx context.Context, container string) context.Context {
	return context.WithValue(ctx, ContextKeyContainer, container)
}

// WithStage returns a new context with the execution stage set.
func WithStage(ctx context.Context, stage string) context.Context {
	return context.WithValue(ctx, ContextKeyStage, stage)
}

// LoggingFields holds all standard logging context fields.
// This struct is used with WithLoggingContext for bulk field setting.
type LoggingFields struct {
	TaskID      string
	ExecutionID string
	Job         string
	Namespace   string
	Pod         string
	Container   string
	Stage       string
}

// WithLoggingContext returns a new context with multiple logging fields set at once.
// Only non-empty values are set.
func WithLoggingContext(ctx context.Context, fields *LoggingFields) context.Context {
	if fields == nil {
		return ctx
	}
	if fields.TaskID != "" {
		ctx = WithTaskID(ctx, fields.TaskID)
	}
	if fields.ExecutionID != "" {
		ctx = WithExecutionID(ctx, fields.ExecutionID)
	}
	if fields.Job != "" {
		ctx = WithJob(ctx, fields.Job)
	}
	if fields.Namespace != "" {
		ctx = WithNamespace(ctx, fields.Namespace)
	}
	if fields.Pod != "" {
		ctx = WithPod(ctx, fields.Pod)
	}
	if fields.Container != "" {
		ctx = WithContainer(ctx, fields.Container)
	}
	if fields.Stage != "" {
		ctx = WithStage(ctx, fields.Stage)
	}
	return ctx
}

// ExtractLoggingFields extracts all logging fields from a context.
func ExtractLoggingFields(ctx context.Context) LoggingFields {
	return LoggingFields{
		TaskID:      value(ctx, ContextKeyTaskID),
		ExecutionID: value(ctx, ContextKeyExecutionID),
		Job:         value(ctx, ContextKeyJob),
		Namespace:   value(ctx, ContextKeyNamespace),
		Pod:         value(ctx, ContextKeyPod),
		Container:   value(ctx, ContextKeyContainer),
		Stage:       value(ctx, ContextKeyStage),
	}
}

// LogrValues extracts context values and returns them as key-value pairs
// suitable for use with logr.Logger.WithValues().
// Only non-empty values are included.
func LogrValues(ctx context.Context) []interface{} {
	var values []interface{}
	for _, key := range allContextKeys {
		if s := value(ctx, key); s != "" {
			values = append(values, string(key), s)
		}
	}
	return values
}

// LoggerWithContext returns a logger enriched with all context values.
// This is a convenience function for logr.Logger.
func LoggerWithContext(log logr.Logger, ctx context.Context) logr.Logger {
	values := LogrValues(ctx)
	if len(values) == 0 {
		return log
	}
	return log.WithValues(values...)
}

// ExecutionID extracts the execution ID from the context.
func ExecutionID(ctx context.Context) string {
	return value(ctx, ContextKeyExecutionID)
}

// Job extracts the Job name from the context.
func Job(ctx context.Context) string {
	return value(ctx, ContextKeyJob)
}

func value(ctx context.Context, key contextKey) string {
	if v := ctx.Value(key); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
