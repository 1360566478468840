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

// Package execution runs one task attempt as a Kubernetes Job: it renders
// the manifest, submits it, and drives the state machine from the Job's
// status until a terminal state is reached, then applies retention.
package execution

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/tools/record"

	"github.com/altairalabs/jobrunner/internal/apperrors"
	"github.com/altairalabs/jobrunner/internal/audit"
	"github.com/altairalabs/jobrunner/internal/cleanup"
	"github.com/altairalabs/jobrunner/internal/jobs"
	"github.com/altairalabs/jobrunner/internal/logrelay"
	"github.com/altairalabs/jobrunner/internal/manifest"
	"github.com/altairalabs/jobrunner/internal/tracing"
	"github.com/altairalabs/jobrunner/pkg/logctx"
	"github.com/altairalabs/jobrunner/pkg/metrics"
)

// Event reasons recorded on the Job.
const (
	EventReasonCreated       = "Created"
	EventReasonAdopted       = "Adopted"
	EventReasonSucceeded     = "Succeeded"
	EventReasonFailed        = "Failed"
	EventReasonTimedOut      = "TimedOut"
	EventReasonCancelled     = "Cancelled"
	EventReasonCleanupFailed = "CleanupFailed"
)

// Submitter creates the Job for a rendered manifest.
type Submitter interface {
	Submit(ctx context.Context, r *manifest.Rendered) (jobs.RunHandle, error)
}

// StatusSource streams the status of a submitted Job. The channel closes
// after a terminal event, or early when status can no longer be observed.
type StatusSource interface {
	Observe(ctx context.Context, h jobs.RunHandle) <-chan jobs.StatusEvent
}

// StatusReader reads the current status of a Job once. Status sources that
// implement it let a run whose deadline has passed be settled from the Job
// itself rather than from whatever the stream delivered so far.
type StatusReader interface {
	Current(ctx context.Context, h jobs.RunHandle) (jobs.StatusEvent, error)
}

// Cleaner deletes or retains the resources of a run.
type Cleaner interface {
	Cleanup(ctx context.Context, h jobs.RunHandle, state jobs.State, policy cleanup.Policy) (bool, error)
	Delete(ctx context.Context, h jobs.RunHandle) error
}

// Auditor records execution events.
type Auditor interface {
	LogEvent(ctx context.Context, e *audit.Entry) error
}

// Request is one task attempt.
type Request struct {
	TaskID string
	// TemplatePath is loaded when Template is nil.
	TemplatePath string
	Template     *manifest.Template
	Env          map[string]string
	// Namespace, Timeout and Retention override Options when set.
	Namespace string
	Timeout   time.Duration
	Retention cleanup.Policy
}

// Result is the terminal outcome of a task attempt.
type Result struct {
	ExecutionID   string         `json:"executionId"`
	State         jobs.State     `json:"state"`
	Reason        string         `json:"reason"`
	ExitCode      *int32         `json:"exitCode,omitempty"`
	Handle        jobs.RunHandle `json:"handle"`
	LogTail       []string       `json:"logTail,omitempty"`
	LogsAvailable bool           `json:"logsAvailable"`
	Deleted       bool           `json:"deleted"`
	Warnings      []string       `json:"warnings,omitempty"`
	SubmittedAt   time.Time      `json:"submittedAt"`
	FinishedAt    time.Time      `json:"finishedAt"`
	Transitions   []Transition   `json:"transitions,omitempty"`
}

// Controller executes task attempts. Renderer, Submitter, Watcher and
// Cleaner are required; the rest may be left nil.
type Controller struct {
	Renderer  *manifest.Renderer
	Submitter Submitter
	Watcher   StatusSource
	Cleaner   Cleaner
	Logs      *logrelay.Relay
	LogSink   logrelay.Sink
	Audit     Auditor
	Recorder  record.EventRecorder
	Metrics   *metrics.ExecutionMetrics
	Tracing   *tracing.Provider
	Log       logr.Logger
	Options   Options
}

// Execute runs req to a terminal state. Template and submission errors are
// returned as errors with a nil Result; every other outcome, including
// timeout and cancellation, is a Result.
func (c *Controller) Execute(ctx context.Context, req Request) (*Result, error) {
	opts := c.Options.withDefaults()
	execID := uuid.NewString()
	ctx = logctx.WithExecutionID(logctx.WithTaskID(ctx, req.TaskID), execID)
	log := logctx.LoggerWithContext(c.Log.WithName("execution"), ctx)
	ctx, span := c.Tracing.StartExecutionSpan(ctx, req.TaskID, execID)
	defer span.End()

	rendered, err := c.render(req, opts)
	if err != nil {
		logctx.LoggerWithContext(c.Log.WithName("execution"), logctx.WithStage(ctx, logctx.StageRender)).
			Error(err, "failed to render manifest", "template", req.TemplatePath)
		tracing.RecordError(span, err)
		return nil, err
	}

	policy := req.Retention
	if policy == "" {
		policy = opts.Retention
	}
	m := NewMachine()
	res := &Result{ExecutionID: execID}

	// Nothing has been created yet, so a cancelled caller aborts here.
	if ctx.Err() != nil {
		_ = m.Transition(jobs.StateCancelled, "cancelled before submission")
		return c.finish(ctx, log, m, res, opts, policy), nil
	}

	// Submission is not interrupted half-way; cancellation is applied once
	// the API call returns.
	submitCtx, cancelSubmit := context.WithTimeout(
		logctx.WithStage(context.WithoutCancel(ctx), logctx.StageSubmit), opts.SubmitTimeout)
	submitCtx, submitSpan := c.Tracing.StartSubmitSpan(submitCtx, rendered.Job.Name, rendered.Job.Namespace)
	h, err := c.Submitter.Submit(submitCtx, rendered)
	tracing.RecordError(submitSpan, err)
	submitSpan.End()
	cancelSubmit()
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}
	tracing.AddHandle(span, h)

	ctx = logctx.WithLoggingContext(ctx, &logctx.LoggingFields{Job: h.Name, Namespace: h.Namespace})
	log = logctx.LoggerWithContext(c.Log.WithName("execution"), ctx)
	res.Handle = h
	res.SubmittedAt = time.Now()
	if h.Adopted && !h.CreatedAt.IsZero() {
		// A resumed attempt keeps the budget it started with.
		res.SubmittedAt = h.CreatedAt
	}
	c.onSubmitted(ctx, log, h)
	_ = m.Transition(jobs.StateRunning, submittedReason(h))

	c.Metrics.ExecutionStarted()
	defer c.Metrics.ExecutionFinished()

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = opts.Timeout
	}
	res.ExitCode = c.await(ctx, log, m, h, res, timeout, opts)
	return c.finish(ctx, log, m, res, opts, policy), nil
}

func (c *Controller) render(req Request, opts Options) (*manifest.Rendered, error) {
	if req.TaskID == "" {
		return nil, apperrors.Template("execution.validate", "task id is required", nil)
	}
	r := c.Renderer
	if r == nil {
		r = manifest.NewRenderer()
	}
	tmpl := req.Template
	if tmpl == nil {
		var err error
		if tmpl, err = r.Load(req.TemplatePath); err != nil {
			return nil, err
		}
	}
	return r.Render(tmpl, manifest.Variables{
		Env:              req.Env,
		TaskID:           req.TaskID,
		Namespace:        req.Namespace,
		DefaultNamespace: opts.Namespace,
	})
}

// await runs the watcher and log relay until the machine is terminal, then
// deletes timed out or cancelled runs and drains the logs.
func (c *Controller) await(ctx context.Context, log logr.Logger, m *Machine, h jobs.RunHandle,
	res *Result, timeout time.Duration, opts Options) *int32 {
	observeCtx, stopObserving := context.WithCancel(context.WithoutCancel(ctx))
	defer stopObserving()

	events := c.Watcher.Observe(logctx.WithStage(observeCtx, logctx.StageWatch), h)
	var session *logrelay.Session
	if c.Logs != nil {
		sink := c.LogSink
		if sink == nil {
			sink = logrelay.LoggerSink{Log: c.Log.WithName("job-logs")}
		}
		session = c.Logs.Start(logctx.WithStage(observeCtx, logctx.StageLogs), h, sink)
	}

	deadline := res.SubmittedAt.Add(timeout)
	timer := time.NewTimer(max(time.Until(deadline), 0))
	defer timer.Stop()

	var exitCode *int32
	seen := false
	timedOut := fmt.Sprintf("no terminal status within %s", timeout)
	if ctx.Err() != nil {
		_ = m.Transition(jobs.StateCancelled, "cancelled during submission")
	}
	for !m.State().IsTerminal() {
		select {
		case ev, ok := <-events:
			if !ok {
				_ = m.Transition(jobs.StateTimedOut, "job status could not be observed")
				continue
			}
			seen = true
			log.V(1).Info("job status", "phase", ev.Phase, "reason", ev.Reason, "source", ev.Source)
			if ev.Phase.IsTerminal() && ev.Timestamp.After(deadline) {
				// Finished, but only once the budget had run out.
				_ = m.Transition(jobs.StateTimedOut, timedOut)
				continue
			}
			if m.Apply(ev) {
				exitCode = ev.ExitCode
			}
		case <-timer.C:
			if ev, ok := c.settle(ctx, log, events, h, deadline, seen, opts); ok && m.Apply(ev) {
				exitCode = ev.ExitCode
				continue
			}
			_ = m.Transition(jobs.StateTimedOut, timedOut)
		case <-ctx.Done():
			_ = m.Transition(jobs.StateCancelled, "cancelled by caller")
		}
	}

	state := m.State()
	log.Info("execution reached terminal state", "state", state, "reason", m.Reason())
	if state == jobs.StateTimedOut || state == jobs.StateCancelled {
		delCtx, cancel := context.WithTimeout(
			logctx.WithStage(context.WithoutCancel(ctx), logctx.StageCleanup), opts.GracePeriod)
		delCtx, delSpan := c.Tracing.StartCleanupSpan(delCtx, h)
		err := c.Cleaner.Delete(delCtx, h)
		tracing.RecordError(delSpan, err)
		delSpan.End()
		cancel()
		if err != nil {
			c.warn(ctx, log, res, h, err)
		} else {
			res.Deleted = true
		}
	}

	if session == nil {
		return exitCode
	}
	session.Finish()
	drain := time.NewTimer(opts.LogDrainTimeout)
	select {
	case <-session.Done():
	case <-drain.C:
		log.Info("log drain timed out", "timeout", opts.LogDrainTimeout)
		stopObserving()
		<-session.Done()
	}
	drain.Stop()
	sum := session.Summary()
	res.LogTail = sum.Tail
	res.LogsAvailable = sum.Available
	if !sum.Available {
		log.Info("job logs are incomplete", "lines", sum.Lines)
	}
	return exitCode
}

// settle looks for a terminal status reached at or before the deadline once
// the timer has fired. Events already queued are consumed first; then the Job
// is read directly when the source supports it, otherwise the first event is
// awaited if none has arrived yet.
func (c *Controller) settle(ctx context.Context, log logr.Logger, events <-chan jobs.StatusEvent,
	h jobs.RunHandle, deadline time.Time, seen bool, opts Options) (jobs.StatusEvent, bool) {
	inTime := func(ev jobs.StatusEvent) bool {
		return ev.Phase.IsTerminal() && !ev.Timestamp.After(deadline)
	}
	for queued := true; queued; {
		select {
		case ev, ok := <-events:
			if !ok {
				queued = false
				continue
			}
			seen = true
			if ev.Phase.IsTerminal() {
				return ev, inTime(ev)
			}
		default:
			queued = false
		}
	}

	readCtx, cancel := context.WithTimeout(
		logctx.WithStage(context.WithoutCancel(ctx), logctx.StageWatch), opts.SubmitTimeout)
	defer cancel()
	if r, ok := c.Watcher.(StatusReader); ok {
		ev, err := r.Current(readCtx, h)
		if err != nil {
			log.Error(err, "failed to read job status at deadline")
			return jobs.StatusEvent{}, false
		}
		return ev, inTime(ev)
	}
	if seen {
		return jobs.StatusEvent{}, false
	}
	select {
	case ev, ok := <-events:
		return ev, ok && inTime(ev)
	case <-readCtx.Done():
	case <-ctx.Done():
	}
	return jobs.StatusEvent{}, false
}

// finish applies retention and records the outcome.
func (c *Controller) finish(ctx context.Context, log logr.Logger, m *Machine, res *Result,
	opts Options, policy cleanup.Policy) *Result {
	res.State = m.State()
	res.Reason = m.Reason()
	res.Transitions = m.History()

	if res.Handle.Name != "" && !res.Deleted {
		cctx, cancel := context.WithTimeout(
			logctx.WithStage(context.WithoutCancel(ctx), logctx.StageCleanup), opts.GracePeriod)
		cctx, cleanSpan := c.Tracing.StartCleanupSpan(cctx, res.Handle)
		deleted, err := c.Cleaner.Cleanup(cctx, res.Handle, res.State, policy)
		tracing.RecordError(cleanSpan, err)
		cleanSpan.End()
		cancel()
		if err != nil {
			c.warn(ctx, log, res, res.Handle, err)
		}
		res.Deleted = deleted && err == nil
	}
	res.FinishedAt = time.Now()
	tracing.AddOutcome(trace.SpanFromContext(ctx), res.State, res.Reason, res.ExitCode, res.Deleted)

	if res.Handle.Name != "" {
		c.Metrics.RecordExecution(string(res.State), res.FinishedAt.Sub(res.SubmittedAt))
		c.recordEvent(res.Handle, terminalEventType(res.State), string(res.State), res.Reason)
		entry := audit.NewEntry(ctx, audit.EventFinished, res.Handle)
		entry.State, entry.Reason, entry.ExitCode = res.State, res.Reason, res.ExitCode
		c.audit(ctx, log, entry)
	} else {
		c.Metrics.RecordExecution(string(res.State), 0)
	}
	log.Info("execution finished", "state", res.State, "reason", res.Reason, "deleted", res.Deleted)
	return res
}

func (c *Controller) onSubmitted(ctx context.Context, log logr.Logger, h jobs.RunHandle) {
	eventType, reason := audit.EventSubmitted, EventReasonCreated
	if h.Adopted {
		eventType, reason = audit.EventAdopted, EventReasonAdopted
	}
	log.Info("job submitted", "adopted", h.Adopted, "uid", h.UID)
	c.recordEvent(h, corev1.EventTypeNormal, reason, submittedReason(h))
	c.audit(ctx, log, audit.NewEntry(ctx, eventType, h))
}

func (c *Controller) warn(ctx context.Context, log logr.Logger, res *Result, h jobs.RunHandle, err error) {
	log.Error(err, "failed to clean up job resources")
	res.Warnings = append(res.Warnings, err.Error())
	c.recordEvent(h, corev1.EventTypeWarning, EventReasonCleanupFailed, err.Error())
}

func (c *Controller) audit(ctx context.Context, log logr.Logger, e *audit.Entry) {
	if c.Audit == nil {
		return
	}
	if err := c.Audit.LogEvent(ctx, e); err != nil {
		log.Error(err, "failed to write audit entry", "eventType", e.EventType)
	}
}

// recordEvent emits a Kubernetes event on the Job if the recorder is available.
func (c *Controller) recordEvent(h jobs.RunHandle, eventType, reason, message string) {
	if c.Recorder == nil {
		return
	}
	obj := &batchv1.Job{
		TypeMeta:   metav1.TypeMeta{APIVersion: batchv1.SchemeGroupVersion.String(), Kind: "Job"},
		ObjectMeta: metav1.ObjectMeta{Name: h.Name, Namespace: h.Namespace, UID: h.UID},
	}
	c.Recorder.Event(obj, eventType, reason, message)
}

func terminalEventType(s jobs.State) string {
	if s == jobs.StateSucceeded {
		return corev1.EventTypeNormal
	}
	return corev1.EventTypeWarning
}

func submittedReason(h jobs.RunHandle) string {
	if h.Adopted {
		return "adopted existing job " + h.String()
	}
	return "created job " + h.String()
}
