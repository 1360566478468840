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

// Package watch turns the cluster state of a Job into an ordered stream of
// StatusEvents. It watches the Job and falls back to polling with backoff
// whenever the watch stream is unavailable.
package watch

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/go-logr/logr"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/util/wait"
	apiwatch "k8s.io/apimachinery/pkg/watch"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/altairalabs/jobrunner/internal/apperrors"
	"github.com/altairalabs/jobrunner/internal/jobs"
	"github.com/altairalabs/jobrunner/pkg/k8s"
	"github.com/altairalabs/jobrunner/pkg/logctx"
	"github.com/altairalabs/jobrunner/pkg/metrics"
)

// ReasonJobDeleted is reported when the Job disappears before finishing.
const ReasonJobDeleted = "JobDeleted"

// Default poll backoff bounds.
const (
	DefaultPollInterval    = 2 * time.Second
	DefaultPollMaxInterval = 30 * time.Second
)

// Options tunes the watcher.
type Options struct {
	// PollInterval is the first delay between polls while the watch is down.
	PollInterval time.Duration
	// PollMaxInterval caps the poll backoff.
	PollMaxInterval time.Duration
	// RetryBudget bounds how long the Job may stay unreadable before the
	// stream is closed without a terminal event. Zero means no bound.
	RetryBudget time.Duration
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.PollMaxInterval < o.PollInterval {
		o.PollMaxInterval = max(DefaultPollMaxInterval, o.PollInterval)
	}
	return o
}

func (o Options) backoff() wait.Backoff {
	return wait.Backoff{
		Duration: o.PollInterval,
		Factor:   2,
		Jitter:   0.1,
		Steps:    math.MaxInt32,
		Cap:      o.PollMaxInterval,
	}
}

// Watcher observes Jobs.
type Watcher struct {
	client  client.WithWatch
	log     logr.Logger
	metrics *metrics.ExecutionMetrics
	opts    Options
}

// NewWatcher creates a Watcher. m may be nil.
func NewWatcher(c client.WithWatch, log logr.Logger, m *metrics.ExecutionMetrics, opts Options) *Watcher {
	return &Watcher{client: c, log: log.WithName("watch"), metrics: m, opts: opts.withDefaults()}
}

// Observe streams the phases of the Job behind h. Consecutive duplicates are
// suppressed, and the channel is closed after a terminal event or when ctx
// is done.
func (w *Watcher) Observe(ctx context.Context, h jobs.RunHandle) <-chan jobs.StatusEvent {
	if logctx.Job(ctx) == "" {
		ctx = logctx.WithNamespace(logctx.WithJob(ctx, h.Name), h.Namespace)
	}
	out := make(chan jobs.StatusEvent, 1)
	o := &observer{
		Watcher: w,
		handle:  h,
		out:     out,
		log:     logctx.LoggerWithContext(w.log, ctx),
	}
	go func() {
		defer close(out)
		o.contact = time.Now()
		o.run(ctx)
	}()
	return out
}

// observer is the state of one Observe call. It is owned by its goroutine.
type observer struct {
	*Watcher
	handle jobs.RunHandle
	out    chan<- jobs.StatusEvent
	log    logr.Logger
	last   jobs.StatusEvent
	sent   bool
	done   bool

	// contact is the last time the cluster answered for the Job.
	contact time.Time
}

func (o *observer) run(ctx context.Context) {
	bo := o.opts.backoff()
	for !o.done && ctx.Err() == nil {
		if o.watchOnce(ctx) {
			bo = o.opts.backoff()
		}
		if o.done || ctx.Err() != nil {
			return
		}
		o.metrics.RecordWatchReconnect()
		o.refresh(ctx, jobs.SourcePoll)
		if o.done {
			return
		}
		if o.opts.RetryBudget > 0 && time.Since(o.contact) > o.opts.RetryBudget {
			o.log.Error(apperrors.Watch("watch.retry", errors.New("job unreadable")),
				"giving up on job status", "budget", o.opts.RetryBudget)
			return
		}
		timer := time.NewTimer(bo.Step())
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// watchOnce opens a watch, syncs the current state and consumes events
// until the stream ends. It reports whether the watch was established.
func (o *observer) watchOnce(ctx context.Context) bool {
	wi, err := o.client.Watch(ctx, &batchv1.JobList{},
		client.InNamespace(o.handle.Namespace),
		client.MatchingLabelsSelector{Selector: o.selector()},
	)
	if err != nil {
		o.log.Error(apperrors.Watch("watch.open", err), "watch unavailable, polling")
		return false
	}
	defer wi.Stop()
	o.contact = time.Now()

	// Anything that changed before the watch opened is picked up here.
	o.refresh(ctx, jobs.SourceSync)

	for !o.done {
		select {
		case <-ctx.Done():
			return true
		case ev, ok := <-wi.ResultChan():
			o.contact = time.Now()
			if !ok {
				o.log.V(1).Info("watch stream closed")
				return true
			}
			if !o.handleEvent(ctx, ev) {
				return true
			}
		}
	}
	return true
}

// handleEvent applies one watch event. It returns false when the stream
// should be re-established.
func (o *observer) handleEvent(ctx context.Context, ev apiwatch.Event) bool {
	switch ev.Type {
	case apiwatch.Error:
		o.log.Info("watch stream error", "status", apierrors.FromObject(ev.Object).Error())
		return false
	case apiwatch.Bookmark:
		return true
	}

	job, ok := ev.Object.(*batchv1.Job)
	if !ok {
		o.refresh(ctx, jobs.SourceWatch)
		return true
	}
	if job.Name != o.handle.Name {
		return true
	}
	if o.handle.UID != "" && job.UID != "" && job.UID != o.handle.UID {
		return true
	}
	if ev.Type == apiwatch.Deleted {
		o.emit(ctx, deletedEvent(jobs.SourceWatch))
		return true
	}
	o.emit(ctx, o.eventFor(ctx, job, jobs.SourceWatch))
	return true
}

// refresh reads the Job directly and emits its state.
func (o *observer) refresh(ctx context.Context, source jobs.EventSource) {
	ev, err := o.read(ctx, o.handle, source)
	if err != nil {
		if ctx.Err() == nil {
			o.log.Error(err, "failed to read job")
		}
		return
	}
	o.contact = time.Now()
	o.emit(ctx, ev)
}

// Current reads the Job behind h once and classifies it. A missing Job, or
// one with the same name but another UID, is reported as JobDeleted.
func (w *Watcher) Current(ctx context.Context, h jobs.RunHandle) (jobs.StatusEvent, error) {
	return w.read(ctx, h, jobs.SourcePoll)
}

func (w *Watcher) read(ctx context.Context, h jobs.RunHandle, source jobs.EventSource) (jobs.StatusEvent, error) {
	job, err := k8s.GetJob(ctx, w.client, h.Name, h.Namespace)
	switch {
	case apierrors.IsNotFound(err):
		return deletedEvent(source), nil
	case err != nil:
		return jobs.StatusEvent{}, apperrors.Watch("watch.get", err)
	case h.UID != "" && job.UID != "" && job.UID != h.UID:
		// Same name, different object: ours is gone.
		return deletedEvent(source), nil
	}
	return w.eventFor(ctx, job, source), nil
}

func (o *observer) emit(ctx context.Context, ev jobs.StatusEvent) {
	if o.done {
		return
	}
	if o.sent && ev.Phase == o.last.Phase && ev.Reason == o.last.Reason {
		return
	}
	select {
	case <-ctx.Done():
		return
	case o.out <- ev:
	}
	o.last, o.sent = ev, true
	o.done = ev.Phase.IsTerminal()
	o.log.V(1).Info("status", "phase", ev.Phase, "reason", ev.Reason, "source", ev.Source)
}

func (o *observer) selector() labels.Selector {
	if o.handle.TaskID == "" {
		return labels.SelectorFromSet(jobs.PodLabels(o.handle.Name))
	}
	return jobs.TaskSelector(o.handle.TaskID)
}

// eventFor derives a StatusEvent from a Job and its Pods. Job conditions are
// authoritative since the Job controller owns retries.
func (w *Watcher) eventFor(ctx context.Context, job *batchv1.Job, source jobs.EventSource) jobs.StatusEvent {
	pods, err := k8s.ListPods(ctx, w.client, job.Namespace, jobs.PodLabels(job.Name))
	if err != nil && ctx.Err() == nil {
		w.log.V(1).Info("failed to list pods", "job", job.Namespace+"/"+job.Name, "error", err.Error())
	}
	return PhaseOf(job, pods, source)
}

// PhaseOf classifies a Job using its conditions, falling back to Pod state
// while it is still active.
func PhaseOf(job *batchv1.Job, pods []corev1.Pod, source jobs.EventSource) jobs.StatusEvent {
	ev := jobs.StatusEvent{Source: source, Timestamp: time.Now()}

	if c := terminalCondition(job, batchv1.JobComplete, batchv1.JobSuccessCriteriaMet); c != nil {
		ev.Phase, ev.Reason, ev.Message = jobs.PhaseSucceeded, c.Reason, c.Message
		ev.ExitCode, _ = k8s.TerminatedExitCode(pods, false)
		stamp(&ev, c)
		return ev
	}
	if c := terminalCondition(job, batchv1.JobFailed, batchv1.JobFailureTarget); c != nil {
		ev.Phase, ev.Reason, ev.Message = jobs.PhaseFailed, c.Reason, c.Message
		ev.ExitCode, _ = k8s.TerminatedExitCode(pods, true)
		stamp(&ev, c)
		return ev
	}

	ev.Phase = jobs.PhasePending
	if job.Status.Ready != nil && *job.Status.Ready > 0 {
		ev.Phase = jobs.PhaseRunning
	}
	for i := range pods {
		pod := &pods[i]
		if pod.Status.Phase == corev1.PodRunning {
			ev.Phase = jobs.PhaseRunning
			break
		}
		if ev.Reason == "" {
			ev.Reason = waitingReason(pod)
		}
	}
	if ev.Phase == jobs.PhaseRunning {
		ev.Reason = ""
	}
	return ev
}

func terminalCondition(job *batchv1.Job, conds ...batchv1.JobConditionType) *batchv1.JobCondition {
	for _, t := range conds {
		if c := k8s.JobCondition(job, t); c != nil {
			return c
		}
	}
	return nil
}

func stamp(ev *jobs.StatusEvent, c *batchv1.JobCondition) {
	if !c.LastTransitionTime.IsZero() {
		ev.Timestamp = c.LastTransitionTime.Time
	}
}

// waitingReason surfaces why a Pod has not started, e.g. ErrImagePull.
func waitingReason(pod *corev1.Pod) string {
	for _, cs := range pod.Status.ContainerStatuses {
		if cs.State.Waiting != nil && cs.State.Waiting.Reason != "" {
			return cs.State.Waiting.Reason
		}
	}
	return ""
}

func deletedEvent(source jobs.EventSource) jobs.StatusEvent {
	return jobs.StatusEvent{
		Phase:     jobs.PhaseFailed,
		Reason:    ReasonJobDeleted,
		Message:   "job was deleted before it finished",
		Timestamp: time.Now(),
		Source:    source,
	}
}
