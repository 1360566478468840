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

// Package submit creates the Job for a rendered manifest. Submission is
// idempotent per task id: a Job that already carries the task's labels is
// adopted instead of recreated.
package submit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-logr/logr"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/altairalabs/jobrunner/internal/apperrors"
	"github.com/altairalabs/jobrunner/internal/jobs"
	"github.com/altairalabs/jobrunner/internal/manifest"
	"github.com/altairalabs/jobrunner/pkg/k8s"
	"github.com/altairalabs/jobrunner/pkg/logctx"
	"github.com/altairalabs/jobrunner/pkg/metrics"
)

// Submitter creates Jobs through the cluster API.
type Submitter struct {
	client  client.Client
	log     logr.Logger
	metrics *metrics.ExecutionMetrics
}

// NewSubmitter creates a Submitter. m may be nil.
func NewSubmitter(c client.Client, log logr.Logger, m *metrics.ExecutionMetrics) *Submitter {
	return &Submitter{client: c, log: log.WithName("submit"), metrics: m}
}

// Submit creates the Job in r and returns its handle. Failures are
// classified submission errors and are never retried here.
func (s *Submitter) Submit(ctx context.Context, r *manifest.Rendered) (jobs.RunHandle, error) {
	if r == nil || r.Job == nil {
		return jobs.RunHandle{}, apperrors.Submission("submit.create", apperrors.ReasonInvalid, "no job to submit", nil)
	}
	job := r.Job.DeepCopy()
	taskID := job.Annotations[jobs.AnnotationTaskID]
	log := logctx.LoggerWithContext(s.log, ctx).WithValues("job", job.Name, "namespace", job.Namespace)

	err := s.client.Create(ctx, job)
	if err == nil {
		log.Info("created job", "uid", job.UID)
		return handleFor(job.Name, job.Namespace, job.UID, taskID, job.CreationTimestamp.Time, false), nil
	}
	if !apierrors.IsAlreadyExists(err) {
		return jobs.RunHandle{}, s.fail(log, "submit.create", classify(err), "failed to create job", err)
	}

	existing, getErr := k8s.GetJob(ctx, s.client, job.Name, job.Namespace)
	if getErr != nil {
		return jobs.RunHandle{}, s.fail(log, "submit.adopt", classify(getErr), "job exists but could not be read", getErr)
	}
	want := job.Labels[jobs.LabelTask]
	if got := existing.Labels[jobs.LabelTask]; got != want || existing.Labels[jobs.LabelManagedBy] != jobs.ManagedByValue {
		return jobs.RunHandle{}, s.fail(log, "submit.adopt", apperrors.ReasonConflict,
			fmt.Sprintf("job %s/%s exists but belongs to another task (task label %q)", job.Namespace, job.Name, got), nil)
	}

	s.metrics.RecordAdoption()
	log.Info("adopted existing job", "uid", existing.UID, "created", existing.CreationTimestamp.Time)
	return handleFor(existing.Name, existing.Namespace, existing.UID, taskID, existing.CreationTimestamp.Time, true), nil
}

func (s *Submitter) fail(log logr.Logger, op string, reason apperrors.Reason, msg string, cause error) error {
	s.metrics.RecordSubmissionError(string(reason))
	err := apperrors.Submission(op, reason, msg, cause)
	log.Error(err, "submission failed", "reason", reason)
	return err
}

func handleFor(name, namespace string, uid types.UID, taskID string, created time.Time, adopted bool) jobs.RunHandle {
	return jobs.RunHandle{
		Name:      name,
		Namespace: namespace,
		UID:       uid,
		TaskID:    taskID,
		Adopted:   adopted,
		CreatedAt: created,
	}
}

// classify maps an API error to a submission reason.
func classify(err error) apperrors.Reason {
	switch {
	case apierrors.IsForbidden(err) && strings.Contains(err.Error(), "exceeded quota"):
		return apperrors.ReasonQuotaExceeded
	case apierrors.IsUnauthorized(err), apierrors.IsForbidden(err):
		return apperrors.ReasonUnauthorized
	case apierrors.IsInvalid(err), apierrors.IsBadRequest(err), apierrors.IsNotFound(err):
		// NotFound on create means the namespace is missing.
		return apperrors.ReasonInvalid
	case apierrors.IsAlreadyExists(err), apierrors.IsConflict(err):
		return apperrors.ReasonConflict
	default:
		return apperrors.ReasonUnavailable
	}
}
