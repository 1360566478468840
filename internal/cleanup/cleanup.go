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

// Package cleanup deletes or retains the cluster resources of a finished
// run. Cleanup is advisory: its errors are reported but never change the
// terminal state that was already decided.
package cleanup

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/altairalabs/jobrunner/internal/apperrors"
	"github.com/altairalabs/jobrunner/internal/jobs"
	"github.com/altairalabs/jobrunner/pkg/logctx"
	"github.com/altairalabs/jobrunner/pkg/metrics"
)

// Policy decides which terminal states delete the Job.
type Policy string

const (
	// PolicyDeleteOnSuccess deletes after Succeeded and retains failures for inspection.
	PolicyDeleteOnSuccess Policy = "delete-on-success"
	// PolicyAlwaysRetain never deletes.
	PolicyAlwaysRetain Policy = "always-retain"
	// PolicyAlwaysDelete deletes after every terminal state.
	PolicyAlwaysDelete Policy = "always-delete"
)

// DefaultPolicy is used when no policy is configured.
const DefaultPolicy = PolicyDeleteOnSuccess

// policyAliases maps the CamelCase policy names to their canonical form.
var policyAliases = map[string]Policy{
	"DeleteOnSuccess": PolicyDeleteOnSuccess,
	"AlwaysRetain":    PolicyAlwaysRetain,
	"AlwaysDelete":    PolicyAlwaysDelete,
}

// ParsePolicy validates a policy name and returns its canonical form. Both
// "delete-on-success" and "DeleteOnSuccess" are accepted. An empty name
// yields DefaultPolicy.
func ParsePolicy(s string) (Policy, error) {
	if p, ok := policyAliases[s]; ok {
		return p, nil
	}
	switch p := Policy(s); p {
	case "":
		return DefaultPolicy, nil
	case PolicyDeleteOnSuccess, PolicyAlwaysRetain, PolicyAlwaysDelete:
		return p, nil
	default:
		return "", fmt.Errorf("unknown retention policy %q (want %s, %s or %s)",
			s, PolicyDeleteOnSuccess, PolicyAlwaysRetain, PolicyAlwaysDelete)
	}
}

// ShouldDelete reports whether resources in the given terminal state are deleted.
func (p Policy) ShouldDelete(state jobs.State) bool {
	if !state.IsTerminal() {
		return false
	}
	switch p {
	case PolicyAlwaysDelete:
		return true
	case PolicyAlwaysRetain:
		return false
	default:
		return state == jobs.StateSucceeded
	}
}

// Manager deletes Jobs and their Pods.
type Manager struct {
	client  client.Client
	log     logr.Logger
	metrics *metrics.ExecutionMetrics
}

// NewManager creates a cleanup manager. m may be nil.
func NewManager(c client.Client, log logr.Logger, m *metrics.ExecutionMetrics) *Manager {
	return &Manager{client: c, log: log.WithName("cleanup"), metrics: m}
}

// Cleanup applies policy to the resources of h after it reached state.
// It returns whether a deletion was attempted.
func (m *Manager) Cleanup(ctx context.Context, h jobs.RunHandle, state jobs.State, policy Policy) (bool, error) {
	if !policy.ShouldDelete(state) {
		m.logger(ctx, h).Info("retaining job resources", "state", state, "policy", policy)
		return false, nil
	}
	return true, m.Delete(ctx, h)
}

func (m *Manager) logger(ctx context.Context, h jobs.RunHandle) logr.Logger {
	if logctx.Job(ctx) == "" {
		ctx = logctx.WithNamespace(logctx.WithJob(ctx, h.Name), h.Namespace)
	}
	return logctx.LoggerWithContext(m.log, ctx)
}

// Delete removes the Job and its Pods. Resources that are already gone
// count as deleted.
func (m *Manager) Delete(ctx context.Context, h jobs.RunHandle) error {
	job := &batchv1.Job{ObjectMeta: metav1.ObjectMeta{Name: h.Name, Namespace: h.Namespace}}
	opts := []client.DeleteOption{client.PropagationPolicy(metav1.DeletePropagationBackground)}
	if h.UID != "" {
		uid := h.UID
		opts = append(opts, client.Preconditions{UID: &uid})
	}

	m.logger(ctx, h).Info("deleting job resources")
	if err := m.client.Delete(ctx, job, opts...); client.IgnoreNotFound(err) != nil {
		m.metrics.RecordCleanupError()
		return apperrors.Cleanup("cleanup.deleteJob", fmt.Errorf("delete Job %s: %w", h, err))
	}

	// Background propagation leaves Pods to the garbage collector; remove them now.
	err := m.client.DeleteAllOf(ctx, &corev1.Pod{},
		client.InNamespace(h.Namespace),
		client.MatchingLabels(jobs.PodLabels(h.Name)),
	)
	if client.IgnoreNotFound(err) != nil {
		m.metrics.RecordCleanupError()
		return apperrors.Cleanup("cleanup.deletePods", fmt.Errorf("delete Pods of Job %s: %w", h, err))
	}
	return nil
}
