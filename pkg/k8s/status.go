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

package k8s

import (
	"sort"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
)

// JobCondition returns the first condition of the given type that is True.
func JobCondition(job *batchv1.Job, condType batchv1.JobConditionType) *batchv1.JobCondition {
	for i := range job.Status.Conditions {
		c := &job.Status.Conditions[i]
		if c.Type == condType && c.Status == corev1.ConditionTrue {
			return c
		}
	}
	return nil
}

// TerminatedExitCode returns the exit code of the most relevant terminated
// container across pods. With preferFailure set, a non-zero code wins over a
// zero one. Pods are considered newest first.
func TerminatedExitCode(pods []corev1.Pod, preferFailure bool) (*int32, string) {
	sorted := make([]corev1.Pod, len(pods))
	copy(sorted, pods)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[j].CreationTimestamp.Before(&sorted[i].CreationTimestamp)
	})

	var found *int32
	var reason string
	for _, pod := range sorted {
		for _, cs := range pod.Status.ContainerStatuses {
			term := cs.State.Terminated
			if term == nil {
				continue
			}
			code := term.ExitCode
			if found == nil {
				found, reason = &code, term.Reason
			}
			if preferFailure && code != 0 {
				return &code, term.Reason
			}
			if !preferFailure {
				return found, reason
			}
		}
	}
	return found, reason
}

// ContainerTerminated reports whether the named container in pod has exited
// and will not be restarted in place.
func ContainerTerminated(pod *corev1.Pod, container string) bool {
	if pod.Status.Phase == corev1.PodSucceeded || pod.Status.Phase == corev1.PodFailed {
		return true
	}
	for _, cs := range pod.Status.ContainerStatuses {
		if cs.Name == container {
			return cs.State.Terminated != nil && pod.Spec.RestartPolicy == corev1.RestartPolicyNever
		}
	}
	return false
}

// ContainerStarted reports whether the named container has produced a
// running or terminated state, i.e. whether it has logs to read.
func ContainerStarted(pod *corev1.Pod, container string) bool {
	for _, cs := range pod.Status.ContainerStatuses {
		if cs.Name == container {
			return cs.State.Running != nil || cs.State.Terminated != nil
		}
	}
	return false
}
