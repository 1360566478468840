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

package jobs

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/util/validation"
)

// Labels and annotations set on every Job and Pod template we create.
const (
	LabelManagedBy    = "app.kubernetes.io/managed-by"
	LabelTask         = "jobrunner.altairalabs.ai/task"
	AnnotationTaskID  = "jobrunner.altairalabs.ai/task-id"
	ManagedByValue    = "jobrunner"
	LabelPodJobName   = "batch.kubernetes.io/job-name"
	hashLength        = 8
	fallbackJobPrefix = "job"
)

// TaskHash returns a short, label-safe digest of the task identifier.
func TaskHash(taskID string) string {
	sum := sha256.Sum256([]byte(taskID))
	return hex.EncodeToString(sum[:])[:hashLength]
}

// JobName derives the Job name for a task identifier. The result is a valid
// DNS-1123 label and is the same for the same task identifier, which is what
// lets a restarted orchestrator re-attach to the Job it already submitted.
func JobName(taskID string) string {
	hash := TaskHash(taskID)
	base := sanitize(taskID)
	maxBase := validation.DNS1123LabelMaxLength - len(hash) - 1
	if len(base) > maxBase {
		base = strings.TrimRight(base[:maxBase], "-")
	}
	if base == "" {
		base = fallbackJobPrefix
	}
	return base + "-" + hash
}

// sanitize lowercases s and replaces every run of characters outside
// [a-z0-9] with a single dash.
func sanitize(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.Trim(b.String(), "-")
}

// OwnershipLabels are the labels identifying a task's resources.
func OwnershipLabels(taskID string) map[string]string {
	return map[string]string{
		LabelManagedBy: ManagedByValue,
		LabelTask:      TaskHash(taskID),
	}
}

// TaskSelector selects the Jobs created for a task.
func TaskSelector(taskID string) labels.Selector {
	return labels.SelectorFromSet(OwnershipLabels(taskID))
}

// PodLabels selects the Pods the batch controller created for a Job.
func PodLabels(jobName string) map[string]string {
	return map[string]string{LabelPodJobName: jobName}
}
