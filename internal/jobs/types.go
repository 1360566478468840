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

// Package jobs holds the value types shared by the submitter, watcher, log
// relay and cleanup manager: the handle of a submitted Job, the status
// events observed for it and the log lines relayed from its Pods.
package jobs

import (
	"fmt"
	"time"

	"k8s.io/apimachinery/pkg/types"
)

// RunHandle identifies a submitted Job. It is passed by value; nothing but
// the cleanup manager deletes the resource it points at.
type RunHandle struct {
	Name      string    `json:"name"`
	Namespace string    `json:"namespace"`
	UID       types.UID `json:"uid"`
	TaskID    string    `json:"taskId"`
	// Adopted is true when the Job already existed and was re-attached.
	Adopted bool `json:"adopted,omitempty"`
	// CreatedAt is the Job's creation timestamp as reported by the cluster.
	CreatedAt time.Time `json:"createdAt,omitempty"`
}

// Key returns the handle as "namespace/name".
func (h RunHandle) Key() types.NamespacedName {
	return types.NamespacedName{Namespace: h.Namespace, Name: h.Name}
}

func (h RunHandle) String() string {
	return fmt.Sprintf("%s/%s", h.Namespace, h.Name)
}

// Phase is the cluster-side phase of a run.
type Phase string

const (
	PhasePending   Phase = "Pending"
	PhaseRunning   Phase = "Running"
	PhaseSucceeded Phase = "Succeeded"
	PhaseFailed    Phase = "Failed"
)

// IsTerminal reports whether no further phase can follow.
func (p Phase) IsTerminal() bool {
	return p == PhaseSucceeded || p == PhaseFailed
}

// EventSource tells where a StatusEvent came from.
type EventSource string

const (
	SourceWatch EventSource = "watch"
	SourcePoll  EventSource = "poll"
	SourceSync  EventSource = "sync"
)

// StatusEvent is one observed state of the Job.
type StatusEvent struct {
	Phase Phase
	// ExitCode is the container exit code, when a terminated container was found.
	ExitCode  *int32
	Reason    string
	Message   string
	Timestamp time.Time
	Source    EventSource
}

// LogLine is a single line relayed from a container.
type LogLine struct {
	Pod       string
	Container string
	Timestamp time.Time
	Text      string
	// Truncated is set when the line exceeded the relay's size limit.
	Truncated bool
}
