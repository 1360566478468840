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

package execution

import (
	"time"

	"github.com/altairalabs/jobrunner/internal/cleanup"
)

// Default execution settings.
const (
	DefaultTimeout         = 24 * time.Hour
	DefaultGracePeriod     = 30 * time.Second
	DefaultSubmitTimeout   = time.Minute
	DefaultLogDrainTimeout = 10 * time.Second
)

// Options are the controller-wide defaults a Request may override.
type Options struct {
	// Namespace is used when neither the request nor the template names one.
	Namespace string
	// Timeout bounds a run, measured from submission confirmation.
	Timeout time.Duration
	// GracePeriod bounds deletion after a timeout or cancellation.
	GracePeriod time.Duration
	// SubmitTimeout bounds the create call.
	SubmitTimeout time.Duration
	// LogDrainTimeout is how long logs may keep flowing after the terminal state.
	LogDrainTimeout time.Duration
	Retention       cleanup.Policy
}

// DefaultOptions returns Options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		Timeout:         DefaultTimeout,
		GracePeriod:     DefaultGracePeriod,
		SubmitTimeout:   DefaultSubmitTimeout,
		LogDrainTimeout: DefaultLogDrainTimeout,
		Retention:       cleanup.DefaultPolicy,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Timeout <= 0 {
		o.Timeout = d.Timeout
	}
	if o.GracePeriod <= 0 {
		o.GracePeriod = d.GracePeriod
	}
	if o.SubmitTimeout <= 0 {
		o.SubmitTimeout = d.SubmitTimeout
	}
	if o.LogDrainTimeout <= 0 {
		o.LogDrainTimeout = d.LogDrainTimeout
	}
	if o.Retention == "" {
		o.Retention = d.Retention
	}
	return o
}
