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

// Package config provides configuration management for the jobrunner.
// Settings come from defaults, an optional YAML file, JOBRUNNER_*
// environment variables and finally command-line flags, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/yaml"

	"github.com/altairalabs/jobrunner/internal/cleanup"
	"github.com/altairalabs/jobrunner/internal/execution"
	"github.com/altairalabs/jobrunner/internal/logrelay"
	"github.com/altairalabs/jobrunner/internal/tracing"
	"github.com/altairalabs/jobrunner/internal/watch"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "JOBRUNNER_"

// Options holds all configuration options for an execution.
type Options struct {
	// Namespace is the default namespace for Jobs whose template names none.
	Namespace string

	// Timeout bounds a run, measured from submission confirmation.
	Timeout time.Duration

	// Retention is the cleanup policy applied to terminal runs.
	Retention cleanup.Policy

	// GracePeriod bounds deletion after a timeout or cancellation.
	GracePeriod time.Duration

	// SubmitTimeout bounds the create call.
	SubmitTimeout time.Duration

	// PollInterval is the first delay between status polls while the watch is down.
	PollInterval time.Duration

	// PollMaxInterval caps the poll backoff.
	PollMaxInterval time.Duration

	// WatchRetryBudget bounds how long status may stay unobservable. Zero
	// leaves it bounded only by Timeout.
	WatchRetryBudget time.Duration

	// LogReconnectInterval is the first delay before reopening a log stream.
	LogReconnectInterval time.Duration

	// LogReconnectMax caps the log reconnect backoff.
	LogReconnectMax time.Duration

	// LogTailLines is the number of log lines kept in the result.
	LogTailLines int

	// LogDrainTimeout is how long logs may keep flowing after the terminal state.
	LogDrainTimeout time.Duration

	// PodDiscoveryInterval is how often new Pods of the Job are looked for.
	PodDiscoveryInterval time.Duration

	// LogLevel is passed to the logger: debug, info, warn or error.
	LogLevel string

	// TracingEndpoint is the OTLP collector address. Empty disables tracing.
	TracingEndpoint string

	// TracingInsecure disables TLS for the OTLP connection.
	TracingInsecure bool
}

// DefaultOptions returns Options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		Timeout:              execution.DefaultTimeout,
		Retention:            cleanup.DefaultPolicy,
		GracePeriod:          execution.DefaultGracePeriod,
		SubmitTimeout:        execution.DefaultSubmitTimeout,
		PollInterval:         watch.DefaultPollInterval,
		PollMaxInterval:      watch.DefaultPollMaxInterval,
		LogReconnectInterval: logrelay.DefaultReconnectInterval,
		LogReconnectMax:      logrelay.DefaultReconnectMax,
		LogTailLines:         logrelay.DefaultTailLines,
		LogDrainTimeout:      execution.DefaultLogDrainTimeout,
		PodDiscoveryInterval: logrelay.DefaultDiscoveryInterval,
		LogLevel:             "info",
	}
}

// Validate checks if the Options are valid and rewrites Retention to its
// canonical name.
func (o *Options) Validate() error {
	var errs []error
	positive := []struct {
		name string
		d    time.Duration
	}{
		{"timeout", o.Timeout},
		{"gracePeriod", o.GracePeriod},
		{"submitTimeout", o.SubmitTimeout},
		{"pollInterval", o.PollInterval},
		{"pollMaxInterval", o.PollMaxInterval},
		{"logReconnectInterval", o.LogReconnectInterval},
		{"logReconnectMax", o.LogReconnectMax},
		{"logDrainTimeout", o.LogDrainTimeout},
		{"podDiscoveryInterval", o.PodDiscoveryInterval},
	}
	for _, p := range positive {
		if p.d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", p.name, p.d))
		}
	}
	if o.WatchRetryBudget < 0 {
		errs = append(errs, fmt.Errorf("watchRetryBudget must not be negative, got %s", o.WatchRetryBudget))
	}
	if o.PollMaxInterval < o.PollInterval {
		errs = append(errs, fmt.Errorf("pollMaxInterval %s is below pollInterval %s", o.PollMaxInterval, o.PollInterval))
	}
	if o.LogReconnectMax < o.LogReconnectInterval {
		errs = append(errs, fmt.Errorf("logReconnectMax %s is below logReconnectInterval %s",
			o.LogReconnectMax, o.LogReconnectInterval))
	}
	if o.LogTailLines < 0 {
		errs = append(errs, fmt.Errorf("logTailLines must not be negative, got %d", o.LogTailLines))
	}
	if p, err := cleanup.ParsePolicy(string(o.Retention)); err != nil {
		errs = append(errs, err)
	} else {
		o.Retention = p
	}
	return errors.Join(errs...)
}

// ExecutionOptions returns the controller settings.
func (o *Options) ExecutionOptions() execution.Options {
	return execution.Options{
		Namespace:       o.Namespace,
		Timeout:         o.Timeout,
		GracePeriod:     o.GracePeriod,
		SubmitTimeout:   o.SubmitTimeout,
		LogDrainTimeout: o.LogDrainTimeout,
		Retention:       o.Retention,
	}
}

// WatchOptions returns the status watcher settings.
func (o *Options) WatchOptions() watch.Options {
	return watch.Options{
		PollInterval:    o.PollInterval,
		PollMaxInterval: o.PollMaxInterval,
		RetryBudget:     o.WatchRetryBudget,
	}
}

// LogRelayOptions returns the log relay settings.
func (o *Options) LogRelayOptions() logrelay.Options {
	return logrelay.Options{
		ReconnectInterval: o.LogReconnectInterval,
		ReconnectMax:      o.LogReconnectMax,
		DiscoveryInterval: o.PodDiscoveryInterval,
		TailLines:         o.LogTailLines,
	}
}

// TracingConfig returns the tracing provider settings.
func (o *Options) TracingConfig() tracing.Config {
	return tracing.Config{
		Enabled:  o.TracingEndpoint != "",
		Endpoint: o.TracingEndpoint,
		Insecure: o.TracingInsecure,
	}
}

// File is the on-disk form of Options. Unset fields keep their current value.
type File struct {
	Namespace            *string          `json:"namespace,omitempty"`
	Timeout              *metav1.Duration `json:"timeout,omitempty"`
	Retention            *string          `json:"retention,omitempty"`
	GracePeriod          *metav1.Duration `json:"gracePeriod,omitempty"`
	SubmitTimeout        *metav1.Duration `json:"submitTimeout,omitempty"`
	PollInterval         *metav1.Duration `json:"pollInterval,omitempty"`
	PollMaxInterval      *metav1.Duration `json:"pollMaxInterval,omitempty"`
	WatchRetryBudget     *metav1.Duration `json:"watchRetryBudget,omitempty"`
	LogReconnectInterval *metav1.Duration `json:"logReconnectInterval,omitempty"`
	LogReconnectMax      *metav1.Duration `json:"logReconnectMax,omitempty"`
	LogTailLines         *int             `json:"logTailLines,omitempty"`
	LogDrainTimeout      *metav1.Duration `json:"logDrainTimeout,omitempty"`
	PodDiscoveryInterval *metav1.Duration `json:"podDiscoveryInterval,omitempty"`
	LogLevel             *string          `json:"logLevel,omitempty"`
	TracingEndpoint      *string          `json:"tracingEndpoint,omitempty"`
	TracingInsecure      *bool            `json:"tracingInsecure,omitempty"`
}

// LoadFile overlays the YAML configuration at path onto o.
func (o *Options) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	var f File
	if err := yaml.UnmarshalStrict(data, &f); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	o.apply(f)
	return nil
}

func (o *Options) apply(f File) {
	setString(&o.Namespace, f.Namespace)
	if f.Retention != nil {
		o.Retention = cleanup.Policy(*f.Retention)
	}
	setString(&o.LogLevel, f.LogLevel)
	setString(&o.TracingEndpoint, f.TracingEndpoint)
	if f.TracingInsecure != nil {
		o.TracingInsecure = *f.TracingInsecure
	}
	setDuration(&o.Timeout, f.Timeout)
	setDuration(&o.GracePeriod, f.GracePeriod)
	setDuration(&o.SubmitTimeout, f.SubmitTimeout)
	setDuration(&o.PollInterval, f.PollInterval)
	setDuration(&o.PollMaxInterval, f.PollMaxInterval)
	setDuration(&o.WatchRetryBudget, f.WatchRetryBudget)
	setDuration(&o.LogReconnectInterval, f.LogReconnectInterval)
	setDuration(&o.LogReconnectMax, f.LogReconnectMax)
	setDuration(&o.LogDrainTimeout, f.LogDrainTimeout)
	setDuration(&o.PodDiscoveryInterval, f.PodDiscoveryInterval)
	if f.LogTailLines != nil {
		o.LogTailLines = *f.LogTailLines
	}
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, v *metav1.Duration) {
	if v != nil {
		*dst = v.Duration
	}
}

// ApplyEnv overlays JOBRUNNER_* variables onto o. lookup is usually
// os.LookupEnv.
func (o *Options) ApplyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"NAMESPACE":        &o.Namespace,
		"LOG_LEVEL":        &o.LogLevel,
		"TRACING_ENDPOINT": &o.TracingEndpoint,
	}
	for name, dst := range strs {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}
	if v, ok := lookup(EnvPrefix + "RETENTION"); ok {
		o.Retention = cleanup.Policy(v)
	}

	durations := []struct {
		name string
		dst  *time.Duration
	}{
		{"TIMEOUT", &o.Timeout},
		{"GRACE_PERIOD", &o.GracePeriod},
		{"SUBMIT_TIMEOUT", &o.SubmitTimeout},
		{"POLL_INTERVAL", &o.PollInterval},
		{"POLL_MAX_INTERVAL", &o.PollMaxInterval},
		{"WATCH_RETRY_BUDGET", &o.WatchRetryBudget},
		{"LOG_RECONNECT_INTERVAL", &o.LogReconnectInterval},
		{"LOG_RECONNECT_MAX", &o.LogReconnectMax},
		{"LOG_DRAIN_TIMEOUT", &o.LogDrainTimeout},
		{"POD_DISCOVERY_INTERVAL", &o.PodDiscoveryInterval},
	}
	for _, d := range durations {
		v, ok := lookup(EnvPrefix + d.name)
		if !ok {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s%s: %w", EnvPrefix, d.name, err)
		}
		*d.dst = parsed
	}

	if v, ok := lookup(EnvPrefix + "LOG_TAIL_LINES"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %sLOG_TAIL_LINES: %w", EnvPrefix, err)
		}
		o.LogTailLines = n
	}
	if v, ok := lookup(EnvPrefix + "TRACING_INSECURE"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %sTRACING_INSECURE: %w", EnvPrefix, err)
		}
		o.TracingInsecure = b
	}
	return nil
}
