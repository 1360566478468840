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

// Command jobrunner executes one task as a Kubernetes Job and reports the
// outcome as JSON on stdout. Logs go to stderr.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	corev1 "k8s.io/api/core/v1"
	typedcorev1 "k8s.io/client-go/kubernetes/typed/core/v1"
	"k8s.io/client-go/tools/record"
	"sigs.k8s.io/yaml"

	"github.com/altairalabs/jobrunner/internal/apperrors"
	"github.com/altairalabs/jobrunner/internal/audit"
	"github.com/altairalabs/jobrunner/internal/cleanup"
	"github.com/altairalabs/jobrunner/internal/config"
	"github.com/altairalabs/jobrunner/internal/execution"
	"github.com/altairalabs/jobrunner/internal/jobs"
	"github.com/altairalabs/jobrunner/internal/logrelay"
	"github.com/altairalabs/jobrunner/internal/manifest"
	"github.com/altairalabs/jobrunner/internal/submit"
	"github.com/altairalabs/jobrunner/internal/tracing"
	"github.com/altairalabs/jobrunner/internal/watch"
	"github.com/altairalabs/jobrunner/pkg/k8s"
	"github.com/altairalabs/jobrunner/pkg/logging"
	"github.com/altairalabs/jobrunner/pkg/metrics"
)

// Process exit codes.
const (
	exitSucceeded       = 0
	exitFailed          = 1
	exitTimedOut        = 2
	exitCancelled       = 3
	exitTemplateError   = 4
	exitSubmissionError = 5
	exitOther           = 6
)

const eventComponent = "jobrunner"

// envFlags collects repeated --env NAME=VALUE flags.
type envFlags map[string]string

func (e envFlags) String() string {
	keys := make([]string, 0, len(e))
	for k := range e {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+e[k])
	}
	return strings.Join(pairs, ",")
}

func (e envFlags) Set(v string) error {
	name, value, ok := strings.Cut(v, "=")
	if !ok || name == "" {
		return fmt.Errorf("expected NAME=VALUE, got %q", v)
	}
	e[name] = value
	return nil
}

// flags groups all CLI flags for the jobrunner binary.
type flags struct {
	taskID      string
	template    string
	env         envFlags
	envFile     string
	namespace   string
	timeout     time.Duration
	retention   string
	configPath  string
	kubeconfig  string
	metricsAddr string
	auditFile   string
	logLevel    string
	tracing     string
}

func parseFlags(args []string) (*flags, error) {
	f := &flags{env: envFlags{}}
	fs := flag.NewFlagSet("jobrunner", flag.ContinueOnError)
	fs.StringVar(&f.taskID, "task-id", "", "Unique task identifier (required)")
	fs.StringVar(&f.template, "template", "", "Path to the Job manifest template (required)")
	fs.Var(f.env, "env", "Environment variable NAME=VALUE for the task (repeatable)")
	fs.StringVar(&f.envFile, "env-file", "", "YAML file with a NAME: VALUE mapping of task environment")
	fs.StringVar(&f.namespace, "namespace", "", "Namespace for the Job, overriding the template's")
	fs.DurationVar(&f.timeout, "timeout", 0, "Maximum run time measured from submission (default 24h)")
	fs.StringVar(&f.retention, "retention", "",
		"Retention policy: delete-on-success, always-retain or always-delete (default delete-on-success)")
	fs.StringVar(&f.configPath, "config", "", "Path to a YAML configuration file")
	fs.StringVar(&f.kubeconfig, "kubeconfig", "", "Path to a kubeconfig (default: KUBECONFIG, in-cluster, ~/.kube/config)")
	fs.StringVar(&f.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address; empty disables")
	fs.StringVar(&f.auditFile, "audit-file", "", "Append JSON audit records to this file")
	fs.StringVar(&f.logLevel, "log-level", "", "Log level: debug, info, warn or error")
	fs.StringVar(&f.tracing, "tracing-endpoint", "", "OTLP endpoint for traces (e.g., otel-collector:4317); empty disables")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if f.taskID == "" {
		return nil, errors.New("--task-id is required")
	}
	if f.template == "" {
		return nil, errors.New("--template is required")
	}
	return f, nil
}

// loadOptions layers defaults, the config file, JOBRUNNER_* variables and
// flags, then validates the result.
func loadOptions(f *flags, lookup func(string) (string, bool)) (config.Options, error) {
	opts := config.DefaultOptions()
	if f.configPath != "" {
		if err := opts.LoadFile(f.configPath); err != nil {
			return opts, err
		}
	}
	if err := opts.ApplyEnv(lookup); err != nil {
		return opts, err
	}
	if f.timeout > 0 {
		opts.Timeout = f.timeout
	}
	if f.retention != "" {
		opts.Retention = cleanup.Policy(f.retention)
	}
	if f.logLevel != "" {
		opts.LogLevel = f.logLevel
	}
	if f.tracing != "" {
		opts.TracingEndpoint = f.tracing
	}
	return opts, opts.Validate()
}

// taskEnv merges the env file with --env flags, flags winning.
func taskEnv(f *flags) (map[string]string, error) {
	env := map[string]string{}
	if f.envFile != "" {
		data, err := os.ReadFile(f.envFile)
		if err != nil {
			return nil, fmt.Errorf("reading env file: %w", err)
		}
		if err := yaml.Unmarshal(data, &env); err != nil {
			return nil, fmt.Errorf("parsing env file %s: %w", f.envFile, err)
		}
	}
	for k, v := range f.env {
		env[k] = v
	}
	return env, nil
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	cancel()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	f, err := parseFlags(args)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitOther
	}
	opts, err := loadOptions(f, os.LookupEnv)
	if err != nil {
		fmt.Fprintf(stderr, "error: invalid configuration: %v\n", err)
		return exitOther
	}
	env, err := taskEnv(f)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitOther
	}

	log, syncLog, err := logging.NewLogger(opts.LogLevel)
	if err != nil {
		fmt.Fprintf(stderr, "error: creating logger: %v\n", err)
		return exitOther
	}
	defer syncLog()
	setupLog := log.WithName("setup")

	// Parse the template before touching the cluster.
	renderer := manifest.NewRenderer()
	tmpl, err := renderer.Load(f.template)
	if err != nil {
		setupLog.Error(err, "failed to load template")
		return exitCodeFor(nil, err)
	}

	clients, err := k8s.NewClientsForKubeconfig(f.kubeconfig)
	if err != nil {
		setupLog.Error(err, "unable to create kubernetes clients")
		return exitOther
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewExecutionMetricsWithRegistry(reg)
	if f.metricsAddr != "" {
		stop := serveMetrics(setupLog, f.metricsAddr, reg)
		defer stop()
	}

	tp, err := tracing.NewProvider(ctx, opts.TracingConfig())
	if err != nil {
		setupLog.Error(err, "unable to create tracing provider")
		return exitOther
	}
	defer func() {
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tp.Shutdown(shutCtx)
	}()

	broadcaster := record.NewBroadcaster()
	broadcaster.StartRecordingToSink(&typedcorev1.EventSinkImpl{Interface: clients.Clientset.CoreV1().Events("")})
	defer broadcaster.Shutdown()
	recorder := broadcaster.NewRecorder(k8s.Scheme(), corev1.EventSource{Component: eventComponent})

	var auditor execution.Auditor
	if f.auditFile != "" {
		af, err := os.OpenFile(f.auditFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
		if err != nil {
			setupLog.Error(err, "unable to open audit file", "path", f.auditFile)
			return exitOther
		}
		defer func() { _ = af.Close() }()
		auditor = audit.NewLogger(af, log)
	}

	ctrl := &execution.Controller{
		Renderer:  renderer,
		Submitter: submit.NewSubmitter(clients.Client, log, m),
		Watcher:   watch.NewWatcher(clients.Client, log, m, opts.WatchOptions()),
		Cleaner:   cleanup.NewManager(clients.Client, log, m),
		Logs:      logrelay.NewRelay(clients.Client, logrelay.NewClientsetSource(clients.Clientset), log, m, opts.LogRelayOptions()),
		Audit:     auditor,
		Recorder:  recorder,
		Metrics:   m,
		Tracing:   tp,
		Log:       log,
		Options:   opts.ExecutionOptions(),
	}

	res, err := ctrl.Execute(ctx, execution.Request{
		TaskID:       f.taskID,
		TemplatePath: f.template,
		Template:     tmpl,
		Env:          env,
		Namespace:    f.namespace,
	})
	if err != nil {
		setupLog.Error(err, "task could not be started", "task", f.taskID)
		return exitCodeFor(nil, err)
	}
	if err := writeResult(stdout, res); err != nil {
		setupLog.Error(err, "failed to write result")
	}
	return exitCodeFor(res, nil)
}

// serveMetrics starts the /metrics endpoint and returns its shutdown func.
func serveMetrics(log logr.Logger, addr string, reg *prometheus.Registry) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		log.Info("starting metrics server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error(err, "metrics server error")
		}
	}()
	return func() {
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
	}
}

func writeResult(w io.Writer, res *execution.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

// exitCodeFor maps an execution outcome to the process exit status.
func exitCodeFor(res *execution.Result, err error) int {
	switch {
	case apperrors.IsTemplate(err):
		return exitTemplateError
	case apperrors.IsSubmission(err):
		return exitSubmissionError
	case err != nil, res == nil:
		return exitOther
	}
	switch res.State {
	case jobs.StateSucceeded:
		return exitSucceeded
	case jobs.StateFailed:
		return exitFailed
	case jobs.StateTimedOut:
		return exitTimedOut
	case jobs.StateCancelled:
		return exitCancelled
	default:
		return exitOther
	}
}
