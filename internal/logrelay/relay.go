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

// Package logrelay forwards container logs of a Job's Pods to a Sink.
// Relaying is best-effort: interrupted streams are reopened from the last
// seen timestamp, and failures only mark the logs as unavailable.
package logrelay

import (
	"bufio"
	"context"
	"errors"
	"io"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/apimachinery/pkg/util/wait"
	"golang.org/x/sync/errgroup"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/altairalabs/jobrunner/internal/apperrors"
	"github.com/altairalabs/jobrunner/internal/jobs"
	"github.com/altairalabs/jobrunner/pkg/k8s"
	"github.com/altairalabs/jobrunner/pkg/logctx"
	"github.com/altairalabs/jobrunner/pkg/metrics"
)

// Defaults for Options.
const (
	DefaultReconnectInterval = 2 * time.Second
	DefaultReconnectMax      = 30 * time.Second
	DefaultDiscoveryInterval = 2 * time.Second
	DefaultTailLines         = 50
)

// maxLineBytes bounds a relayed line; longer lines are truncated.
const maxLineBytes = 1 << 20

// Options tunes the relay.
type Options struct {
	ReconnectInterval time.Duration
	ReconnectMax      time.Duration
	DiscoveryInterval time.Duration
	// TailLines is the number of lines kept for the summary. Negative keeps none.
	TailLines int
}

func (o Options) withDefaults() Options {
	if o.ReconnectInterval <= 0 {
		o.ReconnectInterval = DefaultReconnectInterval
	}
	if o.ReconnectMax < o.ReconnectInterval {
		o.ReconnectMax = max(DefaultReconnectMax, o.ReconnectInterval)
	}
	if o.DiscoveryInterval <= 0 {
		o.DiscoveryInterval = DefaultDiscoveryInterval
	}
	if o.TailLines == 0 {
		o.TailLines = DefaultTailLines
	}
	return o
}

// Summary describes a finished relay session.
type Summary struct {
	Lines int64
	Tail  []string
	// Available is false when some container's logs could not be relayed completely.
	Available bool
}

// Relay discovers a Job's Pods and relays their container logs.
type Relay struct {
	pods    client.Reader
	source  Source
	log     logr.Logger
	metrics *metrics.ExecutionMetrics
	opts    Options
}

// NewRelay creates a Relay. m may be nil.
func NewRelay(pods client.Reader, source Source, log logr.Logger, m *metrics.ExecutionMetrics, opts Options) *Relay {
	return &Relay{pods: pods, source: source, log: log.WithName("logrelay"), metrics: m, opts: opts.withDefaults()}
}

// Session is one relay run for a Job.
type Session struct {
	*Relay
	handle jobs.RunHandle
	sink   Sink
	log    logr.Logger
	tail   *Tail

	lines      atomic.Int64
	mu         sync.Mutex
	incomplete map[string]bool

	finishOnce sync.Once
	finishing  chan struct{}
	done       chan struct{}
}

// Start relays the logs of h to sink until ctx is done, or until Finish was
// called and every stream has ended.
func (r *Relay) Start(ctx context.Context, h jobs.RunHandle, sink Sink) *Session {
	if logctx.Job(ctx) == "" {
		ctx = logctx.WithNamespace(logctx.WithJob(ctx, h.Name), h.Namespace)
	}
	s := &Session{
		Relay:      r,
		handle:     h,
		sink:       sink,
		log:        logctx.LoggerWithContext(r.log, ctx),
		tail:       NewTail(r.opts.TailLines),
		incomplete: map[string]bool{},
		finishing:  make(chan struct{}),
		done:       make(chan struct{}),
	}
	go s.run(ctx)
	return s
}

// Run relays until ctx is done and returns the summary.
func (r *Relay) Run(ctx context.Context, h jobs.RunHandle, sink Sink) Summary {
	return r.Start(ctx, h, sink).Wait()
}

// Stream relays the logs of h on a channel, which is closed when the
// session ends.
func (r *Relay) Stream(ctx context.Context, h jobs.RunHandle) (<-chan jobs.LogLine, *Session) {
	out := make(chan jobs.LogLine, 64)
	s := r.Start(ctx, h, SinkFunc(func(line jobs.LogLine) {
		select {
		case out <- line:
		case <-ctx.Done():
		}
	}))
	go func() {
		<-s.done
		close(out)
	}()
	return out, s
}

// Finish tells the session the Job is terminal: Pods are discovered one last
// time and streams end once they reach EOF instead of reconnecting.
func (s *Session) Finish() {
	s.finishOnce.Do(func() { close(s.finishing) })
}

// Done is closed when the session has ended.
func (s *Session) Done() <-chan struct{} { return s.done }

// Wait blocks until the session ends and returns its summary.
func (s *Session) Wait() Summary {
	<-s.done
	return s.Summary()
}

// Summary returns the current state of the session.
func (s *Session) Summary() Summary {
	s.mu.Lock()
	available := len(s.incomplete) == 0
	s.mu.Unlock()
	return Summary{Lines: s.lines.Load(), Tail: s.tail.Lines(), Available: available}
}

func (s *Session) isFinishing() bool {
	select {
	case <-s.finishing:
		return true
	default:
		return false
	}
}

func (s *Session) run(ctx context.Context) {
	defer close(s.done)
	g, gctx := errgroup.WithContext(ctx)
	started := map[string]bool{}

	ticker := time.NewTicker(s.opts.DiscoveryInterval)
	defer ticker.Stop()
	for {
		final := s.isFinishing()
		s.discover(gctx, g, started)
		if final {
			break
		}
		select {
		case <-ctx.Done():
		case <-s.finishing:
			continue
		case <-ticker.C:
			continue
		}
		break
	}
	_ = g.Wait()
	s.log.V(1).Info("log relay ended", "lines", s.lines.Load(), "available", s.Summary().Available)
}

// discover starts a stream for every container that has started and is not
// yet followed.
func (s *Session) discover(ctx context.Context, g *errgroup.Group, started map[string]bool) {
	if ctx.Err() != nil {
		return
	}
	pods, err := k8s.ListPods(ctx, s.pods, s.handle.Namespace, jobs.PodLabels(s.handle.Name))
	if err != nil {
		s.markIncomplete("discovery", true)
		s.log.Error(apperrors.LogRelay("logrelay.discover", err), "failed to list pods")
		return
	}
	s.markIncomplete("discovery", false)
	for i := range pods {
		pod := &pods[i]
		for _, c := range pod.Spec.Containers {
			key := pod.Name + "/" + c.Name
			if started[key] || !k8s.ContainerStarted(pod, c.Name) {
				continue
			}
			started[key] = true
			name, container := types.NamespacedName{Namespace: pod.Namespace, Name: pod.Name}, c.Name
			g.Go(func() error {
				s.follow(ctx, name, container)
				return nil
			})
		}
	}
}

func (s *Session) markIncomplete(key string, incomplete bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if incomplete {
		s.incomplete[key] = true
	} else {
		delete(s.incomplete, key)
	}
}

// follow relays one container until its stream ends with the container
// terminated, the Pod disappears, or ctx is done.
func (s *Session) follow(ctx context.Context, pod types.NamespacedName, container string) {
	key := pod.Name + "/" + container
	ctx = logctx.WithContainer(logctx.WithPod(ctx, pod.Name), container)
	log := logctx.LoggerWithContext(s.Relay.log, ctx)
	bo := wait.Backoff{
		Duration: s.opts.ReconnectInterval,
		Factor:   2,
		Jitter:   0.1,
		Steps:    math.MaxInt32,
		Cap:      s.opts.ReconnectMax,
	}
	var cur cursor
	for {
		var since *metav1.Time
		if !cur.at.IsZero() {
			since = &metav1.Time{Time: cur.at}
		}
		n := 0
		rc, err := s.source.Open(ctx, pod, container, since)
		if err == nil {
			n, err = s.copy(log, rc, pod.Name, container, &cur)
			_ = rc.Close()
			if n > 0 {
				bo.Duration = s.opts.ReconnectInterval
			}
		}
		if ctx.Err() != nil {
			// Stopped before the container was seen to end.
			s.markIncomplete(key, true)
			return
		}
		if err == nil {
			if ended, gone := s.containerEnded(ctx, pod, container); ended || gone {
				s.markIncomplete(key, false)
				return
			}
		} else {
			s.markIncomplete(key, true)
			if apierrors.IsNotFound(err) {
				log.V(1).Info("pod gone, stopping log stream")
				return
			}
			log.Info("log stream interrupted", "error", apperrors.LogRelay("logrelay.follow", err).Error())
			// Once the Job is terminal, keep reconnecting only while streams make progress.
			if s.isFinishing() && n == 0 {
				return
			}
		}

		s.metrics.RecordLogReconnect()
		timer := time.NewTimer(bo.Step())
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// cursor is the resume position of a container stream: the newest relayed
// timestamp and how many lines carrying exactly that timestamp were relayed.
type cursor struct {
	at   time.Time
	seen int
}

// copy relays lines from r that cur has not seen yet and advances it. A
// reopened stream starts at cur.at, so lines before it are skipped and the
// first cur.seen lines at it are the ones already relayed.
func (s *Session) copy(log logr.Logger, r io.Reader, pod, container string, cur *cursor) (int, error) {
	br := bufio.NewReaderSize(r, 64*1024)
	n, skip := 0, cur.seen
	for {
		raw, truncated, err := readLine(br)
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = nil
			}
			return n, err
		}
		ts, text := parseTimestampPrefix(string(raw))
		switch {
		case ts.IsZero():
		case ts.Before(cur.at):
			continue
		case ts.Equal(cur.at):
			if skip > 0 {
				skip--
				continue
			}
			cur.seen++
		default:
			cur.at, cur.seen, skip = ts, 1, 0
		}
		if truncated {
			log.Info("log line truncated", "limit", maxLineBytes)
		}
		s.sink.Write(jobs.LogLine{Pod: pod, Container: container, Timestamp: ts, Text: text, Truncated: truncated})
		s.tail.Add(text)
		s.lines.Add(1)
		s.metrics.RecordLogLine()
		n++
	}
}

// readLine returns the next line without its line ending. Bytes beyond
// maxLineBytes are discarded and reported as truncated.
func readLine(br *bufio.Reader) ([]byte, bool, error) {
	var line []byte
	truncated := false
	for {
		chunk, isPrefix, err := br.ReadLine()
		if err != nil {
			return nil, false, err
		}
		room := maxLineBytes - len(line)
		if len(chunk) > room {
			chunk, truncated = chunk[:room], true
		}
		line = append(line, chunk...)
		if !isPrefix {
			return line, truncated, nil
		}
	}
}

// containerEnded reports whether the container terminated for good, or
// whether its Pod no longer exists.
func (s *Session) containerEnded(ctx context.Context, name types.NamespacedName, container string) (ended, gone bool) {
	pod := &corev1.Pod{}
	if err := s.pods.Get(ctx, name, pod); err != nil {
		return false, apierrors.IsNotFound(err)
	}
	return k8s.ContainerTerminated(pod, container), false
}
