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

package logrelay

import (
	"context"
	"io"
	"strings"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/kubernetes"
)

// Source opens a follow stream of one container's logs. Lines are expected
// to carry an RFC 3339 timestamp prefix.
type Source interface {
	Open(ctx context.Context, pod types.NamespacedName, container string, since *metav1.Time) (io.ReadCloser, error)
}

// ClientsetSource reads logs through the Pod log subresource.
type ClientsetSource struct {
	clientset kubernetes.Interface
}

// NewClientsetSource creates a Source backed by clientset.
func NewClientsetSource(clientset kubernetes.Interface) *ClientsetSource {
	return &ClientsetSource{clientset: clientset}
}

// Open implements Source.
func (s *ClientsetSource) Open(ctx context.Context, pod types.NamespacedName, container string, since *metav1.Time) (io.ReadCloser, error) {
	opts := &corev1.PodLogOptions{
		Container:  container,
		Follow:     true,
		Timestamps: true,
		SinceTime:  since,
	}
	return s.clientset.CoreV1().Pods(pod.Namespace).GetLogs(pod.Name, opts).Stream(ctx)
}

// parseTimestampPrefix splits a "2006-01-02T15:04:05.999999999Z message"
// line. Lines without a timestamp are returned unchanged with a zero time.
func parseTimestampPrefix(line string) (time.Time, string) {
	if len(line) > 20 && line[4] == '-' && line[7] == '-' && line[10] == 'T' {
		prefix, rest, _ := strings.Cut(line, " ")
		if ts, err := time.Parse(time.RFC3339Nano, prefix); err == nil {
			return ts, rest
		}
	}
	return time.Time{}, line
}
