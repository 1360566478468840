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
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/rest"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"
)

func TestScheme_RegistersJobTypes(t *testing.T) {
	s := Scheme()

	gvks, _, err := s.ObjectKinds(&batchv1.Job{})
	require.NoError(t, err)
	assert.NotEmpty(t, gvks)

	gvks, _, err = s.ObjectKinds(&corev1.Pod{})
	require.NoError(t, err)
	assert.NotEmpty(t, gvks)
}

func TestNewClients_NoClusterConfig(t *testing.T) {
	t.Setenv("KUBECONFIG", "/nonexistent/path")
	t.Setenv("HOME", "/nonexistent")
	t.Setenv("KUBERNETES_SERVICE_HOST", "")

	_, err := NewClients()
	require.Error(t, err)
}

func TestNewClientsWithConfig_Success(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"kind":"APIVersions","versions":["v1"]}`))
	}))
	defer srv.Close()

	cfg := &rest.Config{
		Host:            srv.URL,
		TLSClientConfig: rest.TLSClientConfig{Insecure: true},
	}

	clients, err := NewClientsWithConfig(cfg)
	require.NoError(t, err)
	assert.NotNil(t, clients.Client)
	assert.NotNil(t, clients.Clientset)
	assert.Same(t, cfg, clients.Config)
}

func TestNewClientsForKubeconfig(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"kind":"APIVersions","versions":["v1"]}`))
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "kubeconfig")
	kubeconfig := `apiVersion: v1
kind: Config
clusters:
- name: test
  cluster:
    server: ` + srv.URL + `
    insecure-skip-tls-verify: true
contexts:
- name: test
  context:
    cluster: test
    user: test
current-context: test
users:
- name: test
  user:
    token: abc
`
	require.NoError(t, os.WriteFile(path, []byte(kubeconfig), 0o600))

	clients, err := NewClientsForKubeconfig(path)
	require.NoError(t, err)
	assert.Equal(t, srv.URL, clients.Config.Host)
	assert.Equal(t, "abc", clients.Config.BearerToken)
}

func TestNewClientsForKubeconfig_MissingFile(t *testing.T) {
	_, err := NewClientsForKubeconfig(filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load kubeconfig")
}

func TestNewClientsWithConfig_InvalidConfig(t *testing.T) {
	_, err := NewClientsWithConfig(&rest.Config{Host: "://invalid"})
	require.Error(t, err)
}

func TestGetJob(t *testing.T) {
	job := &batchv1.Job{ObjectMeta: metav1.ObjectMeta{Name: "j", Namespace: "ns"}}
	c := fake.NewClientBuilder().WithScheme(Scheme()).WithObjects(job).Build()

	got, err := GetJob(context.Background(), c, "j", "ns")
	require.NoError(t, err)
	assert.Equal(t, "j", got.Name)

	_, err = GetJob(context.Background(), c, "missing", "ns")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ns/missing")
}

func TestListPods(t *testing.T) {
	mine := &corev1.Pod{ObjectMeta: metav1.ObjectMeta{Name: "a", Namespace: "ns", Labels: map[string]string{"k": "v"}}}
	other := &corev1.Pod{ObjectMeta: metav1.ObjectMeta{Name: "b", Namespace: "ns", Labels: map[string]string{"k": "x"}}}
	elsewhere := &corev1.Pod{ObjectMeta: metav1.ObjectMeta{Name: "c", Namespace: "other", Labels: map[string]string{"k": "v"}}}
	c := fake.NewClientBuilder().WithScheme(Scheme()).WithObjects(mine, other, elsewhere).Build()

	pods, err := ListPods(context.Background(), c, "ns", map[string]string{"k": "v"})
	require.NoError(t, err)
	require.Len(t, pods, 1)
	assert.Equal(t, "a", pods[0].Name)
}

func TestJobCondition(t *testing.T) {
	job := &batchv1.Job{Status: batchv1.JobStatus{Conditions: []batchv1.JobCondition{
		{Type: batchv1.JobFailed, Status: corev1.ConditionFalse},
		{Type: batchv1.JobComplete, Status: corev1.ConditionTrue, Reason: "Done"},
	}}}

	assert.Nil(t, JobCondition(job, batchv1.JobFailed))
	c := JobCondition(job, batchv1.JobComplete)
	require.NotNil(t, c)
	assert.Equal(t, "Done", c.Reason)
}

func terminatedPod(name string, created time.Time, codes ...int32) corev1.Pod {
	pod := corev1.Pod{ObjectMeta: metav1.ObjectMeta{Name: name, CreationTimestamp: metav1.NewTime(created)}}
	for i, code := range codes {
		pod.Status.ContainerStatuses = append(pod.Status.ContainerStatuses, corev1.ContainerStatus{
			Name:  string(rune('a' + i)),
			State: corev1.ContainerState{Terminated: &corev1.ContainerStateTerminated{ExitCode: code, Reason: "Exited"}},
		})
	}
	return pod
}

func TestTerminatedExitCode(t *testing.T) {
	now := time.Now()

	t.Run("no terminated containers", func(t *testing.T) {
		code, _ := TerminatedExitCode([]corev1.Pod{{}}, false)
		assert.Nil(t, code)
	})

	t.Run("newest pod first", func(t *testing.T) {
		pods := []corev1.Pod{terminatedPod("old", now.Add(-time.Minute), 1), terminatedPod("new", now, 0)}
		code, _ := TerminatedExitCode(pods, false)
		require.NotNil(t, code)
		assert.Equal(t, int32(0), *code)
	})

	t.Run("prefer failure", func(t *testing.T) {
		pods := []corev1.Pod{terminatedPod("p", now, 0, 137)}
		code, reason := TerminatedExitCode(pods, true)
		require.NotNil(t, code)
		assert.Equal(t, int32(137), *code)
		assert.Equal(t, "Exited", reason)
	})

	t.Run("prefer failure falls back to zero", func(t *testing.T) {
		code, _ := TerminatedExitCode([]corev1.Pod{terminatedPod("p", now, 0)}, true)
		require.NotNil(t, code)
		assert.Equal(t, int32(0), *code)
	})
}

func TestContainerState(t *testing.T) {
	pod := &corev1.Pod{
		Spec: corev1.PodSpec{RestartPolicy: corev1.RestartPolicyNever},
		Status: corev1.PodStatus{
			Phase: corev1.PodRunning,
			ContainerStatuses: []corev1.ContainerStatus{
				{Name: "run", State: corev1.ContainerState{Running: &corev1.ContainerStateRunning{}}},
				{Name: "done", State: corev1.ContainerState{Terminated: &corev1.ContainerStateTerminated{}}},
				{Name: "wait", State: corev1.ContainerState{Waiting: &corev1.ContainerStateWaiting{}}},
			},
		},
	}

	assert.True(t, ContainerStarted(pod, "run"))
	assert.True(t, ContainerStarted(pod, "done"))
	assert.False(t, ContainerStarted(pod, "wait"))
	assert.False(t, ContainerStarted(pod, "unknown"))

	assert.False(t, ContainerTerminated(pod, "run"))
	assert.True(t, ContainerTerminated(pod, "done"))

	pod.Spec.RestartPolicy = corev1.RestartPolicyOnFailure
	assert.False(t, ContainerTerminated(pod, "done"))

	pod.Status.Phase = corev1.PodSucceeded
	assert.True(t, ContainerTerminated(pod, "run"))
}
