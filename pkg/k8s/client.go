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

// Package k8s builds the Kubernetes clients used to run Jobs: a
// controller-runtime client for Jobs and Pods, and a clientset for Pod logs.
package k8s

import (
	"fmt"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

// Clients bundles the two client flavours a run needs.
type Clients struct {
	Client    client.WithWatch
	Clientset kubernetes.Interface
	Config    *rest.Config
}

// Scheme returns a runtime.Scheme with corev1 and batchv1 registered.
func Scheme() *runtime.Scheme {
	s := runtime.NewScheme()
	_ = corev1.AddToScheme(s)
	_ = batchv1.AddToScheme(s)
	return s
}

// GetConfig resolves the cluster config the way controller-runtime does:
// the --kubeconfig flag, KUBECONFIG, in-cluster service account, then
// ~/.kube/config.
func GetConfig() (*rest.Config, error) {
	cfg, err := ctrl.GetConfig()
	if err != nil {
		return nil, fmt.Errorf("get k8s config: %w", err)
	}
	return cfg, nil
}

// NewClients creates both clients from the resolved cluster config.
func NewClients() (*Clients, error) {
	cfg, err := GetConfig()
	if err != nil {
		return nil, err
	}
	return NewClientsWithConfig(cfg)
}

// NewClientsForKubeconfig creates both clients from the kubeconfig at path,
// or from the resolved config when path is empty.
func NewClientsForKubeconfig(path string) (*Clients, error) {
	if path == "" {
		return NewClients()
	}
	cfg, err := clientcmd.BuildConfigFromFlags("", path)
	if err != nil {
		return nil, fmt.Errorf("load kubeconfig %s: %w", path, err)
	}
	return NewClientsWithConfig(cfg)
}

// NewClientsWithConfig creates both clients from an explicit rest.Config.
func NewClientsWithConfig(cfg *rest.Config) (*Clients, error) {
	c, err := client.NewWithWatch(cfg, client.Options{Scheme: Scheme()})
	if err != nil {
		return nil, fmt.Errorf("create k8s client: %w", err)
	}
	cs, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("create k8s clientset: %w", err)
	}
	return &Clients{Client: c, Clientset: cs, Config: cfg}, nil
}
