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

package manifest

import (
	"bytes"
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strings"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/util/validation"
	"sigs.k8s.io/yaml"

	"github.com/altairalabs/jobrunner/internal/apperrors"
	"github.com/altairalabs/jobrunner/internal/jobs"
)

// Identifier names made available to every template in addition to the
// caller's environment mapping. They take precedence over env entries with
// the same name.
const (
	VarTaskID    = "TASK_ID"
	VarJobName   = "JOB_NAME"
	VarNamespace = "NAMESPACE"
)

const defaultNamespace = "default"

var documentSeparator = regexp.MustCompile(`(?m)^---[ \t]*$`)

// Variables are the values substituted into a template.
type Variables struct {
	// Env is injected into every container and is also available to the
	// template as {{ .NAME }}.
	Env    map[string]string
	TaskID string
	// Namespace, when set, replaces the namespace the template declares.
	Namespace string
	// DefaultNamespace is used when neither Namespace nor the template names
	// one. It falls back to "default".
	DefaultNamespace string
}

// namespace is the value of the NAMESPACE identifier.
func (v Variables) namespace() string {
	switch {
	case v.Namespace != "":
		return v.Namespace
	case v.DefaultNamespace != "":
		return v.DefaultNamespace
	}
	return defaultNamespace
}

// Rendered is a concrete Job produced from a template.
type Rendered struct {
	Job *batchv1.Job
	// Document is the rendered text the Job was decoded from.
	Document []byte
}

// Render substitutes vars into tmpl and decodes the result into a Job.
// Any missing placeholder, undecodable document or non-Job resource yields
// a template error before anything is sent to the cluster.
func (r *Renderer) Render(tmpl *Template, vars Variables) (*Rendered, error) {
	if tmpl == nil || tmpl.tmpl == nil {
		return nil, apperrors.Template("manifest.render", "template is required", nil)
	}
	if err := validateEnv(vars.Env); err != nil {
		return nil, err
	}

	jobName := jobs.JobName(vars.TaskID)
	data := make(map[string]any, len(vars.Env)+3)
	for k, v := range vars.Env {
		data[k] = v
	}
	// Identifiers win over env entries of the same name in the template
	// data; containers still receive the env value.
	data[VarTaskID] = vars.TaskID
	data[VarJobName] = jobName
	data[VarNamespace] = vars.namespace()

	if missing := missingParams(tmpl.Params, data); len(missing) > 0 {
		return nil, apperrors.Template("manifest.render",
			"missing variables: "+strings.Join(missing, ", "), nil)
	}

	var buf bytes.Buffer
	if err := tmpl.tmpl.Execute(&buf, data); err != nil {
		return nil, apperrors.Template("manifest.render", "failed to execute template", err)
	}

	job, err := decodeJob(buf.Bytes())
	if err != nil {
		return nil, err
	}
	if err := validateJob(job); err != nil {
		return nil, err
	}

	finalize(job, jobName, vars)
	return &Rendered{Job: job, Document: buf.Bytes()}, nil
}

func missingParams(params []string, data map[string]any) []string {
	var missing []string
	for _, p := range params {
		if _, ok := data[p]; !ok {
			missing = append(missing, p)
		}
	}
	return missing
}

func validateEnv(env map[string]string) error {
	for _, name := range slices.Sorted(maps.Keys(env)) {
		if errs := validation.IsEnvVarName(name); len(errs) > 0 {
			return apperrors.Template("manifest.render",
				fmt.Sprintf("invalid environment variable name %q: %s", name, strings.Join(errs, "; ")), nil)
		}
	}
	return nil
}

func decodeJob(doc []byte) (*batchv1.Job, error) {
	if countDocuments(doc) != 1 {
		return nil, apperrors.Template("manifest.decode", "template must render exactly one resource document", nil)
	}
	job := &batchv1.Job{}
	if err := yaml.UnmarshalStrict(doc, job); err != nil {
		return nil, apperrors.Template("manifest.decode", "rendered manifest is not a valid Job document", err)
	}
	return job, nil
}

func countDocuments(doc []byte) int {
	n := 0
	for _, part := range documentSeparator.Split(string(doc), -1) {
		if strings.TrimSpace(stripComments(part)) != "" {
			n++
		}
	}
	return n
}

func stripComments(s string) string {
	var b strings.Builder
	for _, line := range strings.Split(s, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "#") {
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}

// validateJob rejects documents that are not Job-shaped.
func validateJob(job *batchv1.Job) error {
	var problems []string
	if job.APIVersion != batchv1.SchemeGroupVersion.String() {
		problems = append(problems, fmt.Sprintf("apiVersion must be %s, got %q", batchv1.SchemeGroupVersion, job.APIVersion))
	}
	if job.Kind != "Job" {
		problems = append(problems, fmt.Sprintf("kind must be Job, got %q", job.Kind))
	}
	spec := job.Spec.Template.Spec
	if len(spec.Containers) == 0 {
		problems = append(problems, "spec.template.spec.containers must not be empty")
	}
	for i, c := range spec.Containers {
		if c.Name == "" {
			problems = append(problems, fmt.Sprintf("spec.template.spec.containers[%d].name is required", i))
		}
		if c.Image == "" {
			problems = append(problems, fmt.Sprintf("spec.template.spec.containers[%d].image is required", i))
		}
	}
	switch spec.RestartPolicy {
	case "", corev1.RestartPolicyNever, corev1.RestartPolicyOnFailure:
	default:
		problems = append(problems, fmt.Sprintf("spec.template.spec.restartPolicy must be Never or OnFailure, got %q", spec.RestartPolicy))
	}
	if len(problems) > 0 {
		return apperrors.Template("manifest.validate", strings.Join(problems, "; "), nil)
	}
	return nil
}

// finalize stamps the derived name, namespace, ownership metadata and the
// caller's environment onto the decoded Job.
func finalize(job *batchv1.Job, jobName string, vars Variables) {
	job.Name = jobName
	job.GenerateName = ""
	switch {
	case vars.Namespace != "":
		job.Namespace = vars.Namespace
	case job.Namespace != "":
	case vars.DefaultNamespace != "":
		job.Namespace = vars.DefaultNamespace
	default:
		job.Namespace = defaultNamespace
	}

	owned := jobs.OwnershipLabels(vars.TaskID)
	job.Labels = mergeStrings(job.Labels, owned)
	job.Annotations = mergeStrings(job.Annotations, map[string]string{jobs.AnnotationTaskID: vars.TaskID})
	job.Spec.Template.Labels = mergeStrings(job.Spec.Template.Labels, owned)

	if job.Spec.Template.Spec.RestartPolicy == "" {
		job.Spec.Template.Spec.RestartPolicy = corev1.RestartPolicyNever
	}

	for i := range job.Spec.Template.Spec.Containers {
		c := &job.Spec.Template.Spec.Containers[i]
		c.Env = mergeEnv(c.Env, vars.Env)
	}
}

func mergeStrings(dst, src map[string]string) map[string]string {
	if dst == nil {
		dst = make(map[string]string, len(src))
	}
	maps.Copy(dst, src)
	return dst
}

// mergeEnv overlays env onto existing, caller values winning. Entries the
// template declared keep their order; injected ones follow sorted by name.
func mergeEnv(existing []corev1.EnvVar, env map[string]string) []corev1.EnvVar {
	if len(env) == 0 {
		return existing
	}
	out := make([]corev1.EnvVar, 0, len(existing)+len(env))
	applied := make(map[string]bool, len(env))
	for _, e := range existing {
		if v, ok := env[e.Name]; ok {
			out = append(out, corev1.EnvVar{Name: e.Name, Value: v})
			applied[e.Name] = true
			continue
		}
		out = append(out, e)
	}
	for _, name := range slices.Sorted(maps.Keys(env)) {
		if applied[name] {
			continue
		}
		out = append(out, corev1.EnvVar{Name: name, Value: env[name]})
	}
	return out
}
