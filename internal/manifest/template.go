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

// Package manifest renders Job manifest templates. A template is a YAML (or
// JSON) batch/v1 Job document with Go template placeholders such as
// {{ .TIC_COUNT }}; every placeholder must be resolved by the caller.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"text/template"
	"text/template/parse"

	"github.com/altairalabs/jobrunner/internal/apperrors"
)

// Template is a parsed manifest template. It is immutable once loaded.
type Template struct {
	// Path is the file the template was loaded from, empty for inline templates.
	Path string
	// Source is the raw template text.
	Source string
	// Params are the placeholder names the template references, sorted.
	Params []string

	tmpl *template.Template
}

// Renderer loads and renders manifest templates.
type Renderer struct {
	// FuncMap contains the functions available to templates.
	FuncMap template.FuncMap
}

// NewRenderer creates a renderer with the default function set.
func NewRenderer() *Renderer {
	return &Renderer{FuncMap: defaultFuncMap()}
}

func defaultFuncMap() template.FuncMap {
	return template.FuncMap{
		"lower":     strings.ToLower,
		"upper":     strings.ToUpper,
		"trimSpace": strings.TrimSpace,
		"quote": func(s string) string {
			return fmt.Sprintf("%q", s)
		},
		"default": func(defaultVal, val string) string {
			if val == "" {
				return defaultVal
			}
			return val
		},
		"indent": func(spaces int, s string) string {
			pad := strings.Repeat(" ", spaces)
			return pad + strings.ReplaceAll(s, "\n", "\n"+pad)
		},
	}
}

// Load reads and parses the template at path.
func (r *Renderer) Load(path string) (*Template, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.Template("manifest.load", "failed to read template "+path, err)
	}
	tmpl, err := r.Parse(filepath.Base(path), string(content))
	if err != nil {
		return nil, err
	}
	tmpl.Path = path
	return tmpl, nil
}

// Parse parses template source held in memory.
func (r *Renderer) Parse(name, source string) (*Template, error) {
	t, err := template.New(name).Funcs(r.FuncMap).Option("missingkey=error").Parse(source)
	if err != nil {
		return nil, apperrors.Template("manifest.parse", "failed to parse template", err)
	}
	return &Template{
		Source: source,
		Params: collectParams(t),
		tmpl:   t,
	}, nil
}

// collectParams returns the top-level field names referenced anywhere in
// the template and its associated (defined) templates.
func collectParams(t *template.Template) []string {
	seen := map[string]struct{}{}
	for _, tt := range t.Templates() {
		if tt.Tree == nil || tt.Tree.Root == nil {
			continue
		}
		walk(tt.Tree.Root, seen, true)
	}
	params := make([]string, 0, len(seen))
	for name := range seen {
		params = append(params, name)
	}
	slices.Sort(params)
	return params
}

// walk records referenced parameter names. rooted is false inside range and
// with bodies, where dot no longer refers to the template data.
func walk(node parse.Node, seen map[string]struct{}, rooted bool) {
	switch n := node.(type) {
	case *parse.ListNode:
		if n == nil {
			return
		}
		for _, child := range n.Nodes {
			walk(child, seen, rooted)
		}
	case *parse.ActionNode:
		walk(n.Pipe, seen, rooted)
	case *parse.PipeNode:
		if n == nil {
			return
		}
		for _, cmd := range n.Cmds {
			walk(cmd, seen, rooted)
		}
	case *parse.CommandNode:
		for _, arg := range n.Args {
			walk(arg, seen, rooted)
		}
	case *parse.FieldNode:
		if rooted && len(n.Ident) > 0 {
			seen[n.Ident[0]] = struct{}{}
		}
	case *parse.VariableNode:
		// $.NAME refers to the root data just like .NAME.
		if len(n.Ident) > 1 && n.Ident[0] == "$" {
			seen[n.Ident[1]] = struct{}{}
		}
	case *parse.ChainNode:
		walk(n.Node, seen, rooted)
	case *parse.IfNode:
		walk(n.Pipe, seen, rooted)
		walk(n.List, seen, rooted)
		walk(n.ElseList, seen, rooted)
	case *parse.RangeNode:
		walk(n.Pipe, seen, rooted)
		walk(n.List, seen, false)
		walk(n.ElseList, seen, rooted)
	case *parse.WithNode:
		walk(n.Pipe, seen, rooted)
		walk(n.List, seen, false)
		walk(n.ElseList, seen, rooted)
	case *parse.TemplateNode:
		walk(n.Pipe, seen, rooted)
	}
}
