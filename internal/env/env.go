// Package env composes the environment handed to engine subprocesses.
// Precedence, lowest first: the dispatcher's own OS environment, global
// overrides from config, then per-invocation extras. Values may
// reference earlier keys with ${VAR}.
package env

import (
	"os"
	"sort"
	"strings"
)

type Env struct {
	overrides map[string]string
	base      map[string]string // cached OS environment
}

func New() *Env {
	return &Env{overrides: make(map[string]string)}
}

// Set records a global override applied to every child.
func (e *Env) Set(k, v string) {
	if k == "" {
		return
	}
	e.overrides[k] = v
}

// SetAll records each "K=V" entry as a global override.
func (e *Env) SetAll(kvs []string) {
	for _, kv := range kvs {
		if i := strings.IndexByte(kv, '='); i > 0 {
			e.Set(kv[:i], kv[i+1:])
		}
	}
}

// Lookup resolves a key through overrides first, then the OS.
func (e *Env) Lookup(k string) (string, bool) {
	if v, ok := e.overrides[k]; ok {
		return v, true
	}
	if e.base == nil {
		e.snapshotOS()
	}
	v, ok := e.base[k]
	return v, ok
}

// Merge returns the full child environment as "K=V" pairs, sorted for
// deterministic command construction, with extras layered on top of the
// global overrides and ${VAR} references expanded.
func (e *Env) Merge(extras []string) []string {
	if e.base == nil {
		e.snapshotOS()
	}
	m := make(map[string]string, len(e.base)+len(e.overrides)+len(extras))
	for k, v := range e.base {
		m[k] = v
	}
	for k, v := range e.overrides {
		m[k] = v
	}
	for _, kv := range extras {
		if i := strings.IndexByte(kv, '='); i > 0 {
			m[kv[:i]] = kv[i+1:]
		}
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+expand(v, m))
	}
	sort.Strings(out)
	return out
}

func (e *Env) snapshotOS() {
	e.base = make(map[string]string)
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i > 0 {
			e.base[kv[:i]] = kv[i+1:]
		}
	}
}

func expand(s string, m map[string]string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	for k, v := range m {
		s = strings.ReplaceAll(s, "${"+k+"}", v)
	}
	return s
}
