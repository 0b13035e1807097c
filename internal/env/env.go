// Package env composes the environment handed to joblet processes.
package env

import (
	"os"
	"sort"
	"strings"
)

type Var map[string]string

// Env layers daemon-wide variables over a base environment.
type Env struct {
	Var Var // daemon-wide variables (K->V)
	env Var // base, cached from the OS unless set explicitly
}

func New() *Env {
	return &Env{Var: make(Var)}
}

// FromOS caches the current process environment as the base.
func (e *Env) FromOS() *Env {
	e.env = Parse(os.Environ())
	return e
}

// Empty uses an empty base instead of the OS environment.
func (e *Env) Empty() *Env {
	e.env = make(Var)
	return e
}

// Set sets a variable K=V.
func (e *Env) Set(k, v string) {
	if e.Var == nil {
		e.Var = make(Var)
	}
	e.Var[k] = v
}

// WithSet returns a copy of e with K=V set.
func (e *Env) WithSet(k, v string) *Env {
	n := &Env{Var: make(Var, len(e.Var)+1), env: e.env}
	for kk, vv := range e.Var {
		n.Var[kk] = vv
	}
	n.Set(k, v)
	return n
}

// WithMap returns a copy of e with every pair of m set.
func (e *Env) WithMap(m map[string]string) *Env {
	n := &Env{Var: make(Var, len(e.Var)+len(m)), env: e.env}
	for k, v := range e.Var {
		n.Var[k] = v
	}
	for k, v := range m {
		n.Set(k, v)
	}
	return n
}

func (e *Env) Unset(k string) {
	if e.Var != nil {
		delete(e.Var, k)
	}
}

// Merge composes the final environment in "K=V" form, sorted by key.
// Order of precedence: base, then e.Var, then extra. ${VAR} references are
// expanded once against the composed map.
func (e *Env) Merge(extra []string) []string {
	if e.env == nil {
		e.FromOS()
	}
	m := make(Var, len(e.env)+len(e.Var)+len(extra))
	for k, v := range e.env {
		m[k] = v
	}
	for k, v := range e.Var {
		if k == "" {
			continue
		}
		m[k] = v
	}
	for k, v := range Parse(extra) {
		m[k] = v
	}
	expanded := make(Var, len(m))
	for k, v := range m {
		expanded[k] = expand(v, m)
	}
	return Pairs(expanded)
}

// Parse converts "K=V" pairs into a map. Entries without '=' or with an empty key are dropped.
func Parse(pairs []string) Var {
	out := make(Var, len(pairs))
	for _, kv := range pairs {
		i := strings.IndexByte(kv, '=')
		if i <= 0 {
			continue
		}
		out[kv[:i]] = kv[i+1:]
	}
	return out
}

// Pairs renders m as "K=V" strings sorted by key.
func Pairs(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		if k != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+m[k])
	}
	return out
}

func expand(s string, m Var) string {
	if !strings.Contains(s, "${") {
		return s
	}
	res := s
	for k, v := range m {
		res = strings.ReplaceAll(res, "${"+k+"}", v)
	}
	return res
}
