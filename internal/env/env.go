// Package env composes the environment handed to a child process.
package env

import (
	"os"
	"runtime"
	"sort"
	"strings"
	"sync"
)

type Var map[string]string

// Env holds global variables layered over a cached copy of the OS
// environment. Values are immutable once shared; use WithSet to derive.
// Merge and MergeNew are safe for concurrent use.
type Env struct {
	Var Var // global variables (K->V)

	// base snapshots the OS environment on first Merge; copies made by
	// WithSet share it.
	base func() Var

	caseInsensitive bool
}

func New() *Env {
	return &Env{
		Var:             make(Var),
		base:            osSnapshot(),
		caseInsensitive: runtime.GOOS == "windows",
	}
}

func osSnapshot() func() Var {
	return sync.OnceValue(func() Var { return Parse(os.Environ()) })
}

// FromOS takes a fresh snapshot of the current process environment. Call it
// before e is shared between goroutines.
func (e *Env) FromOS() {
	snap := Parse(os.Environ())
	e.base = func() Var { return snap }
}

// WithSet returns a copy of e with K=V added to the global variables.
func (e *Env) WithSet(k, v string) *Env {
	n := &Env{Var: make(Var, len(e.Var)+1), base: e.base, caseInsensitive: e.caseInsensitive}
	for kk, vv := range e.Var {
		n.Var[kk] = vv
	}
	if k != "" {
		n.Var[k] = v
	}
	return n
}

// WithList returns a copy of e with each KEY=VALUE entry added.
func (e *Env) WithList(kvs []string) *Env {
	n := e
	for _, kv := range kvs {
		if k, v, ok := strings.Cut(kv, "="); ok {
			n = n.WithSet(k, v)
		}
	}
	return n
}

// Merge composes the final environment list applying order:
// base = OS env (or cached)
// then apply global e.Var overrides
// then apply perProc (slice of "K=V") overrides
// Returns the environment slice in "K=V" form, sorted by key, with ${VAR}
// expansion performed using the composed map (simple expansion, no recursion).
func (e *Env) Merge(perProc []string) []string {
	var base Var
	if e.base != nil {
		base = e.base()
	}
	return e.compose(base, perProc)
}

// MergeNew is Merge without the OS base: only global and per-process
// variables reach the child.
func (e *Env) MergeNew(perProc []string) []string {
	return e.compose(nil, perProc)
}

func (e *Env) compose(base Var, perProc []string) []string {
	// canonical key -> original key as first seen, so Windows keeps its casing
	names := make(map[string]string)
	m := make(Var)
	put := func(k, v string) {
		if k == "" {
			return
		}
		ck := k
		if e.caseInsensitive {
			ck = strings.ToUpper(k)
		}
		if _, ok := names[ck]; !ok {
			names[ck] = k
		}
		m[ck] = v
	}
	for k, v := range base {
		put(k, v)
	}
	for k, v := range e.Var {
		put(k, v)
	}
	for _, kv := range perProc {
		if k, v, ok := strings.Cut(kv, "="); ok {
			put(k, v)
		}
	}
	out := make([]string, 0, len(m))
	for ck, v := range m {
		out = append(out, names[ck]+"="+e.expand(v, m))
	}
	sort.Strings(out)
	return out
}

// expand replaces ${NAME} references in one left-to-right pass. Substituted
// text is not scanned again and unknown names stay as written.
func (e *Env) expand(s string, m Var) string {
	if !strings.Contains(s, "${") {
		return s
	}
	var b strings.Builder
	for {
		i := strings.Index(s, "${")
		if i < 0 {
			break
		}
		j := strings.IndexByte(s[i+2:], '}')
		if j < 0 {
			break
		}
		end := i + 2 + j
		name := s[i+2 : end]
		b.WriteString(s[:i])
		if e.caseInsensitive {
			name = strings.ToUpper(name)
		}
		if v, ok := m[name]; ok && name != "" {
			b.WriteString(v)
		} else {
			b.WriteString(s[i : end+1])
		}
		s = s[end+1:]
	}
	b.WriteString(s)
	return b.String()
}

// Parse turns KEY=VALUE entries into a map, skipping malformed ones.
func Parse(kvs []string) Var {
	m := make(Var, len(kvs))
	for _, kv := range kvs {
		if k, v, ok := strings.Cut(kv, "="); ok && k != "" {
			m[k] = v
		}
	}
	return m
}

// Lookup finds key in a KEY=VALUE list. On Windows the key matches without case.
func Lookup(kvs []string, key string) (string, bool) {
	for i := len(kvs) - 1; i >= 0; i-- {
		k, v, ok := strings.Cut(kvs[i], "=")
		if !ok {
			continue
		}
		if k == key || (runtime.GOOS == "windows" && strings.EqualFold(k, key)) {
			return v, true
		}
	}
	return "", false
}
