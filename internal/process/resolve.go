package process

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/loykin/taskexec/internal/env"
)

// ResolveExecutable locates exe for launching. A name that exists relative
// to dir wins; with searchPath the PATH found in environ (or the host PATH)
// is searched next. Unresolved names are returned unchanged.
func ResolveExecutable(exe, dir string, searchPath bool, environ []string) string {
	if exe == "" || filepath.IsAbs(exe) {
		return exe
	}
	if dir != "" {
		if p := filepath.Join(dir, exe); isExecutableFile(p) {
			return p
		}
	}
	if !searchPath || strings.ContainsRune(exe, os.PathSeparator) || strings.ContainsRune(exe, '/') {
		return exe
	}
	path, ok := env.Lookup(environ, "PATH")
	if !ok {
		path = os.Getenv("PATH")
	}
	for _, d := range filepath.SplitList(path) {
		if d == "" {
			continue
		}
		for _, cand := range candidates(filepath.Join(d, exe)) {
			if isExecutableFile(cand) {
				return cand
			}
		}
	}
	return exe
}

func candidates(p string) []string {
	if runtime.GOOS != "windows" || filepath.Ext(p) != "" {
		return []string{p}
	}
	exts := strings.Split(os.Getenv("PATHEXT"), string(os.PathListSeparator))
	if len(exts) == 0 || exts[0] == "" {
		exts = []string{".com", ".exe", ".bat", ".cmd"}
	}
	out := []string{p}
	for _, e := range exts {
		out = append(out, p+strings.ToLower(e))
	}
	return out
}

func isExecutableFile(p string) bool {
	fi, err := os.Stat(p)
	if err != nil || fi.IsDir() {
		return false
	}
	if runtime.GOOS == "windows" {
		return true
	}
	return fi.Mode()&0o111 != 0
}

// checkWorkDir reports a missing or non-directory working directory.
func checkWorkDir(dir string) error {
	if dir == "" {
		return nil
	}
	fi, err := os.Stat(dir)
	if err != nil {
		return err
	}
	if !fi.IsDir() {
		return &os.PathError{Op: "chdir", Path: dir, Err: errNotDir}
	}
	return nil
}
