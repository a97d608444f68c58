package server

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/loykin/taskexec/internal/process"
)

func sanitizeBase(bp string) string {
	bp = strings.TrimSpace(bp)
	if bp == "" || bp == "/" {
		return ""
	}
	if !strings.HasPrefix(bp, "/") {
		bp = "/" + bp
	}
	return strings.TrimRight(bp, "/")
}

// isSafeName reports whether s is usable as a run name in log fields and
// URL paths: [A-Za-z0-9._-] only, and never "..".
func isSafeName(s string) bool {
	if s == "" || strings.Contains(s, "..") {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '.' || r == '_' || r == '-':
		default:
			return false
		}
	}
	return true
}

// isSafeAbsPath accepts empty (inherit the server's directory) or an
// absolute path that filepath.Clean leaves alone apart from trailing separators.
func isSafeAbsPath(p string) bool {
	if p == "" {
		return true
	}
	if !filepath.IsAbs(p) {
		return false
	}
	clean := filepath.Clean(p)
	trimmed := strings.TrimRight(p, string(filepath.Separator))
	if trimmed == "" {
		trimmed = p
	}
	return clean == p || clean == trimmed
}

// isValidEnvEntry requires KEY=VALUE with a non-empty key and no NUL bytes.
func isValidEnvEntry(kv string) bool {
	if strings.IndexByte(kv, 0) >= 0 {
		return false
	}
	k, _, ok := strings.Cut(kv, "=")
	return ok && strings.TrimSpace(k) != ""
}

// checkRunSpec rejects request fields that are unsafe to hand to the
// supervisor from a remote caller.
func checkRunSpec(s process.Spec) error {
	if s.Name != "" && !isSafeName(s.Name) {
		return fmt.Errorf("invalid name: allowed [A-Za-z0-9._-] and no '..'")
	}
	if !isSafeAbsPath(s.WorkDir) {
		return fmt.Errorf("invalid work_dir: must be absolute path without traversal")
	}
	for _, kv := range s.Env {
		if !isValidEnvEntry(kv) {
			return fmt.Errorf("invalid env entry %q: want KEY=VALUE", kv)
		}
	}
	if s.Timeout < 0 {
		return fmt.Errorf("invalid timeout: must not be negative")
	}
	return nil
}

func writeJSON(c *gin.Context, code int, v any) {
	c.Header("Content-Type", "application/json")
	c.Status(code)
	_ = json.NewEncoder(c.Writer).Encode(v)
}
