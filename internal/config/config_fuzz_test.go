package config

import (
	"os"
	"strings"
	"testing"
)

// FuzzCommandConfigTOML feeds random-ish fields into a tiny TOML and ensures
// the loader does not panic and every returned spec validates.
func FuzzCommandConfigTOML(f *testing.F) {
	f.Add("demo", "sleep 0.01", "1s", false) // name, cmd, timeout, new_environment
	f.Add("", "true", "", true)
	f.Add("x", "", "-5s", false)

	f.Fuzz(func(t *testing.T, name, cmd, timeout string, newEnv bool) {
		clean := func(s string) string {
			return strings.NewReplacer("\"", "", "\\", "", "\n", "", "\r", "").Replace(strings.TrimSpace(s))
		}
		b := strings.Builder{}
		b.WriteString("[[commands]]\n")
		b.WriteString("name = \"" + clean(name) + "\"\n")
		b.WriteString("command = \"" + clean(cmd) + "\"\n")
		if timeout != "" {
			b.WriteString("timeout = \"" + clean(timeout) + "\"\n")
		}
		if newEnv {
			b.WriteString("new_environment = true\n")
		}
		tmp := t.TempDir() + "/fuzz.toml"
		if err := os.WriteFile(tmp, []byte(b.String()), 0o644); err != nil {
			t.Skip()
		}
		cfg, err := Load(tmp) // must not panic
		if err != nil {
			return
		}
		for _, s := range cfg.Specs {
			if verr := s.Validate(); verr != nil {
				t.Fatalf("loaded spec does not validate: %v", verr)
			}
		}
	})
}
