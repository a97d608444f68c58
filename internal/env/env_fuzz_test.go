package env

import (
	"strings"
	"testing"
)

func FuzzMergeNewExpansion(f *testing.F) {
	f.Add("A=1\nB=${A}-x", "C=${B}-y")
	f.Add("FOO=bar", "FOO=${FOO}")
	f.Add("X=${Y}", "Y=${X}")
	f.Add("U=${", "V=${}")

	f.Fuzz(func(t *testing.T, global, perRun string) {
		e := New().WithList(strings.Split(global, "\n"))
		per := strings.Split(perRun, "\n")

		first := e.MergeNew(per)
		for _, kv := range first {
			k, _, ok := strings.Cut(kv, "=")
			if !ok || k == "" {
				t.Fatalf("malformed entry %q", kv)
			}
		}
		// expansion is a single pass, so repeated merges agree
		again := e.MergeNew(per)
		if strings.Join(first, "\x00") != strings.Join(again, "\x00") {
			t.Fatalf("merge not deterministic:\n%q\n%q", first, again)
		}
		if !strings.Contains(global+perRun, "$") {
			for _, kv := range first {
				if strings.Contains(kv, "${") {
					t.Fatalf("placeholder appeared from nowhere: %q", kv)
				}
			}
		}
	})
}
