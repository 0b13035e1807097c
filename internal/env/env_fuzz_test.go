package env

import (
	"sort"
	"strings"
	"testing"
)

// FuzzMerge checks that Merge never panics, only emits KEY=VALUE pairs with
// a non-empty key and returns them sorted by key.
func FuzzMerge(f *testing.F) {
	f.Add("A=1;B=${A}-x", "C=${B}-y")
	f.Add("PATH=/bin", "PATH=${PATH}:/usr/bin")
	f.Add("X=$Y", "Y=${X}")
	f.Add("", "=novalue;noeq")

	f.Fuzz(func(t *testing.T, daemon, job string) {
		base := New().Empty().WithMap(Parse(strings.Split(daemon, ";")))
		out := base.Merge(strings.Split(job, ";"))
		keys := make([]string, 0, len(out))
		for _, kv := range out {
			i := strings.IndexByte(kv, '=')
			if i <= 0 {
				t.Fatalf("bad pair %q", kv)
			}
			keys = append(keys, kv[:i])
		}
		if !sort.StringsAreSorted(keys) {
			t.Fatalf("keys not sorted: %q", keys)
		}
		if !strings.Contains(daemon+job, "$") {
			for _, kv := range out {
				if strings.Contains(kv, "${") {
					t.Fatalf("placeholder survived without any $ input: %q", kv)
				}
			}
		}
	})
}
