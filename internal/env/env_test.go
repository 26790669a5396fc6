package env

import (
	"strings"
	"testing"
)

func find(t *testing.T, kvs []string, key string) (string, bool) {
	t.Helper()
	for _, kv := range kvs {
		if strings.HasPrefix(kv, key+"=") {
			return strings.TrimPrefix(kv, key+"="), true
		}
	}
	return "", false
}

func TestMergePrecedence(t *testing.T) {
	t.Setenv("P2H_TEST_BASE", "from-os")
	e := New()
	e.Set("P2H_TEST_BASE", "from-config")
	e.Set("P2H_TEST_GLOBAL", "g")

	merged := e.Merge([]string{"P2H_TEST_BASE=from-job", "P2H_TEST_EXTRA=x"})

	if v, _ := find(t, merged, "P2H_TEST_BASE"); v != "from-job" {
		t.Fatalf("per-job extra should win, got %q", v)
	}
	if v, _ := find(t, merged, "P2H_TEST_GLOBAL"); v != "g" {
		t.Fatalf("global override missing, got %q", v)
	}
	if _, ok := find(t, merged, "P2H_TEST_EXTRA"); !ok {
		t.Fatalf("extra missing")
	}
}

func TestMergeExpandsReferences(t *testing.T) {
	t.Setenv("P2H_TEST_ROOT", "/opt/houdini")
	e := New()
	merged := e.Merge([]string{"HB=${P2H_TEST_ROOT}/bin"})
	if v, _ := find(t, merged, "HB"); v != "/opt/houdini/bin" {
		t.Fatalf("expansion failed: %q", v)
	}
}

func TestMergeSkipsMalformedEntries(t *testing.T) {
	e := New()
	merged := e.Merge([]string{"=nokey", "novalue"})
	for _, kv := range merged {
		if kv == "=nokey" || kv == "novalue" {
			t.Fatalf("malformed entry leaked: %q", kv)
		}
	}
}

func TestLookup(t *testing.T) {
	t.Setenv("P2H_TEST_LOOKUP", "os")
	e := New()
	if v, ok := e.Lookup("P2H_TEST_LOOKUP"); !ok || v != "os" {
		t.Fatalf("lookup from OS: %q %v", v, ok)
	}
	e.Set("P2H_TEST_LOOKUP", "override")
	if v, _ := e.Lookup("P2H_TEST_LOOKUP"); v != "override" {
		t.Fatalf("override should win: %q", v)
	}
}
