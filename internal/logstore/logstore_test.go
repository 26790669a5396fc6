package logstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"
)

func sourceFile(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	hip := filepath.Join(dir, "scene.hip")
	if err := os.WriteFile(hip, []byte("hip"), 0o600); err != nil {
		t.Fatalf("write hip: %v", err)
	}
	return hip
}

func TestWriteDetailCreatesParseableRecord(t *testing.T) {
	hip := sourceFile(t)
	s := New()

	rec := map[string]any{"uuid": "abc", "ok": true, "returncode": 0}
	path, err := s.WriteDetail(hip, "abc", rec)
	if err != nil {
		t.Fatalf("write detail: %v", err)
	}
	want := filepath.Join(filepath.Dir(hip), "export", "serve", "log", "detail", "abc.json")
	if path != want {
		t.Fatalf("detail path: got %s want %s", path, want)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("detail record not valid JSON: %v", err)
	}
	if got["uuid"] != "abc" || got["ok"] != true {
		t.Fatalf("unexpected record: %v", got)
	}
}

func TestWriteDetailRejectsEmptyKeys(t *testing.T) {
	s := New()
	if _, err := s.WriteDetail("", "abc", nil); err == nil {
		t.Fatalf("expected error for empty source path")
	}
	if _, err := s.WriteDetail(sourceFile(t), "", nil); err == nil {
		t.Fatalf("expected error for empty uuid")
	}
}

func TestWriteDetailConcurrentUUIDs(t *testing.T) {
	hip := sourceFile(t)
	s := New()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			uuid := fmt.Sprintf("job-%02d", i)
			if _, err := s.WriteDetail(hip, uuid, map[string]any{"uuid": uuid}); err != nil {
				t.Errorf("write %s: %v", uuid, err)
			}
		}(i)
	}
	wg.Wait()

	uuids, err := ListDetailUUIDs(hip)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(uuids) != 16 {
		t.Fatalf("expected 16 detail records, got %d", len(uuids))
	}
	for _, u := range uuids {
		p, _ := DetailPath(hip, u)
		b, err := os.ReadFile(p)
		if err != nil {
			t.Fatalf("read %s: %v", u, err)
		}
		var m map[string]any
		if err := json.Unmarshal(b, &m); err != nil {
			t.Fatalf("record %s truncated or invalid: %v", u, err)
		}
	}
}

func TestUserStackAppend(t *testing.T) {
	hip := sourceFile(t)
	s := New()

	if _, err := s.AppendOrReplaceUserStack(hip, "u1", "layout", "id-1", "2026-08-30T10:00:00Z", "completed"); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := s.AppendOrReplaceUserStack(hip, "u1", "furnish", "id-2", "2026-08-30T10:01:00Z", "completed"); err != nil {
		t.Fatalf("append: %v", err)
	}

	st, err := s.LoadUserState(hip, "u1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(st.Stack) != 2 {
		t.Fatalf("stack length: got %d want 2", len(st.Stack))
	}
	if len(st.History) != 0 {
		t.Fatalf("history should be empty on pure appends, got %d", len(st.History))
	}
	if st.Stack[0].ProcessName != "layout" || st.Stack[1].ProcessName != "furnish" {
		t.Fatalf("stack order wrong: %+v", st.Stack)
	}
	if st.UpdatedAt != "2026-08-30T10:01:00Z" {
		t.Fatalf("updated_at: %s", st.UpdatedAt)
	}
}

func TestUserStackReplaceTruncatesAndPreservesHistory(t *testing.T) {
	hip := sourceFile(t)
	s := New()

	names := []string{"layout", "furnish", "light", "render"}
	for i, n := range names {
		ts := fmt.Sprintf("2026-08-30T10:0%d:00Z", i)
		if _, err := s.AppendOrReplaceUserStack(hip, "u1", n, "id-"+n, ts, "completed"); err != nil {
			t.Fatalf("append %s: %v", n, err)
		}
	}

	// Replace at index 1: entries after it (light, render) plus the old
	// furnish entry all move to history.
	if _, err := s.AppendOrReplaceUserStack(hip, "u1", "furnish", "id-new", "2026-08-30T11:00:00Z", "completed"); err != nil {
		t.Fatalf("replace: %v", err)
	}

	st, err := s.LoadUserState(hip, "u1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(st.Stack) != 2 {
		t.Fatalf("stack length after replace: got %d want 2", len(st.Stack))
	}
	if st.Stack[1].UUID != "id-new" || st.Stack[1].ProcessName != "furnish" {
		t.Fatalf("slot not overwritten: %+v", st.Stack[1])
	}
	// stack had 4 entries, replace at index 1 -> 4-1 = 3 new history rows.
	if len(st.History) != 3 {
		t.Fatalf("history length: got %d want 3", len(st.History))
	}
	for _, h := range st.History {
		if h.Status != StatusReplaced {
			t.Fatalf("history entry not marked replaced: %+v", h)
		}
		if h.ReplacedAt != "2026-08-30T11:00:00Z" {
			t.Fatalf("history entry missing replaced_at: %+v", h)
		}
	}
	// Downstream tail arrives first, the superseded slot entry last.
	gotOrder := []string{st.History[0].ProcessName, st.History[1].ProcessName, st.History[2].ProcessName}
	wantOrder := []string{"light", "render", "furnish"}
	for i := range wantOrder {
		if gotOrder[i] != wantOrder[i] {
			t.Fatalf("history order: got %v want %v", gotOrder, wantOrder)
		}
	}
}

func TestUserStackReplaceHead(t *testing.T) {
	hip := sourceFile(t)
	s := New()
	for _, n := range []string{"a", "b", "c"} {
		if _, err := s.AppendOrReplaceUserStack(hip, "u", n, "id-"+n, "2026-08-30T09:00:00Z", "completed"); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if _, err := s.AppendOrReplaceUserStack(hip, "u", "a", "id-a2", "2026-08-30T09:05:00Z", "failed"); err != nil {
		t.Fatalf("replace head: %v", err)
	}
	st, _ := s.LoadUserState(hip, "u")
	if len(st.Stack) != 1 || st.Stack[0].UUID != "id-a2" || st.Stack[0].Status != "failed" {
		t.Fatalf("unexpected stack: %+v", st.Stack)
	}
	if len(st.History) != 3 {
		t.Fatalf("history: got %d want 3", len(st.History))
	}
}

func TestUserStackConcurrentSameUser(t *testing.T) {
	hip := sourceFile(t)
	s := New()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := fmt.Sprintf("proc-%02d", i)
			if _, err := s.AppendOrReplaceUserStack(hip, "u1", name, "id-"+name, "2026-08-30T12:00:00Z", "completed"); err != nil {
				t.Errorf("append %s: %v", name, err)
			}
		}(i)
	}
	wg.Wait()

	st, err := s.LoadUserState(hip, "u1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	// Distinct process names with serialized writers: nothing may be lost.
	if len(st.Stack) != 20 {
		t.Fatalf("stack length: got %d want 20", len(st.Stack))
	}
}

func TestSafeFilename(t *testing.T) {
	cases := []struct{ in, want string }{
		{"alice", "alice"},
		{`ab<c>:"/\|?*d`, "ab_c________d"},
		{"a+b:c", "a_b_c"},
		{"tab\there", "tab_here"},
	}
	for _, tc := range cases {
		if got := SafeFilename(tc.in); got != tc.want {
			t.Fatalf("SafeFilename(%q): got %q want %q", tc.in, got, tc.want)
		}
	}
	long := strings.Repeat("x", 300)
	if got := SafeFilename(long); len(got) != 200 {
		t.Fatalf("long name not capped: %d", len(got))
	}
	wide := strings.Repeat("ü", 300)
	got := SafeFilename(wide)
	if utf8.RuneCountInString(got) != 200 {
		t.Fatalf("wide name not capped at 200 runes: %d", utf8.RuneCountInString(got))
	}
	if !utf8.ValidString(got) {
		t.Fatalf("truncation split a rune: %q", got[len(got)-4:])
	}
}

func TestUserPathUsesSanitizedID(t *testing.T) {
	hip := sourceFile(t)
	p, err := UserPath(hip, `bob:corp\eu`)
	if err != nil {
		t.Fatalf("user path: %v", err)
	}
	if filepath.Base(p) != "bob_corp_eu.json" {
		t.Fatalf("unexpected filename: %s", filepath.Base(p))
	}
}

func TestCorruptUserFileStartsFresh(t *testing.T) {
	hip := sourceFile(t)
	s := New()
	p, _ := UserPath(hip, "u1")
	if err := os.MkdirAll(filepath.Dir(p), 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(p, []byte("{corrupt"), 0o600); err != nil {
		t.Fatalf("write corrupt: %v", err)
	}
	if _, err := s.AppendOrReplaceUserStack(hip, "u1", "layout", "id-1", "2026-08-30T10:00:00Z", "completed"); err != nil {
		t.Fatalf("append over corrupt file: %v", err)
	}
	st, _ := s.LoadUserState(hip, "u1")
	if len(st.Stack) != 1 {
		t.Fatalf("expected fresh state, got %+v", st)
	}
}
