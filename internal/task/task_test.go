package task

import (
	"errors"
	"strings"
	"testing"
)

func TestApplyDefaults(t *testing.T) {
	j := Job{}
	j.ApplyDefaults(Defaults{})
	if j.TimeoutSec != 600 {
		t.Fatalf("expected builtin timeout 600, got %d", j.TimeoutSec)
	}
	if j.PostTimeoutSec != 10 {
		t.Fatalf("expected builtin post timeout 10, got %d", j.PostTimeoutSec)
	}
	if j.PostWaitSec != 5 {
		t.Fatalf("expected builtin post wait 5, got %g", j.PostWaitSec)
	}
}

func TestApplyDefaultsKeepsExplicit(t *testing.T) {
	j := Job{TimeoutSec: 30, PostTimeoutSec: 4, PostWaitSec: 2}
	j.ApplyDefaults(Defaults{TimeoutSec: 900})
	if j.TimeoutSec != 30 || j.PostTimeoutSec != 4 || j.PostWaitSec != 2 {
		t.Fatalf("explicit budgets were overwritten: %+v", j)
	}
}

func TestApplyDefaultsCapsWaitAtPostTimeout(t *testing.T) {
	j := Job{PostTimeoutSec: 3}
	j.ApplyDefaults(Defaults{})
	if j.PostWaitSec != 3 {
		t.Fatalf("expected wait capped at post timeout 3, got %g", j.PostWaitSec)
	}
}

func TestNormalizedParms(t *testing.T) {
	j := Job{Parms: map[string]any{"Room_File": "/tmp/a.json", "SEED": 7}}
	got := j.NormalizedParms()
	if got["room_file"] != "/tmp/a.json" {
		t.Fatalf("expected lowered room_file key, got %v", got)
	}
	if got["seed"] != 7 {
		t.Fatalf("expected lowered seed key, got %v", got)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 keys, got %d", len(got))
	}
}

func TestNormalizedParmsNil(t *testing.T) {
	var j Job
	if got := j.NormalizedParms(); got == nil || len(got) != 0 {
		t.Fatalf("expected empty map for nil parms, got %v", got)
	}
}

func TestExtractUUID(t *testing.T) {
	tests := []struct {
		name string
		job  Job
		want string
	}{
		{"explicit", Job{UUID: " abc "}, "abc"},
		{"from room file", Job{Parms: map[string]any{"Room_File": "/data/rooms/r-17.json"}}, "r-17"},
		{"explicit wins", Job{UUID: "u1", Parms: map[string]any{"room_file": "/x/y.json"}}, "u1"},
		{"nothing", Job{}, ""},
		{"blank room file", Job{Parms: map[string]any{"room_file": "  "}}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.job.ExtractUUID(); got != tt.want {
				t.Fatalf("ExtractUUID() = %q, want %q", got, tt.want)
			}
		})
	}
}

type stubProcessor struct {
	kind     string
	required []string
	fn       func(Job) Result
}

func (s stubProcessor) Kind() string             { return s.kind }
func (s stubProcessor) RequiredFields() []string { return s.required }
func (s stubProcessor) Execute(j Job) Result {
	if s.fn != nil {
		return s.fn(j)
	}
	return Result{"ok": true}
}

func TestValidate(t *testing.T) {
	p := stubProcessor{kind: "room_generation", required: []string{"hip", "cook_node", "uuid"}}

	err := Validate(p, Job{Hip: "/a.hip", CookNode: "/obj/cook", UUID: "u"})
	if err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}

	err = Validate(p, Job{Hip: "/a.hip", UUID: "u"})
	if err == nil {
		t.Fatal("expected error for missing cook_node")
	}
	var missing *MissingFieldError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingFieldError, got %T", err)
	}
	if missing.Field != "cook_node" {
		t.Fatalf("expected field cook_node, got %q", missing.Field)
	}
}

func TestFailResult(t *testing.T) {
	r := Fail("boom: %d", 7)
	if r.OK() {
		t.Fatal("failure result reported ok")
	}
	msg, _ := r["error"].(string)
	if !strings.Contains(msg, "boom: 7") {
		t.Fatalf("unexpected error message: %q", msg)
	}
}

func TestResultOKRequiresBool(t *testing.T) {
	if (Result{"ok": "true"}).OK() {
		t.Fatal("string ok must not count as success")
	}
	if (Result{}).OK() {
		t.Fatal("missing ok must not count as success")
	}
	if !(Result{"ok": true}).OK() {
		t.Fatal("boolean true ok was not recognized")
	}
}
