// Package task implements the cook dispatch pipeline: kind registry,
// per-kind processors, and the orchestration of engine subprocess
// stages with dual-channel result recovery and activity logging.
package task

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/NTOM/piskel2Houdini/internal/result"
)

// DefaultKind is used when a request does not name a task type.
const DefaultKind = "room_generation"

// Defaults hold the fallback stage budgets applied to jobs that omit
// them. PostWaitSec additionally caps at PostTimeoutSec.
type Defaults struct {
	TimeoutSec     int
	PostTimeoutSec int
	PostWaitSec    float64
}

func (d Defaults) orBuiltin() Defaults {
	if d.TimeoutSec <= 0 {
		d.TimeoutSec = 600
	}
	if d.PostTimeoutSec <= 0 {
		d.PostTimeoutSec = 10
	}
	if d.PostWaitSec <= 0 {
		d.PostWaitSec = 5
	}
	return d
}

// Job is one cook request. Field names follow the engine-side wire
// format; Hip is the stateful project file the engine loads.
type Job struct {
	TaskType       string         `json:"task_type"`
	Hip            string         `json:"hip"`
	CookNode       string         `json:"cook_node"`
	ParmNode       string         `json:"parm_node"`
	UUID           string         `json:"uuid"`
	Parms          map[string]any `json:"parms"`
	UserID         string         `json:"user_id"`
	ProcessName    string         `json:"process_name"`
	Hython         string         `json:"hython"`
	HFS            string         `json:"hfs"`
	TimeoutSec     int            `json:"timeout_sec"`
	PostTimeoutSec int            `json:"post_timeout_sec"`
	PostWaitSec    float64        `json:"post_wait_sec"`
}

// ApplyDefaults fills the stage budgets a request left empty.
func (j *Job) ApplyDefaults(d Defaults) {
	d = d.orBuiltin()
	if j.TimeoutSec <= 0 {
		j.TimeoutSec = d.TimeoutSec
	}
	if j.PostTimeoutSec <= 0 {
		j.PostTimeoutSec = d.PostTimeoutSec
	}
	if j.PostWaitSec <= 0 {
		j.PostWaitSec = d.PostWaitSec
		if float64(j.PostTimeoutSec) < j.PostWaitSec {
			j.PostWaitSec = float64(j.PostTimeoutSec)
		}
	}
}

// field resolves a required-field name to its value for validation.
func (j Job) field(name string) string {
	switch name {
	case "hip":
		return j.Hip
	case "cook_node":
		return j.CookNode
	case "parm_node":
		return j.ParmNode
	case "uuid":
		return j.UUID
	case "user_id":
		return j.UserID
	default:
		return ""
	}
}

// NormalizedParms returns the job's parameters with every key lowered.
// The engine's parameter names are case-insensitive on the wire but
// case-sensitive inside the worker.
func (j Job) NormalizedParms() map[string]any {
	if len(j.Parms) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(j.Parms))
	for k, v := range j.Parms {
		out[strings.ToLower(k)] = v
	}
	return out
}

// ExtractUUID returns the job's correlation id, guessing from the
// room_file parameter's basename when the explicit field is empty.
func (j Job) ExtractUUID() string {
	if u := strings.TrimSpace(j.UUID); u != "" {
		return u
	}
	roomFile, _ := j.NormalizedParms()["room_file"].(string)
	roomFile = strings.TrimSpace(roomFile)
	if roomFile == "" {
		return ""
	}
	base := filepath.Base(roomFile)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Result is the unified outcome of one job. Success merges the worker's
// own payload, so the shape is kind-specific; ok is always present.
type Result map[string]any

func (r Result) OK() bool {
	ok, _ := r["ok"].(bool)
	return ok
}

// Fail builds a failure result with a human-readable error.
func Fail(format string, args ...any) Result {
	return Result{"ok": false, "error": fmt.Sprintf(format, args...)}
}

// Processor executes one task kind. Execute must encode every failure
// into the returned Result; it never panics outward.
type Processor interface {
	Kind() string
	RequiredFields() []string
	Execute(job Job) Result
}

// MissingFieldError reports a required request field that is absent or
// empty. It is returned before any subprocess is spawned.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string { return "missing required field: " + e.Field }

// ErrNoEngineRoot means neither the request nor the environment nor the
// configuration provides a way to locate the engine executable.
var ErrNoEngineRoot = errors.New("no hython path given and no HFS available from request, environment, or config")

// Validate checks the processor's required fields against the job.
func Validate(p Processor, job Job) error {
	for _, f := range p.RequiredFields() {
		if strings.TrimSpace(job.field(f)) == "" {
			return &MissingFieldError{Field: f}
		}
	}
	return nil
}

// PostInfo summarizes the optional post-process stage. A failed or
// timed-out post stage degrades this field only; it never flips the
// overall job result.
type PostInfo struct {
	Returncode    *int           `json:"returncode"`
	Stdout        string         `json:"stdout"`
	Stderr        string         `json:"stderr"`
	JSON          result.Payload `json:"json"`
	ElapsedMSPost int64          `json:"elapsed_ms_post"`
	OK            bool           `json:"ok"`
}

// RequestEcho is the normalized view of the request stored in the
// detail log next to the raw payload.
type RequestEcho struct {
	TaskType string         `json:"task_type"`
	Hip      string         `json:"hip"`
	CookNode string         `json:"cook_node"`
	ParmNode string         `json:"parm_node"`
	Parms    map[string]any `json:"parms"`
}

// DetailRecord is the append-once audit record written per job attempt,
// including timeout and error attempts.
type DetailRecord struct {
	UUID              string         `json:"uuid"`
	OK                bool           `json:"ok"`
	ElapsedMSDispatch int64          `json:"elapsed_ms_dispatch"`
	Returncode        int            `json:"returncode"`
	Stdout            string         `json:"stdout"`
	Stderr            string         `json:"stderr"`
	WorkerJSON        result.Payload `json:"worker_json"`
	Post              *PostInfo      `json:"post"`
	Request           RequestEcho    `json:"request"`
	RequestRaw        Job            `json:"request_raw"`
	LoggedAt          string         `json:"logged_at"`
}
