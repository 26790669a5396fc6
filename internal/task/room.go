package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/NTOM/piskel2Houdini/internal/env"
	"github.com/NTOM/piskel2Houdini/internal/logstore"
	"github.com/NTOM/piskel2Houdini/internal/result"
	"github.com/NTOM/piskel2Houdini/internal/runner"
)

// Engine locates the external cook engine and the helper programs the
// processor drives.
type Engine struct {
	HFS          string   // engine installation root; request/OS env take precedence
	Hython       string   // explicit engine interpreter path, overrides HFS resolution
	WorkerScript string   // cook worker script; defaults to one next to this binary
	Converter    string   // binary handling `convert json2png`; defaults to this binary
	Env          []string // extra K=V pairs for every engine child
}

// workerDescriptor is the transient job file handed to the engine-side
// cook worker.
type workerDescriptor struct {
	Hip      string         `json:"hip"`
	CookNode string         `json:"cook_node"`
	ParmNode string         `json:"parm_node,omitempty"`
	Parms    map[string]any `json:"parms"`
}

// RoomProcessor cooks a room-generation job: one engine invocation for
// the cook itself, then an optional image-conversion stage whose
// failure degrades the result but never fails the job.
type RoomProcessor struct {
	Engine Engine
	Logs   *logstore.Store
	Env    *env.Env
}

func NewRoomProcessor(engine Engine, logs *logstore.Store, e *env.Env) *RoomProcessor {
	if e == nil {
		e = env.New()
	}
	if logs == nil {
		logs = logstore.New()
	}
	return &RoomProcessor{Engine: engine, Logs: logs, Env: e}
}

func (p *RoomProcessor) Kind() string { return "room_generation" }

func (p *RoomProcessor) RequiredFields() []string {
	return []string{"hip", "cook_node", "uuid"}
}

// Execute drives the full pipeline. All failure modes are encoded into
// the returned Result; a panic in orchestration is converted too so the
// transport can always answer.
func (p *RoomProcessor) Execute(job Job) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("room processor panicked", "uuid", job.UUID, "panic", r)
			res = Fail("internal error: %v", r)
		}
	}()

	parms := job.NormalizedParms()
	uuid := job.ExtractUUID()

	hython, err := p.resolveHython(job)
	if err != nil {
		return Fail("%v", err)
	}
	if _, err := os.Stat(hython); err != nil {
		return Fail("hython not found: %s", hython)
	}
	worker, err := p.workerScript()
	if err != nil {
		return Fail("%v", err)
	}
	if _, err := os.Stat(worker); err != nil {
		return Fail("worker script not found: %s", worker)
	}

	jobPath, resultPath, err := p.stageFiles(job, parms)
	if err != nil {
		return Fail("prepare stage files: %v", err)
	}
	// The descriptor is consumed by the worker at startup and the
	// fallback is consumed by the resolver; neither may outlive the
	// attempt regardless of how it ends.
	defer func() {
		_ = os.Remove(jobPath)
		_ = os.Remove(resultPath)
	}()

	outcome, runErr := runner.Run(context.Background(), runner.Command{
		Path:    hython,
		Args:    []string{worker, "--job", jobPath, "--out", resultPath},
		Env:     p.Env.Merge(append([]string{"PYTHONIOENCODING=utf-8"}, p.Engine.Env...)),
		Timeout: time.Duration(job.TimeoutSec) * time.Second,
	})

	if runErr != nil && errors.Is(runErr, runner.ErrTimeout) {
		res = Result{
			"ok":                  false,
			"error":               fmt.Sprintf("cook timed out after %ds", job.TimeoutSec),
			"status":              "timeout",
			"elapsed_ms_dispatch": outcome.ElapsedMS,
			"stdout":              outcome.Stdout,
			"stderr":              outcome.Stderr,
		}
		p.writeLogs(job, uuid, parms, outcome, nil, nil, false)
		return res
	}
	if runErr != nil {
		res = Fail("start cook process: %v", runErr)
		p.writeLogs(job, uuid, parms, outcome, nil, nil, false)
		return res
	}

	payload := result.Resolve(outcome.Stdout, resultPath)
	ok := outcome.ExitCode == 0 && payload.OK()

	var post *PostInfo
	if ok && uuid != "" {
		post = p.runPostStage(job, uuid)
	}

	p.writeLogs(job, uuid, parms, outcome, payload, post, ok)

	if ok {
		res = make(Result, len(payload)+2)
		for k, v := range payload {
			res[k] = v
		}
		res["elapsed_ms_dispatch"] = outcome.ElapsedMS
		res["post"] = post
		return res
	}
	return Result{
		"ok":                  false,
		"elapsed_ms_dispatch": outcome.ElapsedMS,
		"returncode":          outcome.ExitCode,
		"stdout":              outcome.Stdout,
		"stderr":              outcome.Stderr,
		"worker_json":         payload,
		"post":                post,
	}
}

func (p *RoomProcessor) resolveHython(job Job) (string, error) {
	if job.Hython != "" {
		return job.Hython, nil
	}
	hfs := job.HFS
	if hfs == "" {
		hfs, _ = p.Env.Lookup("HFS")
	}
	if hfs == "" {
		hfs = p.Engine.HFS
	}
	if hfs == "" {
		if p.Engine.Hython != "" {
			return p.Engine.Hython, nil
		}
		return "", ErrNoEngineRoot
	}
	name := "hython"
	if runtime.GOOS == "windows" {
		name += ".exe"
	}
	return filepath.Join(hfs, "bin", name), nil
}

func (p *RoomProcessor) workerScript() (string, error) {
	if p.Engine.WorkerScript != "" {
		return p.Engine.WorkerScript, nil
	}
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("locate worker script: %w", err)
	}
	return filepath.Join(filepath.Dir(exe), "hython_cook_worker.py"), nil
}

// stageFiles writes the transient job descriptor and reserves the
// fallback result path for the primary stage.
func (p *RoomProcessor) stageFiles(job Job, parms map[string]any) (jobPath, resultPath string, err error) {
	desc := workerDescriptor{
		Hip:      job.Hip,
		CookNode: job.CookNode,
		ParmNode: job.ParmNode,
		Parms:    parms,
	}
	jf, err := os.CreateTemp("", "cook-job-*.json")
	if err != nil {
		return "", "", err
	}
	if err := json.NewEncoder(jf).Encode(desc); err != nil {
		_ = jf.Close()
		_ = os.Remove(jf.Name())
		return "", "", err
	}
	if err := jf.Close(); err != nil {
		_ = os.Remove(jf.Name())
		return "", "", err
	}
	rf, err := os.CreateTemp("", "cook-result-*.json")
	if err != nil {
		_ = os.Remove(jf.Name())
		return "", "", err
	}
	resultPath = rf.Name()
	_ = rf.Close()
	// The worker owns the content; hand it an empty reservation.
	_ = os.Remove(resultPath)
	return jf.Name(), resultPath, nil
}

// runPostStage converts the cook's pixel export into a raster via the
// converter helper, with its own timeout and dual-channel capture.
func (p *RoomProcessor) runPostStage(job Job, uuid string) (info *PostInfo) {
	defer func() {
		if r := recover(); r != nil {
			info = &PostInfo{Stderr: fmt.Sprintf("post stage panicked: %v", r)}
		}
	}()

	converter := p.Engine.Converter
	if converter == "" {
		exe, err := os.Executable()
		if err != nil {
			return &PostInfo{Stderr: fmt.Sprintf("locate converter: %v", err)}
		}
		converter = exe
	}

	fallback, err := os.CreateTemp("", "post-result-*.json")
	if err != nil {
		return &PostInfo{Stderr: fmt.Sprintf("reserve post fallback: %v", err)}
	}
	fallbackPath := fallback.Name()
	_ = fallback.Close()
	_ = os.Remove(fallbackPath)
	defer func() { _ = os.Remove(fallbackPath) }()

	wait := job.PostWaitSec
	if wait < 0 {
		wait = 0
	}
	outcome, runErr := runner.Run(context.Background(), runner.Command{
		Path: converter,
		Args: []string{
			"convert", "json2png",
			"--hip", job.Hip,
			"--uuid", uuid,
			"--wait-sec", fmt.Sprintf("%g", wait),
			"--out", fallbackPath,
		},
		Env:     p.Env.Merge(p.Engine.Env),
		Timeout: time.Duration(job.PostTimeoutSec) * time.Second,
	})
	if runErr != nil {
		msg := runErr.Error()
		if errors.Is(runErr, runner.ErrTimeout) {
			msg = "json2png timed out"
		}
		return &PostInfo{Stderr: msg, ElapsedMSPost: outcome.ElapsedMS}
	}

	payload := result.Resolve(outcome.Stdout, fallbackPath)
	rc := outcome.ExitCode
	return &PostInfo{
		Returncode:    &rc,
		Stdout:        outcome.Stdout,
		Stderr:        outcome.Stderr,
		JSON:          payload,
		ElapsedMSPost: outcome.ElapsedMS,
		OK:            rc == 0 && payload.OK(),
	}
}

// writeLogs persists the detail record and, when the job carries a user
// identity, the user-stack entry. Logging never fails the job.
func (p *RoomProcessor) writeLogs(job Job, uuid string, parms map[string]any, outcome runner.Outcome, payload result.Payload, post *PostInfo, ok bool) {
	now := time.Now().UTC().Format(time.RFC3339)
	rec := DetailRecord{
		UUID:              uuid,
		OK:                ok,
		ElapsedMSDispatch: outcome.ElapsedMS,
		Returncode:        outcome.ExitCode,
		Stdout:            outcome.Stdout,
		Stderr:            outcome.Stderr,
		WorkerJSON:        payload,
		Post:              post,
		Request: RequestEcho{
			TaskType: job.TaskType,
			Hip:      job.Hip,
			CookNode: job.CookNode,
			ParmNode: job.ParmNode,
			Parms:    parms,
		},
		RequestRaw: job,
		LoggedAt:   now,
	}
	if uuid != "" {
		if _, err := p.Logs.WriteDetail(job.Hip, uuid, rec); err != nil {
			slog.Warn("detail log write failed", "uuid", uuid, "error", err)
		}
	}

	if uuid == "" || job.UserID == "" {
		return
	}
	status := "completed"
	if !ok {
		status = "failed"
	}
	processName := job.ProcessName
	if processName == "" {
		processName = job.CookNode
	}
	if _, err := p.Logs.AppendOrReplaceUserStack(job.Hip, job.UserID, processName, uuid, now, status); err != nil {
		slog.Warn("user stack update failed", "user", job.UserID, "uuid", uuid, "error", err)
	}
}
