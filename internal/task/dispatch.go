package task

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/NTOM/piskel2Houdini/internal/history"
	"github.com/NTOM/piskel2Houdini/internal/metrics"
)

// Dispatcher routes a job to the processor registered for its kind and
// accounts for the attempt: Prometheus counters, stage timings, and an
// optional history event per dispatch.
type Dispatcher struct {
	reg      *Registry
	defaults Defaults
	sink     history.Sink
}

// NewDispatcher builds a dispatcher over reg. sink may be nil when no
// history backend is configured.
func NewDispatcher(reg *Registry, defaults Defaults, sink history.Sink) *Dispatcher {
	return &Dispatcher{reg: reg, defaults: defaults, sink: sink}
}

// Kinds lists the task kinds this dispatcher can serve.
func (d *Dispatcher) Kinds() []string { return d.reg.Kinds() }

// Check resolves the job's kind, applies the configured defaults, and
// validates required fields, returning the normalized job. Transports
// use it to reject bad requests before committing to a dispatch.
func (d *Dispatcher) Check(job Job) (Job, error) {
	if strings.TrimSpace(job.TaskType) == "" {
		job.TaskType = d.reg.DefaultKind()
	}
	if d.reg.Get(job.TaskType) == nil {
		return job, fmt.Errorf("unsupported task_type %q (supported: %s)",
			job.TaskType, strings.Join(d.reg.Kinds(), ", "))
	}
	job.ApplyDefaults(d.defaults)
	if err := Validate(d.reg.Get(job.TaskType), job); err != nil {
		return job, err
	}
	return job, nil
}

// Dispatch validates the job, runs it, and returns the processor's
// result. Unknown kinds and missing fields come back as failure results
// rather than errors so the transport always has a body to answer with.
func (d *Dispatcher) Dispatch(job Job) Result {
	checked, err := d.Check(job)
	if err != nil {
		return Fail("%v", err)
	}
	job = checked
	proc := d.reg.Get(job.TaskType)

	start := time.Now()
	res := proc.Execute(job)
	elapsed := time.Since(start)

	timedOut := false
	if status, _ := res["status"].(string); status == "timeout" {
		timedOut = true
	}

	outcome := "failed"
	switch {
	case res.OK():
		outcome = "ok"
	case timedOut:
		outcome = "timeout"
		metrics.IncStageTimeout(job.TaskType, "cook")
	}
	metrics.IncCook(job.TaskType, outcome)
	metrics.ObserveStage(job.TaskType, "dispatch", elapsed.Seconds())
	if post, ok := res["post"].(*PostInfo); ok && post != nil && !post.OK {
		metrics.IncPostDegraded(job.TaskType)
	}

	d.record(job, res, elapsed, timedOut)
	return res
}

// record sends the attempt to the history sink. Failures are logged and
// swallowed; history must never affect the dispatch result.
func (d *Dispatcher) record(job Job, res Result, elapsed time.Duration, timedOut bool) {
	if d.sink == nil {
		return
	}
	ev := history.NewEvent(history.Attempt{
		UUID:       job.ExtractUUID(),
		Kind:       job.TaskType,
		OK:         res.OK(),
		ExitCode:   resultExitCode(res),
		ElapsedMS:  elapsed.Milliseconds(),
		TimedOut:   timedOut,
		UserID:     job.UserID,
		SourceFile: job.Hip,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.sink.Send(ctx, ev); err != nil {
		slog.Warn("history sink send failed", "uuid", ev.Attempt.UUID, "error", err)
	}
}

// resultExitCode digs the worker's exit status out of a result. The
// field arrives as int from the runner but as float64 once a payload
// has been through JSON.
func resultExitCode(res Result) int {
	switch v := res["returncode"].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}
