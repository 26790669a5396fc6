package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestRegisterAndRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("register: %v", err)
	}
	// Second register is a no-op.
	if err := Register(reg); err != nil {
		t.Fatalf("re-register: %v", err)
	}

	IncCook("room_generation", "ok")
	IncCook("room_generation", "failed")
	ObserveStage("room_generation", "primary", 1.5)
	IncStageTimeout("room_generation", "primary")
	IncPostDegraded("room_generation")

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	names := make(map[string]bool)
	for _, mf := range mfs {
		names[mf.GetName()] = true
	}
	for _, want := range []string{
		"piskel2houdini_cook_jobs_total",
		"piskel2houdini_cook_stage_duration_seconds",
		"piskel2houdini_cook_stage_timeouts_total",
		"piskel2houdini_cook_post_degraded_total",
	} {
		if !names[want] {
			t.Fatalf("metric %s not gathered; got %v", want, names)
		}
	}
}
