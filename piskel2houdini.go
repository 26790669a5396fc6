package piskel2houdini

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	cfg "github.com/NTOM/piskel2Houdini/internal/config"
	"github.com/NTOM/piskel2Houdini/internal/env"
	"github.com/NTOM/piskel2Houdini/internal/history"
	"github.com/NTOM/piskel2Houdini/internal/history/factory"
	"github.com/NTOM/piskel2Houdini/internal/logstore"
	"github.com/NTOM/piskel2Houdini/internal/metrics"
	iapi "github.com/NTOM/piskel2Houdini/internal/server"
	"github.com/NTOM/piskel2Houdini/internal/task"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Job = task.Job

type Result = task.Result

type Engine = task.Engine

type Defaults = task.Defaults

type Config = cfg.Config

type HistorySink = history.Sink

// Dispatcher is a thin facade over internal/task.Dispatcher.
// It provides a stable public API for embedding.

type Dispatcher struct {
	inner *task.Dispatcher
	env   *env.Env
}

// New builds a dispatcher serving the room generation kind. sink may be
// nil when no history backend is wanted.
func New(engine Engine, defaults Defaults, sink HistorySink) *Dispatcher {
	e := env.New()
	reg := task.NewRegistry(task.NewRoomProcessor(engine, logstore.New(), e))
	return &Dispatcher{inner: task.NewDispatcher(reg, defaults, sink), env: e}
}

func (d *Dispatcher) SetGlobalEnv(kvs []string)  { d.env.SetAll(kvs) }
func (d *Dispatcher) Dispatch(job Job) Result    { return d.inner.Dispatch(job) }
func (d *Dispatcher) Check(job Job) (Job, error) { return d.inner.Check(job) }
func (d *Dispatcher) Kinds() []string            { return d.inner.Kinds() }

func LoadConfig(path string) (Config, error) { return cfg.Load(path) }

// NewHistorySink creates a sink from a DSN; see internal/history/factory
// for the supported schemes.
func NewHistorySink(dsn string) (HistorySink, error) { return factory.NewSinkFromDSN(dsn) }

// NewHTTPServer starts an HTTP server exposing the cook API using the given dispatcher.
func NewHTTPServer(addr, basePath string, d *Dispatcher) *http.Server {
	return iapi.NewServer(addr, basePath, d.inner)
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// ServeMetrics starts an HTTP server on addr exposing /metrics using the default registry.
// It returns any immediate listen error; otherwise it runs the server in the caller goroutine.
func ServeMetrics(addr string) error {
	http.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           nil,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv.ListenAndServe()
}
