package server

import (
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/NTOM/piskel2Houdini/internal/convert"
	"github.com/NTOM/piskel2Houdini/internal/task"
)

// Router provides embeddable HTTP handlers for the cook service.
// Endpoints:
//   GET  {basePath}/ping         liveness probe
//   GET  {basePath}/tasks        supported task kinds
//   POST {basePath}/cook         body: Job JSON, answers the Result envelope
//   GET  {basePath}/result/png   query: hip=...&uuid=...
//   POST {basePath}/result/png   query: hip=...&uuid=..., body: raw PNG
// basePath may be empty or start with '/'; no trailing slash.

type Router struct {
	disp     *task.Dispatcher
	basePath string
}

// NewRouter constructs a new Router with configurable basePath.
// Example basePath: "/houdini" results in /houdini/cook etc.
func NewRouter(disp *task.Dispatcher, basePath string) *Router {
	return &Router{disp: disp, basePath: sanitizeBase(basePath)}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(requestLog(), recovery())
	group := g.Group(r.basePath)
	group.GET("/ping", r.handlePing)
	group.GET("/tasks", r.handleTasks)
	group.POST("/cook", r.handleCook)
	group.GET("/result/png", r.handleGetPNG)
	group.POST("/result/png", r.handlePutPNG)
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
func NewServer(addr, basePath string, disp *task.Dispatcher) *http.Server {
	r := NewRouter(disp, basePath)
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Cooks run long; the write timeout must outlive the largest
		// stage budget or every slow job answers with a reset.
		WriteTimeout: 15 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}
	go func() { _ = server.ListenAndServe() }()
	return server
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

func (r *Router) handlePing(c *gin.Context) {
	writeJSON(c, http.StatusOK, gin.H{"status": "ok"})
}

func (r *Router) handleTasks(c *gin.Context) {
	writeJSON(c, http.StatusOK, gin.H{
		"supported_tasks": r.disp.Kinds(),
		"default_task":    task.DefaultKind,
	})
}

func (r *Router) handleCook(c *gin.Context) {
	var job task.Job
	if err := c.ShouldBindJSON(&job); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if job.Hip != "" && !isSafeAbsPath(job.Hip) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid hip: must be absolute path without traversal"})
		return
	}

	checked, err := r.disp.Check(job)
	if err != nil {
		writeJSON(c, http.StatusBadRequest, task.Fail("%v", err))
		return
	}

	res := r.disp.Dispatch(checked)
	code := http.StatusOK
	if !res.OK() {
		code = http.StatusInternalServerError
	}
	writeJSON(c, code, res)
}

// resultPNGPath validates the hip/uuid pair and resolves the artifact
// path, guaranteeing it stays inside the scene's serve directory.
func resultPNGPath(hip, uuid string) (string, int, string) {
	if hip == "" || uuid == "" {
		return "", http.StatusBadRequest, "hip and uuid query params required"
	}
	if !isSafeAbsPath(hip) {
		return "", http.StatusForbidden, "invalid hip: must be absolute path without traversal"
	}
	if !isSafeName(uuid) {
		return "", http.StatusForbidden, "invalid uuid: allowed [A-Za-z0-9._-] and no '..' or path separators"
	}
	path := convert.PNGPath(hip, uuid)
	if !filepath.IsAbs(path) || filepath.Dir(path) != convert.ServeDir(hip) {
		return "", http.StatusForbidden, "resolved path escapes the serve directory"
	}
	return path, 0, ""
}

func (r *Router) handleGetPNG(c *gin.Context) {
	path, code, msg := resultPNGPath(c.Query("hip"), c.Query("uuid"))
	if code != 0 {
		writeJSON(c, code, errorResp{Error: msg})
		return
	}
	if _, err := os.Stat(path); err != nil {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "no raster for uuid " + c.Query("uuid")})
		return
	}
	c.File(path)
}

func (r *Router) handlePutPNG(c *gin.Context) {
	path, code, msg := resultPNGPath(c.Query("hip"), c.Query("uuid"))
	if code != 0 {
		writeJSON(c, code, errorResp{Error: msg})
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxPNGBytes+1))
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "read body: " + err.Error()})
		return
	}
	if len(body) > maxPNGBytes {
		writeJSON(c, http.StatusRequestEntityTooLarge, errorResp{Error: "png larger than allowed"})
		return
	}
	cfg, err := decodePNGConfig(body)
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "body is not a PNG: " + err.Error()})
		return
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, gin.H{
		"ok":     true,
		"path":   path,
		"width":  cfg.Width,
		"height": cfg.Height,
	})
}
