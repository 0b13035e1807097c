package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/loykin/jobletd/internal/executor"
	"github.com/loykin/jobletd/internal/joblet"
	"github.com/loykin/jobletd/internal/metrics"
	"github.com/loykin/jobletd/internal/registry"
	"github.com/loykin/jobletd/internal/status"
)

// Executor admits and launches joblets.
type Executor interface {
	TryExecute(ctx context.Context, cfg joblet.Config) (executor.Result, bool, error)
	MaxConcurrent() int
}

// Registry exposes the tracked joblet processes.
type Registry interface {
	List() ([]registry.Entry[joblet.Metadata], error)
	Count() (int, error)
	Reconcile(ctx context.Context) (int, error)
}

// Statuses reads and clears job states.
type Statuses interface {
	Status(id string) (status.State, error)
	ErrorInfo(id string) (*status.ErrorInfo, error)
	Exists(id string) (bool, error)
	Remove(id string) error
}

// Resources serves sampled CPU and memory usage. Optional.
type Resources interface {
	Enabled() bool
	Latest(jobID string) (metrics.Sample, bool)
	History(jobID string) []metrics.Sample
}

type Backend struct {
	Executor  Executor
	Registry  Registry
	Statuses  Statuses
	Resources Resources
}

// Router provides embeddable HTTP handlers for submitting and inspecting joblets.
// Endpoints:
//
//	POST   {basePath}/joblets                body: joblet Config JSON
//	GET    {basePath}/joblets/:id/resources  latest and recent resource samples
//	GET    {basePath}/processes              tracked processes with their state
//	GET    {basePath}/status/:id             state and error of one job
//	DELETE {basePath}/status/:id             forget a finished job
//	GET    {basePath}/capacity               limit, running and free slots
//	POST   {basePath}/reconcile              run one reconciliation cycle now
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	b        Backend
	basePath string
}

// NewRouter constructs a new Router with configurable basePath.
func NewRouter(b Backend, basePath string) *Router {
	return &Router{b: b, basePath: sanitizeBase(basePath)}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.POST("/joblets", r.handleSubmit)
	group.GET("/joblets/:id/resources", r.handleResources)
	group.GET("/processes", r.handleProcesses)
	group.GET("/status/:id", r.handleStatus)
	group.DELETE("/status/:id", r.handleForget)
	group.GET("/capacity", r.handleCapacity)
	group.POST("/reconcile", r.handleReconcile)
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
// Shut it down with the returned server's Shutdown or Close.
func NewServer(addr, basePath string, b Backend) *http.Server {
	server := &http.Server{
		Addr:              addr,
		Handler:           NewRouter(b, basePath).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return server
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

type statusResp struct {
	ID    string            `json:"id"`
	State status.State      `json:"state"`
	Error *status.ErrorInfo `json:"error,omitempty"`
}

type processResp struct {
	PID      int             `json:"pid"`
	Metadata joblet.Metadata `json:"metadata"`
	State    status.State    `json:"state,omitempty"`
}

type capacityResp struct {
	Max       int `json:"max"`
	Running   int `json:"running"`
	Available int `json:"available"`
}

type resourcesResp struct {
	Latest  metrics.Sample   `json:"latest"`
	History []metrics.Sample `json:"history"`
}

func (r *Router) handleSubmit(c *gin.Context) {
	var cfg joblet.Config
	if err := c.ShouldBindJSON(&cfg); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if cfg.Name != "" && !isSafeName(cfg.Name) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid name: allowed [A-Za-z0-9._-] and no '..' or path separators"})
		return
	}
	if !isSafeAbsPath(cfg.WorkDir) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid work_dir: must be absolute path without traversal"})
		return
	}
	if cfg.Factory != "" {
		if _, err := joblet.Lookup(cfg.Factory); err != nil {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
			return
		}
	}
	if (cfg.Factory == "" || cfg.Factory == joblet.CommandFactory) && cfg.Command == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "command required"})
		return
	}
	res, ok, err := r.b.Executor.TryExecute(c.Request.Context(), cfg)
	if err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, executor.ErrUntracked) {
			// the joblet runs; report where it went
			writeJSON(c, code, struct {
				executor.Result
				Error string `json:"error"`
			}{res, err.Error()})
			return
		}
		writeJSON(c, code, errorResp{Error: err.Error()})
		return
	}
	if !ok {
		writeJSON(c, http.StatusTooManyRequests, errorResp{Error: "at capacity"})
		return
	}
	writeJSON(c, http.StatusAccepted, res)
}

func (r *Router) handleProcesses(c *gin.Context) {
	entries, err := r.b.Registry.List()
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	out := make([]processResp, 0, len(entries))
	for _, e := range entries {
		p := processResp{PID: e.PID, Metadata: e.Metadata}
		if r.b.Statuses != nil && e.Metadata.ConfigID != "" {
			if st, err := r.b.Statuses.Status(e.Metadata.ConfigID); err == nil {
				p.State = st
			}
		}
		out = append(out, p)
	}
	writeJSON(c, http.StatusOK, out)
}

func (r *Router) handleStatus(c *gin.Context) {
	id := c.Param("id")
	st, err := r.b.Statuses.Status(id)
	if err != nil {
		writeJSON(c, statusCode(err), errorResp{Error: err.Error()})
		return
	}
	resp := statusResp{ID: id, State: st}
	if st == status.StateError {
		info, err := r.b.Statuses.ErrorInfo(id)
		if err != nil {
			writeJSON(c, statusCode(err), errorResp{Error: err.Error()})
			return
		}
		resp.Error = info
	}
	writeJSON(c, http.StatusOK, resp)
}

func (r *Router) handleForget(c *gin.Context) {
	id := c.Param("id")
	ok, err := r.b.Statuses.Exists(id)
	if err != nil {
		writeJSON(c, statusCode(err), errorResp{Error: err.Error()})
		return
	}
	if !ok {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "no status recorded for " + id})
		return
	}
	if err := r.b.Statuses.Remove(id); err != nil {
		writeJSON(c, statusCode(err), errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleCapacity(c *gin.Context) {
	n, err := r.b.Registry.Count()
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	limit := r.b.Executor.MaxConcurrent()
	writeJSON(c, http.StatusOK, capacityResp{Max: limit, Running: n, Available: max(limit-n, 0)})
}

func (r *Router) handleReconcile(c *gin.Context) {
	removed, err := r.b.Registry.Reconcile(c.Request.Context())
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"removed": removed})
}

func (r *Router) handleResources(c *gin.Context) {
	if r.b.Resources == nil || !r.b.Resources.Enabled() {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "resource sampling is disabled"})
		return
	}
	id := c.Param("id")
	latest, ok := r.b.Resources.Latest(id)
	if !ok {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "no samples for " + id})
		return
	}
	writeJSON(c, http.StatusOK, resourcesResp{Latest: latest, History: r.b.Resources.History(id)})
}

func statusCode(err error) int {
	if errors.Is(err, status.ErrInvalidID) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
