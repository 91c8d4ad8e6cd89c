// Package api is the controller's HTTP control-plane, consumed by
// containerlessctl (spec.md §6). Its mux-plus-JSON-handlers shape is
// grounded on cuemby-warren/pkg/api/health.go: one http.ServeMux, one
// handler method per route, metrics.Handler() mounted alongside.
package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/containerless/platform/pkg/clerr"
	"github.com/containerless/platform/pkg/cluster"
	"github.com/containerless/platform/pkg/compiler"
	"github.com/containerless/platform/pkg/health"
	"github.com/containerless/platform/pkg/log"
	"github.com/containerless/platform/pkg/metrics"
	"github.com/containerless/platform/pkg/sourcestore"
	"github.com/containerless/platform/pkg/table"
)

// Controller serves the Controller HTTP API over the function table,
// the source store, and the compiler actor.
type Controller struct {
	table  *table.Table
	source sourcestore.Client
	comp   *compiler.Compiler
	mux    *http.ServeMux
	server *http.Server
	logger zerolog.Logger

	healthCfg health.Config
	status    *health.Status
	checker   health.Checker
}

// New returns a Controller listening on addr once Serve is called.
// driver backs the cluster-reachability check /system_status gates on.
func New(addr string, tbl *table.Table, source sourcestore.Client, comp *compiler.Compiler, driver cluster.Driver) *Controller {
	healthCfg := health.DefaultConfig()
	healthCfg.StartPeriod = 5 * time.Second

	c := &Controller{
		table:     tbl,
		source:    source,
		comp:      comp,
		mux:       http.NewServeMux(),
		logger:    log.WithComponent("api"),
		healthCfg: healthCfg,
		status:    health.NewStatus(),
		checker:   clusterChecker{driver: driver},
	}

	c.mux.HandleFunc("/system_status", c.systemStatus)
	c.mux.HandleFunc("/create_function/", c.createFunction)
	c.mux.HandleFunc("/delete_function/", c.deleteFunction)
	c.mux.HandleFunc("/reset_function/", c.resetFunction)
	c.mux.HandleFunc("/shutdown_function/", c.shutdownFunction)
	c.mux.HandleFunc("/get_function/", c.getFunction)
	c.mux.HandleFunc("/list_functions", c.listFunctions)
	c.mux.HandleFunc("/dispatcher_version", c.dispatcherVersion)
	c.mux.HandleFunc("/health", metrics.HealthHandler())
	c.mux.HandleFunc("/ready", metrics.ReadyHandler())
	c.mux.HandleFunc("/live", metrics.LivenessHandler())
	c.mux.Handle("/metrics", metrics.Handler())

	c.server = &http.Server{
		Addr:         addr,
		Handler:      c.mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return c
}

// clusterChecker adapts the cluster driver's pod listing into a
// health.Checker, the same shape pkg/manager.probeReady builds from
// health.HTTPChecker for a backend replica instead of the cluster
// itself.
type clusterChecker struct {
	driver cluster.Driver
}

func (c clusterChecker) Check(ctx context.Context) health.Result {
	start := time.Now()
	_, err := c.driver.ListPods(ctx)
	if err != nil {
		return health.Result{Healthy: false, Message: err.Error(), CheckedAt: start, Duration: time.Since(start)}
	}
	return health.Result{Healthy: true, Message: "cluster reachable", CheckedAt: start, Duration: time.Since(start)}
}

func (c clusterChecker) Type() health.CheckType { return health.CheckTypeCluster }

// Serve blocks until the HTTP server exits via Shutdown or a listener error.
func (c *Controller) Serve() error {
	c.logger.Info().Str("addr", c.server.Addr).Msg("controller API listening")
	if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return clerr.New("api.serve", clerr.Unknown, err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server. It does not touch the
// function table: cmd/containerless-controller orphans that separately
// so a successor process can adopt the running functions.
func (c *Controller) Shutdown(ctx context.Context) error {
	if err := c.server.Shutdown(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("error shutting down controller API")
	}
	return nil
}

// systemStatus implements GET /system_status: a one-line text summary,
// matching spec.md §6's "text status" (no JSON contract is specified).
// It 503s once the cluster driver has failed its reachability check
// past the start-period grace window, rather than always reporting ok.
func (c *Controller) systemStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	result := c.checker.Check(r.Context())
	c.status.Update(result, c.healthCfg)
	if !c.status.Healthy && !c.status.InStartPeriod(c.healthCfg) {
		http.Error(w, "cluster driver unreachable: "+result.Message, http.StatusServiceUnavailable)
		return
	}

	names := c.table.Names()
	okToCompile := c.comp.OkIfNotCompiling()
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\nfunctions: " + joinOrNone(names) + "\ncompiler idle: " + boolString(okToCompile) + "\n"))
}

func joinOrNone(names []string) string {
	if len(names) == 0 {
		return "(none)"
	}
	return strings.Join(names, ", ")
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

type createFunctionRequest struct {
	Contents string `json:"contents"`
}

// createFunction implements POST /create_function/{name}: uploads
// source to the source store, which is the only registration a
// function needs — the table lazily creates its manager on first
// invoke (spec.md §4.5).
func (c *Controller) createFunction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	name, ok := trimPrefixPath(r.URL.Path, "/create_function/")
	if !ok {
		http.Error(w, "missing function name", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "error reading request body", http.StatusBadRequest)
		return
	}
	var req createFunctionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	if err := c.source.Create(r.Context(), name, []byte(req.Contents)); err != nil {
		writeClerr(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

// deleteFunction implements GET /delete_function/{name}: removes the
// source from storage and tears down any live manager, matching
// spec.md §6's "delete from storage and unregister".
func (c *Controller) deleteFunction(w http.ResponseWriter, r *http.Request) {
	name, ok := trimPrefixPath(r.URL.Path, "/delete_function/")
	if !ok {
		http.Error(w, "missing function name", http.StatusBadRequest)
		return
	}

	if err := c.source.Delete(r.Context(), name); err != nil {
		writeClerr(w, err)
		return
	}
	if err := c.table.Shutdown(r.Context(), name); err != nil && clerr.KindOf(err) != clerr.NotFound {
		writeClerr(w, err)
		return
	}
	c.table.ForgetFunction(name)
	w.WriteHeader(http.StatusOK)
}

// resetFunction implements GET /reset_function/{name}: drops the
// compiled trace and returns the function to a fresh vanilla replica
// (spec.md §4.3's recovery path out of Decontainerized/Error).
func (c *Controller) resetFunction(w http.ResponseWriter, r *http.Request) {
	name, ok := trimPrefixPath(r.URL.Path, "/reset_function/")
	if !ok {
		http.Error(w, "missing function name", http.StatusBadRequest)
		return
	}
	mgr, err := c.table.GetFunction(r.Context(), name)
	if err != nil {
		writeClerr(w, err)
		return
	}
	if err := mgr.Reset(r.Context()); err != nil {
		writeClerr(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// shutdownFunction implements GET /shutdown_function/{name}: scales
// the function to zero and drops it from the table, without touching
// its stored source.
func (c *Controller) shutdownFunction(w http.ResponseWriter, r *http.Request) {
	name, ok := trimPrefixPath(r.URL.Path, "/shutdown_function/")
	if !ok {
		http.Error(w, "missing function name", http.StatusBadRequest)
		return
	}
	if err := c.table.Shutdown(r.Context(), name); err != nil {
		writeClerr(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// getFunction implements GET /get_function/{name}: returns the raw
// source, the same content POSTed at create time.
func (c *Controller) getFunction(w http.ResponseWriter, r *http.Request) {
	name, ok := trimPrefixPath(r.URL.Path, "/get_function/")
	if !ok {
		http.Error(w, "missing function name", http.StatusBadRequest)
		return
	}
	contents, err := c.source.Get(r.Context(), name)
	if err != nil {
		writeClerr(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(contents)
}

// listFunctions implements GET /list_functions: the live function
// table's names, not the source store's — a function with source
// uploaded but never invoked has no manager yet.
func (c *Controller) listFunctions(w http.ResponseWriter, r *http.Request) {
	names := c.table.Names()
	if names == nil {
		names = []string{}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(names)
}

// dispatcherVersion implements GET /dispatcher_version: the currently
// deployed dispatcher generation, bounded by the same 60s poll the
// compiler actor itself uses (spec.md §9, Open Question 1).
func (c *Controller) dispatcherVersion(w http.ResponseWriter, r *http.Request) {
	version, err := c.comp.DispatcherVersion(r.Context())
	if err != nil {
		writeClerr(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(strconv.FormatInt(version, 10)))
}

func trimPrefixPath(path, prefix string) (string, bool) {
	if !strings.HasPrefix(path, prefix) {
		return "", false
	}
	name := strings.TrimPrefix(path, prefix)
	name = strings.Trim(name, "/")
	if name == "" {
		return "", false
	}
	return name, true
}

func writeClerr(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch clerr.KindOf(err) {
	case clerr.NotFound:
		status = http.StatusNotFound
	case clerr.Conflict:
		status = http.StatusConflict
	case clerr.ClusterUnavailable:
		status = http.StatusServiceUnavailable
	case clerr.CompilationFailed, clerr.TracingTimeout, clerr.DeploymentRolloutTimeout:
		status = http.StatusBadGateway
	}
	http.Error(w, err.Error(), status)
}
