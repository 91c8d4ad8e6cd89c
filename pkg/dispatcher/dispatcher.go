// Package dispatcher is the dispatcher front-end: a single HTTP
// listener that proxies user traffic to the right function manager
// (spec.md §4.7). Its server lifecycle is grounded on
// cuemby-warren/pkg/ingress/proxy.go's Start/Shutdown shape; the routing
// itself is far simpler, since a function name is just the first path
// segment rather than host/path ingress matching.
package dispatcher

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/containerless/platform/pkg/clerr"
	"github.com/containerless/platform/pkg/log"
	"github.com/containerless/platform/pkg/metrics"
	"github.com/containerless/platform/pkg/table"
	"github.com/containerless/platform/pkg/types"
)

const readinessBody = "ok"

// Dispatcher is the dispatcher-agent's HTTP front-end.
type Dispatcher struct {
	addr   string
	table  *table.Table
	server *http.Server
	logger zerolog.Logger
}

// New returns a Dispatcher listening on addr (":8080" per spec.md §4.7).
func New(addr string, tbl *table.Table) *Dispatcher {
	d := &Dispatcher{addr: addr, table: tbl, logger: log.WithComponent("dispatcher")}
	d.server = &http.Server{
		Addr:         addr,
		Handler:      http.HandlerFunc(d.handle),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // user function responses may stream; unbounded from our view
		IdleTimeout:  120 * time.Second,
	}
	return d
}

// Serve starts the HTTP listener and blocks until the server exits
// (either from Shutdown or a listener error).
func (d *Dispatcher) Serve() error {
	listener, err := net.Listen("tcp", d.addr)
	if err != nil {
		return clerr.New("dispatcher.serve", clerr.Unknown, err)
	}
	d.logger.Info().Str("addr", d.addr).Msg("dispatcher listening")
	if err := d.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return clerr.New("dispatcher.serve", clerr.Unknown, err)
	}
	return nil
}

// Shutdown stops accepting new connections, drains in-flight ones, and
// orphans the function table so a successor process can adopt its
// managers, matching spec.md §4.7's graceful-SIGTERM contract.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	if err := d.server.Shutdown(ctx); err != nil {
		d.logger.Warn().Err(err).Msg("error shutting down HTTP server")
	}
	d.table.Orphan()
	return nil
}

func (d *Dispatcher) handle(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/readinessProbe" && r.Method == http.MethodGet {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(readinessBody))
		return
	}

	name, rest, ok := splitFunctionPath(r.URL.Path)
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	timer := metrics.NewTimer()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "error reading request body", http.StatusBadRequest)
		return
	}

	mgr, err := d.table.GetFunction(r.Context(), name)
	if err != nil {
		d.writeError(w, name, timer, err)
		return
	}

	resp, err := mgr.Invoke(r.Context(), &types.Request{
		Method: r.Method,
		Path:   rest,
		Header: r.Header,
		Body:   body,
	})
	if err != nil {
		d.writeError(w, name, timer, err)
		return
	}

	for k, vs := range resp.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.Status)
	_, _ = w.Write(resp.Body)

	metrics.DispatcherRequestsTotal.WithLabelValues(name, http.StatusText(resp.Status)).Inc()
	timer.ObserveDurationVec(metrics.DispatcherRequestDuration, name)
}

func (d *Dispatcher) writeError(w http.ResponseWriter, name string, timer *metrics.Timer, err error) {
	status := http.StatusInternalServerError
	switch clerr.KindOf(err) {
	case clerr.NotFound:
		status = http.StatusNotFound
	case clerr.ClusterUnavailable:
		status = http.StatusServiceUnavailable
	}
	http.Error(w, err.Error(), status)
	metrics.DispatcherRequestsTotal.WithLabelValues(name, http.StatusText(status)).Inc()
	timer.ObserveDurationVec(metrics.DispatcherRequestDuration, name)
}

// splitFunctionPath splits "/<function_name>/<path...>" into the
// function name and the forwarded path, which always starts with "/"
// per spec.md §4.7's "invoke(method, "/"+path, body)".
func splitFunctionPath(p string) (name, rest string, ok bool) {
	trimmed := strings.TrimPrefix(p, "/")
	if trimmed == "" {
		return "", "", false
	}
	idx := strings.IndexByte(trimmed, '/')
	if idx == -1 {
		return trimmed, "/", true
	}
	return trimmed[:idx], trimmed[idx:], true
}
