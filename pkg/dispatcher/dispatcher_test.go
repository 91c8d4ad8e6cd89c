package dispatcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/containerless/platform/pkg/cluster/fake"
	"github.com/containerless/platform/pkg/compiler"
	"github.com/containerless/platform/pkg/config"
	"github.com/containerless/platform/pkg/sourcestore"
	"github.com/containerless/platform/pkg/table"
	"github.com/containerless/platform/pkg/tracert"
)

func TestSplitFunctionPath(t *testing.T) {
	cases := []struct {
		in       string
		wantName string
		wantRest string
		wantOK   bool
	}{
		{"/hello/x", "hello", "/x", true},
		{"/hello", "hello", "/", true},
		{"/", "", "", false},
		{"", "", "", false},
	}
	for _, c := range cases {
		name, rest, ok := splitFunctionPath(c.in)
		assert.Equal(t, c.wantOK, ok, c.in)
		if ok {
			assert.Equal(t, c.wantName, name, c.in)
			assert.Equal(t, c.wantRest, rest, c.in)
		}
	}
}

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	cfg := config.Default()
	cfg.Root = t.TempDir()
	driver := fake.New()
	comp := compiler.New(cfg, driver, tracert.NewRegistry())
	tbl := table.New(cfg, driver, comp, tracert.NewRegistry(), sourcestore.NewFake(), nil, nil)
	return New(":0", tbl)
}

func TestReadinessProbe(t *testing.T) {
	d := newTestDispatcher(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/readinessProbe", nil)
	d.handle(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, readinessBody, rec.Body.String())
}

func TestUnknownFunctionReturns404(t *testing.T) {
	d := newTestDispatcher(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/missing/x", nil)
	d.handle(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestShutdownOrphansTableWithoutError(t *testing.T) {
	d := newTestDispatcher(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, d.Shutdown(ctx))
}
