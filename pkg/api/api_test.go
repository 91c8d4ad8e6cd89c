package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/containerless/platform/pkg/cluster/fake"
	"github.com/containerless/platform/pkg/compiler"
	"github.com/containerless/platform/pkg/config"
	"github.com/containerless/platform/pkg/sourcestore"
	"github.com/containerless/platform/pkg/table"
	"github.com/containerless/platform/pkg/tracert"
)

func newTestController(t *testing.T) (*Controller, sourcestore.Client) {
	t.Helper()
	cfg := config.Default()
	cfg.Root = t.TempDir()
	driver := fake.New()
	comp := compiler.New(cfg, driver, tracert.NewRegistry())
	source := sourcestore.NewFake()
	tbl := table.New(cfg, driver, comp, tracert.NewRegistry(), source, nil, nil)
	return New(":0", tbl, source, comp, driver), source
}

func TestSystemStatusReportsRegisteredFunctions(t *testing.T) {
	c, source := newTestController(t)
	require.NoError(t, source.Create(context.Background(), "hello", []byte("src")))
	_, err := c.table.GetFunction(context.Background(), "hello")
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/system_status", nil)
	c.systemStatus(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "hello")
}

func TestCreateFunctionThenGetRoundTrips(t *testing.T) {
	c, _ := newTestController(t)

	body, err := json.Marshal(createFunctionRequest{Contents: "function h(req,resp){resp('ok')}"})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/create_function/hello", bytes.NewReader(body))
	c.createFunction(rec, req)
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/get_function/hello", nil)
	c.getFunction(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "function h(req,resp){resp('ok')}", rec.Body.String())
}

func TestCreateFunctionConflictReturns409(t *testing.T) {
	c, source := newTestController(t)
	require.NoError(t, source.Create(context.Background(), "hello", []byte("a")))

	body, _ := json.Marshal(createFunctionRequest{Contents: "b"})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/create_function/hello", bytes.NewReader(body))
	c.createFunction(rec, req)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestGetUnknownFunctionReturns404(t *testing.T) {
	c, _ := newTestController(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/get_function/missing", nil)
	c.getFunction(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListFunctionsReturnsJSONArray(t *testing.T) {
	c, source := newTestController(t)
	require.NoError(t, source.Create(context.Background(), "hello", []byte("src")))
	_, err := c.table.GetFunction(context.Background(), "hello")
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/list_functions", nil)
	c.listFunctions(rec, req)

	var names []string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &names))
	assert.Equal(t, []string{"hello"}, names)
}

func TestDeleteFunctionRemovesSourceAndManager(t *testing.T) {
	c, source := newTestController(t)
	require.NoError(t, source.Create(context.Background(), "hello", []byte("src")))
	_, err := c.table.GetFunction(context.Background(), "hello")
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/delete_function/hello", nil)
	c.deleteFunction(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	assert.False(t, c.table.Exists("hello"))
	_, err = source.Get(context.Background(), "hello")
	assert.Error(t, err)
}

func TestShutdownFunctionUnknownNameReturns404(t *testing.T) {
	c, _ := newTestController(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/shutdown_function/missing", nil)
	c.shutdownFunction(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
