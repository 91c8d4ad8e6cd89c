package cliclient

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateFunctionSendsJSONBody(t *testing.T) {
	var gotPath, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := New(srv.URL)
	err := c.CreateFunction(context.Background(), "hello", "function h(){}")
	require.NoError(t, err)
	assert.Equal(t, "/create_function/hello", gotPath)

	var decoded map[string]string
	require.NoError(t, json.Unmarshal([]byte(gotBody), &decoded))
	assert.Equal(t, "function h(){}", decoded["contents"])
}

func TestListFunctionsDecodesJSONArray(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]string{"hello", "world"})
	}))
	defer srv.Close()

	c := New(srv.URL)
	names, err := c.ListFunctions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"hello", "world"}, names)
}

func TestDispatcherVersionParsesInteger(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("42"))
	}))
	defer srv.Close()

	c := New(srv.URL)
	version, err := c.DispatcherVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(42), version)
}

func TestGetFunctionErrorResponseSurfacesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "function \"missing\" not found", http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.GetFunction(context.Background(), "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}
