// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package callgraph

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/callgraph/services/callgraph/discover"
	"github.com/AleutianAI/callgraph/services/callgraph/pipeline"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func writeProject(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	files := map[string]string{
		"src/main.rs": "mod util;\n\nfn main() {\n    util::helper();\n}\n",
		"src/util.rs": "pub fn helper() {\n    inner();\n}\n\nfn inner() {}\n",
	}
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	return root
}

func setupTestRouter(cfg ServiceConfig) (*gin.Engine, *Service) {
	svc := NewService(pipeline.New(pipeline.WithWorkers(2)), cfg, nil)
	return NewRouter(NewHandlers(svc), "callgraph-test"), svc
}

func doRequest(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func buildGraph(t *testing.T, router *gin.Engine, root string) BuildResponse {
	t.Helper()
	w := doRequest(t, router, http.MethodPost, "/v1/callgraph/build", BuildRequest{Root: root})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp BuildResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestHandleBuild_AndQueries(t *testing.T) {
	router, _ := setupTestRouter(DefaultServiceConfig())
	root := writeProject(t)

	built := buildGraph(t, router, root)
	assert.NotEmpty(t, built.GraphID)
	assert.NotEmpty(t, built.GraphHash)
	assert.Equal(t, 3, built.Stats.Nodes)
	assert.Equal(t, 2, built.Stats.FilesDiscovered)
	assert.Empty(t, built.FileErrors)

	w := doRequest(t, router, http.MethodGet, "/v1/callgraph/graphs/"+built.GraphID+"/callers?name=inner", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var callers FunctionsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &callers))
	require.Equal(t, 1, callers.Count)
	assert.Equal(t, "helper", callers.Functions[0].Name)

	w = doRequest(t, router, http.MethodGet, "/v1/callgraph/graphs/"+built.GraphID+"/callees?name=helper", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var callees FunctionsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &callees))
	require.Equal(t, 1, callees.Count)
	assert.Equal(t, "inner", callees.Functions[0].Name)

	w = doRequest(t, router, http.MethodGet, "/v1/callgraph/graphs/"+built.GraphID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var g GraphResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &g))
	assert.Len(t, g.Graph.Nodes, 3)
	assert.Equal(t, built.GraphHash, g.Graph.GraphHash)

	for _, path := range []string{"/test-only", "/dead-code", "/exclusions"} {
		w = doRequest(t, router, http.MethodGet, "/v1/callgraph/graphs/"+built.GraphID+path, nil)
		assert.Equal(t, http.StatusOK, w.Code, path)
	}
}

func TestHandleImpact(t *testing.T) {
	router, _ := setupTestRouter(DefaultServiceConfig())
	built := buildGraph(t, router, writeProject(t))
	patch := "--- a/src/util.rs\n+++ b/src/util.rs\n@@ -5,1 +5,1 @@\n-fn inner() {}\n+fn inner() { }\n"

	w := doRequest(t, router, http.MethodPost, "/v1/callgraph/graphs/"+built.GraphID+"/impact", ImpactRequest{Patch: patch})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp ImpactResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Files, 1)
	assert.Equal(t, "src/util.rs", resp.Files[0].Path)
	require.Len(t, resp.Changed, 1)
	assert.Equal(t, "inner", resp.Changed[0].Name)
	require.Len(t, resp.Affected, 2)
	assert.Equal(t, "main", resp.Affected[0].Name)
	assert.Equal(t, "helper", resp.Affected[1].Name)
	assert.Empty(t, resp.Tests)

	w = doRequest(t, router, http.MethodPost, "/v1/callgraph/graphs/"+built.GraphID+"/impact", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(t, router, http.MethodPost, "/v1/callgraph/graphs/unknown/impact", ImpactRequest{Patch: patch})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleBuild_Errors(t *testing.T) {
	router, _ := setupTestRouter(ServiceConfig{AllowedRoots: []string{"/srv/projects"}})

	cases := []struct {
		name string
		body any
		code int
		err  string
	}{
		{"missing root", map[string]string{}, http.StatusBadRequest, "INVALID_REQUEST"},
		{"relative root", BuildRequest{Root: "src"}, http.StatusBadRequest, "INVALID_PATH"},
		{"outside allowed roots", BuildRequest{Root: "/etc"}, http.StatusBadRequest, "ROOT_NOT_ALLOWED"},
		{"prefix is not a parent", BuildRequest{Root: "/srv/projects-other"}, http.StatusBadRequest, "ROOT_NOT_ALLOWED"},
		{"missing directory", BuildRequest{Root: "/srv/projects/missing"}, http.StatusBadRequest, "DISCOVERY_FAILED"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := doRequest(t, router, http.MethodPost, "/v1/callgraph/build", tc.body)
			require.Equal(t, tc.code, w.Code, w.Body.String())
			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tc.err, resp.Code)
		})
	}
}

func TestHandleBuild_FilesOutsideAllowedRoot(t *testing.T) {
	parent := t.TempDir()
	allowed := filepath.Join(parent, "allowed")
	require.NoError(t, os.MkdirAll(filepath.Join(allowed, "src"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(allowed, "src", "lib.rs"), []byte("pub fn run() {}\n"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(parent, "secret"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(parent, "secret", "keys.py"), []byte("def aws_secret_key():\n    pass\n"), 0o644))

	router, svc := setupTestRouter(ServiceConfig{AllowedRoots: []string{allowed}})

	for _, f := range []string{"../secret/keys.py", "src/../../secret/keys.py", filepath.Join(parent, "secret", "keys.py")} {
		w := doRequest(t, router, http.MethodPost, "/v1/callgraph/build", BuildRequest{Root: allowed, Files: []string{f}})
		require.Equal(t, http.StatusBadRequest, w.Code, f)
		var resp ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "INVALID_PATH", resp.Code, f)
	}
	assert.Equal(t, 0, svc.GraphCount())

	_, err := svc.Build(context.Background(), allowed, []string{"../secret/keys.py"})
	assert.ErrorIs(t, err, discover.ErrPathOutsideRoot)

	srv := httptest.NewServer(router)
	defer srv.Close()
	ws := dialStream(t, srv, url.Values{"root": {allowed}, "file": {"../secret/keys.py"}})
	var msg StreamMessage
	require.NoError(t, ws.ReadJSON(&msg))
	assert.Equal(t, "error", msg.Type)
	require.NotNil(t, msg.Error)
	assert.Equal(t, "INVALID_PATH", msg.Error.Code)

	built := buildGraph(t, router, allowed)
	assert.Equal(t, 1, built.Stats.Nodes)
}

func TestHandleBuild_InProgress(t *testing.T) {
	router, svc := setupTestRouter(DefaultServiceConfig())
	root := writeProject(t)

	lock := svc.buildLock(filepath.Clean(root))
	lock.Lock()
	defer lock.Unlock()

	w := doRequest(t, router, http.MethodPost, "/v1/callgraph/build", BuildRequest{Root: root})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestHandleQueries_Errors(t *testing.T) {
	router, _ := setupTestRouter(DefaultServiceConfig())
	built := buildGraph(t, router, writeProject(t))

	w := doRequest(t, router, http.MethodGet, "/v1/callgraph/graphs/"+built.GraphID+"/callers", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(t, router, http.MethodGet, "/v1/callgraph/graphs/unknown/callers?name=x", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doRequest(t, router, http.MethodGet, "/v1/callgraph/graphs/unknown", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleHealth(t *testing.T) {
	router, _ := setupTestRouter(DefaultServiceConfig())

	w := doRequest(t, router, http.MethodGet, "/v1/callgraph/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Zero(t, resp.Graphs)
}

func TestRequestIDIsEchoed(t *testing.T) {
	router, _ := setupTestRouter(DefaultServiceConfig())

	req, err := http.NewRequest(http.MethodGet, "/v1/callgraph/graphs/x/callers?name=y", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-ID", "req-123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "req-123", w.Header().Get("X-Request-ID"))
}

func TestService_Eviction(t *testing.T) {
	router, svc := setupTestRouter(ServiceConfig{MaxCachedGraphs: 2})
	root := writeProject(t)

	first := buildGraph(t, router, root)
	second := buildGraph(t, router, root)
	third := buildGraph(t, router, root)

	assert.Equal(t, 2, svc.GraphCount())
	_, err := svc.Graph(first.GraphID)
	assert.ErrorIs(t, err, ErrGraphNotFound)
	_, err = svc.Graph(second.GraphID)
	assert.NoError(t, err)
	_, err = svc.Graph(third.GraphID)
	assert.NoError(t, err)
	assert.Equal(t, first.GraphHash, third.GraphHash)
}

func dialStream(t *testing.T, srv *httptest.Server, query url.Values) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/callgraph/build/stream?" + query.Encode()
	ws, resp, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { ws.Close() })
	return ws
}

func TestHandleBuildStream(t *testing.T) {
	router, svc := setupTestRouter(DefaultServiceConfig())
	srv := httptest.NewServer(router)
	defer srv.Close()
	root := writeProject(t)

	ws := dialStream(t, srv, url.Values{"root": {root}})

	var progress []ProgressInfo
	var final StreamMessage
	for {
		var msg StreamMessage
		require.NoError(t, ws.ReadJSON(&msg))
		if msg.Type != "progress" {
			final = msg
			break
		}
		require.NotNil(t, msg.Progress)
		progress = append(progress, *msg.Progress)
	}

	require.NotEmpty(t, progress)
	last := progress[len(progress)-1]
	assert.Equal(t, "finalizing", last.Phase)
	assert.Equal(t, last.Total, last.Current)

	require.Equal(t, "result", final.Type)
	require.NotNil(t, final.Result)
	assert.Equal(t, 3, final.Result.Stats.Nodes)
	_, err := svc.Graph(final.Result.GraphID)
	assert.NoError(t, err)
}

func TestHandleBuildStream_Errors(t *testing.T) {
	router, _ := setupTestRouter(DefaultServiceConfig())
	srv := httptest.NewServer(router)
	defer srv.Close()

	ws := dialStream(t, srv, url.Values{"root": {"relative/path"}})
	var msg StreamMessage
	require.NoError(t, ws.ReadJSON(&msg))
	assert.Equal(t, "error", msg.Type)
	require.NotNil(t, msg.Error)
	assert.Equal(t, "INVALID_PATH", msg.Error.Code)

	w := doRequest(t, router, http.MethodGet, "/v1/callgraph/build/stream", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
