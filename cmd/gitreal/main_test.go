package main

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var mainGo = "package main\n\n" + strings.Repeat("// filler line for a realistic file size\n", 4) + "func main() {}\n"

func newFakeAPI(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var treeRequests atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/repos/octo/hello", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"full_name": "octo/hello", "default_branch": "main"})
	})
	mux.HandleFunc("/repos/octo/hello/git/trees/main", func(w http.ResponseWriter, r *http.Request) {
		treeRequests.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"sha":  "abc",
			"tree": []map[string]any{{"path": "main.go", "type": "blob", "size": len(mainGo)}},
		})
	})
	mux.HandleFunc("/repos/octo/hello/contents/main.go", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"path":     "main.go",
			"encoding": "base64",
			"content":  base64.StdEncoding.EncodeToString([]byte(mainGo)),
		})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &treeRequests
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestFetchRepeatServesFromCache(t *testing.T) {
	srv, treeRequests := newFakeAPI(t)

	out, logs, err := execute(t, "fetch", "--api-url", srv.URL, "--token", "", "--repeat", "3", "github.com/octo/hello")
	require.NoError(t, err)

	assert.Equal(t, "--- FILE: main.go ---\n"+mainGo+"\n\n", out)
	assert.Equal(t, int32(1), treeRequests.Load())
	assert.Equal(t, 1, strings.Count(logs, "hit=false"))
	assert.Equal(t, 2, strings.Count(logs, "hit=true"))
}

func TestFetchStatsAsYAML(t *testing.T) {
	srv, _ := newFakeAPI(t)

	_, logs, err := execute(t, "fetch", "--api-url", srv.URL, "--token", "", "--repeat", "2", "--max-size", "7", "--stats", "github.com/octo/hello")
	require.NoError(t, err)

	assert.Contains(t, logs, "len: 1\n")
	assert.Contains(t, logs, "max_size: 7\n")
	assert.Contains(t, logs, "ttl: 1h0m0s\n")
	assert.Contains(t, logs, "hits: 1\n")
	assert.Contains(t, logs, "misses: 1\n")
}

func TestFetchRejectsBadInput(t *testing.T) {
	srv, _ := newFakeAPI(t)

	_, _, err := execute(t, "fetch", "--api-url", srv.URL, "--token", "", "https://gitlab.com/octo/hello")
	assert.Error(t, err)

	_, _, err = execute(t, "fetch", "--api-url", srv.URL, "--token", "", "--repeat", "0", "github.com/octo/hello")
	assert.Error(t, err)

	_, _, err = execute(t, "fetch", "--api-url", srv.URL, "--token", "", "--ttl", "10ms", "github.com/octo/hello")
	assert.Error(t, err)
}

func TestVersion(t *testing.T) {
	out, _, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "gitreal version: dev")
}
