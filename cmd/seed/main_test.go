package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"perfassess/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const drillYAML = `
name: Drill
tasks:
  - name: Breach
    nodeId: 4
    endTriggers: [{kind: manual, name: stop}]
    concepts:
      - name: Entry
        conditions: [{kind: observed, name: rating}]
`

func writeDefinition(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func execute(args ...string) (string, error) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestValidatePrintsNodeIDs(t *testing.T) {
	out, err := execute("validate", writeDefinition(t, "drill.yaml", drillYAML))
	require.NoError(t, err)
	assert.Contains(t, out, "Drill: 1 tasks, 0 session end triggers")
	assert.Contains(t, out, "task 4 Breach")
	assert.Contains(t, out, "concept 5 Entry")
}

func TestValidateRejects(t *testing.T) {
	_, err := execute("validate", writeDefinition(t, "drill.txt", drillYAML))
	assert.Error(t, err)
	_, err = execute("validate", writeDefinition(t, "drill.yaml", "name: Drill"))
	assert.Error(t, err)
}

func TestCreateLogsInAndStarts(t *testing.T) {
	var calls []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.URL.Path)
		switch r.URL.Path {
		case "/v1/auth/login":
			var req model.LoginRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "observer", req.Username)
			json.NewEncoder(w).Encode(model.LoginResponse{Token: "tok"})
		case "/v1/sessions":
			assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
			assert.Equal(t, "application/yaml", r.Header.Get("Content-Type"))
			body, _ := io.ReadAll(r.Body)
			assert.Equal(t, drillYAML, string(body))
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(model.SessionRecord{ID: "s1", Name: "Drill"})
		case "/v1/sessions/s1/start":
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	out, err := execute("create", "--api", srv.URL, "--username", "observer", "--password", "pw", "--start",
		writeDefinition(t, "drill.yaml", drillYAML))
	require.NoError(t, err)
	assert.Equal(t, []string{"/v1/auth/login", "/v1/sessions", "/v1/sessions/s1/start"}, calls)
	assert.Contains(t, out, "created session s1 (Drill)")
	assert.Contains(t, out, "started session s1")
}

func TestCreateReportsServerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"invalid credentials"}`))
	}))
	defer srv.Close()

	_, err := execute("create", "--api", srv.URL, "--password", "nope", writeDefinition(t, "drill.yaml", drillYAML))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid credentials")
}
