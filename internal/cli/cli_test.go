package cli

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureOutput captures stdout during fn execution and returns it as a string.
func captureOutput(t *testing.T, fn func()) string {
	t.Helper()
	old := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w

	fn()

	w.Close()
	os.Stdout = old

	var buf bytes.Buffer
	_, _ = io.Copy(&buf, r)
	return buf.String()
}

// fakeDaemon serves canned /api/message and /api/state responses.
func fakeDaemon(t *testing.T, state map[string]any, respond func(msg map[string]any) map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/state":
			_ = json.NewEncoder(w).Encode(state)
		case "/api/message":
			var msg map[string]any
			_ = json.NewDecoder(r.Body).Decode(&msg)
			_ = json.NewEncoder(w).Encode(respond(msg))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestVersionFlag(t *testing.T) {
	output := captureOutput(t, func() {
		err := RunWithArgs("0.1.0-test", []string{"--version"})
		assert.NoError(t, err)
	})
	assert.Equal(t, "nobletrack 0.1.0-test", strings.TrimSpace(output))
}

func TestSubcommandsRegistered(t *testing.T) {
	parser, _, _ := buildParser("test")
	for _, name := range []string{"serve", "status", "start", "stop", "flush", "dashboard"} {
		assert.NotNil(t, parser.Find(name), "subcommand %s not registered", name)
	}
}

func TestStatusCommand_HumanOutput(t *testing.T) {
	srv := fakeDaemon(t, map[string]any{
		"activeSession": map[string]any{
			"user":           "Umut",
			"projectTag":     "noble",
			"start":          "2025-06-02T09:00:00Z",
			"activityEvents": float64(12),
			"domains":        []any{"example.com"},
		},
		"pending": float64(3),
		"config": map[string]any{
			"endpointConfigured": true,
			"consentLogging":     true,
			"hasSecret":          false,
			"enableTelemetry":    false,
			"idleMinutes":        float64(30),
		},
	}, nil)

	cmd := &StatusCommand{globals: &GlobalFlags{}, version: "test", baseURL: srv.URL}
	output := captureOutput(t, func() {
		require.NoError(t, cmd.Execute(nil))
	})

	assert.Contains(t, output, "Session:       active (Umut)")
	assert.Contains(t, output, "Project:       noble")
	assert.Contains(t, output, "Pending:       3 buffered records")
	assert.Contains(t, output, "Endpoint:    configured")
	assert.Contains(t, output, "Signing:     disabled")
	assert.Contains(t, output, "Idle stop:   30 minutes")
}

func TestStatusCommand_IdleOutput(t *testing.T) {
	srv := fakeDaemon(t, map[string]any{
		"activeSession": nil,
		"pending":       float64(0),
		"config":        map[string]any{},
	}, nil)

	cmd := &StatusCommand{globals: &GlobalFlags{}, version: "test", baseURL: srv.URL}
	output := captureOutput(t, func() {
		require.NoError(t, cmd.Execute(nil))
	})
	assert.Contains(t, output, "Session:       idle")
}

func TestStatusCommand_JSONOutput(t *testing.T) {
	srv := fakeDaemon(t, map[string]any{
		"activeSession": nil,
		"pending":       float64(7),
		"config":        map[string]any{},
	}, nil)

	cmd := &StatusCommand{globals: &GlobalFlags{JSON: true}, version: "test", baseURL: srv.URL}
	output := captureOutput(t, func() {
		require.NoError(t, cmd.Execute(nil))
	})

	var state map[string]any
	require.NoError(t, json.Unmarshal([]byte(output), &state))
	assert.Equal(t, float64(7), state["pending"])
}

func TestStartCommand(t *testing.T) {
	var got map[string]any
	srv := fakeDaemon(t, nil, func(msg map[string]any) map[string]any {
		got = msg
		return map[string]any{"ok": true, "activeSession": map[string]any{"user": msg["user"]}}
	})

	cmd := &StartCommand{User: "Umut", Project: "noble", globals: &GlobalFlags{}, baseURL: srv.URL}
	output := captureOutput(t, func() {
		require.NoError(t, cmd.Execute(nil))
	})

	assert.Equal(t, "START_SESSION", got["type"])
	assert.Equal(t, "Umut", got["user"])
	assert.Equal(t, "noble", got["projectTag"])
	assert.Contains(t, output, "Session started for Umut")
}

func TestStartCommand_RequiresUser(t *testing.T) {
	cmd := &StartCommand{globals: &GlobalFlags{}}
	err := cmd.Execute(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--user is required")
}

func TestStartCommand_AlreadyActive(t *testing.T) {
	srv := fakeDaemon(t, nil, func(msg map[string]any) map[string]any {
		return map[string]any{"ok": true, "activeSession": map[string]any{"user": "Emircan"}}
	})

	cmd := &StartCommand{User: "Umut", globals: &GlobalFlags{}, baseURL: srv.URL}
	output := captureOutput(t, func() {
		require.NoError(t, cmd.Execute(nil))
	})
	assert.Contains(t, output, "already active for Emircan")
}

func TestStartCommand_DaemonError(t *testing.T) {
	srv := fakeDaemon(t, nil, func(msg map[string]any) map[string]any {
		return map[string]any{"ok": false, "error": `unknown user "Umut"`}
	})

	cmd := &StartCommand{User: "Umut", globals: &GlobalFlags{}, baseURL: srv.URL}
	err := cmd.Execute(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown user")
}

func TestStopCommand(t *testing.T) {
	var got map[string]any
	srv := fakeDaemon(t, nil, func(msg map[string]any) map[string]any {
		got = msg
		return map[string]any{"ok": true}
	})

	cmd := &StopCommand{Notes: "wrap up", globals: &GlobalFlags{}, baseURL: srv.URL}
	output := captureOutput(t, func() {
		require.NoError(t, cmd.Execute(nil))
	})

	assert.Equal(t, "STOP_SESSION", got["type"])
	assert.Equal(t, "wrap up", got["notes"])
	assert.Contains(t, output, "Session stopped.")
}

func TestFlushCommand(t *testing.T) {
	srv := fakeDaemon(t, nil, func(msg map[string]any) map[string]any {
		return map[string]any{"ok": true, "count": float64(42)}
	})

	cmd := &FlushCommand{globals: &GlobalFlags{}, baseURL: srv.URL}
	output := captureOutput(t, func() {
		require.NoError(t, cmd.Execute(nil))
	})
	assert.Contains(t, output, "Flushed 42 buffered records.")
}

func TestFlushCommand_EmptyBuffer(t *testing.T) {
	srv := fakeDaemon(t, nil, func(msg map[string]any) map[string]any {
		return map[string]any{"ok": false, "count": float64(0)}
	})

	cmd := &FlushCommand{globals: &GlobalFlags{}, baseURL: srv.URL}
	output := captureOutput(t, func() {
		require.NoError(t, cmd.Execute(nil))
	})
	assert.Contains(t, output, "Nothing to flush.")
}

func TestDashboardCommand(t *testing.T) {
	srv := fakeDaemon(t, nil, func(msg map[string]any) map[string]any {
		return map[string]any{"ok": true, "data": map[string]any{"totalMinutes": float64(90)}}
	})

	cmd := &DashboardCommand{User: "Umut", globals: &GlobalFlags{}, baseURL: srv.URL}
	output := captureOutput(t, func() {
		require.NoError(t, cmd.Execute(nil))
	})

	var data map[string]any
	require.NoError(t, json.Unmarshal([]byte(output), &data))
	assert.Equal(t, float64(90), data["totalMinutes"])
}

func TestCommandsUnreachableDaemon(t *testing.T) {
	// A port nothing listens on.
	base := "http://127.0.0.1:1"

	err := (&StopCommand{globals: &GlobalFlags{}, baseURL: base}).Execute(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "daemon not reachable")
}
