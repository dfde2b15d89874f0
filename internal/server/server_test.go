package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runnerr0/nobletrack/internal/config"
	"github.com/runnerr0/nobletrack/internal/storage"
	"github.com/runnerr0/nobletrack/internal/tracker"
)

func newTestServer(t *testing.T) (*Server, *tracker.Tracker) {
	t.Helper()

	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			_, _ = w.Write([]byte(`[]`))
			return
		}
		_, _ = w.Write([]byte(`{"ok":true,"id":"T1"}`))
	}))
	t.Cleanup(remote.Close)

	cfg := config.DefaultConfig()
	cfg.Remote.Endpoint = remote.URL
	cfg.Privacy.ConsentLogging = true

	store, err := storage.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tr := tracker.New(cfg, "", store, logger, nil)
	tr.Client().SetRetryBase(time.Millisecond)

	return New(tr, logger, nil), tr
}

func postMessage(t *testing.T, s *Server, body string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/message", strings.NewReader(body))
	req.Header.Set(echoContentType, "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var res map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	return rec.Code, res
}

const echoContentType = "Content-Type"

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestMessage_StartAndStopSession(t *testing.T) {
	s, tr := newTestServer(t)

	code, res := postMessage(t, s, `{"type":"START_SESSION","user":"Umut","projectTag":"noble"}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, res["ok"])
	sess := res["activeSession"].(map[string]any)
	assert.Equal(t, "Umut", sess["user"])
	assert.Equal(t, "noble", sess["projectTag"])
	require.NotNil(t, tr.State().Session)

	code, res = postMessage(t, s, `{"type":"STOP_SESSION","notes":"wrap up"}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, res["ok"])
	assert.Nil(t, tr.State().Session)
}

func TestMessage_StartSessionUnknownUser(t *testing.T) {
	s, _ := newTestServer(t)

	code, res := postMessage(t, s, `{"type":"START_SESSION","user":"Mallory"}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, res["ok"])
	assert.Contains(t, res["error"], "unknown user")
}

func TestMessage_GetState(t *testing.T) {
	s, _ := newTestServer(t)

	code, res := postMessage(t, s, `{"type":"GET_STATE"}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, res, "activeSession")
	assert.Contains(t, res, "tasks")
	assert.Contains(t, res, "pending")

	cfg := res["config"].(map[string]any)
	assert.Equal(t, true, cfg["endpointConfigured"])
	assert.Equal(t, true, cfg["consentLogging"])
	assert.Equal(t, false, cfg["hasSecret"])
}

func TestGetState_MatchesMessageForm(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/state", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	_, viaMessage := postMessage(t, s, `{"type":"GET_STATE"}`)
	var viaGet map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &viaGet))
	assert.Equal(t, viaMessage, viaGet)
}

func TestMessage_TaskLifecycle(t *testing.T) {
	s, _ := newTestServer(t)

	code, res := postMessage(t, s, `{"type":"ADD_TASK","user":"Umut","task":"ship it"}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, res["ok"])
	task := res["task"].(map[string]any)
	assert.Equal(t, "T1", task["id"])
	assert.Equal(t, "ship it", task["task"])

	code, res = postMessage(t, s, `{"type":"UPDATE_TASK_STATUS","taskId":"T1","status":"DONE"}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, res["ok"])

	code, res = postMessage(t, s, `{"type":"UNDO_TASK_STATUS","taskId":"T1","previousStatus":"TODO"}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, res["ok"])
	assert.Equal(t, "TODO", res["task"].(map[string]any)["status"])
}

func TestMessage_PageVisitAndManualFlush(t *testing.T) {
	s, tr := newTestServer(t)

	// Flush with nothing buffered reports ok:false, count 0.
	code, res := postMessage(t, s, `{"type":"MANUAL_FLUSH"}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, res["ok"])
	assert.Equal(t, float64(0), res["count"])

	_, res = postMessage(t, s, `{"type":"START_SESSION","user":"Umut"}`)
	require.Equal(t, true, res["ok"])

	code, res = postMessage(t, s, `{"type":"PAGE_VISIT","url":"https://example.com/a","title":"A"}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, res["ok"])
	assert.Equal(t, 1, tr.State().Pending)

	code, res = postMessage(t, s, `{"type":"MANUAL_FLUSH"}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, res["ok"])
	assert.Equal(t, float64(1), res["count"])
	assert.Equal(t, 0, tr.State().Pending)
}

func TestMessage_LogDocument(t *testing.T) {
	s, _ := newTestServer(t)

	code, res := postMessage(t, s, `{"type":"LOG_DOCUMENT","meta":{"user":"Umut","name":"Q3 Plan"}}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, res["ok"])
	assert.Contains(t, res, "record")

	code, res = postMessage(t, s, `{"type":"LOG_DOCUMENT"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, false, res["ok"])
}

func TestMessage_ConfigUpdated(t *testing.T) {
	s, _ := newTestServer(t)

	code, res := postMessage(t, s, `{"type":"CONFIG_UPDATED"}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, res["ok"])
	assert.Equal(t, true, res["endpointConfigured"])
	assert.Equal(t, true, res["consentLogging"])
}

func TestMessage_UnknownType(t *testing.T) {
	s, _ := newTestServer(t)

	code, res := postMessage(t, s, `{"type":"SELF_DESTRUCT"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, false, res["ok"])
	assert.Contains(t, res["error"], "SELF_DESTRUCT")
}

func TestTicks_StreamsHeartbeat(t *testing.T) {
	s, tr := newTestServer(t)

	_, res := postMessage(t, s, `{"type":"START_SESSION","user":"Umut"}`)
	require.Equal(t, true, res["ok"])

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tr.Run(ctx)

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/ticks", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// The heartbeat fires every second; the first frame should arrive
	// within a couple of periods.
	deadline := time.After(5 * time.Second)
	frame := make(chan []byte, 1)
	go func() {
		reader := bufio.NewReader(resp.Body)
		for {
			line, err := reader.ReadBytes('\n')
			if err != nil {
				return
			}
			if bytes.HasPrefix(line, []byte("data: ")) {
				frame <- bytes.TrimSpace(bytes.TrimPrefix(line, []byte("data: ")))
				return
			}
		}
	}()

	select {
	case data := <-frame:
		var tick map[string]any
		require.NoError(t, json.Unmarshal(data, &tick))
		sess := tick["activeSession"].(map[string]any)
		assert.Equal(t, "Umut", sess["user"])
		assert.Contains(t, tick, "pending")
	case <-deadline:
		t.Fatal("no tick frame received")
	}
}
