// Package server exposes the coordinator over a local HTTP surface:
// a single message endpoint dispatching on message type, a state read,
// an SSE tick stream, and health/metrics endpoints. It binds to
// loopback only; the daemon is a per-user local service, not a network
// server.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/runnerr0/nobletrack/internal/metrics"
	"github.com/runnerr0/nobletrack/internal/record"
	"github.com/runnerr0/nobletrack/internal/tracker"
)

// Server is the local HTTP surface over a Tracker.
type Server struct {
	e       *echo.Echo
	tracker *tracker.Tracker
	log     *slog.Logger
}

// New builds the server and registers all routes. m may be nil, in
// which case /metrics serves an empty registry.
func New(tr *tracker.Tracker, logger *slog.Logger, m *metrics.Metrics) *Server {
	s := &Server{
		tracker: tr,
		log:     logger.With("component", "server"),
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	e.POST("/api/message", s.handleMessage)
	e.GET("/api/state", s.handleState)
	e.GET("/api/ticks", s.handleTicks)
	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	if m != nil {
		e.GET("/metrics", echo.WrapHandler(m.Handler()))
	}

	s.e = e
	return s
}

// Start serves on addr until Shutdown. Blocks.
func (s *Server) Start(addr string) error {
	s.log.Info("listening", "addr", addr)
	if err := s.e.Start(addr); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.e.Shutdown(ctx)
}

// Handler exposes the route tree for in-process tests.
func (s *Server) Handler() http.Handler { return s.e }

// message is the single request envelope for POST /api/message. Fields
// beyond Type are interpreted per message kind.
type message struct {
	Type string `json:"type"`

	User       string `json:"user,omitempty"`
	ProjectTag string `json:"projectTag,omitempty"`
	Notes      string `json:"notes,omitempty"`

	Task           string `json:"task,omitempty"`
	TaskID         string `json:"taskId,omitempty"`
	Status         string `json:"status,omitempty"`
	PreviousStatus string `json:"previousStatus,omitempty"`

	Meta *record.Document `json:"meta,omitempty"`

	URL   string `json:"url,omitempty"`
	Title string `json:"title,omitempty"`
}

func (s *Server) handleMessage(c echo.Context) error {
	var msg message
	if err := c.Bind(&msg); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"ok": false, "error": "malformed message"})
	}
	ctx := c.Request().Context()

	switch msg.Type {
	case "START_SESSION":
		sess, err := s.tracker.StartSession(ctx, msg.User, msg.ProjectTag)
		if err != nil {
			return c.JSON(http.StatusOK, echo.Map{"ok": false, "error": err.Error()})
		}
		return c.JSON(http.StatusOK, echo.Map{"ok": true, "activeSession": sess})

	case "STOP_SESSION":
		if err := s.tracker.StopSession(ctx, msg.Notes); err != nil {
			return c.JSON(http.StatusOK, echo.Map{"ok": false, "error": err.Error()})
		}
		return c.JSON(http.StatusOK, echo.Map{"ok": true})

	case "GET_STATE":
		return c.JSON(http.StatusOK, s.tracker.State())

	case "ADD_TASK":
		task, err := s.tracker.AddTask(ctx, msg.User, msg.Task)
		if err != nil {
			return c.JSON(http.StatusOK, echo.Map{"ok": false, "error": err.Error()})
		}
		return c.JSON(http.StatusOK, echo.Map{"ok": true, "task": task})

	case "UPDATE_TASK_STATUS":
		task, err := s.tracker.UpdateTaskStatus(ctx, msg.TaskID, msg.Status)
		if err != nil {
			return c.JSON(http.StatusOK, echo.Map{"ok": false, "error": err.Error()})
		}
		return c.JSON(http.StatusOK, echo.Map{"ok": true, "task": task})

	case "UNDO_TASK_STATUS":
		task, err := s.tracker.UpdateTaskStatus(ctx, msg.TaskID, msg.PreviousStatus)
		if err != nil {
			return c.JSON(http.StatusOK, echo.Map{"ok": false, "error": err.Error()})
		}
		return c.JSON(http.StatusOK, echo.Map{"ok": true, "task": task})

	case "FETCH_DASHBOARD":
		data, err := s.tracker.FetchDashboard(ctx, msg.User)
		if err != nil {
			return c.JSON(http.StatusOK, echo.Map{"ok": false, "error": err.Error()})
		}
		return c.JSON(http.StatusOK, echo.Map{"ok": true, "data": data})

	case "LOG_DOCUMENT":
		if msg.Meta == nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"ok": false, "error": "missing document meta"})
		}
		rec, err := s.tracker.LogDocument(ctx, *msg.Meta)
		if err != nil {
			return c.JSON(http.StatusOK, echo.Map{"ok": false, "error": err.Error()})
		}
		return c.JSON(http.StatusOK, echo.Map{"ok": true, "record": rec})

	case "CONFIG_UPDATED":
		if err := s.tracker.ReloadConfig(); err != nil {
			return c.JSON(http.StatusOK, echo.Map{"ok": false, "error": err.Error()})
		}
		state := s.tracker.State()
		return c.JSON(http.StatusOK, echo.Map{
			"ok":                 true,
			"endpointConfigured": state.Config.EndpointConfigured,
			"consentLogging":     state.Config.ConsentLogging,
		})

	case "MANUAL_FLUSH":
		count, err := s.tracker.Flush(ctx)
		if err != nil {
			return c.JSON(http.StatusOK, echo.Map{"ok": false, "count": 0, "error": err.Error()})
		}
		return c.JSON(http.StatusOK, echo.Map{"ok": count > 0, "count": count})

	case "PAGE_VISIT":
		s.tracker.PageVisit(ctx, msg.URL, msg.Title)
		return c.JSON(http.StatusOK, echo.Map{"ok": true})

	default:
		return c.JSON(http.StatusBadRequest, echo.Map{"ok": false, "error": fmt.Sprintf("unknown message type %q", msg.Type)})
	}
}

func (s *Server) handleState(c echo.Context) error {
	return c.JSON(http.StatusOK, s.tracker.State())
}

// handleTicks streams the heartbeat broadcast as server-sent events.
// One `data:` frame per tick; the stream ends when the client goes
// away.
func (s *Server) handleTicks(c echo.Context) error {
	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	res.WriteHeader(http.StatusOK)
	res.Flush()

	ticks, cancel := s.tracker.Subscribe()
	defer cancel()

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case tick := <-ticks:
			data, err := json.Marshal(tick)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(res, "data: %s\n\n", data); err != nil {
				return nil
			}
			res.Flush()
		}
	}
}
