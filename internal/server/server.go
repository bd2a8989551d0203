// Package server is the HTTP/SSE facade: a small gin API over the
// orchestrator, the store and the event bus, for dashboards and scripts.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"arlo/internal/bus"
	"arlo/internal/improve"
	"arlo/internal/logging"
	"arlo/internal/memory"
)

const defaultListLimit = 20

// Runner is the orchestrator surface the API exposes.
type Runner interface {
	Run(ctx context.Context, input, intent string) (string, error)
	LastRunTokens() int
}

// Config carries the listen address.
type Config struct {
	Host string
	Port int
}

// Server hosts the HTTP API.
type Server struct {
	cfg    Config
	runner Runner
	store  *memory.Store
	events *bus.Bus
	status func() improve.Status
	log    *logging.Logger

	engine *gin.Engine
	httpd  *http.Server
}

// New assembles the routes. The improvement status func may be nil when
// the loop is disabled.
func New(cfg Config, runner Runner, store *memory.Store, events *bus.Bus, status func() improve.Status, log *logging.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		cfg:    cfg,
		runner: runner,
		store:  store,
		events: events,
		status: status,
		log:    logging.OrNop(log).Component("server"),
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), cors.Default())

	engine.GET("/healthz", s.handleHealth)
	engine.POST("/prompt", s.handlePrompt)
	engine.GET("/tasks/recent", s.handleRecentTasks)
	engine.GET("/tasks/upcoming", s.handleUpcomingTasks)
	engine.POST("/tasks/:id/cancel", s.handleCancelTask)
	engine.GET("/projects", s.handleProjects)
	engine.GET("/improvement/status", s.handleImprovementStatus)
	engine.GET("/chat/history", s.handleChatHistory)
	engine.GET("/events", s.handleEvents)

	s.engine = engine
	return s
}

// Handler exposes the route tree for tests.
func (s *Server) Handler() http.Handler { return s.engine }

// Start listens in the background.
func (s *Server) Start() {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpd = &http.Server{Addr: addr, Handler: s.engine}
	go func() {
		s.log.Info("http api listening", "addr", addr)
		if err := s.httpd.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("http server failed", "err", err)
		}
	}()
}

// Stop drains in-flight requests.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpd == nil {
		return nil
	}
	return s.httpd.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type promptRequest struct {
	Prompt string `json:"prompt" binding:"required"`
}

func (s *Server) handlePrompt(c *gin.Context) {
	var req promptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "prompt is required"})
		return
	}
	response, err := s.runner.Run(c.Request.Context(), req.Prompt, "user")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"response": response,
		"tokens":   s.runner.LastRunTokens(),
	})
}

func (s *Server) handleRecentTasks(c *gin.Context) {
	tasks, err := s.store.RecentTasks(limitParam(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": emptyWhenNil(tasks)})
}

func (s *Server) handleUpcomingTasks(c *gin.Context) {
	items, err := s.store.UpcomingItems(limitParam(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": emptyWhenNil(items)})
}

func (s *Server) handleCancelTask(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	if _, err := s.store.ScheduledItem(id); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("item %d not found", id)})
		return
	}
	if err := s.store.SetItemStatus(id, memory.StatusCancelled); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": id})
}

func (s *Server) handleProjects(c *gin.Context) {
	projects, err := s.store.ListProjects()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"projects": emptyWhenNil(projects)})
}

func (s *Server) handleImprovementStatus(c *gin.Context) {
	if s.status == nil {
		c.JSON(http.StatusOK, improve.Status{})
		return
	}
	c.JSON(http.StatusOK, s.status())
}

func (s *Server) handleChatHistory(c *gin.Context) {
	convs, err := s.store.RecentConversations(limitParam(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": emptyWhenNil(convs)})
}

// handleEvents bridges the bus onto an SSE stream. Events arriving while
// the client is slow are dropped rather than blocking the dispatcher.
func (s *Server) handleEvents(c *gin.Context) {
	feed := make(chan bus.Event, 64)
	clientGone := c.Request.Context().Done()
	s.events.Subscribe(bus.Wildcard, func(ev bus.Event) {
		select {
		case feed <- ev:
		case <-clientGone:
		default:
		}
	})

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()

	c.Stream(func(io.Writer) bool {
		select {
		case <-clientGone:
			return false
		case ev := <-feed:
			c.SSEvent(ev.Type, ev.Payload)
			return true
		case <-keepalive.C:
			c.SSEvent("ping", nil)
			return true
		}
	})
}

func limitParam(c *gin.Context) int {
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			return n
		}
	}
	return defaultListLimit
}

// emptyWhenNil keeps JSON lists as [] instead of null.
func emptyWhenNil[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
