// Package status serves a small HTTP surface for health, live counters and
// operator commands.
package status

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"

	"go2tv.app/browserstream/control"
	"go2tv.app/browserstream/pipeline"
)

// Snapshot is what GET /stats returns.
type Snapshot struct {
	Attempt   uint32         `json:"attempt"`
	AttemptID string         `json:"attempt_id,omitempty"`
	Stats     pipeline.Stats `json:"stats"`
	UpdatedAt time.Time      `json:"updated_at"`
}

type Server struct {
	addr   string
	logger hclog.Logger

	engine   *gin.Engine
	srv      *http.Server
	listener net.Listener

	snapshot atomic.Pointer[Snapshot]
	commands *control.Queue
	started  time.Time
}

func New(addr string, logger hclog.Logger) *Server {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		addr:     addr,
		logger:   logger,
		commands: control.NewQueue(8, logger),
		started:  time.Now(),
	}
	s.snapshot.Store(&Snapshot{})

	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())
	r.GET("/healthz", s.handleHealth)
	r.GET("/stats", s.handleStats)
	r.POST("/refresh", s.commandHandler(control.Refresh))
	r.POST("/help", s.commandHandler(control.Help))
	s.engine = r
	return s
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

// Commands yields operator commands posted over HTTP. It closes after
// Shutdown.
func (s *Server) Commands() <-chan control.Command {
	return s.commands.C()
}

// Observe publishes a counter snapshot taken by the pipeline.
func (s *Server) Observe(stats pipeline.Stats) {
	s.update(func(snap *Snapshot) {
		snap.Stats = stats
	})
}

// SetAttempt marks the start of a new attempt and resets its counters.
func (s *Server) SetAttempt(number uint32, id string) {
	s.update(func(snap *Snapshot) {
		snap.Attempt = number
		snap.AttemptID = id
		snap.Stats = pipeline.Stats{}
	})
}

func (s *Server) update(fn func(*Snapshot)) {
	for {
		old := s.snapshot.Load()
		next := *old
		fn(&next)
		next.UpdatedAt = time.Now()
		if s.snapshot.CompareAndSwap(old, &next) {
			return
		}
	}
}

func (s *Server) Snapshot() Snapshot {
	return *s.snapshot.Load()
}

// Start binds the listen address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = ln
	s.srv = &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.logger.Info("status endpoint listening", "addr", ln.Addr().String())
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("status endpoint stopped", "error", err)
		}
	}()
	return nil
}

// Addr is the bound address once Start succeeded.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

func (s *Server) Shutdown(ctx context.Context) error {
	defer s.commands.Close()
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"uptime": time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *Server) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.Snapshot())
}

func (s *Server) commandHandler(cmd control.Command) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.commands.Send(cmd) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "shutting down"})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"status": "queued", "command": cmd.String()})
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"bytes", c.Writer.Size(),
			"duration", time.Since(start),
		)
	}
}
