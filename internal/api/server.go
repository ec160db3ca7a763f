// Package api is the loopback HTTP server of the agent. Providers redirect the browser to
// it, the email login posts to it, and local tools query session status through it.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/growgrammers/authflow/internal/api/middleware"
	"github.com/growgrammers/authflow/internal/auth/email"
	"github.com/growgrammers/authflow/internal/auth/session"
	"github.com/growgrammers/authflow/internal/config"
	"github.com/growgrammers/authflow/internal/logging"
	log "github.com/sirupsen/logrus"
)

// Server serves the auth routes on the loopback interface.
type Server struct {
	cfg   *config.Config
	sess  *session.Context
	email *email.Flow

	engine *gin.Engine

	mu      sync.Mutex
	server  *http.Server
	ln      net.Listener
	done    chan struct{}
	addr    string
	running bool
	errCh   chan error

	// linkedFlash holds the provider of a just-finished link until the dashboard shows it.
	linkedFlash sync.Map
}

// NewServer builds the gin engine and its routes.
func NewServer(cfg *config.Config, sess *session.Context, emailFlow *email.Flow) *Server {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	s := &Server{
		cfg:    cfg,
		sess:   sess,
		email:  emailFlow,
		engine: gin.New(),
		errCh:  make(chan error, 1),
	}
	s.engine.Use(logging.GinLogrusLogger(), logging.GinLogrusRecovery())
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.engine.GET("/", s.handleEntry)
	s.engine.GET("/login", s.handleLogin)

	authGroup := s.engine.Group("/auth")
	{
		authGroup.GET("/:provider/start", s.handleStart)
		authGroup.GET("/:provider/callback", s.handleCallback)
		authGroup.POST("/:provider/callback", s.handleCallback)
		authGroup.POST("/email/code", s.handleEmailCode)
		authGroup.POST("/email/verify", s.handleEmailVerify)
		authGroup.GET("/status", s.handleStatus)
		authGroup.POST("/refresh", s.handleRefresh)
		authGroup.POST("/logout", s.handleLogout)
		authGroup.GET("/complete", middleware.RequireSession(s.sess), s.handleComplete)
	}
	s.engine.GET("/dashboard", middleware.RequireSession(s.sess), s.handleDashboard)
	s.engine.GET("/healthz", func(c *gin.Context) {
		logging.SkipGinRequestLogging(c)
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}

// Handler exposes the engine, mainly for tests.
func (s *Server) Handler() http.Handler { return s.engine }

// Start binds the configured address and serves in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("api: server is already running")
	}

	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprint(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("api: listen on %s: %w", addr, err)
	}
	s.addr = ln.Addr().String()
	s.server = &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
	s.ln = ln
	s.done = make(chan struct{})
	s.running = true

	go func(srv *http.Server, done chan struct{}) {
		defer close(done)
		errServe := srv.Serve(ln)
		if errServe == nil || errors.Is(errServe, http.ErrServerClosed) || errors.Is(errServe, net.ErrClosed) {
			return
		}
		log.Errorf("loopback server stopped: %v", errServe)
		select {
		case s.errCh <- errServe:
		default:
		}
	}(s.server, s.done)
	log.Infof("loopback server listening on http://%s", s.addr)
	return nil
}

// Addr is the bound address once started.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Errors delivers a fatal serve error.
func (s *Server) Errors() <-chan error { return s.errCh }

// Stop shuts the server down gracefully. It returns once the listener is closed and the
// serve goroutine has exited, so the port can be bound again immediately.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running || s.server == nil {
		return nil
	}
	log.Debug("stopping loopback server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	err := s.server.Shutdown(shutdownCtx)
	if err != nil {
		_ = s.server.Close()
	}
	// Shutdown may win the race against Serve registering the listener.
	if errClose := s.ln.Close(); errClose != nil && !errors.Is(errClose, net.ErrClosed) {
		log.Debugf("close loopback listener: %v", errClose)
	}
	<-s.done

	s.running = false
	s.server = nil
	s.ln = nil
	s.done = nil
	return err
}
