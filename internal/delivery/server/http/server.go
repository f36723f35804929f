// Package http serves the admin API used by the internal web UI.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"opsbot/internal/domain/chat"
	"opsbot/internal/shared/logging"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

const defaultShutdownTimeout = 10 * time.Second

// CodeIssuer issues binding codes for accounts.
type CodeIssuer interface {
	IssueCode(ctx context.Context, accountID string, platform chat.Platform) (chat.BindingCode, error)
}

type Config struct {
	Addr string
	// AdminToken guards /api; an empty token leaves the API closed.
	AdminToken      string
	AllowedOrigins  []string
	ShutdownTimeout time.Duration
}

type Deps struct {
	Binder  CodeIssuer
	Groups  chat.GroupPolicyStore
	Metrics http.Handler
	Logger  logging.Logger
}

// Server wraps the gin engine and its http.Server.
type Server struct {
	cfg        Config
	engine     *gin.Engine
	httpServer *http.Server
	logger     logging.Logger
}

func NewServer(cfg Config, deps Deps) (*Server, error) {
	if deps.Binder == nil || deps.Groups == nil {
		return nil, errors.New("admin server requires a binder and a group store")
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = ":8080"
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	logger := logging.OrNop(deps.Logger)

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(logIDMiddleware(logger))
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig := cors.DefaultConfig()
		corsConfig.AllowOrigins = cfg.AllowedOrigins
		corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "OPTIONS"}
		corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Log-Id"}
		engine.Use(cors.New(corsConfig))
	}

	h := &handlers{binder: deps.Binder, groups: deps.Groups, logger: logger}
	engine.GET("/healthz", h.health)
	if deps.Metrics != nil {
		engine.GET("/metrics", gin.WrapH(deps.Metrics))
	}

	api := engine.Group("/api")
	api.Use(jsonMiddleware(), adminAuth(cfg.AdminToken))
	api.POST("/binding-codes", h.issueCode)
	api.PUT("/groups/:platform/:id/ai", h.setGroupAI)

	return &Server{
		cfg:    cfg,
		engine: engine,
		httpServer: &http.Server{
			Addr:              cfg.Addr,
			Handler:           engine,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger,
	}, nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.engine }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("admin API listening on %s", s.cfg.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("admin API: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("admin API shutdown: %w", err)
	}
	return nil
}
