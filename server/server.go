// Package server exposes the inference engine over HTTP. One streaming
// endpoint does all the work; health is a static probe.
package server

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	conversationx "github.com/moonsyncai/moonsync/agent/conversation"
	enginex "github.com/moonsyncai/moonsync/agent/engine"
)

type Config struct {
	Host  string `split_words:"true" default:"0.0.0.0"`
	Port  int    `split_words:"true" default:"8080"`
	Debug bool   `split_words:"true" default:"false"`
}

type Server struct {
	cfg    Config
	router *gin.Engine
}

// New builds the HTTP surface. store may be nil, which disables transcript
// persistence without touching the inference path.
func New(cfg Config, engine *enginex.Engine, store conversationx.Store) (*Server, error) {
	if engine == nil {
		return nil, fmt.Errorf("server engine is required")
	}

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	handler := newInferenceHandler(engine, store)
	router.POST("/inference", handler.handle)
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return &Server{cfg: cfg, router: router}, nil
}

// Router exposes the gin engine for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) Run() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	return s.router.Run(addr)
}
