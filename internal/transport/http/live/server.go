// Package livehttp 提供查询/下单 REST 接口、事件 websocket 与 Prometheus 指标。
package livehttp

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tradehub/internal/logger"
)

type Server struct {
	addr   string
	router *gin.Engine
	hub    *Hub
}

// ServerConfig 描述 HTTP 服务依赖。Journal 为空时历史接口返回 503。
type ServerConfig struct {
	Addr    string
	Engine  Engine
	Events  EventSource
	Journal Journal
}

func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Engine == nil {
		return nil, errors.New("http server requires engine")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9991"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	NewRouter(cfg.Engine, cfg.Journal).Register(router.Group("/api"))

	s := &Server{addr: cfg.Addr, router: router}
	if cfg.Events != nil {
		s.hub = NewHub(cfg.Events)
		router.GET("/ws", s.hub.ServeWS)
	}
	return s, nil
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		if q := c.Request.URL.RawQuery; q != "" {
			path += "?" + q
		}
		c.Next()
		logger.Debugf("HTTP %s %s status=%d ip=%s dur=%s", c.Request.Method, path, c.Writer.Status(), c.ClientIP(), time.Since(start))
	}
}

func (s *Server) Addr() string { return s.addr }

// Handler 暴露路由，便于 httptest。
func (s *Server) Handler() http.Handler { return s.router }

// Start 启动 HTTP 服务，直到 ctx 取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		if s.hub != nil {
			s.hub.Close()
		}
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		if s.hub != nil {
			s.hub.Close()
		}
		return err
	}
}
