package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"github.com/keisueke/show-discord/internal/hostauth"
	"github.com/keisueke/show-discord/internal/hub"
)

type Options struct {
	Addr      string
	PublicURL string
	Hub       *hub.Hub
	Archive   *Archive
	Exchanger *hostauth.Exchanger
	Proxy     *hostauth.Proxy
}

type Server struct {
	opts     Options
	hub      *hub.Hub
	archive  *Archive
	router   *gin.Engine
	handler  http.Handler
	upgrader websocket.Upgrader
}

func NewServer(opts Options) *Server {
	if opts.Proxy == nil {
		opts.Proxy = hostauth.NewProxy()
	}
	if opts.Exchanger == nil {
		opts.Exchanger = hostauth.NewExchanger(hostauth.Credentials{})
	}

	// Activities run inside Discord's iframe, so any origin may connect.
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	s := &Server{
		opts:     opts,
		hub:      opts.Hub,
		archive:  opts.Archive,
		router:   router,
		upgrader: upgrader,
	}
	s.setupRoutes()

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodPatch,
			http.MethodDelete,
		},
		AllowedHeaders: []string{"*"},
		MaxAge:         86400,
	})
	s.handler = c.Handler(router)
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := s.router.Group("/api/v1")
	{
		api.GET("/sessions", s.listSessions)
		api.POST("/sessions", s.createSession)
		api.GET("/sessions/:id", s.getSession)
		api.GET("/sessions/:id/qr", s.sessionQR)

		api.GET("/results", s.listResults)
		api.GET("/results/:id", s.getResult)
	}

	s.router.POST("/api/token", s.exchangeToken)
	s.router.GET("/api/identity", s.identity)

	s.router.Any("/.proxy", s.proxy)
	s.router.Any("/.proxy/*target", s.proxy)

	s.router.GET("/ws", s.handleWebSocket)
}

// Handler is the full HTTP surface including CORS handling.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start serves until ctx ends, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go s.hub.Run(ctx)
	if s.archive != nil {
		go s.archive.Run(ctx)
	}

	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("HTTP server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down HTTP server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
		return err
	}
	return nil
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("HTTP request")
	}
}
