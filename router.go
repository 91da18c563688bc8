package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/choraleia/chathub/pkg/config"
	"github.com/choraleia/chathub/pkg/event"
	"github.com/choraleia/chathub/pkg/handler"
	"github.com/choraleia/chathub/pkg/service"
	"github.com/choraleia/chathub/pkg/utils"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// Services is everything the HTTP layer serves.
type Services struct {
	Chat        *service.ChatHubService
	Models      *service.ModelService
	Agents      *service.AgentService
	Credentials *service.CredentialsService
	Workflows   *service.WorkflowService
	Emitter     *event.Emitter
}

type Server struct {
	ginEngine *gin.Engine
	cfg       *config.AppConfig
	services  Services
	logger    *slog.Logger
	port      int
}

func NewServer(cfg *config.AppConfig, services Services) *Server {
	ginEngine := gin.New()
	ginEngine.Use(gin.Recovery())

	// Browser clients on the common local dev ports.
	ginEngine.Use(cors.New(cors.Config{
		AllowOrigins: []string{
			"http://localhost:3000",
			"http://localhost:5173",
			"http://127.0.0.1:3000",
			"http://127.0.0.1:5173",
		},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-User-ID", "X-User-Name"},
		ExposeHeaders:    []string{"Content-Type"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	server := &Server{
		ginEngine: ginEngine,
		cfg:       cfg,
		services:  services,
		logger:    utils.GetLogger(),
	}

	server.SetupRoutes()

	return server
}

// Start binds the listener and serves in the background until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host(), s.cfg.Port())
	srv := &http.Server{Addr: addr, Handler: s.ginEngine}

	// Attempt to listen on port first; if occupied return error immediately
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return err
	}

	if tcpAddr, ok := ln.Addr().(*net.TCPAddr); ok {
		s.port = tcpAddr.Port
	} else {
		s.port = s.cfg.Port()
	}
	s.logger.Info("Chat hub listening", "addr", ln.Addr().String())

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Serve(ln)
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	select {
	case err := <-errChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	default:
	}
	return nil
}

func (s *Server) SetupRoutes() {
	// API group
	// /api
	apiGroup := s.ginEngine.Group("/api")
	apiGroup.Use(handler.UserMiddleware(s.cfg.DefaultUser()))

	apiGroup.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "port": s.port})
	})

	// Chat hub API routes
	// /api/chat
	chatGroup := apiGroup.Group("/chat")
	handler.NewChatHubHandler(s.services.Chat, s.services.Models).RegisterRoutes(chatGroup)
	handler.NewAgentHandler(s.services.Agents).RegisterRoutes(chatGroup)

	// /api/credentials, /api/workflows
	handler.NewCredentialHandler(s.services.Credentials).RegisterRoutes(apiGroup)
	handler.NewWorkflowHandler(s.services.Workflows).RegisterRoutes(apiGroup)

	// Push events for session titles and deletions
	// /api/events/ws
	ws := event.NewWSHandler(s.services.Emitter, handler.CurrentUserID)
	apiGroup.GET("/events/ws", ws.Handle)
}
