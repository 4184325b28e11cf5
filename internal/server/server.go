package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"lanmsg/internal/relay"

	"go.uber.org/zap"
)

// Server defines fields used in HTTP processing
type Server struct {
	logger        *zap.SugaredLogger
	httpServer    *http.Server
	afterShutdown []func()
}

// NewServer wires handlers for the user directory, message history, file
// store and websocket relay into a configured http.Server
func NewServer(logger *zap.SugaredLogger, users UserDirectory, history MessageHistory, blobs FileStore, engine *relay.Engine, opts ...Option) (*Server, error) {
	h := &handler{
		logger:  logger,
		users:   users,
		history: history,
		files:   blobs,
		ws:      newWSHandler(logger, engine, users),
	}

	base := logger.Desugar()

	mux := http.NewServeMux()
	mux.Handle("/users/add", log(enforcePostJson(http.HandlerFunc(h.createUser)), base))
	mux.Handle("/users/get", log(enforcePostJson(http.HandlerFunc(h.listUsers)), base))
	mux.Handle("/messages/get", log(enforcePostJson(http.HandlerFunc(h.messagesBetween)), base))
	mux.Handle("/files/add", log(http.HandlerFunc(h.uploadFile), base))
	mux.Handle("/files/", log(http.HandlerFunc(h.getFile), base))
	mux.Handle("/ws/", log(http.HandlerFunc(h.ws.serve), base))

	cfg := &config{
		httpServer: &http.Server{
			Addr:    "0.0.0.0:8000",
			Handler: mux,
		},
	}

	for _, opt := range opts {
		opt.apply(cfg)
	}

	return &Server{
		logger:        logger,
		httpServer:    cfg.httpServer,
		afterShutdown: cfg.afterShutdown,
	}, nil
}

// Start calls ListenAndServe on http.Server instance inside Server struct
// and implements graceful shutdown via goroutine waiting for signals
func (s *Server) Start() error {
	idleConnsClosed := make(chan struct{})

	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
		<-sigint

		s.logger.Info("Shutting down HTTP server")

		if err := s.httpServer.Shutdown(context.Background()); err != nil {
			s.logger.Errorf("srv.Shutdown: %v", err)
		}
		s.logger.Info("HTTP server is stopped")

		close(idleConnsClosed)
	}()

	s.logger.Infof("Starting HTTP server on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("s.httpServer.ListenAndServe: %v", err)
	}

	<-idleConnsClosed

	for _, f := range s.afterShutdown {
		f()
	}

	return nil
}
