package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"cosmossdk.io/log"
)

const shutdownTimeout = 5 * time.Second

// Server serves the committer HTTP API until its context is cancelled.
type Server struct {
	addr    string
	handler http.Handler
	logger  log.Logger
}

// New creates a Server listening on addr.
func New(addr string, handler http.Handler, logger log.Logger) *Server {
	return &Server{
		addr:    addr,
		handler: handler,
		logger:  logger.With("module", "rpc"),
	}
}

// Run listens on the configured address and serves requests until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listener)
}

// Serve serves requests on listener until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: time.Second * 2,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("serving HTTP", "listen address", listener.Addr())
		errCh <- srv.Serve(listener)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("error while shutting down RPC server", "error", err)
		return err
	}
	return nil
}
