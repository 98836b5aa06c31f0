package relay

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/rs/zerolog/log"
)

type Server struct {
	server *http.Server
	cfg    *Config
}

func NewServer(cfg *Config, app *RelayApp) *Server {
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           app.GetHTTPHandler(),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout(),
		IdleTimeout:       cfg.Server.IdleTimeout,
		MaxHeaderBytes:    1 << 20,
	}
	return &Server{server: srv, cfg: cfg}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", ln.Addr().String()).Str("mode", string(s.cfg.Relay.Mode)).Msg("started")
		errCh <- s.server.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("forced to shutdown")
		return err
	}
	log.Info().Msg("exited gracefully")
	return nil
}
