package webchat

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/healthchat/pkg/redisstream"
)

// Server drives the router and HTTP server lifecycle.
type Server struct {
	router  *Router
	httpSrv *http.Server
	bus     *redisstream.Bus
}

// NewServer builds a Router and http.Server pair. The server takes ownership
// of bus and closes it on shutdown.
func NewServer(ctx context.Context, s Settings, bus *redisstream.Bus, opts ...RouterOption) (*Server, error) {
	if ctx == nil {
		return nil, errors.New("ctx is nil")
	}
	r, err := NewRouter(ctx, s, bus, opts...)
	if err != nil {
		return nil, err
	}
	return &Server{router: r, httpSrv: r.BuildHTTPServer(), bus: bus}, nil
}

func (s *Server) Router() *Router { return s.router }

func (s *Server) HTTPServer() *http.Server {
	if s == nil {
		return nil
	}
	return s.httpSrv
}

// Run serves until ctx is cancelled or SIGINT/SIGTERM arrives, then shuts
// down gracefully.
func (s *Server) Run(ctx context.Context) error {
	if ctx == nil {
		return errors.New("ctx is nil")
	}
	if s == nil || s.router == nil || s.httpSrv == nil {
		return errors.New("server is not initialized")
	}
	eg := errgroup.Group{}
	srvCtx, srvCancel := context.WithCancel(ctx)
	defer srvCancel()

	s.router.cm.StartEvictionLoop(srvCtx)

	eg.Go(func() error {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigChan)
		select {
		case <-sigChan:
			log.Info().Msg("received interrupt signal, shutting down gracefully...")
		case <-srvCtx.Done():
		}
		srvCancel()
		shutdownBase := context.WithoutCancel(ctx)
		shutdownCtx, cancel := context.WithTimeout(shutdownBase, 30*time.Second)
		defer cancel()
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("server shutdown error")
			return err
		}
		if err := s.router.Close(); err != nil {
			log.Error().Err(err).Msg("router close error")
		}
		if err := s.bus.Close(); err != nil {
			log.Error().Err(err).Msg("event bus close error")
		} else {
			log.Info().Msg("event bus closed")
		}
		log.Info().Msg("server shutdown complete")
		return nil
	})

	eg.Go(func() error {
		log.Info().Str("addr", s.httpSrv.Addr).Msg("starting healthchat server")
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server listen error")
			srvCancel()
			return err
		}
		return nil
	})

	return eg.Wait()
}
