// Package roomserver is a reference room service for scenesync clients.
//
// Members join a room with a JOIN envelope (POST /rooms/{room}), open a stream
// (GET /rooms/{room}/{session} as server-sent events, or .../ws as a
// websocket) and broadcast snapshots with UPDATE_SCENE envelopes
// (PUT /rooms/{room}). Every broadcast is delivered to every other streaming
// member of the room. The server does not interpret snapshots and keeps no
// room history.
package roomserver

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/scenesync/pkg/logging"
)

const (
	DefaultHeartbeat = 15 * time.Second
	maxBodyBytes     = 16 << 20
)

type Server struct {
	backend     Backend
	registry    *Registry
	heartbeat   time.Duration
	idleTimeout time.Duration
	upgrader    websocket.Upgrader
	logger      zerolog.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

type ServerOption func(*Server) error

func WithBackend(b Backend) ServerOption {
	return func(s *Server) error {
		if b == nil {
			return errors.New("backend is nil")
		}
		s.backend = b
		return nil
	}
}

// WithHeartbeat sets the interval of SSE keep-alive comments and websocket
// pings. Zero disables them.
func WithHeartbeat(d time.Duration) ServerOption {
	return func(s *Server) error {
		if d < 0 {
			return errors.Errorf("negative heartbeat %s", d)
		}
		s.heartbeat = d
		return nil
	}
}

// WithIdleTimeout evicts rooms that had no attached stream for d.
func WithIdleTimeout(d time.Duration) ServerOption {
	return func(s *Server) error {
		s.idleTimeout = d
		return nil
	}
}

func WithLogger(l zerolog.Logger) ServerOption {
	return func(s *Server) error {
		s.logger = l
		return nil
	}
}

func NewServer(opts ...ServerOption) (*Server, error) {
	s := &Server{
		heartbeat: DefaultHeartbeat,
		logger:    log.With().Str("component", "roomserver").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	if s.backend == nil {
		s.backend = NewGoChannelBackend(logging.NewWatermill(s.logger))
	}
	s.registry = NewRegistry(s.idleTimeout)
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s, nil
}

func (s *Server) Registry() *Registry {
	return s.registry
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /rooms/{room}", s.handleJoin)
	mux.HandleFunc("PUT /rooms/{room}", s.handleBroadcast)
	mux.HandleFunc("GET /rooms/{room}", s.handleRoomInfo)
	mux.HandleFunc("GET /rooms/{room}/{session}", s.handleSSE)
	mux.HandleFunc("GET /rooms/{room}/{session}/ws", s.handleWebSocket)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// Run serves on addr until ctx is cancelled, then shuts down.
func (s *Server) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "listen on %s", addr)
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	httpSrv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return s.ctx },
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		s.logger.Info().Str("addr", ln.Addr().String()).Msg("room server listening")
		if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "serve")
		}
		return nil
	})
	eg.Go(func() error {
		<-egCtx.Done()
		s.logger.Info().Msg("room server shutting down")
		// streams are long-lived; end them before waiting on the http server
		closeErr := s.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			return errors.Wrap(err, "shutdown")
		}
		return closeErr
	})
	return eg.Wait()
}

// Close ends every stream and releases the backend.
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		s.registry.CloseAll()
		err = s.backend.Close()
	})
	return err
}

// requestContext is cancelled when either the request or the server ends.
func (s *Server) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(r.Context())
	stop := context.AfterFunc(s.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
