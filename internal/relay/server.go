package relay

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/sirupsen/logrus"
)

// Config holds the server's startup parameters.
type Config struct {
	// Port to listen on. Zero picks an ephemeral port (tests).
	Port int
	// Password, when non-empty, enables the auth sub-protocol.
	Password string
}

// Server accepts connections and runs one Handler goroutine per client.
type Server struct {
	cfg      Config
	registry *Registry
	handler  *Handler
	log      *logrus.Entry

	mu     sync.Mutex
	ln     net.Listener
	conns  map[net.Conn]struct{}
	closed bool

	wg sync.WaitGroup
}

// New builds a server. Call Listen then Serve, or ListenAndServe.
func New(cfg Config, log *logrus.Entry) *Server {
	registry := NewRegistry()
	return &Server{
		cfg:      cfg,
		registry: registry,
		handler:  NewHandler(registry, cfg.Password, log),
		log:      log,
		conns:    make(map[net.Conn]struct{}),
	}
}

// Registry exposes the session registry, for inspection in tests.
func (s *Server) Registry() *Registry { return s.registry }

// Listen binds the configured port. A port already in use is a startup
// failure; the server refuses to start.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Port))
	if err != nil {
		return fmt.Errorf("listen on port %d: %w", s.cfg.Port, err)
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	s.log.WithFields(logrus.Fields{
		"addr":          ln.Addr().String(),
		"password_auth": s.cfg.Password != "",
	}).Info("relay listening")
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Serve accepts connections until Close. Each connection gets its own
// goroutine; a connection-scoped failure never crashes the server.
func (s *Server) Serve() error {
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()
	if ln == nil {
		return errors.New("serve before listen")
	}

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			_ = conn.Close()
			continue
		}
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handler.Handle(conn)
			s.mu.Lock()
			delete(s.conns, conn)
			s.mu.Unlock()
		}()
	}
}

// ListenAndServe binds the port and serves until Close.
func (s *Server) ListenAndServe() error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve()
}

// Close stops accepting, closes every live session, and waits for the
// connection goroutines to finish their teardown.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	ln := s.ln
	conns := make([]net.Conn, 0, len(s.conns))
	for conn := range s.conns {
		conns = append(conns, conn)
	}
	s.mu.Unlock()

	var err error
	if ln != nil {
		err = ln.Close()
	}
	for _, sess := range s.registry.All() {
		sess.Close()
	}
	// Sessions that never finished key exchange are not in the registry;
	// close their sockets directly so their handlers unblock.
	for _, conn := range conns {
		_ = conn.Close()
	}
	s.wg.Wait()
	return err
}
