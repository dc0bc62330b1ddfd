package server

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cippm/cip/internal/registry"
	"go.uber.org/zap"
)

// Config carries the tunables of the TCP server.
type Config struct {
	Addr          string        `yaml:"addr"`
	ReadTimeout   time.Duration `yaml:"read_timeout"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// Server owns the listening socket, the registry, and the set of live
// sessions. One goroutine serves each accepted connection; a background
// sweep prunes sessions that have gone inactive.
type Server struct {
	cfg    Config
	logger *zap.Logger
	store  *registry.Store

	listener net.Listener

	mu       sync.Mutex
	sessions map[*Session]struct{}
	active   bool

	done chan struct{}
	wg   sync.WaitGroup
}

// New creates a server around an existing registry store.
func New(cfg Config, store *registry.Store, logger *zap.Logger) *Server {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 100 * time.Millisecond
	}
	return &Server{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		sessions: make(map[*Session]struct{}),
		done:     make(chan struct{}),
	}
}

// Listen binds the configured address. Use Addr afterwards to discover
// the bound port when the config asked for ":0".
func (s *Server) Listen() error {
	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}
	s.listener = listener
	s.mu.Lock()
	s.active = true
	s.mu.Unlock()
	return nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Serve accepts connections until the listener is closed, spawning one
// session goroutine per connection. It blocks; run it from a goroutine
// and call Shutdown to stop it.
func (s *Server) Serve() error {
	s.logger.Info("server started", zap.String("addr", s.Addr()))
	s.wg.Add(1)
	go s.sweep()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if !s.isActive() {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept failed: %w", err)
		}

		session := newSession(conn, s)
		s.mu.Lock()
		if !s.active {
			s.mu.Unlock()
			session.close()
			return nil
		}
		s.sessions[session] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			session.run()
		}()
	}
}

// sweep periodically prunes sessions whose handler loops have exited,
// closing their sockets if the handler did not already.
func (s *Server) sweep() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.mu.Lock()
			for session := range s.sessions {
				if !session.isActive() {
					session.close()
					delete(s.sessions, session)
				}
			}
			s.mu.Unlock()
		}
	}
}

// Shutdown performs orderly teardown: stop accepting, broadcast a
// force-quit frame to every live session, then close them all.
func (s *Server) Shutdown() {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	s.active = false
	sessions := make([]*Session, 0, len(s.sessions))
	for session := range s.sessions {
		sessions = append(sessions, session)
	}
	s.sessions = make(map[*Session]struct{})
	s.mu.Unlock()

	close(s.done)
	s.listener.Close()

	for _, session := range sessions {
		session.forceQuit()
		session.close()
	}
	s.wg.Wait()
	s.logger.Info("stopping")
}

func (s *Server) isActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// sessionCount is used by tests to observe the sweep.
func (s *Server) sessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
