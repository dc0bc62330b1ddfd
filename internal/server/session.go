package server

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cippm/cip/internal/protocol"
	"github.com/cippm/cip/internal/registry"
	"go.uber.org/zap"
)

// Session handles one client connection. It decodes framed requests,
// dispatches them against the registry, and writes framed replies.
// Lifecycle: created on accept, closed on quit, protocol error,
// disconnect, or server shutdown.
type Session struct {
	conn   net.Conn
	server *Server
	logger *zap.Logger

	active    atomic.Bool
	closeOnce sync.Once

	// wmu serializes reply writes with the shutdown force-quit
	// broadcast, which runs on the supervisor goroutine.
	wmu sync.Mutex
}

func newSession(conn net.Conn, server *Server) *Session {
	s := &Session{
		conn:   conn,
		server: server,
		logger: server.logger.With(zap.String("addr", conn.RemoteAddr().String())),
	}
	s.active.Store(true)
	return s
}

func (s *Session) isActive() bool {
	return s.active.Load()
}

// close releases the connection. Safe to call from the handler loop,
// the sweep, and shutdown; the socket is closed exactly once.
func (s *Session) close() {
	s.closeOnce.Do(func() {
		s.conn.Close()
	})
	s.active.Store(false)
}

// run is the session main loop.
func (s *Session) run() {
	s.logger.Info("connected")
	defer s.close()

	for {
		if s.server.cfg.ReadTimeout > 0 {
			s.conn.SetReadDeadline(time.Now().Add(s.server.cfg.ReadTimeout))
		}
		msg, err := protocol.Decode(s.conn)
		if err != nil {
			if errors.Is(err, protocol.ErrProtocol) {
				s.logger.Warn("protocol error", zap.Error(err))
			} else {
				s.logger.Debug("connection closed", zap.Error(err))
			}
			return
		}

		if !s.server.isActive() {
			return
		}

		if msg.Type == protocol.TypeQuit {
			s.logger.Info("disconnected")
			return
		}

		reply := s.dispatch(msg)
		if reply == nil {
			continue
		}
		if err := s.send(reply); err != nil {
			s.logger.Debug("reply failed", zap.Error(err))
			return
		}
	}
}

// dispatch maps one request to its reply. Registry misses and
// conflicts come back as result payloads; only transport failures end
// the session.
func (s *Session) dispatch(msg *protocol.Message) *protocol.Message {
	switch msg.Type {
	case protocol.TypeUser:
		return s.handleUser(msg)

	case protocol.TypeInstall:
		return s.handleInstall(msg)

	case protocol.TypeUninstall:
		// Installation state lives on the client machine; nothing to
		// undo here.
		return protocol.StatusReply(protocol.StatusSuccess)

	case protocol.TypeUpload:
		return s.handleUpload(msg)

	case protocol.TypePackage:
		exists, err := s.server.store.PackageExists(msg.Package)
		if err != nil {
			return s.internalError("package check failed", err)
		}
		return protocol.BoolReply(exists)

	case protocol.TypeVersion:
		exists, err := s.server.store.VersionExists(msg.Package, msg.Version)
		if err != nil {
			return s.internalError("version check failed", err)
		}
		return protocol.BoolReply(exists)

	case protocol.TypeAuth:
		ok, err := s.server.store.Authenticate(msg.Username, msg.Password)
		if err != nil {
			return s.internalError("authentication failed", err)
		}
		return protocol.BoolReply(ok)

	default:
		s.logger.Warn("unrecognized request", zap.String("type", string(msg.Type)))
		return protocol.StatusReply(fmt.Sprintf("unrecognized request type %q", msg.Type))
	}
}

func (s *Session) handleUser(msg *protocol.Message) *protocol.Message {
	switch msg.Method {
	case protocol.MethodGet:
		profile, err := s.server.store.DescribeUser(msg.Username)
		if errors.Is(err, registry.ErrUserNotFound) {
			return protocol.StatusReply(fmt.Sprintf("user %s not found", msg.Username))
		}
		if err != nil {
			return s.internalError("user lookup failed", err)
		}
		return protocol.StatusReply(profile)

	case protocol.MethodCreate:
		err := s.server.store.CreateUser(registry.User{
			Username:     msg.Username,
			PasswordHash: msg.Password,
			Email:        msg.Email,
			Website:      msg.Website,
			RepoLink:     msg.RepoLink,
			Description:  msg.Description,
		})
		if errors.Is(err, registry.ErrUserExists) {
			return protocol.StatusReply("retry")
		}
		if err != nil {
			return s.internalError("user creation failed", err)
		}
		return protocol.StatusReply(protocol.StatusSuccess)

	case protocol.MethodVerify:
		exists, err := s.server.store.UserExists(msg.Username)
		if err != nil {
			return s.internalError("user check failed", err)
		}
		if exists {
			return protocol.StatusReply(protocol.StatusTaken)
		}
		return protocol.StatusReply(protocol.StatusAvailable)

	case protocol.MethodDelete:
		err := s.server.store.DeleteUser(msg.Username)
		if errors.Is(err, registry.ErrUserNotFound) {
			return protocol.StatusReply(fmt.Sprintf("user %s not found", msg.Username))
		}
		if err != nil {
			return s.internalError("user deletion failed", err)
		}
		return protocol.StatusReply(protocol.StatusSuccess)

	default:
		return protocol.StatusReply(fmt.Sprintf("unrecognized user method %q", msg.Method))
	}
}

func (s *Session) handleInstall(msg *protocol.Message) *protocol.Message {
	version, err := s.server.store.ResolveVersion(msg.Package, msg.Version)
	if errors.Is(err, registry.ErrPackageNotFound) {
		return protocol.StatusReply(fmt.Sprintf("package %s not found", msg.Package))
	}
	if errors.Is(err, registry.ErrVersionNotFound) {
		return protocol.StatusReply(fmt.Sprintf("version %s of package %s not found", msg.Version, msg.Package))
	}
	if err != nil {
		return s.internalError("install failed", err)
	}
	return protocol.ContentReply(version.Content)
}

func (s *Session) handleUpload(msg *protocol.Message) *protocol.Message {
	err := s.server.store.AddPackageVersion(msg.Username, msg.Package, msg.Version, msg.Content)
	if errors.Is(err, registry.ErrOwnerMissing) {
		return protocol.StatusReply(fmt.Sprintf("user %s not found", msg.Username))
	}
	if errors.Is(err, registry.ErrVersionExists) {
		return protocol.StatusReply(fmt.Sprintf("version %s of package %s already exists", msg.Version, msg.Package))
	}
	if err != nil {
		return s.internalError("upload failed", err)
	}
	s.logger.Info("package uploaded",
		zap.String("user", msg.Username),
		zap.String("package", msg.Package),
		zap.String("version", msg.Version),
		zap.Int("size", len(msg.Content)),
	)
	return protocol.StatusReply(protocol.StatusSuccess)
}

func (s *Session) internalError(msg string, err error) *protocol.Message {
	s.logger.Error(msg, zap.Error(err))
	return protocol.StatusReply("internal server error")
}

// send writes one framed message under the session write lock.
func (s *Session) send(msg *protocol.Message) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if s.server.cfg.WriteTimeout > 0 {
		s.conn.SetWriteDeadline(time.Now().Add(s.server.cfg.WriteTimeout))
	}
	return protocol.Encode(s.conn, msg)
}

// forceQuit tells the peer to terminate immediately. Best effort; the
// session is being torn down either way.
func (s *Session) forceQuit() {
	if err := s.send(&protocol.Message{Type: protocol.TypeForceQuit}); err != nil {
		s.logger.Debug("force quit not delivered", zap.Error(err))
	}
}
