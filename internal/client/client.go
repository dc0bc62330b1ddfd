package client

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/cippm/cip/internal/protocol"
	"go.uber.org/zap"
)

// ForceQuitExitCode is the distinct exit path taken when the server
// orders this process to terminate.
const ForceQuitExitCode = 3

// exit is indirected so tests can observe the forced shutdown without
// losing the process.
var exit = os.Exit

// Session is one client connection to the registry server. Requests
// are strictly sequential: Do sends one message and blocks until
// exactly one reply arrives.
type Session struct {
	conn    net.Conn
	logger  *zap.Logger
	timeout time.Duration
}

// Dial connects to the registry server at addr. A timeout of zero
// disables per-request deadlines.
func Dial(addr string, timeout time.Duration, logger *zap.Logger) (*Session, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	return &Session{conn: conn, logger: logger, timeout: timeout}, nil
}

// Do sends msg and waits for its reply. Decoding a force-quit message
// terminates the process immediately: the server is shutting down and
// no recovery is possible.
func (c *Session) Do(msg *protocol.Message) (*protocol.Reply, error) {
	if c.timeout > 0 {
		c.conn.SetDeadline(time.Now().Add(c.timeout))
	}
	if err := protocol.Encode(c.conn, msg); err != nil {
		return nil, err
	}
	reply, err := protocol.Decode(c.conn)
	if err != nil {
		return nil, err
	}

	if reply.Type == protocol.TypeForceQuit {
		c.logger.Warn("the server has ordered this client to terminate")
		c.logger.Warn("this usually means the server is shutting down")
		exit(ForceQuitExitCode)
		return nil, fmt.Errorf("%w: forced shutdown", protocol.ErrConnectionClosed)
	}
	if reply.Type != protocol.TypeReply || reply.Reply == nil {
		return nil, fmt.Errorf("%w: expected reply, got %q", protocol.ErrProtocol, reply.Type)
	}
	return reply.Reply, nil
}

// Quit tells the server this session is done and closes the socket.
func (c *Session) Quit() error {
	if c.timeout > 0 {
		c.conn.SetDeadline(time.Now().Add(c.timeout))
	}
	err := protocol.Encode(c.conn, &protocol.Message{Type: protocol.TypeQuit})
	if closeErr := c.conn.Close(); err == nil {
		err = closeErr
	}
	return err
}

// Close drops the connection without the quit handshake.
func (c *Session) Close() error {
	return c.conn.Close()
}

// HashPassword computes the one-way digest sent in place of the
// plaintext password.
func HashPassword(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}
