package relay

import (
	"bufio"
	"errors"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"confab/internal/crypto"
	"confab/internal/domain"
	"confab/internal/wire"
)

// outboundQueue is the per-session write buffer. A peer that lets this fill
// up is a slow consumer and gets disconnected.
const outboundQueue = 64

// ErrNoSecret is returned when a session is asked to encrypt or decrypt
// before key exchange has completed.
var ErrNoSecret = errors.New("session has no secret")

// Session is the server-side state for one client connection.
//
// The handler goroutine owns all state mutation; other connections only
// reach a Session through the registry snapshot, to seal outbound messages
// and enqueue them. The disconnect latch guarantees registry removal and
// the leave broadcast happen at most once.
type Session struct {
	// ID correlates log lines for one connection.
	ID string
	// Username is set when the public_key message is accepted.
	Username domain.Username

	conn net.Conn
	out  chan domain.Message
	done chan struct{}

	closeOnce sync.Once
	latch     sync.Once // disconnect latch, fired by Handler.teardown

	registered    atomic.Bool
	authenticated atomic.Bool

	mu     sync.RWMutex
	secret []byte
}

func newSession(conn net.Conn) *Session {
	return &Session{
		ID:   uuid.NewString(),
		conn: conn,
		out:  make(chan domain.Message, outboundQueue),
		done: make(chan struct{}),
	}
}

// setSecret installs the session secret. Called once, before the session
// becomes visible in the registry.
func (s *Session) setSecret(secret []byte) {
	s.mu.Lock()
	s.secret = secret
	s.mu.Unlock()
}

// wipe zeroes the secret. Safe against concurrent Seal/Open from relaying
// connections; after wipe both fail with ErrNoSecret.
func (s *Session) wipe() {
	s.mu.Lock()
	crypto.Zero(s.secret)
	s.secret = nil
	s.mu.Unlock()
}

// Seal encrypts plaintext under this session's secret. Each recipient gets
// its own Seal call, so ciphertext is never shared between recipients.
func (s *Session) Seal(plaintext []byte) (nonce, ciphertext, tag string, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.secret == nil {
		return "", "", "", ErrNoSecret
	}
	return crypto.Seal(s.secret, plaintext)
}

// Open decrypts content sent by this session's client.
func (s *Session) Open(nonce, ciphertext, tag string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.secret == nil {
		return nil, ErrNoSecret
	}
	return crypto.Open(s.secret, nonce, ciphertext, tag)
}

// Authenticated reports whether the session passed (or did not need) the
// password sub-protocol.
func (s *Session) Authenticated() bool { return s.authenticated.Load() }

// Enqueue hands a message to the writer goroutine without blocking. It
// returns false when the session is closing or the queue is full; a full
// queue marks the peer a slow consumer and the caller should close it.
func (s *Session) Enqueue(m domain.Message) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.out <- m:
		return true
	default:
		return false
	}
}

// Close asks the writer to drain whatever is queued, flush, and hang up.
// This is the flush-then-close used after terminal result messages, so the
// peer sees the result before the socket drops.
func (s *Session) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// writeLoop serializes all writes to the socket. It exits when Close is
// called or a write fails, closing the underlying connection either way.
func (s *Session) writeLoop(log *logrus.Entry) {
	w := bufio.NewWriter(s.conn)
	defer func() {
		_ = w.Flush()
		_ = s.conn.Close()
	}()

	for {
		select {
		case m := <-s.out:
			if err := writeMessage(w, m); err != nil {
				log.WithError(err).Debug("write failed")
				return
			}
		case <-s.done:
			// Drain messages queued before the close, then hang up.
			for {
				select {
				case m := <-s.out:
					if err := writeMessage(w, m); err != nil {
						return
					}
				default:
					return
				}
			}
		}
	}
}

func writeMessage(w *bufio.Writer, m domain.Message) error {
	b, err := wire.Marshal(m)
	if err != nil {
		return err
	}
	if _, err := w.Write(b); err != nil {
		return err
	}
	return w.Flush()
}
