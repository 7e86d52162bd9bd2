package relay

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/sirupsen/logrus"

	"confab/internal/crypto"
	"confab/internal/domain"
	"confab/internal/wire"
)

// connState tracks where a connection is in the protocol.
type connState int

const (
	awaitingKey connState = iota
	awaitingAuth
	authenticated
	terminated
)

const readBufferSize = 4096

// Handler runs the per-connection state machine:
//
//	AwaitingKey -> AwaitingAuth (only with a password) -> Authenticated -> Terminated
//
// The registry is injected at construction so the mutual-exclusion boundary
// is explicit; a handler exclusively owns the sessions it creates.
type Handler struct {
	registry *Registry
	password string
	log      *logrus.Entry
}

// NewHandler builds a handler over a shared registry. An empty password
// disables the auth sub-protocol.
func NewHandler(registry *Registry, password string, log *logrus.Entry) *Handler {
	return &Handler{registry: registry, password: password, log: log}
}

// Handle owns conn until the connection terminates. Intended to run on its
// own goroutine, one per accepted connection.
func (h *Handler) Handle(conn net.Conn) {
	sess := newSession(conn)
	log := h.log.WithFields(logrus.Fields{
		"session_id":  sess.ID,
		"remote_addr": conn.RemoteAddr().String(),
	})
	go sess.writeLoop(log)
	defer h.teardown(sess, log)

	st := awaitingKey
	var fr wire.Framer
	buf := make([]byte, readBufferSize)

	for st != terminated {
		n, err := conn.Read(buf)
		if n > 0 {
			frames, ferr := fr.Push(buf[:n])
			for _, frame := range frames {
				msg, uerr := wire.Unmarshal(frame)
				if uerr != nil {
					log.WithError(uerr).Warn("dropping unparseable frame")
					continue
				}
				if st = h.dispatch(st, sess, msg, log); st == terminated {
					break
				}
			}
			if ferr != nil && st != terminated {
				log.WithError(ferr).Warn("closing connection")
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				log.WithError(err).Debug("read failed")
			}
			return
		}
	}
}

// dispatch routes one message through the state machine. A message type the
// current state does not accept is logged and ignored, with no transition.
func (h *Handler) dispatch(st connState, sess *Session, msg domain.Message, log *logrus.Entry) connState {
	switch {
	case st == awaitingKey && msg.Type == domain.TypePublicKey:
		return h.handleKey(sess, msg, log)
	case st == awaitingAuth && msg.Type == domain.TypeAuth:
		return h.handleAuth(sess, msg, log)
	case st == authenticated && msg.Type == domain.TypeMessage:
		return h.handleChat(sess, msg, log)
	default:
		log.WithField("type", msg.Type).Warn("ignoring message out of state")
		return st
	}
}

// handleKey completes key exchange: arbitrate the username, generate and
// wrap the session secret, and either finish authentication or demand a
// password. Crypto failures here are connection-fatal.
func (h *Handler) handleKey(sess *Session, msg domain.Message, log *logrus.Entry) connState {
	name := msg.Sender
	if err := domain.ValidateUsername(name); err != nil {
		log.WithError(err).Warn("dropping public_key with bad username")
		return awaitingKey
	}
	log = log.WithField("username", name)

	pub, err := crypto.ParsePublicKeyPEM(msg.Content)
	if err != nil {
		log.WithError(err).Warn("key exchange failed")
		return terminated
	}
	secret, err := crypto.NewSessionSecret()
	if err != nil {
		log.WithError(err).Error("key exchange failed")
		return terminated
	}
	wrapped, err := crypto.WrapSecret(pub, secret)
	if err != nil {
		log.WithError(err).Warn("key exchange failed")
		return terminated
	}

	sess.Username = name
	sess.setSecret(secret)
	if !h.registry.Add(sess) {
		log.Info("username taken")
		sess.Enqueue(domain.Message{
			Type:    domain.TypeUsernameResult,
			Sender:  domain.ServerSender,
			Content: domain.ResultUsernameTaken,
			SentAt:  domain.Now(),
		})
		sess.Close()
		return terminated
	}
	sess.registered.Store(true)

	h.send(sess, domain.Message{
		Type:    domain.TypePublicKey,
		Sender:  domain.ServerSender,
		Content: wrapped,
		SentAt:  domain.Now(),
	}, log)

	if h.password != "" {
		h.send(sess, domain.Message{
			Type:    domain.TypeAuthResult,
			Sender:  domain.ServerSender,
			Content: domain.ResultPasswordRequired,
			SentAt:  domain.Now(),
		}, log)
		return awaitingAuth
	}

	sess.authenticated.Store(true)
	h.send(sess, domain.Message{
		Type:    domain.TypeAuthResult,
		Sender:  domain.ServerSender,
		Content: domain.ResultAuthenticated,
		SentAt:  domain.Now(),
	}, log)
	log.WithField("fingerprint", crypto.Fingerprint(pub)).Info("client joined")
	h.broadcastSystem(domain.TypeJoin, sess)
	return authenticated
}

// handleAuth checks the password sent under the session secret. A decrypt
// failure drops just this message; a wrong password is terminal.
func (h *Handler) handleAuth(sess *Session, msg domain.Message, log *logrus.Entry) connState {
	pw, err := sess.Open(msg.Nonce, msg.Content, msg.Tag)
	if err != nil {
		log.WithError(err).Warn("dropping undecryptable auth message")
		return awaitingAuth
	}
	match := subtle.ConstantTimeCompare(pw, []byte(h.password)) == 1
	crypto.Zero(pw)

	if !match {
		log.WithField("username", sess.Username).Info("authentication failed")
		sess.Enqueue(domain.Message{
			Type:    domain.TypeAuthResult,
			Sender:  domain.ServerSender,
			Content: domain.ResultAuthFailed,
			SentAt:  domain.Now(),
		})
		sess.Close()
		return terminated
	}

	sess.authenticated.Store(true)
	h.send(sess, domain.Message{
		Type:    domain.TypeAuthResult,
		Sender:  domain.ServerSender,
		Content: domain.ResultAuthenticated,
		SentAt:  domain.Now(),
	}, log)
	log.WithField("username", sess.Username).Info("client joined")
	h.broadcastSystem(domain.TypeJoin, sess)
	return authenticated
}

// handleChat relays one chat message: decrypt with the sender's secret,
// then re-encrypt the plaintext independently for every other authenticated
// session. One recipient's ciphertext is never reused for another.
func (h *Handler) handleChat(sess *Session, msg domain.Message, log *logrus.Entry) connState {
	plain, err := sess.Open(msg.Nonce, msg.Content, msg.Tag)
	if err != nil {
		log.WithError(err).Warn("dropping undecryptable message")
		return authenticated
	}
	defer crypto.Zero(plain)

	if string(plain) == domain.LeaveCommand {
		log.WithField("username", sess.Username).Info("client leaving")
		return terminated
	}

	received := domain.Now()
	for _, rcpt := range h.registry.Snapshot() {
		if rcpt.Username == sess.Username {
			continue
		}
		nonce, ct, tag, err := rcpt.Seal(plain)
		if err != nil {
			log.WithError(err).WithField("recipient", rcpt.Username).Warn("re-encrypt failed")
			continue
		}
		out := domain.Message{
			Type:       domain.TypeMessage,
			Sender:     sess.Username,
			Content:    ct,
			Nonce:      nonce,
			Tag:        tag,
			SentAt:     msg.SentAt,
			ReceivedAt: received,
		}
		if !rcpt.Enqueue(out) {
			log.WithField("recipient", rcpt.Username).Warn("slow consumer, disconnecting")
			rcpt.Close()
		}
	}
	return authenticated
}

// broadcastSystem sends a plaintext join/leave notice about sess to every
// other authenticated session.
func (h *Handler) broadcastSystem(t domain.Type, sess *Session) {
	verb := "joined"
	if t == domain.TypeLeave {
		verb = "left"
	}
	msg := domain.Message{
		Type:    t,
		Sender:  sess.Username,
		Content: fmt.Sprintf("%s %s the chat", sess.Username, verb),
		SentAt:  domain.Now(),
	}
	for _, rcpt := range h.registry.Snapshot() {
		if rcpt.Username == sess.Username {
			continue
		}
		if !rcpt.Enqueue(msg) {
			rcpt.Close()
		}
	}
}

// teardown is the single exit path. The latch makes it idempotent: even if
// a read error and a close both fire, the registry removal and the leave
// broadcast happen at most once.
func (h *Handler) teardown(sess *Session, log *logrus.Entry) {
	sess.latch.Do(func() {
		wasAuthenticated := sess.Authenticated()
		if sess.registered.Load() {
			h.registry.Remove(sess.Username)
		}
		sess.Close()
		if wasAuthenticated {
			h.broadcastSystem(domain.TypeLeave, sess)
		}
		sess.wipe()
		log.Info("session closed")
	})
}

// send enqueues a message the handler considers mandatory; failure to queue
// means the peer is already unreachable, which the read loop will notice.
func (h *Handler) send(sess *Session, m domain.Message, log *logrus.Entry) {
	if !sess.Enqueue(m) {
		log.WithField("type", m.Type).Debug("enqueue failed, session closing")
	}
}
