package client

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"confab/internal/crypto"
	"confab/internal/domain"
	"confab/internal/wire"
)

// State is the client connection state.
type State int

const (
	StateDisconnected State = iota
	StateConnected
	StateKeyEstablished
	StateAwaitingPassword
	StateAuthenticated
	// StateReconnecting marks the window after a username rejection in
	// which a socket close is expected rather than fatal.
	StateReconnecting
)

const (
	dialTimeout  = 5 * time.Second
	probeTimeout = 3 * time.Second
)

var (
	// ErrAuthFailed reports a rejected password. The server closes the
	// connection after sending it.
	ErrAuthFailed = errors.New("authentication failed")
	// ErrNotAuthenticated is returned by Send before the session is up.
	ErrNotAuthenticated = errors.New("not authenticated")

	// errReconnect is the internal signal that the current socket was
	// abandoned on purpose and a fresh one should be dialed.
	errReconnect = errors.New("reconnect with new username")
)

// Handlers receives inbound events. Nil funcs are skipped.
type Handlers struct {
	Message func(sender domain.Username, text string, sentAt, receivedAt time.Time)
	Join    func(sender domain.Username, notice string)
	Leave   func(sender domain.Username, notice string)
}

// Prompts collects interactive input. Username is invoked after a
// collision and must return a different name; Password is invoked when the
// server demands authentication.
type Prompts struct {
	Username func() (string, error)
	Password func() (string, error)
}

// Client is one chat participant's connection to the relay.
type Client struct {
	host     string
	port     int
	keys     *crypto.KeyPair
	handlers Handlers
	prompts  Prompts
	log      *logrus.Entry

	mu       sync.Mutex
	state    State
	username domain.Username
	secret   []byte
	conn     net.Conn

	writeMu sync.Mutex

	leaving atomic.Bool

	readyOnce sync.Once
	ready     chan error
	doneOnce  sync.Once
	done      chan error
}

// New validates the username and generates the process's key pair. Nothing
// touches the network until Connect.
func New(host string, port int, username string, handlers Handlers, prompts Prompts, log *logrus.Entry) (*Client, error) {
	if err := domain.ValidateUsername(domain.Username(username)); err != nil {
		return nil, fmt.Errorf("username %q: %w", username, err)
	}
	keys, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	log = log.WithField("username", username)
	log.WithField("fingerprint", crypto.Fingerprint(keys.Public)).Debug("generated key pair")
	return &Client{
		host:     host,
		port:     port,
		keys:     keys,
		handlers: handlers,
		prompts:  prompts,
		log:      log,
		username: domain.Username(username),
		ready:    make(chan error, 1),
		done:     make(chan error, 1),
	}, nil
}

// Username returns the name currently in use; it can change after a
// collision.
func (c *Client) Username() domain.Username {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.username
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) addr() string {
	return net.JoinHostPort(c.host, strconv.Itoa(c.port))
}

// Probe checks reachability by connecting and immediately disconnecting,
// so an unreachable server fails fast with a clear error.
func (c *Client) Probe() error {
	conn, err := net.DialTimeout("tcp", c.addr(), probeTimeout)
	if err != nil {
		return fmt.Errorf("server unreachable at %s: %w", c.addr(), err)
	}
	return conn.Close()
}

// Connect probes the server, starts the session loop, and blocks until the
// client is authenticated or the attempt fails.
func (c *Client) Connect() error {
	if err := c.Probe(); err != nil {
		return err
	}
	go c.run()
	return <-c.ready
}

// Done delivers the session's terminal result: nil after a graceful leave
// or a server-initiated close, an error otherwise.
func (c *Client) Done() <-chan error {
	return c.done
}

// Send encrypts text under the session secret and ships it. Sending the
// leave command also closes the socket proactively, without waiting for an
// echo.
func (c *Client) Send(text string) error {
	c.mu.Lock()
	if c.state != StateAuthenticated || c.secret == nil {
		c.mu.Unlock()
		return ErrNotAuthenticated
	}
	secret, conn, name := c.secret, c.conn, c.username
	c.mu.Unlock()

	nonce, ct, tag, err := crypto.Seal(secret, []byte(text))
	if err != nil {
		return err
	}
	msg := domain.Message{
		Type:    domain.TypeMessage,
		Sender:  name,
		Content: ct,
		Nonce:   nonce,
		Tag:     tag,
		SentAt:  domain.Now(),
	}
	if text == domain.LeaveCommand {
		c.leaving.Store(true)
	}
	if err := c.write(conn, msg); err != nil {
		return err
	}
	if text == domain.LeaveCommand {
		return conn.Close()
	}
	return nil
}

// Close abandons the connection and wipes the session secret.
func (c *Client) Close() {
	c.mu.Lock()
	conn := c.conn
	crypto.Zero(c.secret)
	c.secret = nil
	c.state = StateDisconnected
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

// run drives sessions until one terminates for good. A username collision
// loops back with a fresh socket and a fresh key exchange.
func (c *Client) run() {
	for {
		err := c.session()
		if errors.Is(err, errReconnect) {
			continue
		}
		c.finish(err)
		return
	}
}

// session dials, sends our public key, and pumps inbound frames until the
// connection ends.
func (c *Client) session() error {
	conn, err := net.DialTimeout("tcp", c.addr(), dialTimeout)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", c.addr(), err)
	}

	c.mu.Lock()
	c.conn = conn
	c.state = StateConnected
	name := c.username
	c.mu.Unlock()

	pem, err := crypto.MarshalPublicKeyPEM(c.keys.Public)
	if err != nil {
		_ = conn.Close()
		return err
	}
	hello := domain.Message{
		Type:    domain.TypePublicKey,
		Sender:  name,
		Content: pem,
		SentAt:  domain.Now(),
	}
	if err := c.write(conn, hello); err != nil {
		_ = conn.Close()
		return fmt.Errorf("send public key: %w", err)
	}
	return c.readLoop(conn)
}

func (c *Client) readLoop(conn net.Conn) error {
	var fr wire.Framer
	buf := make([]byte, 4096)

	for {
		n, err := conn.Read(buf)
		if n > 0 {
			frames, ferr := fr.Push(buf[:n])
			for _, frame := range frames {
				msg, uerr := wire.Unmarshal(frame)
				if uerr != nil {
					c.log.WithError(uerr).Warn("dropping unparseable frame")
					continue
				}
				if herr := c.handle(msg); herr != nil {
					_ = conn.Close()
					return herr
				}
			}
			if ferr != nil {
				_ = conn.Close()
				return ferr
			}
		}
		if err != nil {
			return c.closeResult(err)
		}
	}
}

// closeResult classifies the end of the read loop. A close is graceful
// after we sent the leave command or after the server dropped an
// authenticated session; anything else is fatal.
func (c *Client) closeResult(err error) error {
	if c.leaving.Load() {
		return nil
	}
	c.mu.Lock()
	st := c.state
	crypto.Zero(c.secret)
	c.secret = nil
	c.mu.Unlock()

	if st == StateAuthenticated && (errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed)) {
		c.log.Info("server closed the connection")
		return nil
	}
	return fmt.Errorf("connection lost: %w", err)
}

// handle dispatches one inbound message. A non-nil return ends the current
// session; errReconnect asks for a fresh one.
func (c *Client) handle(msg domain.Message) error {
	switch msg.Type {
	case domain.TypePublicKey:
		return c.handleWrappedSecret(msg)
	case domain.TypeAuthResult:
		return c.handleAuthResult(msg)
	case domain.TypeUsernameResult:
		return c.handleUsernameResult(msg)
	case domain.TypeMessage:
		c.handleChat(msg)
		return nil
	case domain.TypeJoin:
		if c.handlers.Join != nil {
			c.handlers.Join(msg.Sender, msg.Content)
		}
		return nil
	case domain.TypeLeave:
		if c.handlers.Leave != nil {
			c.handlers.Leave(msg.Sender, msg.Content)
		}
		return nil
	default:
		c.log.WithField("type", msg.Type).Warn("ignoring unexpected message")
		return nil
	}
}

// handleWrappedSecret unwraps the session secret with our private key. A
// failure here is a key-exchange failure and ends the connection.
func (c *Client) handleWrappedSecret(msg domain.Message) error {
	secret, err := crypto.UnwrapSecret(c.keys.Private, msg.Content)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.secret = secret
	c.state = StateKeyEstablished
	c.mu.Unlock()
	c.log.Debug("session secret established")
	return nil
}

func (c *Client) handleAuthResult(msg domain.Message) error {
	switch msg.Content {
	case domain.ResultPasswordRequired:
		c.mu.Lock()
		c.state = StateAwaitingPassword
		secret := c.secret
		c.mu.Unlock()
		if c.prompts.Password == nil {
			return errors.New("server requires a password")
		}
		pw, err := c.prompts.Password()
		if err != nil {
			return err
		}
		nonce, ct, tag, err := crypto.Seal(secret, []byte(pw))
		if err != nil {
			return err
		}
		c.mu.Lock()
		conn, name := c.conn, c.username
		c.mu.Unlock()
		return c.write(conn, domain.Message{
			Type:    domain.TypeAuth,
			Sender:  name,
			Content: ct,
			Nonce:   nonce,
			Tag:     tag,
			SentAt:  domain.Now(),
		})
	case domain.ResultAuthenticated:
		c.mu.Lock()
		c.state = StateAuthenticated
		c.mu.Unlock()
		c.log.Info("authenticated")
		c.readyOnce.Do(func() { c.ready <- nil })
		return nil
	case domain.ResultAuthFailed:
		return ErrAuthFailed
	default:
		c.log.WithField("result", msg.Content).Warn("ignoring unknown auth result")
		return nil
	}
}

// handleUsernameResult deals with username arbitration. "taken" discards
// the session state, asks for a different name, and signals a reconnect.
func (c *Client) handleUsernameResult(msg domain.Message) error {
	if msg.Content != domain.ResultUsernameTaken {
		c.log.WithField("result", msg.Content).Warn("ignoring unknown username result")
		return nil
	}
	if c.prompts.Username == nil {
		return fmt.Errorf("username %q is taken", c.Username())
	}
	c.log.Warn("username taken, picking another")

	// Discard the session state and drop the socket before prompting, so
	// the server side can reclaim the connection while the user thinks.
	c.mu.Lock()
	crypto.Zero(c.secret)
	c.secret = nil
	c.state = StateReconnecting
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}

	for {
		name, err := c.prompts.Username()
		if err != nil {
			return err
		}
		if err := domain.ValidateUsername(domain.Username(name)); err != nil {
			c.log.WithError(err).Warn("rejected username")
			continue
		}
		c.mu.Lock()
		c.username = domain.Username(name)
		c.mu.Unlock()
		c.log = c.log.WithField("username", name)
		return errReconnect
	}
}

func (c *Client) handleChat(msg domain.Message) {
	c.mu.Lock()
	secret := c.secret
	c.mu.Unlock()
	if secret == nil {
		return
	}
	plain, err := crypto.Open(secret, msg.Nonce, msg.Content, msg.Tag)
	if err != nil {
		c.log.WithError(err).WithField("sender", msg.Sender).Warn("dropping undecryptable message")
		return
	}
	if c.handlers.Message != nil {
		c.handlers.Message(msg.Sender, string(plain),
			time.UnixMilli(msg.SentAt), time.UnixMilli(msg.ReceivedAt))
	}
}

// write serializes one frame onto the socket. All writes share one mutex so
// two encrypt+write sequences never interleave.
func (c *Client) write(conn net.Conn, m domain.Message) error {
	if conn == nil {
		return net.ErrClosed
	}
	b, err := wire.Marshal(m)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err = conn.Write(b)
	return err
}

// finish publishes the terminal result to Done and unblocks Connect if the
// session never reached Authenticated.
func (c *Client) finish(err error) {
	c.mu.Lock()
	crypto.Zero(c.secret)
	c.secret = nil
	c.state = StateDisconnected
	c.mu.Unlock()

	c.readyOnce.Do(func() {
		if err != nil {
			c.ready <- err
		} else {
			c.ready <- errors.New("connection closed before authentication")
		}
	})
	c.doneOnce.Do(func() { c.done <- err })
}
