package client

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"confab/internal/domain"
	"confab/internal/relay"
)

func testLog() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func startRelay(t *testing.T, password string) int {
	t.Helper()
	srv := relay.New(relay.Config{Port: 0, Password: password}, testLog())
	require.NoError(t, srv.Listen())
	go func() { _ = srv.Serve() }()
	t.Cleanup(func() { _ = srv.Close() })
	return srv.Addr().(*net.TCPAddr).Port
}

type events struct {
	messages chan string
	joins    chan domain.Username
	leaves   chan domain.Username
}

func newEvents() *events {
	return &events{
		messages: make(chan string, 16),
		joins:    make(chan domain.Username, 16),
		leaves:   make(chan domain.Username, 16),
	}
}

func (e *events) handlers() Handlers {
	return Handlers{
		Message: func(_ domain.Username, text string, _, _ time.Time) { e.messages <- text },
		Join:    func(u domain.Username, _ string) { e.joins <- u },
		Leave:   func(u domain.Username, _ string) { e.leaves <- u },
	}
}

func recv[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
		panic("unreachable")
	}
}

func TestClientHandshakeAndChat(t *testing.T) {
	port := startRelay(t, "")

	aliceEv := newEvents()
	alice, err := New("127.0.0.1", port, "alice", aliceEv.handlers(), Prompts{}, testLog())
	require.NoError(t, err)
	require.NoError(t, alice.Connect())
	defer alice.Close()
	assert.Equal(t, StateAuthenticated, alice.State())

	bobEv := newEvents()
	bob, err := New("127.0.0.1", port, "bob", bobEv.handlers(), Prompts{}, testLog())
	require.NoError(t, err)
	require.NoError(t, bob.Connect())
	defer bob.Close()

	assert.Equal(t, domain.Username("bob"), recv(t, aliceEv.joins, "bob's join"))

	require.NoError(t, alice.Send("hello bob"))
	assert.Equal(t, "hello bob", recv(t, bobEv.messages, "alice's message"))

	require.NoError(t, bob.Send("hi alice"))
	assert.Equal(t, "hi alice", recv(t, aliceEv.messages, "bob's message"))
}

func TestClientUsernameCollisionReconnects(t *testing.T) {
	port := startRelay(t, "")

	alice, err := New("127.0.0.1", port, "alice", Handlers{}, Prompts{}, testLog())
	require.NoError(t, err)
	require.NoError(t, alice.Connect())
	defer alice.Close()

	prompted := make(chan struct{}, 1)
	prompts := Prompts{
		Username: func() (string, error) {
			prompted <- struct{}{}
			return "alice2", nil
		},
	}
	second, err := New("127.0.0.1", port, "alice", Handlers{}, prompts, testLog())
	require.NoError(t, err)
	require.NoError(t, second.Connect())
	defer second.Close()

	recv(t, prompted, "username re-prompt")
	assert.Equal(t, domain.Username("alice2"), second.Username())
	assert.Equal(t, StateAuthenticated, second.State())
}

func TestClientPasswordAuth(t *testing.T) {
	port := startRelay(t, "secret123")

	ok, err := New("127.0.0.1", port, "alice", Handlers{},
		Prompts{Password: func() (string, error) { return "secret123", nil }}, testLog())
	require.NoError(t, err)
	require.NoError(t, ok.Connect())
	defer ok.Close()
	assert.Equal(t, StateAuthenticated, ok.State())

	bad, err := New("127.0.0.1", port, "bob", Handlers{},
		Prompts{Password: func() (string, error) { return "nope", nil }}, testLog())
	require.NoError(t, err)
	err = bad.Connect()
	require.ErrorIs(t, err, ErrAuthFailed)
}

func TestClientLeaveIsGraceful(t *testing.T) {
	port := startRelay(t, "")

	aliceEv := newEvents()
	alice, err := New("127.0.0.1", port, "alice", aliceEv.handlers(), Prompts{}, testLog())
	require.NoError(t, err)
	require.NoError(t, alice.Connect())

	bob, err := New("127.0.0.1", port, "bob", Handlers{}, Prompts{}, testLog())
	require.NoError(t, err)
	require.NoError(t, bob.Connect())
	recv(t, aliceEv.joins, "bob's join")

	require.NoError(t, bob.Send(domain.LeaveCommand))
	require.NoError(t, recv(t, bob.Done(), "bob's terminal result"))

	assert.Equal(t, domain.Username("bob"), recv(t, aliceEv.leaves, "bob's leave"))

	require.NoError(t, alice.Send(domain.LeaveCommand))
	require.NoError(t, recv(t, alice.Done(), "alice's terminal result"))
}

func TestClientProbeFailsFast(t *testing.T) {
	// Grab a port that nothing listens on.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	c, err := New("127.0.0.1", port, "alice", Handlers{}, Prompts{}, testLog())
	require.NoError(t, err)
	err = c.Connect()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unreachable")
}

func TestClientRejectsBadUsername(t *testing.T) {
	_, err := New("127.0.0.1", 1, "a", Handlers{}, Prompts{}, testLog())
	require.ErrorIs(t, err, domain.ErrUsernameTooShort)
	_, err = New("127.0.0.1", 1, "not valid!", Handlers{}, Prompts{}, testLog())
	require.ErrorIs(t, err, domain.ErrUsernameInvalid)
}

func TestClientSendBeforeAuthenticate(t *testing.T) {
	c, err := New("127.0.0.1", 1, "alice", Handlers{}, Prompts{}, testLog())
	require.NoError(t, err)
	require.ErrorIs(t, c.Send("hello"), ErrNotAuthenticated)
}
