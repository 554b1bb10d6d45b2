package mail

import (
	"bufio"
	"context"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/twofa"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSMTP accepts a single session and records the message.
type fakeSMTP struct {
	ln       net.Listener
	authCode int
	rcptCode int

	mu   sync.Mutex
	from string
	rcpt string
	data string
	auth bool
	done chan struct{}
}

func startFakeSMTP(t *testing.T, authCode, rcptCode int) *fakeSMTP {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	f := &fakeSMTP{ln: ln, authCode: authCode, rcptCode: rcptCode, done: make(chan struct{})}
	t.Cleanup(func() { _ = ln.Close() })
	go f.serve()
	return f
}

func (f *fakeSMTP) port() int {
	return f.ln.Addr().(*net.TCPAddr).Port
}

func (f *fakeSMTP) serve() {
	defer close(f.done)
	conn, err := f.ln.Accept()
	if err != nil {
		return
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

	r := bufio.NewReader(conn)
	reply := func(s string) { _, _ = conn.Write([]byte(s + "\r\n")) }
	reply("220 fake ESMTP")

	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")
		cmd := strings.ToUpper(line)
		switch {
		case strings.HasPrefix(cmd, "EHLO"):
			if f.authCode != 0 {
				reply("250-fake")
				reply("250 AUTH PLAIN")
			} else {
				reply("250 fake")
			}
		case strings.HasPrefix(cmd, "AUTH"):
			f.mu.Lock()
			f.auth = true
			f.mu.Unlock()
			if f.authCode == 235 {
				reply("235 2.7.0 accepted")
			} else {
				reply("535 5.7.8 bad credentials")
			}
		case cmd == "*":
			reply("501 cancelled")
		case strings.HasPrefix(cmd, "MAIL FROM:"):
			f.mu.Lock()
			f.from = line[len("MAIL FROM:"):]
			f.mu.Unlock()
			reply("250 ok")
		case strings.HasPrefix(cmd, "RCPT TO:"):
			f.mu.Lock()
			f.rcpt = line[len("RCPT TO:"):]
			f.mu.Unlock()
			if f.rcptCode == 250 {
				reply("250 ok")
			} else {
				reply("550 no such user")
			}
		case cmd == "DATA":
			reply("354 go ahead")
			var body strings.Builder
			for {
				l, err := r.ReadString('\n')
				if err != nil {
					return
				}
				if strings.TrimRight(l, "\r\n") == "." {
					break
				}
				body.WriteString(l)
			}
			f.mu.Lock()
			f.data = body.String()
			f.mu.Unlock()
			reply("250 queued")
		case cmd == "QUIT":
			reply("221 bye")
			return
		default:
			reply("502 unsupported")
		}
	}
}

func (f *fakeSMTP) wait(t *testing.T) {
	t.Helper()
	select {
	case <-f.done:
	case <-time.After(5 * time.Second):
		require.Fail(t, "smtp session did not finish")
	}
}

func newTestSMTP(t *testing.T, port int, username string) *SMTP {
	t.Helper()
	s, err := NewSMTP(SMTPConfig{
		Host:     "127.0.0.1",
		Port:     port,
		Username: username,
		Password: "secret",
		From:     "no-reply@example.com",
		FromName: "Example",
		Timeout:  2 * time.Second,
	}, zerolog.Nop())
	require.NoError(t, err)
	return s
}

func TestSMTPDelivers(t *testing.T) {
	srv := startFakeSMTP(t, 235, 250)
	s := newTestSMTP(t, srv.port(), "mailer")

	status := s.Send(context.Background(), "alice@example.com", "Your code", "<p>123456</p>")
	srv.wait(t)

	assert.Equal(t, twofa.MailSuccess, status)
	srv.mu.Lock()
	defer srv.mu.Unlock()
	assert.True(t, srv.auth)
	assert.Equal(t, "<no-reply@example.com>", srv.from)
	assert.Equal(t, "<alice@example.com>", srv.rcpt)
	assert.Contains(t, srv.data, "To: alice@example.com\r\n")
	assert.Contains(t, srv.data, "Subject: Your code\r\n")
	assert.Contains(t, srv.data, "Content-Type: text/html")
	assert.Contains(t, srv.data, "<p>123456</p>")
}

func TestSMTPAuthenticationFailure(t *testing.T) {
	srv := startFakeSMTP(t, 535, 250)
	s := newTestSMTP(t, srv.port(), "mailer")

	status := s.Send(context.Background(), "alice@example.com", "Your code", "<p>1</p>")
	srv.wait(t)
	assert.Equal(t, twofa.MailAuthenticationError, status)
}

func TestSMTPRejectedRecipient(t *testing.T) {
	srv := startFakeSMTP(t, 0, 550)
	s := newTestSMTP(t, srv.port(), "")

	status := s.Send(context.Background(), "ghost@example.com", "Your code", "<p>1</p>")
	assert.Equal(t, twofa.MailSendError, status)
}

func TestSMTPConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	s := newTestSMTP(t, port, "")
	assert.Equal(t, twofa.MailSMTPConnectionError, s.Send(context.Background(), "a@example.com", "s", "b"))
}

func TestNewSMTPValidation(t *testing.T) {
	_, err := NewSMTP(SMTPConfig{Port: 25, From: "a@example.com"}, zerolog.Nop())
	assert.Error(t, err)
	_, err = NewSMTP(SMTPConfig{Host: "mail", Port: 0, From: "a@example.com"}, zerolog.Nop())
	assert.Error(t, err)
	_, err = NewSMTP(SMTPConfig{Host: "mail", Port: 25}, zerolog.Nop())
	assert.Error(t, err)
}
