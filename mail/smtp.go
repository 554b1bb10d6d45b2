package mail

import (
	"context"
	"crypto/tls"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/twofa"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const defaultSMTPTimeout = 15 * time.Second

// SMTPConfig describes an SMTP relay.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
	// ImplicitTLS dials straight into TLS (usually port 465). Otherwise the
	// session is upgraded with STARTTLS when the server offers it.
	ImplicitTLS bool
	Timeout     time.Duration
	// TLSConfig overrides the client TLS settings. ServerName defaults to Host.
	TLSConfig *tls.Config
}

// SMTP sends HTML mail through an SMTP relay, one connection per message.
type SMTP struct {
	cfg    SMTPConfig
	logger zerolog.Logger
}

var _ twofa.MailTransport = (*SMTP)(nil)

func NewSMTP(cfg SMTPConfig, logger zerolog.Logger) (*SMTP, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, errors.New("smtp host is required")
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, errors.Errorf("smtp port %d out of range", cfg.Port)
	}
	if strings.TrimSpace(cfg.From) == "" {
		return nil, errors.New("smtp from address is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultSMTPTimeout
	}
	return &SMTP{
		cfg:    cfg,
		logger: logger.With().Str("component", "mail").Str("transport", "smtp").Logger(),
	}, nil
}

// smtpStage tags an error with the MailStatus it maps to.
type smtpStage struct {
	status twofa.MailStatus
	err    error
}

func (s *smtpStage) Error() string { return s.err.Error() }
func (s *smtpStage) Cause() error  { return s.err }
func (s *smtpStage) Unwrap() error { return s.err }

func stage(status twofa.MailStatus, err error, msg string) error {
	return &smtpStage{status: status, err: errors.Wrap(err, msg)}
}

func (s *SMTP) Send(ctx context.Context, to, subject, htmlBody string) twofa.MailStatus {
	err := s.send(ctx, to, subject, htmlBody)
	if err == nil {
		return twofa.MailSuccess
	}

	status := twofa.MailFailure
	var st *smtpStage
	if errors.As(err, &st) {
		status = st.status
	}
	s.logger.Error().
		Err(err).
		Str("mail_status", status.String()).
		Str("host", s.cfg.Host).
		Msg("smtp delivery failed")
	return status
}

func (s *SMTP) send(ctx context.Context, to, subject, htmlBody string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	deadline := time.Now().Add(s.cfg.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	tlsConfig := s.tlsConfig()

	dialer := &net.Dialer{Deadline: deadline}
	var (
		conn net.Conn
		err  error
	)
	if s.cfg.ImplicitTLS {
		conn, err = (&tls.Dialer{NetDialer: dialer, Config: tlsConfig}).DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return stage(twofa.MailSMTPConnectionError, err, "dial smtp server")
	}
	defer conn.Close()
	if err := conn.SetDeadline(deadline); err != nil {
		return stage(twofa.MailSMTPConnectionError, err, "set smtp deadline")
	}

	client, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		return stage(twofa.MailSMTPConnectionError, err, "smtp handshake")
	}
	defer client.Close()

	if !s.cfg.ImplicitTLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(tlsConfig); err != nil {
				return stage(twofa.MailSMTPConnectionError, err, "starttls")
			}
		}
	}

	if s.cfg.Username != "" {
		auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
		if err := client.Auth(auth); err != nil {
			return stage(twofa.MailAuthenticationError, err, "smtp auth")
		}
	}

	if err := client.Mail(s.cfg.From); err != nil {
		return stage(twofa.MailSendError, err, "smtp MAIL FROM")
	}
	if err := client.Rcpt(to); err != nil {
		return stage(twofa.MailSendError, err, "smtp RCPT TO")
	}
	w, err := client.Data()
	if err != nil {
		return stage(twofa.MailSendError, err, "smtp DATA")
	}
	if _, err := w.Write(s.message(to, subject, htmlBody)); err != nil {
		_ = w.Close()
		return stage(twofa.MailSendError, err, "write smtp message")
	}
	if err := w.Close(); err != nil {
		return stage(twofa.MailSendError, err, "finish smtp message")
	}
	if err := client.Quit(); err != nil {
		s.logger.Debug().Err(err).Msg("smtp quit")
	}
	return nil
}

func (s *SMTP) tlsConfig() *tls.Config {
	if s.cfg.TLSConfig != nil {
		cfg := s.cfg.TLSConfig.Clone()
		if cfg.ServerName == "" {
			cfg.ServerName = s.cfg.Host
		}
		return cfg
	}
	return &tls.Config{ServerName: s.cfg.Host, MinVersion: tls.VersionTLS12}
}

func (s *SMTP) message(to, subject, htmlBody string) []byte {
	from := s.cfg.From
	if s.cfg.FromName != "" {
		from = mime.QEncoding.Encode("utf-8", s.cfg.FromName) + " <" + s.cfg.From + ">"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=\"utf-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(htmlBody)
	return []byte(b.String())
}
