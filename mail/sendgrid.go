package mail

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/MrEthical07/twofa"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
)

const sendGridEndpoint = "/v3/mail/send"

// SendGridConfig configures the SendGrid v3 mail/send API transport.
type SendGridConfig struct {
	APIKey   string
	From     string
	FromName string
	// Host overrides https://api.sendgrid.com.
	Host    string
	Timeout time.Duration
}

type SendGrid struct {
	cfg    SendGridConfig
	logger zerolog.Logger
}

var _ twofa.MailTransport = (*SendGrid)(nil)

func NewSendGrid(cfg SendGridConfig, logger zerolog.Logger) (*SendGrid, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("sendgrid api key is required")
	}
	if strings.TrimSpace(cfg.From) == "" {
		return nil, errors.New("sendgrid from address is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultSMTPTimeout
	}
	return &SendGrid{
		cfg:    cfg,
		logger: logger.With().Str("component", "mail").Str("transport", "sendgrid").Logger(),
	}, nil
}

// client builds a fresh client per message; sendgrid.Client keeps the
// request body on the struct.
func (s *SendGrid) client() *sendgrid.Client {
	request := sendgrid.GetRequest(s.cfg.APIKey, sendGridEndpoint, s.cfg.Host)
	request.Method = http.MethodPost
	return &sendgrid.Client{Request: request}
}

func (s *SendGrid) Send(ctx context.Context, to, subject, htmlBody string) twofa.MailStatus {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	msg := sgmail.NewV3Mail()
	msg.SetFrom(sgmail.NewEmail(s.cfg.FromName, s.cfg.From))
	msg.Subject = subject
	msg.AddContent(sgmail.NewContent("text/html", htmlBody))
	personalization := sgmail.NewPersonalization()
	personalization.AddTos(sgmail.NewEmail("", to))
	msg.AddPersonalizations(personalization)

	resp, err := s.client().SendWithContext(ctx, msg)
	if err != nil {
		s.logger.Error().Err(errors.Wrap(err, "sendgrid request")).Msg("sendgrid delivery failed")
		return twofa.MailSMTPConnectionError
	}

	status := statusFromHTTP(resp.StatusCode)
	if status != twofa.MailSuccess {
		s.logger.Error().
			Err(errors.Errorf("unexpected status code %d", resp.StatusCode)).
			Str("mail_status", status.String()).
			Str("body", truncate(resp.Body, 256)).
			Msg("sendgrid delivery failed")
	}
	return status
}

func statusFromHTTP(code int) twofa.MailStatus {
	switch {
	case code >= 200 && code < 300:
		return twofa.MailSuccess
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return twofa.MailAuthenticationError
	case code >= 500:
		return twofa.MailSMTPConnectionError
	default:
		return twofa.MailSendError
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
