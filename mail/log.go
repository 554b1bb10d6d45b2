package mail

import (
	"context"

	"github.com/MrEthical07/twofa"
	"github.com/rs/zerolog"
)

// Log writes messages to a logger instead of delivering them. Bodies carry
// live codes, so IncludeBody belongs in local development only.
type Log struct {
	logger      zerolog.Logger
	IncludeBody bool
}

var _ twofa.MailTransport = (*Log)(nil)

func NewLog(logger zerolog.Logger, includeBody bool) *Log {
	return &Log{
		logger:      logger.With().Str("component", "mail").Str("transport", "log").Logger(),
		IncludeBody: includeBody,
	}
}

func (l *Log) Send(_ context.Context, to, subject, htmlBody string) twofa.MailStatus {
	ev := l.logger.Info().Str("to", to).Str("subject", subject)
	if l.IncludeBody {
		ev = ev.Str("body", htmlBody)
	}
	ev.Msg("mail not delivered (log transport)")
	return twofa.MailSuccess
}
