package twofa

import (
	"io"

	"github.com/MrEthical07/twofa/internal/audit"
	"github.com/rs/zerolog"
)

// AuditEvent is one security-relevant outcome recorded by the engine.
type AuditEvent = audit.Event

// AuditSink receives audit events from the engine's dispatcher goroutine.
type AuditSink = audit.Sink

// NoOpSink discards audit events.
type NoOpSink = audit.NoOpSink

// ChannelSink buffers audit events in a channel, mostly for tests.
type ChannelSink = audit.ChannelSink

// JSONWriterSink writes audit events as JSON lines.
type JSONWriterSink = audit.JSONWriterSink

func NewChannelSink(buffer int) *ChannelSink {
	return audit.NewChannelSink(buffer)
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return audit.NewJSONWriterSink(w)
}

// NewLogSink returns a sink that writes audit events through logger.
func NewLogSink(logger zerolog.Logger) AuditSink {
	return audit.NewZerologSink(logger)
}

// MultiSink fans events out to several sinks.
func MultiSink(sinks ...AuditSink) AuditSink {
	return audit.MultiSink(sinks)
}
