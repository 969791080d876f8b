package adminauth

import (
	"io"

	"github.com/rs/zerolog"

	"github.com/MrEthical07/adminauth/internal/audit"
)

// AuditEvent is one recorded security event.
type AuditEvent = audit.Event

// AuditSink receives audit events from the dispatcher worker.
type AuditSink = audit.Sink

// NewJSONAuditSink writes one JSON object per line to w.
func NewJSONAuditSink(w io.Writer) AuditSink {
	return audit.NewJSONWriterSink(w)
}

// NewLogAuditSink writes events through log.
func NewLogAuditSink(log zerolog.Logger) AuditSink {
	return audit.NewLogSink(log)
}

// NewChannelAuditSink exposes events on a buffered channel, mostly for tests.
func NewChannelAuditSink(buffer int) *audit.ChannelSink {
	return audit.NewChannelSink(buffer)
}
