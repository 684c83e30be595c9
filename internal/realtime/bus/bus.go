package bus

import (
	"context"

	"github.com/learningequality/studio-sub002/internal/realtime"
)

// Envelope is one cross-instance broadcast: the scope it targets, the
// originating client (excluded from delivery), and the frame to send.
type Envelope struct {
	Scope   string                   `json:"scope"`
	From    string                   `json:"from,omitempty"`
	Message realtime.OutboundMessage `json:"message"`
}

// Bus fans sync broadcasts across server instances so editors connected to
// different replicas still see each other's changes.
type Bus interface {
	Publish(ctx context.Context, env Envelope) error
	StartForwarder(ctx context.Context, onMsg func(env Envelope)) error
	Close() error
}
