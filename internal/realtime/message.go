package realtime

import "encoding/json"

const (
	// Client to server.
	MessageTypeSync = "sync"

	// Server to client.
	MessageTypeSyncAck = "sync_ack"
	MessageTypeChanges = "changes"
	MessageTypeError   = "error"
)

// InboundMessage is one frame from an editor's socket.
type InboundMessage struct {
	Type    string            `json:"type"`
	Changes []json.RawMessage `json:"changes,omitempty"`
}

// RevPair acknowledges one accepted change: the client's local rev mapped to
// the server_rev the change log assigned.
type RevPair struct {
	Rev       *int64 `json:"rev"`
	ServerRev int64  `json:"server_rev"`
}

// OutboundMessage is one frame to an editor's socket. Disallowed carries the
// original submissions back unmodified so the client can surface them.
type OutboundMessage struct {
	Type       string            `json:"type"`
	Allowed    []RevPair         `json:"allowed,omitempty"`
	Disallowed []json.RawMessage `json:"disallowed,omitempty"`
	ChannelID  string            `json:"channel_id,omitempty"`
	ServerRevs []int64           `json:"server_revs,omitempty"`
	Error      string            `json:"error,omitempty"`
}
