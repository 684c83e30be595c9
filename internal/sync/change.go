package sync

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/learningequality/studio-sub002/internal/types"
)

// Payload is the decoded kwargs of one change. Creates carry Obj, updates
// carry Mods, moves carry Target+Position, copies carry SourceID as well.
type Payload struct {
	// Key identifies the affected entity: a uuid string, or for relation
	// tables an ordered two-element array that round-trips unchanged.
	Key json.RawMessage `json:"key"`

	Obj  map[string]interface{} `json:"obj,omitempty"`
	Mods map[string]interface{} `json:"mods,omitempty"`

	Target          string `json:"target,omitempty"`
	Position        string `json:"position,omitempty"`
	SourceID        string `json:"source_id,omitempty"`
	SourceChannelID string `json:"source_channel_id,omitempty"`
}

func ParsePayload(ch *types.Change) (*Payload, error) {
	var p Payload
	if err := json.Unmarshal(ch.Kwargs, &p); err != nil {
		return nil, fmt.Errorf("malformed change payload: %w", err)
	}
	return &p, nil
}

// UUIDKey decodes a simple uuid key.
func (p *Payload) UUIDKey() (uuid.UUID, error) {
	var s string
	if err := json.Unmarshal(p.Key, &s); err != nil {
		return uuid.Nil, fmt.Errorf("key is not a uuid string: %w", err)
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("key is not a uuid: %w", err)
	}
	return id, nil
}

// CompositeKey decodes an ordered [user_id, channel_id] relation key.
func (p *Payload) CompositeKey() (userID, channelID uuid.UUID, err error) {
	var pair []string
	if err = json.Unmarshal(p.Key, &pair); err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("key is not an ordered pair: %w", err)
	}
	if len(pair) != 2 {
		return uuid.Nil, uuid.Nil, fmt.Errorf("composite key must have exactly 2 elements, got %d", len(pair))
	}
	if userID, err = uuid.Parse(pair[0]); err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("composite key user id: %w", err)
	}
	if channelID, err = uuid.Parse(pair[1]); err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("composite key channel id: %w", err)
	}
	return userID, channelID, nil
}

// CompositeKeyJSON encodes the ordered pair the way clients submit it, so
// server-emitted changes use the identical representation.
func CompositeKeyJSON(userID, channelID uuid.UUID) json.RawMessage {
	raw, _ := json.Marshal([]string{userID.String(), channelID.String()})
	return raw
}

// TargetID decodes the move/copy target reference.
func (p *Payload) TargetID() (uuid.UUID, error) {
	if p.Target == "" {
		return uuid.Nil, fmt.Errorf("change has no target")
	}
	id, err := uuid.Parse(p.Target)
	if err != nil {
		return uuid.Nil, fmt.Errorf("target is not a uuid: %w", err)
	}
	return id, nil
}

// ObjString pulls a string attribute out of a create payload.
func (p *Payload) ObjString(field string) string {
	if p.Obj == nil {
		return ""
	}
	if v, ok := p.Obj[field].(string); ok {
		return v
	}
	return ""
}

// ObjUUID pulls a uuid attribute out of a create payload.
func (p *Payload) ObjUUID(field string) (uuid.UUID, bool) {
	raw := p.ObjString(field)
	if raw == "" {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// DecodeObjInto round-trips Obj through JSON into a typed model, so payload
// field names follow the models' json tags.
func (p *Payload) DecodeObjInto(model interface{}) error {
	raw, err := json.Marshal(p.Obj)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, model)
}

// NewChange builds a server-emitted follow-up change record.
func NewChange(table string, changeType int, kwargs interface{}, channelID, userID *uuid.UUID) (*types.Change, error) {
	raw, err := json.Marshal(kwargs)
	if err != nil {
		return nil, err
	}
	return &types.Change{
		TableName_: table,
		ChangeType: changeType,
		Kwargs:     raw,
		ChannelID:  channelID,
		UserID:     userID,
	}, nil
}
