package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/learningequality/studio-sub002/internal/jobs"
	"github.com/learningequality/studio-sub002/internal/logger"
	"github.com/learningequality/studio-sub002/internal/repos"
	syncpkg "github.com/learningequality/studio-sub002/internal/sync"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 1 << 20
)

// BroadcastFunc delivers a frame to every subscriber of a scope except the
// originating client, locally or through the cross-instance bus.
type BroadcastFunc func(scope string, from uuid.UUID, msg OutboundMessage)

// Socket serves the per-channel editing websocket. Submitted batches go
// through the change intake, a dispatch pass is queued for each touched
// scope, and the client gets its rev to server_rev mapping back.
type Socket struct {
	log       *logger.Logger
	hub       *Hub
	intake    *syncpkg.Intake
	channels  repos.ChannelRepo
	editors   repos.ChannelUserRepo
	tasks     repos.TaskRunRepo
	broadcast BroadcastFunc
	upgrader  websocket.Upgrader
}

func NewSocket(hub *Hub, intake *syncpkg.Intake, channels repos.ChannelRepo, editors repos.ChannelUserRepo, tasks repos.TaskRunRepo, broadcast BroadcastFunc, baseLog *logger.Logger) *Socket {
	s := &Socket{
		log:       baseLog.With("component", "SyncSocket"),
		hub:       hub,
		intake:    intake,
		channels:  channels,
		editors:   editors,
		tasks:     tasks,
		broadcast: broadcast,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	if s.broadcast == nil {
		s.broadcast = hub.Broadcast
	}
	return s
}

// Serve upgrades the request and runs the connection until either side
// closes. The caller has already authenticated userID.
func (s *Socket) Serve(w http.ResponseWriter, r *http.Request, userID, channelID uuid.UUID) error {
	ctx := r.Context()
	editable, err := s.canEdit(ctx, userID, channelID)
	if err != nil {
		return err
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	client := s.hub.NewClient(userID)
	s.hub.Subscribe(client, UserScope(userID))
	if editable {
		s.hub.Subscribe(client, ChannelScope(channelID))
	}

	go s.writePump(conn, client)
	s.readPump(conn, client)
	return nil
}

// canEdit allows channel editors, and allows a channel id with no row yet so
// a freshly client-created channel can sync its own creation.
func (s *Socket) canEdit(ctx context.Context, userID, channelID uuid.UUID) (bool, error) {
	channel, err := s.channels.GetByID(ctx, nil, channelID)
	if err != nil {
		return false, err
	}
	if channel == nil {
		return true, nil
	}
	if channel.Deleted {
		return false, nil
	}
	return s.editors.IsEditor(ctx, nil, userID, channelID)
}

func (s *Socket) readPump(conn *websocket.Conn, client *Client) {
	defer func() {
		s.hub.CloseClient(client)
		_ = conn.Close()
	}()
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Warn("Sync socket read failed", "client_id", client.ID, "error", err)
			}
			return
		}
		var msg InboundMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.send(client, OutboundMessage{Type: MessageTypeError, Error: "malformed frame"})
			continue
		}
		if msg.Type != MessageTypeSync {
			s.send(client, OutboundMessage{Type: MessageTypeError, Error: "unsupported message type"})
			continue
		}
		reply := s.handleSync(context.Background(), client, msg.Changes)
		s.send(client, reply)
	}
}

// handleSync admits one batch and fans the persisted revs out to the touched
// scopes.
func (s *Socket) handleSync(ctx context.Context, client *Client, rawChanges []json.RawMessage) OutboundMessage {
	res, err := s.intake.Submit(ctx, client.UserID, rawChanges)
	if err != nil {
		s.log.Error("Failed to persist sync batch", "error", err)
		return OutboundMessage{
			Type:       MessageTypeError,
			Error:      "failed to persist changes",
			Disallowed: rawChanges,
		}
	}

	reply := OutboundMessage{Type: MessageTypeSyncAck, Disallowed: res.Disallowed}
	for i, change := range res.Persisted {
		reply.Allowed = append(reply.Allowed, RevPair{Rev: res.PersistedRevs[i], ServerRev: change.ServerRev})
	}
	for channelID, revs := range res.ChannelRevs() {
		if err := jobs.EnqueueChannelDispatch(ctx, nil, s.tasks, channelID); err != nil {
			s.log.Error("Failed to enqueue channel dispatch", "channel_id", channelID, "error", err)
		}
		s.broadcast(ChannelScope(channelID), client.ID, OutboundMessage{
			Type:       MessageTypeChanges,
			ChannelID:  channelID.String(),
			ServerRevs: revs,
		})
	}
	if res.HasUserScoped() {
		if err := jobs.EnqueueUserDispatch(ctx, nil, s.tasks, client.UserID); err != nil {
			s.log.Error("Failed to enqueue user dispatch", "user_id", client.UserID, "error", err)
		}
	}
	return reply
}

func (s *Socket) send(client *Client, msg OutboundMessage) {
	select {
	case client.Outbound <- msg:
	case <-client.done:
	}
}

func (s *Socket) writePump(conn *websocket.Conn, client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()
	for {
		select {
		case msg, ok := <-client.Outbound:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
