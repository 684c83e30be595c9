package realtime

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/learningequality/studio-sub002/internal/repos"
	syncpkg "github.com/learningequality/studio-sub002/internal/sync"
	"github.com/learningequality/studio-sub002/internal/testutil"
	"github.com/learningequality/studio-sub002/internal/types"
)

type socketEnv struct {
	tx      *gorm.DB
	hub     *Hub
	socket  *Socket
	editors repos.ChannelUserRepo
	user    *types.User
}

func newSocketEnv(t *testing.T) *socketEnv {
	t.Helper()
	tx := testutil.Tx(t)
	log := testutil.Log(t)
	hub := NewHub(log)
	user := &types.User{ID: uuid.New(), Email: uuid.NewString() + "@example.com", Password: "x"}
	if err := tx.Create(user).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	editors := repos.NewChannelUserRepo(tx, log)
	channels := repos.NewChannelRepo(tx, log)
	intake := syncpkg.NewIntake(repos.NewChangeRepo(tx, log), channels, editors, log)
	socket := NewSocket(
		hub,
		intake,
		channels,
		editors,
		repos.NewTaskRunRepo(tx, log),
		nil,
		log,
	)
	return &socketEnv{tx: tx, hub: hub, socket: socket, editors: editors, user: user}
}

func (e *socketEnv) seedChannel(t *testing.T, editor bool) *types.Channel {
	t.Helper()
	channel := &types.Channel{ID: uuid.New(), Name: "Socket Fixture"}
	if err := e.tx.Create(channel).Error; err != nil {
		t.Fatalf("seed channel: %v", err)
	}
	if editor {
		if err := e.editors.Add(context.Background(), e.tx, e.user.ID, channel.ID); err != nil {
			t.Fatalf("seed editor: %v", err)
		}
	}
	return channel
}

func rawChange(t *testing.T, fields map[string]interface{}) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(fields)
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

func TestHandleSync_SplitsAllowedAndDisallowed(t *testing.T) {
	e := newSocketEnv(t)
	editable := e.seedChannel(t, true)
	forbidden := e.seedChannel(t, false)
	client := e.hub.NewClient(e.user.ID)

	rev1, rev2 := int64(1), int64(2)
	reply := e.socket.handleSync(context.Background(), client, []json.RawMessage{
		rawChange(t, map[string]interface{}{
			"rev": rev1, "table": "contentnode", "type": types.ChangeTypeCreated,
			"channel_id": editable.ID.String(),
			"key":        uuid.NewString(), "obj": map[string]interface{}{"title": "A", "kind": "topic"},
		}),
		rawChange(t, map[string]interface{}{
			"rev": rev2, "table": "contentnode", "type": types.ChangeTypeCreated,
			"channel_id": forbidden.ID.String(),
			"key":        uuid.NewString(), "obj": map[string]interface{}{"title": "B", "kind": "topic"},
		}),
		rawChange(t, map[string]interface{}{
			"rev": 3, "table": "not_a_table", "type": types.ChangeTypeCreated,
		}),
	})

	if reply.Type != MessageTypeSyncAck {
		t.Fatalf("reply type = %q", reply.Type)
	}
	if len(reply.Allowed) != 1 {
		t.Fatalf("allowed = %d, want 1", len(reply.Allowed))
	}
	if reply.Allowed[0].Rev == nil || *reply.Allowed[0].Rev != rev1 {
		t.Fatalf("allowed rev = %v, want %d", reply.Allowed[0].Rev, rev1)
	}
	if reply.Allowed[0].ServerRev == 0 {
		t.Fatal("no server_rev assigned")
	}
	if len(reply.Disallowed) != 2 {
		t.Fatalf("disallowed = %d, want 2", len(reply.Disallowed))
	}

	// Only the allowed change reached the log.
	var persisted int64
	if err := e.tx.Model(&types.Change{}).Where("channel_id = ?", editable.ID).Count(&persisted).Error; err != nil {
		t.Fatal(err)
	}
	if persisted != 1 {
		t.Fatalf("persisted = %d, want 1", persisted)
	}
	var leaked int64
	if err := e.tx.Model(&types.Change{}).Where("channel_id = ?", forbidden.ID).Count(&leaked).Error; err != nil {
		t.Fatal(err)
	}
	if leaked != 0 {
		t.Fatalf("disallowed change persisted: %d", leaked)
	}

	// A dispatch pass was queued for the editable channel's scope.
	var queued int64
	err := e.tx.Model(&types.TaskRun{}).
		Where("scope_key = ? AND status = ?", "channel:"+editable.ID.String(), types.TaskStatusQueued).
		Count(&queued).Error
	if err != nil {
		t.Fatal(err)
	}
	if queued != 1 {
		t.Fatalf("queued dispatches = %d, want 1", queued)
	}
}

func TestHandleSync_AllowsClientCreatedChannel(t *testing.T) {
	e := newSocketEnv(t)
	client := e.hub.NewClient(e.user.ID)
	newChannelID := uuid.New()

	reply := e.socket.handleSync(context.Background(), client, []json.RawMessage{
		rawChange(t, map[string]interface{}{
			"rev": 1, "table": "channel", "type": types.ChangeTypeCreated,
			"channel_id": newChannelID.String(),
			"key":        newChannelID.String(), "obj": map[string]interface{}{"name": "Brand New"},
		}),
		// A follow-up edit in the same batch rides on the pending creation.
		rawChange(t, map[string]interface{}{
			"rev": 2, "table": "contentnode", "type": types.ChangeTypeCreated,
			"channel_id": newChannelID.String(),
			"key":        uuid.NewString(), "obj": map[string]interface{}{"title": "Intro", "kind": "topic"},
		}),
	})

	if len(reply.Allowed) != 2 || len(reply.Disallowed) != 0 {
		t.Fatalf("allowed=%d disallowed=%d, want 2/0", len(reply.Allowed), len(reply.Disallowed))
	}
}

func TestHandleSync_UserScopedChanges(t *testing.T) {
	e := newSocketEnv(t)
	client := e.hub.NewClient(e.user.ID)

	reply := e.socket.handleSync(context.Background(), client, []json.RawMessage{
		rawChange(t, map[string]interface{}{
			"rev": 1, "table": "user", "type": types.ChangeTypeUpdated,
			"key": e.user.ID.String(), "mods": map[string]interface{}{"first_name": "Ada"},
		}),
	})
	if len(reply.Allowed) != 1 {
		t.Fatalf("allowed = %d, want 1", len(reply.Allowed))
	}
	var queued int64
	err := e.tx.Model(&types.TaskRun{}).
		Where("scope_key = ? AND status = ?", "user:"+e.user.ID.String(), types.TaskStatusQueued).
		Count(&queued).Error
	if err != nil {
		t.Fatal(err)
	}
	if queued != 1 {
		t.Fatalf("queued user dispatches = %d, want 1", queued)
	}
}
