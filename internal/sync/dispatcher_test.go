package sync

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/learningequality/studio-sub002/internal/repos"
	"github.com/learningequality/studio-sub002/internal/testutil"
	"github.com/learningequality/studio-sub002/internal/tree"
	"github.com/learningequality/studio-sub002/internal/types"
)

type dispatchEnv struct {
	tx       *gorm.DB
	registry *Registry
	changes  repos.ChangeRepo
	nodes    repos.ContentNodeRepo
	channels repos.ChannelRepo
	store    *tree.Store
	user     *types.User
}

func newDispatchEnv(t *testing.T) *dispatchEnv {
	t.Helper()
	tx := testutil.Tx(t)
	log := testutil.Log(t)
	store := tree.NewStore(tx, log)
	user := &types.User{ID: uuid.New(), Email: uuid.NewString() + "@example.com", Password: "x"}
	if err := tx.Create(user).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return &dispatchEnv{
		tx:       tx,
		registry: NewRegistry(tx, store, log),
		changes:  repos.NewChangeRepo(tx, log),
		nodes:    repos.NewContentNodeRepo(tx, log),
		channels: repos.NewChannelRepo(tx, log),
		store:    store,
		user:     user,
	}
}

func (e *dispatchEnv) enqueue(t *testing.T, table string, changeType int, payload Payload, channelID *uuid.UUID) *types.Change {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	ch := &types.Change{
		TableName_:  table,
		ChangeType:  changeType,
		Kwargs:      raw,
		ChannelID:   channelID,
		UserID:      &e.user.ID,
		CreatedByID: &e.user.ID,
	}
	if _, err := e.changes.Create(context.Background(), e.tx, []*types.Change{ch}); err != nil {
		t.Fatalf("enqueue change: %v", err)
	}
	return ch
}

func uuidKey(id uuid.UUID) json.RawMessage {
	raw, _ := json.Marshal(id.String())
	return raw
}

// createChannel dispatches a channel create and returns the channel with its
// main tree root.
func (e *dispatchEnv) createChannel(t *testing.T, name string) *types.Channel {
	t.Helper()
	channelID := uuid.New()
	e.enqueue(t, TableChannel, types.ChangeTypeCreated, Payload{
		Key: uuidKey(channelID),
		Obj: map[string]interface{}{"name": name},
	}, &channelID)
	res, err := e.registry.Dispatcher.DispatchChannel(context.Background(), channelID)
	if err != nil {
		t.Fatalf("dispatch channel create: %v", err)
	}
	if res.Errored != 0 {
		t.Fatalf("channel create errored: %+v", res.Errors)
	}
	channel, err := e.channels.GetByID(context.Background(), e.tx, channelID)
	if err != nil || channel == nil {
		t.Fatalf("channel missing after dispatch: %v", err)
	}
	if channel.MainTreeID == nil || channel.TrashTreeID == nil {
		t.Fatal("channel trees not created")
	}
	return channel
}

func TestDispatch_ChannelCreateBuildsTrees(t *testing.T) {
	e := newDispatchEnv(t)
	channel := e.createChannel(t, "Science")

	root, err := e.nodes.GetByID(context.Background(), e.tx, *channel.MainTreeID)
	if err != nil || root == nil {
		t.Fatalf("main root missing: %v", err)
	}
	if root.Lft != 1 || root.Rght != 2 || !root.IsTopic() {
		t.Fatalf("main root malformed: %+v", root)
	}
	// The creator becomes an editor.
	editors := repos.NewChannelUserRepo(e.tx, testutil.Log(t))
	isEditor, err := editors.IsEditor(context.Background(), e.tx, e.user.ID, channel.ID)
	if err != nil || !isEditor {
		t.Fatalf("creator not an editor: %v", err)
	}
}

func TestDispatch_CreateThenUpdateConverges(t *testing.T) {
	e := newDispatchEnv(t)
	channel := e.createChannel(t, "Math")
	nodeID := uuid.New()

	e.enqueue(t, TableContentNode, types.ChangeTypeCreated, Payload{
		Key: uuidKey(nodeID),
		Obj: map[string]interface{}{
			"title":  "X",
			"parent": channel.MainTreeID.String(),
			"kind":   types.KindTopic,
		},
	}, &channel.ID)
	e.enqueue(t, TableContentNode, types.ChangeTypeUpdated, Payload{
		Key:  uuidKey(nodeID),
		Mods: map[string]interface{}{"title": "Y"},
	}, &channel.ID)

	res, err := e.registry.Dispatcher.DispatchChannel(context.Background(), channel.ID)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if res.Applied != 2 || res.Errored != 0 {
		t.Fatalf("expected 2 applied, got %+v", res)
	}

	node, err := e.nodes.GetByID(context.Background(), e.tx, nodeID)
	if err != nil || node == nil {
		t.Fatalf("node missing: %v", err)
	}
	if node.Title != "Y" {
		t.Fatalf("create-then-update must converge to the update, got title %q", node.Title)
	}
	var n int64
	if err := e.tx.Model(&types.ContentNode{}).Where("id = ?", nodeID).Count(&n).Error; err != nil || n != 1 {
		t.Fatalf("expected exactly one node, got %d (%v)", n, err)
	}
}

func TestDispatch_PerChangeFailureIsolation(t *testing.T) {
	e := newDispatchEnv(t)
	channel := e.createChannel(t, "History")

	good1 := uuid.New()
	bad := uuid.New()
	good2 := uuid.New()
	e.enqueue(t, TableContentNode, types.ChangeTypeCreated, Payload{
		Key: uuidKey(good1),
		Obj: map[string]interface{}{"title": "a", "parent": channel.MainTreeID.String(), "kind": types.KindTopic},
	}, &channel.ID)
	// References a nonexistent parent.
	e.enqueue(t, TableContentNode, types.ChangeTypeCreated, Payload{
		Key: uuidKey(bad),
		Obj: map[string]interface{}{"title": "b", "parent": uuid.NewString(), "kind": types.KindTopic},
	}, &channel.ID)
	e.enqueue(t, TableContentNode, types.ChangeTypeCreated, Payload{
		Key: uuidKey(good2),
		Obj: map[string]interface{}{"title": "c", "parent": channel.MainTreeID.String(), "kind": types.KindVideo},
	}, &channel.ID)

	res, err := e.registry.Dispatcher.DispatchChannel(context.Background(), channel.ID)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if res.Applied != 2 || res.Errored != 1 {
		t.Fatalf("expected 2 applied / 1 errored, got %+v", res)
	}

	var erroredChange types.Change
	if err := e.tx.Where("errored = true AND channel_id = ?", channel.ID).First(&erroredChange).Error; err != nil {
		t.Fatalf("errored change not persisted: %v", err)
	}
	if erroredChange.Error == "" {
		t.Fatal("errored change must carry the error detail")
	}
	for _, id := range []uuid.UUID{good1, good2} {
		node, err := e.nodes.GetByID(context.Background(), e.tx, id)
		if err != nil || node == nil {
			t.Fatalf("valid sibling %s was blocked: %v", id, err)
		}
	}
	if node, _ := e.nodes.GetByID(context.Background(), e.tx, bad); node != nil {
		t.Fatal("invalid change must not create a node")
	}
}

func TestDispatch_UnknownModKeyErrorsWithoutStickingScope(t *testing.T) {
	e := newDispatchEnv(t)
	channel := e.createChannel(t, "Latin")
	ctx := context.Background()

	nodeID := uuid.New()
	e.enqueue(t, TableContentNode, types.ChangeTypeCreated, Payload{
		Key: uuidKey(nodeID),
		Obj: map[string]interface{}{"title": "grammar", "parent": channel.MainTreeID.String(), "kind": types.KindTopic},
	}, &channel.ID)
	if _, err := e.registry.Dispatcher.DispatchChannel(ctx, channel.ID); err != nil {
		t.Fatalf("seed dispatch: %v", err)
	}

	// A mod key the table does not expose must become this change's error,
	// never a failed SQL statement that rolls back the whole pass.
	e.enqueue(t, TableContentNode, types.ChangeTypeUpdated, Payload{
		Key:  uuidKey(nodeID),
		Mods: map[string]interface{}{"title": "declensions", "no_such_field": 1},
	}, &channel.ID)
	res, err := e.registry.Dispatcher.DispatchChannel(ctx, channel.ID)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if res.Applied != 0 || res.Errored != 1 {
		t.Fatalf("expected 1 errored, got %+v", res)
	}
	var erroredChange types.Change
	if err := e.tx.Where("errored = true AND channel_id = ?", channel.ID).First(&erroredChange).Error; err != nil {
		t.Fatalf("errored change not persisted: %v", err)
	}
	if !strings.Contains(erroredChange.Error, "no_such_field") {
		t.Fatalf("error must name the unknown key: %q", erroredChange.Error)
	}

	// The scope is not poisoned: a later valid change still applies.
	e.enqueue(t, TableContentNode, types.ChangeTypeUpdated, Payload{
		Key:  uuidKey(nodeID),
		Mods: map[string]interface{}{"title": "conjugations"},
	}, &channel.ID)
	res, err = e.registry.Dispatcher.DispatchChannel(ctx, channel.ID)
	if err != nil {
		t.Fatalf("follow-up dispatch: %v", err)
	}
	if res.Applied != 1 || res.Errored != 0 {
		t.Fatalf("valid follow-up must apply, got %+v", res)
	}
	node, err := e.nodes.GetByID(ctx, e.tx, nodeID)
	if err != nil || node == nil {
		t.Fatalf("node: %v", err)
	}
	if node.Title != "conjugations" {
		t.Fatalf("follow-up update lost, title %q", node.Title)
	}
}

func TestDispatch_ReplayIsIdempotent(t *testing.T) {
	e := newDispatchEnv(t)
	channel := e.createChannel(t, "Geography")
	ctx := context.Background()

	topicID := uuid.New()
	leafID := uuid.New()
	e.enqueue(t, TableContentNode, types.ChangeTypeCreated, Payload{
		Key: uuidKey(topicID),
		Obj: map[string]interface{}{"title": "maps", "parent": channel.MainTreeID.String(), "kind": types.KindTopic},
	}, &channel.ID)
	e.enqueue(t, TableContentNode, types.ChangeTypeCreated, Payload{
		Key: uuidKey(leafID),
		Obj: map[string]interface{}{"title": "atlas", "parent": topicID.String(), "kind": types.KindDocument},
	}, &channel.ID)
	e.enqueue(t, TableEditorM2M, types.ChangeTypeCreated, Payload{
		Key: CompositeKeyJSON(e.user.ID, channel.ID),
	}, &channel.ID)

	if _, err := e.registry.Dispatcher.DispatchChannel(ctx, channel.ID); err != nil {
		t.Fatalf("first pass: %v", err)
	}

	countState := func() (nodes, editors int64) {
		root, err := e.nodes.GetByID(ctx, e.tx, *channel.MainTreeID)
		if err != nil {
			t.Fatalf("root: %v", err)
		}
		if err := e.tx.Model(&types.ContentNode{}).Where("tree_id = ?", root.TreeID).Count(&nodes).Error; err != nil {
			t.Fatalf("count nodes: %v", err)
		}
		if err := e.tx.Model(&types.ChannelUser{}).Where("channel_id = ?", channel.ID).Count(&editors).Error; err != nil {
			t.Fatalf("count editors: %v", err)
		}
		return nodes, editors
	}
	nodesBefore, editorsBefore := countState()

	// Reset applied flags to simulate replay of the identical ordered list.
	if err := e.tx.Model(&types.Change{}).
		Where("channel_id = ?", channel.ID).
		Update("applied", false).Error; err != nil {
		t.Fatalf("reset applied: %v", err)
	}
	if _, err := e.registry.Dispatcher.DispatchChannel(ctx, channel.ID); err != nil {
		t.Fatalf("replay pass: %v", err)
	}

	nodesAfter, editorsAfter := countState()
	if nodesBefore != nodesAfter || editorsBefore != editorsAfter {
		t.Fatalf("replay diverged: nodes %d->%d editors %d->%d", nodesBefore, nodesAfter, editorsBefore, editorsAfter)
	}
}

func TestDispatch_DeleteOfAbsentIsNoOp(t *testing.T) {
	e := newDispatchEnv(t)
	channel := e.createChannel(t, "Art")

	e.enqueue(t, TableContentNode, types.ChangeTypeDeleted, Payload{
		Key: uuidKey(uuid.New()),
	}, &channel.ID)
	res, err := e.registry.Dispatcher.DispatchChannel(context.Background(), channel.ID)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if res.Applied != 1 || res.Errored != 0 {
		t.Fatalf("delete of absent id must be applied as a no-op, got %+v", res)
	}
}

func TestDispatch_UpdateOfAbsentErrors(t *testing.T) {
	e := newDispatchEnv(t)
	channel := e.createChannel(t, "Music")

	e.enqueue(t, TableContentNode, types.ChangeTypeUpdated, Payload{
		Key:  uuidKey(uuid.New()),
		Mods: map[string]interface{}{"title": "ghost"},
	}, &channel.ID)
	res, err := e.registry.Dispatcher.DispatchChannel(context.Background(), channel.ID)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if res.Errored != 1 {
		t.Fatalf("update of absent id must error, got %+v", res)
	}
}

func TestDispatch_MoveAppliedAfterCreates(t *testing.T) {
	e := newDispatchEnv(t)
	channel := e.createChannel(t, "Physics")
	ctx := context.Background()

	topicID := uuid.New()
	leafID := uuid.New()
	// Enqueued out of order: the move arrives before the topic it targets is
	// created, and type priority fixes it up.
	e.enqueue(t, TableContentNode, types.ChangeTypeCreated, Payload{
		Key: uuidKey(leafID),
		Obj: map[string]interface{}{"title": "waves", "parent": channel.MainTreeID.String(), "kind": types.KindVideo},
	}, &channel.ID)
	e.enqueue(t, TableContentNode, types.ChangeTypeMoved, Payload{
		Key:      uuidKey(leafID),
		Target:   topicID.String(),
		Position: string(tree.PositionLastChild),
	}, &channel.ID)
	e.enqueue(t, TableContentNode, types.ChangeTypeCreated, Payload{
		Key: uuidKey(topicID),
		Obj: map[string]interface{}{"title": "mechanics", "parent": channel.MainTreeID.String(), "kind": types.KindTopic},
	}, &channel.ID)

	res, err := e.registry.Dispatcher.DispatchChannel(ctx, channel.ID)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if res.Errored != 0 {
		t.Fatalf("unexpected errors: %+v", res.Errors)
	}
	leaf, err := e.nodes.GetByID(ctx, e.tx, leafID)
	if err != nil || leaf == nil {
		t.Fatalf("leaf missing: %v", err)
	}
	if leaf.ParentID == nil || *leaf.ParentID != topicID {
		t.Fatal("move must land after the creates in the same batch")
	}
}

func TestDispatch_PublicChannelWithLiveSubmissionRejected(t *testing.T) {
	e := newDispatchEnv(t)
	channel := e.createChannel(t, "Chemistry")
	ctx := context.Background()

	sub := &types.CommunityLibrarySubmission{
		ID:        uuid.New(),
		ChannelID: channel.ID,
		Status:    types.SubmissionStatusLive,
	}
	if err := e.tx.Create(sub).Error; err != nil {
		t.Fatalf("seed submission: %v", err)
	}

	e.enqueue(t, TableChannel, types.ChangeTypeUpdated, Payload{
		Key:  uuidKey(channel.ID),
		Mods: map[string]interface{}{"public": true},
	}, &channel.ID)
	res, err := e.registry.Dispatcher.DispatchChannel(ctx, channel.ID)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if res.Errored != 1 {
		t.Fatalf("public flip must be rejected, got %+v", res)
	}
	got, err := e.channels.GetByID(ctx, e.tx, channel.ID)
	if err != nil || got == nil {
		t.Fatalf("channel: %v", err)
	}
	if got.Public {
		t.Fatal("public flag must be unchanged after rejection")
	}
}

func TestDispatch_DrainSignalsPendingWork(t *testing.T) {
	e := newDispatchEnv(t)
	channel := e.createChannel(t, "Biology")
	ctx := context.Background()

	res, err := e.registry.Dispatcher.DispatchChannel(ctx, channel.ID)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if !res.Drained || res.Processed != 0 {
		t.Fatalf("empty scope must report drained, got %+v", res)
	}

	e.enqueue(t, TableContentNode, types.ChangeTypeCreated, Payload{
		Key: uuidKey(uuid.New()),
		Obj: map[string]interface{}{"title": "cells", "parent": channel.MainTreeID.String(), "kind": types.KindTopic},
	}, &channel.ID)
	res, err = e.registry.Dispatcher.DispatchChannel(ctx, channel.ID)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if res.Drained {
		t.Fatal("non-empty pass must not report drained, caller re-enqueues")
	}
}
