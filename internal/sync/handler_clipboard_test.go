package sync

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/learningequality/studio-sub002/internal/repos"
	"github.com/learningequality/studio-sub002/internal/testutil"
	"github.com/learningequality/studio-sub002/internal/types"
)

func TestDispatch_ClipboardCopyCreatesRootOnFirstUse(t *testing.T) {
	e := newDispatchEnv(t)
	channel := e.createChannel(t, "History")

	// A published-ish source node inside the channel's main tree.
	sourceID := uuid.New()
	e.enqueue(t, TableContentNode, types.ChangeTypeCreated, Payload{
		Key: uuidKey(sourceID),
		Obj: map[string]interface{}{
			"title":  "Primary Sources",
			"parent": channel.MainTreeID.String(),
			"kind":   types.KindTopic,
		},
	}, &channel.ID)
	if res, err := e.registry.Dispatcher.DispatchChannel(context.Background(), channel.ID); err != nil || res.Errored != 0 {
		t.Fatalf("seed source node: err=%v res=%+v", err, res)
	}

	clipEntryID := uuid.New()
	e.enqueue(t, TableClipboard, types.ChangeTypeCopied, Payload{
		Key:             uuidKey(clipEntryID),
		SourceID:        sourceID.String(),
		SourceChannelID: channel.ID.String(),
	}, nil)
	res, err := e.registry.Dispatcher.DispatchUser(context.Background(), e.user.ID)
	if err != nil {
		t.Fatalf("dispatch clipboard copy: %v", err)
	}
	if res.Errored != 0 {
		t.Fatalf("clipboard copy errored: %+v", res.Errors)
	}

	users := repos.NewUserRepo(e.tx, testutil.Log(t))
	user, err := users.GetByID(context.Background(), e.tx, e.user.ID)
	if err != nil || user == nil {
		t.Fatalf("reload user: %v", err)
	}
	if user.ClipboardTreeID == nil {
		t.Fatal("clipboard tree was not created on first use")
	}

	entry, err := e.nodes.GetByID(context.Background(), e.tx, clipEntryID)
	if err != nil || entry == nil {
		t.Fatalf("clipboard entry missing: %v", err)
	}
	root, err := e.nodes.GetByID(context.Background(), e.tx, *user.ClipboardTreeID)
	if err != nil || root == nil {
		t.Fatalf("clipboard root missing: %v", err)
	}
	if entry.TreeID != root.TreeID {
		t.Fatalf("entry tree_id = %d, clipboard root tree_id = %d", entry.TreeID, root.TreeID)
	}
	// The source stays where it was.
	source, err := e.nodes.GetByID(context.Background(), e.tx, sourceID)
	if err != nil || source == nil {
		t.Fatalf("source missing after copy: %v", err)
	}
	if source.TreeID == root.TreeID {
		t.Fatal("source moved instead of copied")
	}
}

func TestDispatch_ClipboardCopyReplayAndDelete(t *testing.T) {
	e := newDispatchEnv(t)
	channel := e.createChannel(t, "Geography")
	sourceID := uuid.New()
	e.enqueue(t, TableContentNode, types.ChangeTypeCreated, Payload{
		Key: uuidKey(sourceID),
		Obj: map[string]interface{}{
			"title":  "Maps",
			"parent": channel.MainTreeID.String(),
			"kind":   types.KindTopic,
		},
	}, &channel.ID)
	if res, err := e.registry.Dispatcher.DispatchChannel(context.Background(), channel.ID); err != nil || res.Errored != 0 {
		t.Fatalf("seed source node: err=%v res=%+v", err, res)
	}

	clipEntryID := uuid.New()
	copyPayload := Payload{
		Key:      uuidKey(clipEntryID),
		SourceID: sourceID.String(),
	}
	e.enqueue(t, TableClipboard, types.ChangeTypeCopied, copyPayload, nil)
	e.enqueue(t, TableClipboard, types.ChangeTypeCopied, copyPayload, nil)
	res, err := e.registry.Dispatcher.DispatchUser(context.Background(), e.user.ID)
	if err != nil || res.Errored != 0 {
		t.Fatalf("clipboard copy with replay: err=%v res=%+v", err, res)
	}

	users := repos.NewUserRepo(e.tx, testutil.Log(t))
	user, _ := users.GetByID(context.Background(), e.tx, e.user.ID)
	if user == nil || user.ClipboardTreeID == nil {
		t.Fatal("clipboard tree missing")
	}
	var count int64
	if err := e.tx.Model(&types.ContentNode{}).Where("tree_id = (SELECT tree_id FROM content_node WHERE id = ?)", *user.ClipboardTreeID).Count(&count).Error; err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Fatalf("clipboard tree has %d nodes, want root + 1 entry", count)
	}

	// Delete the entry, then delete it again; absence is a success.
	e.enqueue(t, TableClipboard, types.ChangeTypeDeleted, Payload{Key: uuidKey(clipEntryID)}, nil)
	e.enqueue(t, TableClipboard, types.ChangeTypeDeleted, Payload{Key: uuidKey(clipEntryID)}, nil)
	res, err = e.registry.Dispatcher.DispatchUser(context.Background(), e.user.ID)
	if err != nil || res.Errored != 0 {
		t.Fatalf("clipboard delete: err=%v res=%+v", err, res)
	}
	entry, err := e.nodes.GetByID(context.Background(), e.tx, clipEntryID)
	if err != nil {
		t.Fatal(err)
	}
	if entry != nil {
		t.Fatal("clipboard entry survived delete")
	}
}
