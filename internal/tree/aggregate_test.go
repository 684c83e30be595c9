package tree

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/learningequality/studio-sub002/internal/testutil"
	"github.com/learningequality/studio-sub002/internal/types"
)

func TestDescendantCount_FromIntervalWidth(t *testing.T) {
	topic := &types.ContentNode{Kind: types.KindTopic, Lft: 1, Rght: 12}
	if got := DescendantCount(topic); got != 5 {
		t.Fatalf("topic spanning [1,12] has 5 descendants, got %d", got)
	}
	leaf := &types.ContentNode{Kind: types.KindVideo, Lft: 2, Rght: 3}
	if got := DescendantCount(leaf); got != 1 {
		t.Fatalf("leaf counts as 1, got %d", got)
	}
}

func addFile(t *testing.T, tx *gorm.DB, nodeID uuid.UUID, checksum string, size int64) {
	t.Helper()
	f := &types.File{
		ID:            uuid.New(),
		ContentNodeID: &nodeID,
		Checksum:      checksum,
		FileSize:      size,
		Preset:        "high_res_video",
	}
	if err := tx.Create(f).Error; err != nil {
		t.Fatalf("create file: %v", err)
	}
}

func addAssessmentItem(t *testing.T, tx *gorm.DB, nodeID uuid.UUID, deleted bool) {
	t.Helper()
	item := &types.AssessmentItem{
		ID:            uuid.New(),
		ContentNodeID: nodeID,
		AssessmentID:  uuid.New(),
		Type:          "single_selection",
		Deleted:       deleted,
	}
	if err := tx.Create(item).Error; err != nil {
		t.Fatalf("create assessment item: %v", err)
	}
}

func TestAggregator_ResourceCountDedupsContentID(t *testing.T) {
	tx := testutil.Tx(t)
	store := NewStore(tx, testutil.Log(t))
	agg := NewAggregator(tx, testutil.Log(t))
	nodes := buildFixtureTree(t, tx, store)
	ctx := context.Background()

	// A second copy of video1 under topicB shares its content_id.
	dup := newLeaf(types.KindVideo, "video1 copy")
	dup.ContentID = nodes["video1"].ContentID
	if err := store.Insert(ctx, tx, dup, nodes["topicB"].ID, PositionLastChild); err != nil {
		t.Fatalf("insert: %v", err)
	}

	root := reload(t, tx, nodes["root"].ID)
	n, err := agg.ResourceCount(ctx, tx, root)
	if err != nil {
		t.Fatalf("resource count: %v", err)
	}
	// video1 (+ its copy, deduped), exercise1, video2.
	if n != 3 {
		t.Fatalf("expected 3 distinct resources, got %d", n)
	}

	leaf := reload(t, tx, nodes["video1"].ID)
	if n, err = agg.ResourceCount(ctx, tx, leaf); err != nil || n != 1 {
		t.Fatalf("leaf resource count: %d, %v", n, err)
	}
}

func TestAggregator_ResourceSizeDedupsChecksum(t *testing.T) {
	tx := testutil.Tx(t)
	store := NewStore(tx, testutil.Log(t))
	agg := NewAggregator(tx, testutil.Log(t))
	nodes := buildFixtureTree(t, tx, store)
	ctx := context.Background()

	addFile(t, tx, nodes["video1"].ID, "abc123", 1000)
	// Same bytes attached to a second node; stored once, counted once.
	addFile(t, tx, nodes["video2"].ID, "abc123", 1000)
	addFile(t, tx, nodes["video2"].ID, "def456", 250)

	root := reload(t, tx, nodes["root"].ID)
	size, err := agg.ResourceSize(ctx, tx, root)
	if err != nil {
		t.Fatalf("resource size: %v", err)
	}
	if size != 1250 {
		t.Fatalf("expected 1250 deduped bytes, got %d", size)
	}

	topicB := reload(t, tx, nodes["topicB"].ID)
	if size, err = agg.ResourceSize(ctx, tx, topicB); err != nil || size != 1250 {
		t.Fatalf("topicB size: %d, %v", size, err)
	}
}

func TestAggregator_AssessmentCountSkipsDeleted(t *testing.T) {
	tx := testutil.Tx(t)
	store := NewStore(tx, testutil.Log(t))
	agg := NewAggregator(tx, testutil.Log(t))
	nodes := buildFixtureTree(t, tx, store)
	ctx := context.Background()

	addAssessmentItem(t, tx, nodes["exercise1"].ID, false)
	addAssessmentItem(t, tx, nodes["exercise1"].ID, false)
	addAssessmentItem(t, tx, nodes["exercise1"].ID, true)

	root := reload(t, tx, nodes["root"].ID)
	n, err := agg.AssessmentCount(ctx, tx, root)
	if err != nil {
		t.Fatalf("assessment count: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 live items, got %d", n)
	}

	exercise := reload(t, tx, nodes["exercise1"].ID)
	if n, err = agg.AssessmentCount(ctx, tx, exercise); err != nil || n != 2 {
		t.Fatalf("exercise own count: %d, %v", n, err)
	}
}

func TestAggregator_HasChangedBubblesThroughTopics(t *testing.T) {
	tx := testutil.Tx(t)
	store := NewStore(tx, testutil.Log(t))
	agg := NewAggregator(tx, testutil.Log(t))
	nodes := buildFixtureTree(t, tx, store)
	ctx := context.Background()

	// Start from a fully clean tree.
	if err := tx.Model(&types.ContentNode{}).
		Where("tree_id = ?", reload(t, tx, nodes["root"].ID).TreeID).
		Update("changed", false).Error; err != nil {
		t.Fatalf("reset: %v", err)
	}

	root := reload(t, tx, nodes["root"].ID)
	if dirty, err := agg.HasChanged(ctx, tx, root); err != nil || dirty {
		t.Fatalf("clean tree reported dirty: %v %v", dirty, err)
	}

	// Dirty a deep leaf; every ancestor topic reports changed.
	if err := tx.Model(&types.ContentNode{}).
		Where("id = ?", nodes["video1"].ID).
		Update("changed", true).Error; err != nil {
		t.Fatalf("dirty leaf: %v", err)
	}
	for _, name := range []string{"root", "topicA"} {
		dirty, err := agg.HasChanged(ctx, tx, reload(t, tx, nodes[name].ID))
		if err != nil || !dirty {
			t.Fatalf("%s should report changed: %v %v", name, dirty, err)
		}
	}
	// Sibling topic stays clean.
	if dirty, _ := agg.HasChanged(ctx, tx, reload(t, tx, nodes["topicB"].ID)); dirty {
		t.Fatal("topicB must not report changed")
	}
	// A clean leaf answers for itself even when the tree is dirty elsewhere.
	if dirty, _ := agg.HasChanged(ctx, tx, reload(t, tx, nodes["video2"].ID)); dirty {
		t.Fatal("clean leaf must not report changed")
	}
	// A dirty topic reports changed with no dirty descendants.
	if err := tx.Model(&types.ContentNode{}).
		Where("id = ?", nodes["topicB"].ID).
		Update("changed", true).Error; err != nil {
		t.Fatalf("dirty topic: %v", err)
	}
	if dirty, _ := agg.HasChanged(ctx, tx, reload(t, tx, nodes["topicB"].ID)); !dirty {
		t.Fatal("self-dirty topic must report changed")
	}
}

func TestAggregator_AncestorIDs(t *testing.T) {
	tx := testutil.Tx(t)
	store := NewStore(tx, testutil.Log(t))
	agg := NewAggregator(tx, testutil.Log(t))
	nodes := buildFixtureTree(t, tx, store)
	ctx := context.Background()

	ids, err := agg.AncestorIDs(ctx, tx, reload(t, tx, nodes["video1"].ID))
	if err != nil {
		t.Fatalf("ancestors: %v", err)
	}
	if len(ids) != 2 || ids[0] != nodes["root"].ID || ids[1] != nodes["topicA"].ID {
		t.Fatalf("expected [root, topicA], got %v", ids)
	}

	ids, err = agg.AncestorIDs(ctx, tx, reload(t, tx, nodes["root"].ID))
	if err != nil || len(ids) != 0 {
		t.Fatalf("root has no ancestors: %v %v", ids, err)
	}
}

func TestAggregator_Annotate(t *testing.T) {
	tx := testutil.Tx(t)
	store := NewStore(tx, testutil.Log(t))
	agg := NewAggregator(tx, testutil.Log(t))
	nodes := buildFixtureTree(t, tx, store)
	ctx := context.Background()

	addFile(t, tx, nodes["video1"].ID, "abc123", 512)
	addAssessmentItem(t, tx, nodes["exercise1"].ID, false)

	got, err := agg.Annotate(ctx, tx, nodes["root"].ID)
	if err != nil {
		t.Fatalf("annotate: %v", err)
	}
	want := Annotations{
		DescendantCount: 5,
		ResourceCount:   3,
		AssessmentCount: 1,
		ResourceSize:    512,
		HasChanged:      true,
	}
	if *got != want {
		t.Fatalf("annotations mismatch:\n got %+v\nwant %+v", *got, want)
	}

	if _, err := agg.Annotate(ctx, tx, uuid.New()); err != ErrTargetNotFound {
		t.Fatalf("missing node: expected ErrTargetNotFound, got %v", err)
	}
}
