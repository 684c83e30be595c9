package services

import (
	"context"
	"testing"
	"time"

	"github.com/learningequality/studio-sub002/internal/repos"
	"github.com/learningequality/studio-sub002/internal/testutil"
	"github.com/learningequality/studio-sub002/internal/types"
)

func newMaintenanceService(t *testing.T, e *publishEnv) *MaintenanceService {
	t.Helper()
	log := testutil.Log(t)
	return NewMaintenanceService(
		e.tx,
		e.channels,
		e.versions,
		repos.NewFileRepo(e.tx, log),
		e.changes,
		nil,
		log,
	)
}

func TestBackfillChannelVersions(t *testing.T) {
	e := newPublishEnv(t)
	maint := newMaintenanceService(t, e)
	ctx := context.Background()
	lic := int64(1)
	channel := e.seedChannel(t,
		&types.ContentNode{Kind: types.KindVideo, Title: "V", LicenseID: &lic},
	)

	// Historical published_data without matching version rows.
	published, err := upsertPublishedData(nil, 1, types.PublishedVersionData{IncludedLicenses: []int64{1}})
	if err != nil {
		t.Fatal(err)
	}
	published, err = upsertPublishedData(published, 2, types.PublishedVersionData{IncludedLicenses: []int64{1, 7}})
	if err != nil {
		t.Fatal(err)
	}
	if err := e.channels.UpdateFields(ctx, nil, channel.ID, map[string]interface{}{
		"published_data": published,
		"version":        2,
	}); err != nil {
		t.Fatal(err)
	}

	created, err := maint.BackfillChannelVersions(ctx)
	if err != nil {
		t.Fatalf("backfill: %v", err)
	}
	if created != 2 {
		t.Fatalf("created = %d, want 2", created)
	}
	v2, err := e.versions.GetByChannelAndVersion(ctx, nil, channel.ID, 2)
	if err != nil || v2 == nil {
		t.Fatalf("backfilled version 2 missing: %v", err)
	}

	// A second run finds nothing to create.
	created, err = maint.BackfillChannelVersions(ctx)
	if err != nil {
		t.Fatalf("second backfill: %v", err)
	}
	if created != 0 {
		t.Fatalf("second run created = %d, want 0", created)
	}
}

func TestRecomputeSearchVectors(t *testing.T) {
	e := newPublishEnv(t)
	maint := newMaintenanceService(t, e)
	ctx := context.Background()
	lic := int64(1)
	channel := e.seedChannel(t,
		&types.ContentNode{Kind: types.KindVideo, Title: "Photosynthesis basics", LicenseID: &lic},
	)

	processed, err := maint.RecomputeSearchVectors(ctx, 0)
	if err != nil {
		t.Fatalf("recompute: %v", err)
	}
	if processed < 1 {
		t.Fatalf("processed = %d, want at least this channel", processed)
	}

	root, err := e.nodes.GetByID(ctx, nil, *channel.MainTreeID)
	if err != nil {
		t.Fatal(err)
	}
	var vectorized int64
	err = e.tx.Raw(
		"SELECT COUNT(*) FROM content_node WHERE tree_id = ? AND search_vector IS NOT NULL",
		root.TreeID,
	).Scan(&vectorized).Error
	if err != nil {
		t.Fatal(err)
	}
	if vectorized != 2 {
		t.Fatalf("vectorized nodes = %d, want 2", vectorized)
	}
}

func TestGarbageCollect_RemovesStaleTerminalChanges(t *testing.T) {
	e := newPublishEnv(t)
	maint := newMaintenanceService(t, e)
	ctx := context.Background()
	lic := int64(1)
	channel := e.seedChannel(t,
		&types.ContentNode{Kind: types.KindVideo, Title: "V", LicenseID: &lic},
	)
	if _, err := e.publish.IncrementChannelVersion(ctx, channel.ID); err != nil {
		t.Fatalf("publish: %v", err)
	}

	// Age the publish event past retention, then collect.
	old := time.Now().Add(-60 * 24 * time.Hour)
	if err := e.tx.Model(&types.Change{}).
		Where("channel_id = ?", channel.ID).
		Updates(map[string]interface{}{"applied": true, "created_at": old}).Error; err != nil {
		t.Fatal(err)
	}
	if err := maint.GarbageCollect(ctx, 30*24*time.Hour); err != nil {
		t.Fatalf("gc: %v", err)
	}
	var remaining int64
	if err := e.tx.Model(&types.Change{}).Where("channel_id = ?", channel.ID).Count(&remaining).Error; err != nil {
		t.Fatal(err)
	}
	if remaining != 0 {
		t.Fatalf("terminal changes remaining = %d, want 0", remaining)
	}

	// The channel's own trees survive collection.
	root, err := e.nodes.GetByID(ctx, nil, *channel.MainTreeID)
	if err != nil || root == nil {
		t.Fatalf("channel root collected: %v", err)
	}
}
