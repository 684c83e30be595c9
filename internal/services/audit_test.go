package services

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/learningequality/studio-sub002/internal/repos"
	"github.com/learningequality/studio-sub002/internal/testutil"
	"github.com/learningequality/studio-sub002/internal/types"
)

func newAuditService(t *testing.T, e *publishEnv) *AuditService {
	t.Helper()
	log := testutil.Log(t)
	return NewAuditService(
		e.tx,
		e.channels,
		e.versions,
		e.nodes,
		repos.NewLicenseRepo(e.tx, log),
		repos.NewAuditedLicenseRepo(e.tx, log),
		e.changes,
		log,
	)
}

func (e *publishEnv) countAuditRows(t *testing.T) int64 {
	t.Helper()
	var n int64
	if err := e.tx.Model(&types.AuditedSpecialPermissionsLicense{}).Count(&n).Error; err != nil {
		t.Fatal(err)
	}
	return n
}

func (e *publishEnv) countAuditFollowUps(t *testing.T, channel *types.Channel) int64 {
	t.Helper()
	var n int64
	err := e.tx.Model(&types.Change{}).
		Where("channel_id = ? AND change_type = ?", channel.ID, types.ChangeTypeUpdated).
		Count(&n).Error
	if err != nil {
		t.Fatal(err)
	}
	return n
}

func TestAuditChannelVersion_SpecialPermissionsDedupe(t *testing.T) {
	e := newPublishEnv(t)
	audit := newAuditService(t, e)
	ctx := context.Background()
	special := int64(9)
	channel := e.seedChannel(t,
		&types.ContentNode{Kind: types.KindVideo, Title: "A1", LicenseID: &special, LicenseDescription: "classroom use only"},
		&types.ContentNode{Kind: types.KindVideo, Title: "A2", LicenseID: &special, LicenseDescription: "classroom use only"},
		&types.ContentNode{Kind: types.KindVideo, Title: "B", LicenseID: &special, LicenseDescription: "no remixing"},
	)
	if _, err := e.publish.IncrementChannelVersion(ctx, channel.ID); err != nil {
		t.Fatalf("publish: %v", err)
	}

	before := e.countAuditRows(t)
	result, err := audit.AuditChannelVersion(ctx, channel.ID, 1)
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	// Two distinct descriptions across three nodes.
	if len(result.SpecialPermissionsLicenseIDs) != 2 {
		t.Fatalf("special permission ids = %v, want 2 entries", result.SpecialPermissionsLicenseIDs)
	}
	if got := e.countAuditRows(t) - before; got != 2 {
		t.Fatalf("audit rows created = %d, want 2", got)
	}

	reloaded, err := e.channels.GetByID(ctx, nil, channel.ID)
	if err != nil {
		t.Fatal(err)
	}
	all := map[string]types.PublishedVersionData{}
	if err := json.Unmarshal(reloaded.PublishedData, &all); err != nil {
		t.Fatal(err)
	}
	if len(all["1"].CommunityLibrarySpecialPerms) != 2 {
		t.Fatalf("published_data special perms = %v, want 2 entries", all["1"].CommunityLibrarySpecialPerms)
	}
}

func TestAuditChannelVersion_Idempotent(t *testing.T) {
	e := newPublishEnv(t)
	audit := newAuditService(t, e)
	ctx := context.Background()
	special := int64(9)
	channel := e.seedChannel(t,
		&types.ContentNode{Kind: types.KindVideo, Title: "A", LicenseID: &special, LicenseDescription: "attribution required"},
	)
	if _, err := e.publish.IncrementChannelVersion(ctx, channel.ID); err != nil {
		t.Fatalf("publish: %v", err)
	}

	first, err := audit.AuditChannelVersion(ctx, channel.ID, 1)
	if err != nil {
		t.Fatalf("first audit: %v", err)
	}
	rowsAfterFirst := e.countAuditRows(t)
	changesAfterFirst := e.countAuditFollowUps(t, channel)

	second, err := audit.AuditChannelVersion(ctx, channel.ID, 1)
	if err != nil {
		t.Fatalf("second audit: %v", err)
	}
	if !equalInt64s(first.SpecialPermissionsLicenseIDs, second.SpecialPermissionsLicenseIDs) {
		t.Fatalf("re-run diverged: %v vs %v", first.SpecialPermissionsLicenseIDs, second.SpecialPermissionsLicenseIDs)
	}
	if got := e.countAuditRows(t); got != rowsAfterFirst {
		t.Fatalf("re-run created audit rows: %d -> %d", rowsAfterFirst, got)
	}
	// No movement means no second follow-up change.
	if got := e.countAuditFollowUps(t, channel); got != changesAfterFirst {
		t.Fatalf("re-run emitted changes: %d -> %d", changesAfterFirst, got)
	}
}

func TestAuditChannelVersion_DescriptionsFrozenAtPublish(t *testing.T) {
	e := newPublishEnv(t)
	audit := newAuditService(t, e)
	ctx := context.Background()
	special := int64(9)
	node := &types.ContentNode{Kind: types.KindVideo, Title: "A", LicenseID: &special, LicenseDescription: "classroom use only"}
	channel := e.seedChannel(t, node)
	if _, err := e.publish.IncrementChannelVersion(ctx, channel.ID); err != nil {
		t.Fatalf("publish: %v", err)
	}

	// Editing the live tree after publish must not change what version 1 is
	// audited against.
	if err := e.tx.Model(&types.ContentNode{}).
		Where("id = ?", node.ID).
		Update("license_description", "rewritten after publish").Error; err != nil {
		t.Fatal(err)
	}

	result, err := audit.AuditChannelVersion(ctx, channel.ID, 1)
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if len(result.SpecialPermissionsLicenseIDs) != 1 {
		t.Fatalf("special permission ids = %v, want 1 entry", result.SpecialPermissionsLicenseIDs)
	}
	var rows []*types.AuditedSpecialPermissionsLicense
	if err := e.tx.Find(&rows).Error; err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].Description != "classroom use only" {
		t.Fatalf("audit must record the publish-time description, got %+v", rows)
	}
}

func TestAuditChannelVersion_AllRightsReserved(t *testing.T) {
	e := newPublishEnv(t)
	audit := newAuditService(t, e)
	ctx := context.Background()
	arr := int64(7)
	channel := e.seedChannel(t,
		&types.ContentNode{Kind: types.KindVideo, Title: "Locked", LicenseID: &arr},
	)
	if _, err := e.publish.IncrementChannelVersion(ctx, channel.ID); err != nil {
		t.Fatalf("publish: %v", err)
	}

	result, err := audit.AuditChannelVersion(ctx, channel.ID, 1)
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if !equalInt64s(result.InvalidLicenseIDs, []int64{7}) {
		t.Fatalf("invalid licenses = %v, want [7]", result.InvalidLicenseIDs)
	}
	version, err := e.versions.GetByChannelAndVersion(ctx, nil, channel.ID, 1)
	if err != nil {
		t.Fatal(err)
	}
	var nonDistributable []int64
	if err := json.Unmarshal(version.NonDistributableLicensesIncluded, &nonDistributable); err != nil {
		t.Fatal(err)
	}
	if !equalInt64s(nonDistributable, []int64{7}) {
		t.Fatalf("version non_distributable = %v, want [7]", nonDistributable)
	}
}
