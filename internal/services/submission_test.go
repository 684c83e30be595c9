package services

import (
	"context"
	"testing"

	"github.com/learningequality/studio-sub002/internal/repos"
	"github.com/learningequality/studio-sub002/internal/testutil"
	"github.com/learningequality/studio-sub002/internal/types"
)

func newSubmissionService(t *testing.T, e *publishEnv) *SubmissionService {
	t.Helper()
	log := testutil.Log(t)
	return NewSubmissionService(e.tx, e.channels, e.versions, repos.NewCommunitySubmissionRepo(e.tx, log), log)
}

func TestSubmit_RejectsPublicChannel(t *testing.T) {
	e := newPublishEnv(t)
	subs := newSubmissionService(t, e)
	ctx := context.Background()
	lic := int64(1)
	channel := e.seedChannel(t,
		&types.ContentNode{Kind: types.KindVideo, Title: "V", LicenseID: &lic},
	)
	if _, err := e.publish.IncrementChannelVersion(ctx, channel.ID); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := e.channels.UpdateFields(ctx, nil, channel.ID, map[string]interface{}{"public": true}); err != nil {
		t.Fatal(err)
	}

	if _, err := subs.Submit(ctx, channel.ID, 1); err == nil {
		t.Fatal("submission accepted for a public channel")
	}
}

func TestSubmit_AndResolveLifecycle(t *testing.T) {
	e := newPublishEnv(t)
	subs := newSubmissionService(t, e)
	ctx := context.Background()
	lic := int64(1)
	channel := e.seedChannel(t,
		&types.ContentNode{Kind: types.KindVideo, Title: "V", LicenseID: &lic},
	)
	if _, err := e.publish.IncrementChannelVersion(ctx, channel.ID); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if _, err := subs.Submit(ctx, channel.ID, 99); err == nil {
		t.Fatal("submission accepted for a version that was never published")
	}
	sub, err := subs.Submit(ctx, channel.ID, 1)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if sub.Status != types.SubmissionStatusPending {
		t.Fatalf("status = %q, want pending", sub.Status)
	}

	if err := subs.Resolve(ctx, sub.ID, "bogus"); err == nil {
		t.Fatal("invalid status accepted")
	}
	if err := subs.Resolve(ctx, sub.ID, types.SubmissionStatusLive); err != nil {
		t.Fatalf("resolve live: %v", err)
	}

	// A live submission now blocks further submissions for the channel.
	if _, err := subs.Submit(ctx, channel.ID, 1); err == nil {
		t.Fatal("second submission accepted while one is live")
	}
}

func TestResolve_RejectsGoingLiveOnPublicChannel(t *testing.T) {
	e := newPublishEnv(t)
	subs := newSubmissionService(t, e)
	ctx := context.Background()
	lic := int64(1)
	channel := e.seedChannel(t,
		&types.ContentNode{Kind: types.KindVideo, Title: "V", LicenseID: &lic},
	)
	if _, err := e.publish.IncrementChannelVersion(ctx, channel.ID); err != nil {
		t.Fatalf("publish: %v", err)
	}
	sub, err := subs.Submit(ctx, channel.ID, 1)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	// The channel went public while the submission sat in review.
	if err := e.channels.UpdateFields(ctx, nil, channel.ID, map[string]interface{}{"public": true}); err != nil {
		t.Fatal(err)
	}

	if err := subs.Resolve(ctx, sub.ID, types.SubmissionStatusApproved); err == nil {
		t.Fatal("approval accepted for a public channel")
	}
	// Rejection stays available.
	if err := subs.Resolve(ctx, sub.ID, types.SubmissionStatusRejected); err != nil {
		t.Fatalf("reject: %v", err)
	}
}
