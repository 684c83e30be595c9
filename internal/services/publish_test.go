package services

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/learningequality/studio-sub002/internal/repos"
	"github.com/learningequality/studio-sub002/internal/testutil"
	"github.com/learningequality/studio-sub002/internal/tree"
	"github.com/learningequality/studio-sub002/internal/types"
)

func TestComputeVersionMetadata(t *testing.T) {
	lic1, lic9 := int64(1), int64(9)
	nodes := []*types.ContentNode{
		{ID: uuid.New(), Kind: types.KindTopic, LangCode: "en", LicenseID: &lic9},
		{ID: uuid.New(), Kind: types.KindVideo, LangCode: "sw", LicenseID: &lic9, Categories: []byte(`["math","science"]`)},
		{ID: uuid.New(), Kind: types.KindVideo, LangCode: "en", LicenseID: &lic1, Categories: []byte(`["math",""]`)},
		{ID: uuid.New(), Kind: types.KindExercise},
	}
	meta := computeVersionMetadata(nodes)

	if len(meta.nodeIDs) != 4 {
		t.Fatalf("nodeIDs = %d, want all 4 nodes", len(meta.nodeIDs))
	}
	// The topic's language and license never enter the included lists.
	if got, want := meta.languages, []string{"en", "sw"}; !equalStrings(got, want) {
		t.Fatalf("languages = %v, want %v", got, want)
	}
	if got, want := meta.licenses, []int64{1, 9}; !equalInt64s(got, want) {
		t.Fatalf("licenses = %v, want %v", got, want)
	}
	// Empty category strings are dropped; the list is sorted and deduped.
	if got, want := meta.categories, []string{"math", "science"}; !equalStrings(got, want) {
		t.Fatalf("categories = %v, want %v", got, want)
	}
}

func TestUpsertPublishedData_MergesVersions(t *testing.T) {
	raw, err := upsertPublishedData(nil, 1, types.PublishedVersionData{IncludedLanguages: []string{"en"}})
	if err != nil {
		t.Fatal(err)
	}
	raw, err = upsertPublishedData(raw, 2, types.PublishedVersionData{IncludedLanguages: []string{"sw"}})
	if err != nil {
		t.Fatal(err)
	}
	all := map[string]types.PublishedVersionData{}
	if err := json.Unmarshal(raw, &all); err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("entries = %d, want 2", len(all))
	}
	if all["1"].IncludedLanguages[0] != "en" || all["2"].IncludedLanguages[0] != "sw" {
		t.Fatalf("entries not keyed by version: %+v", all)
	}
	if _, err := upsertPublishedData([]byte("not json"), 3, types.PublishedVersionData{}); err == nil {
		t.Fatal("malformed published_data accepted")
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func equalInt64s(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

type publishEnv struct {
	tx       *gorm.DB
	store    *tree.Store
	channels repos.ChannelRepo
	nodes    repos.ContentNodeRepo
	versions repos.ChannelVersionRepo
	changes  repos.ChangeRepo
	tokens   repos.SecretTokenRepo
	publish  *PublishService
}

func newPublishEnv(t *testing.T) *publishEnv {
	t.Helper()
	tx := testutil.Tx(t)
	log := testutil.Log(t)
	store := tree.NewStore(tx, log)

	channels := repos.NewChannelRepo(tx, log)
	nodes := repos.NewContentNodeRepo(tx, log)
	versions := repos.NewChannelVersionRepo(tx, log)
	changes := repos.NewChangeRepo(tx, log)
	files := repos.NewFileRepo(tx, log)
	licenses := repos.NewLicenseRepo(tx, log)
	secretTokens := repos.NewSecretTokenRepo(tx, log)

	artifacts, err := newLocalArtifactStore(log, t.TempDir())
	if err != nil {
		t.Fatalf("artifact store: %v", err)
	}
	exporter := NewExporter(nodes, files, licenses, artifacts, log)
	tokenSvc := NewTokenService(secretTokens, log)
	publish := NewPublishService(tx, channels, nodes, versions, changes, tokenSvc, exporter, nil, log)

	return &publishEnv{
		tx:       tx,
		store:    store,
		channels: channels,
		nodes:    nodes,
		versions: versions,
		changes:  changes,
		tokens:   secretTokens,
		publish:  publish,
	}
}

// seedChannel builds a channel whose main tree has one topic root and the
// given leaves.
func (e *publishEnv) seedChannel(t *testing.T, leaves ...*types.ContentNode) *types.Channel {
	t.Helper()
	ctx := context.Background()
	root := &types.ContentNode{
		ID:        uuid.New(),
		NodeID:    uuid.New(),
		ContentID: uuid.New(),
		Kind:      types.KindTopic,
		Title:     "Root",
	}
	if err := e.store.CreateRoot(ctx, nil, root); err != nil {
		t.Fatalf("create root: %v", err)
	}
	for _, leaf := range leaves {
		if leaf.ID == uuid.Nil {
			leaf.ID = uuid.New()
		}
		leaf.NodeID = uuid.New()
		leaf.ContentID = uuid.New()
		if err := e.store.Insert(ctx, nil, leaf, root.ID, tree.PositionLastChild); err != nil {
			t.Fatalf("insert leaf: %v", err)
		}
	}
	channel := &types.Channel{ID: uuid.New(), Name: "Publish Fixture", MainTreeID: &root.ID}
	if _, err := e.channels.Create(ctx, nil, []*types.Channel{channel}); err != nil {
		t.Fatalf("create channel: %v", err)
	}
	return channel
}

func TestIncrementChannelVersion_Monotonic(t *testing.T) {
	e := newPublishEnv(t)
	ctx := context.Background()
	lic := int64(1)
	channel := e.seedChannel(t,
		&types.ContentNode{Kind: types.KindVideo, Title: "V1", LicenseID: &lic, LangCode: "en", Changed: true},
		&types.ContentNode{Kind: types.KindExercise, Title: "E1", LicenseID: &lic, Changed: true},
	)

	v1, err := e.publish.IncrementChannelVersion(ctx, channel.ID)
	if err != nil {
		t.Fatalf("first publish: %v", err)
	}
	if v1.Version == nil || *v1.Version != 1 {
		t.Fatalf("first publish version = %v, want 1", v1.Version)
	}
	v2, err := e.publish.IncrementChannelVersion(ctx, channel.ID)
	if err != nil {
		t.Fatalf("second publish: %v", err)
	}
	if v2.Version == nil || *v2.Version != 2 {
		t.Fatalf("second publish version = %v, want 2", v2.Version)
	}

	reloaded, err := e.channels.GetByID(ctx, nil, channel.ID)
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.Version != 2 {
		t.Fatalf("channel.version = %d, want 2", reloaded.Version)
	}
	if reloaded.VersionInfoID == nil || *reloaded.VersionInfoID != v2.ID {
		t.Fatal("version_info not pointing at the latest version")
	}
	if reloaded.LastPublished == nil {
		t.Fatal("last_published not stamped")
	}
	all := map[string]types.PublishedVersionData{}
	if err := json.Unmarshal(reloaded.PublishedData, &all); err != nil {
		t.Fatal(err)
	}
	if _, ok := all["1"]; !ok {
		t.Fatal("published_data lost the first version's entry")
	}
	if _, ok := all["2"]; !ok {
		t.Fatal("published_data missing the new version's entry")
	}
	if !equalInt64s(all["2"].IncludedLicenses, []int64{1}) {
		t.Fatalf("included licenses = %v, want [1]", all["2"].IncludedLicenses)
	}
}

func TestIncrementChannelVersion_FlipsSnapshotNodes(t *testing.T) {
	e := newPublishEnv(t)
	ctx := context.Background()
	lic := int64(1)
	channel := e.seedChannel(t,
		&types.ContentNode{Kind: types.KindVideo, Title: "V1", LicenseID: &lic, Changed: true},
	)

	if _, err := e.publish.IncrementChannelVersion(ctx, channel.ID); err != nil {
		t.Fatalf("publish: %v", err)
	}
	root, err := e.nodes.GetByID(ctx, nil, *channel.MainTreeID)
	if err != nil {
		t.Fatal(err)
	}
	treeNodes, err := e.nodes.GetByTreeID(ctx, nil, root.TreeID)
	if err != nil {
		t.Fatal(err)
	}
	for _, n := range treeNodes {
		if !n.Published || n.Changed {
			t.Fatalf("node %s not flipped published/clean: published=%v changed=%v", n.ID, n.Published, n.Changed)
		}
	}
	// The publish emits its completion event into the change log.
	var emitted []*types.Change
	if err := e.tx.Where("channel_id = ? AND change_type = ?", channel.ID, types.ChangeTypePublished).Find(&emitted).Error; err != nil {
		t.Fatal(err)
	}
	if len(emitted) != 1 {
		t.Fatalf("published changes = %d, want 1", len(emitted))
	}
}

func TestCreateDraftChannelVersion(t *testing.T) {
	e := newPublishEnv(t)
	ctx := context.Background()
	lic := int64(1)
	channel := e.seedChannel(t,
		&types.ContentNode{Kind: types.KindVideo, Title: "V1", LicenseID: &lic},
	)

	draft, cleartext, err := e.publish.CreateDraftChannelVersion(ctx, channel.ID)
	if err != nil {
		t.Fatalf("draft: %v", err)
	}
	if draft.Version != nil {
		t.Fatalf("draft version = %v, want nil", draft.Version)
	}
	if cleartext == "" {
		t.Fatal("no preview token returned")
	}

	// The counter and version_info are untouched by drafts.
	reloaded, err := e.channels.GetByID(ctx, nil, channel.ID)
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.Version != 0 || reloaded.VersionInfoID != nil {
		t.Fatalf("draft moved the channel version state: version=%d", reloaded.Version)
	}

	// The stored token is the digest of the returned cleartext.
	minted, err := e.tokens.GetByChannelVersionID(ctx, nil, draft.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(minted) != 1 {
		t.Fatalf("preview tokens = %d, want 1", len(minted))
	}
	if minted[0].TokenHash != HashToken(cleartext) {
		t.Fatal("stored token hash does not match the returned cleartext")
	}
	if minted[0].IsPrimary {
		t.Fatal("preview token marked primary")
	}
}
