package sync

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/learningequality/studio-sub002/internal/types"
)

func mkChange(rev int64, table string, changeType int) *types.Change {
	return &types.Change{
		ServerRev:  rev,
		TableName_: table,
		ChangeType: changeType,
		Kwargs:     datatypes.JSON(`{}`),
	}
}

func TestGroupChanges_TableAndTypePriority(t *testing.T) {
	// Submitted interleaved; groups must come out user < channel < contentnode
	// and create < update < delete < move inside each table.
	changes := []*types.Change{
		mkChange(1, TableContentNode, types.ChangeTypeMoved),
		mkChange(2, TableChannel, types.ChangeTypeUpdated),
		mkChange(3, TableContentNode, types.ChangeTypeCreated),
		mkChange(4, TableUser, types.ChangeTypeUpdated),
		mkChange(5, TableContentNode, types.ChangeTypeDeleted),
		mkChange(6, TableContentNode, types.ChangeTypeCreated),
		mkChange(7, TableEditorM2M, types.ChangeTypeCreated),
	}
	groups := GroupChanges(changes)

	type gk struct {
		table      string
		changeType int
	}
	var got []gk
	for _, g := range groups {
		got = append(got, gk{g.Table, g.ChangeType})
	}
	want := []gk{
		{TableUser, types.ChangeTypeUpdated},
		{TableChannel, types.ChangeTypeUpdated},
		{TableContentNode, types.ChangeTypeCreated},
		{TableContentNode, types.ChangeTypeDeleted},
		{TableContentNode, types.ChangeTypeMoved},
		{TableEditorM2M, types.ChangeTypeCreated},
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d groups, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("group %d: got %v want %v", i, got[i], want[i])
		}
	}
}

func TestGroupChanges_ServerRevOrderWithinGroup(t *testing.T) {
	changes := []*types.Change{
		mkChange(10, TableContentNode, types.ChangeTypeCreated),
		mkChange(11, TableChannel, types.ChangeTypeCreated),
		mkChange(12, TableContentNode, types.ChangeTypeCreated),
	}
	groups := GroupChanges(changes)
	for _, g := range groups {
		if g.Table != TableContentNode {
			continue
		}
		if g.Changes[0].ServerRev != 10 || g.Changes[1].ServerRev != 12 {
			t.Fatalf("server_rev order not preserved inside group: %v", g.Changes)
		}
	}
}

func TestGroupChanges_CopySortsWithCreates(t *testing.T) {
	changes := []*types.Change{
		mkChange(1, TableContentNode, types.ChangeTypeUpdated),
		mkChange(2, TableContentNode, types.ChangeTypeCopied),
	}
	groups := GroupChanges(changes)
	if groups[0].ChangeType != types.ChangeTypeCopied {
		t.Fatalf("copies must dispatch before updates, got order %v", groups)
	}
}

func TestPayload_CompositeKeyRoundTrip(t *testing.T) {
	userID := uuid.New()
	channelID := uuid.New()
	raw := CompositeKeyJSON(userID, channelID)

	p := &Payload{Key: raw}
	gotUser, gotChannel, err := p.CompositeKey()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if gotUser != userID || gotChannel != channelID {
		t.Fatal("composite key did not round-trip in order")
	}

	// Serialization is byte-stable for acknowledgment matching.
	again := CompositeKeyJSON(gotUser, gotChannel)
	if string(raw) != string(again) {
		t.Fatalf("composite key representation drifted: %s vs %s", raw, again)
	}
}

func TestPayload_CompositeKeyRejectsWrongArity(t *testing.T) {
	p := &Payload{Key: json.RawMessage(`["` + uuid.NewString() + `"]`)}
	if _, _, err := p.CompositeKey(); err == nil {
		t.Fatal("one-element key must be rejected")
	}
	p = &Payload{Key: json.RawMessage(`"` + uuid.NewString() + `"`)}
	if _, _, err := p.CompositeKey(); err == nil {
		t.Fatal("scalar key must be rejected as a composite key")
	}
}

func TestPayload_UUIDKey(t *testing.T) {
	id := uuid.New()
	p := &Payload{Key: json.RawMessage(`"` + id.String() + `"`)}
	got, err := p.UUIDKey()
	if err != nil || got != id {
		t.Fatalf("uuid key: %v %v", got, err)
	}
	p = &Payload{Key: json.RawMessage(`"not-a-uuid"`)}
	if _, err := p.UUIDKey(); err == nil {
		t.Fatal("invalid uuid must be rejected")
	}
}

func TestNodeModUpdates_StripsStructuralColumns(t *testing.T) {
	in := map[string]interface{}{
		"title": "ok", "lft": 3, "rght": 9, "tree_id": 1,
		"parent_id": "x", "level": 2, "id": "y", "sort_order": 1.5,
	}
	out, err := nodeModUpdates(in)
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if len(out) != 2 || out["title"] != "ok" || out["sort_order"] != 1.5 {
		t.Fatalf("structural columns leaked: %v", out)
	}
}

func TestNodeModUpdates_RejectsUnknownKeys(t *testing.T) {
	// An unrecognized key must surface as the change's validation error, not
	// reach the database as a column name.
	_, err := nodeModUpdates(map[string]interface{}{
		"title": "ok", "bogus_column": 1, "another": true,
	})
	if err == nil {
		t.Fatal("unknown keys must be rejected")
	}
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected a validation error, got %T: %v", err, err)
	}
	if !strings.Contains(err.Error(), "another, bogus_column") {
		t.Fatalf("error must name the offending keys: %v", err)
	}
}

func TestTranslateMods_MapsJSONKeysToColumns(t *testing.T) {
	// The assessment item "order" attribute is stored under a renamed column;
	// client keys must be translated, never passed through as column names.
	updates, err := translateMods(map[string]interface{}{
		"order": 3, "question": "q", "contentnode_id": "x",
	}, assessmentItemColumns, assessmentItemStrip)
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if _, ok := updates["order"]; ok {
		t.Fatal("order must not pass through as a column name")
	}
	if updates["item_order"] != 3 {
		t.Fatalf("order not mapped to item_order: %v", updates)
	}
	if _, ok := updates["contentnode_id"]; ok {
		t.Fatal("protected keys must be stripped")
	}
}
