package sync

import "github.com/learningequality/studio-sub002/internal/types"

// Table identifiers as submitted by clients.
const (
	TableUser           = "user"
	TableChannel        = "channel"
	TableContentNode    = "contentnode"
	TableAssessmentItem = "assessmentitem"
	TableFile           = "file"
	TableCaption        = "caption"
	TableEditorM2M      = "editor_m2m"
	TableInvitation     = "invitation"
	TableChannelSet     = "channelset"
	TableBookmark       = "bookmark"
	TableSavedSearch    = "savedsearch"
	TableClipboard      = "clipboard"
)

// tablePriority orders dispatch so later entity types can reference earlier
// ones by id: users before channels, channels before their trees, tree nodes
// before the leaf entities hanging off them, relations last.
var tablePriority = map[string]int{
	TableUser:           0,
	TableChannel:        1,
	TableContentNode:    2,
	TableAssessmentItem: 3,
	TableFile:           3,
	TableCaption:        3,
	TableEditorM2M:      4,
	TableInvitation:     4,
	TableChannelSet:     4,
	TableBookmark:       4,
	TableSavedSearch:    4,
	TableClipboard:      4,
}

// typePriority orders change types within one table group: inserts first so
// same-batch updates can reference fresh entities, moves last so structural
// changes see final attribute state. Server-emitted event types sort after
// everything client-authored.
var typePriority = map[int]int{
	types.ChangeTypeCreated:   0,
	types.ChangeTypeCopied:    0,
	types.ChangeTypeUpdated:   1,
	types.ChangeTypeDeleted:   2,
	types.ChangeTypeMoved:     3,
	types.ChangeTypePublished: 4,
	types.ChangeTypeSynced:    4,
	types.ChangeTypeDeployed:  4,
}

func tableRank(table string) int {
	if p, ok := tablePriority[table]; ok {
		return p
	}
	return len(tablePriority)
}

func typeRank(changeType int) int {
	if p, ok := typePriority[changeType]; ok {
		return p
	}
	return len(typePriority)
}

// KnownTable reports whether clients may submit changes for the table.
func KnownTable(table string) bool {
	_, ok := tablePriority[table]
	return ok
}
