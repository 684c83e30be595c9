package tree

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/learningequality/studio-sub002/internal/logger"
	"github.com/learningequality/studio-sub002/internal/types"
)

// Position of a node relative to a target, for insert/move/copy.
type Position string

const (
	PositionFirstChild Position = "first-child"
	PositionLastChild  Position = "last-child"
	PositionLeft       Position = "left"
	PositionRight      Position = "right"
)

func (p Position) valid() bool {
	switch p {
	case PositionFirstChild, PositionLastChild, PositionLeft, PositionRight:
		return true
	default:
		return false
	}
}

// Store owns the nested-set columns (tree_id, lft, rght, level) of
// content_node. All structural change goes through it; callers never touch
// the interval columns directly.
type Store struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewStore(db *gorm.DB, baseLog *logger.Logger) *Store {
	return &Store{db: db, log: baseLog.With("component", "TreeStore")}
}

func (s *Store) handle(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return s.db
}

// lockTrees takes transaction-scoped advisory locks over the given tree ids,
// in sorted order so two concurrent cross-tree moves cannot deadlock.
func lockTrees(tx *gorm.DB, treeIDs ...int64) error {
	seen := map[int64]bool{}
	ordered := make([]int64, 0, len(treeIDs))
	for _, id := range treeIDs {
		if !seen[id] {
			seen[id] = true
			ordered = append(ordered, id)
		}
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i] < ordered[j] })
	for _, id := range ordered {
		if err := tx.Exec("SELECT pg_advisory_xact_lock(?)", advisoryKey64("tree", id)).Error; err != nil {
			return err
		}
	}
	return nil
}

func advisoryKey64(namespace string, id int64) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(namespace))
	_, _ = h.Write([]byte(fmt.Sprintf(":%d", id)))
	return int64(h.Sum64())
}

// NextTreeID allocates a fresh tree id. Serialized by an advisory lock so two
// concurrent root creations cannot collide.
func (s *Store) NextTreeID(ctx context.Context, tx *gorm.DB) (int64, error) {
	transaction := s.handle(tx)
	var next int64
	err := transaction.WithContext(ctx).Transaction(func(txx *gorm.DB) error {
		if err := txx.Exec("SELECT pg_advisory_xact_lock(?)", advisoryKey64("tree_alloc", 0)).Error; err != nil {
			return err
		}
		return txx.Raw("SELECT COALESCE(MAX(tree_id), 0) + 1 FROM content_node").Scan(&next).Error
	})
	if err != nil {
		return 0, err
	}
	return next, nil
}

// CreateRoot creates node as the root of a brand-new tree.
func (s *Store) CreateRoot(ctx context.Context, tx *gorm.DB, node *types.ContentNode) error {
	transaction := s.handle(tx)
	return transaction.WithContext(ctx).Transaction(func(txx *gorm.DB) error {
		treeID, err := s.NextTreeID(ctx, txx)
		if err != nil {
			return err
		}
		node.TreeID = treeID
		node.Lft = 1
		node.Rght = 2
		node.Level = 0
		node.ParentID = nil
		return txx.Create(node).Error
	})
}

// insertionPoint resolves position relative to target into the lft where a
// gap must open, the new parent, and the new level.
func insertionPoint(target *types.ContentNode, position Position) (newLft int64, parentID *uuid.UUID, level int, err error) {
	switch position {
	case PositionFirstChild:
		return target.Lft + 1, &target.ID, target.Level + 1, nil
	case PositionLastChild:
		return target.Rght, &target.ID, target.Level + 1, nil
	case PositionLeft:
		if target.ParentID == nil {
			return 0, nil, 0, ErrInvalidPosition
		}
		return target.Lft, target.ParentID, target.Level, nil
	case PositionRight:
		if target.ParentID == nil {
			return 0, nil, 0, ErrInvalidPosition
		}
		return target.Rght + 1, target.ParentID, target.Level, nil
	default:
		return 0, nil, 0, ErrInvalidPosition
	}
}

func loadNode(tx *gorm.DB, id uuid.UUID) (*types.ContentNode, error) {
	var node types.ContentNode
	err := tx.Where("id = ?", id).Limit(1).Find(&node).Error
	if err != nil {
		return nil, err
	}
	if node.ID == uuid.Nil {
		return nil, ErrTargetNotFound
	}
	return &node, nil
}

// openGap widens every interval boundary at or after lft by width.
func openGap(tx *gorm.DB, treeID, lft, width int64) error {
	if err := tx.Exec(
		"UPDATE content_node SET lft = lft + ? WHERE tree_id = ? AND lft >= ?",
		width, treeID, lft,
	).Error; err != nil {
		return err
	}
	return tx.Exec(
		"UPDATE content_node SET rght = rght + ? WHERE tree_id = ? AND rght >= ?",
		width, treeID, lft,
	).Error
}

// closeGap compacts intervals after a removal of width ending at rght.
func closeGap(tx *gorm.DB, treeID, rght, width int64) error {
	if err := tx.Exec(
		"UPDATE content_node SET lft = lft - ? WHERE tree_id = ? AND lft > ?",
		width, treeID, rght,
	).Error; err != nil {
		return err
	}
	return tx.Exec(
		"UPDATE content_node SET rght = rght - ? WHERE tree_id = ? AND rght > ?",
		width, treeID, rght,
	).Error
}

// Insert places node (a single leaf-width row, not yet persisted) relative to
// the target node. The gap is opened under the tree's advisory lock.
func (s *Store) Insert(ctx context.Context, tx *gorm.DB, node *types.ContentNode, targetID uuid.UUID, position Position) error {
	if !position.valid() {
		return ErrInvalidPosition
	}
	transaction := s.handle(tx)
	return transaction.WithContext(ctx).Transaction(func(txx *gorm.DB) error {
		target, err := loadNode(txx, targetID)
		if err != nil {
			return err
		}
		if err := lockTrees(txx, target.TreeID); err != nil {
			return err
		}
		// Re-read after acquiring the lock; a concurrent move may have shifted it.
		target, err = loadNode(txx, targetID)
		if err != nil {
			return err
		}
		newLft, parentID, level, err := insertionPoint(target, position)
		if err != nil {
			return err
		}
		if err := openGap(txx, target.TreeID, newLft, 2); err != nil {
			return err
		}
		node.TreeID = target.TreeID
		node.Lft = newLft
		node.Rght = newLft + 1
		node.Level = level
		node.ParentID = parentID
		return txx.Create(node).Error
	})
}

// Move relocates the subtree rooted at nodeID to position relative to
// targetID, preserving internal structure. Atomic: either the whole subtree
// lands with invariants restored, or nothing changes.
func (s *Store) Move(ctx context.Context, tx *gorm.DB, nodeID, targetID uuid.UUID, position Position) error {
	if !position.valid() {
		return ErrInvalidPosition
	}
	if nodeID == targetID {
		return ErrCyclicMove
	}
	transaction := s.handle(tx)
	return transaction.WithContext(ctx).Transaction(func(txx *gorm.DB) error {
		node, err := loadNode(txx, nodeID)
		if err != nil {
			return err
		}
		target, err := loadNode(txx, targetID)
		if err != nil {
			return err
		}
		if err := lockTrees(txx, node.TreeID, target.TreeID); err != nil {
			return err
		}
		// Re-read both under the lock; offsets computed from stale intervals
		// are exactly the lost-update case the lock exists to prevent.
		if node, err = loadNode(txx, nodeID); err != nil {
			return err
		}
		if target, err = loadNode(txx, targetID); err != nil {
			return err
		}
		if node.TreeID == target.TreeID && target.Lft >= node.Lft && target.Rght <= node.Rght {
			return ErrCyclicMove
		}

		width := node.Rght - node.Lft + 1
		srcTree := node.TreeID

		// Step 1: park the subtree in negative interval space so the gap
		// close and gap open below cannot touch it.
		if err := txx.Exec(
			"UPDATE content_node SET lft = -lft, rght = -rght WHERE tree_id = ? AND lft >= ? AND rght <= ?",
			srcTree, node.Lft, node.Rght,
		).Error; err != nil {
			return err
		}
		if err := closeGap(txx, srcTree, node.Rght, width); err != nil {
			return err
		}

		// Step 2: the target's intervals may have shifted when the gap closed.
		if target, err = loadNode(txx, targetID); err != nil {
			return err
		}
		newLft, parentID, level, err := insertionPoint(target, position)
		if err != nil {
			return err
		}
		if err := openGap(txx, target.TreeID, newLft, width); err != nil {
			return err
		}

		// Step 3: restore the parked subtree at its destination.
		offset := newLft - node.Lft
		levelDiff := level - node.Level
		if err := txx.Exec(
			`UPDATE content_node
			 SET lft = ? - lft, rght = ? - rght, level = level + ?, tree_id = ?
			 WHERE tree_id = ? AND lft < 0`,
			offset, offset, levelDiff, target.TreeID, srcTree,
		).Error; err != nil {
			return err
		}
		return txx.Model(&types.ContentNode{}).
			Where("id = ?", nodeID).
			Updates(map[string]interface{}{"parent_id": parentID, "updated_at": time.Now()}).Error
	})
}

// DeleteSubtree removes nodeID and all descendants and compacts the tree.
func (s *Store) DeleteSubtree(ctx context.Context, tx *gorm.DB, nodeID uuid.UUID) error {
	transaction := s.handle(tx)
	return transaction.WithContext(ctx).Transaction(func(txx *gorm.DB) error {
		node, err := loadNode(txx, nodeID)
		if err != nil {
			return err
		}
		if err := lockTrees(txx, node.TreeID); err != nil {
			return err
		}
		if node, err = loadNode(txx, nodeID); err != nil {
			return err
		}
		width := node.Rght - node.Lft + 1
		if err := txx.Exec(
			"DELETE FROM content_node WHERE tree_id = ? AND lft >= ? AND rght <= ?",
			node.TreeID, node.Lft, node.Rght,
		).Error; err != nil {
			return err
		}
		return closeGap(txx, node.TreeID, node.Rght, width)
	})
}

// CopyOptions carries the copy provenance inputs.
type CopyOptions struct {
	// NewRootID is the caller-supplied id of the copy's root, so create events
	// authored offline can reference it before the copy exists server-side.
	NewRootID       uuid.UUID
	SourceChannelID *uuid.UUID
	TargetChannelID *uuid.UUID
}

// CopySubtree deep-copies the subtree rooted at sourceID to position relative
// to targetID. The copy is marked changed and unpublished, provenance fields
// point back through the copy chain, and authoring data is frozen.
func (s *Store) CopySubtree(ctx context.Context, tx *gorm.DB, sourceID, targetID uuid.UUID, position Position, opts CopyOptions) error {
	if !position.valid() {
		return ErrInvalidPosition
	}
	if opts.NewRootID == uuid.Nil {
		return fmt.Errorf("copy requires a caller-supplied root id")
	}
	transaction := s.handle(tx)
	return transaction.WithContext(ctx).Transaction(func(txx *gorm.DB) error {
		source, err := loadNode(txx, sourceID)
		if err != nil {
			return err
		}
		target, err := loadNode(txx, targetID)
		if err != nil {
			return err
		}
		if err := lockTrees(txx, source.TreeID, target.TreeID); err != nil {
			return err
		}
		if source, err = loadNode(txx, sourceID); err != nil {
			return err
		}
		if target, err = loadNode(txx, targetID); err != nil {
			return err
		}

		var subtree []*types.ContentNode
		if err := txx.
			Where("tree_id = ? AND lft >= ? AND rght <= ?", source.TreeID, source.Lft, source.Rght).
			Order("lft ASC").
			Find(&subtree).Error; err != nil {
			return err
		}

		newLft, parentID, level, err := insertionPoint(target, position)
		if err != nil {
			return err
		}
		width := source.Rght - source.Lft + 1
		if err := openGap(txx, target.TreeID, newLft, width); err != nil {
			return err
		}

		idMap := map[uuid.UUID]uuid.UUID{source.ID: opts.NewRootID}
		offset := newLft - source.Lft
		levelDiff := level - source.Level
		clones := make([]*types.ContentNode, 0, len(subtree))
		for _, orig := range subtree {
			newID, ok := idMap[orig.ID]
			if !ok {
				newID = uuid.New()
				idMap[orig.ID] = newID
			}
			clone := cloneNode(orig, opts)
			clone.ID = newID
			clone.TreeID = target.TreeID
			clone.Lft = orig.Lft + offset
			clone.Rght = orig.Rght + offset
			clone.Level = orig.Level + levelDiff
			if orig.ID == source.ID {
				clone.ParentID = parentID
			} else if orig.ParentID != nil {
				mapped := idMap[*orig.ParentID]
				clone.ParentID = &mapped
			}
			clones = append(clones, clone)
		}
		return txx.Create(&clones).Error
	})
}

// ShallowCopy copies only the root's attributes as a leaf, for lightweight
// clipboard use; no descendant walk.
func (s *Store) ShallowCopy(ctx context.Context, tx *gorm.DB, sourceID, targetID uuid.UUID, position Position, opts CopyOptions) error {
	if !position.valid() {
		return ErrInvalidPosition
	}
	if opts.NewRootID == uuid.Nil {
		return fmt.Errorf("copy requires a caller-supplied root id")
	}
	transaction := s.handle(tx)
	return transaction.WithContext(ctx).Transaction(func(txx *gorm.DB) error {
		source, err := loadNode(txx, sourceID)
		if err != nil {
			return err
		}
		clone := cloneNode(source, opts)
		clone.ID = opts.NewRootID
		return s.Insert(ctx, txx, clone, targetID, position)
	})
}

// cloneNode copies content attributes and stamps provenance. The nested-set
// columns are left for the caller to assign.
func cloneNode(orig *types.ContentNode, opts CopyOptions) *types.ContentNode {
	clone := *orig
	clone.Published = false
	clone.Changed = true
	clone.FreezeAuthoringData = true
	clone.CreatedAt = time.Time{}
	clone.UpdatedAt = time.Time{}

	srcNodeID := orig.NodeID
	clone.SourceNodeID = &srcNodeID
	clone.SourceChannelID = opts.SourceChannelID
	origID := orig.ID
	clone.ClonedSourceID = &origID
	if orig.OriginalSourceNodeID != nil {
		clone.OriginalSourceNodeID = orig.OriginalSourceNodeID
		clone.OriginalChannelID = orig.OriginalChannelID
	} else {
		clone.OriginalSourceNodeID = &srcNodeID
		clone.OriginalChannelID = opts.SourceChannelID
	}
	return &clone
}
