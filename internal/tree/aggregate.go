package tree

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/learningequality/studio-sub002/internal/logger"
	"github.com/learningequality/studio-sub002/internal/types"
)

// Aggregator computes derived metadata over subtrees. Every aggregate reads
// the same interval scope, so they all go through subtreeScope rather than
// each building its own join.
type Aggregator struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewAggregator(db *gorm.DB, baseLog *logger.Logger) *Aggregator {
	return &Aggregator{db: db, log: baseLog.With("component", "TreeAggregator")}
}

func (a *Aggregator) handle(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return a.db
}

// subtreeScope is the interval window of one node's subtree. includeSelf
// widens the window to the node's own boundaries.
type subtreeScope struct {
	treeID      int64
	lft, rght   int64
	includeSelf bool
}

func scopeOf(node *types.ContentNode, includeSelf bool) subtreeScope {
	return subtreeScope{treeID: node.TreeID, lft: node.Lft, rght: node.Rght, includeSelf: includeSelf}
}

// where applies the interval condition to a query whose FROM (or join alias)
// exposes content_node columns under the given alias.
func (s subtreeScope) where(q *gorm.DB, alias string) *gorm.DB {
	if s.includeSelf {
		return q.Where(
			alias+".tree_id = ? AND "+alias+".lft >= ? AND "+alias+".rght <= ?",
			s.treeID, s.lft, s.rght,
		)
	}
	return q.Where(
		alias+".tree_id = ? AND "+alias+".lft > ? AND "+alias+".rght < ?",
		s.treeID, s.lft, s.rght,
	)
}

func (a *Aggregator) loadNode(ctx context.Context, tx *gorm.DB, nodeID uuid.UUID) (*types.ContentNode, error) {
	var node types.ContentNode
	err := a.handle(tx).WithContext(ctx).Where("id = ?", nodeID).Limit(1).Find(&node).Error
	if err != nil {
		return nil, err
	}
	if node.ID == uuid.Nil {
		return nil, ErrTargetNotFound
	}
	return &node, nil
}

// DescendantCount is derived from the interval width alone; no scan.
// A non-topic node counts as 1.
func DescendantCount(node *types.ContentNode) int64 {
	if !node.IsTopic() {
		return 1
	}
	return (node.Rght - node.Lft - 1) / 2
}

// ResourceCount counts distinct non-topic content ids in the subtree, so two
// copies of the same resource under one topic count once.
func (a *Aggregator) ResourceCount(ctx context.Context, tx *gorm.DB, node *types.ContentNode) (int64, error) {
	if !node.IsTopic() {
		return 1, nil
	}
	var n int64
	q := a.handle(tx).WithContext(ctx).
		Model(&types.ContentNode{}).
		Where("content_node.kind <> ?", types.KindTopic).
		Distinct("content_node.content_id")
	err := scopeOf(node, false).where(q, "content_node").Count(&n).Error
	return n, err
}

// AssessmentCount counts live assessment items attached to exercise nodes in
// the subtree (the node itself included).
func (a *Aggregator) AssessmentCount(ctx context.Context, tx *gorm.DB, node *types.ContentNode) (int64, error) {
	var n int64
	q := a.handle(tx).WithContext(ctx).
		Model(&types.AssessmentItem{}).
		Joins("JOIN content_node cn ON cn.id = assessment_item.content_node_id").
		Where("assessment_item.deleted = false").
		Where("cn.kind = ?", types.KindExercise)
	err := scopeOf(node, true).where(q, "cn").Count(&n).Error
	return n, err
}

// ResourceSize sums file sizes over the subtree, deduplicated by checksum
// since files are content-addressed.
func (a *Aggregator) ResourceSize(ctx context.Context, tx *gorm.DB, node *types.ContentNode) (int64, error) {
	sub := a.handle(tx).WithContext(ctx).
		Model(&types.File{}).
		Select("DISTINCT file.checksum, file.file_size").
		Joins("JOIN content_node cn ON cn.id = file.content_node_id")
	sub = scopeOf(node, true).where(sub, "cn")

	var total int64
	err := a.handle(tx).WithContext(ctx).
		Table("(?) AS distinct_files", sub).
		Select("COALESCE(SUM(distinct_files.file_size), 0)").
		Scan(&total).Error
	return total, err
}

// HasChanged reports unsynced edits. A topic is dirty when it or any
// descendant is dirty; a leaf answers for itself only.
func (a *Aggregator) HasChanged(ctx context.Context, tx *gorm.DB, node *types.ContentNode) (bool, error) {
	if node.Changed {
		return true, nil
	}
	if !node.IsTopic() {
		return false, nil
	}
	var n int64
	q := a.handle(tx).WithContext(ctx).
		Model(&types.ContentNode{}).
		Where("content_node.changed = true")
	err := scopeOf(node, false).where(q, "content_node").Count(&n).Error
	return n > 0, err
}

// AncestorIDs returns the path from the tree root down to the node's parent.
// Ancestors are exactly the nodes whose interval strictly contains the node's.
func (a *Aggregator) AncestorIDs(ctx context.Context, tx *gorm.DB, node *types.ContentNode) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := a.handle(tx).WithContext(ctx).
		Model(&types.ContentNode{}).
		Where("tree_id = ? AND lft < ? AND rght > ?", node.TreeID, node.Lft, node.Rght).
		Order("lft ASC").
		Pluck("id", &ids).Error
	return ids, err
}

// Annotations bundles the derived metadata clients render on topic cards.
type Annotations struct {
	DescendantCount int64 `json:"descendant_count"`
	ResourceCount   int64 `json:"resource_count"`
	AssessmentCount int64 `json:"assessment_count"`
	ResourceSize    int64 `json:"resource_size"`
	HasChanged      bool  `json:"has_changed"`
}

// Annotate computes the full annotation set for one node.
func (a *Aggregator) Annotate(ctx context.Context, tx *gorm.DB, nodeID uuid.UUID) (*Annotations, error) {
	node, err := a.loadNode(ctx, tx, nodeID)
	if err != nil {
		return nil, err
	}
	out := &Annotations{DescendantCount: DescendantCount(node)}
	if out.ResourceCount, err = a.ResourceCount(ctx, tx, node); err != nil {
		return nil, err
	}
	if out.AssessmentCount, err = a.AssessmentCount(ctx, tx, node); err != nil {
		return nil, err
	}
	if out.ResourceSize, err = a.ResourceSize(ctx, tx, node); err != nil {
		return nil, err
	}
	if out.HasChanged, err = a.HasChanged(ctx, tx, node); err != nil {
		return nil, err
	}
	return out, nil
}
