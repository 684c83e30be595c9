package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/learningequality/studio-sub002/internal/logger"
	"github.com/learningequality/studio-sub002/internal/repos"
	"github.com/learningequality/studio-sub002/internal/types"
)

// exportedNode is one row of the exported content database's node table.
// Exported ids are the stable node_id/content_id identities, not row ids.
type exportedNode struct {
	ID          string  `gorm:"primaryKey;column:id"`
	ParentID    *string `gorm:"column:parent_id;index"`
	ContentID   string  `gorm:"column:content_id;not null;index"`
	Title       string  `gorm:"column:title;not null"`
	Description string  `gorm:"column:description"`
	Kind        string  `gorm:"column:kind;not null"`
	SortOrder   float64 `gorm:"column:sort_order"`
	LicenseID   *int64  `gorm:"column:license_id"`
	LicenseName string  `gorm:"column:license_name"`
	LangCode    string  `gorm:"column:lang_code"`
	Categories  string  `gorm:"column:categories"`
	Level       int     `gorm:"column:level"`
	Author      string  `gorm:"column:author"`
	Provider    string  `gorm:"column:provider"`
}

func (exportedNode) TableName() string { return "contentnode" }

type exportedFile struct {
	ID        string `gorm:"primaryKey;column:id"`
	NodeID    string `gorm:"column:contentnode_id;index"`
	Checksum  string `gorm:"column:checksum;not null"`
	Extension string `gorm:"column:extension"`
	FileSize  int64  `gorm:"column:file_size"`
	Preset    string `gorm:"column:preset"`
	LangCode  string `gorm:"column:lang_code"`
}

func (exportedFile) TableName() string { return "file" }

type exportedLicense struct {
	ID          int64  `gorm:"primaryKey;column:id"`
	LicenseName string `gorm:"column:license_name;not null"`
	LicenseURL  string `gorm:"column:license_url"`
}

func (exportedLicense) TableName() string { return "license" }

// Exporter snapshots one channel tree into a standalone SQLite content
// database and hands the file to the artifact store.
type Exporter struct {
	nodes     repos.ContentNodeRepo
	files     repos.FileRepo
	licenses  repos.LicenseRepo
	artifacts ArtifactStore
	log       *logger.Logger
}

func NewExporter(nodes repos.ContentNodeRepo, files repos.FileRepo, licenses repos.LicenseRepo, artifacts ArtifactStore, baseLog *logger.Logger) *Exporter {
	return &Exporter{
		nodes:     nodes,
		files:     files,
		licenses:  licenses,
		artifacts: artifacts,
		log:       baseLog.With("service", "Exporter"),
	}
}

// Export writes the subtree under rootID to a fresh SQLite file and uploads
// it under the canonical key. The snapshot reads the live tree once, ordered
// by lft, so the exported hierarchy mirrors the interval structure.
func (e *Exporter) Export(ctx context.Context, tx *gorm.DB, channelID uuid.UUID, version int, treeNodes []*types.ContentNode) (string, error) {
	if len(treeNodes) == 0 {
		return "", fmt.Errorf("nothing to export for channel %s", channelID)
	}

	tmpDir, err := os.MkdirTemp("", "contentdb-")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(tmpDir)
	dbPath := filepath.Join(tmpDir, "content.sqlite3")

	sdb, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return "", fmt.Errorf("failed to open export database: %w", err)
	}
	if err := sdb.AutoMigrate(&exportedNode{}, &exportedFile{}, &exportedLicense{}); err != nil {
		return "", fmt.Errorf("failed to migrate export database: %w", err)
	}

	licenseNames := map[int64]*types.License{}
	allLicenses, err := e.licenses.ListAll(ctx, tx)
	if err != nil {
		return "", err
	}
	var licRows []exportedLicense
	for _, lic := range allLicenses {
		licenseNames[lic.ID] = lic
		licRows = append(licRows, exportedLicense{ID: lic.ID, LicenseName: lic.LicenseName, LicenseURL: lic.LicenseURL})
	}
	if err := sdb.Create(&licRows).Error; err != nil {
		return "", err
	}

	// Row ids map to stable node ids in the export.
	stableID := map[uuid.UUID]string{}
	for _, n := range treeNodes {
		stableID[n.ID] = n.NodeID.String()
	}

	var nodeRows []exportedNode
	var nodeIDs []uuid.UUID
	for _, n := range treeNodes {
		row := exportedNode{
			ID:          n.NodeID.String(),
			ContentID:   n.ContentID.String(),
			Title:       n.Title,
			Description: n.Description,
			Kind:        n.Kind,
			SortOrder:   n.SortOrder,
			LicenseID:   n.LicenseID,
			LangCode:    n.LangCode,
			Categories:  string(n.Categories),
			Level:       n.Level,
			Author:      n.Author,
			Provider:    n.Provider,
		}
		if n.ParentID != nil {
			if pid, ok := stableID[*n.ParentID]; ok {
				row.ParentID = &pid
			}
		}
		if n.LicenseID != nil {
			if lic, ok := licenseNames[*n.LicenseID]; ok {
				row.LicenseName = lic.LicenseName
			}
		}
		nodeRows = append(nodeRows, row)
		nodeIDs = append(nodeIDs, n.ID)
	}
	if err := sdb.CreateInBatches(&nodeRows, 200).Error; err != nil {
		return "", err
	}

	attachments, err := e.files.GetByContentNodeIDs(ctx, tx, nodeIDs)
	if err != nil {
		return "", err
	}
	var fileRows []exportedFile
	for _, f := range attachments {
		if f.ContentNodeID == nil {
			continue
		}
		fileRows = append(fileRows, exportedFile{
			ID:        f.ID.String(),
			NodeID:    stableID[*f.ContentNodeID],
			Checksum:  f.Checksum,
			Extension: f.FileFormat,
			FileSize:  f.FileSize,
			Preset:    f.Preset,
			LangCode:  f.LangCode,
		})
	}
	if len(fileRows) > 0 {
		if err := sdb.CreateInBatches(&fileRows, 500).Error; err != nil {
			return "", err
		}
	}

	if raw, err := sdb.DB(); err == nil {
		_ = raw.Close()
	}

	out, err := os.Open(dbPath)
	if err != nil {
		return "", err
	}
	defer out.Close()
	key := ContentDBKey(channelID, version)
	if err := e.artifacts.Upload(ctx, key, out); err != nil {
		return "", fmt.Errorf("failed to upload content database: %w", err)
	}
	e.log.Info("Exported content database", "channel_id", channelID, "version", version, "nodes", len(nodeRows))
	return key, nil
}
