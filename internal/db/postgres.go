package db

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/learningequality/studio-sub002/internal/logger"
	"github.com/learningequality/studio-sub002/internal/types"
	"github.com/learningequality/studio-sub002/internal/utils"
)

type PostgresService struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPostgresService(log *logger.Logger) (*PostgresService, error) {
	serviceLog := log.With("service", "PostgresService")

	postgresHost := utils.GetEnv("POSTGRES_HOST", "localhost", log)
	postgresPort := utils.GetEnv("POSTGRES_PORT", "5432", log)
	postgresUser := utils.GetEnv("POSTGRES_USER", "postgres", log)
	postgresPassword := utils.GetEnv("POSTGRES_PASSWORD", "", log)
	postgresName := utils.GetEnv("POSTGRES_NAME", "studio", log)

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", postgresUser, postgresPassword, postgresHost, postgresPort, postgresName)

	serviceLog.Info("Connecting to Postgres...")
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
	}

	if err := gdb.Exec(`CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`).Error; err != nil {
		return nil, fmt.Errorf("failed to enable uuid-ossp extension: %w", err)
	}

	return &PostgresService{db: gdb, log: serviceLog}, nil
}

func (s *PostgresService) AutoMigrateAll() error {
	return Migrate(s.db, s.log)
}

// Migrate creates or updates the full schema on the given connection. It is
// idempotent and safe to run at every startup.
func Migrate(gdb *gorm.DB, log *logger.Logger) error {
	log.Info("Auto migrating postgres tables...")
	err := gdb.AutoMigrate(
		&types.User{},
		&types.License{},
		&types.Channel{},
		&types.ContentNode{},
		&types.File{},
		&types.AssessmentItem{},
		&types.CaptionFile{},
		&types.ChannelUser{},
		&types.Bookmark{},
		&types.Invitation{},
		&types.ChannelSet{},
		&types.SavedSearch{},
		&types.Change{},
		&types.ChannelVersion{},
		&types.AuditedSpecialPermissionsLicense{},
		&types.CommunityLibrarySubmission{},
		&types.SecretToken{},
		&types.TaskRun{},
	)
	if err != nil {
		log.Error("Auto migration failed for postgres tables", "error", err)
		return err
	}

	log.Info("Configuring foreign key relationships for postgres tables...")
	constraints := []struct {
		name string
		stmt string
	}{
		{"fk_content_node_parent_id", `
			ALTER TABLE "content_node"
			ADD CONSTRAINT "fk_content_node_parent_id"
			FOREIGN KEY ("parent_id") REFERENCES "content_node"("id")
			ON DELETE CASCADE`},
		{"fk_file_content_node_id", `
			ALTER TABLE "file"
			ADD CONSTRAINT "fk_file_content_node_id"
			FOREIGN KEY ("content_node_id") REFERENCES "content_node"("id")
			ON DELETE CASCADE`},
		{"fk_assessment_item_content_node_id", `
			ALTER TABLE "assessment_item"
			ADD CONSTRAINT "fk_assessment_item_content_node_id"
			FOREIGN KEY ("content_node_id") REFERENCES "content_node"("id")
			ON DELETE CASCADE`},
		{"fk_channel_user_channel_id", `
			ALTER TABLE "channel_user"
			ADD CONSTRAINT "fk_channel_user_channel_id"
			FOREIGN KEY ("channel_id") REFERENCES "channel"("id")
			ON DELETE CASCADE`},
		{"fk_channel_version_channel_id", `
			ALTER TABLE "channel_version"
			ADD CONSTRAINT "fk_channel_version_channel_id"
			FOREIGN KEY ("channel_id") REFERENCES "channel"("id")
			ON DELETE CASCADE`},
	}
	for _, c := range constraints {
		var exists bool
		if err := gdb.Raw(
			`SELECT EXISTS (SELECT 1 FROM pg_constraint WHERE conname = ?)`, c.name,
		).Scan(&exists).Error; err != nil {
			return fmt.Errorf("failed to check constraint %s: %w", c.name, err)
		}
		if exists {
			continue
		}
		if err := gdb.Exec(c.stmt).Error; err != nil {
			return fmt.Errorf("failed to add %s: %w", c.name, err)
		}
	}

	return seedLicenses(gdb)
}

func seedLicenses(gdb *gorm.DB) error {
	for _, lic := range types.SeedLicenses() {
		lic := lic
		if err := gdb.Where("id = ?", lic.ID).FirstOrCreate(&lic).Error; err != nil {
			return fmt.Errorf("failed to seed license %d: %w", lic.ID, err)
		}
	}
	return nil
}

func (s *PostgresService) DB() *gorm.DB {
	return s.db
}
