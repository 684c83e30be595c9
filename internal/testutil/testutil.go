// Package testutil provides the shared database harness for tests that need
// a real Postgres. Tests are skipped unless TEST_POSTGRES_DSN is set, so the
// pure unit suites still run anywhere.
package testutil

import (
	"os"
	"sync"
	"testing"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/learningequality/studio-sub002/internal/db"
	"github.com/learningequality/studio-sub002/internal/logger"
)

var (
	once   sync.Once
	shared *gorm.DB
	openEr error
)

// Log returns a quiet logger for test wiring.
func Log(t *testing.T) *logger.Logger {
	t.Helper()
	l, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return l
}

// DB returns a migrated connection to the test database, or skips the test
// when TEST_POSTGRES_DSN is unset.
func DB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set")
	}
	once.Do(func() {
		gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
			Logger: gormlogger.Default.LogMode(gormlogger.Silent),
		})
		if err != nil {
			openEr = err
			return
		}
		l, lerr := logger.New("test")
		if lerr != nil {
			openEr = lerr
			return
		}
		openEr = db.Migrate(gdb, l)
		shared = gdb
	})
	if openEr != nil {
		t.Fatalf("test database: %v", openEr)
	}
	return shared
}

// Tx hands the test a transaction that is always rolled back, so suites can
// write freely without cross-test contamination.
func Tx(t *testing.T) *gorm.DB {
	t.Helper()
	tx := DB(t).Begin()
	if tx.Error != nil {
		t.Fatalf("begin: %v", tx.Error)
	}
	t.Cleanup(func() { tx.Rollback() })
	return tx
}
