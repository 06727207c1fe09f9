package database

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/chapterhub/internal/content"
	"github.com/MarcoPoloResearchLab/chapterhub/internal/users"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func TestApplyMigrationsBackfillsPollTotals(testContext *testing.T) {
	tempDir := testContext.TempDir()
	databasePath := filepath.Join(tempDir, "migration.db")

	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}

	if err := Migrate(database, content.NewRegistry()); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}

	now := time.Date(2026, time.September, 1, 12, 0, 0, 0, time.UTC)
	poll := content.Poll{
		Base:       content.Base{ID: "poll-1", CreatedByID: "user-1", CreatedAt: now, UpdatedAt: now},
		Question:   "Next meetup topic?",
		Status:     content.PollStatusActive,
		StartDate:  now,
		TotalVotes: 2,
	}
	if err := database.Omit("Options").Create(&poll).Error; err != nil {
		testContext.Fatalf("failed to insert poll: %v", err)
	}
	options := []content.PollOption{
		{PollID: "poll-1", Position: 0, Text: "Go", Votes: 4},
		{PollID: "poll-1", Position: 1, Text: "Rust", Votes: 3},
	}
	if err := database.Create(&options).Error; err != nil {
		testContext.Fatalf("failed to insert options: %v", err)
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	var stored content.Poll
	if err := database.Where("id = ?", "poll-1").Take(&stored).Error; err != nil {
		testContext.Fatalf("failed to reload poll: %v", err)
	}
	if stored.TotalVotes != 7 {
		testContext.Fatalf("expected total votes to be backfilled to 7, got %d", stored.TotalVotes)
	}

	var record migrationRecord
	if err := database.Where("name = ?", migrationBackfillPollTotals).Take(&record).Error; err != nil {
		testContext.Fatalf("expected migration record to be created: %v", err)
	}
	if record.AppliedAtSeconds == 0 {
		testContext.Fatalf("expected migration timestamp to be set")
	}
}

func TestApplyMigrationsRunsOnce(testContext *testing.T) {
	databasePath := filepath.Join(testContext.TempDir(), "once.db")
	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	if err := Migrate(database, content.NewRegistry()); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}

	if err := applyMigrations(database, nil); err != nil {
		testContext.Fatalf("first migration pass failed: %v", err)
	}
	user := users.User{ID: "user-1", Name: "Ada", Email: "  ADA@Example.com", PasswordHash: "hash", Role: "member"}
	if err := database.Create(&user).Error; err != nil {
		testContext.Fatalf("failed to insert user: %v", err)
	}
	if err := applyMigrations(database, nil); err != nil {
		testContext.Fatalf("second migration pass failed: %v", err)
	}

	var stored users.User
	if err := database.Where("id = ?", "user-1").Take(&stored).Error; err != nil {
		testContext.Fatalf("failed to reload user: %v", err)
	}
	if stored.Email != "  ADA@Example.com" {
		testContext.Fatalf("expected applied migration to be skipped, got %q", stored.Email)
	}

	var count int64
	if err := database.Model(&migrationRecord{}).Count(&count).Error; err != nil {
		testContext.Fatalf("failed to count migrations: %v", err)
	}
	if count != 2 {
		testContext.Fatalf("expected 2 migration records, got %d", count)
	}
}

func TestOpenSQLiteCreatesTables(testContext *testing.T) {
	databasePath := filepath.Join(testContext.TempDir(), "open.db")
	database, err := OpenSQLite(databasePath, content.NewRegistry(), zap.NewNop())
	if err != nil {
		testContext.Fatalf("failed to open database: %v", err)
	}
	for _, table := range []string{"users", "events", "team_members", "polls", "poll_options", "poll_responses", "plan_items", "notices", "db_migrations"} {
		if !database.Migrator().HasTable(table) {
			testContext.Fatalf("expected table %s to exist", table)
		}
	}

	if _, err := OpenSQLite("", content.NewRegistry(), nil); err == nil {
		testContext.Fatalf("expected empty path to be rejected")
	}
}
