package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationBackfillPollTotals  = "2026-09-02_backfill_poll_total_votes"
	migrationNormalizeUserEmails = "2026-09-14_normalize_user_emails"
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationBackfillPollTotals, apply: backfillPollTotals},
		{name: migrationNormalizeUserEmails, apply: normalizeUserEmails},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// backfillPollTotals makes total_votes equal the sum of option votes for
// rows written before the counters were kept in one transaction.
func backfillPollTotals(db *gorm.DB) error {
	return db.Exec(`UPDATE polls SET total_votes = (
		SELECT COALESCE(SUM(votes), 0) FROM poll_options WHERE poll_options.poll_id = polls.id
	)`).Error
}

func normalizeUserEmails(db *gorm.DB) error {
	return db.Exec("UPDATE users SET email = lower(trim(email)) WHERE email <> lower(trim(email))").Error
}
