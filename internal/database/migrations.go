package database

import (
	"errors"
	"strings"
	"time"

	"github.com/lamplight-labs/duet/internal/journal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationTrimQuestionText = "2026-07-14_trim_question_text"

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
		{name: migrationTrimQuestionText, apply: trimQuestionText},
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

// trimQuestionText re-trims question text written by builds that stored it
// raw, so the text uniqueness index keys on the canonical form. Rows whose
// trimmed text collides with an existing canonical row are left untouched.
func trimQuestionText(db *gorm.DB) error {
	var questions []journal.Question
	if err := db.Find(&questions).Error; err != nil {
		return err
	}
	for _, question := range questions {
		trimmed := strings.TrimSpace(question.Text)
		if trimmed == question.Text {
			continue
		}
		var collision int64
		if err := db.Model(&journal.Question{}).
			Where("text = ? AND question_id <> ?", trimmed, question.QuestionID).
			Count(&collision).Error; err != nil {
			return err
		}
		if collision > 0 {
			continue
		}
		if err := db.Model(&journal.Question{}).
			Where("question_id = ?", question.QuestionID).
			Update("text", trimmed).Error; err != nil {
			return err
		}
	}
	return nil
}
