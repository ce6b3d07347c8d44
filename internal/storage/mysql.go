package storage

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"soul-teller/server/internal/config"
	"soul-teller/server/internal/models"
)

// MySQLStore archives completed sessions and export records
type MySQLStore struct {
	db *gorm.DB
}

func NewMySQLStore(cfg config.MySQLConfig) (*MySQLStore, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		cfg.Username,
		cfg.Password,
		cfg.Host,
		cfg.Port,
		cfg.Database,
	)

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.AutoMigrate(&models.SessionArchive{}, &models.ChoiceRecord{}, &models.ExportRecord{}); err != nil {
		return nil, err
	}

	return &MySQLStore{db: db}, nil
}

func (s *MySQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *MySQLStore) GetDB() *gorm.DB {
	return s.db
}

// Transaction helper
func (s *MySQLStore) WithTx(fn func(*gorm.DB) error) error {
	return s.db.Transaction(fn)
}

// ArchiveSession writes the session row and its choice rows in one transaction.
// Re-archiving the same session replaces its choice rows.
func (s *MySQLStore) ArchiveSession(ctx context.Context, archive *models.SessionArchive, choices []models.ChoiceRecord) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(archive).Error; err != nil {
			return fmt.Errorf("failed to save session archive: %w", err)
		}
		if err := tx.Where("session_id = ?", archive.ID).Delete(&models.ChoiceRecord{}).Error; err != nil {
			return fmt.Errorf("failed to clear choice records: %w", err)
		}
		if len(choices) == 0 {
			return nil
		}
		if err := tx.Create(&choices).Error; err != nil {
			return fmt.Errorf("failed to save choice records: %w", err)
		}
		return nil
	})
}

// RecordExport stores an export audit row
func (s *MySQLStore) RecordExport(ctx context.Context, rec *models.ExportRecord) error {
	return s.db.WithContext(ctx).Create(rec).Error
}

// ListArchives returns the most recent archives first
func (s *MySQLStore) ListArchives(ctx context.Context, limit int) ([]models.SessionArchive, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var out []models.SessionArchive
	err := s.db.WithContext(ctx).Order("ended_at desc").Limit(limit).Find(&out).Error
	return out, err
}

// GetArchive loads one archive with its choices in order
func (s *MySQLStore) GetArchive(ctx context.Context, id string) (*models.SessionArchive, []models.ChoiceRecord, error) {
	var archive models.SessionArchive
	err := s.db.WithContext(ctx).First(&archive, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, fmt.Errorf("archive %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, nil, err
	}
	var choices []models.ChoiceRecord
	if err := s.db.WithContext(ctx).Where("session_id = ?", id).Order("seq asc").Find(&choices).Error; err != nil {
		return nil, nil, err
	}
	return &archive, choices, nil
}
