package kv

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// EntryModel is the GORM row backing one key.
type EntryModel struct {
	Key       string    `gorm:"primaryKey"`
	Value     []byte    `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// TableName pins the table name independent of the struct name.
func (EntryModel) TableName() string {
	return "chatctl_kv_entries"
}

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and migrates the entries table.
func NewGormStore(dsn string) (*GormStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("database URL is required")
	}
	gormLog := gormlogger.New(
		log.New(os.Stderr, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	return newGormStore(db)
}

func newGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&EntryModel{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &GormStore{db: db}, nil
}

// Load reads the row for key.
func (s *GormStore) Load(ctx context.Context, key string) ([]byte, bool, error) {
	var model EntryModel
	if err := s.db.WithContext(ctx).First(&model, "key = ?", key).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return model.Value, true, nil
}

// Save upserts the row for key.
func (s *GormStore) Save(ctx context.Context, key string, value []byte) error {
	model := EntryModel{Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&model).Error
}

// Close closes the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
