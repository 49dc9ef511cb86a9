// services/ledger.go
package services

import (
	"context"
	"fmt"

	"match-coordinator/models"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormLedger appends match records to postgres.
type GormLedger struct {
	DB *gorm.DB
}

func NewGormLedger(dsn string) (*GormLedger, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.AutoMigrate(&models.MatchRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate match records: %w", err)
	}
	return &GormLedger{DB: db}, nil
}

func (l *GormLedger) Name() string { return "postgres" }

// Record inserts rec. A record already stored under the same id is kept.
func (l *GormLedger) Record(ctx context.Context, rec models.MatchRecord) error {
	err := l.DB.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&rec).Error
	if err != nil {
		return fmt.Errorf("insert match record %s: %w", rec.ID, err)
	}
	return nil
}
