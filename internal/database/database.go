package database

import (
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/fundops/capcall-api/internal/allotment"
	"github.com/fundops/capcall-api/internal/database/migrations"
	"github.com/fundops/capcall-api/internal/fund"
	"github.com/fundops/capcall-api/internal/reconciliation"
)

// NewDatabase initializes and returns a new GORM DB connection
func NewDatabase(path string) (*gorm.DB, error) {
	if path == "" {
		path = "capcall.db"
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	// Run migrations
	if err := migrations.AddDrawdownIndexes(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	if err := migrations.AddPaymentDedup(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	// Auto-migrate other schemas
	err = db.AutoMigrate(
		&fund.Fund{},
		&fund.Investor{},
		&reconciliation.ReconciliationRun{},
		&allotment.UnitAllotment{},
	)
	if err != nil {
		return nil, err
	}

	return db, nil
}
