package migrations

import (
	"github.com/fundops/capcall-api/internal/drawdown"
	"gorm.io/gorm"
)

// AddDrawdownIndexes creates the drawdown and notice tables and the query
// indexes the lifecycle endpoints lean on.
func AddDrawdownIndexes(db *gorm.DB) error {
	if err := db.AutoMigrate(&drawdown.Drawdown{}); err != nil {
		return err
	}

	if err := db.AutoMigrate(&drawdown.Notice{}); err != nil {
		return err
	}

	// Using raw SQL for index creation to have more control over index types
	indexes := []string{
		// Index for quarter lookups
		`CREATE INDEX IF NOT EXISTS idx_drawdowns_quarter
		 ON drawdowns(quarter)`,

		// Index for status filtering
		`CREATE INDEX IF NOT EXISTS idx_drawdowns_status
		 ON drawdowns(status)`,

		// Composite index for fund and status (common query pattern)
		`CREATE INDEX IF NOT EXISTS idx_drawdowns_fund_status
		 ON drawdowns(fund_id, status)`,

		// Index for created_at timestamp (useful for time-based queries)
		`CREATE INDEX IF NOT EXISTS idx_drawdowns_created_at
		 ON drawdowns(created_at)`,
	}

	for _, idx := range indexes {
		if err := db.Exec(idx).Error; err != nil {
			return err
		}
	}

	return nil
}
