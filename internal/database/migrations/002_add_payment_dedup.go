package migrations

import (
	"github.com/fundops/capcall-api/internal/reconciliation"
	"gorm.io/gorm"
)

// AddPaymentDedup creates the payments table and the duplicate-suppression
// index over (investor, quarter, value date, amount).
func AddPaymentDedup(db *gorm.DB) error {
	if err := db.AutoMigrate(&reconciliation.Payment{}); err != nil {
		return err
	}

	indexes := []string{
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_payments_dedup
		 ON payments(investor_id, quarter, payment_date, paid_amount)`,

		// Index for status filtering
		`CREATE INDEX IF NOT EXISTS idx_payments_status
		 ON payments(status)`,

		// Index for run-scoped deletes
		`CREATE INDEX IF NOT EXISTS idx_payments_run_id
		 ON payments(run_id)`,
	}

	for _, idx := range indexes {
		if err := db.Exec(idx).Error; err != nil {
			return err
		}
	}

	return nil
}
