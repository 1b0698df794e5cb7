package drawdown

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/fundops/capcall-api/internal/fund"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// GetFund fetches fund parameters for issuance.
func (d *Database) GetFund(fundID string) (*fund.Fund, error) {
	var f fund.Fund
	if err := d.db.Where("fund_id = ?", fundID).First(&f).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &f, nil
}

// GetActiveInvestors returns the investors eligible for this fund's call.
func (d *Database) GetActiveInvestors(fundID string) ([]fund.Investor, error) {
	var investors []fund.Investor
	if err := d.db.Where("fund_id = ? AND status = ?", fundID, fund.InvestorActive).
		Order("name ASC").
		Find(&investors).Error; err != nil {
		return nil, err
	}
	return investors, nil
}

// ExistsForFundQuarter reports whether any obligation was already issued for
// the fund and quarter. Backed by the composite unique index for the
// concurrent case.
func (d *Database) ExistsForFundQuarter(fundID, quarterLabel string) (bool, error) {
	var count int64
	if err := d.db.Model(&Drawdown{}).
		Where("fund_id = ? AND quarter = ?", fundID, quarterLabel).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// SumPriorCalls returns the sum of call amounts across the investor's
// non-cancelled obligations.
func (d *Database) SumPriorCalls(investorID string) (decimal.Decimal, error) {
	var drawdowns []Drawdown
	if err := d.db.Where("investor_id = ? AND cancelled = ?", investorID, false).
		Find(&drawdowns).Error; err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, dd := range drawdowns {
		total = total.Add(dd.CallAmount)
	}
	return total, nil
}

// CreateBatch persists every obligation and notice of one issuance in a
// single transaction. All-or-nothing.
func (d *Database) CreateBatch(drawdowns []*Drawdown, notices []*Notice) error {
	tx := d.db.Begin()
	if err := tx.Error; err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	for _, dd := range drawdowns {
		if err := tx.Create(dd).Error; err != nil {
			tx.Rollback()
			return err
		}
	}
	for _, n := range notices {
		if err := tx.Create(n).Error; err != nil {
			tx.Rollback()
			return err
		}
	}

	return tx.Commit().Error
}

func (d *Database) GetDrawdown(drawdownID string) (*Drawdown, error) {
	var dd Drawdown
	if err := d.db.Where("drawdown_id = ?", drawdownID).First(&dd).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &dd, nil
}

func (d *Database) GetNoticeByDrawdownID(drawdownID string) (*Notice, error) {
	var n Notice
	if err := d.db.Where("drawdown_id = ?", drawdownID).First(&n).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &n, nil
}

func (d *Database) UpdateDrawdown(dd *Drawdown) error {
	return d.db.Save(dd).Error
}

func (d *Database) UpdateNotice(n *Notice) error {
	return d.db.Save(n).Error
}

// ListDrawdowns filters by fund, quarter and status; empty filters match all.
func (d *Database) ListDrawdowns(fundID, quarterLabel, status string) ([]Drawdown, error) {
	query := d.db.Model(&Drawdown{})
	if fundID != "" {
		query = query.Where("fund_id = ?", fundID)
	}
	if quarterLabel != "" {
		query = query.Where("quarter = ?", quarterLabel)
	}
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var drawdowns []Drawdown
	if err := query.Order("created_at DESC").Find(&drawdowns).Error; err != nil {
		return nil, err
	}
	return drawdowns, nil
}

// DeleteCascade removes an obligation together with its notice and payments.
// Administrative path only.
func (d *Database) DeleteCascade(drawdownID string) (int64, error) {
	tx := d.db.Begin()
	if err := tx.Error; err != nil {
		return 0, err
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	payments := tx.Table("payments").
		Where("drawdown_id = ? AND deleted_at IS NULL", drawdownID).
		Update("deleted_at", time.Now())
	if payments.Error != nil {
		tx.Rollback()
		return 0, payments.Error
	}

	if err := tx.Where("drawdown_id = ?", drawdownID).Delete(&Notice{}).Error; err != nil {
		tx.Rollback()
		return 0, err
	}

	if err := tx.Where("drawdown_id = ?", drawdownID).Delete(&Drawdown{}).Error; err != nil {
		tx.Rollback()
		return 0, err
	}

	if err := tx.Commit().Error; err != nil {
		return 0, err
	}
	return payments.RowsAffected, nil
}
