package allotment

import (
	"errors"

	"gorm.io/gorm"

	"github.com/fundops/capcall-api/internal/drawdown"
	"github.com/fundops/capcall-api/internal/fund"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

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

func (d *Database) GetInvestor(investorID string) (*fund.Investor, error) {
	var investor fund.Investor
	if err := d.db.Where("investor_id = ?", investorID).First(&investor).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &investor, nil
}

// GetReadyDrawdowns returns the fund's obligations eligible for allotment:
// fully paid ones awaiting computation, and computed ones whose sheet render
// previously failed.
func (d *Database) GetReadyDrawdowns(fundID string) ([]drawdown.Drawdown, error) {
	var drawdowns []drawdown.Drawdown
	if err := d.db.Where("fund_id = ? AND cancelled = ? AND status IN ?",
		fundID, false,
		[]string{drawdown.StatusAllotmentPending, drawdown.StatusSheetGenerationPending}).
		Order("created_at ASC").
		Find(&drawdowns).Error; err != nil {
		return nil, err
	}
	return drawdowns, nil
}

// HasAllotments reports whether the fund already has allotment records.
func (d *Database) HasAllotments(fundID string) (bool, error) {
	var count int64
	if err := d.db.Model(&UnitAllotment{}).
		Where("fund_id = ?", fundID).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// ResetForRecalculation deletes the fund's allotments and rewinds completed
// obligations, with their notices, to Allotment Pending, clearing the
// backfilled figures. Used by forced recomputation only.
func (d *Database) ResetForRecalculation(fundID string) error {
	tx := d.db.Begin()
	if err := tx.Error; err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	if err := tx.Where("fund_id = ?", fundID).Delete(&UnitAllotment{}).Error; err != nil {
		tx.Rollback()
		return err
	}

	fundDrawdowns := tx.Model(&drawdown.Drawdown{}).Select("drawdown_id").
		Where("fund_id = ? AND cancelled = ?", fundID, false)
	if err := tx.Model(&drawdown.Notice{}).
		Where("drawdown_id IN (?) AND status IN ?", fundDrawdowns,
			[]string{drawdown.StatusAllotmentDone, drawdown.StatusSheetGenerationPending}).
		Update("status", drawdown.StatusAllotmentPending).Error; err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Model(&drawdown.Drawdown{}).
		Where("fund_id = ? AND cancelled = ? AND status IN ?",
			fundID, false,
			[]string{drawdown.StatusAllotmentDone, drawdown.StatusSheetGenerationPending}).
		Updates(map[string]interface{}{
			"status":         drawdown.StatusAllotmentPending,
			"allotted_units": 0,
			"nav_used":       0,
			"mgmt_fees":      "0",
			"stamp_duty":     "0",
			"allotment_date": nil,
		}).Error; err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit().Error
}

// CommitAllotments persists new allotment records and the updated obligations
// in one transaction.
func (d *Database) CommitAllotments(allotments []*UnitAllotment, updated []*drawdown.Drawdown) error {
	tx := d.db.Begin()
	if err := tx.Error; err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	for _, a := range allotments {
		if err := tx.Create(a).Error; err != nil {
			tx.Rollback()
			return err
		}
	}
	for _, dd := range updated {
		if err := tx.Save(dd).Error; err != nil {
			tx.Rollback()
			return err
		}
	}

	return tx.Commit().Error
}

func (d *Database) GetAllotmentByDrawdownID(drawdownID string) (*UnitAllotment, error) {
	var a UnitAllotment
	if err := d.db.Where("drawdown_id = ?", drawdownID).First(&a).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &a, nil
}

func (d *Database) UpdateAllotment(a *UnitAllotment) error {
	return d.db.Save(a).Error
}

func (d *Database) UpdateDrawdown(dd *drawdown.Drawdown) error {
	return d.db.Save(dd).Error
}

func (d *Database) GetNoticeByDrawdownID(drawdownID string) (*drawdown.Notice, error) {
	var notice drawdown.Notice
	if err := d.db.Where("drawdown_id = ?", drawdownID).First(&notice).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &notice, nil
}

func (d *Database) UpdateNotice(notice *drawdown.Notice) error {
	return d.db.Save(notice).Error
}

// ListAllotments filters by fund and quarter; empty filters match all.
func (d *Database) ListAllotments(fundID, quarterLabel string) ([]UnitAllotment, error) {
	query := d.db.Model(&UnitAllotment{})
	if fundID != "" {
		query = query.Where("fund_id = ?", fundID)
	}
	if quarterLabel != "" {
		query = query.Where("quarter = ?", quarterLabel)
	}

	var allotments []UnitAllotment
	if err := query.Order("created_at DESC").Find(&allotments).Error; err != nil {
		return nil, err
	}
	return allotments, nil
}
