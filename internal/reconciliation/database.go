package reconciliation

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
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

// GetActiveInvestors returns the fund's investor roster for payer matching.
func (d *Database) GetActiveInvestors(fundID string) ([]fund.Investor, error) {
	var investors []fund.Investor
	if err := d.db.Where("fund_id = ? AND status = ?", fundID, fund.InvestorActive).
		Order("name ASC").
		Find(&investors).Error; err != nil {
		return nil, err
	}
	return investors, nil
}

// GetFund fetches the fund a run reconciles against.
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

// GetOpenDrawdown finds the investor's non-cancelled obligation for the
// quarter, regardless of lifecycle status.
func (d *Database) GetOpenDrawdown(investorID, quarterLabel string) (*drawdown.Drawdown, error) {
	var dd drawdown.Drawdown
	if err := d.db.Where("investor_id = ? AND quarter = ? AND cancelled = ?",
		investorID, quarterLabel, false).First(&dd).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &dd, nil
}

// PaymentExists checks the duplicate-suppression key against stored payments.
// Amounts compare by value, not stored representation.
func (d *Database) PaymentExists(investorID, quarterLabel string, paymentDate time.Time, amount decimal.Decimal) (bool, error) {
	var payments []Payment
	if err := d.db.Where("investor_id = ? AND quarter = ? AND payment_date = ?",
		investorID, quarterLabel, paymentDate).
		Find(&payments).Error; err != nil {
		return false, err
	}
	for _, p := range payments {
		if p.PaidAmount.Equal(amount) {
			return true, nil
		}
	}
	return false, nil
}

// CommitRun persists a batch's payments, drawdown and notice status advances,
// and the run record in one transaction.
func (d *Database) CommitRun(run *ReconciliationRun, payments []*Payment, advanced []*drawdown.Drawdown, notices []*drawdown.Notice) error {
	tx := d.db.Begin()
	if err := tx.Error; err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	for _, p := range payments {
		if err := tx.Create(p).Error; err != nil {
			tx.Rollback()
			return err
		}
	}
	for _, dd := range advanced {
		if err := tx.Save(dd).Error; err != nil {
			tx.Rollback()
			return err
		}
	}
	for _, n := range notices {
		if err := tx.Save(n).Error; err != nil {
			tx.Rollback()
			return err
		}
	}
	if err := tx.Create(run).Error; err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit().Error
}

func (d *Database) CreatePayment(p *Payment) error {
	return d.db.Create(p).Error
}

func (d *Database) GetPayment(paymentID string) (*Payment, error) {
	var p Payment
	if err := d.db.Where("payment_id = ?", paymentID).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

func (d *Database) UpdatePayment(p *Payment) error {
	return d.db.Save(p).Error
}

func (d *Database) GetDrawdown(drawdownID string) (*drawdown.Drawdown, error) {
	var dd drawdown.Drawdown
	if err := d.db.Where("drawdown_id = ?", drawdownID).First(&dd).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &dd, nil
}

func (d *Database) GetNoticeByDrawdownID(drawdownID string) (*drawdown.Notice, error) {
	var n drawdown.Notice
	if err := d.db.Where("drawdown_id = ?", drawdownID).First(&n).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &n, nil
}

func (d *Database) UpdateDrawdown(dd *drawdown.Drawdown) error {
	return d.db.Save(dd).Error
}

func (d *Database) UpdateNotice(n *drawdown.Notice) error {
	return d.db.Save(n).Error
}

// ListPayments filters stored payments by fund, quarter and status.
func (d *Database) ListPayments(fundID, quarterLabel, status string) ([]Payment, error) {
	query := d.db.Model(&Payment{})
	if fundID != "" {
		query = query.Where("fund_id = ?", fundID)
	}
	if quarterLabel != "" {
		query = query.Where("quarter = ?", quarterLabel)
	}
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var payments []Payment
	if err := query.Order("created_at DESC").Find(&payments).Error; err != nil {
		return nil, err
	}
	return payments, nil
}

func (d *Database) GetRun(runID string) (*ReconciliationRun, error) {
	var run ReconciliationRun
	if err := d.db.Where("run_id = ?", runID).First(&run).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &run, nil
}

func (d *Database) ListRuns(fundID string) ([]ReconciliationRun, error) {
	query := d.db.Model(&ReconciliationRun{})
	if fundID != "" {
		query = query.Where("fund_id = ?", fundID)
	}
	var runs []ReconciliationRun
	if err := query.Order("created_at DESC").Find(&runs).Error; err != nil {
		return nil, err
	}
	return runs, nil
}

// DeleteRun removes a run and its payments. Drawdown statuses are not
// rewound; that correction is a manual operation.
func (d *Database) DeleteRun(runID string) (int64, error) {
	tx := d.db.Begin()
	if err := tx.Error; err != nil {
		return 0, err
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	payments := tx.Where("run_id = ?", runID).Delete(&Payment{})
	if payments.Error != nil {
		tx.Rollback()
		return 0, payments.Error
	}

	if err := tx.Where("run_id = ?", runID).Delete(&ReconciliationRun{}).Error; err != nil {
		tx.Rollback()
		return 0, err
	}

	if err := tx.Commit().Error; err != nil {
		return 0, err
	}
	return payments.RowsAffected, nil
}

// matchInvestorByName resolves a payer hint against the roster, exact first
// then case-insensitive.
func matchInvestorByName(investors []fund.Investor, payerHint string) *fund.Investor {
	for i := range investors {
		if investors[i].Name == payerHint {
			return &investors[i]
		}
	}
	needle := strings.ToLower(strings.TrimSpace(payerHint))
	for i := range investors {
		if strings.ToLower(investors[i].Name) == needle {
			return &investors[i]
		}
	}
	return nil
}
