package fund

import (
	"errors"

	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) CreateFund(fund *Fund) error {
	return d.db.Create(fund).Error
}

func (d *Database) GetFund(fundID string) (*Fund, error) {
	var fund Fund
	if err := d.db.Where("fund_id = ?", fundID).First(&fund).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &fund, nil
}

func (d *Database) UpdateFund(fund *Fund) error {
	return d.db.Save(fund).Error
}

func (d *Database) ListFunds() ([]Fund, error) {
	var funds []Fund
	if err := d.db.Order("created_at DESC").Find(&funds).Error; err != nil {
		return nil, err
	}
	return funds, nil
}

func (d *Database) CreateInvestor(investor *Investor) error {
	return d.db.Create(investor).Error
}

func (d *Database) GetInvestor(investorID string) (*Investor, error) {
	var investor Investor
	if err := d.db.Where("investor_id = ?", investorID).First(&investor).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &investor, nil
}

func (d *Database) UpdateInvestor(investor *Investor) error {
	return d.db.Save(investor).Error
}

// GetActiveInvestors returns investors eligible for apportionment, in a
// stable order so batch output is deterministic.
func (d *Database) GetActiveInvestors(fundID string) ([]Investor, error) {
	var investors []Investor
	if err := d.db.Where("fund_id = ? AND status = ?", fundID, InvestorActive).
		Order("name ASC").
		Find(&investors).Error; err != nil {
		return nil, err
	}
	return investors, nil
}

func (d *Database) ListInvestors(fundID string) ([]Investor, error) {
	var investors []Investor
	if err := d.db.Where("fund_id = ?", fundID).Order("name ASC").Find(&investors).Error; err != nil {
		return nil, err
	}
	return investors, nil
}

// HasDrawdowns reports whether any non-cancelled obligation exists for the
// investor. Commitment amendments are refused while it holds.
func (d *Database) HasDrawdowns(investorID string) (bool, error) {
	var count int64
	if err := d.db.Table("drawdowns").
		Where("investor_id = ? AND cancelled = ? AND deleted_at IS NULL", investorID, false).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}
