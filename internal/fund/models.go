package fund

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Investor statuses. Only Active investors participate in apportionment.
const (
	InvestorActive   = "Active"
	InvestorInactive = "Inactive"
)

// Fund holds the scheme-level parameters the lifecycle engine reads: NAV per
// unit for allotment, fee and duty rates, and the bank block printed on
// drawdown notices.
type Fund struct {
	gorm.Model      `json:"-"`
	FundID          string          `gorm:"uniqueIndex" json:"fund_id"`
	SchemeName      string          `json:"scheme_name"`
	NAV             int             `json:"nav"`                                         // NAV per unit, typically 100
	MgmtFeeRate     decimal.Decimal `gorm:"type:decimal(8,6)" json:"mgmt_fee_rate"`      // typically 0.01
	StampDutyRate   decimal.Decimal `gorm:"type:decimal(10,8)" json:"stamp_duty_rate"`   // typically 0.00005
	BankName        string          `json:"bank_name"`
	BankAccountNo   string          `json:"bank_account_no"`
	BankAccountName string          `json:"bank_account_name"`
	BankIFSC        string          `json:"bank_ifsc"`
	BankContact     string          `json:"bank_contact"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Investor is one limited partner's commitment to a fund. The commitment
// amount is immutable once obligations have been issued against it, except
// through the explicit amendment path.
type Investor struct {
	gorm.Model       `json:"-"`
	InvestorID       string          `gorm:"uniqueIndex" json:"investor_id"`
	FundID           string          `gorm:"index" json:"fund_id"`
	Name             string          `json:"name"`
	Email            string          `json:"email"`
	CommitmentAmount decimal.Decimal `gorm:"type:decimal(20,2)" json:"commitment_amount"`
	Status           string          `json:"status"` // Active, Inactive
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}
