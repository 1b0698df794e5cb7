package allotment

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// UnitAllotment records units allotted against one paid obligation, together
// with the fees charged alongside.
type UnitAllotment struct {
	gorm.Model  `json:"-"`
	AllotmentID string `gorm:"uniqueIndex" json:"allotment_id"`
	DrawdownID  string `gorm:"uniqueIndex" json:"drawdown_id"`
	FundID      string `gorm:"index" json:"fund_id"`
	InvestorID  string `gorm:"index" json:"investor_id"`
	Quarter     string `json:"quarter"`

	Units     int64           `json:"units"`
	NAV       int             `json:"nav"`
	MgmtFees  decimal.Decimal `gorm:"type:decimal(20,2)" json:"mgmt_fees"`
	StampDuty decimal.Decimal `gorm:"type:decimal(20,2)" json:"stamp_duty"`

	AllotmentDate time.Time `json:"allotment_date"`
	SheetURL      string    `json:"sheet_url,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
