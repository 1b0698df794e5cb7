package drawdown

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Drawdown is one capital-call obligation: one investor, one fund, one
// fiscal quarter. The composite unique index serializes issuance so the same
// quarter can never be called twice for an investor.
type Drawdown struct {
	gorm.Model `json:"-"`
	DrawdownID string `gorm:"uniqueIndex" json:"drawdown_id"`
	FundID     string `gorm:"index;uniqueIndex:idx_drawdowns_fund_quarter_investor" json:"fund_id"`
	InvestorID string `gorm:"uniqueIndex:idx_drawdowns_fund_quarter_investor" json:"investor_id"`
	Quarter    string `gorm:"uniqueIndex:idx_drawdowns_fund_quarter_investor" json:"quarter"`

	NoticeDate time.Time `json:"notice_date"`
	DueDate    time.Time `json:"due_date"`

	Percentage          decimal.Decimal `gorm:"type:decimal(5,2)" json:"percentage"`
	CommittedAmount     decimal.Decimal `gorm:"type:decimal(20,2)" json:"committed_amount"`
	CallAmount          decimal.Decimal `gorm:"type:decimal(20,2)" json:"call_amount"`
	AmountCalledUp      decimal.Decimal `gorm:"type:decimal(20,2)" json:"amount_called_up"`
	RemainingCommitment decimal.Decimal `gorm:"type:decimal(20,2)" json:"remaining_commitment"`

	ForecastPercentage decimal.Decimal `gorm:"type:decimal(5,2)" json:"forecast_percentage"`
	ForecastQuarter    string          `json:"forecast_quarter"`

	Status    string `json:"status"`
	Cancelled bool   `json:"cancelled"`

	// Allotment linkage, backfilled when the obligation is allotted.
	AllottedUnits int64            `json:"allotted_units,omitempty"`
	NAVUsed       int              `json:"nav_used,omitempty"`
	MgmtFees      decimal.Decimal  `gorm:"type:decimal(20,2)" json:"mgmt_fees,omitempty"`
	StampDuty     decimal.Decimal  `gorm:"type:decimal(20,2)" json:"stamp_duty,omitempty"`
	AllotmentDate *time.Time       `json:"allotment_date,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Notice document statuses.
const (
	DocumentRendered     = "Rendered"
	DocumentRenderFailed = "RenderFailed"
)

// Notice is the investor-facing twin of a Drawdown. Its lifecycle status
// mirrors the obligation's; the document fields track the rendered artifact.
type Notice struct {
	gorm.Model `json:"-"`
	NoticeID   string `gorm:"uniqueIndex" json:"notice_id"`
	DrawdownID string `gorm:"index" json:"drawdown_id"`
	InvestorID string `json:"investor_id"`

	NoticeDate time.Time       `json:"notice_date"`
	AmountDue  decimal.Decimal `gorm:"type:decimal(20,2)" json:"amount_due"`
	DueDate    time.Time       `json:"due_date"`

	DocumentURL    string `json:"document_url,omitempty"`
	DocumentStatus string `json:"document_status"`
	Status         string `json:"status"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
