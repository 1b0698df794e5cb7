package reconciliation

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Payment adequacy statuses.
const (
	PaymentPaid        = "Paid"
	PaymentShortfall   = "Shortfall"
	PaymentOverPayment = "Over-payment"
)

// Reconciliation run statuses.
const (
	RunCompleted  = "Completed"
	RunInProgress = "In-Progress"
)

// Payment is one matched remittance against a drawdown obligation. The
// composite unique index is the duplicate-suppression key: the same investor,
// quarter, value date and amount is the same payment.
type Payment struct {
	gorm.Model `json:"-"`
	PaymentID  string `gorm:"uniqueIndex" json:"payment_id"`
	DrawdownID string `gorm:"index" json:"drawdown_id"`
	FundID     string `gorm:"index" json:"fund_id"`
	InvestorID string `gorm:"uniqueIndex:idx_payments_dedup" json:"investor_id"`
	Quarter    string `gorm:"uniqueIndex:idx_payments_dedup" json:"quarter"`

	PaymentDate time.Time       `gorm:"uniqueIndex:idx_payments_dedup" json:"payment_date"`
	PaidAmount  decimal.Decimal `gorm:"type:decimal(20,2);uniqueIndex:idx_payments_dedup" json:"paid_amount"`
	AmountDue   decimal.Decimal `gorm:"type:decimal(20,2)" json:"amount_due"`
	Difference  decimal.Decimal `gorm:"type:decimal(20,2)" json:"difference"`

	Status string `json:"status"`
	RunID  string `gorm:"index" json:"run_id,omitempty"`
	Note   string `json:"note,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ReconciliationRun records one batch-matching pass over a statement or
// candidate list: how many lines came in, what happened to each.
type ReconciliationRun struct {
	gorm.Model `json:"-"`
	RunID      string `gorm:"uniqueIndex" json:"run_id"`
	FundID     string `gorm:"index" json:"fund_id"`
	Quarters   string `json:"quarters"`

	CandidateCount int `json:"candidate_count"`
	MatchedCount   int `json:"matched_count"`
	SkippedCount   int `json:"skipped_count"`

	TotalExpected decimal.Decimal `gorm:"type:decimal(20,2)" json:"total_expected"`
	TotalReceived decimal.Decimal `gorm:"type:decimal(20,2)" json:"total_received"`

	StatementURL string `json:"statement_url,omitempty"`
	Status       string `json:"status"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
