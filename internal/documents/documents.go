// Package documents holds the collaborator interfaces the lifecycle engine
// depends on: document rendering, durable artifact storage, and bank-statement
// text extraction. The engine treats all three as replaceable externals:
// renderer and storage failures are recorded on the affected entity, never
// propagated as transaction failures, and extractor output is untrusted.
package documents

import (
	"time"

	"github.com/shopspring/decimal"
)

// NoticePayload carries everything the renderer needs to produce one
// investor-facing drawdown notice.
type NoticePayload struct {
	FundName            string
	InvestorName        string
	NoticeDate          time.Time
	DueDate             time.Time
	AmountDue           decimal.Decimal
	TotalCommitment     decimal.Decimal
	AmountCalledUp      decimal.Decimal
	RemainingCommitment decimal.Decimal
	ForecastPercentage  decimal.Decimal
	ForecastQuarter     string
	BankName            string
	BankAccountName     string
	BankAccountNo       string
	BankIFSC            string
	BankContact         string
}

// SheetRow is one investor line on a batch allotment sheet.
type SheetRow struct {
	InvestorName  string
	CallAmount    decimal.Decimal
	NAV           int
	AllottedUnits int64
	MgmtFees      decimal.Decimal
	StampDuty     decimal.Decimal
}

// SheetPayload carries one fund+quarter allotment batch for rendering.
type SheetPayload struct {
	FundName string
	Quarter  string
	Rows     []SheetRow
}

// Renderer produces local artifacts from notice and allotment payloads.
type Renderer interface {
	RenderNotice(payload NoticePayload) (string, error)
	RenderAllotmentSheet(payload SheetPayload) (string, error)
}

// Storage persists a local artifact under a key and returns a durable URL.
type Storage interface {
	Put(localPath, key string, metadata map[string]string) (string, error)
	Delete(key string) error
}

// Candidate is one (payer hint, amount, date) tuple mined from a bank
// statement. The payer hint is free text and may not match any investor.
type Candidate struct {
	PayerHint string          `json:"payer_hint"`
	Amount    decimal.Decimal `json:"amount"`
	Date      time.Time       `json:"date"`
	Note      string          `json:"note,omitempty"`
}

// Extractor mines a bank-statement-like document for candidate credits.
// Implementations are given the fund's investor roster as a matching hint.
// The result list may be empty or noisy.
type Extractor interface {
	ExtractCandidates(statement []byte, investorNames []string) ([]Candidate, error)
}
