package drawdown

import (
	"errors"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/fundops/capcall-api/internal/auth"
	"github.com/fundops/capcall-api/internal/documents"
	"github.com/fundops/capcall-api/internal/fund"
	"github.com/fundops/capcall-api/internal/quarter"
	"github.com/fundops/capcall-api/internal/types"
	"github.com/fundops/capcall-api/pkg/response"
)

var oneHundred = decimal.NewFromInt(100)

// Service runs the apportionment engine: it turns one fund-wide percentage
// into per-investor obligations and notices.
type Service struct {
	db       *Database
	renderer documents.Renderer
	storage  documents.Storage
}

func NewService(gormDB *gorm.DB, renderer documents.Renderer, storage documents.Storage) *Service {
	return &Service{
		db:       NewDatabase(gormDB),
		renderer: renderer,
		storage:  storage,
	}
}

// IssueRequest is one quarter's capital call for a fund.
type IssueRequest struct {
	FundID             string `json:"fund_id" binding:"required"`
	Percentage         string `json:"percentage" binding:"required"`
	NoticeDate         string `json:"notice_date" binding:"required"` // YYYY-MM-DD
	DueDate            string `json:"due_date" binding:"required"`    // YYYY-MM-DD
	ForecastPercentage string `json:"forecast_percentage"`
}

// InvestorResult is one investor's line in an issuance or preview summary.
type InvestorResult struct {
	DrawdownID          string          `json:"drawdown_id,omitempty"`
	InvestorID          string          `json:"investor_id"`
	InvestorName        string          `json:"investor_name"`
	CommittedAmount     decimal.Decimal `json:"committed_amount"`
	CallAmount          decimal.Decimal `json:"call_amount"`
	AmountCalledUp      decimal.Decimal `json:"amount_called_up"`
	RemainingCommitment decimal.Decimal `json:"remaining_commitment"`
	DocumentURL         string          `json:"document_url,omitempty"`
	DocumentStatus      string          `json:"document_status,omitempty"`
}

// IssueResult is the structured summary of one issuance batch.
type IssueResult struct {
	FundID          string           `json:"fund_id"`
	Quarter         string           `json:"quarter"`
	ForecastQuarter string           `json:"forecast_quarter"`
	DrawdownCount   int              `json:"drawdown_count"`
	TotalCallAmount decimal.Decimal  `json:"total_call_amount"`
	Investors       []InvestorResult `json:"investors"`
	RenderFailures  []string         `json:"render_failures,omitempty"`
}

type parsedIssue struct {
	fundID      string
	percentage  decimal.Decimal
	noticeDate  time.Time
	dueDate     time.Time
	forecastPct decimal.Decimal
}

// validateIssue collects every violation in the request rather than failing
// on the first.
func validateIssue(req IssueRequest) (parsedIssue, error) {
	verr := types.NewValidationError()
	out := parsedIssue{fundID: req.FundID}

	pct, err := decimal.NewFromString(req.Percentage)
	switch {
	case err != nil:
		verr.Add("percentage", "must be a valid decimal")
	case pct.IsNegative() || pct.GreaterThan(oneHundred):
		verr.Add("percentage", "must be between 0 and 100")
	default:
		out.percentage = pct
	}

	noticeDate, err := time.Parse("2006-01-02", req.NoticeDate)
	if err != nil {
		verr.Add("notice_date", "must be a valid date in YYYY-MM-DD format")
	} else {
		out.noticeDate = noticeDate
	}

	dueDate, err := time.Parse("2006-01-02", req.DueDate)
	if err != nil {
		verr.Add("due_date", "must be a valid date in YYYY-MM-DD format")
	} else {
		out.dueDate = dueDate
	}

	if !out.noticeDate.IsZero() && !out.dueDate.IsZero() && out.dueDate.Before(out.noticeDate) {
		verr.Add("due_date", "must not be before notice date")
	}

	out.forecastPct = decimal.Zero
	if req.ForecastPercentage != "" {
		fpct, err := decimal.NewFromString(req.ForecastPercentage)
		switch {
		case err != nil:
			verr.Add("forecast_percentage", "must be a valid decimal")
		case fpct.IsNegative() || fpct.GreaterThan(oneHundred):
			verr.Add("forecast_percentage", "must be between 0 and 100")
		default:
			out.forecastPct = fpct
		}
	}

	if verr.HasViolations() {
		return parsedIssue{}, verr
	}
	return out, nil
}

// apportion computes one investor's obligation amounts from the fund-wide
// percentage and their prior calls.
func (s *Service) apportion(investor fund.Investor, percentage decimal.Decimal) (call, calledUp, remaining decimal.Decimal, err error) {
	call = percentage.Mul(investor.CommitmentAmount).Div(oneHundred)

	prior, err := s.db.SumPriorCalls(investor.InvestorID)
	if err != nil {
		return decimal.Zero, decimal.Zero, decimal.Zero, err
	}

	calledUp = prior.Add(call)
	remaining = investor.CommitmentAmount.Sub(calledUp)
	return call, calledUp, remaining, nil
}

// IssueDrawdowns creates one obligation and one notice per active investor,
// all in a single transaction, then renders the notice documents. A render
// failure is recorded on the notice, never rolled back into the financials.
func (s *Service) IssueDrawdowns(actor auth.Actor, req IssueRequest) (*IssueResult, error) {
	if err := actor.Require(auth.PermIssueDrawdowns); err != nil {
		return nil, err
	}

	parsed, err := validateIssue(req)
	if err != nil {
		return nil, err
	}

	logger := log.With().
		Str("fund_id", parsed.fundID).
		Str("service", "drawdown").
		Logger()

	f, err := s.db.GetFund(parsed.fundID)
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, &types.NotFoundError{Resource: "fund", ID: parsed.fundID}
	}

	investors, err := s.db.GetActiveInvestors(parsed.fundID)
	if err != nil {
		return nil, err
	}
	if len(investors) == 0 {
		return nil, &types.NotFoundError{Resource: "active investors for fund", ID: parsed.fundID}
	}

	q := quarter.Of(parsed.noticeDate)
	forecastQuarter := q.Next().Label()

	exists, err := s.db.ExistsForFundQuarter(parsed.fundID, q.Label())
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, &types.DuplicateError{
			Resource: "drawdown",
			Detail:   fmt.Sprintf("drawdowns already issued for fund %s in quarter %s", parsed.fundID, q.Label()),
		}
	}

	logger.Info().
		Str("quarter", q.Label()).
		Str("percentage", parsed.percentage.String()).
		Int("investors", len(investors)).
		Msg("issuing drawdowns")

	var (
		drawdowns []*Drawdown
		notices   []*Notice
		results   []InvestorResult
		total     = decimal.Zero
	)

	for _, investor := range investors {
		call, calledUp, remaining, err := s.apportion(investor, parsed.percentage)
		if err != nil {
			return nil, err
		}

		// A negative remaining commitment means the call exceeds what the
		// investor has left; this is a systemic input error, so the whole
		// batch is refused.
		if remaining.IsNegative() {
			verr := types.NewValidationError()
			verr.Add("percentage", fmt.Sprintf(
				"call would exceed remaining commitment for investor %s (remaining would be %s)",
				investor.Name, remaining.StringFixed(2)))
			return nil, verr
		}

		dd := &Drawdown{
			DrawdownID:          "DD_" + uuid.New().String(),
			FundID:              parsed.fundID,
			InvestorID:          investor.InvestorID,
			Quarter:             q.Label(),
			NoticeDate:          parsed.noticeDate,
			DueDate:             parsed.dueDate,
			Percentage:          parsed.percentage,
			CommittedAmount:     investor.CommitmentAmount,
			CallAmount:          call,
			AmountCalledUp:      calledUp,
			RemainingCommitment: remaining,
			ForecastPercentage:  parsed.forecastPct,
			ForecastQuarter:     forecastQuarter,
			Status:              StatusPaymentPending,
			CreatedAt:           time.Now(),
			UpdatedAt:           time.Now(),
		}

		notice := &Notice{
			NoticeID:       "NTC_" + uuid.New().String(),
			DrawdownID:     dd.DrawdownID,
			InvestorID:     investor.InvestorID,
			NoticeDate:     parsed.noticeDate,
			AmountDue:      call,
			DueDate:        parsed.dueDate,
			Status:         StatusPaymentPending,
			DocumentStatus: "",
			CreatedAt:      time.Now(),
			UpdatedAt:      time.Now(),
		}

		drawdowns = append(drawdowns, dd)
		notices = append(notices, notice)
		results = append(results, InvestorResult{
			DrawdownID:          dd.DrawdownID,
			InvestorID:          investor.InvestorID,
			InvestorName:        investor.Name,
			CommittedAmount:     investor.CommitmentAmount,
			CallAmount:          call,
			AmountCalledUp:      calledUp,
			RemainingCommitment: remaining,
		})
		total = total.Add(call)
	}

	if err := s.db.CreateBatch(drawdowns, notices); err != nil {
		logger.Error().Err(err).Msg("failed to persist drawdown batch")
		return nil, err
	}

	// Documents are best-effort after the financial records are committed.
	var renderFailures []string
	for i, notice := range notices {
		investor := investors[i]
		url, renderErr := s.renderNotice(f, investor, drawdowns[i])
		if renderErr != nil {
			logger.Error().Err(renderErr).
				Str("investor_id", investor.InvestorID).
				Msg("notice document generation failed")
			notice.DocumentStatus = DocumentRenderFailed
			renderFailures = append(renderFailures, investor.Name)
		} else {
			notice.DocumentStatus = DocumentRendered
			notice.DocumentURL = url
		}
		notice.UpdatedAt = time.Now()
		if err := s.db.UpdateNotice(notice); err != nil {
			logger.Error().Err(err).Str("notice_id", notice.NoticeID).Msg("failed to record notice document state")
		}
		results[i].DocumentURL = notice.DocumentURL
		results[i].DocumentStatus = notice.DocumentStatus
	}

	logger.Info().
		Str("quarter", q.Label()).
		Int("drawdown_count", len(drawdowns)).
		Str("total_call_amount", total.StringFixed(2)).
		Int("render_failures", len(renderFailures)).
		Msg("drawdown issuance completed")

	return &IssueResult{
		FundID:          parsed.fundID,
		Quarter:         q.Label(),
		ForecastQuarter: forecastQuarter,
		DrawdownCount:   len(drawdowns),
		TotalCallAmount: total,
		Investors:       results,
		RenderFailures:  renderFailures,
	}, nil
}

func (s *Service) renderNotice(f *fund.Fund, investor fund.Investor, dd *Drawdown) (string, error) {
	path, err := s.renderer.RenderNotice(documents.NoticePayload{
		FundName:            f.SchemeName,
		InvestorName:        investor.Name,
		NoticeDate:          dd.NoticeDate,
		DueDate:             dd.DueDate,
		AmountDue:           dd.CallAmount,
		TotalCommitment:     dd.CommittedAmount,
		AmountCalledUp:      dd.AmountCalledUp,
		RemainingCommitment: dd.RemainingCommitment,
		ForecastPercentage:  dd.ForecastPercentage,
		ForecastQuarter:     dd.ForecastQuarter,
		BankName:            f.BankName,
		BankAccountName:     f.BankAccountName,
		BankAccountNo:       f.BankAccountNo,
		BankIFSC:            f.BankIFSC,
		BankContact:         f.BankContact,
	})
	if err != nil {
		return "", &types.DependencyError{Op: "notice render", Err: err}
	}

	key := fmt.Sprintf("%s/%s/capital-calls/%s.html", f.FundID, dd.Quarter, dd.DrawdownID)
	url, err := s.storage.Put(path, key, map[string]string{
		"document_type": "capital_call",
		"quarter":       dd.Quarter,
		"investor_id":   investor.InvestorID,
		"drawdown_id":   dd.DrawdownID,
	})
	if err != nil {
		// Storage failure is tolerated; the local artifact still exists.
		log.Warn().Err(err).Str("drawdown_id", dd.DrawdownID).Msg("artifact storage failed, keeping local path")
		return path, nil
	}
	return url, nil
}

// PreviewDrawdowns runs the apportionment computation without persisting
// anything.
func (s *Service) PreviewDrawdowns(actor auth.Actor, req IssueRequest) (*IssueResult, error) {
	if err := actor.Require(auth.PermIssueDrawdowns); err != nil {
		return nil, err
	}

	parsed, err := validateIssue(req)
	if err != nil {
		return nil, err
	}

	f, err := s.db.GetFund(parsed.fundID)
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, &types.NotFoundError{Resource: "fund", ID: parsed.fundID}
	}

	investors, err := s.db.GetActiveInvestors(parsed.fundID)
	if err != nil {
		return nil, err
	}
	if len(investors) == 0 {
		return nil, &types.NotFoundError{Resource: "active investors for fund", ID: parsed.fundID}
	}

	q := quarter.Of(parsed.noticeDate)

	var results []InvestorResult
	total := decimal.Zero
	for _, investor := range investors {
		call, calledUp, remaining, err := s.apportion(investor, parsed.percentage)
		if err != nil {
			return nil, err
		}
		results = append(results, InvestorResult{
			InvestorID:          investor.InvestorID,
			InvestorName:        investor.Name,
			CommittedAmount:     investor.CommitmentAmount,
			CallAmount:          call,
			AmountCalledUp:      calledUp,
			RemainingCommitment: remaining,
		})
		total = total.Add(call)
	}

	return &IssueResult{
		FundID:          parsed.fundID,
		Quarter:         q.Label(),
		ForecastQuarter: q.Next().Label(),
		DrawdownCount:   len(results),
		TotalCallAmount: total,
		Investors:       results,
	}, nil
}

// CancelDrawdown flags an obligation cancelled. Permitted only while payment
// is still pending; a cancelled obligation drops out of apportionment sums
// and payment matching.
func (s *Service) CancelDrawdown(actor auth.Actor, drawdownID string) (*Drawdown, error) {
	if err := actor.Require(auth.PermIssueDrawdowns); err != nil {
		return nil, err
	}

	dd, err := s.db.GetDrawdown(drawdownID)
	if err != nil {
		return nil, err
	}
	if dd == nil {
		return nil, &types.NotFoundError{Resource: "drawdown", ID: drawdownID}
	}
	if dd.Cancelled {
		return nil, &types.ConflictError{Detail: "drawdown is already cancelled"}
	}
	if dd.Status != StatusPaymentPending {
		return nil, &types.ConflictError{Detail: fmt.Sprintf("cannot cancel drawdown in status %q", dd.Status)}
	}

	dd.Cancelled = true
	dd.UpdatedAt = time.Now()
	if err := s.db.UpdateDrawdown(dd); err != nil {
		return nil, err
	}

	log.Info().Str("drawdown_id", drawdownID).Msg("cancelled drawdown")
	return dd, nil
}

// DeleteDrawdown removes an obligation and its dependent notice and payment
// records. Administrative cascade only.
func (s *Service) DeleteDrawdown(actor auth.Actor, drawdownID string) (int64, error) {
	if err := actor.Require(auth.PermIssueDrawdowns); err != nil {
		return 0, err
	}

	dd, err := s.db.GetDrawdown(drawdownID)
	if err != nil {
		return 0, err
	}
	if dd == nil {
		return 0, &types.NotFoundError{Resource: "drawdown", ID: drawdownID}
	}

	deletedPayments, err := s.db.DeleteCascade(drawdownID)
	if err != nil {
		return 0, err
	}

	log.Info().
		Str("drawdown_id", drawdownID).
		Int64("deleted_payments", deletedPayments).
		Msg("deleted drawdown cascade")
	return deletedPayments, nil
}

// GetDrawdown retrieves one obligation by ID.
func (s *Service) GetDrawdown(drawdownID string) (*Drawdown, error) {
	dd, err := s.db.GetDrawdown(drawdownID)
	if err != nil {
		return nil, err
	}
	if dd == nil {
		return nil, &types.NotFoundError{Resource: "drawdown", ID: drawdownID}
	}
	return dd, nil
}

// ListDrawdowns filters obligations by fund, quarter and status.
func (s *Service) ListDrawdowns(fundID, quarterLabel, status string) ([]Drawdown, error) {
	return s.db.ListDrawdowns(fundID, quarterLabel, status)
}

// GetDB exposes the database layer to sibling services.
func (s *Service) GetDB() *Database {
	return s.db
}

// GinHandlers contains HTTP handlers for drawdown endpoints.
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

func (h *GinHandlers) IssueDrawdownsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req IssueRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		result, err := h.service.IssueDrawdowns(auth.ActorFromContext(c), req)
		if errors.Is(err, auth.ErrPermissionDenied) {
			response.Forbidden(c, err.Error())
			return
		}
		response.Handle(c, result, err)
	}
}

func (h *GinHandlers) PreviewDrawdownsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req IssueRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		result, err := h.service.PreviewDrawdowns(auth.ActorFromContext(c), req)
		if errors.Is(err, auth.ErrPermissionDenied) {
			response.Forbidden(c, err.Error())
			return
		}
		response.Handle(c, result, err)
	}
}

func (h *GinHandlers) GetDrawdownHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		dd, err := h.service.GetDrawdown(c.Param("drawdown_id"))
		response.Handle(c, dd, err)
	}
}

func (h *GinHandlers) ListDrawdownsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		drawdowns, err := h.service.ListDrawdowns(
			c.Query("fund_id"),
			c.Query("quarter"),
			c.Query("status"),
		)
		response.Handle(c, drawdowns, err)
	}
}

func (h *GinHandlers) CancelDrawdownHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		dd, err := h.service.CancelDrawdown(auth.ActorFromContext(c), c.Param("drawdown_id"))
		if errors.Is(err, auth.ErrPermissionDenied) {
			response.Forbidden(c, err.Error())
			return
		}
		response.Handle(c, dd, err)
	}
}

func (h *GinHandlers) DeleteDrawdownHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		deletedPayments, err := h.service.DeleteDrawdown(auth.ActorFromContext(c), c.Param("drawdown_id"))
		if errors.Is(err, auth.ErrPermissionDenied) {
			response.Forbidden(c, err.Error())
			return
		}
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.Success(c, gin.H{
			"message":          "drawdown and dependent records deleted",
			"deleted_payments": deletedPayments,
		})
	}
}
