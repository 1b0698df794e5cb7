package reconciliation

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/fundops/capcall-api/internal/auth"
	"github.com/fundops/capcall-api/internal/documents"
	"github.com/fundops/capcall-api/internal/drawdown"
	"github.com/fundops/capcall-api/internal/quarter"
	"github.com/fundops/capcall-api/internal/types"
	"github.com/fundops/capcall-api/pkg/response"
)

// ErrNoNewPayments signals a batch where every candidate was skipped. The
// caller gets the skip reasons in the summary either way; this only marks the
// run as a no-op.
var ErrNoNewPayments = errors.New("no new payments to reconcile")

// Service matches remittances to drawdown obligations, classifies adequacy
// and advances the obligation lifecycle on full payment.
type Service struct {
	db        *Database
	extractor documents.Extractor
	storage   documents.Storage
}

func NewService(gormDB *gorm.DB, extractor documents.Extractor, storage documents.Storage) *Service {
	return &Service{
		db:        NewDatabase(gormDB),
		extractor: extractor,
		storage:   storage,
	}
}

// Skip is one candidate the batch did not convert into a payment, with the
// reason it was passed over.
type Skip struct {
	PayerHint string `json:"payer_hint"`
	Amount    string `json:"amount"`
	Date      string `json:"date"`
	Reason    string `json:"reason"`
}

// RunSummary reports the outcome of one matching pass, including the
// aggregate expected-versus-received totals across the matched payments.
type RunSummary struct {
	RunID          string          `json:"run_id"`
	FundID         string          `json:"fund_id"`
	Quarters       string          `json:"quarters"`
	CandidateCount int             `json:"candidate_count"`
	MatchedCount   int             `json:"matched_count"`
	SkippedCount   int             `json:"skipped_count"`
	TotalExpected  decimal.Decimal `json:"total_expected"`
	TotalReceived  decimal.Decimal `json:"total_received"`
	Payments       []Payment       `json:"payments"`
	Skips          []Skip          `json:"skips,omitempty"`
	StatementURL   string          `json:"statement_url,omitempty"`
}

// classify compares paid against due.
func classify(paid, due decimal.Decimal) (status string, difference decimal.Decimal) {
	difference = paid.Sub(due)
	switch {
	case difference.IsZero():
		return PaymentPaid, difference
	case difference.IsNegative():
		return PaymentShortfall, difference
	default:
		return PaymentOverPayment, difference
	}
}

// MatchBatch matches candidate remittances against the fund's open
// obligations. Skips are reported, not silently discarded; duplicates are
// suppressed both within the batch and against stored payments. Returns
// ErrNoNewPayments when nothing in the batch converted.
func (s *Service) MatchBatch(actor auth.Actor, fundID string, candidates []documents.Candidate) (*RunSummary, error) {
	if err := actor.Require(auth.PermReconcile); err != nil {
		return nil, err
	}

	logger := log.With().
		Str("fund_id", fundID).
		Str("service", "reconciliation").
		Logger()

	f, err := s.db.GetFund(fundID)
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, &types.NotFoundError{Resource: "fund", ID: fundID}
	}

	investors, err := s.db.GetActiveInvestors(fundID)
	if err != nil {
		return nil, err
	}

	runID := "RUN_" + uuid.New().String()
	summary := &RunSummary{
		RunID:          runID,
		FundID:         fundID,
		CandidateCount: len(candidates),
	}

	var (
		payments []*Payment
		advanced []*drawdown.Drawdown
		notices  []*drawdown.Notice
		seen     = map[string]bool{}
	)

	for _, cand := range candidates {
		skip := func(reason string) {
			summary.Skips = append(summary.Skips, Skip{
				PayerHint: cand.PayerHint,
				Amount:    cand.Amount.StringFixed(2),
				Date:      cand.Date.Format("2006-01-02"),
				Reason:    reason,
			})
		}

		investor := matchInvestorByName(investors, cand.PayerHint)
		if investor == nil {
			skip("no investor on the roster matches payer")
			continue
		}

		q := quarter.Of(cand.Date).Label()

		dedupKey := fmt.Sprintf("%s|%s|%s|%s",
			investor.InvestorID, q, cand.Date.Format("2006-01-02"), cand.Amount.StringFixed(2))
		if seen[dedupKey] {
			skip("duplicate of an earlier line in this batch")
			continue
		}
		seen[dedupKey] = true

		exists, err := s.db.PaymentExists(investor.InvestorID, q, cand.Date, cand.Amount)
		if err != nil {
			return nil, err
		}
		if exists {
			skip("payment already recorded")
			continue
		}

		dd, err := s.db.GetOpenDrawdown(investor.InvestorID, q)
		if err != nil {
			return nil, err
		}
		if dd == nil {
			skip(fmt.Sprintf("no open drawdown for investor in quarter %s", q))
			continue
		}

		status, diff := classify(cand.Amount, dd.CallAmount)
		payment := &Payment{
			PaymentID:   "PAY_" + uuid.New().String(),
			DrawdownID:  dd.DrawdownID,
			FundID:      fundID,
			InvestorID:  investor.InvestorID,
			Quarter:     q,
			PaymentDate: cand.Date,
			PaidAmount:  cand.Amount,
			AmountDue:   dd.CallAmount,
			Difference:  diff,
			Status:      status,
			RunID:       runID,
			Note:        cand.Note,
			CreatedAt:   time.Now(),
			UpdatedAt:   time.Now(),
		}
		payments = append(payments, payment)

		// Only a fully paid obligation advances. Shortfalls and over-payments
		// stay put for manual follow-up.
		if status == PaymentPaid && dd.Status == drawdown.StatusPaymentPending {
			if err := drawdown.Transition(dd.Status, drawdown.StatusAllotmentPending); err != nil {
				return nil, err
			}
			dd.Status = drawdown.StatusAllotmentPending
			dd.UpdatedAt = time.Now()
			advanced = append(advanced, dd)

			notice, err := s.db.GetNoticeByDrawdownID(dd.DrawdownID)
			if err != nil {
				return nil, err
			}
			if notice != nil {
				notice.Status = drawdown.StatusAllotmentPending
				notice.UpdatedAt = time.Now()
				notices = append(notices, notice)
			}
		}
	}

	summary.MatchedCount = len(payments)
	summary.SkippedCount = len(summary.Skips)
	summary.TotalExpected = decimal.Zero
	summary.TotalReceived = decimal.Zero
	quarterSet := map[string]bool{}
	for _, p := range payments {
		summary.TotalExpected = summary.TotalExpected.Add(p.AmountDue)
		summary.TotalReceived = summary.TotalReceived.Add(p.PaidAmount)
		quarterSet[p.Quarter] = true
	}
	labels := make([]string, 0, len(quarterSet))
	for label := range quarterSet {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	summary.Quarters = strings.Join(labels, ",")

	if len(payments) == 0 {
		logger.Info().
			Int("candidates", len(candidates)).
			Int("skipped", summary.SkippedCount).
			Msg("reconciliation produced no new payments")
		return summary, ErrNoNewPayments
	}

	run := &ReconciliationRun{
		RunID:          runID,
		FundID:         fundID,
		Quarters:       summary.Quarters,
		CandidateCount: len(candidates),
		MatchedCount:   summary.MatchedCount,
		SkippedCount:   summary.SkippedCount,
		TotalExpected:  summary.TotalExpected,
		TotalReceived:  summary.TotalReceived,
		Status:         RunCompleted,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}

	if err := s.db.CommitRun(run, payments, advanced, notices); err != nil {
		logger.Error().Err(err).Msg("failed to commit reconciliation run")
		return nil, err
	}

	for _, p := range payments {
		summary.Payments = append(summary.Payments, *p)
	}

	logger.Info().
		Str("run_id", runID).
		Int("matched", summary.MatchedCount).
		Int("skipped", summary.SkippedCount).
		Int("advanced", len(advanced)).
		Msg("reconciliation run completed")

	return summary, nil
}

// IngestStatement extracts candidates from a raw bank statement, archives the
// statement, and runs batch matching over the candidates.
func (s *Service) IngestStatement(actor auth.Actor, fundID string, statement []byte, filename string) (*RunSummary, error) {
	if err := actor.Require(auth.PermReconcile); err != nil {
		return nil, err
	}

	investors, err := s.db.GetActiveInvestors(fundID)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(investors))
	for i, investor := range investors {
		names[i] = investor.Name
	}

	candidates, err := s.extractor.ExtractCandidates(statement, names)
	if err != nil {
		return nil, &types.DependencyError{Op: "statement extraction", Err: err}
	}

	summary, err := s.MatchBatch(actor, fundID, candidates)
	if summary == nil {
		return nil, err
	}

	key := fmt.Sprintf("%s/statements/%s_%s", fundID, summary.RunID, filename)
	url, storeErr := s.storeStatement(statement, key, fundID)
	if storeErr != nil {
		log.Warn().Err(storeErr).Str("fund_id", fundID).Msg("statement archival failed")
	} else {
		summary.StatementURL = url
	}

	return summary, err
}

func (s *Service) storeStatement(statement []byte, key, fundID string) (string, error) {
	tmp, err := writeTemp(statement)
	if err != nil {
		return "", err
	}
	return s.storage.Put(tmp, key, map[string]string{
		"document_type": "bank_statement",
		"fund_id":       fundID,
	})
}

// ManualPaymentRequest records one payment outside of batch matching.
type ManualPaymentRequest struct {
	InvestorID  string `json:"investor_id" binding:"required"`
	Amount      string `json:"amount" binding:"required"`
	PaymentDate string `json:"payment_date" binding:"required"` // YYYY-MM-DD
	Note        string `json:"note"`
}

// RecordManualPayment records a single operator-entered payment. Unlike batch
// matching, a missing obligation is an error here, not a skip.
func (s *Service) RecordManualPayment(actor auth.Actor, req ManualPaymentRequest) (*Payment, error) {
	if err := actor.Require(auth.PermReconcile); err != nil {
		return nil, err
	}

	verr := types.NewValidationError()
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		verr.Add("amount", "must be a valid decimal")
	} else if amount.IsNegative() || amount.IsZero() {
		verr.Add("amount", "must be greater than zero")
	}
	paymentDate, err := time.Parse("2006-01-02", req.PaymentDate)
	if err != nil {
		verr.Add("payment_date", "must be a valid date in YYYY-MM-DD format")
	}
	if verr.HasViolations() {
		return nil, verr
	}

	q := quarter.Of(paymentDate).Label()

	dd, err := s.db.GetOpenDrawdown(req.InvestorID, q)
	if err != nil {
		return nil, err
	}
	if dd == nil {
		return nil, &types.NotFoundError{
			Resource: "open drawdown",
			ID:       fmt.Sprintf("investor %s, quarter %s", req.InvestorID, q),
		}
	}

	exists, err := s.db.PaymentExists(req.InvestorID, q, paymentDate, amount)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, &types.DuplicateError{
			Resource: "payment",
			Detail:   fmt.Sprintf("payment of %s on %s already recorded for investor %s", amount.StringFixed(2), req.PaymentDate, req.InvestorID),
		}
	}

	status, diff := classify(amount, dd.CallAmount)
	payment := &Payment{
		PaymentID:   "PAY_" + uuid.New().String(),
		DrawdownID:  dd.DrawdownID,
		FundID:      dd.FundID,
		InvestorID:  req.InvestorID,
		Quarter:     q,
		PaymentDate: paymentDate,
		PaidAmount:  amount,
		AmountDue:   dd.CallAmount,
		Difference:  diff,
		Status:      status,
		Note:        req.Note,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}

	if err := s.db.CreatePayment(payment); err != nil {
		return nil, err
	}

	if status == PaymentPaid && dd.Status == drawdown.StatusPaymentPending {
		if err := s.advanceDrawdown(dd); err != nil {
			return nil, err
		}
	}

	log.Info().
		Str("payment_id", payment.PaymentID).
		Str("investor_id", req.InvestorID).
		Str("status", status).
		Msg("recorded manual payment")

	return payment, nil
}

// UpdatePaymentRequest corrects an existing payment's amount or value date.
type UpdatePaymentRequest struct {
	Amount      string `json:"amount"`
	PaymentDate string `json:"payment_date"` // YYYY-MM-DD
	Note        string `json:"note"`
}

// UpdatePayment corrects a stored payment and re-classifies it. A correction
// that makes the payment whole advances the obligation.
func (s *Service) UpdatePayment(actor auth.Actor, paymentID string, req UpdatePaymentRequest) (*Payment, error) {
	if err := actor.Require(auth.PermReconcile); err != nil {
		return nil, err
	}

	payment, err := s.db.GetPayment(paymentID)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, &types.NotFoundError{Resource: "payment", ID: paymentID}
	}

	verr := types.NewValidationError()
	if req.Amount != "" {
		amount, err := decimal.NewFromString(req.Amount)
		if err != nil {
			verr.Add("amount", "must be a valid decimal")
		} else if amount.IsNegative() || amount.IsZero() {
			verr.Add("amount", "must be greater than zero")
		} else {
			payment.PaidAmount = amount
		}
	}
	if req.PaymentDate != "" {
		paymentDate, err := time.Parse("2006-01-02", req.PaymentDate)
		if err != nil {
			verr.Add("payment_date", "must be a valid date in YYYY-MM-DD format")
		} else {
			payment.PaymentDate = paymentDate
		}
	}
	if verr.HasViolations() {
		return nil, verr
	}
	if req.Note != "" {
		payment.Note = req.Note
	}

	payment.Status, payment.Difference = classify(payment.PaidAmount, payment.AmountDue)
	payment.UpdatedAt = time.Now()

	if err := s.db.UpdatePayment(payment); err != nil {
		return nil, err
	}

	if payment.Status == PaymentPaid {
		dd, err := s.db.GetDrawdown(payment.DrawdownID)
		if err != nil {
			return nil, err
		}
		if dd != nil && dd.Status == drawdown.StatusPaymentPending {
			if err := s.advanceDrawdown(dd); err != nil {
				return nil, err
			}
		}
	}

	log.Info().
		Str("payment_id", paymentID).
		Str("status", payment.Status).
		Msg("updated payment")

	return payment, nil
}

// advanceDrawdown moves a fully paid obligation to Allotment Pending, with
// its notice mirroring the change.
func (s *Service) advanceDrawdown(dd *drawdown.Drawdown) error {
	if err := drawdown.Transition(dd.Status, drawdown.StatusAllotmentPending); err != nil {
		return err
	}
	dd.Status = drawdown.StatusAllotmentPending
	dd.UpdatedAt = time.Now()
	if err := s.db.UpdateDrawdown(dd); err != nil {
		return err
	}

	notice, err := s.db.GetNoticeByDrawdownID(dd.DrawdownID)
	if err != nil {
		return err
	}
	if notice != nil {
		notice.Status = drawdown.StatusAllotmentPending
		notice.UpdatedAt = time.Now()
		if err := s.db.UpdateNotice(notice); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) GetPayment(paymentID string) (*Payment, error) {
	payment, err := s.db.GetPayment(paymentID)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, &types.NotFoundError{Resource: "payment", ID: paymentID}
	}
	return payment, nil
}

func (s *Service) ListPayments(fundID, quarterLabel, status string) ([]Payment, error) {
	return s.db.ListPayments(fundID, quarterLabel, status)
}

func (s *Service) GetRun(runID string) (*ReconciliationRun, error) {
	run, err := s.db.GetRun(runID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, &types.NotFoundError{Resource: "reconciliation run", ID: runID}
	}
	return run, nil
}

func (s *Service) ListRuns(fundID string) ([]ReconciliationRun, error) {
	return s.db.ListRuns(fundID)
}

// DeleteRun removes a run and its payments.
func (s *Service) DeleteRun(actor auth.Actor, runID string) (int64, error) {
	if err := actor.Require(auth.PermReconcile); err != nil {
		return 0, err
	}

	run, err := s.db.GetRun(runID)
	if err != nil {
		return 0, err
	}
	if run == nil {
		return 0, &types.NotFoundError{Resource: "reconciliation run", ID: runID}
	}

	deleted, err := s.db.DeleteRun(runID)
	if err != nil {
		return 0, err
	}

	log.Info().
		Str("run_id", runID).
		Int64("deleted_payments", deleted).
		Msg("deleted reconciliation run")
	return deleted, nil
}

// GetDB exposes the database layer to sibling services.
func (s *Service) GetDB() *Database {
	return s.db
}

// GinHandlers contains HTTP handlers for payment and reconciliation endpoints.
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// BatchRequest carries pre-extracted candidates for matching.
type BatchRequest struct {
	FundID     string `json:"fund_id" binding:"required"`
	Candidates []struct {
		PayerHint string `json:"payer_hint" binding:"required"`
		Amount    string `json:"amount" binding:"required"`
		Date      string `json:"date" binding:"required"` // YYYY-MM-DD
		Note      string `json:"note"`
	} `json:"candidates" binding:"required"`
}

func (h *GinHandlers) ReconcileBatchHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req BatchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		verr := types.NewValidationError()
		candidates := make([]documents.Candidate, 0, len(req.Candidates))
		for i, rc := range req.Candidates {
			amount, err := decimal.NewFromString(rc.Amount)
			if err != nil {
				verr.Add(fmt.Sprintf("candidates[%d].amount", i), "must be a valid decimal")
				continue
			}
			date, err := time.Parse("2006-01-02", rc.Date)
			if err != nil {
				verr.Add(fmt.Sprintf("candidates[%d].date", i), "must be a valid date in YYYY-MM-DD format")
				continue
			}
			candidates = append(candidates, documents.Candidate{
				PayerHint: rc.PayerHint,
				Amount:    amount,
				Date:      date,
				Note:      rc.Note,
			})
		}
		if verr.HasViolations() {
			response.Handle(c, nil, verr)
			return
		}

		summary, err := h.service.MatchBatch(auth.ActorFromContext(c), req.FundID, candidates)
		h.respondRun(c, summary, err)
	}
}

func (h *GinHandlers) IngestStatementHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		fundID := c.Query("fund_id")
		if fundID == "" {
			response.BadRequest(c, "fund_id query parameter is required")
			return
		}

		file, header, err := c.Request.FormFile("statement")
		if err != nil {
			response.BadRequest(c, "statement file is required")
			return
		}
		defer file.Close()

		data, err := readAll(file)
		if err != nil {
			response.BadRequest(c, "failed to read statement file")
			return
		}

		summary, err := h.service.IngestStatement(auth.ActorFromContext(c), fundID, data, header.Filename)
		h.respondRun(c, summary, err)
	}
}

// respondRun treats an all-skipped batch as a reportable outcome rather than
// a failure.
func (h *GinHandlers) respondRun(c *gin.Context, summary *RunSummary, err error) {
	if errors.Is(err, auth.ErrPermissionDenied) {
		response.Forbidden(c, err.Error())
		return
	}
	if errors.Is(err, ErrNoNewPayments) {
		response.Success(c, summary)
		return
	}
	response.Handle(c, summary, err)
}

func (h *GinHandlers) RecordManualPaymentHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ManualPaymentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		payment, err := h.service.RecordManualPayment(auth.ActorFromContext(c), req)
		if errors.Is(err, auth.ErrPermissionDenied) {
			response.Forbidden(c, err.Error())
			return
		}
		response.Handle(c, payment, err)
	}
}

func (h *GinHandlers) UpdatePaymentHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req UpdatePaymentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		payment, err := h.service.UpdatePayment(auth.ActorFromContext(c), c.Param("payment_id"), req)
		if errors.Is(err, auth.ErrPermissionDenied) {
			response.Forbidden(c, err.Error())
			return
		}
		response.Handle(c, payment, err)
	}
}

func (h *GinHandlers) GetPaymentHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		payment, err := h.service.GetPayment(c.Param("payment_id"))
		response.Handle(c, payment, err)
	}
}

func (h *GinHandlers) ListPaymentsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		payments, err := h.service.ListPayments(
			c.Query("fund_id"),
			c.Query("quarter"),
			c.Query("status"),
		)
		response.Handle(c, payments, err)
	}
}

func (h *GinHandlers) GetRunHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		run, err := h.service.GetRun(c.Param("run_id"))
		response.Handle(c, run, err)
	}
}

func (h *GinHandlers) ListRunsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		runs, err := h.service.ListRuns(c.Query("fund_id"))
		response.Handle(c, runs, err)
	}
}

func (h *GinHandlers) DeleteRunHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		deleted, err := h.service.DeleteRun(auth.ActorFromContext(c), c.Param("run_id"))
		if errors.Is(err, auth.ErrPermissionDenied) {
			response.Forbidden(c, err.Error())
			return
		}
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.Success(c, gin.H{
			"message":          "reconciliation run deleted",
			"deleted_payments": deleted,
		})
	}
}
