package fund

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/fundops/capcall-api/internal/auth"
	"github.com/fundops/capcall-api/internal/types"
	"github.com/fundops/capcall-api/pkg/response"
)

// Service handles fund and investor records. This is glue around the store;
// the lifecycle engine reads funds and commitments through it.
type Service struct {
	db *Database
}

func NewService(gormDB *gorm.DB) *Service {
	return &Service{
		db: NewDatabase(gormDB),
	}
}

// CreateFundRequest carries the fund parameters. Rates default to the usual
// scheme values when omitted.
type CreateFundRequest struct {
	SchemeName      string  `json:"scheme_name" binding:"required"`
	NAV             int     `json:"nav"`
	MgmtFeeRate     *string `json:"mgmt_fee_rate"`
	StampDutyRate   *string `json:"stamp_duty_rate"`
	BankName        string  `json:"bank_name"`
	BankAccountNo   string  `json:"bank_account_no"`
	BankAccountName string  `json:"bank_account_name"`
	BankIFSC        string  `json:"bank_ifsc"`
	BankContact     string  `json:"bank_contact"`
}

func (s *Service) CreateFund(actor auth.Actor, req CreateFundRequest) (*Fund, error) {
	if err := actor.Require(auth.PermManageFunds); err != nil {
		return nil, err
	}

	verr := types.NewValidationError()
	if req.SchemeName == "" {
		verr.Add("scheme_name", "scheme name is required")
	}
	if req.NAV < 0 {
		verr.Add("nav", "NAV cannot be negative")
	}

	mgmtFeeRate := decimal.NewFromFloat(0.01)
	if req.MgmtFeeRate != nil {
		rate, err := decimal.NewFromString(*req.MgmtFeeRate)
		if err != nil {
			verr.Add("mgmt_fee_rate", "must be a valid decimal")
		} else {
			mgmtFeeRate = rate
		}
	}

	stampDutyRate := decimal.NewFromFloat(0.00005)
	if req.StampDutyRate != nil {
		rate, err := decimal.NewFromString(*req.StampDutyRate)
		if err != nil {
			verr.Add("stamp_duty_rate", "must be a valid decimal")
		} else {
			stampDutyRate = rate
		}
	}

	if verr.HasViolations() {
		return nil, verr
	}

	nav := req.NAV
	if nav == 0 {
		nav = 100
	}

	fund := &Fund{
		FundID:          "FND_" + uuid.New().String(),
		SchemeName:      req.SchemeName,
		NAV:             nav,
		MgmtFeeRate:     mgmtFeeRate,
		StampDutyRate:   stampDutyRate,
		BankName:        req.BankName,
		BankAccountNo:   req.BankAccountNo,
		BankAccountName: req.BankAccountName,
		BankIFSC:        req.BankIFSC,
		BankContact:     req.BankContact,
		CreatedAt:       time.Now(),
		UpdatedAt:       time.Now(),
	}

	if err := s.db.CreateFund(fund); err != nil {
		return nil, err
	}

	log.Info().
		Str("fund_id", fund.FundID).
		Str("scheme_name", fund.SchemeName).
		Msg("created fund")

	return fund, nil
}

func (s *Service) GetFund(fundID string) (*Fund, error) {
	fund, err := s.db.GetFund(fundID)
	if err != nil {
		return nil, err
	}
	if fund == nil {
		return nil, &types.NotFoundError{Resource: "fund", ID: fundID}
	}
	return fund, nil
}

func (s *Service) ListFunds() ([]Fund, error) {
	return s.db.ListFunds()
}

// CreateInvestorRequest registers one commitment against a fund.
type CreateInvestorRequest struct {
	FundID           string `json:"fund_id" binding:"required"`
	Name             string `json:"name" binding:"required"`
	Email            string `json:"email"`
	CommitmentAmount string `json:"commitment_amount" binding:"required"`
}

func (s *Service) CreateInvestor(actor auth.Actor, req CreateInvestorRequest) (*Investor, error) {
	if err := actor.Require(auth.PermManageFunds); err != nil {
		return nil, err
	}

	verr := types.NewValidationError()
	commitment, err := decimal.NewFromString(req.CommitmentAmount)
	if err != nil {
		verr.Add("commitment_amount", "must be a valid decimal")
	} else if commitment.IsNegative() || commitment.IsZero() {
		verr.Add("commitment_amount", "must be greater than zero")
	}
	if req.Name == "" {
		verr.Add("name", "investor name is required")
	}
	if verr.HasViolations() {
		return nil, verr
	}

	fund, err := s.db.GetFund(req.FundID)
	if err != nil {
		return nil, err
	}
	if fund == nil {
		return nil, &types.NotFoundError{Resource: "fund", ID: req.FundID}
	}

	investor := &Investor{
		InvestorID:       "INV_" + uuid.New().String(),
		FundID:           req.FundID,
		Name:             req.Name,
		Email:            req.Email,
		CommitmentAmount: commitment,
		Status:           InvestorActive,
		CreatedAt:        time.Now(),
		UpdatedAt:        time.Now(),
	}

	if err := s.db.CreateInvestor(investor); err != nil {
		return nil, err
	}

	log.Info().
		Str("investor_id", investor.InvestorID).
		Str("fund_id", investor.FundID).
		Str("commitment", commitment.StringFixed(2)).
		Msg("registered investor commitment")

	return investor, nil
}

func (s *Service) ListInvestors(fundID string) ([]Investor, error) {
	return s.db.ListInvestors(fundID)
}

// AmendCommitment changes an investor's committed amount. Refused once
// obligations have been issued against the commitment.
func (s *Service) AmendCommitment(actor auth.Actor, investorID string, newAmount decimal.Decimal) (*Investor, error) {
	if err := actor.Require(auth.PermManageFunds); err != nil {
		return nil, err
	}

	if newAmount.IsNegative() || newAmount.IsZero() {
		verr := types.NewValidationError()
		verr.Add("commitment_amount", "must be greater than zero")
		return nil, verr
	}

	investor, err := s.db.GetInvestor(investorID)
	if err != nil {
		return nil, err
	}
	if investor == nil {
		return nil, &types.NotFoundError{Resource: "investor", ID: investorID}
	}

	hasDrawdowns, err := s.db.HasDrawdowns(investorID)
	if err != nil {
		return nil, err
	}
	if hasDrawdowns {
		return nil, &types.ConflictError{Detail: "commitment cannot be amended after drawdowns have been issued"}
	}

	investor.CommitmentAmount = newAmount
	investor.UpdatedAt = time.Now()
	if err := s.db.UpdateInvestor(investor); err != nil {
		return nil, err
	}
	return investor, nil
}

// GetDB exposes the database layer to sibling services.
func (s *Service) GetDB() *Database {
	return s.db
}

// GinHandlers contains HTTP handlers for fund and investor endpoints.
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

func (h *GinHandlers) CreateFundHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateFundRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		fund, err := h.service.CreateFund(auth.ActorFromContext(c), req)
		if errors.Is(err, auth.ErrPermissionDenied) {
			response.Forbidden(c, err.Error())
			return
		}
		response.Handle(c, fund, err)
	}
}

func (h *GinHandlers) GetFundHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		fund, err := h.service.GetFund(c.Param("fund_id"))
		response.Handle(c, fund, err)
	}
}

func (h *GinHandlers) ListFundsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		funds, err := h.service.ListFunds()
		response.Handle(c, funds, err)
	}
}

func (h *GinHandlers) CreateInvestorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateInvestorRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		investor, err := h.service.CreateInvestor(auth.ActorFromContext(c), req)
		if errors.Is(err, auth.ErrPermissionDenied) {
			response.Forbidden(c, err.Error())
			return
		}
		response.Handle(c, investor, err)
	}
}

func (h *GinHandlers) ListInvestorsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		investors, err := h.service.ListInvestors(c.Param("fund_id"))
		response.Handle(c, investors, err)
	}
}

func (h *GinHandlers) AmendCommitmentHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			CommitmentAmount string `json:"commitment_amount" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		amount, err := decimal.NewFromString(req.CommitmentAmount)
		if err != nil {
			response.BadRequest(c, "commitment_amount must be a valid decimal")
			return
		}

		investor, err := h.service.AmendCommitment(auth.ActorFromContext(c), c.Param("investor_id"), amount)
		if errors.Is(err, auth.ErrPermissionDenied) {
			response.Forbidden(c, err.Error())
			return
		}
		response.Handle(c, investor, err)
	}
}
