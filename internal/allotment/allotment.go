package allotment

import (
	"errors"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/fundops/capcall-api/internal/auth"
	"github.com/fundops/capcall-api/internal/documents"
	"github.com/fundops/capcall-api/internal/drawdown"
	"github.com/fundops/capcall-api/internal/fund"
	"github.com/fundops/capcall-api/internal/types"
	"github.com/fundops/capcall-api/pkg/response"
)

// Sheet outcomes reported in a generation summary.
const (
	SheetRendered = "Rendered"
	SheetPending  = "Pending"
)

// Service computes unit allotments for paid obligations and renders the
// fund's allotment sheet.
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

// AllotmentSkip is one obligation the batch could not compute, with the
// reason it was passed over.
type AllotmentSkip struct {
	DrawdownID string `json:"drawdown_id"`
	InvestorID string `json:"investor_id"`
	Reason     string `json:"reason"`
}

// GenerateResult summarizes one allotment generation pass.
type GenerateResult struct {
	FundID         string          `json:"fund_id"`
	AllotmentCount int             `json:"allotment_count"`
	SheetStatus    string          `json:"sheet_status"`
	SheetURL       string          `json:"sheet_url,omitempty"`
	Allotments     []UnitAllotment `json:"allotments"`
	Skips          []AllotmentSkip `json:"skips,omitempty"`
}

// GenerateAllotments computes allotments for every obligation of the fund
// that is ready: paid obligations awaiting computation, and computed ones
// whose sheet render previously failed. With force set, prior allotments are
// deleted and completed obligations are rewound and recomputed.
//
// A calculation failure skips that obligation only. The sheet render happens
// after the financial records commit; its failure parks the affected
// obligations in the sheet-pending state for a later retry.
func (s *Service) GenerateAllotments(actor auth.Actor, fundID string, force bool) (*GenerateResult, error) {
	if err := actor.Require(auth.PermAllot); err != nil {
		return nil, err
	}

	logger := log.With().
		Str("fund_id", fundID).
		Str("service", "allotment").
		Logger()

	f, err := s.db.GetFund(fundID)
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, &types.NotFoundError{Resource: "fund", ID: fundID}
	}

	if force {
		logger.Info().Msg("forced recomputation: resetting prior allotments")
		if err := s.db.ResetForRecalculation(fundID); err != nil {
			return nil, err
		}
	}

	ready, err := s.db.GetReadyDrawdowns(fundID)
	if err != nil {
		return nil, err
	}
	if len(ready) == 0 {
		hasAllotments, err := s.db.HasAllotments(fundID)
		if err != nil {
			return nil, err
		}
		if hasAllotments {
			return nil, &types.ConflictError{Detail: "allotments already generated for every paid obligation; use force to recompute"}
		}
		return nil, &types.ConflictError{Detail: "no paid obligations are ready for allotment"}
	}

	result := &GenerateResult{FundID: fundID}

	var (
		newAllotments []*UnitAllotment
		processed     []*drawdown.Drawdown
		rows          []documents.SheetRow
		sheetQuarter  string
	)

	for i := range ready {
		dd := &ready[i]

		investor, err := s.db.GetInvestor(dd.InvestorID)
		if err != nil {
			return nil, err
		}
		if investor == nil {
			result.Skips = append(result.Skips, AllotmentSkip{
				DrawdownID: dd.DrawdownID,
				InvestorID: dd.InvestorID,
				Reason:     "investor record not found",
			})
			continue
		}

		// An obligation parked on a failed sheet render is already computed;
		// it only needs its row on the new sheet.
		if dd.Status == drawdown.StatusSheetGenerationPending {
			existing, err := s.db.GetAllotmentByDrawdownID(dd.DrawdownID)
			if err != nil {
				return nil, err
			}
			if existing == nil {
				result.Skips = append(result.Skips, AllotmentSkip{
					DrawdownID: dd.DrawdownID,
					InvestorID: dd.InvestorID,
					Reason:     "sheet retry has no allotment record",
				})
				continue
			}
			rows = append(rows, documents.SheetRow{
				InvestorName:  investor.Name,
				CallAmount:    dd.CallAmount,
				NAV:           existing.NAV,
				AllottedUnits: existing.Units,
				MgmtFees:      existing.MgmtFees,
				StampDuty:     existing.StampDuty,
			})
			sheetQuarter = dd.Quarter
			processed = append(processed, dd)
			result.Allotments = append(result.Allotments, *existing)
			continue
		}

		out, err := Calculate(Inputs{
			CallAmount:       dd.CallAmount,
			CommitmentAmount: dd.CommittedAmount,
			NAV:              f.NAV,
			MgmtFeeRate:      f.MgmtFeeRate,
			StampDutyRate:    f.StampDutyRate,
			CallDate:         dd.NoticeDate,
		})
		if err != nil {
			logger.Warn().Err(err).
				Str("drawdown_id", dd.DrawdownID).
				Msg("allotment calculation failed, skipping obligation")
			result.Skips = append(result.Skips, AllotmentSkip{
				DrawdownID: dd.DrawdownID,
				InvestorID: dd.InvestorID,
				Reason:     err.Error(),
			})
			continue
		}

		now := time.Now()
		a := &UnitAllotment{
			AllotmentID:   "ALT_" + uuid.New().String(),
			DrawdownID:    dd.DrawdownID,
			FundID:        fundID,
			InvestorID:    dd.InvestorID,
			Quarter:       out.Quarter,
			Units:         out.Units,
			NAV:           f.NAV,
			MgmtFees:      out.MgmtFees,
			StampDuty:     out.StampDuty,
			AllotmentDate: now,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		newAllotments = append(newAllotments, a)

		dd.AllottedUnits = out.Units
		dd.NAVUsed = f.NAV
		dd.MgmtFees = out.MgmtFees
		dd.StampDuty = out.StampDuty
		dd.AllotmentDate = &now
		dd.UpdatedAt = now

		rows = append(rows, documents.SheetRow{
			InvestorName:  investor.Name,
			CallAmount:    dd.CallAmount,
			NAV:           f.NAV,
			AllottedUnits: out.Units,
			MgmtFees:      out.MgmtFees,
			StampDuty:     out.StampDuty,
		})
		sheetQuarter = dd.Quarter
		processed = append(processed, dd)
		result.Allotments = append(result.Allotments, *a)
	}

	if len(processed) == 0 {
		return nil, &types.ConflictError{Detail: "every ready obligation was skipped; nothing to allot"}
	}

	if err := s.db.CommitAllotments(newAllotments, processed); err != nil {
		logger.Error().Err(err).Msg("failed to persist allotment batch")
		return nil, err
	}

	sheetURL, renderErr := s.renderSheet(f, sheetQuarter, rows)
	if renderErr != nil {
		logger.Error().Err(renderErr).Msg("allotment sheet generation failed")
		result.SheetStatus = SheetPending
		s.finalize(processed, drawdown.StatusSheetGenerationPending, "")
	} else {
		result.SheetStatus = SheetRendered
		result.SheetURL = sheetURL
		s.finalize(processed, drawdown.StatusAllotmentDone, sheetURL)
	}

	result.AllotmentCount = len(result.Allotments)

	logger.Info().
		Int("allotments", result.AllotmentCount).
		Int("skipped", len(result.Skips)).
		Str("sheet_status", result.SheetStatus).
		Msg("allotment generation completed")

	return result, nil
}

// finalize advances processed obligations to the post-render status, mirrors
// it onto their notices, and tags allotment records with the sheet URL.
// Status updates that would be illegal transitions are left alone.
func (s *Service) finalize(processed []*drawdown.Drawdown, target, sheetURL string) {
	for _, dd := range processed {
		if err := drawdown.Transition(dd.Status, target); err != nil {
			continue
		}
		dd.Status = target
		dd.UpdatedAt = time.Now()
		if err := s.db.UpdateDrawdown(dd); err != nil {
			log.Error().Err(err).Str("drawdown_id", dd.DrawdownID).Msg("failed to finalize obligation status")
			continue
		}

		notice, err := s.db.GetNoticeByDrawdownID(dd.DrawdownID)
		if err != nil {
			log.Error().Err(err).Str("drawdown_id", dd.DrawdownID).Msg("failed to load notice for status mirror")
		} else if notice != nil && notice.Status != target {
			notice.Status = target
			notice.UpdatedAt = time.Now()
			if err := s.db.UpdateNotice(notice); err != nil {
				log.Error().Err(err).Str("notice_id", notice.NoticeID).Msg("failed to mirror status onto notice")
			}
		}

		if sheetURL != "" {
			a, err := s.db.GetAllotmentByDrawdownID(dd.DrawdownID)
			if err != nil || a == nil {
				continue
			}
			a.SheetURL = sheetURL
			a.UpdatedAt = time.Now()
			if err := s.db.UpdateAllotment(a); err != nil {
				log.Error().Err(err).Str("allotment_id", a.AllotmentID).Msg("failed to record sheet URL")
			}
		}
	}
}

func (s *Service) renderSheet(f *fund.Fund, quarterLabel string, rows []documents.SheetRow) (string, error) {
	path, err := s.renderer.RenderAllotmentSheet(documents.SheetPayload{
		FundName: f.SchemeName,
		Quarter:  quarterLabel,
		Rows:     rows,
	})
	if err != nil {
		return "", err
	}

	key := fmt.Sprintf("%s/%s/allotments/sheet.csv", f.FundID, quarterLabel)
	url, err := s.storage.Put(path, key, map[string]string{
		"document_type": "allotment_sheet",
		"quarter":       quarterLabel,
	})
	if err != nil {
		log.Warn().Err(err).Str("fund_id", f.FundID).Msg("sheet storage failed, keeping local path")
		return path, nil
	}
	return url, nil
}

// ListAllotments filters by fund and quarter.
func (s *Service) ListAllotments(fundID, quarterLabel string) ([]UnitAllotment, error) {
	return s.db.ListAllotments(fundID, quarterLabel)
}

// GetDB exposes the database layer to sibling services.
func (s *Service) GetDB() *Database {
	return s.db
}

// GinHandlers contains HTTP handlers for allotment endpoints.
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// GenerateRequest triggers allotment generation for a fund.
type GenerateRequest struct {
	FundID string `json:"fund_id" binding:"required"`
	Force  bool   `json:"force"`
}

func (h *GinHandlers) GenerateAllotmentsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req GenerateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		result, err := h.service.GenerateAllotments(auth.ActorFromContext(c), req.FundID, req.Force)
		if errors.Is(err, auth.ErrPermissionDenied) {
			response.Forbidden(c, err.Error())
			return
		}
		response.Handle(c, result, err)
	}
}

func (h *GinHandlers) ListAllotmentsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		allotments, err := h.service.ListAllotments(
			c.Query("fund_id"),
			c.Query("quarter"),
		)
		response.Handle(c, allotments, err)
	}
}
