package drawdown_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/fundops/capcall-api/internal/auth"
	"github.com/fundops/capcall-api/internal/documents"
	"github.com/fundops/capcall-api/internal/drawdown"
	"github.com/fundops/capcall-api/internal/fund"
	"github.com/fundops/capcall-api/internal/reconciliation"
	"github.com/fundops/capcall-api/internal/types"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.New().String())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&fund.Fund{},
		&fund.Investor{},
		&drawdown.Drawdown{},
		&drawdown.Notice{},
		&reconciliation.Payment{},
	))
	return db
}

func newTestService(t *testing.T, db *gorm.DB) *drawdown.Service {
	t.Helper()
	dir := t.TempDir()
	return drawdown.NewService(db, documents.NewLocalRenderer(dir), documents.NewLocalStorage(dir))
}

func seedFund(t *testing.T, db *gorm.DB, commitments ...string) (*fund.Fund, []fund.Investor) {
	t.Helper()
	f := &fund.Fund{
		FundID:        "FND_" + uuid.New().String(),
		SchemeName:    "Growth Fund I",
		NAV:           100,
		MgmtFeeRate:   decimal.NewFromFloat(0.01),
		StampDutyRate: decimal.NewFromFloat(0.00005),
		BankName:      "Test Bank",
	}
	require.NoError(t, db.Create(f).Error)

	var investors []fund.Investor
	for i, c := range commitments {
		investor := fund.Investor{
			InvestorID:       "INV_" + uuid.New().String(),
			FundID:           f.FundID,
			Name:             fmt.Sprintf("Investor %d", i+1),
			CommitmentAmount: decimal.RequireFromString(c),
			Status:           fund.InvestorActive,
		}
		require.NoError(t, db.Create(&investor).Error)
		investors = append(investors, investor)
	}
	return f, investors
}

func operator() auth.Actor {
	return auth.Actor{ClientID: "test-client", Permissions: auth.AllPermissions}
}

func issueRequest(fundID string) drawdown.IssueRequest {
	return drawdown.IssueRequest{
		FundID:             fundID,
		Percentage:         "10",
		NoticeDate:         "2025-04-15",
		DueDate:            "2025-04-30",
		ForecastPercentage: "15",
	}
}

type failingRenderer struct{}

func (failingRenderer) RenderNotice(documents.NoticePayload) (string, error) {
	return "", errors.New("render backend down")
}

func (failingRenderer) RenderAllotmentSheet(documents.SheetPayload) (string, error) {
	return "", errors.New("render backend down")
}

func TestIssueDrawdowns_ApportionsPerCommitment(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(t, db)
	f, _ := seedFund(t, db, "1000000.00", "500000.00")

	result, err := svc.IssueDrawdowns(operator(), issueRequest(f.FundID))
	require.NoError(t, err)

	assert.Equal(t, "Q1'25", result.Quarter)
	assert.Equal(t, "Q2'25", result.ForecastQuarter)
	assert.Equal(t, 2, result.DrawdownCount)
	assert.True(t, result.TotalCallAmount.Equal(decimal.RequireFromString("150000")))

	// Investors come back ordered by name
	first := result.Investors[0]
	assert.True(t, first.CallAmount.Equal(decimal.RequireFromString("100000")))
	assert.True(t, first.AmountCalledUp.Equal(decimal.RequireFromString("100000")))
	assert.True(t, first.RemainingCommitment.Equal(decimal.RequireFromString("900000")))
	assert.Equal(t, drawdown.DocumentRendered, first.DocumentStatus)
	assert.NotEmpty(t, first.DocumentURL)

	second := result.Investors[1]
	assert.True(t, second.CallAmount.Equal(decimal.RequireFromString("50000")))
	assert.True(t, second.RemainingCommitment.Equal(decimal.RequireFromString("450000")))

	dd, err := svc.GetDrawdown(first.DrawdownID)
	require.NoError(t, err)
	assert.Equal(t, drawdown.StatusPaymentPending, dd.Status)
	assert.False(t, dd.Cancelled)
}

func TestIssueDrawdowns_CalledUpAccumulatesAcrossQuarters(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(t, db)
	f, _ := seedFund(t, db, "1000000.00")

	_, err := svc.IssueDrawdowns(operator(), issueRequest(f.FundID))
	require.NoError(t, err)

	next := issueRequest(f.FundID)
	next.NoticeDate = "2025-07-15"
	next.DueDate = "2025-07-31"
	result, err := svc.IssueDrawdowns(operator(), next)
	require.NoError(t, err)

	assert.Equal(t, "Q2'25", result.Quarter)
	line := result.Investors[0]
	assert.True(t, line.AmountCalledUp.Equal(decimal.RequireFromString("200000")))
	assert.True(t, line.RemainingCommitment.Equal(decimal.RequireFromString("800000")))
}

func TestIssueDrawdowns_DuplicateQuarterRejected(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(t, db)
	f, _ := seedFund(t, db, "1000000.00")

	_, err := svc.IssueDrawdowns(operator(), issueRequest(f.FundID))
	require.NoError(t, err)

	_, err = svc.IssueDrawdowns(operator(), issueRequest(f.FundID))
	var dupErr *types.DuplicateError
	require.ErrorAs(t, err, &dupErr)
}

func TestIssueDrawdowns_ValidationCollectsAllViolations(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(t, db)
	f, _ := seedFund(t, db, "1000000.00")

	_, err := svc.IssueDrawdowns(operator(), drawdown.IssueRequest{
		FundID:             f.FundID,
		Percentage:         "150",
		NoticeDate:         "not-a-date",
		DueDate:            "2025-04-30",
		ForecastPercentage: "abc",
	})

	var verr *types.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Violations, "percentage")
	assert.Contains(t, verr.Violations, "notice_date")
	assert.Contains(t, verr.Violations, "forecast_percentage")
}

func TestIssueDrawdowns_DueDateBeforeNoticeDateRejected(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(t, db)
	f, _ := seedFund(t, db, "1000000.00")

	req := issueRequest(f.FundID)
	req.DueDate = "2025-04-01"
	_, err := svc.IssueDrawdowns(operator(), req)

	var verr *types.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Violations, "due_date")
}

func TestIssueDrawdowns_NoActiveInvestors(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(t, db)
	f, investors := seedFund(t, db, "1000000.00")

	require.NoError(t, db.Model(&fund.Investor{}).
		Where("investor_id = ?", investors[0].InvestorID).
		Update("status", fund.InvestorInactive).Error)

	_, err := svc.IssueDrawdowns(operator(), issueRequest(f.FundID))
	var nfErr *types.NotFoundError
	require.ErrorAs(t, err, &nfErr)
}

func TestIssueDrawdowns_UnknownFund(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(t, db)

	_, err := svc.IssueDrawdowns(operator(), issueRequest("FND_missing"))
	var nfErr *types.NotFoundError
	require.ErrorAs(t, err, &nfErr)
}

func TestIssueDrawdowns_OverCommitmentAbortsBatch(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(t, db)
	f, _ := seedFund(t, db, "1000000.00")

	first := issueRequest(f.FundID)
	first.Percentage = "60"
	_, err := svc.IssueDrawdowns(operator(), first)
	require.NoError(t, err)

	second := issueRequest(f.FundID)
	second.Percentage = "60"
	second.NoticeDate = "2025-07-15"
	second.DueDate = "2025-07-31"
	_, err = svc.IssueDrawdowns(operator(), second)

	var verr *types.ValidationError
	require.ErrorAs(t, err, &verr)

	// The failed batch must not leave partial records behind
	var count int64
	require.NoError(t, db.Model(&drawdown.Drawdown{}).Where("quarter = ?", "Q2'25").Count(&count).Error)
	assert.Zero(t, count)
}

func TestIssueDrawdowns_CancelledDrawdownExcludedFromPriorCalls(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(t, db)
	f, _ := seedFund(t, db, "1000000.00")

	result, err := svc.IssueDrawdowns(operator(), issueRequest(f.FundID))
	require.NoError(t, err)

	_, err = svc.CancelDrawdown(operator(), result.Investors[0].DrawdownID)
	require.NoError(t, err)

	next := issueRequest(f.FundID)
	next.NoticeDate = "2025-07-15"
	next.DueDate = "2025-07-31"
	second, err := svc.IssueDrawdowns(operator(), next)
	require.NoError(t, err)

	// The cancelled Q1 call no longer counts toward called-up
	line := second.Investors[0]
	assert.True(t, line.AmountCalledUp.Equal(decimal.RequireFromString("100000")))
}

func TestIssueDrawdowns_RenderFailureReportedNotRolledBack(t *testing.T) {
	db := newTestDB(t)
	dir := t.TempDir()
	svc := drawdown.NewService(db, failingRenderer{}, documents.NewLocalStorage(dir))
	f, _ := seedFund(t, db, "1000000.00")

	result, err := svc.IssueDrawdowns(operator(), issueRequest(f.FundID))
	require.NoError(t, err)

	assert.Len(t, result.RenderFailures, 1)
	assert.Equal(t, drawdown.DocumentRenderFailed, result.Investors[0].DocumentStatus)

	// The financial records survive the document failure
	dd, err := svc.GetDrawdown(result.Investors[0].DrawdownID)
	require.NoError(t, err)
	assert.Equal(t, drawdown.StatusPaymentPending, dd.Status)
}

func TestIssueDrawdowns_PermissionDenied(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(t, db)
	f, _ := seedFund(t, db, "1000000.00")

	_, err := svc.IssueDrawdowns(auth.Actor{ClientID: "reader"}, issueRequest(f.FundID))
	require.ErrorIs(t, err, auth.ErrPermissionDenied)
}

func TestPreviewDrawdowns_PersistsNothing(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(t, db)
	f, _ := seedFund(t, db, "1000000.00")

	result, err := svc.PreviewDrawdowns(operator(), issueRequest(f.FundID))
	require.NoError(t, err)
	assert.Equal(t, 1, result.DrawdownCount)

	var count int64
	require.NoError(t, db.Model(&drawdown.Drawdown{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestCancelDrawdown_OnlyFromPaymentPending(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(t, db)
	f, _ := seedFund(t, db, "1000000.00")

	result, err := svc.IssueDrawdowns(operator(), issueRequest(f.FundID))
	require.NoError(t, err)
	ddID := result.Investors[0].DrawdownID

	require.NoError(t, db.Model(&drawdown.Drawdown{}).
		Where("drawdown_id = ?", ddID).
		Update("status", drawdown.StatusAllotmentPending).Error)

	_, err = svc.CancelDrawdown(operator(), ddID)
	var conflict *types.ConflictError
	require.ErrorAs(t, err, &conflict)
}

func TestDeleteDrawdown_CascadesToNoticeAndPayments(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(t, db)
	f, investors := seedFund(t, db, "1000000.00")

	result, err := svc.IssueDrawdowns(operator(), issueRequest(f.FundID))
	require.NoError(t, err)
	ddID := result.Investors[0].DrawdownID

	payment := &reconciliation.Payment{
		PaymentID:   "PAY_" + uuid.New().String(),
		DrawdownID:  ddID,
		InvestorID:  investors[0].InvestorID,
		Quarter:     "Q1'25",
		PaymentDate: time.Date(2025, 4, 20, 0, 0, 0, 0, time.UTC),
		PaidAmount:  decimal.RequireFromString("100000"),
		AmountDue:   decimal.RequireFromString("100000"),
		Status:      reconciliation.PaymentPaid,
	}
	require.NoError(t, db.Create(payment).Error)

	deleted, err := svc.DeleteDrawdown(operator(), ddID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, err = svc.GetDrawdown(ddID)
	var nfErr *types.NotFoundError
	require.ErrorAs(t, err, &nfErr)
}

func TestDeleteDrawdown_CountsOnlyLivePayments(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(t, db)
	f, investors := seedFund(t, db, "1000000.00")

	result, err := svc.IssueDrawdowns(operator(), issueRequest(f.FundID))
	require.NoError(t, err)
	ddID := result.Investors[0].DrawdownID

	makePayment := func(amount string) *reconciliation.Payment {
		p := &reconciliation.Payment{
			PaymentID:   "PAY_" + uuid.New().String(),
			DrawdownID:  ddID,
			InvestorID:  investors[0].InvestorID,
			Quarter:     "Q1'25",
			PaymentDate: time.Date(2025, 4, 20, 0, 0, 0, 0, time.UTC),
			PaidAmount:  decimal.RequireFromString(amount),
			AmountDue:   decimal.RequireFromString("100000"),
			Status:      reconciliation.PaymentShortfall,
		}
		require.NoError(t, db.Create(p).Error)
		return p
	}
	live := makePayment("60000")
	stale := makePayment("40000")
	require.NoError(t, db.Delete(stale).Error)

	deleted, err := svc.DeleteDrawdown(operator(), ddID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	var count int64
	require.NoError(t, db.Unscoped().Model(&reconciliation.Payment{}).
		Where("payment_id = ? AND deleted_at IS NOT NULL", live.PaymentID).
		Count(&count).Error)
	assert.Equal(t, int64(1), count)
}
