package allotment_test

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

	"github.com/fundops/capcall-api/internal/allotment"
	"github.com/fundops/capcall-api/internal/auth"
	"github.com/fundops/capcall-api/internal/documents"
	"github.com/fundops/capcall-api/internal/drawdown"
	"github.com/fundops/capcall-api/internal/fund"
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
		&allotment.UnitAllotment{},
	))
	return db
}

func newTestService(t *testing.T, db *gorm.DB) *allotment.Service {
	t.Helper()
	dir := t.TempDir()
	return allotment.NewService(db, documents.NewLocalRenderer(dir), documents.NewLocalStorage(dir))
}

func operator() auth.Actor {
	return auth.Actor{ClientID: "test-client", Permissions: auth.AllPermissions}
}

type failingRenderer struct{}

func (failingRenderer) RenderNotice(documents.NoticePayload) (string, error) {
	return "", errors.New("render backend down")
}

func (failingRenderer) RenderAllotmentSheet(documents.SheetPayload) (string, error) {
	return "", errors.New("render backend down")
}

// seedPaidObligation creates a fund with one investor whose drawdown has been
// fully paid and awaits allotment.
func seedPaidObligation(t *testing.T, db *gorm.DB, callAmount string) (*fund.Fund, *drawdown.Drawdown) {
	t.Helper()
	f := &fund.Fund{
		FundID:        "FND_" + uuid.New().String(),
		SchemeName:    "Growth Fund I",
		NAV:           100,
		MgmtFeeRate:   decimal.NewFromFloat(0.01),
		StampDutyRate: decimal.NewFromFloat(0.00005),
	}
	require.NoError(t, db.Create(f).Error)

	call := decimal.RequireFromString(callAmount)
	investor := &fund.Investor{
		InvestorID:       "INV_" + uuid.New().String(),
		FundID:           f.FundID,
		Name:             "Acme Capital",
		CommitmentAmount: call.Mul(decimal.NewFromInt(10)),
		Status:           fund.InvestorActive,
	}
	require.NoError(t, db.Create(investor).Error)

	dd := &drawdown.Drawdown{
		DrawdownID:          "DD_" + uuid.New().String(),
		FundID:              f.FundID,
		InvestorID:          investor.InvestorID,
		Quarter:             "Q1'25",
		NoticeDate:          time.Date(2025, 4, 15, 0, 0, 0, 0, time.UTC),
		DueDate:             time.Date(2025, 4, 30, 0, 0, 0, 0, time.UTC),
		Percentage:          decimal.NewFromInt(10),
		CommittedAmount:     investor.CommitmentAmount,
		CallAmount:          call,
		AmountCalledUp:      call,
		RemainingCommitment: investor.CommitmentAmount.Sub(call),
		Status:              drawdown.StatusAllotmentPending,
	}
	require.NoError(t, db.Create(dd).Error)

	notice := &drawdown.Notice{
		NoticeID:       "NTC_" + uuid.New().String(),
		DrawdownID:     dd.DrawdownID,
		DocumentStatus: drawdown.DocumentRendered,
		Status:         dd.Status,
	}
	require.NoError(t, db.Create(notice).Error)
	return f, dd
}

func noticeStatus(t *testing.T, db *gorm.DB, drawdownID string) string {
	t.Helper()
	var notice drawdown.Notice
	require.NoError(t, db.Where("drawdown_id = ?", drawdownID).First(&notice).Error)
	return notice.Status
}

func TestGenerateAllotments_ComputesUnitsAndCharges(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(t, db)
	f, dd := seedPaidObligation(t, db, "1000050.00")

	result, err := svc.GenerateAllotments(operator(), f.FundID, false)
	require.NoError(t, err)

	assert.Equal(t, 1, result.AllotmentCount)
	assert.Equal(t, allotment.SheetRendered, result.SheetStatus)
	assert.NotEmpty(t, result.SheetURL)

	a := result.Allotments[0]
	assert.Equal(t, int64(10000), a.Units)
	assert.Equal(t, 100, a.NAV)
	assert.Equal(t, "Q1'25", a.Quarter)
	// 10,000,500 x 0.01 x 1.18
	assert.True(t, a.MgmtFees.Equal(decimal.RequireFromString("118005.90")), "got %s", a.MgmtFees)
	// 1,000,050 x 0.00005 -> 50.00
	assert.True(t, a.StampDuty.Equal(decimal.RequireFromString("50.00")), "got %s", a.StampDuty)

	var updated drawdown.Drawdown
	require.NoError(t, db.Where("drawdown_id = ?", dd.DrawdownID).First(&updated).Error)
	assert.Equal(t, drawdown.StatusAllotmentDone, updated.Status)
	assert.Equal(t, int64(10000), updated.AllottedUnits)
	assert.Equal(t, 100, updated.NAVUsed)
	require.NotNil(t, updated.AllotmentDate)

	// The notice tracks its obligation to the terminal status
	assert.Equal(t, drawdown.StatusAllotmentDone, noticeStatus(t, db, dd.DrawdownID))
}

func TestGenerateAllotments_NothingReady(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(t, db)
	f, dd := seedPaidObligation(t, db, "1000000.00")

	require.NoError(t, db.Model(&drawdown.Drawdown{}).
		Where("drawdown_id = ?", dd.DrawdownID).
		Update("status", drawdown.StatusPaymentPending).Error)

	_, err := svc.GenerateAllotments(operator(), f.FundID, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no paid obligations")
}

func TestGenerateAllotments_SecondRunWithoutForceConflicts(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(t, db)
	f, _ := seedPaidObligation(t, db, "1000000.00")

	_, err := svc.GenerateAllotments(operator(), f.FundID, false)
	require.NoError(t, err)

	_, err = svc.GenerateAllotments(operator(), f.FundID, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "use force")
}

func TestGenerateAllotments_ForceRecomputes(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(t, db)
	f, dd := seedPaidObligation(t, db, "1000000.00")

	first, err := svc.GenerateAllotments(operator(), f.FundID, false)
	require.NoError(t, err)

	// The fund's NAV changes; a forced run must recompute against it
	require.NoError(t, db.Model(&fund.Fund{}).
		Where("fund_id = ?", f.FundID).
		Update("nav", 200).Error)

	second, err := svc.GenerateAllotments(operator(), f.FundID, true)
	require.NoError(t, err)

	assert.Equal(t, 1, second.AllotmentCount)
	assert.Equal(t, int64(10000), first.Allotments[0].Units)
	assert.Equal(t, int64(5000), second.Allotments[0].Units)

	// Exactly one allotment record remains per obligation
	var count int64
	require.NoError(t, db.Model(&allotment.UnitAllotment{}).
		Where("drawdown_id = ?", dd.DrawdownID).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	assert.Equal(t, drawdown.StatusAllotmentDone, noticeStatus(t, db, dd.DrawdownID))
}

func TestResetForRecalculation_RewindsNotices(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(t, db)
	f, dd := seedPaidObligation(t, db, "1000000.00")

	_, err := svc.GenerateAllotments(operator(), f.FundID, false)
	require.NoError(t, err)
	require.Equal(t, drawdown.StatusAllotmentDone, noticeStatus(t, db, dd.DrawdownID))

	require.NoError(t, allotment.NewDatabase(db).ResetForRecalculation(f.FundID))

	var rewound drawdown.Drawdown
	require.NoError(t, db.Where("drawdown_id = ?", dd.DrawdownID).First(&rewound).Error)
	assert.Equal(t, drawdown.StatusAllotmentPending, rewound.Status)
	assert.Equal(t, drawdown.StatusAllotmentPending, noticeStatus(t, db, dd.DrawdownID))
}

func TestGenerateAllotments_SheetFailureParksObligation(t *testing.T) {
	db := newTestDB(t)
	dir := t.TempDir()
	broken := allotment.NewService(db, failingRenderer{}, documents.NewLocalStorage(dir))
	f, dd := seedPaidObligation(t, db, "1000000.00")

	result, err := broken.GenerateAllotments(operator(), f.FundID, false)
	require.NoError(t, err)
	assert.Equal(t, allotment.SheetPending, result.SheetStatus)
	assert.Empty(t, result.SheetURL)

	var parked drawdown.Drawdown
	require.NoError(t, db.Where("drawdown_id = ?", dd.DrawdownID).First(&parked).Error)
	assert.Equal(t, drawdown.StatusSheetGenerationPending, parked.Status)
	assert.Equal(t, drawdown.StatusSheetGenerationPending, noticeStatus(t, db, dd.DrawdownID))

	// A retry with a working renderer completes the lifecycle
	working := newTestService(t, db)
	retry, err := working.GenerateAllotments(operator(), f.FundID, false)
	require.NoError(t, err)
	assert.Equal(t, allotment.SheetRendered, retry.SheetStatus)
	assert.Equal(t, 1, retry.AllotmentCount)

	var done drawdown.Drawdown
	require.NoError(t, db.Where("drawdown_id = ?", dd.DrawdownID).First(&done).Error)
	assert.Equal(t, drawdown.StatusAllotmentDone, done.Status)
	assert.Equal(t, drawdown.StatusAllotmentDone, noticeStatus(t, db, dd.DrawdownID))
}

func TestGenerateAllotments_UnknownFund(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(t, db)

	_, err := svc.GenerateAllotments(operator(), "FND_missing", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestGenerateAllotments_PermissionDenied(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(t, db)
	f, _ := seedPaidObligation(t, db, "1000000.00")

	_, err := svc.GenerateAllotments(auth.Actor{ClientID: "reader"}, f.FundID, false)
	require.ErrorIs(t, err, auth.ErrPermissionDenied)
}
