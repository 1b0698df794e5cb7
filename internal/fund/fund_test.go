package fund_test

import (
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
	"github.com/fundops/capcall-api/internal/drawdown"
	"github.com/fundops/capcall-api/internal/fund"
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
	))
	return db
}

func operator() auth.Actor {
	return auth.Actor{ClientID: "test-client", Permissions: auth.AllPermissions}
}

func TestCreateFund_AppliesDefaults(t *testing.T) {
	svc := fund.NewService(newTestDB(t))

	f, err := svc.CreateFund(operator(), fund.CreateFundRequest{
		SchemeName: "Growth Fund I",
	})
	require.NoError(t, err)

	assert.Equal(t, 100, f.NAV)
	assert.True(t, f.MgmtFeeRate.Equal(decimal.NewFromFloat(0.01)))
	assert.True(t, f.StampDutyRate.Equal(decimal.NewFromFloat(0.00005)))
	assert.NotEmpty(t, f.FundID)
}

func TestCreateFund_RejectsBadRates(t *testing.T) {
	svc := fund.NewService(newTestDB(t))

	bad := "not-a-rate"
	_, err := svc.CreateFund(operator(), fund.CreateFundRequest{
		SchemeName:  "Growth Fund I",
		MgmtFeeRate: &bad,
	})

	var verr *types.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Violations, "mgmt_fee_rate")
}

func TestCreateInvestor_RequiresPositiveCommitment(t *testing.T) {
	db := newTestDB(t)
	svc := fund.NewService(db)

	f, err := svc.CreateFund(operator(), fund.CreateFundRequest{SchemeName: "Growth Fund I"})
	require.NoError(t, err)

	_, err = svc.CreateInvestor(operator(), fund.CreateInvestorRequest{
		FundID:           f.FundID,
		Name:             "Acme Capital",
		CommitmentAmount: "0",
	})
	var verr *types.ValidationError
	require.ErrorAs(t, err, &verr)

	investor, err := svc.CreateInvestor(operator(), fund.CreateInvestorRequest{
		FundID:           f.FundID,
		Name:             "Acme Capital",
		CommitmentAmount: "1000000.00",
	})
	require.NoError(t, err)
	assert.Equal(t, fund.InvestorActive, investor.Status)
}

func TestCreateInvestor_UnknownFund(t *testing.T) {
	svc := fund.NewService(newTestDB(t))

	_, err := svc.CreateInvestor(operator(), fund.CreateInvestorRequest{
		FundID:           "FND_missing",
		Name:             "Acme Capital",
		CommitmentAmount: "1000000.00",
	})
	var nfErr *types.NotFoundError
	require.ErrorAs(t, err, &nfErr)
}

func TestAmendCommitment_BlockedAfterIssuance(t *testing.T) {
	db := newTestDB(t)
	svc := fund.NewService(db)

	f, err := svc.CreateFund(operator(), fund.CreateFundRequest{SchemeName: "Growth Fund I"})
	require.NoError(t, err)

	investor, err := svc.CreateInvestor(operator(), fund.CreateInvestorRequest{
		FundID:           f.FundID,
		Name:             "Acme Capital",
		CommitmentAmount: "1000000.00",
	})
	require.NoError(t, err)

	// Amendment works while no obligations exist
	amended, err := svc.AmendCommitment(operator(), investor.InvestorID, decimal.RequireFromString("2000000.00"))
	require.NoError(t, err)
	assert.True(t, amended.CommitmentAmount.Equal(decimal.RequireFromString("2000000.00")))

	dd := &drawdown.Drawdown{
		DrawdownID:      "DD_" + uuid.New().String(),
		FundID:          f.FundID,
		InvestorID:      investor.InvestorID,
		Quarter:         "Q1'25",
		NoticeDate:      time.Date(2025, 4, 15, 0, 0, 0, 0, time.UTC),
		DueDate:         time.Date(2025, 4, 30, 0, 0, 0, 0, time.UTC),
		CallAmount:      decimal.RequireFromString("200000.00"),
		CommittedAmount: amended.CommitmentAmount,
		Status:          drawdown.StatusPaymentPending,
	}
	require.NoError(t, db.Create(dd).Error)

	_, err = svc.AmendCommitment(operator(), investor.InvestorID, decimal.RequireFromString("3000000.00"))
	var conflict *types.ConflictError
	require.ErrorAs(t, err, &conflict)
}

func TestAmendCommitment_AllowedAfterCancellation(t *testing.T) {
	db := newTestDB(t)
	svc := fund.NewService(db)

	f, err := svc.CreateFund(operator(), fund.CreateFundRequest{SchemeName: "Growth Fund I"})
	require.NoError(t, err)

	investor, err := svc.CreateInvestor(operator(), fund.CreateInvestorRequest{
		FundID:           f.FundID,
		Name:             "Acme Capital",
		CommitmentAmount: "1000000.00",
	})
	require.NoError(t, err)

	dd := &drawdown.Drawdown{
		DrawdownID: "DD_" + uuid.New().String(),
		FundID:     f.FundID,
		InvestorID: investor.InvestorID,
		Quarter:    "Q1'25",
		CallAmount: decimal.RequireFromString("100000.00"),
		Status:     drawdown.StatusPaymentPending,
		Cancelled:  true,
	}
	require.NoError(t, db.Create(dd).Error)

	_, err = svc.AmendCommitment(operator(), investor.InvestorID, decimal.RequireFromString("2000000.00"))
	require.NoError(t, err)
}

func TestCreateFund_PermissionDenied(t *testing.T) {
	svc := fund.NewService(newTestDB(t))

	_, err := svc.CreateFund(auth.Actor{ClientID: "reader"}, fund.CreateFundRequest{SchemeName: "X"})
	require.ErrorIs(t, err, auth.ErrPermissionDenied)
}
