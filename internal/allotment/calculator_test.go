package allotment_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fundops/capcall-api/internal/allotment"
	"github.com/fundops/capcall-api/internal/types"
)

func inputs() allotment.Inputs {
	return allotment.Inputs{
		CallAmount:       decimal.RequireFromString("1000000.00"),
		CommitmentAmount: decimal.RequireFromString("10000000.00"),
		NAV:              100,
		MgmtFeeRate:      decimal.NewFromFloat(0.01),
		StampDutyRate:    decimal.NewFromFloat(0.00005),
		CallDate:         time.Date(2025, 4, 15, 0, 0, 0, 0, time.UTC),
	}
}

func TestCalculate_UnitsAreFloorOfCallOverNAV(t *testing.T) {
	out, err := allotment.Calculate(inputs())
	require.NoError(t, err)
	assert.Equal(t, int64(10000), out.Units)

	in := inputs()
	in.CallAmount = decimal.RequireFromString("1000050.00")
	out, err = allotment.Calculate(in)
	require.NoError(t, err)
	assert.Equal(t, int64(10000), out.Units)

	in.CallAmount = decimal.RequireFromString("99.99")
	out, err = allotment.Calculate(in)
	require.NoError(t, err)
	assert.Zero(t, out.Units)
}

func TestCalculate_MgmtFeesCarryGST(t *testing.T) {
	out, err := allotment.Calculate(inputs())
	require.NoError(t, err)

	// 10,000,000 x 0.01 x 1.18
	assert.True(t, out.MgmtFees.Equal(decimal.RequireFromString("118000.00")),
		"got %s", out.MgmtFees)
}

func TestCalculate_StampDutyRoundsHalfUp(t *testing.T) {
	in := inputs()
	in.CallAmount = decimal.RequireFromString("1000050.00")
	out, err := allotment.Calculate(in)
	require.NoError(t, err)

	// 1,000,050 x 0.00005 = 50.0025 -> 50.00
	assert.True(t, out.StampDuty.Equal(decimal.RequireFromString("50.00")),
		"got %s", out.StampDuty)

	in.CallAmount = decimal.RequireFromString("1000100.00")
	out, err = allotment.Calculate(in)
	require.NoError(t, err)

	// 1,000,100 x 0.00005 = 50.005 -> 50.01
	assert.True(t, out.StampDuty.Equal(decimal.RequireFromString("50.01")),
		"got %s", out.StampDuty)
}

func TestCalculate_QuarterFromCallDate(t *testing.T) {
	out, err := allotment.Calculate(inputs())
	require.NoError(t, err)
	assert.Equal(t, "Q1'25", out.Quarter)

	in := inputs()
	in.CallDate = time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	out, err = allotment.Calculate(in)
	require.NoError(t, err)
	assert.Equal(t, "Q4'26", out.Quarter)
}

func TestCalculate_CollectsAllViolations(t *testing.T) {
	in := allotment.Inputs{
		CallAmount:       decimal.Zero,
		CommitmentAmount: decimal.RequireFromString("-1"),
		NAV:              0,
		MgmtFeeRate:      decimal.RequireFromString("-0.01"),
		StampDutyRate:    decimal.RequireFromString("-0.00005"),
	}
	_, err := allotment.Calculate(in)

	var verr *types.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Len(t, verr.Violations, 5)
}
