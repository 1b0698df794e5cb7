package allotment

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/fundops/capcall-api/internal/quarter"
	"github.com/fundops/capcall-api/internal/types"
)

// GST multiplier applied to management fees.
var gstMultiplier = decimal.NewFromFloat(1.18)

// Inputs are the per-obligation figures the calculator needs. All amounts are
// exact decimals; NAV is the per-unit price in whole currency units.
type Inputs struct {
	CallAmount       decimal.Decimal
	CommitmentAmount decimal.Decimal
	NAV              int
	MgmtFeeRate      decimal.Decimal
	StampDutyRate    decimal.Decimal
	CallDate         time.Time
}

// Outputs are the computed allotment figures.
type Outputs struct {
	Units     int64
	MgmtFees  decimal.Decimal
	StampDuty decimal.Decimal
	Quarter   string
}

// Calculate derives units and charges from one obligation. Units are the
// floor of call over NAV; fractional remainders are never allotted. Fees
// carry GST and round half-up to two places.
func Calculate(in Inputs) (Outputs, error) {
	verr := types.NewValidationError()
	if in.NAV <= 0 {
		verr.Add("nav", "must be greater than zero")
	}
	if in.CallAmount.IsNegative() || in.CallAmount.IsZero() {
		verr.Add("call_amount", "must be greater than zero")
	}
	if in.CommitmentAmount.IsNegative() {
		verr.Add("commitment_amount", "cannot be negative")
	}
	if in.MgmtFeeRate.IsNegative() {
		verr.Add("mgmt_fee_rate", "cannot be negative")
	}
	if in.StampDutyRate.IsNegative() {
		verr.Add("stamp_duty_rate", "cannot be negative")
	}
	if verr.HasViolations() {
		return Outputs{}, verr
	}

	nav := decimal.NewFromInt(int64(in.NAV))
	units := in.CallAmount.Div(nav).Floor().IntPart()

	mgmtFees := in.CommitmentAmount.Mul(in.MgmtFeeRate).Mul(gstMultiplier).Round(2)
	stampDuty := in.CallAmount.Mul(in.StampDutyRate).Round(2)

	return Outputs{
		Units:     units,
		MgmtFees:  mgmtFees,
		StampDuty: stampDuty,
		Quarter:   quarter.Of(in.CallDate).Label(),
	}, nil
}
