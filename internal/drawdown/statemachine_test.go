package drawdown_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fundops/capcall-api/internal/drawdown"
	"github.com/fundops/capcall-api/internal/types"
)

func TestTransition_LegalPaths(t *testing.T) {
	legal := [][2]string{
		{drawdown.StatusPaymentPending, drawdown.StatusAllotmentPending},
		{drawdown.StatusAllotmentPending, drawdown.StatusAllotmentDone},
		{drawdown.StatusAllotmentPending, drawdown.StatusSheetGenerationPending},
		{drawdown.StatusSheetGenerationPending, drawdown.StatusAllotmentDone},
	}
	for _, pair := range legal {
		assert.NoError(t, drawdown.Transition(pair[0], pair[1]), "%s -> %s", pair[0], pair[1])
	}
}

func TestTransition_RejectsSkipsAndRegressions(t *testing.T) {
	illegal := [][2]string{
		{drawdown.StatusPaymentPending, drawdown.StatusAllotmentDone},
		{drawdown.StatusPaymentPending, drawdown.StatusSheetGenerationPending},
		{drawdown.StatusAllotmentPending, drawdown.StatusPaymentPending},
		{drawdown.StatusAllotmentDone, drawdown.StatusAllotmentPending},
		{drawdown.StatusAllotmentDone, drawdown.StatusPaymentPending},
		{drawdown.StatusSheetGenerationPending, drawdown.StatusPaymentPending},
	}
	for _, pair := range illegal {
		err := drawdown.Transition(pair[0], pair[1])
		var conflict *types.ConflictError
		require.ErrorAs(t, err, &conflict, "%s -> %s", pair[0], pair[1])
	}
}

func TestTransition_RejectsUnknownStatus(t *testing.T) {
	err := drawdown.Transition("Bogus", drawdown.StatusAllotmentDone)
	var conflict *types.ConflictError
	require.ErrorAs(t, err, &conflict)

	err = drawdown.Transition(drawdown.StatusPaymentPending, "Bogus")
	require.ErrorAs(t, err, &conflict)
}

func TestValidStatus(t *testing.T) {
	assert.True(t, drawdown.ValidStatus(drawdown.StatusPaymentPending))
	assert.True(t, drawdown.ValidStatus(drawdown.StatusAllotmentDone))
	assert.False(t, drawdown.ValidStatus("Pending"))
}
