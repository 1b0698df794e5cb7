package quarter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOf_FiscalQuarterMapping(t *testing.T) {
	tests := []struct {
		name  string
		date  time.Time
		label string
	}{
		{"april starts Q1", time.Date(2025, time.April, 1, 0, 0, 0, 0, time.UTC), "Q1'25"},
		{"june ends Q1", time.Date(2025, time.June, 30, 0, 0, 0, 0, time.UTC), "Q1'25"},
		{"july starts Q2", time.Date(2025, time.July, 1, 0, 0, 0, 0, time.UTC), "Q2'25"},
		{"september ends Q2", time.Date(2025, time.September, 30, 0, 0, 0, 0, time.UTC), "Q2'25"},
		{"october starts Q3", time.Date(2025, time.October, 1, 0, 0, 0, 0, time.UTC), "Q3'25"},
		{"december ends Q3", time.Date(2025, time.December, 31, 0, 0, 0, 0, time.UTC), "Q3'25"},
		{"january starts Q4", time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC), "Q4'26"},
		{"march ends Q4", time.Date(2026, time.March, 31, 0, 0, 0, 0, time.UTC), "Q4'26"},
		{"labels use calendar year not fiscal year", time.Date(2025, time.February, 15, 0, 0, 0, 0, time.UTC), "Q4'25"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.label, Of(tt.date).Label())
		})
	}
}

func TestNext_IncrementsYearOnlyAtWrap(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Q1'25", "Q2'25"},
		{"Q2'25", "Q3'25"},
		{"Q3'25", "Q4'25"},
		{"Q4'25", "Q1'26"},
		{"Q4'99", "Q1'00"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			q, err := Parse(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, q.Next().Label())
		})
	}
}

func TestParse_RoundTrip(t *testing.T) {
	for n := 1; n <= 4; n++ {
		q := Quarter{Number: n, Year: 2027}
		parsed, err := Parse(q.Label())
		require.NoError(t, err)
		assert.Equal(t, q, parsed)
	}
}

func TestParse_RejectsMalformedLabels(t *testing.T) {
	for _, label := range []string{"", "Q5'25", "Q0'25", "1'25", "Q1-25", "quarter one"} {
		_, err := Parse(label)
		assert.Error(t, err, "label %q should not parse", label)
	}
}

func TestLabel_PadsSingleDigitYears(t *testing.T) {
	q := Quarter{Number: 2, Year: 2009}
	assert.Equal(t, "Q2'09", q.Label())
}
