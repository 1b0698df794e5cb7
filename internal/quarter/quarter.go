// Package quarter maps calendar dates onto the fund's fiscal quarters.
// The fiscal year runs April through March: Q1 is Apr-Jun, Q2 Jul-Sep,
// Q3 Oct-Dec and Q4 Jan-Mar. Labels use the calendar year of the date,
// not the fiscal year, so 15 Feb 2025 is "Q4'25" and 15 Apr 2025 is "Q1'25".
package quarter

import (
	"fmt"
	"time"
)

// Quarter is a fiscal quarter anchored to a two-digit calendar year.
type Quarter struct {
	Number int // 1..4
	Year   int // full calendar year, e.g. 2025
}

var monthToQuarter = map[time.Month]int{
	time.January: 4, time.February: 4, time.March: 4,
	time.April: 1, time.May: 1, time.June: 1,
	time.July: 2, time.August: 2, time.September: 2,
	time.October: 3, time.November: 3, time.December: 3,
}

// Of returns the fiscal quarter containing t.
func Of(t time.Time) Quarter {
	return Quarter{
		Number: monthToQuarter[t.Month()],
		Year:   t.Year(),
	}
}

// Label formats the quarter as Q{n}'{YY}.
func (q Quarter) Label() string {
	return fmt.Sprintf("Q%d'%02d", q.Number, q.Year%100)
}

// Next returns the immediately following quarter label. The two-digit year
// increments only when wrapping Q4 to Q1.
func (q Quarter) Next() Quarter {
	if q.Number == 4 {
		return Quarter{Number: 1, Year: q.Year + 1}
	}
	return Quarter{Number: q.Number + 1, Year: q.Year}
}

// Parse reads a Q{n}'{YY} label back into a Quarter. Two-digit years are
// interpreted in the 2000s.
func Parse(label string) (Quarter, error) {
	var n, yy int
	if _, err := fmt.Sscanf(label, "Q%d'%d", &n, &yy); err != nil {
		return Quarter{}, fmt.Errorf("invalid quarter label %q: %w", label, err)
	}
	if n < 1 || n > 4 {
		return Quarter{}, fmt.Errorf("invalid quarter label %q: quarter out of range", label)
	}
	if yy < 0 || yy > 99 {
		return Quarter{}, fmt.Errorf("invalid quarter label %q: year out of range", label)
	}
	return Quarter{Number: n, Year: 2000 + yy}, nil
}
