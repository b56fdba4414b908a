package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// BillingCycle defines how often a subscription is charged
type BillingCycle string

const (
	CycleWeekly    BillingCycle = "weekly"
	CycleMonthly   BillingCycle = "monthly"
	CycleQuarterly BillingCycle = "quarterly"
	CycleYearly    BillingCycle = "yearly"
)

// IsValid returns true if the cycle is one of the supported values
func (c BillingCycle) IsValid() bool {
	switch c {
	case CycleWeekly, CycleMonthly, CycleQuarterly, CycleYearly:
		return true
	}
	return false
}

// cycleRank orders cycles by length for upgrade validation
func cycleRank(c BillingCycle) int {
	switch c {
	case CycleWeekly:
		return 1
	case CycleMonthly:
		return 2
	case CycleQuarterly:
		return 3
	case CycleYearly:
		return 4
	}
	return 0
}

// NextBillingDate computes the billing date one cycle after fromDate.
//
// Calendar-month additions clamp the day of month instead of rolling over
// (Jan 31 + 1 month = Feb 28/29, never Mar 2-3), and yearly additions clamp
// Feb 29 to Feb 28 on non-leap target years.
func NextBillingDate(fromDate time.Time, cycle BillingCycle) (time.Time, error) {
	switch cycle {
	case CycleWeekly:
		return fromDate.AddDate(0, 0, 7), nil
	case CycleMonthly:
		return addMonthsClamped(fromDate, 1), nil
	case CycleQuarterly:
		return addMonthsClamped(fromDate, 3), nil
	case CycleYearly:
		return addMonthsClamped(fromDate, 12), nil
	default:
		return time.Time{}, NewDomainError(ErrorCodeUnsupportedCycleType,
			"unsupported billing cycle").WithDetail("cycle", string(cycle))
	}
}

// addMonthsClamped adds calendar months, clamping the day to the last day of
// the target month. time.AddDate normalizes overflow (Jan 31 + 1mo = Mar 3),
// which would silently drift billing anchors, so we do the arithmetic by hand.
func addMonthsClamped(t time.Time, months int) time.Time {
	year, month, day := t.Date()

	totalMonths := int(month) - 1 + months
	targetYear := year + totalMonths/12
	targetMonth := time.Month(totalMonths%12 + 1)

	if last := daysInMonth(targetYear, targetMonth); day > last {
		day = last
	}

	return time.Date(targetYear, targetMonth, day,
		t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

func daysInMonth(year int, month time.Month) int {
	// day 0 of the next month is the last day of this month
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// monthEquivalents maps each cycle to its length in months, used for
// conversion fee arithmetic. Weekly is 1/4.33 months (52 weeks / 12).
var monthEquivalents = map[BillingCycle]decimal.Decimal{
	CycleWeekly:    decimal.NewFromInt(1).Div(decimal.NewFromFloat(4.33)),
	CycleMonthly:   decimal.NewFromInt(1),
	CycleQuarterly: decimal.NewFromInt(3),
	CycleYearly:    decimal.NewFromInt(12),
}

// CycleMonths returns the month-equivalent length of a billing cycle
func CycleMonths(cycle BillingCycle) (decimal.Decimal, error) {
	months, ok := monthEquivalents[cycle]
	if !ok {
		return decimal.Zero, NewDomainError(ErrorCodeUnsupportedCycleType,
			"unsupported billing cycle").WithDetail("cycle", string(cycle))
	}
	return months, nil
}

// ConversionFeeAdjustment computes the charge (positive) or deferred credit
// (negative) owed when converting between billing cycles:
// (newCycleMonths - currentCycleMonths) x monthlyPrice.
func ConversionFeeAdjustment(current, target BillingCycle, monthlyPrice decimal.Decimal) (decimal.Decimal, error) {
	currentMonths, err := CycleMonths(current)
	if err != nil {
		return decimal.Zero, err
	}
	targetMonths, err := CycleMonths(target)
	if err != nil {
		return decimal.Zero, err
	}
	return targetMonths.Sub(currentMonths).Mul(monthlyPrice), nil
}
