package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestNextBillingDate_MonthEndClamping(t *testing.T) {
	tests := []struct {
		name  string
		from  time.Time
		cycle BillingCycle
		want  time.Time
	}{
		{"jan 31 clamps to feb 28", date(2026, time.January, 31), CycleMonthly, date(2026, time.February, 28)},
		{"jan 31 clamps to feb 29 in leap year", date(2024, time.January, 31), CycleMonthly, date(2024, time.February, 29)},
		{"mar 31 clamps to apr 30", date(2026, time.March, 31), CycleMonthly, date(2026, time.April, 30)},
		{"mid-month is untouched", date(2026, time.January, 15), CycleMonthly, date(2026, time.February, 15)},
		{"quarterly jan 31 clamps to apr 30", date(2026, time.January, 31), CycleQuarterly, date(2026, time.April, 30)},
		{"quarterly crosses year boundary", date(2026, time.November, 15), CycleQuarterly, date(2027, time.February, 15)},
		{"yearly feb 29 clamps to feb 28", date(2024, time.February, 29), CycleYearly, date(2025, time.February, 28)},
		{"yearly ordinary date", date(2026, time.June, 10), CycleYearly, date(2027, time.June, 10)},
		{"weekly adds seven days", date(2026, time.January, 31), CycleWeekly, date(2026, time.February, 7)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NextBillingDate(tt.from, tt.cycle)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNextBillingDate_PreservesTimeOfDay(t *testing.T) {
	from := time.Date(2026, time.January, 31, 14, 30, 45, 0, time.UTC)

	got, err := NextBillingDate(from, CycleMonthly)
	require.NoError(t, err)

	assert.Equal(t, time.Date(2026, time.February, 28, 14, 30, 45, 0, time.UTC), got)
}

func TestNextBillingDate_UnsupportedCycle(t *testing.T) {
	_, err := NextBillingDate(date(2026, time.January, 1), BillingCycle("biweekly"))
	require.Error(t, err)
	assert.Equal(t, ErrorCodeUnsupportedCycleType, GetErrorCode(err))
}

func TestConversionFeeAdjustment(t *testing.T) {
	monthlyPrice := decimal.NewFromInt(100)

	t.Run("monthly to yearly charges eleven months", func(t *testing.T) {
		fee, err := ConversionFeeAdjustment(CycleMonthly, CycleYearly, monthlyPrice)
		require.NoError(t, err)
		assert.True(t, fee.Equal(decimal.NewFromInt(1100)), "got %s", fee)
	})

	t.Run("yearly to monthly credits eleven months", func(t *testing.T) {
		fee, err := ConversionFeeAdjustment(CycleYearly, CycleMonthly, monthlyPrice)
		require.NoError(t, err)
		assert.True(t, fee.Equal(decimal.NewFromInt(-1100)), "got %s", fee)
	})

	t.Run("monthly to quarterly charges two months", func(t *testing.T) {
		fee, err := ConversionFeeAdjustment(CycleMonthly, CycleQuarterly, monthlyPrice)
		require.NoError(t, err)
		assert.True(t, fee.Equal(decimal.NewFromInt(200)), "got %s", fee)
	})

	t.Run("weekly uses fractional month equivalent", func(t *testing.T) {
		fee, err := ConversionFeeAdjustment(CycleWeekly, CycleMonthly, monthlyPrice)
		require.NoError(t, err)
		// 1 - 1/4.33 months at 100/month
		assert.True(t, fee.IsPositive())
		assert.True(t, fee.LessThan(decimal.NewFromInt(100)))
	})

	t.Run("unsupported cycle errors", func(t *testing.T) {
		_, err := ConversionFeeAdjustment(CycleMonthly, BillingCycle("daily"), monthlyPrice)
		require.Error(t, err)
		assert.Equal(t, ErrorCodeUnsupportedCycleType, GetErrorCode(err))
	})
}

func TestCycleMonths(t *testing.T) {
	months, err := CycleMonths(CycleQuarterly)
	require.NoError(t, err)
	assert.True(t, months.Equal(decimal.NewFromInt(3)))

	_, err = CycleMonths(BillingCycle(""))
	assert.Error(t, err)
}

func TestBillingCycleIsValid(t *testing.T) {
	assert.True(t, CycleWeekly.IsValid())
	assert.True(t, CycleYearly.IsValid())
	assert.False(t, BillingCycle("daily").IsValid())
	assert.False(t, BillingCycle("").IsValid())
}
