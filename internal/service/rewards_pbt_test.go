package service

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
)

// amounts from 0.000000001 to 1,000,000 TON
func genAmount() gopter.Gen {
	return gen.Int64Range(1, 1_000_000_000_000_000).Map(func(n int64) decimal.Decimal {
		return decimal.New(n, -9)
	})
}

// Property: daily reward is amount × 12 / 100 / 365 up to division precision
func TestDailyReward_Property(t *testing.T) {
	properties := gopter.NewProperties(nil)
	apy := decimal.RequireFromString("12.00")
	tolerance := decimal.New(365, -16)

	properties.Property("daily reward × 365 recovers 12% of amount", prop.ForAll(
		func(amount decimal.Decimal) bool {
			annual := DailyReward(amount, apy).Mul(daysPerYear)
			want := amount.Mul(decimal.RequireFromString("0.12"))
			return annual.Sub(want).Abs().LessThanOrEqual(tolerance)
		},
		genAmount(),
	))

	properties.TestingRun(t)
}

// Property: settlement applies the 10% penalty exactly when unmatured
func TestSettleReward_Property(t *testing.T) {
	properties := gopter.NewProperties(nil)
	apy := decimal.RequireFromString("12.00")
	penalty := decimal.RequireFromString("0.10")

	properties.Property("matured pays daily × d, unmatured pays daily × d × 0.9", prop.ForAll(
		func(amount decimal.Decimal, d int64, matured bool) bool {
			daily := DailyReward(amount, apy)
			got := SettleReward(daily, d, matured, penalty)
			want := daily.Mul(decimal.NewFromInt(d))
			if !matured {
				want = want.Mul(decimal.RequireFromString("0.9"))
			}
			return got.Equal(want)
		},
		genAmount(),
		gen.Int64Range(0, 400),
		gen.Bool(),
	))

	properties.Property("same-day close pays nothing", prop.ForAll(
		func(amount decimal.Decimal, matured bool) bool {
			return SettleReward(DailyReward(amount, apy), 0, matured, penalty).IsZero()
		},
		genAmount(),
		gen.Bool(),
	))

	properties.TestingRun(t)
}

// Property: whole days truncate, partial days never count
func TestDaysStaked_Property(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("d days plus less than a day is d", prop.ForAll(
		func(d int64, extra int64) bool {
			now := testStart.Add(time.Duration(d)*day + time.Duration(extra))
			return DaysStaked(testStart, now) == d
		},
		gen.Int64Range(0, 3650),
		gen.Int64Range(0, int64(day)-1),
	))

	properties.Property("days remaining plus days staked is the term for whole-day offsets", prop.ForAll(
		func(d int64) bool {
			end := testStart.AddDate(0, 0, 30)
			now := testStart.Add(time.Duration(d) * day)
			return DaysStaked(testStart, now)+DaysRemaining(end, now) == 30
		},
		gen.Int64Range(0, 365),
	))

	properties.TestingRun(t)
}
