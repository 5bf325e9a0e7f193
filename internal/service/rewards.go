package service

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/staking-ledger/internal/config"
)

const day = 24 * time.Hour

var (
	hundred     = decimal.NewFromInt(100)
	daysPerYear = decimal.NewFromInt(365)
	one         = decimal.NewFromInt(1)
)

// Policy holds the staking terms applied to newly opened stakes.
// APY is stored per stake, so changing it never affects open positions.
type Policy struct {
	APY            decimal.Decimal // percent
	TermDays       int
	CommissionRate decimal.Decimal // fraction of principal
	EarlyPenalty   decimal.Decimal // fraction of reward withheld before maturity
}

// DefaultPolicy returns 12% APY over 30 days, 0.5% commission, 10% early penalty
func DefaultPolicy() Policy {
	return Policy{
		APY:            decimal.RequireFromString("12.00"),
		TermDays:       30,
		CommissionRate: decimal.RequireFromString("0.005"),
		EarlyPenalty:   decimal.RequireFromString("0.10"),
	}
}

// NewPolicy builds a Policy from configuration
func NewPolicy(cfg config.StakingConfig) Policy {
	return Policy{
		APY:            cfg.APY,
		TermDays:       cfg.TermDays,
		CommissionRate: cfg.CommissionRate,
		EarlyPenalty:   cfg.EarlyPenalty,
	}
}

// DailyReward is amount × apy / 100 / 365
func DailyReward(amount, apy decimal.Decimal) decimal.Decimal {
	return amount.Mul(apy).Div(hundred).Div(daysPerYear)
}

// DaysStaked counts whole days elapsed since start; partial days truncate
// and a start in the future counts as zero
func DaysStaked(start, now time.Time) int64 {
	if now.Before(start) {
		return 0
	}
	return int64(now.Sub(start) / day)
}

// DaysRemaining is the floor of the days left until end. It goes negative
// once a matured stake is left open.
func DaysRemaining(end, now time.Time) int64 {
	return floorDays(end.Sub(now))
}

func floorDays(d time.Duration) int64 {
	days := int64(d / day)
	if d < 0 && d%day != 0 {
		days--
	}
	return days
}

// AccruedReward is the unpenalized running reward after days
func AccruedReward(dailyReward decimal.Decimal, days int64) decimal.Decimal {
	return dailyReward.Mul(decimal.NewFromInt(days))
}

// SettleReward is the reward paid on close. Before maturity the early
// penalty is withheld.
func SettleReward(dailyReward decimal.Decimal, days int64, matured bool, earlyPenalty decimal.Decimal) decimal.Decimal {
	reward := AccruedReward(dailyReward, days)
	if !matured {
		reward = reward.Mul(one.Sub(earlyPenalty))
	}
	return reward
}

// Commission is the owner's informational cut of a new stake
func Commission(amount, rate decimal.Decimal) decimal.Decimal {
	return amount.Mul(rate)
}
