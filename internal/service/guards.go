package service

import (
	"context"

	"github.com/staking-ledger/internal/circuitbreaker"
	"github.com/staking-ledger/internal/models"
)

// GuardAuditSink stops calling an unavailable audit sink until its breaker
// lets a trial call through
func GuardAuditSink(sink AuditSink, breaker *circuitbreaker.CircuitBreaker) AuditSink {
	return &guardedAuditSink{sink: sink, breaker: breaker}
}

type guardedAuditSink struct {
	sink    AuditSink
	breaker *circuitbreaker.CircuitBreaker
}

func (g *guardedAuditSink) RecordTransactions(ctx context.Context, walletAddress string, txs []*models.Transaction) error {
	return g.breaker.Execute(ctx, func() error {
		return g.sink.RecordTransactions(ctx, walletAddress, txs)
	})
}

// GuardReferralCache skips an unavailable cache; an open breaker reads as a
// miss and the store answers
func GuardReferralCache(cache ReferralCache, breaker *circuitbreaker.CircuitBreaker) ReferralCache {
	return &guardedReferralCache{cache: cache, breaker: breaker}
}

type guardedReferralCache struct {
	cache   ReferralCache
	breaker *circuitbreaker.CircuitBreaker
}

func (g *guardedReferralCache) GetReferralSummary(ctx context.Context, walletAddress string) (*models.ReferralSummary, bool, error) {
	var (
		summary *models.ReferralSummary
		found   bool
	)
	err := g.breaker.Execute(ctx, func() error {
		var err error
		summary, found, err = g.cache.GetReferralSummary(ctx, walletAddress)
		return err
	})
	return summary, found, err
}

func (g *guardedReferralCache) ReferralVersion(ctx context.Context, walletAddress string) (int64, error) {
	var version int64
	err := g.breaker.Execute(ctx, func() error {
		var err error
		version, err = g.cache.ReferralVersion(ctx, walletAddress)
		return err
	})
	return version, err
}

func (g *guardedReferralCache) SetReferralSummary(ctx context.Context, walletAddress string, version int64, summary *models.ReferralSummary) error {
	return g.breaker.Execute(ctx, func() error {
		return g.cache.SetReferralSummary(ctx, walletAddress, version, summary)
	})
}

func (g *guardedReferralCache) InvalidateReferralSummary(ctx context.Context, walletAddress string) error {
	return g.breaker.Execute(ctx, func() error {
		return g.cache.InvalidateReferralSummary(ctx, walletAddress)
	})
}
