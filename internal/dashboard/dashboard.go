package dashboard

import (
	"context"
	"time"

	"salescrm/backend/internal/cache"
	"salescrm/backend/internal/domain"
	"salescrm/backend/internal/store"
)

const (
	summaryCacheKey = "crm:dashboard:summary"
	recentLimit     = 10
)

// Builder assembles the admin dashboard summary: table counts plus the most
// recent sales and payments. Results are cached for a short TTL because the
// dashboard polls.
type Builder struct {
	repo     store.Repository
	cache    cache.SummaryCache
	cacheTTL time.Duration
}

func NewBuilder(repo store.Repository, cacheStore cache.SummaryCache, cacheTTL time.Duration) *Builder {
	if cacheStore == nil {
		cacheStore = cache.NoopSummaryCache{}
	}
	if cacheTTL <= 0 {
		cacheTTL = 20 * time.Second
	}

	return &Builder{
		repo:     repo,
		cache:    cacheStore,
		cacheTTL: cacheTTL,
	}
}

// Summary returns the cached summary when fresh, rebuilding it from the
// store otherwise. Cache failures fall through to a rebuild.
func (b *Builder) Summary(ctx context.Context) (domain.DashboardSummary, error) {
	if cached, ok, err := b.cache.Get(ctx, summaryCacheKey); err == nil && ok {
		return *cached, nil
	}

	stats, err := b.repo.GetDashboardStats(ctx)
	if err != nil {
		return domain.DashboardSummary{}, err
	}
	recentSales, err := b.repo.ListRecentSales(ctx, recentLimit)
	if err != nil {
		return domain.DashboardSummary{}, err
	}
	recentPayments, err := b.repo.ListRecentPayments(ctx, recentLimit)
	if err != nil {
		return domain.DashboardSummary{}, err
	}

	summary := domain.DashboardSummary{
		Stats:          stats,
		RecentSales:    recentSales,
		RecentPayments: recentPayments,
		GeneratedAt:    time.Now().UTC().Format(time.RFC3339),
	}
	_ = b.cache.Set(ctx, summaryCacheKey, &summary, b.cacheTTL)
	return summary, nil
}
