package navsource

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/trogers1052/fund-share-service/internal/metrics"
)

// CachedSource wraps a Source with a Redis read-through cache. Only successful
// quotes are cached; failures always reach the wrapped source.
type CachedSource struct {
	inner Source
	rdb   *redis.Client
	ttl   time.Duration
}

// NewCachedSource creates a cached wrapper around a source
func NewCachedSource(inner Source, rdb *redis.Client, ttl time.Duration) *CachedSource {
	return &CachedSource{inner: inner, rdb: rdb, ttl: ttl}
}

// Name identifies the wrapped source
func (s *CachedSource) Name() string { return s.inner.Name() }

// FetchNav returns a cached quote when present, otherwise fetches and caches it.
// Redis errors fall through to the wrapped source.
func (s *CachedSource) FetchNav(ctx context.Context, code string) (Quote, error) {
	data, err := s.rdb.Get(ctx, quoteKey(code)).Bytes()
	if err == nil {
		var q Quote
		if json.Unmarshal(data, &q) == nil {
			metrics.NavFetchTotal.WithLabelValues(s.inner.Name(), metrics.OutcomeCacheHit).Inc()
			return q, nil
		}
	}

	q, err := s.inner.FetchNav(ctx, code)
	if err != nil {
		return Quote{}, err
	}

	if data, err := json.Marshal(q); err == nil {
		s.rdb.Set(ctx, quoteKey(code), data, s.ttl)
	}
	return q, nil
}

// FetchHistory is passed through uncached
func (s *CachedSource) FetchHistory(ctx context.Context, code string, maxDays int) ([]HistoryPoint, error) {
	h, ok := s.inner.(HistorySource)
	if !ok {
		return nil, fmt.Errorf("%w: %s has no history", ErrNotFound, s.inner.Name())
	}
	return h.FetchHistory(ctx, code, maxDays)
}

func quoteKey(code string) string { return fmt.Sprintf("nav:quote:%s", code) }
