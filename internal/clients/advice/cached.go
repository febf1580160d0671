package advice

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	"github.com/gorest/roadtrip/server/internal/cache"
)

// Suggester is anything that can answer a Request
type Suggester interface {
	Suggest(ctx context.Context, req Request) (Suggestion, error)
}

// CachedAdvisor memoizes suggestions per vehicle profile and trip length
// bucket so re-plans of the same trip don't call the model again.
type CachedAdvisor struct {
	advisor Suggester
	cache   *cache.Cache
	ttl     time.Duration
}

// NewCachedAdvisor wraps advisor with cache
func NewCachedAdvisor(advisor Suggester, c *cache.Cache, ttl time.Duration) *CachedAdvisor {
	return &CachedAdvisor{advisor: advisor, cache: c, ttl: ttl}
}

// SuggestInterval returns a cached or fresh suggestion in km
func (c *CachedAdvisor) SuggestInterval(ctx context.Context, req Request) (float64, error) {
	key := "advice:" + RequestHash(req)
	s, hit, err := cache.Remember(c.cache, key, c.ttl, "advice", func() (Suggestion, error) {
		return c.advisor.Suggest(ctx, req)
	})
	if err != nil {
		return 0, err
	}
	if hit {
		log.Printf("Advice cache hit for %s", key[:15])
	}
	return s.RecommendedPitstopKm, nil
}

// RequestHash identifies equivalent requests. Distances are bucketed to
// 25 km so small routing differences share an answer.
func RequestHash(req Request) string {
	bucket := int(math.Round(req.DistanceKm / 25))
	signature := fmt.Sprintf("%s|%s|%d",
		strings.ToLower(string(req.Vehicle)),
		strings.ToLower(string(req.EVSubtype)),
		bucket)

	hash := sha256.Sum256([]byte(signature))
	return fmt.Sprintf("%x", hash)
}
