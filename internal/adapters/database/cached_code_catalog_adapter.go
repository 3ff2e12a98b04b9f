package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/zatekoja/codelookup/internal/domain/entities"
	"github.com/zatekoja/codelookup/internal/domain/providers"
	"github.com/zatekoja/codelookup/internal/domain/repositories"
	"github.com/zatekoja/codelookup/internal/infrastructure/observability"
)

// cacheWriteTimeout bounds the background cache write that follows a miss
const cacheWriteTimeout = 2 * time.Second

// CachedCodeCatalogAdapter wraps a CodeCatalogRepository with a read-through cache for single-entry lookups.
// List and search queries are not cached.
type CachedCodeCatalogAdapter struct {
	repositories.CodeCatalogRepository
	cache   providers.CacheProvider
	ttl     time.Duration
	metrics *observability.Metrics
}

// NewCachedCodeCatalogAdapter creates a new cached code catalog adapter
func NewCachedCodeCatalogAdapter(adapter repositories.CodeCatalogRepository, cache providers.CacheProvider, ttl time.Duration, metrics *observability.Metrics) repositories.CodeCatalogRepository {
	return &CachedCodeCatalogAdapter{
		CodeCatalogRepository: adapter,
		cache:                 cache,
		ttl:                   ttl,
		metrics:               metrics,
	}
}

func entryCacheKey(code string, system entities.CodeSystem, versionYear int) string {
	return fmt.Sprintf("entry:%s:%s:%d", system, code, versionYear)
}

func latestEntryCacheKey(code string, system entities.CodeSystem) string {
	return fmt.Sprintf("entry:%s:%s:latest", system, code)
}

// FindByIdentity retrieves an entry with caching
func (a *CachedCodeCatalogAdapter) FindByIdentity(ctx context.Context, code string, system entities.CodeSystem, versionYear int) (*entities.CodeEntry, error) {
	return a.readThrough(ctx, entryCacheKey(code, system, versionYear), func() (*entities.CodeEntry, error) {
		return a.CodeCatalogRepository.FindByIdentity(ctx, code, system, versionYear)
	})
}

// FindLatest retrieves the newest entry with caching
func (a *CachedCodeCatalogAdapter) FindLatest(ctx context.Context, code string, system entities.CodeSystem) (*entities.CodeEntry, error) {
	return a.readThrough(ctx, latestEntryCacheKey(code, system), func() (*entities.CodeEntry, error) {
		return a.CodeCatalogRepository.FindLatest(ctx, code, system)
	})
}

func (a *CachedCodeCatalogAdapter) readThrough(ctx context.Context, key string, load func() (*entities.CodeEntry, error)) (*entities.CodeEntry, error) {
	if cached, err := a.cache.Get(ctx, key); err == nil {
		var entry entities.CodeEntry
		uerr := json.Unmarshal(cached, &entry)
		if uerr == nil {
			observability.RecordCacheLookup(ctx, a.metrics, "code_entry", true)
			return &entry, nil
		}
		log.Warn().Err(uerr).Str("key", key).Msg("Failed to unmarshal cached code entry")
	} else if !errors.Is(err, providers.ErrCacheMiss) {
		log.Warn().Err(err).Str("key", key).Msg("Code entry cache read failed")
	}
	observability.RecordCacheLookup(ctx, a.metrics, "code_entry", false)

	entry, err := load()
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(entry)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Failed to marshal code entry for cache")
		return entry, nil
	}

	// Write in the background so a slow cache never delays the response
	go func() {
		bgCtx, cancel := context.WithTimeout(context.Background(), cacheWriteTimeout)
		defer cancel()
		if err := a.cache.Set(bgCtx, key, data, a.ttl); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("Failed to cache code entry")
		}
	}()

	return entry, nil
}

// CachedFacetAdapter wraps a FacetRepository with a read-through cache for single-code lookups.
// Absent facets are cached too, as JSON null.
type CachedFacetAdapter struct {
	repositories.FacetRepository
	cache   providers.CacheProvider
	ttl     time.Duration
	metrics *observability.Metrics
}

// NewCachedFacetAdapter creates a new cached facet adapter
func NewCachedFacetAdapter(adapter repositories.FacetRepository, cache providers.CacheProvider, ttl time.Duration, metrics *observability.Metrics) repositories.FacetRepository {
	return &CachedFacetAdapter{
		FacetRepository: adapter,
		cache:           cache,
		ttl:             ttl,
		metrics:         metrics,
	}
}

func facetCacheKey(code string, system entities.CodeSystem) string {
	return fmt.Sprintf("facet:%s:%s", system, code)
}

// GetByCode retrieves a facet with caching
func (a *CachedFacetAdapter) GetByCode(ctx context.Context, code string, system entities.CodeSystem) (*entities.Facet, error) {
	key := facetCacheKey(code, system)

	if cached, err := a.cache.Get(ctx, key); err == nil {
		var facet *entities.Facet
		uerr := json.Unmarshal(cached, &facet)
		if uerr == nil {
			observability.RecordCacheLookup(ctx, a.metrics, "facet", true)
			return facet, nil
		}
		log.Warn().Err(uerr).Str("key", key).Msg("Failed to unmarshal cached facet")
	} else if !errors.Is(err, providers.ErrCacheMiss) {
		log.Warn().Err(err).Str("key", key).Msg("Facet cache read failed")
	}
	observability.RecordCacheLookup(ctx, a.metrics, "facet", false)

	facet, err := a.FacetRepository.GetByCode(ctx, code, system)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(facet); err == nil {
		go func() {
			bgCtx, cancel := context.WithTimeout(context.Background(), cacheWriteTimeout)
			defer cancel()
			if err := a.cache.Set(bgCtx, key, data, a.ttl); err != nil {
				log.Warn().Err(err).Str("key", key).Msg("Failed to cache facet")
			}
		}()
	}

	return facet, nil
}
