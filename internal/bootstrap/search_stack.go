package bootstrap

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
	"github.com/zatekoja/codelookup/internal/adapters/cache"
	"github.com/zatekoja/codelookup/internal/adapters/database"
	"github.com/zatekoja/codelookup/internal/adapters/embedding"
	"github.com/zatekoja/codelookup/internal/application/services"
	"github.com/zatekoja/codelookup/internal/domain/providers"
	"github.com/zatekoja/codelookup/internal/domain/repositories"
	"github.com/zatekoja/codelookup/internal/infrastructure/clients/openai"
	"github.com/zatekoja/codelookup/internal/infrastructure/clients/postgres"
	"github.com/zatekoja/codelookup/internal/infrastructure/clients/redis"
	"github.com/zatekoja/codelookup/internal/infrastructure/observability"
	"github.com/zatekoja/codelookup/pkg/config"
)

// SearchStack is the connected retrieval engine plus the clients it owns
type SearchStack struct {
	Service  *services.CodeSearchService
	Postgres *postgres.Client
	// Redis is nil when the cache could not be reached
	Redis *redis.Client
	// SemanticEnabled is false when no embedding endpoint is configured
	SemanticEnabled bool
}

// NewSearchStack connects to the corpus store, the optional cache and the embedding endpoint,
// then assembles the search service over them.
func NewSearchStack(ctx context.Context, cfg *config.Config, metrics *observability.Metrics) (*SearchStack, error) {
	pgClient, err := postgres.NewClient(ctx, &cfg.Database)
	if err != nil {
		return nil, err
	}
	stack := &SearchStack{Postgres: pgClient}

	var cacheProvider providers.CacheProvider
	redisClient, err := redis.NewClient(ctx, &cfg.Redis)
	if err != nil {
		log.Warn().Err(err).Msg("Redis unavailable, running without cache")
	} else {
		stack.Redis = redisClient
		cacheProvider = cache.NewRedisAdapter(redisClient)
		log.Info().Str("addr", cfg.Redis.RedisAddr()).Msg("Redis client initialized")
	}

	var entries repositories.CodeCatalogRepository = database.NewCodeCatalogAdapter(pgClient)
	var facets repositories.FacetRepository = database.NewFacetAdapter(pgClient)
	if cacheProvider != nil {
		entries = database.NewCachedCodeCatalogAdapter(entries, cacheProvider, cfg.Search.DetailCacheTTL, metrics)
		facets = database.NewCachedFacetAdapter(facets, cacheProvider, cfg.Search.DetailCacheTTL, metrics)
	}
	mappings := database.NewMappingAdapter(pgClient)

	embedder, enabled := newEmbedder(&cfg.Embedding, metrics)
	stack.SemanticEnabled = enabled

	corpus := services.NewCorpusAccessor(entries, facets, mappings, cfg.Search.DefaultVersionYear)
	stack.Service = services.NewCodeSearchService(corpus, embedder, SearchConfig(&cfg.Search), metrics)
	return stack, nil
}

// SearchConfig maps the environment configuration onto the service defaults
func SearchConfig(cfg *config.SearchConfig) services.CodeSearchConfig {
	return services.CodeSearchConfig{
		DefaultSemanticWeight: cfg.DefaultSemanticWeight,
		SuggestMinSimilarity:  cfg.SuggestMinSimilarity,
		MaxLimit:              cfg.MaxLimit,
		EmbeddingTimeout:      cfg.EmbeddingTimeout,
	}
}

func newEmbedder(cfg *config.EmbeddingConfig, metrics *observability.Metrics) (providers.EmbeddingProvider, bool) {
	if cfg.APIKey == "" {
		log.Warn().Msg("EMBEDDING_API_KEY is not set; semantic search will fall back to keyword matching")
		return embedding.UnavailableProvider{}, false
	}
	client, err := openai.NewClient(cfg)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize embedding client")
		return embedding.UnavailableProvider{}, false
	}
	log.Info().Str("model", cfg.Model).Int("cache_size", cfg.CacheSize).Msg("Embedding client initialized")
	return embedding.NewCachedProvider(client, cfg.CacheSize, metrics), true
}

// Close releases the clients the stack opened
func (s *SearchStack) Close() error {
	var errs []error
	if s.Redis != nil {
		errs = append(errs, s.Redis.Close())
	}
	errs = append(errs, s.Postgres.Close())
	return errors.Join(errs...)
}
