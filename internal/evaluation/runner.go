package evaluation

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/zatekoja/codelookup/internal/application/services"
	"github.com/zatekoja/codelookup/internal/domain/entities"
	"github.com/zatekoja/codelookup/internal/infrastructure/observability"
)

// evalDepth is the cutoff every metric is computed at
const evalDepth = 10

// Searcher is the part of the code search service the runner evaluates
type Searcher interface {
	Search(ctx context.Context, req services.SearchRequest) ([]entities.RankedResult, error)
	SemanticSearch(ctx context.Context, req services.SemanticSearchRequest) ([]entities.RankedResult, error)
	HybridSearch(ctx context.Context, req services.HybridSearchRequest) ([]entities.RankedResult, error)
}

// Runner runs evaluation across a set of golden queries.
type Runner struct {
	searcher    Searcher
	concurrency int
}

// NewRunner creates a runner. concurrency <= 0 uses half the CPUs.
func NewRunner(searcher Searcher, concurrency int) *Runner {
	if concurrency <= 0 {
		concurrency = runtime.NumCPU() / 2
		if concurrency < 1 {
			concurrency = 1
		}
	}
	return &Runner{searcher: searcher, concurrency: concurrency}
}

// Run evaluates every query on a bounded worker pool. Results keep the input order.
// A failing query scores zero and is counted in FailedQueries.
func (r *Runner) Run(ctx context.Context, queries []GoldenQuery) (*EvalSummary, error) {
	pool, err := ants.NewPool(r.concurrency)
	if err != nil {
		return nil, fmt.Errorf("failed to create evaluation pool: %w", err)
	}
	defer pool.Release()

	results := make([]EvalResult, len(queries))
	var wg sync.WaitGroup
	for i, gq := range queries {
		wg.Add(1)
		if err := pool.Submit(func() {
			defer wg.Done()
			results[i] = r.evaluate(ctx, gq)
		}); err != nil {
			wg.Done()
			results[i] = EvalResult{QueryID: gq.ID, Query: gq.Query, Mode: gq.Mode, Error: err.Error()}
		}
	}
	wg.Wait()

	summary := &EvalSummary{
		TotalQueries: len(queries),
		ByMode:       make(map[Mode]*ModeSummary),
		Results:      results,
	}
	for _, res := range results {
		r.updateSummary(summary, res)
	}
	r.finalizeSummary(summary)
	return summary, nil
}

func (r *Runner) evaluate(ctx context.Context, gq GoldenQuery) EvalResult {
	result := EvalResult{QueryID: gq.ID, Query: gq.Query, Mode: gq.Mode}

	start := time.Now()
	ranked, err := r.search(ctx, gq)
	result.Latency = time.Since(start)
	if err != nil {
		observability.LoggerFromContext(ctx).Warn().Err(err).Str("query_id", gq.ID).Msg("Golden query failed")
		result.Error = err.Error()
		return result
	}

	result.ResultCount = len(ranked)
	result.RetrievedCodes = make([]string, len(ranked))
	for i, res := range ranked {
		result.RetrievedCodes[i] = res.Entry.Code
	}
	result.RecallAt10 = RecallAtK(gq.ExpectedCodes, result.RetrievedCodes, evalDepth)
	result.MRRAt10 = MRRAtK(gq.ExpectedCodes, result.RetrievedCodes, evalDepth)
	return result
}

func (r *Runner) search(ctx context.Context, gq GoldenQuery) ([]entities.RankedResult, error) {
	var system *entities.CodeSystem
	if gq.CodeSystem != "" {
		parsed, err := entities.ParseCodeSystem(gq.CodeSystem)
		if err != nil {
			return nil, err
		}
		system = &parsed
	}

	switch gq.Mode {
	case ModeKeyword:
		return r.searcher.Search(ctx, services.SearchRequest{Query: gq.Query, CodeSystem: system, Limit: evalDepth})
	case ModeSemantic:
		return r.searcher.SemanticSearch(ctx, services.SemanticSearchRequest{Query: gq.Query, CodeSystem: system, Limit: evalDepth})
	case ModeHybrid:
		return r.searcher.HybridSearch(ctx, services.HybridSearchRequest{
			Query:          gq.Query,
			CodeSystem:     system,
			Limit:          evalDepth,
			SemanticWeight: gq.SemanticWeight,
		})
	}
	return nil, fmt.Errorf("unknown mode %q", gq.Mode)
}

func (r *Runner) updateSummary(s *EvalSummary, res EvalResult) {
	if res.Error != "" {
		s.FailedQueries++
	}
	s.AvgRecallAt10 += res.RecallAt10
	s.AvgMRRAt10 += res.MRRAt10
	s.AvgLatency += res.Latency
	if res.ResultCount > 0 {
		s.QueriesWithHits++
	}

	if _, ok := s.ByMode[res.Mode]; !ok {
		s.ByMode[res.Mode] = &ModeSummary{}
	}
	ms := s.ByMode[res.Mode]
	ms.Count++
	ms.AvgRecallAt10 += res.RecallAt10
	ms.AvgMRRAt10 += res.MRRAt10
}

func (r *Runner) finalizeSummary(s *EvalSummary) {
	if s.TotalQueries > 0 {
		n := float64(s.TotalQueries)
		s.AvgRecallAt10 /= n
		s.AvgMRRAt10 /= n
		s.AvgLatency /= time.Duration(s.TotalQueries)
	}

	for _, ms := range s.ByMode {
		if ms.Count > 0 {
			n := float64(ms.Count)
			ms.AvgRecallAt10 /= n
			ms.AvgMRRAt10 /= n
		}
	}
}
