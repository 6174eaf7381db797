// Package retrieval narrows the tool catalog for a run objective in
// two stages: a coarse embedding-similarity rank over every tool, then
// an optional fine rerank of the shortlist through a cross-encoder.
// The fine stage is best effort; any failure degrades to the coarse
// ordering rather than failing the run.
package retrieval

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/murmurhq/murmur/internal/catalog"
	"github.com/murmurhq/murmur/internal/embeddings"
	"github.com/murmurhq/murmur/internal/rerank"
)

// Result is a ranked tool shortlist for one objective.
type Result struct {
	Tools []*catalog.Tool
	// Degraded is set when the fine stage was configured but failed,
	// so the ordering is coarse-only.
	Degraded bool
}

// Pipeline ranks catalog tools against a run objective.
type Pipeline struct {
	catalog  *catalog.Catalog
	embedder embeddings.Provider
	ranker   rerank.Ranker // nil disables the fine stage

	candidateK int // coarse shortlist size; <=0 keeps all
	topN       int // fine shortlist size; <=0 keeps all
	log        *slog.Logger
}

// Config for the retrieval pipeline.
type Config struct {
	Catalog    *catalog.Catalog
	Embedder   embeddings.Provider
	Ranker     rerank.Ranker
	CandidateK int
	TopN       int
	Logger     *slog.Logger
}

// New creates a retrieval pipeline.
func New(cfg Config) *Pipeline {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		catalog:    cfg.Catalog,
		embedder:   cfg.Embedder,
		ranker:     cfg.Ranker,
		candidateK: cfg.CandidateK,
		topN:       cfg.TopN,
		log:        log,
	}
}

// Select ranks the catalog against objective. An empty objective
// returns the full catalog in registration order; an empty catalog
// returns an empty shortlist. Scope-tagged tools are included only
// when their scope matches.
func (p *Pipeline) Select(ctx context.Context, objective, scope string) (*Result, error) {
	pool := p.scoped(scope)
	if len(pool) == 0 {
		return &Result{}, nil
	}
	if strings.TrimSpace(objective) == "" {
		return &Result{Tools: pool}, nil
	}

	candidates, err := p.coarse(ctx, objective, pool)
	if err != nil {
		return nil, err
	}

	if p.ranker == nil || len(candidates) < 2 {
		return &Result{Tools: candidates}, nil
	}

	fine, err := p.fine(ctx, objective, candidates)
	if err != nil {
		p.log.Warn("rerank failed, using coarse order", "error", err)
		return &Result{Tools: candidates, Degraded: true}, nil
	}
	return &Result{Tools: fine}, nil
}

func (p *Pipeline) scoped(scope string) []*catalog.Tool {
	var pool []*catalog.Tool
	for _, t := range p.catalog.List() {
		if t.Scope == "" || t.Scope == scope {
			pool = append(pool, t)
		}
	}
	return pool
}

// coarse ranks pool by cosine similarity between the objective and each
// tool's relevance text, truncating to candidateK. Ties keep catalog
// registration order; the sort is stable so equal scores never reorder.
func (p *Pipeline) coarse(ctx context.Context, objective string, pool []*catalog.Tool) ([]*catalog.Tool, error) {
	texts := make([]string, 0, len(pool)+1)
	texts = append(texts, objective)
	for _, t := range pool {
		texts = append(texts, t.RelevanceText())
	}

	vecs, err := p.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, err
	}
	objVec := vecs[0]

	type scored struct {
		tool  *catalog.Tool
		score float32
	}
	ranked := make([]scored, len(pool))
	for i, t := range pool {
		ranked[i] = scored{tool: t, score: embeddings.CosineSimilarity(objVec, vecs[i+1])}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score > ranked[j].score
	})

	n := len(ranked)
	if p.candidateK > 0 && p.candidateK < n {
		n = p.candidateK
	}
	out := make([]*catalog.Tool, n)
	for i := range out {
		out[i] = ranked[i].tool
	}
	return out, nil
}

// fine reranks candidates through the cross-encoder and truncates to
// topN.
func (p *Pipeline) fine(ctx context.Context, objective string, candidates []*catalog.Tool) ([]*catalog.Tool, error) {
	docs := make([]string, len(candidates))
	for i, t := range candidates {
		docs[i] = t.RelevanceText()
	}

	scores, err := p.ranker.Rerank(ctx, objective, docs)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(scores, func(i, j int) bool {
		return scores[i].Relevance > scores[j].Relevance
	})

	n := len(scores)
	if p.topN > 0 && p.topN < n {
		n = p.topN
	}
	out := make([]*catalog.Tool, 0, n)
	seen := make(map[int]bool, n)
	for _, s := range scores {
		if len(out) == n {
			break
		}
		if seen[s.Index] {
			continue
		}
		seen[s.Index] = true
		out = append(out, candidates[s.Index])
	}
	return out, nil
}
