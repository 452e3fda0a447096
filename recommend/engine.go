// Package recommend 是融合排序引擎：门槛判断 → 并发召回 → 优先级融合 → 排除已交互 →
// 兜底 → 排序截断 → 补全图书元数据。
package recommend

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/rushteam/shelfrec/core"
	"github.com/rushteam/shelfrec/filter"
	"github.com/rushteam/shelfrec/pipeline"
	"github.com/rushteam/shelfrec/pkg/logging"
	"github.com/rushteam/shelfrec/pkg/metrics"
	"github.com/rushteam/shelfrec/recall"
	"github.com/rushteam/shelfrec/rerank"
)

const (
	// DefaultMinInteractions 是个性化门槛
	DefaultMinInteractions = 3

	// DefaultLimit 是请求未指定数量时的推荐数
	DefaultLimit = 10

	// overFetch 召回源与兜底层级按 limit 的倍数取候选，给排除与去重留余量
	overFetch = 2
)

// Request 是一次推荐请求。
type Request struct {
	UserID string
	Limit  int

	// Exclude 非 nil 时替代存储中的已交互集合（评估时传入训练集图书）
	Exclude map[int64]struct{}
}

// Result 是推荐结果。
type Result struct {
	Books    []core.Book                  `json:"recommendations"`
	Metadata core.PersonalizationMetadata `json:"metadata"`
}

// Deps 是引擎依赖的存储与编码能力，由调用方显式注入。
type Deps struct {
	Vectors      core.VectorStore
	Interactions core.InteractionStore
	Users        core.UserStore
	Catalog      core.BookCatalog

	// Encoder 用于即时编码 KYC 偏好，可为空
	Encoder core.TextEncoder
}

// Engine 是融合排序引擎，构建后可并发使用。
type Engine struct {
	deps Deps

	minInteractions int
	enablePattern   bool
	sourceTimeout   time.Duration
	maxConcurrent   int

	contentPolicy core.SamplingPolicy
	cfPolicy      core.SamplingPolicy
	graphPolicy   core.SamplingPolicy

	sources  []recall.Source
	fanout   *recall.Fanout
	exclude  pipeline.Node
	pipeline *pipeline.Pipeline
	fallback *recall.FallbackChain

	logger zerolog.Logger
}

// NewEngine 创建引擎。
func NewEngine(deps Deps, opts ...Option) *Engine {
	e := &Engine{
		deps:            deps,
		minInteractions: DefaultMinInteractions,
		logger:          zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.sources == nil {
		e.sources = e.defaultSources()
	}
	e.fanout = &recall.Fanout{
		Sources:       e.sources,
		Timeout:       e.sourceTimeout,
		MaxConcurrent: e.maxConcurrent,
		Logger:        e.logger,
	}
	e.exclude = &filter.FilterNode{
		Filters: []filter.Filter{filter.NewInteractedFilter(deps.Interactions)},
		Logger:  e.logger,
	}
	if e.pipeline == nil {
		e.pipeline = DefaultPipeline(deps.Interactions, e.logger)
	}
	if e.fallback == nil {
		e.fallback = recall.NewFallbackChain(deps.Interactions, deps.Catalog, e.logger)
	}
	e.logger.Debug().
		Int("sources", len(e.sources)).
		Strs("pipeline", e.pipeline.Names()).
		Int("min_interactions", e.minInteractions).
		Msg("recommend engine ready")
	return e
}

func (e *Engine) defaultSources() []recall.Source {
	sources := make([]recall.Source, 0, 4)
	if e.enablePattern {
		sources = append(sources, &recall.PatternRecall{Interactions: e.deps.Interactions, Catalog: e.deps.Catalog})
	}
	return append(sources,
		&recall.ContentRecall{Vectors: e.deps.Vectors, Users: e.deps.Users, Encoder: e.deps.Encoder, Policy: e.contentPolicy},
		&recall.CFRecall{Vectors: e.deps.Vectors, Policy: e.cfPolicy},
		&recall.GraphRecall{Vectors: e.deps.Vectors, Interactions: e.deps.Interactions, Policy: e.graphPolicy},
	)
}

// DefaultPipeline 返回默认的融合后处理链。
func DefaultPipeline(interactions core.InteractionStore, logger zerolog.Logger) *pipeline.Pipeline {
	return &pipeline.Pipeline{Nodes: []pipeline.Node{
		&filter.FilterNode{Filters: []filter.Filter{filter.NewInteractedFilter(interactions)}, Logger: logger},
		&rerank.DedupNode{},
		&rerank.SortNode{},
		&rerank.TopNNode{},
	}}
}

// Sources 返回当前启用的召回源名称
func (e *Engine) Sources() []string {
	names := make([]string, len(e.sources))
	for i, s := range e.sources {
		names[i] = s.Name()
	}
	return names
}

// Recommend 为用户生成推荐。
//
// 交互数低于门槛时返回空列表（不是错误）；单个召回源失败只会让它贡献 0 个候选；
// 只有兜底链也全部失败时才返回 core.ErrNoCandidatesFound。
func (e *Engine) Recommend(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	if logging.RequestIDFromContext(ctx) == "" {
		ctx = logging.ContextWithRequestID(ctx, logging.NewRequestID())
	}
	log := logging.Ctx(ctx, e.logger).With().Str("user_id", req.UserID).Logger()

	res, outcome, err := e.recommend(ctx, req, log)
	metrics.RecordRecommend(outcome, time.Since(start))
	if err != nil {
		log.Error().Err(err).Dur("elapsed", time.Since(start)).Msg("recommend failed")
		return nil, err
	}
	log.Info().
		Str("outcome", outcome).
		Int("count", len(res.Books)).
		Int("interactions", res.Metadata.InteractionCount).
		Dur("elapsed", time.Since(start)).
		Msg("recommend")
	return res, nil
}

func (e *Engine) recommend(ctx context.Context, req Request, log zerolog.Logger) (*Result, string, error) {
	if req.UserID == "" {
		return nil, "error", core.NewDomainError(core.ModuleRecommend, core.ErrorCodeInvalidInput, "user id is required")
	}
	limit := req.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	count, err := e.deps.Interactions.CountInteractions(ctx, req.UserID)
	if err != nil {
		return nil, "error", fmt.Errorf("count interactions: %w", err)
	}
	meta := core.PersonalizationMetadata{
		InteractionCount: count,
		MinRequired:      e.minInteractions,
		NeedsMore:        max(0, e.minInteractions-count),
	}
	if count < e.minInteractions {
		log.Debug().Int("interactions", count).Msg("below personalization threshold")
		return &Result{Books: []core.Book{}, Metadata: meta}, "gated", nil
	}

	rctx := &core.RecommendContext{
		UserID:  req.UserID,
		Limit:   limit * overFetch,
		Exclude: req.Exclude,
	}

	merged, err := e.fanout.Process(ctx, rctx, nil)
	if err != nil {
		return nil, "error", err
	}
	// 排除已交互必须执行，自定义 Pipeline 只决定之后的处理
	candidates, err := e.exclude.Process(ctx, rctx, merged)
	if err != nil {
		return nil, "error", err
	}

	outcome := "personalized"
	if len(candidates) > 0 {
		rctx.Limit = limit
		candidates, err = e.pipeline.Run(ctx, rctx, candidates)
		if err != nil {
			return nil, "error", err
		}
	}
	if len(candidates) == 0 {
		rctx.Limit = limit * overFetch
		fb, tier, err := e.fallback.Run(ctx, rctx)
		if err != nil {
			return nil, "error", err
		}
		// 兜底候选按得分降序，同分取较小的书籍ID
		recall.SortCandidates(fb)
		log.Debug().Str("tier", tier).Int("candidates", len(fb)).Msg("fallback")
		candidates = fb
		outcome = "fallback"
	}

	candidates = truncate(dedup(candidates), limit)
	books, err := e.hydrate(ctx, candidates)
	if err != nil {
		return nil, "error", err
	}
	if len(books) == 0 {
		outcome = "empty"
	}

	meta.IsPersonalized = len(books) > 0
	return &Result{Books: books, Metadata: meta}, outcome, nil
}

// hydrate 补全候选的图书元数据，目录中已不存在的图书被丢弃
func (e *Engine) hydrate(ctx context.Context, candidates []*core.Candidate) ([]core.Book, error) {
	missing := make([]int64, 0)
	for _, c := range candidates {
		if c.Book == nil {
			missing = append(missing, c.BookID)
		}
	}
	var loaded map[int64]*core.Book
	if len(missing) > 0 {
		var err error
		loaded, err = e.deps.Catalog.GetBooks(ctx, missing)
		if err != nil {
			return nil, fmt.Errorf("load books: %w", err)
		}
	}

	books := make([]core.Book, 0, len(candidates))
	for _, c := range candidates {
		b := c.Book
		if b == nil {
			b = loaded[c.BookID]
		}
		if b == nil {
			continue
		}
		book := *b
		book.Score = c.Score
		books = append(books, book)
	}
	return books, nil
}

func dedup(cs []*core.Candidate) []*core.Candidate {
	seen := make(map[int64]struct{}, len(cs))
	out := cs[:0]
	for _, c := range cs {
		if c == nil {
			continue
		}
		if _, ok := seen[c.BookID]; ok {
			continue
		}
		seen[c.BookID] = struct{}{}
		out = append(out, c)
	}
	return out
}

func truncate(cs []*core.Candidate, limit int) []*core.Candidate {
	if len(cs) > limit {
		return cs[:limit]
	}
	return cs
}
