package recall

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/rushteam/shelfrec/core"
	"github.com/rushteam/shelfrec/pkg/utils"
)

// RecentScore 是“任意未交互图书”兜底层级的固定分数
const RecentScore = 0.5

// RecentRecall 返回用户未交互过的图书，按目录 ID 降序（目录新近程度）。
type RecentRecall struct {
	Interactions core.InteractionStore
	Catalog      core.BookCatalog
}

func (r *RecentRecall) Name() string { return "fallback.recent" }

func (r *RecentRecall) Recall(ctx context.Context, rctx *core.RecommendContext) ([]*core.Candidate, error) {
	if r.Catalog == nil || rctx == nil || rctx.Limit <= 0 {
		return nil, nil
	}

	exclude := rctx.Exclude
	if exclude == nil && r.Interactions != nil && rctx.UserID != "" {
		list, err := r.Interactions.ListInteractions(ctx, rctx.UserID)
		if err != nil {
			return nil, err
		}
		exclude = make(map[int64]struct{}, len(list))
		for _, in := range list {
			exclude[in.BookID] = struct{}{}
		}
	}

	books, err := r.Catalog.ListRecent(ctx, exclude, rctx.Limit)
	if err != nil {
		return nil, err
	}
	out := make([]*core.Candidate, 0, len(books))
	for _, b := range books {
		c := core.NewCandidate(b.ID, RecentScore, core.SourceFallback)
		c.Book = b
		c.PutLabel(utils.LabelRecallSource, utils.RecallLabel(r.Name()))
		out = append(out, c)
	}
	return out, nil
}

// FallbackChain 在所有信号都没有结果时按顺序尝试兜底层级：
// 上一层产出为空（或失败）才尝试下一层，第一个非空层级的结果即为最终结果。
//
// 只有最后一层也失败、且没有任何层级产出时，才返回 ErrNoCandidatesFound；
// 所有层级都成功但为空（例如目录为空）返回空结果、无错误。
type FallbackChain struct {
	Tiers  []Source
	Logger zerolog.Logger
}

// NewFallbackChain 返回默认的两层兜底：交互模式匹配 → 任意未交互图书。
func NewFallbackChain(interactions core.InteractionStore, catalog core.BookCatalog, logger zerolog.Logger) *FallbackChain {
	return &FallbackChain{
		Tiers: []Source{
			&PatternRecall{Interactions: interactions, Catalog: catalog, SourceTag: core.SourceFallback},
			&RecentRecall{Interactions: interactions, Catalog: catalog},
		},
		Logger: logger,
	}
}

// Run 返回第一个非空层级的候选及其名称。
func (f *FallbackChain) Run(ctx context.Context, rctx *core.RecommendContext) ([]*core.Candidate, string, error) {
	var lastErr error
	for _, tier := range f.Tiers {
		out, err := tier.Recall(ctx, rctx)
		if err != nil {
			f.Logger.Warn().Err(err).Str("tier", tier.Name()).Msg("fallback tier failed")
			lastErr = err
			continue
		}
		lastErr = nil
		if len(out) > 0 {
			return out, tier.Name(), nil
		}
	}
	if lastErr != nil {
		return nil, "", fmt.Errorf("%w: %v", core.ErrNoCandidatesFound, lastErr)
	}
	return nil, "", nil
}
