package filter

import (
	"context"

	"github.com/rushteam/shelfrec/core"
)

// InteractedFilter 过滤掉用户已经交互过的图书。
//
// 排除集合来源：
//  1. rctx.Exclude 非 nil 时直接使用（评估时传入训练集图书，覆盖存储中的交互）
//  2. 否则从 InteractionStore 加载一次，并写回 rctx.Exclude 供同一请求后续复用
type InteractedFilter struct {
	Interactions core.InteractionStore
}

func NewInteractedFilter(interactions core.InteractionStore) *InteractedFilter {
	return &InteractedFilter{Interactions: interactions}
}

func (f *InteractedFilter) Name() string {
	return "filter.interacted"
}

func (f *InteractedFilter) ShouldFilter(
	ctx context.Context,
	rctx *core.RecommendContext,
	c *core.Candidate,
) (bool, error) {
	if c == nil || rctx == nil {
		return false, nil
	}
	if rctx.Exclude == nil {
		if err := f.load(ctx, rctx); err != nil {
			return false, err
		}
	}
	return rctx.IsExcluded(c.BookID), nil
}

func (f *InteractedFilter) load(ctx context.Context, rctx *core.RecommendContext) error {
	if f.Interactions == nil || rctx.UserID == "" {
		rctx.Exclude = map[int64]struct{}{}
		return nil
	}
	list, err := f.Interactions.ListInteractions(ctx, rctx.UserID)
	if err != nil {
		return err
	}
	exclude := make(map[int64]struct{}, len(list))
	for _, in := range list {
		exclude[in.BookID] = struct{}{}
	}
	rctx.Exclude = exclude
	return nil
}
