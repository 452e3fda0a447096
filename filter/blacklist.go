package filter

import (
	"context"

	"github.com/rushteam/shelfrec/core"
)

// BlacklistStore 提供运营维护的黑名单
type BlacklistStore interface {
	GetBlacklist(ctx context.Context, key string) ([]int64, error)
}

// BlacklistFilter 移除下架或禁止推荐的图书：静态 BookIDs 加上存储中 Key 对应的名单。
// 存储名单每个请求只读一次，缓存在 rctx.Params 中。
type BlacklistFilter struct {
	BookIDs map[int64]struct{}
	Store   BlacklistStore
	Key     string
}

func NewBlacklistFilter(bookIDs []int64, adapter *StoreAdapter, key string) *BlacklistFilter {
	f := &BlacklistFilter{BookIDs: core.IDSet(bookIDs), Key: key}
	if adapter != nil {
		f.Store = adapter
	}
	return f
}

func (f *BlacklistFilter) Name() string { return "filter.blacklist" }

func (f *BlacklistFilter) ShouldFilter(ctx context.Context, rctx *core.RecommendContext, c *core.Candidate) (bool, error) {
	if c == nil {
		return true, nil
	}
	if _, ok := f.BookIDs[c.BookID]; ok {
		return true, nil
	}
	if f.Store == nil || f.Key == "" {
		return false, nil
	}

	stored, err := f.stored(ctx, rctx)
	if err != nil {
		return false, err
	}
	_, ok := stored[c.BookID]
	return ok, nil
}

func (f *BlacklistFilter) stored(ctx context.Context, rctx *core.RecommendContext) (map[int64]struct{}, error) {
	cacheKey := "blacklist:" + f.Key
	if rctx != nil {
		if cached, ok := rctx.Params[cacheKey].(map[int64]struct{}); ok {
			return cached, nil
		}
	}

	ids, err := f.Store.GetBlacklist(ctx, f.Key)
	if err != nil && !core.IsStoreNotFound(err) {
		return nil, err
	}
	set := core.IDSet(ids)
	if rctx != nil {
		if rctx.Params == nil {
			rctx.Params = make(map[string]any)
		}
		rctx.Params[cacheKey] = set
	}
	return set, nil
}
