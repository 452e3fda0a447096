package core

import "github.com/rushteam/shelfrec/pkg/utils"

// RecommendContext 承载单次推荐请求的用户与参数，贯穿召回、过滤、重排透传。
type RecommendContext struct {
	UserID string

	// Limit 是当前阶段需要的候选数量。融合引擎调用召回源时会放大为 2×limit。
	Limit int

	// Exclude 是需要排除的图书（通常是用户已交互过的图书）。
	// nil 表示未知，过滤器会尝试从存储中加载；非 nil（包括空集合）则直接使用。
	Exclude map[int64]struct{}

	// Labels 是用户级标签，可驱动整个 Pipeline 行为
	Labels map[string]utils.Label

	// Params 请求级上下文参数
	Params map[string]any
}

// IsExcluded 判断图书是否在排除集合中。
func (rctx *RecommendContext) IsExcluded(bookID int64) bool {
	if rctx == nil || rctx.Exclude == nil {
		return false
	}
	_, ok := rctx.Exclude[bookID]
	return ok
}

// PutLabel 写入用户级 Label。
func (rctx *RecommendContext) PutLabel(key string, lbl utils.Label) {
	if rctx.Labels == nil {
		rctx.Labels = make(map[string]utils.Label)
	}
	if old, ok := rctx.Labels[key]; ok {
		rctx.Labels[key] = utils.MergeLabel(old, lbl)
		return
	}
	rctx.Labels[key] = lbl
}

// GetLabel 获取用户级 Label。
func (rctx *RecommendContext) GetLabel(key string) (utils.Label, bool) {
	if rctx.Labels == nil {
		return utils.Label{}, false
	}
	lbl, ok := rctx.Labels[key]
	return lbl, ok
}

// IDSet 把图书 ID 列表转为集合。
func IDSet(ids []int64) map[int64]struct{} {
	set := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
