package recall

import (
	"context"

	"github.com/rushteam/shelfrec/core"
)

// Source 表示一个可复用的召回源（内容/CF/图/交互模式）。
// 你可以把它理解为“可并发 fan-out 的策略单元”。
//
// 约定：
//   - 返回的候选数量不超过 rctx.Limit，按分数降序，同分按 book id 升序
//   - 缺少必要数据（用户没有向量、没有交互）时返回空结果而不是错误
//   - 返回错误时由 Fanout 吸收为 SourceUnavailable，不影响其他召回源
type Source interface {
	Name() string
	Recall(ctx context.Context, rctx *core.RecommendContext) ([]*core.Candidate, error)
}

// SourceFunc 把函数适配为 Source，便于测试与临时组合。
type SourceFunc struct {
	SourceName string
	Fn         func(ctx context.Context, rctx *core.RecommendContext) ([]*core.Candidate, error)
}

func (f SourceFunc) Name() string { return f.SourceName }

func (f SourceFunc) Recall(ctx context.Context, rctx *core.RecommendContext) ([]*core.Candidate, error) {
	return f.Fn(ctx, rctx)
}
