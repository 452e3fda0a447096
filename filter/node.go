package filter

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/rushteam/shelfrec/core"
	"github.com/rushteam/shelfrec/pipeline"
)

// FilterNode 是过滤 Node，可以组合多个过滤器进行过滤。
// 任何一个过滤器返回 true，该候选就会被过滤掉。
type FilterNode struct {
	Filters []Filter
	Logger  zerolog.Logger
}

func (n *FilterNode) Name() string {
	return "filter.node"
}

func (n *FilterNode) Kind() pipeline.Kind {
	return pipeline.KindFilter
}

func (n *FilterNode) Process(
	ctx context.Context,
	rctx *core.RecommendContext,
	candidates []*core.Candidate,
) ([]*core.Candidate, error) {
	if len(n.Filters) == 0 || len(candidates) == 0 {
		return candidates, nil
	}

	out := make([]*core.Candidate, 0, len(candidates))
	filtered := 0
	for _, c := range candidates {
		if c == nil {
			continue
		}
		if reason := n.check(ctx, rctx, c); reason != "" {
			filtered++
			continue
		}
		out = append(out, c)
	}

	if filtered > 0 {
		n.Logger.Debug().Int("filtered", filtered).Int("kept", len(out)).Msg("filter node")
	}
	return out, nil
}

// check 返回命中的过滤器名称；过滤器出错时记录日志并视为未命中
func (n *FilterNode) check(ctx context.Context, rctx *core.RecommendContext, c *core.Candidate) string {
	for _, f := range n.Filters {
		ok, err := f.ShouldFilter(ctx, rctx, c)
		if err != nil {
			n.Logger.Warn().Err(err).Str("filter", f.Name()).Int64("book_id", c.BookID).Msg("filter error")
			continue
		}
		if ok {
			return f.Name()
		}
	}
	return ""
}
