package filter

import (
	"context"

	"github.com/rushteam/shelfrec/core"
	"github.com/rushteam/shelfrec/pkg/dsl"
)

// ExprFilter 用 CEL 表达式过滤候选：表达式为 true 的候选被移除。
// Invert 为 true 时反过来，只保留表达式为 true 的候选。
//
// 示例：
//
//	book.score < 0.1
//	"horror" in book.genres
//	book.source == "graph" && book.score < 0.3
type ExprFilter struct {
	Expr   string
	Invert bool
}

func NewExprFilter(expr string, invert bool) (*ExprFilter, error) {
	// 提前编译，配置错误在构建 Pipeline 时暴露
	if _, err := dsl.Compile(expr); err != nil {
		return nil, err
	}
	return &ExprFilter{Expr: expr, Invert: invert}, nil
}

func (f *ExprFilter) Name() string {
	return "filter.expr"
}

func (f *ExprFilter) ShouldFilter(
	_ context.Context,
	rctx *core.RecommendContext,
	c *core.Candidate,
) (bool, error) {
	if c == nil || f.Expr == "" {
		return false, nil
	}
	ok, err := dsl.NewEval(c, rctx).Evaluate(f.Expr)
	if err != nil {
		return false, err
	}
	return ok != f.Invert, nil
}
