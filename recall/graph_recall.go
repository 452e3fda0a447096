package recall

import (
	"context"

	"github.com/rushteam/shelfrec/core"
	"github.com/rushteam/shelfrec/pkg/vecmath"
	"github.com/rushteam/shelfrec/sampling"
)

// GraphRecall 是基于图传播向量的召回源。
//
// 图训练只持久化图书向量；用户向量在请求时由其交互过的图书向量取平均得到
// （按交互计数，重复交互的图书权重更高），因此新交互无需让任何用户向量失效。
// 用户没有任何带图向量的交互时返回空结果。
type GraphRecall struct {
	Vectors      core.VectorStore
	Interactions core.InteractionStore

	// Policy 采样策略，为空时使用 sampling.GraphPolicy()
	Policy core.SamplingPolicy
}

func (r *GraphRecall) Name() string { return string(core.SourceGraph) }

func (r *GraphRecall) Recall(ctx context.Context, rctx *core.RecommendContext) ([]*core.Candidate, error) {
	if r.Vectors == nil || r.Interactions == nil || rctx == nil || rctx.UserID == "" {
		return nil, nil
	}

	query, err := r.userVector(ctx, rctx.UserID)
	if err != nil || len(query) == 0 {
		return nil, err
	}

	policy := r.Policy
	if policy == nil {
		policy = sampling.GraphPolicy()
	}
	scorer := vectorScorer{Vectors: r.Vectors, Kind: core.VectorKindGraph, Policy: policy, Source: core.SourceGraph}
	out, _, err := scorer.topK(ctx, query, rctx.Limit)
	return out, err
}

// userVector 是用户交互过的图书图向量的均值
func (r *GraphRecall) userVector(ctx context.Context, userID string) ([]float64, error) {
	interactions, err := r.Interactions.ListInteractions(ctx, userID)
	if err != nil || len(interactions) == 0 {
		return nil, err
	}

	ids := make([]int64, 0, len(interactions))
	seen := make(map[int64]struct{}, len(interactions))
	for _, in := range interactions {
		if _, ok := seen[in.BookID]; !ok {
			seen[in.BookID] = struct{}{}
			ids = append(ids, in.BookID)
		}
	}
	vectors, err := r.Vectors.BookVectors(ctx, core.VectorKindGraph, ids)
	if err != nil || len(vectors) == 0 {
		return nil, err
	}

	picked := make([][]float64, 0, len(interactions))
	for _, in := range interactions {
		if v, ok := vectors[in.BookID]; ok {
			picked = append(picked, v)
		}
	}
	return vecmath.Mean(picked)
}
