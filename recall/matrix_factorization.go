package recall

import (
	"context"

	"github.com/rushteam/shelfrec/core"
	"github.com/rushteam/shelfrec/pkg/vecmath"
	"github.com/rushteam/shelfrec/sampling"
)

// CFRecall 是基于矩阵分解（ALS）隐向量的协同过滤召回源。
//
// 核心思想：用户-物品交互矩阵分解为用户隐向量和物品隐向量，离线由 train.ALSTrainer 产出，
// 在线查表。用户向量归一化后与采样图书的 cf 向量计算余弦相似度。
//
// 工程特征：
//   - 实时性：好（离线训练，在线查表）
//   - 计算复杂度：低（采样后的向量点积）
//   - 冷启动：差，没有 CF 向量的用户返回空结果（不是错误）
type CFRecall struct {
	Vectors core.VectorStore

	// Policy 采样策略，为空时使用 sampling.CFPolicy()
	Policy core.SamplingPolicy
}

func (r *CFRecall) Name() string { return string(core.SourceCF) }

func (r *CFRecall) Recall(ctx context.Context, rctx *core.RecommendContext) ([]*core.Candidate, error) {
	if r.Vectors == nil || rctx == nil || rctx.UserID == "" {
		return nil, nil
	}

	userVector, err := r.Vectors.GetUserVector(ctx, rctx.UserID, core.VectorKindCF)
	if err != nil || len(userVector) == 0 {
		return nil, err
	}
	// 零向量与任何图书都没有方向，视同没有 cf 向量
	if vecmath.Norm(userVector) == 0 {
		return nil, nil
	}

	policy := r.Policy
	if policy == nil {
		policy = sampling.CFPolicy()
	}
	scorer := vectorScorer{Vectors: r.Vectors, Kind: core.VectorKindCF, Policy: policy, Source: core.SourceCF}
	out, _, err := scorer.topK(ctx, vecmath.Normalize(userVector), rctx.Limit)
	return out, err
}
