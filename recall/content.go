package recall

import (
	"context"

	"github.com/rushteam/shelfrec/core"
	"github.com/rushteam/shelfrec/encoder"
	"github.com/rushteam/shelfrec/sampling"
)

// ContentRecall 是基于内容/KYC 向量的召回源。
//
// 用户侧向量：优先读取已存储的 KYC 向量；没有时由偏好文本即时编码（不回写存储，
// 推荐请求对向量只读）。图书侧：采样得到的 content 向量，按余弦相似度取 TopK。
//
// 用户没有 KYC 向量也没有偏好、或没有配置编码器时返回空结果。
type ContentRecall struct {
	Vectors core.VectorStore
	Users   core.UserStore

	// Encoder 用于即时编码偏好文本，可为空
	Encoder core.TextEncoder

	// Policy 采样策略，为空时使用 sampling.ContentPolicy()
	Policy core.SamplingPolicy
}

func (r *ContentRecall) Name() string { return string(core.SourceContent) }

func (r *ContentRecall) Recall(ctx context.Context, rctx *core.RecommendContext) ([]*core.Candidate, error) {
	if r.Vectors == nil || rctx == nil || rctx.UserID == "" {
		return nil, nil
	}

	query, err := r.userVector(ctx, rctx.UserID)
	if err != nil || len(query) == 0 {
		return nil, err
	}

	policy := r.Policy
	if policy == nil {
		policy = sampling.ContentPolicy()
	}
	scorer := vectorScorer{Vectors: r.Vectors, Kind: core.VectorKindContent, Policy: policy, Source: core.SourceContent}
	out, _, err := scorer.topK(ctx, query, rctx.Limit)
	return out, err
}

func (r *ContentRecall) userVector(ctx context.Context, userID string) ([]float64, error) {
	vec, err := r.Vectors.GetUserVector(ctx, userID, core.VectorKindKYC)
	if err != nil {
		return nil, err
	}
	if len(vec) > 0 {
		return vec, nil
	}

	if r.Users == nil || r.Encoder == nil {
		return nil, nil
	}
	user, err := r.Users.GetUser(ctx, userID)
	if err != nil {
		if core.IsStoreNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	text := encoder.KYCText(user.Preferences)
	if text == "" {
		return nil, nil
	}
	return r.Encoder.Encode(ctx, text)
}
