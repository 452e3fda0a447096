package eval

import (
	"math"

	"github.com/rushteam/shelfrec/pkg/vecmath"
)

// PrecisionAtK = 前 k 个推荐中命中的数量 / k
func PrecisionAtK(recommended []int64, relevant map[int64]struct{}, k int) float64 {
	if k <= 0 {
		return 0
	}
	return float64(hitsAtK(recommended, relevant, k)) / float64(k)
}

// RecallAtK = 前 k 个推荐中命中的数量 / 相关图书总数
func RecallAtK(recommended []int64, relevant map[int64]struct{}, k int) float64 {
	if len(relevant) == 0 {
		return 0
	}
	return float64(hitsAtK(recommended, relevant, k)) / float64(len(relevant))
}

// NDCGAtK 使用二元相关性，位置 i（从 1 开始）的折损为 1/log2(i+1)；
// 理想 DCG 按 min(|relevant|, k) 个命中计算。
func NDCGAtK(recommended []int64, relevant map[int64]struct{}, k int) float64 {
	if k <= 0 || len(relevant) == 0 {
		return 0
	}
	var dcg float64
	for i, id := range topK(recommended, k) {
		if _, ok := relevant[id]; ok {
			dcg += 1 / math.Log2(float64(i+2))
		}
	}
	var idcg float64
	for i := 0; i < min(len(relevant), k); i++ {
		idcg += 1 / math.Log2(float64(i+2))
	}
	return dcg / idcg
}

func hitsAtK(recommended []int64, relevant map[int64]struct{}, k int) int {
	hits := 0
	for _, id := range topK(recommended, k) {
		if _, ok := relevant[id]; ok {
			hits++
		}
	}
	return hits
}

func topK(ids []int64, k int) []int64 {
	if len(ids) > k {
		return ids[:k]
	}
	return ids
}

// RatingPredictor 由用户与图书的 cf 向量预测评分。
type RatingPredictor interface {
	Name() string
	Predict(user, book []float64) (float64, error)
}

// CosineRatingPredictor 把余弦相似度线性映射到评分区间：2 + 3*clamp(cos, -1, 1)。
// 结果落在 [-1, 5]，与 [0, 5] 的评分刻度不完全对齐，仅作为基线。
type CosineRatingPredictor struct{}

func (CosineRatingPredictor) Name() string { return "cosine" }

func (CosineRatingPredictor) Predict(user, book []float64) (float64, error) {
	cos, err := vecmath.Cosine(user, book)
	if err != nil {
		return 0, err
	}
	return 2.0 + 3.0*vecmath.Clamp(cos, -1, 1), nil
}

// DotRatingPredictor 直接使用 ALS 的点积作为预测评分，并截断到 [0, 5]。
type DotRatingPredictor struct{}

func (DotRatingPredictor) Name() string { return "dot" }

func (DotRatingPredictor) Predict(user, book []float64) (float64, error) {
	dot, err := vecmath.Dot(user, book)
	if err != nil {
		return 0, err
	}
	return vecmath.Clamp(dot, 0, 5), nil
}
