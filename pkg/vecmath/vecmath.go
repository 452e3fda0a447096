// Package vecmath 提供推荐链路共用的向量计算：余弦相似度、L2 归一化、均值。
// 所有函数都是纯函数，不修改入参。
package vecmath

import (
	"fmt"
	"math"

	"github.com/rushteam/shelfrec/core"
)

func mismatch(a, b int) error {
	return fmt.Errorf("%w: %d != %d", core.ErrDimensionMismatch, a, b)
}

// Cosine 计算余弦相似度。长度不一致返回 ErrDimensionMismatch；
// 任一向量范数为 0 时返回 0，避免 NaN 在排序中扩散。
func Cosine(a, b []float64) (float64, error) {
	if len(a) != len(b) {
		return 0, mismatch(len(a), len(b))
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}

// Dot 计算点积
func Dot(a, b []float64) (float64, error) {
	if len(a) != len(b) {
		return 0, mismatch(len(a), len(b))
	}
	var sum float64
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum, nil
}

// Norm 返回 L2 范数
func Norm(v []float64) float64 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	return math.Sqrt(sum)
}

// Normalize 返回单位向量；零向量原样返回（拷贝）。
func Normalize(v []float64) []float64 {
	out := make([]float64, len(v))
	copy(out, v)
	n := Norm(v)
	if n == 0 {
		return out
	}
	for i := range out {
		out[i] /= n
	}
	return out
}

// Mean 返回逐维均值，所有向量长度必须一致。空输入返回 nil。
func Mean(vectors [][]float64) ([]float64, error) {
	if len(vectors) == 0 {
		return nil, nil
	}
	dim := len(vectors[0])
	out := make([]float64, dim)
	for _, v := range vectors {
		if len(v) != dim {
			return nil, mismatch(dim, len(v))
		}
		for i, x := range v {
			out[i] += x
		}
	}
	n := float64(len(vectors))
	for i := range out {
		out[i] /= n
	}
	return out, nil
}

// Clamp 把 x 限制在 [lo, hi]
func Clamp(x, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, x))
}
