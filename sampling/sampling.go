// Package sampling 实现候选采样策略：把每次打分的图书数量限制在固定上限内，
// 同时覆盖热门与长尾。
package sampling

import (
	"math"
	"sort"

	"github.com/rushteam/shelfrec/core"
)

// 各召回源的默认采样参数
const (
	DefaultSampleSize      = 10000
	DefaultPopularFraction = 0.6
	DefaultCFSampleSize    = 2000
	DefaultCFPopular       = 0.8
	DefaultStride          = 7
)

// PopularityStride 是热门优先 + 固定步长的确定性采样。
//
// 规则：
//   - 符合条件的图书数 <= SampleSize 时全部返回
//   - 否则先按交互次数降序取 floor(SampleSize*PopularFraction) 本（同分按 ID 升序）
//   - 剩余名额按 ID 升序取 id%Stride==0 的图书
//   - 仍不足时按 ID 升序补齐
//
// 结果按选中顺序返回，同样的输入永远得到同样的输出。
type PopularityStride struct {
	SampleSize      int
	PopularFraction float64
	Stride          int64
}

var _ core.SamplingPolicy = (*PopularityStride)(nil)

// ContentPolicy 是内容召回的默认策略
func ContentPolicy() *PopularityStride {
	return &PopularityStride{SampleSize: DefaultSampleSize, PopularFraction: DefaultPopularFraction, Stride: DefaultStride}
}

// CFPolicy 是协同过滤召回的默认策略，样本更小、热门占比更高
func CFPolicy() *PopularityStride {
	return &PopularityStride{SampleSize: DefaultCFSampleSize, PopularFraction: DefaultCFPopular, Stride: DefaultStride}
}

// GraphPolicy 是图召回的默认策略
func GraphPolicy() *PopularityStride {
	return ContentPolicy()
}

// Quotas 返回样本上限、热门名额与步长，size <= 0 表示不限。
func (p *PopularityStride) Quotas() (size, popular int, stride int64) {
	size = p.SampleSize
	frac := min(max(p.PopularFraction, 0), 1)
	popular = int(math.Floor(float64(size) * frac))
	stride = p.Stride
	if stride <= 0 {
		stride = DefaultStride
	}
	return size, popular, stride
}

func (p *PopularityStride) Select(eligible []core.BookPopularity) []int64 {
	if len(eligible) == 0 {
		return nil
	}

	size, popular, stride := p.Quotas()
	if size <= 0 || len(eligible) <= size {
		ids := make([]int64, len(eligible))
		for i, b := range eligible {
			ids[i] = b.ID
		}
		return ids
	}

	byPopularity := make([]core.BookPopularity, len(eligible))
	copy(byPopularity, eligible)
	sort.SliceStable(byPopularity, func(i, j int) bool {
		if byPopularity[i].InteractionCount != byPopularity[j].InteractionCount {
			return byPopularity[i].InteractionCount > byPopularity[j].InteractionCount
		}
		return byPopularity[i].ID < byPopularity[j].ID
	})

	selected := make([]int64, 0, size)
	seen := make(map[int64]struct{}, size)
	for _, b := range byPopularity[:popular] {
		selected = append(selected, b.ID)
		seen[b.ID] = struct{}{}
	}

	byID := make([]int64, 0, len(eligible)-popular)
	for _, b := range eligible {
		if _, ok := seen[b.ID]; !ok {
			byID = append(byID, b.ID)
		}
	}
	sort.Slice(byID, func(i, j int) bool { return byID[i] < byID[j] })

	for _, id := range byID {
		if len(selected) >= size {
			return selected
		}
		if id%stride == 0 {
			selected = append(selected, id)
			seen[id] = struct{}{}
		}
	}
	for _, id := range byID {
		if len(selected) >= size {
			break
		}
		if _, ok := seen[id]; !ok {
			selected = append(selected, id)
		}
	}
	return selected
}
