package rerank

import (
	"context"

	"github.com/rushteam/shelfrec/core"
	"github.com/rushteam/shelfrec/pipeline"
	"github.com/rushteam/shelfrec/recall"
)

// SortNode 按分档 + 分数降序排序，同分 book id 小的在前。
// Tiers 为空时使用 core.DefaultSortTiers。
type SortNode struct {
	Tiers []core.Source
}

func (n *SortNode) Name() string {
	return "rerank.sort"
}

func (n *SortNode) Kind() pipeline.Kind {
	return pipeline.KindReRank
}

func (n *SortNode) Process(
	_ context.Context,
	_ *core.RecommendContext,
	candidates []*core.Candidate,
) ([]*core.Candidate, error) {
	recall.RankCandidates(candidates, n.Tiers)
	return candidates, nil
}
