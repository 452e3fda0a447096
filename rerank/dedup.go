package rerank

import (
	"context"

	"github.com/rushteam/shelfrec/core"
	"github.com/rushteam/shelfrec/pipeline"
)

// DedupNode 按 book id 去重，保留第一次出现的候选。
type DedupNode struct{}

func (n *DedupNode) Name() string {
	return "rerank.dedup"
}

func (n *DedupNode) Kind() pipeline.Kind {
	return pipeline.KindReRank
}

func (n *DedupNode) Process(
	_ context.Context,
	_ *core.RecommendContext,
	candidates []*core.Candidate,
) ([]*core.Candidate, error) {
	seen := make(map[int64]struct{}, len(candidates))
	out := make([]*core.Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c == nil {
			continue
		}
		if _, ok := seen[c.BookID]; ok {
			continue
		}
		seen[c.BookID] = struct{}{}
		out = append(out, c)
	}
	return out, nil
}
