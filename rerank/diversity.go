package rerank

import (
	"context"
	"strings"

	"github.com/rushteam/shelfrec/core"
	"github.com/rushteam/shelfrec/pipeline"
)

// Diversity 限制同一作者（或同一主类型）的图书数量，超出 MaxPerKey 的候选被移除。
// 输入应已排好序，保留的是每个 key 下排名靠前的候选。
//
// key 来源：
//   - "author"：图书作者（默认）
//   - "genre"：图书的第一个类型
//   - 其他：同名 Label 的值
type Diversity struct {
	Key       string // 默认 "author"
	MaxPerKey int    // 默认 1
}

func (n *Diversity) Name() string {
	return "rerank.diversity"
}

func (n *Diversity) Kind() pipeline.Kind {
	return pipeline.KindReRank
}

func (n *Diversity) Process(
	_ context.Context,
	_ *core.RecommendContext,
	candidates []*core.Candidate,
) ([]*core.Candidate, error) {
	if len(candidates) == 0 {
		return candidates, nil
	}

	limit := n.MaxPerKey
	if limit <= 0 {
		limit = 1
	}

	counts := make(map[string]int, 32)
	out := make([]*core.Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c == nil {
			continue
		}
		key := n.keyOf(c)
		if key == "" {
			out = append(out, c)
			continue
		}
		if counts[key] >= limit {
			continue
		}
		counts[key]++
		out = append(out, c)
	}
	return out, nil
}

func (n *Diversity) keyOf(c *core.Candidate) string {
	key := n.Key
	if key == "" {
		key = "author"
	}
	switch key {
	case "author":
		if c.Book != nil {
			return strings.ToLower(strings.TrimSpace(c.Book.Author))
		}
	case "genre":
		if c.Book != nil && len(c.Book.Genres) > 0 {
			return strings.ToLower(c.Book.Genres[0])
		}
	default:
		if lbl, ok := c.Labels[key]; ok {
			return lbl.Value
		}
	}
	return ""
}
