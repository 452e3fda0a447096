package core

import "github.com/rushteam/shelfrec/pkg/utils"

// Source 标记候选的来源信号。
type Source string

const (
	SourcePattern  Source = "pattern"  // 交互模式信号：与历史同类型/同作者
	SourceContent  Source = "content"  // 内容/KYC 向量
	SourceCF       Source = "cf"       // 协同过滤隐向量
	SourceGraph    Source = "graph"    // 图传播向量
	SourceFallback Source = "fallback" // 兜底层级
)

// DefaultPrecedence 是融合时的来源优先级，越靠前优先级越高。
// 相同 book id 出现在多个来源时保留优先级最高的那一个。
var DefaultPrecedence = []Source{SourcePattern, SourceContent, SourceCF, SourceGraph, SourceFallback}

// DefaultSortTiers 是排序时整体排在其他来源之前的来源。
// 不在列表中的来源（各向量信号）同处最后一档，只按分数比较。
var DefaultSortTiers = []Source{SourcePattern}

// Candidate 是推荐链路中的统一承载结构：单次请求内的打分候选，不会被持久化。
// Labels 用于解释与观测；Score 用于排序决策。
type Candidate struct {
	BookID int64
	Score  float64
	Source Source

	// Book 是候选对应的图书元数据，召回时可能为空，由融合引擎补齐
	Book *Book

	Labels map[string]utils.Label
}

func NewCandidate(bookID int64, score float64, source Source) *Candidate {
	return &Candidate{
		BookID: bookID,
		Score:  score,
		Source: source,
		Labels: make(map[string]utils.Label),
	}
}

// PutLabel 写入 Label；若已存在同名 key，则按默认 Merge 规则累积。
func (c *Candidate) PutLabel(key string, lbl utils.Label) {
	if c.Labels == nil {
		c.Labels = make(map[string]utils.Label)
	}
	if old, ok := c.Labels[key]; ok {
		c.Labels[key] = utils.MergeLabel(old, lbl)
		return
	}
	c.Labels[key] = lbl
}

// PersonalizationMetadata 描述一次推荐是否个性化以及距离门槛还差多少交互。
type PersonalizationMetadata struct {
	IsPersonalized   bool `json:"is_personalized"`
	InteractionCount int  `json:"interaction_count"`
	MinRequired      int  `json:"min_required"`
	NeedsMore        int  `json:"needs_more"`
}
