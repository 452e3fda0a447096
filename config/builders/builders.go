// Package builders 注册内置的 Pipeline 节点构建器。
package builders

import (
	"fmt"

	"github.com/rushteam/shelfrec/config"
	"github.com/rushteam/shelfrec/core"
	"github.com/rushteam/shelfrec/filter"
	"github.com/rushteam/shelfrec/pipeline"
	"github.com/rushteam/shelfrec/pkg/conv"
	"github.com/rushteam/shelfrec/rerank"
)

func init() {
	config.Register("filter.interacted", BuildInteractedFilterNode)
	config.Register("filter.expr", BuildExprFilterNode)
	config.Register("filter.blacklist", BuildBlacklistFilterNode)
	config.Register("rerank.dedup", BuildDedupNode)
	config.Register("rerank.sort", BuildSortNode)
	config.Register("rerank.topn", BuildTopNNode)
	config.Register("rerank.diversity", BuildDiversityNode)
}

func BuildInteractedFilterNode(_ map[string]any, deps *pipeline.Deps) (pipeline.Node, error) {
	return &filter.FilterNode{
		Filters: []filter.Filter{filter.NewInteractedFilter(deps.Interactions)},
		Logger:  deps.Logger,
	}, nil
}

// BuildExprFilterNode 配置：expr（必填）、invert（可选，true 时只保留命中表达式的候选）
func BuildExprFilterNode(cfg map[string]any, deps *pipeline.Deps) (pipeline.Node, error) {
	expr := conv.ConfigGet(cfg, "expr", "")
	if expr == "" {
		return nil, fmt.Errorf("expr not found")
	}
	f, err := filter.NewExprFilter(expr, conv.ConfigGet(cfg, "invert", false))
	if err != nil {
		return nil, fmt.Errorf("compile expr: %w", err)
	}
	return &filter.FilterNode{Filters: []filter.Filter{f}, Logger: deps.Logger}, nil
}

// BuildBlacklistFilterNode 配置：book_ids（内存黑名单）、key（KV 中的 JSON 黑名单，需要 deps.KV）
func BuildBlacklistFilterNode(cfg map[string]any, deps *pipeline.Deps) (pipeline.Node, error) {
	ids := conv.SliceAnyToInt64(cfg["book_ids"])
	key := conv.ConfigGet(cfg, "key", "")
	var adapter *filter.StoreAdapter
	if key != "" {
		if deps.KV == nil {
			return nil, fmt.Errorf("blacklist key %q requires a kv store", key)
		}
		adapter = filter.NewStoreAdapter(deps.KV)
	}
	return &filter.FilterNode{
		Filters: []filter.Filter{filter.NewBlacklistFilter(ids, adapter, key)},
		Logger:  deps.Logger,
	}, nil
}

func BuildDedupNode(_ map[string]any, _ *pipeline.Deps) (pipeline.Node, error) {
	return &rerank.DedupNode{}, nil
}

// BuildSortNode 配置：tiers（可选，整体排前的来源，默认 [pattern]）
func BuildSortNode(cfg map[string]any, _ *pipeline.Deps) (pipeline.Node, error) {
	var tiers []core.Source
	for _, s := range conv.SliceAnyToString(cfg["tiers"]) {
		tiers = append(tiers, core.Source(s))
	}
	return &rerank.SortNode{Tiers: tiers}, nil
}

// BuildTopNNode 配置：n（可选，默认使用请求的 limit）
func BuildTopNNode(cfg map[string]any, _ *pipeline.Deps) (pipeline.Node, error) {
	return &rerank.TopNNode{N: int(conv.ConfigGetInt64(cfg, "n", 0))}, nil
}

// BuildDiversityNode 配置：key（author / genre / label 名）、max_per_key
func BuildDiversityNode(cfg map[string]any, _ *pipeline.Deps) (pipeline.Node, error) {
	return &rerank.Diversity{
		Key:       conv.ConfigGet(cfg, "key", "author"),
		MaxPerKey: int(conv.ConfigGetInt64(cfg, "max_per_key", 1)),
	}, nil
}
