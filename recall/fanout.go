package recall

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/rushteam/shelfrec/core"
	"github.com/rushteam/shelfrec/pipeline"
	"github.com/rushteam/shelfrec/pkg/metrics"
)

// SourceResult 是单个召回源的一次执行结果。Err 非空时 Candidates 为空。
type SourceResult struct {
	Name       string
	Candidates []*core.Candidate
	Err        error
}

// Fanout 是一个 Recall Node：并发执行多个召回源，并按来源优先级合并结果。
// 单个召回源失败、超时或 panic 都只会让它贡献 0 个候选，不会中断其他召回源。
type Fanout struct {
	Sources       []Source
	Timeout       time.Duration // 每个召回源的超时时间
	MaxConcurrent int           // 最大并发数（0 表示无限制）

	// Precedence 合并时的来源优先级，为空使用 core.DefaultPrecedence
	Precedence []core.Source

	Logger zerolog.Logger
}

func (n *Fanout) Name() string        { return "recall.fanout" }
func (n *Fanout) Kind() pipeline.Kind { return pipeline.KindRecall }

func (n *Fanout) Process(
	ctx context.Context,
	rctx *core.RecommendContext,
	_ []*core.Candidate,
) ([]*core.Candidate, error) {
	results := n.Collect(ctx, rctx)
	all := make([]*core.Candidate, 0)
	for _, r := range results {
		all = append(all, r.Candidates...)
	}
	return PriorityMerge(all, n.Precedence), nil
}

// Collect 并发执行所有召回源，结果顺序与 Sources 一致。
func (n *Fanout) Collect(ctx context.Context, rctx *core.RecommendContext) []SourceResult {
	results := make([]SourceResult, len(n.Sources))
	if len(n.Sources) == 0 {
		return results
	}

	var (
		eg  errgroup.Group
		sem chan struct{}
	)
	if n.MaxConcurrent > 0 {
		sem = make(chan struct{}, n.MaxConcurrent)
	}

	for i, src := range n.Sources {
		i, s := i, src
		eg.Go(func() error {
			if sem != nil {
				select {
				case sem <- struct{}{}:
					defer func() { <-sem }()
				case <-ctx.Done():
					results[i] = n.absorb(s.Name(), ctx.Err())
					return nil
				}
			}

			recallCtx := ctx
			if n.Timeout > 0 {
				var cancel context.CancelFunc
				recallCtx, cancel = context.WithTimeout(ctx, n.Timeout)
				defer cancel()
			}

			out, err := n.safeRecall(recallCtx, rctx, s)
			if err != nil {
				results[i] = n.absorb(s.Name(), err)
				return nil
			}
			metrics.RecordSource(s.Name(), len(out), nil)
			results[i] = SourceResult{Name: s.Name(), Candidates: out}
			return nil
		})
	}

	// goroutine 内从不返回错误
	_ = eg.Wait()
	return results
}

func (n *Fanout) safeRecall(ctx context.Context, rctx *core.RecommendContext, s Source) (out []*core.Candidate, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()
	return s.Recall(ctx, rctx)
}

func (n *Fanout) absorb(name string, err error) SourceResult {
	wrapped := fmt.Errorf("%w: %s: %v", core.ErrSourceUnavailable, name, err)
	n.Logger.Warn().Err(err).Str("source", name).Msg("recall source unavailable")
	metrics.RecordSource(name, 0, wrapped)
	return SourceResult{Name: name, Err: wrapped}
}

// PriorityMerge 按 book id 去重：同一本书出现在多个来源时保留优先级最高的来源，
// 同来源保留分数更高的那个；被丢弃候选的 Label 合并到保留者上。
// precedence 为空时使用 core.DefaultPrecedence，结果按 RankCandidates 默认分档排序。
func PriorityMerge(all []*core.Candidate, precedence []core.Source) []*core.Candidate {
	if len(precedence) == 0 {
		precedence = core.DefaultPrecedence
	}
	rank := tierRank(precedence)
	seen := make(map[int64]*core.Candidate, len(all))
	order := make([]int64, 0, len(all))
	for _, c := range all {
		if c == nil {
			continue
		}
		old, ok := seen[c.BookID]
		if !ok {
			seen[c.BookID] = c
			order = append(order, c.BookID)
			continue
		}
		keep, drop := old, c
		if outranks(c, old, rank) {
			keep, drop = c, old
		}
		for k, v := range drop.Labels {
			keep.PutLabel(k, v)
		}
		if keep.Book == nil {
			keep.Book = drop.Book
		}
		seen[c.BookID] = keep
	}

	out := make([]*core.Candidate, 0, len(order))
	for _, id := range order {
		out = append(out, seen[id])
	}
	RankCandidates(out, nil)
	return out
}

// RankCandidates 最终排序：分档 → 分数降序 → book id 升序。
// tiers 中的来源按列表顺序整体排在前面，其余来源同档只比分数；
// tiers 为空时使用 core.DefaultSortTiers，交互模式信号因此总在向量信号之前，不依赖分数区间。
func RankCandidates(cs []*core.Candidate, tiers []core.Source) {
	if len(tiers) == 0 {
		tiers = core.DefaultSortTiers
	}
	rank := tierRank(tiers)
	sort.SliceStable(cs, func(i, j int) bool {
		ri, rj := sourceRank(cs[i].Source, rank), sourceRank(cs[j].Source, rank)
		if ri != rj {
			return ri < rj
		}
		if cs[i].Score != cs[j].Score {
			return cs[i].Score > cs[j].Score
		}
		return cs[i].BookID < cs[j].BookID
	})
}

func outranks(a, b *core.Candidate, rank map[core.Source]int) bool {
	ra, rb := sourceRank(a.Source, rank), sourceRank(b.Source, rank)
	if ra != rb {
		return ra < rb
	}
	return a.Score > b.Score
}

func tierRank(sources []core.Source) map[core.Source]int {
	rank := make(map[core.Source]int, len(sources))
	for i, s := range sources {
		rank[s] = i
	}
	return rank
}

func sourceRank(s core.Source, rank map[core.Source]int) int {
	if r, ok := rank[s]; ok {
		return r
	}
	return len(rank)
}
