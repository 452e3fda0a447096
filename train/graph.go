package train

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/rushteam/shelfrec/core"
	"github.com/rushteam/shelfrec/pkg/metrics"
	"github.com/rushteam/shelfrec/pkg/vecmath"
)

// 传播系数：new = selfWeight*old + neighborWeight*加权邻居均值
const (
	selfWeight     = 0.7
	neighborWeight = 0.3
)

// GraphConfig 是图传播训练的参数。
type GraphConfig struct {
	Dim             int
	Rounds          int
	MinInteractions int
	Seed            int64
	Workers         int
}

// DefaultGraphConfig 返回默认参数。
func DefaultGraphConfig() GraphConfig {
	return GraphConfig{
		Dim:             128,
		Rounds:          10,
		MinInteractions: 1,
		Seed:            42,
	}
}

// GraphTrainer 在用户-图书二部图上做邻居传播，得到图书的 graph 向量。
// 只持久化图书向量，用户向量在推荐时由交互过的图书向量现算。
type GraphTrainer struct {
	cfg          GraphConfig
	interactions core.InteractionStore
	vectors      core.VectorStore
	opts         options
}

// NewGraphTrainer 创建训练器，零值参数使用默认值（Rounds 允许为 0）。
func NewGraphTrainer(cfg GraphConfig, interactions core.InteractionStore, vectors core.VectorStore, opts ...Option) *GraphTrainer {
	d := DefaultGraphConfig()
	if cfg.Dim <= 0 {
		cfg.Dim = d.Dim
	}
	if cfg.Rounds < 0 {
		cfg.Rounds = d.Rounds
	}
	if cfg.MinInteractions <= 0 {
		cfg.MinInteractions = d.MinInteractions
	}
	t := &GraphTrainer{cfg: cfg, interactions: interactions, vectors: vectors, opts: defaultOptions()}
	for _, opt := range opts {
		opt(&t.opts)
	}
	return t
}

// Run 读取全部交互、训练并写入 graph 图书向量。
func (t *GraphTrainer) Run(ctx context.Context) (map[int64][]float64, error) {
	start := time.Now()
	vectors, err := t.run(ctx)
	metrics.RecordTraining("graph", trainingStatus(err), time.Since(start))
	if err != nil {
		return nil, err
	}
	t.opts.logger.Info().Int("books", len(vectors)).Dur("elapsed", time.Since(start)).Msg("graph vectors committed")
	return vectors, nil
}

func (t *GraphTrainer) run(ctx context.Context) (map[int64][]float64, error) {
	all, err := t.interactions.ListInteractions(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("load interactions: %w", err)
	}
	vectors, err := t.Train(ctx, all)
	if err != nil {
		return nil, err
	}
	if err := resetGroup(ctx, t.opts, t.vectors, core.VectorKindGraph); err != nil {
		return nil, err
	}
	if err := t.vectors.SetBookVectors(ctx, core.VectorKindGraph, vectors); err != nil {
		return nil, fmt.Errorf("commit book vectors: %w", err)
	}
	return vectors, nil
}

type edge struct {
	node   int
	weight float64
}

// Train 在内存中完成训练，返回 L2 归一化后的图书向量。
func (t *GraphTrainer) Train(ctx context.Context, interactions []core.Interaction) (map[int64][]float64, error) {
	cfg := t.cfg

	bookCount := make(map[int64]int)
	for _, in := range interactions {
		bookCount[in.BookID]++
	}
	books := make(map[int64]int)
	for _, b := range sortedInt64s(bookCount) {
		if bookCount[b] >= cfg.MinInteractions {
			books[b] = len(books)
		}
	}
	if len(books) < 2 {
		return nil, fmt.Errorf("%w: graph needs at least 2 books with >= %d interactions, got %d",
			core.ErrInsufficientData, cfg.MinInteractions, len(books))
	}

	// 节点编号：图书在前 [0, nb)，用户在后
	userCount := make(map[string]int)
	for _, in := range interactions {
		if _, ok := books[in.BookID]; ok {
			userCount[in.UserID]++
		}
	}
	nb := len(books)
	users := make(map[string]int, len(userCount))
	for _, u := range sortedStrings(userCount) {
		users[u] = nb + len(users)
	}

	// 重复交互累加权重
	type pair struct{ u, b int }
	weights := make(map[pair]float64)
	for _, in := range interactions {
		b, ok := books[in.BookID]
		if !ok {
			continue
		}
		weights[pair{users[in.UserID], b}] += in.ImplicitWeight()
	}
	adj := make([][]edge, nb+len(users))
	for p, w := range weights {
		adj[p.u] = append(adj[p.u], edge{node: p.b, weight: w})
		adj[p.b] = append(adj[p.b], edge{node: p.u, weight: w})
	}
	for _, es := range adj {
		sortEdges(es)
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	cur := initVectors(rng, len(adj), cfg.Dim)

	t.opts.logger.Info().
		Int("books", nb).
		Int("users", len(users)).
		Int("edges", len(weights)).
		Int("rounds", cfg.Rounds).
		Msg("graph training started")

	for round := 0; round < cfg.Rounds; round++ {
		next := make([][]float64, len(cur))
		if err := parallelFor(ctx, len(cur), cfg.Workers, func(n int) {
			next[n] = propagate(cur, n, adj[n], cfg.Dim)
		}); err != nil {
			return nil, err
		}
		cur = next
	}

	out := make(map[int64][]float64, nb)
	for id, i := range books {
		out[id] = vecmath.Normalize(cur[i])
	}
	return out, nil
}

// propagate 计算节点 n 的下一轮向量：孤立节点保持不变
func propagate(cur [][]float64, n int, edges []edge, dim int) []float64 {
	if len(edges) == 0 {
		return cur[n]
	}
	var total float64
	for _, e := range edges {
		total += e.weight
	}
	if total <= 0 {
		return cur[n]
	}
	v := make([]float64, dim)
	for f := range v {
		v[f] = selfWeight * cur[n][f]
	}
	for _, e := range edges {
		w := neighborWeight * e.weight / total
		nv := cur[e.node]
		for f := range v {
			v[f] += w * nv[f]
		}
	}
	return v
}

func sortEdges(es []edge) {
	sort.Slice(es, func(i, j int) bool { return es[i].node < es[j].node })
}
