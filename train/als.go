package train

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/rushteam/shelfrec/core"
	"github.com/rushteam/shelfrec/pkg/metrics"
)

// ALSConfig 是 ALS 矩阵分解的参数。
type ALSConfig struct {
	// Factors 隐向量维度
	Factors int

	// Iterations 固定迭代轮数，不做收敛判断
	Iterations int

	// Regularization L2 正则系数 λ
	Regularization float64

	// MinInteractions 用户与图书参与训练所需的最少交互数
	MinInteractions int

	// Seed 初始化随机种子，相同输入与种子得到相同结果
	Seed int64

	// Workers 每轮求解的并发数，<= 0 时使用 CPU 数
	Workers int
}

// DefaultALSConfig 返回默认参数。
func DefaultALSConfig() ALSConfig {
	return ALSConfig{
		Factors:         128,
		Iterations:      15,
		Regularization:  0.1,
		MinInteractions: 2,
		Seed:            42,
	}
}

// ALSModel 是一次训练的结果。
type ALSModel struct {
	UserVectors map[string][]float64
	BookVectors map[int64][]float64

	// Loss 每轮迭代后的训练损失（平方误差 + 正则项），仅作诊断
	Loss []float64
}

// ALSTrainer 用显式/隐式评分训练协同过滤隐向量（kind cf）。
type ALSTrainer struct {
	cfg          ALSConfig
	interactions core.InteractionStore
	vectors      core.VectorStore
	opts         options
}

// NewALSTrainer 创建训练器。Factors、Iterations、MinInteractions 非正时使用默认值；
// Regularization 仅在为负时使用默认值，0 表示不做正则。
func NewALSTrainer(cfg ALSConfig, interactions core.InteractionStore, vectors core.VectorStore, opts ...Option) *ALSTrainer {
	d := DefaultALSConfig()
	if cfg.Factors <= 0 {
		cfg.Factors = d.Factors
	}
	if cfg.Iterations <= 0 {
		cfg.Iterations = d.Iterations
	}
	if cfg.Regularization < 0 {
		cfg.Regularization = d.Regularization
	}
	if cfg.MinInteractions <= 0 {
		cfg.MinInteractions = d.MinInteractions
	}
	t := &ALSTrainer{cfg: cfg, interactions: interactions, vectors: vectors, opts: defaultOptions()}
	for _, opt := range opts {
		opt(&t.opts)
	}
	return t
}

// Run 读取全部交互、训练并写入 cf 向量。
// 数据不足时返回 core.ErrInsufficientData，已有向量保持不变。
func (t *ALSTrainer) Run(ctx context.Context) (*ALSModel, error) {
	start := time.Now()
	model, err := t.run(ctx)
	metrics.RecordTraining("als", trainingStatus(err), time.Since(start))
	if err != nil {
		return nil, err
	}
	t.opts.logger.Info().
		Int("users", len(model.UserVectors)).
		Int("books", len(model.BookVectors)).
		Dur("elapsed", time.Since(start)).
		Msg("als vectors committed")
	return model, nil
}

func (t *ALSTrainer) run(ctx context.Context) (*ALSModel, error) {
	all, err := t.interactions.ListInteractions(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("load interactions: %w", err)
	}
	model, err := t.Train(ctx, all)
	if err != nil {
		return nil, err
	}
	if err := resetGroup(ctx, t.opts, t.vectors, core.VectorKindCF); err != nil {
		return nil, err
	}
	if err := t.vectors.SetBookVectors(ctx, core.VectorKindCF, model.BookVectors); err != nil {
		return nil, fmt.Errorf("commit book vectors: %w", err)
	}
	if err := t.vectors.SetUserVectors(ctx, core.VectorKindCF, model.UserVectors); err != nil {
		return nil, fmt.Errorf("commit user vectors: %w", err)
	}
	return model, nil
}

type rating struct {
	idx   int
	value float64
}

// Train 在内存中完成训练，不写存储。
func (t *ALSTrainer) Train(ctx context.Context, interactions []core.Interaction) (*ALSModel, error) {
	cfg := t.cfg
	log := t.opts.logger

	// 参与训练的用户与图书：各自交互数 >= MinInteractions
	userCount := make(map[string]int)
	bookCount := make(map[int64]int)
	for _, in := range interactions {
		userCount[in.UserID]++
		bookCount[in.BookID]++
	}
	users := make(map[string]int)
	for _, u := range sortedStrings(userCount) {
		if userCount[u] >= cfg.MinInteractions {
			users[u] = len(users)
		}
	}
	books := make(map[int64]int)
	for _, b := range sortedInt64s(bookCount) {
		if bookCount[b] >= cfg.MinInteractions {
			books[b] = len(books)
		}
	}
	if len(users) < 2 || len(books) < 2 {
		return nil, fmt.Errorf("%w: als needs at least 2 users and 2 books with >= %d interactions, got %d users and %d books",
			core.ErrInsufficientData, cfg.MinInteractions, len(users), len(books))
	}

	// 同一 (用户, 图书) 多次交互时按时间取最后一次的评分
	ordered := make([]core.Interaction, len(interactions))
	copy(ordered, interactions)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].CreatedAt.Before(ordered[j].CreatedAt) })

	type pair struct{ u, b int }
	latest := make(map[pair]float64)
	for _, in := range ordered {
		u, okU := users[in.UserID]
		b, okB := books[in.BookID]
		if !okU || !okB {
			continue
		}
		latest[pair{u, b}] = in.ImplicitWeight()
	}
	if len(latest) == 0 {
		return nil, fmt.Errorf("%w: no interactions between eligible users and books", core.ErrInsufficientData)
	}

	// 过滤后没有任何评分的用户或图书不参与求解，也不产出向量
	ratedUsers := make(map[int]struct{})
	ratedBooks := make(map[int]struct{})
	for p := range latest {
		ratedUsers[p.u] = struct{}{}
		ratedBooks[p.b] = struct{}{}
	}
	users, userRemap := compactIndex(users, ratedUsers)
	books, bookRemap := compactIndex(books, ratedBooks)
	if len(users) < 2 || len(books) < 2 {
		return nil, fmt.Errorf("%w: als needs at least 2 rated users and 2 rated books, got %d users and %d books",
			core.ErrInsufficientData, len(users), len(books))
	}
	compacted := make(map[pair]float64, len(latest))
	for p, r := range latest {
		compacted[pair{userRemap[p.u], bookRemap[p.b]}] = r
	}
	latest = compacted

	byUser := make([][]rating, len(users))
	byBook := make([][]rating, len(books))
	for p, r := range latest {
		byUser[p.u] = append(byUser[p.u], rating{idx: p.b, value: r})
		byBook[p.b] = append(byBook[p.b], rating{idx: p.u, value: r})
	}
	// map 遍历无序，排序后求解结果与浮点累加顺序都可复现
	for _, rs := range byUser {
		sort.Slice(rs, func(i, j int) bool { return rs[i].idx < rs[j].idx })
	}
	for _, rs := range byBook {
		sort.Slice(rs, func(i, j int) bool { return rs[i].idx < rs[j].idx })
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	U := initVectors(rng, len(users), cfg.Factors)
	V := initVectors(rng, len(books), cfg.Factors)

	log.Info().
		Int("users", len(users)).
		Int("books", len(books)).
		Int("ratings", len(latest)).
		Int("factors", cfg.Factors).
		Int("iterations", cfg.Iterations).
		Msg("als training started")

	loss := make([]float64, 0, cfg.Iterations)
	for iter := 0; iter < cfg.Iterations; iter++ {
		// 固定图书，逐个用户求解
		if err := parallelFor(ctx, len(U), cfg.Workers, func(u int) {
			U[u] = solveSide(byUser[u], V, cfg.Factors, cfg.Regularization)
		}); err != nil {
			return nil, err
		}
		// 固定用户，逐本图书求解
		if err := parallelFor(ctx, len(V), cfg.Workers, func(b int) {
			V[b] = solveSide(byBook[b], U, cfg.Factors, cfg.Regularization)
		}); err != nil {
			return nil, err
		}

		l := alsLoss(byUser, U, V, cfg.Regularization)
		loss = append(loss, l)
		log.Debug().Int("iteration", iter+1).Float64("loss", l).Msg("als iteration")
	}

	model := &ALSModel{
		UserVectors: make(map[string][]float64, len(users)),
		BookVectors: make(map[int64][]float64, len(books)),
		Loss:        loss,
	}
	for id, i := range users {
		model.UserVectors[id] = U[i]
	}
	for id, i := range books {
		model.BookVectors[id] = V[i]
	}
	return model, nil
}

// compactIndex 只保留 keep 中的下标，按原下标顺序重新编号，返回新索引和旧下标到新下标的映射
func compactIndex[K comparable](idx map[K]int, keep map[int]struct{}) (map[K]int, map[int]int) {
	keys := make([]K, len(idx))
	for k, i := range idx {
		keys[i] = k
	}
	out := make(map[K]int, len(keep))
	remap := make(map[int]int, len(keep))
	for old, k := range keys {
		if _, ok := keep[old]; !ok {
			continue
		}
		remap[old] = len(out)
		out[k] = len(out)
	}
	return out, remap
}

// solveSide 固定另一侧向量 other，求解 (Σ v vᵀ + λI) x = Σ r v
func solveSide(ratings []rating, other [][]float64, factors int, lambda float64) []float64 {
	vs := make([][]float64, len(ratings))
	rs := make([]float64, len(ratings))
	for i, r := range ratings {
		vs[i] = other[r.idx]
		rs[i] = r.value
	}
	return ridgeSolve(vs, rs, factors, lambda)
}

func alsLoss(byUser [][]rating, U, V [][]float64, lambda float64) float64 {
	var sq, reg float64
	for u, rs := range byUser {
		for _, r := range rs {
			var pred float64
			for f := range U[u] {
				pred += U[u][f] * V[r.idx][f]
			}
			d := r.value - pred
			sq += d * d
		}
	}
	for _, vs := range [][][]float64{U, V} {
		for _, v := range vs {
			for _, x := range v {
				reg += x * x
			}
		}
	}
	return sq + lambda*reg
}

func trainingStatus(err error) string {
	switch {
	case err == nil:
		return "ok"
	case core.IsInsufficientData(err):
		return "insufficient_data"
	default:
		return "error"
	}
}
