// Package eval 是离线评估：按时间切分每个用户的交互，用推荐引擎在训练集上生成推荐，
// 计算 Precision/Recall/nDCG@k，并用 cf 向量评估评分预测误差（RMSE/MAE）。
package eval

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/rushteam/shelfrec/core"
	"github.com/rushteam/shelfrec/pkg/metrics"
	"github.com/rushteam/shelfrec/recommend"
)

const (
	DefaultMinInteractions = 5
	DefaultTestRatio       = 0.2

	// MaxSamples 是报告中保留的评分预测样例数
	MaxSamples = 100

	catalogPageSize = 500
)

// DefaultKValues 是默认评估的 k
var DefaultKValues = []int{5, 10, 20}

// Options 是一次评估的参数，零值使用默认值。
type Options struct {
	KValues         []int
	MinInteractions int
	TestRatio       float64
}

func (o Options) withDefaults() Options {
	if len(o.KValues) == 0 {
		o.KValues = DefaultKValues
	}
	if o.MinInteractions <= 0 {
		o.MinInteractions = DefaultMinInteractions
	}
	if o.TestRatio <= 0 || o.TestRatio >= 1 {
		o.TestRatio = DefaultTestRatio
	}
	return o
}

// Recommender 是被评估的推荐能力，通常是 *recommend.Engine。
type Recommender interface {
	Recommend(ctx context.Context, req recommend.Request) (*recommend.Result, error)
}

// RankingMetrics 是某个 k 下的平均排序指标；没有可评估用户时为 nil。
type RankingMetrics struct {
	K         int      `json:"k"`
	Precision *float64 `json:"precision"`
	Recall    *float64 `json:"recall"`
	NDCG      *float64 `json:"ndcg"`
}

// RatingSample 是一条评分预测样例。
type RatingSample struct {
	UserID    string  `json:"user_id"`
	BookID    int64   `json:"book_id"`
	Actual    float64 `json:"actual"`
	Predicted float64 `json:"predicted"`
	Error     float64 `json:"error"`
}

// Coverage 是评估时各类数据的覆盖情况。未配置图书目录时 TotalBooks 为 nil。
type Coverage struct {
	TotalUsers        int  `json:"total_users"`
	TotalInteractions int  `json:"total_interactions"`
	TotalBooks        *int `json:"total_books"`
	UsersWithCF       int  `json:"users_with_cf"`
	BooksWithContent  int  `json:"books_with_content"`
	BooksWithCF       int  `json:"books_with_cf"`
	BooksWithGraph    int  `json:"books_with_graph"`
}

// Report 是评估结果。分母为 0 的指标为 nil，而不是 0。
type Report struct {
	NumUsers         int              `json:"num_users"`
	NumEvalUsers     int              `json:"num_eval_users"`
	NumSkippedUsers  int              `json:"num_skipped_users"`
	NumRatingSamples int              `json:"num_rating_samples"`
	Ranking          []RankingMetrics `json:"ranking"`
	RMSE             *float64         `json:"rmse"`
	MAE              *float64         `json:"mae"`
	Predictor        string           `json:"predictor"`
	Samples          []RatingSample   `json:"samples"`
	Coverage         Coverage         `json:"coverage"`
	Note             string           `json:"note,omitempty"`
}

// relevanceNote 说明排序指标的相关集合口径
const relevanceNote = "test books already in a user's training split are dropped from the relevant set; " +
	"users left with an empty relevant set are skipped"

// Metric 按 k 查找排序指标
func (r *Report) Metric(k int) (RankingMetrics, bool) {
	for _, m := range r.Ranking {
		if m.K == k {
			return m, true
		}
	}
	return RankingMetrics{}, false
}

// Option 配置 Harness。
type Option func(*Harness)

// WithLogger 设置日志，默认不输出。
func WithLogger(logger zerolog.Logger) Option {
	return func(h *Harness) {
		h.logger = logger
	}
}

// WithPredictor 替换评分预测器，默认 CosineRatingPredictor。
func WithPredictor(p RatingPredictor) Option {
	return func(h *Harness) {
		if p != nil {
			h.predictor = p
		}
	}
}

// WithCatalog 设置图书目录，用于统计目录总量。
func WithCatalog(catalog core.BookCatalog) Option {
	return func(h *Harness) {
		h.catalog = catalog
	}
}

// Harness 是离线评估器，只读存储。
type Harness struct {
	interactions core.InteractionStore
	vectors      core.VectorStore
	catalog      core.BookCatalog
	recommender  Recommender
	predictor    RatingPredictor
	logger       zerolog.Logger
}

func NewHarness(interactions core.InteractionStore, vectors core.VectorStore, rec Recommender, opts ...Option) *Harness {
	h := &Harness{
		interactions: interactions,
		vectors:      vectors,
		recommender:  rec,
		predictor:    CosineRatingPredictor{},
		logger:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type userSplit struct {
	userID string
	train  []core.Interaction
	test   []core.Interaction
}

// Evaluate 执行一次评估。单个用户推荐失败只跳过该用户。
func (h *Harness) Evaluate(ctx context.Context, opts Options) (*Report, error) {
	opts = opts.withDefaults()
	start := time.Now()

	report := &Report{
		Ranking:   emptyRanking(opts.KValues),
		Predictor: h.predictor.Name(),
		Samples:   []RatingSample{},
	}

	all, err := h.interactions.ListInteractions(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("load interactions: %w", err)
	}
	if report.Coverage, err = h.coverage(ctx, all); err != nil {
		return nil, err
	}
	if len(all) == 0 {
		report.Note = "no interactions recorded"
		return report, nil
	}

	splits, numUsers := splitByUser(all, opts.MinInteractions, opts.TestRatio)
	report.NumUsers = numUsers
	if len(splits) == 0 {
		report.Note = fmt.Sprintf("no users with at least %d interactions", opts.MinInteractions)
		return report, nil
	}

	h.evaluateRanking(ctx, splits, opts.KValues, report)
	report.Note = fmt.Sprintf("%s (%d skipped)", relevanceNote, report.NumSkippedUsers)
	if err := h.evaluateRatings(ctx, splits, report); err != nil {
		return nil, err
	}

	for _, m := range report.Ranking {
		setGauge(fmt.Sprintf("precision@%d", m.K), m.Precision)
		setGauge(fmt.Sprintf("recall@%d", m.K), m.Recall)
		setGauge(fmt.Sprintf("ndcg@%d", m.K), m.NDCG)
	}
	setGauge("rmse", report.RMSE)
	setGauge("mae", report.MAE)

	h.logger.Info().
		Int("users", report.NumUsers).
		Int("eval_users", report.NumEvalUsers).
		Int("rating_samples", report.NumRatingSamples).
		Dur("elapsed", time.Since(start)).
		Msg("evaluation finished")
	return report, nil
}

// splitByUser 按时间切分：最近的 max(1, floor(n*ratio)) 条作为测试集
func splitByUser(all []core.Interaction, minInteractions int, ratio float64) ([]userSplit, int) {
	byUser := make(map[string][]core.Interaction)
	for _, in := range all {
		byUser[in.UserID] = append(byUser[in.UserID], in)
	}
	ids := make([]string, 0, len(byUser))
	for id := range byUser {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	splits := make([]userSplit, 0, len(ids))
	for _, id := range ids {
		list := byUser[id]
		if len(list) < minInteractions {
			continue
		}
		sort.SliceStable(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })
		nTest := max(1, int(math.Floor(float64(len(list))*ratio)))
		cut := len(list) - nTest
		splits = append(splits, userSplit{userID: id, train: list[:cut], test: list[cut:]})
	}
	return splits, len(ids)
}

func (h *Harness) evaluateRanking(ctx context.Context, splits []userSplit, ks []int, report *Report) {
	maxK := 0
	for _, k := range ks {
		maxK = max(maxK, k)
	}

	sums := make([]struct{ p, r, n float64 }, len(ks))
	evaluated := 0
	for _, s := range splits {
		exclude := make(map[int64]struct{}, len(s.train))
		for _, in := range s.train {
			exclude[in.BookID] = struct{}{}
		}
		// 训练集中出现过的图书会被排除，不可能命中，不计入相关集合
		relevant := make(map[int64]struct{}, len(s.test))
		for _, in := range s.test {
			if _, seen := exclude[in.BookID]; !seen {
				relevant[in.BookID] = struct{}{}
			}
		}
		if len(relevant) == 0 {
			report.NumSkippedUsers++
			continue
		}

		res, err := h.recommender.Recommend(ctx, recommend.Request{UserID: s.userID, Limit: maxK, Exclude: exclude})
		if err != nil {
			h.logger.Warn().Err(err).Str("user_id", s.userID).Msg("evaluation skipped user")
			continue
		}
		recommended := make([]int64, len(res.Books))
		for i, b := range res.Books {
			recommended[i] = b.ID
		}

		evaluated++
		for i, k := range ks {
			sums[i].p += PrecisionAtK(recommended, relevant, k)
			sums[i].r += RecallAtK(recommended, relevant, k)
			sums[i].n += NDCGAtK(recommended, relevant, k)
		}
	}

	report.NumEvalUsers = evaluated
	if evaluated == 0 {
		return
	}
	n := float64(evaluated)
	for i := range report.Ranking {
		report.Ranking[i].Precision = ptr(sums[i].p / n)
		report.Ranking[i].Recall = ptr(sums[i].r / n)
		report.Ranking[i].NDCG = ptr(sums[i].n / n)
	}
}

func (h *Harness) evaluateRatings(ctx context.Context, splits []userSplit, report *Report) error {
	bookSet := make(map[int64]struct{})
	for _, s := range splits {
		for _, in := range s.test {
			if in.HasRating() {
				bookSet[in.BookID] = struct{}{}
			}
		}
	}
	if len(bookSet) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(bookSet))
	for id := range bookSet {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	bookVecs, err := h.vectors.BookVectors(ctx, core.VectorKindCF, ids)
	if err != nil {
		return fmt.Errorf("load book cf vectors: %w", err)
	}

	var sqSum, absSum float64
	count := 0
	for _, s := range splits {
		var userVec []float64
		loaded := false
		for _, in := range s.test {
			if !in.HasRating() {
				continue
			}
			bookVec, ok := bookVecs[in.BookID]
			if !ok {
				continue
			}
			if !loaded {
				userVec, err = h.vectors.GetUserVector(ctx, s.userID, core.VectorKindCF)
				if err != nil {
					return fmt.Errorf("load user cf vector: %w", err)
				}
				loaded = true
			}
			if userVec == nil {
				break
			}
			pred, err := h.predictor.Predict(userVec, bookVec)
			if err != nil {
				h.logger.Warn().Err(err).Str("user_id", s.userID).Int64("book_id", in.BookID).Msg("rating prediction skipped")
				continue
			}

			diff := pred - *in.Rating
			sqSum += diff * diff
			absSum += math.Abs(diff)
			count++
			if len(report.Samples) < MaxSamples {
				report.Samples = append(report.Samples, RatingSample{
					UserID:    s.userID,
					BookID:    in.BookID,
					Actual:    *in.Rating,
					Predicted: pred,
					Error:     diff,
				})
			}
		}
	}

	report.NumRatingSamples = count
	if count > 0 {
		report.RMSE = ptr(math.Sqrt(sqSum / float64(count)))
		report.MAE = ptr(absSum / float64(count))
	}
	return nil
}

// coverage 统计用户、交互、图书总量，以及各类向量覆盖的用户与图书数
func (h *Harness) coverage(ctx context.Context, all []core.Interaction) (Coverage, error) {
	c := Coverage{TotalInteractions: len(all)}

	users := make(map[string]struct{})
	for _, in := range all {
		users[in.UserID] = struct{}{}
	}
	c.TotalUsers = len(users)
	for id := range users {
		v, err := h.vectors.GetUserVector(ctx, id, core.VectorKindCF)
		if err != nil {
			return c, fmt.Errorf("load user cf vector: %w", err)
		}
		if len(v) > 0 {
			c.UsersWithCF++
		}
	}

	for _, item := range []struct {
		kind core.VectorKind
		dst  *int
	}{
		{core.VectorKindContent, &c.BooksWithContent},
		{core.VectorKindCF, &c.BooksWithCF},
		{core.VectorKindGraph, &c.BooksWithGraph},
	} {
		n, err := h.vectors.CountWithVector(ctx, item.kind)
		if err != nil {
			return c, fmt.Errorf("count %s vectors: %w", item.kind, err)
		}
		*item.dst = n
	}

	if h.catalog != nil {
		total := 0
		var after int64
		for {
			page, err := h.catalog.ListBooks(ctx, after, catalogPageSize)
			if err != nil {
				return c, fmt.Errorf("list books: %w", err)
			}
			total += len(page)
			if len(page) < catalogPageSize {
				break
			}
			after = page[len(page)-1].ID
		}
		c.TotalBooks = &total
	}
	return c, nil
}

func emptyRanking(ks []int) []RankingMetrics {
	out := make([]RankingMetrics, len(ks))
	for i, k := range ks {
		out[i] = RankingMetrics{K: k}
	}
	return out
}

func setGauge(name string, v *float64) {
	if v != nil {
		metrics.SetEvalMetric(name, *v)
	}
}

func ptr(v float64) *float64 { return &v }
