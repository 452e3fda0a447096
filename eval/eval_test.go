package eval

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rushteam/shelfrec/core"
	"github.com/rushteam/shelfrec/recommend"
	"github.com/rushteam/shelfrec/store"
)

type stubRecommender struct {
	books    map[string][]int64
	fail     map[string]bool
	requests []recommend.Request
}

func (s *stubRecommender) Recommend(_ context.Context, req recommend.Request) (*recommend.Result, error) {
	s.requests = append(s.requests, req)
	if s.fail[req.UserID] {
		return nil, errors.New("boom")
	}
	res := &recommend.Result{}
	for _, id := range s.books[req.UserID] {
		if _, skip := req.Exclude[id]; skip {
			continue
		}
		res.Books = append(res.Books, core.Book{ID: id})
	}
	return res, nil
}

func rating(v float64) *float64 { return &v }

func seed(repo *store.MemoryRepository, userID string, ratings map[int64]float64, order ...int64) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range order {
		in := core.Interaction{
			UserID:    userID,
			BookID:    id,
			Kind:      core.InteractionView,
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
		}
		if r, ok := ratings[id]; ok {
			in.Kind = core.InteractionRating
			in.Rating = rating(r)
		}
		repo.AddInteraction(in)
	}
}

func set(ids ...int64) map[int64]struct{} { return core.IDSet(ids) }

func TestNDCGAtK(t *testing.T) {
	tests := []struct {
		name        string
		recommended []int64
		relevant    map[int64]struct{}
		k           int
		want        float64
	}{
		{"perfect", []int64{1, 2, 3}, set(1, 2, 3), 3, 1},
		{"none", []int64{4, 5, 6}, set(1, 2), 3, 0},
		{"empty relevant", []int64{1}, set(), 3, 0},
		{"hit at second", []int64{9, 1}, set(1), 2, 1 / math.Log2(3)},
		{"ideal capped by relevant", []int64{1, 9, 9}, set(1), 3, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, NDCGAtK(tt.recommended, tt.relevant, tt.k), 1e-9)
		})
	}
}

func TestPrecisionRecall(t *testing.T) {
	rec := []int64{1, 2, 3, 4}
	rel := set(2, 4, 7)
	assert.InDelta(t, 0.5, PrecisionAtK(rec, rel, 2), 1e-9)
	assert.InDelta(t, 0.5, PrecisionAtK(rec, rel, 4), 1e-9)
	assert.InDelta(t, 2.0/3.0, RecallAtK(rec, rel, 4), 1e-9)
	assert.InDelta(t, 0.2, PrecisionAtK(rec, rel, 10), 1e-9)
	assert.Zero(t, RecallAtK(rec, set(), 4))
}

func TestEvaluate_NoInteractions(t *testing.T) {
	repo := store.NewMemoryRepository()
	h := NewHarness(repo, repo, &stubRecommender{})

	report, err := h.Evaluate(context.Background(), Options{})
	require.NoError(t, err)
	assert.Zero(t, report.NumEvalUsers)
	assert.Nil(t, report.RMSE)
	assert.Nil(t, report.MAE)
	require.Len(t, report.Ranking, 3)
	for _, m := range report.Ranking {
		assert.Nil(t, m.Precision)
		assert.Nil(t, m.Recall)
		assert.Nil(t, m.NDCG)
	}
	assert.NotEmpty(t, report.Note)
}

func TestEvaluate_BelowMinInteractions(t *testing.T) {
	repo := store.NewMemoryRepository()
	seed(repo, "alice", nil, 1, 2, 3)

	report, err := NewHarness(repo, repo, &stubRecommender{}).Evaluate(context.Background(), Options{MinInteractions: 5})
	require.NoError(t, err)
	assert.Equal(t, 1, report.NumUsers)
	assert.Zero(t, report.NumEvalUsers)
	assert.Contains(t, report.Note, "at least 5")
}

func TestEvaluate_TemporalSplitAndRanking(t *testing.T) {
	repo := store.NewMemoryRepository()
	// 5 条交互，ratio 0.2：最后 1 条（book 5）为测试集
	seed(repo, "alice", nil, 1, 2, 3, 4, 5)
	// 10 条交互：最后 2 条（book 19, 20）为测试集
	seed(repo, "bob", nil, 11, 12, 13, 14, 15, 16, 17, 18, 19, 20)

	rec := &stubRecommender{books: map[string][]int64{
		"alice": {5, 30, 31},
		"bob":   {30, 20, 1},
	}}
	h := NewHarness(repo, repo, rec)

	report, err := h.Evaluate(context.Background(), Options{KValues: []int{1, 3}})
	require.NoError(t, err)
	assert.Equal(t, 2, report.NumEvalUsers)

	require.Len(t, rec.requests, 2)
	assert.Equal(t, "alice", rec.requests[0].UserID)
	assert.Equal(t, 3, rec.requests[0].Limit)
	assert.Equal(t, set(1, 2, 3, 4), rec.requests[0].Exclude)
	assert.Len(t, rec.requests[1].Exclude, 8)

	at1, ok := report.Metric(1)
	require.True(t, ok)
	assert.InDelta(t, 0.5, *at1.Precision, 1e-9) // alice 1/1, bob 0/1
	assert.InDelta(t, 0.5, *at1.Recall, 1e-9)    // alice 1/1, bob 0/2
	assert.InDelta(t, 0.5, *at1.NDCG, 1e-9)

	at3, ok := report.Metric(3)
	require.True(t, ok)
	assert.InDelta(t, (1.0/3+1.0/3)/2, *at3.Precision, 1e-9)
	assert.InDelta(t, (1.0+0.5)/2, *at3.Recall, 1e-9)
	bobNDCG := (1 / math.Log2(3)) / (1 + 1/math.Log2(3))
	assert.InDelta(t, (1+bobNDCG)/2, *at3.NDCG, 1e-9)

	// 没有评分的交互不产生评分样例
	assert.Nil(t, report.RMSE)
	assert.Zero(t, report.NumRatingSamples)
}

func TestEvaluate_SkipsFailingUser(t *testing.T) {
	repo := store.NewMemoryRepository()
	seed(repo, "alice", nil, 1, 2, 3, 4, 5)
	seed(repo, "bob", nil, 1, 2, 3, 4, 6)

	rec := &stubRecommender{
		books: map[string][]int64{"alice": {5}},
		fail:  map[string]bool{"bob": true},
	}
	report, err := NewHarness(repo, repo, rec).Evaluate(context.Background(), Options{KValues: []int{1}})
	require.NoError(t, err)
	assert.Equal(t, 1, report.NumEvalUsers)
	m, _ := report.Metric(1)
	assert.InDelta(t, 1.0, *m.Precision, 1e-9)
}

func TestEvaluate_RatingErrors(t *testing.T) {
	ctx := context.Background()
	repo := store.NewMemoryRepository()
	seed(repo, "alice", map[int64]float64{5: 4.0}, 1, 2, 3, 4, 5)
	seed(repo, "bob", map[int64]float64{6: 2.0}, 1, 2, 3, 4, 6)

	require.NoError(t, repo.SetUserVectors(ctx, core.VectorKindCF, map[string][]float64{
		"alice": {1, 0},
		"bob":   {0, 1},
	}))
	require.NoError(t, repo.SetBookVectors(ctx, core.VectorKindCF, map[int64][]float64{
		5: {1, 0}, // cos(alice)=1 -> 5.0
		6: {1, 0}, // cos(bob)=0 -> 2.0
	}))

	report, err := NewHarness(repo, repo, &stubRecommender{}).Evaluate(ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, "cosine", report.Predictor)
	assert.Equal(t, 2, report.NumRatingSamples)
	require.NotNil(t, report.RMSE)
	require.NotNil(t, report.MAE)
	assert.InDelta(t, math.Sqrt(0.5), *report.RMSE, 1e-9)
	assert.InDelta(t, 0.5, *report.MAE, 1e-9)
	require.Len(t, report.Samples, 2)
	assert.Equal(t, "alice", report.Samples[0].UserID)
	assert.InDelta(t, 1.0, report.Samples[0].Error, 1e-9)
}

func TestEvaluate_CustomPredictor(t *testing.T) {
	ctx := context.Background()
	repo := store.NewMemoryRepository()
	seed(repo, "alice", map[int64]float64{5: 4.0}, 1, 2, 3, 4, 5)
	require.NoError(t, repo.SetUserVectors(ctx, core.VectorKindCF, map[string][]float64{"alice": {2, 1}}))
	require.NoError(t, repo.SetBookVectors(ctx, core.VectorKindCF, map[int64][]float64{5: {1, 2}}))

	report, err := NewHarness(repo, repo, &stubRecommender{}, WithPredictor(DotRatingPredictor{})).Evaluate(ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, "dot", report.Predictor)
	require.NotNil(t, report.MAE)
	assert.InDelta(t, 0.0, *report.MAE, 1e-9)
}

func TestEvaluate_SkipsUserWithoutUnseenTestBooks(t *testing.T) {
	repo := store.NewMemoryRepository()
	seed(repo, "alice", nil, 1, 2, 3, 4, 5)
	// carol 的测试交互是训练集中读过的书，相关集合为空
	seed(repo, "carol", nil, 1, 2, 3, 4, 1)

	rec := &stubRecommender{books: map[string][]int64{"alice": {5}}}
	report, err := NewHarness(repo, repo, rec).Evaluate(context.Background(), Options{KValues: []int{1}})
	require.NoError(t, err)
	assert.Equal(t, 2, report.NumUsers)
	assert.Equal(t, 1, report.NumEvalUsers)
	assert.Equal(t, 1, report.NumSkippedUsers)
	require.Len(t, rec.requests, 1)
	assert.Equal(t, "alice", rec.requests[0].UserID)
	assert.Contains(t, report.Note, "training split are dropped")
	assert.Contains(t, report.Note, "(1 skipped)")
}

func TestEvaluate_Coverage(t *testing.T) {
	ctx := context.Background()
	repo := store.NewMemoryRepository()
	for id := int64(1); id <= 4; id++ {
		repo.PutBook(&core.Book{ID: id, Title: "book"})
	}
	seed(repo, "alice", nil, 1, 2)
	seed(repo, "bob", nil, 3)

	require.NoError(t, repo.SetUserVectors(ctx, core.VectorKindCF, map[string][]float64{"alice": {1, 0}}))
	require.NoError(t, repo.SetBookVectors(ctx, core.VectorKindCF, map[int64][]float64{1: {1, 0}, 2: {0, 1}}))
	require.NoError(t, repo.SetBookVectors(ctx, core.VectorKindContent, map[int64][]float64{1: {1}, 2: {1}, 3: {1}}))
	require.NoError(t, repo.SetBookVectors(ctx, core.VectorKindGraph, map[int64][]float64{4: {1, 1}}))

	report, err := NewHarness(repo, repo, &stubRecommender{}, WithCatalog(repo)).Evaluate(ctx, Options{})
	require.NoError(t, err)

	c := report.Coverage
	assert.Equal(t, 2, c.TotalUsers)
	assert.Equal(t, 3, c.TotalInteractions)
	require.NotNil(t, c.TotalBooks)
	assert.Equal(t, 4, *c.TotalBooks)
	assert.Equal(t, 1, c.UsersWithCF)
	assert.Equal(t, 3, c.BooksWithContent)
	assert.Equal(t, 2, c.BooksWithCF)
	assert.Equal(t, 1, c.BooksWithGraph)

	// 没有目录时不统计图书总量
	report, err = NewHarness(repo, repo, &stubRecommender{}).Evaluate(ctx, Options{})
	require.NoError(t, err)
	assert.Nil(t, report.Coverage.TotalBooks)
}
