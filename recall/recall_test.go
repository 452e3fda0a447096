package recall

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/rushteam/shelfrec/core"
	"github.com/rushteam/shelfrec/store"
)

func newRepo(t *testing.T) *store.MemoryRepository {
	t.Helper()
	r := store.NewMemoryRepository()
	r.PutBook(&core.Book{ID: 1, Title: "Earthsea", Author: "Le Guin", Genres: []string{"fantasy"}})
	r.PutBook(&core.Book{ID: 2, Title: "Lathe", Author: "Le Guin", Genres: []string{"fantasy", "scifi"}})
	r.PutBook(&core.Book{ID: 3, Title: "Excession", Author: "Banks", Genres: []string{"fantasy"}})
	r.PutBook(&core.Book{ID: 4, Title: "SPQR", Author: "Beard", Genres: []string{"history"}})
	return r
}

func ids(cs []*core.Candidate) []int64 {
	out := make([]int64, len(cs))
	for i, c := range cs {
		out[i] = c.BookID
	}
	return out
}

func equalIDs(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

type fixedEncoder struct {
	vec   []float64
	calls int
}

func (e *fixedEncoder) Encode(ctx context.Context, text string) ([]float64, error) {
	e.calls++
	return e.vec, nil
}

func (e *fixedEncoder) Dimensions() int { return len(e.vec) }

func TestContentRecall(t *testing.T) {
	ctx := context.Background()
	r := newRepo(t)
	if err := r.SetBookVectors(ctx, core.VectorKindContent, map[int64][]float64{
		1: {1, 0},
		2: {0.6, 0.8},
		3: {0, 1},
	}); err != nil {
		t.Fatalf("SetBookVectors() error = %v", err)
	}
	if err := r.SetUserVectors(ctx, core.VectorKindKYC, map[string][]float64{"alice": {1, 0}}); err != nil {
		t.Fatalf("SetUserVectors() error = %v", err)
	}
	r.PutUser(&core.User{ID: "bob", Preferences: &core.KYCPreferences{Genres: []string{"scifi"}}})
	r.PutUser(&core.User{ID: "carol"})

	enc := &fixedEncoder{vec: []float64{0, 1}}
	src := &ContentRecall{Vectors: r, Users: r, Encoder: enc}

	tests := []struct {
		name string
		user string
		want []int64
	}{
		{name: "stored kyc vector", user: "alice", want: []int64{1, 2, 3}},
		{name: "encoded from preferences", user: "bob", want: []int64{3, 2, 1}},
		{name: "no preferences", user: "carol", want: nil},
		{name: "unknown user", user: "nobody", want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := src.Recall(ctx, &core.RecommendContext{UserID: tt.user, Limit: 10})
			if err != nil {
				t.Fatalf("Recall() error = %v", err)
			}
			if !equalIDs(ids(got), tt.want) {
				t.Errorf("Recall() = %v, want %v", ids(got), tt.want)
			}
			for _, c := range got {
				if c.Source != core.SourceContent {
					t.Errorf("Source = %s, want content", c.Source)
				}
				if c.Book == nil {
					t.Errorf("book %d not attached", c.BookID)
				}
			}
		})
	}

	// 即时编码的向量不回写
	v, err := r.GetUserVector(ctx, "bob", core.VectorKindKYC)
	if err != nil || v != nil {
		t.Errorf("kyc vector persisted on read path: %v, %v", v, err)
	}
}

func TestContentRecall_Limit(t *testing.T) {
	ctx := context.Background()
	r := newRepo(t)
	_ = r.SetBookVectors(ctx, core.VectorKindContent, map[int64][]float64{1: {1, 0}, 2: {1, 0}, 3: {0, 1}})
	_ = r.SetUserVectors(ctx, core.VectorKindKYC, map[string][]float64{"alice": {1, 0}})

	got, err := (&ContentRecall{Vectors: r}).Recall(ctx, &core.RecommendContext{UserID: "alice", Limit: 2})
	if err != nil {
		t.Fatalf("Recall() error = %v", err)
	}
	// 同分按 id 升序
	if want := []int64{1, 2}; !equalIDs(ids(got), want) {
		t.Errorf("Recall() = %v, want %v", ids(got), want)
	}
}

func TestCFRecall(t *testing.T) {
	ctx := context.Background()
	r := newRepo(t)
	_ = r.SetBookVectors(ctx, core.VectorKindCF, map[int64][]float64{1: {2, 0}, 2: {0, 3}})
	_ = r.SetUserVectors(ctx, core.VectorKindCF, map[string][]float64{"alice": {0, 5}})

	src := &CFRecall{Vectors: r}
	got, err := src.Recall(ctx, &core.RecommendContext{UserID: "alice", Limit: 5})
	if err != nil {
		t.Fatalf("Recall() error = %v", err)
	}
	if want := []int64{2, 1}; !equalIDs(ids(got), want) {
		t.Fatalf("Recall() = %v, want %v", ids(got), want)
	}
	if math.Abs(got[0].Score-1) > 1e-9 {
		t.Errorf("top score = %v, want 1", got[0].Score)
	}

	got, err = src.Recall(ctx, &core.RecommendContext{UserID: "untrained", Limit: 5})
	if err != nil || len(got) != 0 {
		t.Errorf("Recall(untrained) = %v, %v, want empty", ids(got), err)
	}
}

func TestCFRecall_ZeroUserVector(t *testing.T) {
	ctx := context.Background()
	r := newRepo(t)
	_ = r.SetBookVectors(ctx, core.VectorKindCF, map[int64][]float64{1: {2, 0}, 2: {0, 3}})
	_ = r.SetUserVectors(ctx, core.VectorKindCF, map[string][]float64{"dave": {0, 0}})

	got, err := (&CFRecall{Vectors: r}).Recall(ctx, &core.RecommendContext{UserID: "dave", Limit: 5})
	if err != nil {
		t.Fatalf("Recall() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Recall(zero vector) = %v, want empty", ids(got))
	}
}

func TestGraphRecall_MeanOfInteractedBooks(t *testing.T) {
	ctx := context.Background()
	r := newRepo(t)
	_ = r.SetBookVectors(ctx, core.VectorKindGraph, map[int64][]float64{
		1: {1, 0},
		2: {0, 1},
		3: {1, 1},
		4: {1, -1},
	})
	now := time.Now()
	r.AddInteraction(core.Interaction{UserID: "alice", BookID: 1, Kind: core.InteractionLike, CreatedAt: now})
	r.AddInteraction(core.Interaction{UserID: "alice", BookID: 1, Kind: core.InteractionView, CreatedAt: now.Add(time.Second)})
	r.AddInteraction(core.Interaction{UserID: "alice", BookID: 2, Kind: core.InteractionView, CreatedAt: now.Add(2 * time.Second)})

	// 用户向量 = (2*[1,0] + [0,1]) / 3，book 1 被计入两次
	got, err := (&GraphRecall{Vectors: r, Interactions: r}).Recall(ctx, &core.RecommendContext{UserID: "alice", Limit: 4})
	if err != nil {
		t.Fatalf("Recall() error = %v", err)
	}
	if want := []int64{3, 1, 2, 4}; !equalIDs(ids(got), want) {
		t.Errorf("Recall() = %v, want %v", ids(got), want)
	}

	got, err = (&GraphRecall{Vectors: r, Interactions: r}).Recall(ctx, &core.RecommendContext{UserID: "bob", Limit: 4})
	if err != nil || len(got) != 0 {
		t.Errorf("Recall(no interactions) = %v, %v, want empty", ids(got), err)
	}
}

func TestPatternRecall(t *testing.T) {
	ctx := context.Background()
	r := newRepo(t)
	r.AddInteraction(core.Interaction{UserID: "alice", BookID: 1, Kind: core.InteractionLike, CreatedAt: time.Now()})

	got, err := (&PatternRecall{Interactions: r, Catalog: r}).Recall(ctx, &core.RecommendContext{UserID: "alice", Limit: 10})
	if err != nil {
		t.Fatalf("Recall() error = %v", err)
	}
	if want := []int64{2, 3}; !equalIDs(ids(got), want) {
		t.Fatalf("Recall() = %v, want %v", ids(got), want)
	}
	if got[0].Score != 1.5 || got[1].Score != 0.5 {
		t.Errorf("scores = %v, %v, want 1.5, 0.5", got[0].Score, got[1].Score)
	}
	if got[0].Source != core.SourcePattern {
		t.Errorf("Source = %s, want pattern", got[0].Source)
	}

	got, _ = (&PatternRecall{Interactions: r, Catalog: r}).Recall(ctx, &core.RecommendContext{UserID: "bob", Limit: 10})
	if len(got) != 0 {
		t.Errorf("Recall(no history) = %v, want empty", ids(got))
	}
}

func TestFanout_AbsorbsFailures(t *testing.T) {
	ok := SourceFunc{SourceName: "ok", Fn: func(ctx context.Context, rctx *core.RecommendContext) ([]*core.Candidate, error) {
		return []*core.Candidate{core.NewCandidate(1, 0.9, core.SourceCF)}, nil
	}}
	failing := SourceFunc{SourceName: "failing", Fn: func(ctx context.Context, rctx *core.RecommendContext) ([]*core.Candidate, error) {
		return nil, errors.New("boom")
	}}
	panicking := SourceFunc{SourceName: "panicking", Fn: func(ctx context.Context, rctx *core.RecommendContext) ([]*core.Candidate, error) {
		panic("unexpected")
	}}
	slow := SourceFunc{SourceName: "slow", Fn: func(ctx context.Context, rctx *core.RecommendContext) ([]*core.Candidate, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}

	f := &Fanout{
		Sources:       []Source{ok, failing, panicking, slow},
		Timeout:       20 * time.Millisecond,
		MaxConcurrent: 2,
		Logger:        zerolog.Nop(),
	}
	results := f.Collect(context.Background(), &core.RecommendContext{UserID: "u", Limit: 5})
	if len(results) != 4 {
		t.Fatalf("Collect() returned %d results, want 4", len(results))
	}
	if results[0].Err != nil || len(results[0].Candidates) != 1 {
		t.Errorf("ok source = %+v", results[0])
	}
	for _, r := range results[1:] {
		if !core.IsSourceUnavailable(r.Err) {
			t.Errorf("%s error = %v, want SOURCE_UNAVAILABLE", r.Name, r.Err)
		}
		if len(r.Candidates) != 0 {
			t.Errorf("%s contributed %d candidates", r.Name, len(r.Candidates))
		}
	}

	out, err := f.Process(context.Background(), &core.RecommendContext{UserID: "u", Limit: 5}, nil)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if want := []int64{1}; !equalIDs(ids(out), want) {
		t.Errorf("Process() = %v, want %v", ids(out), want)
	}
}

func TestPriorityMerge(t *testing.T) {
	all := []*core.Candidate{
		core.NewCandidate(5, 0.9, core.SourceCF),
		core.NewCandidate(7, 0.99, core.SourceGraph),
		core.NewCandidate(5, 0.2, core.SourceContent),
		core.NewCandidate(9, 0.5, core.SourcePattern),
		core.NewCandidate(7, 0.1, core.SourceGraph),
		core.NewCandidate(8, 0.3, core.SourceContent),
	}
	got := PriorityMerge(all, nil)

	// pattern 整体在前，其余来源只比分数
	if want := []int64{9, 7, 8, 5}; !equalIDs(ids(got), want) {
		t.Fatalf("PriorityMerge() = %v, want %v", ids(got), want)
	}
	seen := map[int64]*core.Candidate{}
	for _, c := range got {
		if seen[c.BookID] != nil {
			t.Errorf("duplicate book %d", c.BookID)
		}
		seen[c.BookID] = c
	}
	if c := seen[5]; c.Source != core.SourceContent || c.Score != 0.2 {
		t.Errorf("book 5 kept %s/%v, want content/0.2", c.Source, c.Score)
	}
	if c := seen[7]; c.Score != 0.99 {
		t.Errorf("book 7 score = %v, want 0.99", c.Score)
	}
}

func TestRankCandidates_PatternTier(t *testing.T) {
	cs := []*core.Candidate{
		core.NewCandidate(1, 0.95, core.SourceContent),
		core.NewCandidate(2, 0.5, core.SourcePattern),
		core.NewCandidate(3, 0.95, core.SourceCF),
		core.NewCandidate(4, 1.5, core.SourcePattern),
	}
	RankCandidates(cs, nil)
	if want := []int64{4, 2, 1, 3}; !equalIDs(ids(cs), want) {
		t.Errorf("RankCandidates() = %v, want %v", ids(cs), want)
	}
}

func TestFallbackChain(t *testing.T) {
	ctx := context.Background()
	empty := SourceFunc{SourceName: "empty", Fn: func(ctx context.Context, rctx *core.RecommendContext) ([]*core.Candidate, error) {
		return nil, nil
	}}
	failing := SourceFunc{SourceName: "failing", Fn: func(ctx context.Context, rctx *core.RecommendContext) ([]*core.Candidate, error) {
		return nil, errors.New("db down")
	}}
	some := SourceFunc{SourceName: "some", Fn: func(ctx context.Context, rctx *core.RecommendContext) ([]*core.Candidate, error) {
		return []*core.Candidate{core.NewCandidate(3, RecentScore, core.SourceFallback)}, nil
	}}

	tests := []struct {
		name     string
		tiers    []Source
		wantTier string
		wantIDs  []int64
		wantErr  bool
	}{
		{name: "first tier empty", tiers: []Source{empty, some}, wantTier: "some", wantIDs: []int64{3}},
		{name: "first tier fails", tiers: []Source{failing, some}, wantTier: "some", wantIDs: []int64{3}},
		{name: "all empty", tiers: []Source{empty, empty}},
		{name: "last tier fails", tiers: []Source{empty, failing}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chain := &FallbackChain{Tiers: tt.tiers, Logger: zerolog.Nop()}
			got, tier, err := chain.Run(ctx, &core.RecommendContext{UserID: "u", Limit: 5})
			if tt.wantErr {
				if !core.IsNoCandidates(err) {
					t.Fatalf("Run() error = %v, want NO_CANDIDATES", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if tier != tt.wantTier || !equalIDs(ids(got), tt.wantIDs) {
				t.Errorf("Run() = %v from %q, want %v from %q", ids(got), tier, tt.wantIDs, tt.wantTier)
			}
		})
	}
}

func TestDefaultFallbackChain(t *testing.T) {
	ctx := context.Background()
	r := newRepo(t)
	r.AddInteraction(core.Interaction{UserID: "alice", BookID: 4, Kind: core.InteractionView, CreatedAt: time.Now()})
	chain := NewFallbackChain(r, r, zerolog.Nop())

	// history 类型没有其他图书，落到第二层：按 id 降序
	got, tier, err := chain.Run(ctx, &core.RecommendContext{UserID: "alice", Limit: 2})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if tier != "fallback.recent" {
		t.Errorf("tier = %q, want fallback.recent", tier)
	}
	if want := []int64{3, 2}; !equalIDs(ids(got), want) {
		t.Errorf("Run() = %v, want %v", ids(got), want)
	}
	for _, c := range got {
		if c.Score != RecentScore || c.Source != core.SourceFallback {
			t.Errorf("candidate %d = %s/%v", c.BookID, c.Source, c.Score)
		}
	}
}
