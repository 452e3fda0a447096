package store

import (
	"context"
	"testing"
	"time"

	"github.com/rushteam/shelfrec/core"
	"github.com/rushteam/shelfrec/sampling"
)

func TestDecodeVector(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		want    []float64
		wantErr bool
	}{
		{name: "native array", data: `[0.1,0.2,0.3]`, want: []float64{0.1, 0.2, 0.3}},
		{name: "string wrapped", data: `"[1,2]"`, want: []float64{1, 2}},
		{name: "empty string", data: `""`, want: nil},
		{name: "empty input", data: ``, want: nil},
		{name: "garbage", data: `{"a":1}`, wantErr: true},
		{name: "string garbage", data: `"not a vector"`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeVector([]byte(tt.data))
			if (err != nil) != tt.wantErr {
				t.Fatalf("decodeVector() error = %v, wantErr %v", err, tt.wantErr)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("decodeVector() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("decodeVector()[%d] = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

// vectorStores 返回所有需要满足同一契约的 VectorStore 实现
func vectorStores(t *testing.T) map[string]core.VectorStore {
	t.Helper()
	kv := NewMemoryStore()
	t.Cleanup(func() { _ = kv.Close() })
	return map[string]core.VectorStore{
		"memory_repository": NewMemoryRepository(),
		"kv_vector":         NewKVVectorStore(kv, "test"),
	}
}

func TestVectorStore_Contract(t *testing.T) {
	ctx := context.Background()
	for name, vs := range vectorStores(t) {
		t.Run(name, func(t *testing.T) {
			got, err := vs.GetUserVector(ctx, "missing", core.VectorKindCF)
			if err != nil || got != nil {
				t.Fatalf("GetUserVector(missing) = %v, %v, want nil, nil", got, err)
			}

			if err := vs.SetBookVectors(ctx, core.VectorKindContent, map[int64][]float64{
				1: {1, 0, 0},
				2: {0, 1, 0},
			}); err != nil {
				t.Fatalf("SetBookVectors() error = %v", err)
			}

			// kyc 与 content 共享维度组
			err = vs.SetUserVectors(ctx, core.VectorKindKYC, map[string][]float64{"u1": {1, 2}})
			if !core.IsDimensionMismatch(err) {
				t.Errorf("SetUserVectors(kyc, 2 dims) error = %v, want DimensionMismatch", err)
			}
			if err := vs.SetUserVectors(ctx, core.VectorKindKYC, map[string][]float64{"u1": {1, 2, 3}}); err != nil {
				t.Errorf("SetUserVectors(kyc, 3 dims) error = %v", err)
			}

			// cf 是独立的维度组
			if err := vs.SetUserVectors(ctx, core.VectorKindCF, map[string][]float64{"u1": {1, 2}}); err != nil {
				t.Errorf("SetUserVectors(cf) error = %v", err)
			}

			// 一批里有一个不合法，整批不生效
			err = vs.SetBookVectors(ctx, core.VectorKindCF, map[int64][]float64{1: {1, 1}, 2: {1, 1, 1}})
			if !core.IsDimensionMismatch(err) {
				t.Errorf("SetBookVectors(mixed) error = %v, want DimensionMismatch", err)
			}
			if v, _ := vs.GetBookVector(ctx, 1, core.VectorKindCF); v != nil {
				t.Errorf("GetBookVector() after failed batch = %v, want nil", v)
			}

			n, err := vs.CountWithVector(ctx, core.VectorKindContent)
			if err != nil || n != 2 {
				t.Errorf("CountWithVector(content) = %d, %v, want 2", n, err)
			}

			vecs, err := vs.BookVectors(ctx, core.VectorKindContent, []int64{1, 2, 3})
			if err != nil {
				t.Fatalf("BookVectors() error = %v", err)
			}
			if len(vecs) != 2 {
				t.Errorf("BookVectors() len = %d, want 2", len(vecs))
			}

			recs, err := vs.ListCandidates(ctx, core.VectorKindContent, sampling.ContentPolicy())
			if err != nil {
				t.Fatalf("ListCandidates() error = %v", err)
			}
			if len(recs) != 2 {
				t.Errorf("ListCandidates() len = %d, want 2", len(recs))
			}

			recs, err = vs.ListCandidates(ctx, core.VectorKindGraph, sampling.GraphPolicy())
			if err != nil || len(recs) != 0 {
				t.Errorf("ListCandidates(graph) = %v, %v, want empty", recs, err)
			}
		})
	}
}

func TestKVVectorStore_StringEncodedVector(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryStore()
	defer kv.Close()

	s := NewKVVectorStore(kv, "")
	if err := kv.Set(ctx, "shelfrec:cf:user:u1", []byte(`"[0.5, 0.25]"`)); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetUserVector(ctx, "u1", core.VectorKindCF)
	if err != nil {
		t.Fatalf("GetUserVector() error = %v", err)
	}
	if len(got) != 2 || got[0] != 0.5 || got[1] != 0.25 {
		t.Errorf("GetUserVector() = %v, want [0.5 0.25]", got)
	}
}

func TestKVVectorStore_PopularitySampling(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryStore()
	defer kv.Close()

	s := NewKVVectorStore(kv, "pop")
	vectors := make(map[int64][]float64)
	for i := int64(1); i <= 20; i++ {
		vectors[i] = []float64{float64(i), 1}
	}
	if err := s.SetBookVectors(ctx, core.VectorKindCF, vectors); err != nil {
		t.Fatal(err)
	}

	var interactions []core.Interaction
	for i := 0; i < 5; i++ {
		interactions = append(interactions, core.Interaction{UserID: "u", BookID: 3})
	}
	interactions = append(interactions, core.Interaction{UserID: "u", BookID: 11})
	if err := s.RefreshPopularity(ctx, interactions); err != nil {
		t.Fatal(err)
	}

	policy := &sampling.PopularityStride{SampleSize: 4, PopularFraction: 0.5, Stride: 7}
	recs, err := s.ListCandidates(ctx, core.VectorKindCF, policy)
	if err != nil {
		t.Fatalf("ListCandidates() error = %v", err)
	}
	want := []int64{3, 11, 7, 14}
	if len(recs) != len(want) {
		t.Fatalf("ListCandidates() len = %d, want %d", len(recs), len(want))
	}
	for i, id := range want {
		if recs[i].ID != id {
			t.Errorf("ListCandidates()[%d].ID = %d, want %d", i, recs[i].ID, id)
		}
	}
}

func TestMemoryRepository_Catalog(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()
	r.PutBook(&core.Book{ID: 1, Title: "A", Author: "Le Guin", Genres: []string{"fantasy"}})
	r.PutBook(&core.Book{ID: 2, Title: "B", Author: "Banks", Genres: []string{"scifi"}})
	r.PutBook(&core.Book{ID: 3, Title: "C", Author: "Other", Genres: []string{"fantasy", "scifi"}})
	r.PutBook(&core.Book{ID: 4, Title: "D", Author: "Nobody", Genres: []string{"history"}})

	got, err := r.FindByGenresOrAuthors(ctx, []string{"scifi"}, []string{"le guin"}, core.IDSet([]int64{2}), 10)
	if err != nil {
		t.Fatal(err)
	}
	// 作者命中优先，然后 ID 降序
	want := []int64{1, 3}
	if len(got) != len(want) {
		t.Fatalf("FindByGenresOrAuthors() len = %d, want %d", len(got), len(want))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("FindByGenresOrAuthors()[%d] = %d, want %d", i, got[i].ID, id)
		}
	}

	recent, err := r.ListRecent(ctx, core.IDSet([]int64{4}), 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 2 || recent[0].ID != 3 || recent[1].ID != 2 {
		t.Errorf("ListRecent() = %v, want ids [3 2]", recent)
	}

	page, err := r.ListBooks(ctx, 2, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 2 || page[0].ID != 3 {
		t.Errorf("ListBooks(after 2) = %v, want ids [3 4]", page)
	}

	if _, err := r.GetUser(ctx, "nobody"); !core.IsStoreNotFound(err) {
		t.Errorf("GetUser(missing) error = %v, want store not found", err)
	}
}

func TestMemoryRepository_Interactions(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r.AddInteraction(core.Interaction{UserID: "u1", BookID: 2, Kind: core.InteractionView, CreatedAt: base.Add(time.Hour)})
	r.AddInteraction(core.Interaction{UserID: "u1", BookID: 1, Kind: core.InteractionLike, CreatedAt: base})
	r.AddInteraction(core.Interaction{UserID: "u2", BookID: 1, Kind: core.InteractionClick, CreatedAt: base})

	n, err := r.CountInteractions(ctx, "u1")
	if err != nil || n != 2 {
		t.Errorf("CountInteractions(u1) = %d, %v, want 2", n, err)
	}

	list, err := r.ListInteractions(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].BookID != 1 {
		t.Errorf("ListInteractions(u1) not sorted by time: %v", list)
	}

	all, _ := r.ListInteractions(ctx, "")
	if len(all) != 3 {
		t.Errorf("ListInteractions(all) len = %d, want 3", len(all))
	}
}

func TestMemoryRepository_ResetVectors(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()
	_ = r.SetBookVectors(ctx, core.VectorKindContent, map[int64][]float64{1: {1, 0}})
	_ = r.SetUserVectors(ctx, core.VectorKindKYC, map[string][]float64{"alice": {0, 1}})
	_ = r.SetBookVectors(ctx, core.VectorKindCF, map[int64][]float64{1: {1, 2, 3}})

	// kyc 与 content 同组，重置 kyc 会一并清空 content
	if err := r.ResetVectors(ctx, core.VectorKindKYC); err != nil {
		t.Fatalf("ResetVectors() error = %v", err)
	}
	if n, _ := r.CountWithVector(ctx, core.VectorKindContent); n != 0 {
		t.Errorf("CountWithVector(content) = %d, want 0", n)
	}
	if v, _ := r.GetUserVector(ctx, "alice", core.VectorKindKYC); len(v) != 0 {
		t.Errorf("GetUserVector(kyc) = %v, want empty", v)
	}
	if n, _ := r.CountWithVector(ctx, core.VectorKindCF); n != 1 {
		t.Errorf("CountWithVector(cf) = %d, want 1", n)
	}

	// 维度登记已解除，可以写入新维度
	if err := r.SetBookVectors(ctx, core.VectorKindContent, map[int64][]float64{1: {1, 0, 0, 0}}); err != nil {
		t.Errorf("SetBookVectors() after reset error = %v", err)
	}
	if err := r.ResetVectors(ctx, core.VectorKind("bogus")); err == nil {
		t.Error("ResetVectors(bogus) error = nil, want error")
	}
}
