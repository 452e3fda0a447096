package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/rushteam/shelfrec/core"
	"github.com/rushteam/shelfrec/sampling"
)

// openTestDB 需要一个启用了 pgvector 的 PostgreSQL，通过 SHELFREC_TEST_POSTGRES_DSN 指定
func openTestDB(t *testing.T) *DB {
	t.Helper()
	dsn := os.Getenv("SHELFREC_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("需要连接真实的 PostgreSQL(pgvector) 才能运行，设置 SHELFREC_TEST_POSTGRES_DSN")
	}
	db, err := NewDB(Config{DSN: dsn})
	if err != nil {
		t.Fatalf("连接数据库失败: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	for _, stmt := range []string{"TRUNCATE interactions", "TRUNCATE books", "TRUNCATE users"} {
		if _, err := db.GetDB().ExecContext(ctx, stmt); err != nil {
			t.Fatalf("%s: %v", stmt, err)
		}
	}
	return db
}

func TestDB_VectorRoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	for _, stmt := range []string{
		`INSERT INTO books (id, title, author, genres) VALUES (1, 'A', 'Le Guin', '{fantasy}')`,
		`INSERT INTO books (id, title, author, genres) VALUES (2, 'B', 'Banks', '{scifi}')`,
		`INSERT INTO interactions (user_id, book_id, interaction_type, created_at) VALUES ('u1', 2, 'like', now())`,
	} {
		if _, err := db.GetDB().ExecContext(ctx, stmt); err != nil {
			t.Fatal(err)
		}
	}

	if err := db.SetBookVectors(ctx, core.VectorKindCF, map[int64][]float64{1: {1, 0}, 2: {0, 1}}); err != nil {
		t.Fatalf("SetBookVectors() error = %v", err)
	}
	err := db.SetUserVectors(ctx, core.VectorKindCF, map[string][]float64{"u1": {1, 0, 0}})
	if !core.IsDimensionMismatch(err) {
		t.Errorf("SetUserVectors(3 dims) error = %v, want DimensionMismatch", err)
	}

	v, err := db.GetBookVector(ctx, 2, core.VectorKindCF)
	if err != nil || len(v) != 2 || v[1] != 1 {
		t.Errorf("GetBookVector() = %v, %v", v, err)
	}

	missing, err := db.GetUserVector(ctx, "nobody", core.VectorKindCF)
	if err != nil || missing != nil {
		t.Errorf("GetUserVector(missing) = %v, %v, want nil, nil", missing, err)
	}

	recs, err := db.ListCandidates(ctx, core.VectorKindCF, sampling.CFPolicy())
	if err != nil {
		t.Fatalf("ListCandidates() error = %v", err)
	}
	if len(recs) != 2 || recs[0].Book == nil {
		t.Errorf("ListCandidates() = %+v, want 2 records with books", recs)
	}

	books, err := db.FindByGenresOrAuthors(ctx, []string{"scifi"}, []string{"le guin"}, nil, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(books) != 2 || books[0].ID != 1 {
		t.Errorf("FindByGenresOrAuthors() = %+v, want author match first", books)
	}

	list, err := db.ListInteractions(ctx, "u1")
	if err != nil || len(list) != 1 || list[0].Kind != core.InteractionLike {
		t.Errorf("ListInteractions() = %+v, %v", list, err)
	}
	if list[0].CreatedAt.After(time.Now().Add(time.Minute)) {
		t.Errorf("unexpected created_at %v", list[0].CreatedAt)
	}
}

func TestDB_ListCandidates_SampledInDatabase(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	// 30 本书，ID 越大交互越多
	vectors := make(map[int64][]float64)
	var eligible []core.BookPopularity
	for id := int64(1); id <= 30; id++ {
		if _, err := db.GetDB().ExecContext(ctx, `INSERT INTO books (id, title) VALUES ($1, 'book')`, id); err != nil {
			t.Fatal(err)
		}
		for n := int64(0); n < id%5; n++ {
			if _, err := db.GetDB().ExecContext(ctx, `INSERT INTO interactions (user_id, book_id, interaction_type) VALUES ('u', $1, 'view')`, id); err != nil {
				t.Fatal(err)
			}
		}
		vectors[id] = []float64{1, float64(id)}
		eligible = append(eligible, core.BookPopularity{ID: id, InteractionCount: int(id % 5)})
	}
	if err := db.SetBookVectors(ctx, core.VectorKindGraph, vectors); err != nil {
		t.Fatal(err)
	}

	policy := &sampling.PopularityStride{SampleSize: 10, PopularFraction: 0.5, Stride: 7}
	recs, err := db.ListCandidates(ctx, core.VectorKindGraph, policy)
	if err != nil {
		t.Fatalf("ListCandidates() error = %v", err)
	}
	want := policy.Select(eligible)
	if len(recs) != len(want) {
		t.Fatalf("ListCandidates() len = %d, want %d", len(recs), len(want))
	}
	for i, id := range want {
		if recs[i].ID != id {
			t.Errorf("ListCandidates()[%d] = %d, want %d", i, recs[i].ID, id)
		}
	}
}

func TestDB_ResetVectors(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	if _, err := db.GetDB().ExecContext(ctx, `INSERT INTO books (id, title) VALUES (1, 'A')`); err != nil {
		t.Fatal(err)
	}
	if err := db.SetBookVectors(ctx, core.VectorKindCF, map[int64][]float64{1: {1, 0}}); err != nil {
		t.Fatal(err)
	}
	if err := db.SetUserVectors(ctx, core.VectorKindCF, map[string][]float64{"u1": {0, 1}}); err != nil {
		t.Fatal(err)
	}

	if err := db.ResetVectors(ctx, core.VectorKindCF); err != nil {
		t.Fatalf("ResetVectors() error = %v", err)
	}
	if n, err := db.CountWithVector(ctx, core.VectorKindCF); err != nil || n != 0 {
		t.Errorf("CountWithVector() = %d, %v, want 0", n, err)
	}
	if v, err := db.GetUserVector(ctx, "u1", core.VectorKindCF); err != nil || v != nil {
		t.Errorf("GetUserVector() = %v, %v, want nil", v, err)
	}
	if err := db.SetBookVectors(ctx, core.VectorKindCF, map[int64][]float64{1: {1, 0, 0}}); err != nil {
		t.Errorf("SetBookVectors() with new dimension error = %v", err)
	}
}
