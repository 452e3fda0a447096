package train

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rushteam/shelfrec/core"
	"github.com/rushteam/shelfrec/pkg/vecmath"
	"github.com/rushteam/shelfrec/store"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func rate(user string, book int64, r float64, minute int) core.Interaction {
	return core.Interaction{UserID: user, BookID: book, Kind: core.InteractionRating, Rating: &r, CreatedAt: t0.Add(time.Duration(minute) * time.Minute)}
}

func act(user string, book int64, kind core.InteractionKind, minute int) core.Interaction {
	return core.Interaction{UserID: user, BookID: book, Kind: kind, CreatedAt: t0.Add(time.Duration(minute) * time.Minute)}
}

func seed(repo *store.MemoryRepository, ins ...core.Interaction) {
	for _, in := range ins {
		repo.AddInteraction(in)
	}
}

func TestSolveCholesky(t *testing.T) {
	x := solveCholesky([][]float64{{4, 2}, {2, 3}}, []float64{2, 1})
	assert.InDelta(t, 0.5, x[0], 1e-12)
	assert.InDelta(t, 0.0, x[1], 1e-12)
}

func TestALSTrainer_Run_TwoByTwo(t *testing.T) {
	ctx := context.Background()
	repo := store.NewMemoryRepository()
	seed(repo,
		rate("alice", 1, 5, 0), rate("alice", 2, 3, 1),
		rate("bob", 1, 4, 2), act("bob", 2, core.InteractionClick, 3),
	)

	trainer := NewALSTrainer(ALSConfig{Factors: 4, Iterations: 5, Regularization: 0.1, MinInteractions: 2, Workers: 2}, repo, repo)
	model, err := trainer.Run(ctx)
	require.NoError(t, err)
	assert.Len(t, model.UserVectors, 2)
	assert.Len(t, model.BookVectors, 2)
	assert.Len(t, model.Loss, 5)

	n, err := repo.CountWithVector(ctx, core.VectorKindCF)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	for _, u := range []string{"alice", "bob"} {
		v, err := repo.GetUserVector(ctx, u, core.VectorKindCF)
		require.NoError(t, err)
		assert.Len(t, v, 4)
	}
	for _, b := range []int64{1, 2} {
		v, err := repo.GetBookVector(ctx, b, core.VectorKindCF)
		require.NoError(t, err)
		assert.Len(t, v, 4)
	}
}

func TestALSTrainer_InsufficientDataLeavesVectors(t *testing.T) {
	ctx := context.Background()
	repo := store.NewMemoryRepository()
	require.NoError(t, repo.SetUserVectors(ctx, core.VectorKindCF, map[string][]float64{"alice": {1, 2}}))
	seed(repo, rate("alice", 1, 5, 0), rate("alice", 2, 4, 1), rate("bob", 1, 2, 2))

	_, err := NewALSTrainer(ALSConfig{Factors: 4, Iterations: 3}, repo, repo).Run(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrInsufficientData))

	v, err := repo.GetUserVector(ctx, "alice", core.VectorKindCF)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2}, v)
}

func TestALSTrainer_Run_SkipsUnratedUsers(t *testing.T) {
	ctx := context.Background()
	repo := store.NewMemoryRepository()
	seed(repo,
		rate("alice", 1, 5, 0), rate("alice", 2, 3, 1),
		rate("bob", 1, 4, 2), rate("bob", 2, 2, 3),
		// dave 交互数达标，但他读过的书都只有 1 次交互，过滤后没有评分
		rate("dave", 4, 5, 4), rate("dave", 5, 4, 5), rate("dave", 6, 3, 6),
	)

	model, err := NewALSTrainer(ALSConfig{Factors: 3, Iterations: 4, Regularization: 0.1, MinInteractions: 2}, repo, repo).Run(ctx)
	require.NoError(t, err)
	assert.NotContains(t, model.UserVectors, "dave")
	assert.Len(t, model.UserVectors, 2)
	assert.Len(t, model.BookVectors, 2)

	v, err := repo.GetUserVector(ctx, "dave", core.VectorKindCF)
	require.NoError(t, err)
	assert.Empty(t, v)
	for _, u := range []string{"alice", "bob"} {
		v, err := repo.GetUserVector(ctx, u, core.VectorKindCF)
		require.NoError(t, err)
		assert.NotZero(t, vecmath.Norm(v))
	}
}

func TestALSTrainer_Run_ResetChangesDimension(t *testing.T) {
	ctx := context.Background()
	repo := store.NewMemoryRepository()
	seed(repo,
		rate("alice", 1, 5, 0), rate("alice", 2, 3, 1),
		rate("bob", 1, 4, 2), rate("bob", 2, 2, 3),
	)
	require.NoError(t, repo.SetUserVectors(ctx, core.VectorKindCF, map[string][]float64{"stale": {1, 1, 1, 1}}))

	_, err := NewALSTrainer(ALSConfig{Factors: 4, Iterations: 2}, repo, repo).Run(ctx)
	require.NoError(t, err)

	_, err = NewALSTrainer(ALSConfig{Factors: 6, Iterations: 2}, repo, repo).Run(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrDimensionMismatch))

	_, err = NewALSTrainer(ALSConfig{Factors: 6, Iterations: 2}, repo, repo, WithReset()).Run(ctx)
	require.NoError(t, err)
	for _, u := range []string{"alice", "bob"} {
		v, err := repo.GetUserVector(ctx, u, core.VectorKindCF)
		require.NoError(t, err)
		assert.Len(t, v, 6)
	}
	v, err := repo.GetBookVector(ctx, 1, core.VectorKindCF)
	require.NoError(t, err)
	assert.Len(t, v, 6)

	// 重置会清掉本次训练没有覆盖的旧向量
	v, err = repo.GetUserVector(ctx, "stale", core.VectorKindCF)
	require.NoError(t, err)
	assert.Empty(t, v)
}

func TestALSTrainer_Run_ResetUnsupported(t *testing.T) {
	ctx := context.Background()
	repo := store.NewMemoryRepository()
	seed(repo,
		rate("alice", 1, 5, 0), rate("alice", 2, 3, 1),
		rate("bob", 1, 4, 2), rate("bob", 2, 2, 3),
	)
	kv := store.NewKVVectorStore(store.NewMemoryStore(), "")

	_, err := NewALSTrainer(ALSConfig{Factors: 2, Iterations: 2}, repo, kv, WithReset()).Run(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not support reset")
}

func TestALSTrainer_Train(t *testing.T) {
	ins := []core.Interaction{
		rate("alice", 1, 1, 0), rate("alice", 2, 2, 1), rate("alice", 1, 5, 2),
		rate("bob", 1, 4, 3), rate("bob", 2, 1, 4),
		rate("carol", 2, 3, 5), rate("carol", 3, 4, 6),
		rate("dave", 3, 5, 7),
	}
	cfg := ALSConfig{Factors: 4, Iterations: 30, Regularization: 0.01, MinInteractions: 2, Seed: 7}

	model, err := NewALSTrainer(cfg, nil, nil).Train(context.Background(), ins)
	require.NoError(t, err)

	// dave 只有 1 次交互被过滤；book 3 有 2 次交互保留
	assert.NotContains(t, model.UserVectors, "dave")
	assert.Contains(t, model.BookVectors, int64(3))

	for i := 1; i < len(model.Loss); i++ {
		assert.LessOrEqual(t, model.Loss[i], model.Loss[i-1]+1e-9, "loss must not increase")
	}

	// 重复交互取时间上最后一次的评分
	pred, err := vecmath.Dot(model.UserVectors["alice"], model.BookVectors[1])
	require.NoError(t, err)
	assert.InDelta(t, 5.0, pred, 0.5)

	again, err := NewALSTrainer(cfg, nil, nil).Train(context.Background(), ins)
	require.NoError(t, err)
	assert.Equal(t, model.BookVectors, again.BookVectors, "same seed must give same vectors")
}

func TestGraphTrainer_Run(t *testing.T) {
	ctx := context.Background()
	repo := store.NewMemoryRepository()
	seed(repo,
		act("u1", 1, core.InteractionLike, 0), act("u1", 2, core.InteractionView, 1),
		act("u2", 1, core.InteractionPurchase, 2), act("u2", 2, core.InteractionLike, 3),
		act("u3", 3, core.InteractionLike, 4), act("u3", 4, core.InteractionView, 5),
		act("u4", 3, core.InteractionClick, 6), act("u4", 4, core.InteractionShare, 7),
	)

	vectors, err := NewGraphTrainer(GraphConfig{Dim: 32, Rounds: 10, Seed: 3}, repo, repo).Run(ctx)
	require.NoError(t, err)
	require.Len(t, vectors, 4)
	for id, v := range vectors {
		assert.Len(t, v, 32)
		assert.InDelta(t, 1.0, vecmath.Norm(v), 1e-9, "book %d not normalized", id)
	}

	same, err := vecmath.Cosine(vectors[1], vectors[2])
	require.NoError(t, err)
	other, err := vecmath.Cosine(vectors[1], vectors[3])
	require.NoError(t, err)
	assert.Greater(t, same, 0.9)
	assert.Greater(t, same, other)

	n, err := repo.CountWithVector(ctx, core.VectorKindGraph)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	// 用户不持久化图向量
	v, err := repo.GetUserVector(ctx, "u1", core.VectorKindCF)
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestGraphTrainer_Train(t *testing.T) {
	tests := []struct {
		name      string
		cfg       GraphConfig
		ins       []core.Interaction
		wantBooks int
		wantErr   error
	}{
		{
			name:    "single book",
			cfg:     GraphConfig{Dim: 8},
			ins:     []core.Interaction{act("u1", 1, core.InteractionView, 0), act("u2", 1, core.InteractionView, 1)},
			wantErr: core.ErrInsufficientData,
		},
		{
			name:    "no interactions",
			cfg:     GraphConfig{Dim: 8},
			wantErr: core.ErrInsufficientData,
		},
		{
			name: "min interactions filters books",
			cfg:  GraphConfig{Dim: 8, MinInteractions: 2},
			ins: []core.Interaction{
				act("u1", 1, core.InteractionView, 0), act("u2", 1, core.InteractionView, 1),
				act("u1", 2, core.InteractionView, 2), act("u2", 2, core.InteractionLike, 3),
				act("u1", 3, core.InteractionView, 4),
			},
			wantBooks: 2,
		},
		{
			name: "zero rounds still normalizes",
			cfg:  GraphConfig{Dim: 8, Rounds: 0},
			ins: []core.Interaction{
				act("u1", 1, core.InteractionView, 0), act("u1", 2, core.InteractionView, 1),
			},
			wantBooks: 2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewGraphTrainer(tt.cfg, nil, nil).Train(context.Background(), tt.ins)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr))
				return
			}
			require.NoError(t, err)
			assert.Len(t, got, tt.wantBooks)
			for _, v := range got {
				assert.False(t, math.IsNaN(v[0]))
				assert.InDelta(t, 1.0, vecmath.Norm(v), 1e-9)
			}
		})
	}
}
