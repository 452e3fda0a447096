package store

import (
	"context"
	"sort"

	"github.com/rushteam/shelfrec/core"
)

// 本文件是 MemoryRepository 的向量部分：按种类保存用户/图书向量，
// 写入时按维度组校验长度。

func (r *MemoryRepository) GetUserVector(ctx context.Context, userID string, kind core.VectorKind) ([]float64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneVector(r.userVectors[kind][userID]), nil
}

func (r *MemoryRepository) GetBookVector(ctx context.Context, bookID int64, kind core.VectorKind) ([]float64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneVector(r.bookVectors[kind][bookID]), nil
}

func (r *MemoryRepository) BookVectors(ctx context.Context, kind core.VectorKind, bookIDs []int64) (map[int64][]float64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[int64][]float64, len(bookIDs))
	for _, id := range bookIDs {
		if v, ok := r.bookVectors[kind][id]; ok {
			out[id] = cloneVector(v)
		}
	}
	return out, nil
}

func (r *MemoryRepository) SetUserVectors(ctx context.Context, kind core.VectorKind, vectors map[string][]float64) error {
	if !kind.Valid() || kind == core.VectorKindGraph {
		return core.NewDomainError(core.ModuleStore, core.ErrorCodeInvalidInput, "unsupported user vector kind: "+string(kind))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	dim, err := checkDimensions(kind, r.dims[kind.DimensionGroup()], vectors)
	if err != nil {
		return err
	}
	if len(vectors) == 0 {
		return nil
	}
	r.dims[kind.DimensionGroup()] = dim

	if r.userVectors[kind] == nil {
		r.userVectors[kind] = make(map[string][]float64)
	}
	for id, v := range vectors {
		r.userVectors[kind][id] = cloneVector(v)
	}
	return nil
}

func (r *MemoryRepository) SetBookVectors(ctx context.Context, kind core.VectorKind, vectors map[int64][]float64) error {
	if !kind.Valid() || kind == core.VectorKindKYC {
		return core.NewDomainError(core.ModuleStore, core.ErrorCodeInvalidInput, "unsupported book vector kind: "+string(kind))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	dim, err := checkDimensions(kind, r.dims[kind.DimensionGroup()], vectors)
	if err != nil {
		return err
	}
	if len(vectors) == 0 {
		return nil
	}
	r.dims[kind.DimensionGroup()] = dim

	if r.bookVectors[kind] == nil {
		r.bookVectors[kind] = make(map[int64][]float64)
	}
	for id, v := range vectors {
		r.bookVectors[kind][id] = cloneVector(v)
	}
	return nil
}

// ResetVectors 清空同一维度组的所有向量种类
func (r *MemoryRepository) ResetVectors(ctx context.Context, kind core.VectorKind) error {
	if !kind.Valid() {
		return core.NewDomainError(core.ModuleStore, core.ErrorCodeInvalidInput, "unsupported vector kind: "+string(kind))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	group := kind.DimensionGroup()
	for k := range r.userVectors {
		if k.DimensionGroup() == group {
			delete(r.userVectors, k)
		}
	}
	for k := range r.bookVectors {
		if k.DimensionGroup() == group {
			delete(r.bookVectors, k)
		}
	}
	delete(r.dims, group)
	return nil
}

func (r *MemoryRepository) CountWithVector(ctx context.Context, kind core.VectorKind) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bookVectors[kind]), nil
}

func (r *MemoryRepository) ListCandidates(ctx context.Context, kind core.VectorKind, policy core.SamplingPolicy) ([]core.CandidateRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	vectors := r.bookVectors[kind]
	if len(vectors) == 0 {
		return nil, nil
	}

	counts := make(map[int64]int, len(vectors))
	for _, in := range r.interactions {
		if _, ok := vectors[in.BookID]; ok {
			counts[in.BookID]++
		}
	}

	eligible := make([]core.BookPopularity, 0, len(vectors))
	for id := range vectors {
		eligible = append(eligible, core.BookPopularity{ID: id, InteractionCount: counts[id]})
	}
	sort.Slice(eligible, func(i, j int) bool { return eligible[i].ID < eligible[j].ID })

	ids := make([]int64, 0, len(eligible))
	if policy == nil {
		for _, b := range eligible {
			ids = append(ids, b.ID)
		}
	} else {
		ids = policy.Select(eligible)
	}

	out := make([]core.CandidateRecord, 0, len(ids))
	for _, id := range ids {
		rec := core.CandidateRecord{ID: id, Vector: cloneVector(vectors[id])}
		if b, ok := r.books[id]; ok {
			rec.Book = cloneBook(b)
		}
		out = append(out, rec)
	}
	return out, nil
}

func cloneVector(v []float64) []float64 {
	if v == nil {
		return nil
	}
	out := make([]float64, len(v))
	copy(out, v)
	return out
}

var _ core.VectorStore = (*MemoryRepository)(nil)
