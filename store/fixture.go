package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/rushteam/shelfrec/core"
)

// Fixture 是 MemoryRepository 的 JSON 快照，用于本地开发与 CLI 的 memory 驱动。
//
//	{
//	  "users": [{"id": "u1", "preferences": {"genres": ["fantasy"]}}],
//	  "books": [{"id": 1, "title": "..."}],
//	  "interactions": [{"user_id": "u1", "book_id": 1, "interaction_type": "like", "created_at": "..."}],
//	  "book_vectors": {"content": {"1": [0.1, 0.2]}},
//	  "user_vectors": {"kyc": {"u1": [0.1, 0.2]}}
//	}
type Fixture struct {
	Users        []*core.User                                   `json:"users"`
	Books        []*core.Book                                   `json:"books"`
	Interactions []core.Interaction                             `json:"interactions"`
	BookVectors  map[core.VectorKind]map[string]json.RawMessage `json:"book_vectors,omitempty"`
	UserVectors  map[core.VectorKind]map[string]json.RawMessage `json:"user_vectors,omitempty"`
}

// LoadFixture 从文件加载快照，path 为空时返回空仓库
func LoadFixture(ctx context.Context, path string) (*MemoryRepository, error) {
	repo := NewMemoryRepository()
	if path == "" {
		return repo, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture: %w", err)
	}
	var fx Fixture
	if err := json.Unmarshal(data, &fx); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}

	for _, u := range fx.Users {
		repo.PutUser(u)
	}
	for _, b := range fx.Books {
		repo.PutBook(b)
	}
	for _, in := range fx.Interactions {
		repo.AddInteraction(in)
	}

	for kind, byID := range fx.BookVectors {
		vectors := make(map[int64][]float64, len(byID))
		for raw, enc := range byID {
			id, ok := parseID(raw)
			if !ok {
				return nil, fmt.Errorf("fixture: invalid book id %q", raw)
			}
			v, err := decodeVector(enc)
			if err != nil {
				return nil, fmt.Errorf("fixture: book %d %s vector: %w", id, kind, err)
			}
			vectors[id] = v
		}
		if err := repo.SetBookVectors(ctx, kind, vectors); err != nil {
			return nil, err
		}
	}
	for kind, byID := range fx.UserVectors {
		vectors := make(map[string][]float64, len(byID))
		for id, enc := range byID {
			v, err := decodeVector(enc)
			if err != nil {
				return nil, fmt.Errorf("fixture: user %s %s vector: %w", id, kind, err)
			}
			vectors[id] = v
		}
		if err := repo.SetUserVectors(ctx, kind, vectors); err != nil {
			return nil, err
		}
	}
	return repo, nil
}

// Snapshot 导出当前仓库内容，与 LoadFixture 对称
func (r *MemoryRepository) Snapshot() *Fixture {
	r.mu.RLock()
	defer r.mu.RUnlock()

	fx := &Fixture{
		BookVectors: make(map[core.VectorKind]map[string]json.RawMessage),
		UserVectors: make(map[core.VectorKind]map[string]json.RawMessage),
	}
	for _, u := range r.users {
		cp := *u
		fx.Users = append(fx.Users, &cp)
	}
	for _, b := range r.books {
		fx.Books = append(fx.Books, cloneBook(b))
	}
	fx.Interactions = append(fx.Interactions, r.interactions...)

	for kind, byID := range r.bookVectors {
		m := make(map[string]json.RawMessage, len(byID))
		for id, v := range byID {
			m[formatID(id)], _ = encodeVector(v)
		}
		fx.BookVectors[kind] = m
	}
	for kind, byID := range r.userVectors {
		m := make(map[string]json.RawMessage, len(byID))
		for id, v := range byID {
			m[id], _ = encodeVector(v)
		}
		fx.UserVectors[kind] = m
	}
	return fx
}

// SaveFixture 把仓库写回文件，memory 驱动下训练/embed 的结果靠它持久化
func (r *MemoryRepository) SaveFixture(path string) error {
	data, err := json.MarshalIndent(r.Snapshot(), "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
