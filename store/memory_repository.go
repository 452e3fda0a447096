package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/rushteam/shelfrec/core"
)

// MemoryRepository 是全内存的存储实现，用于测试/开发/原型。
// 同时实现 VectorStore、InteractionStore、UserStore、UserLister 与 BookCatalog。
type MemoryRepository struct {
	mu sync.RWMutex

	users        map[string]*core.User
	books        map[int64]*core.Book
	interactions []core.Interaction

	userVectors map[core.VectorKind]map[string][]float64
	bookVectors map[core.VectorKind]map[int64][]float64
	dims        map[string]int // dimension group -> length
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		users:       make(map[string]*core.User),
		books:       make(map[int64]*core.Book),
		userVectors: make(map[core.VectorKind]map[string][]float64),
		bookVectors: make(map[core.VectorKind]map[int64][]float64),
		dims:        make(map[string]int),
	}
}

func (r *MemoryRepository) Name() string { return "memory" }

func (r *MemoryRepository) Close() error { return nil }

// PutUser 新增或覆盖用户
func (r *MemoryRepository) PutUser(u *core.User) {
	if u == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *u
	r.users[u.ID] = &cp
}

// PutBook 新增或覆盖图书
func (r *MemoryRepository) PutBook(b *core.Book) {
	if b == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.books[b.ID] = cloneBook(b)
}

// AddInteraction 追加交互记录
func (r *MemoryRepository) AddInteraction(in core.Interaction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.interactions = append(r.interactions, in)
}

func (r *MemoryRepository) ListInteractions(ctx context.Context, userID string) ([]core.Interaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]core.Interaction, 0)
	for _, in := range r.interactions {
		if userID == "" || in.UserID == userID {
			out = append(out, in)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryRepository) CountInteractions(ctx context.Context, userID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, in := range r.interactions {
		if in.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) GetUser(ctx context.Context, userID string) (*core.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.users[userID]
	if !ok {
		return nil, core.ErrStoreNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *MemoryRepository) ListUsers(ctx context.Context) ([]*core.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*core.User, 0, len(r.users))
	for _, u := range r.users {
		cp := *u
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *MemoryRepository) GetBooks(ctx context.Context, ids []int64) (map[int64]*core.Book, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[int64]*core.Book, len(ids))
	for _, id := range ids {
		if b, ok := r.books[id]; ok {
			out[id] = cloneBook(b)
		}
	}
	return out, nil
}

func (r *MemoryRepository) FindByGenresOrAuthors(ctx context.Context, genres, authors []string, exclude map[int64]struct{}, limit int) ([]*core.Book, error) {
	if len(genres) == 0 && len(authors) == 0 {
		return nil, nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	type match struct {
		book   *core.Book
		author bool
	}
	var matches []match
	for id, b := range r.books {
		if _, skip := exclude[id]; skip {
			continue
		}
		authorHit := containsFold(authors, b.Author)
		genreHit := false
		for _, g := range b.Genres {
			if containsFold(genres, g) {
				genreHit = true
				break
			}
		}
		if authorHit || genreHit {
			matches = append(matches, match{book: b, author: authorHit})
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].author != matches[j].author {
			return matches[i].author
		}
		return matches[i].book.ID > matches[j].book.ID
	})

	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	out := make([]*core.Book, len(matches))
	for i, m := range matches {
		out[i] = cloneBook(m.book)
	}
	return out, nil
}

func (r *MemoryRepository) ListRecent(ctx context.Context, exclude map[int64]struct{}, limit int) ([]*core.Book, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*core.Book, 0, len(r.books))
	for id, b := range r.books {
		if _, skip := exclude[id]; skip {
			continue
		}
		out = append(out, cloneBook(b))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepository) ListBooks(ctx context.Context, afterID int64, limit int) ([]*core.Book, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*core.Book, 0)
	for id, b := range r.books {
		if id > afterID {
			out = append(out, cloneBook(b))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func containsFold(list []string, s string) bool {
	if s == "" {
		return false
	}
	for _, x := range list {
		if strings.EqualFold(strings.TrimSpace(x), strings.TrimSpace(s)) {
			return true
		}
	}
	return false
}

func cloneBook(b *core.Book) *core.Book {
	cp := *b
	if b.Genres != nil {
		cp.Genres = append([]string(nil), b.Genres...)
	}
	return &cp
}

var (
	_ core.InteractionStore = (*MemoryRepository)(nil)
	_ core.UserStore        = (*MemoryRepository)(nil)
	_ core.UserLister       = (*MemoryRepository)(nil)
	_ core.BookCatalog      = (*MemoryRepository)(nil)
)
