package recall

import (
	"context"
	"strings"

	"github.com/rushteam/shelfrec/core"
	"github.com/rushteam/shelfrec/pkg/utils"
)

// 交互模式打分：每个命中的类型 0.5，作者命中 1.0
const (
	GenreMatchWeight  = 0.5
	AuthorMatchWeight = 1.0
)

// userHistory 是用户历史交互的摘要：交互过的图书、涉及的类型与作者。
type userHistory struct {
	interacted map[int64]struct{}
	genres     map[string]struct{}
	authors    map[string]struct{}
}

func (h *userHistory) genreList() []string  { return setKeys(h.genres) }
func (h *userHistory) authorList() []string { return setKeys(h.authors) }

func loadUserHistory(ctx context.Context, interactions core.InteractionStore, catalog core.BookCatalog, userID string) (*userHistory, error) {
	list, err := interactions.ListInteractions(ctx, userID)
	if err != nil {
		return nil, err
	}
	h := &userHistory{
		interacted: make(map[int64]struct{}, len(list)),
		genres:     make(map[string]struct{}),
		authors:    make(map[string]struct{}),
	}
	ids := make([]int64, 0, len(list))
	for _, in := range list {
		if _, ok := h.interacted[in.BookID]; !ok {
			h.interacted[in.BookID] = struct{}{}
			ids = append(ids, in.BookID)
		}
	}
	if len(ids) == 0 {
		return h, nil
	}

	books, err := catalog.GetBooks(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, b := range books {
		for _, g := range b.Genres {
			if g = normalizeTerm(g); g != "" {
				h.genres[g] = struct{}{}
			}
		}
		if a := normalizeTerm(b.Author); a != "" {
			h.authors[a] = struct{}{}
		}
	}
	return h, nil
}

// PatternRecall 是基于交互模式的召回：与用户历史同类型或同作者、且未交互过的图书。
// 分数 = 0.5 × 命中类型数 + 1.0 × 作者命中。
//
// 作为主信号使用时（SourceTag 为 pattern）其优先级高于所有向量信号，由融合时的来源优先级决定，
// 而不是依赖分数区间；作为兜底层级使用时 SourceTag 为 fallback。
type PatternRecall struct {
	Interactions core.InteractionStore
	Catalog      core.BookCatalog

	// SourceTag 候选来源标记，默认 pattern
	SourceTag core.Source
}

func (r *PatternRecall) source() core.Source {
	if r.SourceTag == "" {
		return core.SourcePattern
	}
	return r.SourceTag
}

func (r *PatternRecall) Name() string { return string(r.source()) + ".pattern" }

func (r *PatternRecall) Recall(ctx context.Context, rctx *core.RecommendContext) ([]*core.Candidate, error) {
	if r.Interactions == nil || r.Catalog == nil || rctx == nil || rctx.UserID == "" || rctx.Limit <= 0 {
		return nil, nil
	}

	h, err := loadUserHistory(ctx, r.Interactions, r.Catalog, rctx.UserID)
	if err != nil {
		return nil, err
	}
	if len(h.genres) == 0 && len(h.authors) == 0 {
		return nil, nil
	}

	exclude := rctx.Exclude
	if exclude == nil {
		exclude = h.interacted
	}
	books, err := r.Catalog.FindByGenresOrAuthors(ctx, h.genreList(), h.authorList(), exclude, rctx.Limit)
	if err != nil {
		return nil, err
	}

	out := make([]*core.Candidate, 0, len(books))
	for _, b := range books {
		score := 0.0
		for _, g := range b.Genres {
			if _, ok := h.genres[normalizeTerm(g)]; ok {
				score += GenreMatchWeight
			}
		}
		if _, ok := h.authors[normalizeTerm(b.Author)]; ok {
			score += AuthorMatchWeight
		}
		c := core.NewCandidate(b.ID, score, r.source())
		c.Book = b
		c.PutLabel(utils.LabelRecallSource, utils.RecallLabel(r.Name()))
		out = append(out, c)
	}
	return out, nil
}

func normalizeTerm(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func setKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
