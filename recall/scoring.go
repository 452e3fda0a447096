package recall

import (
	"context"
	"sort"

	"github.com/rushteam/shelfrec/core"
	"github.com/rushteam/shelfrec/pkg/utils"
	"github.com/rushteam/shelfrec/pkg/vecmath"
)

// vectorScorer 是三个向量召回源共用的“采样 + 余弦打分 + TopK”。
// 它们之间只有向量种类与用户侧向量的差别。
type vectorScorer struct {
	Vectors core.VectorStore
	Kind    core.VectorKind
	Policy  core.SamplingPolicy
	Source  core.Source
}

// topK 对采样得到的图书打分，返回前 limit 个。
// 维度不一致的图书被跳过（数据问题只影响该图书，不影响整个召回源）。
func (s *vectorScorer) topK(ctx context.Context, query []float64, limit int) ([]*core.Candidate, int, error) {
	if len(query) == 0 || limit <= 0 {
		return nil, 0, nil
	}

	records, err := s.Vectors.ListCandidates(ctx, s.Kind, s.Policy)
	if err != nil {
		return nil, 0, err
	}

	skipped := 0
	out := make([]*core.Candidate, 0, len(records))
	for _, rec := range records {
		score, err := vecmath.Cosine(query, rec.Vector)
		if err != nil {
			skipped++
			continue
		}
		c := core.NewCandidate(rec.ID, score, s.Source)
		c.Book = rec.Book
		c.PutLabel(utils.LabelRecallSource, utils.RecallLabel(string(s.Source)))
		out = append(out, c)
	}

	SortCandidates(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, skipped, nil
}

// SortCandidates 按分数降序排序，同分按 book id 升序，保证结果确定。
func SortCandidates(cs []*core.Candidate) {
	sort.SliceStable(cs, func(i, j int) bool {
		if cs[i].Score != cs[j].Score {
			return cs[i].Score > cs[j].Score
		}
		return cs[i].BookID < cs[j].BookID
	})
}
