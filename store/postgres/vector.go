package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"github.com/pkg/errors"

	"github.com/rushteam/shelfrec/core"
	"github.com/rushteam/shelfrec/sampling"
)

// 向量种类到列的映射，列名只来自这里，不会拼接外部输入
var (
	userColumns = map[core.VectorKind]string{
		core.VectorKindKYC: "kyc_embedding",
		core.VectorKindCF:  "cf_embedding",
	}
	bookColumns = map[core.VectorKind]string{
		core.VectorKindContent: "content_embedding",
		core.VectorKindCF:      "cf_embedding",
		core.VectorKindGraph:   "graph_embedding",
	}
	// 同一维度组的所有列，用于写入前读取已登记的维度
	groupColumns = map[string][]tableColumn{
		"content": {{"books", "content_embedding"}, {"users", "kyc_embedding"}},
		"cf":      {{"books", "cf_embedding"}, {"users", "cf_embedding"}},
		"graph":   {{"books", "graph_embedding"}},
	}
)

type tableColumn struct {
	table, column string
}

func userColumn(kind core.VectorKind) (string, error) {
	col, ok := userColumns[kind]
	if !ok {
		return "", core.NewDomainError(core.ModuleStore, core.ErrorCodeInvalidInput, "unsupported user vector kind: "+string(kind))
	}
	return col, nil
}

func bookColumn(kind core.VectorKind) (string, error) {
	col, ok := bookColumns[kind]
	if !ok {
		return "", core.NewDomainError(core.ModuleStore, core.ErrorCodeInvalidInput, "unsupported book vector kind: "+string(kind))
	}
	return col, nil
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

// scanVector 把可空的 vector 列转为 []float64，NULL 返回 nil
func scanVector(v pgvector.Vector, valid bool) []float64 {
	if !valid {
		return nil
	}
	s := v.Slice()
	if len(s) == 0 {
		return nil
	}
	return toFloat64(s)
}

type nullVector struct {
	vec   pgvector.Vector
	valid bool
}

func (n *nullVector) Scan(src any) error {
	if src == nil {
		n.valid = false
		return nil
	}
	n.valid = true
	return n.vec.Scan(src)
}

func (d *DB) GetUserVector(ctx context.Context, userID string, kind core.VectorKind) ([]float64, error) {
	col, err := userColumn(kind)
	if err != nil {
		return nil, err
	}
	var nv nullVector
	err = d.db.QueryRowContext(ctx, `SELECT `+col+` FROM users WHERE id = `+placeholder(1), userID).Scan(&nv)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get user %s vector", kind)
	}
	return scanVector(nv.vec, nv.valid), nil
}

func (d *DB) GetBookVector(ctx context.Context, bookID int64, kind core.VectorKind) ([]float64, error) {
	col, err := bookColumn(kind)
	if err != nil {
		return nil, err
	}
	var nv nullVector
	err = d.db.QueryRowContext(ctx, `SELECT `+col+` FROM books WHERE id = `+placeholder(1), bookID).Scan(&nv)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get book %s vector", kind)
	}
	return scanVector(nv.vec, nv.valid), nil
}

func (d *DB) BookVectors(ctx context.Context, kind core.VectorKind, bookIDs []int64) (map[int64][]float64, error) {
	col, err := bookColumn(kind)
	if err != nil {
		return nil, err
	}
	out := make(map[int64][]float64, len(bookIDs))
	if len(bookIDs) == 0 {
		return out, nil
	}

	query := `SELECT id, ` + col + ` FROM books WHERE id = ANY(` + placeholder(1) + `) AND ` + col + ` IS NOT NULL`
	rows, err := d.db.QueryContext(ctx, query, pq.Array(bookIDs))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list book %s vectors", kind)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var nv nullVector
		if err := rows.Scan(&id, &nv); err != nil {
			return nil, errors.Wrap(err, "failed to scan book vector")
		}
		if v := scanVector(nv.vec, nv.valid); v != nil {
			out[id] = v
		}
	}
	return out, rows.Err()
}

// knownDimension 读取维度组内任意一个已有向量的维度，0 表示还没有向量
func knownDimension(ctx context.Context, tx *sql.Tx, kind core.VectorKind) (int, error) {
	for _, tc := range groupColumns[kind.DimensionGroup()] {
		var dim sql.NullInt64
		query := `SELECT vector_dims(` + tc.column + `) FROM ` + tc.table + ` WHERE ` + tc.column + ` IS NOT NULL LIMIT 1`
		err := tx.QueryRowContext(ctx, query).Scan(&dim)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return 0, errors.Wrap(err, "failed to read vector dimension")
		}
		if dim.Valid {
			return int(dim.Int64), nil
		}
	}
	return 0, nil
}

func checkBatch[K comparable](kind core.VectorKind, known int, vectors map[K][]float64) error {
	dim := known
	for id, v := range vectors {
		if len(v) == 0 {
			return core.NewDomainError(core.ModuleStore, core.ErrorCodeInvalidInput, fmt.Sprintf("empty %s vector for %v", kind, id))
		}
		if dim == 0 {
			dim = len(v)
		}
		if len(v) != dim {
			return fmt.Errorf("%w: %s vector for %v has %d dims, want %d", core.ErrDimensionMismatch, kind, id, len(v), dim)
		}
	}
	return nil
}

// SetUserVectors 在一个事务内覆盖用户向量，任何一条失败则整体回滚。
// 不存在的用户会被创建（仅带向量）。
func (d *DB) SetUserVectors(ctx context.Context, kind core.VectorKind, vectors map[string][]float64) error {
	col, err := userColumn(kind)
	if err != nil || len(vectors) == 0 {
		return err
	}

	return d.withTx(ctx, func(tx *sql.Tx) error {
		known, err := knownDimension(ctx, tx, kind)
		if err != nil {
			return err
		}
		if err := checkBatch(kind, known, vectors); err != nil {
			return err
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO users (id, `+col+`) VALUES (`+placeholder(1)+`, `+placeholder(2)+`)
			ON CONFLICT (id) DO UPDATE SET `+col+` = EXCLUDED.`+col)
		if err != nil {
			return errors.Wrap(err, "failed to prepare user vector upsert")
		}
		defer stmt.Close()

		ids := make([]string, 0, len(vectors))
		for id := range vectors {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			if _, err := stmt.ExecContext(ctx, id, pgvector.NewVector(toFloat32(vectors[id]))); err != nil {
				return errors.Wrapf(err, "failed to set user %s vector", id)
			}
		}
		return nil
	})
}

// SetBookVectors 在一个事务内覆盖图书向量，只更新已存在的图书。
func (d *DB) SetBookVectors(ctx context.Context, kind core.VectorKind, vectors map[int64][]float64) error {
	col, err := bookColumn(kind)
	if err != nil || len(vectors) == 0 {
		return err
	}

	return d.withTx(ctx, func(tx *sql.Tx) error {
		known, err := knownDimension(ctx, tx, kind)
		if err != nil {
			return err
		}
		if err := checkBatch(kind, known, vectors); err != nil {
			return err
		}

		stmt, err := tx.PrepareContext(ctx, `UPDATE books SET `+col+` = `+placeholder(1)+` WHERE id = `+placeholder(2))
		if err != nil {
			return errors.Wrap(err, "failed to prepare book vector update")
		}
		defer stmt.Close()

		ids := make([]int64, 0, len(vectors))
		for id := range vectors {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		for _, id := range ids {
			if _, err := stmt.ExecContext(ctx, pgvector.NewVector(toFloat32(vectors[id])), id); err != nil {
				return errors.Wrapf(err, "failed to set book %d vector", id)
			}
		}
		return nil
	})
}

// ResetVectors 在一个事务内把维度组内的所有向量列置空
func (d *DB) ResetVectors(ctx context.Context, kind core.VectorKind) error {
	columns, ok := groupColumns[kind.DimensionGroup()]
	if !ok || !kind.Valid() {
		return core.NewDomainError(core.ModuleStore, core.ErrorCodeInvalidInput, "unsupported vector kind: "+string(kind))
	}
	return d.withTx(ctx, func(tx *sql.Tx) error {
		for _, tc := range columns {
			query := `UPDATE ` + tc.table + ` SET ` + tc.column + ` = NULL WHERE ` + tc.column + ` IS NOT NULL`
			if _, err := tx.ExecContext(ctx, query); err != nil {
				return errors.Wrapf(err, "failed to reset %s.%s", tc.table, tc.column)
			}
		}
		return nil
	})
}

func (d *DB) CountWithVector(ctx context.Context, kind core.VectorKind) (int, error) {
	col, err := bookColumn(kind)
	if err != nil {
		return 0, err
	}
	var n int
	if err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM books WHERE `+col+` IS NOT NULL`).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "failed to count vectors")
	}
	return n, nil
}

// sampleQuery 在库内完成热门优先 + 固定步长采样，只返回选中的 ID（按选中顺序）。
// $1 热门名额，$2 步长，$3 样本上限。
const sampleQuery = `
	WITH eligible AS (
		SELECT b.id, COUNT(i.id) AS n
		FROM books b
		LEFT JOIN interactions i ON i.book_id = b.id
		WHERE b.%[1]s IS NOT NULL
		GROUP BY b.id
	),
	popular AS (
		SELECT id, ROW_NUMBER() OVER (ORDER BY n DESC, id) AS ord
		FROM eligible
		ORDER BY n DESC, id
		LIMIT $1
	)
	SELECT id FROM (
		SELECT id, 0 AS phase, ord FROM popular
		UNION ALL
		SELECT e.id, CASE WHEN e.id %% $2 = 0 THEN 1 ELSE 2 END, e.id
		FROM eligible e
		WHERE NOT EXISTS (SELECT 1 FROM popular p WHERE p.id = e.id)
	) picked
	ORDER BY phase, ord
	LIMIT $3`

// ListCandidates 按采样策略选出图书 ID，再批量读取选中图书的向量与元数据。
// sampling.PopularityStride 的选择在库内完成；其他策略先取出全部符合条件图书的热度再在进程内选择。
func (d *DB) ListCandidates(ctx context.Context, kind core.VectorKind, policy core.SamplingPolicy) ([]core.CandidateRecord, error) {
	col, err := bookColumn(kind)
	if err != nil {
		return nil, err
	}

	var ids []int64
	if ps, ok := policy.(*sampling.PopularityStride); ok && ps.SampleSize > 0 {
		ids, err = d.sampleIDs(ctx, col, ps)
	} else {
		ids, err = d.selectIDs(ctx, col, policy)
	}
	if err != nil || len(ids) == 0 {
		return nil, err
	}

	query := `SELECT ` + bookFields + `, ` + col + ` FROM books WHERE id = ANY(` + placeholder(1) + `)`
	rows, err := d.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, errors.Wrap(err, "failed to load sampled books")
	}
	defer rows.Close()

	byID := make(map[int64]core.CandidateRecord, len(ids))
	for rows.Next() {
		var nv nullVector
		b, err := scanBook(rows, &nv)
		if err != nil {
			return nil, err
		}
		byID[b.ID] = core.CandidateRecord{ID: b.ID, Vector: scanVector(nv.vec, nv.valid), Book: b}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]core.CandidateRecord, 0, len(ids))
	for _, id := range ids {
		if rec, ok := byID[id]; ok && rec.Vector != nil {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (d *DB) sampleIDs(ctx context.Context, col string, policy *sampling.PopularityStride) ([]int64, error) {
	size, popular, stride := policy.Quotas()
	rows, err := d.db.QueryContext(ctx, fmt.Sprintf(sampleQuery, col), popular, stride, size)
	if err != nil {
		return nil, errors.Wrap(err, "failed to sample books")
	}
	defer rows.Close()

	ids := make([]int64, 0, size)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "failed to scan sampled book")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (d *DB) selectIDs(ctx context.Context, col string, policy core.SamplingPolicy) ([]int64, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT b.id, COUNT(i.id)
		FROM books b
		LEFT JOIN interactions i ON i.book_id = b.id
		WHERE b.`+col+` IS NOT NULL
		GROUP BY b.id
		ORDER BY b.id`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list eligible books")
	}
	defer rows.Close()

	var eligible []core.BookPopularity
	for rows.Next() {
		var p core.BookPopularity
		if err := rows.Scan(&p.ID, &p.InteractionCount); err != nil {
			return nil, errors.Wrap(err, "failed to scan eligible book")
		}
		eligible = append(eligible, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(eligible) == 0 {
		return nil, nil
	}
	if policy != nil {
		return policy.Select(eligible), nil
	}
	ids := make([]int64, len(eligible))
	for i, p := range eligible {
		ids[i] = p.ID
	}
	return ids, nil
}

func (d *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit transaction")
	}
	return nil
}

var (
	_ core.VectorStore    = (*DB)(nil)
	_ core.VectorResetter = (*DB)(nil)
)
