package store

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/rushteam/shelfrec/core"
)

// KVVectorStore 是基于 core.KeyValueStore 的向量存储，可接 Redis 或内存 KV。
// 向量以 JSON 数组编码。
//
// Key 约定（KeyPrefix 默认 "shelfrec"）：
//   - 用户向量：{KeyPrefix}:{kind}:user:{userID}
//   - 图书向量：{KeyPrefix}:{kind}:book:{bookID}
//   - 拥有某类向量的图书索引（Hash）：{KeyPrefix}:{kind}:books，field 为 bookID
//   - 维度登记（Hash）：{KeyPrefix}:dims，field 为维度组
//   - 图书热度（Hash）：{KeyPrefix}:popularity，field 为 bookID，值为交互次数
type KVVectorStore struct {
	kv        core.KeyValueStore
	KeyPrefix string

	// 进程内串行化“读维度-校验-写入”
	mu sync.Mutex
}

func NewKVVectorStore(kv core.KeyValueStore, keyPrefix string) *KVVectorStore {
	if keyPrefix == "" {
		keyPrefix = "shelfrec"
	}
	return &KVVectorStore{kv: kv, KeyPrefix: keyPrefix}
}

func (s *KVVectorStore) Name() string { return "kv_vector:" + s.kv.Name() }

func (s *KVVectorStore) Close() error { return s.kv.Close() }

func (s *KVVectorStore) userKey(kind core.VectorKind, userID string) string {
	return s.KeyPrefix + ":" + string(kind) + ":user:" + userID
}

func (s *KVVectorStore) bookKey(kind core.VectorKind, bookID int64) string {
	return s.KeyPrefix + ":" + string(kind) + ":book:" + formatID(bookID)
}

func (s *KVVectorStore) indexKey(kind core.VectorKind) string {
	return s.KeyPrefix + ":" + string(kind) + ":books"
}

func (s *KVVectorStore) dimsKey() string       { return s.KeyPrefix + ":dims" }
func (s *KVVectorStore) popularityKey() string { return s.KeyPrefix + ":popularity" }

func (s *KVVectorStore) get(ctx context.Context, key string) ([]float64, error) {
	data, err := s.kv.Get(ctx, key)
	if err != nil {
		if core.IsStoreNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return decodeVector(data)
}

func (s *KVVectorStore) GetUserVector(ctx context.Context, userID string, kind core.VectorKind) ([]float64, error) {
	return s.get(ctx, s.userKey(kind, userID))
}

func (s *KVVectorStore) GetBookVector(ctx context.Context, bookID int64, kind core.VectorKind) ([]float64, error) {
	return s.get(ctx, s.bookKey(kind, bookID))
}

// BookVectors 批量读取，无法解码的向量视为缺失。
func (s *KVVectorStore) BookVectors(ctx context.Context, kind core.VectorKind, bookIDs []int64) (map[int64][]float64, error) {
	if len(bookIDs) == 0 {
		return map[int64][]float64{}, nil
	}
	keys := make([]string, len(bookIDs))
	for i, id := range bookIDs {
		keys[i] = s.bookKey(kind, id)
	}
	raw, err := s.kv.BatchGet(ctx, keys)
	if err != nil {
		return nil, err
	}

	out := make(map[int64][]float64, len(raw))
	for i, id := range bookIDs {
		data, ok := raw[keys[i]]
		if !ok {
			continue
		}
		vec, err := decodeVector(data)
		if err != nil || len(vec) == 0 {
			continue
		}
		out[id] = vec
	}
	return out, nil
}

func (s *KVVectorStore) knownDimension(ctx context.Context, group string) (int, error) {
	data, err := s.kv.HGet(ctx, s.dimsKey(), group)
	if err != nil {
		if core.IsStoreNotFound(err) {
			return 0, nil
		}
		return 0, err
	}
	dim, err := strconv.Atoi(string(data))
	if err != nil {
		return 0, fmt.Errorf("corrupt dimension for %s: %w", group, err)
	}
	return dim, nil
}

func (s *KVVectorStore) prepare(ctx context.Context, kind core.VectorKind, n int, check func(known int) (int, error)) error {
	if n == 0 {
		return nil
	}
	group := kind.DimensionGroup()
	known, err := s.knownDimension(ctx, group)
	if err != nil {
		return err
	}
	dim, err := check(known)
	if err != nil {
		return err
	}
	if known == 0 {
		return s.kv.HSet(ctx, s.dimsKey(), group, []byte(strconv.Itoa(dim)))
	}
	return nil
}

// SetUserVectors 校验全部通过后一次性 BatchSet。
func (s *KVVectorStore) SetUserVectors(ctx context.Context, kind core.VectorKind, vectors map[string][]float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.prepare(ctx, kind, len(vectors), func(known int) (int, error) {
		return checkDimensions(kind, known, vectors)
	})
	if err != nil || len(vectors) == 0 {
		return err
	}

	kvs := make(map[string][]byte, len(vectors))
	for id, v := range vectors {
		data, err := encodeVector(v)
		if err != nil {
			return err
		}
		kvs[s.userKey(kind, id)] = data
	}
	return s.kv.BatchSet(ctx, kvs)
}

func (s *KVVectorStore) SetBookVectors(ctx context.Context, kind core.VectorKind, vectors map[int64][]float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.prepare(ctx, kind, len(vectors), func(known int) (int, error) {
		return checkDimensions(kind, known, vectors)
	})
	if err != nil || len(vectors) == 0 {
		return err
	}

	kvs := make(map[string][]byte, len(vectors))
	for id, v := range vectors {
		data, err := encodeVector(v)
		if err != nil {
			return err
		}
		kvs[s.bookKey(kind, id)] = data
	}
	if err := s.kv.BatchSet(ctx, kvs); err != nil {
		return err
	}
	index := make(map[string][]byte, len(vectors))
	for id := range vectors {
		index[formatID(id)] = []byte("1")
	}
	return s.kv.HMSet(ctx, s.indexKey(kind), index)
}

func (s *KVVectorStore) indexedBooks(ctx context.Context, kind core.VectorKind) ([]int64, error) {
	fields, err := s.kv.HGetAll(ctx, s.indexKey(kind))
	if err != nil {
		if core.IsStoreNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	ids := make([]int64, 0, len(fields))
	for f := range fields {
		if id, ok := parseID(f); ok {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *KVVectorStore) CountWithVector(ctx context.Context, kind core.VectorKind) (int, error) {
	ids, err := s.indexedBooks(ctx, kind)
	return len(ids), err
}

// RefreshPopularity 用完整的交互列表重建图书热度，供采样策略使用。
func (s *KVVectorStore) RefreshPopularity(ctx context.Context, interactions []core.Interaction) error {
	counts := make(map[int64]int)
	for _, in := range interactions {
		counts[in.BookID]++
	}
	fields := make(map[string][]byte, len(counts))
	for id, n := range counts {
		fields[formatID(id)] = []byte(strconv.Itoa(n))
	}
	return s.kv.HMSet(ctx, s.popularityKey(), fields)
}

func (s *KVVectorStore) ListCandidates(ctx context.Context, kind core.VectorKind, policy core.SamplingPolicy) ([]core.CandidateRecord, error) {
	ids, err := s.indexedBooks(ctx, kind)
	if err != nil || len(ids) == 0 {
		return nil, err
	}

	pop, err := s.kv.HGetAll(ctx, s.popularityKey())
	if err != nil && !core.IsStoreNotFound(err) {
		return nil, err
	}

	eligible := make([]core.BookPopularity, len(ids))
	for i, id := range ids {
		n, _ := strconv.Atoi(string(pop[formatID(id)]))
		eligible[i] = core.BookPopularity{ID: id, InteractionCount: n}
	}

	selected := ids
	if policy != nil {
		selected = policy.Select(eligible)
	}

	vectors, err := s.BookVectors(ctx, kind, selected)
	if err != nil {
		return nil, err
	}
	out := make([]core.CandidateRecord, 0, len(selected))
	for _, id := range selected {
		if v, ok := vectors[id]; ok {
			out = append(out, core.CandidateRecord{ID: id, Vector: v})
		}
	}
	return out, nil
}

var _ core.VectorStore = (*KVVectorStore)(nil)
