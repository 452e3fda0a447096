package core

import "context"

// Store 是键值存储的最小接口，KVVectorStore 与黑名单过滤读写它。
//
// 实现：store.MemoryStore（测试/单机）、store.RedisStore（生产）。
type Store interface {
	// Name 返回后端名称，用于日志
	Name() string

	// Get 读取单个 key，不存在时返回 ErrStoreNotFound
	Get(ctx context.Context, key string) ([]byte, error)

	Set(ctx context.Context, key string, value []byte) error

	Delete(ctx context.Context, keys ...string) error

	// BatchGet 批量读取，不存在的 key 不出现在结果中
	BatchGet(ctx context.Context, keys []string) (map[string][]byte, error)

	// BatchSet 批量写入，要么全部可见要么全部不可见
	BatchSet(ctx context.Context, kvs map[string][]byte) error

	Close() error
}

// KeyValueStore 在 Store 之上增加 Hash 操作，用于向量索引、维度登记与热度表。
type KeyValueStore interface {
	Store

	// HGet 读取 Hash 字段，不存在时返回 ErrStoreNotFound
	HGet(ctx context.Context, key, field string) ([]byte, error)

	HSet(ctx context.Context, key, field string, value []byte) error

	// HMSet 一次写入多个字段
	HMSet(ctx context.Context, key string, fields map[string][]byte) error

	// HGetAll 读取整个 Hash，key 不存在时返回空 map
	HGetAll(ctx context.Context, key string) (map[string][]byte, error)
}

// ErrStoreNotFound 表示 key 或 Hash 字段不存在
var ErrStoreNotFound = NewDomainError(ModuleStore, ErrorCodeNotFound, "store: key not found")

// IsStoreNotFound 只匹配存储模块的 NOT_FOUND
func IsStoreNotFound(err error) bool {
	domainErr := GetDomainError(err)
	return domainErr != nil && domainErr.Module == ModuleStore && domainErr.Code == ErrorCodeNotFound
}
