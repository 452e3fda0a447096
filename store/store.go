// Package store 提供领域存储接口的实现，接口定义在 core 包。
//
//   - MemoryStore / RedisStore：core.KeyValueStore，供 KVVectorStore 与黑名单使用
//   - MemoryRepository：图书、用户、交互与向量的内存实现，可从 JSON fixture 加载与回写
//   - KVVectorStore：基于 KeyValueStore 的 core.VectorStore，生产环境接 Redis
//
// Postgres（pgvector）实现在子包 store/postgres。
package store
