package filter

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/rushteam/shelfrec/core"
)

// StoreAdapter 从 KV 存储读取图书黑名单。支持两种存放方式：
//
//   - 字符串 key，值为 JSON 数组：[12, 34]
//   - Hash key（后端是 KeyValueStore 时），field 为图书 ID，值任意
type StoreAdapter struct {
	store core.Store
}

func NewStoreAdapter(s core.Store) *StoreAdapter {
	return &StoreAdapter{store: s}
}

// GetBlacklist 两种形式都不存在时返回 core.ErrStoreNotFound
func (a *StoreAdapter) GetBlacklist(ctx context.Context, key string) ([]int64, error) {
	data, err := a.store.Get(ctx, key)
	if err == nil {
		var ids []int64
		if err := json.Unmarshal(data, &ids); err != nil {
			return nil, fmt.Errorf("blacklist %s: %w", key, err)
		}
		return ids, nil
	}
	if !core.IsStoreNotFound(err) {
		return nil, err
	}

	kv, ok := a.store.(core.KeyValueStore)
	if !ok {
		return nil, err
	}
	fields, herr := kv.HGetAll(ctx, key)
	if herr != nil {
		return nil, herr
	}
	if len(fields) == 0 {
		return nil, core.ErrStoreNotFound
	}
	ids := make([]int64, 0, len(fields))
	for f := range fields {
		if id, perr := strconv.ParseInt(f, 10, 64); perr == nil {
			ids = append(ids, id)
		}
	}
	return ids, nil
}
