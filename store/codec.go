package store

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/rushteam/shelfrec/core"
)

// decodeVector 是存储边界上唯一的向量解码入口。
// 历史数据里向量可能是原生 JSON 数组，也可能是包含数组的 JSON 字符串，两种都接受。
func decodeVector(data []byte) ([]float64, error) {
	if len(data) == 0 {
		return nil, nil
	}

	var vec []float64
	if err := json.Unmarshal(data, &vec); err == nil {
		return vec, nil
	}

	var wrapped string
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("decode vector: %w", err)
	}
	if wrapped == "" {
		return nil, nil
	}
	if err := json.Unmarshal([]byte(wrapped), &vec); err != nil {
		return nil, fmt.Errorf("decode vector string: %w", err)
	}
	return vec, nil
}

func encodeVector(v []float64) ([]byte, error) {
	return json.Marshal(v)
}

// checkDimensions 校验一批向量长度一致，并与维度组已登记的长度一致。
// known 为 0 表示该组还没有向量。返回这批向量的长度。
func checkDimensions[K comparable](kind core.VectorKind, known int, vectors map[K][]float64) (int, error) {
	dim := known
	for id, v := range vectors {
		if len(v) == 0 {
			return 0, core.NewDomainError(core.ModuleStore, core.ErrorCodeInvalidInput,
				fmt.Sprintf("empty %s vector for %v", kind, id))
		}
		if dim == 0 {
			dim = len(v)
			continue
		}
		if len(v) != dim {
			return 0, fmt.Errorf("%w: %s vector for %v has %d dims, want %d",
				core.ErrDimensionMismatch, kind, id, len(v), dim)
		}
	}
	return dim, nil
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}

func parseID(s string) (int64, bool) {
	id, err := strconv.ParseInt(s, 10, 64)
	return id, err == nil
}
