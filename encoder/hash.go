package encoder

import (
	"context"
	"hash/fnv"
	"strings"
	"unicode"

	"github.com/rushteam/shelfrec/core"
	"github.com/rushteam/shelfrec/pkg/vecmath"
)

// DefaultHashDimensions 是 HashEncoder 的默认维度
const DefaultHashDimensions = 256

// HashEncoder 是基于特征哈希的确定性编码器：小写分词，每个词哈希到一个维度并按符号累加，
// 最后 L2 归一化。没有外部依赖，用于开发、测试与离线环境。
// 共享词越多的文本余弦相似度越高。
type HashEncoder struct {
	dims int
}

func NewHashEncoder(dims int) *HashEncoder {
	if dims <= 0 {
		dims = DefaultHashDimensions
	}
	return &HashEncoder{dims: dims}
}

func (e *HashEncoder) Dimensions() int { return e.dims }

func (e *HashEncoder) Encode(ctx context.Context, text string) ([]float64, error) {
	vec := make([]float64, e.dims)
	for _, tok := range tokenize(text) {
		h := fnv.New64a()
		_, _ = h.Write([]byte(tok))
		sum := h.Sum64()
		idx := int(sum % uint64(e.dims))
		if sum&(1<<63) != 0 {
			vec[idx] -= 1
		} else {
			vec[idx] += 1
		}
	}
	return vecmath.Normalize(vec), nil
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

var _ core.TextEncoder = (*HashEncoder)(nil)
