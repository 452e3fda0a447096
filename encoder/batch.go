package encoder

import (
	"context"

	"github.com/rushteam/shelfrec/core"
)

// BatchEncoder 是支持批量编码的编码器
type BatchEncoder interface {
	core.TextEncoder
	EncodeBatch(ctx context.Context, texts []string) ([][]float64, error)
}

// EncodeAll 批量编码；编码器不支持批量时逐条调用。
func EncodeAll(ctx context.Context, enc core.TextEncoder, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if b, ok := enc.(BatchEncoder); ok {
		return b.EncodeBatch(ctx, texts)
	}
	out := make([][]float64, len(texts))
	for i, t := range texts {
		v, err := enc.Encode(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
