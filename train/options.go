// Package train 实现离线训练：ALS 矩阵分解（cf 向量）与二部图传播（graph 向量）。
//
// 两个训练器都是“先全部计算、再一次性写入”：数据不足或计算失败时不会改动已有向量。
// 同一时间只应运行一个训练任务，由调用方保证。
package train

import (
	"context"
	"fmt"
	"math/rand"
	"runtime"
	"sort"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/rushteam/shelfrec/core"
)

// Option 配置训练器。
type Option func(*options)

type options struct {
	logger zerolog.Logger
	reset  bool
}

func defaultOptions() options {
	return options{logger: zerolog.Nop()}
}

// WithLogger 设置日志，默认不输出。
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithReset 在写入前清空同一维度组的已有向量，用于改变维度后重新训练。
// 存储需要实现 core.VectorResetter。
func WithReset() Option {
	return func(o *options) {
		o.reset = true
	}
}

// resetGroup 在需要时清空 kind 所在维度组，训练已经成功后才调用
func resetGroup(ctx context.Context, o options, vectors core.VectorStore, kind core.VectorKind) error {
	if !o.reset {
		return nil
	}
	r, ok := vectors.(core.VectorResetter)
	if !ok {
		return fmt.Errorf("vector store %T does not support reset", vectors)
	}
	if err := r.ResetVectors(ctx, kind); err != nil {
		return fmt.Errorf("reset %s vectors: %w", kind, err)
	}
	o.logger.Info().Str("kind", string(kind)).Msg("vectors reset")
	return nil
}

// initVectors 用 N(0, 0.1) 初始化向量，按 keys 的顺序取随机数以保证可复现。
func initVectors(rng *rand.Rand, n, dim int) [][]float64 {
	out := make([][]float64, n)
	for i := range out {
		v := make([]float64, dim)
		for f := range v {
			v[f] = rng.NormFloat64() * 0.1
		}
		out[i] = v
	}
	return out
}

// parallelFor 把 [0, n) 切成 workers 块并发执行 fn，ctx 取消时尽快返回。
func parallelFor(ctx context.Context, n, workers int, fn func(i int)) error {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if n == 0 {
		return ctx.Err()
	}
	chunk := (n + workers - 1) / workers

	eg, ctx := errgroup.WithContext(ctx)
	for start := 0; start < n; start += chunk {
		lo, hi := start, min(start+chunk, n)
		eg.Go(func() error {
			for i := lo; i < hi; i++ {
				if i%256 == 0 {
					if err := ctx.Err(); err != nil {
						return err
					}
				}
				fn(i)
			}
			return nil
		})
	}
	return eg.Wait()
}

func sortedInt64s(m map[int64]int) []int64 {
	out := make([]int64, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func sortedStrings(m map[string]int) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
