package encoder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/rushteam/shelfrec/core"
	"github.com/rushteam/shelfrec/pkg/metrics"
)

// Config 是 OpenAI 兼容编码服务的配置
type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int

	// Timeout 单次请求超时，0 表示不额外限制
	Timeout time.Duration

	// 熔断：连续失败 FailureThreshold 次后打开，OpenTimeout 后半开
	FailureThreshold uint32
	OpenTimeout      time.Duration
}

// embeddingsClient 是 go-openai 客户端中用到的部分，便于测试替换
type embeddingsClient interface {
	CreateEmbeddings(ctx context.Context, conv openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error)
}

// OpenAIEncoder 通过 OpenAI 兼容的 /embeddings 接口编码文本，外层包一个熔断器：
// 编码服务不可用时快速失败，内容召回随即降级为空结果。
type OpenAIEncoder struct {
	client  embeddingsClient
	model   string
	dims    int
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker[[][]float64]
	logger  zerolog.Logger
}

func NewOpenAIEncoder(cfg Config, logger zerolog.Logger) (*OpenAIEncoder, error) {
	if cfg.APIKey == "" {
		return nil, core.NewDomainError(core.ModuleEncoder, core.ErrorCodeInvalidInput, "encoder api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = string(openai.SmallEmbedding3)
	}
	if cfg.Dimensions <= 0 {
		return nil, core.NewDomainError(core.ModuleEncoder, core.ErrorCodeInvalidInput, "encoder dimensions must be positive")
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	return newOpenAIEncoder(openai.NewClientWithConfig(clientConfig), cfg, logger), nil
}

func newOpenAIEncoder(client embeddingsClient, cfg Config, logger zerolog.Logger) *OpenAIEncoder {
	threshold := cfg.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}
	openTimeout := cfg.OpenTimeout
	if openTimeout <= 0 {
		openTimeout = 30 * time.Second
	}

	e := &OpenAIEncoder{
		client:  client,
		model:   cfg.Model,
		dims:    cfg.Dimensions,
		timeout: cfg.Timeout,
		logger:  logger,
	}
	e.breaker = gobreaker.NewCircuitBreaker[[][]float64](gobreaker.Settings{
		Name:        "encoder.openai",
		MaxRequests: 1,
		Timeout:     openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			e.logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("encoder circuit breaker state changed")
		},
	})
	return e
}

func (e *OpenAIEncoder) Dimensions() int { return e.dims }

func (e *OpenAIEncoder) Encode(ctx context.Context, text string) ([]float64, error) {
	vectors, err := e.EncodeBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EncodeBatch 批量编码，返回顺序与输入一致
func (e *OpenAIEncoder) EncodeBatch(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, core.NewDomainError(core.ModuleEncoder, core.ErrorCodeInvalidInput, "no texts provided for embedding")
	}

	vectors, err := e.breaker.Execute(func() ([][]float64, error) {
		return e.create(ctx, texts)
	})
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.RecordEncoder("openai", "open")
		return nil, fmt.Errorf("%w: %v", core.NewDomainError(core.ModuleEncoder, core.ErrorCodeUnavailable, "encoder unavailable"), err)
	case err != nil:
		metrics.RecordEncoder("openai", "error")
		return nil, err
	}
	metrics.RecordEncoder("openai", "ok")
	return vectors, nil
}

func (e *OpenAIEncoder) create(ctx context.Context, texts []string) ([][]float64, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      texts,
		Model:      openai.EmbeddingModel(e.model),
		Dimensions: e.dims,
	})
	if err != nil {
		return nil, fmt.Errorf("create embeddings failed: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding response has %d vectors, want %d", len(resp.Data), len(texts))
	}

	out := make([][]float64, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, fmt.Errorf("embedding response index %d out of range", d.Index)
		}
		if len(d.Embedding) != e.dims {
			return nil, fmt.Errorf("%w: encoder returned %d dims, want %d", core.ErrDimensionMismatch, len(d.Embedding), e.dims)
		}
		vec := make([]float64, len(d.Embedding))
		for i, x := range d.Embedding {
			vec[i] = float64(x)
		}
		out[d.Index] = vec
	}
	return out, nil
}

// State 返回熔断器状态（closed / half-open / open）
func (e *OpenAIEncoder) State() string {
	return e.breaker.State().String()
}

var _ core.TextEncoder = (*OpenAIEncoder)(nil)
