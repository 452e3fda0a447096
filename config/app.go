package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rushteam/shelfrec/sampling"
)

// AppConfig 是命令行工具的完整配置。
//
// 优先级（从高到低）：
//  1. 命令行 flag（BindFlags 之后）
//  2. 环境变量（SHELFREC_STORAGE_DRIVER、SHELFREC_ENCODER_API_KEY 等）
//  3. 配置文件（YAML）
//  4. DefaultAppConfig
type AppConfig struct {
	Storage   StorageConfig   `mapstructure:"storage"`
	Encoder   EncoderConfig   `mapstructure:"encoder"`
	Recommend RecommendConfig `mapstructure:"recommend"`
	Sampling  SamplingConfig  `mapstructure:"sampling"`
	Train     TrainConfig     `mapstructure:"train"`
	Eval      EvalConfig      `mapstructure:"eval"`
	Log       LogConfig       `mapstructure:"log"`
}

type StorageConfig struct {
	// Driver: memory / redis / postgres
	Driver string `mapstructure:"driver"`

	// FixturePath 是 memory 驱动的 JSON 数据文件，训练结果会写回该文件
	FixturePath string `mapstructure:"fixture_path"`

	// DSN 是 postgres 驱动的连接串
	DSN string `mapstructure:"dsn"`

	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`

	// KeyPrefix 是 KV 向量存储的 key 前缀
	KeyPrefix string `mapstructure:"key_prefix"`
}

type EncoderConfig struct {
	// Provider: hash / openai
	Provider         string        `mapstructure:"provider"`
	APIKey           string        `mapstructure:"api_key"`
	BaseURL          string        `mapstructure:"base_url"`
	Model            string        `mapstructure:"model"`
	Dimensions       int           `mapstructure:"dimensions"`
	Timeout          time.Duration `mapstructure:"timeout"`
	FailureThreshold uint32        `mapstructure:"failure_threshold"`
	BatchSize        int           `mapstructure:"batch_size"`
}

type RecommendConfig struct {
	MinInteractions int           `mapstructure:"min_interactions"`
	EnablePattern   bool          `mapstructure:"enable_pattern"`
	SourceTimeout   time.Duration `mapstructure:"source_timeout"`
	MaxConcurrent   int           `mapstructure:"max_concurrent"`
	PipelineFile    string        `mapstructure:"pipeline_file"`
}

type PolicyConfig struct {
	SampleSize      int     `mapstructure:"sample_size"`
	PopularFraction float64 `mapstructure:"popular_fraction"`
	Stride          int64   `mapstructure:"stride"`
}

// Policy 转为采样策略
func (p PolicyConfig) Policy() *sampling.PopularityStride {
	return &sampling.PopularityStride{SampleSize: p.SampleSize, PopularFraction: p.PopularFraction, Stride: p.Stride}
}

type SamplingConfig struct {
	Content PolicyConfig `mapstructure:"content"`
	CF      PolicyConfig `mapstructure:"cf"`
	Graph   PolicyConfig `mapstructure:"graph"`
}

type ALSConfig struct {
	MinInteractions int     `mapstructure:"min_interactions"`
	Factors         int     `mapstructure:"factors"`
	Iterations      int     `mapstructure:"iterations"`
	Regularization  float64 `mapstructure:"regularization"`
	Seed            int64   `mapstructure:"seed"`
	Workers         int     `mapstructure:"workers"`
}

type GraphConfig struct {
	MinInteractions int   `mapstructure:"min_interactions"`
	Dim             int   `mapstructure:"dim"`
	Rounds          int   `mapstructure:"rounds"`
	Seed            int64 `mapstructure:"seed"`
}

type TrainConfig struct {
	ALS   ALSConfig   `mapstructure:"als"`
	Graph GraphConfig `mapstructure:"graph"`
}

type EvalConfig struct {
	KValues         []int   `mapstructure:"k_values"`
	MinInteractions int     `mapstructure:"min_interactions"`
	TestRatio       float64 `mapstructure:"test_ratio"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DefaultAppConfig 返回默认配置，是所有默认值的唯一来源。
func DefaultAppConfig() *AppConfig {
	return &AppConfig{
		Storage: StorageConfig{
			Driver:      "memory",
			FixturePath: "shelfrec.json",
			RedisAddr:   "localhost:6379",
			KeyPrefix:   "shelfrec",
		},
		Encoder: EncoderConfig{
			Provider:         "hash",
			Model:            "text-embedding-3-small",
			Dimensions:       256,
			Timeout:          30 * time.Second,
			FailureThreshold: 5,
			BatchSize:        64,
		},
		Recommend: RecommendConfig{
			MinInteractions: 3,
			SourceTimeout:   2 * time.Second,
		},
		Sampling: SamplingConfig{
			Content: PolicyConfig{SampleSize: sampling.DefaultSampleSize, PopularFraction: sampling.DefaultPopularFraction, Stride: sampling.DefaultStride},
			CF:      PolicyConfig{SampleSize: sampling.DefaultCFSampleSize, PopularFraction: sampling.DefaultCFPopular, Stride: sampling.DefaultStride},
			Graph:   PolicyConfig{SampleSize: sampling.DefaultSampleSize, PopularFraction: sampling.DefaultPopularFraction, Stride: sampling.DefaultStride},
		},
		Train: TrainConfig{
			ALS:   ALSConfig{MinInteractions: 2, Factors: 128, Iterations: 15, Regularization: 0.1, Seed: 42},
			Graph: GraphConfig{MinInteractions: 1, Dim: 128, Rounds: 10, Seed: 42},
		},
		Eval: EvalConfig{
			KValues:         []int{5, 10, 20},
			MinInteractions: 5,
			TestRatio:       0.2,
		},
		Log: LogConfig{Level: "info", Format: "json"},
	}
}

// InitViper 创建 viper 实例：注册默认值、读取配置文件（可选）、绑定 SHELFREC_ 前缀的环境变量。
// path 为空时在当前目录查找 shelfrec.yaml，找不到不报错。
func InitViper(path string) (*viper.Viper, error) {
	v := viper.New()
	setViperDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("shelfrec")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		if path != "" || !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	v.SetEnvPrefix("SHELFREC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v, nil
}

func setViperDefaults(v *viper.Viper) {
	d := DefaultAppConfig()

	v.SetDefault("storage.driver", d.Storage.Driver)
	v.SetDefault("storage.fixture_path", d.Storage.FixturePath)
	v.SetDefault("storage.dsn", d.Storage.DSN)
	v.SetDefault("storage.redis_addr", d.Storage.RedisAddr)
	v.SetDefault("storage.redis_password", d.Storage.RedisPassword)
	v.SetDefault("storage.redis_db", d.Storage.RedisDB)
	v.SetDefault("storage.key_prefix", d.Storage.KeyPrefix)

	v.SetDefault("encoder.provider", d.Encoder.Provider)
	v.SetDefault("encoder.api_key", d.Encoder.APIKey)
	v.SetDefault("encoder.base_url", d.Encoder.BaseURL)
	v.SetDefault("encoder.model", d.Encoder.Model)
	v.SetDefault("encoder.dimensions", d.Encoder.Dimensions)
	v.SetDefault("encoder.timeout", d.Encoder.Timeout)
	v.SetDefault("encoder.failure_threshold", d.Encoder.FailureThreshold)
	v.SetDefault("encoder.batch_size", d.Encoder.BatchSize)

	v.SetDefault("recommend.min_interactions", d.Recommend.MinInteractions)
	v.SetDefault("recommend.enable_pattern", d.Recommend.EnablePattern)
	v.SetDefault("recommend.source_timeout", d.Recommend.SourceTimeout)
	v.SetDefault("recommend.max_concurrent", d.Recommend.MaxConcurrent)
	v.SetDefault("recommend.pipeline_file", d.Recommend.PipelineFile)

	for name, p := range map[string]PolicyConfig{"content": d.Sampling.Content, "cf": d.Sampling.CF, "graph": d.Sampling.Graph} {
		v.SetDefault("sampling."+name+".sample_size", p.SampleSize)
		v.SetDefault("sampling."+name+".popular_fraction", p.PopularFraction)
		v.SetDefault("sampling."+name+".stride", p.Stride)
	}

	v.SetDefault("train.als.min_interactions", d.Train.ALS.MinInteractions)
	v.SetDefault("train.als.factors", d.Train.ALS.Factors)
	v.SetDefault("train.als.iterations", d.Train.ALS.Iterations)
	v.SetDefault("train.als.regularization", d.Train.ALS.Regularization)
	v.SetDefault("train.als.seed", d.Train.ALS.Seed)
	v.SetDefault("train.als.workers", d.Train.ALS.Workers)
	v.SetDefault("train.graph.min_interactions", d.Train.Graph.MinInteractions)
	v.SetDefault("train.graph.dim", d.Train.Graph.Dim)
	v.SetDefault("train.graph.rounds", d.Train.Graph.Rounds)
	v.SetDefault("train.graph.seed", d.Train.Graph.Seed)

	v.SetDefault("eval.k_values", d.Eval.KValues)
	v.SetDefault("eval.min_interactions", d.Eval.MinInteractions)
	v.SetDefault("eval.test_ratio", d.Eval.TestRatio)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

// Load 把 viper 中的配置解码为 AppConfig 并校验。
func Load(v *viper.Viper) (*AppConfig, error) {
	cfg := &AppConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验配置取值。
func (c *AppConfig) Validate() error {
	switch c.Storage.Driver {
	case "memory":
	case "redis":
		if c.Storage.RedisAddr == "" {
			return fmt.Errorf("storage.redis_addr is required for the redis driver")
		}
	case "postgres":
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unsupported storage.driver %q (memory, redis, postgres)", c.Storage.Driver)
	}

	switch c.Encoder.Provider {
	case "hash":
	case "openai":
		if c.Encoder.APIKey == "" {
			return fmt.Errorf("encoder.api_key is required for the openai provider")
		}
	default:
		return fmt.Errorf("unsupported encoder.provider %q (hash, openai)", c.Encoder.Provider)
	}
	if c.Encoder.Dimensions <= 0 {
		return fmt.Errorf("encoder.dimensions must be positive")
	}

	if c.Recommend.MinInteractions < 0 {
		return fmt.Errorf("recommend.min_interactions must not be negative")
	}
	for name, p := range map[string]PolicyConfig{"content": c.Sampling.Content, "cf": c.Sampling.CF, "graph": c.Sampling.Graph} {
		if p.SampleSize <= 0 {
			return fmt.Errorf("sampling.%s.sample_size must be positive", name)
		}
		if p.PopularFraction < 0 || p.PopularFraction > 1 {
			return fmt.Errorf("sampling.%s.popular_fraction must be within [0, 1]", name)
		}
	}

	if c.Train.ALS.Factors <= 0 || c.Train.ALS.Iterations <= 0 {
		return fmt.Errorf("train.als.factors and train.als.iterations must be positive")
	}
	if c.Train.ALS.Regularization < 0 {
		return fmt.Errorf("train.als.regularization must not be negative")
	}
	if c.Train.Graph.Dim <= 0 || c.Train.Graph.Rounds < 0 {
		return fmt.Errorf("train.graph.dim must be positive and train.graph.rounds not negative")
	}

	if c.Eval.TestRatio <= 0 || c.Eval.TestRatio >= 1 {
		return fmt.Errorf("eval.test_ratio must be within (0, 1)")
	}
	for _, k := range c.Eval.KValues {
		if k <= 0 {
			return fmt.Errorf("eval.k_values must be positive, got %d", k)
		}
	}
	return nil
}
