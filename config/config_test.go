package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/rushteam/shelfrec/config"
	_ "github.com/rushteam/shelfrec/config/builders"
	"github.com/rushteam/shelfrec/pipeline"
)

func TestDefaultAppConfig_Valid(t *testing.T) {
	if err := config.DefaultAppConfig().Validate(); err != nil {
		t.Fatalf("DefaultAppConfig().Validate() error = %v", err)
	}
}

func TestLoad_DefaultsAndEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("SHELFREC_RECOMMEND_MIN_INTERACTIONS", "4")
	t.Setenv("SHELFREC_LOG_LEVEL", "debug")

	v, err := config.InitViper("")
	if err != nil {
		t.Fatalf("InitViper() error = %v", err)
	}
	cfg, err := config.Load(v)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Recommend.MinInteractions != 4 {
		t.Errorf("Recommend.MinInteractions = %d, want 4", cfg.Recommend.MinInteractions)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want debug", cfg.Log.Level)
	}
	if cfg.Train.ALS.Factors != 128 || cfg.Train.ALS.Iterations != 15 {
		t.Errorf("Train.ALS = %+v, want defaults", cfg.Train.ALS)
	}
	if cfg.Sampling.CF.SampleSize != 2000 || cfg.Sampling.CF.PopularFraction != 0.8 {
		t.Errorf("Sampling.CF = %+v, want 2000/0.8", cfg.Sampling.CF)
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shelfrec.yaml")
	data := []byte(`
storage:
  driver: postgres
  dsn: postgres://localhost/shelfrec
recommend:
  source_timeout: 750ms
  enable_pattern: true
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	v, err := config.InitViper(path)
	if err != nil {
		t.Fatalf("InitViper() error = %v", err)
	}
	cfg, err := config.Load(v)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Storage.Driver != "postgres" || cfg.Storage.DSN == "" {
		t.Errorf("Storage = %+v", cfg.Storage)
	}
	if cfg.Recommend.SourceTimeout != 750*time.Millisecond || !cfg.Recommend.EnablePattern {
		t.Errorf("Recommend = %+v", cfg.Recommend)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *config.AppConfig)
	}{
		{name: "unknown driver", mutate: func(c *config.AppConfig) { c.Storage.Driver = "sqlite" }},
		{name: "postgres without dsn", mutate: func(c *config.AppConfig) { c.Storage.Driver = "postgres" }},
		{name: "openai without key", mutate: func(c *config.AppConfig) { c.Encoder.Provider = "openai" }},
		{name: "bad fraction", mutate: func(c *config.AppConfig) { c.Sampling.Graph.PopularFraction = 1.5 }},
		{name: "bad test ratio", mutate: func(c *config.AppConfig) { c.Eval.TestRatio = 1 }},
		{name: "zero factors", mutate: func(c *config.AppConfig) { c.Train.ALS.Factors = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultAppConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() error = nil, want error")
			}
		})
	}
}

func TestLoadPipeline(t *testing.T) {
	deps := &pipeline.Deps{Logger: zerolog.Nop()}

	p, err := config.LoadPipeline("", deps)
	if err != nil {
		t.Fatalf("LoadPipeline() error = %v", err)
	}
	want := []string{"filter.node", "rerank.dedup", "rerank.sort", "rerank.topn"}
	got := p.Names()
	if len(got) != len(want) {
		t.Fatalf("Names() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Names()[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	custom := []byte(`
pipeline:
  name: custom
  nodes:
    - type: filter.expr
      config:
        expr: "book.score < 0.1"
    - type: rerank.diversity
      config:
        key: author
        max_per_key: 2
    - type: rerank.topn
      config:
        n: 5
`)
	if err := os.WriteFile(path, custom, 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	p, err = config.LoadPipeline(path, deps)
	if err != nil {
		t.Fatalf("LoadPipeline(custom) error = %v", err)
	}
	if len(p.Nodes) != 3 {
		t.Errorf("len(Nodes) = %d, want 3", len(p.Nodes))
	}
}

func TestValidatePipelineConfig_Unsupported(t *testing.T) {
	cfg, err := pipeline.ParseYAML([]byte("pipeline:\n  nodes:\n    - type: rank.lr\n"))
	if err != nil {
		t.Fatalf("ParseYAML() error = %v", err)
	}
	if err := config.ValidatePipelineConfig(cfg); err == nil {
		t.Error("ValidatePipelineConfig() error = nil, want unsupported type")
	}
}

func TestLoadPipeline_JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.json")
	data := []byte(`{"pipeline": {"name": "json", "nodes": [{"type": "rerank.dedup"}, {"type": "rerank.topn", "config": {"n": 3}}]}}`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	p, err := config.LoadPipeline(path, &pipeline.Deps{Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("LoadPipeline(json) error = %v", err)
	}
	if got := p.Names(); len(got) != 2 || got[1] != "rerank.topn" {
		t.Errorf("Names() = %v, want [rerank.dedup rerank.topn]", got)
	}
}
