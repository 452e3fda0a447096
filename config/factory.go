package config

import (
	"path/filepath"
	"strings"

	"github.com/rushteam/shelfrec/pipeline"
)

// DefaultPipelineYAML 是融合后的默认处理链：排除已交互 → 去重 → 排序 → 截断。
const DefaultPipelineYAML = `
pipeline:
  name: default
  nodes:
    - type: filter.interacted
    - type: rerank.dedup
    - type: rerank.sort
    - type: rerank.topn
`

// LoadPipeline 从 YAML（或 .json）文件构建 Pipeline；path 为空时使用 DefaultPipelineYAML。
// 需要先 import config/builders 完成节点注册。
func LoadPipeline(path string, deps *pipeline.Deps) (*pipeline.Pipeline, error) {
	var (
		cfg *pipeline.Config
		err error
	)
	switch {
	case path == "":
		cfg, err = pipeline.ParseYAML([]byte(DefaultPipelineYAML))
	case strings.EqualFold(filepath.Ext(path), ".json"):
		cfg, err = pipeline.LoadFromJSON(path)
	default:
		cfg, err = pipeline.LoadFromYAML(path)
	}
	if err != nil {
		return nil, err
	}
	if err := ValidatePipelineConfig(cfg); err != nil {
		return nil, err
	}
	return cfg.BuildPipeline(DefaultFactory(deps))
}
