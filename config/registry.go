package config

import (
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/rushteam/shelfrec/pipeline"
)

// 配置驱动的 Pipeline 依赖 config/builders 的 init 注册内置节点，
// 入口处需要 import _ "github.com/rushteam/shelfrec/config/builders"。

// NodeBuilder 根据节点配置与运行期依赖构建 Node。
type NodeBuilder = pipeline.BuilderFunc

var registry = struct {
	sync.RWMutex
	builders map[string]NodeBuilder
}{builders: make(map[string]NodeBuilder)}

// Register 注册节点类型，同名覆盖。空类型或空 builder 被忽略。
func Register(typeName string, builder NodeBuilder) {
	if typeName == "" || builder == nil {
		return
	}
	registry.Lock()
	defer registry.Unlock()
	registry.builders[typeName] = builder
}

// SupportedTypes 返回已注册的节点类型（升序）
func SupportedTypes() []string {
	registry.RLock()
	defer registry.RUnlock()
	return slices.Sorted(maps.Keys(registry.builders))
}

// DefaultFactory 用当前注册表的快照创建 NodeFactory。
func DefaultFactory(deps *pipeline.Deps) *pipeline.NodeFactory {
	registry.RLock()
	defer registry.RUnlock()
	f := pipeline.NewNodeFactory(deps)
	for typeName, builder := range registry.builders {
		f.Register(typeName, builder)
	}
	return f
}

// ValidatePipelineConfig 在构建前检查所有节点类型都已注册，错误中列出全部未知类型与可用类型。
func ValidatePipelineConfig(cfg *pipeline.Config) error {
	if cfg == nil {
		return nil
	}
	registry.RLock()
	var unknown []string
	for _, nc := range cfg.Pipeline.Nodes {
		if _, ok := registry.builders[nc.Type]; !ok {
			unknown = append(unknown, nc.Type)
		}
	}
	registry.RUnlock()

	if len(unknown) > 0 {
		return fmt.Errorf("unsupported node types %q (supported: %v)", unknown, SupportedTypes())
	}
	return nil
}
