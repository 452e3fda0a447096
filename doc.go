// Package shelfrec 是混合图书推荐引擎。
//
// 设计要点：
//   - 三路向量召回（内容/KYC、协同过滤、图传播）并发执行，单路失败只贡献空结果
//   - 按来源优先级融合去重，交互数未达门槛的用户不做个性化
//   - 候选为空时依次尝试兜底层级（同类型/同作者、目录新书）
//   - 离线训练（ALS、图传播）先算完再整体写入，评估按时间切分每个用户的交互
//
// 入口是 cmd/shelfrec；库使用方从 recommend.NewEngine 开始。
package shelfrec

import (
	"github.com/rushteam/shelfrec/core"
	"github.com/rushteam/shelfrec/recommend"
)

// 轻量 facade：便于直接 import "shelfrec" 使用核心类型。
type (
	Engine    = recommend.Engine
	Request   = recommend.Request
	Result    = recommend.Result
	Candidate = core.Candidate
	Book      = core.Book
)

// NewEngine 等同于 recommend.NewEngine
var NewEngine = recommend.NewEngine
