// Package dsl 是候选级表达式解释器，基于 CEL (Common Expression Language)。
package dsl

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/rushteam/shelfrec/core"
)

var (
	// celEnv 是全局的 CEL 环境，线程安全，可复用
	celEnv     *cel.Env
	celEnvErr  error
	celEnvOnce sync.Once

	// programs 缓存已编译的表达式
	programs sync.Map // expr -> cel.Program
)

func getCELEnv() (*cel.Env, error) {
	celEnvOnce.Do(func() {
		celEnv, celEnvErr = cel.NewEnv(
			cel.Variable("book", cel.DynType),
			cel.Variable("label", cel.DynType),
			cel.Variable("rctx", cel.DynType),
		)
	})
	return celEnv, celEnvErr
}

// Compile 编译表达式并放入缓存。配置加载阶段调用，尽早暴露语法错误。
//
// 可用变量：
//   - book.id / book.score / book.source / book.title / book.author / book.genres
//   - label.<key>：候选 Label 的 value，访问前用 has(label.<key>) 判断存在性
//   - rctx.user_id / rctx.limit / rctx.params
//
// 示例：
//   - `book.source != "fallback" && book.score > 0.2`
//   - `!("horror" in book.genres)`
//   - `has(label.recall_source) && label.recall_source == "cf"`
func Compile(expr string) (cel.Program, error) {
	if prg, ok := programs.Load(expr); ok {
		return prg.(cel.Program), nil
	}

	env, err := getCELEnv()
	if err != nil {
		return nil, fmt.Errorf("cel env: %w", err)
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile error: %w", issues.Err())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("program error: %w", err)
	}
	programs.Store(expr, prg)
	return prg, nil
}

// Eval 对单个候选求值。
type Eval struct {
	candidate *core.Candidate
	rctx      *core.RecommendContext
}

func NewEval(c *core.Candidate, rctx *core.RecommendContext) *Eval {
	return &Eval{candidate: c, rctx: rctx}
}

// Evaluate 执行表达式，返回布尔结果。空表达式恒为 true。
func (e *Eval) Evaluate(expr string) (bool, error) {
	if expr == "" {
		return true, nil
	}
	prg, err := Compile(expr)
	if err != nil {
		return false, err
	}

	out, _, err := prg.Eval(e.buildInput())
	if err != nil {
		return false, fmt.Errorf("eval error: %w", err)
	}
	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expression must return boolean, got %T", out.Value())
	}
	return result, nil
}

func (e *Eval) buildInput() map[string]any {
	c := e.candidate
	labels := make(map[string]any, len(c.Labels))
	for k, v := range c.Labels {
		labels[k] = v.Value
	}

	book := map[string]any{
		"id":     c.BookID,
		"score":  c.Score,
		"source": string(c.Source),
		"title":  "",
		"author": "",
		"genres": []string{},
	}
	if c.Book != nil {
		book["title"] = c.Book.Title
		book["author"] = c.Book.Author
		if c.Book.Genres != nil {
			book["genres"] = c.Book.Genres
		}
	}

	rctx := map[string]any{
		"user_id": "",
		"limit":   0,
		"params":  map[string]any{},
	}
	if e.rctx != nil {
		rctx["user_id"] = e.rctx.UserID
		rctx["limit"] = e.rctx.Limit
		if e.rctx.Params != nil {
			rctx["params"] = e.rctx.Params
		}
	}

	return map[string]any{
		"book":  book,
		"label": labels,
		"rctx":  rctx,
	}
}
