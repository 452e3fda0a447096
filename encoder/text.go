// Package encoder 提供文本编码能力：把用户偏好与图书元数据转为向量。
// 编码器本身是外部黑盒（OpenAI 兼容接口），本包负责文本拼装、熔断与离线替身。
package encoder

import (
	"strconv"
	"strings"

	"github.com/rushteam/shelfrec/core"
)

// KYCText 把用户偏好拼成编码输入，例如
// "Genres: fantasy, scifi Authors: Le Guin Age: 30 likes slow-burn worldbuilding"。
// 偏好为空时返回空串，调用方应视为“没有 KYC 信号”。
func KYCText(p *core.KYCPreferences) string {
	if p.IsEmpty() {
		return ""
	}
	parts := make([]string, 0, 4)
	if len(p.Genres) > 0 {
		parts = append(parts, "Genres: "+strings.Join(p.Genres, ", "))
	}
	if len(p.Authors) > 0 {
		parts = append(parts, "Authors: "+strings.Join(p.Authors, ", "))
	}
	if p.Age != nil {
		parts = append(parts, "Age: "+strconv.Itoa(*p.Age))
	}
	if d := strings.TrimSpace(p.Description); d != "" {
		parts = append(parts, d)
	}
	return strings.Join(parts, " ")
}

// BookText 把图书元数据拼成编码输入，例如
// "Title: Dune Authors: Frank Herbert Categories: scifi, classic A desert planet..."。
func BookText(b *core.Book) string {
	if b == nil {
		return ""
	}
	parts := make([]string, 0, 4)
	if t := strings.TrimSpace(b.Title); t != "" {
		parts = append(parts, "Title: "+t)
	}
	if a := strings.TrimSpace(b.Author); a != "" {
		parts = append(parts, "Authors: "+a)
	}
	if len(b.Genres) > 0 {
		parts = append(parts, "Categories: "+strings.Join(b.Genres, ", "))
	}
	if d := strings.TrimSpace(b.Description); d != "" {
		parts = append(parts, d)
	}
	return strings.Join(parts, " ")
}
