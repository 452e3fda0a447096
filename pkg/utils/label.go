package utils

import "strings"

// LabelRecallSource 记录候选由哪些召回源产生，融合去重时会累积多个来源
const LabelRecallSource = "recall_source"

// Label 是挂在候选或请求上的可解释标签，随候选在召回、过滤、重排之间透传。
type Label struct {
	Value  string `json:"value"`
	Source string `json:"source"` // recall / filter / rerank
}

// RecallLabel 构造召回阶段写入的标签
func RecallLabel(value string) Label {
	return Label{Value: value, Source: "recall"}
}

// Values 拆分累积后的取值
func (l Label) Values() []string {
	if l.Value == "" {
		return nil
	}
	return strings.Split(l.Value, "|")
}

// MergeLabel 合并同名标签：Value 以 '|' 累积，Source 以 ',' 累积，空值不参与合并。
func MergeLabel(existing Label, incoming Label) Label {
	if existing.Value == "" {
		return incoming
	}
	if incoming.Value == "" {
		return existing
	}

	merged := existing
	merged.Value = existing.Value + "|" + incoming.Value
	switch {
	case existing.Source == "":
		merged.Source = incoming.Source
	case incoming.Source == "", incoming.Source == existing.Source:
	default:
		merged.Source = existing.Source + "," + incoming.Source
	}
	return merged
}
