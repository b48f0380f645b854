// internal/services/section_parser.go
package services

import (
	"strings"

	"github.com/Corphon/Voice2SOP/internal/models"
)

// 模型按约定输出的节标记
const (
	sectionMarker = "[SECTION"

	checklistLabel = " 1: CHECKLIST]"
	documentLabel  = " 2: DOCUMENT]"
	emailLabel     = " 3: EMAIL]"

	// 邮件部分缺失时的占位文本
	EmailFallback = "Could not generate email draft."
)

// SplitSections 把模型的原始回答拆分为清单、正式文档和邮件三部分。
// 回答不符合标记约定时退回到整段原文，从不返回错误。
func SplitSections(raw string) models.SectionSet {
	sections, _ := ParseSections(raw)
	return sections
}

// ParseSections 与 SplitSections 相同，额外报告三个标记是否都找到
func ParseSections(raw string) (models.SectionSet, bool) {
	parts := strings.Split(raw, sectionMarker)

	// parts[0] 是第一个标记之前的内容，丢弃
	if len(parts) < 4 {
		return models.SectionSet{
			Checklist: raw,
			Document:  raw,
			Email:     EmailFallback,
		}, false
	}

	return models.SectionSet{
		Checklist: cleanSection(parts[1], checklistLabel),
		Document:  cleanSection(parts[2], documentLabel),
		Email:     cleanSection(parts[3], emailLabel),
	}, true
}

func cleanSection(chunk, label string) string {
	return strings.TrimSpace(strings.ReplaceAll(chunk, label, ""))
}
