// internal/models/sections.go
package models

import (
	"fmt"
	"strings"
)

// 节名称
const (
	SectionChecklist = "checklist"
	SectionDocument  = "document"
	SectionEmail     = "email"
)

// SectionSet 模型回答拆分后的三个部分，创建后不再修改
type SectionSet struct {
	Checklist string `json:"checklist"`
	Document  string `json:"document"`
	Email     string `json:"email"`
}

// Section 按名称取出某一部分，空名称表示正式文档
func (s SectionSet) Section(name string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case SectionChecklist:
		return s.Checklist, nil
	case "", SectionDocument:
		return s.Document, nil
	case SectionEmail:
		return s.Email, nil
	default:
		return "", fmt.Errorf("未知的文档部分: %s", name)
	}
}
