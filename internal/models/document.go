// internal/models/document.go
package models

import (
	"time"
)

// 文档类型
var DocTypes = []string{
	"Standard Operating Procedure (SOP)",
	"Safety Protocol",
	"Employee Onboarding",
	"Technical Tutorial",
}

// 语气
var Tones = []string{
	"Professional & Direct",
	"Friendly & Encouraging",
	"Strict & Compliance-Focused",
}

// DocumentRequest 一次语音转文档请求
type DocumentRequest struct {
	Audio         []byte `json:"-"`
	AudioMIMEType string `json:"audio_mime_type"`
	DocType       string `json:"doc_type"`
	Tone          string `json:"tone"`
	APIKey        string `json:"-"`
	Model         string `json:"model,omitempty"`
}

// DocumentResult 生成结果
type DocumentResult struct {
	ID         string     `json:"id"`
	Sections   SectionSet `json:"sections"`
	Structured bool       `json:"structured"` // 模型回答是否包含全部三个标记
	DocType    string     `json:"doc_type"`
	Tone       string     `json:"tone"`
	Provider   string     `json:"provider"`
	Model      string     `json:"model"`
	TokensUsed int        `json:"tokens_used,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}
