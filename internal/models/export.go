// internal/models/export.go
package models

import (
	"fmt"
	"strings"
)

// 导出格式
const (
	FormatText = "txt"
	FormatPDF  = "pdf"
)

// 固定的下载文件名和MIME类型
const (
	TextFileName = "sop_draft.txt"
	TextMIMEType = "text/plain"
	PDFFileName  = "SOP_Document.pdf"
	PDFMIMEType  = "application/pdf"
)

// ExportArtifact 是一次导出的结果，交给下载方式处理
type ExportArtifact struct {
	Data     []byte `json:"-"`
	MIMEType string `json:"mime_type"`
	FileName string `json:"file_name"`
}

// Size 返回字节数
func (a *ExportArtifact) Size() int {
	return len(a.Data)
}

// ParseExportFormat 规范化导出格式，空值视为纯文本
func ParseExportFormat(format string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "txt", "text":
		return FormatText, nil
	case "pdf":
		return FormatPDF, nil
	default:
		return "", fmt.Errorf("不支持的导出格式: %s，支持的格式: [txt pdf]", format)
	}
}
