// internal/services/exporter.go
package services

import (
	"bytes"
	"fmt"
	"strings"

	apperrors "github.com/Corphon/Voice2SOP/internal/errors"
	"github.com/Corphon/Voice2SOP/internal/models"
	"github.com/Corphon/Voice2SOP/internal/utils"
	"github.com/go-pdf/fpdf"
	"golang.org/x/text/encoding/charmap"
)

// PDF 排版参数
const (
	DocumentTitle = "Standard Operating Procedure"

	// 无法编码的字符统一替换为该字符
	ReplacementChar = '?'

	titleFontSize = 16
	bodyFontSize  = 12
	titleWidth    = 200
	lineHeight    = 10
)

// 支持的单字节字符集，PDF 核心字体只能显示这些字符
var charsets = map[string]*charmap.Charmap{
	"iso-8859-1":   charmap.ISO8859_1,
	"latin1":       charmap.ISO8859_1,
	"latin-1":      charmap.ISO8859_1,
	"iso-8859-15":  charmap.ISO8859_15,
	"windows-1252": charmap.Windows1252,
	"cp1252":       charmap.Windows1252,
}

// ExporterOptions 导出器配置
type ExporterOptions struct {
	Charset    string
	FontFamily string
	// 关闭后页面内容流不压缩，便于检查输出
	DisableCompression bool
}

// Exporter 把一段文本转换为可下载的文件
type Exporter struct {
	charset    *charmap.Charmap
	fontFamily string
	compress   bool
}

// NewExporter 创建导出器，字符集未知时返回错误
func NewExporter(opts ExporterOptions) (*Exporter, error) {
	name := strings.ToLower(strings.TrimSpace(opts.Charset))
	if name == "" {
		name = "iso-8859-1"
	}
	cm, ok := charsets[name]
	if !ok {
		return nil, fmt.Errorf("不支持的PDF字符集: %s", opts.Charset)
	}

	family := opts.FontFamily
	if family == "" {
		family = "Arial"
	}

	return &Exporter{
		charset:    cm,
		fontFamily: family,
		compress:   !opts.DisableCompression,
	}, nil
}

// ExportPlainText 原样包装为纯文本下载，不会失败
func (e *Exporter) ExportPlainText(section string) *models.ExportArtifact {
	return &models.ExportArtifact{
		Data:     []byte(section),
		MIMEType: models.TextMIMEType,
		FileName: models.TextFileName,
	}
}

// ExportDocument 生成带标题的单栏PDF，正文自动换行和分页。
// 字符集之外的字符被替换，只有排版引擎本身出错时才返回错误。
func (e *Exporter) ExportDocument(section string) (*models.ExportArtifact, error) {
	title, _ := e.encode(DocumentTitle)
	body, substituted := e.encode(section)
	if substituted > 0 {
		utils.SubstitutedRunes.Add(float64(substituted))
	}

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetCompression(e.compress)
	pdf.SetCreator("Voice2SOP", false)
	pdf.SetTitle(title, false)
	pdf.AddPage()

	pdf.SetFont(e.fontFamily, "B", titleFontSize)
	pdf.CellFormat(titleWidth, lineHeight, title, "", 1, "C", false, 0, "")
	pdf.Ln(lineHeight)

	pdf.SetFont(e.fontFamily, "", bodyFontSize)
	pdf.MultiCell(0, lineHeight, body, "", "", false)

	if err := pdf.Error(); err != nil {
		return nil, apperrors.NewExportError("生成PDF失败", err)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, apperrors.NewExportError("输出PDF失败", err)
	}

	return &models.ExportArtifact{
		Data:     buf.Bytes(),
		MIMEType: models.PDFMIMEType,
		FileName: models.PDFFileName,
	}, nil
}

// encode 把文本转为字符集内的字节串，返回被替换的字符数
func (e *Exporter) encode(text string) (string, int) {
	var b strings.Builder
	b.Grow(len(text))

	substituted := 0
	for _, r := range text {
		if isC1Control(r) {
			b.WriteByte(ReplacementChar)
			substituted++
			continue
		}
		if c, ok := e.charset.EncodeRune(r); ok {
			b.WriteByte(c)
			continue
		}
		b.WriteByte(ReplacementChar)
		substituted++
	}
	return b.String(), substituted
}

// isC1Control 报告 r 是否为 U+0080..U+009F。
// fpdf 核心字体按 cp1252 解释这些字节（0x80 显示为 €），因此不能原样写入
func isC1Control(r rune) bool {
	return r >= 0x80 && r <= 0x9f
}
