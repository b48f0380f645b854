// internal/services/prompt.go
package services

import (
	"fmt"
	"slices"
	"strings"

	apperrors "github.com/Corphon/Voice2SOP/internal/errors"
	"github.com/Corphon/Voice2SOP/internal/models"
)

const promptTemplate = `You are an expert technical writer.
I will provide an audio transcript.
Your goal is to convert this transcript into a professional %s.
The tone should be %s.

Please generate THREE distinct outputs separated by specific markers:

[SECTION 1: CHECKLIST]
A strictly action-oriented checklist (bullet points) of the steps.

[SECTION 2: DOCUMENT]
The full, formal document with Introduction, Prerequisites, Steps, and Troubleshooting.

[SECTION 3: EMAIL]
A short, professional email to the team announcing this new process.
`

// BuildPrompt 生成要求模型按三个标记分节输出的提示词
func BuildPrompt(docType, tone string) string {
	return fmt.Sprintf(promptTemplate, docType, tone)
}

// ValidateDocType 只接受预设的文档类型，空值使用第一项
func ValidateDocType(docType string) (string, error) {
	return pickOption("doc_type", docType, models.DocTypes)
}

// ValidateTone 只接受预设的语气，空值使用第一项
func ValidateTone(tone string) (string, error) {
	return pickOption("tone", tone, models.Tones)
}

func pickOption(field, value string, options []string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return options[0], nil
	}
	if slices.Contains(options, value) {
		return value, nil
	}
	return "", apperrors.NewValidationError(fmt.Sprintf("不支持的%s: %s", field, value), nil)
}
