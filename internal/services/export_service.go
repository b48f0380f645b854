// internal/services/export_service.go
package services

import (
	apperrors "github.com/Corphon/Voice2SOP/internal/errors"
	"github.com/Corphon/Voice2SOP/internal/models"
	"github.com/Corphon/Voice2SOP/internal/storage"
	"github.com/Corphon/Voice2SOP/internal/utils"
)

type ExportService struct {
	Exporter *Exporter
	Cache    *storage.ResultCache
	// 可选
	Stats *StatsService
}

func NewExportService(exporter *Exporter, cache *storage.ResultCache) *ExportService {
	return &ExportService{
		Exporter: exporter,
		Cache:    cache,
	}
}

// Export 导出已缓存结果中的某一部分，section 为空时导出正式文档
func (s *ExportService) Export(resultID, section, format string) (*models.ExportArtifact, error) {
	// 1. 先验证参数，避免无效请求查询缓存
	format, err := models.ParseExportFormat(format)
	if err != nil {
		return nil, apperrors.NewValidationError(err.Error(), nil)
	}
	if resultID == "" {
		return nil, apperrors.NewValidationError("结果ID不能为空", nil)
	}

	// 2. 获取结果
	result, ok := s.Cache.Get(resultID)
	if !ok {
		return nil, apperrors.NewNotFoundError("结果不存在或已过期", nil)
	}

	// 3. 取出对应部分
	text, err := result.Sections.Section(section)
	if err != nil {
		return nil, apperrors.NewValidationError(err.Error(), nil)
	}

	return s.render(text, format)
}

// ExportText 直接导出调用方提供的文本
func (s *ExportService) ExportText(text, format string) (*models.ExportArtifact, error) {
	format, err := models.ParseExportFormat(format)
	if err != nil {
		return nil, apperrors.NewValidationError(err.Error(), nil)
	}
	return s.render(text, format)
}

func (s *ExportService) render(text, format string) (*models.ExportArtifact, error) {
	var artifact *models.ExportArtifact
	if format == models.FormatPDF {
		var err error
		artifact, err = s.Exporter.ExportDocument(text)
		if err != nil {
			utils.ExportErrors.WithLabelValues(format).Inc()
			utils.GetLogger().Error("导出PDF失败", map[string]interface{}{"error": err.Error()})
			return nil, apperrors.WrapError(err, "导出文档失败", apperrors.ErrorTypeExport)
		}
	} else {
		artifact = s.Exporter.ExportPlainText(text)
	}

	utils.Exports.WithLabelValues(format).Inc()
	if s.Stats != nil {
		s.Stats.RecordExport(format)
	}
	utils.GetLogger().Debug("导出完成", map[string]interface{}{
		"format": format,
		"size":   artifact.Size(),
	})
	return artifact, nil
}
