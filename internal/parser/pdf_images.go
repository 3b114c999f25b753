package parser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"cv-match-go/internal/logger"
)

// PDFImageExtractor 将PDF各页转为图片，供视觉模型识别扫描件简历
type PDFImageExtractor struct {
	conf *model.Configuration
}

// NewPDFImageExtractor 创建PDF图片提取器
func NewPDFImageExtractor() *PDFImageExtractor {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return &PDFImageExtractor{conf: conf}
}

// PageCount 返回PDF页数
func (p *PDFImageExtractor) PageCount(filePath string) (int, error) {
	n, err := api.PageCountFile(filePath)
	if err != nil {
		return 0, fmt.Errorf("读取PDF页数失败: %w", err)
	}
	return n, nil
}

// ExtractPageImages 提取PDF内嵌图片到临时目录并返回各图片内容。
// 扫描件简历通常每页就是一张整页图片。调用结束后临时目录即被清理。
func (p *PDFImageExtractor) ExtractPageImages(ctx context.Context, filePath string) ([][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	outDir, err := os.MkdirTemp("", "cv-pages-*")
	if err != nil {
		return nil, fmt.Errorf("创建临时目录失败: %w", err)
	}
	defer os.RemoveAll(outDir)

	if err := api.ExtractImagesFile(filePath, outDir, nil, p.conf); err != nil {
		return nil, fmt.Errorf("提取PDF图片失败: %w", err)
	}

	entries, err := os.ReadDir(outDir)
	if err != nil {
		return nil, fmt.Errorf("读取临时目录失败: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".png", ".jpg", ".jpeg", ".tif", ".tiff":
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("PDF中未找到可提取的图片: %s", filePath)
	}
	// 文件名含页号，排序后即页面顺序
	sort.Strings(names)

	images := make([][]byte, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(outDir, name))
		if err != nil {
			return nil, fmt.Errorf("读取页面图片 %s 失败: %w", name, err)
		}
		images = append(images, data)
	}

	logger.Debug().Str("file", filePath).Int("pages", len(images)).Msg("PDF页面图片提取完成")
	return images, nil
}
