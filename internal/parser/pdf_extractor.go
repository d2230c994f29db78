// Package parser 负责从上传的简历文件中提取纯文本，
// 提取结果作为候选人资料的raw_resume_text字段参与后续生成。
package parser

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/document/parser/pdf"
	einoParser "github.com/cloudwego/eino/components/document/parser"
	"github.com/rs/zerolog"
)

// PDFTextExtractor 基于eino PDF Parser的简历文本提取器
type PDFTextExtractor struct {
	parser  *pdf.PDFParser
	logger  zerolog.Logger
	timeout time.Duration
}

// NewPDFTextExtractor 初始化PDF文本提取器。
// 不按页分割，整个文档作为一段连续文本返回。
func NewPDFTextExtractor(ctx context.Context, logger zerolog.Logger) (*PDFTextExtractor, error) {
	p, err := pdf.NewPDFParser(ctx, &pdf.Config{
		ToPages: false,
	})
	if err != nil {
		return nil, fmt.Errorf("创建PDF解析器失败: %w", err)
	}

	return &PDFTextExtractor{
		parser:  p,
		logger:  logger,
		timeout: 30 * time.Second,
	}, nil
}

// ExtractText 从Reader中提取简历纯文本
func (e *PDFTextExtractor) ExtractText(ctx context.Context, reader io.Reader, uri string) (string, error) {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	docs, err := e.parser.Parse(ctx, reader, einoParser.WithURI(uri))
	if err != nil {
		return "", fmt.Errorf("解析PDF失败 (%s): %w", uri, err)
	}
	if len(docs) == 0 {
		return "", fmt.Errorf("PDF解析无结果 (%s)", uri)
	}

	var b strings.Builder
	for i, doc := range docs {
		b.WriteString(doc.Content)
		if i < len(docs)-1 {
			b.WriteString("\n\n")
		}
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", fmt.Errorf("PDF中没有可提取的文本 (%s)", uri)
	}

	e.logger.Debug().
		Str("uri", uri).
		Int("chars", len(text)).
		Dur("elapsed", time.Since(start)).
		Msg("简历文本提取完成")
	return text, nil
}
