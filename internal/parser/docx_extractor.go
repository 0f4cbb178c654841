package parser

import (
	"bytes"
	"context"
	"fmt"

	"code.sajari.com/docconv"
)

// DocxTextExtractor 使用 docconv 读取 Word 文档，段落以换行分隔
type DocxTextExtractor struct{}

var _ DocumentTextExtractor = (*DocxTextExtractor)(nil)

func NewDocxTextExtractor() *DocxTextExtractor {
	return &DocxTextExtractor{}
}

func (d *DocxTextExtractor) ExtractText(ctx context.Context, data []byte, uri string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	body, _, err := docconv.ConvertDocx(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("docconv failed for URI %s: %w", uri, err)
	}
	return joinPages(body), nil
}
