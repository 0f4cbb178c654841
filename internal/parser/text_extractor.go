package parser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cv-filter/internal/config"
	"cv-filter/internal/constants"

	"github.com/rs/zerolog"
)

var (
	// ErrUnsupportedMediaType 不支持的文件类型
	ErrUnsupportedMediaType = errors.New("unsupported media type")
	// ErrEmptyDocument 文档为空
	ErrEmptyDocument = errors.New("empty document")
)

// TextExtractor 把上传的文档转换为纯文本
type TextExtractor interface {
	ExtractText(ctx context.Context, data []byte, mediaType string, uri string) (string, error)
}

// DocumentTextExtractor 单一格式的提取器
type DocumentTextExtractor interface {
	ExtractText(ctx context.Context, data []byte, uri string) (string, error)
}

// NativeTextExtractor 进程内解析: PDF 使用 eino pdf parser，DOCX 使用 docconv
type NativeTextExtractor struct {
	byType map[string]DocumentTextExtractor
	logger *zerolog.Logger
}

var _ TextExtractor = (*NativeTextExtractor)(nil)

// NewNativeTextExtractor 创建进程内文本提取器
func NewNativeTextExtractor(pdf, docx DocumentTextExtractor, logger *zerolog.Logger) *NativeTextExtractor {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &NativeTextExtractor{
		byType: map[string]DocumentTextExtractor{
			constants.MediaTypePDF:  pdf,
			constants.MediaTypeDOCX: docx,
		},
		logger: logger,
	}
}

// ExtractText 按媒体类型分派
func (n *NativeTextExtractor) ExtractText(ctx context.Context, data []byte, mediaType string, uri string) (string, error) {
	ext, ok := n.byType[mediaType]
	if !ok || ext == nil {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedMediaType, mediaType)
	}
	if len(data) == 0 {
		return "", ErrEmptyDocument
	}

	start := time.Now()
	text, err := ext.ExtractText(ctx, data, uri)
	if err != nil {
		n.logger.Warn().Err(err).Str("uri", uri).Str("media_type", mediaType).Msg("文档文本提取失败")
		return "", err
	}
	n.logger.Debug().
		Str("uri", uri).
		Int("chars", len([]rune(text))).
		Dur("took", time.Since(start)).
		Msg("文档文本提取完成")
	return text, nil
}

// BuildTextExtractor 根据配置选择提取后端
func BuildTextExtractor(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (TextExtractor, error) {
	timeout := config.GetDuration(cfg.Extractor.Timeout, 30*time.Second)

	if cfg.Extractor.Backend == "tika" {
		if cfg.Tika.ServerURL == "" {
			return nil, errors.New("tika 后端需要配置 tika.server_url")
		}
		logger.Info().Str("server", cfg.Tika.ServerURL).Msg("使用 Tika 作为文本提取后端")
		opts := []TikaOption{WithTikaLogger(logger)}
		if cfg.Tika.Timeout > 0 {
			opts = append(opts, WithTimeout(time.Duration(cfg.Tika.Timeout)*time.Second))
		}
		return NewTikaTextExtractor(cfg.Tika.ServerURL, opts...), nil
	}

	pdf, err := NewEinoPDFTextExtractor(ctx, WithEinoLogger(logger), WithEinoTimeout(timeout))
	if err != nil {
		return nil, err
	}
	return NewNativeTextExtractor(pdf, NewDocxTextExtractor(), logger), nil
}

// joinPages 以换行连接各页或段落，空行原样保留，只去掉整体首尾空白
func joinPages(parts ...string) string {
	return strings.TrimSpace(strings.Join(parts, "\n"))
}
