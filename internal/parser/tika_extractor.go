package parser

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"cv-filter/internal/constants"

	"github.com/rs/zerolog"
)

// TikaTextExtractor 通过 Apache Tika Server 提取 PDF 与 DOCX 文本
type TikaTextExtractor struct {
	// Tika服务器地址，例如 http://localhost:9998
	ServerURL string
	Client    *http.Client
	logger    *zerolog.Logger
}

var _ TextExtractor = (*TikaTextExtractor)(nil)

// TikaOption 定义配置选项函数
type TikaOption func(*TikaTextExtractor)

// WithTikaLogger 配置日志记录器
func WithTikaLogger(logger *zerolog.Logger) TikaOption {
	return func(e *TikaTextExtractor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithTimeout 配置HTTP客户端超时时间
func WithTimeout(timeout time.Duration) TikaOption {
	return func(e *TikaTextExtractor) {
		e.Client.Timeout = timeout
	}
}

// WithHTTPClient 替换HTTP客户端
func WithHTTPClient(client *http.Client) TikaOption {
	return func(e *TikaTextExtractor) {
		if client != nil {
			e.Client = client
		}
	}
}

// NewTikaTextExtractor 创建一个新的Tika提取器
func NewTikaTextExtractor(serverURL string, options ...TikaOption) *TikaTextExtractor {
	nop := zerolog.Nop()
	extractor := &TikaTextExtractor{
		ServerURL: strings.TrimRight(serverURL, "/"),
		Client:    &http.Client{Timeout: 60 * time.Second},
		logger:    &nop,
	}
	for _, option := range options {
		option(extractor)
	}
	return extractor
}

// ExtractText PUT {server}/tika，以纯文本返回
func (e *TikaTextExtractor) ExtractText(ctx context.Context, data []byte, mediaType string, uri string) (string, error) {
	if !constants.SupportedMediaTypes[mediaType] {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedMediaType, mediaType)
	}
	if len(data) == 0 {
		return "", ErrEmptyDocument
	}

	startTime := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, e.ServerURL+"/tika", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("创建HTTP请求失败: %w", err)
	}
	req.Header.Set("Content-Type", mediaType)
	req.Header.Set("Accept", "text/plain")
	if uri != "" {
		req.Header.Set("X-Tika-Resource-Name", uri)
	}

	resp, err := e.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("发送请求到Tika服务器失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("tika服务器返回错误状态码: %d", resp.StatusCode)
	}

	textBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("读取Tika响应失败: %w", err)
	}

	text := joinPages(string(textBytes))
	e.logger.Debug().
		Str("uri", uri).
		Int("chars", len([]rune(text))).
		Dur("took", time.Since(startTime)).
		Msg("Tika文本提取完成")
	return text, nil
}
