package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cv-filter/internal/config"
	"cv-filter/internal/constants"
	appCoreLogger "cv-filter/internal/logger"
	"cv-filter/internal/parser"
	"cv-filter/pkg/utils"
)

// readCV 读取文件并按扩展名确定类型
func readCV(path string) ([]byte, string, error) {
	if path == "" {
		return nil, "", fmt.Errorf("必须提供简历文件路径 (-f)")
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, "", fmt.Errorf("无法获取文件的绝对路径: %w", err)
	}

	var mediaType string
	switch strings.ToLower(filepath.Ext(absPath)) {
	case ".pdf":
		mediaType = constants.MediaTypePDF
	case ".docx":
		mediaType = constants.MediaTypeDOCX
	default:
		return nil, "", fmt.Errorf("只支持 .pdf 和 .docx 文件: %s", absPath)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, "", fmt.Errorf("读取文件失败: %w", err)
	}
	return data, mediaType, nil
}

func extractText(ctx context.Context, cfg *config.Config) (string, error) {
	data, mediaType, err := readCV(*inputFile)
	if err != nil {
		return "", err
	}

	extractor, err := parser.BuildTextExtractor(ctx, cfg, appCoreLogger.Named("TextExtractor"))
	if err != nil {
		return "", fmt.Errorf("创建文本提取器失败: %w", err)
	}

	start := time.Now()
	text, err := extractor.ExtractText(ctx, data, mediaType, *inputFile)
	if err != nil {
		return "", fmt.Errorf("提取文本失败: %w", err)
	}
	appCoreLogger.Info().
		Str("backend", cfg.Extractor.Backend).
		Int("runes", len([]rune(text))).
		Dur("elapsed", time.Since(start)).
		Msg("文本提取完成")
	return text, nil
}

func handleExtractCommand(ctx context.Context, cfg *config.Config) error {
	text, err := extractText(ctx, cfg)
	if err != nil {
		return err
	}
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("文件中没有可读取的文本")
	}

	display := text
	if *maxLen >= 0 && len([]rune(text)) > *maxLen {
		display = utils.TruncateRunes(text, *maxLen) + "\n...(已截断，使用 --maxlen 参数显示更多)"
	}
	return output(display)
}
