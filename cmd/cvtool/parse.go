package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"cv-filter/internal/config"
	appCoreLogger "cv-filter/internal/logger"
	"cv-filter/internal/parser"
)

func handleParseCommand(ctx context.Context, cfg *config.Config) error {
	text, err := extractText(ctx, cfg)
	if err != nil {
		return err
	}
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("文件中没有可读取的文本")
	}

	chatModel, err := newChatModel(ctx, cfg)
	if err != nil {
		return err
	}

	candidate := parser.NewCandidateExtractor(chatModel,
		parser.WithLogger(appCoreLogger.Named("CandidateExtractor")),
	).Extract(ctx, text)
	if candidate.EmailValue() == "" {
		appCoreLogger.Warn().Msg("未能提取到 email，该简历无法入库")
	}

	out, err := json.MarshalIndent(candidate, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化结果失败: %w", err)
	}
	return output(string(out))
}

func handleQueryCommand(ctx context.Context, cfg *config.Config) error {
	if strings.TrimSpace(*queryText) == "" {
		return fmt.Errorf("必须提供检索需求 (-q)")
	}

	chatModel, err := newChatModel(ctx, cfg)
	if err != nil {
		return err
	}

	filter := parser.NewQueryInterpreter(chatModel,
		parser.WithLogger(appCoreLogger.Named("QueryInterpreter")),
	).Interpret(ctx, *queryText)

	out, err := json.MarshalIndent(filter, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化结果失败: %w", err)
	}
	return output(string(out))
}
