package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"cv-filter/internal/config"
	"cv-filter/internal/llm"
	appCoreLogger "cv-filter/internal/logger"

	"github.com/cloudwego/eino/components/model"
	"github.com/spf13/pflag"
)

// 命令行参数定义
var (
	command    = pflag.StringP("cmd", "m", "extract", "执行的命令: extract=仅提取文本, parse=提取结构化信息, query=解析检索条件, init-config=生成示例配置")
	configPath = pflag.StringP("config", "c", "", "配置文件路径")
	inputFile  = pflag.StringP("file", "f", "", "PDF或DOCX简历文件路径 (extract/parse 必填)")
	queryText  = pflag.StringP("query", "q", "", "自然语言检索需求 (query 必填)")
	maxLen     = pflag.Int("maxlen", 1000, "显示的文本最大字符数，设为-1显示全部")
	saveFile   = pflag.String("save", "", "保存输出到文件")
	timeout    = pflag.Duration("timeout", 2*time.Minute, "整体超时时间")
)

func main() {
	pflag.Parse()

	if *command == "init-config" {
		path := *saveFile
		if path == "" {
			path = config.DefaultConfigPath
		}
		if err := config.CreateSampleConfig(path); err != nil {
			exitf("生成示例配置失败: %v", err)
		}
		fmt.Printf("示例配置已写入: %s\n", path)
		return
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		exitf("加载配置失败: %v", err)
	}
	if _, err := appCoreLogger.Init(appCoreLogger.Config{Level: cfg.Logger.Level, Format: "pretty"}); err != nil {
		exitf("初始化日志失败: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	switch *command {
	case "extract":
		err = handleExtractCommand(ctx, cfg)
	case "parse":
		err = handleParseCommand(ctx, cfg)
	case "query":
		err = handleQueryCommand(ctx, cfg)
	default:
		pflag.Usage()
		exitf("错误: 未知命令 '%s'。支持的命令: extract, parse, query, init-config", *command)
	}
	if err != nil {
		exitf("%v", err)
	}
}

func newChatModel(ctx context.Context, cfg *config.Config) (model.ToolCallingChatModel, error) {
	if cfg.Gemini.APIKey == "" {
		return nil, fmt.Errorf("未找到 GOOGLE_API_KEY，请在环境变量或 .env 中设置")
	}
	return llm.NewGeminiChatModel(ctx, cfg.Gemini.APIKey, cfg.Gemini.Model,
		llm.WithCallTimeout(config.GetDuration(cfg.Gemini.Timeout, 60*time.Second)),
		llm.WithJSONResponse(true),
	)
}

func output(content string) error {
	fmt.Println(content)
	if *saveFile == "" {
		return nil
	}
	if err := os.WriteFile(*saveFile, []byte(content), 0644); err != nil {
		return fmt.Errorf("保存到文件失败: %w", err)
	}
	fmt.Printf("已保存到: %s\n", *saveFile)
	return nil
}

func exitf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
