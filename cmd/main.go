package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cv-filter/internal/api/handler"
	"cv-filter/internal/api/router"
	"cv-filter/internal/config"
	"cv-filter/internal/llm"
	appCoreLogger "cv-filter/internal/logger"
	"cv-filter/internal/outbox"
	"cv-filter/internal/parser"
	"cv-filter/internal/processor"
	"cv-filter/internal/ratelimit"
	"cv-filter/internal/storage"
	"cv-filter/internal/tracing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/hertz/pkg/app/server"
	glog "github.com/cloudwego/hertz/pkg/common/hlog"
	hertzadapter "github.com/hertz-contrib/logger/zerolog"
	hertztracing "github.com/hertz-contrib/obs-opentelemetry/tracing"
	"github.com/spf13/pflag"
)

var (
	version     = "1.0.0"     //nolint:gochecknoglobals
	serviceName = "cv-filter" //nolint:gochecknoglobals
)

func main() {
	var configPath string
	pflag.StringVarP(&configPath, "config", "c", "", "配置文件路径，默认读取 ./config.yaml")
	pflag.Parse()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		appCoreLogger.Fatal().Err(err).Msg("加载配置失败")
	}

	logCloser, err := appCoreLogger.Init(appCoreLogger.Config{
		Level:        cfg.Logger.Level,
		Format:       cfg.Logger.Format,
		TimeFormat:   cfg.Logger.TimeFormat,
		ReportCaller: cfg.Logger.ReportCaller,
		File:         cfg.Logger.File,
	})
	if err != nil {
		appCoreLogger.Fatal().Err(err).Msg("初始化日志失败")
	}
	if logCloser != nil {
		defer logCloser.Close()
	}
	glog.SetLogger(hertzadapter.From(appCoreLogger.Logger))

	if err := cfg.Validate(); err != nil {
		appCoreLogger.Fatal().Err(err).Msg("配置校验失败")
	}
	appCoreLogger.Info().Str("service", serviceName).Str("version", version).Msg("配置加载成功")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = serviceName
	}
	shutdownTracing, err := tracing.InitProvider(ctx, cfg.Tracing, version)
	if err != nil {
		appCoreLogger.Fatal().Err(err).Msg("初始化链路追踪失败")
	}

	storageManager, err := storage.NewStorage(ctx, cfg, appCoreLogger.Named("Storage"))
	if err != nil {
		appCoreLogger.Fatal().Err(err).Msg("初始化存储失败")
	}
	defer storageManager.Close()

	chatModel, err := newChatModel(ctx, cfg)
	if err != nil {
		appCoreLogger.Fatal().Err(err).Msg("初始化Gemini模型失败")
	}

	textExtractor, err := parser.BuildTextExtractor(ctx, cfg, appCoreLogger.Named("TextExtractor"))
	if err != nil {
		appCoreLogger.Fatal().Err(err).Msg("初始化文本提取器失败")
	}

	llmTimeout := config.GetDuration(cfg.Gemini.Timeout, 60*time.Second)
	candidateExtractor := parser.NewCandidateExtractor(chatModel,
		parser.WithLogger(appCoreLogger.Named("CandidateExtractor")),
		parser.WithCallTimeout(llmTimeout),
	)
	interpreterOpts := []parser.ExtractorOption{
		parser.WithLogger(appCoreLogger.Named("QueryInterpreter")),
		parser.WithCallTimeout(llmTimeout),
	}
	if storageManager.Redis.FilterCacheEnabled() {
		interpreterOpts = append(interpreterOpts, parser.WithFilterCache(storageManager.Redis))
		appCoreLogger.Info().Msg("检索条件缓存已启用")
	}
	queryInterpreter := parser.NewQueryInterpreter(chatModel, interpreterOpts...)

	candidateService, err := processor.NewCandidateService(processor.Components{
		TextExtractor:      textExtractor,
		CandidateExtractor: candidateExtractor,
		QueryInterpreter:   queryInterpreter,
		BlobStore:          storageManager.MinIO,
		CandidateStore:     storageManager.MySQL,
	},
		processor.WithBlobPrefix(cfg.Ingest.BlobPrefix),
		processor.WithRawTextLimit(cfg.Ingest.RawTextLimit),
		processor.WithExtractTimeout(config.GetDuration(cfg.Extractor.Timeout, 30*time.Second)),
		processor.WithLogger(appCoreLogger.Named("CandidateService")),
	)
	if err != nil {
		appCoreLogger.Fatal().Err(err).Msg("初始化候选人服务失败")
	}

	var messageRelay *outbox.MessageRelay
	if cfg.Outbox.Enabled && storageManager.RabbitMQ != nil {
		messageRelay = outbox.NewMessageRelay(storageManager.MySQL.DB(), storageManager.RabbitMQ,
			appCoreLogger.Named("MessageRelay"),
			outbox.WithPollingInterval(config.GetDuration(cfg.Outbox.PollInterval, 2*time.Second)),
			outbox.WithBatchSize(cfg.Outbox.BatchSize),
		)
		messageRelay.Start(ctx)
		appCoreLogger.Info().Msg("消息中继服务已启动")
	} else if cfg.Outbox.Enabled {
		appCoreLogger.Warn().Msg("RabbitMQ不可用，事件暂存在发件箱中")
	}

	tracer, tracingCfg := hertztracing.NewServerTracer()
	h := server.New(
		server.WithHostPorts(cfg.Server.Address),
		server.WithHandleMethodNotAllowed(true),
		server.WithMaxRequestBodySize(int(cfg.MaxUploadBytes())+1<<20),
		server.WithExitWaitTime(config.GetDuration(cfg.Server.ExitTimeout, 5*time.Second)),
		tracer,
	)

	router.RegisterRoutes(h,
		handler.NewCandidateHandler(candidateService, cfg.MaxUploadBytes()),
		router.Options{APIKeys: cfg.Server.APIKeys, Tracing: tracingCfg},
	)
	appCoreLogger.Info().Str("address", cfg.Server.Address).Bool("api_key_auth", len(cfg.Server.APIKeys) > 0).Msg("HTTP 服务器启动中")

	go func() {
		if err := h.Run(); err != nil {
			appCoreLogger.Fatal().Err(err).Msg("启动HTTP服务器失败")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appCoreLogger.Info().Msg("接收到终止信号，正在优雅退出...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := h.Shutdown(shutdownCtx); err != nil {
		appCoreLogger.Error().Err(err).Msg("服务器关闭失败")
	}

	if messageRelay != nil {
		messageRelay.Stop()
		appCoreLogger.Info().Msg("消息中继服务已停止")
	}
	cancel()

	if err := shutdownTracing(shutdownCtx); err != nil {
		appCoreLogger.Warn().Err(err).Msg("关闭链路追踪失败")
	}
	appCoreLogger.Info().Msg("优雅退出完成")
}

// newChatModel Gemini 客户端外包一层限流与重试
func newChatModel(ctx context.Context, cfg *config.Config) (model.ToolCallingChatModel, error) {
	opts := []llm.GeminiOption{
		llm.WithCallTimeout(config.GetDuration(cfg.Gemini.Timeout, 60*time.Second)),
		llm.WithJSONResponse(true),
	}
	if cfg.Gemini.Temperature > 0 {
		opts = append(opts, llm.WithTemperature(cfg.Gemini.Temperature))
	}
	gemini, err := llm.NewGeminiChatModel(ctx, cfg.Gemini.APIKey, cfg.Gemini.Model, opts...)
	if err != nil {
		return nil, err
	}
	appCoreLogger.Info().Str("model", gemini.Model()).Int("qpm", cfg.Gemini.QPM).Msg("Gemini模型初始化成功")
	return ratelimit.NewRateLimitedChatModel(gemini, cfg.Gemini.QPM, cfg.Gemini.MaxRetries, 2*time.Second), nil
}
