package processor

import (
	"time"

	"cv-filter/internal/storage"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Components 流水线依赖的外部组件，便于测试时替换
type Components struct {
	TextExtractor      TextExtractor
	CandidateExtractor CandidateExtractor
	QueryInterpreter   QueryInterpreter
	BlobStore          storage.BlobStore
	CandidateStore     storage.CandidateStore
}

// Settings 纯配置项
type Settings struct {
	BlobPrefix     string
	RawTextLimit   int
	ExtractTimeout time.Duration
	CleanupTimeout time.Duration
	Logger         *zerolog.Logger
	NewObjectID    func() string
}

// SettingOpt 设置选项
type SettingOpt func(*Settings)

func defaultSettings() Settings {
	nop := zerolog.Nop()
	return Settings{
		BlobPrefix:     "cvs/",
		RawTextLimit:   1500,
		ExtractTimeout: 30 * time.Second,
		CleanupTimeout: 10 * time.Second,
		Logger:         &nop,
		NewObjectID:    uuid.NewString,
	}
}

// WithBlobPrefix 对象路径前缀
func WithBlobPrefix(prefix string) SettingOpt {
	return func(s *Settings) {
		s.BlobPrefix = prefix
	}
}

// WithRawTextLimit 保存的原文字符数
func WithRawTextLimit(limit int) SettingOpt {
	return func(s *Settings) {
		if limit > 0 {
			s.RawTextLimit = limit
		}
	}
}

// WithExtractTimeout 文本提取超时
func WithExtractTimeout(d time.Duration) SettingOpt {
	return func(s *Settings) {
		s.ExtractTimeout = d
	}
}

// WithLogger 设置日志记录器
func WithLogger(logger *zerolog.Logger) SettingOpt {
	return func(s *Settings) {
		if logger != nil {
			s.Logger = logger
		}
	}
}

// WithObjectIDGenerator 替换对象路径中的随机ID生成
func WithObjectIDGenerator(gen func() string) SettingOpt {
	return func(s *Settings) {
		if gen != nil {
			s.NewObjectID = gen
		}
	}
}
