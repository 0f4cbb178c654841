package storage

import (
	"context"
	"errors"
	"fmt"

	"cv-filter/internal/config"
	"cv-filter/internal/types"

	"github.com/rs/zerolog"
)

// ErrCandidateNotFound 候选人不存在
var ErrCandidateNotFound = errors.New("candidate not found")

// BlobStore 原始简历文件存储
type BlobStore interface {
	// Upload 上传并返回可公开访问的 URL
	Upload(ctx context.Context, objectName string, data []byte, contentType string) (string, error)
	Delete(ctx context.Context, objectName string) error
}

// CandidateStore 候选人记录存储，以 email 为键
type CandidateStore interface {
	// Persist 整体覆盖同一 email 的已有记录
	Persist(ctx context.Context, candidate *types.Candidate) error
	// Query 只返回未被选中的候选人，顺序不作保证
	Query(ctx context.Context, filter types.SearchFilter) ([]types.CandidateResult, error)
	// MarkSelected 记录不存在时返回 ErrCandidateNotFound
	MarkSelected(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*types.Candidate, error)
}

// Storage 存储管理器，聚合所有存储相关依赖
type Storage struct {
	// 对象存储
	MinIO *MinIO

	// 关系型数据库
	MySQL *MySQL

	// 检索条件缓存，可选
	Redis *Redis

	// 事件发布，可选
	RabbitMQ *RabbitMQ

	logger *zerolog.Logger
}

// NewStorage MinIO 与 MySQL 为必需组件，Redis 与 RabbitMQ 未配置或连接失败时降级运行
func NewStorage(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*Storage, error) {
	if cfg == nil {
		return nil, fmt.Errorf("配置不能为空")
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	s := &Storage{logger: logger}
	var err error

	s.MinIO, err = NewMinIO(ctx, &cfg.MinIO, cfg.Ingest.BlobPrefix, logger)
	if err != nil {
		return nil, fmt.Errorf("初始化MinIO失败: %w", err)
	}
	logger.Info().Str("endpoint", cfg.MinIO.Endpoint).Str("bucket", cfg.MinIO.BucketName).Msg("MinIO客户端初始化成功")

	s.MySQL, err = NewMySQL(&cfg.MySQL, EventRouting{
		Enabled:            cfg.Outbox.Enabled,
		Exchange:           cfg.RabbitMQ.CandidateExchange,
		IngestedRoutingKey: cfg.RabbitMQ.IngestedRoutingKey,
		SelectedRoutingKey: cfg.RabbitMQ.SelectedRoutingKey,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("初始化MySQL失败: %w", err)
	}

	if cfg.Redis.Address != "" {
		s.Redis, err = NewRedis(ctx, &cfg.Redis)
		if err != nil {
			logger.Warn().Err(err).Str("address", cfg.Redis.Address).Msg("初始化Redis失败，检索条件缓存关闭")
			s.Redis = nil
		}
	} else {
		logger.Info().Msg("Redis未配置, 跳过初始化")
	}

	if cfg.RabbitMQ.URL != "" {
		s.RabbitMQ, err = NewRabbitMQ(&cfg.RabbitMQ, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("初始化RabbitMQ失败，事件将保留在发件箱中")
			s.RabbitMQ = nil
		}
	} else {
		logger.Info().Msg("RabbitMQ未配置, 跳过初始化")
	}

	return s, nil
}

// Close 关闭所有连接
func (s *Storage) Close() error {
	var errs []error
	if s.RabbitMQ != nil {
		if err := s.RabbitMQ.Close(); err != nil {
			errs = append(errs, fmt.Errorf("关闭RabbitMQ连接失败: %w", err))
		}
	}
	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("关闭Redis连接失败: %w", err))
		}
	}
	if s.MySQL != nil {
		if err := s.MySQL.Close(); err != nil {
			errs = append(errs, fmt.Errorf("关闭MySQL连接失败: %w", err))
		}
	}
	// MinIO 客户端基于 HTTP，无需显式关闭
	return errors.Join(errs...)
}
