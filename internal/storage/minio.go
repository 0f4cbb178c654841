package storage

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	"cv-filter/internal/config"
	"cv-filter/internal/tracing"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var minioTracer = otel.Tracer("cv-filter/storage/minio")

// MinIO 简历原文件存储，对象按前缀公开可读
type MinIO struct {
	client     *minio.Client
	bucket     string
	publicBase string
	logger     *zerolog.Logger
}

var _ BlobStore = (*MinIO)(nil)

// NewMinIO 创建客户端，确保存储桶存在并对 publicPrefix 设置匿名只读策略
func NewMinIO(ctx context.Context, cfg *config.MinIOConfig, publicPrefix string, logger *zerolog.Logger) (*MinIO, error) {
	if cfg == nil {
		return nil, fmt.Errorf("MinIO配置不能为空")
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Location,
	})
	if err != nil {
		return nil, fmt.Errorf("创建MinIO客户端失败: %w", err)
	}

	m := &MinIO{
		client:     client,
		bucket:     cfg.BucketName,
		publicBase: publicBaseURL(cfg),
		logger:     logger,
	}

	if err := m.ensureBucketExists(ctx, cfg.Location); err != nil {
		return nil, err
	}
	if err := m.client.SetBucketPolicy(ctx, m.bucket, publicReadPolicy(m.bucket, publicPrefix)); err != nil {
		return nil, fmt.Errorf("设置存储桶 %s 公开读策略失败: %w", m.bucket, err)
	}
	return m, nil
}

func (m *MinIO) ensureBucketExists(ctx context.Context, location string) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return fmt.Errorf("检查存储桶 %s 是否存在时出错: %w", m.bucket, err)
	}
	if exists {
		return nil
	}
	m.logger.Info().Str("bucket", m.bucket).Msg("存储桶不存在，正在创建")
	if err := m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{Region: location}); err != nil {
		return fmt.Errorf("创建存储桶 %s 失败: %w", m.bucket, err)
	}
	return nil
}

// Upload 上传对象并返回公开 URL
func (m *MinIO) Upload(ctx context.Context, objectName string, data []byte, contentType string) (string, error) {
	ctx, span := minioTracer.Start(ctx, "MinIO.Upload",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("storage.bucket", m.bucket),
			attribute.String("storage.object", objectName),
			attribute.Int("storage.size", len(data)),
		))
	defer span.End()

	info, err := m.client.PutObject(ctx, m.bucket, objectName, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeBlob)
		return "", fmt.Errorf("上传对象 %s/%s 失败: %w", m.bucket, objectName, err)
	}

	m.logger.Debug().Str("object", objectName).Str("etag", info.ETag).Int64("size", info.Size).Msg("对象上传成功")
	return m.PublicURL(objectName), nil
}

// Delete 删除对象
func (m *MinIO) Delete(ctx context.Context, objectName string) error {
	if err := m.client.RemoveObject(ctx, m.bucket, objectName, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("删除对象 %s/%s 失败: %w", m.bucket, objectName, err)
	}
	return nil
}

// PublicURL {base}/{bucket}/{object}，对象名逐段转义
func (m *MinIO) PublicURL(objectName string) string {
	segments := strings.Split(objectName, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return fmt.Sprintf("%s/%s/%s", m.publicBase, m.bucket, strings.Join(segments, "/"))
}

func publicBaseURL(cfg *config.MinIOConfig) string {
	if cfg.PublicBaseURL != "" {
		return strings.TrimRight(cfg.PublicBaseURL, "/")
	}
	scheme := "http"
	if cfg.UseSSL {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s", scheme, cfg.Endpoint)
}

// publicReadPolicy 只对前缀下的对象开放匿名 GetObject
func publicReadPolicy(bucket, prefix string) string {
	resource := fmt.Sprintf("arn:aws:s3:::%s/%s*", bucket, strings.TrimLeft(prefix, "/"))
	return fmt.Sprintf(`{"Version":"2012-10-17","Statement":[{"Effect":"Allow","Principal":{"AWS":["*"]},"Action":["s3:GetObject"],"Resource":[%q]}]}`, resource)
}
