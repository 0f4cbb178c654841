package outbox

import (
	"context"
	"sync"
	"time"

	"cv-filter/internal/constants"
	"cv-filter/internal/storage"
	"cv-filter/internal/storage/models"
	"cv-filter/internal/tracing"
	"cv-filter/pkg/utils"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultPollingInterval = 5 * time.Second
	defaultBatchSize       = 10
	maxRetryCount          = 5
)

// MessageRelay 轮询 outbox 表并将候选人事件发布到 RabbitMQ
type MessageRelay struct {
	db              *gorm.DB
	publisher       storage.Publisher
	logger          *zerolog.Logger
	pollingInterval time.Duration
	batchSize       int
	tracer          trace.Tracer

	stopOnce sync.Once
	done     chan struct{}
	stopped  chan struct{}
}

// Option 配置 MessageRelay
type Option func(*MessageRelay)

// WithPollingInterval 轮询间隔
func WithPollingInterval(d time.Duration) Option {
	return func(r *MessageRelay) {
		if d > 0 {
			r.pollingInterval = d
		}
	}
}

// WithBatchSize 每批处理的消息数
func WithBatchSize(n int) Option {
	return func(r *MessageRelay) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// NewMessageRelay 创建一个新的 MessageRelay 实例
func NewMessageRelay(db *gorm.DB, publisher storage.Publisher, logger *zerolog.Logger, opts ...Option) *MessageRelay {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	r := &MessageRelay{
		db:              db,
		publisher:       publisher,
		logger:          logger,
		pollingInterval: defaultPollingInterval,
		batchSize:       defaultBatchSize,
		tracer:          otel.Tracer("cv-filter/outbox"),
		done:            make(chan struct{}),
		stopped:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start 在后台 goroutine 中轮询，直到 Stop 或 ctx 结束
func (r *MessageRelay) Start(ctx context.Context) {
	r.logger.Info().Dur("interval", r.pollingInterval).Int("batch", r.batchSize).Msg("MessageRelay starting")
	ticker := time.NewTicker(r.pollingInterval)

	go func() {
		defer close(r.stopped)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				r.logger.Info().Msg("MessageRelay stopped by context")
				return
			case <-r.done:
				r.logger.Info().Msg("MessageRelay stopped")
				return
			case <-ticker.C:
				if _, err := r.ProcessPending(ctx); err != nil {
					r.logger.Error().Err(err).Msg("处理发件箱消息失败")
				}
			}
		}
	}()
}

// Stop 发送停止信号并等待当前批次结束
func (r *MessageRelay) Stop() {
	r.stopOnce.Do(func() { close(r.done) })
	<-r.stopped
}

// ProcessPending 处理一批待发布消息，返回成功发布的数量。
// 使用 FOR UPDATE SKIP LOCKED，多实例可并行中继。
func (r *MessageRelay) ProcessPending(ctx context.Context) (int, error) {
	var messages []models.OutboxMessage
	sent := 0

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ?", constants.OutboxStatusPending).
			Order("created_at asc").
			Limit(r.batchSize).
			Find(&messages).Error; err != nil {
			return err
		}
		if len(messages) == 0 {
			return nil
		}

		spanCtx, span := r.tracer.Start(ctx, "outbox.ProcessBatch",
			trace.WithAttributes(attribute.Int("messaging.batch.message_count", len(messages))))
		defer span.End()

		for i := range messages {
			if r.publish(spanCtx, &messages[i]) {
				sent++
			}
			if err := tx.Save(&messages[i]).Error; err != nil {
				// 整批回滚，下一轮重新拾取
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if len(messages) > 0 {
		r.logger.Debug().Int("fetched", len(messages)).Int("sent", sent).Msg("发件箱批次处理完成")
	}
	return sent, nil
}

// publish 发布单条消息并更新其状态字段
func (r *MessageRelay) publish(ctx context.Context, msg *models.OutboxMessage) bool {
	err := r.publisher.PublishMessage(ctx, msg.TargetExchange, msg.TargetRoutingKey, []byte(msg.Payload), true)
	if err != nil {
		tracing.RecordError(trace.SpanFromContext(ctx), err, tracing.ErrorTypeRabbitMQ,
			attribute.String("messaging.message.id", msg.ID))
		msg.RetryCount++
		msg.ErrorMessage = err.Error()
		if msg.RetryCount >= maxRetryCount {
			msg.Status = constants.OutboxStatusFailed
		}
		r.logger.Warn().Err(err).
			Str("id", msg.ID).
			Str("event", msg.EventType).
			Int("retries", msg.RetryCount).
			Msg("发布事件失败")
		return false
	}

	msg.Status = constants.OutboxStatusSent
	msg.ProcessedAt = utils.TimePtr(time.Now())
	msg.ErrorMessage = ""
	return true
}
